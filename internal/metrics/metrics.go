package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// MessagesSent counts appended messages; duplicates are resends
	// answered from a stored client_message_id.
	MessagesSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "studysphere_messages_sent_total",
		Help: "Total number of messages appended, by outcome",
	}, []string{"outcome"})

	ConversationsCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "studysphere_conversations_created_total",
		Help: "Find-or-create calls that created a conversation, by path",
	}, []string{"path"})

	IdentityResolutions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "studysphere_identity_resolutions_total",
		Help: "Participant identities resolved, by the step that produced the name",
	}, []string{"source"})

	SessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "studysphere_realtime_sessions_active",
		Help: "Number of live realtime sessions on this instance",
	})

	EventsDelivered = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "studysphere_realtime_events_delivered_total",
		Help: "Realtime events pushed to local sessions, by event type",
	}, []string{"event_type"})

	EventsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "studysphere_realtime_events_dropped_total",
		Help: "Realtime events dropped because a session queue was full",
	}, []string{"event_type"})

	// EventsReordered counts message events that did not arrive in seq
	// order: held behind a gap, released late, or released over a gap
	// that never filled.
	EventsReordered = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "studysphere_realtime_events_reordered_total",
		Help: "Message events that arrived out of seq order, by outcome",
	}, []string{"outcome"})

	RelayErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "studysphere_realtime_relay_errors_total",
		Help: "Cross-instance relay failures by operation",
	}, []string{"operation"})

	MaintenanceRecords = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "studysphere_maintenance_records_total",
		Help: "Records visited by maintenance jobs, by job and outcome",
	}, []string{"job", "outcome"})
)
