package events

// Redis channels used by the conversation core.
const (
	// RelayChannel carries realtime envelopes between API instances.
	RelayChannel = "studysphere:realtime:relay"
	// NotificationChannel carries message.created for external notifiers.
	NotificationChannel = "studysphere:notifications:messages"
)
