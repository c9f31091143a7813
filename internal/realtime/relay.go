package realtime

import (
	"context"
	"fmt"

	"studysphere/internal/events"
	"studysphere/internal/metrics"

	"github.com/goccy/go-json"
)

type relaySubscriber interface {
	Start(ctx context.Context, channels []string, handler func(channel string, payload []byte)) error
}

// Relay forwards realtime envelopes to the other API instances over Redis
// pub/sub. Envelopes that originated on this instance are ignored on
// receipt since they were already delivered locally.
type Relay struct {
	publisher  events.Publisher
	subscriber relaySubscriber
	origin     string
	channel    string
}

func NewRelay(publisher events.Publisher, subscriber relaySubscriber, origin string) *Relay {
	return &Relay{
		publisher:  publisher,
		subscriber: subscriber,
		origin:     origin,
		channel:    events.RelayChannel,
	}
}

func (r *Relay) Publish(ctx context.Context, env events.Envelope) error {
	env.Origin = r.origin
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal relay envelope: %w", err)
	}
	return r.publisher.Publish(ctx, r.channel, data)
}

// Start subscribes and hands every foreign envelope to handle.
func (r *Relay) Start(ctx context.Context, handle func(events.Envelope)) error {
	return r.subscriber.Start(ctx, []string{r.channel}, func(_ string, payload []byte) {
		var env events.Envelope
		if err := json.Unmarshal(payload, &env); err != nil {
			metrics.RelayErrors.WithLabelValues("decode").Inc()
			return
		}
		if env.Origin == r.origin {
			return
		}
		handle(env)
	})
}
