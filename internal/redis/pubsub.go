package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Publisher sends raw payloads on a pub/sub channel.
type Publisher struct {
	client *redis.Client
}

func NewPublisher(client *redis.Client) *Publisher {
	return &Publisher{client: client}
}

func (p *Publisher) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := p.client.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", channel, err)
	}
	return nil
}

// Subscriber fans pub/sub messages into a handler.
type Subscriber struct {
	client *redis.Client
}

func NewSubscriber(client *redis.Client) *Subscriber {
	return &Subscriber{client: client}
}

// Start subscribes to channels and returns once Redis has confirmed the
// subscription. Messages are handed to handler on a background goroutine
// until ctx is cancelled.
func (s *Subscriber) Start(ctx context.Context, channels []string, handler func(channel string, payload []byte)) error {
	sub := s.client.Subscribe(ctx, channels...)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return fmt.Errorf("subscribe %v: %w", channels, err)
	}

	go func() {
		defer sub.Close()
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				handler(msg.Channel, []byte(msg.Payload))
			}
		}
	}()
	return nil
}
