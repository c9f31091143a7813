package redis

import (
	"context"
	"time"

	"studysphere/internal/metrics"
	"studysphere/pkg/logger"

	gobreaker "github.com/sony/gobreaker/v2"
)

// BreakerConfig controls when a publisher stops calling Redis.
type BreakerConfig struct {
	Name             string
	MaxRequests      uint32
	Interval         time.Duration
	Timeout          time.Duration
	FailureThreshold uint32
}

func DefaultBreakerConfig(name string) BreakerConfig {
	return BreakerConfig{
		Name:             name,
		MaxRequests:      1,
		Interval:         time.Minute,
		Timeout:          10 * time.Second,
		FailureThreshold: 5,
	}
}

// NewCircuitBreaker builds a breaker that logs its state changes.
func NewCircuitBreaker(cfg BreakerConfig, l *logger.Logger) *gobreaker.CircuitBreaker[any] {
	if l == nil {
		l = logger.GetGlobalLogger()
	}
	settings := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			l.Warnf("circuit breaker %s: %s -> %s", name, from.String(), to.String())
		},
	}
	return gobreaker.NewCircuitBreaker[any](settings)
}

type publisher interface {
	Publish(ctx context.Context, channel string, payload []byte) error
}

// BreakerPublisher fails fast while Redis is unhealthy instead of making
// every send wait on a dead connection.
type BreakerPublisher struct {
	next    publisher
	breaker *gobreaker.CircuitBreaker[any]
}

func NewBreakerPublisher(next publisher, cfg BreakerConfig, l *logger.Logger) *BreakerPublisher {
	return &BreakerPublisher{next: next, breaker: NewCircuitBreaker(cfg, l)}
}

func (p *BreakerPublisher) Publish(ctx context.Context, channel string, payload []byte) error {
	_, err := p.breaker.Execute(func() (any, error) {
		return nil, p.next.Publish(ctx, channel, payload)
	})
	if err != nil {
		metrics.RelayErrors.WithLabelValues(p.breaker.Name()).Inc()
	}
	return err
}

// State reports the breaker state for health output.
func (p *BreakerPublisher) State() string {
	return p.breaker.State().String()
}
