package commands

import (
	"context"
	"errors"
)

var ErrHandlerNotFound = errors.New("command handler not found")

type Command interface {
	CommandType() string
	Validate() error
	// IdempotencyKey is empty when the caller supplied none.
	IdempotencyKey() string
}

type Result struct {
	AggregateID string
	Payload     interface{}
}

type Handler interface {
	Handle(ctx context.Context, cmd Command) (Result, error)
}

type HandlerFunc func(ctx context.Context, cmd Command) (Result, error)

func (f HandlerFunc) Handle(ctx context.Context, cmd Command) (Result, error) {
	return f(ctx, cmd)
}
