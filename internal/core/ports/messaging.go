package ports

import (
	"context"

	"wallet-ledger/internal/core/domain"
)

// EventPublisher sends domain events to the broker. Both calls are
// atomic per topic batch from the caller's viewpoint.
type EventPublisher interface {
	Publish(ctx context.Context, event domain.Event) error
	PublishMany(ctx context.Context, events []domain.Event) error
}

// EventCodec validates and binary-encodes event envelopes against the
// schema catalog and resolves event-kind to topic routing.
type EventCodec interface {
	Encode(ctx context.Context, event domain.Event) ([]byte, error)
	Decode(ctx context.Context, data []byte, expectedNames []string) (domain.Event, error)
	ResolveTopic(eventName string) (string, error)
	ExpectedEventNames(topic string) []string
}

// EventHandler is the downstream use case a consumer invokes per
// decoded message. Errors trigger the retry/backoff policy.
type EventHandler interface {
	Handle(ctx context.Context, event domain.Event) error
}

// EventHandlerFunc adapts a function to EventHandler.
type EventHandlerFunc func(ctx context.Context, event domain.Event) error

func (f EventHandlerFunc) Handle(ctx context.Context, event domain.Event) error {
	return f(ctx, event)
}
