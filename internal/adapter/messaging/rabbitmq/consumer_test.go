package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"wallet-ledger/internal/core/domain"
	"wallet-ledger/internal/core/ports"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConsumeChannel struct {
	fakeChannel
	deliveries chan amqp.Delivery
}

func (f *fakeConsumeChannel) Consume(string, string, bool, bool, bool, bool, amqp.Table) (<-chan amqp.Delivery, error) {
	return f.deliveries, nil
}

type countingHandler struct {
	calls   int
	failFor int // fail the first n calls
	events  []domain.Event
}

func (h *countingHandler) Handle(_ context.Context, event domain.Event) error {
	h.calls++
	h.events = append(h.events, event)
	if h.calls <= h.failFor {
		return errors.New("downstream unavailable")
	}
	return nil
}

func userEventDelivery(t *testing.T, tokens *TokenIssuer) amqp.Delivery {
	t.Helper()
	body, err := json.Marshal(domain.UserCreatedEvent{
		EventID:    "evt-1",
		OccurredAt: "2026-08-30T10:00:00.000Z",
		UserID:     "user-1",
		Name:       "Jane Doe",
		FirstName:  "Jane",
		LastName:   "Doe",
		Email:      "jane@example.com",
	})
	require.NoError(t, err)

	token, err := tokens.Sign()
	require.NoError(t, err)

	return amqp.Delivery{
		Body: body,
		Headers: amqp.Table{
			headerInternalJWT: token,
			headerTraceID:     "trace-1",
		},
	}
}

func newTestConsumer(handler ports.EventHandler) (*Consumer, *fakeConsumeChannel, *TokenIssuer) {
	ch := &fakeConsumeChannel{deliveries: make(chan amqp.Delivery, 1)}
	tokens := testTokens()
	consumer := NewConsumer(ch, &fakeCodec{}, tokens, handler, "users.created", nil, zerolog.Nop())
	consumer.backoff = time.Millisecond
	return consumer, ch, tokens
}

func TestConsumer_HandlesValidMessage(t *testing.T) {
	handler := &countingHandler{}
	consumer, ch, tokens := newTestConsumer(handler)

	consumer.process(context.Background(), userEventDelivery(t, tokens))

	assert.Equal(t, 1, handler.calls)
	require.Len(t, handler.events, 1)
	assert.Equal(t, domain.EventUserCreated, handler.events[0].EventName())
	assert.Empty(t, ch.published, "nothing should be dead-lettered")
}

func TestConsumer_InvalidTokenGoesToDLQWithoutRetry(t *testing.T) {
	handler := &countingHandler{}
	consumer, ch, _ := newTestConsumer(handler)

	delivery := userEventDelivery(t, NewTokenIssuer("wrong-secret", "intruder"))
	consumer.process(context.Background(), delivery)

	assert.Zero(t, handler.calls)
	require.Len(t, ch.published, 1)
	assert.Equal(t, "users.created"+DLQSuffix, ch.published[0].key)
	assert.Equal(t, "auth_failed", ch.published[0].msg.Headers[headerErrorMessage])
	assert.Equal(t, "1", ch.published[0].msg.Headers[headerRetryCount])
}

func TestConsumer_MissingTokenGoesToDLQ(t *testing.T) {
	handler := &countingHandler{}
	consumer, ch, tokens := newTestConsumer(handler)

	delivery := userEventDelivery(t, tokens)
	delete(delivery.Headers, headerInternalJWT)
	consumer.process(context.Background(), delivery)

	assert.Zero(t, handler.calls)
	require.Len(t, ch.published, 1)
	assert.Equal(t, "auth_failed", ch.published[0].msg.Headers[headerErrorMessage])
}

func TestConsumer_UndecodableMessageGoesToDLQWithoutRetry(t *testing.T) {
	handler := &countingHandler{}
	consumer, ch, tokens := newTestConsumer(handler)

	delivery := userEventDelivery(t, tokens)
	delivery.Body = []byte("not an event")
	consumer.process(context.Background(), delivery)

	assert.Zero(t, handler.calls)
	require.Len(t, ch.published, 1)
	assert.Equal(t, "schema_validation_failed", ch.published[0].msg.Headers[headerErrorMessage])
}

func TestConsumer_RetriesThenSucceeds(t *testing.T) {
	handler := &countingHandler{failFor: 2}
	consumer, ch, tokens := newTestConsumer(handler)

	consumer.process(context.Background(), userEventDelivery(t, tokens))

	assert.Equal(t, 3, handler.calls)
	assert.Empty(t, ch.published)
}

func TestConsumer_ExhaustedRetriesDeadLetter(t *testing.T) {
	handler := &countingHandler{failFor: maxHandlerAttempts}
	consumer, ch, tokens := newTestConsumer(handler)

	consumer.process(context.Background(), userEventDelivery(t, tokens))

	assert.Equal(t, maxHandlerAttempts, handler.calls)
	require.Len(t, ch.published, 1)
	assert.Equal(t, "users.created"+DLQSuffix, ch.published[0].key)
	assert.Equal(t, "downstream unavailable", ch.published[0].msg.Headers[headerErrorMessage])
	assert.Equal(t, "3", ch.published[0].msg.Headers[headerRetryCount])
}

func TestConsumer_DeadLetterPreservesBodyAndTrace(t *testing.T) {
	handler := &countingHandler{failFor: maxHandlerAttempts}
	consumer, ch, tokens := newTestConsumer(handler)

	delivery := userEventDelivery(t, tokens)
	consumer.process(context.Background(), delivery)

	require.Len(t, ch.published, 1)
	assert.Equal(t, delivery.Body, ch.published[0].msg.Body)
	assert.Equal(t, "trace-1", ch.published[0].msg.Headers[headerTraceID])
	token, _ := ch.published[0].msg.Headers[headerInternalJWT].(string)
	assert.NoError(t, tokens.Verify(token))
}

// brokenSigner verifies normally but cannot issue fresh tokens.
type brokenSigner struct {
	*TokenIssuer
}

func (brokenSigner) Sign() (string, error) {
	return "", errors.New("signer unavailable")
}

func TestConsumer_DeadLetterSurvivesSigningFailure(t *testing.T) {
	handler := &countingHandler{failFor: maxHandlerAttempts}
	tokens := testTokens()
	ch := &fakeConsumeChannel{deliveries: make(chan amqp.Delivery, 1)}
	consumer := NewConsumer(ch, &fakeCodec{}, brokenSigner{tokens}, handler, "users.created", nil, zerolog.Nop())
	consumer.backoff = time.Millisecond

	delivery := userEventDelivery(t, tokens)
	consumer.process(context.Background(), delivery)

	// The message still reaches the dead-letter queue, carrying the
	// original token instead of a fresh one.
	require.Len(t, ch.published, 1)
	assert.Equal(t, "users.created"+DLQSuffix, ch.published[0].key)
	assert.Equal(t, delivery.Body, ch.published[0].msg.Body)
	assert.Equal(t, delivery.Headers[headerInternalJWT], ch.published[0].msg.Headers[headerInternalJWT])
}

func TestBackoffDelayDoubles(t *testing.T) {
	assert.Equal(t, baseBackoff, backoffDelay(baseBackoff, 1))
	assert.Equal(t, 2*baseBackoff, backoffDelay(baseBackoff, 2))
}
