package rabbitmq

import (
	"context"
	"strconv"
	"time"

	"wallet-ledger/internal/core/ports"
	"wallet-ledger/pkg/apperror"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

const (
	maxHandlerAttempts = 3
	baseBackoff        = 500 * time.Millisecond
)

// consumeChannel adds queue consumption to the publishing surface.
type consumeChannel interface {
	channel
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
}

// messageTokens is the slice of TokenIssuer the consumer needs.
type messageTokens interface {
	Sign() (string, error)
	Verify(token string) error
}

// Consumer drains one topic queue and hands decoded events to the
// downstream use case. The pipeline per message is fixed: verify the
// inter-service token, decode against the catalog, then run the
// handler with bounded retries. Token and decode failures go straight
// to the dead-letter queue because retrying cannot fix them; handler
// failures retry with exponential backoff before dead-lettering.
type Consumer struct {
	ch      consumeChannel
	codec   ports.EventCodec
	tokens  messageTokens
	handler ports.EventHandler
	topic   string
	backoff time.Duration
	metrics ports.MetricsCollector
	log     zerolog.Logger
}

// NewConsumer creates a consumer for one topic.
func NewConsumer(ch consumeChannel, codec ports.EventCodec, tokens messageTokens, handler ports.EventHandler, topic string, metrics ports.MetricsCollector, log zerolog.Logger) *Consumer {
	if metrics == nil {
		metrics = ports.NoopMetrics{}
	}
	return &Consumer{
		ch:      ch,
		codec:   codec,
		tokens:  tokens,
		handler: handler,
		topic:   topic,
		backoff: baseBackoff,
		metrics: metrics,
		log:     log.With().Str("topic", topic).Logger(),
	}
}

// Start consumes until the context is cancelled. Deliveries are acked
// after processing regardless of outcome; failures live on in the
// dead-letter queue, not in redelivery loops.
func (c *Consumer) Start(ctx context.Context) error {
	deliveries, err := c.ch.Consume(c.topic, "", false, false, false, false, nil)
	if err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case delivery, ok := <-deliveries:
			if !ok {
				return nil
			}
			c.process(ctx, delivery)
			if err := delivery.Ack(false); err != nil {
				c.log.Error().Err(err).Msg("ack failed")
			}
		}
	}
}

func (c *Consumer) process(ctx context.Context, delivery amqp.Delivery) {
	c.metrics.RecordConsumed(c.topic)

	token, _ := delivery.Headers[headerInternalJWT].(string)
	if err := c.tokens.Verify(token); err != nil {
		c.deadLetter(ctx, delivery, 1, "auth_failed")
		return
	}

	event, err := c.codec.Decode(ctx, delivery.Body, c.codec.ExpectedEventNames(c.topic))
	if err != nil {
		c.deadLetter(ctx, delivery, 1, "schema_validation_failed")
		return
	}

	for attempt := 1; attempt <= maxHandlerAttempts; attempt++ {
		err = c.handler.Handle(ctx, event)
		if err == nil {
			c.log.Info().Str("event", event.EventName()).Msg("message processed")
			return
		}
		// A payload the handler rejects as malformed cannot succeed on
		// retry.
		if apperror.HasCode(err, apperror.CodeSchemaValidation) {
			c.deadLetter(ctx, delivery, attempt, "schema_validation_failed")
			return
		}
		if attempt < maxHandlerAttempts {
			if !sleep(ctx, backoffDelay(c.backoff, attempt)) {
				return
			}
			continue
		}
		c.deadLetter(ctx, delivery, attempt, err.Error())
		return
	}
}

// deadLetter forwards the raw message to the topic's dead-letter queue
// with retry metadata and a fresh token.
func (c *Consumer) deadLetter(ctx context.Context, delivery amqp.Delivery, attempt int, reason string) {
	headers := amqp.Table{}
	for k, v := range delivery.Headers {
		headers[k] = v
	}
	// A signing failure must not drop the message; the original token
	// header is forwarded as-is instead.
	if token, err := c.tokens.Sign(); err != nil {
		c.log.Error().Err(err).Msg("dead-letter token signing failed")
	} else {
		headers[headerInternalJWT] = token
	}
	headers[headerRetryCount] = strconv.Itoa(attempt)
	headers[headerErrorMessage] = reason

	msg := amqp.Publishing{
		ContentType:  delivery.ContentType,
		DeliveryMode: amqp.Persistent,
		Body:         delivery.Body,
		Headers:      headers,
	}
	dlq := c.topic + DLQSuffix
	if err := c.ch.PublishWithContext(ctx, "", dlq, false, false, msg); err != nil {
		c.log.Error().Err(err).Str("queue", dlq).Msg("dead-letter publish failed")
		return
	}
	c.metrics.RecordDeadLettered(dlq)
	c.log.Error().Str("queue", dlq).Str("reason", reason).Msg("message sent to DLQ")
}

// backoffDelay doubles per attempt: 500ms after the first failure, 1s
// after the second.
func backoffDelay(base time.Duration, attempt int) time.Duration {
	return base << (attempt - 1)
}

func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
