package rabbitmq

import (
	"context"
	"sync"

	"wallet-ledger/internal/core/domain"
	"wallet-ledger/internal/core/ports"
	"wallet-ledger/pkg/apperror"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

// Header names shared between services.
const (
	headerInternalJWT  = "x-internal-jwt"
	headerTraceID      = "x-trace-id"
	headerRetryCount   = "x-retry-count"
	headerErrorMessage = "x-error-message"
)

const contentTypeAvro = "avro/binary"

// txChannel adds AMQP transaction control to the publishing surface,
// used to commit each topic batch atomically.
type txChannel interface {
	channel
	Tx() error
	TxCommit() error
	TxRollback() error
}

// Publisher implements ports.EventPublisher on a RabbitMQ channel in
// transactional mode: each topic's batch is committed as one unit.
// Every message carries an inter-service token and a trace id; a batch
// shares one token and one trace id. The channel is not safe for
// concurrent use, so publishes serialize on the publisher's mutex.
type Publisher struct {
	mu      sync.Mutex
	ch      txChannel
	txBegun bool
	codec   ports.EventCodec
	tokens  *TokenIssuer
	metrics ports.MetricsCollector
	log     zerolog.Logger
}

// NewPublisher creates a publisher.
func NewPublisher(ch txChannel, codec ports.EventCodec, tokens *TokenIssuer, metrics ports.MetricsCollector, log zerolog.Logger) *Publisher {
	if metrics == nil {
		metrics = ports.NoopMetrics{}
	}
	return &Publisher{ch: ch, codec: codec, tokens: tokens, metrics: metrics, log: log}
}

// Publish sends a single event.
func (p *Publisher) Publish(ctx context.Context, event domain.Event) error {
	return p.PublishMany(ctx, []domain.Event{event})
}

// PublishMany groups events by topic and commits each topic's batch as
// one AMQP transaction. Any broker failure rolls the current batch
// back and surfaces as an EVENT_PUBLISH_FAILED error.
func (p *Publisher) PublishMany(ctx context.Context, events []domain.Event) error {
	if len(events) == 0 {
		return nil
	}

	token, err := p.tokens.Sign()
	if err != nil {
		return apperror.ErrEventPublish(err)
	}
	traceID := traceIDFrom(ctx)

	grouped, order, err := p.groupByTopic(events)
	if err != nil {
		return err
	}

	// Encode everything before touching the channel so schema errors
	// never leave a half-published batch behind.
	bodies := make(map[string][][]byte, len(order))
	for _, topic := range order {
		for _, event := range grouped[topic] {
			body, err := p.codec.Encode(ctx, event)
			if err != nil {
				return err
			}
			bodies[topic] = append(bodies[topic], body)
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.txBegun {
		if err := p.ch.Tx(); err != nil {
			return apperror.ErrEventPublish(err)
		}
		p.txBegun = true
	}

	for _, topic := range order {
		if err := p.sendBatch(ctx, topic, bodies[topic], token, traceID); err != nil {
			p.metrics.RecordPublishError(topic)
			p.log.Error().Err(err).Str("topic", topic).Str("trace_id", traceID).Msg("event publish failed")
			return apperror.ErrEventPublish(err)
		}
		p.metrics.RecordPublished(topic)
		p.log.Info().Str("topic", topic).Str("trace_id", traceID).Int("events", len(bodies[topic])).Msg("events published")
	}
	return nil
}

func (p *Publisher) sendBatch(ctx context.Context, topic string, bodies [][]byte, token, traceID string) error {
	for _, body := range bodies {
		msg := amqp.Publishing{
			ContentType:  contentTypeAvro,
			DeliveryMode: amqp.Persistent,
			Body:         body,
			Headers: amqp.Table{
				headerInternalJWT: token,
				headerTraceID:     traceID,
			},
		}
		if err := p.ch.PublishWithContext(ctx, "", topic, false, false, msg); err != nil {
			p.ch.TxRollback() //nolint:errcheck
			return err
		}
	}
	return p.ch.TxCommit()
}

// groupByTopic preserves first-seen topic order so multi-topic batches
// publish deterministically.
func (p *Publisher) groupByTopic(events []domain.Event) (map[string][]domain.Event, []string, error) {
	grouped := make(map[string][]domain.Event)
	var order []string
	for _, event := range events {
		topic, err := p.codec.ResolveTopic(event.EventName())
		if err != nil {
			return nil, nil, err
		}
		if _, seen := grouped[topic]; !seen {
			order = append(order, topic)
		}
		grouped[topic] = append(grouped[topic], event)
	}
	return grouped, order, nil
}

type traceIDKey struct{}

// WithTraceID attaches a trace id to the context for publishing.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey{}, traceID)
}

func traceIDFrom(ctx context.Context) string {
	if traceID, ok := ctx.Value(traceIDKey{}).(string); ok && traceID != "" {
		return traceID
	}
	return uuid.NewString()
}
