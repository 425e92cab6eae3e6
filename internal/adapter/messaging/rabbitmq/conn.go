package rabbitmq

import (
	"context"
	"fmt"

	"wallet-ledger/config"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

// DLQSuffix is appended to a topic name to form its dead-letter queue.
const DLQSuffix = ".dlq"

// Connect dials the broker and opens a channel.
func Connect(cfg config.RabbitConfig, log zerolog.Logger) (*amqp.Connection, *amqp.Channel, error) {
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, nil, fmt.Errorf("dialing rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close() //nolint:errcheck
		return nil, nil, fmt.Errorf("opening channel: %w", err)
	}

	log.Info().Str("client_id", cfg.ClientID).Msg("RabbitMQ connection established")
	return conn, ch, nil
}

// DeclareTopology declares a durable queue per topic plus its
// dead-letter queue. Messages route through the default exchange, so
// the routing key is the queue name.
func DeclareTopology(ch *amqp.Channel, topics []string) error {
	for _, topic := range topics {
		for _, queue := range []string{topic, topic + DLQSuffix} {
			if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
				return fmt.Errorf("declaring queue %s: %w", queue, err)
			}
		}
	}
	return nil
}

// channel is the slice of amqp.Channel the publisher and consumer use,
// small enough to fake in tests.
type channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

var _ channel = (*amqp.Channel)(nil)
