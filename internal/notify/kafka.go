package notify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"
	"github.com/vadiminshakov/vault/internal/domain"
	"github.com/vadiminshakov/vault/pkg/retrier"
	"go.uber.org/zap"
)

const (
	DefaultTopic = "vault.events"

	kafkaWriteTimeout = 5 * time.Second
	kafkaMaxRetries   = 3
)

// messageWriter is the subset of *kafka.Writer used by the publisher.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaConfig configures the Kafka publisher.
type KafkaConfig struct {
	Brokers []string
	Topic   string
}

// Kafka publishes events as JSON messages keyed by event kind.
type Kafka struct {
	writer  messageWriter
	topic   string
	retrier *retrier.Retrier
	logger  *zap.Logger
}

// NewKafka creates a publisher writing to cfg.Topic on cfg.Brokers.
func NewKafka(cfg KafkaConfig, logger *zap.Logger) (*Kafka, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka brokers are required")
	}
	if cfg.Topic == "" {
		cfg.Topic = DefaultTopic
	}

	writer := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		WriteTimeout:           kafkaWriteTimeout,
		MaxAttempts:            1,
		AllowAutoTopicCreation: true,
	}
	return newKafka(writer, cfg.Topic, logger), nil
}

func newKafka(writer messageWriter, topic string, logger *zap.Logger) *Kafka {
	if logger == nil {
		logger = zap.NewNop()
	}
	k := &Kafka{
		writer: writer,
		topic:  topic,
		logger: logger,
	}
	k.retrier = retrier.New(
		retrier.WithMaxRetries(kafkaMaxRetries),
		retrier.WithRetryIf(func(err error) bool {
			return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
		}),
		retrier.OnRetry(func(attempt int, err error) {
			k.logger.Warn("retrying kafka publish",
				zap.String("topic", k.topic),
				zap.Int("attempt", attempt),
				zap.Error(err))
		}),
	)
	return k
}

// Notify implements Notifier.
func (k *Kafka) Notify(ctx context.Context, event domain.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return errors.Wrapf(err, "marshal %s event", event.Kind())
	}

	msg := kafka.Message{
		Key:   []byte(event.Kind()),
		Value: payload,
		Time:  event.OccurredAt(),
		Headers: []kafka.Header{
			{Key: "kind", Value: []byte(event.Kind())},
		},
	}

	err = k.retrier.Do(ctx, func(ctx context.Context) error {
		return k.writer.WriteMessages(ctx, msg)
	})
	return errors.Wrapf(err, "publish %s event to %s", event.Kind(), k.topic)
}

// Close flushes and closes the writer.
func (k *Kafka) Close() error {
	return k.writer.Close()
}
