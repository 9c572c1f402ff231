package emitters

import (
	"balance-keeper/internal/interfaces"
	"balance-keeper/internal/models"
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
)

var _ interfaces.EventEmitter = (*KafkaEmitter)(nil)

// messageWriter is the part of kafka.Writer the emitter uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaEmitter implements EventEmitter using Kafka
type KafkaEmitter struct {
	writer messageWriter
	topic  string
	logger *zerolog.Logger
	mu     sync.Mutex
}

// DefaultBatchTimeout bounds how long a single event waits for its batch.
// Events are emitted from block handlers, so it stays well below a block time.
const DefaultBatchTimeout = 10 * time.Millisecond

type KafkaOptions struct {
	BrokerAddress string
	Topic         string
	BatchSize     int
	BatchTimeout  time.Duration
}

// NewKafkaEmitter creates a new KafkaEmitter
func NewKafkaEmitter(opts KafkaOptions, logger *zerolog.Logger) *KafkaEmitter {
	if opts.BatchTimeout <= 0 {
		opts.BatchTimeout = DefaultBatchTimeout
	}
	return newKafkaEmitter(&kafka.Writer{
		Addr:         kafka.TCP(opts.BrokerAddress),
		Topic:        opts.Topic,
		Balancer:     &kafka.LeastBytes{},
		BatchSize:    opts.BatchSize,
		BatchTimeout: opts.BatchTimeout,
	}, opts.Topic, logger)
}

func newKafkaEmitter(w messageWriter, topic string, logger *zerolog.Logger) *KafkaEmitter {
	return &KafkaEmitter{writer: w, topic: topic, logger: logger}
}

func (k *KafkaEmitter) String() string {
	return "kafka emitter"
}

func (k *KafkaEmitter) EmitEvent(ctx context.Context, event models.Event) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.writer == nil {
		return fmt.Errorf("kafka emitter closed")
	}

	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	err = k.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(messageKey(event)),
		Value: value,
	})
	if err != nil {
		return fmt.Errorf("failed to write message to Kafka: %w", err)
	}

	k.logger.Debug().
		Str("type", string(event.Type)).
		Str("topic", k.topic).
		Str("key", messageKey(event)).
		Msg("Successfully emitted event to Kafka")
	return nil
}

// Start is a no-op; the writer connects lazily on the first message.
func (k *KafkaEmitter) Start(context.Context) error {
	return nil
}

// Shutdown flushes pending messages and closes the writer.
func (k *KafkaEmitter) Shutdown(context.Context) error {
	return k.Close()
}

func (k *KafkaEmitter) Close() error {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.writer != nil {
		err := k.writer.Close()
		k.writer = nil
		return err
	}
	return nil
}

// messageKey keeps all updates of one transaction, or of one address, on
// the same partition.
func messageKey(event models.Event) string {
	if event.TxHash != "" {
		return event.TxHash
	}
	return event.Address
}
