package consumers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/campaign-billing-ledger/internal/config"
	"github.com/segmentio/kafka-go"
)

const fetchBackoff = time.Second

// MessageHandler processes one message. Returning nil commits its offset; an error stops
// the subscription without committing so the message is redelivered after a restart.
type MessageHandler func(ctx context.Context, msg kafka.Message) error

// Consumer defines the message queue consumer interface
type Consumer interface {
	Subscribe(ctx context.Context, handler MessageHandler) error
	// Err delivers the handler error that stopped the subscription
	Err() <-chan error
	Close() error
}

// messageReader is the part of kafka.Reader the consumer uses
type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaConsumer implements Consumer using a Kafka consumer group
type KafkaConsumer struct {
	reader messageReader
	logger *slog.Logger
	wg     sync.WaitGroup
	errs   chan error
}

func NewKafkaConsumer(logger *slog.Logger, cfg *config.KafkaConfig) *KafkaConsumer {
	startOffset := kafka.FirstOffset
	if cfg.StartOffset == kafka.LastOffset {
		startOffset = kafka.LastOffset
	}

	return &KafkaConsumer{
		errs:   make(chan error, 1),
		logger: logger.With("topic", cfg.UsageTopic, "group_id", cfg.ConsumerGroup),
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:     []string{cfg.Brokers},
			Topic:       cfg.UsageTopic,
			GroupID:     cfg.ConsumerGroup,
			MinBytes:    cfg.MinBytes,
			MaxBytes:    cfg.MaxBytes,
			MaxWait:     cfg.MaxWait,
			StartOffset: startOffset,
		}),
	}
}

// Subscribe starts the fetch loop in the background. Messages are handled one at a time
// so that offsets are committed in order.
func (c *KafkaConsumer) Subscribe(ctx context.Context, handler MessageHandler) error {
	c.logger.Info("Subscribed to Kafka topic")
	if c.errs == nil {
		c.errs = make(chan error, 1)
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		if err := c.consume(ctx, handler); err != nil {
			select {
			case c.errs <- err:
			default:
			}
		}
	}()

	return nil
}

// Err is nil before Subscribe
func (c *KafkaConsumer) Err() <-chan error {
	return c.errs
}

func (c *KafkaConsumer) consume(ctx context.Context, handler MessageHandler) error {
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, io.EOF) {
				c.logger.Info("Stopping consumer")
				return nil
			}
			c.logger.Error("Failed to fetch message from Kafka", "error", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(fetchBackoff):
			}
			continue
		}

		log := c.logger.With("partition", msg.Partition, "offset", msg.Offset, "key", string(msg.Key))
		log.Debug("Received message from Kafka")

		if err := handler(ctx, msg); err != nil {
			log.Error("Failed to process message, offset not committed", "error", err)
			return fmt.Errorf("partition %d offset %d: %w", msg.Partition, msg.Offset, err)
		}

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			log.Error("Failed to commit message after successful processing", "error", err)
			continue
		}
		log.Debug("Message committed")
	}
}

// Close stops the reader and waits for the fetch loop to exit
func (c *KafkaConsumer) Close() error {
	if c.reader == nil {
		return nil
	}
	err := c.reader.Close()
	c.wg.Wait()
	return err
}
