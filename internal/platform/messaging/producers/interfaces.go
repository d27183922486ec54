package producers

import (
	"context"

	"github.com/campaign-billing-ledger/internal/domain/shared"
	"github.com/segmentio/kafka-go"
)

// UsagePublisher hands completed-call usage events to the usage topic
type UsagePublisher interface {
	PublishUsage(ctx context.Context, event shared.UsageEvent) error
	Close() error
}

// DeadLetterPublisher parks messages the processor gave up on
type DeadLetterPublisher interface {
	PublishToDLQ(ctx context.Context, key string, originalMessageValue []byte, reason string) error
	Close() error
}

// KafkaWriter wraps kafka.Writer methods for testing
type KafkaWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}
