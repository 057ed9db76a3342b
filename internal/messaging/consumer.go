package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/pubsub"
	"go.uber.org/zap"

	domain "github.com/vendaflow/fulfillment/internal/domain"
)

// DeliveryIngestor consumes hand-off events and records the fulfillment side.
type DeliveryIngestor interface {
	Ingest(ctx context.Context, delivery domain.Delivery) error
}

// ConsumerOption customises the order event consumer.
type ConsumerOption func(*OrderEventConsumer)

// WithConsumerLogger attaches a structured logger to the consumer.
func WithConsumerLogger(logger *zap.Logger) ConsumerOption {
	return func(c *OrderEventConsumer) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithMaxOutstanding caps the number of messages processed concurrently.
func WithMaxOutstanding(n int) ConsumerOption {
	return func(c *OrderEventConsumer) {
		if n > 0 {
			c.maxOutstanding = n
		}
	}
}

// WithConsumerClock injects a custom clock primarily for tests.
func WithConsumerClock(clock func() time.Time) ConsumerOption {
	return func(c *OrderEventConsumer) {
		if clock != nil {
			c.now = clock
		}
	}
}

// OrderEventConsumer pulls order hand-off events from a Pub/Sub subscription
// and records the corresponding delivery. Processing is idempotent: the
// delivery document is keyed by the order id, so a redelivered event is a
// no-op.
type OrderEventConsumer struct {
	subscription   *pubsub.Subscription
	ingestor       DeliveryIngestor
	logger         *zap.Logger
	now            func() time.Time
	maxOutstanding int
}

// NewOrderEventConsumer constructs the consumer on top of an existing
// subscription.
func NewOrderEventConsumer(subscription *pubsub.Subscription, ingestor DeliveryIngestor, opts ...ConsumerOption) (*OrderEventConsumer, error) {
	if subscription == nil {
		return nil, errors.New("order event consumer: subscription is required")
	}
	if ingestor == nil {
		return nil, errors.New("order event consumer: ingestor is required")
	}

	consumer := &OrderEventConsumer{
		subscription: subscription,
		ingestor:     ingestor,
		logger:       zap.NewNop(),
		now:          time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(consumer)
		}
	}

	if consumer.maxOutstanding > 0 {
		consumer.subscription.ReceiveSettings.MaxOutstandingMessages = consumer.maxOutstanding
	}
	return consumer, nil
}

// Run blocks receiving messages until the context is cancelled.
func (c *OrderEventConsumer) Run(ctx context.Context) error {
	if c == nil || c.subscription == nil {
		return errors.New("order event consumer: not initialised")
	}

	err := c.subscription.Receive(ctx, c.handle)
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func (c *OrderEventConsumer) handle(ctx context.Context, msg *pubsub.Message) {
	var event OrderEvent
	if err := json.Unmarshal(msg.Data, &event); err != nil {
		// A malformed payload will never parse on redelivery; drop it.
		c.logger.Error("discarding undecodable order event",
			zap.String("message_id", msg.ID),
			zap.Error(err))
		msg.Ack()
		return
	}

	if strings.TrimSpace(event.ID) == "" {
		c.logger.Error("discarding order event without id",
			zap.String("message_id", msg.ID))
		msg.Ack()
		return
	}

	if err := c.ingestor.Ingest(ctx, event.Delivery(c.now())); err != nil {
		c.logger.Warn("order event ingest failed, message will be redelivered",
			zap.String("order_id", event.ID),
			zap.String("message_id", msg.ID),
			zap.Error(err))
		msg.Nack()
		return
	}

	c.logger.Info("order event ingested",
		zap.String("order_id", event.ID),
		zap.String("message_id", msg.ID))
	msg.Ack()
}
