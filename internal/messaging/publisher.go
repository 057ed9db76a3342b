package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"cloud.google.com/go/pubsub"
)

// OrderEventPublisher publishes order hand-off events on a Pub/Sub topic.
// Messages carry the order id as ordering key so events for the same order
// are delivered in publish order.
type OrderEventPublisher struct {
	topic   *pubsub.Topic
	marshal func(any) ([]byte, error)
}

// NewOrderEventPublisher constructs a Pub/Sub backed order event publisher.
func NewOrderEventPublisher(topic *pubsub.Topic) (*OrderEventPublisher, error) {
	if topic == nil {
		return nil, errors.New("order event publisher: topic is required")
	}
	topic.EnableMessageOrdering = true
	return &OrderEventPublisher{
		topic:   topic,
		marshal: json.Marshal,
	}, nil
}

// PublishOrderSent enqueues the event and waits for the server-assigned
// message id. A failed publish resumes the ordering key so later events for
// the same order are not wedged behind the failure.
func (p *OrderEventPublisher) PublishOrderSent(ctx context.Context, event OrderEvent) (string, error) {
	if p == nil || p.topic == nil {
		return "", errors.New("order event publisher: not initialised")
	}
	if event.ID == "" {
		return "", errors.New("order event publisher: event id is required")
	}

	data, err := p.marshal(event)
	if err != nil {
		return "", fmt.Errorf("marshal order event: %w", err)
	}

	result := p.topic.Publish(ctx, &pubsub.Message{
		Data:        data,
		OrderingKey: event.ID,
		Attributes:  map[string]string{"orderId": event.ID},
	})

	id, err := result.Get(ctx)
	if err != nil {
		p.topic.ResumePublish(event.ID)
		return "", fmt.Errorf("publish order event: %w", err)
	}
	return id, nil
}

// Stop flushes pending messages and releases publisher resources.
func (p *OrderEventPublisher) Stop() {
	if p != nil && p.topic != nil {
		p.topic.Stop()
	}
}
