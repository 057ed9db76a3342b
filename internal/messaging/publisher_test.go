package messaging

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	domain "github.com/vendaflow/fulfillment/internal/domain"
)

func newTestClient(t *testing.T, srv *pstest.Server) *pubsub.Client {
	t.Helper()

	client, err := pubsub.NewClient(context.Background(), "test-project",
		option.WithEndpoint(srv.Addr),
		option.WithoutAuthentication(),
		option.WithGRPCDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
	)
	if err != nil {
		t.Fatalf("pubsub.NewClient: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestPublishOrderSentCarriesOrderingKeyAndPayload(t *testing.T) {
	ctx := context.Background()
	srv := pstest.NewServer()
	defer srv.Close()

	client := newTestClient(t, srv)

	topic, err := client.CreateTopic(ctx, "order-events")
	if err != nil {
		t.Fatalf("CreateTopic: %v", err)
	}

	publisher, err := NewOrderEventPublisher(topic)
	if err != nil {
		t.Fatalf("NewOrderEventPublisher: %v", err)
	}
	defer publisher.Stop()

	sentAt := time.Date(2026, 2, 3, 12, 0, 0, 0, time.UTC)
	order := domain.Order{
		ID:           "ord_01ARZ3NDEKTSV4RRFFQ69G5FAV",
		SKU:          "MOUSE-2024-WL-0010",
		ProductTitle: "Wireless Mouse",
		CPF:          "07021050070",
		CustomerName: "John Doe",
		UnitPrice:    2999,
		Quantity:     10,
		Total:        29990,
	}

	if _, err := publisher.PublishOrderSent(ctx, NewOrderEvent(order, sentAt)); err != nil {
		t.Fatalf("PublishOrderSent: %v", err)
	}

	messages := srv.Messages()
	if len(messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(messages))
	}

	msg := messages[0]
	if msg.OrderingKey != order.ID {
		t.Fatalf("expected ordering key %q, got %q", order.ID, msg.OrderingKey)
	}
	if attr := msg.Attributes["orderId"]; attr != order.ID {
		t.Fatalf("expected orderId attribute %q, got %q", order.ID, attr)
	}

	var payload map[string]any
	if err := json.Unmarshal(msg.Data, &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if payload["name"] != "John Doe" || payload["title"] != "Wireless Mouse" {
		t.Fatalf("unexpected payload %#v", payload)
	}
	if price := payload["price"].(float64); price != 29.99 {
		t.Fatalf("expected price 29.99, got %v", price)
	}
	if total := payload["total"].(float64); total != 299.90 {
		t.Fatalf("expected total 299.90, got %v", total)
	}
}

func TestPublishOrderSentRejectsMissingID(t *testing.T) {
	srv := pstest.NewServer()
	defer srv.Close()

	client := newTestClient(t, srv)

	topic, err := client.CreateTopic(context.Background(), "order-events")
	if err != nil {
		t.Fatalf("CreateTopic: %v", err)
	}

	publisher, err := NewOrderEventPublisher(topic)
	if err != nil {
		t.Fatalf("NewOrderEventPublisher: %v", err)
	}
	defer publisher.Stop()

	if _, err := publisher.PublishOrderSent(context.Background(), OrderEvent{}); err == nil {
		t.Fatal("expected error for event without id")
	}
}
