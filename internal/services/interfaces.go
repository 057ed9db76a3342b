package services

import (
	"context"
	"time"

	domain "github.com/vendaflow/fulfillment/internal/domain"
)

// CreateOrderCommand carries the caller-supplied fields for a new order.
type CreateOrderCommand struct {
	CPF      string
	SKU      string
	Quantity int
}

// SendOrderResult reports a successful hand-off to fulfillment.
type SendOrderResult struct {
	Order        domain.Order
	Confirmation string
}

// CancelDeliveryResult reports a cancellation. ProductMissing is set when the
// stock restore hit a product that no longer exists; the delivery is canceled
// regardless.
type CancelDeliveryResult struct {
	Delivery       domain.Delivery
	ProductMissing bool
	Message        string
}

// OrderListQuery narrows and paginates order listings.
type OrderListQuery struct {
	CreatedAfter  *time.Time
	CreatedBefore *time.Time
	Pagination    domain.Pagination
}

// DeliveryListQuery narrows and paginates delivery listings.
type DeliveryListQuery struct {
	Status        *domain.DeliveryStatus
	CreatedAfter  *time.Time
	CreatedBefore *time.Time
	Pagination    domain.Pagination
}

// OrderService orchestrates order creation, validation, and hand-off.
type OrderService interface {
	Create(ctx context.Context, cmd CreateOrderCommand) (domain.Order, error)
	Send(ctx context.Context, orderID string) (SendOrderResult, error)
	Get(ctx context.Context, orderID string) (domain.Order, error)
	List(ctx context.Context, query OrderListQuery) (domain.CursorPage[domain.Order], error)
	Delete(ctx context.Context, orderID string) error
}

// DeliveryService drives the fulfillment state machine.
type DeliveryService interface {
	Ingest(ctx context.Context, delivery domain.Delivery) error
	MarkShipped(ctx context.Context, deliveryID string) (domain.Delivery, error)
	Cancel(ctx context.Context, deliveryID string) (CancelDeliveryResult, error)
	Get(ctx context.Context, deliveryID string) (domain.Delivery, error)
	List(ctx context.Context, query DeliveryListQuery) (domain.CursorPage[domain.Delivery], error)
	Delete(ctx context.Context, deliveryID string) error
	PurgeCanceled(ctx context.Context) (int, error)
}
