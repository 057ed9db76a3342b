package repositories

import (
	"context"
	"time"

	domain "github.com/vendaflow/fulfillment/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Orders() OrderRepository
	Deliveries() DeliveryRepository
	Credentials() CredentialRepository
	Health() HealthRepository
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// OrderRepository persists pending purchase records.
type OrderRepository interface {
	Insert(ctx context.Context, order domain.Order) error
	Update(ctx context.Context, order domain.Order) error
	Delete(ctx context.Context, orderID string) error
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	List(ctx context.Context, filter OrderListFilter) (domain.CursorPage[domain.Order], error)
}

// DeliveryRepository persists fulfillment records keyed by the originating order id.
type DeliveryRepository interface {
	// Upsert writes the delivery, creating it when absent. Redelivered events
	// land on the same document, so duplicates collapse into a no-op.
	Upsert(ctx context.Context, delivery domain.Delivery) error
	UpdateStatus(ctx context.Context, deliveryID string, status domain.DeliveryStatus, updatedAt time.Time) error
	Delete(ctx context.Context, deliveryID string) error
	DeleteByStatus(ctx context.Context, status domain.DeliveryStatus) (int, error)
	FindByID(ctx context.Context, deliveryID string) (domain.Delivery, error)
	List(ctx context.Context, filter DeliveryListFilter) (domain.CursorPage[domain.Delivery], error)
}

// CredentialRepository loads the service credentials used for token acquisition.
type CredentialRepository interface {
	FindByClientID(ctx context.Context, clientID string) (domain.ServiceCredential, error)
}

// HealthRepository verifies backend connectivity for readiness probes.
type HealthRepository interface {
	Check(ctx context.Context) error
}

// OrderListFilter narrows order listings.
type OrderListFilter struct {
	CreatedAfter  *time.Time
	CreatedBefore *time.Time
	Pagination    domain.Pagination
}

// DeliveryListFilter narrows delivery listings.
type DeliveryListFilter struct {
	Status        *domain.DeliveryStatus
	CreatedAfter  *time.Time
	CreatedBefore *time.Time
	Pagination    domain.Pagination
}
