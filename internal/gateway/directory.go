package gateway

import (
	"context"

	"github.com/vendaflow/fulfillment/internal/domain"
)

// Directory exposes the remote customer and product services behind one
// method per remote capability. Every failure is translated into the
// domain taxonomy before it reaches callers; no raw transport error
// crosses this boundary.
type Directory interface {
	// CustomerByCPF fetches the customer registered under the CPF.
	CustomerByCPF(ctx context.Context, cpf string) (domain.Customer, error)
	// ProductBySKU fetches the product registered under the SKU.
	ProductBySKU(ctx context.Context, sku string) (domain.Product, error)
	// DecreaseStock reserves quantity units of the product's stock.
	DecreaseStock(ctx context.Context, sku string, quantity int) error
	// IncreaseStock restores quantity units of the product's stock.
	IncreaseStock(ctx context.Context, sku string, quantity int) error
	// CheckAvailability verifies the product service can currently serve the SKU.
	CheckAvailability(ctx context.Context, sku string) error
}

// TokenSource supplies the Authorization header attached to every outbound call.
type TokenSource interface {
	AuthorizationHeader(ctx context.Context) (string, error)
}
