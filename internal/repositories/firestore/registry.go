package firestore

import (
	"context"
	"errors"

	"google.golang.org/api/iterator"

	pfirestore "github.com/vendaflow/fulfillment/internal/platform/firestore"
	"github.com/vendaflow/fulfillment/internal/repositories"
)

// Registry bundles the Firestore-backed repositories behind a single
// lifecycle-managed handle.
type Registry struct {
	provider    *pfirestore.Provider
	orders      *OrderRepository
	deliveries  *DeliveryRepository
	credentials *CredentialRepository
	health      *healthRepository
}

// NewRegistry constructs the repository registry on top of the shared
// Firestore provider.
func NewRegistry(provider *pfirestore.Provider) (*Registry, error) {
	if provider == nil {
		return nil, errors.New("registry requires firestore provider")
	}

	orders, err := NewOrderRepository(provider)
	if err != nil {
		return nil, err
	}
	deliveries, err := NewDeliveryRepository(provider)
	if err != nil {
		return nil, err
	}
	credentials, err := NewCredentialRepository(provider)
	if err != nil {
		return nil, err
	}

	return &Registry{
		provider:    provider,
		orders:      orders,
		deliveries:  deliveries,
		credentials: credentials,
		health:      &healthRepository{provider: provider},
	}, nil
}

// Close releases the underlying Firestore client.
func (r *Registry) Close(ctx context.Context) error {
	if r == nil || r.provider == nil {
		return nil
	}
	return r.provider.Close(ctx)
}

// Orders returns the order repository.
func (r *Registry) Orders() repositories.OrderRepository { return r.orders }

// Deliveries returns the delivery repository.
func (r *Registry) Deliveries() repositories.DeliveryRepository { return r.deliveries }

// Credentials returns the credential repository.
func (r *Registry) Credentials() repositories.CredentialRepository { return r.credentials }

// Health returns the readiness probe backed by the Firestore connection.
func (r *Registry) Health() repositories.HealthRepository { return r.health }

type healthRepository struct {
	provider *pfirestore.Provider
}

// Check issues a minimal read against the orders collection to verify the
// backend is reachable. An empty collection is healthy.
func (h *healthRepository) Check(ctx context.Context) error {
	if h == nil || h.provider == nil {
		return errors.New("health repository not initialised")
	}

	client, err := h.provider.Client(ctx)
	if err != nil {
		return err
	}

	iter := client.Collection(orderCollection).Limit(1).Documents(ctx)
	defer iter.Stop()

	if _, err := iter.Next(); err != nil && !errors.Is(err, iterator.Done) {
		return pfirestore.WrapError("firestore: health.check", err)
	}
	return nil
}

var _ repositories.Registry = (*Registry)(nil)
