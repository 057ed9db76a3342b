package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	domain "github.com/vendaflow/fulfillment/internal/domain"
	"github.com/vendaflow/fulfillment/internal/gateway"
	"github.com/vendaflow/fulfillment/internal/repositories"
)

var (
	errDeliveryRepositoryRequired = errors.New("delivery service: repository is required")
	errDeliveryDirectoryRequired  = errors.New("delivery service: directory is required")
)

// ErrDeliveryInvalidInput indicates the caller supplied invalid input.
var ErrDeliveryInvalidInput = errors.New("delivery service: invalid input")

// ErrDeliveryNotFound indicates the requested delivery does not exist.
var ErrDeliveryNotFound = errors.New("delivery service: not found")

// ErrDeliveryAlreadyShipped indicates the delivery has already shipped.
var ErrDeliveryAlreadyShipped = errors.New("delivery service: already shipped")

// ErrDeliveryAlreadyCanceled indicates the delivery has already been canceled.
var ErrDeliveryAlreadyCanceled = errors.New("delivery service: already canceled")

// ErrDeliveryUnavailable indicates the delivery backend cannot fulfil the request.
var ErrDeliveryUnavailable = errors.New("delivery service: unavailable")

// ErrNoCanceledDeliveries indicates a purge found nothing to delete.
var ErrNoCanceledDeliveries = errors.New("delivery service: no canceled deliveries")

type deliveryEnricher interface {
	EnrichDeliveries(ctx context.Context, deliveries []domain.Delivery) []domain.Delivery
}

// DeliveryServiceDeps wires the dependencies for the fulfillment state machine.
type DeliveryServiceDeps struct {
	Repository repositories.DeliveryRepository
	Directory  gateway.Directory
	Enricher   deliveryEnricher
	Clock      func() time.Time
	Logger     *zap.Logger
}

type deliveryService struct {
	repo      repositories.DeliveryRepository
	directory gateway.Directory
	enricher  deliveryEnricher
	now       func() time.Time
	logger    *zap.Logger
}

// NewDeliveryService constructs a DeliveryService enforcing dependency validation.
func NewDeliveryService(deps DeliveryServiceDeps) (DeliveryService, error) {
	if deps.Repository == nil {
		return nil, errDeliveryRepositoryRequired
	}
	if deps.Directory == nil {
		return nil, errDeliveryDirectoryRequired
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &deliveryService{
		repo:      deps.Repository,
		directory: deps.Directory,
		enricher:  deps.Enricher,
		now:       func() time.Time { return clock().UTC() },
		logger:    logger,
	}, nil
}

// Ingest records the delivery produced by an order hand-off event. The
// record is keyed by the order id, so a redelivered event is absorbed as a
// no-op instead of resetting an advanced status.
func (s *deliveryService) Ingest(ctx context.Context, delivery domain.Delivery) error {
	if strings.TrimSpace(delivery.ID) == "" {
		return fmt.Errorf("%w: delivery id is required", ErrDeliveryInvalidInput)
	}
	if delivery.Status == "" {
		delivery.Status = domain.DeliveryStatusProcessing
	}

	if err := s.repo.Upsert(ctx, delivery); err != nil {
		return s.translateRepoError(err)
	}
	return nil
}

// MarkShipped transitions a PROCESSING delivery to SHIPPED.
func (s *deliveryService) MarkShipped(ctx context.Context, deliveryID string) (domain.Delivery, error) {
	delivery, err := s.load(ctx, deliveryID)
	if err != nil {
		return domain.Delivery{}, err
	}

	if err := terminalConflict(delivery); err != nil {
		return domain.Delivery{}, err
	}

	now := s.now()
	if err := s.repo.UpdateStatus(ctx, delivery.ID, domain.DeliveryStatusShipped, now); err != nil {
		return domain.Delivery{}, s.translateRepoError(err)
	}

	delivery.Status = domain.DeliveryStatusShipped
	delivery.UpdatedAt = now
	return delivery, nil
}

// Cancel transitions the delivery to CANCELED and restores the reserved
// stock. The product service must be reachable before anything changes; a
// product that disappeared since the order was placed does not block the
// cancellation, it only downgrades the stock restore to a soft warning.
func (s *deliveryService) Cancel(ctx context.Context, deliveryID string) (CancelDeliveryResult, error) {
	delivery, err := s.load(ctx, deliveryID)
	if err != nil {
		return CancelDeliveryResult{}, err
	}

	if err := terminalConflict(delivery); err != nil {
		return CancelDeliveryResult{}, err
	}

	if err := s.directory.CheckAvailability(ctx, delivery.SKU); err != nil {
		if !errors.Is(err, gateway.ErrProductNotFound) {
			return CancelDeliveryResult{}, err
		}
	}

	productMissing := false
	if err := s.directory.IncreaseStock(ctx, delivery.SKU, delivery.Quantity); err != nil {
		if !errors.Is(err, gateway.ErrProductNotFound) {
			return CancelDeliveryResult{}, err
		}
		productMissing = true
		s.logger.Warn("stock restore skipped, product no longer exists",
			zap.String("delivery_id", delivery.ID),
			zap.String("sku", delivery.SKU))
	}

	now := s.now()
	if err := s.repo.UpdateStatus(ctx, delivery.ID, domain.DeliveryStatusCanceled, now); err != nil {
		return CancelDeliveryResult{}, s.translateRepoError(err)
	}

	delivery.Status = domain.DeliveryStatusCanceled
	delivery.UpdatedAt = now

	result := CancelDeliveryResult{
		Delivery: delivery,
		Message:  fmt.Sprintf("delivery %s canceled", delivery.ID),
	}
	if productMissing {
		result.ProductMissing = true
		result.Message = fmt.Sprintf("delivery %s canceled, product missing, status updated", delivery.ID)
	}
	return result, nil
}

// Get loads a single delivery by id.
func (s *deliveryService) Get(ctx context.Context, deliveryID string) (domain.Delivery, error) {
	return s.load(ctx, deliveryID)
}

// List returns a page of deliveries with customer names and product titles
// refreshed from the directory services.
func (s *deliveryService) List(ctx context.Context, query DeliveryListQuery) (domain.CursorPage[domain.Delivery], error) {
	page, err := s.repo.List(ctx, repositories.DeliveryListFilter{
		Status:        query.Status,
		CreatedAfter:  query.CreatedAfter,
		CreatedBefore: query.CreatedBefore,
		Pagination:    query.Pagination,
	})
	if err != nil {
		return domain.CursorPage[domain.Delivery]{}, s.translateRepoError(err)
	}

	if s.enricher != nil {
		page.Items = s.enricher.EnrichDeliveries(ctx, page.Items)
	}
	return page, nil
}

// Delete removes the delivery by id.
func (s *deliveryService) Delete(ctx context.Context, deliveryID string) error {
	deliveryID = strings.TrimSpace(deliveryID)
	if deliveryID == "" {
		return fmt.Errorf("%w: delivery id is required", ErrDeliveryInvalidInput)
	}

	if err := s.repo.Delete(ctx, deliveryID); err != nil {
		return s.translateRepoError(err)
	}
	return nil
}

// PurgeCanceled deletes every CANCELED delivery and reports the count.
// Finding nothing to purge is a not-found condition.
func (s *deliveryService) PurgeCanceled(ctx context.Context) (int, error) {
	deleted, err := s.repo.DeleteByStatus(ctx, domain.DeliveryStatusCanceled)
	if err != nil {
		return deleted, s.translateRepoError(err)
	}
	if deleted == 0 {
		return 0, ErrNoCanceledDeliveries
	}

	s.logger.Info("purged canceled deliveries", zap.Int("count", deleted))
	return deleted, nil
}

// terminalConflict rejects transitions out of SHIPPED or CANCELED.
func terminalConflict(delivery domain.Delivery) error {
	if !delivery.Status.Terminal() {
		return nil
	}
	if delivery.Status == domain.DeliveryStatusShipped {
		return fmt.Errorf("%w: delivery %s", ErrDeliveryAlreadyShipped, delivery.ID)
	}
	return fmt.Errorf("%w: delivery %s", ErrDeliveryAlreadyCanceled, delivery.ID)
}

func (s *deliveryService) load(ctx context.Context, deliveryID string) (domain.Delivery, error) {
	deliveryID = strings.TrimSpace(deliveryID)
	if deliveryID == "" {
		return domain.Delivery{}, fmt.Errorf("%w: delivery id is required", ErrDeliveryInvalidInput)
	}

	delivery, err := s.repo.FindByID(ctx, deliveryID)
	if err != nil {
		return domain.Delivery{}, s.translateRepoError(err)
	}
	return delivery, nil
}

func (s *deliveryService) translateRepoError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return ErrDeliveryNotFound
		case repoErr.IsConflict():
			return fmt.Errorf("%w: conflicting write", ErrDeliveryUnavailable)
		case repoErr.IsUnavailable():
			return ErrDeliveryUnavailable
		}
	}
	return ErrDeliveryUnavailable
}
