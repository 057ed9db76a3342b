package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	domain "github.com/vendaflow/fulfillment/internal/domain"
	"github.com/vendaflow/fulfillment/internal/gateway"
	"github.com/vendaflow/fulfillment/internal/messaging"
	"github.com/vendaflow/fulfillment/internal/repositories"
)

var (
	errOrderRepositoryRequired = errors.New("order service: repository is required")
	errOrderDirectoryRequired  = errors.New("order service: directory is required")
)

// ErrOrderInvalidInput indicates the caller supplied an invalid order request.
var ErrOrderInvalidInput = errors.New("order service: invalid input")

// ErrOrderNotFound indicates the requested order does not exist.
var ErrOrderNotFound = errors.New("order service: not found")

// ErrOrderAlreadySent indicates the order has already been handed to fulfillment.
var ErrOrderAlreadySent = errors.New("order service: already sent")

// ErrOrderUnavailable indicates the order backend cannot fulfil the request.
var ErrOrderUnavailable = errors.New("order service: unavailable")

// ErrProductUnavailable indicates the product exists but is not sellable.
var ErrProductUnavailable = errors.New("order service: product unavailable")

const defaultPublishTimeout = 30 * time.Second

type orderEnricher interface {
	EnrichOrders(ctx context.Context, orders []domain.Order) []domain.Order
}

// EventPublisher hands completed orders to the fulfillment channel.
type EventPublisher interface {
	PublishOrderSent(ctx context.Context, event messaging.OrderEvent) (string, error)
}

// OrderServiceDeps wires the dependencies for order orchestration.
type OrderServiceDeps struct {
	Repository     repositories.OrderRepository
	Directory      gateway.Directory
	Events         EventPublisher
	Enricher       orderEnricher
	Clock          func() time.Time
	IDGenerator    func() string
	Logger         *zap.Logger
	PublishTimeout time.Duration
}

type orderService struct {
	repo           repositories.OrderRepository
	directory      gateway.Directory
	events         EventPublisher
	enricher       orderEnricher
	now            func() time.Time
	newID          func() string
	logger         *zap.Logger
	publishTimeout time.Duration
}

// NewOrderService constructs an OrderService enforcing dependency validation.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Repository == nil {
		return nil, errOrderRepositoryRequired
	}
	if deps.Directory == nil {
		return nil, errOrderDirectoryRequired
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return "ord_" + ulid.Make().String() }
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	publishTimeout := deps.PublishTimeout
	if publishTimeout <= 0 {
		publishTimeout = defaultPublishTimeout
	}

	return &orderService{
		repo:           deps.Repository,
		directory:      deps.Directory,
		events:         deps.Events,
		enricher:       deps.Enricher,
		now:            func() time.Time { return clock().UTC() },
		newID:          idGen,
		logger:         logger,
		publishTimeout: publishTimeout,
	}, nil
}

// Create validates the purchase against the directory services and persists
// the order with a snapshot of the customer and product at creation time.
func (s *orderService) Create(ctx context.Context, cmd CreateOrderCommand) (domain.Order, error) {
	cmd.CPF = strings.TrimSpace(cmd.CPF)
	cmd.SKU = strings.TrimSpace(cmd.SKU)
	if cmd.CPF == "" {
		return domain.Order{}, fmt.Errorf("%w: cpf is required", ErrOrderInvalidInput)
	}
	if cmd.SKU == "" {
		return domain.Order{}, fmt.Errorf("%w: sku is required", ErrOrderInvalidInput)
	}

	customer, product, err := s.validatePurchase(ctx, cmd.CPF, cmd.SKU, cmd.Quantity)
	if err != nil {
		return domain.Order{}, err
	}

	now := s.now()
	order := domain.Order{
		ID:           s.newID(),
		SKU:          product.SKU,
		ProductTitle: product.Title,
		CPF:          customer.CPF,
		CustomerName: customer.Name,
		UnitPrice:    product.UnitPrice,
		Quantity:     cmd.Quantity,
		Total:        product.UnitPrice * int64(cmd.Quantity),
		Processing:   false,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.repo.Insert(ctx, order); err != nil {
		return domain.Order{}, s.translateRepoError(err)
	}
	return order, nil
}

// Send re-validates the purchase, reserves stock, marks the order as
// processing, and hands it to fulfillment. The publish is fire-and-forget:
// stock is already reserved, so a publish failure is logged with the order id
// for manual replay rather than rolled back.
func (s *orderService) Send(ctx context.Context, orderID string) (SendOrderResult, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return SendOrderResult{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}

	order, err := s.repo.FindByID(ctx, orderID)
	if err != nil {
		return SendOrderResult{}, s.translateRepoError(err)
	}
	if order.Processing {
		return SendOrderResult{}, fmt.Errorf("%w: order %s", ErrOrderAlreadySent, order.ID)
	}

	if _, _, err := s.validatePurchase(ctx, order.CPF, order.SKU, order.Quantity); err != nil {
		return SendOrderResult{}, err
	}

	if err := s.directory.DecreaseStock(ctx, order.SKU, order.Quantity); err != nil {
		return SendOrderResult{}, err
	}

	now := s.now()
	order.Processing = true
	order.SentAt = &now
	order.UpdatedAt = now
	if err := s.repo.Update(ctx, order); err != nil {
		return SendOrderResult{}, s.translateRepoError(err)
	}

	s.publishOrderSent(ctx, order, now)

	return SendOrderResult{
		Order:        order,
		Confirmation: fmt.Sprintf("order %s sent to fulfillment", order.ID),
	}, nil
}

// Get loads a single order by id.
func (s *orderService) Get(ctx context.Context, orderID string) (domain.Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return domain.Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}

	order, err := s.repo.FindByID(ctx, orderID)
	if err != nil {
		return domain.Order{}, s.translateRepoError(err)
	}
	return order, nil
}

// List returns a page of orders with customer names and product titles
// refreshed from the directory services.
func (s *orderService) List(ctx context.Context, query OrderListQuery) (domain.CursorPage[domain.Order], error) {
	page, err := s.repo.List(ctx, repositories.OrderListFilter{
		CreatedAfter:  query.CreatedAfter,
		CreatedBefore: query.CreatedBefore,
		Pagination:    query.Pagination,
	})
	if err != nil {
		return domain.CursorPage[domain.Order]{}, s.translateRepoError(err)
	}

	if s.enricher != nil {
		page.Items = s.enricher.EnrichOrders(ctx, page.Items)
	}
	return page, nil
}

// Delete removes the order by id.
func (s *orderService) Delete(ctx context.Context, orderID string) error {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}

	if err := s.repo.Delete(ctx, orderID); err != nil {
		return s.translateRepoError(err)
	}
	return nil
}

// validatePurchase runs the shared validation sequence used by both Create
// and Send: the customer must exist, the product must exist, the quantity
// must be positive and within available stock, and the product must be
// active. Directory errors pass through untranslated.
func (s *orderService) validatePurchase(ctx context.Context, cpf, sku string, quantity int) (domain.Customer, domain.Product, error) {
	customer, err := s.directory.CustomerByCPF(ctx, cpf)
	if err != nil {
		return domain.Customer{}, domain.Product{}, err
	}

	product, err := s.directory.ProductBySKU(ctx, sku)
	if err != nil {
		return domain.Customer{}, domain.Product{}, err
	}

	if quantity <= 0 {
		return domain.Customer{}, domain.Product{}, fmt.Errorf("%w: quantity must be greater than zero", ErrOrderInvalidInput)
	}
	if quantity > product.AvailableQuantity {
		return domain.Customer{}, domain.Product{}, fmt.Errorf("%w: only %d units of %s available",
			ErrOrderInvalidInput, product.AvailableQuantity, product.SKU)
	}
	if product.Status != domain.ProductStatusActive {
		return domain.Customer{}, domain.Product{}, fmt.Errorf("%w: product %s is not active", ErrProductUnavailable, product.SKU)
	}

	return customer, product, nil
}

func (s *orderService) publishOrderSent(ctx context.Context, order domain.Order, sentAt time.Time) {
	if s.events == nil {
		s.logger.Warn("no event publisher configured, fulfillment will not see this order",
			zap.String("order_id", order.ID))
		return
	}

	event := messaging.NewOrderEvent(order, sentAt)
	go func() {
		publishCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.publishTimeout)
		defer cancel()

		if _, err := s.events.PublishOrderSent(publishCtx, event); err != nil {
			// Stock is already decremented at this point. The order id in the
			// log line is the handle for replaying the hand-off.
			s.logger.Error("order event publish failed after stock reservation",
				zap.String("order_id", order.ID),
				zap.Error(err))
		}
	}()
}

func (s *orderService) translateRepoError(err error) error {
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
			return ErrOrderNotFound
		case repoErr.IsConflict():
			return fmt.Errorf("%w: conflicting write", ErrOrderUnavailable)
		case repoErr.IsUnavailable():
			return ErrOrderUnavailable
		}
	}
	return ErrOrderUnavailable
}
