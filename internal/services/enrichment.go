package services

import (
	"context"
	"errors"

	"go.uber.org/zap"

	domain "github.com/vendaflow/fulfillment/internal/domain"
	"github.com/vendaflow/fulfillment/internal/gateway"
	"github.com/vendaflow/fulfillment/internal/platform/observability"
)

// DirectoryEnricher refreshes customer names and product titles on listing
// pages from the directory services. Each distinct CPF and SKU on the page is
// fetched exactly once and joined locally. Enrichment is best-effort: a
// failed or missing lookup leaves the stored snapshot in place.
type DirectoryEnricher struct {
	directory gateway.Directory
	logger    *zap.Logger
}

// NewDirectoryEnricher constructs the enrichment pipeline.
func NewDirectoryEnricher(directory gateway.Directory, logger *zap.Logger) (*DirectoryEnricher, error) {
	if directory == nil {
		return nil, errors.New("directory enricher: directory is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DirectoryEnricher{directory: directory, logger: logger}, nil
}

// EnrichOrders refreshes the customer name and product title on each order.
func (e *DirectoryEnricher) EnrichOrders(ctx context.Context, orders []domain.Order) []domain.Order {
	if e == nil || len(orders) == 0 {
		return orders
	}

	cpfs := make([]string, 0, len(orders))
	skus := make([]string, 0, len(orders))
	for _, order := range orders {
		cpfs = append(cpfs, order.CPF)
		skus = append(skus, order.SKU)
	}

	names := e.customerNames(ctx, cpfs)
	titles := e.productTitles(ctx, skus)

	for i := range orders {
		if name, ok := names[orders[i].CPF]; ok {
			orders[i].CustomerName = name
		}
		if title, ok := titles[orders[i].SKU]; ok {
			orders[i].ProductTitle = title
		}
	}
	return orders
}

// EnrichDeliveries refreshes the customer name and product title on each delivery.
func (e *DirectoryEnricher) EnrichDeliveries(ctx context.Context, deliveries []domain.Delivery) []domain.Delivery {
	if e == nil || len(deliveries) == 0 {
		return deliveries
	}

	cpfs := make([]string, 0, len(deliveries))
	skus := make([]string, 0, len(deliveries))
	for _, delivery := range deliveries {
		cpfs = append(cpfs, delivery.CPF)
		skus = append(skus, delivery.SKU)
	}

	names := e.customerNames(ctx, cpfs)
	titles := e.productTitles(ctx, skus)

	for i := range deliveries {
		if name, ok := names[deliveries[i].CPF]; ok {
			deliveries[i].CustomerName = name
		}
		if title, ok := titles[deliveries[i].SKU]; ok {
			deliveries[i].ProductTitle = title
		}
	}
	return deliveries
}

func (e *DirectoryEnricher) customerNames(ctx context.Context, cpfs []string) map[string]string {
	names := make(map[string]string)
	for _, cpf := range distinct(cpfs) {
		customer, err := e.directory.CustomerByCPF(ctx, cpf)
		if err != nil {
			e.logger.Warn("customer enrichment lookup failed, keeping snapshot",
				zap.String("cpf", observability.SanitizeDocument(cpf)),
				zap.Error(err))
			continue
		}
		names[cpf] = customer.Name
	}
	return names
}

func (e *DirectoryEnricher) productTitles(ctx context.Context, skus []string) map[string]string {
	titles := make(map[string]string)
	for _, sku := range distinct(skus) {
		product, err := e.directory.ProductBySKU(ctx, sku)
		if err != nil {
			e.logger.Warn("product enrichment lookup failed, keeping snapshot",
				zap.String("sku", sku),
				zap.Error(err))
			continue
		}
		titles[sku] = product.Title
	}
	return titles
}

func distinct(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, value := range values {
		if value == "" {
			continue
		}
		if _, ok := seen[value]; ok {
			continue
		}
		seen[value] = struct{}{}
		out = append(out, value)
	}
	return out
}
