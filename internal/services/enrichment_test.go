package services

import (
	"context"
	"sync/atomic"
	"testing"

	domain "github.com/vendaflow/fulfillment/internal/domain"
	"github.com/vendaflow/fulfillment/internal/gateway"
)

func TestEnrichOrdersFetchesEachDistinctKeyOnce(t *testing.T) {
	var customerCalls, productCalls atomic.Int64
	directory := &stubDirectory{
		customerFn: func(_ context.Context, cpf string) (domain.Customer, error) {
			customerCalls.Add(1)
			return domain.Customer{CPF: cpf, Name: "Fresh Name"}, nil
		},
		productFn: func(_ context.Context, sku string) (domain.Product, error) {
			productCalls.Add(1)
			return domain.Product{SKU: sku, Title: "Fresh Title"}, nil
		},
	}

	enricher, err := NewDirectoryEnricher(directory, nil)
	if err != nil {
		t.Fatalf("NewDirectoryEnricher: %v", err)
	}

	orders := []domain.Order{
		{ID: "ord_1", CPF: "07021050070", SKU: "SKU-1", CustomerName: "stale", ProductTitle: "stale"},
		{ID: "ord_2", CPF: "07021050070", SKU: "SKU-2", CustomerName: "stale", ProductTitle: "stale"},
		{ID: "ord_3", CPF: "07021050070", SKU: "SKU-1", CustomerName: "stale", ProductTitle: "stale"},
	}

	enriched := enricher.EnrichOrders(context.Background(), orders)

	if customerCalls.Load() != 1 {
		t.Fatalf("expected 1 customer lookup for 1 distinct cpf, got %d", customerCalls.Load())
	}
	if productCalls.Load() != 2 {
		t.Fatalf("expected 2 product lookups for 2 distinct skus, got %d", productCalls.Load())
	}
	for _, order := range enriched {
		if order.CustomerName != "Fresh Name" || order.ProductTitle != "Fresh Title" {
			t.Fatalf("expected refreshed fields, got %#v", order)
		}
	}
}

func TestEnrichDeliveriesKeepsSnapshotOnLookupFailure(t *testing.T) {
	directory := &stubDirectory{
		customerFn: func(context.Context, string) (domain.Customer, error) {
			return domain.Customer{}, &gateway.ConnectionError{Service: "customers"}
		},
		productFn: func(_ context.Context, sku string) (domain.Product, error) {
			return domain.Product{SKU: sku, Title: "Fresh Title"}, nil
		},
	}

	enricher, err := NewDirectoryEnricher(directory, nil)
	if err != nil {
		t.Fatalf("NewDirectoryEnricher: %v", err)
	}

	deliveries := []domain.Delivery{
		{ID: "ord_1", CPF: "07021050070", SKU: "SKU-1", CustomerName: "Snapshot Name", ProductTitle: "stale"},
	}

	enriched := enricher.EnrichDeliveries(context.Background(), deliveries)

	if enriched[0].CustomerName != "Snapshot Name" {
		t.Fatalf("expected snapshot name preserved, got %q", enriched[0].CustomerName)
	}
	if enriched[0].ProductTitle != "Fresh Title" {
		t.Fatalf("expected refreshed title, got %q", enriched[0].ProductTitle)
	}
}
