package messaging

import (
	"math"
	"strings"
	"time"

	domain "github.com/vendaflow/fulfillment/internal/domain"
)

// OrderEvent is the wire payload published when an order is handed off to
// fulfillment. Monetary values travel as decimal units to match the contract
// of the downstream consumers.
type OrderEvent struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	CPF      string    `json:"cpf"`
	Title    string    `json:"title"`
	SKU      string    `json:"sku"`
	Price    float64   `json:"price"`
	Quantity int       `json:"quantity"`
	Total    float64   `json:"total"`
	Date     time.Time `json:"date"`
}

// NewOrderEvent snapshots the order into its wire representation.
func NewOrderEvent(order domain.Order, at time.Time) OrderEvent {
	return OrderEvent{
		ID:       order.ID,
		Name:     order.CustomerName,
		CPF:      order.CPF,
		Title:    order.ProductTitle,
		SKU:      order.SKU,
		Price:    decimalFromCents(order.UnitPrice),
		Quantity: order.Quantity,
		Total:    decimalFromCents(order.Total),
		Date:     at.UTC(),
	}
}

// Delivery converts the event into the fulfillment record it seeds. The
// record starts in PROCESSING and is keyed by the order id so redeliveries
// land on the same document.
func (e OrderEvent) Delivery(now time.Time) domain.Delivery {
	return domain.Delivery{
		ID:           strings.TrimSpace(e.ID),
		SKU:          strings.TrimSpace(e.SKU),
		ProductTitle: e.Title,
		CPF:          strings.TrimSpace(e.CPF),
		CustomerName: e.Name,
		UnitPrice:    centsFromDecimal(e.Price),
		Quantity:     e.Quantity,
		Total:        centsFromDecimal(e.Total),
		Status:       domain.DeliveryStatusProcessing,
		CreatedAt:    now.UTC(),
		UpdatedAt:    now.UTC(),
	}
}

func decimalFromCents(cents int64) float64 {
	return float64(cents) / 100
}

func centsFromDecimal(value float64) int64 {
	return int64(math.Round(value * 100))
}
