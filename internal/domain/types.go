package domain

import "time"

// DeliveryStatus enumerates the fulfillment lifecycle of a delivery record.
type DeliveryStatus string

const (
	DeliveryStatusProcessing DeliveryStatus = "PROCESSING"
	DeliveryStatusShipped    DeliveryStatus = "SHIPPED"
	DeliveryStatusCanceled   DeliveryStatus = "CANCELED"
)

// Terminal reports whether the status admits no further transitions.
func (s DeliveryStatus) Terminal() bool {
	return s == DeliveryStatusShipped || s == DeliveryStatusCanceled
}

// ProductStatus mirrors the lifecycle flag exposed by the remote product service.
type ProductStatus string

const (
	ProductStatusActive   ProductStatus = "active"
	ProductStatusInactive ProductStatus = "inactive"
)

// Order is a pending purchase awaiting stock reservation and hand-off.
// CustomerName and ProductTitle are snapshots taken at creation time; listing
// reads refresh them from the directory services.
type Order struct {
	ID           string
	SKU          string
	ProductTitle string
	CPF          string
	CustomerName string
	UnitPrice    int64
	Quantity     int
	Total        int64
	Processing   bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
	SentAt       *time.Time
}

// Delivery is the fulfillment-side record created once an order's stock has
// been reserved. Its identity is the originating order id.
type Delivery struct {
	ID           string
	SKU          string
	ProductTitle string
	CPF          string
	CustomerName string
	UnitPrice    int64
	Quantity     int
	Total        int64
	Status       DeliveryStatus
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Customer is the directory projection returned by the customer service.
type Customer struct {
	ID   string
	CPF  string
	Name string
}

// Product is the directory projection returned by the product service.
type Product struct {
	ID                string
	SKU               string
	Title             string
	UnitPrice         int64
	AvailableQuantity int
	Status            ProductStatus
}

// ServiceCredential holds the resource-owner-password grant inputs used for
// service-to-service token acquisition. Loaded once at startup, immutable
// afterwards.
type ServiceCredential struct {
	Realm        string
	ClientID     string
	ClientSecret string
	Username     string
	Password     string
}

// Pagination carries cursor-based page parameters through service filters.
type Pagination struct {
	PageSize  int
	PageToken string
}

// CursorPage wraps a single page of results with the continuation token.
type CursorPage[T any] struct {
	Items         []T
	NextPageToken string
}
