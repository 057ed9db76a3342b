package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/vendaflow/fulfillment/internal/domain"
	"github.com/vendaflow/fulfillment/internal/gateway"
	"github.com/vendaflow/fulfillment/internal/platform/httpx"
	"github.com/vendaflow/fulfillment/internal/services"
)

var validDeliveryStatuses = map[domain.DeliveryStatus]struct{}{
	domain.DeliveryStatusProcessing: {},
	domain.DeliveryStatusShipped:    {},
	domain.DeliveryStatusCanceled:   {},
}

// DeliveryHandlers exposes the fulfillment endpoints.
type DeliveryHandlers struct {
	deliveries services.DeliveryService
}

// NewDeliveryHandlers constructs a new DeliveryHandlers instance.
func NewDeliveryHandlers(deliveries services.DeliveryService) *DeliveryHandlers {
	return &DeliveryHandlers{deliveries: deliveries}
}

// Routes registers the /deliveries endpoints.
func (h *DeliveryHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/", h.listDeliveries)
	r.Delete("/canceled", h.purgeCanceled)
	r.Get("/{deliveryID}", h.getDelivery)
	r.Patch("/{deliveryID}/ship", h.shipDelivery)
	r.Patch("/{deliveryID}/cancel", h.cancelDelivery)
	r.Delete("/{deliveryID}", h.deleteDelivery)
}

func (h *DeliveryHandlers) listDeliveries(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.deliveries == nil {
		httpx.WriteError(ctx, w, httpx.NewError("delivery_service_unavailable", "delivery service unavailable", http.StatusServiceUnavailable))
		return
	}

	window, ok := parseListWindow(ctx, w, r)
	if !ok {
		return
	}

	query := services.DeliveryListQuery{
		CreatedAfter:  window.after,
		CreatedBefore: window.before,
		Pagination:    window.pagination,
	}
	if raw := strings.TrimSpace(r.URL.Query().Get("status")); raw != "" {
		status := domain.DeliveryStatus(strings.ToUpper(raw))
		if _, ok := validDeliveryStatuses[status]; !ok {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "status must be PROCESSING, SHIPPED, or CANCELED", http.StatusBadRequest))
			return
		}
		query.Status = &status
	}

	page, err := h.deliveries.List(ctx, query)
	if err != nil {
		writeDeliveryError(ctx, w, err)
		return
	}

	items := make([]deliveryPayload, 0, len(page.Items))
	for _, delivery := range page.Items {
		items = append(items, buildDeliveryPayload(delivery))
	}
	writeJSONResponse(w, http.StatusOK, deliveryListResponse{
		Items:         items,
		NextPageToken: strings.TrimSpace(page.NextPageToken),
	})
}

func (h *DeliveryHandlers) getDelivery(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.deliveries == nil {
		httpx.WriteError(ctx, w, httpx.NewError("delivery_service_unavailable", "delivery service unavailable", http.StatusServiceUnavailable))
		return
	}

	deliveryID := strings.TrimSpace(chi.URLParam(r, "deliveryID"))
	if deliveryID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "delivery id is required", http.StatusBadRequest))
		return
	}

	delivery, err := h.deliveries.Get(ctx, deliveryID)
	if err != nil {
		writeDeliveryError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, deliveryResponse{Delivery: buildDeliveryPayload(delivery)})
}

func (h *DeliveryHandlers) shipDelivery(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.deliveries == nil {
		httpx.WriteError(ctx, w, httpx.NewError("delivery_service_unavailable", "delivery service unavailable", http.StatusServiceUnavailable))
		return
	}

	deliveryID := strings.TrimSpace(chi.URLParam(r, "deliveryID"))
	if deliveryID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "delivery id is required", http.StatusBadRequest))
		return
	}

	delivery, err := h.deliveries.MarkShipped(ctx, deliveryID)
	if err != nil {
		writeDeliveryError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, deliveryResponse{Delivery: buildDeliveryPayload(delivery)})
}

func (h *DeliveryHandlers) cancelDelivery(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.deliveries == nil {
		httpx.WriteError(ctx, w, httpx.NewError("delivery_service_unavailable", "delivery service unavailable", http.StatusServiceUnavailable))
		return
	}

	deliveryID := strings.TrimSpace(chi.URLParam(r, "deliveryID"))
	if deliveryID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "delivery id is required", http.StatusBadRequest))
		return
	}

	result, err := h.deliveries.Cancel(ctx, deliveryID)
	if err != nil {
		writeDeliveryError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, cancelDeliveryResponse{
		Delivery:       buildDeliveryPayload(result.Delivery),
		ProductMissing: result.ProductMissing,
		Message:        result.Message,
	})
}

func (h *DeliveryHandlers) deleteDelivery(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.deliveries == nil {
		httpx.WriteError(ctx, w, httpx.NewError("delivery_service_unavailable", "delivery service unavailable", http.StatusServiceUnavailable))
		return
	}

	deliveryID := strings.TrimSpace(chi.URLParam(r, "deliveryID"))
	if deliveryID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "delivery id is required", http.StatusBadRequest))
		return
	}

	if err := h.deliveries.Delete(ctx, deliveryID); err != nil {
		writeDeliveryError(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *DeliveryHandlers) purgeCanceled(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.deliveries == nil {
		httpx.WriteError(ctx, w, httpx.NewError("delivery_service_unavailable", "delivery service unavailable", http.StatusServiceUnavailable))
		return
	}

	deleted, err := h.deliveries.PurgeCanceled(ctx)
	if err != nil {
		writeDeliveryError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]any{"deleted": deleted})
}

type deliveryListResponse struct {
	Items         []deliveryPayload `json:"items"`
	NextPageToken string            `json:"next_page_token,omitempty"`
}

type deliveryResponse struct {
	Delivery deliveryPayload `json:"delivery"`
}

type cancelDeliveryResponse struct {
	Delivery       deliveryPayload `json:"delivery"`
	ProductMissing bool            `json:"product_missing,omitempty"`
	Message        string          `json:"message"`
}

type deliveryPayload struct {
	ID           string  `json:"id"`
	SKU          string  `json:"sku"`
	ProductTitle string  `json:"product_title"`
	CPF          string  `json:"cpf"`
	CustomerName string  `json:"customer_name"`
	Price        float64 `json:"price"`
	Quantity     int     `json:"quantity"`
	Total        float64 `json:"total"`
	Status       string  `json:"status"`
	CreatedAt    string  `json:"created_at"`
	UpdatedAt    string  `json:"updated_at,omitempty"`
}

func buildDeliveryPayload(delivery domain.Delivery) deliveryPayload {
	payload := deliveryPayload{
		ID:           delivery.ID,
		SKU:          delivery.SKU,
		ProductTitle: delivery.ProductTitle,
		CPF:          delivery.CPF,
		CustomerName: delivery.CustomerName,
		Price:        decimalAmount(delivery.UnitPrice),
		Quantity:     delivery.Quantity,
		Total:        decimalAmount(delivery.Total),
		Status:       string(delivery.Status),
		CreatedAt:    delivery.CreatedAt.UTC().Format(time.RFC3339),
	}
	if !delivery.UpdatedAt.IsZero() {
		payload.UpdatedAt = delivery.UpdatedAt.UTC().Format(time.RFC3339)
	}
	return payload
}

func writeDeliveryError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	if connErr, ok := gateway.IsConnectionError(err); ok {
		httpx.WriteError(ctx, w, httpx.NewError("service_unavailable",
			fmt.Sprintf("%s service unavailable", connErr.Service), http.StatusServiceUnavailable))
		return
	}
	switch {
	case errors.Is(err, services.ErrDeliveryInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrDeliveryNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("delivery_not_found", "delivery not found", http.StatusNotFound))
	case errors.Is(err, services.ErrNoCanceledDeliveries):
		httpx.WriteError(ctx, w, httpx.NewError("no_canceled_deliveries", "no canceled deliveries to delete", http.StatusNotFound))
	case errors.Is(err, gateway.ErrProductNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("product_not_found", "product not found", http.StatusNotFound))
	case errors.Is(err, services.ErrDeliveryAlreadyShipped):
		httpx.WriteError(ctx, w, httpx.NewError("delivery_already_shipped", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrDeliveryAlreadyCanceled):
		httpx.WriteError(ctx, w, httpx.NewError("delivery_already_canceled", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrDeliveryUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("delivery_service_unavailable", "delivery backend unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("delivery_error", "failed to process delivery request", http.StatusInternalServerError))
	}
}
