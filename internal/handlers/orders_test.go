package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	domain "github.com/vendaflow/fulfillment/internal/domain"
	"github.com/vendaflow/fulfillment/internal/gateway"
	"github.com/vendaflow/fulfillment/internal/services"
)

type stubOrderService struct {
	createFn func(ctx context.Context, cmd services.CreateOrderCommand) (domain.Order, error)
	sendFn   func(ctx context.Context, orderID string) (services.SendOrderResult, error)
	getFn    func(ctx context.Context, orderID string) (domain.Order, error)
	listFn   func(ctx context.Context, query services.OrderListQuery) (domain.CursorPage[domain.Order], error)
	deleteFn func(ctx context.Context, orderID string) error
}

func (s *stubOrderService) Create(ctx context.Context, cmd services.CreateOrderCommand) (domain.Order, error) {
	if s.createFn != nil {
		return s.createFn(ctx, cmd)
	}
	return domain.Order{}, nil
}

func (s *stubOrderService) Send(ctx context.Context, orderID string) (services.SendOrderResult, error) {
	if s.sendFn != nil {
		return s.sendFn(ctx, orderID)
	}
	return services.SendOrderResult{}, nil
}

func (s *stubOrderService) Get(ctx context.Context, orderID string) (domain.Order, error) {
	if s.getFn != nil {
		return s.getFn(ctx, orderID)
	}
	return domain.Order{}, nil
}

func (s *stubOrderService) List(ctx context.Context, query services.OrderListQuery) (domain.CursorPage[domain.Order], error) {
	if s.listFn != nil {
		return s.listFn(ctx, query)
	}
	return domain.CursorPage[domain.Order]{}, nil
}

func (s *stubOrderService) Delete(ctx context.Context, orderID string) error {
	if s.deleteFn != nil {
		return s.deleteFn(ctx, orderID)
	}
	return nil
}

func newOrderRouter(svc services.OrderService) http.Handler {
	return NewRouter(WithOrderRoutes(NewOrderHandlers(svc).Routes))
}

func TestCreateOrderReturnsCreated(t *testing.T) {
	now := time.Date(2026, 2, 3, 12, 0, 0, 0, time.UTC)
	svc := &stubOrderService{
		createFn: func(_ context.Context, cmd services.CreateOrderCommand) (domain.Order, error) {
			if cmd.CPF != "07021050070" || cmd.SKU != "MOUSE-2024-WL-0010" || cmd.Quantity != 10 {
				t.Fatalf("unexpected command %#v", cmd)
			}
			return domain.Order{
				ID:           "ord_1",
				SKU:          cmd.SKU,
				ProductTitle: "Wireless Mouse",
				CPF:          cmd.CPF,
				CustomerName: "John Doe",
				UnitPrice:    2999,
				Quantity:     cmd.Quantity,
				Total:        29990,
				CreatedAt:    now,
				UpdatedAt:    now,
			}, nil
		},
	}

	body := `{"cpf":"07021050070","sku":"MOUSE-2024-WL-0010","quantity":10}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/orders/", strings.NewReader(body))
	rr := httptest.NewRecorder()

	newOrderRouter(svc).ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}

	var resp struct {
		Order struct {
			ID    string  `json:"id"`
			Total float64 `json:"total"`
		} `json:"order"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if resp.Order.ID != "ord_1" {
		t.Fatalf("expected order id ord_1, got %q", resp.Order.ID)
	}
	if resp.Order.Total != 299.90 {
		t.Fatalf("expected decimal total 299.90, got %v", resp.Order.Total)
	}
}

func TestCreateOrderRejectsInvalidJSON(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/orders/", strings.NewReader("{broken"))
	rr := httptest.NewRecorder()

	newOrderRouter(&stubOrderService{}).ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestOrderErrorStatusMapping(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"customer not found", gateway.ErrCustomerNotFound, http.StatusNotFound},
		{"product not found", gateway.ErrProductNotFound, http.StatusNotFound},
		{"order not found", services.ErrOrderNotFound, http.StatusNotFound},
		{"already sent", services.ErrOrderAlreadySent, http.StatusConflict},
		{"invalid quantity", services.ErrOrderInvalidInput, http.StatusBadRequest},
		{"inactive product", services.ErrProductUnavailable, http.StatusBadRequest},
		{"connection failure", &gateway.ConnectionError{Service: "products"}, http.StatusServiceUnavailable},
		{"unknown remote", gateway.ErrUnknownRemote, http.StatusInternalServerError},
	}

	for _, tc := range cases {
		svc := &stubOrderService{
			sendFn: func(context.Context, string) (services.SendOrderResult, error) {
				return services.SendOrderResult{}, tc.err
			},
		}
		req := httptest.NewRequest(http.MethodPost, "/api/v1/orders/ord_1/send", nil)
		rr := httptest.NewRecorder()

		newOrderRouter(svc).ServeHTTP(rr, req)

		if rr.Code != tc.want {
			t.Fatalf("%s: expected %d, got %d", tc.name, tc.want, rr.Code)
		}
	}
}

func TestSendOrderReturnsConfirmation(t *testing.T) {
	svc := &stubOrderService{
		sendFn: func(_ context.Context, orderID string) (services.SendOrderResult, error) {
			return services.SendOrderResult{
				Order:        domain.Order{ID: orderID, Processing: true},
				Confirmation: "order " + orderID + " sent to fulfillment",
			}, nil
		},
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/orders/ord_42/send", nil)
	rr := httptest.NewRecorder()

	newOrderRouter(svc).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var resp struct {
		Confirmation string `json:"confirmation"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if !strings.Contains(resp.Confirmation, "ord_42") {
		t.Fatalf("expected confirmation referencing order id, got %q", resp.Confirmation)
	}
}

func TestListOrdersParsesDateWindow(t *testing.T) {
	var captured services.OrderListQuery
	svc := &stubOrderService{
		listFn: func(_ context.Context, query services.OrderListQuery) (domain.CursorPage[domain.Order], error) {
			captured = query
			return domain.CursorPage[domain.Order]{}, nil
		},
	}

	req := httptest.NewRequest(http.MethodGet,
		"/api/v1/orders/?after_date=2026-01-01T00:00:00Z&before_date=2026-02-01T00:00:00Z&page_size=5", nil)
	rr := httptest.NewRecorder()

	newOrderRouter(svc).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if captured.CreatedAfter == nil || captured.CreatedBefore == nil {
		t.Fatal("expected both date bounds parsed")
	}
	if captured.Pagination.PageSize != 5 {
		t.Fatalf("expected page size 5, got %d", captured.Pagination.PageSize)
	}
}

func TestListOrdersRejectsBadTimestamp(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/v1/orders/?after_date=not-a-date", nil)
	rr := httptest.NewRecorder()

	newOrderRouter(&stubOrderService{}).ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestDeleteOrderReturnsNoContent(t *testing.T) {
	svc := &stubOrderService{
		deleteFn: func(_ context.Context, orderID string) error {
			if orderID != "ord_1" {
				t.Fatalf("expected ord_1, got %q", orderID)
			}
			return nil
		},
	}

	req := httptest.NewRequest(http.MethodDelete, "/api/v1/orders/ord_1", nil)
	rr := httptest.NewRecorder()

	newOrderRouter(svc).ServeHTTP(rr, req)

	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rr.Code)
	}
}
