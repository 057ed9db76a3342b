package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/vendaflow/fulfillment/internal/domain"
)

type staticTokens struct {
	header      string
	err         error
	invalidated atomic.Int64
}

func (s *staticTokens) AuthorizationHeader(context.Context) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	return s.header, nil
}

func (s *staticTokens) Invalidate() {
	s.invalidated.Add(1)
}

func newTestDirectory(t *testing.T, customerURL, productURL string, timeout time.Duration) (*HTTPDirectory, *staticTokens) {
	t.Helper()
	tokens := &staticTokens{header: "Bearer test-token"}
	dir, err := NewHTTPDirectory(HTTPDirectoryDeps{
		CustomerBaseURL: customerURL,
		ProductBaseURL:  productURL,
		Tokens:          tokens,
		Timeout:         timeout,
	})
	if err != nil {
		t.Fatalf("NewHTTPDirectory returned error: %v", err)
	}
	return dir, tokens
}

func TestCustomerByCPFSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/customers/cpf/07021050070" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-token" {
			t.Errorf("missing token header, got %q", got)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"id":   "cus_1",
			"cpf":  "07021050070",
			"name": "John Doe",
		})
	}))
	defer server.Close()

	dir, _ := newTestDirectory(t, server.URL, server.URL, time.Second)

	customer, err := dir.CustomerByCPF(context.Background(), "07021050070")
	if err != nil {
		t.Fatalf("CustomerByCPF returned error: %v", err)
	}
	if customer.Name != "John Doe" {
		t.Fatalf("unexpected customer name %q", customer.Name)
	}
}

func TestCustomerByCPFNotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	dir, _ := newTestDirectory(t, server.URL, server.URL, time.Second)

	_, err := dir.CustomerByCPF(context.Background(), "00000000000")
	if !errors.Is(err, ErrCustomerNotFound) {
		t.Fatalf("expected ErrCustomerNotFound, got %v", err)
	}
}

func TestProductBySKUConvertsPriceToCents(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/products/sku/MOUSE-2024-WL-0010" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"id":       "prd_1",
			"sku":      "MOUSE-2024-WL-0010",
			"title":    "Wireless Mouse",
			"price":    29.99,
			"quantity": 10,
			"status":   "ACTIVE",
		})
	}))
	defer server.Close()

	dir, _ := newTestDirectory(t, server.URL, server.URL, time.Second)

	product, err := dir.ProductBySKU(context.Background(), "MOUSE-2024-WL-0010")
	if err != nil {
		t.Fatalf("ProductBySKU returned error: %v", err)
	}
	if product.UnitPrice != 2999 {
		t.Fatalf("expected price 2999 cents, got %d", product.UnitPrice)
	}
	if product.AvailableQuantity != 10 {
		t.Fatalf("unexpected available quantity %d", product.AvailableQuantity)
	}
	if product.Status != domain.ProductStatusActive {
		t.Fatalf("unexpected status %s", product.Status)
	}
}

func TestProductServiceDownTranslatesToConnectionError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	dir, _ := newTestDirectory(t, server.URL, server.URL, time.Second)

	_, err := dir.ProductBySKU(context.Background(), "MOUSE-2024-WL-0010")
	connErr, ok := IsConnectionError(err)
	if !ok {
		t.Fatalf("expected ConnectionError, got %v", err)
	}
	if connErr.Service != "products" {
		t.Fatalf("expected products service, got %s", connErr.Service)
	}
}

func TestTimeoutTranslatesToConnectionError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer server.Close()

	dir, _ := newTestDirectory(t, server.URL, server.URL, 20*time.Millisecond)

	err := dir.DecreaseStock(context.Background(), "MOUSE-2024-WL-0010", 1)
	connErr, ok := IsConnectionError(err)
	if !ok {
		t.Fatalf("expected ConnectionError on timeout, got %v", err)
	}
	if connErr.Service != "products" {
		t.Fatalf("expected products service, got %s", connErr.Service)
	}
}

func TestUnexpectedStatusTranslatesToUnknownRemote(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	dir, _ := newTestDirectory(t, server.URL, server.URL, time.Second)

	err := dir.IncreaseStock(context.Background(), "MOUSE-2024-WL-0010", 1)
	if !errors.Is(err, ErrUnknownRemote) {
		t.Fatalf("expected ErrUnknownRemote, got %v", err)
	}
}

func TestUnauthorizedInvalidatesTokenAndRetriesOnce(t *testing.T) {
	var requests atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	dir, tokens := newTestDirectory(t, server.URL, server.URL, time.Second)

	err := dir.CheckAvailability(context.Background(), "MOUSE-2024-WL-0010")
	if !errors.Is(err, ErrUnknownRemote) {
		t.Fatalf("expected ErrUnknownRemote, got %v", err)
	}
	if got := tokens.invalidated.Load(); got != 1 {
		t.Fatalf("expected one token invalidation, got %d", got)
	}
	if got := requests.Load(); got != 2 {
		t.Fatalf("expected exactly one retry, got %d requests", got)
	}
}

func TestUnauthorizedRetrySucceedsWithFreshToken(t *testing.T) {
	var requests atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if requests.Add(1) == 1 {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"id":   "cus_1",
			"cpf":  "07021050070",
			"name": "John Doe",
		})
	}))
	defer server.Close()

	dir, tokens := newTestDirectory(t, server.URL, server.URL, time.Second)

	customer, err := dir.CustomerByCPF(context.Background(), "07021050070")
	if err != nil {
		t.Fatalf("CustomerByCPF returned error: %v", err)
	}
	if customer.Name != "John Doe" {
		t.Fatalf("unexpected customer name %q", customer.Name)
	}
	if got := tokens.invalidated.Load(); got != 1 {
		t.Fatalf("expected one token invalidation, got %d", got)
	}
}

func TestCustomerByCPFReadsSlowlyFlushedBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		if flusher, ok := w.(http.Flusher); ok {
			flusher.Flush()
		}
		time.Sleep(150 * time.Millisecond)
		json.NewEncoder(w).Encode(map[string]any{
			"id":   "cus_1",
			"cpf":  "07021050070",
			"name": "John Doe",
		})
	}))
	defer server.Close()

	dir, _ := newTestDirectory(t, server.URL, server.URL, time.Second)

	customer, err := dir.CustomerByCPF(context.Background(), "07021050070")
	if err != nil {
		t.Fatalf("CustomerByCPF returned error: %v", err)
	}
	if customer.Name != "John Doe" {
		t.Fatalf("unexpected customer name %q", customer.Name)
	}
}

func TestTokenFailureTranslatesToAuthConnectionError(t *testing.T) {
	tokens := &staticTokens{err: errors.New("token endpoint down")}
	dir, err := NewHTTPDirectory(HTTPDirectoryDeps{
		CustomerBaseURL: "http://customers.local",
		ProductBaseURL:  "http://products.local",
		Tokens:          tokens,
	})
	if err != nil {
		t.Fatalf("NewHTTPDirectory returned error: %v", err)
	}

	_, err = dir.CustomerByCPF(context.Background(), "07021050070")
	connErr, ok := IsConnectionError(err)
	if !ok {
		t.Fatalf("expected ConnectionError, got %v", err)
	}
	if connErr.Service != "auth" {
		t.Fatalf("expected auth service, got %s", connErr.Service)
	}
}

func TestStockMutationUsesPatch(t *testing.T) {
	var method atomic.Value
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method.Store(r.Method)
		if r.URL.Path != "/products/sku/MOUSE-2024-WL-0010/sub/10" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	dir, _ := newTestDirectory(t, server.URL, server.URL, time.Second)

	if err := dir.DecreaseStock(context.Background(), "MOUSE-2024-WL-0010", 10); err != nil {
		t.Fatalf("DecreaseStock returned error: %v", err)
	}
	if got := method.Load(); got != http.MethodPatch {
		t.Fatalf("expected PATCH, got %v", got)
	}
}
