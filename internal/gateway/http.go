package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/vendaflow/fulfillment/internal/domain"
)

const (
	serviceCustomers = "customers"
	serviceProducts  = "products"
	serviceAuth      = "auth"

	defaultCallTimeout = 5 * time.Second
	maxRemoteBodySize  = 1 << 20
)

// HTTPDirectoryDeps describes the dependencies required by the HTTP directory adapter.
type HTTPDirectoryDeps struct {
	CustomerBaseURL string
	ProductBaseURL  string
	Tokens          TokenSource
	HTTPClient      *http.Client
	Timeout         time.Duration
	Logger          *zap.Logger
}

// HTTPDirectory implements Directory over plain HTTP with bounded per-call timeouts.
type HTTPDirectory struct {
	customerBase string
	productBase  string
	tokens       TokenSource
	client       *http.Client
	timeout      time.Duration
	logger       *zap.Logger
}

type tokenInvalidator interface {
	Invalidate()
}

// NewHTTPDirectory validates dependencies and returns an HTTP-backed Directory.
func NewHTTPDirectory(deps HTTPDirectoryDeps) (*HTTPDirectory, error) {
	customerBase := strings.TrimRight(strings.TrimSpace(deps.CustomerBaseURL), "/")
	if customerBase == "" {
		return nil, errors.New("gateway: customer base url is required")
	}
	productBase := strings.TrimRight(strings.TrimSpace(deps.ProductBaseURL), "/")
	if productBase == "" {
		return nil, errors.New("gateway: product base url is required")
	}
	if deps.Tokens == nil {
		return nil, errors.New("gateway: token source is required")
	}

	client := deps.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	timeout := deps.Timeout
	if timeout <= 0 {
		timeout = defaultCallTimeout
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &HTTPDirectory{
		customerBase: customerBase,
		productBase:  productBase,
		tokens:       deps.Tokens,
		client:       client,
		timeout:      timeout,
		logger:       logger,
	}, nil
}

type customerPayload struct {
	ID   string `json:"id"`
	CPF  string `json:"cpf"`
	Name string `json:"name"`
}

type productPayload struct {
	ID       string  `json:"id"`
	SKU      string  `json:"sku"`
	Title    string  `json:"title"`
	Price    float64 `json:"price"`
	Quantity int     `json:"quantity"`
	Status   string  `json:"status"`
}

// CustomerByCPF fetches the customer registered under the CPF.
func (d *HTTPDirectory) CustomerByCPF(ctx context.Context, cpf string) (domain.Customer, error) {
	endpoint := fmt.Sprintf("%s/customers/cpf/%s", d.customerBase, url.PathEscape(cpf))
	resp, err := d.call(ctx, serviceCustomers, http.MethodGet, endpoint)
	if err != nil {
		return domain.Customer{}, err
	}

	if err := d.classify(resp, serviceCustomers, ErrCustomerNotFound); err != nil {
		return domain.Customer{}, err
	}

	var payload customerPayload
	if err := json.Unmarshal(resp.body, &payload); err != nil {
		return domain.Customer{}, fmt.Errorf("%w: decode customer: %v", ErrUnknownRemote, err)
	}
	return domain.Customer{
		ID:   payload.ID,
		CPF:  payload.CPF,
		Name: payload.Name,
	}, nil
}

// ProductBySKU fetches the product registered under the SKU.
func (d *HTTPDirectory) ProductBySKU(ctx context.Context, sku string) (domain.Product, error) {
	endpoint := fmt.Sprintf("%s/products/sku/%s", d.productBase, url.PathEscape(sku))
	resp, err := d.call(ctx, serviceProducts, http.MethodGet, endpoint)
	if err != nil {
		return domain.Product{}, err
	}

	if err := d.classify(resp, serviceProducts, ErrProductNotFound); err != nil {
		return domain.Product{}, err
	}

	var payload productPayload
	if err := json.Unmarshal(resp.body, &payload); err != nil {
		return domain.Product{}, fmt.Errorf("%w: decode product: %v", ErrUnknownRemote, err)
	}
	return domain.Product{
		ID:                payload.ID,
		SKU:               payload.SKU,
		Title:             payload.Title,
		UnitPrice:         centsFromDecimal(payload.Price),
		AvailableQuantity: payload.Quantity,
		Status:            domain.ProductStatus(strings.ToLower(strings.TrimSpace(payload.Status))),
	}, nil
}

// DecreaseStock reserves quantity units of the product's stock.
func (d *HTTPDirectory) DecreaseStock(ctx context.Context, sku string, quantity int) error {
	endpoint := fmt.Sprintf("%s/products/sku/%s/sub/%d", d.productBase, url.PathEscape(sku), quantity)
	return d.mutateStock(ctx, endpoint)
}

// IncreaseStock restores quantity units of the product's stock.
func (d *HTTPDirectory) IncreaseStock(ctx context.Context, sku string, quantity int) error {
	endpoint := fmt.Sprintf("%s/products/sku/%s/add/%d", d.productBase, url.PathEscape(sku), quantity)
	return d.mutateStock(ctx, endpoint)
}

// CheckAvailability verifies the product service can currently serve the SKU.
func (d *HTTPDirectory) CheckAvailability(ctx context.Context, sku string) error {
	endpoint := fmt.Sprintf("%s/products/sku/%s/availability", d.productBase, url.PathEscape(sku))
	resp, err := d.call(ctx, serviceProducts, http.MethodGet, endpoint)
	if err != nil {
		return err
	}
	return d.classify(resp, serviceProducts, ErrProductNotFound)
}

func (d *HTTPDirectory) mutateStock(ctx context.Context, endpoint string) error {
	resp, err := d.call(ctx, serviceProducts, http.MethodPatch, endpoint)
	if err != nil {
		return err
	}
	return d.classify(resp, serviceProducts, ErrProductNotFound)
}

// remoteResponse is a fully drained remote reply. Draining happens inside the
// per-call deadline so decoding never races the context cancellation.
type remoteResponse struct {
	status int
	body   []byte
}

// call performs the request and retries once with a fresh token when the
// remote rejects the cached one.
func (d *HTTPDirectory) call(ctx context.Context, service, method, endpoint string) (remoteResponse, error) {
	resp, err := d.send(ctx, service, method, endpoint)
	if err != nil {
		return remoteResponse{}, err
	}
	if resp.status != http.StatusUnauthorized {
		return resp, nil
	}

	invalidator, ok := d.tokens.(tokenInvalidator)
	if !ok {
		return resp, nil
	}
	invalidator.Invalidate()
	d.logger.Warn("directory call rejected, retrying with fresh token", zap.String("service", service))
	return d.send(ctx, service, method, endpoint)
}

func (d *HTTPDirectory) send(ctx context.Context, service, method, endpoint string) (remoteResponse, error) {
	header, err := d.tokens.AuthorizationHeader(ctx)
	if err != nil {
		return remoteResponse{}, &ConnectionError{Service: serviceAuth, Err: err}
	}

	callCtx := ctx
	var cancel context.CancelFunc
	if d.timeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(callCtx, method, endpoint, nil)
	if err != nil {
		return remoteResponse{}, fmt.Errorf("%w: %v", ErrUnknownRemote, err)
	}
	req.Header.Set("Authorization", header)
	req.Header.Set("Accept", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		if isTimeout(err) {
			return remoteResponse{}, &ConnectionError{Service: service, Err: err}
		}
		return remoteResponse{}, fmt.Errorf("%w: %v", ErrUnknownRemote, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxRemoteBodySize))
	if err != nil {
		if isTimeout(err) {
			return remoteResponse{}, &ConnectionError{Service: service, Err: err}
		}
		return remoteResponse{}, fmt.Errorf("%w: read body: %v", ErrUnknownRemote, err)
	}
	return remoteResponse{status: resp.StatusCode, body: body}, nil
}

// classify translates the response status into the domain taxonomy.
func (d *HTTPDirectory) classify(resp remoteResponse, service string, notFound error) error {
	switch {
	case resp.status >= 200 && resp.status < 300:
		return nil
	case resp.status == http.StatusNotFound:
		return notFound
	case resp.status == http.StatusServiceUnavailable:
		return &ConnectionError{Service: service, Err: fmt.Errorf("status %d", resp.status)}
	default:
		return fmt.Errorf("%w: status %d", ErrUnknownRemote, resp.status)
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return urlErr.Timeout()
	}
	return false
}

func centsFromDecimal(value float64) int64 {
	return int64(math.Round(value * 100))
}
