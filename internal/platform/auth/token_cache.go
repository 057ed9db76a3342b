package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
)

var (
	// ErrTokenFetchFailed wraps transport or decoding errors while acquiring a token.
	ErrTokenFetchFailed = errors.New("auth: token fetch failed")
	// ErrTokenRejected is returned when the identity provider refuses the credential grant.
	ErrTokenRejected = errors.New("auth: token request rejected")
)

// Logger captures the minimal logging contract used by the auth package.
type Logger interface {
	Printf(format string, args ...any)
}

const (
	defaultTokenTimeout = 10 * time.Second
	defaultTokenLeeway  = 30 * time.Second
	fallbackTokenTTL    = 5 * time.Minute
)

// Credential holds the resource-owner-password grant inputs for a service account.
type Credential struct {
	Realm        string
	ClientID     string
	ClientSecret string
	Username     string
	Password     string
}

// TokenCache acquires bearer tokens via the password grant and caches them
// until shortly before expiry. A single in-flight refresh is shared by all
// callers, and an expiring token is prefetched in the background so request
// paths rarely block on the identity provider.
type TokenCache struct {
	baseURL    string
	credential Credential
	client     *http.Client
	logger     Logger
	now        func() time.Time

	leeway  time.Duration
	timeout time.Duration

	background bool

	mu        sync.RWMutex
	token     string
	tokenType string
	expiry    time.Time
	prefetch  time.Time

	refreshMu       sync.Mutex
	asyncRefreshing atomic.Bool
}

// TokenOption customises TokenCache behaviour.
type TokenOption func(*TokenCache)

// NewTokenCache constructs a token cache against the identity provider base URL.
func NewTokenCache(baseURL string, credential Credential, opts ...TokenOption) (*TokenCache, error) {
	trimmed := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if trimmed == "" {
		return nil, errors.New("auth: identity provider base url is required")
	}
	if strings.TrimSpace(credential.Realm) == "" {
		return nil, errors.New("auth: credential realm is required")
	}
	if strings.TrimSpace(credential.ClientID) == "" {
		return nil, errors.New("auth: credential client id is required")
	}

	cache := &TokenCache{
		baseURL:    trimmed,
		credential: credential,
		client:     &http.Client{Timeout: defaultTokenTimeout},
		logger:     log.Default(),
		now:        time.Now,
		leeway:     defaultTokenLeeway,
		timeout:    defaultTokenTimeout,
		background: true,
	}

	for _, opt := range opts {
		if opt != nil {
			opt(cache)
		}
	}

	return cache, nil
}

// WithTokenHTTPClient overrides the HTTP client used for token requests.
func WithTokenHTTPClient(client *http.Client) TokenOption {
	return func(c *TokenCache) {
		if client != nil {
			c.client = client
		}
	}
}

// WithTokenLogger sets a custom logger for token operations.
func WithTokenLogger(logger Logger) TokenOption {
	return func(c *TokenCache) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithTokenLeeway sets how long before expiry a cached token is considered stale.
func WithTokenLeeway(d time.Duration) TokenOption {
	return func(c *TokenCache) {
		if d > 0 {
			c.leeway = d
		}
	}
}

// WithTokenTimeout sets the timeout applied to token requests.
func WithTokenTimeout(d time.Duration) TokenOption {
	return func(c *TokenCache) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithTokenClock injects a custom time source (useful for tests).
func WithTokenClock(now func() time.Time) TokenOption {
	return func(c *TokenCache) {
		if now != nil {
			c.now = now
		}
	}
}

// WithoutTokenBackgroundRefresh disables background prefetching.
func WithoutTokenBackgroundRefresh() TokenOption {
	return func(c *TokenCache) {
		c.background = false
	}
}

// AuthorizationHeader returns a ready-to-use "<type> <token>" value,
// refreshing the cached token when it is absent or about to expire. The type
// comes from the grant response, defaulting to Bearer when the provider omits
// it.
func (c *TokenCache) AuthorizationHeader(ctx context.Context) (string, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	now := c.now()
	if header, ok := c.cachedHeader(now); ok {
		if c.shouldPrefetch(now) {
			c.scheduleRefresh()
		}
		return header, nil
	}

	if err := c.refresh(ctx); err != nil {
		return "", err
	}

	header, ok := c.cachedHeader(c.now())
	if !ok {
		return "", fmt.Errorf("%w: token expired immediately after refresh", ErrTokenFetchFailed)
	}
	return header, nil
}

// Invalidate drops the cached token so the next call fetches a fresh one.
// Callers use it after a downstream 401 to recover from early revocation.
func (c *TokenCache) Invalidate() {
	c.mu.Lock()
	c.token = ""
	c.tokenType = ""
	c.expiry = time.Time{}
	c.prefetch = time.Time{}
	c.mu.Unlock()
}

func (c *TokenCache) cachedHeader(now time.Time) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.token == "" {
		return "", false
	}
	if !now.Before(c.expiry.Add(-c.leeway)) {
		return "", false
	}
	return c.tokenType + " " + c.token, true
}

func (c *TokenCache) shouldPrefetch(now time.Time) bool {
	if !c.background {
		return false
	}
	c.mu.RLock()
	prefetch := c.prefetch
	expiry := c.expiry
	c.mu.RUnlock()
	if prefetch.IsZero() || expiry.IsZero() {
		return false
	}
	if now.After(expiry) {
		return false
	}
	return !now.Before(prefetch)
}

func (c *TokenCache) scheduleRefresh() {
	if !c.background {
		return
	}
	if !c.asyncRefreshing.CompareAndSwap(false, true) {
		return
	}

	go func() {
		defer c.asyncRefreshing.Store(false)
		if err := c.refresh(context.Background()); err != nil && c.logger != nil {
			c.logger.Printf("auth: background token refresh failed: %v", err)
		}
	}()
}

func (c *TokenCache) refresh(ctx context.Context) error {
	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()

	// Another caller may have refreshed while we waited for the lock.
	if _, ok := c.cachedHeader(c.now()); ok {
		return nil
	}

	if ctx == nil {
		ctx = context.Background()
	}
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	form := url.Values{}
	form.Set("grant_type", "password")
	form.Set("client_id", c.credential.ClientID)
	if c.credential.ClientSecret != "" {
		form.Set("client_secret", c.credential.ClientSecret)
	}
	form.Set("username", c.credential.Username)
	form.Set("password", c.credential.Password)

	endpoint := fmt.Sprintf("%s/realms/%s/protocol/openid-connect/token", c.baseURL, url.PathEscape(c.credential.Realm))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTokenFetchFailed, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTokenFetchFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusBadRequest {
		return fmt.Errorf("%w: status %d", ErrTokenRejected, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: unexpected status %d", ErrTokenFetchFailed, resp.StatusCode)
	}

	var grant struct {
		AccessToken string `json:"access_token"`
		TokenType   string `json:"token_type"`
		ExpiresIn   int64  `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&grant); err != nil {
		return fmt.Errorf("%w: decode response: %v", ErrTokenFetchFailed, err)
	}
	if strings.TrimSpace(grant.AccessToken) == "" {
		return fmt.Errorf("%w: empty access token", ErrTokenFetchFailed)
	}

	now := c.now()
	expiry := now.Add(fallbackTokenTTL)
	if grant.ExpiresIn > 0 {
		expiry = now.Add(time.Duration(grant.ExpiresIn) * time.Second)
	} else if exp, ok := tokenExpiry(grant.AccessToken); ok {
		expiry = exp
	}

	tokenType := strings.TrimSpace(grant.TokenType)
	if tokenType == "" {
		tokenType = "Bearer"
	}

	validity := expiry.Sub(now)
	prefetch := now.Add(validity / 2)

	c.mu.Lock()
	c.token = grant.AccessToken
	c.tokenType = tokenType
	c.expiry = expiry
	c.prefetch = prefetch
	c.mu.Unlock()

	if c.logger != nil {
		c.logger.Printf("auth: refreshed service token (valid for %s)", validity.Round(time.Second))
	}

	return nil
}

// tokenExpiry extracts the exp claim without verifying the signature. The
// token was just issued over TLS by the provider we asked, so the claim is
// only used for cache scheduling.
func tokenExpiry(token string) (time.Time, bool) {
	claims := jwt.MapClaims{}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		return time.Time{}, false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}
