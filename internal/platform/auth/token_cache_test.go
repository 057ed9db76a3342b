package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
)

func testCredential() Credential {
	return Credential{
		Realm:        "fulfillment",
		ClientID:     "orders-api",
		ClientSecret: "client-secret",
		Username:     "svc-orders",
		Password:     "svc-password",
	}
}

func TestAuthorizationHeaderCachesToken(t *testing.T) {
	var calls atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.URL.Path != "/realms/fulfillment/protocol/openid-connect/token" {
			t.Errorf("unexpected token path %s", r.URL.Path)
		}
		if err := r.ParseForm(); err != nil {
			t.Fatalf("parse form: %v", err)
		}
		if got := r.PostForm.Get("grant_type"); got != "password" {
			t.Errorf("expected password grant, got %s", got)
		}
		if got := r.PostForm.Get("username"); got != "svc-orders" {
			t.Errorf("unexpected username %s", got)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"access_token": "token-1",
			"token_type":   "Bearer",
			"expires_in":   300,
		})
	}))
	defer server.Close()

	cache, err := NewTokenCache(server.URL, testCredential(), WithoutTokenBackgroundRefresh())
	if err != nil {
		t.Fatalf("NewTokenCache returned error: %v", err)
	}

	header, err := cache.AuthorizationHeader(context.Background())
	if err != nil {
		t.Fatalf("AuthorizationHeader returned error: %v", err)
	}
	if header != "Bearer token-1" {
		t.Fatalf("unexpected header %q", header)
	}

	if _, err := cache.AuthorizationHeader(context.Background()); err != nil {
		t.Fatalf("second AuthorizationHeader returned error: %v", err)
	}
	if got := calls.Load(); got != 1 {
		t.Fatalf("expected one token request, got %d", got)
	}
}

func TestAuthorizationHeaderUsesGrantTokenType(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"access_token": "token-1",
			"token_type":   "DPoP",
			"expires_in":   300,
		})
	}))
	defer server.Close()

	cache, err := NewTokenCache(server.URL, testCredential(), WithoutTokenBackgroundRefresh())
	if err != nil {
		t.Fatalf("NewTokenCache returned error: %v", err)
	}

	header, err := cache.AuthorizationHeader(context.Background())
	if err != nil {
		t.Fatalf("AuthorizationHeader returned error: %v", err)
	}
	if header != "DPoP token-1" {
		t.Fatalf("unexpected header %q", header)
	}
}

func TestAuthorizationHeaderDefaultsToBearerType(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"access_token": "token-1",
			"expires_in":   300,
		})
	}))
	defer server.Close()

	cache, err := NewTokenCache(server.URL, testCredential(), WithoutTokenBackgroundRefresh())
	if err != nil {
		t.Fatalf("NewTokenCache returned error: %v", err)
	}

	header, err := cache.AuthorizationHeader(context.Background())
	if err != nil {
		t.Fatalf("AuthorizationHeader returned error: %v", err)
	}
	if header != "Bearer token-1" {
		t.Fatalf("unexpected header %q", header)
	}
}

func TestAuthorizationHeaderRefreshesExpiredToken(t *testing.T) {
	var calls atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		token := "token-1"
		if n > 1 {
			token = "token-2"
		}
		json.NewEncoder(w).Encode(map[string]any{
			"access_token": token,
			"token_type":   "Bearer",
			"expires_in":   60,
		})
	}))
	defer server.Close()

	now := time.Date(2025, time.March, 10, 9, 0, 0, 0, time.UTC)
	cache, err := NewTokenCache(server.URL, testCredential(),
		WithoutTokenBackgroundRefresh(),
		WithTokenClock(func() time.Time { return now }),
	)
	if err != nil {
		t.Fatalf("NewTokenCache returned error: %v", err)
	}

	header, err := cache.AuthorizationHeader(context.Background())
	if err != nil {
		t.Fatalf("AuthorizationHeader returned error: %v", err)
	}
	if header != "Bearer token-1" {
		t.Fatalf("unexpected header %q", header)
	}

	now = now.Add(2 * time.Minute)

	header, err = cache.AuthorizationHeader(context.Background())
	if err != nil {
		t.Fatalf("AuthorizationHeader after expiry returned error: %v", err)
	}
	if header != "Bearer token-2" {
		t.Fatalf("expected refreshed token, got %q", header)
	}
	if got := calls.Load(); got != 2 {
		t.Fatalf("expected two token requests, got %d", got)
	}
}

func TestInvalidateForcesRefetch(t *testing.T) {
	var calls atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		json.NewEncoder(w).Encode(map[string]any{
			"access_token": "token-1",
			"token_type":   "Bearer",
			"expires_in":   300,
		})
	}))
	defer server.Close()

	cache, err := NewTokenCache(server.URL, testCredential(), WithoutTokenBackgroundRefresh())
	if err != nil {
		t.Fatalf("NewTokenCache returned error: %v", err)
	}

	if _, err := cache.AuthorizationHeader(context.Background()); err != nil {
		t.Fatalf("AuthorizationHeader returned error: %v", err)
	}

	cache.Invalidate()

	if _, err := cache.AuthorizationHeader(context.Background()); err != nil {
		t.Fatalf("AuthorizationHeader after invalidate returned error: %v", err)
	}
	if got := calls.Load(); got != 2 {
		t.Fatalf("expected refetch after invalidate, got %d requests", got)
	}
}

func TestAuthorizationHeaderRejectedCredentials(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	cache, err := NewTokenCache(server.URL, testCredential(), WithoutTokenBackgroundRefresh())
	if err != nil {
		t.Fatalf("NewTokenCache returned error: %v", err)
	}

	_, err = cache.AuthorizationHeader(context.Background())
	if !errors.Is(err, ErrTokenRejected) {
		t.Fatalf("expected ErrTokenRejected, got %v", err)
	}
}

func TestAuthorizationHeaderUsesExpClaimWhenExpiresInMissing(t *testing.T) {
	exp := time.Now().Add(10 * time.Minute)
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"exp": exp.Unix(),
		"sub": "svc-orders",
	}).SignedString([]byte("test-key"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}

	var calls atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		json.NewEncoder(w).Encode(map[string]any{
			"access_token": signed,
			"token_type":   "Bearer",
		})
	}))
	defer server.Close()

	cache, err := NewTokenCache(server.URL, testCredential(), WithoutTokenBackgroundRefresh())
	if err != nil {
		t.Fatalf("NewTokenCache returned error: %v", err)
	}

	if _, err := cache.AuthorizationHeader(context.Background()); err != nil {
		t.Fatalf("AuthorizationHeader returned error: %v", err)
	}
	if _, err := cache.AuthorizationHeader(context.Background()); err != nil {
		t.Fatalf("second AuthorizationHeader returned error: %v", err)
	}
	if got := calls.Load(); got != 1 {
		t.Fatalf("expected cached token from exp claim, got %d requests", got)
	}
}
