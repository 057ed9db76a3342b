package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func baseEnv() map[string]string {
	return map[string]string{
		"API_FIRESTORE_PROJECT_ID":        "vf-dev",
		"API_DIRECTORY_CUSTOMER_BASE_URL": "http://customers.local",
		"API_DIRECTORY_PRODUCT_BASE_URL":  "http://products.local",
	}
}

func TestLoadWithDefaults(t *testing.T) {
	cfg, err := Load(context.Background(), WithEnvMap(baseEnv()), WithoutSystemEnv(), WithEnvFile(""))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Server.Port != "8080" {
		t.Errorf("expected default port 8080, got %s", cfg.Server.Port)
	}
	if cfg.Server.ReadTimeout != 15*time.Second {
		t.Errorf("unexpected read timeout: %s", cfg.Server.ReadTimeout)
	}
	if cfg.PubSub.ProjectID != "vf-dev" {
		t.Errorf("expected pubsub project to default to firestore project, got %s", cfg.PubSub.ProjectID)
	}
	if cfg.PubSub.OrderTopic != defaultOrderTopic {
		t.Errorf("unexpected default order topic: %s", cfg.PubSub.OrderTopic)
	}
	if cfg.PubSub.Subscription != defaultDeliverySubscription {
		t.Errorf("unexpected default subscription: %s", cfg.PubSub.Subscription)
	}
	if cfg.PubSub.MaxOutstanding != defaultConsumerOutstanding {
		t.Errorf("unexpected default max outstanding: %d", cfg.PubSub.MaxOutstanding)
	}
	if cfg.Directory.Timeout != defaultDirectoryTimeout {
		t.Errorf("unexpected default directory timeout: %s", cfg.Directory.Timeout)
	}
	if cfg.Identity.Leeway != defaultTokenLeeway {
		t.Errorf("unexpected default token leeway: %s", cfg.Identity.Leeway)
	}
	if cfg.Pagination.DefaultPageSize != defaultPageSize {
		t.Errorf("unexpected default page size: %d", cfg.Pagination.DefaultPageSize)
	}
}

func TestLoadWithOverridesAndSecrets(t *testing.T) {
	env := baseEnv()
	env["API_SERVER_PORT"] = "9090"
	env["API_SERVER_IDLE_TIMEOUT"] = "2m"
	env["API_PUBSUB_PROJECT_ID"] = "vf-events"
	env["API_PUBSUB_ORDER_TOPIC"] = "orders-prod"
	env["API_PUBSUB_DELIVERY_SUBSCRIPTION"] = "orders-prod-delivery"
	env["API_PUBSUB_MAX_OUTSTANDING"] = "64"
	env["API_DIRECTORY_TIMEOUT"] = "8s"
	env["API_IDENTITY_BASE_URL"] = "https://auth.example.com"
	env["API_IDENTITY_REALM"] = "fulfillment"
	env["API_IDENTITY_CLIENT_ID"] = "orders-api"
	env["API_IDENTITY_CLIENT_SECRET"] = "secret://identity/client"
	env["API_IDENTITY_USERNAME"] = "svc-orders"
	env["API_IDENTITY_PASSWORD"] = "secret://identity/password"

	secrets := map[string]string{
		"secret://identity/client":   "client-secret",
		"secret://identity/password": "svc-password",
	}

	resolver := SecretResolverFunc(func(_ context.Context, ref string) (string, error) {
		if v, ok := secrets[ref]; ok {
			return v, nil
		}
		return "", &SecretError{Ref: ref, Err: errSecretResolverNotConfigured}
	})

	cfg, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""), WithSecretResolver(resolver))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Server.Port != "9090" {
		t.Errorf("expected port 9090, got %s", cfg.Server.Port)
	}
	if cfg.Server.IdleTimeout != 2*time.Minute {
		t.Errorf("unexpected idle timeout: %s", cfg.Server.IdleTimeout)
	}
	if cfg.PubSub.ProjectID != "vf-events" {
		t.Errorf("unexpected pubsub project %s", cfg.PubSub.ProjectID)
	}
	if cfg.PubSub.OrderTopic != "orders-prod" {
		t.Errorf("unexpected order topic %s", cfg.PubSub.OrderTopic)
	}
	if cfg.PubSub.MaxOutstanding != 64 {
		t.Errorf("unexpected max outstanding %d", cfg.PubSub.MaxOutstanding)
	}
	if cfg.Directory.Timeout != 8*time.Second {
		t.Errorf("unexpected directory timeout %s", cfg.Directory.Timeout)
	}
	if cfg.Identity.ClientSecret != "client-secret" {
		t.Errorf("expected resolved client secret, got %s", cfg.Identity.ClientSecret)
	}
	if cfg.Identity.Password != "svc-password" {
		t.Errorf("expected resolved password, got %s", cfg.Identity.Password)
	}
}

func TestLoadDotEnvFallback(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env.test")
	content := "API_SERVER_PORT=7070\nAPI_FIRESTORE_PROJECT_ID=vf-dot\nAPI_DIRECTORY_CUSTOMER_BASE_URL=http://customers.dot\nAPI_DIRECTORY_PRODUCT_BASE_URL=http://products.dot\n"
	if err := os.WriteFile(envPath, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write dotenv file: %v", err)
	}

	cfg, err := Load(context.Background(), WithEnvFile(envPath), WithoutSystemEnv())
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Server.Port != "7070" {
		t.Errorf("expected port from dotenv 7070, got %s", cfg.Server.Port)
	}
	if cfg.Firestore.ProjectID != "vf-dot" {
		t.Errorf("expected firestore project from dotenv, got %s", cfg.Firestore.ProjectID)
	}
}

func TestLoadMissingRequired(t *testing.T) {
	_, err := Load(context.Background(), WithEnvMap(map[string]string{}), WithoutSystemEnv(), WithEnvFile(""))
	if err == nil {
		t.Fatal("expected validation error, got nil")
	}
	if _, ok := err.(*ValidationError); !ok {
		t.Fatalf("expected ValidationError, got %T", err)
	}
}

func TestLoadSecretResolverError(t *testing.T) {
	env := baseEnv()
	env["API_IDENTITY_CLIENT_SECRET"] = "secret://missing"

	_, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))
	if err == nil {
		t.Fatal("expected secret resolution error, got nil")
	}
	var secretErr *SecretError
	if !errors.As(err, &secretErr) {
		t.Fatalf("expected SecretError, got %T", err)
	}
	if secretErr.Ref != "secret://missing" {
		t.Errorf("unexpected secret ref %s", secretErr.Ref)
	}
}

func TestLoadMissingRequiredSecrets(t *testing.T) {
	_, err := Load(context.Background(),
		WithEnvMap(baseEnv()),
		WithoutSystemEnv(),
		WithEnvFile(""),
		WithRequiredSecrets("Identity.ClientSecret"),
	)
	if err == nil {
		t.Fatal("expected missing secrets error, got nil")
	}
	var missing *MissingSecretsError
	if !errors.As(err, &missing) {
		t.Fatalf("expected MissingSecretsError, got %T", err)
	}
	if got := missing.Names(); len(got) != 1 || got[0] != "Identity.ClientSecret" {
		t.Fatalf("unexpected missing secrets %v", got)
	}
}

func TestLoadSupportsLegacySecretScheme(t *testing.T) {
	env := baseEnv()
	env["API_IDENTITY_PASSWORD"] = "sm://identity/password"

	secrets := map[string]string{
		"secret://identity/password": "legacy-secret",
	}

	resolver := SecretResolverFunc(func(_ context.Context, ref string) (string, error) {
		if v, ok := secrets[ref]; ok {
			return v, nil
		}
		return "", &SecretError{Ref: ref, Err: errors.New("not found")}
	})

	cfg, err := Load(context.Background(),
		WithEnvMap(env),
		WithoutSystemEnv(),
		WithEnvFile(""),
		WithSecretResolver(resolver),
	)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Identity.Password != "legacy-secret" {
		t.Fatalf("expected legacy secret, got %s", cfg.Identity.Password)
	}
}
