package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	"go.uber.org/zap"

	"github.com/vendaflow/fulfillment/internal/gateway"
	"github.com/vendaflow/fulfillment/internal/handlers"
	"github.com/vendaflow/fulfillment/internal/messaging"
	"github.com/vendaflow/fulfillment/internal/platform/auth"
	"github.com/vendaflow/fulfillment/internal/platform/config"
	pfirestore "github.com/vendaflow/fulfillment/internal/platform/firestore"
	"github.com/vendaflow/fulfillment/internal/platform/observability"
	"github.com/vendaflow/fulfillment/internal/platform/secrets"
	"github.com/vendaflow/fulfillment/internal/repositories"
	firestorerepo "github.com/vendaflow/fulfillment/internal/repositories/firestore"
	"github.com/vendaflow/fulfillment/internal/services"
)

func main() {
	baseLogger, err := observability.NewLogger()
	if err != nil {
		panic(err)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()
	logger := baseLogger.Named("api")

	ctx := observability.WithLogger(context.Background(), logger)

	fetcher, err := secrets.NewFetcher(ctx, secrets.WithLogger(logger.Named("secrets")))
	if err != nil {
		logger.Fatal("failed to initialise secret fetcher", zap.Error(err))
	}
	defer func() {
		if err := fetcher.Close(); err != nil {
			logger.Warn("secret fetcher close error", zap.Error(err))
		}
	}()

	cfg, err := config.Load(ctx,
		config.WithSecretResolver(config.SecretResolverFunc(fetcher.Resolve)),
	)
	if err != nil {
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	firestoreProvider := pfirestore.NewProvider(cfg.Firestore)
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := firestoreProvider.Close(closeCtx); err != nil {
			logger.Warn("firestore close error", zap.Error(err))
		}
	}()

	registry, err := firestorerepo.NewRegistry(firestoreProvider)
	if err != nil {
		logger.Fatal("failed to initialise repositories", zap.Error(err))
	}

	credential := loadServiceCredential(ctx, logger, cfg, registry.Credentials())

	tokenCache, err := auth.NewTokenCache(cfg.Identity.BaseURL, credential,
		auth.WithTokenLogger(observability.NewPrintfAdapter(logger.Named("auth"))),
		auth.WithTokenLeeway(cfg.Identity.Leeway),
		auth.WithTokenTimeout(cfg.Identity.Timeout),
	)
	if err != nil {
		logger.Fatal("failed to initialise token cache", zap.Error(err))
	}

	directory, err := gateway.NewHTTPDirectory(gateway.HTTPDirectoryDeps{
		CustomerBaseURL: cfg.Directory.CustomerBaseURL,
		ProductBaseURL:  cfg.Directory.ProductBaseURL,
		Tokens:          tokenCache,
		Timeout:         cfg.Directory.Timeout,
		Logger:          logger.Named("gateway"),
	})
	if err != nil {
		logger.Fatal("failed to initialise directory gateway", zap.Error(err))
	}

	if host := cfg.PubSub.EmulatorHost; host != "" {
		if err := os.Setenv("PUBSUB_EMULATOR_HOST", host); err != nil {
			logger.Fatal("failed to point pubsub at emulator", zap.Error(err))
		}
	}
	pubsubClient, err := pubsub.NewClient(ctx, cfg.PubSub.ProjectID)
	if err != nil {
		logger.Fatal("failed to initialise pubsub client", zap.Error(err))
	}
	defer func() {
		if err := pubsubClient.Close(); err != nil {
			logger.Warn("pubsub close error", zap.Error(err))
		}
	}()

	publisher, err := messaging.NewOrderEventPublisher(pubsubClient.Topic(cfg.PubSub.OrderTopic))
	if err != nil {
		logger.Fatal("failed to initialise order event publisher", zap.Error(err))
	}
	defer publisher.Stop()

	enricher, err := services.NewDirectoryEnricher(directory, logger.Named("enrichment"))
	if err != nil {
		logger.Fatal("failed to initialise directory enricher", zap.Error(err))
	}

	orderService, err := services.NewOrderService(services.OrderServiceDeps{
		Repository: registry.Orders(),
		Directory:  directory,
		Events:     publisher,
		Enricher:   enricher,
		Logger:     logger.Named("orders"),
	})
	if err != nil {
		logger.Fatal("failed to initialise order service", zap.Error(err))
	}

	deliveryService, err := services.NewDeliveryService(services.DeliveryServiceDeps{
		Repository: registry.Deliveries(),
		Directory:  directory,
		Enricher:   enricher,
		Logger:     logger.Named("deliveries"),
	})
	if err != nil {
		logger.Fatal("failed to initialise delivery service", zap.Error(err))
	}

	consumer, err := messaging.NewOrderEventConsumer(
		pubsubClient.Subscription(cfg.PubSub.Subscription),
		deliveryService,
		messaging.WithConsumerLogger(logger.Named("consumer")),
		messaging.WithMaxOutstanding(cfg.PubSub.MaxOutstanding),
	)
	if err != nil {
		logger.Fatal("failed to initialise order event consumer", zap.Error(err))
	}

	consumerCtx, consumerCancel := context.WithCancel(ctx)
	var consumerWG sync.WaitGroup
	consumerWG.Add(1)
	go func() {
		defer consumerWG.Done()
		if err := consumer.Run(consumerCtx); err != nil {
			logger.Error("order event consumer stopped", zap.Error(err))
		}
	}()

	projectID := cfg.Firestore.ProjectID
	middlewares := []func(http.Handler) http.Handler{
		observability.InjectLoggerMiddleware(logger.Named("http")),
		observability.TraceMiddleware(projectID),
		observability.RecoveryMiddleware(logger.Named("http")),
		observability.RequestLoggerMiddleware(projectID),
	}

	healthHandlers := handlers.NewHealthHandlers(
		handlers.WithHealthReadiness(registry.Health()),
	)
	orderHandlers := handlers.NewOrderHandlers(orderService)
	deliveryHandlers := handlers.NewDeliveryHandlers(deliveryService)

	router := handlers.NewRouter(
		handlers.WithMiddlewares(middlewares...),
		handlers.WithHealthHandlers(healthHandlers),
		handlers.WithOrderRoutes(orderHandlers.Routes),
		handlers.WithDeliveryRoutes(deliveryHandlers.Routes),
	)

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	serverLogger := logger.Named("http").With(zap.String("addr", server.Addr))
	go func() {
		serverLogger.Info("fulfillment api listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverLogger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-shutdown
	logger.Info("shutdown signal received; draining requests")

	consumerCancel()
	consumerWG.Wait()
	publisher.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}

// loadServiceCredential prefers the stored credential record and falls back to
// the environment-provided values when the store has no entry for the client.
func loadServiceCredential(ctx context.Context, logger *zap.Logger, cfg config.Config, repo repositories.CredentialRepository) auth.Credential {
	fallback := auth.Credential{
		Realm:        cfg.Identity.Realm,
		ClientID:     cfg.Identity.ClientID,
		ClientSecret: cfg.Identity.ClientSecret,
		Username:     cfg.Identity.Username,
		Password:     cfg.Identity.Password,
	}

	lookupCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	stored, err := repo.FindByClientID(lookupCtx, cfg.Identity.ClientID)
	if err != nil {
		var repoErr repositories.RepositoryError
		if errors.As(err, &repoErr) && repoErr.IsNotFound() {
			logger.Info("no stored service credential; using environment credential",
				zap.String("client_id", cfg.Identity.ClientID))
		} else {
			logger.Warn("service credential lookup failed; using environment credential", zap.Error(err))
		}
		return fallback
	}

	return auth.Credential{
		Realm:        stored.Realm,
		ClientID:     stored.ClientID,
		ClientSecret: stored.ClientSecret,
		Username:     stored.Username,
		Password:     stored.Password,
	}
}
