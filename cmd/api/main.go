package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/forgemarket/api/internal/handlers"
	"github.com/forgemarket/api/internal/payments"
	"github.com/forgemarket/api/internal/platform/auth"
	"github.com/forgemarket/api/internal/platform/config"
	"github.com/forgemarket/api/internal/platform/jobs"
	"github.com/forgemarket/api/internal/platform/observability"
	"github.com/forgemarket/api/internal/repositories/postgres"
	"github.com/forgemarket/api/internal/services"
)

func main() {
	ctx := context.Background()
	startedAt := time.Now().UTC()

	baseLogger, err := observability.NewLogger(os.Getenv("API_LOG_LEVEL"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()

	logger := baseLogger.Named("api")
	ctx = observability.WithLogger(ctx, logger)

	cfg, err := config.Load(ctx)
	if err != nil {
		var validation *config.ValidationError
		if errors.As(err, &validation) {
			logger.Fatal("invalid configuration", zap.Strings("fields", validation.Fields()))
		}
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	connectCtx, cancelConnect := context.WithTimeout(ctx, 10*time.Second)
	registry, err := postgres.NewProvider(connectCtx, postgres.Config{
		DSN:               cfg.Database.DSN,
		MaxConns:          cfg.Database.MaxConns,
		MinConns:          cfg.Database.MinConns,
		HealthCheckPeriod: 30 * time.Second,
	})
	cancelConnect()
	if err != nil {
		logger.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := registry.Close(closeCtx); err != nil {
			logger.Warn("postgres close error", zap.Error(err))
		}
	}()

	verifier, err := auth.NewFirebaseVerifier(ctx, cfg.Firebase)
	if err != nil {
		logger.Fatal("failed to initialise firebase verifier", zap.Error(err))
	}
	authenticator := auth.NewAuthenticator(verifier, auth.WithUserGetter(verifier))

	eventPublisher, pubsubClient, err := newOrderEventPublisher(ctx, cfg.PubSub)
	if err != nil {
		logger.Fatal("failed to initialise pub/sub publisher", zap.Error(err))
	}
	if pubsubClient != nil {
		defer func() {
			if err := pubsubClient.Close(); err != nil {
				logger.Warn("pubsub close error", zap.Error(err))
			}
		}()
	} else {
		logger.Info("order event publishing disabled; no pub/sub topic configured")
	}

	eventLogger := zapEventLogger(logger.Named("services"))

	paymentProvider, err := payments.NewStripeProvider(payments.StripeProviderConfig{
		APIKey:        cfg.PSP.StripeAPIKey,
		WebhookSecret: cfg.PSP.StripeWebhookSecret,
		Logger:        zapEventLogger(logger.Named("stripe")),
	})
	if err != nil {
		logger.Fatal("failed to initialise stripe provider", zap.Error(err))
	}

	auditService, err := services.NewAuditLogService(services.AuditLogServiceDeps{
		Repository: registry.AuditLogs(),
		Logger:     logger.Named("audit").Sugar(),
	})
	if err != nil {
		logger.Fatal("failed to initialise audit log service", zap.Error(err))
	}

	orderService, err := services.NewOrderService(services.OrderServiceDeps{
		Orders:     registry.Orders(),
		Products:   registry.Products(),
		Companies:  registry.Companies(),
		UnitOfWork: registry,
		Audit:      auditService,
		Events:     eventPublisher,
		Logger:     eventLogger,
	})
	if err != nil {
		logger.Fatal("failed to initialise order service", zap.Error(err))
	}

	paymentService, err := services.NewPaymentService(services.PaymentServiceDeps{
		Products:        registry.Products(),
		Orders:          registry.Orders(),
		Intents:         registry.PaymentIntents(),
		UnitOfWork:      registry,
		Provider:        paymentProvider,
		Audit:           auditService,
		PlatformFeeRate: cfg.Fees.PlatformRate,
		Events:          eventPublisher,
		Logger:          eventLogger,
	})
	if err != nil {
		logger.Fatal("failed to initialise payment service", zap.Error(err))
	}

	catalogService, err := services.NewCatalogService(services.CatalogServiceDeps{
		Products:  registry.Products(),
		Companies: registry.Companies(),
		Audit:     auditService,
	})
	if err != nil {
		logger.Fatal("failed to initialise catalog service", zap.Error(err))
	}

	messageService, err := services.NewMessageService(services.MessageServiceDeps{
		Messages:  registry.Messages(),
		Orders:    registry.Orders(),
		Companies: registry.Companies(),
	})
	if err != nil {
		logger.Fatal("failed to initialise message service", zap.Error(err))
	}

	productHandlers := handlers.NewProductHandlers(authenticator, catalogService)
	orderHandlers := handlers.NewOrderHandlers(authenticator, orderService, paymentService)
	messageHandlers := handlers.NewMessageHandlers(messageService)
	paymentHandlers := handlers.NewPaymentHandlers(authenticator, paymentService)
	webhookHandlers := handlers.NewWebhookHandlers(paymentService)

	healthHandlers := handlers.NewHealthHandlers(
		handlers.WithHealthStartedAt(startedAt),
		handlers.WithReadinessChecks(handlers.HealthCheck{
			Name:  "database",
			Probe: registry.Health().Ping,
		}),
	)

	middlewares := []func(http.Handler) http.Handler{
		observability.InjectLoggerMiddleware(logger.Named("http")),
		observability.TraceMiddleware(),
		observability.RecoveryMiddleware(logger.Named("http")),
		observability.RequestLoggerMiddleware(),
	}

	router := handlers.NewRouter(
		handlers.WithMiddlewares(middlewares...),
		handlers.WithHealthHandlers(healthHandlers),
		handlers.WithProductRoutes(productHandlers.Routes),
		handlers.WithOrderRoutes(func(r chi.Router) {
			orderHandlers.Routes(r)
			messageHandlers.Routes(r)
		}),
		handlers.WithPaymentRoutes(paymentHandlers.Routes),
		handlers.WithWebhookRoutes(webhookHandlers.Routes),
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
		serverLogger.Info("forgemarket api listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverLogger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-shutdown
	logger.Info("shutdown signal received; draining requests")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}

// newOrderEventPublisher connects to Pub/Sub when a topic is configured. The
// returned client is nil when publishing is disabled.
func newOrderEventPublisher(ctx context.Context, cfg config.PubSubConfig) (services.OrderEventPublisher, *pubsub.Client, error) {
	if cfg.ProjectID == "" || cfg.OrderEventTopic == "" {
		return nil, nil, nil
	}

	var clientOpts []option.ClientOption
	if cfg.CredentialsFile != "" {
		clientOpts = append(clientOpts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	client, err := pubsub.NewClient(ctx, cfg.ProjectID, clientOpts...)
	if err != nil {
		return nil, nil, fmt.Errorf("initialise pub/sub client: %w", err)
	}

	publisher, err := jobs.NewPubSubOrderEventPublisher(client.Topic(cfg.OrderEventTopic))
	if err != nil {
		_ = client.Close()
		return nil, nil, err
	}
	return publisher, client, nil
}

// zapEventLogger adapts a zap logger to the event/fields callback the services
// and the Stripe provider use for non-fatal diagnostics.
func zapEventLogger(logger *zap.Logger) func(ctx context.Context, event string, fields map[string]any) {
	return func(ctx context.Context, event string, fields map[string]any) {
		zapFields := make([]zap.Field, 0, len(fields))
		for key, value := range fields {
			zapFields = append(zapFields, zap.Any(key, value))
		}
		logger.Warn(event, zapFields...)
	}
}
