// Package app wires the storefront's dependencies and runs the service.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/nerochristian/robloxkeys/internal/cart"
	"github.com/nerochristian/robloxkeys/internal/checkout"
	"github.com/nerochristian/robloxkeys/internal/config"
	"github.com/nerochristian/robloxkeys/internal/event"
	"github.com/nerochristian/robloxkeys/internal/gateway"
	handler "github.com/nerochristian/robloxkeys/internal/handler/http"
	pgrepo "github.com/nerochristian/robloxkeys/internal/repository/postgres"
	redisrepo "github.com/nerochristian/robloxkeys/internal/repository/redis"
	"github.com/nerochristian/robloxkeys/pkg/database"
	"github.com/nerochristian/robloxkeys/pkg/health"
	pkgkafka "github.com/nerochristian/robloxkeys/pkg/kafka"
	"github.com/nerochristian/robloxkeys/pkg/middleware"
	"github.com/nerochristian/robloxkeys/pkg/tracing"
)

// App wires together all dependencies and runs the storefront service.
type App struct {
	cfg        *config.Config
	logger     *slog.Logger
	pool       *pgxpool.Pool
	rdb        *redis.Client
	producer   *pkgkafka.Producer
	httpServer *http.Server
	shutdownTr func(context.Context) error
}

// NewApp creates a new application instance, initializing all dependencies.
func NewApp(cfg *config.Config, logger *slog.Logger) (*App, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	shutdownTr, err := tracing.Init(ctx, tracing.Config{
		Enabled:     cfg.TracingEnabled,
		ServiceName: "storefront",
		Endpoint:    cfg.TracingEndpoint,
		SampleRatio: cfg.TracingSample,
	})
	if err != nil {
		return nil, fmt.Errorf("init tracing: %w", err)
	}

	pool, err := database.NewPostgresPool(ctx, cfg.Postgres)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if err := pgrepo.Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	logger.Info("connected to Postgres", slog.String("host", cfg.Postgres.Host))

	rdb, err := database.NewRedisClient(ctx, cfg.Redis)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	logger.Info("connected to Redis", slog.String("addr", cfg.Redis.Addr))

	producer := pkgkafka.NewProducer(pkgkafka.DefaultProducerConfig(cfg.KafkaBrokers), logger)
	logger.Info("kafka producer initialized", slog.Any("brokers", cfg.KafkaBrokers))

	// Stores.
	carts := redisrepo.NewCartRepository(rdb, cfg.CartTTL)
	sessions := redisrepo.NewSessionRepository(rdb, cfg.SessionTTL)
	catalog := redisrepo.NewCatalogRepository(rdb, cfg.CatalogTTL)
	pending := pgrepo.NewPendingPaymentRepository(pool)

	// Gateway client.
	gw := gateway.New(gateway.Config{
		BaseURL:    cfg.GatewayBaseURL,
		APIKey:     cfg.GatewayAPIKey,
		AuthHeader: cfg.GatewayAuthHeader,
		AuthScheme: cfg.GatewayAuthScheme,
		Timeout:    cfg.GatewayTimeout,
	}, logger)

	// Checkout flow.
	events := event.NewProducer(producer, logger)
	poller := checkout.NewPollerWithBudget(gw, cfg.CryptoPollDelay, cfg.CryptoPollMaxAttempts, logger)
	vault := checkout.NewVaultPresenter(cfg.VaultLaunchDuration, cfg.VaultRoutingDuration)
	machine := checkout.NewMachine(gw, poller, carts, sessions, pending, catalog, events, vault, checkout.Config{
		SuccessURL: cfg.CheckoutSuccessURL,
		CancelURL:  cfg.CheckoutCancelURL,
	}, logger)

	cartService := cart.NewService(carts, catalog, gw, logger)

	// Health checks.
	healthHandler := health.NewHandler()
	healthHandler.RegisterCritical("postgres", pool.Ping)
	healthHandler.RegisterCritical("redis", func(ctx context.Context) error {
		return rdb.Ping(ctx).Err()
	})
	healthHandler.RegisterNonCritical("gateway", gw.Ping)
	healthHandler.RegisterNonCritical("kafka", producer.Ping)

	corsCfg := middleware.DefaultCORSConfig()
	corsCfg.AllowedOrigins = cfg.CORSAllowedOrigins
	corsCfg.Environment = cfg.Environment

	router := handler.NewRouter(machine, cartService, sessions, healthHandler, corsCfg, logger)

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler: router,
		// Write timeout must outlast the crypto confirmation budget.
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 4 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	return &App{
		cfg:        cfg,
		logger:     logger,
		pool:       pool,
		rdb:        rdb,
		producer:   producer,
		httpServer: httpServer,
		shutdownTr: shutdownTr,
	}, nil
}

// Run starts the HTTP server and blocks until the context is canceled.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		a.logger.Info("starting HTTP server", slog.String("addr", a.httpServer.Addr))
		if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		a.logger.Info("shutdown signal received")
	case err := <-errCh:
		return err
	}

	return a.Shutdown()
}

// Shutdown gracefully stops all components.
func (a *App) Shutdown() error {
	a.logger.Info("shutting down application...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := a.httpServer.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("http server shutdown error", slog.String("error", err.Error()))
	}

	if err := a.producer.Close(); err != nil {
		a.logger.Error("kafka producer close error", slog.String("error", err.Error()))
	}

	if err := a.rdb.Close(); err != nil {
		a.logger.Error("redis close error", slog.String("error", err.Error()))
	}

	a.pool.Close()

	if err := a.shutdownTr(shutdownCtx); err != nil {
		a.logger.Error("tracer shutdown error", slog.String("error", err.Error()))
	}

	a.logger.Info("application shutdown complete")
	return nil
}
