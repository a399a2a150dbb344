package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	goredis "github.com/redis/go-redis/v9"

	"github.com/altenburg/erp-identity/internal/auth"
	"github.com/altenburg/erp-identity/internal/config"
	"github.com/altenburg/erp-identity/internal/event"
	handler "github.com/altenburg/erp-identity/internal/handler/http"
	"github.com/altenburg/erp-identity/internal/repository/postgres"
	"github.com/altenburg/erp-identity/internal/repository/redis"
	"github.com/altenburg/erp-identity/internal/service"
	"github.com/altenburg/erp-identity/migrations"
	"github.com/altenburg/erp-identity/pkg/database"
	"github.com/altenburg/erp-identity/pkg/health"
	pkgkafka "github.com/altenburg/erp-identity/pkg/kafka"
	"github.com/altenburg/erp-identity/pkg/middleware"
	"github.com/altenburg/erp-identity/pkg/tracing"
)

const serviceVersion = "0.1.0"

// App wires together all dependencies and runs the identity service.
type App struct {
	cfg            *config.Config
	logger         *slog.Logger
	pool           *pgxpool.Pool
	redis          *goredis.Client
	producer       *pkgkafka.Producer
	limiter        *middleware.RateLimiter
	httpServer     *http.Server
	tracerShutdown tracing.ShutdownFunc
}

// NewApp creates a new application instance, initializing all dependencies.
// Components opened before a failure are closed again.
func NewApp(cfg *config.Config, logger *slog.Logger) (_ *App, err error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	a := &App{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			a.closeResources()
		}
	}()

	// Initialize OpenTelemetry tracing.
	a.tracerShutdown, err = tracing.Init(ctx, tracing.Config{
		ServiceName:    "erp-identity",
		ServiceVersion: serviceVersion,
		Environment:    cfg.Environment,
		Endpoint:       cfg.OTelEndpoint,
		SampleRatio:    cfg.OTelSampleRatio,
	})
	if err != nil {
		return nil, fmt.Errorf("init tracer: %w", err)
	}

	// Initialize PostgreSQL connection pool.
	a.pool, err = database.NewPostgresPool(ctx, cfg.DatabaseURL, database.DefaultPoolOptions(), logger)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	logger.Info("connected to PostgreSQL")
	if err := database.RegisterPoolMetrics(prometheus.DefaultRegisterer, a.pool); err != nil {
		logger.Warn("pool metrics not registered", slog.String("error", err.Error()))
	}

	// Run database migrations.
	if err := database.RunMigrations(ctx, a.pool, migrations.FS, logger); err != nil {
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	logger.Info("database migrations completed")

	if cfg.SlowQueryThreshold > 0 {
		database.SetSlowQueryLogging(cfg.SlowQueryThreshold, logger)
	}

	// Initialize Redis for refresh-token revocation.
	a.redis, err = database.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	logger.Info("connected to Redis")

	// Initialize Kafka producer.
	a.producer = pkgkafka.NewProducer(pkgkafka.ProducerConfig{Brokers: cfg.KafkaBrokers}, logger)
	logger.Info("kafka producer initialized", slog.Any("brokers", cfg.KafkaBrokers))

	// Build the dependency graph.
	hasher, err := auth.NewHasher(cfg.BcryptCost)
	if err != nil {
		return nil, fmt.Errorf("init password hasher: %w", err)
	}
	codec, err := auth.NewTokenCodec(auth.TokenConfig{
		Secret:     cfg.JWTSecret,
		Issuer:     cfg.JWTIssuer,
		AccessTTL:  cfg.AccessTokenTTL,
		RefreshTTL: cfg.RefreshTokenTTL,
	})
	if err != nil {
		return nil, fmt.Errorf("init token codec: %w", err)
	}

	userRepo := postgres.NewUserRepository(a.pool)
	roleRepo := postgres.NewRoleRepository(a.pool)
	revocations := redis.NewRevocationStore(a.redis)
	eventProducer := event.NewProducer(a.producer)

	guard := service.NewAccountGuard(userRepo, cfg.LockoutThreshold, eventProducer, logger)
	authService := service.NewAuthService(userRepo, roleRepo, revocations, hasher, codec, guard, eventProducer, logger)
	userService := service.NewUserService(userRepo, roleRepo, guard, eventProducer, logger)

	// Seed canonical roles and the first administrator.
	admin := service.DefaultAdminAccount()
	admin.Username = cfg.BootstrapAdminUsername
	admin.Email = cfg.BootstrapAdminEmail
	admin.Password = cfg.BootstrapAdminPassword
	if err := service.NewBootstrapper(userRepo, roleRepo, hasher, admin, logger).Run(ctx); err != nil {
		return nil, fmt.Errorf("bootstrap identity data: %w", err)
	}

	// Health checks.
	healthHandler := health.NewHandler()
	healthHandler.Register("postgres", func(ctx context.Context) error {
		return a.pool.Ping(ctx)
	})
	healthHandler.Register("redis", revocations.Ping)
	healthHandler.RegisterOptional("kafka", a.producer.Ping)

	// HTTP router.
	trustedProxies, err := middleware.ParseTrustedProxies(cfg.TrustedProxies)
	if err != nil {
		return nil, fmt.Errorf("parse trusted proxies: %w", err)
	}
	a.limiter = middleware.NewRateLimiter(cfg.LoginRateLimitRPS, cfg.LoginRateLimitBurst, logger,
		middleware.WithTrustedProxies(trustedProxies))
	router := handler.NewRouter(handler.RouterConfig{
		Auth:        authService,
		Users:       userService,
		Verifier:    handler.NewTokenVerifier(codec),
		Policy:      auth.DefaultPolicy(),
		Limiter:     a.limiter,
		Health:      healthHandler,
		CORSOrigins: cfg.CORSAllowedOrigins,
		Logger:      logger,
	})

	a.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           router,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return a, nil
}

// Run starts the HTTP server and blocks until the context is canceled.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		a.logger.Info("starting HTTP server",
			slog.String("addr", a.httpServer.Addr),
		)
		if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		a.logger.Info("shutdown signal received")
	case err := <-errCh:
		_ = a.Shutdown()
		return err
	}

	return a.Shutdown()
}

// Shutdown gracefully stops all components in the correct order:
// 1. HTTP server (drain in-flight requests)
// 2. Tracer (flush pending spans from drained requests)
// 3. Kafka producer
// 4. Redis client
// 5. PostgreSQL pool
func (a *App) Shutdown() error {
	a.logger.Info("shutting down application...")

	var errs []error

	// 1. Drain in-flight HTTP requests (5s budget).
	httpCtx, httpCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer httpCancel()
	if err := a.httpServer.Shutdown(httpCtx); err != nil {
		a.logger.Error("http server shutdown error", slog.String("error", err.Error()))
		errs = append(errs, err)
	}
	a.limiter.Stop()

	// 2. Flush pending spans after HTTP drain so in-flight request spans are captured.
	if a.tracerShutdown != nil {
		tracerCtx, tracerCancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer tracerCancel()
		if err := a.tracerShutdown(tracerCtx); err != nil {
			a.logger.Error("tracer shutdown error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
		a.tracerShutdown = nil
	}

	errs = append(errs, a.closeResources())

	a.logger.Info("application shutdown complete")
	return errors.Join(errs...)
}

// closeResources releases the backing stores. It tolerates components that
// were never opened.
func (a *App) closeResources() error {
	var errs []error

	if a.tracerShutdown != nil {
		if err := a.tracerShutdown(context.Background()); err != nil {
			errs = append(errs, err)
		}
		a.tracerShutdown = nil
	}
	if a.producer != nil {
		if err := a.producer.Close(); err != nil {
			a.logger.Error("kafka producer close error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
		a.producer = nil
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Error("redis close error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
		a.redis = nil
	}
	if a.pool != nil {
		a.pool.Close()
		a.pool = nil
	}
	return errors.Join(errs...)
}
