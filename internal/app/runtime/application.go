// Package runtime builds the tip server from configuration and manages the
// HTTP server lifecycle.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	app "github.com/R3E-Network/tip_settlement/internal/app"
	"github.com/R3E-Network/tip_settlement/internal/app/events"
	"github.com/R3E-Network/tip_settlement/internal/app/httpapi"
	"github.com/R3E-Network/tip_settlement/internal/app/processor"
	"github.com/R3E-Network/tip_settlement/internal/app/services/notify"
	"github.com/R3E-Network/tip_settlement/internal/app/storage/postgres"
	"github.com/R3E-Network/tip_settlement/internal/config"
	"github.com/R3E-Network/tip_settlement/internal/logging"
	"github.com/R3E-Network/tip_settlement/internal/middleware"
	"github.com/R3E-Network/tip_settlement/internal/platform/migrations"
)

const serviceName = "tip-settlement"

// rateLimitExempt are paths callers outside the app hit on their own schedule.
var rateLimitExempt = []string{"/webhooks/", "/healthz", "/metrics"}

// Application wires core dependencies and manages the HTTP server lifecycle.
type Application struct {
	cfg       *config.Config
	log       *logging.Logger
	core      *app.Application
	limiter   *middleware.RateLimiter
	handler   http.Handler
	server    *http.Server
	db        *sqlx.DB
	redis     *redis.Client
	publisher events.Publisher
}

// NewApplication loads configuration from the environment and builds the
// application.
func NewApplication(ctx context.Context) (*Application, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return Build(ctx, cfg, logging.New(serviceName, cfg.Logging))
}

// Build constructs the application from cfg. External systems are only
// dialled when configured; otherwise in-process stand-ins are used.
func Build(ctx context.Context, cfg *config.Config, log *logging.Logger) (*Application, error) {
	if cfg.Auth.JWTSecret == "" {
		return nil, errors.New("JWT_SECRET is required")
	}
	a := &Application{cfg: cfg, log: log, publisher: events.NoopPublisher{}}

	stores := app.Stores{}
	if cfg.Database.DSN != "" {
		db, err := openDatabase(ctx, cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("open database: %w", err)
		}
		a.db = db
		if cfg.Database.MigrateOnStart {
			if err := migrations.Up(cfg.Database.DSN); err != nil {
				a.closeResources()
				return nil, fmt.Errorf("migrate: %w", err)
			}
		}
		store := postgres.New(db)
		stores = app.Stores{Tips: store, Users: store, Devices: store}
	} else {
		log.WithContext(ctx).Warn("DATABASE_URL not set; using in-memory stores")
	}

	deps := app.Dependencies{}
	if cfg.Redis.Addr != "" {
		a.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := a.redis.Ping(ctx).Err(); err != nil {
			a.closeResources()
			return nil, fmt.Errorf("redis ping: %w", err)
		}
		deps.Broker = notify.NewRedisBroker(a.redis, log)
	}

	if len(cfg.Kafka.Brokers) > 0 {
		publisher, err := events.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		if err != nil {
			a.closeResources()
			return nil, err
		}
		a.publisher = publisher
		deps.Publisher = publisher
	}

	if cfg.MockProcessor() {
		log.WithContext(ctx).Warn("STRIPE_MODE=mock; charges are simulated")
		deps.Processor = processor.NewMockClient()
	} else {
		deps.Processor = processor.NewStripeClient(cfg.Stripe, log)
	}

	core, err := app.New(cfg, stores, deps, log)
	if err != nil {
		a.closeResources()
		return nil, err
	}
	a.core = core

	a.limiter = middleware.NewRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst, log, rateLimitExempt...)
	a.handler = httpapi.NewRouter(core, httpapi.Options{
		WebhookSecret: cfg.Stripe.WebhookSecret,
		Auth:          middleware.NewAuthMiddleware(cfg.Auth.JWTSecret, cfg.Auth.Issuer, log, httpapi.PublicPaths),
		RateLimiter:   a.limiter,
		CORS:          middleware.NewCORSMiddleware(cfg.Server.AllowedOrigins),
		Health:        a.health,
		Log:           log,
	})
	a.server = &http.Server{
		Addr:              net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port)),
		Handler:           a.handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
	}
	return a, nil
}

// Handler returns the fully wrapped HTTP handler.
func (a *Application) Handler() http.Handler {
	return a.handler
}

// Run starts background services and the HTTP server and blocks until ctx
// is cancelled or the server fails.
func (a *Application) Run(ctx context.Context) error {
	if err := a.core.Start(ctx); err != nil {
		return fmt.Errorf("start services: %w", err)
	}
	a.limiter.StartCleanup(ctx, time.Minute)

	errCh := make(chan error, 1)
	go func() {
		a.log.WithContext(ctx).WithField("addr", a.server.Addr).Info("HTTP server listening")
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		return err
	}
}

// Shutdown drains the HTTP server, stops background services and closes
// external connections.
func (a *Application) Shutdown(ctx context.Context) error {
	timeout := a.cfg.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var errs []error
	if err := a.server.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}
	if err := a.core.Stop(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("stop services: %w", err))
	}
	a.closeResources()
	return errors.Join(errs...)
}

func (a *Application) closeResources() {
	if a.publisher != nil {
		if err := a.publisher.Close(); err != nil {
			a.log.WithContext(context.Background()).WithError(err).Warn("error closing event publisher")
		}
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.log.WithContext(context.Background()).WithError(err).Warn("error closing redis client")
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.log.WithContext(context.Background()).WithError(err).Warn("error closing database connection")
		}
	}
}

func (a *Application) health(ctx context.Context) error {
	if a.db != nil {
		if err := a.db.PingContext(ctx); err != nil {
			return fmt.Errorf("database: %w", err)
		}
	}
	if a.redis != nil {
		if err := a.redis.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
	}
	return nil
}

func openDatabase(ctx context.Context, cfg config.DatabaseConfig) (*sqlx.DB, error) {
	driver := cfg.Driver
	if driver == "" {
		driver = "postgres"
	}
	db, err := sqlx.Open(driver, cfg.DSN)
	if err != nil {
		return nil, err
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetime) * time.Second)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}
