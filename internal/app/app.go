// Package app wires configuration, storage, channels and HTTP into a
// running service.
package app

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bissquit/market-sentinel/api/openapi"
	"github.com/bissquit/market-sentinel/internal/alerts"
	alertspostgres "github.com/bissquit/market-sentinel/internal/alerts/postgres"
	"github.com/bissquit/market-sentinel/internal/config"
	"github.com/bissquit/market-sentinel/internal/domain"
	"github.com/bissquit/market-sentinel/internal/identity"
	"github.com/bissquit/market-sentinel/internal/notifications"
	"github.com/bissquit/market-sentinel/internal/notifications/email"
	"github.com/bissquit/market-sentinel/internal/notifications/eventsink"
	"github.com/bissquit/market-sentinel/internal/notifications/mattermost"
	notificationspostgres "github.com/bissquit/market-sentinel/internal/notifications/postgres"
	"github.com/bissquit/market-sentinel/internal/notifications/telegram"
	"github.com/bissquit/market-sentinel/internal/pkg/ctxlog"
	"github.com/bissquit/market-sentinel/internal/pkg/httputil"
	"github.com/bissquit/market-sentinel/internal/pkg/metrics"
	"github.com/bissquit/market-sentinel/internal/pkg/postgres"
	"github.com/bissquit/market-sentinel/internal/recipients"
	recipientspostgres "github.com/bissquit/market-sentinel/internal/recipients/postgres"
	"github.com/bissquit/market-sentinel/internal/version"
)

// App represents the application instance.
type App struct {
	config *config.Config
	logger *slog.Logger
	db     *pgxpool.Pool

	server        *http.Server
	metricsServer *http.Server

	queueRepo   *notificationspostgres.QueueRepository
	queue       *notifications.QueueService
	router      *notifications.Router
	worker      *notifications.Worker
	broadcaster *telegram.Broadcaster
	cleanup     *recipients.CleanupService
	sink        *eventsink.Sink

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New connects to the database and builds every component. Background
// work starts with Run.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	db, err := postgres.Connect(ctx, postgres.Config{
		URL:             cfg.Database.URL,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		ConnectAttempts: cfg.Database.ConnectAttempts,
	})
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	if cfg.Database.AutoMigrate {
		if err := postgres.Migrate(cfg.Database.URL); err != nil {
			db.Close()
			return nil, fmt.Errorf("migrate database: %w", err)
		}
	}

	a, err := NewWithPool(cfg, logger, db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return a, nil
}

// NewWithPool builds the application on an existing pool.
func NewWithPool(cfg *config.Config, logger *slog.Logger, db *pgxpool.Pool) (*App, error) {
	a := &App{
		config: cfg,
		logger: logger,
		db:     db,
	}

	if err := a.buildDelivery(); err != nil {
		return nil, err
	}

	identityService, err := a.buildIdentity()
	if err != nil {
		return nil, fmt.Errorf("create identity service: %w", err)
	}

	a.server = &http.Server{
		Addr:              net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port)),
		Handler:           a.setupRouter(identityService),
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       120 * time.Second,
	}

	if cfg.Server.MetricsPort > 0 {
		metricsRouter := chi.NewRouter()
		metricsRouter.Handle("/metrics", promhttp.Handler())
		a.metricsServer = &http.Server{
			Addr:              net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.MetricsPort)),
			Handler:           metricsRouter,
			ReadTimeout:       5 * time.Second,
			ReadHeaderTimeout: 2 * time.Second,
			WriteTimeout:      10 * time.Second,
			IdleTimeout:       60 * time.Second,
		}
	}

	registerCollector(metrics.NewDBPoolCollector(db))
	metrics.BuildInfo.WithLabelValues(version.Version, version.GitCommit).Set(1)

	return a, nil
}

func registerCollector(c prometheus.Collector) {
	if err := prometheus.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if !errors.As(err, &already) {
			slog.Warn("failed to register collector", "error", err)
		}
	}
}

// buildDelivery creates channel handlers, the router, the queue and the
// maintenance services.
func (a *App) buildDelivery() error {
	cfg := a.config

	telegramClient, err := telegram.NewClient(telegram.Config{
		Enabled:   cfg.Telegram.Enabled,
		BotToken:  cfg.Telegram.BotToken,
		RateLimit: cfg.Telegram.RateLimit,
		Timeout:   cfg.Telegram.Timeout,
		APIURL:    cfg.Telegram.APIURL,
	})
	if err != nil {
		return fmt.Errorf("create telegram client: %w", err)
	}
	if !cfg.Telegram.Enabled {
		a.logger.Warn("telegram is disabled: messenger notifications and broadcasts will not be sent")
	}

	emailHandler, err := email.NewHandler(email.Config{
		Enabled:      cfg.Email.Enabled,
		SMTPHost:     cfg.Email.SMTPHost,
		SMTPPort:     cfg.Email.SMTPPort,
		SMTPUser:     cfg.Email.SMTPUser,
		SMTPPassword: cfg.Email.SMTPPassword,
		FromAddress:  cfg.Email.FromAddress,
		DialTimeout:  cfg.Email.DialTimeout,
	})
	if err != nil {
		return fmt.Errorf("create email handler: %w", err)
	}

	webhookHandler := mattermost.NewHandler(mattermost.Config{
		Enabled:         cfg.Mattermost.Enabled,
		DefaultUsername: cfg.Mattermost.Username,
		DefaultIconURL:  cfg.Mattermost.IconURL,
		Timeout:         cfg.Mattermost.Timeout,
		RateLimit:       cfg.Mattermost.RateLimit,
	})

	prefsStore := notificationspostgres.NewPreferencesStore(a.db)
	a.router = notifications.NewRouter(notifications.RouterConfig{
		MaxAttempts:       cfg.Router.MaxAttempts,
		BackoffBase:       cfg.Queue.BackoffBase,
		BackoffMax:        cfg.Queue.BackoffMax,
		ContinueOnFailure: cfg.Router.ContinueOnFailure,
	}, notifications.WithPreferencesProvider(prefsStore))

	for _, h := range []notifications.ChannelHandler{
		telegram.NewHandler(telegramClient, cfg.Telegram.Enabled),
		emailHandler,
		webhookHandler,
	} {
		if err := a.router.Register(h); err != nil {
			return fmt.Errorf("register %s handler: %w", h.Channel(), err)
		}
	}

	if cfg.Events.Enabled {
		sinkConfig := eventsink.DefaultConfig()
		sinkConfig.Brokers = cfg.Events.Brokers
		sinkConfig.Topic = cfg.Events.Topic
		sinkConfig.BufferSize = cfg.Events.BufferSize
		a.sink = eventsink.New(sinkConfig, eventsink.NewWriter(sinkConfig))
		a.router.Subscribe(a.sink.Listener())
	}

	a.queueRepo = notificationspostgres.NewQueueRepository(a.db)
	a.queue = notifications.NewQueueService(a.queueRepo, notifications.QueueServiceConfig{
		OverloadThreshold: cfg.Queue.OverloadThreshold,
		MaxAttempts:       cfg.Queue.MaxAttempts,
	}, nil)
	a.worker = notifications.NewWorker(notifications.WorkerConfig{
		BatchSize:      cfg.Queue.BatchSize,
		PollInterval:   cfg.Queue.PollInterval,
		MaxConcurrency: cfg.Queue.MaxConcurrency,
		StuckTimeout:   cfg.Queue.StuckTimeout,
		BackoffBase:    cfg.Queue.BackoffBase,
		BackoffMax:     cfg.Queue.BackoffMax,
	}, a.queueRepo, a.router, nil)

	renderer, err := notifications.NewRenderer()
	if err != nil {
		return fmt.Errorf("create renderer: %w", err)
	}

	recipientStore := recipientspostgres.NewStore(a.db)
	alertStore := alertspostgres.NewStore(a.db)
	a.broadcaster = telegram.NewBroadcaster(recipientStore, alertStore, telegramClient, renderer, cfg.Broadcast.SendDelay)

	a.cleanup, err = recipients.NewCleanupService(recipientStore, recipients.CleanupConfig{
		Enabled:      cfg.Cleanup.Enabled,
		InactiveDays: cfg.Cleanup.InactiveDays,
		Interval:     cfg.Cleanup.Interval,
	}, nil)
	if err != nil {
		return fmt.Errorf("create cleanup service: %w", err)
	}

	return nil
}

// buildIdentity creates the token service. Without API keys no token can
// be issued, so a random secret is used when none is configured.
func (a *App) buildIdentity() (*identity.Service, error) {
	cfg := a.config.Auth

	keys := make([]identity.APIKey, 0, len(cfg.APIKeys))
	for _, k := range cfg.APIKeys {
		keys = append(keys, identity.APIKey{Name: k.Name, Hash: k.Hash, Role: domain.Role(k.Role)})
	}

	secret := cfg.JWTSecret
	if secret == "" {
		a.logger.Warn("no api keys configured: the admin api only serves health and version endpoints")
		buf := make([]byte, 32)
		if _, err := rand.Read(buf); err != nil {
			return nil, fmt.Errorf("generate jwt secret: %w", err)
		}
		secret = hex.EncodeToString(buf)
	}

	return identity.NewService(identity.Config{
		APIKeys:   keys,
		JWTSecret: secret,
		TokenTTL:  cfg.TokenTTL,
	})
}

func (a *App) setupRouter(identityService *identity.Service) *chi.Mux {
	r := chi.NewRouter()

	r.Use(httputil.MetricsMiddleware)
	if len(a.config.Server.CORSOrigins) > 0 {
		r.Use(httputil.CORSMiddleware(a.config.Server.CORSOrigins))
	}
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(httputil.RequestLoggerMiddleware(a.logger))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(a.config.Server.RequestTimeout))

	r.Get("/healthz", a.healthzHandler)
	r.Get("/readyz", a.readyzHandler)
	r.Get("/version", a.versionHandler)
	r.Get("/api/openapi.yaml", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/yaml")
		_, _ = w.Write(openapi.Spec)
	})

	identityHandler := identity.NewHandler(identityService)
	notificationsHandler := notifications.NewHandler(a.queue, a.router, notificationspostgres.NewPreferencesStore(a.db))
	recipientsHandler := recipients.NewHandler(recipientspostgres.NewStore(a.db), a.cleanup)
	alertsHandler := alerts.NewHandler(alertspostgres.NewStore(a.db), a.broadcaster)

	r.Route("/api/v1", func(r chi.Router) {
		identityHandler.RegisterRoutes(r)

		r.Group(func(r chi.Router) {
			r.Use(httputil.AuthMiddleware(identityService))
			identityHandler.RegisterProtectedRoutes(r)

			r.Group(func(r chi.Router) {
				r.Use(httputil.RequireRole(domain.RoleOperator))
				notificationsHandler.RegisterOperatorRoutes(r)
				recipientsHandler.RegisterOperatorRoutes(r)
				alertsHandler.RegisterOperatorRoutes(r)
			})

			r.Group(func(r chi.Router) {
				r.Use(httputil.RequireRole(domain.RoleAdmin))
				notificationsHandler.RegisterAdminRoutes(r)
				recipientsHandler.RegisterAdminRoutes(r)
			})
		})
	})

	return r
}

// Run starts background services and serves HTTP until Shutdown.
func (a *App) Run(ctx context.Context) error {
	ctx, a.cancel = context.WithCancel(ctx)
	a.StartBackground(ctx)

	if a.metricsServer != nil {
		go func() {
			a.logger.Info("starting metrics server", "addr", a.metricsServer.Addr)
			if err := a.metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.logger.Error("metrics server error", "error", err)
			}
		}()
	}

	a.logger.Info("starting server", "addr", a.server.Addr, "version", version.Version)
	if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// StartBackground starts the worker, the cleanup loop, the event sink and
// the queue maintenance loops.
func (a *App) StartBackground(ctx context.Context) {
	if a.sink != nil {
		a.sink.Start(ctx)
	}
	if a.config.Queue.WorkerEnabled {
		a.worker.Start(ctx)
	} else {
		a.logger.Warn("queue worker is disabled: queued notifications will not be delivered")
	}
	a.cleanup.Start(ctx)

	a.every(ctx, a.config.Queue.StatsInterval, a.collectQueueMetrics)
	a.every(ctx, time.Hour, a.purgeCompleted)
}

// every runs fn immediately and then on each tick until ctx is done.
func (a *App) every(ctx context.Context, interval time.Duration, fn func(context.Context)) {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		fn(ctx)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				fn(ctx)
			}
		}
	}()
}

func (a *App) collectQueueMetrics(ctx context.Context) {
	if _, err := a.queue.Stats(ctx); err != nil && ctx.Err() == nil {
		a.logger.Error("failed to get queue stats", "error", err)
	}
}

func (a *App) purgeCompleted(ctx context.Context) {
	cutoff := time.Now().Add(-a.config.Queue.Retention)
	n, err := a.queueRepo.PurgeCompleted(ctx, cutoff)
	if err != nil {
		if ctx.Err() == nil {
			a.logger.Error("failed to purge completed notifications", "error", err)
		}
		return
	}
	if n > 0 {
		a.logger.Info("purged completed notifications", "count", n, "older_than", cutoff)
	}
}

// Shutdown stops HTTP, background services and the pool in that order.
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("shutting down")

	var errs []error
	if err := a.server.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("shutdown server: %w", err))
	}
	if a.metricsServer != nil {
		if err := a.metricsServer.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown metrics server: %w", err))
		}
	}

	a.worker.Stop()
	a.cleanup.Stop()
	if a.cancel != nil {
		a.cancel()
	}
	a.wg.Wait()

	if a.sink != nil {
		if err := a.sink.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("stop event sink: %w", err))
		}
	}

	a.db.Close()
	return errors.Join(errs...)
}

// Close releases the pool of an app that was never run.
func (a *App) Close() {
	a.db.Close()
}

// Router returns the HTTP handler.
func (a *App) Router() http.Handler {
	return a.server.Handler
}

// Worker returns the queue worker.
func (a *App) Worker() *notifications.Worker {
	return a.worker
}

// Broadcaster returns the messenger broadcaster.
func (a *App) Broadcaster() *telegram.Broadcaster {
	return a.broadcaster
}

// Cleanup returns the recipient cleanup service.
func (a *App) Cleanup() *recipients.CleanupService {
	return a.cleanup
}

func (a *App) healthzHandler(w http.ResponseWriter, _ *http.Request) {
	httputil.Text(w, http.StatusOK, "OK")
}

func (a *App) readyzHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := a.db.Ping(ctx); err != nil {
		ctxlog.FromContext(r.Context()).Error("readiness check failed", "error", err)
		httputil.Text(w, http.StatusServiceUnavailable, "Database unavailable")
		return
	}

	overloaded, err := a.queue.Overloaded(ctx)
	if err != nil {
		ctxlog.FromContext(r.Context()).Error("readiness check failed", "error", err)
		httputil.Text(w, http.StatusServiceUnavailable, "Queue unavailable")
		return
	}
	if overloaded {
		httputil.Text(w, http.StatusServiceUnavailable, "Queue overloaded")
		return
	}

	httputil.Text(w, http.StatusOK, "OK")
}

func (a *App) versionHandler(w http.ResponseWriter, _ *http.Request) {
	httputil.JSON(w, http.StatusOK, version.Get())
}

// NewLogger builds the process logger from cfg.
func NewLogger(cfg config.LogConfig, w io.Writer) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}
