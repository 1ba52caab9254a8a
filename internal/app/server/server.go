package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"appraisal/internal/domain/appraisal"
	"appraisal/internal/domain/audit"
	"appraisal/internal/domain/auth"
	"appraisal/internal/domain/notifications"
	"appraisal/internal/platform/config"
	"appraisal/internal/platform/db"
	"appraisal/internal/platform/events"
	"appraisal/internal/platform/jobs"
	"appraisal/internal/platform/logging"
	"appraisal/internal/platform/metrics"
	"appraisal/internal/transport/http/api"
	appraisalhandler "appraisal/internal/transport/http/handlers/appraisal"
	audithandler "appraisal/internal/transport/http/handlers/audit"
	notificationshandler "appraisal/internal/transport/http/handlers/notifications"
	"appraisal/internal/transport/http/middleware"
)

type App struct {
	Config  config.Config
	Logger  *zap.Logger
	DB      *pgxpool.Pool
	Service *appraisal.Service
	Jobs    *jobs.Service
	Metrics *metrics.Collector
	Router  http.Handler

	publisher *events.KafkaPublisher
}

type stores struct {
	appraisal     appraisal.StoreAPI
	audit         audit.StoreAPI
	notifications notifications.StoreAPI
	idempotency   middleware.IdempotencyStore
	perms         middleware.PermissionStore
	directory     appraisal.RoleDirectory
}

func memoryStores() stores {
	return stores{
		appraisal:     appraisal.NewMemoryStore(),
		audit:         audit.NewMemoryStore(),
		notifications: notifications.NewMemoryStore(),
		idempotency:   middleware.NewMemoryIdempotencyStore(),
		perms:         auth.StaticPermissions{},
		directory:     middleware.ClaimsDirectory{},
	}
}

func postgresStores(pool *pgxpool.Pool) stores {
	authStore := auth.NewStore(pool)
	return stores{
		appraisal:     appraisal.NewStore(pool),
		audit:         audit.NewStore(pool),
		notifications: notifications.NewStore(pool),
		idempotency:   middleware.NewIdempotencyStore(pool),
		perms:         authStore,
		directory:     authStore,
	}
}

// New connects storage and builds the router. Background work is not started
// until Start.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	collector, err := metrics.New()
	if err != nil {
		return nil, fmt.Errorf("metrics: %w", err)
	}
	app := &App{Config: cfg, Logger: logger, Metrics: collector}

	var st stores
	switch cfg.StoreDriver {
	case config.StoreDriverMemory:
		logger.Warn("using in-memory store, data is lost on restart")
		st = memoryStores()
	default:
		pool, err := db.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("db connect: %w", err)
		}
		app.DB = pool
		if cfg.RunMigrations {
			if err := db.Migrate(ctx, pool, cfg.MigrationsDir, logger); err != nil {
				pool.Close()
				return nil, fmt.Errorf("migrations: %w", err)
			}
		}
		if cfg.RunSeed {
			if err := db.Seed(ctx, pool, cfg.SeedAdminEmail); err != nil {
				pool.Close()
				return nil, fmt.Errorf("seed: %w", err)
			}
		}
		st = postgresStores(pool)
	}

	resolver, err := departmentPipeline(cfg.DepartmentPipeline)
	if err != nil {
		app.Close()
		return nil, err
	}

	app.Jobs = jobs.New(app.DB, cfg.NotifyQueueSize, logger.Named("jobs"))
	dispatcherOpts := []notifications.DispatcherOption{
		notifications.WithFailureRecorder(app.Metrics),
		notifications.WithLogger(logger.Named("notifications")),
	}
	if len(cfg.KafkaBrokers) > 0 {
		publisher, err := events.NewKafkaPublisher(events.KafkaConfig{Brokers: cfg.KafkaBrokers, Topic: cfg.KafkaTopic})
		if err != nil {
			app.Close()
			return nil, fmt.Errorf("kafka publisher: %w", err)
		}
		app.publisher = publisher
		dispatcherOpts = append(dispatcherOpts, notifications.WithPublisher(publisher))
	}
	dispatcher := notifications.NewDispatcher(st.notifications, app.Jobs, dispatcherOpts...)

	serviceOpts := []appraisal.Option{
		appraisal.WithRoleGate(appraisal.NewDirectoryGate(st.directory)),
		appraisal.WithNotifier(dispatcher),
		appraisal.WithRecorder(app.Metrics),
		appraisal.WithLogger(logger.Named("appraisal")),
	}
	if resolver != nil {
		serviceOpts = append(serviceOpts, appraisal.WithPipelineResolver(resolver))
	}
	app.Service = appraisal.New(st.appraisal, serviceOpts...)

	app.Router = app.routes(st)
	return app, nil
}

// departmentPipeline returns a resolver that gives department-scoped
// submissions the configured pipeline, or nil when none is configured.
func departmentPipeline(stages []string) (appraisal.PipelineResolver, error) {
	if len(stages) == 0 {
		return nil, nil
	}
	pipeline, err := appraisal.ParsePipeline(stages)
	if err != nil {
		return nil, fmt.Errorf("DEPARTMENT_PIPELINE: %w", err)
	}
	return appraisal.PipelineResolverFunc(func(_ context.Context, _ string, scope appraisal.Scope) (appraisal.Pipeline, error) {
		if scope.EmployeeID == "" && scope.DepartmentID != "" {
			return pipeline, nil
		}
		return nil, nil
	}), nil
}

func (a *App) routes(st stores) http.Handler {
	cfg := a.Config
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Logger(a.Logger.Named("http"), a.Metrics))
	router.Use(middleware.Recoverer)
	router.Use(middleware.SecureHeaders(cfg.Environment == "production"))
	if len(cfg.CORSAllowedOrigins) > 0 {
		router.Use(cors.Handler(cors.Options{
			AllowedOrigins:   cfg.CORSAllowedOrigins,
			AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "If-Match", middleware.IdempotencyKeyHeader, "X-Request-ID"},
			ExposedHeaders:   []string{"ETag", "X-Request-ID", "X-Total-Count", "Idempotent-Replayed"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}
	router.Use(middleware.BodyLimit(cfg.MaxBodyBytes))
	router.Use(middleware.Auth(cfg.JWTSecret))

	router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	router.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if a.DB == nil {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ready"))
			return
		}
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := a.DB.Ping(ctx); err != nil {
			http.Error(w, "db not ready", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	if cfg.MetricsEnabled {
		router.With(middleware.RequirePermission(auth.PermMetricsRead, st.perms)).Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
			api.Success(w, a.Metrics.Snapshot(), middleware.GetRequestID(r.Context()))
		})
	}

	auditSvc := audit.New(st.audit)
	router.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.RateLimit(cfg.RateLimitPerMinute, middleware.MutationsOnly()))
		r.Use(middleware.Idempotency(st.idempotency))

		appraisalhandler.NewHandler(a.Service, st.perms, auditSvc).RegisterRoutes(r)
		audithandler.NewHandler(auditSvc, st.perms).RegisterRoutes(r)
		notificationshandler.NewHandler(notifications.New(st.notifications)).RegisterRoutes(r)
	})

	return router
}

// Start launches the job worker and the period auto-lock schedule. Both stop
// when ctx is cancelled.
func (a *App) Start(ctx context.Context) {
	a.Jobs.Start(ctx)
	a.Jobs.SchedulePeriodAutoLock(ctx, a.Service, a.Config.PeriodAutoLockInterval, a.Config.PeriodAutoLockGrace)
}

func (a *App) Close() {
	if a.publisher != nil {
		if err := a.publisher.Close(); err != nil {
			a.Logger.Warn("kafka publisher close failed", zap.Error(err))
		}
	}
	if a.DB != nil {
		a.DB.Close()
	}
}

// Run serves until ctx is cancelled, then drains in-flight requests.
func Run(ctx context.Context) error {
	cfg := config.Load()
	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()
	zap.ReplaceGlobals(logger)

	app, err := New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer app.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	app.Start(ctx)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           app.Router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("appraisal server listening", zap.String("addr", cfg.Addr), zap.String("store", cfg.StoreDriver))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	return srv.Shutdown(shutdownCtx)
}
