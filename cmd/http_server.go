package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/frahmantamala/meddevice-orders/api"
	"github.com/frahmantamala/meddevice-orders/internal"
	"github.com/frahmantamala/meddevice-orders/internal/audit"
	auditPostgres "github.com/frahmantamala/meddevice-orders/internal/audit/postgres"
	"github.com/frahmantamala/meddevice-orders/internal/auth"
	authPostgres "github.com/frahmantamala/meddevice-orders/internal/auth/postgres"
	authRedis "github.com/frahmantamala/meddevice-orders/internal/auth/redis"
	"github.com/frahmantamala/meddevice-orders/internal/bom"
	"github.com/frahmantamala/meddevice-orders/internal/core/database"
	"github.com/frahmantamala/meddevice-orders/internal/core/events"
	"github.com/frahmantamala/meddevice-orders/internal/notification"
	"github.com/frahmantamala/meddevice-orders/internal/obs"
	"github.com/frahmantamala/meddevice-orders/internal/order"
	orderPostgres "github.com/frahmantamala/meddevice-orders/internal/order/postgres"
	"github.com/frahmantamala/meddevice-orders/internal/rbac"
	rbacPostgres "github.com/frahmantamala/meddevice-orders/internal/rbac/postgres"
	"github.com/frahmantamala/meddevice-orders/internal/transport"
	"github.com/frahmantamala/meddevice-orders/internal/transport/middleware"
	"github.com/frahmantamala/meddevice-orders/internal/transport/rest"
	"github.com/frahmantamala/meddevice-orders/internal/user"
	userPostgres "github.com/frahmantamala/meddevice-orders/internal/user/postgres"
	"github.com/frahmantamala/meddevice-orders/pkg/logger"

	"github.com/go-chi/chi"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	goredis "github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"
)

var httpServerCmd = &cobra.Command{
	Use:   "server",
	Short: "Start HTTP server",
	Long:  `Start the HTTP server to handle API requests`,
	Run: func(cmd *cobra.Command, args []string) {
		startHTTPServer()
	},
}

type Dependencies struct {
	Config      *internal.Config
	DB          *sqlx.DB
	Gorm        *gorm.DB
	Redis       *goredis.Client
	Router      *chi.Mux
	EventBus    *events.EventBus
	Dispatcher  *notification.Dispatcher
	AuthLimiter *middleware.RateLimiter
	Logger      *slog.Logger
}

func startHTTPServer() {
	deps, err := initializeDependencies()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize dependencies: %v\n", err)
		os.Exit(1)
	}

	addr := fmt.Sprintf(":%d", deps.Config.Server.Port)
	deps.Logger.Info("Starting HTTP server", "address", addr)

	server := &http.Server{
		Addr:              addr,
		Handler:           deps.Router,
		ReadHeaderTimeout: deps.Config.Server.ReadHeaderTimeout,
		ReadTimeout:       deps.Config.Server.ReadTimeout,
		WriteTimeout:      deps.Config.Server.WriteTimeout,
		IdleTimeout:       deps.Config.Server.IdleTimeout,
	}

	sweepCtx, stopSweep := context.WithCancel(context.Background())
	go sweepLimiter(sweepCtx, deps.AuthLimiter)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	serverErrChan := make(chan error, 1)
	go func() {
		serverErrChan <- server.ListenAndServe()
	}()

	select {
	case sig := <-sigChan:
		deps.Logger.Info("Received signal, shutting down...", "signal", sig)
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			deps.Logger.Error("Server shutdown error", "error", err)
		}
	case err := <-serverErrChan:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			deps.Logger.Error("Server failed to start", "error", err)
		}
	}

	stopSweep()
	// handlers enqueue notifications, so drain the bus before the pool
	deps.EventBus.Wait()
	drainCtx, cancelDrain := context.WithTimeout(context.Background(), 10*time.Second)
	if err := deps.Dispatcher.Drain(drainCtx); err != nil {
		deps.Logger.Warn("Notifications still pending at shutdown", "error", err)
	}
	cancelDrain()
	deps.Dispatcher.Shutdown()
	if err := deps.Redis.Close(); err != nil {
		deps.Logger.Error("Redis close error", "error", err)
	}
	if err := deps.DB.Close(); err != nil {
		deps.Logger.Error("Database close error", "error", err)
	}

	deps.Logger.Info("Server stopped")
}

func sweepLimiter(ctx context.Context, limiter *middleware.RateLimiter) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			limiter.Sweep()
		}
	}
}

func initializeDependencies() (*Dependencies, error) {
	config, err := loadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger.Init(logger.Options{
		Level:  config.Observability.Logging.Level,
		Format: config.Observability.Logging.Format,
	})
	lg := logger.LoggerWrapper()

	db, err := initDB(config.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	gormDB, err := initGorm(db)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize gorm: %w", err)
	}

	redisClient, err := initRedis(config.Redis)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize redis: %w", err)
	}

	var metrics *obs.Metrics
	if config.Observability.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		metrics = obs.NewMetrics(reg)
	}

	// the catalog is read once; role grants change only through a deploy
	ctx := context.Background()
	catalog, err := rbacPostgres.NewCatalogRepository(gormDB).Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load rbac catalog (has the seed command run?): %w", err)
	}
	engine := rbac.NewEngine(catalog)

	transactor := database.NewTransactor(gormDB)
	auditService := audit.NewService(auditPostgres.NewAuditRepository(gormDB), engine, lg)

	sessions := auth.NewSessionManager(config.Security.SessionSecret, config.Security.SessionIssuer, config.Security.SessionTTL)
	authService := auth.NewService(auth.Dependencies{
		Credentials:   authPostgres.NewCredentialRepository(gormDB),
		Resolver:      rbac.NewResolver(rbacPostgres.NewAssignmentRepository(gormDB), lg),
		Engine:        engine,
		Sessions:      sessions,
		Hasher:        auth.NewHasher(config.Security.BCryptCost),
		Policy:        auth.PasswordPolicy{MinLength: config.Password.MinLength, MaxAge: config.Password.MaxAge},
		Lockout:       auth.LockoutPolicy{Threshold: config.Lockout.Threshold, Duration: config.Lockout.Duration},
		ResetTokens:   authRedis.NewResetTokenStore(redisClient, config.Security.ResetKeyPrefix),
		ResetTokenTTL: config.Security.ResetTokenTTL,
		Delivery:      auth.NewLogDelivery(lg),
		Audit:         auditService,
		Transactor:    transactor,
		Metrics:       metrics,
		Logger:        lg,
	})

	var generator bom.Generator
	if config.BOM.BaseURL != "" {
		generator = bom.NewClient(bom.Config{
			BaseURL: config.BOM.BaseURL,
			APIKey:  config.BOM.APIKey,
			Timeout: config.Workflow.BOMTimeout,
		}, lg)
	} else {
		lg.Warn("bom.base_url not set, generating bills of materials locally")
		generator = bom.NewLocalGenerator(lg)
	}

	eventBus := events.NewEventBus(lg)
	dispatcher := newNotificationDispatcher(config.Notification, metrics, lg)
	dispatcher.Start()
	notification.NewEventHandler(dispatcher, lg).RegisterEventHandlers(eventBus)

	orderService := order.NewService(order.Dependencies{
		Repository: orderPostgres.NewOrderRepository(gormDB),
		Engine:     engine,
		Audit:      auditService,
		Transactor: transactor,
		BOM:        generator,
		BOMTimeout: config.Workflow.BOMTimeout,
		Publisher:  eventBus,
		Metrics:    metrics,
		Logger:     lg,
	})

	userService := user.NewService(userPostgres.NewUserRepository(gormDB), engine, auditService, transactor, lg)

	baseHandler := transport.NewBaseHandler(lg)
	validator, err := middleware.NewOpenAPIValidator(api.OpenAPISpec, baseHandler)
	if err != nil {
		return nil, fmt.Errorf("failed to load openapi document: %w", err)
	}
	trustedProxies, err := config.Server.TrustedProxyPrefixes()
	if err != nil {
		return nil, err
	}
	authLimiter := middleware.NewRateLimiter(config.Server.AuthRateLimit, config.Server.AuthRateBurst, baseHandler)

	router := chi.NewRouter()
	rest.RegisterAllRoutes(router, rest.Handlers{
		Health: rest.NewHealthHandler(baseHandler, map[string]rest.Checker{
			"postgres": db.DB,
			"redis": rest.CheckerFunc(func(ctx context.Context) error {
				return redisClient.Ping(ctx).Err()
			}),
		}),
		Auth:  auth.NewHandler(baseHandler, authService),
		User:  user.NewHandler(baseHandler, userService),
		Order: order.NewHandler(baseHandler, orderService),
		Audit: audit.NewHandler(baseHandler, auditService),
	}, rest.RouterOptions{
		AllowedOrigins: config.Server.AllowedOrigins,
		OpenAPISpec:    api.OpenAPISpec,
		Validator:      validator,
		AuthLimiter:    authLimiter,
		ClientIP:       middleware.NewClientIPResolver(trustedProxies),
		Metrics:        metrics,
		MetricsPath:    config.Observability.Metrics.Path,
	}, lg)

	return &Dependencies{
		Config:      config,
		DB:          db,
		Gorm:        gormDB,
		Redis:       redisClient,
		Router:      router,
		EventBus:    eventBus,
		Dispatcher:  dispatcher,
		AuthLimiter: authLimiter,
		Logger:      lg,
	}, nil
}

func newNotificationDispatcher(cfg internal.NotificationConfig, metrics *obs.Metrics, lg *slog.Logger) *notification.Dispatcher {
	var notifier notification.Notifier = notification.NewLogNotifier(lg)
	if cfg.WebhookURL != "" {
		notifier = notification.NewWebhookNotifier(cfg.WebhookURL, cfg.Timeout, lg)
	}
	return notification.NewDispatcher(notification.Config{
		MaxWorkers: cfg.MaxWorkers,
		QueueSize:  cfg.QueueSize,
		Timeout:    cfg.Timeout,
	}, notifier, metrics, lg)
}

// initDB initializes the database connection
func initDB(cfg internal.DatabaseConfig) (*sqlx.DB, error) {
	const driver = "pgx"

	dbConn, err := sqlx.Connect(driver, cfg.Source)
	if err != nil {
		return nil, fmt.Errorf("failed to open db connection: %w", err)
	}

	dbConn.SetMaxIdleConns(cfg.MaxIdleConns)
	dbConn.SetMaxOpenConns(cfg.MaxOpenConns)
	dbConn.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	dbConn.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	if err := dbConn.Ping(); err != nil {
		_ = dbConn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return dbConn, nil
}

// initGorm reuses the sqlx pool so both share one set of connections.
func initGorm(db *sqlx.DB) (*gorm.DB, error) {
	return gorm.Open(postgres.New(postgres.Config{Conn: db.DB}), &gorm.Config{
		Logger:         gormLogger.Default.LogMode(gormLogger.Warn),
		TranslateError: true,
	})
}

func initRedis(cfg internal.RedisConfig) (*goredis.Client, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	return client, nil
}
