package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/planwatch/planwatch-engine/pkg/config"
	"github.com/planwatch/planwatch-engine/pkg/database"
	"github.com/planwatch/planwatch-engine/pkg/extractor"
	"github.com/planwatch/planwatch-engine/pkg/handlers"
	"github.com/planwatch/planwatch-engine/pkg/lexicon"
	"github.com/planwatch/planwatch-engine/pkg/logging"
	"github.com/planwatch/planwatch-engine/pkg/mail"
	"github.com/planwatch/planwatch-engine/pkg/registry"
	"github.com/planwatch/planwatch-engine/pkg/reporting"
	"github.com/planwatch/planwatch-engine/pkg/repositories"
	"github.com/planwatch/planwatch-engine/pkg/retry"
	"github.com/planwatch/planwatch-engine/pkg/scheduler"
	"github.com/planwatch/planwatch-engine/pkg/services"
	"github.com/planwatch/planwatch-engine/pkg/services/workqueue"
)

// Version is set at build time via ldflags
var Version = "dev"

const shutdownTimeout = 30 * time.Second

func main() {
	cfg, err := config.Load(Version)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := newLogger(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("planwatch-engine stopped", zap.Error(err))
	}
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	zapCfg := zap.NewProductionConfig()
	if cfg.Env == "local" {
		zapCfg = zap.NewDevelopmentConfig()
	}
	zapCfg.Level = zap.NewAtomicLevelAt(level)
	logger, err := zapCfg.Build()
	if err != nil {
		return nil, err
	}
	return logger.With(zap.String("version", cfg.Version)), nil
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	connStr := cfg.Database.ConnectionString()
	logger.Info("Configuration loaded",
		zap.String("env", cfg.Env),
		zap.String("database", logging.SanitizeConnectionString(connStr)),
		zap.String("mail_provider", cfg.Mail.Provider),
		zap.Bool("lexicon", cfg.Lexicon.BaseURL != ""),
		zap.Bool("redis", cfg.Redis.Host != ""))

	db, err := database.NewConnection(ctx, &database.Config{
		URL:             connStr,
		MaxConnections:  cfg.Database.MaxConnections,
		ApplicationName: "planwatch-engine",
		ConnectAttempts: 5,
	})
	if err != nil {
		return err
	}
	defer db.Close()

	if err := database.MigrateURL(connStr, cfg.MigrationsPath, logger); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	if err := db.CheckExtensions(ctx); err != nil {
		return err
	}

	redisClient, err := database.NewRedisClient(ctx, &cfg.Redis)
	if err != nil {
		return err
	}
	if redisClient != nil {
		defer func() { _ = redisClient.Close() }()
	}

	// Repositories
	councilRepo := repositories.NewCouncilRepository()
	caseRepo := repositories.NewCaseRepository()
	minuteRepo := repositories.NewMinuteRepository()
	addressRepo := repositories.NewAddressRepository()
	entityRepo := repositories.NewEntityRepository()
	subscriptionRepo := repositories.NewSubscriptionRepository()
	deliveryRepo := repositories.NewDeliveryRepository()
	userRepo := repositories.NewUserRepository()

	scope := services.NewScopeFunc(db)
	tx := services.NewTxFunc()

	if err := seedCouncils(ctx, scope, councilRepo, logger); err != nil {
		return err
	}

	// Lexical analysis falls back to the rule tokenizer without a service.
	var (
		tokenizer lexicon.Tokenizer = lexicon.NewRuleTokenizer()
		parser    lexicon.Parser
	)
	if cfg.Lexicon.BaseURL != "" {
		client := lexicon.NewClient(cfg.Lexicon.BaseURL, time.Duration(cfg.Lexicon.TimeoutSeconds)*time.Second, logger)
		tokenizer, parser = client, client
	}

	var cache registry.Cache
	if redisClient != nil {
		cache = registry.NewRedisCache(redisClient, cfg.Registry.CacheTTL())
	}
	searcher := registry.NewClient(registry.Options{
		BaseURL:  cfg.Registry.BaseURL,
		Timeout:  time.Duration(cfg.Registry.TimeoutSeconds) * time.Second,
		Attempts: cfg.Registry.Attempts,
		Backoff:  cfg.Registry.RegistryBackoff(),
		Cache:    cache,
	}, logger)

	var sender mail.Sender = mail.NewLogSender(logger)
	if cfg.Mail.Provider == "postmark" {
		sender = mail.NewPostmarkSender(cfg.Mail.APIURL, cfg.Mail.ServerToken, cfg.Mail.From, 30*time.Second, logger)
	}

	// Services
	resolver := services.NewEntityResolver(entityRepo, searcher, logger)
	processor := services.NewMinuteProcessor(
		services.MinuteStores{Councils: councilRepo, Cases: caseRepo, Minutes: minuteRepo, Addresses: addressRepo},
		resolver,
		tokenizer,
		extractor.New(tokenizer, parser, logger),
		logger,
	)
	matcher := services.NewSubscriptionMatcher(minuteRepo, subscriptionRepo, logger)
	deliveryService := services.NewDeliveryService(deliveryRepo, matcher, mail.NewRenderer(cfg.Mail.SiteURL),
		sender, reporting.NewLogReporter(logger), tx, logger)
	subscriptionService := services.NewSubscriptionService(subscriptionRepo, deliveryRepo, tokenizer, tx, logger)
	userService := services.NewUserService(userRepo, logger)

	queue := workqueue.New(logger,
		workqueue.WithStrategy(workqueue.NewPooledStrategy(cfg.WorkQueue.Concurrency)),
		workqueue.WithRetryConfig(&retry.Config{
			MaxRetries:   cfg.WorkQueue.MaxRetries,
			InitialDelay: time.Duration(cfg.WorkQueue.InitialBackoffSeconds) * time.Second,
			MaxDelay:     time.Duration(cfg.WorkQueue.MaxBackoffSeconds) * time.Second,
			Multiplier:   2,
			Backoff:      retry.Exponential,
			JitterFactor: 0.1,
		}),
	)
	deps := &services.PipelineDeps{
		Scope:      scope,
		Processor:  processor,
		Deliveries: deliveryService,
		Minutes:    minuteRepo,
		Logger:     logger.Named("pipeline"),
	}

	sched, err := scheduler.New(cfg.Scheduler.Timezone, logger)
	if err != nil {
		return err
	}
	if err := sched.Add("immediate", cfg.Scheduler.ImmediateSpec, func() {
		queue.Enqueue(services.NewSendBatchTask(deps, false))
	}); err != nil {
		return err
	}
	if err := sched.Add("weekly", cfg.Scheduler.WeeklySpec, func() {
		queue.Enqueue(services.NewSendBatchTask(deps, true))
	}); err != nil {
		return err
	}
	sweepWindow := time.Duration(cfg.Scheduler.SweepWindowHours) * time.Hour
	if err := sched.Add("sweep", cfg.Scheduler.SweepSpec, func() {
		queue.Enqueue(services.NewSweepTask(deps, sweepWindow))
	}); err != nil {
		return err
	}
	sched.Start()
	// Pick up whatever the previous process left queued.
	queue.Enqueue(services.NewSweepTask(deps, sweepWindow))

	// HTTP
	mux := http.NewServeMux()
	scopeMiddleware := handlers.ScopeMiddleware(database.WithScope(database.AcquireFunc(scope), logger))
	handlers.NewHealthHandler(cfg, db.Pool, queue, logger).RegisterRoutes(mux)
	handlers.NewIngestHandler(queue, deps, logger).RegisterRoutes(mux)
	handlers.NewEntityHandler(resolver, logger).RegisterRoutes(mux, scopeMiddleware)
	handlers.NewSubscriptionHandler(subscriptionService, logger).RegisterRoutes(mux, scopeMiddleware)
	handlers.NewUsersHandler(userService, logger).RegisterRoutes(mux, scopeMiddleware)

	server := &http.Server{
		Addr:              net.JoinHostPort(cfg.BindAddr, cfg.Port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("Starting planwatch-engine", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case <-ctx.Done():
		logger.Info("Shutting down")
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP server did not shut down cleanly", zap.Error(err))
	}
	if err := sched.Stop(shutdownCtx); err != nil {
		logger.Warn("Scheduler did not stop cleanly", zap.Error(err))
	}
	if err := queue.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Work queue did not drain", zap.Error(err), zap.Any("queue", queue.Stats()))
	}
	return nil
}

func seedCouncils(ctx context.Context, scope services.ScopeFunc, repo repositories.CouncilRepository, logger *zap.Logger) error {
	catalogue, err := config.LoadCouncils()
	if err != nil {
		return err
	}
	scopedCtx, cleanup, err := scope(ctx)
	if err != nil {
		return fmt.Errorf("acquire database connection: %w", err)
	}
	defer cleanup()
	return services.SeedCouncils(scopedCtx, repo, catalogue, logger)
}
