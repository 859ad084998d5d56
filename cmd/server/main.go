package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/print-slicer/backend/internal/api"
	"github.com/print-slicer/backend/internal/batch"
	"github.com/print-slicer/backend/internal/config"
	"github.com/print-slicer/backend/internal/metrics"
	"github.com/print-slicer/backend/internal/pipeline"
	"github.com/print-slicer/backend/internal/report"
	"github.com/print-slicer/backend/internal/stats"
	"github.com/print-slicer/backend/internal/telemetry"
)

// Version info (set during build)
var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	// .env is optional; real environment variables win
	_ = godotenv.Load()

	defaultPath := os.Getenv("SLICER_CONFIG")
	if defaultPath == "" {
		defaultPath = "config.yaml"
	}
	configPath := flag.String("config", defaultPath, "path to the YAML configuration file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	if err := cfg.EnsureDirectories(); err != nil {
		fmt.Printf("Failed to create directories: %v\n", err)
		os.Exit(1)
	}

	logger, err := initLogger(cfg.Log)
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(cfg, *configPath, logger); err != nil {
		logger.Error("server stopped", zap.Error(err))
		os.Exit(1)
	}
}

func run(cfg *config.AppConfig, configPath string, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tp, err := telemetry.Init(cfg.Telemetry, Version, logger)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}

	// Record and settings stores, one per environment
	recs, sets, closeStores, err := openStores(ctx, cfg, logger)
	if err != nil {
		return err
	}

	blobs, err := openBlobStore(ctx, cfg)
	if err != nil {
		return err
	}

	normalizer := newNormalizer(cfg, logger)
	engine := newEngine(cfg, logger)
	// Fail fast when the engine cannot run at all
	if err := engine.CheckReady(); err != nil {
		return fmt.Errorf("slicing engine: %w", err)
	}

	statsStore, err := stats.Open(cfg.Storage.StatsPath, logger)
	if err != nil {
		return fmt.Errorf("stats store: %w", err)
	}
	defer statsStore.Close()

	collector := metrics.NewCollector("slicer", logger)
	hub := api.NewEventHub(originChecker(cfg.Server.AllowOrigins), logger)

	opts := batch.Options{
		Completer:     report.NewCompletionNotifier(cfg.Completion.Endpoints, cfg.Completion.CartEndpoints, &http.Client{Timeout: cfg.Completion.Timeout}, logger),
		Listeners:     []batch.Listener{collector, hub},
		Logger:        logger,
		SignalTimeout: cfg.Completion.Timeout,
	}
	var publisher *report.RedisPublisher
	if cfg.Redis.Enabled {
		publisher, err = report.NewRedisPublisher(ctx, report.RedisConfig{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Channel:  cfg.Redis.Channel,
			TTL:      cfg.Redis.TTL,
		})
		if err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		defer publisher.Close()
		opts.Publisher = publisher
	}

	unit := pipeline.New(
		newFetcher(cfg, blobs),
		normalizer,
		engine,
		pipeline.Config{
			Density: cfg.Slicing.Density,
			Limits:  limitsOf(cfg.Limits),
		},
		logger,
		statsStore,
	)
	manager := batch.NewManager(unit, blobs, opts)

	// Start background cleanup
	go func() {
		ticker := time.NewTicker(cfg.Storage.CleanupInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				manager.CleanupOldBatches(cfg.Storage.BatchMaxAge)
				if _, err := statsStore.Prune(ctx, cfg.Storage.StatsMaxAge); err != nil {
					logger.Warn("stats prune failed", zap.Error(err))
				}
			}
		}
	}()

	callbackClient := &http.Client{Timeout: cfg.Callback.Timeout}
	signer := report.NewSigner(cfg.Callback.Secret, cfg.Callback.Issuer, cfg.Callback.TokenTTL)

	handlers := api.NewHandlers(&api.Dependencies{
		Batches:   manager,
		Quoter:    unit,
		Records:   recs,
		Settings:  sets,
		Blobs:     blobs,
		Stats:     statsStore,
		Engine:    engine,
		Supported: normalizer.Supported,
		Callback: func(url string) report.Sink {
			return report.NewCallbackSink(url, callbackClient, signer)
		},
		Hub:     hub,
		Metrics: collector,
		Version: Version,
	})

	e := newEcho(cfg, logger, collector)
	var limiter echo.MiddlewareFunc
	if cfg.RateLimit.Enabled {
		limiter = api.RateLimiter(api.RateLimit{
			RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
			Burst:             cfg.RateLimit.Burst,
			ExpiresIn:         cfg.RateLimit.ExpiresIn,
		})
	}
	api.RegisterRoutes(e, handlers, limiter)

	s := &http.Server{
		Addr:         cfg.GetServerAddr(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	printBanner(cfg, configPath)

	serveErr := make(chan error, 1)
	go func() {
		if err := e.StartServer(s); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return err
		}
	case <-ctx.Done():
	}

	logger.Info("shutting down", zap.Duration("grace", cfg.Server.ShutdownTimeout))
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	hub.Close()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	if err := manager.Shutdown(shutdownCtx); err != nil {
		logger.Warn("batches still running at shutdown", zap.Error(err))
	}
	closeStores(shutdownCtx)
	if err := tp.Shutdown(shutdownCtx); err != nil {
		logger.Warn("telemetry shutdown", zap.Error(err))
	}
	return nil
}

func newEcho(cfg *config.AppConfig, logger *zap.Logger, collector *metrics.Collector) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	api.SetupMiddleware(e, logger, collector, cfg.Log.Level == "debug")

	e.Use(middleware.RecoverWithConfig(middleware.RecoverConfig{
		StackSize: 1024 * 4,
		LogErrorFunc: func(c echo.Context, err error, stack []byte) error {
			logger.Error("handler panic",
				zap.String("path", c.Path()),
				zap.Error(err),
				zap.ByteString("stack", stack))
			return err
		},
	}))

	e.Use(middleware.TimeoutWithConfig(middleware.TimeoutConfig{
		Timeout: cfg.Server.RequestTimeout,
		Skipper: func(c echo.Context) bool {
			path := c.Request().URL.Path
			return strings.HasPrefix(path, "/api/ws/") ||
				strings.HasPrefix(path, "/api/models/")
		},
		ErrorMessage: "Request timeout",
	}))

	e.Use(middleware.GzipWithConfig(middleware.GzipConfig{
		Skipper: func(c echo.Context) bool {
			return strings.HasPrefix(c.Request().URL.Path, "/api/ws/")
		},
	}))

	e.Use(middleware.BodyLimit(cfg.Server.BodyLimit))

	if cfg.Server.EnableCORS {
		e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
			AllowOrigins: cfg.Server.AllowOrigins,
			AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
			AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization},
		}))
	}
	return e
}

func originChecker(allowed []string) func(string) bool {
	for _, o := range allowed {
		if o == "*" {
			return nil
		}
	}
	return func(origin string) bool {
		if origin == "" {
			return true
		}
		for _, o := range allowed {
			if strings.EqualFold(o, origin) {
				return true
			}
		}
		return false
	}
}

func printBanner(cfg *config.AppConfig, configPath string) {
	fmt.Printf("\n")
	fmt.Printf("╔═══════════════════════════════════════════════════════════╗\n")
	fmt.Printf("║           Print Slicer Server                             ║\n")
	fmt.Printf("╠═══════════════════════════════════════════════════════════╣\n")
	fmt.Printf("║  Version:    %-45s║\n", Version)
	fmt.Printf("║  Build Time: %-45s║\n", BuildTime)
	fmt.Printf("║  Records:    %-45s║\n", cfg.Records.Driver)
	fmt.Printf("║  Blobs:      %-45s║\n", cfg.Blob.Driver)
	fmt.Printf("╠═══════════════════════════════════════════════════════════╣\n")
	fmt.Printf("║  Config:    %-46s║\n", configPath)
	fmt.Printf("║  Listen:    http://%-38s║\n", cfg.GetServerAddr())
	fmt.Printf("║  Engine:    %-46s║\n", cfg.Slicing.Binary)
	fmt.Printf("╚═══════════════════════════════════════════════════════════╝\n")
	fmt.Printf("\n")
}
