package main

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/print-slicer/backend/internal/config"
	"github.com/print-slicer/backend/internal/mesh"
	"github.com/print-slicer/backend/internal/models"
	"github.com/print-slicer/backend/internal/pricing"
	"github.com/print-slicer/backend/internal/records"
	"github.com/print-slicer/backend/internal/settings"
	"github.com/print-slicer/backend/internal/slicer"
	"github.com/print-slicer/backend/internal/storage"
)

func initLogger(cfg config.LogConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}

	var encoderConfig zapcore.EncoderConfig
	if cfg.Format == "console" {
		encoderConfig = zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		encoderConfig = zap.NewProductionEncoderConfig()
		encoderConfig.TimeKey = "timestamp"
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	zapConfig := zap.Config{
		Level:            zap.NewAtomicLevelAt(level),
		Development:      cfg.Format == "console",
		Encoding:         cfg.Format,
		EncoderConfig:    encoderConfig,
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}
	return zapConfig.Build(zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))
}

func staticSettings(cfg *config.AppConfig) settings.Static {
	return settings.Static{
		Pricing: pricing.Inputs{
			SpoolPrice: cfg.Pricing.SpoolPrice,
			Margin:     cfg.Pricing.Margin,
			Surcharge:  cfg.Pricing.Surcharge,
		},
		Limits: limitsOf(cfg.Limits),
	}
}

func limitsOf(l config.LimitsConfig) models.DimensionLimits {
	return models.DimensionLimits{X: l.X, Y: l.Y, Z: l.Z}
}

// openStores builds the per-environment record and settings routers. The
// returned func disconnects from the document store.
func openStores(ctx context.Context, cfg *config.AppConfig, logger *zap.Logger) (*records.Router, *settings.Router, func(context.Context), error) {
	static := staticSettings(cfg)
	recStores := make(map[string]records.Store, len(cfg.Records.Databases))
	setSources := make(map[string]settings.Source, len(cfg.Records.Databases))

	if cfg.Records.Driver != "mongo" {
		for env := range cfg.Records.Databases {
			recStores[env] = records.NewMemoryStore()
			setSources[env] = static
		}
		logger.Warn("using in-memory file records; results are not persisted")
		return records.NewRouter(cfg.Records.DefaultEnv, recStores),
			settings.NewRouter(cfg.Records.DefaultEnv, setSources),
			func(context.Context) {}, nil
	}

	client, err := mongo.Connect(options.Client().
		ApplyURI(cfg.Records.URI).
		SetConnectTimeout(cfg.Records.ConnectTimeout))
	if err != nil {
		return nil, nil, nil, fmt.Errorf("connecting to mongo: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, cfg.Records.ConnectTimeout)
	defer cancel()
	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		client.Disconnect(context.Background())
		return nil, nil, nil, fmt.Errorf("pinging mongo: %w", err)
	}

	for env, name := range cfg.Records.Databases {
		db := client.Database(name)
		recStores[env] = records.NewMongoStore(db, cfg.Records.FilesCollection)
		setSources[env] = &settings.Fallback{
			Primary:   settings.NewMongoSource(db, cfg.Records.ConfigsCollection),
			Secondary: static,
			Logger:    logger.With(zap.String("env", env)),
		}
	}
	logger.Info("connected to mongo", zap.Strings("environments", keys(cfg.Records.Databases)))

	closeFn := func(ctx context.Context) {
		if err := client.Disconnect(ctx); err != nil {
			logger.Warn("mongo disconnect", zap.Error(err))
		}
	}
	return records.NewRouter(cfg.Records.DefaultEnv, recStores),
		settings.NewRouter(cfg.Records.DefaultEnv, setSources),
		closeFn, nil
}

func openBlobStore(ctx context.Context, cfg *config.AppConfig) (storage.BlobStore, error) {
	switch cfg.Blob.Driver {
	case "s3":
		s, err := storage.NewS3Store(ctx, storage.S3Config{
			Bucket:          cfg.Blob.Bucket,
			Region:          cfg.Blob.Region,
			Endpoint:        cfg.Blob.Endpoint,
			AccessKeyID:     cfg.Blob.AccessKeyID,
			SecretAccessKey: cfg.Blob.SecretAccessKey,
			UsePathStyle:    cfg.Blob.UsePathStyle,
		})
		if err != nil {
			return nil, fmt.Errorf("blob store: %w", err)
		}
		return s, nil
	default:
		s, err := storage.NewLocalStore(cfg.Blob.Directory)
		if err != nil {
			return nil, fmt.Errorf("blob store: %w", err)
		}
		return s, nil
	}
}

func newFetcher(cfg *config.AppConfig, blobs storage.BlobStore) *storage.Fetcher {
	return storage.NewFetcher(blobs, cfg.Storage.WorkDirectory, cfg.Storage.DownloadTimeout, cfg.Storage.MaxDownloadSize)
}

func newNormalizer(cfg *config.AppConfig, logger *zap.Logger) *mesh.Normalizer {
	var converters []mesh.Converter
	if cfg.Conversion.Native {
		converters = append(converters, mesh.NewNativeConverter(logger))
	}
	binary := cfg.Conversion.Binary
	if binary == "" {
		// the slicing engine doubles as a converter
		binary = cfg.Slicing.Binary
	}
	var foreign []string
	for _, ext := range cfg.Slicing.AllowedExtensions {
		if ext != mesh.NativeExt {
			foreign = append(foreign, ext)
		}
	}
	converters = append(converters,
		mesh.NewCommandConverter(binary, cfg.Conversion.Args, foreign, cfg.Conversion.Timeout, logger))
	return mesh.NewNormalizer(cfg.Slicing.AllowedExtensions, converters, logger)
}

func newEngine(cfg *config.AppConfig, logger *zap.Logger) *slicer.Invoker {
	return slicer.NewInvoker(slicer.Config{
		Binary:     cfg.Slicing.Binary,
		ConfigPath: cfg.Slicing.ConfigPath,
		Args:       cfg.Slicing.Args,
		Timeout:    cfg.Slicing.Timeout,
		WorkDir:    cfg.Storage.WorkDirectory,
	}, mesh.ScaleInPlace, logger)
}

func keys(m map[string]string) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
