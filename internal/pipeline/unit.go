// Package pipeline runs one model file through fetch, normalization, slicing,
// validation and pricing, and delivers the terminal result.
package pipeline

import (
	"context"
	"fmt"
	"os"
	"runtime/debug"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/print-slicer/backend/internal/dimensions"
	"github.com/print-slicer/backend/internal/models"
	"github.com/print-slicer/backend/internal/pricing"
	"github.com/print-slicer/backend/internal/report"
	"github.com/print-slicer/backend/internal/settings"
	"github.com/print-slicer/backend/internal/slicer"
)

// Fetcher makes a local copy of a model file.
type Fetcher interface {
	Fetch(ctx context.Context, f models.ModelFile) (string, error)
}

// Normalizer converts a local file to the engine's native format.
type Normalizer interface {
	Supported(ext string) bool
	Normalize(ctx context.Context, src string) (string, error)
}

// Engine slices a native-format file.
type Engine interface {
	Slice(ctx context.Context, path string) (slicer.Result, error)
}

// Observer is told about every terminal unit result.
type Observer interface {
	UnitFinished(ctx context.Context, batchID string, result models.FileResult)
}

// Config holds the unit's static parameters.
type Config struct {
	Density float64
	Limits  models.DimensionLimits
}

// Request is one file to process.
type Request struct {
	File     models.ModelFile
	Limits   *models.DimensionLimits // per-request override
	Settings settings.Source
	Sink     report.Sink
}

// Unit executes the per-file pipeline. It is safe for concurrent use.
type Unit struct {
	fetcher    Fetcher
	normalizer Normalizer
	engine     Engine
	cfg        Config
	observers  []Observer
	logger     *zap.Logger
	tracer     trace.Tracer
}

// New creates a pipeline unit.
func New(fetcher Fetcher, normalizer Normalizer, engine Engine, cfg Config, logger *zap.Logger, observers ...Observer) *Unit {
	if cfg.Density <= 0 {
		cfg.Density = slicer.DefaultDensity
	}
	cfg.Limits = cfg.Limits.Merge(dimensions.DefaultLimits())
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Unit{
		fetcher:    fetcher,
		normalizer: normalizer,
		engine:     engine,
		cfg:        cfg,
		observers:  observers,
		logger:     logger.With(zap.String("component", "pipeline")),
		tracer:     otel.Tracer("github.com/print-slicer/backend/internal/pipeline"),
	}
}

// Run processes req to a terminal result. It never returns an error: every
// failure, including a panic, becomes an error result. The result is
// delivered to req.Sink before Run returns; delivery problems are logged.
func (u *Unit) Run(ctx context.Context, req Request) models.FileResult {
	start := time.Now()
	ctx, span := u.tracer.Start(ctx, "pipeline.unit",
		trace.WithAttributes(
			attribute.String("file_id", req.File.ID),
			attribute.String("batch_id", req.File.BatchID),
		))
	defer span.End()

	log := u.logger.With(zap.String("batch_id", req.File.BatchID), zap.String("file_id", req.File.ID))

	var temps []string
	result := u.safeProcess(ctx, req, &temps, log)
	if !result.Succeeded() && ctx.Err() != nil && result.FailureKind != models.FailureCanceled {
		result.FailureKind = models.FailureCanceled
		result.Message = "processing canceled"
	}
	for _, p := range temps {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			log.Warn("failed to remove temp file", zap.String("path", p), zap.Error(err))
		}
	}

	result.FileID = req.File.ID
	result.Name = req.File.Name
	result.Timing.TotalMs = time.Since(start).Milliseconds()

	if result.Succeeded() {
		span.SetStatus(codes.Ok, "")
		log.Info("file sliced",
			zap.Float64("mass_g", result.MassGrams),
			zap.Int("attempts", result.Attempts),
			zap.Bool("scaled", result.Scaled),
			zap.Int64("total_ms", result.Timing.TotalMs))
	} else {
		span.SetStatus(codes.Error, result.Message)
		span.SetAttributes(attribute.String("failure_kind", string(result.FailureKind)))
		log.Warn("file failed",
			zap.String("kind", string(result.FailureKind)),
			zap.String("message", result.Message))
	}

	u.deliver(ctx, req.Sink, result, log)
	for _, o := range u.observers {
		o.UnitFinished(ctx, req.File.BatchID, result)
	}
	return result
}

func (u *Unit) deliver(ctx context.Context, sink report.Sink, result models.FileResult, log *zap.Logger) {
	if sink == nil {
		return
	}
	// delivery still runs when the unit was canceled
	dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()
	if err := sink.Deliver(dctx, result); err != nil {
		log.Error("result delivery failed",
			zap.String("kind", string(models.FailureDelivery)),
			zap.Error(err))
	}
}

func (u *Unit) safeProcess(ctx context.Context, req Request, temps *[]string, log *zap.Logger) (result models.FileResult) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("panic in pipeline unit",
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()))
			result = failed(models.NewFailure(models.FailureInternal,
				"internal error while processing file", fmt.Errorf("panic: %v", r)))
		}
	}()
	return u.process(ctx, req, temps)
}

func (u *Unit) process(ctx context.Context, req Request, temps *[]string) models.FileResult {
	ext := req.File.Ext()
	if !u.normalizer.Supported(ext) {
		return failed(models.NewFailure(models.FailureUnsupportedFormat,
			fmt.Sprintf("unsupported file type %q", ext), nil))
	}

	local, err := u.fetcher.Fetch(ctx, req.File)
	if err != nil {
		return failed(err)
	}
	*temps = append(*temps, local)

	native, err := u.normalizer.Normalize(ctx, local)
	if err != nil {
		return failed(err)
	}
	if native != local {
		*temps = append(*temps, native)
	}

	res, err := u.engine.Slice(ctx, native)
	if err != nil {
		return failed(err)
	}

	current, err := u.currentSettings(ctx, req.Settings)
	if err != nil {
		return failed(models.NewFailure(models.FailureInternal, "could not load pricing settings", err))
	}

	box := res.Box
	result := models.FileResult{
		Dimensions: &box,
		Attempts:   res.Attempts,
		Scaled:     res.Scaled,
		Timing:     models.Timing{SliceMs: res.Duration.Milliseconds()},
	}

	limits := dimensions.Resolve(req.Limits, current.Limits, u.cfg.Limits)
	if v := dimensions.Check(box, limits); v != nil {
		result.Status = models.FileStatusError
		result.FailureKind = models.FailureDimensionExceeded
		result.Message = v.Error()
		result.Axis = v.Axis
		return result
	}

	mass := res.MassGrams(u.cfg.Density)
	tiers := pricing.Calculate(mass, current.Pricing)
	result.Status = models.FileStatusSuccess
	result.MassGrams = mass
	result.Pricing = &tiers
	return result
}

func (u *Unit) currentSettings(ctx context.Context, src settings.Source) (settings.Settings, error) {
	if src == nil {
		return settings.Settings{Limits: u.cfg.Limits}, nil
	}
	return src.Current(ctx)
}

func failed(err error) models.FileResult {
	return models.FileResult{
		Status:      models.FileStatusError,
		FailureKind: models.KindOf(err),
		Message:     models.MessageOf(err),
	}
}
