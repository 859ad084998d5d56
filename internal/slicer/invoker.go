// Package slicer runs the external slicing engine and interprets its output.
package slicer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/print-slicer/backend/internal/models"
)

const (
	// DefaultTimeout bounds one engine run.
	DefaultTimeout = 240 * time.Second
	// InchScale converts a model authored in inches to millimetres.
	InchScale = 25.4

	maxAttempts = 2

	markerTooLarge     = "objects could not fit on the bed"
	markerNoExtrusions = "no extrusions were generated"
)

// DefaultArgs is the engine argument template.
var DefaultArgs = []string{"--load", "{config}", "--export-gcode", "-o", "{output}", "{input}", "--info"}

// Config configures the engine invocation.
type Config struct {
	Binary     string
	ConfigPath string
	Args       []string
	Timeout    time.Duration
	WorkDir    string
	// KillGrace is how long to wait for output pipes after the process is killed.
	KillGrace time.Duration
}

// ScaleFunc rescales a model file in place.
type ScaleFunc func(path string, factor float64) error

// Result is a successful engine run.
type Result struct {
	Output
	Attempts int           `json:"attempts"`
	Scaled   bool          `json:"scaled"`
	Duration time.Duration `json:"duration"`
}

// Invoker runs the engine with bounded time and one corrective scale retry.
type Invoker struct {
	cfg    Config
	scale  ScaleFunc
	logger *zap.Logger
	tracer trace.Tracer
}

// NewInvoker creates an engine invoker.
func NewInvoker(cfg Config, scale ScaleFunc, logger *zap.Logger) *Invoker {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if len(cfg.Args) == 0 {
		cfg.Args = DefaultArgs
	}
	if cfg.WorkDir == "" {
		cfg.WorkDir = os.TempDir()
	}
	if cfg.KillGrace <= 0 {
		cfg.KillGrace = 2 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Invoker{
		cfg:    cfg,
		scale:  scale,
		logger: logger.With(zap.String("component", "slicer")),
		tracer: otel.Tracer("github.com/print-slicer/backend/internal/slicer"),
	}
}

// CheckReady verifies the engine binary and engine config are usable.
func (inv *Invoker) CheckReady() error {
	if _, err := exec.LookPath(inv.cfg.Binary); err != nil {
		return fmt.Errorf("slicing engine %q not found: %w", inv.cfg.Binary, err)
	}
	if inv.cfg.ConfigPath != "" {
		f, err := os.Open(inv.cfg.ConfigPath)
		if err != nil {
			return fmt.Errorf("engine config unreadable: %w", err)
		}
		f.Close()
	}
	return nil
}

type run struct {
	stdout   string
	stderr   string
	err      error
	timedOut bool
	elapsed  time.Duration
}

func (r run) combined() string {
	return strings.ToLower(r.stdout + "\n" + r.stderr)
}

// Slice runs the engine on a native-format file. Failures are returned as
// *models.Failure.
func (inv *Invoker) Slice(ctx context.Context, inputPath string) (Result, error) {
	start := time.Now()
	scaled := false

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		r := inv.runOnce(ctx, inputPath, attempt)

		if r.timedOut {
			return Result{}, models.NewFailure(models.FailureTimeout,
				fmt.Sprintf("slicing timed out after %s", inv.cfg.Timeout), r.err)
		}
		if err := ctx.Err(); err != nil {
			return Result{}, models.NewFailure(models.FailureCanceled, "slicing canceled", err)
		}

		out := r.combined()
		if strings.Contains(out, markerTooLarge) {
			return Result{}, models.NewFailure(models.FailureTooLargeForBed,
				"model is too large to fit on the print bed", nil)
		}

		if strings.Contains(out, markerNoExtrusions) {
			if attempt == maxAttempts {
				return Result{}, models.NewFailure(models.FailureScaleRetryExhausted,
					"no extrusions generated even after scaling from inches", nil)
			}
			inv.logger.Info("no extrusions generated, retrying scaled from inches",
				zap.String("input", filepath.Base(inputPath)),
				zap.Float64("factor", InchScale))
			if inv.scale == nil {
				return Result{}, models.NewFailure(models.FailureScaleRetryExhausted,
					"no extrusions generated and model could not be rescaled", nil)
			}
			if err := inv.scale(inputPath, InchScale); err != nil {
				return Result{}, models.NewFailure(models.FailureScaleRetryExhausted,
					"no extrusions generated and model could not be rescaled", err)
			}
			scaled = true
			continue
		}

		parsed, err := ParseOutput(r.stdout)
		if err != nil {
			if r.err != nil {
				err = fmt.Errorf("%w (engine: %v)", err, r.err)
			}
			inv.logger.Warn("engine output unparseable",
				zap.String("input", filepath.Base(inputPath)),
				zap.Error(err),
				zap.String("stderr", tail(r.stderr, 512)))
			return Result{}, models.NewFailure(models.FailureParse, "could not read slicing results", err)
		}

		return Result{
			Output:   parsed,
			Attempts: attempt,
			Scaled:   scaled,
			Duration: time.Since(start),
		}, nil
	}

	// unreachable: the loop returns on every path of the last attempt
	return Result{}, models.NewFailure(models.FailureInternal, "slicing attempts exhausted", nil)
}

func (inv *Invoker) runOnce(ctx context.Context, inputPath string, attempt int) run {
	ctx, span := inv.tracer.Start(ctx, "slicer.engine",
		trace.WithAttributes(
			attribute.Int("attempt", attempt),
			attribute.String("input", filepath.Base(inputPath)),
		))
	defer span.End()

	artifact := filepath.Join(inv.cfg.WorkDir, uuid.New().String()+".gcode")
	defer inv.removeQuietly(artifact)

	runCtx, cancel := context.WithTimeout(ctx, inv.cfg.Timeout)
	defer cancel()

	args := inv.buildArgs(inputPath, artifact, attempt == 1)
	cmd := exec.CommandContext(runCtx, inv.cfg.Binary, args...)
	cmd.WaitDelay = inv.cfg.KillGrace
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	started := time.Now()
	err := cmd.Run()
	r := run{
		stdout:  stdout.String(),
		stderr:  stderr.String(),
		err:     err,
		elapsed: time.Since(started),
	}
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		r.timedOut = true
	}

	inv.logger.Debug("engine finished",
		zap.Int("attempt", attempt),
		zap.Duration("elapsed", r.elapsed),
		zap.Bool("timed_out", r.timedOut),
		zap.Error(err))

	span.SetAttributes(attribute.Bool("timed_out", r.timedOut))
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
	}
	return r
}

// buildArgs expands the argument template. The config-load pair is dropped
// when withConfig is false or no config is set.
func (inv *Invoker) buildArgs(input, output string, withConfig bool) []string {
	tmpl := inv.cfg.Args
	args := make([]string, 0, len(tmpl))
	for i := 0; i < len(tmpl); i++ {
		tok := tmpl[i]
		if tok == "--load" && (!withConfig || inv.cfg.ConfigPath == "") {
			i++
			continue
		}
		tok = strings.ReplaceAll(tok, "{config}", inv.cfg.ConfigPath)
		tok = strings.ReplaceAll(tok, "{output}", output)
		tok = strings.ReplaceAll(tok, "{input}", input)
		args = append(args, tok)
	}
	return args
}

func (inv *Invoker) removeQuietly(path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		inv.logger.Warn("failed to remove engine artifact", zap.String("path", path), zap.Error(err))
	}
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
