package mesh

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/print-slicer/backend/internal/models"
)

// NativeExt is the format the slicing engine is fed.
const NativeExt = ".stl"

// DefaultAllowed lists the extensions accepted by default: the native format
// plus everything NativeConverter reads. Other formats such as .ply need an
// external converter and must be allowed explicitly.
var DefaultAllowed = []string{".stl", ".obj", ".3mf", ".amf"}

// Normalizer turns any allowed model file into a native STL file.
type Normalizer struct {
	allowed    map[string]bool
	converters []Converter
	logger     *zap.Logger
}

// NewNormalizer creates a normalizer trying converters in order.
func NewNormalizer(allowed []string, converters []Converter, logger *zap.Logger) *Normalizer {
	if len(allowed) == 0 {
		allowed = DefaultAllowed
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	set := make(map[string]bool, len(allowed))
	for _, e := range allowed {
		set[normalizeExt(e)] = true
	}
	return &Normalizer{
		allowed:    set,
		converters: converters,
		logger:     logger.With(zap.String("component", "normalizer")),
	}
}

// Supported reports whether ext is on the allow-list.
func (n *Normalizer) Supported(ext string) bool {
	return n.allowed[normalizeExt(ext)]
}

// Allowed returns the allow-list, sorted.
func (n *Normalizer) Allowed() []string {
	out := make([]string, 0, len(n.allowed))
	for e := range n.allowed {
		out = append(out, e)
	}
	sort.Strings(out)
	return out
}

// Normalize returns the path of a native STL for src. Native files are
// returned unchanged. On successful conversion src is deleted; on failure no
// output file is left behind.
func (n *Normalizer) Normalize(ctx context.Context, src string) (string, error) {
	ext := normalizeExt(filepath.Ext(src))
	if !n.Supported(ext) {
		return "", models.NewFailure(models.FailureUnsupportedFormat,
			fmt.Sprintf("unsupported file type %q", ext), nil)
	}
	if ext == NativeExt {
		return src, nil
	}

	dst := strings.TrimSuffix(src, filepath.Ext(src)) + NativeExt
	var errs []error
	for _, conv := range n.converters {
		if !conv.CanConvert(ext) {
			continue
		}
		err := conv.Convert(ctx, src, dst)
		if err == nil {
			err = verifyOutput(dst)
		}
		if err == nil {
			if rmErr := os.Remove(src); rmErr != nil && !os.IsNotExist(rmErr) {
				n.logger.Warn("failed to remove converted source", zap.String("path", src), zap.Error(rmErr))
			}
			n.logger.Debug("converted model",
				zap.String("converter", conv.Name()),
				zap.String("from", ext))
			return dst, nil
		}

		os.Remove(dst)
		n.logger.Warn("converter failed",
			zap.String("converter", conv.Name()),
			zap.String("file", filepath.Base(src)),
			zap.Error(err))
		errs = append(errs, fmt.Errorf("%s: %w", conv.Name(), err))

		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", models.NewFailure(models.FailureCanceled, "conversion canceled", ctxErr)
		}
	}

	if len(errs) == 0 {
		return "", models.NewFailure(models.FailureConversion,
			fmt.Sprintf("no converter available for %s files", ext), nil)
	}
	return "", models.NewFailure(models.FailureConversion,
		fmt.Sprintf("could not convert %s file", ext), errors.Join(errs...))
}

func verifyOutput(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("converter produced no output: %w", err)
	}
	if info.Size() == 0 {
		return errors.New("converter produced an empty file")
	}
	return nil
}

func normalizeExt(ext string) string {
	ext = strings.ToLower(strings.TrimSpace(ext))
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return ext
}
