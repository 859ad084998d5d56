package mesh

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
)

// NativeConverter converts OBJ, 3MF and AMF in-process.
type NativeConverter struct {
	logger *zap.Logger
}

// NewNativeConverter creates the in-process converter.
func NewNativeConverter(logger *zap.Logger) *NativeConverter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NativeConverter{logger: logger}
}

func (c *NativeConverter) Name() string { return "native" }

func (c *NativeConverter) CanConvert(ext string) bool {
	switch ext {
	case ".obj", ".3mf", ".amf":
		return true
	}
	return false
}

func (c *NativeConverter) Convert(ctx context.Context, src, dst string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m, err := Load(src)
	if err != nil {
		return err
	}
	if len(m.Faces) == 0 {
		return fmt.Errorf("%s contains no triangles", filepath.Base(src))
	}

	stats := Repair(m)
	if len(m.Faces) == 0 {
		return fmt.Errorf("%s has no valid triangles after repair", filepath.Base(src))
	}
	c.logger.Debug("mesh repaired",
		zap.String("file", filepath.Base(src)),
		zap.Int("welded", stats.Welded),
		zap.Int("degenerate", stats.Degenerate),
		zap.Int("duplicates", stats.Duplicates),
		zap.Int("holes_filled", stats.HolesFilled),
		zap.Int("triangles", len(m.Faces)))

	name := strings.TrimSuffix(filepath.Base(src), filepath.Ext(src))
	if err := m.Solid(name).WriteFile(dst); err != nil {
		return fmt.Errorf("writing stl: %w", err)
	}
	return nil
}

// Load reads a supported non-STL model file by extension.
func Load(path string) (*Mesh, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening model: %w", err)
	}
	defer f.Close()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".obj":
		return ReadOBJ(f)
	case ".amf":
		return ReadAMF(f)
	case ".3mf":
		info, err := f.Stat()
		if err != nil {
			return nil, fmt.Errorf("stat model: %w", err)
		}
		return Read3MF(f, info.Size())
	default:
		return nil, fmt.Errorf("no in-process loader for %s", filepath.Ext(path))
	}
}
