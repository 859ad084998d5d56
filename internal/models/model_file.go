package models

import (
	"path/filepath"
	"strings"
)

// FileStatus is the lifecycle status of a model file record.
type FileStatus string

const (
	FileStatusPending    FileStatus = "pending"
	FileStatusProcessing FileStatus = "processing"
	FileStatusSuccess    FileStatus = "success"
	FileStatusError      FileStatus = "error"
)

// IsTerminal reports whether no further transition is allowed.
func (s FileStatus) IsTerminal() bool {
	return s == FileStatusSuccess || s == FileStatusError
}

// ModelFile is one 3D model submitted for slicing.
type ModelFile struct {
	ID      string     `json:"id" msgpack:"id"`
	BatchID string     `json:"batchId,omitempty" msgpack:"batchId,omitempty"`
	Source  string     `json:"source" msgpack:"source"` // remote URL or blob key
	Name    string     `json:"name" msgpack:"name"`
	Status  FileStatus `json:"status" msgpack:"status"`
}

// Ext returns the lower-cased extension of the declared name, falling back
// to the source location when the name has none.
func (f ModelFile) Ext() string {
	ext := strings.ToLower(filepath.Ext(f.Name))
	if ext == "" {
		src := f.Source
		if i := strings.IndexAny(src, "?#"); i >= 0 {
			src = src[:i]
		}
		ext = strings.ToLower(filepath.Ext(src))
	}
	return ext
}

// BoundingBox holds model extents in millimetres.
type BoundingBox struct {
	X float64 `json:"x" bson:"x" msgpack:"x"`
	Y float64 `json:"y" bson:"y" msgpack:"y"`
	Z float64 `json:"z" bson:"z" msgpack:"z"`
}

// DimensionLimits is the per-axis maximum printable extent in millimetres.
// A zero axis means "not set" and is filled from the next source.
type DimensionLimits struct {
	X float64 `json:"x" bson:"x" yaml:"x"`
	Y float64 `json:"y" bson:"y" yaml:"y"`
	Z float64 `json:"z" bson:"z" yaml:"z"`
}

// Merge fills unset axes of l from fallback.
func (l DimensionLimits) Merge(fallback DimensionLimits) DimensionLimits {
	if l.X <= 0 {
		l.X = fallback.X
	}
	if l.Y <= 0 {
		l.Y = fallback.Y
	}
	if l.Z <= 0 {
		l.Z = fallback.Z
	}
	return l
}

// PricingTiers are the three quoted prices for one model.
type PricingTiers struct {
	Good   float64 `json:"good" bson:"good" msgpack:"good"`
	Better float64 `json:"better" bson:"better" msgpack:"better"`
	Best   float64 `json:"best" bson:"best" msgpack:"best"`
}
