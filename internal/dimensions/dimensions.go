// Package dimensions checks model extents against the printable volume.
package dimensions

import (
	"fmt"
	"strconv"

	"github.com/print-slicer/backend/internal/models"
)

// DefaultLimit is the per-axis maximum in millimetres when nothing else is configured.
const DefaultLimit = 300.0

// DefaultLimits returns DefaultLimit on every axis.
func DefaultLimits() models.DimensionLimits {
	return models.DimensionLimits{X: DefaultLimit, Y: DefaultLimit, Z: DefaultLimit}
}

// Violation describes the first axis that exceeds its limit.
type Violation struct {
	Axis     string
	Measured float64
	Allowed  float64
}

func (v *Violation) Error() string {
	return fmt.Sprintf("dimension %s too large: measured %smm, allowed %smm",
		v.Axis, formatMM(v.Measured), formatMM(v.Allowed))
}

// Check returns the first violated axis in X, Y, Z order, or nil.
func Check(box models.BoundingBox, limits models.DimensionLimits) *Violation {
	limits = limits.Merge(DefaultLimits())
	axes := []struct {
		name     string
		measured float64
		allowed  float64
	}{
		{"X", box.X, limits.X},
		{"Y", box.Y, limits.Y},
		{"Z", box.Z, limits.Z},
	}
	for _, a := range axes {
		if a.measured > a.allowed {
			return &Violation{Axis: a.name, Measured: a.measured, Allowed: a.allowed}
		}
	}
	return nil
}

// Resolve picks the effective limits: request override, then settings, then the static default.
func Resolve(override *models.DimensionLimits, fromSettings, static models.DimensionLimits) models.DimensionLimits {
	base := fromSettings.Merge(static).Merge(DefaultLimits())
	if override == nil {
		return base
	}
	return override.Merge(base)
}

func formatMM(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
