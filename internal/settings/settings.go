// Package settings supplies pricing and size-limit parameters, read fresh for
// every file.
package settings

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/print-slicer/backend/internal/models"
	"github.com/print-slicer/backend/internal/pricing"
)

// Settings are the operator-controlled parameters for one file.
type Settings struct {
	Pricing pricing.Inputs         `json:"pricing"`
	Limits  models.DimensionLimits `json:"limits"`
	// SurchargeSet marks a surcharge that was configured explicitly, so a
	// deliberate zero is kept by Fallback.
	SurchargeSet bool `json:"-"`
}

// Source returns the current settings.
type Source interface {
	Current(ctx context.Context) (Settings, error)
}

// Static always returns the same settings.
type Static Settings

func (s Static) Current(context.Context) (Settings, error) { return Settings(s), nil }

// Fallback reads from Primary and falls back to Secondary when Primary fails.
// Unset values from Primary are filled from Secondary.
type Fallback struct {
	Primary   Source
	Secondary Source
	Logger    *zap.Logger
}

func (f *Fallback) Current(ctx context.Context) (Settings, error) {
	base, err := f.Secondary.Current(ctx)
	if err != nil {
		return Settings{}, err
	}
	s, err := f.Primary.Current(ctx)
	if err != nil {
		if f.Logger != nil {
			f.Logger.Warn("settings source unavailable, using static settings", zap.Error(err))
		}
		return base, nil
	}
	if s.Pricing.SpoolPrice <= 0 {
		s.Pricing.SpoolPrice = base.Pricing.SpoolPrice
	}
	if s.Pricing.Margin <= 0 {
		s.Pricing.Margin = base.Pricing.Margin
	}
	if s.Pricing.Surcharge == 0 && !s.SurchargeSet {
		s.Pricing.Surcharge = base.Pricing.Surcharge
	}
	s.Limits = s.Limits.Merge(base.Limits)
	return s, nil
}

// Router picks a Source per deployment environment.
type Router struct {
	def     string
	sources map[string]Source
}

// NewRouter creates a router with def as the default environment.
func NewRouter(def string, sources map[string]Source) *Router {
	return &Router{def: def, sources: sources}
}

// For returns the source for env.
func (r *Router) For(env string) (Source, error) {
	if env == "" {
		env = r.def
	}
	s, ok := r.sources[env]
	if !ok {
		return nil, fmt.Errorf("unknown environment %q", env)
	}
	return s, nil
}
