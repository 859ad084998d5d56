package pipeline

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/print-slicer/backend/internal/models"
	"github.com/print-slicer/backend/internal/pricing"
	"github.com/print-slicer/backend/internal/report"
	"github.com/print-slicer/backend/internal/settings"
)

// ManualRequest prices a model whose mass was measured by hand.
type ManualRequest struct {
	FileID    string
	Name      string
	MassGrams float64
	Settings  settings.Source
	Sink      report.Sink
}

// Quote prices a manually weighed model and delivers a success result.
// Settings are read fresh, as for sliced files.
func (u *Unit) Quote(ctx context.Context, req ManualRequest) (models.FileResult, error) {
	if req.MassGrams < 0 {
		return models.FileResult{}, fmt.Errorf("mass must not be negative, got %g", req.MassGrams)
	}
	current, err := u.currentSettings(ctx, req.Settings)
	if err != nil {
		return models.FileResult{}, fmt.Errorf("loading pricing settings: %w", err)
	}

	tiers := pricing.Calculate(req.MassGrams, current.Pricing)
	result := models.FileResult{
		FileID:    req.FileID,
		Name:      req.Name,
		Status:    models.FileStatusSuccess,
		MassGrams: req.MassGrams,
		Pricing:   &tiers,
	}

	log := u.logger.With(zap.String("file_id", req.FileID))
	log.Info("manual quote", zap.Float64("mass_g", req.MassGrams), zap.Float64("good", tiers.Good))
	u.deliver(ctx, req.Sink, result, log)
	for _, o := range u.observers {
		o.UnitFinished(ctx, "", result)
	}
	return result, nil
}
