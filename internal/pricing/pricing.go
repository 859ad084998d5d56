// Package pricing turns a model mass into quoted price tiers.
package pricing

import (
	"math"

	"github.com/print-slicer/backend/internal/models"
)

// Tier multipliers over raw material cost.
const (
	GoodMultiplier   = 1.1
	BetterMultiplier = 1.2
	BestMultiplier   = 1.4
)

// Inputs are the per-call pricing parameters. SpoolPrice is the price of a
// 1 kg spool in the quote currency.
type Inputs struct {
	SpoolPrice float64 `json:"spoolPrice"`
	Margin     float64 `json:"margin"`
	Surcharge  float64 `json:"surcharge"`
}

// PricePerGram returns the material cost of one gram.
func (in Inputs) PricePerGram() float64 {
	return in.SpoolPrice / 1000
}

func (in Inputs) margin() float64 {
	if in.Margin <= 0 {
		return 1.0
	}
	return in.Margin
}

// Calculate prices a model of the given mass in grams.
func Calculate(massGrams float64, in Inputs) models.PricingTiers {
	base := massGrams * in.PricePerGram() * in.margin()
	return models.PricingTiers{
		Good:   round2(base*GoodMultiplier + in.Surcharge),
		Better: round2(base*BetterMultiplier + in.Surcharge),
		Best:   round2(base*BestMultiplier + in.Surcharge),
	}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
