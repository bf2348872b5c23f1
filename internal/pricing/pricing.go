// Package pricing turns dimensions and a catalog entry into a priced
// quote line.
package pricing

import (
	"fmt"
	"math"

	"github.com/rs/zerolog"

	"github.com/mailquote/mailquote/internal/config"
	"github.com/mailquote/mailquote/internal/formula"
	"github.com/mailquote/mailquote/internal/storage"
)

// Result is a computed price for one quoted item.
type Result struct {
	LengthIn   float64
	WidthIn    float64
	AreaSqIn   float64
	UnitPrice  float64
	TotalPrice float64
	// MinApplied reports whether the minimum order amount clamped the
	// computed total.
	MinApplied bool
}

// Engine computes quote prices from product rates or formulas.
type Engine struct {
	cfg    config.PricingConfig
	logger zerolog.Logger
}

// NewEngine creates a pricing engine with the given defaults.
func NewEngine(cfg config.PricingConfig, logger zerolog.Logger) *Engine {
	return &Engine{
		cfg:    cfg,
		logger: logger.With().Str("component", "pricing").Logger(),
	}
}

// ValidateDimensions checks the requested size against the product's
// bounds. Out-of-bounds requests are rejected, never silently resized.
func (e *Engine) ValidateDimensions(p *storage.Product, lengthIn, widthIn float64) error {
	if lengthIn <= 0 || widthIn <= 0 {
		return fmt.Errorf("dimensions must be positive, got %.2f x %.2f", lengthIn, widthIn)
	}

	area := lengthIn * widthIn
	if p.MinSizeSqIn > 0 && area < p.MinSizeSqIn {
		return fmt.Errorf("%.0f sq in is below the minimum size of %.0f sq in for %s",
			area, p.MinSizeSqIn, p.Name)
	}
	if p.MaxSizeSqIn > 0 && area > p.MaxSizeSqIn {
		return fmt.Errorf("%.0f sq in exceeds the maximum size of %.0f sq in for %s",
			area, p.MaxSizeSqIn, p.Name)
	}
	return nil
}

// Calculate prices the requested dimensions against the product. A
// product formula takes precedence; when it fails to evaluate, the
// flat rate path is used instead so a bad formula degrades to a sane
// price rather than blocking the quote. The minimum order amount is
// applied last and the unit price is derived from the clamped total.
func (e *Engine) Calculate(p *storage.Product, lengthIn, widthIn float64) (*Result, error) {
	if lengthIn <= 0 || widthIn <= 0 {
		return nil, fmt.Errorf("dimensions must be positive, got %.2f x %.2f", lengthIn, widthIn)
	}

	area := lengthIn * widthIn
	rate := p.RatePerSqIn
	if rate <= 0 {
		rate = e.cfg.BaseRatePerSqIn
	}

	total := area * rate
	if p.Formula != "" {
		// base_price is the product's own legacy rate, zero when the
		// product has none; rate already falls back to the configured
		// default.
		basePrice := 0.0
		if p.RatePerSqIn > 0 {
			basePrice = p.RatePerSqIn
		}
		vars := map[string]float64{
			"length":     lengthIn,
			"width":      widthIn,
			"area":       area,
			"rate":       rate,
			"base_price": basePrice,
		}
		v, err := formula.Evaluate(p.Formula, vars)
		if err != nil {
			e.logger.Warn().
				Err(err).
				Int64("product_id", p.ID).
				Msg("Formula evaluation failed, falling back to flat rate")
		} else {
			total = v
		}
	}

	minApplied := false
	if e.cfg.MinOrderAmount > 0 && total < e.cfg.MinOrderAmount {
		total = e.cfg.MinOrderAmount
		minApplied = true
	}

	total = round(total, 2)

	return &Result{
		LengthIn:   lengthIn,
		WidthIn:    widthIn,
		AreaSqIn:   area,
		UnitPrice:  round(total/area, 4),
		TotalPrice: total,
		MinApplied: minApplied,
	}, nil
}

func round(v float64, places int) float64 {
	pow := math.Pow(10, float64(places))
	return math.Round(v*pow) / pow
}
