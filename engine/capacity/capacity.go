// Package capacity computes the electrical headroom left on a motorcycle's
// charging system and how much of it a new fog light should take.
package capacity

import (
	"math"

	"github.com/motolight/motolight/engine/domain"
)

// Defaults used when no configuration overrides them.
const (
	DefaultRecommendedFraction   = 0.9
	DefaultAssumedFixtureCeiling = 40
)

// Status thresholds on loadPercent (inclusive upper bounds).
const (
	OptimizedMax = 70.0
	NearLimitMax = 90.0
)

// FallbackSpec stands in for an unselected vehicle.
var FallbackSpec = domain.YearSpec{AlternatorOutput: 510, StockLoad: 340}

// Config tunes the recommendation.
type Config struct {
	// RecommendedFraction is the share of the safe margin offered as the
	// fixture ceiling. Values outside (0, 1] fall back to the default.
	RecommendedFraction float64
	// AssumedFixtureCeiling caps the draw assumed when estimating loadPercent.
	AssumedFixtureCeiling int
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		RecommendedFraction:   DefaultRecommendedFraction,
		AssumedFixtureCeiling: DefaultAssumedFixtureCeiling,
	}
}

// Calculator computes capacity snapshots. It holds no mutable state and is
// safe for concurrent use.
type Calculator struct {
	fraction float64
	ceiling  int
}

// New creates a Calculator, replacing out-of-range settings with defaults.
func New(cfg Config) *Calculator {
	c := &Calculator{fraction: cfg.RecommendedFraction, ceiling: cfg.AssumedFixtureCeiling}
	if math.IsNaN(c.fraction) || c.fraction <= 0 || c.fraction > 1 {
		c.fraction = DefaultRecommendedFraction
	}
	if c.ceiling < 0 {
		c.ceiling = DefaultAssumedFixtureCeiling
	}
	return c
}

// Fraction returns the effective recommended fraction.
func (c *Calculator) Fraction() float64 { return c.fraction }

// Compute derives the snapshot for spec and the declared existing load. A nil
// spec uses FallbackSpec. Compute never fails; every guard is a clamp.
func (c *Calculator) Compute(spec *domain.YearSpec, existingLoad int) domain.CapacitySnapshot {
	s := FallbackSpec
	if spec != nil {
		s = *spec
	}
	existing := max(existingLoad, 0)

	safeMargin := s.AlternatorOutput - s.StockLoad - existing
	recommendedMax := max(0, int(math.Floor(float64(safeMargin)*c.fraction)))

	assumed := min(recommendedMax, c.ceiling)
	pct := LoadPercent(s.AlternatorOutput, s.StockLoad+existing+assumed)

	approx := s.AlternatorOutputApprox || s.StockLoadApprox
	return domain.CapacitySnapshot{
		AlternatorOutput:       s.AlternatorOutput,
		AlternatorOutputApprox: s.AlternatorOutputApprox,
		StockLoad:              s.StockLoad,
		StockLoadApprox:        s.StockLoadApprox,
		ExistingLoad:           existing,
		SafeMargin:             safeMargin,
		RecommendedMax:         recommendedMax,
		LoadPercent:            pct,
		Status:                 Classify(pct),
		Approx:                 approx,
	}
}

// LoadPercent expresses load as a share of output, clamped to [0, 100]. Zero
// or negative output counts as fully saturated.
func LoadPercent(output, load int) float64 {
	if output <= 0 {
		return 100
	}
	pct := float64(load) / float64(output) * 100
	return math.Min(100, math.Max(0, pct))
}

// Classify maps a load percentage to a status.
func Classify(loadPercent float64) domain.Status {
	switch {
	case loadPercent <= OptimizedMax:
		return domain.StatusOptimized
	case loadPercent <= NearLimitMax:
		return domain.StatusNearLimit
	default:
		return domain.StatusOverloaded
	}
}

// Budget is the wattage a new fixture may draw in capacity-fit ranking.
func Budget(s domain.CapacitySnapshot) float64 {
	return float64(s.SafeMargin)
}

var defaultCalculator = New(DefaultConfig())

// Compute uses the default configuration.
func Compute(spec *domain.YearSpec, existingLoad int) domain.CapacitySnapshot {
	return defaultCalculator.Compute(spec, existingLoad)
}
