package wizard

import (
	"math"

	"github.com/motolight/motolight/engine/capacity"
	"github.com/motolight/motolight/engine/domain"
	"github.com/motolight/motolight/engine/ranking"
	"github.com/motolight/motolight/pkg/fn"
)

// View is everything derived from one answer set and one catalog copy. It is
// recomputed on every read and never stored.
type View struct {
	Answers           domain.Answers          `json:"answers"`
	StepTitle         string                  `json:"stepTitle"`
	VehicleConfigured bool                    `json:"vehicleConfigured"`
	CanRevealResults  bool                    `json:"canRevealResults"`
	CanAdvance        bool                    `json:"canAdvance"`
	Capacity          domain.CapacitySnapshot `json:"capacity"`
	Spec              *domain.YearSpec        `json:"spec,omitempty"`

	Makes  []string `json:"makes"`
	Models []string `json:"models"`
	Years  []int    `json:"years"`

	Recommendations []domain.Fixture `json:"recommendations"`
	Featured        *domain.Fixture  `json:"featured,omitempty"`
	// NoFit is set in capacity mode when no fixture fits BudgetWatts.
	NoFit       bool `json:"noFit"`
	BudgetWatts int  `json:"budgetWatts"`
}

// Evaluate derives the view. Once results are revealed the recommendation
// index in the returned answers is clamped to the active list; a is not
// modified.
func Evaluate(a domain.Answers, cat domain.Catalog, calc *capacity.Calculator) View {
	v := View{
		StepTitle:         StepTitles[ClampStep(a.Step)],
		VehicleConfigured: a.Vehicle().Configured(),
		CanRevealResults:  canReveal(a),
		CanAdvance:        canAdvance(a),
		Makes:             fn.Map(cat.Vehicles, func(m domain.Make) string { return m.Make }),
		Models:            fn.Map(cat.ModelsOf(a.Make), func(m domain.Model) string { return m.Name }),
		Years:             fn.Map(cat.YearsOf(a.Make, a.Model), func(y domain.YearSpec) int { return y.Year }),
	}
	if spec, ok := cat.Lookup(a.Vehicle()); ok {
		v.Spec = &spec
	}
	v.Capacity = calc.Compute(v.Spec, a.ExistingLoad)

	budget := capacity.Budget(v.Capacity)
	v.BudgetWatts = int(math.Floor(math.Max(0, budget)))

	if v.CanRevealResults {
		v.Recommendations = ActiveList(a, cat.Fixtures, budget)
		a.RecommendationIndex = ClampIndex(a.RecommendationIndex, len(v.Recommendations))
		if len(v.Recommendations) > 0 {
			f := v.Recommendations[a.RecommendationIndex]
			v.Featured = &f
		} else if a.RecommendationMode == domain.ModeCapacity {
			v.NoFit = true
		}
	}
	v.Answers = a
	return v
}

// ActiveList ranks fixtures with the ranker selected by the answers.
func ActiveList(a domain.Answers, fixtures []domain.Fixture, budget float64) []domain.Fixture {
	if a.RecommendationMode == domain.ModeCapacity {
		return ranking.ByCapacity(fixtures, budget)
	}
	return ranking.ByRidingStyle(fixtures, ranking.InputsFrom(a))
}
