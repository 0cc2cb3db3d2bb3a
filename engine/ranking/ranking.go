// Package ranking orders the fixture catalog for the recommendation stage.
// Both rankers are pure: the same input always produces the same order and
// the input slice is never modified.
package ranking

import (
	"cmp"
	"math"
	"slices"

	"github.com/motolight/motolight/engine/domain"
	"github.com/motolight/motolight/pkg/fn"
)

// ByRating returns a copy of fixtures sorted by descending rating. Equal
// ratings keep catalog order.
func ByRating(fixtures []domain.Fixture) []domain.Fixture {
	out := slices.Clone(fixtures)
	if out == nil {
		out = []domain.Fixture{}
	}
	slices.SortStableFunc(out, func(a, b domain.Fixture) int {
		return cmp.Compare(b.Rating, a.Rating)
	})
	return out
}

// ByCapacity keeps fixtures drawing no more than floor(max(0, budget)) watts,
// best rated first. An empty result is a valid "nothing fits" answer.
func ByCapacity(fixtures []domain.Fixture, budgetWatts float64) []domain.Fixture {
	limit := math.Floor(math.Max(0, budgetWatts))
	if math.IsNaN(limit) {
		limit = 0
	}
	fits := fn.Filter(fixtures, func(f domain.Fixture) bool {
		return float64(f.LoadWatts) <= limit
	})
	return ByRating(fits)
}
