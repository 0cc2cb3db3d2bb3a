package ranking

import (
	"math"
	"strconv"
	"strings"

	"github.com/motolight/motolight/engine/domain"
	"github.com/motolight/motolight/pkg/fn"
)

// Product family markers matched against "<id> <name>", case-insensitively.
// FamilyUrban suits low speed and city riding, FamilyHighway fast open roads.
const (
	FamilyUrban   = "x1"
	FamilyHighway = "x2"
)

// SevereMyopia is the eye power below which a rider gets the wider beam first.
const SevereMyopia = -2.0

// RidingInputs are the answers the riding-style ranker looks at.
type RidingInputs struct {
	Terrain      domain.Terrain
	Speed        domain.SpeedBand
	WearsGlasses bool
	LeftEye      string
	RightEye     string
}

// InputsFrom extracts the riding inputs from a full answer set.
func InputsFrom(a domain.Answers) RidingInputs {
	return RidingInputs{
		Terrain:      a.Terrain,
		Speed:        a.Speed,
		WearsGlasses: a.WearsGlasses,
		LeftEye:      a.LeftEye,
		RightEye:     a.RightEye,
	}
}

// ParseEyePower reads a prescription like "-1.25". Blank or non-numeric text
// yields ok=false, which means "no data" and not zero.
func ParseEyePower(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

// SevereNearSight reports whether either eye is below SevereMyopia. Riders
// without glasses never qualify.
func (in RidingInputs) SevereNearSight() bool {
	if !in.WearsGlasses {
		return false
	}
	if v, ok := ParseEyePower(in.LeftEye); ok && v < SevereMyopia {
		return true
	}
	if v, ok := ParseEyePower(in.RightEye); ok && v < SevereMyopia {
		return true
	}
	return false
}

// InFamily reports whether f belongs to the given product family.
func InFamily(f domain.Fixture, family string) bool {
	key := strings.ToLower(f.ID + " " + f.Name)
	return strings.Contains(key, family)
}

// ByRidingStyle picks the family anchors suited to the rider. When no anchor
// applies it falls back to the whole catalog by rating, so a non-empty
// catalog always yields a non-empty list.
func ByRidingStyle(fixtures []domain.Fixture, in RidingInputs) []domain.Fixture {
	urban, hasUrban := fn.Find(fixtures, func(f domain.Fixture) bool { return InFamily(f, FamilyUrban) })
	highway, hasHighway := fn.Find(fixtures, func(f domain.Fixture) bool { return InFamily(f, FamilyHighway) })

	var picks []domain.Fixture
	add := func(f domain.Fixture, ok bool) {
		if ok {
			picks = append(picks, f)
		}
	}

	switch {
	case in.Terrain == domain.TerrainCity,
		in.Speed == domain.Speed0To50,
		in.Speed == domain.Speed50To80:
		add(urban, hasUrban)
	case in.Speed == domain.Speed100To140:
		add(highway, hasHighway)
		add(urban, hasUrban)
	case in.Speed == domain.Speed80To100 && in.SevereNearSight():
		add(highway, hasHighway)
		add(urban, hasUrban)
	default:
		add(urban, hasUrban)
		add(highway, hasHighway)
	}

	if len(picks) == 0 {
		return ByRating(fixtures)
	}
	// One product can carry both markers; list it once.
	return fn.UniqueBy(picks, func(f domain.Fixture) string { return f.ID })
}
