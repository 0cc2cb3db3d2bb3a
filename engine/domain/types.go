// Package domain defines the catalog, wizard and report types shared by the
// capacity calculator, the rankers, the wizard and the report builder. It also
// acts as the validation gate for admin writes and permalink parameters.
package domain

import (
	"strings"
	"time"
)

// YearSpec is the electrical specification of one model year.
type YearSpec struct {
	Year                   int    `json:"year" validate:"min=1900,max=2100"`
	AlternatorOutput       int    `json:"alternatorOutput" validate:"min=0"`
	AlternatorOutputApprox bool   `json:"alternatorOutputApprox,omitempty"`
	StockLoad              int    `json:"stockLoad" validate:"min=0"`
	StockLoadApprox        bool   `json:"stockLoadApprox,omitempty"`
	ManualURL              string `json:"manualUrl,omitempty" validate:"omitempty,url,max=2048"`
}

// Model is a model line of a make with its model years.
type Model struct {
	Name  string     `json:"name" validate:"vehiclename"`
	Years []YearSpec `json:"years" validate:"dive"`
}

// Make is the top-level vehicle catalog document.
type Make struct {
	Make   string  `json:"make" validate:"vehiclename"`
	Models []Model `json:"models" validate:"dive"`
}

// VehicleKey identifies a model year. A zero Year means "not selected".
type VehicleKey struct {
	Make  string `json:"make"`
	Model string `json:"model"`
	Year  int    `json:"year"`
}

// Configured reports whether make, model and year are all chosen.
func (k VehicleKey) Configured() bool {
	return k.Make != "" && k.Model != "" && k.Year != 0
}

// Catalog is one in-memory copy of both reference catalogs.
type Catalog struct {
	Vehicles []Make    `json:"vehicles"`
	Fixtures []Fixture `json:"fixtures"`
}

// ModelsOf returns the models of make, or nil when the make is unknown.
func (c Catalog) ModelsOf(makeName string) []Model {
	for _, mk := range c.Vehicles {
		if mk.Make == makeName {
			return mk.Models
		}
	}
	return nil
}

// YearsOf returns the years of make/model, or nil when either is unknown.
func (c Catalog) YearsOf(makeName, model string) []YearSpec {
	for _, m := range c.ModelsOf(makeName) {
		if m.Name == model {
			return m.Years
		}
	}
	return nil
}

// Lookup finds the spec for a fully configured key.
func (c Catalog) Lookup(k VehicleKey) (YearSpec, bool) {
	if !k.Configured() {
		return YearSpec{}, false
	}
	for _, y := range c.YearsOf(k.Make, k.Model) {
		if y.Year == k.Year {
			return y, true
		}
	}
	return YearSpec{}, false
}

// FogFrequency is how often the rider meets fog.
type FogFrequency string

const (
	FogUnset        FogFrequency = ""
	FogFrequently   FogFrequency = "frequently"
	FogOccasionally FogFrequency = "occasionally"
	FogNo           FogFrequency = "no"
)

// Valid reports whether f is a known answer (including unset).
func (f FogFrequency) Valid() bool {
	switch f {
	case FogUnset, FogFrequently, FogOccasionally, FogNo:
		return true
	}
	return false
}

// SpeedBand is a typical cruising speed range in km/h.
type SpeedBand string

const (
	SpeedUnset    SpeedBand = ""
	Speed0To50    SpeedBand = "0-50"
	Speed50To80   SpeedBand = "50-80"
	Speed80To100  SpeedBand = "80-100"
	Speed100To140 SpeedBand = "100-140"
)

// SpeedBands lists the answerable bands from slowest to fastest.
var SpeedBands = []SpeedBand{Speed0To50, Speed50To80, Speed80To100, Speed100To140}

// Valid reports whether s is a known band (including unset).
func (s SpeedBand) Valid() bool {
	if s == SpeedUnset {
		return true
	}
	for _, b := range SpeedBands {
		if b == s {
			return true
		}
	}
	return false
}

// Terrain is the dominant riding environment.
type Terrain string

const (
	TerrainUnset   Terrain = ""
	TerrainCity    Terrain = "city"
	TerrainHighway Terrain = "highway"
	TerrainMixed   Terrain = "mixed"
	TerrainHilly   Terrain = "hilly"
)

// Valid reports whether t is a known terrain (including unset).
func (t Terrain) Valid() bool {
	switch t {
	case TerrainUnset, TerrainCity, TerrainHighway, TerrainMixed, TerrainHilly:
		return true
	}
	return false
}

// BeamColor is the preferred light colour.
type BeamColor string

const (
	BeamAmber BeamColor = "amber"
	BeamWhite BeamColor = "white"
)

// Valid reports whether c is a known colour.
func (c BeamColor) Valid() bool { return c == BeamAmber || c == BeamWhite }

// RecommendationMode selects which ranked list is active.
type RecommendationMode string

const (
	ModeStyle    RecommendationMode = "style"
	ModeCapacity RecommendationMode = "capacity"
)

// Valid reports whether m is a known mode.
func (m RecommendationMode) Valid() bool { return m == ModeStyle || m == ModeCapacity }

// Answers is the full set of wizard answers for one session.
type Answers struct {
	Step                int                `json:"step"`
	RecommendationMode  RecommendationMode `json:"recommendationMode"`
	RecommendationIndex int                `json:"recommendationIndex"`
	VisitorID           string             `json:"visitorId"`
	Make                string             `json:"make"`
	Model               string             `json:"model"`
	Year                int                `json:"year"`
	ExistingLoad        int                `json:"existingLoad"`
	FogFrequency        FogFrequency       `json:"fogFrequency"`
	Speed               SpeedBand          `json:"speed"`
	Terrain             Terrain            `json:"terrain"`
	WearsGlasses        bool               `json:"wearsGlasses"`
	LeftEye             string             `json:"leftEye"`
	RightEye            string             `json:"rightEye"`
	BeamColor           BeamColor          `json:"beamColor"`
	CheckedUsage        bool               `json:"checkedUsage"`
}

// Vehicle returns the selected vehicle key.
func (a Answers) Vehicle() VehicleKey {
	return VehicleKey{Make: a.Make, Model: a.Model, Year: a.Year}
}

// RidingAnswered reports whether the riding-conditions stage is complete.
func (a Answers) RidingAnswered() bool {
	if a.FogFrequency == FogUnset || a.Speed == SpeedUnset || a.Terrain == TerrainUnset {
		return false
	}
	if a.WearsGlasses {
		return strings.TrimSpace(a.LeftEye) != "" && strings.TrimSpace(a.RightEye) != ""
	}
	return true
}

// Status classifies electrical utilisation.
type Status string

const (
	StatusOptimized  Status = "Optimized"
	StatusNearLimit  Status = "Near Limit"
	StatusOverloaded Status = "Overloaded"
)

// CapacitySnapshot is the derived electrical headroom for one answer set.
type CapacitySnapshot struct {
	AlternatorOutput       int     `json:"alternatorOutput"`
	AlternatorOutputApprox bool    `json:"alternatorOutputApprox"`
	StockLoad              int     `json:"stockLoad"`
	StockLoadApprox        bool    `json:"stockLoadApprox"`
	ExistingLoad           int     `json:"existingLoad"`
	SafeMargin             int     `json:"safeMargin"`
	RecommendedMax         int     `json:"recommendedMax"`
	LoadPercent            float64 `json:"loadPercent"`
	Status                 Status  `json:"status"`
	// Approx marks SafeMargin and RecommendedMax as derived from an estimate.
	Approx bool `json:"approx"`
}

// Report is an immutable snapshot of one completed wizard session.
type Report struct {
	ID            string           `json:"id"`
	VisitorID     string           `json:"visitorId"`
	Answers       Answers          `json:"toolState"`
	Capacity      CapacitySnapshot `json:"capacity"`
	FeaturedLight *Fixture         `json:"featuredLight,omitempty"`
	CreatedAt     time.Time        `json:"createdAt"`
	HTML          string           `json:"html,omitempty"`
}
