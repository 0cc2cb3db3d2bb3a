package wizard

import "github.com/motolight/motolight/engine/domain"

// Patch is a partial update of the wizard answers. Nil fields are left
// untouched. The visitor id is not patchable.
type Patch struct {
	Step                *int                       `json:"step,omitempty"`
	RecommendationMode  *domain.RecommendationMode `json:"recommendationMode,omitempty"`
	RecommendationIndex *int                       `json:"recommendationIndex,omitempty"`
	Make                *string                    `json:"make,omitempty"`
	Model               *string                    `json:"model,omitempty"`
	Year                *int                       `json:"year,omitempty"`
	ExistingLoad        *int                       `json:"existingLoad,omitempty"`
	FogFrequency        *domain.FogFrequency       `json:"fogFrequency,omitempty"`
	Speed               *domain.SpeedBand          `json:"speed,omitempty"`
	Terrain             *domain.Terrain            `json:"terrain,omitempty"`
	WearsGlasses        *bool                      `json:"wearsGlasses,omitempty"`
	LeftEye             *string                    `json:"leftEye,omitempty"`
	RightEye            *string                    `json:"rightEye,omitempty"`
	BeamColor           *domain.BeamColor          `json:"beamColor,omitempty"`
	CheckedUsage        *bool                      `json:"checkedUsage,omitempty"`
}

// Ptr returns a pointer to v, for building patches.
func Ptr[T any](v T) *T { return &v }

// VehiclePatch selects a vehicle key. Zero parts are omitted.
func VehiclePatch(k domain.VehicleKey) *Patch {
	p := &Patch{}
	if k.Make != "" {
		p.Make = Ptr(k.Make)
	}
	if k.Model != "" {
		p.Model = Ptr(k.Model)
	}
	if k.Year != 0 {
		p.Year = Ptr(k.Year)
	}
	return p
}

// apply merges p into a. Selecting a make clears model and year, selecting a
// model clears year; explicitly supplied lower levels are then applied on top.
// Enum values that are not recognised are ignored.
func (p *Patch) apply(a *domain.Answers) {
	if p.Make != nil {
		a.Make = domain.NormalizeName(*p.Make)
		a.Model = ""
		a.Year = 0
	}
	if p.Model != nil {
		a.Model = domain.NormalizeName(*p.Model)
		a.Year = 0
	}
	if p.Year != nil {
		a.Year = max(*p.Year, 0)
	}
	if p.ExistingLoad != nil {
		a.ExistingLoad = max(*p.ExistingLoad, 0)
	}
	if p.FogFrequency != nil && p.FogFrequency.Valid() {
		a.FogFrequency = *p.FogFrequency
	}
	if p.Speed != nil && p.Speed.Valid() {
		a.Speed = *p.Speed
	}
	if p.Terrain != nil && p.Terrain.Valid() {
		a.Terrain = *p.Terrain
	}
	if p.WearsGlasses != nil {
		a.WearsGlasses = *p.WearsGlasses
	}
	if p.LeftEye != nil {
		a.LeftEye = *p.LeftEye
	}
	if p.RightEye != nil {
		a.RightEye = *p.RightEye
	}
	if p.BeamColor != nil && p.BeamColor.Valid() {
		a.BeamColor = *p.BeamColor
	}
	if p.CheckedUsage != nil {
		a.CheckedUsage = *p.CheckedUsage
	}
	if p.RecommendationMode != nil && p.RecommendationMode.Valid() && *p.RecommendationMode != a.RecommendationMode {
		a.RecommendationMode = *p.RecommendationMode
		a.RecommendationIndex = 0
	}
	if p.RecommendationIndex != nil {
		a.RecommendationIndex = max(*p.RecommendationIndex, 0)
	}
	if p.Step != nil {
		a.Step = ClampStep(*p.Step)
	}
}
