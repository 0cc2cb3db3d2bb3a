package domain

import (
	"encoding/json"
	"strings"
)

// Fixture is an aftermarket fog-light product.
type Fixture struct {
	ID        string  `json:"id" validate:"required,max=128"`
	Name      string  `json:"name" validate:"required,max=256"`
	LoadWatts int     `json:"loadWatts" validate:"min=0"`
	Lux       string  `json:"lux"` // display text, e.g. "8,500 LM"
	ImageURL  string  `json:"imageUrl" validate:"omitempty,max=2048"`
	Rating    float64 `json:"rating" validate:"min=0,max=5"`
	ShopURL   string  `json:"shopUrl,omitempty" validate:"omitempty,url,max=2048"`
}

// fixtureRecord is the on-the-wire shape. Older datasets carry the brightness
// under "lumens" and may omit shopUrl.
type fixtureRecord struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	LoadWatts *int     `json:"loadWatts"`
	Lux       *string  `json:"lux"`
	Lumens    *string  `json:"lumens"`
	ImageURL  string   `json:"imageUrl"`
	Rating    *float64 `json:"rating"`
	ShopURL   string   `json:"shopUrl"`
}

// UnmarshalJSON accepts both the current and the "lumens" era record shapes.
func (f *Fixture) UnmarshalJSON(data []byte) error {
	var rec fixtureRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return err
	}
	out := Fixture{
		ID:       strings.TrimSpace(rec.ID),
		Name:     strings.TrimSpace(rec.Name),
		ImageURL: rec.ImageURL,
		ShopURL:  rec.ShopURL,
	}
	if rec.LoadWatts != nil {
		out.LoadWatts = *rec.LoadWatts
	}
	switch {
	case rec.Lux != nil:
		out.Lux = *rec.Lux
	case rec.Lumens != nil:
		out.Lux = *rec.Lumens
	}
	if rec.Rating != nil {
		out.Rating = *rec.Rating
	}
	*f = out
	return nil
}
