package domain

import (
	"encoding/json"
	"testing"
)

func testCatalog() Catalog {
	return Catalog{Vehicles: []Make{
		{Make: "Honda", Models: []Model{
			{Name: "CB350", Years: []YearSpec{{Year: 2021, AlternatorOutput: 300, StockLoad: 200}}},
		}},
	}}
}

func TestCatalogLookup(t *testing.T) {
	c := testCatalog()
	spec, ok := c.Lookup(VehicleKey{"Honda", "CB350", 2021})
	if !ok || spec.AlternatorOutput != 300 {
		t.Fatalf("expected hit, got %+v %v", spec, ok)
	}
	if _, ok := c.Lookup(VehicleKey{"Honda", "CB350", 0}); ok {
		t.Fatal("unconfigured key must miss")
	}
	if _, ok := c.Lookup(VehicleKey{"Honda", "CB350", 2022}); ok {
		t.Fatal("unknown year must miss")
	}
	if c.ModelsOf("Yamaha") != nil {
		t.Fatal("unknown make must have no models")
	}
}

func TestRidingAnswered(t *testing.T) {
	a := Answers{FogFrequency: FogFrequently, Speed: Speed50To80, Terrain: TerrainMixed}
	if !a.RidingAnswered() {
		t.Fatal("expected answered")
	}
	a.WearsGlasses = true
	a.LeftEye = "-1.5"
	a.RightEye = "  "
	if a.RidingAnswered() {
		t.Fatal("blank eye power must block")
	}
	a.RightEye = "abc"
	if !a.RidingAnswered() {
		t.Fatal("non-numeric eye text still counts as answered")
	}
	a.Terrain = TerrainUnset
	if a.RidingAnswered() {
		t.Fatal("unset terrain must block")
	}
}

func TestEnumValid(t *testing.T) {
	if !SpeedBand("80-100").Valid() || SpeedBand("200+").Valid() {
		t.Fatal("speed band validity wrong")
	}
	if !Terrain("hilly").Valid() || Terrain("offroad").Valid() {
		t.Fatal("terrain validity wrong")
	}
	if !FogFrequency("").Valid() || FogFrequency("always").Valid() {
		t.Fatal("fog validity wrong")
	}
	if BeamColor("").Valid() || !BeamColor("white").Valid() {
		t.Fatal("beam color validity wrong")
	}
}

func TestFixtureUnmarshal_LumensAlias(t *testing.T) {
	var f Fixture
	data := `{"id":" x2 ","name":"X2 Pro","loadWatts":40,"lumens":"8,500 LM","rating":4.8}`
	if err := json.Unmarshal([]byte(data), &f); err != nil {
		t.Fatal(err)
	}
	if f.ID != "x2" || f.Lux != "8,500 LM" || f.LoadWatts != 40 || f.ShopURL != "" {
		t.Fatalf("unexpected fixture: %+v", f)
	}

	var g Fixture
	if err := json.Unmarshal([]byte(`{"id":"a","name":"A","lux":"1200","lumens":"ignored"}`), &g); err != nil {
		t.Fatal(err)
	}
	if g.Lux != "1200" {
		t.Fatalf("lux should win over lumens, got %q", g.Lux)
	}
}
