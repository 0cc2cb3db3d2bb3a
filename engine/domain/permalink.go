package domain

import (
	"net/url"
	"regexp"
	"strconv"
	"strings"
)

var reportIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]{8,128}$`)

// Permalink query parameter names.
const (
	ParamReport = "report"
	ParamMake   = "make"
	ParamModel  = "model"
	ParamYear   = "year"
)

// ParseReportID returns the trimmed report id when it has an acceptable shape.
func ParseReportID(raw string) (string, bool) {
	id := strings.TrimSpace(raw)
	if !reportIDPattern.MatchString(id) {
		return "", false
	}
	return id, true
}

type vehicleParams struct {
	Make  string `validate:"vehiclename"`
	Model string `validate:"vehiclename"`
	Year  int    `validate:"min=1900,max=2100"`
}

// ParseVehicleParams reads make/model/year from a permalink. Each level is
// only kept when it and every level above it pass validation; anything else
// is dropped silently.
func ParseVehicleParams(q url.Values) VehicleKey {
	var key VehicleKey
	p := vehicleParams{
		Make:  NormalizeName(q.Get(ParamMake)),
		Model: NormalizeName(q.Get(ParamModel)),
	}
	if p.Make == "" || validate.StructPartial(p, "Make") != nil {
		return key
	}
	key.Make = p.Make

	if p.Model == "" || validate.StructPartial(p, "Model") != nil {
		return key
	}
	key.Model = p.Model

	raw := strings.TrimSpace(q.Get(ParamYear))
	if len(raw) > 4 {
		return key
	}
	year, err := strconv.Atoi(raw)
	if err != nil {
		return key
	}
	p.Year = year
	if validate.StructPartial(p, "Year") != nil {
		return key
	}
	key.Year = year
	return key
}
