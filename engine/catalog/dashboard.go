package catalog

import (
	"context"
	"math"
	"sort"
)

// DashboardModel summarises one model line for the admin screen.
type DashboardModel struct {
	Name string `json:"name"`
	// Rows are newest first.
	Rows           []YearRow `json:"rows"`
	AvgAlternator  int       `json:"avgAlternator"`
	ManualCoverage int       `json:"manualCoverage"`
}

// YearRow is one model year as listed on the dashboard.
type YearRow struct {
	Year                   int    `json:"year"`
	AlternatorOutput       int    `json:"alternatorOutput"`
	AlternatorOutputApprox bool   `json:"alternatorOutputApprox"`
	StockLoad              int    `json:"stockLoad"`
	StockLoadApprox        bool   `json:"stockLoadApprox"`
	ManualURL              string `json:"manualUrl,omitempty"`
}

// DashboardMake groups the models of a make.
type DashboardMake struct {
	Name       string           `json:"name"`
	Models     []DashboardModel `json:"models"`
	TotalYears int              `json:"totalYears"`
}

// Dashboard is the admin overview of the vehicle catalog.
type Dashboard struct {
	Makes          []DashboardMake `json:"makes"`
	TotalYears     int             `json:"totalYears"`
	ManualCoverage int             `json:"manualCoverage"`
}

// Dashboard builds the admin overview. Coverage figures are whole percents
// of model years that link a service manual.
func (s *Store) Dashboard(ctx context.Context) (Dashboard, error) {
	makes, err := s.ListVehicles(ctx)
	if err != nil {
		return Dashboard{}, err
	}

	out := Dashboard{Makes: make([]DashboardMake, 0, len(makes))}
	var linked int
	for _, mk := range makes {
		dm := DashboardMake{Name: mk.Make, Models: make([]DashboardModel, 0, len(mk.Models))}
		for _, m := range mk.Models {
			rows := make([]YearRow, 0, len(m.Years))
			var alternator, manuals int
			for _, y := range m.Years {
				rows = append(rows, YearRow(y))
				alternator += y.AlternatorOutput
				if y.ManualURL != "" {
					manuals++
				}
			}
			sort.SliceStable(rows, func(i, j int) bool { return rows[i].Year > rows[j].Year })

			dm.Models = append(dm.Models, DashboardModel{
				Name:           m.Name,
				Rows:           rows,
				AvgAlternator:  ratio(alternator, len(rows), 1),
				ManualCoverage: ratio(manuals, len(rows), 100),
			})
			dm.TotalYears += len(rows)
			linked += manuals
		}
		out.TotalYears += dm.TotalYears
		out.Makes = append(out.Makes, dm)
	}
	out.ManualCoverage = ratio(linked, out.TotalYears, 100)
	return out, nil
}

// ratio returns round(n/d*scale), or zero when d is zero.
func ratio(n, d, scale int) int {
	if d == 0 {
		return 0
	}
	return int(math.Round(float64(n) / float64(d) * float64(scale)))
}
