// Package report snapshots a finished wizard session into an immutable,
// shareable record and persists it.
package report

import (
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"

	"github.com/motolight/motolight/engine/domain"
)

// Placeholder is rendered for any unset field.
const Placeholder = "-"

// CodeLength is the length of the human-facing report code.
const CodeLength = 6

// Builder assembles reports.
type Builder struct {
	now   func() time.Time
	newID func() string
}

// NewBuilder returns a Builder stamping reports with UUIDs and UTC time.
func NewBuilder() *Builder {
	return &Builder{
		now:   func() time.Time { return time.Now().UTC() },
		newID: uuid.NewString,
	}
}

// Build snapshots the answers, the capacity and the featured fixture. The
// report shares no memory with its inputs.
func (b *Builder) Build(a domain.Answers, c domain.CapacitySnapshot, featured *domain.Fixture) domain.Report {
	r := domain.Report{
		ID:        b.newID(),
		VisitorID: a.VisitorID,
		Answers:   a,
		Capacity:  c,
		CreatedAt: b.now(),
	}
	if featured != nil {
		f := *featured
		r.FeaturedLight = &f
	}
	return r
}

// Code derives a short upper-case code from the trailing alphanumerics of id.
// Short ids are left-padded with zeros.
func Code(id string) string {
	var alnum []rune
	for _, r := range id {
		if r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)) {
			alnum = append(alnum, unicode.ToUpper(r))
		}
	}
	if len(alnum) > CodeLength {
		alnum = alnum[len(alnum)-CodeLength:]
	}
	return strings.Repeat("0", CodeLength-len(alnum)) + string(alnum)
}

// VehicleLabel renders "Make Model Year" with placeholders for unset parts.
func VehicleLabel(k domain.VehicleKey) string {
	year := Placeholder
	if k.Year != 0 {
		year = itoa(k.Year)
	}
	return orPlaceholder(k.Make) + " " + orPlaceholder(k.Model) + " " + year
}

func orPlaceholder(s string) string {
	if strings.TrimSpace(s) == "" {
		return Placeholder
	}
	return s
}
