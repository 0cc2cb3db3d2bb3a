package domain

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Vehicle names: letters/digits first, then a small punctuation set, max 64.
var vehicleNameRegex = regexp.MustCompile(`^[\p{L}\p{N}][\p{L}\p{N} .&'()+/-]{0,63}$`)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	if err := v.RegisterValidation("vehiclename", func(fl validator.FieldLevel) bool {
		return vehicleNameRegex.MatchString(fl.Field().String())
	}); err != nil {
		panic(err)
	}
	return v
}

// NormalizeName trims surrounding whitespace from a make or model name.
func NormalizeName(s string) string { return strings.TrimSpace(s) }

// SameName compares make/model names the way uniqueness is enforced.
func SameName(a, b string) bool {
	return strings.EqualFold(NormalizeName(a), NormalizeName(b))
}

// ValidateName checks a make or model name.
func ValidateName(field, name string) error {
	if err := validate.Var(name, "vehiclename"); err != nil {
		return NewValidationError(field, name, ErrInvalidVehicleSpec)
	}
	return nil
}

// ValidateYearSpec checks the numeric bounds and manual URL of a year spec.
func ValidateYearSpec(s YearSpec) error {
	if err := validate.Struct(s); err != nil {
		return fieldError(err, ErrInvalidVehicleSpec)
	}
	return nil
}

// ValidateFixture checks a single fixture record.
func ValidateFixture(f Fixture) error {
	if err := validate.Struct(f); err != nil {
		return fieldError(err, ErrInvalidFixture)
	}
	return nil
}

// ValidateVehicles checks a full vehicle dataset: every record must be valid
// and make, model-within-make and year-within-model must be unique.
func ValidateVehicles(makes []Make) error {
	seenMakes := make(map[string]bool, len(makes))
	for _, mk := range makes {
		if err := validate.Struct(mk); err != nil {
			return fieldError(err, ErrInvalidVehicleSpec)
		}
		mkey := strings.ToLower(NormalizeName(mk.Make))
		if seenMakes[mkey] {
			return NewValidationError("make", mk.Make, ErrDuplicateMake)
		}
		seenMakes[mkey] = true

		seenModels := make(map[string]bool, len(mk.Models))
		for _, m := range mk.Models {
			key := strings.ToLower(NormalizeName(m.Name))
			if seenModels[key] {
				return NewValidationError("model", mk.Make+" "+m.Name, ErrDuplicateModel)
			}
			seenModels[key] = true

			seenYears := make(map[int]bool, len(m.Years))
			for _, y := range m.Years {
				if seenYears[y.Year] {
					return NewValidationError("year", fmt.Sprintf("%s %s %d", mk.Make, m.Name, y.Year), ErrDuplicateYear)
				}
				seenYears[y.Year] = true
			}
		}
	}
	return nil
}

// ValidateFixtures checks a full fixture dataset, including id uniqueness.
func ValidateFixtures(fixtures []Fixture) error {
	seen := make(map[string]bool, len(fixtures))
	for _, f := range fixtures {
		if err := ValidateFixture(f); err != nil {
			return err
		}
		if seen[f.ID] {
			return NewValidationError("id", f.ID, ErrDuplicateFixture)
		}
		seen[f.ID] = true
	}
	return nil
}

// fieldError converts the first validator failure into a ValidationError.
func fieldError(err error, sentinel error) error {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		field := fe.Namespace()
		if i := strings.IndexByte(field, '.'); i >= 0 {
			field = field[i+1:]
		}
		return NewValidationError(field, valueString(fe.Value()), sentinel)
	}
	return fmt.Errorf("%w: %v", sentinel, err)
}

func valueString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case int:
		return strconv.Itoa(t)
	default:
		return fmt.Sprint(v)
	}
}
