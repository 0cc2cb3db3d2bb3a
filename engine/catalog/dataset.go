package catalog

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/motolight/motolight/engine/domain"
)

// ErrNotArray is returned when a dataset's top level is not a list.
var ErrNotArray = errors.New("dataset must be an array")

// LoadVehicles reads and validates a vehicle dataset file.
func LoadVehicles(path string) ([]domain.Make, error) {
	var makes []domain.Make
	if err := loadDataset(path, &makes); err != nil {
		return nil, err
	}
	if err := domain.ValidateVehicles(makes); err != nil {
		return nil, err
	}
	return makes, nil
}

// LoadFixtures reads and validates a fixture dataset file.
func LoadFixtures(path string) ([]domain.Fixture, error) {
	var fixtures []domain.Fixture
	if err := loadDataset(path, &fixtures); err != nil {
		return nil, err
	}
	if err := domain.ValidateFixtures(fixtures); err != nil {
		return nil, err
	}
	return fixtures, nil
}

func loadDataset(path string, out any) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read dataset: %w", err)
	}
	data, err := toJSON(raw, filepath.Ext(path))
	if err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

// toJSON normalises YAML input to JSON so records go through the same
// decoders (including the legacy fixture field names).
func toJSON(raw []byte, ext string) ([]byte, error) {
	switch strings.ToLower(ext) {
	case ".yaml", ".yml":
		var doc any
		if err := yaml.Unmarshal(raw, &doc); err != nil {
			return nil, err
		}
		if _, ok := doc.([]any); !ok {
			return nil, ErrNotArray
		}
		return json.Marshal(doc)
	default:
		var probe []json.RawMessage
		if err := json.Unmarshal(raw, &probe); err != nil {
			var typeErr *json.UnmarshalTypeError
			if errors.As(err, &typeErr) {
				return nil, ErrNotArray
			}
			return nil, err
		}
		return raw, nil
	}
}
