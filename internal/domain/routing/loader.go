package routing

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// File is the on-disk format of a rules file.
type File struct {
	TypeFields []string `yaml:"type_fields"`
	CodeFields []string `yaml:"code_fields"`
	Routes     []Route  `yaml:"routes"`
}

// LoadFromFile reads a rules file and builds its table and extractor.
// Field lists left empty fall back to DefaultExtractor.
func LoadFromFile(path string) (*Table, Extractor, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path comes from operator config
	if err != nil {
		return nil, Extractor{}, fmt.Errorf("read rules file %s: %w", path, err)
	}

	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, Extractor{}, fmt.Errorf("parse rules file %s: %w", path, err)
	}

	t, err := NewTable(f.Routes)
	if err != nil {
		return nil, Extractor{}, fmt.Errorf("validate rules file %s: %w", path, err)
	}

	return t, f.Extractor(), nil
}

// Extractor returns the extractor described by the file.
func (f File) Extractor() Extractor {
	x := DefaultExtractor()
	if len(f.TypeFields) > 0 {
		x.TypeFields = f.TypeFields
	}
	if len(f.CodeFields) > 0 {
		x.CodeFields = f.CodeFields
	}
	return x
}
