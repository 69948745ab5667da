package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Load reads the YAML file at path, expands environment variables, merges it
// over the built-in Defaults, and validates the result. This mirrors the
// teacher's config.Initialize pipeline: load -> expand -> parse -> merge ->
// validate.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, NewLoadError(path, ErrConfigNotFound)
		}
		return nil, NewLoadError(path, err)
	}

	expanded := ExpandEnv(raw)

	var user Config
	if err := yaml.Unmarshal(expanded, &user); err != nil {
		return nil, NewLoadError(path, fmt.Errorf("%w: %v", ErrInvalidYAML, err))
	}

	cfg := Defaults()
	if err := MergeInto(cfg, &user); err != nil {
		return nil, NewLoadError(path, err)
	}

	v := NewValidator()
	if err := v.ValidateAll(cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidationFailed, err)
	}

	return cfg, nil
}
