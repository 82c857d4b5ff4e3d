package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// loadSources reads per-source overrides from a YAML file. A missing file is
// not an error; all overrides are optional.
func loadSources(path string) (SourcesConfig, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return SourcesConfig{}, nil
	}
	if err != nil {
		return SourcesConfig{}, fmt.Errorf("read sources config: %w", err)
	}
	var cfg SourcesConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return SourcesConfig{}, fmt.Errorf("parse sources config: %w", err)
	}
	return cfg, nil
}
