// pkg/core/load.go
package core

import (
	"bytes"
	"fmt"
	"os"

	manifest "github.com/joeydtaylor/steeze-applink/pkg/manifest"
	toml "github.com/pelletier/go-toml/v2"
)

// LoadConfig reads, decodes and validates a TOML manifest.
func LoadConfig(path string) (manifest.Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return manifest.Config{}, err
	}
	return ParseConfig(b)
}

// ParseConfig decodes and validates manifest bytes. Unknown keys are errors.
func ParseConfig(b []byte) (manifest.Config, error) {
	var cfg manifest.Config
	dec := toml.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return manifest.Config{}, fmt.Errorf("manifest: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return manifest.Config{}, fmt.Errorf("manifest: %w", err)
	}
	return cfg, nil
}
