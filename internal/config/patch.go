package config

import (
	"fmt"

	"github.com/titanous/json5"
	"gopkg.in/yaml.v3"
)

// ApplyPatch merges a JSON5 patch document into cfg. Only keys present
// in the patch are changed. JSON5 is accepted so hand-written patches
// may carry comments and trailing commas.
func ApplyPatch(cfg *Config, patch []byte) error {
	var overlay map[string]interface{}
	if err := json5.Unmarshal(patch, &overlay); err != nil {
		return fmt.Errorf("parse config patch: %w", err)
	}

	// Round-trip through YAML so the overlay hits the same struct tags
	// as the config file itself.
	data, err := yaml.Marshal(overlay)
	if err != nil {
		return fmt.Errorf("normalize patch: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("apply patch: %w", err)
	}
	applyDefaults(cfg)
	return nil
}
