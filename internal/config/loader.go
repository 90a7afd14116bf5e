package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Load reads a configuration file based on its extension and overlays
// it on the defaults. Supports: .yaml/.yml, .json, .toml
func Load(path string) (Config, error) {
	base := Default()
	if path == "" {
		return base, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return base, err
	}
	var overlay Config
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &overlay); err != nil {
			return base, fmt.Errorf("parse %s: %w", path, err)
		}
	case ".json":
		if err := json.Unmarshal(b, &overlay); err != nil {
			return base, fmt.Errorf("parse %s: %w", path, err)
		}
	case ".toml":
		if err := toml.Unmarshal(b, &overlay); err != nil {
			return base, fmt.Errorf("parse %s: %w", path, err)
		}
	default:
		return base, fmt.Errorf("unsupported config extension: %s", ext)
	}
	merged := base.Merge(overlay)
	if err := merged.Validate(); err != nil {
		return base, err
	}
	return merged, nil
}
