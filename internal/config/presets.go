package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"natsvisor/internal/launch"
)

// Preset is a saved set of server toggles.
type Preset struct {
	Name    string         `yaml:"name" json:"name"`
	Request launch.Request `yaml:",inline" json:"request"`
}

type PresetsConfig struct {
	// Autostart names a preset to launch when natsvisor starts.
	Autostart string   `yaml:"autostart,omitempty" json:"autostart,omitempty"`
	Presets   []Preset `yaml:"presets" json:"presets"`
}

// Find returns the preset called name.
func (c *PresetsConfig) Find(name string) (Preset, bool) {
	for _, p := range c.Presets {
		if p.Name == name {
			return p, true
		}
	}
	return Preset{}, false
}

// LoadPresets reads the presets file. A missing file yields an empty set.
func LoadPresets(path string) (*PresetsConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &PresetsConfig{Presets: []Preset{}}, nil
		}
		return nil, err
	}

	var cfg PresetsConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse presets %s: %w", path, err)
	}

	seen := make(map[string]bool, len(cfg.Presets))
	for i, p := range cfg.Presets {
		if p.Name == "" {
			return nil, fmt.Errorf("preset %d has no name", i)
		}
		if seen[p.Name] {
			return nil, fmt.Errorf("duplicate preset %q", p.Name)
		}
		seen[p.Name] = true
	}

	if cfg.Autostart != "" {
		if _, ok := cfg.Find(cfg.Autostart); !ok {
			return nil, fmt.Errorf("autostart preset %q is not defined", cfg.Autostart)
		}
	}
	if cfg.Presets == nil {
		cfg.Presets = []Preset{}
	}

	return &cfg, nil
}
