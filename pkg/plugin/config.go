package plugin

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	xerrors "PluginHub/internal/errors"
)

// KindBase names the built-in factory that produces a bare *Base.
const KindBase = "base"

// Defaults handed to every plugin ahead of its own registration configs.
var defaultSettings = []string{
	"service.name=cool plugin",
	"service.description=just an awesome service",
}

// ManagerConfig describes how the plugin manager should behave.
type ManagerConfig struct {
	Name      string         `yaml:"name"`
	PluginDir string         `yaml:"pluginDir"`
	Defaults  []string       `yaml:"defaults"`
	Plugins   []PluginConfig `yaml:"plugins"`
}

// PluginConfig is the configuration block for a single plugin instance.
// Exactly one of Kind and Path selects how the plugin is built.
type PluginConfig struct {
	ID       string   `yaml:"id"`
	Kind     string   `yaml:"kind"`
	Path     string   `yaml:"path"`
	Enabled  bool     `yaml:"enabled"`
	Activate bool     `yaml:"activate"`
	Config   []string `yaml:"config"`
}

// DefaultManagerConfig returns the configuration used when none is supplied.
func DefaultManagerConfig() ManagerConfig {
	var cfg ManagerConfig
	cfg.applyDefaults()
	return cfg
}

// LoadManagerConfig reads a YAML file into a ManagerConfig.
func LoadManagerConfig(path string) (ManagerConfig, error) {
	var cfg ManagerConfig
	if path == "" {
		return cfg, xerrors.New(xerrors.CodeConfigInvalid, "config path cannot be empty")
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, xerrors.Wrap(xerrors.CodeConfigInvalid, err, "read plugin config")
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, xerrors.Wrap(xerrors.CodeConfigInvalid, err, "unmarshal plugin config")
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate ensures the manager configuration is internally consistent.
func (c ManagerConfig) Validate() error {
	for _, raw := range c.Defaults {
		if _, ok := ParseSetting(raw); !ok {
			return xerrors.New(xerrors.CodeConfigInvalid, fmt.Sprintf("default setting %q must be key=value", raw))
		}
	}
	seen := make(map[string]struct{}, len(c.Plugins))
	for i, p := range c.Plugins {
		id := strings.TrimSpace(p.ID)
		if id == "" {
			return xerrors.New(xerrors.CodeConfigInvalid, fmt.Sprintf("plugins[%d]: id cannot be empty", i))
		}
		if _, dup := seen[id]; dup {
			return xerrors.New(xerrors.CodeConfigInvalid, fmt.Sprintf("plugin %s declared more than once", id))
		}
		seen[id] = struct{}{}
		if !p.Enabled {
			if p.Activate {
				return xerrors.New(xerrors.CodeConfigInvalid, fmt.Sprintf("plugin %s cannot activate while disabled", id))
			}
			continue
		}
		switch {
		case p.Kind != "" && p.Path != "":
			return xerrors.New(xerrors.CodeConfigInvalid, fmt.Sprintf("plugin %s sets both kind and path", id))
		case p.Kind == "" && p.Path == "":
			return xerrors.New(xerrors.CodeConfigInvalid, fmt.Sprintf("plugin %s needs a kind or a path when enabled", id))
		}
	}
	return nil
}

func (c *ManagerConfig) applyDefaults() {
	if strings.TrimSpace(c.Name) == "" {
		c.Name = "plugin-manager"
	}
	if c.Defaults == nil {
		c.Defaults = append([]string(nil), defaultSettings...)
	}
}

func baseFactory(id string) (Plugin, error) {
	return NewBase(id), nil
}
