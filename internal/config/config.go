package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"
)

// HostConfig holds blackhole-host settings persisted in ~/.blackhole/host.yaml.
type HostConfig struct {
	WormholeURL   string   `yaml:"wormhole_url,omitempty"`
	WormholeToken string   `yaml:"wormhole_token,omitempty"`
	DevMode       bool     `yaml:"dev_mode,omitempty"`
	Labels        []string `yaml:"labels,omitempty"`
	LANPort       int      `yaml:"lan_port,omitempty"`
	LANEnabled    bool     `yaml:"lan_enabled,omitempty"`
	RelayEnabled  bool     `yaml:"relay_enabled,omitempty"`
	DefaultRows   int      `yaml:"default_rows,omitempty"`
	DefaultCols   int      `yaml:"default_cols,omitempty"`
}

// VoyagerConfig holds blackhole-voyager settings persisted in
// ~/.blackhole/voyager.yaml. Most voyager inputs (URL, session, token) are
// UI-entered per spec §6, but remembering the last-used values is a
// reasonable quality-of-life addition a real client would make.
type VoyagerConfig struct {
	LastURL   string `yaml:"last_url,omitempty"`
	LastToken string `yaml:"last_token,omitempty"`
}

// LoadHostConfig reads host.yaml from dir, applies WORMHOLE_URL,
// WORMHOLE_TOKEN, and BLACKHOLE_DEV env var overrides, and fills
// DefaultRows/DefaultCols with spec defaults (24x80) when unset. A missing
// file is not an error — it returns a zero-value config with defaults and
// env overrides applied, same as the teacher's LoadWingConfig.
func LoadHostConfig(dir string) (*HostConfig, error) {
	cfg := &HostConfig{}
	if err := loadYAML(filepath.Join(dir, "host.yaml"), cfg); err != nil {
		return nil, err
	}
	applyHostEnv(cfg)
	if cfg.DefaultRows == 0 {
		cfg.DefaultRows = 24
	}
	if cfg.DefaultCols == 0 {
		cfg.DefaultCols = 80
	}
	return cfg, nil
}

// SaveHostConfig writes host.yaml to dir.
func SaveHostConfig(dir string, cfg *HostConfig) error {
	return saveYAML(dir, "host.yaml", cfg)
}

// LoadVoyagerConfig reads voyager.yaml from dir. A missing file returns a
// zero-value config, no error.
func LoadVoyagerConfig(dir string) (*VoyagerConfig, error) {
	cfg := &VoyagerConfig{}
	if err := loadYAML(filepath.Join(dir, "voyager.yaml"), cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// SaveVoyagerConfig writes voyager.yaml to dir.
func SaveVoyagerConfig(dir string, cfg *VoyagerConfig) error {
	return saveYAML(dir, "voyager.yaml", cfg)
}

// applyHostEnv overrides cfg with WORMHOLE_URL/WORMHOLE_TOKEN/BLACKHOLE_DEV
// per spec §6's "Configuration (environment / args)" note. Env vars win
// over the file, matching the teacher's precedent of env overriding
// persisted config for connection settings.
func applyHostEnv(cfg *HostConfig) {
	if v := os.Getenv("WORMHOLE_URL"); v != "" {
		cfg.WormholeURL = v
	}
	if v := os.Getenv("WORMHOLE_TOKEN"); v != "" {
		cfg.WormholeToken = v
	}
	if v := os.Getenv("BLACKHOLE_DEV"); v != "" {
		if on, err := strconv.ParseBool(v); err == nil {
			cfg.DevMode = on
		}
	}
	if cfg.WormholeURL != "" {
		cfg.RelayEnabled = true
	}
}

func loadYAML(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

func saveYAML(dir, name string, in any) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("mkdir %s: %w", dir, err)
	}
	data, err := yaml.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", name, err)
	}
	if err := os.WriteFile(filepath.Join(dir, name), data, 0644); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	return nil
}
