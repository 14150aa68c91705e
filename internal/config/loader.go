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

// Config holds installer parameters.
// Zero values mean "unspecified" and are filled from Defaults by Resolve.
type Config struct {
	Root            string `json:"root" yaml:"root" toml:"root"`
	PayloadDir      string `json:"payload_dir" yaml:"payload_dir" toml:"payload_dir"`
	UnitDir         string `json:"unit_dir" yaml:"unit_dir" toml:"unit_dir"`
	User            string `json:"user" yaml:"user" toml:"user"`
	Model           string `json:"model" yaml:"model" toml:"model"`
	SettleSeconds   int    `json:"settle_seconds" yaml:"settle_seconds" toml:"settle_seconds"`
	RestartSeconds  int    `json:"restart_seconds" yaml:"restart_seconds" toml:"restart_seconds"`
	DriverVersion   string `json:"driver_version" yaml:"driver_version" toml:"driver_version"`
	PostInstallTest string `json:"post_install_test" yaml:"post_install_test" toml:"post_install_test"`
	MetricsTextfile string `json:"metrics_textfile" yaml:"metrics_textfile" toml:"metrics_textfile"`
	Python          string `json:"python" yaml:"python" toml:"python"`
	LogLevel        string `json:"log_level" yaml:"log_level" toml:"log_level"`
	DryRun          bool   `json:"dry_run" yaml:"dry_run" toml:"dry_run"`
}

// Load reads a configuration file based on its extension.
// Supports: .yaml/.yml, .json, .toml
func Load(path string) (Config, error) {
	var cfg Config
	if path == "" {
		return cfg, fmt.Errorf("empty config path")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, fmt.Errorf("parse %s: %w", path, err)
		}
	case ".json":
		if err := json.Unmarshal(b, &cfg); err != nil {
			return cfg, fmt.Errorf("parse %s: %w", path, err)
		}
	case ".toml":
		if err := toml.Unmarshal(b, &cfg); err != nil {
			return cfg, fmt.Errorf("parse %s: %w", path, err)
		}
	default:
		return cfg, fmt.Errorf("unsupported config extension: %s", ext)
	}
	return cfg, nil
}

// overlay copies every non-zero field of src onto dst.
func overlay(dst *Config, src Config) {
	setStr := func(d *string, s string) {
		if s != "" {
			*d = s
		}
	}
	setStr(&dst.Root, src.Root)
	setStr(&dst.PayloadDir, src.PayloadDir)
	setStr(&dst.UnitDir, src.UnitDir)
	setStr(&dst.User, src.User)
	setStr(&dst.Model, src.Model)
	setStr(&dst.DriverVersion, src.DriverVersion)
	setStr(&dst.PostInstallTest, src.PostInstallTest)
	setStr(&dst.MetricsTextfile, src.MetricsTextfile)
	setStr(&dst.Python, src.Python)
	setStr(&dst.LogLevel, src.LogLevel)
	if src.SettleSeconds != 0 {
		dst.SettleSeconds = src.SettleSeconds
	}
	if src.RestartSeconds != 0 {
		dst.RestartSeconds = src.RestartSeconds
	}
	if src.DryRun {
		dst.DryRun = true
	}
}
