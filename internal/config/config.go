// Package config loads the tool configuration from a YAML file with
// environment overrides. Everything has a working default so the tool
// runs without any configuration at all.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// RemoteConfig describes the optional remote mirror repository. The
// credential itself is never part of the file; only the name of the
// environment variable that carries it is.
type RemoteConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Owner      string `yaml:"owner"`
	Repository string `yaml:"repository"`
	Branch     string `yaml:"branch"`
	APIBase    string `yaml:"api_base"`
	TokenEnv   string `yaml:"token_env"`
}

// Config is the full tool configuration.
type Config struct {
	DataDir    string       `yaml:"data_dir"`
	Database   string       `yaml:"database"`
	ModulesDir string       `yaml:"modules_dir"`
	UsersFile  string       `yaml:"users_file"`
	Remote     RemoteConfig `yaml:"remote"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	cfg := &Config{}
	cfg.normalize()
	return cfg
}

// Load reads the configuration. The path is resolved in order: the
// explicit argument, the TRAINTRACK_CONFIG environment variable, then
// the default location. A missing file is not an error; the defaults
// apply.
func Load(explicit string) (*Config, error) {
	path := explicit
	if path == "" {
		path = os.Getenv("TRAINTRACK_CONFIG")
	}
	if path == "" {
		path = DefaultPath()
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		if explicit != "" {
			return nil, fmt.Errorf("config file %s does not exist", explicit)
		}
		cfg := Default()
		applyEnv(cfg)
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.normalize()
	applyEnv(cfg)
	return cfg, nil
}

// DefaultPath returns the default config file location.
func DefaultPath() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "traintrack", "config.yaml")
	}
	return filepath.Join(defaultDataDir(), "config.yaml")
}

// normalize fills fields the file left empty relative to the configured
// data directory.
func (c *Config) normalize() {
	if c.DataDir == "" {
		c.DataDir = defaultDataDir()
	}
	if c.Database == "" {
		c.Database = filepath.Join(c.DataDir, "traintrack.db")
	}
	if c.ModulesDir == "" {
		c.ModulesDir = filepath.Join(c.DataDir, "modules")
	}
	if c.UsersFile == "" {
		c.UsersFile = filepath.Join(c.DataDir, "users.json")
	}
	if c.Remote.Branch == "" {
		c.Remote.Branch = "main"
	}
	if c.Remote.TokenEnv == "" {
		c.Remote.TokenEnv = "TRAINTRACK_TOKEN"
	}
}

// applyEnv layers environment overrides on top of the file.
func applyEnv(c *Config) {
	if v := os.Getenv("TRAINTRACK_DATA_DIR"); v != "" {
		c.DataDir = v
	}
	if v := os.Getenv("TRAINTRACK_DB"); v != "" {
		c.Database = v
	}
	if v := os.Getenv("TRAINTRACK_MODULES_DIR"); v != "" {
		c.ModulesDir = v
	}
	if v := os.Getenv("TRAINTRACK_REMOTE_OWNER"); v != "" {
		c.Remote.Owner = v
	}
	if v := os.Getenv("TRAINTRACK_REMOTE_REPO"); v != "" {
		c.Remote.Repository = v
	}
}

func defaultDataDir() string {
	if dir, err := os.UserHomeDir(); err == nil {
		return filepath.Join(dir, ".traintrack")
	}
	return ".traintrack"
}
