// Package config loads library configuration from YAML with environment
// overrides. Embedding processes call Load once at startup; every value has
// a usable default so a missing file is not an error.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the full configuration.
type Config struct {
	Storage struct {
		// DBPath is the pebble directory backing the record store.
		DBPath string `yaml:"db_path"`
	} `yaml:"storage"`
	User struct {
		// URL is the home user's origin; the notification indexer works
		// on its behalf.
		URL string `yaml:"url"`
	} `yaml:"user"`
	Logging struct {
		Level string `yaml:"level"`
	} `yaml:"logging"`
}

// Defaults returns the baseline configuration.
func Defaults() Config {
	var c Config
	c.Storage.DBPath = "data"
	c.Logging.Level = "info"
	return c
}

// Load reads a YAML config file and applies environment overrides
// (LIBFRITTER_DB_PATH, LIBFRITTER_USER_URL, LIBFRITTER_LOG_LEVEL). An empty
// path or missing file yields defaults plus overrides.
func Load(path string) (Config, error) {
	c := Defaults()
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return c, fmt.Errorf("read config: %w", err)
		}
		if err == nil {
			if err := yaml.Unmarshal(b, &c); err != nil {
				return c, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}
	if v := os.Getenv("LIBFRITTER_DB_PATH"); v != "" {
		c.Storage.DBPath = v
	}
	if v := os.Getenv("LIBFRITTER_USER_URL"); v != "" {
		c.User.URL = v
	}
	if v := os.Getenv("LIBFRITTER_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	return c, nil
}
