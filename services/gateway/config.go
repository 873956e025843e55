// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package gateway

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// fileConfig mirrors Config in the YAML config file. Durations are
// given in milliseconds, matching the environment variables.
type fileConfig struct {
	Port              int    `yaml:"port"`
	UserServiceURL    string `yaml:"user_service_url"`
	UpstreamTimeoutMS int    `yaml:"upstream_timeout_ms"`
	ShutdownGraceMS   int    `yaml:"shutdown_grace_ms"`
	OTelEndpoint      string `yaml:"otel_endpoint"`
	OTelExporter      string `yaml:"otel_exporter"`
	GinMode           string `yaml:"gin_mode"`
}

// LoadConfig loads configuration with priority: env > file.
//
// Fields left zero here take their defaults at construction time.
//
// Inputs:
//   - configPath: Path to a YAML config file (optional, can be empty).
//
// Outputs:
//   - Config: Merged configuration.
//   - error: Non-nil if the file exists but is invalid.
func LoadConfig(configPath string) (Config, error) {
	var cfg Config

	if configPath != "" {
		if err := loadConfigFile(configPath, &cfg); err != nil {
			return cfg, fmt.Errorf("load config file: %w", err)
		}
	}

	loadConfigFromEnv(&cfg)

	return cfg, nil
}

// loadConfigFile merges a YAML file into cfg. A missing file is not
// an error.
func loadConfigFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	cfg.Port = fc.Port
	cfg.UserServiceURL = fc.UserServiceURL
	cfg.UpstreamTimeout = time.Duration(fc.UpstreamTimeoutMS) * time.Millisecond
	cfg.ShutdownGrace = time.Duration(fc.ShutdownGraceMS) * time.Millisecond
	cfg.OTelEndpoint = fc.OTelEndpoint
	cfg.OTelExporter = fc.OTelExporter
	cfg.GinMode = fc.GinMode

	return nil
}

func loadConfigFromEnv(cfg *Config) {
	if v := os.Getenv("GATEWAY_PORT"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			cfg.Port = i
		}
	}
	if v := os.Getenv("USER_SERVICE_URL"); v != "" {
		cfg.UserServiceURL = v
	}
	if v := os.Getenv("UPSTREAM_TIMEOUT_MS"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			cfg.UpstreamTimeout = time.Duration(i) * time.Millisecond
		}
	}
	if v := os.Getenv("SHUTDOWN_GRACE_MS"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			cfg.ShutdownGrace = time.Duration(i) * time.Millisecond
		}
	}
	if v := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); v != "" {
		cfg.OTelEndpoint = v
	}
	if v := os.Getenv("OTEL_TRACES_EXPORTER"); v != "" {
		cfg.OTelExporter = v
	}
	if v := os.Getenv("GIN_MODE"); v != "" {
		cfg.GinMode = v
	}
}
