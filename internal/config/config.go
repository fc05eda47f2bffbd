// Copyright 2026 Veristat Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config loads the engine configuration. Environment variables are
// read exactly once at startup and frozen into a typed Config; nothing else
// in the engine consults the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults for tunable settings.
const (
	DefaultJobTimeout      = 120 * time.Minute
	DefaultCleanupInterval = 60 * time.Second
	DefaultWorkers         = 2
	DefaultListenAddr      = ":8384"
	DefaultReportWait      = 30 * time.Second
)

// Config is the frozen engine configuration.
type Config struct {
	// RedisURL is the queue backend URL. Required.
	RedisURL string `yaml:"redis_url"`

	// DataDir is the root directory for per-run artifact storage.
	DataDir string `yaml:"data_dir"`

	// HistoryPath is the SQLite run-history database file.
	// Empty disables the durable history index.
	HistoryPath string `yaml:"history_path"`

	// JobTimeout is how long a job may sit in running without a heartbeat
	// before the sweeper fails it.
	JobTimeout time.Duration `yaml:"job_timeout"`

	// CleanupInterval is how often the stuck-job sweeper runs.
	CleanupInterval time.Duration `yaml:"cleanup_interval"`

	// Workers is the number of concurrent worker loops.
	Workers int `yaml:"workers"`

	// ListenAddr is the HTTP listen address for the run-lifecycle API.
	ListenAddr string `yaml:"listen_addr"`

	// ReportWait is how long the report enforcer polls for the final report.
	ReportWait time.Duration `yaml:"report_wait"`

	// EnableDriftBlocking makes a drifted dataset classification an
	// eligibility blocker for analytic steps.
	EnableDriftBlocking bool `yaml:"enable_drift_blocking"`
}

// Default returns a Config populated with defaults only. RedisURL is left
// empty and must be supplied by file or environment.
func Default() *Config {
	return &Config{
		DataDir:         defaultDataDir(),
		JobTimeout:      DefaultJobTimeout,
		CleanupInterval: DefaultCleanupInterval,
		Workers:         DefaultWorkers,
		ListenAddr:      DefaultListenAddr,
		ReportWait:      DefaultReportWait,
	}
}

// Load builds the configuration from an optional YAML file and the
// environment, in that order (environment wins). Callers apply any flag
// overrides and then Validate.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}

	cfg.applyEnv()
	return cfg, nil
}

// applyEnv overlays environment variables onto the config.
func (c *Config) applyEnv() {
	if v := os.Getenv("REDIS_URL"); v != "" {
		c.RedisURL = v
	}
	if v := os.Getenv("VERISTAT_DATA_DIR"); v != "" {
		c.DataDir = v
	}
	if v := os.Getenv("VERISTAT_HISTORY_PATH"); v != "" {
		c.HistoryPath = v
	}
	if v := os.Getenv("JOB_TIMEOUT_MINUTES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.JobTimeout = time.Duration(n) * time.Minute
		}
	}
	if v := os.Getenv("CLEANUP_INTERVAL_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.CleanupInterval = time.Duration(n) * time.Second
		}
	}
	if v := os.Getenv("VERISTAT_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Workers = n
		}
	}
	if v := os.Getenv("VERISTAT_LISTEN_ADDR"); v != "" {
		c.ListenAddr = v
	}
	if v := os.Getenv("ENABLE_DRIFT_BLOCKING"); v != "" {
		c.EnableDriftBlocking = v == "true" || v == "1"
	}
}

// Validate checks required settings and value ranges.
func (c *Config) Validate() error {
	if c.RedisURL == "" {
		return fmt.Errorf("redis_url is required (set REDIS_URL)")
	}
	if c.DataDir == "" {
		return fmt.Errorf("data_dir is required")
	}
	if c.JobTimeout <= 0 {
		return fmt.Errorf("job_timeout must be positive, got %v", c.JobTimeout)
	}
	if c.CleanupInterval <= 0 {
		return fmt.Errorf("cleanup_interval must be positive, got %v", c.CleanupInterval)
	}
	if c.Workers <= 0 {
		return fmt.Errorf("workers must be positive, got %d", c.Workers)
	}
	return nil
}

// defaultDataDir returns the platform data directory for veristat.
func defaultDataDir() string {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return xdg + "/veristat"
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "./veristat-data"
	}
	return home + "/.local/share/veristat"
}
