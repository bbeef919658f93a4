/*
 * Copyright (c) 2026 Firefly Software Solutions Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

/*
Package config provides StrataDB configuration.

Settings load in precedence order: built-in defaults, then a config file,
then STRATADB_* environment variables. The file format is a TOML subset
(key = value, # comments, quoted strings):

	# stratadb.conf
	data_dir = "/var/lib/stratadb"
	pool_size = 0        # 0 = auto-size from available memory
	replacer_k = 2
	leaf_max_size = 0    # 0 = page capacity for the key width
	internal_max_size = 0
	log_level = "info"
	log_json = false
	encryption_enabled = false
	metrics_addr = ""

Environment variables:
  - STRATADB_DATA_DIR: directory for page files
  - STRATADB_POOL_SIZE: buffer pool size in pages
  - STRATADB_REPLACER_K: LRU-K parameter
  - STRATADB_LEAF_MAX_SIZE / STRATADB_INTERNAL_MAX_SIZE: page fan-out
  - STRATADB_LOG_LEVEL / STRATADB_LOG_JSON: logging
  - STRATADB_ENCRYPTION_ENABLED: encrypt pages at rest (true/false)
  - STRATADB_ENCRYPTION_PASSPHRASE: passphrase (required when enabled)
  - STRATADB_METRICS_ADDR: address for the /metrics endpoint
  - STRATADB_CONFIG_FILE: path to the configuration file
*/
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"stratadb/internal/errors"
	"stratadb/internal/logging"
	"stratadb/internal/storage/disk"
)

// Environment variable names.
const (
	EnvDataDir              = "STRATADB_DATA_DIR"
	EnvPoolSize             = "STRATADB_POOL_SIZE"
	EnvReplacerK            = "STRATADB_REPLACER_K"
	EnvLeafMaxSize          = "STRATADB_LEAF_MAX_SIZE"
	EnvInternalMaxSize      = "STRATADB_INTERNAL_MAX_SIZE"
	EnvLogLevel             = "STRATADB_LOG_LEVEL"
	EnvLogJSON              = "STRATADB_LOG_JSON"
	EnvEncryptionEnabled    = "STRATADB_ENCRYPTION_ENABLED"
	EnvEncryptionPassphrase = "STRATADB_ENCRYPTION_PASSPHRASE"
	EnvMetricsAddr          = "STRATADB_METRICS_ADDR"
	EnvConfigFile           = "STRATADB_CONFIG_FILE"
)

// Config holds the storage engine's tunables.
type Config struct {
	DataDir              string
	PoolSize             int // pages; 0 = auto-size
	ReplacerK            int
	LeafMaxSize          int // 0 = page capacity
	InternalMaxSize      int
	LogLevel             string
	LogJSON              bool
	EncryptionEnabled    bool
	EncryptionPassphrase string
	MetricsAddr          string
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		DataDir:   defaultDataDir(),
		PoolSize:  0,
		ReplacerK: 2,
		LogLevel:  "info",
	}
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "stratadb-data"
	}
	return filepath.Join(home, ".stratadb")
}

// AutoPoolSize picks a pool size from available memory: a quarter of the
// runtime's view of system memory, bounded to [256, 262144] pages.
func AutoPoolSize() int {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	available := ms.Sys
	if available == 0 {
		available = 1 << 30
	}
	pages := int(available / 4 / disk.PageSize)
	const minPages, maxPages = 256, 262144
	if pages < minPages {
		return minPages
	}
	if pages > maxPages {
		return maxPages
	}
	return pages
}

// EffectivePoolSize resolves PoolSize, auto-sizing when zero.
func (c *Config) EffectivePoolSize() int {
	if c.PoolSize > 0 {
		return c.PoolSize
	}
	return AutoPoolSize()
}

// Validate rejects inconsistent settings.
func (c *Config) Validate() error {
	if c.PoolSize < 0 {
		return errors.New(errors.ErrCodeConfig, "pool_size must be >= 0, got %d", c.PoolSize)
	}
	if c.ReplacerK < 1 {
		return errors.New(errors.ErrCodeConfig, "replacer_k must be >= 1, got %d", c.ReplacerK)
	}
	if c.LeafMaxSize < 0 || c.InternalMaxSize < 0 {
		return errors.New(errors.ErrCodeConfig, "page fan-out must be >= 0")
	}
	if c.EncryptionEnabled && c.EncryptionPassphrase == "" {
		return errors.New(errors.ErrCodeConfig,
			"encryption enabled but no passphrase; set %s", EnvEncryptionPassphrase)
	}
	return nil
}

// ApplyLogging configures the global logger from this config.
func (c *Config) ApplyLogging() {
	logging.SetGlobalLevel(logging.ParseLevel(c.LogLevel))
	logging.SetJSONMode(c.LogJSON)
}

// Load builds the effective configuration: defaults, then the config
// file (if any), then environment variables.
func Load() (*Config, error) {
	cfg := DefaultConfig()
	if path := FindConfigFile(); path != "" {
		if err := cfg.LoadFromFile(path); err != nil {
			return nil, err
		}
	}
	cfg.LoadFromEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FindConfigFile locates the config file: $STRATADB_CONFIG_FILE, then
// ./stratadb.conf, then ~/.stratadb/stratadb.conf.
func FindConfigFile() string {
	if path := os.Getenv(EnvConfigFile); path != "" {
		return path
	}
	candidates := []string{
		"stratadb.conf",
		filepath.Join(defaultDataDir(), "stratadb.conf"),
	}
	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// LoadFromFile merges settings from a TOML-subset file.
func (c *Config) LoadFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrap(errors.ErrCodeConfig, fmt.Sprintf("read config %s", path), err)
	}
	for lineNo, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if i := strings.Index(line, "#"); i >= 0 && !strings.Contains(line[:i], "\"") {
			line = strings.TrimSpace(line[:i])
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			return errors.New(errors.ErrCodeConfig, "%s:%d: expected key = value", path, lineNo+1)
		}
		if err := c.apply(strings.TrimSpace(key), unquote(strings.TrimSpace(value))); err != nil {
			return errors.Wrap(errors.ErrCodeConfig, fmt.Sprintf("%s:%d", path, lineNo+1), err)
		}
	}
	return nil
}

func unquote(s string) string {
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		return s[1 : len(s)-1]
	}
	return s
}

func (c *Config) apply(key, value string) error {
	switch key {
	case "data_dir":
		c.DataDir = value
	case "pool_size":
		return setInt(&c.PoolSize, value)
	case "replacer_k":
		return setInt(&c.ReplacerK, value)
	case "leaf_max_size":
		return setInt(&c.LeafMaxSize, value)
	case "internal_max_size":
		return setInt(&c.InternalMaxSize, value)
	case "log_level":
		c.LogLevel = value
	case "log_json":
		return setBool(&c.LogJSON, value)
	case "encryption_enabled":
		return setBool(&c.EncryptionEnabled, value)
	case "metrics_addr":
		c.MetricsAddr = value
	default:
		return fmt.Errorf("unknown key %q", key)
	}
	return nil
}

func setInt(dst *int, value string) error {
	v, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("expected integer, got %q", value)
	}
	*dst = v
	return nil
}

func setBool(dst *bool, value string) error {
	v, err := strconv.ParseBool(value)
	if err != nil {
		return fmt.Errorf("expected boolean, got %q", value)
	}
	*dst = v
	return nil
}

// LoadFromEnv merges settings from STRATADB_* environment variables.
// Malformed values are ignored in favor of the current setting.
func (c *Config) LoadFromEnv() {
	if v := os.Getenv(EnvDataDir); v != "" {
		c.DataDir = v
	}
	if v := os.Getenv(EnvPoolSize); v != "" {
		setInt(&c.PoolSize, v)
	}
	if v := os.Getenv(EnvReplacerK); v != "" {
		setInt(&c.ReplacerK, v)
	}
	if v := os.Getenv(EnvLeafMaxSize); v != "" {
		setInt(&c.LeafMaxSize, v)
	}
	if v := os.Getenv(EnvInternalMaxSize); v != "" {
		setInt(&c.InternalMaxSize, v)
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv(EnvLogJSON); v != "" {
		setBool(&c.LogJSON, v)
	}
	if v := os.Getenv(EnvEncryptionEnabled); v != "" {
		setBool(&c.EncryptionEnabled, v)
	}
	if v := os.Getenv(EnvEncryptionPassphrase); v != "" {
		c.EncryptionPassphrase = v
	}
	if v := os.Getenv(EnvMetricsAddr); v != "" {
		c.MetricsAddr = v
	}
}

// String renders the config with the passphrase redacted.
func (c *Config) String() string {
	pass := ""
	if c.EncryptionPassphrase != "" {
		pass = "<redacted>"
	}
	return fmt.Sprintf(
		"data_dir=%s pool_size=%d replacer_k=%d leaf_max=%d internal_max=%d log_level=%s log_json=%t encryption=%t passphrase=%s metrics_addr=%s",
		c.DataDir, c.PoolSize, c.ReplacerK, c.LeafMaxSize, c.InternalMaxSize,
		c.LogLevel, c.LogJSON, c.EncryptionEnabled, pass, c.MetricsAddr)
}
