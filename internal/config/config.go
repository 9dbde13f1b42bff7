// Package config loads the cache's tunables from JSONC files with the
// same defaults-then-overlay precedence chain as a conventional CLI
// config loader, re-themed here to cache knobs instead of project
// settings.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tailscale/hujson"
)

// ConfigFileName is the default project-local config file name.
const ConfigFileName = ".blobcache.json"

var (
	errConfigFileNotFound = errors.New("config file not found")
	errConfigFileRead     = errors.New("cannot read config file")
	errConfigInvalid      = errors.New("invalid config file")
	errCapacityNotPositive = errors.New("cache_capacity must be positive")
	errSpillThresholdNeg   = errors.New("spill_threshold_bytes cannot be negative")
	errReadCapNotPositive  = errors.New("max_read_bytes must be positive")
	errCacheRootNameEmpty  = errors.New("cache_root_name cannot be empty")
)

// Config holds the cache's tunable parameters.
type Config struct {
	CacheCapacity       int    `json:"cache_capacity"`            //nolint:tagliatelle // snake_case for config file
	SpillThresholdBytes int    `json:"spill_threshold_bytes"`     //nolint:tagliatelle
	MaxReadBytes        int64  `json:"max_read_bytes"`            //nolint:tagliatelle
	CacheRootName       string `json:"cache_root_name,omitempty"` //nolint:tagliatelle
}

// Sources tracks which config files were loaded, for diagnostics.
type Sources struct {
	Global  string
	Project string
}

// Default returns the built-in default configuration.
func Default() Config {
	return Config{
		CacheCapacity:       32,
		SpillThresholdBytes: 1024 * 1024,
		MaxReadBytes:        64 * 1024 * 1024,
		CacheRootName:       "nbstore-blob-cache",
	}
}

func getGlobalConfigPath(env []string) string {
	for _, e := range env {
		if after, ok := strings.CutPrefix(e, "XDG_CONFIG_HOME="); ok {
			return filepath.Join(after, "blobcache", "config.json")
		}
	}

	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "blobcache", "config.json")
	}

	home, err := os.UserHomeDir()
	if err == nil {
		return filepath.Join(home, ".config", "blobcache", "config.json")
	}

	return ""
}

// Load loads configuration with the following precedence (highest wins):
//  1. Default
//  2. Global user config (~/.config/blobcache/config.json or
//     $XDG_CONFIG_HOME/blobcache/config.json)
//  3. Project config file at workDir/.blobcache.json, or an explicit
//     configPath if non-empty
func Load(workDir, configPath string, env []string) (Config, Sources, error) {
	cfg := Default()

	var sources Sources

	globalCfg, globalPath, err := loadGlobalConfig(env)
	if err != nil {
		return Config{}, Sources{}, err
	}

	sources.Global = globalPath
	cfg = mergeConfig(cfg, globalCfg)

	projectCfg, projectPath, err := loadProjectConfig(workDir, configPath)
	if err != nil {
		return Config{}, Sources{}, err
	}

	sources.Project = projectPath
	cfg = mergeConfig(cfg, projectCfg)

	if err := validateConfig(cfg); err != nil {
		return Config{}, Sources{}, err
	}

	return cfg, sources, nil
}

func loadGlobalConfig(env []string) (Config, string, error) {
	path := getGlobalConfigPath(env)
	if path == "" {
		return Config{}, "", nil
	}

	cfg, loaded, err := loadConfigFile(path, false)
	if err != nil {
		return Config{}, "", err
	}

	if !loaded {
		return Config{}, "", nil
	}

	return cfg, path, nil
}

func loadProjectConfig(workDir, configPath string) (Config, string, error) {
	var (
		cfgFile   string
		mustExist bool
	)

	if configPath != "" {
		cfgFile = configPath
		if !filepath.IsAbs(cfgFile) {
			cfgFile = filepath.Join(workDir, cfgFile)
		}

		mustExist = true

		if _, err := os.Stat(cfgFile); err != nil {
			return Config{}, "", fmt.Errorf("%w: %s", errConfigFileNotFound, configPath)
		}
	} else {
		cfgFile = filepath.Join(workDir, ConfigFileName)
		mustExist = false
	}

	cfg, loaded, err := loadConfigFile(cfgFile, mustExist)
	if err != nil {
		return Config{}, "", err
	}

	if !loaded {
		return Config{}, "", nil
	}

	return cfg, cfgFile, nil
}

func loadConfigFile(path string, mustExist bool) (Config, bool, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path is intentionally user-controlled
	if err != nil {
		if os.IsNotExist(err) && !mustExist {
			return Config{}, false, nil
		}

		if mustExist {
			return Config{}, false, fmt.Errorf("%w: %s", errConfigFileRead, path)
		}

		return Config{}, false, nil
	}

	cfg, parseErr := parseConfig(data)
	if parseErr != nil {
		return Config{}, false, fmt.Errorf("%w %s: %w", errConfigInvalid, path, parseErr)
	}

	return cfg, true, nil
}

func parseConfig(data []byte) (Config, error) {
	standardized, err := hujson.Standardize(data)
	if err != nil {
		return Config{}, fmt.Errorf("invalid JSONC: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(standardized, &cfg); err != nil {
		return Config{}, fmt.Errorf("invalid JSON: %w", err)
	}

	var raw map[string]any

	_ = json.Unmarshal(standardized, &raw)

	if val, exists := raw["cache_root_name"]; exists {
		if str, ok := val.(string); ok && str == "" {
			return Config{}, errCacheRootNameEmpty
		}
	}

	return cfg, nil
}

func mergeConfig(base, overlay Config) Config {
	if overlay.CacheCapacity != 0 {
		base.CacheCapacity = overlay.CacheCapacity
	}

	if overlay.SpillThresholdBytes != 0 {
		base.SpillThresholdBytes = overlay.SpillThresholdBytes
	}

	if overlay.MaxReadBytes != 0 {
		base.MaxReadBytes = overlay.MaxReadBytes
	}

	if overlay.CacheRootName != "" {
		base.CacheRootName = overlay.CacheRootName
	}

	return base
}

func validateConfig(cfg Config) error {
	if cfg.CacheCapacity <= 0 {
		return errCapacityNotPositive
	}

	if cfg.SpillThresholdBytes < 0 {
		return errSpillThresholdNeg
	}

	if cfg.MaxReadBytes <= 0 {
		return errReadCapNotPositive
	}

	if cfg.CacheRootName == "" {
		return errCacheRootNameEmpty
	}

	return nil
}

// Format returns cfg as indented JSON, for diagnostics.
func Format(cfg Config) (string, error) {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to format config: %w", err)
	}

	return string(data), nil
}
