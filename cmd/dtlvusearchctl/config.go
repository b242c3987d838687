package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/tailscale/hujson"
)

// Config holds the CLI's own configuration, loaded from a JSON5-ish file.
// Domain-level knobs (chunk size, batch size, retention count) are not part
// of this file — they are meta-store state read through
// Domain.GetRetentionConfig/SetRetentionConfig.
type Config struct {
	// DataDir is the mdbx environment directory.
	DataDir string `json:"data_dir"` //nolint:tagliatelle // snake_case for config file
	// FSRoot is the filesystem root for the pending WAL directory and
	// reader-pin file.
	FSRoot string `json:"fs_root"` //nolint:tagliatelle
	// Domain is the domain name.
	Domain string `json:"domain"`
	// MapSizeMB is the mdbx environment's initial map size in megabytes.
	MapSizeMB uint64 `json:"map_size_mb"` //nolint:tagliatelle
}

// DefaultConfig returns the CLI's baseline configuration.
func DefaultConfig() Config {
	return Config{
		DataDir:   ".dtlvusearch/data",
		FSRoot:    ".dtlvusearch/fsroot",
		Domain:    "default",
		MapSizeMB: 64,
	}
}

// LoadConfig reads a hujson (JSON with comments and trailing commas) config
// file at path, falling back to defaults if path is empty or missing.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}

		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}

	standardized, err := hujson.Standardize(data)
	if err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}

	if err := json.Unmarshal(standardized, &cfg); err != nil {
		return cfg, fmt.Errorf("decode config %s: %w", path, err)
	}

	return cfg, nil
}
