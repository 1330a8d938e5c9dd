package main

import (
	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"
)

// HammerConfig parameterizes the hammer subcommand's workload. Fields a
// config file leaves out keep defaultHammerConfig's values, so a config
// file only needs to override the fields it cares about.
type HammerConfig struct {
	ThreadCount     int    `toml:"thread_count"`
	CounterCount    int    `toml:"counter_count"`
	InitialValue    uint64 `toml:"initial_value"`
	DurationSeconds int    `toml:"duration_seconds"`
}

func defaultHammerConfig() HammerConfig {
	return HammerConfig{
		ThreadCount:     8,
		CounterCount:    16,
		InitialValue:    1000,
		DurationSeconds: 5,
	}
}

// loadHammerConfig returns defaultHammerConfig's values, overridden by
// whatever path's TOML file sets. An empty path returns the defaults
// unchanged.
func loadHammerConfig(path string) (HammerConfig, error) {
	cfg := defaultHammerConfig()
	if path == "" {
		return cfg, nil
	}
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, errors.Wrapf(err, "decode hammer config %q", path)
	}
	return cfg, nil
}
