package config

import (
	"fmt"
	"time"

	"github.com/BurntSushi/toml"
)

// fileConfig is the on-disk TOML shape. Durations are strings so the file
// can say "10s" or "1m30s".
type fileConfig struct {
	Device         string            `toml:"device"`
	DeviceOpts     map[string]string `toml:"device_opts"`
	CPU            *int              `toml:"cpu"`
	LDist          string            `toml:"ldist"`
	Count          *uint64           `toml:"count"`
	TimeLimit      string            `toml:"time_limit"`
	Include        string            `toml:"include"`
	Exclude        string            `toml:"exclude"`
	KeepFiltered   *bool             `toml:"keep_filtered"`
	DirtyCache     *bool             `toml:"dirty_cache"`
	DirtyCacheSize *int              `toml:"dirty_cache_size"`
	CalibWindow    string            `toml:"calib_window"`
	IntrFocus      *bool             `toml:"intr_focus"`
	Force          *bool             `toml:"force"`
	MaxRetries     *int              `toml:"max_retries"`
	Stats          *bool             `toml:"stats"`
	StatsInterval  string            `toml:"stats_interval"`
}

// Load reads a TOML configuration file into cfg. Only keys present in the
// file are applied, so flag values set afterwards win over absent keys.
func Load(path string, cfg *Config) error {
	var fc fileConfig
	meta, err := toml.DecodeFile(path, &fc)
	if err != nil {
		return fmt.Errorf("loading config %s: %w", path, err)
	}
	if undec := meta.Undecoded(); len(undec) > 0 {
		return fmt.Errorf("%w: unknown key %q in %s", ErrInvalid, undec[0].String(), path)
	}

	if fc.Device != "" {
		cfg.DeviceID = fc.Device
	}
	if fc.DeviceOpts != nil {
		cfg.DeviceOpts = fc.DeviceOpts
	}
	if fc.CPU != nil {
		cfg.CPU = *fc.CPU
	}
	if fc.LDist != "" {
		cfg.LDist = fc.LDist
	}
	if fc.Count != nil {
		cfg.Count = *fc.Count
	}
	if fc.Include != "" {
		cfg.Include = fc.Include
	}
	if fc.Exclude != "" {
		cfg.Exclude = fc.Exclude
	}
	if fc.KeepFiltered != nil {
		cfg.KeepFiltered = *fc.KeepFiltered
	}
	if fc.DirtyCache != nil {
		cfg.DirtyCache = *fc.DirtyCache
	}
	if fc.DirtyCacheSize != nil {
		cfg.DirtyCacheSize = *fc.DirtyCacheSize
	}
	if fc.IntrFocus != nil {
		cfg.IntrFocus = *fc.IntrFocus
	}
	if fc.Force != nil {
		cfg.Force = *fc.Force
	}
	if fc.MaxRetries != nil {
		cfg.MaxRetries = *fc.MaxRetries
	}
	if fc.Stats != nil {
		cfg.Stats = *fc.Stats
	}

	for _, d := range []struct {
		raw  string
		dst  *time.Duration
		name string
	}{
		{fc.TimeLimit, &cfg.TimeLimit, "time_limit"},
		{fc.CalibWindow, &cfg.CalibWindow, "calib_window"},
		{fc.StatsInterval, &cfg.StatsInterval, "stats_interval"},
	} {
		if d.raw == "" {
			continue
		}
		v, err := time.ParseDuration(d.raw)
		if err != nil {
			return fmt.Errorf("%w: malformed %s %q", ErrInvalid, d.name, d.raw)
		}
		*d.dst = v
	}
	return nil
}
