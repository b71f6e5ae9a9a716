// Package config holds the validated measurement configuration. All inputs
// are checked at session start, before any hardware is touched.
package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ErrInvalid is wrapped by every configuration validation failure.
var ErrInvalid = errors.New("config: invalid configuration")

// Defaults.
const (
	DefaultCalibWindow    = 10 * time.Second
	DefaultDirtyCacheSize = 16 << 20 // covers the cache hierarchy of common parts
	DefaultStatsInterval  = 2 * time.Second
)

// Config describes one measurement session.
type Config struct {
	// DeviceID selects the delayed-event source ("hrt", "ndl").
	DeviceID string `toml:"device"`
	// DeviceOpts carries backend-specific options (PCI address for NIC
	// backends).
	DeviceOpts map[string]string `toml:"device_opts"`
	// CPU is the measured CPU.
	CPU int `toml:"cpu"`

	// LDistMin/LDistMax bound the launch distance in nanoseconds. Equal
	// values request a fixed distance.
	LDistMin uint64 `toml:"-"`
	LDistMax uint64 `toml:"-"`
	// LDist is the textual form ("100us" or "50us,5ms"), parsed into the
	// bounds above.
	LDist string `toml:"ldist"`

	// Count is the target number of kept datapoints; 0 means unlimited.
	Count uint64 `toml:"count"`
	// TimeLimit caps the session wall-clock time; 0 means unlimited.
	TimeLimit time.Duration `toml:"time_limit"`

	// Include and Exclude are keep-predicate expressions over datapoint
	// fields. At most one may be set.
	Include string `toml:"include"`
	Exclude string `toml:"exclude"`
	// KeepFiltered emits datapoints that fail the predicate to the sink
	// anyway (they never count toward Count).
	KeepFiltered bool `toml:"keep_filtered"`

	// DirtyCache enables the pre-arm cache-dirtying pass.
	DirtyCache bool `toml:"dirty_cache"`
	// DirtyCacheSize is the dirtying buffer size in bytes.
	DirtyCacheSize int `toml:"dirty_cache_size"`

	// CalibWindow is the wall-clock separation required between the two
	// clock-calibration samples.
	CalibWindow time.Duration `toml:"calib_window"`

	// IntrFocus enables interrupt-latency capture on devices that
	// support it.
	IntrFocus bool `toml:"intr_focus"`

	// Force overrides the busy check when enabling the device.
	Force bool `toml:"force"`

	// MaxRetries bounds per-cycle capture-fault retries; 0 picks the
	// engine default.
	MaxRetries int `toml:"max_retries"`

	// StartOffset is the kept-datapoint count of a prior result being
	// extended; it counts toward Count.
	StartOffset uint64 `toml:"-"`

	// Stats enables the external statistics collector.
	Stats         bool          `toml:"stats"`
	StatsInterval time.Duration `toml:"stats_interval"`
}

// Normalize fills in defaults and resolves the textual launch distance.
func (c *Config) Normalize() error {
	if c.LDist != "" {
		min, max, err := ParseLDistRange(c.LDist)
		if err != nil {
			return err
		}
		c.LDistMin, c.LDistMax = min, max
	}
	if c.CalibWindow <= 0 {
		c.CalibWindow = DefaultCalibWindow
	}
	if c.DirtyCache && c.DirtyCacheSize <= 0 {
		c.DirtyCacheSize = DefaultDirtyCacheSize
	}
	if c.Stats && c.StatsInterval <= 0 {
		c.StatsInterval = DefaultStatsInterval
	}
	return nil
}

// Validate checks the configuration. Every failure wraps ErrInvalid.
func (c *Config) Validate() error {
	if c.DeviceID == "" {
		return fmt.Errorf("%w: no device selected", ErrInvalid)
	}
	if c.CPU < 0 {
		return fmt.Errorf("%w: negative CPU %d", ErrInvalid, c.CPU)
	}
	if c.LDistMin == 0 && c.LDistMax == 0 {
		return fmt.Errorf("%w: no launch distance configured", ErrInvalid)
	}
	if c.LDistMin > c.LDistMax {
		return fmt.Errorf("%w: launch distance min %d > max %d", ErrInvalid, c.LDistMin, c.LDistMax)
	}
	if c.Count == 0 && c.TimeLimit == 0 {
		return fmt.Errorf("%w: neither count nor time limit set", ErrInvalid)
	}
	if c.Include != "" && c.Exclude != "" {
		return fmt.Errorf("%w: include and exclude predicates are mutually exclusive", ErrInvalid)
	}
	if c.TimeLimit < 0 {
		return fmt.Errorf("%w: negative time limit", ErrInvalid)
	}
	return nil
}

// ParseLDistRange parses a launch distance: a single value ("100us") for a
// fixed distance, or "min,max" for a uniform-random range. Bare numbers are
// nanoseconds; ns, us, ms and s suffixes are accepted.
func ParseLDistRange(s string) (min, max uint64, err error) {
	parts := strings.Split(s, ",")
	switch len(parts) {
	case 1:
		v, err := ParseDistance(strings.TrimSpace(parts[0]))
		if err != nil {
			return 0, 0, err
		}
		return v, v, nil
	case 2:
		lo, err := ParseDistance(strings.TrimSpace(parts[0]))
		if err != nil {
			return 0, 0, err
		}
		hi, err := ParseDistance(strings.TrimSpace(parts[1]))
		if err != nil {
			return 0, 0, err
		}
		if lo > hi {
			return 0, 0, fmt.Errorf("%w: launch distance range %q has min > max", ErrInvalid, s)
		}
		return lo, hi, nil
	default:
		return 0, 0, fmt.Errorf("%w: malformed launch distance %q", ErrInvalid, s)
	}
}

var distanceUnits = []struct {
	suffix string
	mult   uint64
}{
	// Longest suffixes first so "ms" is not read as "s".
	{"ns", 1},
	{"us", 1_000},
	{"ms", 1_000_000},
	{"s", 1_000_000_000},
}

// ParseDistance parses one distance value with an optional unit suffix.
func ParseDistance(s string) (uint64, error) {
	if s == "" {
		return 0, fmt.Errorf("%w: empty launch distance", ErrInvalid)
	}
	mult := uint64(1)
	num := s
	for _, u := range distanceUnits {
		if strings.HasSuffix(s, u.suffix) {
			mult = u.mult
			num = strings.TrimSuffix(s, u.suffix)
			break
		}
	}
	v, err := strconv.ParseUint(strings.TrimSpace(num), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: malformed launch distance %q", ErrInvalid, s)
	}
	return v * mult, nil
}
