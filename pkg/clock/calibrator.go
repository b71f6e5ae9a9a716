// Package clock converts raw hardware cycle counts to wall-clock time. The
// rate is derived once from two observations separated by at least the
// sample window; a single far-apart pair is numerically more stable than
// continuous re-estimation, at the cost of a warm-up period during which
// captures must be buffered. The rate is never revised afterwards, so very
// long sessions see no drift correction.
package clock

import (
	"errors"
	"fmt"
	"time"
)

// DefaultSampleWindow is the wall-clock separation required between the two
// calibration observations.
const DefaultSampleWindow = 10 * time.Second

// stallFactor bounds how long calibration may take relative to the window
// before it is declared stalled.
const stallFactor = 3

// ErrStalled is returned when the calibration deadline passes without two
// sufficiently separated observations, e.g. when every launch distance
// exceeds the window. No datapoint can ever be processed in that state.
var ErrStalled = errors.New("clock: calibration stalled")

// ErrNotReady is returned by ToNanoseconds before calibration completes.
var ErrNotReady = errors.New("clock: calibration not ready")

// Calibrator derives a fixed cycles-to-nanoseconds rate from two
// wall-clock-separated observations of the cycle counter.
type Calibrator struct {
	window time.Duration

	firstCycles uint64
	firstAt     time.Time
	haveFirst   bool

	nsPerCycle float64
	ready      bool
}

// New creates a calibrator. A non-positive window falls back to
// DefaultSampleWindow.
func New(window time.Duration) *Calibrator {
	if window <= 0 {
		window = DefaultSampleWindow
	}
	return &Calibrator{window: window}
}

// Window returns the configured sample window.
func (c *Calibrator) Window() time.Duration {
	return c.window
}

// Observe feeds one (cycle count, wall clock) pair. The first observation
// anchors the window; the first observation at least one window later fixes
// the rate. Observations after readiness are ignored.
func (c *Calibrator) Observe(cycleCount uint64, at time.Time) {
	if c.ready {
		return
	}
	if !c.haveFirst {
		c.firstCycles = cycleCount
		c.firstAt = at
		c.haveFirst = true
		return
	}

	elapsed := at.Sub(c.firstAt)
	if elapsed < c.window {
		return
	}
	deltaCycles := cycleCount - c.firstCycles
	if deltaCycles == 0 {
		// Counter did not advance; wait for a usable sample.
		return
	}

	c.nsPerCycle = float64(elapsed.Nanoseconds()) / float64(deltaCycles)
	c.ready = true
}

// Ready reports whether the rate has been fixed.
func (c *Calibrator) Ready() bool {
	return c.ready
}

// Stalled reports whether the calibration deadline has passed without the
// rate being fixed.
func (c *Calibrator) Stalled(now time.Time) bool {
	if c.ready || !c.haveFirst {
		return false
	}
	return now.Sub(c.firstAt) > stallFactor*c.window
}

// ToNanoseconds converts a raw cycle count to nanoseconds using the fixed
// rate.
func (c *Calibrator) ToNanoseconds(cycleCount uint64) (uint64, error) {
	if !c.ready {
		return 0, ErrNotReady
	}
	return uint64(float64(cycleCount) * c.nsPerCycle), nil
}

// NsPerCycle returns the fixed rate, for diagnostics.
func (c *Calibrator) NsPerCycle() (float64, error) {
	if !c.ready {
		return 0, fmt.Errorf("rate not derived yet: %w", ErrNotReady)
	}
	return c.nsPerCycle, nil
}
