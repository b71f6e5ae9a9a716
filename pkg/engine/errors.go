package engine

import "errors"

// Errors surfaced by the measurement engine. Device-busy and calibration
// errors originate in their own packages (device.ErrBusy, clock.ErrStalled)
// and are wrapped, so errors.Is works across the engine boundary.
var (
	// ErrCaptureFault is returned when a cycle's capture is unusable: the
	// event fired before arming bookkeeping completed, or the capture
	// violates causality (time after idle earlier than the launch time).
	// Individual faults are retried; ErrCaptureFault surfaces only once
	// the retry budget is exhausted.
	ErrCaptureFault = errors.New("engine: capture fault")

	// ErrCycleTimeout is returned when an armed event never fires within
	// the device's bounded wait. Never retried: the armed event is
	// single-shot and still notionally in flight, so re-arming a wedged
	// source is undefined.
	ErrCycleTimeout = errors.New("engine: armed event never fired")
)
