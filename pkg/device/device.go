// Package device defines the delayed-event device abstraction used by the
// measurement engine. A device schedules a hardware event some distance in
// the future, lets the CPU go idle, and captures cycle-counter timestamps
// around the wake. Backends register themselves with the package registry.
package device

import (
	"errors"
	"fmt"
)

// Errors returned by device backends.
var (
	// ErrBusy is returned by Enable when the underlying hardware is in
	// active use and the caller has not forced an override.
	ErrBusy = errors.New("device: hardware in active use")

	// ErrNotDone is returned by Capture before the armed event has fired.
	ErrNotDone = errors.New("device: event has not fired")
)

// Kind identifies the backend family of a device.
type Kind string

const (
	// KindTimer is a CPU-local timer block.
	KindTimer Kind = "timer"
	// KindNIC is a PCIe network card used as a delayed-event source.
	KindNIC Kind = "nic"
)

// Capability is a bitmask of optional operations a device supports.
type Capability uint32

const (
	CapArm Capability = 1 << iota
	CapPoll
	CapBeforeIdleTime
	CapAfterIdleTime
	CapIntrTime
	CapLaunchTime
	CapEnable
)

// Has reports whether c includes all capabilities in want.
func (c Capability) Has(want Capability) bool {
	return c&want == want
}

// String returns a short comma-separated capability list.
func (c Capability) String() string {
	names := []struct {
		bit  Capability
		name string
	}{
		{CapArm, "arm"},
		{CapPoll, "poll"},
		{CapBeforeIdleTime, "tbi"},
		{CapAfterIdleTime, "tai"},
		{CapIntrTime, "intr"},
		{CapLaunchTime, "ltime"},
		{CapEnable, "enable"},
	}
	s := ""
	for _, n := range names {
		if c&n.bit == 0 {
			continue
		}
		if s != "" {
			s += ","
		}
		s += n.name
	}
	return s
}

// Info describes a device: identity, launch-distance bounds and the
// capability set. Launch distances are in nanoseconds.
type Info struct {
	ID          string
	Alias       string
	Description string
	Kind        Kind

	LDistMin  uint64
	LDistMax  uint64
	LDistGran uint64

	Caps Capability
}

// Validate checks the descriptor invariants.
func (i Info) Validate() error {
	if i.ID == "" {
		return fmt.Errorf("device descriptor has empty ID")
	}
	if i.LDistMin > i.LDistMax {
		return fmt.Errorf("device %q: ldist_min %d > ldist_max %d", i.ID, i.LDistMin, i.LDistMax)
	}
	return nil
}

// Capture holds the raw cycle-counter timestamps of one completed event.
// All fields are counter values, not time units; the engine converts them
// once its calibrator is ready.
type Capture struct {
	// LaunchTime is the counter value at which the event was programmed
	// to fire.
	LaunchTime uint64
	// TimeBeforeIdle is the counter value read just before the measured
	// CPU was allowed to idle.
	TimeBeforeIdle uint64
	// TimeAfterIdle is the counter value read as close as possible to the
	// CPU resuming execution.
	TimeAfterIdle uint64
	// IntrTime is the counter value read from the interrupt handler, or 0
	// if the backend lacks CapIntrTime.
	IntrTime uint64
	// Aux carries backend-specific fields (C-state residency, round-trip
	// DMA delay) keyed by column name.
	Aux map[string]uint64
}

// Device is the contract every delayed-event backend implements.
//
// Arm programs a single-shot event ldist nanoseconds ahead and returns the
// counter value at which it will fire. At most one event may be armed at a
// time; arming again before Done reports true is undefined for the hardware
// in scope and must not be attempted.
//
// Done is non-blocking and safe to poll from a tight loop. Capture is valid
// only once Done has reported true, and resets the device so the next Arm
// may proceed.
//
// Exit restores whatever hardware state Enable changed (driver binding,
// coalescing settings). It must succeed as a cleanup path regardless of how
// the session ended and must be safe to call more than once.
type Device interface {
	Info() Info
	Enable(force bool) error
	Arm(ldist uint64) (launchTime uint64, err error)
	Done() bool
	Capture() (Capture, error)
	Exit() error
}
