package engine

import (
	"time"

	"github.com/cstatelab/wakebench/pkg/device"
)

// Raw is one uncalibrated capture as produced by a completed measurement
// cycle. Exactly one Raw exists per completed cycle. Timestamps inside the
// capture are cycle counts; At is the wall clock at the moment the capture
// was read, which feeds the calibrator.
type Raw struct {
	Capture device.Capture
	// LDist is the launch distance requested for this cycle, nanoseconds.
	LDist uint64
	At    time.Time
}

// Processed is a datapoint after cycle-to-time conversion. All durations
// are nanoseconds. Index is a stable 0-based sequence number assigned at
// conversion time; Processed datapoints preserve Raw arrival order.
type Processed struct {
	Index uint64

	// WakeLatency is the elapsed time between the programmed launch time
	// and the CPU resuming execution.
	WakeLatency uint64
	// IntrLatency is the elapsed time until the interrupt handler ran.
	// Zero when interrupt-focused capture is disabled or unsupported.
	IntrLatency uint64
	// SilentTime is the idle duration preceding the event.
	SilentTime uint64
	// LDist is the requested launch distance.
	LDist uint64

	// Aux carries device-specific fields in their native units.
	Aux map[string]uint64
}

// Fields returns the datapoint's named values for predicate evaluation.
// Aux fields are included under their own names.
func (p Processed) Fields() map[string]interface{} {
	f := map[string]interface{}{
		"Index":       float64(p.Index),
		"WakeLatency": float64(p.WakeLatency),
		"IntrLatency": float64(p.IntrLatency),
		"SilentTime":  float64(p.SilentTime),
		"LDist":       float64(p.LDist),
	}
	for k, v := range p.Aux {
		f[k] = float64(v)
	}
	return f
}

// Sink receives finished datapoints in sequence order. kept is false for
// datapoints that failed the keep-predicate but were emitted anyway under
// the keep-filtered setting.
type Sink interface {
	Write(dp Processed, kept bool) error
}
