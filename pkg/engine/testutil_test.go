package engine

import (
	"errors"
	"sync"
	"time"

	"github.com/cstatelab/wakebench/pkg/device"
)

// fakeDevice is a scriptable Device. Its cycle counter is the wall clock in
// nanoseconds, so the calibrated rate comes out near 1 ns/cycle.
type fakeDevice struct {
	mu sync.Mutex

	info      device.Info
	enableErr error
	force     bool

	enabled   bool
	armed     bool
	launch    uint64
	tbi       uint64
	ldist     uint64
	armCycles uint64

	// donePolls is how many Done calls return false before the event
	// reports fired. 1 means the post-arm race check sees it pending and
	// the first wait poll sees it fired.
	donePolls int
	polls     int

	// earlyFires makes the first N cycles report fired already at the
	// race check, forcing a discard.
	earlyFires int
	// corruptCaptures makes the first N captures violate causality.
	corruptCaptures int

	wakeLatency uint64 // cycles added to the launch time, default 500

	armCount  int
	exitCalls int
	armedLog  []uint64
}

func newFakeDevice() *fakeDevice {
	return &fakeDevice{
		info: device.Info{
			ID:       "fake",
			Alias:    "fake",
			Kind:     device.KindTimer,
			LDistMin: 1_000,
			LDistMax: 10_000_000_000,
			Caps: device.CapArm | device.CapPoll | device.CapBeforeIdleTime |
				device.CapAfterIdleTime | device.CapIntrTime |
				device.CapLaunchTime | device.CapEnable,
		},
		donePolls:   1,
		wakeLatency: 500,
	}
}

func (f *fakeDevice) now() uint64 {
	return uint64(time.Now().UnixNano())
}

func (f *fakeDevice) Info() device.Info {
	return f.info
}

func (f *fakeDevice) Enable(force bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.enableErr != nil && !force {
		return f.enableErr
	}
	f.force = force
	f.enabled = true
	return nil
}

func (f *fakeDevice) Arm(ldist uint64) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.enabled {
		return 0, errors.New("arm before enable")
	}

	f.armCount++
	f.armedLog = append(f.armedLog, ldist)
	f.armCycles = f.now()
	f.ldist = ldist
	f.launch = f.armCycles + ldist
	f.tbi = f.armCycles
	f.armed = true
	f.polls = 0
	return f.launch, nil
}

func (f *fakeDevice) Done() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.armed {
		return false
	}
	if f.earlyFires > 0 {
		return true
	}
	f.polls++
	return f.polls > f.donePolls
}

func (f *fakeDevice) Capture() (device.Capture, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.armed {
		return device.Capture{}, device.ErrNotDone
	}
	f.armed = false

	if f.earlyFires > 0 {
		f.earlyFires--
		// The discarded capture is still well formed.
		return f.wellFormed(), nil
	}
	if f.corruptCaptures > 0 {
		f.corruptCaptures--
		return device.Capture{
			LaunchTime:     f.launch,
			TimeBeforeIdle: f.tbi,
			TimeAfterIdle:  f.launch - 1, // effect precedes cause
		}, nil
	}
	return f.wellFormed(), nil
}

func (f *fakeDevice) wellFormed() device.Capture {
	return device.Capture{
		LaunchTime:     f.launch,
		TimeBeforeIdle: f.tbi,
		TimeAfterIdle:  f.launch + f.wakeLatency,
		IntrTime:       f.launch + f.wakeLatency/2,
	}
}

func (f *fakeDevice) Exit() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.exitCalls++
	f.enabled = false
	f.armed = false
	return nil
}

// memorySink records every emitted datapoint in order.
type memorySink struct {
	written []Processed
	kept    []bool
	failErr error
}

func (m *memorySink) Write(dp Processed, kept bool) error {
	if m.failErr != nil {
		return m.failErr
	}
	m.written = append(m.written, dp)
	m.kept = append(m.kept, kept)
	return nil
}

func (m *memorySink) keptOnly() []Processed {
	var out []Processed
	for i, dp := range m.written {
		if m.kept[i] {
			out = append(out, dp)
		}
	}
	return out
}
