// Package hrtimer implements the timer-backed delayed-event device. It arms
// a CPU-local timer and captures wake timestamps from the same core, which
// makes it the lowest-overhead event source.
package hrtimer

import (
	"fmt"
	"sync"
	"time"

	"github.com/cstatelab/wakebench/pkg/cycles"
	"github.com/cstatelab/wakebench/pkg/device"
)

const (
	ldistMin  = 1_000          // 1us
	ldistMax  = 10_000_000_000 // 10s
	ldistGran = 1
)

func init() {
	info := device.Info{
		ID:          "hrt",
		Alias:       "hrtimer",
		Description: "CPU-local high-resolution timer event source",
		Kind:        device.KindTimer,
		LDistMin:    ldistMin,
		LDistMax:    ldistMax,
		LDistGran:   ldistGran,
		Caps: device.CapArm | device.CapPoll | device.CapBeforeIdleTime |
			device.CapAfterIdleTime | device.CapIntrTime |
			device.CapLaunchTime | device.CapEnable,
	}
	if err := device.Register(info, New); err != nil {
		panic(err)
	}
}

// Timer is a timer-backed device bound to one CPU.
type Timer struct {
	cpu  int
	info device.Info

	mu      sync.Mutex
	enabled bool
	armed   bool
	pending *time.Timer

	// Per-cycle bookkeeping, written by Arm and read by Capture. The
	// mailbox is the only state the capture callback touches.
	launchTime uint64
	tbi        uint64
	box        device.Mailbox

	unpin func() error
}

// New builds a timer device targeting the given CPU. No options are used.
func New(cpu int, _ map[string]string) (device.Device, error) {
	t := &Timer{cpu: cpu}
	t.info = device.Info{
		ID:          "hrt",
		Alias:       "hrtimer",
		Description: "CPU-local high-resolution timer event source",
		Kind:        device.KindTimer,
		LDistMin:    ldistMin,
		LDistMax:    ldistMax,
		LDistGran:   ldistGran,
		Caps: device.CapArm | device.CapPoll | device.CapBeforeIdleTime |
			device.CapAfterIdleTime | device.CapIntrTime |
			device.CapLaunchTime | device.CapEnable,
	}
	return t, nil
}

// Info returns the device descriptor.
func (t *Timer) Info() device.Info {
	return t.info
}

// Enable pins the measurement thread to the target CPU. The timer block is
// always available, so Enable never reports busy.
func (t *Timer) Enable(_ bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.enabled {
		return nil
	}

	unpin, err := pinToCPU(t.cpu)
	if err != nil {
		return fmt.Errorf("failed to pin to CPU %d: %w", t.cpu, err)
	}
	t.unpin = unpin
	t.enabled = true
	return nil
}

// Arm schedules a single-shot timer ldist nanoseconds ahead and returns the
// counter value at which it is programmed to fire.
func (t *Timer) Arm(ldist uint64) (uint64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.enabled {
		return 0, fmt.Errorf("hrt: device not enabled")
	}
	if t.armed {
		return 0, fmt.Errorf("hrt: event already armed")
	}
	if ldist < t.info.LDistMin || ldist > t.info.LDistMax {
		return 0, fmt.Errorf("hrt: launch distance %d outside [%d, %d]",
			ldist, t.info.LDistMin, t.info.LDistMax)
	}

	t.box.Clear()

	now := cycles.Read()
	// Split the ns->cycles conversion so a multi-second distance at a
	// multi-GHz counter rate cannot overflow.
	hz := cycles.FreqHz()
	launch := now + (ldist/1_000_000_000)*hz + (ldist%1_000_000_000)*hz/1_000_000_000
	t.launchTime = launch

	// The callback is the constrained capture context: counter reads and
	// a mailbox publish, nothing else.
	box := &t.box
	t.pending = time.AfterFunc(time.Duration(ldist), func() {
		tai := cycles.Read()
		intr := cycles.Read()
		box.Publish(tai, intr)
	})

	t.armed = true
	// Last read before the caller yields and lets the CPU idle.
	t.tbi = cycles.Read()
	return launch, nil
}

// Done reports whether the armed event has fired. Non-blocking.
func (t *Timer) Done() bool {
	return t.box.Fired()
}

// Capture returns the timestamps of the fired event and resets the device
// for the next Arm.
func (t *Timer) Capture() (device.Capture, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.armed {
		return device.Capture{}, fmt.Errorf("hrt: no event armed")
	}
	if !t.box.Fired() {
		return device.Capture{}, device.ErrNotDone
	}

	tai, intr := t.box.Take()
	c := device.Capture{
		LaunchTime:     t.launchTime,
		TimeBeforeIdle: t.tbi,
		TimeAfterIdle:  tai,
		IntrTime:       intr,
	}

	t.armed = false
	t.pending = nil
	t.box.Clear()
	return c, nil
}

// Exit cancels any pending event and restores the thread affinity Enable
// changed. Safe to call more than once.
func (t *Timer) Exit() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.pending != nil {
		t.pending.Stop()
		t.pending = nil
	}
	t.armed = false
	t.box.Clear()

	if !t.enabled {
		return nil
	}
	t.enabled = false

	if t.unpin != nil {
		unpin := t.unpin
		t.unpin = nil
		return unpin()
	}
	return nil
}
