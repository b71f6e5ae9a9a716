package device

import "sync/atomic"

// Mailbox is a lock-free single-slot handoff from the capture context (an
// interrupt handler or timer callback, possibly running with preemption
// disabled on the measured CPU) to the measurement goroutine. Publish does
// no allocation and takes no locks; the flag store is the release point, so
// readers must check Fired before touching the payload.
//
// Single producer, single consumer. A second Publish before Clear would
// clobber the slot, which the engine's strict one-armed-event-at-a-time
// sequencing rules out.
type Mailbox struct {
	tai   atomic.Uint64
	intr  atomic.Uint64
	fired atomic.Bool
}

// Publish stores the wake and interrupt timestamps and marks the event as
// fired. Safe to call from the constrained capture context.
func (m *Mailbox) Publish(tai, intr uint64) {
	m.tai.Store(tai)
	m.intr.Store(intr)
	m.fired.Store(true)
}

// Fired reports whether an event has been published since the last Clear.
// Non-blocking.
func (m *Mailbox) Fired() bool {
	return m.fired.Load()
}

// Take returns the published timestamps. Valid only after Fired is true.
func (m *Mailbox) Take() (tai, intr uint64) {
	return m.tai.Load(), m.intr.Load()
}

// Clear resets the slot for the next cycle.
func (m *Mailbox) Clear() {
	m.fired.Store(false)
	m.tai.Store(0)
	m.intr.Store(0)
}
