package engine

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync/atomic"
	"time"

	"github.com/cstatelab/wakebench/pkg/device"
)

// cycleState tracks where a measurement cycle is. Idle is both the initial
// state and the re-entry point for the next cycle.
type cycleState int

const (
	stateIdle cycleState = iota
	stateArming
	stateArmed
	stateWaitingForEvent
	stateCaptured
	stateDone
)

// DefaultMaxRetries bounds how many times a cycle is retried after a
// capture fault before the session aborts.
const DefaultMaxRetries = 16

// defaultPollInterval is how long the controller sleeps between completion
// polls. Sleeping, rather than spinning, is what lets the measured CPU
// enter an idle state.
const defaultPollInterval = 50 * time.Microsecond

// Controller drives one device through arm -> idle -> capture cycles.
// Cycles are strictly serialized: the hardware sources in scope are
// single-shot, so a second arm before the first event fires is undefined.
type Controller struct {
	dev device.Device

	ldistMin uint64
	ldistMax uint64
	rng      *rand.Rand

	dirtyBuf []byte

	maxRetries   int
	pollInterval time.Duration

	state    cycleState
	discards atomic.Uint64
}

// NewController builds a controller. ldistMin == ldistMax requests a fixed
// launch distance; otherwise each cycle draws uniformly from the range.
// dirtyCacheSize > 0 enables the cache-dirtying pass during arming.
func NewController(dev device.Device, ldistMin, ldistMax uint64, dirtyCacheSize int, maxRetries int) *Controller {
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	c := &Controller{
		dev:          dev,
		ldistMin:     ldistMin,
		ldistMax:     ldistMax,
		rng:          rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
		maxRetries:   maxRetries,
		pollInterval: defaultPollInterval,
	}
	if dirtyCacheSize > 0 {
		c.dirtyBuf = make([]byte, dirtyCacheSize)
	}
	return c
}

// Discards returns how many captures have been discarded and retried.
// Faulty captures are never dropped without incrementing this counter.
func (c *Controller) Discards() uint64 {
	return c.discards.Load()
}

// RunCycle performs one complete measurement cycle and returns its raw
// capture. Capture faults are retried locally up to the retry budget.
// The context is consulted only between attempts: an in-flight cycle
// always runs to completion or discard, never emitting a partial capture.
func (c *Controller) RunCycle(ctx context.Context) (Raw, error) {
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return Raw{}, err
		}

		raw, err := c.cycle()
		if err == nil {
			return raw, nil
		}
		if ctx.Err() != nil {
			return Raw{}, ctx.Err()
		}
		// A wedged event source cannot be helped by retrying: the armed
		// event is single-shot and still notionally in flight.
		if errors.Is(err, ErrCycleTimeout) {
			return Raw{}, err
		}
		c.discards.Add(1)
	}
	return Raw{}, fmt.Errorf("%d consecutive capture faults on device %q: %w",
		c.maxRetries+1, c.dev.Info().ID, ErrCaptureFault)
}

func (c *Controller) cycle() (Raw, error) {
	c.state = stateArming

	// Emulate realistic dirty-cache exit cost before the CPU idles.
	if c.dirtyBuf != nil {
		for i := range c.dirtyBuf {
			c.dirtyBuf[i] = 0
		}
	}

	ldist := c.drawLDist()
	launch, err := c.dev.Arm(ldist)
	if err != nil {
		return Raw{}, fmt.Errorf("arming device: %w", err)
	}
	c.state = stateArmed

	// The event source is single-shot: if it fired before the arming
	// bookkeeping finished, the capture raced us and must be discarded.
	if c.dev.Done() {
		c.consume()
		c.state = stateIdle
		return Raw{}, fmt.Errorf("event fired before arming completed: %w", ErrCaptureFault)
	}

	c.state = stateWaitingForEvent
	if err := c.waitForEvent(ldist); err != nil {
		c.consume()
		c.state = stateIdle
		return Raw{}, err
	}

	c.state = stateCaptured
	capt, err := c.dev.Capture()
	if err != nil {
		c.state = stateIdle
		return Raw{}, fmt.Errorf("reading capture: %w", err)
	}

	// Clock wrap or a mis-programmed timer produces an effect that
	// precedes its cause; the capture is corrupt.
	if capt.TimeAfterIdle < capt.LaunchTime || launch != capt.LaunchTime {
		c.state = stateIdle
		return Raw{}, fmt.Errorf("causality violation (tai %d < ltime %d): %w",
			capt.TimeAfterIdle, capt.LaunchTime, ErrCaptureFault)
	}

	c.state = stateDone
	raw := Raw{Capture: capt, LDist: ldist, At: time.Now()}
	c.state = stateIdle
	return raw, nil
}

// waitForEvent sleeps in short increments until the device reports
// completion. Sleeping is the cycle's only intentional blocking point; no
// work happens here that would keep the measured CPU out of idle. The wait
// is bounded by the expected fire time plus a generous margin. Cancellation
// is checked between cycles by RunCycle, never mid-wait.
func (c *Controller) waitForEvent(ldist uint64) error {
	deadline := time.Now().Add(2*time.Duration(ldist) + time.Second)
	for !c.dev.Done() {
		if time.Now().After(deadline) {
			return ErrCycleTimeout
		}
		time.Sleep(c.pollInterval)
	}
	return nil
}

// consume drains a completed capture that is being discarded, resetting
// the device for the next arm.
func (c *Controller) consume() {
	if c.dev.Done() {
		_, _ = c.dev.Capture()
	}
}

func (c *Controller) drawLDist() uint64 {
	if c.ldistMin == c.ldistMax {
		return c.ldistMin
	}
	return c.ldistMin + c.rng.Uint64N(c.ldistMax-c.ldistMin+1)
}
