package engine

import (
	"fmt"
	"time"

	"github.com/cstatelab/wakebench/pkg/clock"
)

// Pipeline buffers raw captures until the calibrator is ready, converts
// them to processed datapoints in arrival order, applies the
// keep-predicate and hands results to the sink.
//
// The pre-calibration buffer has no size cap beyond the time-bounded
// calibration window: a pathologically fast event rate during calibration
// consumes memory proportional to the window.
type Pipeline struct {
	cal  *clock.Calibrator
	pred *Predicate
	sink Sink

	keepFiltered bool
	intrFocus    bool
	target       uint64

	buf       []Raw
	nextIndex uint64
	kept      uint64
	total     uint64
}

// NewPipeline builds a pipeline. pred may be nil (keep everything). target
// caps how many kept datapoints are emitted; 0 means no cap.
func NewPipeline(cal *clock.Calibrator, pred *Predicate, sink Sink, keepFiltered, intrFocus bool, target uint64) *Pipeline {
	return &Pipeline{
		cal:          cal,
		pred:         pred,
		sink:         sink,
		keepFiltered: keepFiltered,
		intrFocus:    intrFocus,
		target:       target,
	}
}

// Ingest accepts one raw capture. Before the calibrator is ready the
// capture is buffered; afterwards it is converted and emitted immediately.
// The calibration buffer is drained in FIFO order the moment the rate
// becomes available, so overall arrival order is preserved. The drain
// honors the kept-count target: a calibration backlog larger than the
// remaining target stops emitting the moment the target is met.
func (p *Pipeline) Ingest(raw Raw) error {
	if p.targetReached() {
		return nil
	}

	wasReady := p.cal.Ready()
	if !wasReady {
		p.cal.Observe(raw.Capture.TimeAfterIdle, raw.At)
	}

	if !p.cal.Ready() {
		if p.cal.Stalled(raw.At) {
			return fmt.Errorf("no conversion rate after %s: %w",
				stallSpan(p.cal.Window()), clock.ErrStalled)
		}
		p.buf = append(p.buf, raw)
		return nil
	}

	if !wasReady {
		if err := p.drainBuffer(); err != nil {
			return err
		}
		if p.targetReached() {
			return nil
		}
	}
	return p.convertAndEmit(raw)
}

func stallSpan(window time.Duration) time.Duration {
	return 3 * window
}

func (p *Pipeline) drainBuffer() error {
	for _, raw := range p.buf {
		if p.targetReached() {
			break
		}
		if err := p.convertAndEmit(raw); err != nil {
			return err
		}
	}
	p.buf = nil
	return nil
}

func (p *Pipeline) targetReached() bool {
	return p.target > 0 && p.kept >= p.target
}

func (p *Pipeline) convertAndEmit(raw Raw) error {
	dp, err := p.convert(raw)
	if err != nil {
		return err
	}
	p.total++

	keep, err := p.pred.Keep(dp)
	if err != nil {
		return err
	}
	if keep {
		if err := p.sink.Write(dp, true); err != nil {
			return fmt.Errorf("writing datapoint %d: %w", dp.Index, err)
		}
		p.kept++
		return nil
	}
	if p.keepFiltered {
		if err := p.sink.Write(dp, false); err != nil {
			return fmt.Errorf("writing filtered datapoint %d: %w", dp.Index, err)
		}
	}
	return nil
}

func (p *Pipeline) convert(raw Raw) (Processed, error) {
	c := raw.Capture

	wake, err := p.cal.ToNanoseconds(c.TimeAfterIdle - c.LaunchTime)
	if err != nil {
		return Processed{}, err
	}

	var silent uint64
	if c.LaunchTime > c.TimeBeforeIdle {
		silent, err = p.cal.ToNanoseconds(c.LaunchTime - c.TimeBeforeIdle)
		if err != nil {
			return Processed{}, err
		}
	}

	var intr uint64
	if p.intrFocus && c.IntrTime > c.LaunchTime {
		intr, err = p.cal.ToNanoseconds(c.IntrTime - c.LaunchTime)
		if err != nil {
			return Processed{}, err
		}
	}

	dp := Processed{
		Index:       p.nextIndex,
		WakeLatency: wake,
		IntrLatency: intr,
		SilentTime:  silent,
		LDist:       raw.LDist,
		Aux:         c.Aux,
	}
	p.nextIndex++
	return dp, nil
}

// Kept returns how many datapoints passed the keep-predicate.
func (p *Pipeline) Kept() uint64 {
	return p.kept
}

// Total returns how many datapoints have been converted, kept or not.
// Buffered pre-calibration captures are not counted until drained.
func (p *Pipeline) Total() uint64 {
	return p.total
}

// Buffered returns how many captures are waiting on calibration.
func (p *Pipeline) Buffered() int {
	return len(p.buf)
}
