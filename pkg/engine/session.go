package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"github.com/cstatelab/wakebench/pkg/clock"
	"github.com/cstatelab/wakebench/pkg/config"
	"github.com/cstatelab/wakebench/pkg/device"
)

// StatsHooks is the lifecycle of the external statistics collector. Hook
// failures are logged and never abort the measurement.
type StatsHooks interface {
	Start() error
	Stop() error
}

// Session binds a device, a configuration and the datapoint pipeline, and
// owns the start/stop lifecycle. The session is driven entirely from the
// goroutine that calls Run; only Cancel and Progress may be called from
// elsewhere.
type Session struct {
	cfg   config.Config
	dev   device.Device
	ctl   *Controller
	pipe  *Pipeline
	cal   *clock.Calibrator
	stats StatsHooks

	started   time.Time
	cancelled atomic.Bool
}

// Start validates the configuration, enables the device and builds the
// measurement machinery. No cycle is armed until Run. On any failure the
// device is left exactly as it was found.
func Start(cfg config.Config, dev device.Device, sink Sink, stats StatsHooks) (*Session, error) {
	if err := cfg.Normalize(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	info := dev.Info()
	if cfg.LDistMin < info.LDistMin || cfg.LDistMax > info.LDistMax {
		return nil, fmt.Errorf("%w: launch distance [%d, %d] outside device %q bounds [%d, %d]",
			config.ErrInvalid, cfg.LDistMin, cfg.LDistMax, info.ID, info.LDistMin, info.LDistMax)
	}
	if cfg.IntrFocus && !info.Caps.Has(device.CapIntrTime) {
		return nil, fmt.Errorf("%w: device %q cannot capture interrupt time",
			config.ErrInvalid, info.ID)
	}

	var pred *Predicate
	var err error
	switch {
	case cfg.Include != "":
		pred, err = NewInclude(cfg.Include)
	case cfg.Exclude != "":
		pred, err = NewExclude(cfg.Exclude)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", config.ErrInvalid, err)
	}

	if err := dev.Enable(cfg.Force); err != nil {
		return nil, fmt.Errorf("enabling device %q: %w", info.ID, err)
	}

	cal := clock.New(cfg.CalibWindow)
	dirtySize := 0
	if cfg.DirtyCache {
		dirtySize = cfg.DirtyCacheSize
	}

	// The pipeline caps kept emission at the remaining target: the whole
	// calibration backlog drains in one Ingest, so the between-cycle stop
	// check alone would overshoot Count by the size of the backlog.
	var keepTarget uint64
	if cfg.Count > cfg.StartOffset {
		keepTarget = cfg.Count - cfg.StartOffset
	}

	s := &Session{
		cfg:   cfg,
		dev:   dev,
		cal:   cal,
		pipe:  NewPipeline(cal, pred, sink, cfg.KeepFiltered, cfg.IntrFocus, keepTarget),
		ctl:   NewController(dev, cfg.LDistMin, cfg.LDistMax, dirtySize, cfg.MaxRetries),
		stats: stats,
	}

	if s.stats != nil {
		if err := s.stats.Start(); err != nil {
			log.Printf("statistics collector failed to start: %v", err)
			s.stats = nil
		}
	}
	return s, nil
}

// Run drives measurement cycles until a stop condition is met, the context
// is cancelled, or a fatal error occurs. Device.Exit runs unconditionally
// on every return path. Cancellation is cooperative: the in-flight cycle
// finishes before teardown, and partial captures are never emitted.
func (s *Session) Run(ctx context.Context) (err error) {
	s.started = time.Now()

	defer func() {
		if s.stats != nil {
			if serr := s.stats.Stop(); serr != nil {
				log.Printf("statistics collector failed to stop: %v", serr)
			}
		}
		if xerr := s.dev.Exit(); xerr != nil {
			if err == nil {
				err = fmt.Errorf("restoring device state: %w", xerr)
			} else {
				log.Printf("restoring device state after error: %v", xerr)
			}
		}
	}()

	for !s.stop(ctx) {
		raw, cerr := s.ctl.RunCycle(ctx)
		if cerr != nil {
			if errors.Is(cerr, context.Canceled) || errors.Is(cerr, context.DeadlineExceeded) {
				return nil
			}
			return cerr
		}
		if perr := s.pipe.Ingest(raw); perr != nil {
			return perr
		}
	}
	return nil
}

// stop reports whether the session should halt before the next cycle.
func (s *Session) stop(ctx context.Context) bool {
	if ctx.Err() != nil || s.cancelled.Load() {
		return true
	}
	if s.cfg.Count > 0 && s.pipe.Kept()+s.cfg.StartOffset >= s.cfg.Count {
		return true
	}
	if s.cfg.TimeLimit > 0 && time.Since(s.started) >= s.cfg.TimeLimit {
		return true
	}
	return false
}

// Cancel requests the session to finish its in-flight cycle and stop.
func (s *Session) Cancel() {
	s.cancelled.Store(true)
}

// Progress is a snapshot of session counters.
type Progress struct {
	// Kept counts datapoints that passed the keep-predicate this run.
	Kept uint64
	// Target is the configured kept-count goal. Kept rows of an extended
	// prior result count toward it through the start offset, so this run
	// alone emits Target minus that offset. Zero means no count target.
	Target uint64
	// Total counts all converted datapoints, kept or filtered.
	Total uint64
	// Buffered counts captures still waiting on clock calibration.
	Buffered int
	// Discarded counts captures dropped by the retry policy.
	Discarded uint64
	// Elapsed is the wall-clock time since Run began.
	Elapsed time.Duration
}

// Progress returns the session's aggregate counters.
func (s *Session) Progress() Progress {
	var elapsed time.Duration
	if !s.started.IsZero() {
		elapsed = time.Since(s.started)
	}
	return Progress{
		Kept:      s.pipe.Kept(),
		Target:    s.cfg.Count,
		Total:     s.pipe.Total(),
		Buffered:  s.pipe.Buffered(),
		Discarded: s.ctl.Discards(),
		Elapsed:   elapsed,
	}
}

// Calibrated reports whether the clock rate has been derived.
func (s *Session) Calibrated() bool {
	return s.cal.Ready()
}
