// Package stats samples CPU utilization and frequency while a measurement
// session runs. It is an independent collaborator of the engine: it shares
// no mutable state with the measurement goroutine and its failures are
// never fatal to the session.
package stats

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
)

// RecordFunc persists one sample.
type RecordFunc func(at time.Time, cpuPercent, freqMHz float64) error

// Collector periodically samples the measured CPU.
type Collector struct {
	cpu      int
	interval time.Duration
	record   RecordFunc

	mu      sync.Mutex
	running bool
	done    chan struct{}
	wg      sync.WaitGroup
}

// New builds a collector for one CPU. record receives every sample.
func New(cpuNum int, interval time.Duration, record RecordFunc) *Collector {
	return &Collector{cpu: cpuNum, interval: interval, record: record}
}

// Start launches the sampling loop.
func (c *Collector) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		return fmt.Errorf("stats collector already running")
	}
	if c.interval <= 0 {
		return fmt.Errorf("stats collector interval must be positive")
	}

	c.done = make(chan struct{})
	c.running = true
	c.wg.Add(1)
	go c.loop(c.done)
	return nil
}

// Stop halts the sampling loop and waits for it to finish.
func (c *Collector) Stop() error {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return fmt.Errorf("stats collector not running")
	}
	c.running = false
	close(c.done)
	c.mu.Unlock()

	c.wg.Wait()
	return nil
}

func (c *Collector) loop(done chan struct{}) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			c.sample()
		}
	}
}

func (c *Collector) sample() {
	at := time.Now()

	var pct, mhz float64
	if percents, err := cpu.Percent(0, true); err == nil && c.cpu < len(percents) {
		pct = percents[c.cpu]
	}
	if infos, err := cpu.Info(); err == nil && c.cpu < len(infos) {
		mhz = infos[c.cpu].Mhz
	}

	if err := c.record(at, pct, mhz); err != nil {
		log.Printf("stats sample dropped: %v", err)
	}
}
