// Package cycles reads the CPU cycle counter and provides a coarse
// frequency estimate for programming delayed events. The estimate is
// only used to convert a requested delay into a target cycle count;
// precise cycle-to-time conversion is done by the session's calibrator.
package cycles

import (
	"sync"
	"time"
)

var (
	freqOnce sync.Once
	freqHz   uint64
)

// Read returns the current value of the CPU cycle counter.
func Read() uint64 {
	return readCounter()
}

// CounterName returns the name of the counter backing Read.
func CounterName() string {
	return counterName()
}

// FreqHz returns the estimated counter frequency in Hz. The estimate is
// computed once, on first use, by timing the counter against the wall
// clock and taking the median of several short windows.
func FreqHz() uint64 {
	freqOnce.Do(func() {
		freqHz = estimateFreq()
	})
	return freqHz
}

// estimateFreq times the counter against the wall clock. The median of
// several windows is taken because an individual window can be stretched
// by scheduling noise.
func estimateFreq() uint64 {
	const windows = 5
	const span = 10 * time.Millisecond

	var freqs [windows]uint64
	for i := 0; i < windows; i++ {
		start := readCounter()
		startTime := time.Now()
		time.Sleep(span)
		end := readCounter()
		elapsed := time.Since(startTime)

		freqs[i] = uint64(float64(end-start) / elapsed.Seconds())
	}

	for i := 0; i < windows-1; i++ {
		for j := i + 1; j < windows; j++ {
			if freqs[i] > freqs[j] {
				freqs[i], freqs[j] = freqs[j], freqs[i]
			}
		}
	}
	return freqs[windows/2]
}
