package cycles

import (
	"testing"
	"time"
)

func TestReadAdvances(t *testing.T) {
	start := Read()
	time.Sleep(time.Millisecond)
	end := Read()

	if end <= start {
		t.Errorf("Counter did not advance: %d -> %d", start, end)
	}
}

func TestFreqEstimate(t *testing.T) {
	freq := FreqHz()
	if freq == 0 {
		t.Fatal("Frequency estimate is zero")
	}
	// Any plausible CPU counter runs between 1 MHz and 10 GHz.
	if freq < 1_000_000 || freq > 10_000_000_000 {
		t.Errorf("Implausible frequency estimate: %d Hz", freq)
	}
	if CounterName() == "" {
		t.Error("Counter has no name")
	}
}
