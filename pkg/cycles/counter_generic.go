//go:build !amd64

package cycles

import "time"

// Monotonic-clock fallback for architectures without a dedicated counter
// read. One "cycle" is one nanosecond, so the estimated frequency comes
// out near 1 GHz.
var epoch = time.Now()

func readCounter() uint64 {
	return uint64(time.Since(epoch))
}

func counterName() string {
	return "monotonic"
}
