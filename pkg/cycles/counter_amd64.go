//go:build amd64

package cycles

// rdtsc reads the Time Stamp Counter. Implemented in counter_amd64.s.
func rdtsc() uint64

func readCounter() uint64 {
	return rdtsc()
}

func counterName() string {
	return "rdtsc"
}
