//go:build !linux

package hrtimer

// CPU affinity control is only available on Linux. Elsewhere the pin is a
// no-op so the engine can still run for development.
func pinToCPU(_ int) (func() error, error) {
	return func() error { return nil }, nil
}
