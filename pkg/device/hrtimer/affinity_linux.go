//go:build linux

package hrtimer

import (
	"runtime"

	"golang.org/x/sys/unix"
)

// pinToCPU locks the calling goroutine to its OS thread and restricts that
// thread to the given CPU. The returned function restores the previous
// affinity mask and unlocks the thread.
func pinToCPU(cpu int) (func() error, error) {
	runtime.LockOSThread()

	var prev unix.CPUSet
	if err := unix.SchedGetaffinity(0, &prev); err != nil {
		runtime.UnlockOSThread()
		return nil, err
	}

	var set unix.CPUSet
	set.Set(cpu)
	if err := unix.SchedSetaffinity(0, &set); err != nil {
		runtime.UnlockOSThread()
		return nil, err
	}

	return func() error {
		err := unix.SchedSetaffinity(0, &prev)
		runtime.UnlockOSThread()
		return err
	}, nil
}
