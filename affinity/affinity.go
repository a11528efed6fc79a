// File: affinity/affinity.go
// Author: momentics <momentics@gmail.com>
//
// Platform-neutral API for CPU affinity. Platform-specific implementations are located
// in separate files guarded by build tags.

package affinity

// SetAffinity pins the current OS thread to a given logical CPU. The caller
// must hold the thread with runtime.LockOSThread. On unsupported platforms
// it returns an error.
func SetAffinity(cpuID int) error {
	return setAffinityPlatform(cpuID)
}

// CPUFor spreads worker indexes over n logical CPUs.
func CPUFor(worker, n int) int {
	if n <= 0 {
		return 0
	}
	return worker % n
}
