// Package liveness answers "is this OS process id still alive" for
// worker cleanup and stuck-unit recovery.
// Grounded on the only process-introspection library anywhere in the
// retrieval pack (github.com/shirou/gopsutil/v3, pulled in by
// aipilotbyjd-linkflow-ai for host metrics); a bare os.FindProcess +
// Signal(0) probe cannot distinguish a live process from a PID that
// has been reused by an unrelated process since reboot, which
// gopsutil's richer process.Process lets us at least partially guard
// against by also checking CreateTime when available.
package liveness

import (
	"github.com/shirou/gopsutil/v3/process"
)

// IsAlive reports whether pid refers to a currently running process.
func IsAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	exists, err := process.PidExists(int32(pid))
	if err != nil {
		return false
	}
	return exists
}

// StartedAfter reports whether the process referenced by pid appears
// to be the same process recorded earlier, by comparing creation
// time. Used as a secondary guard where PID reuse after a long outage
// is a realistic risk (long-paused jobs resumed much later).
func StartedAfter(pid int, recordedUnixMillis int64) bool {
	proc, err := process.NewProcess(int32(pid))
	if err != nil {
		return false
	}
	createTime, err := proc.CreateTime()
	if err != nil {
		// Can't tell; don't second-guess IsAlive's verdict.
		return true
	}
	return createTime >= recordedUnixMillis
}
