package orchestrator

import (
	"fmt"
	"os"
	"os/exec"
	"syscall"
)

// ProcessSpawner is the production Spawner: it re-execs this same
// binary's hidden `__supervise <job-id>` subcommand as a detached
// child — new session, new process group, parent returns as soon as
// the PID is known. This stands in for a runtime-specific
// daemonization call, grounded on sallandpioneers-ultra-engineer's
// daemon command pattern (own session recorded before the parent
// returns).
type ProcessSpawner struct {
	// BinaryPath is the executable to re-exec; defaults to the
	// currently running binary (os.Executable()) if empty.
	BinaryPath string
	// StoragePath is passed through via STORAGE_PATH so the detached
	// Supervisor opens the same store file.
	StoragePath string
	// LogPath, if set, redirects the child's stdout/stderr to a file
	// instead of /dev/null, so a crash before the Supervisor's own
	// logger is installed is still visible.
	LogPath string
}

// Spawn implements Spawner.
func (p *ProcessSpawner) Spawn(jobID string) (int, error) {
	binary := p.BinaryPath
	if binary == "" {
		self, err := os.Executable()
		if err != nil {
			return 0, fmt.Errorf("resolve self executable: %w", err)
		}
		binary = self
	}

	cmd := exec.Command(binary, "__supervise", jobID)
	cmd.Env = os.Environ()
	if p.StoragePath != "" {
		cmd.Env = append(cmd.Env, "STORAGE_PATH="+p.StoragePath)
	}
	cmd.Stdin = nil

	if p.LogPath != "" {
		logFile, err := os.OpenFile(p.LogPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return 0, fmt.Errorf("open supervisor log: %w", err)
		}
		cmd.Stdout = logFile
		cmd.Stderr = logFile
	} else {
		cmd.Stdout = nil
		cmd.Stderr = nil
	}

	// New session detaches the child from this process's controlling
	// terminal and process group; a terminate sent to this process
	// (or its own parent) does not cascade to the Supervisor.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("start supervisor: %w", err)
	}

	// Release lets the child continue living after this process exits
	// without becoming a zombie waiting to be reaped by a parent that
	// has no intention of calling Wait.
	if err := cmd.Process.Release(); err != nil {
		return cmd.Process.Pid, fmt.Errorf("release supervisor process: %w", err)
	}

	return cmd.Process.Pid, nil
}

// SignalTerminate sends SIGTERM to pid, the mechanism behind KillJob.
func SignalTerminate(pid int) error {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("find process %d: %w", pid, err)
	}
	return proc.Signal(syscall.SIGTERM)
}
