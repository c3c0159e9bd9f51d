// Package agent launches one agent subprocess for one work unit,
// parses its line-delimited JSON event stream, enforces a timeout, and
// returns a structured result. It never touches the Store directly —
// the Worker Pool owns persistence of what the Runner returns.
//
// Grounded on grovetools-flow's pkg/orchestration/headless_agent_executor.go
// (flag assembly, environment passthrough, detached invocation) and
// secondarily on sallandpioneers-ultra-engineer/internal/claude/claude.go
// (the bufio.Scanner line-by-line JSON event loop and timeout
// classification via ctx.Err()).
package agent

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/mattsolo1/grove-batch/internal/batcherr"
	"github.com/mattsolo1/grove-batch/internal/store"
	exec2 "github.com/mattsolo1/grove-batch/pkg/exec"
)

// DefaultTimeout is the unit timeout used when the caller does not
// specify one.
const DefaultTimeout = 10 * time.Minute

// RunOptions configures a single agent invocation.
type RunOptions struct {
	Template       string
	Payload        store.Payload
	Timeout        time.Duration
	Model          string
	MaxTurns       int
	WorkDir        string
	AddDirectories []string
	ResumeSession  string

	// OnStart, if set, is called once the subprocess has been started
	// with its OS PID, so a caller can persist process_id before the
	// run finishes (needed for liveness checks and kill_unit).
	OnStart func(pid int)
}

// Result is the structured outcome of one agent run.
type Result struct {
	Success              bool
	Output               string
	SessionID            string
	CostUSD              float64
	ExecutionTimeSeconds float64
	Conversation         []store.Event
	RenderedPrompt       string
	Err                  error
}

// Runner launches the configured agent binary for one unit at a time;
// it holds no per-job or per-unit state and is safe to share across
// concurrent Pool workers.
type Runner struct {
	Command string

	// exec resolves the binary's path (for both Probe and Run) and
	// runs the short --version probe, via the pkg/exec.CommandExecutor
	// interface injected here so tests can exercise the availability
	// check without a real agent binary on PATH. The streaming
	// invocation itself still goes through os/exec's CommandContext
	// directly, since CommandExecutor's Execute has no notion of a
	// live stdout pipe.
	exec execinterface
}

// execinterface mirrors pkg/exec.CommandExecutor's method set without
// importing the package into every caller's type signature.
type execinterface interface {
	LookPath(file string) (string, error)
	Execute(name string, arg ...string) error
}

// NewRunner returns a Runner invoking the named binary (e.g. "claude")
// via the real OS command executor.
func NewRunner(command string) *Runner {
	return &Runner{Command: command, exec: &exec2.RealCommandExecutor{}}
}

// NewRunnerWithExecutor returns a Runner whose availability probe goes
// through the supplied executor (pkg/exec.CommandExecutor), letting
// tests substitute pkg/exec.MockCommandExecutor.
func NewRunnerWithExecutor(command string, executor execinterface) *Runner {
	return &Runner{Command: command, exec: executor}
}

// Probe implements job creation's availability check: surface
// "subprocess unavailable" as an early fatal before any units are
// persisted, rather than discovering it one retry at a time.
func (r *Runner) Probe(ctx context.Context) error {
	if _, err := r.exec.LookPath(r.Command); err != nil {
		return fmt.Errorf("%s: %w", r.Command, batcherr.ErrUnavailable)
	}
	if err := r.exec.Execute(r.Command, "--version"); err != nil {
		return fmt.Errorf("%s --version: %w: %w", r.Command, err, batcherr.ErrUnavailable)
	}
	return nil
}

// Run renders the prompt, launches the subprocess detached, and
// streams its event output into a Result.
func (r *Runner) Run(ctx context.Context, opts RunOptions) *Result {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	prompt := store.RenderTemplate(opts.Template, opts.Payload)
	res := &Result{RenderedPrompt: prompt}

	path, err := r.exec.LookPath(r.Command)
	if err != nil {
		res.Err = fmt.Errorf("%s: %w", r.Command, batcherr.ErrUnavailable)
		return res
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	args := buildArgs(opts, prompt)
	cmd := buildCommand(runCtx, path, args, opts.WorkDir)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		res.Err = fmt.Errorf("stdout pipe: %w", err)
		return res
	}
	var stderrBuf bytes.Buffer
	cmd.Stderr = &stderrBuf

	start := time.Now()
	if err := cmd.Start(); err != nil {
		res.Err = fmt.Errorf("start %s: %w", r.Command, batcherr.ErrUnavailable)
		return res
	}
	if opts.OnStart != nil {
		opts.OnStart(cmd.Process.Pid)
	}

	gotTerminal := false
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), 8*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}

		raw := map[string]interface{}{}
		if err := json.Unmarshal(line, &raw); err != nil {
			continue // non-JSON diagnostic output
		}
		res.Conversation = append(res.Conversation, store.Event{Raw: raw, Timestamp: time.Now().UTC()})

		var env eventEnvelope
		_ = json.Unmarshal(line, &env)

		switch env.Type {
		case "system":
			if env.Subtype == "init" {
				var init systemInitEvent
				if err := json.Unmarshal(line, &init); err == nil {
					res.SessionID = init.SessionID
				}
			}
		case "result":
			var result resultEvent
			if err := json.Unmarshal(line, &result); err == nil {
				gotTerminal = true
				res.Success = !result.IsError
				res.CostUSD = result.TotalCostUSD
				res.Output = result.Result
				if result.DurationMS > 0 {
					res.ExecutionTimeSeconds = float64(result.DurationMS) / 1000.0
				}
			}
		}
	}

	waitErr := cmd.Wait()
	elapsed := time.Since(start).Seconds()
	if res.ExecutionTimeSeconds == 0 {
		res.ExecutionTimeSeconds = elapsed
	}

	switch runCtx.Err() {
	case context.DeadlineExceeded:
		killProcessGroup(cmd.Process)
		res.Success = false
		res.Err = fmt.Errorf("after %s: %w", timeout, batcherr.ErrTimeout)
		return res
	case context.Canceled:
		killProcessGroup(cmd.Process)
		res.Success = false
		res.Err = fmt.Errorf("%w", batcherr.ErrKilled)
		return res
	}

	if !gotTerminal {
		res.Success = false
		if waitErr != nil {
			res.Err = fmt.Errorf("%w: %v: %s", batcherr.ErrNoResult, waitErr, stderrBuf.String())
		} else {
			res.Err = fmt.Errorf("%w: %s", batcherr.ErrNoResult, stderrBuf.String())
		}
		return res
	}

	return res
}

// buildArgs assembles the CLI invocation.
func buildArgs(opts RunOptions, prompt string) []string {
	args := []string{"--print", "--output-format", "stream-json", "--verbose"}

	if opts.ResumeSession != "" {
		args = append(args, "--resume", opts.ResumeSession)
	}
	if opts.Model != "" {
		args = append(args, "--model", opts.Model)
	}
	if opts.MaxTurns > 0 {
		args = append(args, "--max-turns", fmt.Sprintf("%d", opts.MaxTurns))
	}
	for _, dir := range opts.AddDirectories {
		args = append(args, "--add-dir", dir)
	}
	if len(opts.AddDirectories) > 0 {
		args = append(args, "--dangerously-skip-permissions")
	}

	args = append(args, prompt)
	return args
}

// buildCommand constructs (but does not start) the subprocess, detached
// from any controlling terminal: a new session/process group so a
// timeout can kill the whole tree, and a nil Stdin connects the child
// to /dev/null. Supervisors are themselves detached; a child that
// inherits a controlling terminal blocks forever on a read. Split out
// from Run so the detach contract can be asserted directly on the
// constructed *exec.Cmd without starting a real process.
func buildCommand(ctx context.Context, path string, args []string, workDir string) *exec.Cmd {
	cmd := exec.CommandContext(ctx, path, args...)
	cmd.Dir = workDir
	cmd.Env = os.Environ()
	cmd.Stdin = nil
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	return cmd
}

func killProcessGroup(p *os.Process) {
	if p == nil {
		return
	}
	_ = syscall.Kill(-p.Pid, syscall.SIGKILL)
}
