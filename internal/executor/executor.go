// Package executor runs job commands as isolated child processes and
// reports structured results. A non-zero exit code is a normal result, not
// an error: only launch-level faults (binary missing, permission denied)
// surface as InvocationError.
package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"syscall"
	"time"
)

// DefaultMaxOutputBytes bounds captured stdout/stderr per stream.
const DefaultMaxOutputBytes = 64 * 1024

const truncationMarker = "\n...[output truncated]"

// Result is the outcome of one command execution.
type Result struct {
	ExitCode int           `json:"exit_code"`
	Stdout   string        `json:"stdout"`
	Stderr   string        `json:"stderr"`
	Duration time.Duration `json:"duration"`
	TimedOut bool          `json:"timed_out"`
}

// InvocationError reports that the command could not even be launched,
// as opposed to running and exiting non-zero.
type InvocationError struct {
	Command string
	Err     error
}

func (e *InvocationError) Error() string {
	return fmt.Sprintf("failed to invoke command %q: %v", e.Command, e.Err)
}

func (e *InvocationError) Unwrap() error {
	return e.Err
}

// Executor runs commands with a timeout and bounded output capture.
type Executor struct {
	// Timeout limits a single execution; zero means no limit.
	Timeout time.Duration
	// MaxOutputBytes bounds each captured stream; zero uses the default.
	MaxOutputBytes int
}

// New creates an executor with the given timeout.
func New(timeout time.Duration) *Executor {
	return &Executor{Timeout: timeout, MaxOutputBytes: DefaultMaxOutputBytes}
}

// Run executes command and returns its result. In shell mode the command is
// a raw string handed to `sh -c`; otherwise it is a JSON-encoded argument
// vector executed directly, with no shell interpretation. On timeout the
// whole process group is killed and a synthetic non-zero result with
// TimedOut set is returned.
func (e *Executor) Run(ctx context.Context, command string, shell bool) (*Result, error) {
	if e.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.Timeout)
		defer cancel()
	}

	var cmd *exec.Cmd
	if shell {
		cmd = exec.CommandContext(ctx, "sh", "-c", command)
	} else {
		var argv []string
		if err := json.Unmarshal([]byte(command), &argv); err != nil {
			return nil, &InvocationError{Command: command, Err: fmt.Errorf("invalid argument vector: %w", err)}
		}
		if len(argv) == 0 {
			return nil, &InvocationError{Command: command, Err: errors.New("empty argument vector")}
		}
		cmd = exec.CommandContext(ctx, argv[0], argv[1:]...)
	}

	maxBytes := e.MaxOutputBytes
	if maxBytes <= 0 {
		maxBytes = DefaultMaxOutputBytes
	}
	stdout := newBoundedBuffer(maxBytes)
	stderr := newBoundedBuffer(maxBytes)
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	// Run the child in its own process group so a timeout kills the whole
	// tree, not just the direct child.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}

	start := time.Now()
	err := cmd.Run()
	duration := time.Since(start)

	if err != nil && ctx.Err() == context.DeadlineExceeded {
		return &Result{
			ExitCode: -1,
			Stdout:   stdout.String(),
			Stderr:   fmt.Sprintf("command timed out after %s", e.Timeout),
			Duration: duration,
			TimedOut: true,
		}, nil
	}

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return &Result{
				ExitCode: exitErr.ExitCode(),
				Stdout:   stdout.String(),
				Stderr:   stderr.String(),
				Duration: duration,
			}, nil
		}
		// Launch failed: command not found, permission denied, and friends.
		return nil, &InvocationError{Command: command, Err: err}
	}

	return &Result{
		ExitCode: 0,
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: duration,
	}, nil
}

// boundedBuffer captures up to max bytes and drops the rest, recording that
// truncation happened.
type boundedBuffer struct {
	max       int
	buf       []byte
	truncated bool
}

func newBoundedBuffer(max int) *boundedBuffer {
	return &boundedBuffer{max: max}
}

func (b *boundedBuffer) Write(p []byte) (int, error) {
	remaining := b.max - len(b.buf)
	if remaining > 0 {
		if len(p) <= remaining {
			b.buf = append(b.buf, p...)
		} else {
			b.buf = append(b.buf, p[:remaining]...)
			b.truncated = true
		}
	} else if len(p) > 0 {
		b.truncated = true
	}
	// Report full length so the child never sees a write error.
	return len(p), nil
}

func (b *boundedBuffer) String() string {
	if b.truncated {
		return string(b.buf) + truncationMarker
	}
	return string(b.buf)
}
