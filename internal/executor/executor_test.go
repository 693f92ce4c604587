package executor

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestExecutor_Run_VectorSuccess(t *testing.T) {
	e := New(0)

	result, err := e.Run(context.Background(), `["echo", "hello world"]`, false)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if result.ExitCode != 0 {
		t.Errorf("expected exit code 0, got %d", result.ExitCode)
	}
	if strings.TrimSpace(result.Stdout) != "hello world" {
		t.Errorf("expected stdout %q, got %q", "hello world", result.Stdout)
	}
	if result.TimedOut {
		t.Error("job should not have timed out")
	}
}

func TestExecutor_Run_ShellMode(t *testing.T) {
	e := New(0)

	result, err := e.Run(context.Background(), "echo one && echo two 1>&2", true)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if result.ExitCode != 0 {
		t.Errorf("expected exit code 0, got %d", result.ExitCode)
	}
	if strings.TrimSpace(result.Stdout) != "one" {
		t.Errorf("expected stdout %q, got %q", "one", result.Stdout)
	}
	if strings.TrimSpace(result.Stderr) != "two" {
		t.Errorf("expected stderr %q, got %q", "two", result.Stderr)
	}
}

func TestExecutor_Run_NonZeroExitIsNotAnError(t *testing.T) {
	e := New(0)

	result, err := e.Run(context.Background(), "exit 3", true)
	if err != nil {
		t.Fatalf("non-zero exit must not surface as an error, got %v", err)
	}
	if result.ExitCode != 3 {
		t.Errorf("expected exit code 3, got %d", result.ExitCode)
	}
}

func TestExecutor_Run_InvocationFault(t *testing.T) {
	e := New(0)

	_, err := e.Run(context.Background(), `["/nonexistent/binary/for/sure"]`, false)
	if err == nil {
		t.Fatal("expected an invocation fault")
	}
	var invErr *InvocationError
	if !errors.As(err, &invErr) {
		t.Fatalf("expected InvocationError, got %T: %v", err, err)
	}
}

func TestExecutor_Run_InvalidArgumentVector(t *testing.T) {
	e := New(0)

	cases := []string{"not json", "[]", `{"cmd": "echo"}`}
	for _, command := range cases {
		_, err := e.Run(context.Background(), command, false)
		var invErr *InvocationError
		if !errors.As(err, &invErr) {
			t.Errorf("command %q: expected InvocationError, got %v", command, err)
		}
	}
}

func TestExecutor_Run_Timeout(t *testing.T) {
	e := New(100 * time.Millisecond)

	start := time.Now()
	result, err := e.Run(context.Background(), "sleep 10", true)
	if err != nil {
		t.Fatalf("timeout must not surface as an error, got %v", err)
	}
	if !result.TimedOut {
		t.Error("expected TimedOut to be set")
	}
	if result.ExitCode == 0 {
		t.Error("timed out command must report a non-zero exit code")
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("process not killed promptly, took %s", elapsed)
	}
}

func TestExecutor_Run_OutputTruncation(t *testing.T) {
	e := New(0)
	e.MaxOutputBytes = 100

	result, err := e.Run(context.Background(), "yes x | head -c 10000", true)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !strings.HasSuffix(result.Stdout, truncationMarker) {
		t.Error("expected truncation marker on oversized stdout")
	}
	if len(result.Stdout) > 100+len(truncationMarker) {
		t.Errorf("stdout not bounded: %d bytes", len(result.Stdout))
	}
}

func TestExecutor_Run_SmallOutputNotTruncated(t *testing.T) {
	e := New(0)
	e.MaxOutputBytes = 100

	result, err := e.Run(context.Background(), `["echo", "short"]`, false)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if strings.Contains(result.Stdout, truncationMarker) {
		t.Error("short output must not carry the truncation marker")
	}
}
