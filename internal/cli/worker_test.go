package cli

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"
)

func TestPIDFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.pid")

	if err := writePIDFile(path); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	pid, err := readPIDFile(path)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if pid != os.Getpid() {
		t.Errorf("expected pid %d, got %d", os.Getpid(), pid)
	}
}

func TestWritePIDFile_RejectsLiveOwner(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.pid")

	// The test's own pid is definitely alive.
	if err := os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644); err != nil {
		t.Fatalf("failed to seed pid file: %v", err)
	}
	if err := writePIDFile(path); err == nil {
		t.Error("expected an error when the recorded pid is alive")
	}
}

func TestWritePIDFile_OverwritesStalePID(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.pid")

	// Far beyond any default pid_max, so no process can own it.
	if err := os.WriteFile(path, []byte("99999999"), 0o644); err != nil {
		t.Fatalf("failed to seed pid file: %v", err)
	}
	if err := writePIDFile(path); err != nil {
		t.Fatalf("expected stale pid to be overwritten, got %v", err)
	}
	pid, err := readPIDFile(path)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if pid != os.Getpid() {
		t.Errorf("expected pid %d after overwrite, got %d", os.Getpid(), pid)
	}
}

func TestReadPIDFile_Errors(t *testing.T) {
	dir := t.TempDir()

	if _, err := readPIDFile(filepath.Join(dir, "missing.pid")); !os.IsNotExist(err) {
		t.Errorf("expected a not-exist error, got %v", err)
	}

	garbled := filepath.Join(dir, "garbled.pid")
	if err := os.WriteFile(garbled, []byte("not a pid"), 0o644); err != nil {
		t.Fatalf("failed to seed pid file: %v", err)
	}
	if _, err := readPIDFile(garbled); err == nil {
		t.Error("expected an error for non-numeric pid file content")
	}
}
