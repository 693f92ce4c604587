package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// JobState represents the state of a job
type JobState string

const (
	StatePending     JobState = "pending"
	StateRunning     JobState = "running"
	StateSucceeded   JobState = "succeeded"
	StateFailedRetry JobState = "failed_retryable"
	StateDead        JobState = "dead"
)

// AllStates lists every job state in lifecycle order.
var AllStates = []JobState{
	StatePending,
	StateRunning,
	StateSucceeded,
	StateFailedRetry,
	StateDead,
}

// Valid reports whether s is a known job state.
func (s JobState) Valid() bool {
	for _, known := range AllStates {
		if s == known {
			return true
		}
	}
	return false
}

// Job represents a job in the system
type Job struct {
	ID         string     `json:"id"`
	Command    string     `json:"command"`
	Shell      bool       `json:"shell"`
	State      JobState   `json:"state"`
	Attempts   int        `json:"attempts"`
	MaxRetries int        `json:"max_retries"`
	NextRunAt  time.Time  `json:"next_run_at"`
	LastError  string     `json:"last_error,omitempty"`
	LockedBy   string     `json:"locked_by,omitempty"`
	LockedAt   *time.Time `json:"locked_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// Argv decodes the command of a vector-mode job. Shell-mode jobs carry the
// raw string instead and must not be decoded.
func (j *Job) Argv() ([]string, error) {
	if j.Shell {
		return nil, fmt.Errorf("job %s uses shell mode, command is not an argument vector", j.ID)
	}
	var argv []string
	if err := json.Unmarshal([]byte(j.Command), &argv); err != nil {
		return nil, fmt.Errorf("invalid argument vector for job %s: %w", j.ID, err)
	}
	if len(argv) == 0 {
		return nil, fmt.Errorf("empty argument vector for job %s", j.ID)
	}
	return argv, nil
}

// EncodeArgv encodes an argument vector for storage in the command column.
func EncodeArgv(argv []string) (string, error) {
	if len(argv) == 0 {
		return "", fmt.Errorf("argument vector must not be empty")
	}
	raw, err := json.Marshal(argv)
	if err != nil {
		return "", fmt.Errorf("failed to encode argument vector: %w", err)
	}
	return string(raw), nil
}

// EnqueueRequest represents a request to enqueue a job
type EnqueueRequest struct {
	ID         string   `json:"id,omitempty"`
	Command    string   `json:"command,omitempty"`
	Argv       []string `json:"argv,omitempty"`
	Shell      bool     `json:"shell,omitempty"`
	MaxRetries *int     `json:"max_retries,omitempty"`
}

// PoolSummary aggregates the outcomes of one worker pool run.
type PoolSummary struct {
	Succeeded        int64 `json:"succeeded"`
	FailedRetryable  int64 `json:"failed_retryable"`
	Dead             int64 `json:"dead"`
	InvocationFaults int64 `json:"invocation_faults"`
}

// WorkerInfo describes a registered worker process.
type WorkerInfo struct {
	WorkerID      string    `json:"worker_id"`
	PID           int       `json:"pid"`
	StartedAt     time.Time `json:"started_at"`
	LastHeartbeat time.Time `json:"last_heartbeat"`
}
