package repository

import (
	"context"
	"fmt"
	"time"

	"queuectl/internal/models"
)

// JobRepository defines the interface for job persistence. All state
// transitions happen through these operations; no caller mutates job state
// any other way.
type JobRepository interface {
	CreateJob(ctx context.Context, job *models.Job) error
	GetJobByID(ctx context.Context, id string) (*models.Job, error)
	// ListJobs returns jobs filtered by state, or all jobs when state is
	// empty. A positive limit caps the result; zero or negative means no cap.
	ListJobs(ctx context.Context, state models.JobState, limit int) ([]*models.Job, error)
	CountJobsByState(ctx context.Context) (map[models.JobState]int, error)

	// ClaimNextJob atomically selects and locks the next claimable job for
	// workerID, incrementing its attempt counter. Returns (nil, nil) when no
	// job is claimable.
	ClaimNextJob(ctx context.Context, workerID string, now time.Time) (*models.Job, error)
	CompleteJob(ctx context.Context, id string, now time.Time) error
	// FailJob records a failed attempt: either schedules a retry at nextRunAt
	// or, when dead is true, moves the job to the dead letter queue.
	FailJob(ctx context.Context, id string, errDetail string, nextRunAt time.Time, dead bool, now time.Time) error

	ListDeadJobs(ctx context.Context) ([]*models.Job, error)
	RetryDeadJob(ctx context.Context, id string, now time.Time) (*models.Job, error)
	// DeleteDeadJob purges a dead job. Deleting an absent id is not an error;
	// the bool reports whether a row was actually removed.
	DeleteDeadJob(ctx context.Context, id string) (bool, error)

	// ReleaseStaleJobs reverts running jobs locked before cutoff back to
	// pending so they become claimable again.
	ReleaseStaleJobs(ctx context.Context, cutoff time.Time) (int, error)

	RegisterWorker(ctx context.Context, workerID string, pid int, now time.Time) error
	UnregisterWorker(ctx context.Context, workerID string) error
	HeartbeatWorker(ctx context.Context, workerID string, now time.Time) error
	ListWorkers(ctx context.Context) ([]*models.WorkerInfo, error)
}

// ConfigRepository defines the interface for the key-value settings table.
type ConfigRepository interface {
	GetConfig(ctx context.Context, key string) (string, bool, error)
	SetConfig(ctx context.Context, key, value string) error
	AllConfig(ctx context.Context) (map[string]string, error)
}

// ErrDuplicateID is returned when a job with the same id already exists
type ErrDuplicateID struct {
	ID string
}

func (e *ErrDuplicateID) Error() string {
	return fmt.Sprintf("job with id %s already exists", e.ID)
}

// ErrNotDead is returned by DLQ operations on a job that is not in the dead
// state.
type ErrNotDead struct {
	ID    string
	State models.JobState
}

func (e *ErrNotDead) Error() string {
	return fmt.Sprintf("job %s is in state %s, not dead", e.ID, e.State)
}
