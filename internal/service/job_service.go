package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"queuectl/internal/config"
	"queuectl/internal/models"
	"queuectl/internal/repository"
)

var (
	ErrJobNotFound       = errors.New("job not found")
	ErrRateLimitExceeded = errors.New("rate limit exceeded")
	ErrInvalidRequest    = errors.New("invalid enqueue request")
)

// Status reports job counts per state and the registered workers.
type Status struct {
	Counts  map[models.JobState]int `json:"counts"`
	Workers []*models.WorkerInfo    `json:"workers"`
}

// JobService handles job business logic
type JobService struct {
	repo        repository.JobRepository
	cfg         *config.Config
	rateLimiter *RateLimiter
}

// NewJobService creates a new job service. rateLimiter may be nil when the
// calling surface does not enforce submission limits.
func NewJobService(repo repository.JobRepository, cfg *config.Config, rateLimiter *RateLimiter) *JobService {
	return &JobService{
		repo:        repo,
		cfg:         cfg,
		rateLimiter: rateLimiter,
	}
}

// Enqueue creates a new pending job. The command mode is explicit in the
// request: a shell request carries the raw string, otherwise an argument
// vector is required and stored encoded. The id is generated when omitted.
func (s *JobService) Enqueue(ctx context.Context, req *models.EnqueueRequest) (*models.Job, error) {
	var command string
	switch {
	case req.Shell:
		if req.Command == "" {
			return nil, fmt.Errorf("%w: shell mode requires a command string", ErrInvalidRequest)
		}
		if len(req.Argv) > 0 {
			return nil, fmt.Errorf("%w: shell mode and argument vector are mutually exclusive", ErrInvalidRequest)
		}
		command = req.Command
	default:
		if len(req.Argv) == 0 {
			return nil, fmt.Errorf("%w: an argument vector is required unless shell mode is requested", ErrInvalidRequest)
		}
		encoded, err := models.EncodeArgv(req.Argv)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
		}
		command = encoded
	}

	if s.rateLimiter != nil {
		if err := s.rateLimiter.CheckSubmissionRate(); err != nil {
			return nil, err
		}
		counts, err := s.repo.CountJobsByState(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to get running jobs count: %w", err)
		}
		if err := s.rateLimiter.CheckConcurrentLimit(counts[models.StateRunning]); err != nil {
			return nil, err
		}
	}

	maxRetries := s.cfg.GetInt(ctx, config.KeyMaxRetries, 3)
	if req.MaxRetries != nil {
		if *req.MaxRetries < 0 {
			return nil, fmt.Errorf("%w: max_retries must be non-negative", ErrInvalidRequest)
		}
		maxRetries = *req.MaxRetries
	}

	id := req.ID
	if id == "" {
		id = uuid.New().String()
	}

	now := time.Now()
	job := &models.Job{
		ID:         id,
		Command:    command,
		Shell:      req.Shell,
		State:      models.StatePending,
		MaxRetries: maxRetries,
		NextRunAt:  now,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	if err := s.repo.CreateJob(ctx, job); err != nil {
		var dupErr *repository.ErrDuplicateID
		if errors.As(err, &dupErr) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to enqueue job: %w", err)
	}

	return job, nil
}

// GetJob retrieves a job by ID
func (s *JobService) GetJob(ctx context.Context, id string) (*models.Job, error) {
	job, err := s.repo.GetJobByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return job, nil
}

// ListJobs retrieves jobs, optionally filtered by state. A positive limit
// caps the result.
func (s *JobService) ListJobs(ctx context.Context, state models.JobState, limit int) ([]*models.Job, error) {
	if state != "" && !state.Valid() {
		return nil, fmt.Errorf("%w: unknown state %q", ErrInvalidRequest, state)
	}
	jobs, err := s.repo.ListJobs(ctx, state, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	return jobs, nil
}

// GetStatus returns job counts per state and the registered workers
func (s *JobService) GetStatus(ctx context.Context) (*Status, error) {
	counts, err := s.repo.CountJobsByState(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get job counts: %w", err)
	}
	workers, err := s.repo.ListWorkers(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list workers: %w", err)
	}
	return &Status{Counts: counts, Workers: workers}, nil
}
