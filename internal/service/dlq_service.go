package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	"queuectl/internal/models"
	"queuectl/internal/repository"
)

// DLQService provides operations on jobs that exhausted their retry budget.
type DLQService struct {
	repo repository.JobRepository
}

// NewDLQService creates a new DLQ service
func NewDLQService(repo repository.JobRepository) *DLQService {
	return &DLQService{repo: repo}
}

// List returns all jobs in the dead letter queue
func (s *DLQService) List(ctx context.Context) ([]*models.Job, error) {
	jobs, err := s.repo.ListDeadJobs(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list dead jobs: %w", err)
	}
	return jobs, nil
}

// Retry resets a dead job to pending so workers can pick it up again.
// Attempts are preserved, so a retried job that fails once more goes
// straight back to the dead letter queue.
func (s *DLQService) Retry(ctx context.Context, id string) (*models.Job, error) {
	job, err := s.repo.RetryDeadJob(ctx, id, time.Now())
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrJobNotFound
		}
		var notDead *repository.ErrNotDead
		if errors.As(err, &notDead) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to retry dead job: %w", err)
	}
	log.Printf("job_id=%s: retried from dead letter queue", id)
	return job, nil
}

// Delete purges a dead job. Deleting an absent id succeeds and reports
// false, so repeated deletes are safe.
func (s *DLQService) Delete(ctx context.Context, id string) (bool, error) {
	deleted, err := s.repo.DeleteDeadJob(ctx, id)
	if err != nil {
		return false, fmt.Errorf("failed to delete dead job: %w", err)
	}
	if deleted {
		log.Printf("job_id=%s: deleted from dead letter queue", id)
	}
	return deleted, nil
}
