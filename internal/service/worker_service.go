package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"queuectl/internal/backoff"
	"queuectl/internal/executor"
	"queuectl/internal/metrics"
	"queuectl/internal/models"
	"queuectl/internal/repository"
)

// errExcerptLen bounds the stderr excerpt recorded as last_error.
const errExcerptLen = 500

// invocationExitCode is the synthetic exit code assigned when the command
// could not be launched at all, so the retry policy treats the fault like
// any other failed execution.
const invocationExitCode = 127

// PoolOptions configures a worker pool run.
type PoolOptions struct {
	// Count is the number of concurrent workers.
	Count int
	// Limit caps jobs processed per worker; zero means unlimited.
	Limit int
	// PollInterval is the wait between unsuccessful claim attempts.
	PollInterval time.Duration
	// Drain makes workers exit once no job is claimable instead of polling.
	Drain bool
	// JobTimeout limits a single command execution; zero means unlimited.
	JobTimeout time.Duration
	// StaleThreshold releases running jobs locked longer than this before
	// the pool starts; zero disables reclamation.
	StaleThreshold time.Duration
	// Policy is the retry/backoff policy applied to every outcome.
	Policy backoff.Policy
}

// Worker claims jobs from the store, executes them, and persists the
// policy outcome. It shares no in-memory state with other workers: all
// coordination goes through the store's atomic operations.
type Worker struct {
	id        string
	repo      repository.JobRepository
	exec      *executor.Executor
	opts      PoolOptions
	metrics   *metrics.Metrics
	processed int
}

// NewWorker creates a worker with a generated id.
func NewWorker(repo repository.JobRepository, exec *executor.Executor, opts PoolOptions, m *metrics.Metrics) *Worker {
	return &Worker{
		id:      fmt.Sprintf("worker-%s", uuid.New().String()[:8]),
		repo:    repo,
		exec:    exec,
		opts:    opts,
		metrics: m,
	}
}

// ID returns the worker's identifier as written into locked_by.
func (w *Worker) ID() string {
	return w.id
}

// Run is the worker loop: claim, execute, apply policy, persist, repeat.
// It stops when the processed-job limit is reached, when draining finds no
// claimable job, or when ctx is cancelled. Cancellation kills an in-flight
// command, and the interrupted attempt's outcome is persisted before the
// loop exits.
func (w *Worker) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			log.Printf("worker=%s: shutting down", w.id)
			return
		default:
		}

		if w.opts.Limit > 0 && w.processed >= w.opts.Limit {
			log.Printf("worker=%s: job limit reached (%d)", w.id, w.opts.Limit)
			return
		}

		job, err := w.repo.ClaimNextJob(ctx, w.id, time.Now())
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if errors.Is(err, repository.ErrStoreContention) {
				log.Printf("worker=%s: claim contention, backing off", w.id)
			} else {
				log.Printf("worker=%s: error claiming job: %v", w.id, err)
			}
			w.idle(ctx)
			continue
		}

		if job == nil {
			if w.opts.Drain {
				log.Printf("worker=%s: queue drained", w.id)
				return
			}
			w.idle(ctx)
			w.heartbeat(ctx)
			continue
		}

		w.processJob(ctx, job)
		w.processed++
		w.heartbeat(ctx)
	}
}

func (w *Worker) idle(ctx context.Context) {
	interval := w.opts.PollInterval
	if interval <= 0 {
		interval = time.Second
	}
	select {
	case <-ctx.Done():
	case <-time.After(interval):
	}
}

func (w *Worker) heartbeat(ctx context.Context) {
	if err := w.repo.HeartbeatWorker(ctx, w.id, time.Now()); err != nil && ctx.Err() == nil {
		log.Printf("worker=%s: error updating heartbeat: %v", w.id, err)
	}
}

// processJob executes a single claimed job and persists the outcome. The
// outcome is written with a fresh context: ctx may already be cancelled
// when shutdown killed the command, and the claimed job must not stay
// locked in running.
func (w *Worker) processJob(ctx context.Context, job *models.Job) {
	log.Printf("job_id=%s: claimed by %s, attempt %d/%d", job.ID, w.id, job.Attempts, job.MaxRetries+1)

	result, err := w.exec.Run(ctx, job.Command, job.Shell)
	persistCtx := context.Background()
	if err != nil {
		// The command never launched. Logged and counted, but for the job
		// state machine it is just another failed attempt.
		w.metrics.IncrementInvocationFaults()
		log.Printf("job_id=%s: invocation fault: %v", job.ID, err)
		w.persistFailure(persistCtx, job, excerpt(err.Error()), invocationExitCode)
		return
	}

	log.Printf("job_id=%s: exit_code=%d duration=%s", job.ID, result.ExitCode, result.Duration.Round(time.Millisecond))

	if result.ExitCode == 0 {
		if err := w.repo.CompleteJob(persistCtx, job.ID, time.Now()); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				// Concurrently deleted; nothing left to update.
				log.Printf("job_id=%s: completed but no longer exists", job.ID)
				return
			}
			log.Printf("job_id=%s: error marking job succeeded: %v", job.ID, err)
			return
		}
		w.metrics.IncrementSucceeded()
		log.Printf("job_id=%s: succeeded", job.ID)
		return
	}

	errDetail := excerpt(result.Stderr)
	if errDetail == "" {
		errDetail = fmt.Sprintf("exit code: %d", result.ExitCode)
	}
	w.persistFailure(persistCtx, job, errDetail, result.ExitCode)
}

// persistFailure applies the retry policy to a failed attempt and writes
// the resulting state.
func (w *Worker) persistFailure(ctx context.Context, job *models.Job, errDetail string, exitCode int) {
	now := time.Now()
	decision := w.opts.Policy.Decide(job.Attempts, job.MaxRetries, exitCode)

	switch decision {
	case backoff.Retry:
		nextRun := w.opts.Policy.NextRun(now, job.Attempts)
		if err := w.repo.FailJob(ctx, job.ID, errDetail, nextRun, false, now); err != nil {
			log.Printf("job_id=%s: error scheduling retry: %v", job.ID, err)
			return
		}
		w.metrics.IncrementFailedRetryable()
		log.Printf("job_id=%s: failed, retry in %s", job.ID, w.opts.Policy.Delay(job.Attempts))
	case backoff.DeadLetter:
		if err := w.repo.FailJob(ctx, job.ID, errDetail, now, true, now); err != nil {
			log.Printf("job_id=%s: error moving job to dead letter queue: %v", job.ID, err)
			return
		}
		w.metrics.IncrementDeadLettered()
		log.Printf("job_id=%s: moved to dead letter queue after %d attempts", job.ID, job.Attempts)
	default:
		// Decide never returns Succeed for a non-zero exit code.
		log.Printf("job_id=%s: unexpected policy decision %s", job.ID, decision)
	}
}

func excerpt(s string) string {
	if len(s) > errExcerptLen {
		return s[:errExcerptLen]
	}
	return s
}

// Pool runs a configured count of workers concurrently against one store
// and aggregates their outcomes.
type Pool struct {
	repo    repository.JobRepository
	opts    PoolOptions
	metrics *metrics.Metrics
}

// NewPool creates a worker pool
func NewPool(repo repository.JobRepository, opts PoolOptions) *Pool {
	if opts.Count <= 0 {
		opts.Count = 1
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Second
	}
	return &Pool{
		repo:    repo,
		opts:    opts,
		metrics: metrics.NewMetrics(),
	}
}

// Run releases stale locks, starts the workers, waits for them all to reach
// a stop condition, and returns the aggregated summary.
func (p *Pool) Run(ctx context.Context) (models.PoolSummary, error) {
	if p.opts.StaleThreshold > 0 {
		released, err := p.repo.ReleaseStaleJobs(ctx, time.Now().Add(-p.opts.StaleThreshold))
		if err != nil {
			return models.PoolSummary{}, fmt.Errorf("failed to release stale jobs: %w", err)
		}
		if released > 0 {
			log.Printf("released %d stale running jobs", released)
		}
	}

	exec := executor.New(p.opts.JobTimeout)
	pid := os.Getpid()

	var wg sync.WaitGroup
	for i := 0; i < p.opts.Count; i++ {
		worker := NewWorker(p.repo, exec, p.opts, p.metrics)
		if err := p.repo.RegisterWorker(ctx, worker.ID(), pid, time.Now()); err != nil {
			log.Printf("worker=%s: error registering: %v", worker.ID(), err)
		}
		wg.Add(1)
		go func(w *Worker) {
			defer wg.Done()
			defer func() {
				if err := p.repo.UnregisterWorker(context.Background(), w.ID()); err != nil {
					log.Printf("worker=%s: error unregistering: %v", w.ID(), err)
				}
			}()
			w.Run(ctx)
		}(worker)
	}

	wg.Wait()

	summary := p.metrics.Summary()
	log.Printf("worker pool finished: succeeded=%d failed_retryable=%d dead=%d invocation_faults=%d",
		summary.Succeeded, summary.FailedRetryable, summary.Dead, summary.InvocationFaults)
	return summary, nil
}
