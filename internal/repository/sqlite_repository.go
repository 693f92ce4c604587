package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"

	"queuectl/internal/models"
)

// ErrStoreContention is returned when the exclusive claim transaction could
// not be acquired even after internal retries. Contention is expected under
// concurrent workers and recoverable; callers treat this as "try again".
var ErrStoreContention = errors.New("store contention: claim transaction busy")

// claimRetries bounds the internal busy-retry loop around the claim
// transaction before surfacing ErrStoreContention.
const claimRetries = 5

// SQLiteRepository implements JobRepository and ConfigRepository using SQLite
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite repository.
// The DSN enables WAL for multi-process concurrency, a busy timeout so
// writers queue instead of failing immediately, and immediate transaction
// locking so every claim transaction holds the write lock from BEGIN.
func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	repo := &SQLiteRepository{db: db}
	if err := repo.InitSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return repo, nil
}

// Close closes the database connection
func (r *SQLiteRepository) Close() error {
	return r.db.Close()
}

// InitSchema initializes the database schema. Idempotent.
func (r *SQLiteRepository) InitSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS jobs (
		id TEXT PRIMARY KEY,
		command TEXT NOT NULL,
		shell INTEGER NOT NULL DEFAULT 0,
		state TEXT NOT NULL DEFAULT 'pending',
		attempts INTEGER NOT NULL DEFAULT 0,
		max_retries INTEGER NOT NULL DEFAULT 3,
		next_run_at INTEGER NOT NULL,
		last_error TEXT,
		locked_by TEXT,
		locked_at INTEGER,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_jobs_state_next_run ON jobs(state, next_run_at);
	CREATE INDEX IF NOT EXISTS idx_jobs_locked_by ON jobs(locked_by);

	CREATE TABLE IF NOT EXISTS config (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS workers (
		worker_id TEXT PRIMARY KEY,
		pid INTEGER NOT NULL,
		started_at INTEGER NOT NULL,
		last_heartbeat INTEGER NOT NULL
	);
	`

	_, err := r.db.Exec(schema)
	return err
}

const jobColumns = `id, command, shell, state, attempts, max_retries, next_run_at, last_error, locked_by, locked_at, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanJob(row rowScanner) (*models.Job, error) {
	var job models.Job
	var lastError, lockedBy sql.NullString
	var lockedAt sql.NullInt64
	var nextRunAt, createdAt, updatedAt int64

	err := row.Scan(
		&job.ID,
		&job.Command,
		&job.Shell,
		&job.State,
		&job.Attempts,
		&job.MaxRetries,
		&nextRunAt,
		&lastError,
		&lockedBy,
		&lockedAt,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	job.NextRunAt = time.UnixMilli(nextRunAt)
	job.CreatedAt = time.UnixMilli(createdAt)
	job.UpdatedAt = time.UnixMilli(updatedAt)
	job.LastError = lastError.String
	job.LockedBy = lockedBy.String
	if lockedAt.Valid {
		t := time.UnixMilli(lockedAt.Int64)
		job.LockedAt = &t
	}

	return &job, nil
}

// CreateJob creates a new job in the pending state
func (r *SQLiteRepository) CreateJob(ctx context.Context, job *models.Job) error {
	query := `
		INSERT INTO jobs (id, command, shell, state, attempts, max_retries, next_run_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, 0, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, query,
		job.ID,
		job.Command,
		job.Shell,
		models.StatePending,
		job.MaxRetries,
		job.NextRunAt.UnixMilli(),
		job.CreatedAt.UnixMilli(),
		job.UpdatedAt.UnixMilli(),
	)

	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrConstraint {
			return &ErrDuplicateID{ID: job.ID}
		}
		return fmt.Errorf("failed to create job: %w", err)
	}

	job.State = models.StatePending
	job.Attempts = 0
	return nil
}

// GetJobByID retrieves a job by ID
func (r *SQLiteRepository) GetJobByID(ctx context.Context, id string) (*models.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE id = ?`

	job, err := scanJob(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sql.ErrNoRows
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return job, nil
}

// ListJobs retrieves jobs filtered by state, or all jobs when state is empty
func (r *SQLiteRepository) ListJobs(ctx context.Context, state models.JobState, limit int) ([]*models.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs ORDER BY created_at ASC`
	args := []interface{}{}
	if state != "" {
		query = `SELECT ` + jobColumns + ` FROM jobs WHERE state = ? ORDER BY created_at ASC`
		args = append(args, state)
	}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*models.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate jobs: %w", err)
	}

	return jobs, nil
}

// CountJobsByState returns job counts grouped by state. Every known state is
// present in the result, zero when absent.
func (r *SQLiteRepository) CountJobsByState(ctx context.Context) (map[models.JobState]int, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT state, COUNT(*) FROM jobs GROUP BY state`)
	if err != nil {
		return nil, fmt.Errorf("failed to count jobs: %w", err)
	}
	defer rows.Close()

	counts := make(map[models.JobState]int, len(models.AllStates))
	for _, state := range models.AllStates {
		counts[state] = 0
	}
	for rows.Next() {
		var state models.JobState
		var count int
		if err := rows.Scan(&state, &count); err != nil {
			return nil, fmt.Errorf("failed to scan count: %w", err)
		}
		counts[state] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate counts: %w", err)
	}

	return counts, nil
}

// ClaimNextJob atomically claims the next available job for a worker.
// A job is claimable when it is pending, or failed_retryable with its
// next_run_at in the past. The select and the lock update run in a single
// immediate transaction so two concurrent claims can never take the same
// row. Transient busy errors are retried a bounded number of times before
// surfacing ErrStoreContention.
func (r *SQLiteRepository) ClaimNextJob(ctx context.Context, workerID string, now time.Time) (*models.Job, error) {
	for attempt := 0; attempt < claimRetries; attempt++ {
		job, err := r.claimNextJobOnce(ctx, workerID, now)
		if err == nil {
			return job, nil
		}
		if !isBusy(err) {
			return nil, err
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Duration(attempt+1) * 10 * time.Millisecond):
		}
	}
	return nil, ErrStoreContention
}

func (r *SQLiteRepository) claimNextJobOnce(ctx context.Context, workerID string, now time.Time) (*models.Job, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	nowMilli := now.UnixMilli()

	query := `
		SELECT ` + jobColumns + `
		FROM jobs
		WHERE (state = ? OR state = ?) AND next_run_at <= ?
		ORDER BY next_run_at ASC, created_at ASC
		LIMIT 1
	`

	job, err := scanJob(tx.QueryRowContext(ctx, query, models.StatePending, models.StateFailedRetry, nowMilli))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, tx.Commit()
		}
		return nil, fmt.Errorf("failed to find claimable job: %w", err)
	}

	// Guard on the observed state so a row mutated between the select and
	// this update can never be double-claimed.
	update := `
		UPDATE jobs
		SET state = ?,
		    locked_by = ?,
		    locked_at = ?,
		    attempts = attempts + 1,
		    updated_at = ?
		WHERE id = ? AND state = ?
	`

	res, err := tx.ExecContext(ctx, update, models.StateRunning, workerID, nowMilli, nowMilli, job.ID, job.State)
	if err != nil {
		return nil, fmt.Errorf("failed to lock job: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to check lock update: %w", err)
	}
	if affected == 0 {
		// Row changed underneath us; treat as nothing claimable this round.
		return nil, tx.Commit()
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit claim: %w", err)
	}

	job.State = models.StateRunning
	job.LockedBy = workerID
	lockedAt := time.UnixMilli(nowMilli)
	job.LockedAt = &lockedAt
	job.Attempts++
	job.UpdatedAt = lockedAt

	return job, nil
}

func isBusy(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked
	}
	return false
}

// CompleteJob marks a job as succeeded, clearing its lock and last error.
// Returns sql.ErrNoRows if the job no longer exists.
func (r *SQLiteRepository) CompleteJob(ctx context.Context, id string, now time.Time) error {
	query := `
		UPDATE jobs
		SET state = ?,
		    last_error = NULL,
		    locked_by = NULL,
		    locked_at = NULL,
		    updated_at = ?
		WHERE id = ?
	`

	res, err := r.db.ExecContext(ctx, query, models.StateSucceeded, now.UnixMilli(), id)
	if err != nil {
		return fmt.Errorf("failed to complete job: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check complete update: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// FailJob records a failed attempt. When dead is false the job is scheduled
// for retry at nextRunAt; when dead is true it moves to the dead letter
// queue. The lock is cleared either way.
func (r *SQLiteRepository) FailJob(ctx context.Context, id string, errDetail string, nextRunAt time.Time, dead bool, now time.Time) error {
	state := models.StateFailedRetry
	nextRun := nextRunAt.UnixMilli()
	if dead {
		state = models.StateDead
		nextRun = now.UnixMilli()
	}

	query := `
		UPDATE jobs
		SET state = ?,
		    next_run_at = ?,
		    last_error = ?,
		    locked_by = NULL,
		    locked_at = NULL,
		    updated_at = ?
		WHERE id = ?
	`

	res, err := r.db.ExecContext(ctx, query, state, nextRun, errDetail, now.UnixMilli(), id)
	if err != nil {
		return fmt.Errorf("failed to record job failure: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check failure update: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// ListDeadJobs retrieves all jobs in the dead letter queue
func (r *SQLiteRepository) ListDeadJobs(ctx context.Context) ([]*models.Job, error) {
	return r.ListJobs(ctx, models.StateDead, 0)
}

// RetryDeadJob resets a dead job to pending so workers can claim it again.
// Attempts are preserved; last_error and lock fields are cleared. Returns
// ErrNotDead if the job is not in the dead state.
func (r *SQLiteRepository) RetryDeadJob(ctx context.Context, id string, now time.Time) (*models.Job, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var state models.JobState
	err = tx.QueryRowContext(ctx, `SELECT state FROM jobs WHERE id = ?`, id).Scan(&state)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sql.ErrNoRows
		}
		return nil, fmt.Errorf("failed to get job state: %w", err)
	}
	if state != models.StateDead {
		return nil, &ErrNotDead{ID: id, State: state}
	}

	nowMilli := now.UnixMilli()
	update := `
		UPDATE jobs
		SET state = ?,
		    next_run_at = ?,
		    last_error = NULL,
		    locked_by = NULL,
		    locked_at = NULL,
		    updated_at = ?
		WHERE id = ? AND state = ?
	`
	if _, err := tx.ExecContext(ctx, update, models.StatePending, nowMilli, nowMilli, id, models.StateDead); err != nil {
		return nil, fmt.Errorf("failed to retry dead job: %w", err)
	}

	job, err := scanJob(tx.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id))
	if err != nil {
		return nil, fmt.Errorf("failed to reload job: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit dlq retry: %w", err)
	}
	return job, nil
}

// DeleteDeadJob purges a dead job. Deleting an id that is absent is a no-op
// success; the bool reports whether a row was removed.
func (r *SQLiteRepository) DeleteDeadJob(ctx context.Context, id string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM jobs WHERE id = ? AND state = ?`, id, models.StateDead)
	if err != nil {
		return false, fmt.Errorf("failed to delete dead job: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to check delete: %w", err)
	}
	return affected > 0, nil
}

// ReleaseStaleJobs reverts running jobs locked before cutoff back to pending.
// This is the stale-lock reclamation policy: a job stuck in running because
// its worker died becomes claimable again after the threshold.
func (r *SQLiteRepository) ReleaseStaleJobs(ctx context.Context, cutoff time.Time) (int, error) {
	query := `
		UPDATE jobs
		SET state = ?,
		    locked_by = NULL,
		    locked_at = NULL,
		    updated_at = ?
		WHERE state = ? AND locked_at < ?
	`

	res, err := r.db.ExecContext(ctx, query, models.StatePending, time.Now().UnixMilli(), models.StateRunning, cutoff.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("failed to release stale jobs: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to check stale release: %w", err)
	}
	return int(affected), nil
}

// RegisterWorker records a worker process in the workers table
func (r *SQLiteRepository) RegisterWorker(ctx context.Context, workerID string, pid int, now time.Time) error {
	query := `
		INSERT OR REPLACE INTO workers (worker_id, pid, started_at, last_heartbeat)
		VALUES (?, ?, ?, ?)
	`
	_, err := r.db.ExecContext(ctx, query, workerID, pid, now.UnixMilli(), now.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to register worker: %w", err)
	}
	return nil
}

// UnregisterWorker removes a worker from the workers table
func (r *SQLiteRepository) UnregisterWorker(ctx context.Context, workerID string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM workers WHERE worker_id = ?`, workerID)
	if err != nil {
		return fmt.Errorf("failed to unregister worker: %w", err)
	}
	return nil
}

// HeartbeatWorker updates a worker's last heartbeat timestamp
func (r *SQLiteRepository) HeartbeatWorker(ctx context.Context, workerID string, now time.Time) error {
	_, err := r.db.ExecContext(ctx, `UPDATE workers SET last_heartbeat = ? WHERE worker_id = ?`, now.UnixMilli(), workerID)
	if err != nil {
		return fmt.Errorf("failed to update worker heartbeat: %w", err)
	}
	return nil
}

// ListWorkers returns all registered workers
func (r *SQLiteRepository) ListWorkers(ctx context.Context) ([]*models.WorkerInfo, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT worker_id, pid, started_at, last_heartbeat FROM workers ORDER BY started_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query workers: %w", err)
	}
	defer rows.Close()

	var workers []*models.WorkerInfo
	for rows.Next() {
		var w models.WorkerInfo
		var startedAt, lastHeartbeat int64
		if err := rows.Scan(&w.WorkerID, &w.PID, &startedAt, &lastHeartbeat); err != nil {
			return nil, fmt.Errorf("failed to scan worker: %w", err)
		}
		w.StartedAt = time.UnixMilli(startedAt)
		w.LastHeartbeat = time.UnixMilli(lastHeartbeat)
		workers = append(workers, &w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate workers: %w", err)
	}

	return workers, nil
}

// GetConfig returns a config value and whether the key exists
func (r *SQLiteRepository) GetConfig(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := r.db.QueryRowContext(ctx, `SELECT value FROM config WHERE key = ?`, key).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("failed to get config %s: %w", key, err)
	}
	return value, true, nil
}

// SetConfig stores a config value, replacing any existing one
func (r *SQLiteRepository) SetConfig(ctx context.Context, key, value string) error {
	_, err := r.db.ExecContext(ctx, `INSERT OR REPLACE INTO config (key, value) VALUES (?, ?)`, key, value)
	if err != nil {
		return fmt.Errorf("failed to set config %s: %w", key, err)
	}
	return nil
}

// AllConfig returns every config entry
func (r *SQLiteRepository) AllConfig(ctx context.Context) (map[string]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT key, value FROM config`)
	if err != nil {
		return nil, fmt.Errorf("failed to query config: %w", err)
	}
	defer rows.Close()

	entries := make(map[string]string)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("failed to scan config entry: %w", err)
		}
		entries[key] = value
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate config: %w", err)
	}

	return entries, nil
}
