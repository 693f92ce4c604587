package service

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"
	"time"

	"queuectl/internal/config"
	"queuectl/internal/models"
	"queuectl/internal/repository"
)

// mockRepository is an in-memory JobRepository and ConfigRepository for
// service tests.
type mockRepository struct {
	mu      sync.Mutex
	jobs    map[string]*models.Job
	order   []string
	config  map[string]string
	workers map[string]*models.WorkerInfo
}

func newMockRepository() *mockRepository {
	return &mockRepository{
		jobs:    make(map[string]*models.Job),
		config:  make(map[string]string),
		workers: make(map[string]*models.WorkerInfo),
	}
}

func (m *mockRepository) CreateJob(ctx context.Context, job *models.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.jobs[job.ID]; exists {
		return &repository.ErrDuplicateID{ID: job.ID}
	}
	copied := *job
	copied.State = models.StatePending
	m.jobs[job.ID] = &copied
	m.order = append(m.order, job.ID)
	return nil
}

func (m *mockRepository) GetJobByID(ctx context.Context, id string) (*models.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, exists := m.jobs[id]
	if !exists {
		return nil, sql.ErrNoRows
	}
	copied := *job
	return &copied, nil
}

func (m *mockRepository) ListJobs(ctx context.Context, state models.JobState, limit int) ([]*models.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var jobs []*models.Job
	for _, id := range m.order {
		job := m.jobs[id]
		if state == "" || job.State == state {
			copied := *job
			jobs = append(jobs, &copied)
		}
		if limit > 0 && len(jobs) == limit {
			break
		}
	}
	return jobs, nil
}

func (m *mockRepository) CountJobsByState(ctx context.Context) (map[models.JobState]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	counts := make(map[models.JobState]int)
	for _, state := range models.AllStates {
		counts[state] = 0
	}
	for _, job := range m.jobs {
		counts[job.State]++
	}
	return counts, nil
}

func (m *mockRepository) ClaimNextJob(ctx context.Context, workerID string, now time.Time) (*models.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range m.order {
		job := m.jobs[id]
		eligible := (job.State == models.StatePending || job.State == models.StateFailedRetry) && !job.NextRunAt.After(now)
		if !eligible {
			continue
		}
		job.State = models.StateRunning
		job.LockedBy = workerID
		lockedAt := now
		job.LockedAt = &lockedAt
		job.Attempts++
		copied := *job
		return &copied, nil
	}
	return nil, nil
}

func (m *mockRepository) CompleteJob(ctx context.Context, id string, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, exists := m.jobs[id]
	if !exists {
		return sql.ErrNoRows
	}
	job.State = models.StateSucceeded
	job.LastError = ""
	job.LockedBy = ""
	job.LockedAt = nil
	return nil
}

func (m *mockRepository) FailJob(ctx context.Context, id string, errDetail string, nextRunAt time.Time, dead bool, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, exists := m.jobs[id]
	if !exists {
		return sql.ErrNoRows
	}
	job.LastError = errDetail
	job.LockedBy = ""
	job.LockedAt = nil
	if dead {
		job.State = models.StateDead
	} else {
		job.State = models.StateFailedRetry
		job.NextRunAt = nextRunAt
	}
	return nil
}

func (m *mockRepository) ListDeadJobs(ctx context.Context) ([]*models.Job, error) {
	return m.ListJobs(ctx, models.StateDead, 0)
}

func (m *mockRepository) RetryDeadJob(ctx context.Context, id string, now time.Time) (*models.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, exists := m.jobs[id]
	if !exists {
		return nil, sql.ErrNoRows
	}
	if job.State != models.StateDead {
		return nil, &repository.ErrNotDead{ID: id, State: job.State}
	}
	job.State = models.StatePending
	job.NextRunAt = now
	job.LastError = ""
	job.LockedBy = ""
	job.LockedAt = nil
	copied := *job
	return &copied, nil
}

func (m *mockRepository) DeleteDeadJob(ctx context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, exists := m.jobs[id]
	if !exists || job.State != models.StateDead {
		return false, nil
	}
	delete(m.jobs, id)
	for i, jobID := range m.order {
		if jobID == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	return true, nil
}

func (m *mockRepository) ReleaseStaleJobs(ctx context.Context, cutoff time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	released := 0
	for _, job := range m.jobs {
		if job.State == models.StateRunning && job.LockedAt != nil && job.LockedAt.Before(cutoff) {
			job.State = models.StatePending
			job.LockedBy = ""
			job.LockedAt = nil
			released++
		}
	}
	return released, nil
}

func (m *mockRepository) RegisterWorker(ctx context.Context, workerID string, pid int, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.workers[workerID] = &models.WorkerInfo{WorkerID: workerID, PID: pid, StartedAt: now, LastHeartbeat: now}
	return nil
}

func (m *mockRepository) UnregisterWorker(ctx context.Context, workerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.workers, workerID)
	return nil
}

func (m *mockRepository) HeartbeatWorker(ctx context.Context, workerID string, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if w, exists := m.workers[workerID]; exists {
		w.LastHeartbeat = now
	}
	return nil
}

func (m *mockRepository) ListWorkers(ctx context.Context) ([]*models.WorkerInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var workers []*models.WorkerInfo
	for _, w := range m.workers {
		copied := *w
		workers = append(workers, &copied)
	}
	return workers, nil
}

func (m *mockRepository) GetConfig(ctx context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	value, ok := m.config[key]
	return value, ok, nil
}

func (m *mockRepository) SetConfig(ctx context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.config[key] = value
	return nil
}

func (m *mockRepository) AllConfig(ctx context.Context) (map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entries := make(map[string]string, len(m.config))
	for k, v := range m.config {
		entries[k] = v
	}
	return entries, nil
}

func newTestServices(t *testing.T) (*mockRepository, *config.Config) {
	t.Helper()
	repo := newMockRepository()
	cfg, err := config.New(context.Background(), repo)
	if err != nil {
		t.Fatalf("failed to create config: %v", err)
	}
	return repo, cfg
}

func TestJobService_Enqueue_VectorMode(t *testing.T) {
	repo, cfg := newTestServices(t)
	svc := NewJobService(repo, cfg, nil)

	job, err := svc.Enqueue(context.Background(), &models.EnqueueRequest{
		Argv: []string{"echo", "hello"},
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if job.ID == "" {
		t.Error("expected a generated job id")
	}
	if job.Shell {
		t.Error("vector mode must not set shell")
	}
	if job.Command != `["echo","hello"]` {
		t.Errorf("unexpected encoded command: %q", job.Command)
	}
	if job.State != models.StatePending {
		t.Errorf("expected state pending, got %s", job.State)
	}
	// max_retries comes from the seeded config default.
	if job.MaxRetries != 3 {
		t.Errorf("expected max retries 3, got %d", job.MaxRetries)
	}
}

func TestJobService_Enqueue_ShellMode(t *testing.T) {
	repo, cfg := newTestServices(t)
	svc := NewJobService(repo, cfg, nil)

	job, err := svc.Enqueue(context.Background(), &models.EnqueueRequest{
		Shell:   true,
		Command: "echo hello | wc -c",
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !job.Shell {
		t.Error("expected shell mode to be recorded")
	}
	if job.Command != "echo hello | wc -c" {
		t.Errorf("shell command must be stored verbatim, got %q", job.Command)
	}
}

func TestJobService_Enqueue_Validation(t *testing.T) {
	repo, cfg := newTestServices(t)
	svc := NewJobService(repo, cfg, nil)
	negative := -1

	tests := []struct {
		name string
		req  *models.EnqueueRequest
	}{
		{"no command at all", &models.EnqueueRequest{}},
		{"shell mode without string", &models.EnqueueRequest{Shell: true}},
		{"shell and vector together", &models.EnqueueRequest{Shell: true, Command: "ls", Argv: []string{"ls"}}},
		{"negative max retries", &models.EnqueueRequest{Argv: []string{"ls"}, MaxRetries: &negative}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Enqueue(context.Background(), tt.req)
			if !errors.Is(err, ErrInvalidRequest) {
				t.Errorf("expected ErrInvalidRequest, got %v", err)
			}
		})
	}
}

func TestJobService_Enqueue_DuplicateID(t *testing.T) {
	repo, cfg := newTestServices(t)
	svc := NewJobService(repo, cfg, nil)
	ctx := context.Background()

	req := &models.EnqueueRequest{ID: "job-1", Argv: []string{"true"}}
	if _, err := svc.Enqueue(ctx, req); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	_, err := svc.Enqueue(ctx, req)
	var dupErr *repository.ErrDuplicateID
	if !errors.As(err, &dupErr) {
		t.Fatalf("expected ErrDuplicateID, got %v", err)
	}
	// The store is unchanged: still exactly one job.
	jobs, _ := repo.ListJobs(ctx, "", 0)
	if len(jobs) != 1 {
		t.Errorf("expected 1 job after duplicate enqueue, got %d", len(jobs))
	}
}

func TestJobService_Enqueue_ExplicitMaxRetries(t *testing.T) {
	repo, cfg := newTestServices(t)
	svc := NewJobService(repo, cfg, nil)
	five := 5

	job, err := svc.Enqueue(context.Background(), &models.EnqueueRequest{
		Argv:       []string{"true"},
		MaxRetries: &five,
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if job.MaxRetries != 5 {
		t.Errorf("expected max retries 5, got %d", job.MaxRetries)
	}
}

func TestJobService_Enqueue_RateLimited(t *testing.T) {
	repo, cfg := newTestServices(t)
	svc := NewJobService(repo, cfg, NewRateLimiter(5, 1))
	ctx := context.Background()

	if _, err := svc.Enqueue(ctx, &models.EnqueueRequest{Argv: []string{"true"}}); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	_, err := svc.Enqueue(ctx, &models.EnqueueRequest{Argv: []string{"true"}})
	if !errors.Is(err, ErrRateLimitExceeded) {
		t.Errorf("expected ErrRateLimitExceeded, got %v", err)
	}
}

func TestJobService_GetJob_NotFound(t *testing.T) {
	repo, cfg := newTestServices(t)
	svc := NewJobService(repo, cfg, nil)

	_, err := svc.GetJob(context.Background(), "ghost")
	if !errors.Is(err, ErrJobNotFound) {
		t.Errorf("expected ErrJobNotFound, got %v", err)
	}
}

func TestJobService_ListJobs_RejectsUnknownState(t *testing.T) {
	repo, cfg := newTestServices(t)
	svc := NewJobService(repo, cfg, nil)

	_, err := svc.ListJobs(context.Background(), "exploded", 0)
	if !errors.Is(err, ErrInvalidRequest) {
		t.Errorf("expected ErrInvalidRequest, got %v", err)
	}
}

func TestJobService_GetStatus(t *testing.T) {
	repo, cfg := newTestServices(t)
	svc := NewJobService(repo, cfg, nil)
	ctx := context.Background()

	if _, err := svc.Enqueue(ctx, &models.EnqueueRequest{Argv: []string{"true"}}); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	status, err := svc.GetStatus(ctx)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if status.Counts[models.StatePending] != 1 {
		t.Errorf("expected 1 pending job, got %d", status.Counts[models.StatePending])
	}
	for _, state := range models.AllStates {
		if _, ok := status.Counts[state]; !ok {
			t.Errorf("state %s missing from status counts", state)
		}
	}
}
