package metrics

import (
	"sync"

	"queuectl/internal/models"
)

// Metrics tracks worker pool outcome counters
type Metrics struct {
	mu sync.RWMutex

	succeededJobs    int64
	failedRetryable  int64
	deadLetteredJobs int64
	invocationFaults int64
}

// NewMetrics creates a new metrics instance
func NewMetrics() *Metrics {
	return &Metrics{}
}

// IncrementSucceeded increments the succeeded jobs counter
func (m *Metrics) IncrementSucceeded() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.succeededJobs++
}

// IncrementFailedRetryable increments the retry-scheduled jobs counter
func (m *Metrics) IncrementFailedRetryable() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failedRetryable++
}

// IncrementDeadLettered increments the dead-lettered jobs counter
func (m *Metrics) IncrementDeadLettered() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deadLetteredJobs++
}

// IncrementInvocationFaults increments the invocation fault counter
func (m *Metrics) IncrementInvocationFaults() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.invocationFaults++
}

// GetSnapshot returns a snapshot of all metrics
func (m *Metrics) GetSnapshot() map[string]int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return map[string]int64{
		"succeeded_jobs":    m.succeededJobs,
		"failed_retryable":  m.failedRetryable,
		"dead_lettered":     m.deadLetteredJobs,
		"invocation_faults": m.invocationFaults,
	}
}

// Summary returns the pool summary built from the current counters
func (m *Metrics) Summary() models.PoolSummary {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return models.PoolSummary{
		Succeeded:        m.succeededJobs,
		FailedRetryable:  m.failedRetryable,
		Dead:             m.deadLetteredJobs,
		InvocationFaults: m.invocationFaults,
	}
}
