package service

import (
	"sync"
	"time"
)

// RateLimiter caps enqueue submissions per minute and the number of jobs
// allowed to run concurrently. The HTTP surface wires it in; the CLI does
// not.
type RateLimiter struct {
	mu sync.Mutex

	maxConcurrentRunning    int
	maxSubmissionsPerMinute int

	windowCount int
	windowEnd   time.Time
}

// NewRateLimiter creates a new rate limiter. A non-positive limit disables
// that check.
func NewRateLimiter(maxConcurrentRunning, maxSubmissionsPerMinute int) *RateLimiter {
	return &RateLimiter{
		maxConcurrentRunning:    maxConcurrentRunning,
		maxSubmissionsPerMinute: maxSubmissionsPerMinute,
	}
}

// CheckConcurrentLimit checks whether another job may run given the current
// running count.
func (rl *RateLimiter) CheckConcurrentLimit(currentRunning int) error {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if rl.maxConcurrentRunning > 0 && currentRunning >= rl.maxConcurrentRunning {
		return ErrRateLimitExceeded
	}
	return nil
}

// CheckSubmissionRate checks whether another job may be enqueued in the
// current one-minute window, counting the submission when allowed.
func (rl *RateLimiter) CheckSubmissionRate() error {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if rl.maxSubmissionsPerMinute <= 0 {
		return nil
	}

	now := time.Now()
	if now.After(rl.windowEnd) {
		rl.windowCount = 1
		rl.windowEnd = now.Add(time.Minute)
		return nil
	}

	if rl.windowCount >= rl.maxSubmissionsPerMinute {
		return ErrRateLimitExceeded
	}

	rl.windowCount++
	return nil
}
