// Package backoff implements the retry decision and exponential delay
// schedule applied after every job execution. The policy is a pure function
// of its inputs: no jitter, no clock reads, so identical inputs always
// produce identical schedules.
package backoff

import (
	"math"
	"time"
)

// Decision is the outcome the policy assigns to an execution result.
type Decision int

const (
	// Succeed marks the job as succeeded.
	Succeed Decision = iota
	// Retry schedules the job for another attempt after a backoff delay.
	Retry
	// DeadLetter moves the job to the dead letter queue.
	DeadLetter
)

func (d Decision) String() string {
	switch d {
	case Succeed:
		return "succeed"
	case Retry:
		return "retry"
	case DeadLetter:
		return "dead_letter"
	default:
		return "unknown"
	}
}

// Policy holds the backoff tunables. All three come from configuration.
type Policy struct {
	BaseDelay  time.Duration
	Multiplier float64
	MaxDelay   time.Duration
}

// Default returns the policy used when configuration is unavailable.
func Default() Policy {
	return Policy{
		BaseDelay:  time.Second,
		Multiplier: 2,
		MaxDelay:   5 * time.Minute,
	}
}

// Decide maps an execution outcome onto the job state machine:
// exit code zero succeeds, remaining retry budget retries, an exhausted
// budget dead-letters. attempts is the count including the attempt that
// just finished.
func (p Policy) Decide(attempts, maxRetries, exitCode int) Decision {
	if exitCode == 0 {
		return Succeed
	}
	if attempts <= maxRetries {
		return Retry
	}
	return DeadLetter
}

// Delay returns the backoff delay before retry attempt n (1-indexed):
// BaseDelay * Multiplier^(n-1), capped at MaxDelay.
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := time.Duration(float64(p.BaseDelay) * math.Pow(p.Multiplier, float64(attempt-1)))
	if d < 0 {
		// The product overflowed; a negative delay would schedule the retry
		// in the past.
		d = time.Duration(math.MaxInt64)
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

// NextRun returns the instant before which a job that just finished its
// attempt-th try must not be claimed again.
func (p Policy) NextRun(now time.Time, attempt int) time.Time {
	return now.Add(p.Delay(attempt))
}
