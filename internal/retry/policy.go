// Package retry defines the backoff schedule shared by the queue worker and
// the transfer manager. A Policy is a pure mapping from attempt number to
// delay; it owns no timers and has no side effects.
package retry

import (
	"errors"
	"time"
)

// ErrNoDelays is returned when constructing a Policy with an empty schedule.
var ErrNoDelays = errors.New("retry policy requires at least one delay")

// Policy is an ordered list of delays between attempts. Attempt n (1-indexed)
// maps to Delays[n-1]; attempts past the end of the list are exhausted.
type Policy struct {
	delays []time.Duration
}

// NewPolicy creates a Policy from the given delay schedule.
// Returns an error if the schedule is empty.
func NewPolicy(delays []time.Duration) (Policy, error) {
	if len(delays) == 0 {
		return Policy{}, ErrNoDelays
	}

	// Copy so callers cannot mutate the schedule afterwards.
	copied := make([]time.Duration, len(delays))
	copy(copied, delays)

	return Policy{delays: copied}, nil
}

// DefaultJobPolicy returns the backoff schedule for transcription jobs.
func DefaultJobPolicy() Policy {
	return Policy{delays: []time.Duration{
		5 * time.Second,
		30 * time.Second,
		5 * time.Minute,
	}}
}

// DefaultTransferPolicy returns the backoff schedule for artifact downloads.
// Delays are larger than the job schedule since transfers are long-running
// and their failures usually reflect network conditions.
func DefaultTransferPolicy() Policy {
	return Policy{delays: []time.Duration{
		30 * time.Second,
		2 * time.Minute,
		10 * time.Minute,
	}}
}

// MaxAttempts returns the number of retry attempts the policy permits.
func (p Policy) MaxAttempts() int {
	return len(p.delays)
}

// DelayFor maps a 1-indexed attempt number to its delay. The second return
// value is false when the attempt is out of range: the budget is exhausted
// and no further retry should be scheduled.
func (p Policy) DelayFor(attempt int) (time.Duration, bool) {
	if attempt < 1 || attempt > len(p.delays) {
		return 0, false
	}
	return p.delays[attempt-1], true
}

// Exhausted reports whether the given retry count has consumed the whole
// schedule.
func (p Policy) Exhausted(retryCount int) bool {
	return retryCount >= len(p.delays)
}
