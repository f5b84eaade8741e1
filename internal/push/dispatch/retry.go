package dispatch

import (
	"time"

	"retention-notifier/internal/channel"
)

// RetryPolicy decides what happens to a job whose send failed. MaxAttempts <= 1 makes every failure terminal.
type RetryPolicy struct {
	MaxAttempts int
	Backoff     time.Duration
}

// NoRetry marks a job failed on its first failed send.
var NoRetry = RetryPolicy{MaxAttempts: 1}

// next returns when to try again after the given number of failed attempts, or false when the job
// must be marked failed. Permanent channel errors are never retried.
func (p RetryPolicy) next(now time.Time, attempts int, err error) (time.Time, bool) {
	if attempts >= p.MaxAttempts || channel.IsPermanent(err) {
		return time.Time{}, false
	}
	backoff := p.Backoff
	if backoff <= 0 {
		backoff = time.Minute
	}
	for i := 1; i < attempts; i++ {
		backoff *= 2
	}
	return now.Add(backoff), true
}
