// Package reliability holds the retry rules shared by the upstream clients.
package reliability

import (
	"context"
	"time"
)

// IsRetryableStatus reports whether an upstream HTTP status is worth retrying.
func IsRetryableStatus(code int) bool {
	switch code {
	case 408, 429, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}

// Backoff returns base doubled once per attempt, capped at limit.
func Backoff(attempt int, base, limit time.Duration) time.Duration {
	if attempt <= 0 {
		return base
	}
	d := base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= limit {
			return limit
		}
	}
	return d
}

// Policy bounds a retry loop.
type Policy struct {
	Attempts int
	Base     time.Duration
	Limit    time.Duration
}

// Do calls fn until it succeeds, returns an error retryable rejects, or the
// attempts run out. The last error is returned.
func Do(ctx context.Context, p Policy, retryable func(error) bool, fn func(attempt int) error) error {
	if p.Attempts < 1 {
		p.Attempts = 1
	}
	var err error
	for attempt := 0; attempt < p.Attempts; attempt++ {
		if err = fn(attempt); err == nil || !retryable(err) || attempt == p.Attempts-1 {
			return err
		}
		timer := time.NewTimer(Backoff(attempt, p.Base, p.Limit))
		select {
		case <-ctx.Done():
			timer.Stop()
			return err
		case <-timer.C:
		}
	}
	return err
}
