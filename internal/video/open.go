package video

import (
	"context"
	"time"
)

// OpenPolicy bounds how hard OpenWithRetry tries.
type OpenPolicy struct {
	Attempts int
	Interval time.Duration
	// OnFailure, if set, is told about every failed attempt.
	OnFailure func(attempt int, err error)
}

// DefaultOpenPolicy is three attempts one second apart.
var DefaultOpenPolicy = OpenPolicy{Attempts: 3, Interval: time.Second}

// OpenWithRetry opens src, retrying failed attempts. After the last
// failure it returns an *OpenError wrapping the final cause. A cancelled
// context ends the wait early with the same error type.
func OpenWithRetry(ctx context.Context, src Source, policy OpenPolicy) error {
	attempts := policy.Attempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		err := src.Open(ctx)
		if err == nil {
			return nil
		}
		lastErr = err
		if policy.OnFailure != nil {
			policy.OnFailure(attempt, err)
		}
		if attempt == attempts {
			break
		}

		timer := time.NewTimer(policy.Interval)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return &OpenError{Source: src.String(), Attempts: attempt, Err: ctx.Err()}
		}
	}
	return &OpenError{Source: src.String(), Attempts: attempts, Err: lastErr}
}
