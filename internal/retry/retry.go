package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"
)

// ErrExhausted wraps the last error once every attempt has failed.
var ErrExhausted = errors.New("retry budget exhausted")

// Policy bounds a retried call. Attempts counts the first call.
type Policy struct {
	Attempts int
	Initial  time.Duration
	Max      time.Duration
}

type stopError struct{ err error }

func (s stopError) Error() string { return s.err.Error() }
func (s stopError) Unwrap() error { return s.err }

// Stop marks err as not worth retrying; Do returns it immediately.
func Stop(err error) error {
	if err == nil {
		return nil
	}
	return stopError{err: err}
}

// Do calls fn until it succeeds, returns a Stop error, the context ends, or the attempt budget runs out.
// onFailure, when non-nil, sees every failed attempt (1-based).
func Do(ctx context.Context, p Policy, fn func(ctx context.Context, attempt int) error, onFailure func(attempt int, err error)) error {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}
	var last error
	for attempt := 1; attempt <= attempts; attempt++ {
		err := fn(ctx, attempt)
		if err == nil {
			return nil
		}
		last = err
		if onFailure != nil {
			onFailure(attempt, err)
		}
		var stop stopError
		if errors.As(err, &stop) {
			return stop.err
		}
		if attempt == attempts {
			break
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %w", ctx.Err(), last)
		case <-time.After(BackoffWithJitter(p.Initial, p.Max, attempt)):
		}
	}
	return fmt.Errorf("%w after %d attempts: %w", ErrExhausted, attempts, last)
}

// BackoffWithJitter returns an exponential delay for attempt, capped at max, with up to half of it jittered.
func BackoffWithJitter(base, max time.Duration, attempt int) time.Duration {
	if base <= 0 {
		return 0
	}
	if attempt <= 0 {
		return base
	}
	exp := float64(base) * math.Pow(2, float64(attempt-1))
	var wait time.Duration
	switch {
	case max > 0 && exp >= float64(max):
		wait = max
	case exp >= float64(math.MaxInt64):
		wait = time.Duration(math.MaxInt64)
	default:
		wait = time.Duration(exp)
	}
	if wait < 2 {
		return wait
	}
	jitter := time.Duration(rand.Int63n(int64(wait / 2)))
	return wait/2 + jitter
}
