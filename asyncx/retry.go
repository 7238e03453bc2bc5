package asyncx

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrExhausted is matched by errors.Is on the error returned when every
// attempt of a RetryPolicy failed.
var ErrExhausted = errors.New("asyncx: retry attempts exhausted")

// ExhaustedError carries the attempt count and the last failure.
type ExhaustedError struct {
	Attempts int
	Last     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("gave up after %d attempts: %v", e.Attempts, e.Last)
}

func (e *ExhaustedError) Unwrap() []error { return []error{ErrExhausted, e.Last} }

// RetryPolicy runs a unit of work up to MaxAttempts times with a fixed Delay
// between attempts. It does not tell transient faults from permanent ones.
type RetryPolicy struct {
	MaxAttempts int
	Delay       time.Duration
	// Sleep waits between attempts; nil uses a context-aware timer.
	Sleep func(ctx context.Context, d time.Duration) error
	// OnFailure, if set, sees every failed attempt.
	OnFailure func(attempt int, err error)
}

// DefaultRetryPolicy is three attempts, one minute apart.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, Delay: time.Minute}
}

// RetryState is the bookkeeping of one Do call.
type RetryState struct {
	Attempts int
	LastErr  error
}

// Do calls fn until it succeeds or the attempts are used up. attempt starts
// at 1. A cancelled context stops the loop early and counts as exhaustion.
func (p RetryPolicy) Do(ctx context.Context, fn func(ctx context.Context, attempt int) error) (RetryState, error) {
	limit := p.MaxAttempts
	if limit <= 0 {
		limit = 1
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = sleepContext
	}
	var st RetryState
	for st.Attempts < limit {
		st.Attempts++
		err := fn(ctx, st.Attempts)
		if err == nil {
			st.LastErr = nil
			return st, nil
		}
		st.LastErr = err
		if p.OnFailure != nil {
			p.OnFailure(st.Attempts, err)
		}
		if st.Attempts == limit {
			break
		}
		if err := sleep(ctx, p.Delay); err != nil {
			break
		}
	}
	return st, &ExhaustedError{Attempts: st.Attempts, Last: st.LastErr}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
