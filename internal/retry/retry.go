// Package retry runs upstream calls under a bounded exponential backoff
// policy. Calls report a tagged Result; the loop decides on the tag alone.
package retry

import (
	"context"
	"fmt"
	"math/rand"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"
)

// Outcome tags the result of one attempt.
type Outcome int

const (
	OK Outcome = iota
	Retryable
	Fatal
)

func (o Outcome) String() string {
	switch o {
	case OK:
		return "ok"
	case Retryable:
		return "retryable"
	default:
		return "fatal"
	}
}

// Result is what one attempt returns.
type Result[T any] struct {
	Value   T
	Outcome Outcome
	Err     error
	// RetryAfter is the server-requested minimum wait, if any.
	RetryAfter time.Duration
}

// Ok wraps a successful value.
func Ok[T any](v T) Result[T] { return Result[T]{Value: v, Outcome: OK} }

// Again marks a transient failure; after is an optional server hint.
func Again[T any](err error, after time.Duration) Result[T] {
	return Result[T]{Outcome: Retryable, Err: err, RetryAfter: after}
}

// Stop marks a failure that must not be retried.
func Stop[T any](err error) Result[T] { return Result[T]{Outcome: Fatal, Err: err} }

// Policy bounds the retry loop.
type Policy struct {
	MaxRetries int
	Base       time.Duration
	Cap        time.Duration
	JitterPct  int
	// Sleep waits d or until ctx is done. Tests replace it.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Default is 5 retries, 1s doubling base, 60s cap, 25% jitter.
func Default() Policy {
	return Policy{
		MaxRetries: 5,
		Base:       time.Second,
		Cap:        60 * time.Second,
		JitterPct:  25,
	}
}

// Delay returns the wait before retry number attempt (1-based).
func (p Policy) Delay(attempt int, hint time.Duration) time.Duration {
	base := p.Base
	for i := 1; i < attempt && base < p.Cap; i++ {
		base *= 2
	}
	wait := jittered(base, p.Cap, p.JitterPct)
	if hint > wait {
		wait = min(hint, p.Cap)
	}
	return wait
}

func jittered(base, cap time.Duration, jitterPct int) time.Duration {
	if jitterPct <= 0 {
		jitterPct = 25
	}
	delta := (rand.Float64()*2 - 1) * float64(jitterPct) / 100.0
	wait := time.Duration(float64(base) * (1 + delta))
	if wait < 0 {
		wait = base
	}
	if wait > cap {
		wait = cap
	}
	return wait
}

// ExhaustedError is returned when every retry failed.
type ExhaustedError struct {
	Op       string
	Attempts int
	Last     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("%s: gave up after %d attempts: %v", e.Op, e.Attempts, e.Last)
}

func (e *ExhaustedError) Unwrap() error { return e.Last }

// Do calls fn until it returns OK or Fatal, or until MaxRetries retries
// have been spent. The attempt number passed to fn starts at 1.
func Do[T any](ctx context.Context, p Policy, log *zap.Logger, op string, fn func(ctx context.Context, attempt int) Result[T]) (T, error) {
	if log == nil {
		log = zap.NewNop()
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = sleepCtx
	}

	var zero T
	for attempt := 1; ; attempt++ {
		res := fn(ctx, attempt)
		switch res.Outcome {
		case OK:
			return res.Value, nil
		case Fatal:
			return zero, res.Err
		}
		if attempt > p.MaxRetries {
			return zero, &ExhaustedError{Op: op, Attempts: attempt, Last: res.Err}
		}
		wait := p.Delay(attempt, res.RetryAfter)
		log.Warn("retrying",
			zap.String("op", op),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", wait),
			zap.Error(res.Err),
		)
		if err := sleep(ctx, wait); err != nil {
			return zero, err
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// FromStatus classifies an HTTP status: 2xx OK, 429 and 5xx Retryable,
// anything else Fatal.
func FromStatus(code int) Outcome {
	switch {
	case code >= 200 && code < 300:
		return OK
	case code == http.StatusTooManyRequests || code >= 500:
		return Retryable
	default:
		return Fatal
	}
}

// RetryAfter parses a Retry-After header given in seconds or as an HTTP date.
func RetryAfter(h http.Header, now time.Time) time.Duration {
	v := h.Get("Retry-After")
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil && at.After(now) {
		return at.Sub(now)
	}
	return 0
}
