package services

import (
	"context"
	"errors"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/desertthunder/cadence/internal/shared"
)

// RetryPolicy retries [shared.TransientProviderError] with exponential backoff.
//
// MaxAttempts counts calls, not retries. A provider Retry-After hint replaces the computed delay.
type RetryPolicy struct {
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	MaxAttempts int

	// Sleep waits between attempts; tests replace it to observe delays.
	Sleep func(ctx context.Context, d time.Duration) error
}

// NewRetryPolicy builds a [RetryPolicy] from configuration.
func NewRetryPolicy(cfg shared.RetryConfig) RetryPolicy {
	return RetryPolicy{
		BaseDelay:   cfg.BaseDelay.Duration,
		MaxDelay:    cfg.MaxDelay.Duration,
		MaxAttempts: cfg.MaxAttempts,
	}
}

// Backoff returns the delay after the given failed attempt (1-based): base, 2*base, 4*base...
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := time.Duration(float64(p.BaseDelay) * math.Pow(2, float64(attempt-1)))
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	return d
}

// Do calls fn until it succeeds, fails with a non-transient error, or attempts run out.
func (p RetryPolicy) Do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	attempts := max(p.MaxAttempts, 1)

	for attempt := 1; ; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}

		var te *shared.TransientProviderError
		if !errors.As(err, &te) {
			return err
		}

		if attempt >= attempts {
			return &shared.TransientProviderError{
				Op:         op,
				StatusCode: te.StatusCode,
				RetryAfter: te.RetryAfter,
				Attempts:   attempt,
				Err:        te.Err,
			}
		}

		delay := te.RetryAfter
		if delay <= 0 {
			delay = p.Backoff(attempt)
		}

		if err := p.sleep(ctx, delay); err != nil {
			return err
		}
	}
}

func (p RetryPolicy) sleep(ctx context.Context, d time.Duration) error {
	if p.Sleep != nil {
		return p.Sleep(ctx, d)
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// parseRetryAfter reads a Retry-After header given in seconds or as an HTTP date.
func parseRetryAfter(h http.Header, now time.Time) time.Duration {
	v := h.Get("Retry-After")
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil && at.After(now) {
		return at.Sub(now)
	}
	return 0
}

// transientStatus reports whether an HTTP status is worth retrying.
func transientStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= 500
}
