package retry

import (
	"context"
	"errors"
	"math/rand"
	"time"

	apperrors "github.com/yungbote/papergraph-backend/internal/pkg/errors"
)

// Policy controls the retry loop: up to Tries attempts, exponential backoff
// capped at Max, plus a uniform jitter in [0, Jitter].
type Policy struct {
	Tries  int
	Base   time.Duration
	Max    time.Duration
	Jitter time.Duration
}

func DefaultPolicy() Policy {
	return Policy{
		Tries:  6,
		Base:   500 * time.Millisecond,
		Max:    8 * time.Second,
		Jitter: 250 * time.Millisecond,
	}
}

func (p Policy) normalized() Policy {
	d := DefaultPolicy()
	if p.Tries <= 0 {
		p.Tries = d.Tries
	}
	if p.Base <= 0 {
		p.Base = d.Base
	}
	if p.Max <= 0 {
		p.Max = d.Max
	}
	if p.Jitter < 0 {
		p.Jitter = 0
	}
	return p
}

// RetryAfterHinter lets an error carry the server's Retry-After request so
// the backoff never undercuts it.
type RetryAfterHinter interface {
	RetryAfterHint() time.Duration
}

const maxRetryAfterHint = 10 * time.Second

// Do runs fn until it succeeds or fails non-retriably. Only classified
// transient failures (transport timeouts, 429, 5xx) are re-issued; the last
// error is returned once attempts are exhausted.
func Do(ctx context.Context, p Policy, fn func(context.Context) error) error {
	p = p.normalized()
	var lastErr error
	for attempt := 0; attempt < p.Tries; attempt++ {
		if err := ctx.Err(); err != nil {
			return apperrors.Cancelled("retry", err)
		}
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if !apperrors.IsRetriable(lastErr) {
			return lastErr
		}
		if attempt == p.Tries-1 {
			break
		}
		delay := backoff(p, attempt)
		var hinter RetryAfterHinter
		if errors.As(lastErr, &hinter) {
			if hint := hinter.RetryAfterHint(); hint > delay {
				if hint > maxRetryAfterHint {
					hint = maxRetryAfterHint
				}
				delay = hint
			}
		}
		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return apperrors.Cancelled("retry", ctx.Err())
		case <-t.C:
		}
	}
	return lastErr
}

func backoff(p Policy, attempt int) time.Duration {
	if attempt > 30 {
		attempt = 30
	}
	d := p.Base << uint(attempt)
	if d <= 0 || d > p.Max {
		d = p.Max
	}
	if p.Jitter > 0 {
		d += time.Duration(rand.Int63n(int64(p.Jitter) + 1))
	}
	return d
}
