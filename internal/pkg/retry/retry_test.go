package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	apperrors "github.com/yungbote/papergraph-backend/internal/pkg/errors"
)

func fastPolicy(tries int) Policy {
	return Policy{Tries: tries, Base: time.Millisecond, Max: 4 * time.Millisecond, Jitter: time.Millisecond}
}

func TestDoSucceedsAfterTransientFailures(t *testing.T) {
	attempts := 0
	err := Do(context.Background(), fastPolicy(6), func(ctx context.Context) error {
		attempts++
		if attempts < 3 {
			return apperrors.Transport("fetch", errors.New("http 503"))
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
}

func TestDoStopsOnNonRetriable(t *testing.T) {
	attempts := 0
	refusal := apperrors.ProviderRefused("generate", errors.New("quota exceeded"))
	err := Do(context.Background(), fastPolicy(6), func(ctx context.Context) error {
		attempts++
		return refusal
	})
	if attempts != 1 {
		t.Fatalf("expected a single attempt, got %d", attempts)
	}
	if !apperrors.IsKind(err, apperrors.KindProviderRefused) {
		t.Fatalf("expected provider_refused, got %v", err)
	}
}

func TestDoExhaustsTries(t *testing.T) {
	attempts := 0
	err := Do(context.Background(), fastPolicy(3), func(ctx context.Context) error {
		attempts++
		return apperrors.Transport("fetch", errors.New("timeout"))
	})
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
	if err == nil {
		t.Fatal("expected final error after exhausting tries")
	}
}

func TestDoCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	attempts := 0
	err := Do(ctx, fastPolicy(6), func(ctx context.Context) error {
		attempts++
		return apperrors.Transport("fetch", errors.New("timeout"))
	})
	if attempts != 0 {
		t.Fatalf("expected no attempts on a cancelled context, got %d", attempts)
	}
	if !apperrors.IsKind(err, apperrors.KindCancelled) {
		t.Fatalf("expected cancelled, got %v", err)
	}
}

func TestBackoffCapsAtMax(t *testing.T) {
	p := Policy{Tries: 6, Base: 500 * time.Millisecond, Max: 8 * time.Second, Jitter: 0}
	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 500 * time.Millisecond},
		{1, time.Second},
		{3, 4 * time.Second},
		{4, 8 * time.Second},
		{10, 8 * time.Second},
	}
	for _, tc := range cases {
		if got := backoff(p, tc.attempt); got != tc.want {
			t.Fatalf("attempt %d: expected %v got %v", tc.attempt, tc.want, got)
		}
	}
}

func TestBackoffJitterBounds(t *testing.T) {
	p := Policy{Tries: 6, Base: 100 * time.Millisecond, Max: 8 * time.Second, Jitter: 250 * time.Millisecond}
	for i := 0; i < 200; i++ {
		got := backoff(p, 0)
		if got < 100*time.Millisecond || got > 350*time.Millisecond {
			t.Fatalf("jittered backoff out of bounds: %v", got)
		}
	}
}
