package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/openbid/auction-gateway/internal/fault"
)

func TestSucceedsFirstAttempt(t *testing.T) {
	calls := 0
	err := Do(context.Background(), "db", Policy{MaxAttempts: 3, InitialBackoff: time.Millisecond},
		func(context.Context) error {
			calls++
			return nil
		})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected 1 call, got %d", calls)
	}
}

func TestRetriesUntilSuccess(t *testing.T) {
	calls := 0
	err := Do(context.Background(), "db", Policy{MaxAttempts: 3, InitialBackoff: time.Millisecond},
		func(context.Context) error {
			calls++
			if calls < 3 {
				return errors.New("transient")
			}
			return nil
		})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
}

func TestExhaustsAndWraps(t *testing.T) {
	cause := errors.New("still down")
	calls := 0
	err := Do(context.Background(), "db", Policy{MaxAttempts: 3, InitialBackoff: time.Millisecond},
		func(context.Context) error {
			calls++
			return cause
		})

	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
	var re *fault.RetryExhaustedError
	if !errors.As(err, &re) {
		t.Fatalf("expected RetryExhaustedError, got %v", err)
	}
	if re.Attempts != 3 || re.Dependency != "db" {
		t.Fatalf("unexpected fields: %+v", re)
	}
	if !errors.Is(err, cause) {
		t.Fatal("expected last cause preserved")
	}
}

func TestAbortsImmediatelyOnOpenBreaker(t *testing.T) {
	calls := 0
	open := &fault.OpenError{Breaker: "db"}
	err := Do(context.Background(), "db", Policy{MaxAttempts: 3, InitialBackoff: time.Millisecond},
		func(context.Context) error {
			calls++
			return open
		})

	if calls != 1 {
		t.Fatalf("expected no retries on open breaker, got %d calls", calls)
	}
	if !fault.IsOpen(err) {
		t.Fatalf("expected OpenError passed through, got %v", err)
	}
}

func TestBackoffHonorsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	err := Do(ctx, "db", Policy{MaxAttempts: 3, InitialBackoff: time.Minute},
		func(context.Context) error {
			calls++
			return errors.New("transient")
		})

	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected 1 call before cancellation, got %d", calls)
	}
}
