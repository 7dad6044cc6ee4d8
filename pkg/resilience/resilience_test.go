package resilience

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	"github.com/larderhq/larder/pkg/errors"
)

func TestRetrySucceedsAfterTransientFailures(t *testing.T) {
	cfg := DefaultRetryConfig().WithMaxAttempts(3).WithInitialDelay(time.Millisecond)

	attempts := 0
	err := cfg.Do(context.Background(), func() error {
		attempts++
		if attempts < 3 {
			return errors.New(errors.CodeLLMError, "transient", nil).WithRecoverable(true)
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

func TestRetryStopsOnNonRecoverable(t *testing.T) {
	cfg := DefaultRetryConfig().WithMaxAttempts(5).WithInitialDelay(time.Millisecond)

	attempts := 0
	err := cfg.Do(context.Background(), func() error {
		attempts++
		return errors.New(errors.CodePolicyDenied, "denied", nil)
	})
	if err == nil {
		t.Fatalf("expected error")
	}
	if attempts != 1 {
		t.Fatalf("non-recoverable error must not be retried, got %d attempts", attempts)
	}
}

func TestRetryUntypedErrorNotRetried(t *testing.T) {
	cfg := DefaultRetryConfig().WithMaxAttempts(4).WithInitialDelay(time.Millisecond)

	attempts := 0
	_ = cfg.Do(context.Background(), func() error {
		attempts++
		return stderrors.New("plain failure")
	})
	if attempts != 1 {
		t.Fatalf("untyped errors must not be retried by default, got %d attempts", attempts)
	}
}

func TestRetryExhaustsAttempts(t *testing.T) {
	cfg := DefaultRetryConfig().WithMaxAttempts(3).WithInitialDelay(time.Millisecond)

	attempts := 0
	err := cfg.Do(context.Background(), func() error {
		attempts++
		return errors.New(errors.CodeCollaborator, "still down", nil).WithRecoverable(true)
	})
	if err == nil {
		t.Fatalf("expected error after exhausting retries")
	}
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
}

func TestRetryContextCancellation(t *testing.T) {
	cfg := DefaultRetryConfig().WithMaxAttempts(10).WithInitialDelay(time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	err := cfg.Do(ctx, func() error {
		return errors.New(errors.CodeLLMError, "transient", nil).WithRecoverable(true)
	})
	if errors.CodeOf(err) != errors.CodeTimeout {
		t.Fatalf("expected CodeTimeout, got %v", err)
	}
}

func TestCircuitBreakerOpensAfterFailures(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 2,
		SuccessThreshold: 1,
		Timeout:          time.Hour,
		Name:             "vendor",
	})

	fail := func() error { return stderrors.New("down") }
	_ = cb.Call(context.Background(), fail)
	_ = cb.Call(context.Background(), fail)

	if cb.State() != StateOpen {
		t.Fatalf("expected open state, got %s", cb.State())
	}

	err := cb.Call(context.Background(), func() error { return nil })
	if errors.CodeOf(err) != errors.CodeCollaborator {
		t.Fatalf("expected collaborator error when open, got %v", err)
	}
}

func TestCircuitBreakerRecovers(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 1,
		SuccessThreshold: 1,
		Timeout:          time.Millisecond,
		Name:             "vendor",
	})

	_ = cb.Call(context.Background(), func() error { return stderrors.New("down") })
	if cb.State() != StateOpen {
		t.Fatalf("expected open")
	}

	time.Sleep(5 * time.Millisecond)

	if err := cb.Call(context.Background(), func() error { return nil }); err != nil {
		t.Fatalf("expected half-open call to pass through, got %v", err)
	}
	if cb.State() != StateClosed {
		t.Fatalf("expected closed after success, got %s", cb.State())
	}
}
