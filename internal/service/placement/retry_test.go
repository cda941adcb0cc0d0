package placement

import (
	"context"
	"errors"
	"testing"
	"time"
)

var errTransient = errors.New("transient")

func TestRetry_StopsOnSuccess(t *testing.T) {
	calls := 0
	attempts, err := retry(context.Background(), RetryConfig{MaxAttempts: 5}, func(int) error {
		calls++
		if calls < 3 {
			return errTransient
		}
		return nil
	}, func(error) bool { return true })

	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if attempts != 3 || calls != 3 {
		t.Fatalf("expected 3 attempts, got attempts=%d calls=%d", attempts, calls)
	}
}

func TestRetry_NonRetryableReturnsImmediately(t *testing.T) {
	calls := 0
	_, err := retry(context.Background(), RetryConfig{MaxAttempts: 5}, func(int) error {
		calls++
		return errTransient
	}, func(error) bool { return false })

	if !errors.Is(err, errTransient) {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected single call, got %d", calls)
	}
}

func TestRetry_ExhaustsAttempts(t *testing.T) {
	attempts, err := retry(context.Background(), RetryConfig{MaxAttempts: 3, InitialDelay: time.Millisecond}, func(int) error {
		return errTransient
	}, func(error) bool { return true })

	if !errors.Is(err, errTransient) {
		t.Fatalf("unexpected error: %v", err)
	}
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
}

func TestRetry_ContextCancelInterruptsBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	attempts, err := retry(ctx, RetryConfig{MaxAttempts: 5, InitialDelay: time.Hour}, func(int) error {
		calls++
		return errTransient
	}, func(error) bool { return true })

	if !errors.Is(err, errTransient) {
		t.Fatalf("unexpected error: %v", err)
	}
	if attempts != 1 || calls != 1 {
		t.Fatalf("expected to stop after first attempt, got attempts=%d calls=%d", attempts, calls)
	}
}

func TestRetryConfig_Normalized(t *testing.T) {
	cfg := RetryConfig{MaxAttempts: 0, InitialDelay: -time.Second, MaxDelay: 0, BackoffFactor: 0.5}.normalized()
	def := DefaultRetryConfig()

	if cfg.MaxAttempts != def.MaxAttempts {
		t.Fatalf("max attempts: got %d", cfg.MaxAttempts)
	}
	if cfg.InitialDelay != 0 {
		t.Fatalf("initial delay: got %v", cfg.InitialDelay)
	}
	if cfg.MaxDelay != def.MaxDelay || cfg.BackoffFactor != def.BackoffFactor {
		t.Fatalf("unexpected config: %+v", cfg)
	}
}
