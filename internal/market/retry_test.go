package market

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestRetryPolicy_AttemptsBudget(t *testing.T) {
	policy := RetryPolicy{
		MaxAttempts:     3,
		InitialInterval: time.Millisecond,
		MaxInterval:     2 * time.Millisecond,
		AttemptTimeout:  50 * time.Millisecond,
	}

	attempts := 0
	err := policy.Do(context.Background(), func(ctx context.Context) error {
		attempts++
		return fmt.Errorf("attempt %d failed", attempts)
	})

	if err == nil {
		t.Fatal("Expected error after exhausting attempts")
	}
	if attempts != 3 {
		t.Errorf("Expected 3 attempts, got %d", attempts)
	}
}

func TestRetryPolicy_StopsOnSuccess(t *testing.T) {
	policy := fastPolicy(5)

	attempts := 0
	err := policy.Do(context.Background(), func(ctx context.Context) error {
		attempts++
		if attempts < 2 {
			return fmt.Errorf("transient")
		}
		return nil
	})

	if err != nil {
		t.Fatalf("Expected success, got %v", err)
	}
	if attempts != 2 {
		t.Errorf("Expected 2 attempts, got %d", attempts)
	}
}

func TestRetryPolicy_AttemptTimeoutAbandonsSlowCall(t *testing.T) {
	policy := RetryPolicy{
		MaxAttempts:     2,
		InitialInterval: time.Millisecond,
		MaxInterval:     2 * time.Millisecond,
		AttemptTimeout:  20 * time.Millisecond,
	}

	attempts := 0
	start := time.Now()
	err := policy.Do(context.Background(), func(ctx context.Context) error {
		attempts++
		<-ctx.Done()
		return ctx.Err()
	})
	elapsed := time.Since(start)

	if err == nil {
		t.Fatal("Expected error from timed-out attempts")
	}
	if attempts != 2 {
		t.Errorf("Expected 2 attempts, got %d", attempts)
	}
	// Two 20ms attempt timeouts plus small backoff; well under a second.
	if elapsed > 500*time.Millisecond {
		t.Errorf("Attempts were not abandoned at their timeout, took %v", elapsed)
	}
}

func TestRetryPolicy_CancelledContextStops(t *testing.T) {
	policy := RetryPolicy{
		MaxAttempts:     10,
		InitialInterval: 50 * time.Millisecond,
		MaxInterval:     100 * time.Millisecond,
		AttemptTimeout:  time.Second,
	}

	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0
	errBoom := errors.New("boom")

	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	err := policy.Do(ctx, func(ctx context.Context) error {
		attempts++
		return errBoom
	})

	if err == nil {
		t.Fatal("Expected error after cancellation")
	}
	if attempts >= 10 {
		t.Errorf("Cancellation should stop retries early, got %d attempts", attempts)
	}
}
