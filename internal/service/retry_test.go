package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hugo-lorenzo-mato/quorum-grid/internal/core"
)

func TestRetryPolicy_Execute_Success(t *testing.T) {
	policy := NewRetryPolicy(WithMaxAttempts(3))

	callCount := 0
	err := policy.Execute(context.Background(), func(ctx context.Context) error {
		callCount++
		return nil
	})

	if err != nil {
		t.Errorf("Execute() error = %v, want nil", err)
	}
	if callCount != 1 {
		t.Errorf("callCount = %d, want 1", callCount)
	}
}

func TestRetryPolicy_Execute_SuccessAfterRetry(t *testing.T) {
	policy := NewRetryPolicy(WithMaxAttempts(3), WithBaseDelay(time.Millisecond))

	callCount := 0
	err := policy.Execute(context.Background(), func(ctx context.Context) error {
		callCount++
		if callCount < 3 {
			return core.ErrStore("set_cell", errors.New("connection reset"))
		}
		return nil
	})

	if err != nil {
		t.Errorf("Execute() error = %v, want nil", err)
	}
	if callCount != 3 {
		t.Errorf("callCount = %d, want 3", callCount)
	}
}

func TestRetryPolicy_Execute_NonRetryable(t *testing.T) {
	policy := NewRetryPolicy(WithMaxAttempts(3))

	callCount := 0
	err := policy.Execute(context.Background(), func(ctx context.Context) error {
		callCount++
		return core.ErrValidation("INVALID", "not retryable")
	})

	if err == nil {
		t.Error("Execute() should return error")
	}
	if callCount != 1 {
		t.Errorf("callCount = %d, want 1", callCount)
	}
	var exhausted *RetryExhaustedError
	if errors.As(err, &exhausted) {
		t.Error("non-retryable errors are returned as-is")
	}
}

func TestRetryPolicy_Execute_Exhausted(t *testing.T) {
	policy := NewRetryPolicy(WithMaxAttempts(3), WithBaseDelay(time.Millisecond))

	storeErr := core.ErrStore("set_cell", errors.New("io"))
	callCount := 0
	err := policy.Execute(context.Background(), func(ctx context.Context) error {
		callCount++
		return storeErr
	})

	if callCount != 3 {
		t.Errorf("callCount = %d, want 3", callCount)
	}
	var exhausted *RetryExhaustedError
	if !errors.As(err, &exhausted) {
		t.Fatalf("expected RetryExhaustedError, got %T", err)
	}
	if !errors.Is(err, storeErr) {
		t.Error("exhausted error should unwrap to the last error")
	}
	if core.GetCategory(err) != core.ErrCatStore {
		t.Errorf("category = %s", core.GetCategory(err))
	}
}

func TestRetryPolicy_CalculateDelay(t *testing.T) {
	policy := NewRetryPolicy(
		WithBaseDelay(100*time.Millisecond),
		WithMaxDelay(time.Second),
		WithJitter(0),
	)

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 100 * time.Millisecond},
		{2, 200 * time.Millisecond},
		{3, 400 * time.Millisecond},
		{4, 800 * time.Millisecond},
		{5, time.Second},
	}
	for _, tt := range tests {
		if got := policy.CalculateDelay(tt.attempt); got != tt.want {
			t.Errorf("CalculateDelay(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestRetryPolicy_Jitter(t *testing.T) {
	policy := NewRetryPolicy(WithBaseDelay(time.Second), WithJitter(0.2))
	for i := 0; i < 50; i++ {
		d := policy.CalculateDelay(1)
		if d < 800*time.Millisecond || d > 1200*time.Millisecond {
			t.Fatalf("delay %v outside jitter bounds", d)
		}
	}
}

func TestRetryPolicy_ContextCancellation(t *testing.T) {
	policy := NewRetryPolicy(WithMaxAttempts(5), WithBaseDelay(time.Hour))
	ctx, cancel := context.WithCancel(context.Background())

	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	err := policy.Execute(ctx, func(ctx context.Context) error {
		return core.ErrTimeout("slow")
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Execute() = %v, want context.Canceled", err)
	}
}

func TestRetryPolicy_ExecuteWithNotify(t *testing.T) {
	policy := NewRetryPolicy(WithMaxAttempts(3), WithBaseDelay(time.Millisecond))

	var attempts []int
	callCount := 0
	err := policy.ExecuteWithNotify(context.Background(), func(ctx context.Context) error {
		callCount++
		if callCount < 3 {
			return core.ErrRateLimit("slow down")
		}
		return nil
	}, func(attempt int, err error, delay time.Duration) {
		attempts = append(attempts, attempt)
	})

	if err != nil {
		t.Fatalf("ExecuteWithNotify() = %v", err)
	}
	if len(attempts) != 2 || attempts[0] != 1 || attempts[1] != 2 {
		t.Errorf("notify attempts = %v", attempts)
	}
}

func TestStoreWriteRetryPolicy(t *testing.T) {
	p := StoreWriteRetryPolicy(4, 250*time.Millisecond)
	if p.MaxAttempts != 4 || p.BaseDelay != 250*time.Millisecond || p.MaxDelay != 2*time.Second {
		t.Errorf("policy = %+v", p)
	}
	if NewRetryPolicy(WithMaxAttempts(0)).MaxAttempts != 1 {
		t.Error("MaxAttempts should be clamped to 1")
	}
}
