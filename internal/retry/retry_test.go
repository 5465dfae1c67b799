package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

// fastConfig keeps backoff delays out of test wall time.
func fastConfig() Config {
	cfg := DefaultConfig()
	cfg.InitialDelay = time.Millisecond
	cfg.MaxDelay = 5 * time.Millisecond
	cfg.Jitter = false
	return cfg
}

func TestDo_SucceedsFirstTry(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastConfig(), func() error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d", calls)
	}
}

func TestDo_RecoversWithinBudget(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastConfig(), func() error {
		calls++
		if calls < 3 {
			return errors.New("flaky")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestDo_ExhaustsAttempts(t *testing.T) {
	wantErr := errors.New("still down")
	calls := 0
	err := Do(context.Background(), fastConfig(), func() error {
		calls++
		return wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Errorf("err = %v, want the last attempt's error", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want MaxAttempts", calls)
	}
}

func TestDo_ShouldRetryStopsEarly(t *testing.T) {
	permanent := errors.New("bad request")
	cfg := fastConfig()
	cfg.ShouldRetry = func(err error) bool { return !errors.Is(err, permanent) }

	calls := 0
	err := Do(context.Background(), cfg, func() error {
		calls++
		return permanent
	})
	if !errors.Is(err, permanent) {
		t.Errorf("err = %v", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, non-retryable errors stop immediately", calls)
	}
}

func TestDo_RetryableErrorsList(t *testing.T) {
	transient := errors.New("transient")
	other := errors.New("other")
	cfg := fastConfig()
	cfg.RetryableErrors = []error{transient}

	calls := 0
	Do(context.Background(), cfg, func() error {
		calls++
		return transient
	})
	if calls != 3 {
		t.Errorf("listed error retried %d times, want 3", calls)
	}

	calls = 0
	Do(context.Background(), cfg, func() error {
		calls++
		return other
	})
	if calls != 1 {
		t.Errorf("unlisted error retried %d times, want 1", calls)
	}
}

func TestDoWithResult_ReturnsValue(t *testing.T) {
	calls := 0
	got, err := DoWithResult(context.Background(), fastConfig(), func() (string, error) {
		calls++
		if calls < 2 {
			return "", errors.New("flaky")
		}
		return "payload", nil
	})
	if err != nil {
		t.Fatalf("DoWithResult: %v", err)
	}
	if got != "payload" {
		t.Errorf("got %q", got)
	}
}

func TestDo_ContextCancelDuringBackoff(t *testing.T) {
	cfg := fastConfig()
	cfg.InitialDelay = time.Minute
	cfg.MaxDelay = time.Minute

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	done := make(chan error, 1)
	go func() {
		done <- Do(ctx, cfg, func() error {
			calls++
			return errors.New("flaky")
		})
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("err = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("retry loop did not observe cancellation")
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1 before the backoff wait", calls)
	}
}

func TestCalculateDelay_Backoff(t *testing.T) {
	cfg := Config{InitialDelay: 100 * time.Millisecond, MaxDelay: time.Second, BackoffFactor: 2.0}
	if d := calculateDelay(0, cfg); d != 100*time.Millisecond {
		t.Errorf("attempt 0 delay = %s", d)
	}
	if d := calculateDelay(1, cfg); d != 200*time.Millisecond {
		t.Errorf("attempt 1 delay = %s", d)
	}
	if d := calculateDelay(10, cfg); d != time.Second {
		t.Errorf("delay must cap at MaxDelay, got %s", d)
	}
}

func TestCalculateDelay_Jitter(t *testing.T) {
	cfg := Config{InitialDelay: 100 * time.Millisecond, MaxDelay: time.Second, BackoffFactor: 2.0, Jitter: true}
	for i := 0; i < 50; i++ {
		d := calculateDelay(0, cfg)
		if d < 100*time.Millisecond || d > 125*time.Millisecond {
			t.Fatalf("jittered delay %s outside [100ms, 125ms]", d)
		}
	}
}
