// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jeranaias/chatwire/backend"
)

func fastOptions(maxAttempts int) Options {
	return Options{
		MaxAttempts:  maxAttempts,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2,
	}
}

var errServer = &backend.ClientError{Kind: backend.KindServer, Status: 503, Message: "service unavailable"}

// =============================================================================
// RUN TESTS
// =============================================================================

func TestRunSucceedsAfterTransientFailures(t *testing.T) {
	e := NewExecutor(fastOptions(3))

	calls := 0
	err := e.Run(context.Background(), func(context.Context) error {
		calls++
		if calls < 3 {
			return errServer
		}
		return nil
	})

	if err != nil {
		t.Fatalf("Expected success on third attempt, got %v", err)
	}
	if calls != 3 {
		t.Errorf("Expected 3 calls, got %d", calls)
	}

	st := e.State()
	if st.Attempt != 3 {
		t.Errorf("Expected state to report the succeeding attempt (3), got %d", st.Attempt)
	}
	if st.IsRetrying {
		t.Error("Expected IsRetrying false after success")
	}
	if st.LastErr != nil {
		t.Errorf("Expected LastErr cleared after success, got %v", st.LastErr)
	}
}

func TestRunExhaustsAttempts(t *testing.T) {
	e := NewExecutor(fastOptions(2))

	calls := 0
	err := e.Run(context.Background(), func(context.Context) error {
		calls++
		return errServer
	})

	if !errors.Is(err, errServer) {
		t.Fatalf("Expected final attempt's error, got %v", err)
	}
	if calls != 2 {
		t.Errorf("Expected exactly 2 attempts with MaxAttempts=2, got %d", calls)
	}
}

func TestRunFatalErrorStopsImmediately(t *testing.T) {
	e := NewExecutor(fastOptions(5))
	fatal := &backend.ClientError{Kind: backend.KindBadRequest, Status: 400, Message: "bad request"}

	calls := 0
	err := e.Run(context.Background(), func(context.Context) error {
		calls++
		return fatal
	})

	if !errors.Is(err, fatal) {
		t.Fatalf("Expected the fatal error back, got %v", err)
	}
	if calls != 1 {
		t.Errorf("Expected no retry after a fatal error, got %d calls", calls)
	}
}

func TestRunContextCancelDuringBackoff(t *testing.T) {
	opts := fastOptions(3)
	opts.InitialDelay = time.Hour
	opts.MaxDelay = time.Hour
	e := NewExecutor(opts)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- e.Run(ctx, func(context.Context) error { return errServer })
	}()

	// Let it enter the countdown, then cancel.
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Expected context.Canceled from the countdown, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}
}

func TestResetAbortsCountdown(t *testing.T) {
	opts := fastOptions(3)
	opts.InitialDelay = time.Hour
	opts.MaxDelay = time.Hour
	e := NewExecutor(opts)

	done := make(chan error, 1)
	go func() {
		done <- e.Run(context.Background(), func(context.Context) error { return errServer })
	}()

	time.Sleep(20 * time.Millisecond)
	e.Reset()

	select {
	case err := <-done:
		if !errors.Is(err, ErrAborted) {
			t.Errorf("Expected ErrAborted, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after Reset")
	}

	st := e.State()
	if st.IsRetrying || st.Attempt != 0 {
		t.Errorf("Expected state cleared after Reset, got %+v", st)
	}
}

func TestRunPublishesCountdown(t *testing.T) {
	opts := fastOptions(2)
	opts.InitialDelay = 50 * time.Millisecond
	opts.MaxDelay = 50 * time.Millisecond
	e := NewExecutor(opts)

	sawCountdown := false
	e.OnChange(func(st State) {
		if st.IsRetrying && st.NextRetryIn >= 1 {
			sawCountdown = true
		}
	})

	calls := 0
	_ = e.Run(context.Background(), func(context.Context) error {
		calls++
		if calls == 1 {
			return errServer
		}
		return nil
	})

	if !sawCountdown {
		t.Error("Expected at least one countdown state with NextRetryIn >= 1")
	}
}

func TestRetryIfOverride(t *testing.T) {
	sentinel := errors.New("poll again")
	opts := fastOptions(3)
	opts.RetryIf = func(err error) bool { return errors.Is(err, sentinel) }
	e := NewExecutor(opts)

	calls := 0
	err := e.Run(context.Background(), func(context.Context) error {
		calls++
		if calls < 2 {
			return sentinel
		}
		return nil
	})

	if err != nil {
		t.Fatalf("Expected success, got %v", err)
	}
	if calls != 2 {
		t.Errorf("Expected 2 calls, got %d", calls)
	}
}

// =============================================================================
// DO (GENERIC) TESTS
// =============================================================================

func TestDoReturnsValue(t *testing.T) {
	e := NewExecutor(fastOptions(3))

	calls := 0
	v, err := Do(context.Background(), e, func(context.Context) (string, error) {
		calls++
		if calls == 1 {
			return "", errServer
		}
		return "done", nil
	})

	if err != nil {
		t.Fatalf("Expected success, got %v", err)
	}
	if v != "done" {
		t.Errorf("Expected value 'done', got %q", v)
	}
}

func TestDoZeroValueOnFailure(t *testing.T) {
	e := NewExecutor(fastOptions(1))

	v, err := Do(context.Background(), e, func(context.Context) (int, error) {
		return 42, errServer
	})

	if err == nil {
		t.Fatal("Expected error")
	}
	if v != 0 {
		t.Errorf("Expected zero value on failure, got %d", v)
	}
}

// =============================================================================
// BACKOFF & CLASSIFICATION TESTS
// =============================================================================

func TestDelayGrowthAndCap(t *testing.T) {
	e := NewExecutor(Options{
		MaxAttempts:  5,
		InitialDelay: time.Second,
		MaxDelay:     4 * time.Second,
		Multiplier:   2,
	})

	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 4 * time.Second}, // capped
	}
	for _, tc := range cases {
		if got := e.Delay(tc.attempt); got != tc.want {
			t.Errorf("Delay(%d) = %v, want %v", tc.attempt, got, tc.want)
		}
	}
}

func TestRetryableClassification(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{context.Canceled, false},
		{context.DeadlineExceeded, true},
		{&backend.ClientError{Kind: backend.KindTimeout}, true},
		{&backend.ClientError{Kind: backend.KindConnection}, true},
		{&backend.ClientError{Kind: backend.KindRateLimited}, true},
		{&backend.ClientError{Kind: backend.KindServer}, true},
		{&backend.ClientError{Kind: backend.KindBadRequest}, false},
		{&backend.ClientError{Kind: backend.KindNotFound}, false},
		{&backend.ClientError{Kind: backend.KindInvalidResponse}, false},
		{errors.New("dial tcp: connection refused"), true},
		{errors.New("read: connection reset by peer"), true},
		{errors.New("unexpected EOF"), true},
		{errors.New("parse failure"), false},
		{fmt.Errorf("wrapped: %w", &backend.ClientError{Kind: backend.KindServer}), true},
	}
	for _, tc := range cases {
		if got := Retryable(tc.err); got != tc.want {
			t.Errorf("Retryable(%v) = %v, want %v", tc.err, got, tc.want)
		}
	}
}
