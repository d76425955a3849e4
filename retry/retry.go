// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package retry

import (
	"context"
	"errors"
	"math"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/jeranaias/chatwire/backend"
)

// =============================================================================
// OPTIONS
// =============================================================================

// Options configures an Executor.
type Options struct {
	// MaxAttempts is the total number of attempts, including the first
	// (default: 3).
	MaxAttempts int

	// InitialDelay is the wait before the second attempt (default: 1s).
	InitialDelay time.Duration

	// MaxDelay caps the backoff (default: 30s).
	MaxDelay time.Duration

	// Multiplier grows the delay per attempt (default: 2).
	Multiplier float64

	// RetryIf overrides the default Retryable classification when set.
	RetryIf func(error) bool
}

// DefaultOptions returns the default retry configuration.
func DefaultOptions() Options {
	return Options{
		MaxAttempts:  3,
		InitialDelay: 1 * time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2,
	}
}

func (o *Options) fillDefaults() {
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 3
	}
	if o.InitialDelay <= 0 {
		o.InitialDelay = 1 * time.Second
	}
	if o.MaxDelay <= 0 {
		o.MaxDelay = 30 * time.Second
	}
	if o.Multiplier <= 0 {
		o.Multiplier = 2
	}
}

// =============================================================================
// STATE
// =============================================================================

// State is the observable progress of a retry-wrapped invocation. Its
// lifecycle is scoped to a single Run/Do call and reset between calls.
type State struct {
	IsRetrying  bool
	Attempt     int
	MaxAttempts int
	NextRetryIn int // whole seconds remaining in the countdown
	LastErr     error
}

// ErrAborted is returned when Reset interrupts a pending countdown.
var ErrAborted = errors.New("retry aborted")

// =============================================================================
// EXECUTOR
// =============================================================================

// Executor runs operations with exponential backoff between attempts.
// The countdown between attempts ticks down in whole seconds and is
// abortable at every tick via Reset.
type Executor struct {
	mu       sync.Mutex
	opts     Options
	state    State
	onChange func(State)
	abort    chan struct{}
}

// NewExecutor creates an executor with the given options.
func NewExecutor(opts Options) *Executor {
	opts.fillDefaults()
	return &Executor{
		opts:  opts,
		abort: make(chan struct{}),
	}
}

// OnChange registers an observer for state transitions. The callback is
// invoked synchronously; keep it cheap.
func (e *Executor) OnChange(fn func(State)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onChange = fn
}

// State returns a snapshot of the current retry state.
func (e *Executor) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Reset aborts any pending countdown and clears the state. Safe to call
// at any time, including when nothing is running.
func (e *Executor) Reset() {
	e.mu.Lock()
	close(e.abort)
	e.abort = make(chan struct{})
	e.state = State{}
	fn := e.onChange
	st := e.state
	e.mu.Unlock()

	if fn != nil {
		fn(st)
	}
}

func (e *Executor) setState(mutate func(*State)) {
	e.mu.Lock()
	mutate(&e.state)
	st := e.state
	fn := e.onChange
	e.mu.Unlock()

	if fn != nil {
		fn(st)
	}
}

func (e *Executor) abortChan() <-chan struct{} {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.abort
}

// Run executes op, retrying retryable failures with exponential backoff
// until success, a fatal error, or MaxAttempts is exhausted. The last
// error is returned on failure.
func (e *Executor) Run(ctx context.Context, op func(context.Context) error) error {
	retryIf := e.opts.RetryIf
	if retryIf == nil {
		retryIf = Retryable
	}

	e.setState(func(s *State) {
		*s = State{MaxAttempts: e.opts.MaxAttempts}
	})

	var lastErr error
	for attempt := 1; attempt <= e.opts.MaxAttempts; attempt++ {
		e.setState(func(s *State) {
			s.Attempt = attempt
			s.IsRetrying = attempt > 1
			s.NextRetryIn = 0
		})

		lastErr = op(ctx)
		if lastErr == nil {
			e.setState(func(s *State) {
				s.IsRetrying = false
				s.LastErr = nil
			})
			return nil
		}

		e.setState(func(s *State) { s.LastErr = lastErr })

		// Fatal errors, or the final attempt, propagate immediately.
		if !retryIf(lastErr) || attempt == e.opts.MaxAttempts {
			break
		}

		if err := e.countdown(ctx, e.Delay(attempt)); err != nil {
			e.setState(func(s *State) {
				s.IsRetrying = false
				s.NextRetryIn = 0
			})
			return err
		}
	}

	e.setState(func(s *State) { s.IsRetrying = false })
	return lastErr
}

// Delay returns the backoff before the attempt following failure number
// `attempt` (1-based): min(initial * multiplier^(attempt-1), max).
func (e *Executor) Delay(attempt int) time.Duration {
	d := float64(e.opts.InitialDelay) * math.Pow(e.opts.Multiplier, float64(attempt-1))
	if d > float64(e.opts.MaxDelay) {
		return e.opts.MaxDelay
	}
	return time.Duration(d)
}

// countdown waits out the backoff delay, publishing NextRetryIn in whole
// seconds and checking the abort flag every tick. This is the
// cancellation point of the executor.
func (e *Executor) countdown(ctx context.Context, delay time.Duration) error {
	abort := e.abortChan()
	deadline := time.Now().Add(delay)

	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil
		}

		e.setState(func(s *State) {
			s.IsRetrying = true
			s.NextRetryIn = int(math.Ceil(remaining.Seconds()))
		})

		tick := time.Second
		if remaining < tick {
			tick = remaining
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-abort:
			return ErrAborted
		case <-time.After(tick):
		}
	}
}

// Do is the generic form of Run for operations that produce a value.
func Do[T any](ctx context.Context, e *Executor, op func(context.Context) (T, error)) (T, error) {
	var result T
	err := e.Run(ctx, func(ctx context.Context) error {
		v, err := op(ctx)
		if err != nil {
			return err
		}
		result = v
		return nil
	})
	return result, err
}

// =============================================================================
// CLASSIFICATION
// =============================================================================

// transientPatterns are message fragments of errors worth retrying even
// when they carry no structured classification.
var transientPatterns = []string{
	"timeout",
	"timed out",
	"connection reset",
	"connection refused",
	"temporarily unavailable",
	"temporary failure",
	"broken pipe",
	"unexpected eof",
	"econnreset",
	"etimedout",
}

// Retryable classifies an error as retryable (transient network trouble,
// HTTP 429, HTTP 5xx, timeout-style failures) or fatal. Context
// cancellation is always fatal: the caller asked to stop.
func Retryable(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	// Structured classification from the backend client.
	var ce *backend.ClientError
	if errors.As(err, &ce) {
		switch ce.Kind {
		case backend.KindTimeout, backend.KindConnection, backend.KindRateLimited, backend.KindServer:
			return true
		default:
			return false
		}
	}

	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, pattern := range transientPatterns {
		if strings.Contains(msg, pattern) {
			return true
		}
	}

	return false
}
