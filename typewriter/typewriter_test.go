// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package typewriter

import (
	"strings"
	"sync"
	"testing"
	"time"
)

// fastConfig reveals quickly so tests converge in milliseconds.
func fastConfig() Config {
	return Config{
		BaseCPS:          5000,
		JitterFrac:       0.1,
		CatchUpThreshold: 20,
		MaxBoost:         8,
		CompleteBoost:    3,
		MaxFPS:           60,
	}
}

// waitFor polls until cond holds or the deadline passes.
func waitFor(t *testing.T, d time.Duration, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(2 * time.Millisecond)
	}
	return cond()
}

// =============================================================================
// SCHEDULER TESTS
// =============================================================================

func TestSchedulerConvergesToTarget(t *testing.T) {
	s := New(fastConfig())
	defer s.Close()

	s.SetTarget("hello, world")

	if !waitFor(t, 2*time.Second, func() bool { return s.Displayed() == "hello, world" }) {
		t.Fatalf("Display never converged, got %q", s.Displayed())
	}
	if s.IsTyping() {
		t.Error("Expected IsTyping false once caught up")
	}
}

func TestSchedulerDisplayedIsAlwaysPrefix(t *testing.T) {
	s := New(fastConfig())
	defer s.Close()

	var mu sync.Mutex
	violations := 0
	s.OnUpdate(func(displayed string) {
		mu.Lock()
		defer mu.Unlock()
		if !strings.HasPrefix(s.Target(), displayed) {
			violations++
		}
	})

	// Grow the target in bursts while the loop runs, including
	// multi-byte runes so prefix math is rune-based.
	for i := 0; i < 20; i++ {
		s.Append("chunk日本語 ")
		time.Sleep(3 * time.Millisecond)
	}

	full := s.Target()
	if !waitFor(t, 2*time.Second, func() bool { return s.Displayed() == full }) {
		t.Fatalf("Display never caught up, got %d of %d runes",
			len([]rune(s.Displayed())), len([]rune(full)))
	}

	mu.Lock()
	defer mu.Unlock()
	if violations != 0 {
		t.Errorf("Displayed text was not a prefix of the target %d times", violations)
	}
}

func TestSchedulerGrowthDoesNotRestart(t *testing.T) {
	s := New(fastConfig())
	defer s.Close()

	s.SetTarget("abcdef")
	if !waitFor(t, time.Second, func() bool { return len(s.Displayed()) >= 3 }) {
		t.Fatal("Display never advanced")
	}
	before := len([]rune(s.Displayed()))

	s.Append("ghijkl")

	// The revealed prefix must never shrink when the target grows.
	after := len([]rune(s.Displayed()))
	if after < before {
		t.Errorf("Display shrank on growth: %d -> %d", before, after)
	}

	if !waitFor(t, 2*time.Second, func() bool { return s.Displayed() == "abcdefghijkl" }) {
		t.Fatalf("Display never converged after growth, got %q", s.Displayed())
	}
}

func TestSchedulerSkipToEnd(t *testing.T) {
	cfg := fastConfig()
	cfg.BaseCPS = 1 // effectively frozen
	s := New(cfg)
	defer s.Close()

	s.SetTarget("a long reply that would take ages at one cps")
	s.SkipToEnd()

	if got := s.Displayed(); got != s.Target() {
		t.Errorf("Expected full target after SkipToEnd, got %q", got)
	}
	if s.IsTyping() {
		t.Error("Expected IsTyping false after SkipToEnd")
	}
}

func TestSchedulerReset(t *testing.T) {
	s := New(fastConfig())
	defer s.Close()

	s.SetTarget("something")
	waitFor(t, time.Second, func() bool { return s.Displayed() != "" })

	s.Reset()

	if s.Displayed() != "" || s.Target() != "" {
		t.Errorf("Expected empty state after Reset, got displayed=%q target=%q",
			s.Displayed(), s.Target())
	}
	if s.IsTyping() {
		t.Error("Expected IsTyping false after Reset")
	}

	// The scheduler is reusable after a reset.
	s.SetTarget("again")
	if !waitFor(t, time.Second, func() bool { return s.Displayed() == "again" }) {
		t.Fatalf("Display never converged after reuse, got %q", s.Displayed())
	}
}

func TestSchedulerMarkCompleteDrains(t *testing.T) {
	cfg := fastConfig()
	cfg.BaseCPS = 200
	s := New(cfg)
	defer s.Close()

	s.SetTarget(strings.Repeat("x", 400))
	s.MarkComplete()

	if !waitFor(t, 3*time.Second, func() bool { return !s.IsTyping() }) {
		t.Fatalf("Display never drained after MarkComplete, %d of %d runes",
			len([]rune(s.Displayed())), 400)
	}
}

func TestSchedulerOnUpdateDelivery(t *testing.T) {
	s := New(fastConfig())
	defer s.Close()

	var mu sync.Mutex
	var calls int
	var last string
	s.OnUpdate(func(displayed string) {
		mu.Lock()
		calls++
		last = displayed
		mu.Unlock()
	})

	s.SetTarget("notify me")

	if !waitFor(t, 2*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return last == "notify me"
	}) {
		t.Fatal("OnUpdate never delivered the final text")
	}

	mu.Lock()
	defer mu.Unlock()
	if calls == 0 {
		t.Error("Expected at least one OnUpdate call")
	}
}

func TestSchedulerCloseIdempotent(t *testing.T) {
	s := New(fastConfig())
	s.SetTarget("x")
	s.Close()
	s.Close() // must not panic
}

func TestConfigDefaults(t *testing.T) {
	var c Config
	c.fillDefaults()

	if c.BaseCPS != 40 || c.CatchUpThreshold != 80 || c.MaxFPS != 30 {
		t.Errorf("Unexpected defaults: %+v", c)
	}
	if c.JitterFrac != 0.25 || c.MaxBoost != 8 || c.CompleteBoost != 3 {
		t.Errorf("Unexpected defaults: %+v", c)
	}
}
