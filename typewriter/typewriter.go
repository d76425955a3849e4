// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package typewriter

import (
	"math/rand"
	"sync"
	"time"
)

// =============================================================================
// CONFIGURATION
// =============================================================================

// Config holds tuning knobs for the reveal animation.
type Config struct {
	// BaseCPS is the base reveal rate in characters per second
	// (default: 40).
	BaseCPS float64

	// JitterFrac randomizes per-tick timing within ±JitterFrac to avoid
	// a mechanical cadence (default: 0.25, i.e. ±25%).
	JitterFrac float64

	// CatchUpThreshold is the backlog (target runes minus displayed
	// runes) beyond which the reveal rate scales up (default: 80).
	CatchUpThreshold int

	// MaxBoost caps the catch-up multiplier (default: 8).
	MaxBoost float64

	// CompleteBoost is the minimum multiplier once the stream is marked
	// complete, so a finished reply drains quickly (default: 3).
	CompleteBoost float64

	// MaxFPS caps how often ticks advance the display, which also caps
	// update notifications (default: 30).
	MaxFPS int
}

// DefaultConfig returns the default animation configuration.
func DefaultConfig() Config {
	return Config{
		BaseCPS:          40,
		JitterFrac:       0.25,
		CatchUpThreshold: 80,
		MaxBoost:         8,
		CompleteBoost:    3,
		MaxFPS:           30,
	}
}

func (c *Config) fillDefaults() {
	if c.BaseCPS <= 0 {
		c.BaseCPS = 40
	}
	if c.JitterFrac < 0 || c.JitterFrac >= 1 {
		c.JitterFrac = 0.25
	}
	if c.CatchUpThreshold <= 0 {
		c.CatchUpThreshold = 80
	}
	if c.MaxBoost < 1 {
		c.MaxBoost = 8
	}
	if c.CompleteBoost < 1 {
		c.CompleteBoost = 3
	}
	if c.MaxFPS <= 0 || c.MaxFPS > 60 {
		c.MaxFPS = 30
	}
}

// =============================================================================
// SCHEDULER
// =============================================================================

// Scheduler animates a displayed prefix toward a growing target string.
//
// Thread-safety: all methods are safe for concurrent use. The target is
// written by the orchestrator's event handlers and read by the loop; the
// displayed prefix is written only by the loop.
type Scheduler struct {
	mu       sync.Mutex
	cfg      Config
	target   []rune
	shown    int
	complete bool
	onUpdate func(displayed string)
	rng      *rand.Rand

	wake chan struct{}
	done chan struct{}
	once sync.Once
}

// New creates a scheduler and starts its (idle) reveal loop.
func New(cfg Config) *Scheduler {
	cfg.fillDefaults()
	s := &Scheduler{
		cfg:  cfg,
		rng:  rand.New(rand.NewSource(time.Now().UnixNano())),
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	go s.loop()
	return s
}

// OnUpdate registers a callback invoked (outside the lock) whenever the
// displayed prefix changes. Invocation frequency is bounded by MaxFPS.
func (s *Scheduler) OnUpdate(fn func(displayed string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onUpdate = fn
}

// SetTarget replaces the animation target. The target is expected to be
// monotonically growing; the empty string is the explicit reset signal.
// Growth resumes the animation from the current position, never from
// scratch.
func (s *Scheduler) SetTarget(target string) {
	s.mu.Lock()
	if target == "" {
		s.target = s.target[:0]
		s.shown = 0
		s.complete = false
		s.mu.Unlock()
		s.notify()
		return
	}

	s.target = []rune(target)
	if s.shown > len(s.target) {
		// Defensive clamp; targets should never shrink.
		s.shown = len(s.target)
	}
	s.mu.Unlock()
	s.kick()
}

// Append grows the target by a delta without re-deriving the whole
// string. Preferred over SetTarget on the streaming hot path.
func (s *Scheduler) Append(delta string) {
	if delta == "" {
		return
	}
	s.mu.Lock()
	s.target = append(s.target, []rune(delta)...)
	s.mu.Unlock()
	s.kick()
}

// Displayed returns the currently revealed prefix of the target.
func (s *Scheduler) Displayed() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return string(s.target[:s.shown])
}

// Target returns the full target string.
func (s *Scheduler) Target() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return string(s.target)
}

// IsTyping reports whether the display is still behind the target.
func (s *Scheduler) IsTyping() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.shown < len(s.target)
}

// MarkComplete tells the scheduler the stream has finished, biasing the
// remaining reveal toward a faster catch-up rate.
func (s *Scheduler) MarkComplete() {
	s.mu.Lock()
	s.complete = true
	s.mu.Unlock()
	s.kick()
}

// SkipToEnd immediately reveals the whole target.
func (s *Scheduler) SkipToEnd() {
	s.mu.Lock()
	s.shown = len(s.target)
	s.mu.Unlock()
	s.notify()
}

// Reset clears the target and displayed text and idles the loop.
func (s *Scheduler) Reset() {
	s.SetTarget("")
}

// Close stops the reveal loop. The scheduler must not be used afterward.
func (s *Scheduler) Close() {
	s.once.Do(func() { close(s.done) })
}

// =============================================================================
// REVEAL LOOP
// =============================================================================

// loop is the single goroutine that advances the displayed prefix. When
// caught up it blocks on the wake channel, consuming no CPU.
func (s *Scheduler) loop() {
	minTick := time.Second / time.Duration(s.cfg.MaxFPS)

	for {
		s.mu.Lock()
		behind := s.shown < len(s.target)
		s.mu.Unlock()

		if !behind {
			select {
			case <-s.done:
				return
			case <-s.wake:
				continue
			}
		}

		tick := s.advance(minTick)

		select {
		case <-s.done:
			return
		case <-time.After(tick):
		}
	}
}

// advance reveals the next batch of runes and returns how long to sleep
// before the next tick. The latest target is read here, under the lock,
// so concurrent growth is picked up without restarting the animation.
func (s *Scheduler) advance(minTick time.Duration) time.Duration {
	s.mu.Lock()

	backlog := len(s.target) - s.shown
	if backlog <= 0 {
		s.mu.Unlock()
		return minTick
	}

	// Adaptive catch-up: scale the rate with the backlog, and bias
	// further once the stream is complete.
	boost := 1.0
	if backlog > s.cfg.CatchUpThreshold {
		boost = float64(backlog) / float64(s.cfg.CatchUpThreshold)
		if boost > s.cfg.MaxBoost {
			boost = s.cfg.MaxBoost
		}
	}
	if s.complete && boost < s.cfg.CompleteBoost {
		boost = s.cfg.CompleteBoost
	}
	cps := s.cfg.BaseCPS * boost

	// Jittered tick within ±JitterFrac, floored at the FPS cap.
	jitter := 1 + (s.rng.Float64()*2-1)*s.cfg.JitterFrac
	perChar := time.Duration(float64(time.Second) / cps * jitter)
	tick := perChar
	if tick < minTick {
		tick = minTick
	}

	// Runes revealed this tick; at least one, never past the target.
	step := int(cps * tick.Seconds())
	if step < 1 {
		step = 1
	}
	if step > backlog {
		step = backlog
	}
	s.shown += step

	s.mu.Unlock()
	s.notify()
	return tick
}

// kick wakes the loop without blocking if it is already awake.
func (s *Scheduler) kick() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// notify delivers the displayed prefix to the observer, outside the lock.
func (s *Scheduler) notify() {
	s.mu.Lock()
	fn := s.onUpdate
	displayed := string(s.target[:s.shown])
	s.mu.Unlock()

	if fn != nil {
		fn(displayed)
	}
}
