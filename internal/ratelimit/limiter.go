package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Defaults match the public API budget: 60 requests per rolling minute.
const (
	DefaultLimit  = 60
	DefaultWindow = time.Minute
)

// Decision is the outcome of one Allow call.
type Decision struct {
	Allowed bool
	Limit   int
	// Remaining is how many more requests the key may make right now.
	Remaining int
	// RetryAfter is set when the request was rejected: the time until the
	// oldest request in the window slides out.
	RetryAfter time.Duration
}

// SlidingWindow admits at most limit requests per key in any window-long
// interval. It is safe for concurrent use.
type SlidingWindow struct {
	mu      sync.Mutex
	limit   int
	window  time.Duration
	now     func() time.Time
	entries map[string][]time.Time
}

// Option customises a SlidingWindow.
type Option func(*SlidingWindow)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *SlidingWindow) { s.now = now }
}

// New creates a SlidingWindow. Non-positive arguments take the defaults.
func New(limit int, window time.Duration, opts ...Option) *SlidingWindow {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if window <= 0 {
		window = DefaultWindow
	}
	s := &SlidingWindow{
		limit:   limit,
		window:  window,
		now:     time.Now,
		entries: make(map[string][]time.Time),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Allow records a request for key if the window has room.
//
// Timestamps at or before now-window are pruned first, so a request made
// exactly one window after another no longer counts against it.
func (s *SlidingWindow) Allow(key string) Decision {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	stamps := prune(s.entries[key], now.Add(-s.window))

	if len(stamps) >= s.limit {
		s.entries[key] = stamps
		return Decision{
			Allowed:    false,
			Limit:      s.limit,
			Remaining:  0,
			RetryAfter: stamps[0].Add(s.window).Sub(now),
		}
	}

	stamps = append(stamps, now)
	s.entries[key] = stamps
	return Decision{Allowed: true, Limit: s.limit, Remaining: s.limit - len(stamps)}
}

// prune drops the timestamps at or before cutoff. stamps is ascending.
func prune(stamps []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(stamps) && !stamps[i].After(cutoff) {
		i++
	}
	if i == 0 {
		return stamps
	}
	// Copy down so the backing array does not grow without bound.
	n := copy(stamps, stamps[i:])
	return stamps[:n]
}

// Sweep removes keys with no request inside the window and returns how
// many were dropped.
func (s *SlidingWindow) Sweep() int {
	cutoff := s.now().Add(-s.window)

	s.mu.Lock()
	defer s.mu.Unlock()

	dropped := 0
	for key, stamps := range s.entries {
		stamps = prune(stamps, cutoff)
		if len(stamps) == 0 {
			delete(s.entries, key)
			dropped++
			continue
		}
		s.entries[key] = stamps
	}
	return dropped
}

// Keys returns the number of tracked keys.
func (s *SlidingWindow) Keys() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Run sweeps idle keys every interval until ctx is cancelled.
func (s *SlidingWindow) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = s.window
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep()
		}
	}
}
