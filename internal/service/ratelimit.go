package service

import (
	"context"
	"math"
	"sync"
	"time"
)

// WindowRule is one sliding-window admission rule: at most Limit messages
// in the trailing Window.
type WindowRule struct {
	Window time.Duration
	Limit  int
}

// RateLimiterConfig holds the limiter's rules and sweep interval. All
// values are injected so tests can run with compressed time.
type RateLimiterConfig struct {
	Rules      []WindowRule
	SweepEvery time.Duration
	Now        func() time.Time // defaults to time.Now
}

// DefaultRateLimiterConfig allows 12 messages per minute with a burst rule
// of 3 per 10 seconds.
func DefaultRateLimiterConfig() RateLimiterConfig {
	return RateLimiterConfig{
		Rules: []WindowRule{
			{Window: time.Minute, Limit: 12},
			{Window: 10 * time.Second, Limit: 3},
		},
		SweepEvery: 5 * time.Minute,
	}
}

// Decision is the outcome of one admission check.
type Decision struct {
	Allowed           bool
	RetryAfterSeconds int
}

// RateLimiter is a per-session sliding-window admission gate for the chat
// path. State is process-local and in-memory: a restart resets all limits,
// which is acceptable for an abuse-mitigation layer. The admission check
// and the timestamp record happen under one lock so two near-simultaneous
// requests from the same session cannot both slip past a limit.
type RateLimiter struct {
	mu       sync.Mutex
	sessions map[string][]time.Time
	rules    []WindowRule
	maxWin   time.Duration
	now      func() time.Time

	sweepEvery time.Duration
	stopChan   chan struct{}
	doneChan   chan struct{}
	startOnce  sync.Once
	stopOnce   sync.Once
}

// NewRateLimiter creates a new RateLimiter instance
func NewRateLimiter(cfg RateLimiterConfig) *RateLimiter {
	if len(cfg.Rules) == 0 {
		cfg.Rules = DefaultRateLimiterConfig().Rules
	}
	if cfg.SweepEvery <= 0 {
		cfg.SweepEvery = DefaultRateLimiterConfig().SweepEvery
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	var maxWin time.Duration
	for _, r := range cfg.Rules {
		if r.Window > maxWin {
			maxWin = r.Window
		}
	}

	return &RateLimiter{
		sessions:   make(map[string][]time.Time),
		rules:      cfg.Rules,
		maxWin:     maxWin,
		now:        now,
		sweepEvery: cfg.SweepEvery,
		stopChan:   make(chan struct{}),
		doneChan:   make(chan struct{}),
	}
}

// Admit checks every window rule for the session and, if all pass, records
// the message timestamp. On denial it reports how many seconds until the
// oldest timestamp in the tightest violated window ages out.
func (l *RateLimiter) Admit(sessionID string) Decision {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	stamps := l.prune(sessionID, now)

	retryAfter := time.Duration(0)
	for _, rule := range l.rules {
		cutoff := now.Add(-rule.Window)
		inWindow := 0
		var oldest time.Time
		for _, ts := range stamps {
			if ts.After(cutoff) {
				if inWindow == 0 {
					oldest = ts
				}
				inWindow++
			}
		}
		if inWindow >= rule.Limit {
			wait := oldest.Add(rule.Window).Sub(now)
			if wait > retryAfter {
				retryAfter = wait
			}
		}
	}

	if retryAfter > 0 {
		return Decision{
			Allowed:           false,
			RetryAfterSeconds: int(math.Ceil(retryAfter.Seconds())),
		}
	}

	l.sessions[sessionID] = append(stamps, now)
	return Decision{Allowed: true}
}

// prune drops timestamps older than the largest window. Caller holds the lock.
func (l *RateLimiter) prune(sessionID string, now time.Time) []time.Time {
	stamps := l.sessions[sessionID]
	cutoff := now.Add(-l.maxWin)
	kept := stamps[:0]
	for _, ts := range stamps {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	if len(kept) == 0 {
		delete(l.sessions, sessionID)
		return nil
	}
	l.sessions[sessionID] = kept
	return kept
}

// Start begins the background sweep loop that evicts idle sessions.
func (l *RateLimiter) Start(ctx context.Context) {
	l.startOnce.Do(func() {
		go l.sweepLoop(ctx)
	})
}

// Stop halts the sweep loop.
func (l *RateLimiter) Stop() {
	l.stopOnce.Do(func() {
		close(l.stopChan)
		<-l.doneChan
	})
}

func (l *RateLimiter) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(l.sweepEvery)
	defer ticker.Stop()
	defer close(l.doneChan)

	for {
		select {
		case <-ctx.Done():
			return
		case <-l.stopChan:
			return
		case <-ticker.C:
			l.Sweep()
		}
	}
}

// Sweep evicts every session whose most recent timestamp is older than the
// largest window, bounding memory.
func (l *RateLimiter) Sweep() {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().Add(-l.maxWin)
	for id, stamps := range l.sessions {
		if len(stamps) == 0 || !stamps[len(stamps)-1].After(cutoff) {
			delete(l.sessions, id)
		}
	}
}

// SessionCount reports how many sessions currently hold state.
func (l *RateLimiter) SessionCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.sessions)
}
