package tools

import (
	"fmt"
	"sync"
	"time"
)

// RateLimiter implements a sliding window limit on tool executions per
// session key. Stale session windows are swept opportunistically from
// Allow, at most once per window.
type RateLimiter struct {
	mu          sync.Mutex
	windows     map[string][]time.Time
	maxPerHr    int
	window      time.Duration
	lastCleanup time.Time
}

// NewRateLimiter creates a limiter with the given max executions per
// hour. Pass 0 to disable rate limiting.
func NewRateLimiter(maxPerHour int) *RateLimiter {
	if maxPerHour <= 0 {
		return nil
	}
	return &RateLimiter{
		windows:     make(map[string][]time.Time),
		maxPerHr:    maxPerHour,
		window:      time.Hour,
		lastCleanup: time.Now(),
	}
}

// Allow checks whether a tool execution is allowed for the key.
func (rl *RateLimiter) Allow(key string) error {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	cutoff := now.Add(-rl.window)

	if now.Sub(rl.lastCleanup) >= rl.window {
		rl.cleanupLocked(cutoff)
		rl.lastCleanup = now
	}

	entries := rl.windows[key]
	start := 0
	for start < len(entries) && entries[start].Before(cutoff) {
		start++
	}
	entries = entries[start:]

	if len(entries) >= rl.maxPerHr {
		return fmt.Errorf("tool rate limit exceeded: %d executions/hour for session %s", rl.maxPerHr, key)
	}

	rl.windows[key] = append(entries, now)
	return nil
}

// Cleanup drops stale windows immediately. Allow sweeps on its own once
// per window; this is for callers that want to force a sweep.
func (rl *RateLimiter) Cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.cleanupLocked(time.Now().Add(-rl.window))
	rl.lastCleanup = time.Now()
}

func (rl *RateLimiter) cleanupLocked(cutoff time.Time) {
	for key, entries := range rl.windows {
		keep := entries[:0]
		for _, t := range entries {
			if !t.Before(cutoff) {
				keep = append(keep, t)
			}
		}
		if len(keep) == 0 {
			delete(rl.windows, key)
		} else {
			rl.windows[key] = keep
		}
	}
}
