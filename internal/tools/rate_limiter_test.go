package tools

import (
	"testing"
	"time"
)

func TestRateLimiter_AllowUpToLimit(t *testing.T) {
	rl := NewRateLimiter(3)
	for i := 0; i < 3; i++ {
		if err := rl.Allow("alice:payments"); err != nil {
			t.Fatalf("execution %d: %v", i+1, err)
		}
	}
	if err := rl.Allow("alice:payments"); err == nil {
		t.Error("fourth execution should exceed the limit")
	}
	// Other sessions keep their own window.
	if err := rl.Allow("bob:billing"); err != nil {
		t.Errorf("separate session blocked: %v", err)
	}
}

func TestRateLimiter_DisabledReturnsNil(t *testing.T) {
	if rl := NewRateLimiter(0); rl != nil {
		t.Errorf("limiter = %+v, want nil when disabled", rl)
	}
}

func TestRateLimiter_CleanupDropsStaleWindows(t *testing.T) {
	rl := NewRateLimiter(5)
	stale := time.Now().Add(-2 * time.Hour)
	rl.windows["old"] = []time.Time{stale, stale}
	rl.windows["live"] = []time.Time{time.Now()}

	rl.Cleanup()

	if _, ok := rl.windows["old"]; ok {
		t.Error("stale session window survived cleanup")
	}
	if _, ok := rl.windows["live"]; !ok {
		t.Error("live session window was dropped")
	}
}

// Allow sweeps stale sessions on its own once the sweep interval has
// passed, so idle sessions do not accumulate without a Cleanup caller.
func TestRateLimiter_AllowSweepsStaleSessions(t *testing.T) {
	rl := NewRateLimiter(5)
	stale := time.Now().Add(-2 * time.Hour)
	rl.windows["old"] = []time.Time{stale}
	rl.lastCleanup = stale

	if err := rl.Allow("new"); err != nil {
		t.Fatalf("Allow: %v", err)
	}
	if _, ok := rl.windows["old"]; ok {
		t.Error("stale session not swept by Allow")
	}
	if time.Since(rl.lastCleanup) > time.Minute {
		t.Error("sweep timestamp not advanced")
	}
}
