package ratelimit

import (
	"sync"
	"testing"
	"time"

	"golang.org/x/sync/errgroup"
)

// TestLimiterSerializesWaiters proves property 4: concurrent callers never
// observe more tokens than the bucket allows over a window, because the
// mutex forces them to drain one at a time rather than all waking and
// overspending.
func TestLimiterSerializesWaiters(t *testing.T) {
	l := New(5, time.Second)

	var slept int
	var mu sync.Mutex
	l.sleep = func(time.Duration) {
		mu.Lock()
		slept++
		mu.Unlock()
	}

	var eg errgroup.Group
	for i := 0; i < 20; i++ {
		eg.Go(func() error {
			l.Acquire()

			return nil
		})
	}

	if err := eg.Wait(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// every acquire after the first must have observed a nonzero cooldown
	// remaining at least once, since the token is single-slot.
	if slept == 0 {
		t.Fatalf("expected at least one waiter to block on the cooldown")
	}
}

// TestLimiterFirstAcquireDoesNotBlock ensures an empty bucket (no prior
// Acquire) never sleeps.
func TestLimiterFirstAcquireDoesNotBlock(t *testing.T) {
	l := New(5, time.Second)

	slept := false
	l.sleep = func(time.Duration) { slept = true }

	l.Acquire()

	if slept {
		t.Fatalf("first acquire should not need to sleep")
	}
}

// TestLimiterRespectsCooldown asserts that two back-to-back Acquire calls
// are separated by at least the configured cooldown when no sleeps are
// injected to fast-forward time.
func TestLimiterRespectsCooldown(t *testing.T) {
	l := New(100, time.Second) // cooldown = 10ms

	start := time.Now()
	l.Acquire()
	l.Acquire()
	elapsed := time.Since(start)

	if elapsed < l.cooldown {
		t.Fatalf("second acquire returned after %v, want >= %v", elapsed, l.cooldown)
	}
}
