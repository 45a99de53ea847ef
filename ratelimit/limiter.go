// Package ratelimit throttles outbound Gateway sends to a conservative
// fraction of Discord's documented limit of 120 calls per 60 seconds.
//
// Grounded on dis_snek.api.gateway.websocket.WebsocketRateLimit, which backs
// a single-token CooldownSystem with an asyncio.Lock so waiters serialize
// instead of all waking and overspending the bucket at once.
package ratelimit

import (
	"sync"
	"time"
)

// Limiter is a single-token cooldown: acquire() blocks until the cooldown
// since the last acquired token has elapsed, then reports the token spent.
// It never fails — Acquire only returns once a token is available.
type Limiter struct {
	mu       sync.Mutex
	cooldown time.Duration
	last     time.Time

	// sleep is swapped out in tests to avoid real waits.
	sleep func(time.Duration)
}

// Conservative default: Discord documents 120 calls per 60 seconds; this
// package uses 110/60 to leave headroom for heartbeats and jitter.
const (
	DefaultRate     = 110
	DefaultInterval = 60 * time.Second
)

// New creates a Limiter that permits rate tokens per interval.
func New(rate int, interval time.Duration) *Limiter {
	return &Limiter{
		cooldown: interval / time.Duration(rate),
		sleep:    time.Sleep,
	}
}

// NewDefault creates a Limiter using the package's conservative default
// (110 calls per 60 seconds), matching Discord's 120/60 global Gateway send
// limit with headroom.
func NewDefault() *Limiter {
	return New(DefaultRate, DefaultInterval)
}

// Acquire blocks until a token is available. Concurrent callers serialize on
// the Limiter's mutex, so a burst of waiters drains the bucket one token at
// a time instead of all waking at once and overspending it.
func (l *Limiter) Acquire() {
	l.mu.Lock()
	defer l.mu.Unlock()

	for {
		wait := l.cooldownRemaining()
		if wait <= 0 {
			l.last = time.Now()

			return
		}

		l.sleep(wait)
	}
}

func (l *Limiter) cooldownRemaining() time.Duration {
	if l.last.IsZero() {
		return 0
	}

	return l.cooldown - time.Since(l.last)
}
