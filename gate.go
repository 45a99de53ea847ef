package gateway

import (
	"context"
	"sync"
)

// gate is a manually resettable event: set() makes every current and future
// wait() return immediately; clear() makes wait() block again until the
// next set(). It backs the session core's "closed-indicator" flag (cleared
// during a reconnect, set once the new handshake completes) described in
// the send-lock duality design.
type gate struct {
	mu sync.Mutex
	ch chan struct{}
}

func newGate(open bool) *gate {
	g := &gate{ch: make(chan struct{})}
	if open {
		close(g.ch)
	}

	return g
}

func (g *gate) set() {
	g.mu.Lock()
	defer g.mu.Unlock()

	select {
	case <-g.ch:
	default:
		close(g.ch)
	}
}

func (g *gate) clear() {
	g.mu.Lock()
	defer g.mu.Unlock()

	select {
	case <-g.ch:
		g.ch = make(chan struct{})
	default:
	}
}

// wait blocks until the gate is open or ctx is done.
func (g *gate) wait(ctx context.Context) error {
	g.mu.Lock()
	ch := g.ch
	g.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
