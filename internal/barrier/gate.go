// Package barrier implements one-shot broadcast gates used to release every
// worker at the same moment.
package barrier

import (
	"context"
	"fmt"
	"sync"
)

// Gate starts closed and opens exactly once. Every waiter, including those
// arriving after the gate opened, is released.
type Gate struct {
	name string
	once sync.Once
	ch   chan struct{}
}

// New returns a closed Gate.
func New(name string) *Gate {
	return &Gate{name: name, ch: make(chan struct{})}
}

// Name returns the gate's label.
func (g *Gate) Name() string {
	return g.name
}

// Open releases all current and future waiters. It reports whether this call
// performed the transition; later calls have no effect.
func (g *Gate) Open() bool {
	opened := false
	g.once.Do(func() {
		close(g.ch)
		opened = true
	})
	return opened
}

// IsOpen reports whether the gate has been opened.
func (g *Gate) IsOpen() bool {
	select {
	case <-g.ch:
		return true
	default:
		return false
	}
}

// Done returns a channel closed when the gate opens.
func (g *Gate) Done() <-chan struct{} {
	return g.ch
}

// Wait blocks until the gate opens or ctx is done.
func (g *Gate) Wait(ctx context.Context) error {
	select {
	case <-g.ch:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait for %s gate: %w", g.name, ctx.Err())
	}
}
