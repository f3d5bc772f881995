// Package operator collects acknowledgments and confirmations from the
// human supervising a run.
package operator

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/session-harvester/internal/harvest"
)

// ErrClosed is returned to waiters when the console input ends.
var ErrClosed = errors.New("operator console closed")

// Kind distinguishes the two waiter types.
type Kind string

// Waiter kinds.
const (
	KindConfirm Kind = "confirm"
	KindAck     Kind = "ack"
)

// PendingItem describes an outstanding operator request.
type PendingItem struct {
	Kind      Kind      `json:"kind"`
	Identity  string    `json:"identity,omitempty"`
	Condition string    `json:"condition,omitempty"`
	Prompt    string    `json:"prompt,omitempty"`
	Since     time.Time `json:"since"`
}

type waiter struct {
	item PendingItem
	done chan error
}

// Console multiplexes a single operator input stream across every worker.
// Requests are served first-in first-out; a line naming an identity targets
// that identity's pause instead.
type Console struct {
	out    io.Writer
	logger *zap.Logger

	mu      sync.Mutex
	waiters []*waiter
	closed  bool
	remote  bool
}

// NewConsole builds a console that prints prompts to out.
func NewConsole(out io.Writer, logger *zap.Logger) *Console {
	if out == nil {
		out = io.Discard
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Console{out: out, logger: logger}
}

// AllowRemote marks the console as also served over HTTP. The end of
// console input then no longer fails waiters.
func (c *Console) AllowRemote() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.remote = true
}

// Start reads lines from in until EOF or ctx is done. Call it once.
func (c *Console) Start(ctx context.Context, in io.Reader) {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		if err := scanner.Err(); err != nil {
			c.logger.Warn("operator input failed", zap.Error(err))
		}
	}()
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case line, ok := <-lines:
				if !ok {
					c.inputEnded()
					return
				}
				c.HandleLine(line)
			}
		}
	}()
}

// HandleLine resolves a waiter from one operator input line. It reports
// whether any waiter was resolved.
func (c *Console) HandleLine(line string) bool {
	token := strings.TrimSpace(line)
	if token == "" {
		return c.resolve(func(*waiter) bool { return true })
	}
	if c.Resolve(token) {
		return true
	}
	c.logger.Info("operator input ignored", zap.String("input", token))
	return false
}

// Resolve acknowledges the oldest outstanding pause of identity.
func (c *Console) Resolve(identity string) bool {
	return c.resolve(func(w *waiter) bool {
		return w.item.Kind == KindAck && w.item.Identity == identity
	})
}

// ResolvePrompt satisfies the oldest confirmation carrying prompt.
func (c *Console) ResolvePrompt(prompt string) bool {
	return c.resolve(func(w *waiter) bool {
		return w.item.Kind == KindConfirm && w.item.Prompt == prompt
	})
}

func (c *Console) resolve(match func(*waiter) bool) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, w := range c.waiters {
		if !match(w) {
			continue
		}
		c.waiters = append(c.waiters[:i], c.waiters[i+1:]...)
		w.done <- nil
		return true
	}
	return false
}

// Pending lists outstanding requests, oldest first.
func (c *Console) Pending() []PendingItem {
	c.mu.Lock()
	defer c.mu.Unlock()
	items := make([]PendingItem, 0, len(c.waiters))
	for _, w := range c.waiters {
		items = append(items, w.item)
	}
	return items
}

// Confirm blocks until the operator confirms prompt.
func (c *Console) Confirm(ctx context.Context, prompt string) error {
	fmt.Fprintf(c.out, "\n>>> %s\n>>> Press ENTER to continue...\n", prompt)
	return c.wait(ctx, PendingItem{Kind: KindConfirm, Prompt: prompt})
}

// AwaitAck blocks until the operator acknowledges identity's condition. It
// has no timeout.
func (c *Console) AwaitAck(ctx context.Context, identity string, cond harvest.BlockCondition) error {
	fmt.Fprintf(c.out, ">>> [%s] press ENTER (or type %q) once resolved...\n", identity, identity)
	return c.wait(ctx, PendingItem{Kind: KindAck, Identity: identity, Condition: cond.Key()})
}

func (c *Console) wait(ctx context.Context, item PendingItem) error {
	w := &waiter{item: item, done: make(chan error, 1)}
	w.item.Since = time.Now()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.waiters = append(c.waiters, w)
	c.mu.Unlock()

	select {
	case err := <-w.done:
		return err
	case <-ctx.Done():
		c.remove(w)
		return fmt.Errorf("await operator %s: %w", item.Kind, ctx.Err())
	}
}

func (c *Console) remove(target *waiter) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, w := range c.waiters {
		if w == target {
			c.waiters = append(c.waiters[:i], c.waiters[i+1:]...)
			return
		}
	}
}

func (c *Console) inputEnded() {
	c.mu.Lock()
	remote := c.remote
	c.mu.Unlock()
	if remote {
		c.logger.Info("operator input ended; waiting on the HTTP API")
		return
	}
	c.Close()
}

// Close fails every outstanding and future request with ErrClosed.
func (c *Console) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	for _, w := range c.waiters {
		w.done <- ErrClosed
	}
	c.waiters = nil
}
