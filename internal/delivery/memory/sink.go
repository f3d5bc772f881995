// Package memory records delivered payloads in memory for tests and dry
// runs.
package memory

import (
	"context"
	"sync"

	"github.com/JakeFAU/session-harvester/internal/delivery"
)

// Sink stores every payload it receives.
type Sink struct {
	mu       sync.Mutex
	payloads []delivery.Payload
	fail     func(delivery.Payload) error
}

// New returns an empty Sink.
func New() *Sink {
	return &Sink{}
}

// FailWith makes subsequent sends return the error produced by fn. A nil fn
// restores success.
func (s *Sink) FailWith(fn func(delivery.Payload) error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail = fn
}

// Send implements delivery.Sink. Failed sends are still recorded.
func (s *Sink) Send(_ context.Context, payload delivery.Payload) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.payloads = append(s.payloads, payload)
	if s.fail != nil {
		return s.fail(payload)
	}
	return nil
}

// Payloads returns a copy of the recorded payloads.
func (s *Sink) Payloads() []delivery.Payload {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]delivery.Payload(nil), s.payloads...)
}

// Records counts the records across all recorded payloads.
func (s *Sink) Records() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, p := range s.payloads {
		n += len(p.Data)
	}
	return n
}
