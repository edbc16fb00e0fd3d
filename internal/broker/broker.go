// Package broker correlates remote tool invocations with results delivered
// later by an independent inbound call.
package broker

import (
	"context"
	"errors"
	"sync"
	"time"
)

// DefaultResult is returned by Await when no result arrives in time.
const DefaultResult = "OK"

var (
	ErrAlreadyRegistered = errors.New("tool call already registered")
	ErrUnknownCall       = errors.New("unknown or expired tool call")
)

// Handle is the waiting side of one pending remote call.
type Handle struct {
	ID     string
	result chan string
}

// Broker is a concurrent-safe keyed store of pending remote calls.
type Broker struct {
	mu      sync.Mutex
	pending map[string]*Handle
}

func New() *Broker {
	return &Broker{pending: make(map[string]*Handle)}
}

// Register creates the pending entry for id. It must happen before the
// external actor is told to execute the call.
func (b *Broker) Register(id string) (*Handle, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.pending[id]; ok {
		return nil, ErrAlreadyRegistered
	}
	h := &Handle{ID: id, result: make(chan string, 1)}
	b.pending[id] = h
	return h, nil
}

// Submit delivers a result for id. The first delivery wins; later ones are
// ignored until the entry is consumed. Unknown or expired ids are rejected
// and never recreated.
func (b *Broker) Submit(id, result string) error {
	b.mu.Lock()
	h, ok := b.pending[id]
	b.mu.Unlock()
	if !ok {
		return ErrUnknownCall
	}

	select {
	case h.result <- result:
	default:
	}
	return nil
}

// Await blocks until a result for id is submitted, timeout elapses or ctx is
// done. The second return value reports whether a submitted result was
// observed; otherwise DefaultResult is returned. The entry is removed on
// every path.
func (b *Broker) Await(ctx context.Context, id string, timeout time.Duration) (string, bool) {
	b.mu.Lock()
	h, ok := b.pending[id]
	b.mu.Unlock()
	if !ok {
		return DefaultResult, false
	}
	defer b.remove(h)

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case result := <-h.result:
		return result, true
	case <-timer.C:
	case <-ctx.Done():
	}

	// A result may have landed together with the timer.
	select {
	case result := <-h.result:
		return result, true
	default:
		return DefaultResult, false
	}
}

// Cancel drops the entry for id without waiting.
func (b *Broker) Cancel(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.pending, id)
}

func (b *Broker) remove(h *Handle) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.pending[h.ID] == h {
		delete(b.pending, h.ID)
	}
}

// Pending returns the number of registered, unconsumed calls.
func (b *Broker) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}
