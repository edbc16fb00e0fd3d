package gateway

import (
	"context"
	"sync"
	"time"

	"github.com/atondwal/reflect/internal/types"
)

// RunStatus represents the lifecycle state of a Run.
type RunStatus string

const (
	RunStatusQueued   RunStatus = "queued"
	RunStatusRunning  RunStatus = "running"
	RunStatusComplete RunStatus = "complete"
	RunStatusFailed   RunStatus = "failed"
)

// Run tracks one user message processed against a chat.
type Run struct {
	ID     types.RunID
	ChatID types.ChatID
	Text   string
	// Emit receives progress events while the run executes.
	Emit types.Emitter
	// Ctx is set by the queue before the processor runs. It is the queue's
	// context, not the submitter's.
	Ctx context.Context

	CreatedAt time.Time

	mu        sync.Mutex
	status    RunStatus
	startedAt time.Time
	endedAt   time.Time
	err       error
	done      chan struct{}
	once      sync.Once
}

// NewRun creates a Run in the Queued state for the given chat and text.
func NewRun(chatID types.ChatID, text string, emit types.Emitter) *Run {
	return &Run{
		ID:        types.NewRunID(),
		ChatID:    chatID,
		Text:      text,
		Emit:      emit,
		CreatedAt: time.Now(),
		status:    RunStatusQueued,
		done:      make(chan struct{}),
	}
}

func (r *Run) start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.status = RunStatusRunning
	r.startedAt = time.Now()
}

// finish records the outcome and releases waiters. Only the first call counts.
func (r *Run) finish(err error) {
	r.once.Do(func() {
		r.mu.Lock()
		r.err = err
		r.endedAt = time.Now()
		if err != nil {
			r.status = RunStatusFailed
		} else {
			r.status = RunStatusComplete
		}
		r.mu.Unlock()
		close(r.done)
	})
}

// Status returns the current lifecycle state.
func (r *Run) Status() RunStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// Err returns the processor error once the run has finished.
func (r *Run) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// Duration returns how long the processor ran, or zero if it has not finished.
func (r *Run) Duration() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.startedAt.IsZero() || r.endedAt.IsZero() {
		return 0
	}
	return r.endedAt.Sub(r.startedAt)
}

// Done is closed when the run has finished.
func (r *Run) Done() <-chan struct{} {
	return r.done
}

// Wait blocks until the run finishes or ctx is done. Abandoning the wait
// does not cancel the run.
func (r *Run) Wait(ctx context.Context) error {
	select {
	case <-r.done:
		return r.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}
