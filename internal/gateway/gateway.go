package gateway

import (
	"context"
	"errors"
	"fmt"

	"github.com/atondwal/reflect/internal/types"
)

// ErrEmptyMessage is returned by Submit for blank user text.
var ErrEmptyMessage = errors.New("empty message")

// Gateway turns inbound user messages into runs on per-chat lanes.
type Gateway struct {
	Queue *Queue

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a Gateway that hands every run to processor, with at most
// maxConcurrent runs executing at once.
func New(processor func(*Run) error, maxConcurrent int64) *Gateway {
	if maxConcurrent <= 0 {
		maxConcurrent = 2
	}
	q := NewQueue(maxConcurrent)
	q.SetProcessor(processor)
	return &Gateway{Queue: q}
}

// Start initialises the gateway's context and starts the internal queue.
func (g *Gateway) Start(ctx context.Context) {
	g.ctx, g.cancel = context.WithCancel(ctx)
	g.Queue.Start(g.ctx)
}

// Stop cancels the gateway context and waits for the queue to drain.
func (g *Gateway) Stop() {
	if g.cancel != nil {
		g.cancel()
	}
	g.Queue.Stop()
}

// Submit allocates a chat id when none is given, wraps the message in a Run
// and enqueues it. The returned Run reports completion through Done.
func (g *Gateway) Submit(chatID types.ChatID, text string, emit types.Emitter) (*Run, error) {
	if text == "" {
		return nil, ErrEmptyMessage
	}
	if chatID == "" {
		chatID = types.NewChatID()
	}
	if !chatID.Valid() {
		return nil, fmt.Errorf("invalid chat id %q", chatID)
	}
	run := NewRun(chatID, text, emit)
	if err := g.Queue.Enqueue(run); err != nil {
		return nil, fmt.Errorf("enqueue run: %w", err)
	}
	return run, nil
}
