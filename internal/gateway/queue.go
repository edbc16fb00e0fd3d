package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/atondwal/reflect/internal/types"
)

// ErrQueueStopped is the error of runs that never started because the queue
// shut down.
var ErrQueueStopped = errors.New("queue stopped")

const (
	laneCapacity    = 100
	laneIdleTimeout = 5 * time.Minute
)

// Queue manages per-chat lanes with a global concurrency semaphore.
// Each chat gets its own FIFO channel (lane) so that runs within a chat
// are processed sequentially and never interleave on one transcript, while
// the semaphore limits the total number of concurrent runs across chats.
type Queue struct {
	lanes       map[types.ChatID]chan *Run
	semaphore   *semaphore.Weighted
	processor   func(*Run) error
	active      atomic.Int64
	stopped     bool
	idleTimeout time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.RWMutex
}

// NewQueue creates a Queue that allows up to maxConcurrent runs to execute
// simultaneously across all chat lanes.
func NewQueue(maxConcurrent int64) *Queue {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	return &Queue{
		lanes:       make(map[types.ChatID]chan *Run),
		semaphore:   semaphore.NewWeighted(maxConcurrent),
		idleTimeout: laneIdleTimeout,
	}
}

// Start initialises the queue's context. Must be called before Enqueue.
func (q *Queue) Start(ctx context.Context) {
	q.ctx, q.cancel = context.WithCancel(ctx)
}

// Stop cancels the queue context, closes all lanes, and waits for in-flight
// processors to finish. Runs still queued finish with ErrQueueStopped.
func (q *Queue) Stop() {
	if q.cancel != nil {
		q.cancel()
	}
	q.mu.Lock()
	if !q.stopped {
		q.stopped = true
		for _, lane := range q.lanes {
			close(lane)
		}
	}
	q.mu.Unlock()
	q.wg.Wait()
}

// Enqueue adds a Run to the chat's lane, creating the lane (and its
// goroutine) on first use. Returns an error if the lane's buffer is full.
func (q *Queue) Enqueue(run *Run) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.stopped || q.ctx == nil {
		return ErrQueueStopped
	}

	lane, exists := q.lanes[run.ChatID]
	if !exists {
		lane = make(chan *Run, laneCapacity)
		q.lanes[run.ChatID] = lane
		q.wg.Add(1)
		go q.processLane(run.ChatID, lane)
	}

	select {
	case lane <- run:
		return nil
	default:
		return fmt.Errorf("queue full for chat %s", run.ChatID)
	}
}

// processLane runs a chat's messages one at a time. A lane left empty for
// idleTimeout is removed; the next message for the chat opens a new one.
func (q *Queue) processLane(chatID types.ChatID, lane chan *Run) {
	defer q.wg.Done()
	idle := time.NewTimer(q.idleTimeout)
	defer idle.Stop()

	for {
		select {
		case run, ok := <-lane:
			if !ok {
				return
			}
			if q.ctx.Err() != nil || q.semaphore.Acquire(q.ctx, 1) != nil {
				run.finish(ErrQueueStopped)
				q.drain(lane)
				return
			}
			q.process(run)
			q.semaphore.Release(1)
			idle.Reset(q.idleTimeout)
		case <-idle.C:
			if q.retire(chatID, lane) {
				return
			}
			idle.Reset(q.idleTimeout)
		case <-q.ctx.Done():
			q.drain(lane)
			return
		}
	}
}

// retire drops an empty lane from the map. Enqueue sends under the same
// lock, so no run can slip into a retired lane.
func (q *Queue) retire(chatID types.ChatID, lane chan *Run) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.stopped || len(lane) > 0 {
		return false
	}
	delete(q.lanes, chatID)
	slog.Debug("chat lane retired", "chat_id", string(chatID))
	return true
}

// Lanes returns the number of open chat lanes.
func (q *Queue) Lanes() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return len(q.lanes)
}

func (q *Queue) process(run *Run) {
	q.active.Add(1)
	defer q.active.Add(-1)

	run.Ctx = q.ctx
	run.start()
	var err error
	if q.processor != nil {
		err = q.processor(run)
	}
	if err != nil {
		slog.Error("run failed", "run_id", string(run.ID), "chat_id", string(run.ChatID), "error", err)
	}
	run.finish(err)
}

// drain finishes every run left in a lane without processing it. It
// returns once the lane is closed by Stop.
func (q *Queue) drain(lane chan *Run) {
	for run := range lane {
		run.finish(ErrQueueStopped)
	}
}

// WaitIdle blocks until no runs are actively being processed, or the timeout
// expires. Returns true if idle, false if timed out.
func (q *Queue) WaitIdle(timeout time.Duration) bool {
	deadline := time.After(timeout)
	for {
		if q.active.Load() == 0 {
			return true
		}
		select {
		case <-deadline:
			return false
		case <-time.After(100 * time.Millisecond):
		}
	}
}

// SetProcessor sets the function invoked for each dequeued Run.
func (q *Queue) SetProcessor(fn func(*Run) error) {
	q.processor = fn
}
