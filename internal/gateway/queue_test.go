package gateway

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/atondwal/reflect/internal/types"
)

func TestQueueConcurrency(t *testing.T) {
	queue := NewQueue(2)
	queue.Start(context.Background())
	defer queue.Stop()

	var running int32
	var maxSeen int32

	queue.SetProcessor(func(run *Run) error {
		current := atomic.AddInt32(&running, 1)
		for {
			old := atomic.LoadInt32(&maxSeen)
			if current <= old || atomic.CompareAndSwapInt32(&maxSeen, old, current) {
				break
			}
		}
		time.Sleep(50 * time.Millisecond)
		atomic.AddInt32(&running, -1)
		return nil
	})

	var runs []*Run
	for i := 0; i < 5; i++ {
		run := NewRun(types.ChatID(fmt.Sprintf("chat-%d", i)), "hi", nil)
		if err := queue.Enqueue(run); err != nil {
			t.Fatal(err)
		}
		runs = append(runs, run)
	}
	for _, run := range runs {
		if err := run.Wait(context.Background()); err != nil {
			t.Fatal(err)
		}
	}

	if m := atomic.LoadInt32(&maxSeen); m > 2 {
		t.Errorf("expected max 2 concurrent, saw %d", m)
	}
}

func TestQueueRunLifecycle(t *testing.T) {
	queue := NewQueue(1)
	queue.Start(context.Background())
	defer queue.Stop()

	boom := errors.New("model unavailable")
	queue.SetProcessor(func(run *Run) error {
		if run.Ctx == nil {
			t.Error("expected run context to be set")
		}
		if run.Status() != RunStatusRunning {
			t.Errorf("expected running status, got %s", run.Status())
		}
		if run.Text == "fail" {
			return boom
		}
		return nil
	})

	ok := NewRun("chat", "hello", nil)
	bad := NewRun("chat", "fail", nil)
	if ok.Status() != RunStatusQueued {
		t.Errorf("expected queued status, got %s", ok.Status())
	}
	for _, r := range []*Run{ok, bad} {
		if err := queue.Enqueue(r); err != nil {
			t.Fatal(err)
		}
	}

	if err := ok.Wait(context.Background()); err != nil {
		t.Fatal(err)
	}
	if ok.Status() != RunStatusComplete {
		t.Errorf("expected complete status, got %s", ok.Status())
	}
	if err := bad.Wait(context.Background()); !errors.Is(err, boom) {
		t.Errorf("expected %v, got %v", boom, err)
	}
	if bad.Status() != RunStatusFailed {
		t.Errorf("expected failed status, got %s", bad.Status())
	}
}

func TestQueueSameChatOrdering(t *testing.T) {
	queue := NewQueue(4)
	queue.Start(context.Background())
	defer queue.Stop()

	var mu sync.Mutex
	var order []string
	var inFlight int32

	queue.SetProcessor(func(run *Run) error {
		if atomic.AddInt32(&inFlight, 1) > 1 {
			t.Error("runs for one chat must not overlap")
		}
		time.Sleep(10 * time.Millisecond)
		mu.Lock()
		order = append(order, run.Text)
		mu.Unlock()
		atomic.AddInt32(&inFlight, -1)
		return nil
	})

	var last *Run
	for i := 0; i < 3; i++ {
		last = NewRun("same-chat", fmt.Sprint(i), nil)
		if err := queue.Enqueue(last); err != nil {
			t.Fatal(err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := last.Wait(ctx); err != nil {
		t.Fatal(err)
	}

	mu.Lock()
	defer mu.Unlock()
	for i, v := range order {
		if v != fmt.Sprint(i) {
			t.Errorf("expected order[%d] = %d, got %s", i, i, v)
		}
	}
}

func TestQueueNoProcessor(t *testing.T) {
	queue := NewQueue(1)
	queue.Start(context.Background())
	defer queue.Stop()

	run := NewRun("no-proc", "hi", nil)
	if err := queue.Enqueue(run); err != nil {
		t.Fatal(err)
	}
	if err := run.Wait(context.Background()); err != nil {
		t.Fatal(err)
	}
}

func TestQueueStopFinishesPendingRuns(t *testing.T) {
	queue := NewQueue(1)
	queue.Start(context.Background())

	release := make(chan struct{})
	queue.SetProcessor(func(run *Run) error {
		<-release
		return nil
	})

	first := NewRun("chat", "first", nil)
	second := NewRun("chat", "second", nil)
	queue.Enqueue(first)
	queue.Enqueue(second)

	time.Sleep(20 * time.Millisecond)
	go func() {
		time.Sleep(20 * time.Millisecond)
		close(release)
	}()
	queue.Stop()

	if err := first.Wait(context.Background()); err != nil {
		t.Errorf("in-flight run should complete, got %v", err)
	}
	if err := second.Wait(context.Background()); !errors.Is(err, ErrQueueStopped) {
		t.Errorf("queued run should finish with ErrQueueStopped, got %v", err)
	}
	if err := queue.Enqueue(NewRun("chat", "late", nil)); !errors.Is(err, ErrQueueStopped) {
		t.Errorf("expected ErrQueueStopped after Stop, got %v", err)
	}
}

func TestQueueRetiresIdleLanes(t *testing.T) {
	queue := NewQueue(1)
	queue.idleTimeout = 20 * time.Millisecond
	queue.Start(context.Background())
	defer queue.Stop()

	var calls atomic.Int32
	queue.SetProcessor(func(run *Run) error {
		calls.Add(1)
		return nil
	})

	run := NewRun("idle-chat", "first", nil)
	if err := queue.Enqueue(run); err != nil {
		t.Fatal(err)
	}
	if err := run.Wait(context.Background()); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for queue.Lanes() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("expected idle lane to be retired, %d open", queue.Lanes())
		}
		time.Sleep(5 * time.Millisecond)
	}

	again := NewRun("idle-chat", "second", nil)
	if err := queue.Enqueue(again); err != nil {
		t.Fatal(err)
	}
	if err := again.Wait(context.Background()); err != nil {
		t.Fatal(err)
	}
	if got := calls.Load(); got != 2 {
		t.Errorf("expected 2 processed runs, got %d", got)
	}
}
