package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestAdmissionRunsWorkAndReturnsItsError(t *testing.T) {
	a := NewAdmission(DefaultAdmissionConfig())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	a.Start(ctx, 2)
	defer a.Stop()

	var ran atomic.Bool
	if err := a.Admit(ctx, "key-1", 100, func() error {
		ran.Store(true)
		return nil
	}); err != nil {
		t.Fatalf("Admit: %v", err)
	}
	if !ran.Load() {
		t.Fatalf("work never executed")
	}

	wantErr := errors.New("boom")
	if err := a.Admit(ctx, "key-1", 100, func() error { return wantErr }); err != wantErr {
		t.Fatalf("Admit error = %v, want %v", err, wantErr)
	}
}

func TestAdmissionRespectsCancelledContext(t *testing.T) {
	a := NewAdmission(DefaultAdmissionConfig())
	// No workers started: the ticket can never run.
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := a.Admit(ctx, "key-1", 100, func() error { return nil })
	if err != context.DeadlineExceeded {
		t.Fatalf("Admit = %v, want context.DeadlineExceeded", err)
	}
}

func TestAdmissionQueueFull(t *testing.T) {
	a := NewAdmission(AdmissionConfig{DefaultWeight: 100, MaxQueuedPerKey: 1})
	ctx := context.Background()

	release := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		a.Admit(ctx, "key-1", 100, func() error { <-release; return nil })
	}()
	// Wait until the first ticket is queued.
	for i := 0; ; i++ {
		a.mu.Lock()
		q, ok := a.queues["key-1"]
		queued := ok && len(q.pending) == 1
		a.mu.Unlock()
		if queued {
			break
		}
		if i > 100 {
			t.Fatalf("first ticket never queued")
		}
		time.Sleep(time.Millisecond)
	}

	if err := a.Admit(ctx, "key-1", 100, func() error { return nil }); err != ErrAdmissionQueueFull {
		t.Fatalf("Admit = %v, want ErrAdmissionQueueFull", err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	a.Start(runCtx, 1)
	close(release)
	wg.Wait()
	cancel()
	a.Stop()
}

func TestAdmissionWeightedOrdering(t *testing.T) {
	a := NewAdmission(DefaultAdmissionConfig())
	a.SetWeight("heavy", 200)
	a.SetWeight("light", 50)

	ctx := context.Background()
	var order []string
	var mu sync.Mutex
	var wg sync.WaitGroup
	enqueue := func(key string, tokens int64) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a.Admit(ctx, key, tokens, func() error {
				mu.Lock()
				order = append(order, key)
				mu.Unlock()
				return nil
			})
		}()
	}
	enqueue("light", 1000)
	enqueue("heavy", 1000)
	// Let both tickets land in their queues before a worker starts.
	time.Sleep(20 * time.Millisecond)

	runCtx, cancel := context.WithCancel(context.Background())
	a.Start(runCtx, 1)
	wg.Wait()
	cancel()
	a.Stop()

	// heavy's higher weight means a lower virtual cost per token, so it
	// drains first despite equal-size requests.
	if len(order) != 2 || order[0] != "heavy" {
		t.Fatalf("execution order = %v, want heavy first", order)
	}
}
