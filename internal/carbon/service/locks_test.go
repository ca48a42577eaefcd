package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestCarrierLocks_ReleasedEntriesAreDropped(t *testing.T) {
	l := newCarrierLocks()

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			carrier := "A"
			if i%2 == 0 {
				carrier = "B"
			}
			unlock, err := l.lock(context.Background(), carrier)
			if err != nil {
				t.Errorf("lock: %v", err)
				return
			}
			unlock()
		}(i)
	}
	wg.Wait()

	if n := l.size(); n != 0 {
		t.Errorf("live lock entries = %d, want 0", n)
	}
}

func TestCarrierLocks_SerialisesOneCarrier(t *testing.T) {
	l := newCarrierLocks()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		active  int
		maxSeen int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := l.lock(context.Background(), "A")
			if err != nil {
				t.Errorf("lock: %v", err)
				return
			}
			defer unlock()
			mu.Lock()
			active++
			if active > maxSeen {
				maxSeen = active
			}
			mu.Unlock()
			mu.Lock()
			active--
			mu.Unlock()
		}()
	}
	wg.Wait()

	if maxSeen != 1 {
		t.Errorf("max concurrent holders = %d, want 1", maxSeen)
	}
}

func TestCarrierLocks_WaiterHonoursContext(t *testing.T) {
	l := newCarrierLocks()

	unlock, err := l.lock(context.Background(), "A")
	if err != nil {
		t.Fatalf("lock: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := l.lock(ctx, "A"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("queued lock err = %v, want DeadlineExceeded", err)
	}

	unlockB, err := l.lock(context.Background(), "B")
	if err != nil {
		t.Fatalf("lock B while A is held: %v", err)
	}
	unlockB()

	unlock()
	if n := l.size(); n != 0 {
		t.Errorf("live lock entries = %d, want 0 after abandoned wait", n)
	}

	again, err := l.lock(context.Background(), "A")
	if err != nil {
		t.Fatalf("lock after release: %v", err)
	}
	again()
}
