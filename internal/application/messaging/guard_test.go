package messaging

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/GuideRail/guiderail-go/internal/infrastructure/statestore"
)

// TestWithLockMutualExclusion verifies concurrent handlers for one connection
// never overlap inside the critical section
func TestWithLockMutualExclusion(t *testing.T) {
	locker := statestore.NewMemoryStore(time.Hour, nil)
	guard := NewGuard(locker, testLogger(t))

	var inFlight int32
	var overlaps int32
	var entries int32

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 3; j++ {
				err := guard.WithLock(context.Background(), "conn-1", func(ctx context.Context) error {
					if atomic.AddInt32(&inFlight, 1) > 1 {
						atomic.AddInt32(&overlaps, 1)
					}
					atomic.AddInt32(&entries, 1)
					time.Sleep(2 * time.Millisecond)
					atomic.AddInt32(&inFlight, -1)
					return nil
				})
				if err != nil {
					t.Errorf("WithLock failed: %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()

	if overlaps != 0 {
		t.Errorf("Critical section overlapped %d times", overlaps)
	}
	if entries != 12 {
		t.Errorf("Expected 12 guarded executions, got %d", entries)
	}
}

// TestWithLockHonorsContextCancellation verifies a blocked acquisition gives
// up when the caller's context expires
func TestWithLockHonorsContextCancellation(t *testing.T) {
	locker := statestore.NewMemoryStore(time.Hour, nil)
	guard := NewGuard(locker, testLogger(t))

	if _, acquired, err := locker.Acquire(context.Background(), "conn-1", time.Minute); err != nil || !acquired {
		t.Fatalf("Pre-locking failed: acquired=%v err=%v", acquired, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()

	ran := false
	err := guard.WithLock(ctx, "conn-1", func(ctx context.Context) error {
		ran = true
		return nil
	})
	if err != context.DeadlineExceeded {
		t.Errorf("Expected deadline error, got %v", err)
	}
	if ran {
		t.Error("Critical section ran despite held lock")
	}
}

// TestWithLockReleasesAfterRun verifies the lock is free once fn returns
func TestWithLockReleasesAfterRun(t *testing.T) {
	locker := statestore.NewMemoryStore(time.Hour, nil)
	guard := NewGuard(locker, testLogger(t))
	ctx := context.Background()

	if err := guard.WithLock(ctx, "conn-1", func(ctx context.Context) error { return nil }); err != nil {
		t.Fatalf("WithLock failed: %v", err)
	}

	_, acquired, err := locker.Acquire(ctx, "conn-1", time.Minute)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	if !acquired {
		t.Error("Lock still held after WithLock returned")
	}
}
