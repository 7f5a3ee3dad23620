package replication

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestConcurrentWaitForSync tests that multiple goroutines can safely wait
// for sync completion
func TestConcurrentWaitForSync(t *testing.T) {
	client := NewClient("localhost:6379", 6380, newRecordingApplier())
	client.SetLogger(&testLogger{t: t})

	const numWaiters = 10
	var wg sync.WaitGroup
	errs := make(chan error, numWaiters)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	for i := 0; i < numWaiters; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := client.WaitForSync(ctx); err != nil {
				errs <- err
			}
		}()
	}

	time.Sleep(50 * time.Millisecond)
	client.tracker.complete()
	// A second completion is a no-op
	client.tracker.complete()

	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("WaitForSync failed: %v", err)
	}
}

func TestOnSyncComplete(t *testing.T) {
	client := NewClient("localhost:6379", 6380, newRecordingApplier())

	called := make(chan struct{}, 2)
	client.OnSyncComplete(func() { called <- struct{}{} })

	client.tracker.complete()
	select {
	case <-called:
	case <-time.After(time.Second):
		t.Fatal("callback registered before sync was not called")
	}

	// Registered after completion: runs immediately
	client.OnSyncComplete(func() { called <- struct{}{} })
	select {
	case <-called:
	case <-time.After(time.Second):
		t.Fatal("callback registered after sync was not called")
	}

	assert.True(t, client.Status().InitialSyncCompleted)
}

func TestWaitForSyncContextCancelled(t *testing.T) {
	client := NewClient("localhost:6379", 6380, newRecordingApplier())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, client.WaitForSync(ctx), context.DeadlineExceeded)
}

func TestSyncStateString(t *testing.T) {
	assert.Equal(t, "streaming", SyncStreaming.String())
	assert.Equal(t, "failed", SyncFailed.String())
	assert.Equal(t, "pending", StatePending.String())
}
