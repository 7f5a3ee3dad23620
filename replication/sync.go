package replication

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// SyncState is the replica-side replication state
type SyncState int

const (
	SyncIdle SyncState = iota
	SyncConnecting
	SyncHandshaking
	SyncStreaming
	SyncStopped
	SyncFailed
)

func (s SyncState) String() string {
	switch s {
	case SyncIdle:
		return "idle"
	case SyncConnecting:
		return "connecting"
	case SyncHandshaking:
		return "handshaking"
	case SyncStreaming:
		return "streaming"
	case SyncStopped:
		return "stopped"
	case SyncFailed:
		return "failed"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// errStoppedBeforeSync is returned by WaitForSync when replication ends
// before the snapshot arrived and no more specific error is known
var errStoppedBeforeSync = errors.New("replication stopped before initial sync")

// SyncStatus represents the current synchronization status
type SyncStatus struct {
	State                SyncState
	MasterAddr           string
	MasterReplID         string
	InitialSyncCompleted bool
	ReplicationOffset    int64
	SnapshotSize         int
	SnapshotDigest       uint64
	LastSyncTime         time.Time
	BytesReceived        int64
	CommandsProcessed    int64
}

// syncTracker holds the status of one client and signals sync completion
type syncTracker struct {
	mu        sync.RWMutex
	status    SyncStatus
	callbacks []func()
	synced    chan struct{}
	once      sync.Once
}

func newSyncTracker(masterAddr string) *syncTracker {
	return &syncTracker{
		status: SyncStatus{MasterAddr: masterAddr},
		synced: make(chan struct{}),
	}
}

// update atomically updates the status
func (t *syncTracker) update(fn func(*SyncStatus)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fn(&t.status)
}

func (t *syncTracker) snapshot() SyncStatus {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.status
}

// complete marks the initial sync as done and runs the registered callbacks
func (t *syncTracker) complete() {
	t.once.Do(func() {
		t.mu.Lock()
		t.status.InitialSyncCompleted = true
		t.status.LastSyncTime = time.Now()
		callbacks := make([]func(), len(t.callbacks))
		copy(callbacks, t.callbacks)
		t.callbacks = nil
		close(t.synced)
		t.mu.Unlock()

		for _, callback := range callbacks {
			callback()
		}
	})
}

// Status returns the current synchronization status
func (c *Client) Status() SyncStatus {
	return c.tracker.snapshot()
}

// OnSyncComplete registers a callback for when the snapshot has been
// received. If that already happened the callback runs immediately in a new
// goroutine.
func (c *Client) OnSyncComplete(fn func()) {
	c.tracker.mu.Lock()
	defer c.tracker.mu.Unlock()

	if c.tracker.status.InitialSyncCompleted {
		go fn()
		return
	}
	c.tracker.callbacks = append(c.tracker.callbacks, fn)
}

// WaitForSync blocks until the initial synchronization is complete, the
// client stops, or ctx is done
func (c *Client) WaitForSync(ctx context.Context) error {
	select {
	case <-c.tracker.synced:
		return nil
	default:
	}

	select {
	case <-c.tracker.synced:
		return nil
	case <-c.done:
		select {
		case <-c.tracker.synced:
			return nil
		default:
		}
		if err := c.Err(); err != nil {
			return err
		}
		return errStoppedBeforeSync
	case <-ctx.Done():
		return ctx.Err()
	}
}

// IsStreaming returns true while commands from the master are being applied
func (c *Client) IsStreaming() bool {
	return c.Status().State == SyncStreaming
}
