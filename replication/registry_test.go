package replication

import (
	"bytes"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// bufferTransport is an in-memory Transport
type bufferTransport struct {
	mu       sync.Mutex
	buf      bytes.Buffer
	closed   bool
	failNext bool
	deadline time.Time
	writes   int
}

func (b *bufferTransport) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return 0, errors.New("closed")
	}
	if b.failNext {
		return 0, errors.New("broken pipe")
	}
	b.writes++
	return b.buf.Write(p)
}

func (b *bufferTransport) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

func (b *bufferTransport) SetWriteDeadline(t time.Time) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.deadline = t
	return nil
}

func (b *bufferTransport) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestRegistryLifecycle(t *testing.T) {
	r := NewRegistry()
	a, b := &bufferTransport{}, &bufferTransport{}

	r.Register("a", 6380, a)
	r.Register("b", 6381, b)
	assert.Equal(t, 2, r.Count())
	assert.Equal(t, 0, r.Streaming())

	// Pending replicas do not receive writes
	assert.Equal(t, 0, r.Broadcast([]byte("x")))
	assert.Empty(t, a.String())

	r.Promote("a", a)
	assert.Equal(t, 1, r.Streaming())
	assert.Equal(t, 1, r.Broadcast([]byte("x")))
	assert.Equal(t, "x", a.String())
	assert.Empty(t, b.String())

	assert.True(t, r.Remove("a"))
	assert.True(t, a.closed)
	assert.False(t, r.Remove("a"))
	assert.Equal(t, 1, r.Count())
	assert.True(t, r.Has("b"))
}

func TestRegistryRegisterTwiceKeepsState(t *testing.T) {
	r := NewRegistry()
	tr := &bufferTransport{}

	r.Register("a", 1, tr)
	r.Promote("a", tr)
	replica := r.Register("a", 2, tr)

	assert.Equal(t, 2, replica.ListeningPort)
	assert.Equal(t, StateStreaming, replica.State)
	assert.Equal(t, 1, r.Count())
}

func TestRegistryPromoteUnregistered(t *testing.T) {
	r := NewRegistry()
	tr := &bufferTransport{}

	replica := r.Promote("direct", tr)
	assert.Equal(t, 0, replica.ListeningPort)
	assert.Equal(t, StateStreaming, replica.State)
	assert.Equal(t, 1, r.Broadcast([]byte("cmd")))
}

func TestRegistryBroadcastIdenticalBytes(t *testing.T) {
	r := NewRegistry()
	a, b := &bufferTransport{}, &bufferTransport{}
	r.Promote("a", a)
	r.Promote("b", b)

	cmd := []byte("*3\r\n$3\r\nSET\r\n$1\r\nx\r\n$1\r\ny\r\n")
	assert.Equal(t, 2, r.Broadcast(cmd))

	assert.Equal(t, string(cmd), a.String())
	assert.Equal(t, string(cmd), b.String())
	assert.Equal(t, 1, a.writes)
	assert.Equal(t, 1, b.writes)
}

func TestRegistryBroadcastDropsFailedReplica(t *testing.T) {
	r := NewRegistry()
	good, bad := &bufferTransport{}, &bufferTransport{failNext: true}
	r.Promote("good", good)
	r.Promote("bad", bad)

	assert.Equal(t, 1, r.Broadcast([]byte("x")))
	assert.False(t, r.Has("bad"))
	assert.True(t, bad.closed)
	assert.True(t, r.Has("good"))
}

func TestRegistryWriteTimeout(t *testing.T) {
	r := NewRegistry()
	r.SetWriteTimeout(time.Second)
	tr := &bufferTransport{}
	r.Promote("a", tr)

	require.Equal(t, 1, r.Broadcast([]byte("x")))

	// The deadline is cleared after the write
	assert.True(t, tr.deadline.IsZero())
}

func TestRegistryListAndCloseAll(t *testing.T) {
	r := NewRegistry()
	base := time.Unix(1000, 0)
	tick := 0
	r.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}

	r.Register("second", 2, &bufferTransport{})
	r.Register("first", 1, &bufferTransport{})

	list := r.List()
	require.Len(t, list, 2)
	assert.Equal(t, "second", list[0].ID)
	assert.Equal(t, StatePending, list[0].State)

	r.CloseAll()
	assert.Equal(t, 0, r.Count())
}
