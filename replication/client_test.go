package replication

import (
	"context"
	"errors"
	"net"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raniellyferreira/redis-node/protocol"
)

const testReplID = "8371b4fb1155b71f4a04d3e1bc3e18c4a990aeeb"

// recordingApplier stores what the client applies
type recordingApplier struct {
	mu      sync.Mutex
	replID  string
	offset  int64
	applied []string
	data    map[string]string
	applyCh chan struct{}
}

func newRecordingApplier() *recordingApplier {
	return &recordingApplier{
		data:    make(map[string]string),
		applyCh: make(chan struct{}, 16),
	}
}

func (a *recordingApplier) AdoptMaster(replID string, offset int64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.replID = replID
	a.offset = offset
}

func (a *recordingApplier) Apply(cmd *protocol.Command, size int64) error {
	a.mu.Lock()
	a.applied = append(a.applied, cmd.String())
	a.offset += size
	if cmd.Name == "SET" && len(cmd.Args) >= 2 {
		a.data[string(cmd.Args[0])] = string(cmd.Args[1])
	}
	a.mu.Unlock()

	a.applyCh <- struct{}{}
	return nil
}

func (a *recordingApplier) get(key string) (string, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	v, ok := a.data[key]
	return v, ok
}

func (a *recordingApplier) currentOffset() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.offset
}

// testLogger forwards log lines to the test output
type testLogger struct {
	t *testing.T
}

func (l *testLogger) Debug(msg string, fields ...interface{}) {
	l.t.Log(append([]interface{}{"DEBUG", msg}, fields...)...)
}
func (l *testLogger) Info(msg string, fields ...interface{}) {
	l.t.Log(append([]interface{}{"INFO", msg}, fields...)...)
}
func (l *testLogger) Error(msg string, fields ...interface{}) {
	l.t.Log(append([]interface{}{"ERROR", msg}, fields...)...)
}

// fakeMaster accepts one connection and runs script on it
func fakeMaster(t *testing.T, script func(conn net.Conn, r *protocol.Reader, w *protocol.Writer)) (string, <-chan struct{}) {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	finished := make(chan struct{})
	go func() {
		defer close(finished)
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		script(conn, protocol.NewReader(conn), protocol.NewWriter(conn))
	}()

	return ln.Addr().String(), finished
}

func expectCommand(t *testing.T, r *protocol.Reader, want ...string) bool {
	v, err := r.ReadNext()
	if !assert.NoError(t, err) {
		return false
	}
	cmd, err := protocol.ParseCommand(v)
	if !assert.NoError(t, err) {
		return false
	}
	got := append([]string{cmd.Name}, make([]string, len(cmd.Args))...)
	for i, arg := range cmd.Args {
		got[i+1] = string(arg)
	}
	return assert.Equal(t, want, got)
}

func reply(w *protocol.Writer, v protocol.Value) {
	_ = w.WriteValue(v)
	_ = w.Flush()
}

func TestClientHandshakeAndStreaming(t *testing.T) {
	setCmd := protocol.EncodeCommand([][]byte{[]byte("SET"), []byte("a"), []byte("1")})
	silent := make(chan bool, 1)

	addr, finished := fakeMaster(t, func(conn net.Conn, r *protocol.Reader, w *protocol.Writer) {
		if !expectCommand(t, r, "PING") {
			return
		}
		reply(w, protocol.SimpleString("PONG"))

		if !expectCommand(t, r, "REPLCONF", "listening-port", "6380") {
			return
		}
		reply(w, protocol.SimpleString("OK"))

		if !expectCommand(t, r, "REPLCONF", "capa", "psync2") {
			return
		}
		reply(w, protocol.SimpleString("OK"))

		if !expectCommand(t, r, "PSYNC", "?", "-1") {
			return
		}
		reply(w, protocol.SimpleString("FULLRESYNC "+testReplID+" 0"))
		_ = w.WriteSnapshot(EmptySnapshot())
		_ = w.WriteRaw(setCmd)
		_ = w.Flush()

		// The replica must not answer propagated commands
		_ = conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
		buf := make([]byte, 1)
		_, err := conn.Read(buf)
		var netErr net.Error
		silent <- errors.As(err, &netErr) && netErr.Timeout()
	})

	applier := newRecordingApplier()
	client := NewClient(addr, 6380, applier)
	client.SetLogger(&testLogger{t: t})
	defer client.Stop()

	require.NoError(t, client.Start(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, client.WaitForSync(ctx))

	select {
	case <-applier.applyCh:
	case <-time.After(5 * time.Second):
		t.Fatal("SET was not applied")
	}

	value, ok := applier.get("a")
	require.True(t, ok)
	assert.Equal(t, "1", value)

	assert.True(t, <-silent, "replica wrote to the master stream")
	<-finished

	status := client.Status()
	assert.True(t, status.InitialSyncCompleted)
	assert.Equal(t, testReplID, status.MasterReplID)
	assert.Equal(t, len(EmptySnapshot()), status.SnapshotSize)
	assert.Equal(t, SnapshotDigest(EmptySnapshot()), status.SnapshotDigest)
	assert.Equal(t, int64(1), status.CommandsProcessed)
	assert.Equal(t, int64(len(setCmd)), status.ReplicationOffset)
	assert.Equal(t, int64(len(setCmd)), applier.currentOffset())
	assert.Equal(t, testReplID, applier.replID)
}

func TestClientHandshakeFailures(t *testing.T) {
	tests := []struct {
		name   string
		phase  string
		script func(r *protocol.Reader, w *protocol.Writer)
	}{
		{
			name:  "no PONG",
			phase: PhasePing,
			script: func(r *protocol.Reader, w *protocol.Writer) {
				_, _ = r.ReadNext()
				reply(w, protocol.Error("ERR nope"))
			},
		},
		{
			name:  "listening-port rejected",
			phase: PhaseListeningPort,
			script: func(r *protocol.Reader, w *protocol.Writer) {
				_, _ = r.ReadNext()
				reply(w, protocol.SimpleString("PONG"))
				_, _ = r.ReadNext()
				reply(w, protocol.SimpleString("NOPE"))
			},
		},
		{
			name:  "capa rejected",
			phase: PhaseCapa,
			script: func(r *protocol.Reader, w *protocol.Writer) {
				_, _ = r.ReadNext()
				reply(w, protocol.SimpleString("PONG"))
				_, _ = r.ReadNext()
				reply(w, protocol.SimpleString("OK"))
				_, _ = r.ReadNext()
				reply(w, protocol.Error("ERR only supports psync2"))
			},
		},
		{
			name:  "continue instead of fullresync",
			phase: PhasePsync,
			script: func(r *protocol.Reader, w *protocol.Writer) {
				for _, resp := range []string{"PONG", "OK", "OK"} {
					_, _ = r.ReadNext()
					reply(w, protocol.SimpleString(resp))
				}
				_, _ = r.ReadNext()
				reply(w, protocol.SimpleString("CONTINUE"))
			},
		},
		{
			name:  "connection closed before snapshot",
			phase: PhaseSnapshot,
			script: func(r *protocol.Reader, w *protocol.Writer) {
				for _, resp := range []string{"PONG", "OK", "OK"} {
					_, _ = r.ReadNext()
					reply(w, protocol.SimpleString(resp))
				}
				_, _ = r.ReadNext()
				reply(w, protocol.SimpleString("FULLRESYNC "+testReplID+" 0"))
				_ = w.WriteRaw([]byte("$100\r\nshort"))
				_ = w.Flush()
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			addr, _ := fakeMaster(t, func(_ net.Conn, r *protocol.Reader, w *protocol.Writer) {
				tt.script(r, w)
			})

			client := NewClient(addr, 6380, newRecordingApplier())
			client.SetLogger(&testLogger{t: t})
			require.NoError(t, client.Start(context.Background()))

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			err := client.WaitForSync(ctx)
			require.Error(t, err)

			var hsErr *HandshakeError
			require.True(t, errors.As(err, &hsErr), "got %v", err)
			assert.Equal(t, tt.phase, hsErr.Phase)
			assert.Equal(t, SyncFailed, client.Status().State)

			// Failures are final
			assert.NoError(t, client.Stop())
			assert.ErrorIs(t, client.Start(context.Background()), ErrAlreadyStarted)
		})
	}
}

func TestClientConnectFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()

	client := NewClient(addr, 6380, newRecordingApplier())
	client.SetConnectTimeout(time.Second)
	require.NoError(t, client.Start(context.Background()))

	select {
	case <-client.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("client did not give up")
	}

	var hsErr *HandshakeError
	require.True(t, errors.As(client.Err(), &hsErr))
	assert.Equal(t, PhaseConnect, hsErr.Phase)
}

func TestClientStopWhileStreaming(t *testing.T) {
	release := make(chan struct{})
	addr, _ := fakeMaster(t, func(_ net.Conn, r *protocol.Reader, w *protocol.Writer) {
		for _, resp := range []string{"PONG", "OK", "OK"} {
			_, _ = r.ReadNext()
			reply(w, protocol.SimpleString(resp))
		}
		_, _ = r.ReadNext()
		reply(w, protocol.SimpleString("FULLRESYNC "+testReplID+" 42"))
		_ = w.WriteSnapshot([]byte("opaque"))
		_ = w.Flush()
		<-release
	})
	defer close(release)

	applier := newRecordingApplier()
	client := NewClient(addr, 6380, applier)
	require.NoError(t, client.Start(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, client.WaitForSync(ctx))
	assert.True(t, client.IsStreaming())
	assert.Equal(t, int64(42), applier.currentOffset())

	require.NoError(t, client.Stop())
	assert.NoError(t, client.Err())
	assert.Equal(t, SyncStopped, client.Status().State)
}

func TestParseFullResync(t *testing.T) {
	id, offset, err := parseFullResync(protocol.SimpleString("FULLRESYNC " + testReplID + " 17"))
	require.NoError(t, err)
	assert.Equal(t, testReplID, id)
	assert.Equal(t, int64(17), offset)

	for _, bad := range []protocol.Value{
		protocol.SimpleString("FULLRESYNC " + testReplID),
		protocol.SimpleString("FULLRESYNC " + testReplID + " x"),
		protocol.SimpleString("CONTINUE " + testReplID + " " + strconv.Itoa(1)),
		protocol.Error("ERR bad"),
		protocol.Integer(1),
	} {
		_, _, err := parseFullResync(bad)
		assert.ErrorIs(t, err, ErrUnexpectedReply, bad.String())
	}
}
