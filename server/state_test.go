package server

import (
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raniellyferreira/redis-node/protocol"
	"github.com/raniellyferreira/redis-node/replication"
	"github.com/raniellyferreira/redis-node/storage"
)

var _ replication.Applier = (*State)(nil)

func command(args ...string) *protocol.Command {
	values := make([]protocol.Value, len(args))
	for i, a := range args {
		values[i] = protocol.BulkStringFromString(a)
	}
	cmd, err := protocol.ParseCommand(protocol.Array(values...))
	if err != nil {
		panic(err)
	}
	return cmd
}

// fakeMetrics records what the state reports
type fakeMetrics struct {
	mu         sync.Mutex
	commands   map[string]int
	propagated int64
	replicas   int
	errors     map[string]int
}

func newFakeMetrics() *fakeMetrics {
	return &fakeMetrics{commands: make(map[string]int), errors: make(map[string]int)}
}

func (m *fakeMetrics) RecordCommandProcessed(cmd string, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.commands[cmd]++
}

func (m *fakeMetrics) RecordPropagatedBytes(bytes int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.propagated += bytes
}

func (m *fakeMetrics) RecordConnectedReplicas(count int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.replicas = count
}

func (m *fakeMetrics) RecordError(errorType string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors[errorType]++
}

// discardTransport is a replica transport that drops everything written
type discardTransport struct {
	mu     sync.Mutex
	closed bool
}

func (d *discardTransport) Write(p []byte) (int, error) {
	return len(p), nil
}

func (d *discardTransport) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}

func TestNewReplicationID(t *testing.T) {
	pattern := regexp.MustCompile(`^[a-z0-9]{40}$`)
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := NewReplicationID()
		assert.Regexp(t, pattern, id)
		assert.False(t, seen[id])
		seen[id] = true
	}
}

func TestRoleString(t *testing.T) {
	assert.Equal(t, "master", RoleMaster.String())
	assert.Equal(t, "slave", RoleReplica.String())
}

func TestStateApply(t *testing.T) {
	store := storage.NewMemory()
	st := NewState(RoleReplica, store)

	st.AdoptMaster("8371b4fb1155b71f4a04d3e1bc3e18c4a990aeeb", 100)
	assert.Equal(t, "8371b4fb1155b71f4a04d3e1bc3e18c4a990aeeb", st.ReplicationID())
	assert.Equal(t, int64(100), st.Offset())

	require.NoError(t, st.Apply(command("SET", "a", "1"), 31))
	value, ok := store.Get("a")
	require.True(t, ok)
	assert.Equal(t, "1", string(value))
	assert.Equal(t, int64(131), st.Offset())

	// Non-write commands count towards the offset too
	require.NoError(t, st.Apply(command("PING"), 14))
	assert.Equal(t, int64(145), st.Offset())

	err := st.Apply(command("NOPE"), 10)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown command")
	assert.Equal(t, int64(155), st.Offset())

	// Handshake commands need a connection
	assert.Error(t, st.Apply(command("PSYNC", "?", "-1"), 1))
}

func TestStateApplyDoesNotDoubleCountOffset(t *testing.T) {
	st := NewState(RoleReplica, storage.NewMemory())
	set := command("SET", "k", "v")

	require.NoError(t, st.Apply(set, int64(len(protocol.EncodeCommand(set.Argv)))))
	assert.Equal(t, int64(len(protocol.EncodeCommand(set.Argv))), st.Offset())

	// A client write on the replica advances the offset by its encoding
	before := st.Offset()
	st.Execute(nil, set)
	assert.Equal(t, before+int64(len(protocol.EncodeCommand(set.Argv))), st.Offset())
}

func TestStateInfoOnReplica(t *testing.T) {
	st := NewState(RoleReplica, storage.NewMemory())
	st.AdoptMaster("abc", 7)

	info := st.Execute(nil, command("INFO", "replication")).String()
	assert.Equal(t, "# Replication\r\nrole:slave\r\nmaster_replid:abc\r\nmaster_repl_offset:7\r\n", info)
}

func TestStateMetrics(t *testing.T) {
	st := NewState(RoleMaster, storage.NewMemory())
	metrics := newFakeMetrics()
	st.SetMetrics(metrics)

	st.Execute(nil, command("SET", "a", "b"))
	st.Execute(nil, command("GET", "a"))
	st.Execute(nil, command("NOPE"))

	assert.Equal(t, 1, metrics.commands["SET"])
	assert.Equal(t, 1, metrics.commands["GET"])
	assert.Equal(t, 1, metrics.errors["command"])
	// No streaming replicas, nothing delivered
	assert.Equal(t, int64(0), metrics.propagated)
}

func TestStateRemoveReplica(t *testing.T) {
	st := NewState(RoleMaster, storage.NewMemory())
	metrics := newFakeMetrics()
	st.SetMetrics(metrics)

	transports := map[string]*discardTransport{"r1": {}, "r2": {}}
	for id, tr := range transports {
		st.Registry().Register(id, 6380, tr)
		st.Registry().Promote(id, tr)
	}
	st.replicasChanged()
	assert.Equal(t, 2, metrics.replicas)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 100; i++ {
			st.Execute(nil, command("SET", "k", "v"))
		}
	}()

	assert.True(t, st.removeReplica("r1"))
	assert.False(t, st.removeReplica("r1"))
	assert.False(t, st.removeReplica("unknown"))
	wg.Wait()

	assert.Equal(t, 1, st.Registry().Count())
	assert.Equal(t, 1, metrics.replicas)
	assert.True(t, transports["r1"].closed)
	assert.False(t, transports["r2"].closed)
}

func TestDispatcher(t *testing.T) {
	st := NewState(RoleMaster, storage.NewMemory())

	st.Dispatcher().RegisterFunc("hello", func(_ *State, _ *Conn, args [][]byte) protocol.Value {
		return protocol.Integer(int64(len(args)))
	})

	assert.Equal(t, int64(2), st.Execute(nil, command("HeLLo", "a", "b")).Int())
	assert.Contains(t, st.Dispatcher().Commands(), "HELLO")
	assert.Contains(t, st.Dispatcher().Commands(), "SET")

	// The unknown command reply keeps the name as sent
	reply := st.Execute(nil, command("fooBAR"))
	assert.Equal(t, "ERR unknown command 'fooBAR'", reply.Error())
}

func TestStateScriptSandbox(t *testing.T) {
	st := NewState(RoleMaster, storage.NewMemory())

	assert.True(t, st.Execute(nil, command("EVAL", "return io", "0")).IsNull)
	assert.True(t, st.Execute(nil, command("EVAL", "return os", "0")).IsNull)
	assert.True(t, st.Execute(nil, command("EVAL", "return dofile", "0")).IsNull)

	reply := st.Execute(nil, command("EVAL", "return os.execute('id')", "0"))
	assert.True(t, reply.IsError())
	assert.True(t, strings.HasPrefix(reply.Error(), "ERR "))
}

func TestDispatcherScriptDenied(t *testing.T) {
	d := NewDispatcher()
	registerCommands(d)

	assert.True(t, d.scriptDenied("PSYNC"))
	assert.True(t, d.scriptDenied("EVAL"))
	assert.False(t, d.scriptDenied("SET"))
}
