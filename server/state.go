package server

import (
	"crypto/rand"
	"fmt"
	"sync"
	"time"

	"github.com/raniellyferreira/redis-node/lua"
	"github.com/raniellyferreira/redis-node/protocol"
	"github.com/raniellyferreira/redis-node/replication"
	"github.com/raniellyferreira/redis-node/storage"
)

// Role is the replication role of a node
type Role int

const (
	// RoleMaster accepts replicas and propagates writes to them
	RoleMaster Role = iota
	// RoleReplica follows a master
	RoleReplica
)

// String returns the role name used by INFO
func (r Role) String() string {
	if r == RoleReplica {
		return "slave"
	}
	return "master"
}

// Logger interface for server logging
type Logger interface {
	Debug(msg string, fields ...interface{})
	Info(msg string, fields ...interface{})
	Error(msg string, fields ...interface{})
}

// MetricsCollector receives command and propagation metrics
type MetricsCollector interface {
	RecordCommandProcessed(cmd string, duration time.Duration)
	RecordPropagatedBytes(bytes int64)
	RecordConnectedReplicas(count int)
	RecordError(errorType string)
}

const replIDAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

// NewReplicationID returns a random 40 character id of [a-z0-9]
func NewReplicationID() string {
	buf := make([]byte, 40)
	if _, err := rand.Read(buf); err != nil {
		panic(fmt.Sprintf("server: reading random bytes: %v", err))
	}
	for i, b := range buf {
		buf[i] = replIDAlphabet[int(b)%len(replIDAlphabet)]
	}
	return string(buf)
}

// State is everything a node shares between connections: the store, the
// replication identity and offset, the replica registry and the command
// table. Every command runs with the state lock held, so commands are
// atomic with respect to each other and to propagation.
type State struct {
	mu sync.Mutex

	role     Role
	replID   string
	offset   int64
	snapshot []byte

	store      storage.Storage
	registry   *replication.Registry
	dispatcher *Dispatcher
	scripts    *lua.Engine

	// current is the command being executed, applying is set while a
	// command from the master stream runs
	current  *protocol.Command
	applying bool

	logger  Logger
	metrics MetricsCollector
}

// NewState creates the shared state of a node with the default command set
func NewState(role Role, store storage.Storage) *State {
	st := &State{
		role:       role,
		replID:     NewReplicationID(),
		snapshot:   replication.EmptySnapshot(),
		store:      store,
		registry:   replication.NewRegistry(),
		dispatcher: NewDispatcher(),
		scripts:    lua.NewEngine(),
		logger:     &nopLogger{},
	}
	registerCommands(st.dispatcher)
	return st
}

// SetLogger sets the logger used by the state and its replica registry
func (s *State) SetLogger(logger Logger) {
	s.logger = logger
	s.registry.SetLogger(logger)
}

// SetMetrics sets the metrics collector
func (s *State) SetMetrics(metrics MetricsCollector) {
	s.metrics = metrics
}

// SetSnapshot replaces the blob sent to replicas after FULLRESYNC
func (s *State) SetSnapshot(blob []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshot = append([]byte(nil), blob...)
}

// Role returns the replication role
func (s *State) Role() Role {
	return s.role
}

// ReplicationID returns the current replication id
func (s *State) ReplicationID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.replID
}

// Offset returns the current replication offset
func (s *State) Offset() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.offset
}

// Store returns the key-value store
func (s *State) Store() storage.Storage {
	return s.store
}

// Registry returns the replica registry
func (s *State) Registry() *replication.Registry {
	return s.registry
}

// Dispatcher returns the command table
func (s *State) Dispatcher() *Dispatcher {
	return s.dispatcher
}

// Execute runs cmd for connection c and returns its reply. A zero Value
// means the handler already wrote whatever the connection should see.
func (s *State) Execute(c *Conn, cmd *protocol.Command) protocol.Value {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.execLocked(c, cmd)
}

// AdoptMaster takes over the replication id and offset sent by the master
func (s *State) AdoptMaster(replID string, offset int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.replID = replID
	s.offset = offset
}

// Apply executes a command from the replication stream. The reply is
// discarded and the offset advances by the bytes the command occupied.
func (s *State) Apply(cmd *protocol.Command, size int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.applying = true
	reply := s.execLocked(nil, cmd)
	s.applying = false
	s.offset += size

	if reply.IsError() {
		return fmt.Errorf("%s: %s", cmd.Name, reply.Error())
	}
	return nil
}

func (s *State) execLocked(c *Conn, cmd *protocol.Command) protocol.Value {
	prev := s.current
	s.current = cmd
	defer func() { s.current = prev }()

	start := time.Now()
	reply := s.dispatcher.Lookup(cmd.Name).Execute(s, c, cmd.Args)

	if s.metrics != nil {
		s.metrics.RecordCommandProcessed(cmd.Name, time.Since(start))
		if reply.IsError() {
			s.metrics.RecordError("command")
		}
	}
	return reply
}

// propagate sends the command being executed to every streaming replica.
// Outside the master stream the offset advances by the encoded length;
// applied commands are accounted for by Apply.
func (s *State) propagate() {
	payload := protocol.EncodeCommand(s.current.Argv)
	before := s.registry.Count()
	delivered := s.registry.Broadcast(payload)
	if s.registry.Count() != before {
		s.replicasChanged()
	}
	if !s.applying {
		s.offset += int64(len(payload))
	}

	if s.metrics != nil {
		s.metrics.RecordPropagatedBytes(int64(len(payload) * delivered))
	}
}

// removeReplica drops the replica registered for connection id, if any,
// and reports whether it was registered
func (s *State) removeReplica(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.registry.Remove(id) {
		return false
	}
	s.replicasChanged()
	return true
}

// replicasChanged reports the registry size to the metrics collector
func (s *State) replicasChanged() {
	if s.metrics != nil {
		s.metrics.RecordConnectedReplicas(s.registry.Count())
	}
}

// scriptCaller returns the Caller scripts use to run commands. It runs
// under the lock already held by EVAL.
func (s *State) scriptCaller() lua.Caller {
	return func(argv [][]byte) protocol.Value {
		cmd := &protocol.Command{
			Name: upper(argv[0]),
			Args: argv[1:],
			Argv: argv,
		}
		if s.dispatcher.scriptDenied(cmd.Name) {
			return protocol.Error("ERR This Redis command is not allowed from script")
		}
		return s.execLocked(nil, cmd)
	}
}

// nopLogger discards everything
type nopLogger struct{}

func (nopLogger) Debug(msg string, fields ...interface{}) {}
func (nopLogger) Info(msg string, fields ...interface{})  {}
func (nopLogger) Error(msg string, fields ...interface{}) {}
