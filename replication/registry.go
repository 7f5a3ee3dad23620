package replication

import (
	"fmt"
	"io"
	"sort"
	"sync"
	"time"
)

// ReplicaState is the master-side view of a downstream connection
type ReplicaState int

const (
	// StatePending means REPLCONF listening-port was received but PSYNC was not
	StatePending ReplicaState = iota
	// StateStreaming means the snapshot was sent and writes are propagated
	StateStreaming
)

func (s ReplicaState) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateStreaming:
		return "streaming"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// Transport is the outbound side of a replica connection
type Transport interface {
	io.Writer
	Close() error
}

// writeDeadliner is implemented by transports that support write deadlines,
// such as net.Conn
type writeDeadliner interface {
	SetWriteDeadline(t time.Time) error
}

// Replica is a handle on a downstream replica connection
type Replica struct {
	ID            string
	ListeningPort int
	State         ReplicaState
	Since         time.Time

	transport Transport
}

// ReplicaInfo is a copy of a replica handle suitable for reporting
type ReplicaInfo struct {
	ID            string
	ListeningPort int
	State         ReplicaState
	Since         time.Time
}

// Registry tracks the replicas attached to a master. Handles are keyed by
// connection id.
type Registry struct {
	mu           sync.Mutex
	replicas     map[string]*Replica
	writeTimeout time.Duration
	logger       Logger
	now          func() time.Time
}

// NewRegistry creates an empty replica registry
func NewRegistry() *Registry {
	return &Registry{
		replicas: make(map[string]*Replica),
		logger:   &defaultLogger{},
		now:      time.Now,
	}
}

// SetLogger sets the logger
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

// SetWriteTimeout bounds each broadcast write when the transport supports
// deadlines. Zero disables the bound.
func (r *Registry) SetWriteTimeout(timeout time.Duration) {
	r.mu.Lock()
	r.writeTimeout = timeout
	r.mu.Unlock()
}

// Register records id as a pending replica listening on port. Registering
// an id twice updates its port and keeps its state.
func (r *Registry) Register(id string, port int, t Transport) *Replica {
	r.mu.Lock()
	defer r.mu.Unlock()

	if replica, ok := r.replicas[id]; ok {
		replica.ListeningPort = port
		return replica
	}

	replica := &Replica{
		ID:            id,
		ListeningPort: port,
		State:         StatePending,
		Since:         r.now(),
		transport:     t,
	}
	r.replicas[id] = replica
	r.logger.Info("Replica registered", "id", id, "listening_port", port)
	return replica
}

// Promote moves id to streaming. A connection that skipped REPLCONF
// listening-port is registered on the spot with port 0.
func (r *Registry) Promote(id string, t Transport) *Replica {
	r.mu.Lock()
	defer r.mu.Unlock()

	replica, ok := r.replicas[id]
	if !ok {
		replica = &Replica{ID: id, Since: r.now(), transport: t}
		r.replicas[id] = replica
	}
	replica.State = StateStreaming
	r.logger.Info("Replica streaming", "id", id, "listening_port", replica.ListeningPort)
	return replica
}

// Remove drops id and closes its transport. It reports whether id was
// registered.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	replica, ok := r.replicas[id]
	if ok {
		delete(r.replicas, id)
	}
	r.mu.Unlock()

	if !ok {
		return false
	}
	if err := replica.transport.Close(); err != nil {
		r.logger.Debug("Replica transport close failed", "id", id, "error", err)
	}
	r.logger.Info("Replica removed", "id", id)
	return true
}

// Broadcast writes an encoded command to every streaming replica and
// returns how many received it. A replica whose write fails is removed.
func (r *Registry) Broadcast(cmd []byte) int {
	r.mu.Lock()
	targets := make([]*Replica, 0, len(r.replicas))
	for _, replica := range r.replicas {
		if replica.State == StateStreaming {
			targets = append(targets, replica)
		}
	}
	timeout := r.writeTimeout
	r.mu.Unlock()

	delivered := 0
	for _, replica := range targets {
		if err := r.write(replica, cmd, timeout); err != nil {
			r.logger.Error("Replica write failed, dropping replica", "id", replica.ID, "error", err)
			r.Remove(replica.ID)
			continue
		}
		delivered++
	}
	return delivered
}

func (r *Registry) write(replica *Replica, cmd []byte, timeout time.Duration) error {
	if d, ok := replica.transport.(writeDeadliner); ok && timeout > 0 {
		if err := d.SetWriteDeadline(r.now().Add(timeout)); err != nil {
			return err
		}
		defer d.SetWriteDeadline(time.Time{})
	}
	_, err := replica.transport.Write(cmd)
	return err
}

// Count returns the number of registered replicas in any state
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.replicas)
}

// Streaming returns the number of replicas receiving broadcasts
func (r *Registry) Streaming() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for _, replica := range r.replicas {
		if replica.State == StateStreaming {
			n++
		}
	}
	return n
}

// Has reports whether id is registered
func (r *Registry) Has(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.replicas[id]
	return ok
}

// List returns the registered replicas ordered by registration time
func (r *Registry) List() []ReplicaInfo {
	r.mu.Lock()
	out := make([]ReplicaInfo, 0, len(r.replicas))
	for _, replica := range r.replicas {
		out = append(out, ReplicaInfo{
			ID:            replica.ID,
			ListeningPort: replica.ListeningPort,
			State:         replica.State,
			Since:         replica.Since,
		})
	}
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Since.Equal(out[j].Since) {
			return out[i].ID < out[j].ID
		}
		return out[i].Since.Before(out[j].Since)
	})
	return out
}

// CloseAll removes every replica and closes its transport
func (r *Registry) CloseAll() {
	r.mu.Lock()
	ids := make([]string, 0, len(r.replicas))
	for id := range r.replicas {
		ids = append(ids, id)
	}
	r.mu.Unlock()

	for _, id := range ids {
		r.Remove(id)
	}
}
