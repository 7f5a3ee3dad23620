package redisnode

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/raniellyferreira/redis-node/metrics"
	"github.com/raniellyferreira/redis-node/replication"
	"github.com/raniellyferreira/redis-node/server"
	"github.com/raniellyferreira/redis-node/storage"
)

// Node is a Redis-compatible server that is either a master, accepting
// replicas and propagating writes to them, or a replica of another master
type Node struct {
	// Configuration
	config *config

	// Components
	store  *storage.MemoryStorage
	state  *server.State
	server *server.Server
	repl   *replication.Client

	// State
	mu      sync.RWMutex
	started bool
	closed  bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	// Callbacks
	syncCallbacks []func()
}

// metricsServer is implemented by collectors that can expose themselves
// over HTTP, such as metrics.Collector
type metricsServer interface {
	Serve(ctx context.Context, addr string) error
}

// New creates a new Node with the given options
//
// The node is created but not started. Use Start() to listen and, for a
// replica, to begin the handshake with the master.
//
// Example:
//
//	node, err := redisnode.New(
//		redisnode.WithPort(6380),
//		redisnode.WithReplicaOf("localhost 6379"),
//	)
//	if err != nil {
//		log.Fatal(err)
//	}
//
// Since: v2.0.0
func New(opts ...Option) (*Node, error) {
	cfg := defaultConfig()

	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}

	if cfg.logger == nil {
		cfg.logger = defaultLogger()
	}
	if cfg.metricsAddr != "" && cfg.metrics == nil {
		cfg.metrics = metrics.New("")
	}

	store := storage.NewMemory(storage.WithShardCount(cfg.shardCount))

	role := server.RoleMaster
	if cfg.replicaOf != "" {
		role = server.RoleReplica
	}

	state := server.NewState(role, store)
	state.SetLogger(&loggerAdapter{logger: cfg.logger})
	if cfg.metrics != nil {
		state.SetMetrics(cfg.metrics)
	}
	state.Registry().SetWriteTimeout(cfg.replicaWriteTimeout)

	srv := server.NewServer(cfg.addr, state)
	srv.SetLogger(&loggerAdapter{logger: cfg.logger})

	return &Node{
		config: cfg,
		store:  store,
		state:  state,
		server: srv,
	}, nil
}

// Start listens for clients and, on a replica, starts replication in the
// background
//
// A failed handshake does not fail Start: the node keeps serving and the
// failure is logged and reported by WaitForSync.
//
// Example:
//
//	if err := node.Start(context.Background()); err != nil {
//		log.Fatal(err)
//	}
//
// Since: v2.0.0
func (n *Node) Start(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	if n.closed {
		return ErrClosed
	}
	if n.started {
		return ErrAlreadyStarted
	}

	if err := n.server.Start(); err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	n.cancel = cancel

	if n.config.replicaOf != "" {
		if err := n.startReplication(runCtx); err != nil {
			cancel()
			n.server.Stop()
			return err
		}
	}

	if n.config.metrics != nil {
		n.wg.Add(1)
		go n.statsLoop(runCtx)
	}

	if n.config.metricsAddr != "" {
		if exporter, ok := n.config.metrics.(metricsServer); ok {
			n.wg.Add(1)
			go func() {
				defer n.wg.Done()
				n.config.logger.Info("Serving metrics", Field{Key: "addr", Value: n.config.metricsAddr})
				if err := exporter.Serve(runCtx, n.config.metricsAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
					n.config.logger.Error("Metrics server failed", Field{Key: "error", Value: err})
				}
			}()
		} else {
			n.config.logger.Error("Metrics collector cannot serve HTTP, ignoring metrics address",
				Field{Key: "addr", Value: n.config.metricsAddr})
		}
	}

	n.started = true
	return nil
}

func (n *Node) startReplication(ctx context.Context) error {
	port := n.config.announcePort
	if port == 0 {
		_, p, err := net.SplitHostPort(n.server.Addr())
		if err != nil {
			return fmt.Errorf("failed to determine listening port: %w", err)
		}
		port, err = strconv.Atoi(p)
		if err != nil {
			return fmt.Errorf("failed to determine listening port: %w", err)
		}
	}

	client := replication.NewClient(n.config.replicaOf, port, n.state)
	client.SetLogger(&loggerAdapter{logger: n.config.logger})
	if n.config.metrics != nil {
		client.SetMetrics(&replicationMetrics{metrics: n.config.metrics})
	}
	client.SetConnectTimeout(n.config.connectTimeout)
	client.SetHandshakeTimeout(n.config.handshakeTimeout)

	for _, fn := range n.syncCallbacks {
		client.OnSyncComplete(fn)
	}

	if err := client.Start(ctx); err != nil {
		return fmt.Errorf("failed to start replication: %w", err)
	}
	n.repl = client
	return nil
}

// statsLoop refreshes the store gauges
func (n *Node) statsLoop(ctx context.Context) {
	defer n.wg.Done()

	ticker := time.NewTicker(n.config.statsInterval)
	defer ticker.Stop()

	for {
		n.config.metrics.RecordKeyCount(n.store.KeyCount())
		n.config.metrics.RecordMemoryUsage(n.store.MemoryUsage())

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// WaitForSync blocks until a replica has received its snapshot and started
// streaming. It returns immediately on a master.
//
// Example:
//
//	if err := node.WaitForSync(ctx); err != nil {
//		log.Printf("replication failed: %v", err)
//	}
//
// Since: v2.0.0
func (n *Node) WaitForSync(ctx context.Context) error {
	n.mu.RLock()
	started, closed, repl := n.started, n.closed, n.repl
	n.mu.RUnlock()

	if closed {
		return ErrClosed
	}
	if !started {
		return ErrNotStarted
	}
	if repl == nil {
		return nil
	}
	return repl.WaitForSync(ctx)
}

// OnSyncComplete registers a callback for when a replica finishes its
// initial sync. Callbacks registered after sync run immediately. On a
// master they never run.
func (n *Node) OnSyncComplete(fn func()) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.repl != nil {
		n.repl.OnSyncComplete(fn)
		return
	}
	n.syncCallbacks = append(n.syncCallbacks, fn)
}

// SyncStatus returns the replication status of a replica. A master
// reports the zero status.
//
// Example:
//
//	status := node.SyncStatus()
//	fmt.Printf("offset %d, state %s\n", status.ReplicationOffset, status.State)
//
// Since: v2.0.0
func (n *Node) SyncStatus() replication.SyncStatus {
	n.mu.RLock()
	repl := n.repl
	n.mu.RUnlock()

	if repl == nil {
		return replication.SyncStatus{}
	}
	return repl.Status()
}

// Close stops replication and the server and releases the store
//
// Example:
//
//	defer node.Close()
//
// Since: v2.0.0
func (n *Node) Close() error {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return nil
	}
	n.closed = true
	started := n.started
	repl := n.repl
	cancel := n.cancel
	n.mu.Unlock()

	var errs []error
	if repl != nil {
		if err := repl.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("stop replication: %w", err))
		}
	}
	if started {
		if err := n.server.Stop(); err != nil && !errors.Is(err, net.ErrClosed) {
			errs = append(errs, fmt.Errorf("stop server: %w", err))
		}
	}
	if cancel != nil {
		cancel()
	}
	n.wg.Wait()

	if err := n.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close storage: %w", err))
	}
	return errors.Join(errs...)
}

// Addr returns the listening address
func (n *Node) Addr() string {
	return n.server.Addr()
}

// Role returns "master" or "slave", as reported by INFO
func (n *Node) Role() string {
	return n.state.Role().String()
}

// ReplicationID returns the replication id. A replica reports its
// master's id once the handshake got that far.
func (n *Node) ReplicationID() string {
	return n.state.ReplicationID()
}

// Offset returns the replication offset
func (n *Node) Offset() int64 {
	return n.state.Offset()
}

// Storage returns the underlying store for direct access
func (n *Node) Storage() storage.Storage {
	return n.store
}

// Dispatcher returns the command table, for registering extra commands
// before Start
func (n *Node) Dispatcher() *server.Dispatcher {
	return n.state.Dispatcher()
}

// Replicas lists the replicas attached to this node
func (n *Node) Replicas() []replication.ReplicaInfo {
	return n.state.Registry().List()
}

// GetInfo returns store, server, replication and version details
//
// Example:
//
//	info := node.GetInfo()
//	fmt.Printf("Key count: %v\n", info["keys"])
//
// Since: v2.0.0
func (n *Node) GetInfo() map[string]interface{} {
	info := n.store.Info()
	info["server"] = n.server.Stats()

	repl := map[string]interface{}{
		"role":               n.Role(),
		"master_replid":      n.ReplicationID(),
		"master_repl_offset": n.Offset(),
	}
	if n.config.replicaOf != "" {
		status := n.SyncStatus()
		repl["master_addr"] = n.config.replicaOf
		repl["sync_state"] = status.State.String()
		repl["initial_sync_completed"] = status.InitialSyncCompleted
		repl["commands_processed"] = status.CommandsProcessed
	} else {
		repl["connected_slaves"] = n.state.Registry().Count()
	}
	info["replication"] = repl
	info["version"] = VersionInfo()

	return info
}
