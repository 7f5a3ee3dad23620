package replication

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/raniellyferreira/redis-node/protocol"
)

// Applier executes what the master sends. Implementations serialize Apply
// with their own command processing.
type Applier interface {
	// AdoptMaster records the replication id and offset announced by
	// FULLRESYNC
	AdoptMaster(replID string, offset int64)

	// Apply executes a command received on the replication stream without
	// producing a reply. size is the number of stream bytes the command
	// occupied and is added to the replication offset.
	Apply(cmd *protocol.Command, size int64) error
}

// Logger interface for replication logging
type Logger interface {
	Debug(msg string, fields ...interface{})
	Info(msg string, fields ...interface{})
	Error(msg string, fields ...interface{})
}

// MetricsCollector interface for replication metrics
type MetricsCollector interface {
	RecordSyncDuration(duration time.Duration)
	RecordCommandProcessed(cmd string, duration time.Duration)
	RecordNetworkBytes(bytes int64)
	RecordError(errorType string)
}

// Client is the replica side of replication. It performs one handshake
// with the master and then applies the command stream until the
// connection ends. There is no automatic reconnection.
type Client struct {
	masterAddr    string
	listeningPort int
	applier       Applier

	mu  sync.RWMutex
	err error

	// Control
	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
	started int32

	tracker *syncTracker

	// Configuration
	logger           Logger
	metrics          MetricsCollector
	connectTimeout   time.Duration
	handshakeTimeout time.Duration
}

// NewClient creates a replication client for the master at masterAddr.
// listeningPort is advertised to the master with REPLCONF listening-port.
func NewClient(masterAddr string, listeningPort int, applier Applier) *Client {
	ctx, cancel := context.WithCancel(context.Background())

	return &Client{
		masterAddr:       masterAddr,
		listeningPort:    listeningPort,
		applier:          applier,
		ctx:              ctx,
		cancel:           cancel,
		done:             make(chan struct{}),
		tracker:          newSyncTracker(masterAddr),
		logger:           &defaultLogger{},
		connectTimeout:   5 * time.Second,
		handshakeTimeout: 30 * time.Second,
	}
}

// SetLogger sets the logger
func (c *Client) SetLogger(logger Logger) {
	c.logger = logger
}

// SetMetrics sets the metrics collector
func (c *Client) SetMetrics(metrics MetricsCollector) {
	c.metrics = metrics
}

// SetConnectTimeout sets the dial timeout
func (c *Client) SetConnectTimeout(timeout time.Duration) {
	c.connectTimeout = timeout
}

// SetHandshakeTimeout bounds the handshake and snapshot transfer. Zero
// disables the bound. The streaming phase never times out.
func (c *Client) SetHandshakeTimeout(timeout time.Duration) {
	c.handshakeTimeout = timeout
}

// MasterAddr returns the address of the master
func (c *Client) MasterAddr() string {
	return c.masterAddr
}

// Start begins replication in the background. Handshake failures are
// reported through Err, WaitForSync and the logger.
func (c *Client) Start(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !atomic.CompareAndSwapInt32(&c.started, 0, 1) {
		return ErrAlreadyStarted
	}

	c.logger.Info("Starting replication client", "master", c.masterAddr)
	go c.run()
	return nil
}

// Stop stops replication and waits for the replication goroutine to exit
func (c *Client) Stop() error {
	c.cancel()

	if atomic.LoadInt32(&c.started) == 0 {
		return nil
	}

	select {
	case <-c.done:
		return nil
	case <-time.After(5 * time.Second):
		return fmt.Errorf("stop timeout")
	}
}

// Done is closed when the replication goroutine has exited
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Err returns the error that ended replication, or nil if it is still
// running or was stopped
func (c *Client) Err() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.err
}

// run is the main replication routine
func (c *Client) run() {
	defer close(c.done)

	err := c.replicate(c.ctx)
	if c.ctx.Err() != nil {
		err = nil
	}

	c.mu.Lock()
	c.err = err
	c.mu.Unlock()

	if err == nil {
		c.setState(SyncStopped)
		c.logger.Info("Replication client stopped", "master", c.masterAddr)
		return
	}

	c.setState(SyncFailed)
	var hsErr *HandshakeError
	if errors.As(err, &hsErr) {
		c.recordMetricError("handshake")
	} else {
		c.recordMetricError("streaming")
	}
	c.logger.Error("Replication ended", "master", c.masterAddr, "error", err)
}

func (c *Client) replicate(ctx context.Context) error {
	c.setState(SyncConnecting)
	c.logger.Debug("Connecting to master", "addr", c.masterAddr)

	dialer := &net.Dialer{Timeout: c.connectTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", c.masterAddr)
	if err != nil {
		return &HandshakeError{Phase: PhaseConnect, Err: err}
	}
	defer conn.Close()

	// Unblock reads when the client is stopped
	stop := context.AfterFunc(ctx, func() {
		conn.Close()
	})
	defer stop()

	reader := protocol.NewReader(conn)
	writer := protocol.NewWriter(conn)

	if c.handshakeTimeout > 0 {
		if err := conn.SetDeadline(time.Now().Add(c.handshakeTimeout)); err != nil {
			return &HandshakeError{Phase: PhaseConnect, Err: err}
		}
	}

	if err := c.handshake(reader, writer); err != nil {
		return err
	}

	if err := conn.SetDeadline(time.Time{}); err != nil {
		return fmt.Errorf("failed to clear handshake deadline: %w", err)
	}

	return c.stream(ctx, reader)
}

// handshake performs PING, REPLCONF and PSYNC and reads the snapshot
func (c *Client) handshake(r *protocol.Reader, w *protocol.Writer) error {
	c.setState(SyncHandshaking)
	startTime := time.Now()

	if err := c.roundTrip(r, w, PhasePing, "PONG", "PING"); err != nil {
		return err
	}
	port := strconv.Itoa(c.listeningPort)
	if err := c.roundTrip(r, w, PhaseListeningPort, "OK", "REPLCONF", "listening-port", port); err != nil {
		return err
	}
	if err := c.roundTrip(r, w, PhaseCapa, "OK", "REPLCONF", "capa", "psync2"); err != nil {
		return err
	}

	if err := send(w, "PSYNC", "?", "-1"); err != nil {
		return &HandshakeError{Phase: PhasePsync, Err: err}
	}
	reply, err := r.ReadNext()
	if err != nil {
		return &HandshakeError{Phase: PhasePsync, Err: err}
	}
	replID, offset, err := parseFullResync(reply)
	if err != nil {
		return &HandshakeError{Phase: PhasePsync, Err: err}
	}
	c.applier.AdoptMaster(replID, offset)
	c.logger.Info("Full resync accepted", "replid", replID, "offset", offset)

	blob, err := r.ReadSnapshot()
	if err != nil {
		return &HandshakeError{Phase: PhaseSnapshot, Err: err}
	}
	digest := SnapshotDigest(blob)

	c.tracker.update(func(s *SyncStatus) {
		s.MasterReplID = replID
		s.ReplicationOffset = offset
		s.SnapshotSize = len(blob)
		s.SnapshotDigest = digest
		s.BytesReceived = r.Consumed()
	})

	syncDuration := time.Since(startTime)
	if c.metrics != nil {
		c.metrics.RecordSyncDuration(syncDuration)
		c.metrics.RecordNetworkBytes(r.Consumed())
	}
	c.logger.Info("Snapshot received",
		"size", len(blob),
		"digest", strconv.FormatUint(digest, 16),
		"duration", syncDuration)

	return nil
}

// stream applies commands from the master until the connection ends
func (c *Client) stream(ctx context.Context, r *protocol.Reader) error {
	c.setState(SyncStreaming)
	c.tracker.complete()
	c.logger.Debug("Starting command streaming")

	for {
		before := r.Consumed()
		value, err := r.ReadNext()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, io.EOF) {
				return fmt.Errorf("master closed the replication stream: %w", err)
			}
			return fmt.Errorf("read command failed: %w", err)
		}
		size := r.Consumed() - before

		cmd, err := protocol.ParseCommand(value)
		if err != nil {
			c.logger.Debug("Ignoring non-command frame from master", "type", value.Type.String())
			continue
		}

		startTime := time.Now()
		if err := c.applier.Apply(cmd, size); err != nil {
			c.logger.Error("Command processing failed", "command", cmd.Name, "error", err)
			c.recordMetricError("apply")
		}

		if c.metrics != nil {
			c.metrics.RecordCommandProcessed(cmd.Name, time.Since(startTime))
			c.metrics.RecordNetworkBytes(size)
		}
		c.tracker.update(func(s *SyncStatus) {
			s.CommandsProcessed++
			s.BytesReceived += size
			s.ReplicationOffset += size
		})
	}
}

// roundTrip sends a command and checks for a simple string reply
func (c *Client) roundTrip(r *protocol.Reader, w *protocol.Writer, phase, want string, args ...string) error {
	if err := send(w, args[0], args[1:]...); err != nil {
		return &HandshakeError{Phase: phase, Err: err}
	}

	reply, err := r.ReadNext()
	if err != nil {
		return &HandshakeError{Phase: phase, Err: err}
	}
	if reply.IsError() {
		return &HandshakeError{Phase: phase, Err: fmt.Errorf("%w: %s", ErrUnexpectedReply, reply.Error())}
	}
	text, ok := reply.Text()
	if !ok || !strings.EqualFold(string(text), want) {
		return &HandshakeError{Phase: phase, Err: fmt.Errorf("%w: expected %s, got %q", ErrUnexpectedReply, want, reply.String())}
	}

	c.logger.Debug("Handshake step completed", "phase", phase)
	return nil
}

func send(w *protocol.Writer, cmd string, args ...string) error {
	if err := w.WriteCommand(cmd, args...); err != nil {
		return err
	}
	return w.Flush()
}

// parseFullResync parses "FULLRESYNC <replid> <offset>"
func parseFullResync(reply protocol.Value) (string, int64, error) {
	if reply.IsError() {
		return "", 0, fmt.Errorf("%w: %s", ErrUnexpectedReply, reply.Error())
	}
	text, ok := reply.Text()
	if !ok {
		return "", 0, fmt.Errorf("%w: expected FULLRESYNC, got %s", ErrUnexpectedReply, reply.Type)
	}

	parts := strings.Fields(string(text))
	if len(parts) != 3 || !strings.EqualFold(parts[0], "FULLRESYNC") {
		return "", 0, fmt.Errorf("%w: expected FULLRESYNC, got %q", ErrUnexpectedReply, text)
	}
	offset, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil || offset < 0 {
		return "", 0, fmt.Errorf("%w: invalid offset %q", ErrUnexpectedReply, parts[2])
	}
	return parts[1], offset, nil
}

func (c *Client) setState(state SyncState) {
	c.tracker.update(func(s *SyncStatus) {
		s.State = state
	})
}

// recordMetricError records an error metric
func (c *Client) recordMetricError(errorType string) {
	if c.metrics != nil {
		c.metrics.RecordError(errorType)
	}
}

// defaultLogger discards everything
type defaultLogger struct{}

func (l *defaultLogger) Debug(msg string, fields ...interface{}) {}

func (l *defaultLogger) Info(msg string, fields ...interface{}) {}

func (l *defaultLogger) Error(msg string, fields ...interface{}) {}
