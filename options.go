package redisnode

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"
)

// config holds the configuration for a Node
type config struct {
	// Listener
	addr         string
	announcePort int

	// Replication
	replicaOf           string
	connectTimeout      time.Duration
	handshakeTimeout    time.Duration
	replicaWriteTimeout time.Duration

	// Storage
	shardCount int

	// Observability
	logger        Logger
	metrics       MetricsCollector
	metricsAddr   string
	statsInterval time.Duration
}

// defaultConfig returns a configuration with sensible defaults
func defaultConfig() *config {
	return &config{
		addr:             ":6379",
		connectTimeout:   5 * time.Second,
		handshakeTimeout: 30 * time.Second,
		shardCount:       64,
		statsInterval:    10 * time.Second,
	}
}

// Option represents a configuration option for a Node
type Option func(*config) error

// WithAddr sets the listening address
//
// Example:
//
//	WithAddr(":6379")
//	WithAddr("127.0.0.1:0")
func WithAddr(addr string) Option {
	return func(c *config) error {
		if addr == "" {
			return fmt.Errorf("%w: empty listen address", ErrInvalidConfig)
		}
		c.addr = addr
		return nil
	}
}

// WithPort listens on all interfaces at port
//
// Example:
//
//	WithPort(6380)
func WithPort(port int) Option {
	return func(c *config) error {
		if port < 0 || port > 65535 {
			return fmt.Errorf("%w: port %d out of range", ErrInvalidConfig, port)
		}
		c.addr = ":" + strconv.Itoa(port)
		return nil
	}
}

// WithReplicaOf makes the node a replica of the master given as
// "<host> <port>". An empty string keeps the node a master.
//
// Example:
//
//	WithReplicaOf("localhost 6379")
func WithReplicaOf(hostPort string) Option {
	return func(c *config) error {
		if strings.TrimSpace(hostPort) == "" {
			c.replicaOf = ""
			return nil
		}
		addr, err := ParseReplicaOf(hostPort)
		if err != nil {
			return err
		}
		c.replicaOf = addr
		return nil
	}
}

// WithMaster makes the node a replica of the master at host:port
//
// Example:
//
//	WithMaster("redis.example.com:6379")
func WithMaster(addr string) Option {
	return func(c *config) error {
		if _, _, err := net.SplitHostPort(addr); err != nil {
			return &ConnectionError{
				Addr: addr,
				Err:  fmt.Errorf("%w: %v", ErrInvalidConfig, err),
			}
		}
		c.replicaOf = addr
		return nil
	}
}

// WithAnnouncePort sets the port a replica sends in REPLCONF
// listening-port. By default the port of the local listener is used.
func WithAnnouncePort(port int) Option {
	return func(c *config) error {
		if port <= 0 || port > 65535 {
			return fmt.Errorf("%w: announce port %d out of range", ErrInvalidConfig, port)
		}
		c.announcePort = port
		return nil
	}
}

// WithConnectTimeout sets the dial timeout for the master connection
//
// Example:
//
//	WithConnectTimeout(10 * time.Second)
func WithConnectTimeout(timeout time.Duration) Option {
	return func(c *config) error {
		if timeout <= 0 {
			return fmt.Errorf("%w: connect timeout must be positive", ErrInvalidConfig)
		}
		c.connectTimeout = timeout
		return nil
	}
}

// WithHandshakeTimeout bounds the handshake and snapshot transfer with the
// master. Zero disables the bound.
func WithHandshakeTimeout(timeout time.Duration) Option {
	return func(c *config) error {
		if timeout < 0 {
			return fmt.Errorf("%w: handshake timeout must not be negative", ErrInvalidConfig)
		}
		c.handshakeTimeout = timeout
		return nil
	}
}

// WithReplicaWriteTimeout bounds each write of a propagated command to a
// replica. A replica that misses the deadline is dropped. Zero, the
// default, disables the bound.
func WithReplicaWriteTimeout(timeout time.Duration) Option {
	return func(c *config) error {
		if timeout < 0 {
			return fmt.Errorf("%w: replica write timeout must not be negative", ErrInvalidConfig)
		}
		c.replicaWriteTimeout = timeout
		return nil
	}
}

// WithShardCount sets the number of store shards, rounded up to a power
// of two
func WithShardCount(count int) Option {
	return func(c *config) error {
		if count <= 0 {
			return fmt.Errorf("%w: shard count must be positive", ErrInvalidConfig)
		}
		c.shardCount = count
		return nil
	}
}

// WithLogger sets a custom logger for the node
//
// Example:
//
//	WithLogger(myCustomLogger)
func WithLogger(logger Logger) Option {
	return func(c *config) error {
		if logger == nil {
			return fmt.Errorf("%w: nil logger", ErrInvalidConfig)
		}
		c.logger = logger
		return nil
	}
}

// WithMetrics enables metrics collection with the provided collector
//
// Example:
//
//	WithMetrics(metrics.New(""))
func WithMetrics(collector MetricsCollector) Option {
	return func(c *config) error {
		c.metrics = collector
		return nil
	}
}

// WithMetricsAddr serves Prometheus metrics on addr at /metrics. A
// metrics.Collector is created when none was configured.
func WithMetricsAddr(addr string) Option {
	return func(c *config) error {
		c.metricsAddr = addr
		return nil
	}
}

// WithStatsInterval sets how often key count and memory gauges are
// refreshed
func WithStatsInterval(interval time.Duration) Option {
	return func(c *config) error {
		if interval <= 0 {
			return fmt.Errorf("%w: stats interval must be positive", ErrInvalidConfig)
		}
		c.statsInterval = interval
		return nil
	}
}

// ParseReplicaOf converts "<host> <port>" to host:port. The host:port form
// is accepted as well.
func ParseReplicaOf(hostPort string) (string, error) {
	fields := strings.Fields(hostPort)

	var host, port string
	switch len(fields) {
	case 1:
		h, p, err := net.SplitHostPort(fields[0])
		if err != nil {
			return "", fmt.Errorf("%w: replicaof %q: %v", ErrInvalidConfig, hostPort, err)
		}
		host, port = h, p
	case 2:
		host, port = fields[0], fields[1]
	default:
		return "", fmt.Errorf("%w: replicaof must be \"<host> <port>\", got %q", ErrInvalidConfig, hostPort)
	}

	n, err := strconv.Atoi(port)
	if err != nil || n <= 0 || n > 65535 {
		return "", fmt.Errorf("%w: replicaof port %q", ErrInvalidConfig, port)
	}
	if host == "" {
		return "", fmt.Errorf("%w: replicaof host is empty", ErrInvalidConfig)
	}
	return net.JoinHostPort(host, port), nil
}
