package config

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	redisnode "github.com/raniellyferreira/redis-node"
)

// Config is the complete node configuration
type Config struct {
	Host      string `koanf:"host"`
	Port      int    `koanf:"port"`
	ReplicaOf string `koanf:"replicaof"`

	Log         LogConfig         `koanf:"log"`
	Metrics     MetricsConfig     `koanf:"metrics"`
	Replication ReplicationConfig `koanf:"replication"`
}

// LogConfig selects the logrus level and formatter
type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// MetricsConfig configures the Prometheus endpoint. An empty address
// disables it.
type MetricsConfig struct {
	Addr string `koanf:"addr"`
}

// ReplicationConfig holds replication tuning
type ReplicationConfig struct {
	Timeout TimeoutConfig `koanf:"timeout"`
}

// TimeoutConfig bounds the phases of replication
type TimeoutConfig struct {
	Connect   time.Duration `koanf:"connect"`
	Handshake time.Duration `koanf:"handshake"`
	Write     time.Duration `koanf:"write"`
}

// Default returns the configuration used when no source sets a key
func Default() *Config {
	return &Config{
		Port: 6379,
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Replication: ReplicationConfig{
			Timeout: TimeoutConfig{
				Connect:   5 * time.Second,
				Handshake: 30 * time.Second,
			},
		},
	}
}

// Addr returns the listening address
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Validate checks the configuration for values the node would reject
func (c *Config) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("%w: port %d out of range", redisnode.ErrInvalidConfig, c.Port)
	}

	if strings.TrimSpace(c.ReplicaOf) != "" {
		if _, err := redisnode.ParseReplicaOf(c.ReplicaOf); err != nil {
			return err
		}
	}

	if _, err := redisnode.NewLogrusLogger(c.Log.Level, c.Log.Format); err != nil {
		return err
	}

	t := c.Replication.Timeout
	if t.Connect <= 0 {
		return fmt.Errorf("%w: replication.timeout.connect must be positive", redisnode.ErrInvalidConfig)
	}
	if t.Handshake < 0 || t.Write < 0 {
		return fmt.Errorf("%w: replication timeouts must not be negative", redisnode.ErrInvalidConfig)
	}

	return nil
}

// Options converts the configuration to node options. The logger is not
// included, since callers usually keep a reference to it for reloading.
func (c *Config) Options() []redisnode.Option {
	opts := []redisnode.Option{
		redisnode.WithAddr(c.Addr()),
		redisnode.WithReplicaOf(c.ReplicaOf),
		redisnode.WithConnectTimeout(c.Replication.Timeout.Connect),
		redisnode.WithHandshakeTimeout(c.Replication.Timeout.Handshake),
		redisnode.WithReplicaWriteTimeout(c.Replication.Timeout.Write),
	}
	if c.Metrics.Addr != "" {
		opts = append(opts, redisnode.WithMetricsAddr(c.Metrics.Addr))
	}
	return opts
}
