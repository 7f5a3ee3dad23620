package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// DefaultNamespace prefixes every metric name
const DefaultNamespace = "redisnode"

// Collector records node metrics into its own Prometheus registry
type Collector struct {
	registry *prometheus.Registry

	commands          *prometheus.CounterVec
	commandDuration   *prometheus.HistogramVec
	propagatedBytes   prometheus.Counter
	networkBytes      prometheus.Counter
	syncDuration      prometheus.Histogram
	connectedReplicas prometheus.Gauge
	keys              prometheus.Gauge
	memory            prometheus.Gauge
	errors            *prometheus.CounterVec
}

// New creates a collector. An empty namespace uses DefaultNamespace.
func New(namespace string) *Collector {
	if namespace == "" {
		namespace = DefaultNamespace
	}

	c := &Collector{
		registry: prometheus.NewRegistry(),
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_processed_total",
			Help:      "Commands executed, by command name.",
		}, []string{"command"}),
		commandDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "command_duration_seconds",
			Help:      "Command execution latency.",
			Buckets:   prometheus.ExponentialBuckets(0.00001, 4, 10),
		}, []string{"command"}),
		propagatedBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "replication_propagated_bytes_total",
			Help:      "Bytes written to streaming replicas.",
		}),
		networkBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "replication_received_bytes_total",
			Help:      "Bytes received from the master.",
		}),
		syncDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "replication_sync_duration_seconds",
			Help:      "Time from handshake start to snapshot received.",
			Buckets:   prometheus.DefBuckets,
		}),
		connectedReplicas: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connected_replicas",
			Help:      "Replica connections registered on this master.",
		}),
		keys: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "keys",
			Help:      "Keys held by the store.",
		}),
		memory: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "memory_bytes",
			Help:      "Approximate bytes held by the store.",
		}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "errors_total",
			Help:      "Errors, by type.",
		}, []string{"type"}),
	}

	c.registry.MustRegister(
		c.commands,
		c.commandDuration,
		c.propagatedBytes,
		c.networkBytes,
		c.syncDuration,
		c.connectedReplicas,
		c.keys,
		c.memory,
		c.errors,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return c
}

// Registry returns the registry the collector writes to
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// RecordCommandProcessed records an executed command
func (c *Collector) RecordCommandProcessed(cmd string, duration time.Duration) {
	c.commands.WithLabelValues(cmd).Inc()
	c.commandDuration.WithLabelValues(cmd).Observe(duration.Seconds())
}

// RecordPropagatedBytes records bytes sent to replicas
func (c *Collector) RecordPropagatedBytes(bytes int64) {
	c.propagatedBytes.Add(float64(bytes))
}

// RecordNetworkBytes records bytes received from the master
func (c *Collector) RecordNetworkBytes(bytes int64) {
	c.networkBytes.Add(float64(bytes))
}

// RecordSyncDuration records how long the initial sync took
func (c *Collector) RecordSyncDuration(duration time.Duration) {
	c.syncDuration.Observe(duration.Seconds())
}

// RecordConnectedReplicas sets the replica gauge
func (c *Collector) RecordConnectedReplicas(count int) {
	c.connectedReplicas.Set(float64(count))
}

// RecordKeyCount sets the key gauge
func (c *Collector) RecordKeyCount(count int64) {
	c.keys.Set(float64(count))
}

// RecordMemoryUsage sets the memory gauge
func (c *Collector) RecordMemoryUsage(bytes int64) {
	c.memory.Set(float64(bytes))
}

// RecordError counts an error of the given type
func (c *Collector) RecordError(errorType string) {
	c.errors.WithLabelValues(errorType).Inc()
}

// Handler serves the registry in the Prometheus exposition format
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

// Serve exposes /metrics on addr until ctx is cancelled
func (c *Collector) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}
