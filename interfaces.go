package redisnode

import (
	"time"
)

// Field represents a structured log field
type Field struct {
	Key   string
	Value interface{}
}

// Logger interface for custom logging implementations
type Logger interface {
	// Debug logs a debug message with optional fields
	Debug(msg string, fields ...Field)

	// Info logs an info message with optional fields
	Info(msg string, fields ...Field)

	// Error logs an error message with optional fields
	Error(msg string, fields ...Field)
}

// MetricsCollector interface for metrics collection. metrics.Collector is
// the Prometheus implementation.
type MetricsCollector interface {
	// RecordSyncDuration records the time a replica took to receive its snapshot
	RecordSyncDuration(duration time.Duration)

	// RecordCommandProcessed records an executed command with its duration
	RecordCommandProcessed(cmd string, duration time.Duration)

	// RecordNetworkBytes records bytes received from the master
	RecordNetworkBytes(bytes int64)

	// RecordPropagatedBytes records bytes written to replicas
	RecordPropagatedBytes(bytes int64)

	// RecordConnectedReplicas records the number of registered replicas
	RecordConnectedReplicas(count int)

	// RecordKeyCount records the current number of keys
	RecordKeyCount(count int64)

	// RecordMemoryUsage records current memory usage
	RecordMemoryUsage(bytes int64)

	// RecordError records an error event
	RecordError(errorType string)
}
