package redisnode

import (
	"time"
)

// loggerAdapter adapts our Logger interface to the key/value loggers of
// the server and replication packages
type loggerAdapter struct {
	logger Logger
}

func (la *loggerAdapter) Debug(msg string, fields ...interface{}) {
	la.logger.Debug(msg, convertFields(fields...)...)
}

func (la *loggerAdapter) Info(msg string, fields ...interface{}) {
	la.logger.Info(msg, convertFields(fields...)...)
}

func (la *loggerAdapter) Error(msg string, fields ...interface{}) {
	la.logger.Error(msg, convertFields(fields...)...)
}

// convertFields pairs up alternating keys and values. Non-string keys and
// a trailing key without a value are dropped.
func convertFields(fields ...interface{}) []Field {
	result := make([]Field, 0, len(fields)/2)
	for i := 0; i < len(fields)-1; i += 2 {
		if key, ok := fields[i].(string); ok {
			result = append(result, Field{
				Key:   key,
				Value: fields[i+1],
			})
		}
	}
	return result
}

// replicationMetrics hands the replication client a collector that
// ignores per-command records, since applied commands are already
// recorded by the server state
type replicationMetrics struct {
	metrics MetricsCollector
}

func (rm *replicationMetrics) RecordSyncDuration(duration time.Duration) {
	rm.metrics.RecordSyncDuration(duration)
}

func (rm *replicationMetrics) RecordCommandProcessed(string, time.Duration) {}

func (rm *replicationMetrics) RecordNetworkBytes(bytes int64) {
	rm.metrics.RecordNetworkBytes(bytes)
}

func (rm *replicationMetrics) RecordError(errorType string) {
	rm.metrics.RecordError("replication_" + errorType)
}
