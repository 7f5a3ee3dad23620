// Package metrics exports node metrics to Prometheus.
//
// A Collector satisfies the metrics interfaces of the root package, the
// server and the replication client, so one instance can be shared by
// all of them. Serve exposes the registry on /metrics.
package metrics
