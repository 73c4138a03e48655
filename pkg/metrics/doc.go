/*
Package metrics exposes Prometheus metrics and health endpoints for the
Behemoth control plane.

Counters track execution transitions, worker selections, and command
callbacks as they happen; a background Collector snapshots store counts
(executions by status, plans by category, registered workers) into gauges
every 15 seconds. Health, readiness, and liveness handlers report
component state for probes.
*/
package metrics
