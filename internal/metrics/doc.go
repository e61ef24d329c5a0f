// Package metrics exposes simulation kernel state as Prometheus
// collectors (spec §6, §7), the way the teacher's pkg/metrics registers
// package-level collector vars once and samples application state onto
// them from a ticker-driven Collector. Here the application state is
// per-worker: rollback/anti-message counts, committed GVT, scheduler
// queue depth, and event-arena recycler stats, instead of the teacher's
// cluster/service/container counts.
package metrics
