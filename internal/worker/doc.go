// Package worker implements the optimistic execution loop driving each
// simulation worker (spec §4.6, C6): draining inbound events from both
// transport tiers, detecting and rolling back stragglers, popping and
// delivering simultaneous batches to their agent, and periodically
// kicking off a GVT round and a fossil-collection / NUMA-redistribution
// pass once it commits.
//
// The loop shape — a Start that spawns independent ticker-driven
// goroutines stopped together by a single channel close — is the same
// one the teacher repo uses for its heartbeat and container-executor
// loops; here the tickers drive GVT rounds and recycler redistribution
// instead of heartbeats and container polling, and the hot path is an
// event-popping loop rather than a ticker.
package worker
