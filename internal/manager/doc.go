// Package manager implements the Simulation Manager (spec §4.7, C7): it
// parses run configuration, creates the cross-worker transport,
// allocates one internal/worker.Worker per locally-hosted rank,
// partitions agents to workers (round-robin unless an explicit rank is
// requested at registration), starts the workers, waits for them, and
// drives the final sweep once they stop. Agreement on which ranks
// participate and who owns which agent is reached through the
// Raft-backed internal/registry before Simulate begins, the way the
// teacher's manager.Bootstrap/Join agree on cluster membership before
// the scheduler starts placing tasks.
package manager
