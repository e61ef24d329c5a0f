// Package numa implements the kernel's NUMA recycling redistribution
// pass (spec §4.8, C8): periodically comparing how many buffers a
// worker's event.Recycler has allocated against how many sit idle on
// its free stacks, and shipping the surplus to peer workers when the
// skew crosses a threshold.
//
// Go has no portable user-space NUMA affinity API, so "NUMA node" here
// is the logical partition label event.Recycler already uses, not a
// real memory-placement hint (see DESIGN.md).
package numa
