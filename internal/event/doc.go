// Package event implements the kernel's event memory lifecycle (spec
// §4.1, C1): a NUMA-labeled arena allocator for flat event buffers,
// reference counting, clone-on-send, and the deferred-deallocation
// discipline used when events are shared between workers.
//
// A Recycler is owned by exactly one worker (spec §5 "never shared");
// cross-worker movement of free chunks happens only through
// internal/numa's redistribution messages.
package event
