package mtqueue

import (
	"github.com/raodj/musesim/internal/types"
)

// Queue is a bounded, producer-many / consumer-one queue of events
// (spec §4.4 tier 1). Push returns false when the queue is full; the
// spec's bounded lock-free variant requires callers to retry rather
// than block, so every implementation shares that contract.
type Queue interface {
	// Push enqueues e, returning false if the queue is currently full.
	Push(e *types.Event) bool
	// PushBatch enqueues as many of events as fit, returning the count
	// actually accepted; the caller must retry the remainder.
	PushBatch(events []*types.Event) (accepted int)
	// DrainUpTo removes and returns at most max queued events in FIFO
	// order (per shard for the sharded kind). max <= 0 means unbounded
	// (drain everything pending).
	DrainUpTo(max int) []*types.Event
	// Len reports the number of events currently queued. It is a
	// snapshot only; concurrent producers may invalidate it instantly.
	Len() int
	// Cap reports the queue's fixed capacity.
	Cap() int
}

// Kind selects one of the four interchangeable tier-1 implementations.
type Kind int

const (
	KindMutex Kind = iota
	KindSpin
	KindSharded
	KindLockFree
)

// New creates a Queue of the given kind and capacity. Sharded queues
// additionally take a shard count; it is ignored for the other kinds.
func New(kind Kind, capacity, shards int) Queue {
	switch kind {
	case KindSpin:
		return newLockedQueue(capacity, true)
	case KindSharded:
		return newShardedQueue(capacity, shards)
	case KindLockFree:
		return newLockFreeQueue(capacity)
	default:
		return newLockedQueue(capacity, false)
	}
}
