package mtqueue

import (
	"github.com/raodj/musesim/internal/types"
)

// shardedQueue fans events out across multiple sub-queues keyed by a
// bit mask over the receiver id (spec §4.4: "multiple sub-queues
// sharded by receiver id bit-mask"). The mask is the largest power of
// two <= the requested shard count, matching the spec's sharding rule.
// Each shard is itself a lockedQueue, so this variant composes the
// "single lock" implementation rather than duplicating it.
type shardedQueue struct {
	shards []*lockedQueue
	mask   uint32
}

func newShardedQueue(capacity, shardCount int) *shardedQueue {
	if shardCount < 1 {
		shardCount = 1
	}
	n := largestPowerOfTwoAtMost(shardCount)
	perShardCap := capacity / n
	if perShardCap < 1 {
		perShardCap = 1
	}
	shards := make([]*lockedQueue, n)
	for i := range shards {
		shards[i] = newLockedQueue(perShardCap, false)
	}
	return &shardedQueue{shards: shards, mask: uint32(n - 1)}
}

func largestPowerOfTwoAtMost(n int) int {
	p := 1
	for p*2 <= n {
		p *= 2
	}
	return p
}

func (q *shardedQueue) shardFor(e *types.Event) *lockedQueue {
	return q.shards[uint32(e.Receiver)&q.mask]
}

func (q *shardedQueue) Push(e *types.Event) bool {
	return q.shardFor(e).Push(e)
}

func (q *shardedQueue) PushBatch(events []*types.Event) (accepted int) {
	for _, e := range events {
		if !q.Push(e) {
			break
		}
		accepted++
	}
	return accepted
}

// DrainUpTo drains round-robin across shards, one event per shard per
// pass, so that no single busy shard starves the others when max bounds
// the batch size. Order is FIFO within each shard.
func (q *shardedQueue) DrainUpTo(max int) []*types.Event {
	var out []*types.Event
	for max <= 0 || len(out) < max {
		progressed := false
		for _, s := range q.shards {
			if max > 0 && len(out) >= max {
				break
			}
			if got := s.DrainUpTo(1); len(got) > 0 {
				out = append(out, got...)
				progressed = true
			}
		}
		if !progressed {
			break
		}
	}
	return out
}

func (q *shardedQueue) Len() int {
	total := 0
	for _, s := range q.shards {
		total += s.Len()
	}
	return total
}

func (q *shardedQueue) Cap() int {
	total := 0
	for _, s := range q.shards {
		total += s.Cap()
	}
	return total
}
