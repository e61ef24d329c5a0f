package mtqueue

import (
	"sync/atomic"

	"github.com/raodj/musesim/internal/types"
)

// lockFreeQueue is a bounded multi-producer / single-consumer ring
// buffer built on per-slot sequence counters (the classic Vyukov
// bounded queue), giving the "multiple lock-free bounded sub-queues"
// tier-1 variant (spec §4.4) without any mutex or spin lock on the
// fast path. Producers that find a full slot must retry, matching the
// spec's "bounded lock-free variants retry on full".
type lockFreeQueue struct {
	mask int64
	buf  []lockFreeSlot

	enqueuePos atomic.Int64
	dequeuePos atomic.Int64
}

type lockFreeSlot struct {
	seq   atomic.Int64
	event *types.Event
}

func newLockFreeQueue(capacity int) *lockFreeQueue {
	size := nextPowerOfTwo(capacity)
	q := &lockFreeQueue{
		mask: int64(size - 1),
		buf:  make([]lockFreeSlot, size),
	}
	for i := range q.buf {
		q.buf[i].seq.Store(int64(i))
	}
	return q
}

func nextPowerOfTwo(n int) int {
	if n < 1 {
		return 1
	}
	p := 1
	for p < n {
		p *= 2
	}
	return p
}

// Push attempts to enqueue e without blocking, returning false if the
// ring is currently full.
func (q *lockFreeQueue) Push(e *types.Event) bool {
	pos := q.enqueuePos.Load()
	for {
		slot := &q.buf[pos&q.mask]
		seq := slot.seq.Load()
		diff := seq - pos
		switch {
		case diff == 0:
			if q.enqueuePos.CompareAndSwap(pos, pos+1) {
				slot.event = e
				slot.seq.Store(pos + 1)
				return true
			}
			pos = q.enqueuePos.Load()
		case diff < 0:
			return false // full
		default:
			pos = q.enqueuePos.Load()
		}
	}
}

func (q *lockFreeQueue) PushBatch(events []*types.Event) (accepted int) {
	for _, e := range events {
		if !q.Push(e) {
			break
		}
		accepted++
	}
	return accepted
}

// pop removes and returns one event, or (nil, false) if empty. Only
// safe to call from the single designated consumer.
func (q *lockFreeQueue) pop() (*types.Event, bool) {
	pos := q.dequeuePos.Load()
	slot := &q.buf[pos&q.mask]
	seq := slot.seq.Load()
	diff := seq - (pos + 1)
	if diff != 0 {
		return nil, false
	}
	e := slot.event
	slot.event = nil
	slot.seq.Store(pos + int64(len(q.buf)))
	q.dequeuePos.Store(pos + 1)
	return e, true
}

func (q *lockFreeQueue) DrainUpTo(max int) []*types.Event {
	var out []*types.Event
	for max <= 0 || len(out) < max {
		e, ok := q.pop()
		if !ok {
			break
		}
		out = append(out, e)
	}
	return out
}

func (q *lockFreeQueue) Len() int {
	enq := q.enqueuePos.Load()
	deq := q.dequeuePos.Load()
	if enq < deq {
		return 0
	}
	return int(enq - deq)
}

func (q *lockFreeQueue) Cap() int { return len(q.buf) }
