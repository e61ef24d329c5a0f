package schedq

import (
	"container/heap"

	"github.com/raodj/musesim/internal/types"
)

// eventKey identifies the positive/anti-message pair for annihilation:
// two events with the same key are the same logical send, one carrying
// AntiMessage=false and the other true.
type eventKey struct {
	sender, receiver types.AgentID
	sendTime         types.Time
	receiveTime      types.Time
}

func keyOf(e *types.Event) eventKey {
	return eventKey{e.Sender, e.Receiver, e.SendTime, e.ReceiveTime}
}

// Queue is a per-worker binary min-heap of live events (spec §4.3, C3),
// ordered by types.Event.Less. It tracks a side index from logical
// event identity to heap position so a freshly-arrived anti-message (or
// positive event) can find and annihilate its counterpart in O(log n)
// instead of a linear scan.
type Queue struct {
	items []*types.Event
	index map[eventKey]int
}

// NewQueue creates an empty scheduler queue.
func NewQueue() *Queue {
	return &Queue{index: make(map[eventKey]int)}
}

// Len, Less, Swap, Push and Pop implement container/heap.Interface.
func (q *Queue) Len() int { return len(q.items) }

func (q *Queue) Less(i, j int) bool { return q.items[i].Less(q.items[j]) }

func (q *Queue) Swap(i, j int) {
	q.items[i], q.items[j] = q.items[j], q.items[i]
	q.index[keyOf(q.items[i])] = i
	q.index[keyOf(q.items[j])] = j
}

func (q *Queue) Push(x any) {
	e := x.(*types.Event)
	q.index[keyOf(e)] = len(q.items)
	q.items = append(q.items, e)
}

func (q *Queue) Pop() any {
	n := len(q.items)
	e := q.items[n-1]
	q.items[n-1] = nil
	q.items = q.items[:n-1]
	delete(q.index, keyOf(e))
	return e
}

// Insert places e into the queue, or — if its positive/anti-message
// counterpart is already queued — annihilates both without inserting
// anything (spec §4.3 "both annihilate and are not delivered"). It
// returns true if annihilation occurred.
func (q *Queue) Insert(e *types.Event) (annihilated bool) {
	key := keyOf(e)
	if idx, ok := q.index[key]; ok {
		existing := q.items[idx]
		if existing.AntiMessage != e.AntiMessage {
			heap.Remove(q, idx)
			return true
		}
	}
	heap.Push(q, e)
	return false
}

// PeekMin returns the minimum-receive-time event without removing it.
func (q *Queue) PeekMin() (*types.Event, bool) {
	if len(q.items) == 0 {
		return nil, false
	}
	return q.items[0], true
}

// PopBatchForMinAgent pops every event sharing the minimum receive_time
// and destined for the same receiver as the current minimum event,
// returning them as a simultaneous batch to be delivered atomically
// (spec §4.3). Events at the same receive_time addressed to other
// agents are left in the queue.
func (q *Queue) PopBatchForMinAgent() []*types.Event {
	if len(q.items) == 0 {
		return nil
	}
	receiveTime := q.items[0].ReceiveTime
	receiver := q.items[0].Receiver

	var batch, others []*types.Event
	for len(q.items) > 0 && q.items[0].ReceiveTime == receiveTime {
		e := heap.Pop(q).(*types.Event)
		if e.Receiver == receiver {
			batch = append(batch, e)
		} else {
			others = append(others, e)
		}
	}
	for _, e := range others {
		heap.Push(q, e)
	}
	return batch
}

// FossilCollect drops any event still resident in the live queue whose
// receive_time has fallen behind gvt without being delivered — stale
// weight that can no longer affect a rollback — and hands each dropped
// event's payload back to release, typically event.Recycler.Deallocate
// (via a closure adapting the call, since schedq must not import
// event to avoid a dependency cycle with the worker that owns both).
func (q *Queue) FossilCollect(gvt types.Time, release func(*types.Event)) (dropped int) {
	kept := q.items[:0]
	for _, e := range q.items {
		if e.ReceiveTime < gvt {
			if release != nil {
				release(e)
			}
			delete(q.index, keyOf(e))
			dropped++
			continue
		}
		kept = append(kept, e)
	}
	q.items = kept
	for i, e := range q.items {
		q.index[keyOf(e)] = i
	}
	heap.Init(q)
	return dropped
}
