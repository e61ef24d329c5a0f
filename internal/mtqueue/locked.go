package mtqueue

import (
	"sync"

	"github.com/raodj/musesim/internal/syncutil"
	"github.com/raodj/musesim/internal/types"
)

// locker is satisfied by both sync.Mutex and syncutil.SpinLock, which
// lets lockedQueue share one implementation between the "single
// mutex" and "single spin lock" tier-1 variants.
type locker interface {
	Lock()
	Unlock()
}

// lockedQueue is a ring buffer protected by a single lock, shared by
// the mutex and spin-lock tier-1 variants (spec §4.4: "single
// mutex-protected queue" / "single spin-lock-protected queue").
type lockedQueue struct {
	lock  locker
	buf   []*types.Event
	head  int
	count int
}

func newLockedQueue(capacity int, spin bool) *lockedQueue {
	var l locker
	if spin {
		l = &syncutil.SpinLock{}
	} else {
		l = &sync.Mutex{}
	}
	return &lockedQueue{
		lock: l,
		buf:  make([]*types.Event, capacity),
	}
}

func (q *lockedQueue) Push(e *types.Event) bool {
	q.lock.Lock()
	defer q.lock.Unlock()
	return q.pushLocked(e)
}

func (q *lockedQueue) pushLocked(e *types.Event) bool {
	if q.count == len(q.buf) {
		return false
	}
	tail := (q.head + q.count) % len(q.buf)
	q.buf[tail] = e
	q.count++
	return true
}

func (q *lockedQueue) PushBatch(events []*types.Event) (accepted int) {
	q.lock.Lock()
	defer q.lock.Unlock()
	for _, e := range events {
		if !q.pushLocked(e) {
			break
		}
		accepted++
	}
	return accepted
}

func (q *lockedQueue) DrainUpTo(max int) []*types.Event {
	q.lock.Lock()
	defer q.lock.Unlock()

	n := q.count
	if max > 0 && max < n {
		n = max
	}
	if n == 0 {
		return nil
	}
	out := make([]*types.Event, n)
	for i := 0; i < n; i++ {
		idx := (q.head + i) % len(q.buf)
		out[i] = q.buf[idx]
		q.buf[idx] = nil
	}
	q.head = (q.head + n) % len(q.buf)
	q.count -= n
	return out
}

func (q *lockedQueue) Len() int {
	q.lock.Lock()
	defer q.lock.Unlock()
	return q.count
}

func (q *lockedQueue) Cap() int { return len(q.buf) }
