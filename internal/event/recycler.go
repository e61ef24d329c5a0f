package event

import (
	"sync"
	"sync/atomic"

	"github.com/raodj/musesim/internal/types"
)

// Stats mirrors the per-node counters the original NUMA memory manager
// reports: how many allocations were served from the free stack versus
// carved fresh, and how many explicit deallocations happened.
type Stats struct {
	AllocCalls   int64
	DeallocCalls int64
	RecycleHits  int64
}

// chunk is a free payload buffer of a known size, parked on a Recycler's
// per-size free stack pending reuse.
type chunk struct {
	buf []byte
}

// Recycler is the per-worker event memory manager (spec §4.1, C1). It
// keeps one free stack of byte slices per (payload size) and serves
// Allocate out of that stack before ever carving a new buffer, exactly
// as the reference NUMA memory manager prefers its recycler map over a
// fresh numa_alloc_onnode. Go has no portable user-space NUMA
// affinity API, so NumaNode here is a logical partition label used only
// to keep each worker's free lists separate and to address
// internal/numa redistribution messages — not a real memory-placement
// hint (see DESIGN.md).
type Recycler struct {
	numaNode int
	shared   bool

	free map[int][]chunk

	pendingMu sync.Mutex
	pending   []*types.Event

	stats Stats
}

// NewRecycler creates a Recycler for the given logical NUMA node. When
// shared is true, events handed out by this recycler may be retained by
// other goroutines, so Release defers freeing until the reference count
// provably reaches zero (spec §4.1 "deferred deallocation").
func NewRecycler(numaNode int, shared bool) *Recycler {
	return &Recycler{
		numaNode: numaNode,
		shared:   shared,
		free:     make(map[int][]chunk),
	}
}

// NumaNode reports the logical node this recycler serves.
func (r *Recycler) NumaNode() int { return r.numaNode }

// Stats returns a snapshot of the allocation counters.
func (r *Recycler) Stats() Stats {
	return Stats{
		AllocCalls:   atomic.LoadInt64(&r.stats.AllocCalls),
		DeallocCalls: atomic.LoadInt64(&r.stats.DeallocCalls),
		RecycleHits:  atomic.LoadInt64(&r.stats.RecycleHits),
	}
}

// Allocate returns a zeroed buffer of exactly size bytes, reusing a
// previously deallocated buffer of the same size when one is available.
func (r *Recycler) Allocate(size int) []byte {
	atomic.AddInt64(&r.stats.AllocCalls, 1)
	stack := r.free[size]
	if n := len(stack); n > 0 {
		c := stack[n-1]
		r.free[size] = stack[:n-1]
		atomic.AddInt64(&r.stats.RecycleHits, 1)
		for i := range c.buf {
			c.buf[i] = 0
		}
		return c.buf
	}
	return make([]byte, size)
}

// Deallocate returns buf to the free stack for its size so a future
// Allocate of the same size can reuse it.
func (r *Recycler) Deallocate(buf []byte) {
	atomic.AddInt64(&r.stats.DeallocCalls, 1)
	size := len(buf)
	r.free[size] = append(r.free[size], chunk{buf: buf})
}

// CloneForSend produces a private copy of e suitable for handing to a
// receiver on numaNode, allocating its payload from the free stack when
// possible. The source event e is left untouched.
func (r *Recycler) CloneForSend(e *types.Event, numaNode int) *types.Event {
	clone := *e
	clone.Payload = r.Allocate(len(e.Payload))
	copy(clone.Payload, e.Payload)
	clone.RefCount = 1
	clone.NumaNode = numaNode
	return &clone
}

// Retain increments e's reference count. Only meaningful when this
// recycler was constructed with shared=true.
func (r *Recycler) Retain(e *types.Event) {
	atomic.AddInt32(&e.RefCount, 1)
}

// Release decrements e's reference count. When the count reaches zero:
// in non-shared mode the payload is freed immediately; in shared mode
// the event is queued for the next ScanPending pass so that a
// concurrent reader racing the last Release cannot observe a freed
// buffer (spec §4.1 "deferred deallocation discipline").
func (r *Recycler) Release(e *types.Event) {
	if atomic.AddInt32(&e.RefCount, -1) > 0 {
		return
	}
	if !r.shared {
		r.Deallocate(e.Payload)
		return
	}
	r.pendingMu.Lock()
	r.pending = append(r.pending, e)
	r.pendingMu.Unlock()
}

// ScanPending walks the deferred-deallocation list built up by Release
// and reclaims every event whose reference count is still zero. Events
// that were re-retained since being queued (RefCount > 0) stay on the
// list without being freed and are checked again on the next scan. It
// returns how many buffers were reclaimed and how many remain queued.
func (r *Recycler) ScanPending() (reclaimed, remaining int) {
	r.pendingMu.Lock()
	pending := r.pending
	r.pending = nil
	r.pendingMu.Unlock()

	kept := pending[:0]
	for _, e := range pending {
		if atomic.LoadInt32(&e.RefCount) <= 0 {
			r.Deallocate(e.Payload)
			reclaimed++
		} else {
			kept = append(kept, e)
		}
	}
	if len(kept) > 0 {
		r.pendingMu.Lock()
		r.pending = append(kept, r.pending...)
		r.pendingMu.Unlock()
	}
	return reclaimed, len(kept)
}

// PendingCount reports how many events are currently parked on the
// deferred-deallocation list, for metrics and redistribution decisions.
func (r *Recycler) PendingCount() int {
	r.pendingMu.Lock()
	defer r.pendingMu.Unlock()
	return len(r.pending)
}

// FreeCount reports how many buffers of the given size currently sit on
// the free stack, used by internal/numa to size a redistribution batch.
func (r *Recycler) FreeCount(size int) int {
	return len(r.free[size])
}

// TakeFree removes up to n buffers of the given size from the free
// stack for redistribution to another worker's recycler, returning
// however many were actually available.
func (r *Recycler) TakeFree(size, n int) [][]byte {
	stack := r.free[size]
	if n > len(stack) {
		n = len(stack)
	}
	if n == 0 {
		return nil
	}
	taken := make([][]byte, n)
	for i := 0; i < n; i++ {
		taken[i] = stack[len(stack)-1-i].buf
	}
	r.free[size] = stack[:len(stack)-n]
	return taken
}

// Import adds externally-sourced buffers to the free stack for the
// given size, used when accepting a redistribution batch from a peer
// worker's recycler.
func (r *Recycler) Import(size int, bufs [][]byte) {
	for _, b := range bufs {
		r.free[size] = append(r.free[size], chunk{buf: b})
	}
}

// FreeSizes returns the distinct payload sizes currently tracked on the
// free stack, used by internal/numa to iterate redistribution batches.
func (r *Recycler) FreeSizes() []int {
	sizes := make([]int, 0, len(r.free))
	for size, stack := range r.free {
		if len(stack) > 0 {
			sizes = append(sizes, size)
		}
	}
	return sizes
}
