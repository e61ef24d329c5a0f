package numa

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/raodj/musesim/internal/event"
)

// Batch is the Go analogue of the reference kernel's RedistributionMessage:
// a NUMA node id, the size of every chunk it carries, and the chunks
// themselves, destined for one peer worker's recycler.
type Batch struct {
	NumaID    int
	EntrySize int
	Chunks    [][]byte
}

// EncodeWire serializes a Batch as numa_id:i32, entry_size:i32,
// count:i32 followed by count*entry_size bytes of chunk payloads, for
// transmission over internal/transport tagged with
// types.KindRedistribution.
func (b Batch) EncodeWire() []byte {
	buf := make([]byte, 12+len(b.Chunks)*b.EntrySize)
	binary.BigEndian.PutUint32(buf[0:4], uint32(b.NumaID))
	binary.BigEndian.PutUint32(buf[4:8], uint32(b.EntrySize))
	binary.BigEndian.PutUint32(buf[8:12], uint32(len(b.Chunks)))
	off := 12
	for _, c := range b.Chunks {
		copy(buf[off:off+b.EntrySize], c)
		off += b.EntrySize
	}
	return buf
}

// DecodeBatchWire is the inverse of Batch.EncodeWire.
func DecodeBatchWire(buf []byte) (Batch, error) {
	if len(buf) < 12 {
		return Batch{}, fmt.Errorf("numa: short redistribution batch: got %d bytes, need at least 12", len(buf))
	}
	numaID := int(int32(binary.BigEndian.Uint32(buf[0:4])))
	entrySize := int(binary.BigEndian.Uint32(buf[4:8]))
	count := int(binary.BigEndian.Uint32(buf[8:12]))
	need := 12 + count*entrySize
	if len(buf) < need {
		return Batch{}, fmt.Errorf("numa: short redistribution chunks: got %d bytes, need %d", len(buf), need)
	}
	chunks := make([][]byte, count)
	off := 12
	for i := 0; i < count; i++ {
		chunks[i] = append([]byte(nil), buf[off:off+entrySize]...)
		off += entrySize
	}
	return Batch{NumaID: numaID, EntrySize: entrySize, Chunks: chunks}, nil
}

// LiveStats derives the currently-allocated (in-use) and currently-free
// (recycled) chunk counts from a recycler's running counters: allocated
// is the net of allocate/deallocate calls not already sitting on a free
// stack, recycled is the sum of every free stack's length.
func LiveStats(r *event.Recycler) (allocated, recycled int64) {
	for _, size := range r.FreeSizes() {
		recycled += int64(r.FreeCount(size))
	}
	s := r.Stats()
	allocated = s.AllocCalls - s.DeallocCalls
	if allocated < 0 {
		allocated = 0
	}
	return allocated, recycled
}

// ShouldRedistribute reports whether the free-chunk surplus is large
// enough to justify a redistribution pass. It mirrors the reference
// NUMA memory manager's guard: only act once recycled chunks outnumber
// allocated chunks by more than 2x.
func ShouldRedistribute(allocated, recycled int64) bool {
	return recycled > 2*allocated
}

// Fraction computes what share of each free stack should be shipped to
// each of the other (workerCount-1) workers, per the reference
// redistribute() formula: (recycled-allocated)/(workerCount-1)/recycled.
func Fraction(allocated, recycled int64, workerCount int) float64 {
	if workerCount <= 1 || recycled == 0 {
		return 0
	}
	return float64(recycled-allocated) / float64(workerCount-1) / float64(recycled)
}

// Plan computes the set of redistribution batches worker should send to
// its workerCount-1 peers this round, one batch per (peer, size) pair
// with a non-empty share. It consumes the shipped chunks from r's free
// stacks via Recycler.TakeFree. Callers are responsible for addressing
// and delivering each returned batch to a distinct peer; batches appear
// in round-robin order across sizes so an even split across peers is
// achieved by handing batches out in the order returned.
func Plan(r *event.Recycler, workerCount int) []Batch {
	allocated, recycled := LiveStats(r)
	if workerCount <= 1 || !ShouldRedistribute(allocated, recycled) {
		return nil
	}
	fraction := Fraction(allocated, recycled, workerCount)
	if fraction <= 0 {
		return nil
	}

	var batches []Batch
	for _, size := range r.FreeSizes() {
		free := r.FreeCount(size)
		perPeer := int(math.Ceil(fraction * float64(free)))
		if perPeer <= 0 {
			continue
		}
		for peer := 0; peer < workerCount-1; peer++ {
			taken := r.TakeFree(size, perPeer)
			if len(taken) == 0 {
				break
			}
			batches = append(batches, Batch{
				NumaID:    r.NumaNode(),
				EntrySize: size,
				Chunks:    taken,
			})
		}
	}
	return batches
}

// Apply imports a received batch's chunks into r's free stack for their
// size, making them available to the next Allocate of that size.
func Apply(r *event.Recycler, b Batch) {
	r.Import(b.EntrySize, b.Chunks)
}
