package numa

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/raodj/musesim/internal/event"
)

func TestShouldRedistributeThreshold(t *testing.T) {
	require.False(t, ShouldRedistribute(10, 20), "2x recycled is not yet over the threshold")
	require.True(t, ShouldRedistribute(10, 21), "one chunk past 2x is over the threshold")
	require.True(t, ShouldRedistribute(10, 21+1))
}

func TestFractionIsZeroWithOneWorker(t *testing.T) {
	require.Zero(t, Fraction(5, 100, 1))
	require.Zero(t, Fraction(5, 0, 4))
}

func TestFractionMatchesReferenceFormula(t *testing.T) {
	// allocated=10, recycled=100, 5 workers: (100-10)/(5-1)/100 = 0.225
	got := Fraction(10, 100, 5)
	require.InDelta(t, 0.225, got, 1e-9)
}

func TestPlanNoOpBelowThreshold(t *testing.T) {
	r := event.NewRecycler(0, false)
	// 10 allocations outstanding, 5 free: recycled is not > 2x allocated.
	for i := 0; i < 10; i++ {
		r.Allocate(32)
	}
	for i := 0; i < 5; i++ {
		r.Deallocate(make([]byte, 32))
	}
	allocated, recycled := LiveStats(r)
	require.False(t, ShouldRedistribute(allocated, recycled))
	require.Empty(t, Plan(r, 4))
}

func TestPlanRedistributesSurplusEvenly(t *testing.T) {
	r := event.NewRecycler(2, false)
	// 1 Allocate call against 100 Deallocate calls: LiveStats clamps
	// allocated to 0 and counts 100 free chunks of size 16, heavily skewed.
	r.Allocate(16)
	for i := 0; i < 100; i++ {
		r.Deallocate(make([]byte, 16))
	}

	const workerCount = 5
	allocated, recycled := LiveStats(r)
	require.True(t, ShouldRedistribute(allocated, recycled))

	batches := Plan(r, workerCount)
	require.Len(t, batches, workerCount-1, "one batch per peer for a single size")

	var totalShipped int
	for _, b := range batches {
		require.Equal(t, 2, b.NumaID)
		require.Equal(t, 16, b.EntrySize)
		totalShipped += len(b.Chunks)
	}
	require.Equal(t, 100, totalShipped, "with nothing counted as allocated, the 0.25 per-peer share (25 chunks to each of 4 peers) covers the whole free stack")
	require.Equal(t, 100-totalShipped, r.FreeCount(16))
}

func TestApplyImportsChunksIntoFreeStack(t *testing.T) {
	dst := event.NewRecycler(1, false)
	b := Batch{NumaID: 0, EntrySize: 8, Chunks: [][]byte{make([]byte, 8), make([]byte, 8)}}
	Apply(dst, b)
	require.Equal(t, 2, dst.FreeCount(8))
}

func TestBatchWireRoundTrip(t *testing.T) {
	b := Batch{
		NumaID:    3,
		EntrySize: 4,
		Chunks:    [][]byte{{1, 2, 3, 4}, {5, 6, 7, 8}},
	}
	decoded, err := DecodeBatchWire(b.EncodeWire())
	require.NoError(t, err)
	require.Equal(t, b, decoded)
}

func TestDecodeBatchWireRejectsTruncated(t *testing.T) {
	b := Batch{NumaID: 1, EntrySize: 4, Chunks: [][]byte{{1, 2, 3, 4}}}
	buf := b.EncodeWire()
	_, err := DecodeBatchWire(buf[:len(buf)-1])
	require.Error(t, err)
}
