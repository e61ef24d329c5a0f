package mtqueue

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/raodj/musesim/internal/types"
)

func allKinds() map[string]func() Queue {
	return map[string]func() Queue{
		"mutex":    func() Queue { return New(KindMutex, 8, 0) },
		"spin":     func() Queue { return New(KindSpin, 8, 0) },
		"sharded":  func() Queue { return New(KindSharded, 8, 4) },
		"lockfree": func() Queue { return New(KindLockFree, 8, 0) },
	}
}

func TestPushDrainFIFOAcrossAllKinds(t *testing.T) {
	for name, factory := range allKinds() {
		t.Run(name, func(t *testing.T) {
			q := factory()
			for i := 0; i < 5; i++ {
				require.True(t, q.Push(&types.Event{Receiver: types.AgentID(i), Seq: uint64(i)}))
			}
			drained := q.DrainUpTo(0)
			require.Len(t, drained, 5)
			for i, e := range drained {
				require.Equal(t, uint64(i), e.Seq)
			}
		})
	}
}

func TestPushFailsWhenFullAcrossAllKinds(t *testing.T) {
	for name, factory := range allKinds() {
		t.Run(name, func(t *testing.T) {
			q := factory()
			capacity := q.Cap()
			for i := 0; i < capacity; i++ {
				require.True(t, q.Push(&types.Event{Receiver: types.AgentID(i)}))
			}
			require.False(t, q.Push(&types.Event{Receiver: 0}), "queue at capacity must reject further pushes")
		})
	}
}

func TestDrainUpToRespectsMaxAcrossAllKinds(t *testing.T) {
	for name, factory := range allKinds() {
		t.Run(name, func(t *testing.T) {
			q := factory()
			for i := 0; i < 6; i++ {
				require.True(t, q.Push(&types.Event{Receiver: types.AgentID(i)}))
			}
			first := q.DrainUpTo(2)
			require.Len(t, first, 2)
			rest := q.DrainUpTo(0)
			require.Len(t, rest, 4)
		})
	}
}

func TestPushBatchStopsAtCapacityAcrossAllKinds(t *testing.T) {
	for name, factory := range allKinds() {
		t.Run(name, func(t *testing.T) {
			q := factory()
			capacity := q.Cap()
			events := make([]*types.Event, capacity+3)
			for i := range events {
				events[i] = &types.Event{Receiver: types.AgentID(i)}
			}
			accepted := q.PushBatch(events)
			require.Equal(t, capacity, accepted)
		})
	}
}

func TestConcurrentProducersSingleConsumer(t *testing.T) {
	for name, factory := range allKinds() {
		t.Run(name, func(t *testing.T) {
			q := factory()
			const producers = 8
			const perProducer = 200

			var wg sync.WaitGroup
			wg.Add(producers)
			for p := 0; p < producers; p++ {
				go func(p int) {
					defer wg.Done()
					for i := 0; i < perProducer; i++ {
						for !q.Push(&types.Event{Receiver: types.AgentID(p)}) {
							// bounded queue: retry on full, per spec.
						}
					}
				}(p)
			}

			total := 0
			done := make(chan struct{})
			go func() {
				for total < producers*perProducer {
					total += len(q.DrainUpTo(0))
				}
				close(done)
			}()

			wg.Wait()
			<-done
			require.Equal(t, producers*perProducer, total)
		})
	}
}

func TestShardedQueueRoutesByReceiverBitmask(t *testing.T) {
	q := New(KindSharded, 32, 4).(*shardedQueue)
	require.Len(t, q.shards, 4)

	a := &types.Event{Receiver: 0}
	b := &types.Event{Receiver: 4} // same shard as receiver 0 under mask 3
	require.True(t, q.Push(a))
	require.True(t, q.Push(b))
	require.Equal(t, 2, q.shardFor(a).Len())
}

func TestLargestPowerOfTwoAtMost(t *testing.T) {
	require.Equal(t, 1, largestPowerOfTwoAtMost(1))
	require.Equal(t, 2, largestPowerOfTwoAtMost(3))
	require.Equal(t, 4, largestPowerOfTwoAtMost(4))
	require.Equal(t, 4, largestPowerOfTwoAtMost(7))
	require.Equal(t, 8, largestPowerOfTwoAtMost(8))
}
