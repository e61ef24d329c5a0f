package syncutil

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBarrierReleasesAllParties(t *testing.T) {
	const n = 8
	b := NewBarrier(n)
	var arrived atomic.Int32
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			arrived.Add(1)
			b.Wait()
			// By the time Wait returns, every party must have arrived.
			require.Equal(t, int32(n), arrived.Load())
		}()
	}
	wg.Wait()
}

func TestBarrierIsReusable(t *testing.T) {
	const n = 4
	b := NewBarrier(n)
	for round := 0; round < 3; round++ {
		var wg sync.WaitGroup
		wg.Add(n)
		for i := 0; i < n; i++ {
			go func() {
				defer wg.Done()
				b.Wait()
			}()
		}
		wg.Wait()
	}
}

func TestSpinLockMutualExclusion(t *testing.T) {
	var lock SpinLock
	counter := 0
	var wg sync.WaitGroup
	const goroutines = 50
	const iterations = 200
	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < iterations; j++ {
				lock.Lock()
				counter++
				lock.Unlock()
			}
		}()
	}
	wg.Wait()
	require.Equal(t, goroutines*iterations, counter)
}
