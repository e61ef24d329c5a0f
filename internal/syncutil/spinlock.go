package syncutil

import (
	"runtime"
	"sync/atomic"
)

// SpinLock is a busy-wait mutual-exclusion lock, adapted from the
// kernel's original std::atomic-based spin lock. It trades CPU cycles
// for lower latency on very short critical sections under high
// contention; callers holding it for anything longer than a handful of
// instructions should use sync.Mutex instead.
type SpinLock struct {
	state atomic.Bool // false = unlocked, true = locked
}

// Lock busy-waits (yielding the processor between attempts) until the
// lock is acquired.
func (s *SpinLock) Lock() {
	for !s.state.CompareAndSwap(false, true) {
		runtime.Gosched()
	}
}

// Unlock releases the lock. The caller must hold it.
func (s *SpinLock) Unlock() {
	s.state.Store(false)
}

// TryLock attempts to acquire the lock without blocking.
func (s *SpinLock) TryLock() bool {
	return s.state.CompareAndSwap(false, true)
}
