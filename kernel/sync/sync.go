// Package sync provides the synchronization primitives that are usable before
// the scheduler exists: a bounded spin-wait, a one-way publication flag and a
// spinlock.
package sync

import (
	"smpos/kernel/cpu"
	"sync/atomic"
)

// relaxFn is invoked by Spinlock.Acquire between attempts.
var relaxFn = cpu.Pause

// SpinWait describes a busy-wait loop. The zero value spins forever and does
// nothing between polls.
type SpinWait struct {
	// Limit is the maximum number of polls before Until gives up. A zero
	// Limit never gives up.
	Limit uint64

	// Relax is invoked between polls. On hardware it issues a PAUSE; tests
	// use it to advance a simulated clock.
	Relax func()
}

// Until polls cond until it returns true and reports whether it did. Until
// returns false only if Limit is non-zero and was exhausted.
func (s SpinWait) Until(cond func() bool) bool {
	for polls := uint64(0); ; polls++ {
		if cond() {
			return true
		}

		if s.Limit != 0 && polls >= s.Limit {
			return false
		}

		if s.Relax != nil {
			s.Relax()
		}
	}
}

// Flag is a set-once boolean with release/acquire semantics: any write made
// before Set is visible to a reader that observes IsSet returning true.
type Flag struct {
	state uint32
}

// Set raises the flag. Calling Set more than once has no further effect.
func (f *Flag) Set() {
	atomic.StoreUint32(&f.state, 1)
}

// IsSet returns true once Set has been called.
func (f *Flag) IsSet() bool {
	return atomic.LoadUint32(&f.state) == 1
}

// TrySet raises the flag and returns true if this call was the one that
// raised it.
func (f *Flag) TrySet() bool {
	return atomic.CompareAndSwapUint32(&f.state, 0, 1)
}

// Reset lowers the flag. It exists so that tests and simulators can run
// several bring-up sequences in a single process.
func (f *Flag) Reset() {
	atomic.StoreUint32(&f.state, 0)
}

// Spinlock implements a lock where each CPU trying to acquire it busy-waits
// till the lock becomes available. The zero value is an unlocked Spinlock.
type Spinlock struct {
	state uint32
}

// Acquire blocks until the lock can be acquired. Any attempt to re-acquire a
// lock already held by the current CPU will cause a deadlock.
func (l *Spinlock) Acquire() {
	for !l.TryToAcquire() {
		for atomic.LoadUint32(&l.state) != 0 {
			relaxFn()
		}
	}
}

// TryToAcquire attempts to acquire the lock and returns true if the lock could
// be acquired or false otherwise.
func (l *Spinlock) TryToAcquire() bool {
	return atomic.SwapUint32(&l.state, 1) == 0
}

// Release relinquishes a held lock allowing other CPUs to acquire it. Calling
// Release while the lock is free has no effect.
func (l *Spinlock) Release() {
	atomic.StoreUint32(&l.state, 0)
}
