// Licensed under the MIT License. See LICENSE file in the project root for details.

// Package reclaim implements the epoch-based memory reclamation core: the
// global epoch, per-goroutine participants, deferred-function bags, and the
// protocol by which a bag becomes eligible for execution as the global
// epoch advances.
//
// # Key Features
//
//   - Wrap-around epoch arithmetic with a pinned/unpinned flag
//   - Fixed-capacity deferred-function bags, sealed at hand-off
//   - A lock-free participant list and MPMC bag queue (see internal/lowlock)
//   - Amortized, best-effort collection triggered from pin/flush
//
// # Thread Safety
//
// Epoch and AtomicEpoch are safe for concurrent use. Bag and Local are not:
// both are single-writer types, mutated only by the goroutine that owns
// them (see Local's doc comment for the exact contract).
package reclaim

import "sync/atomic"

// Epoch is a wrap-around counter with a single low bit reserved to mark the
// epoch as "pinned". The global epoch is always stored unpinned; a
// participant's local epoch may be pinned or unpinned.
type Epoch struct {
	data uint64
}

// StartingEpoch returns the initial, unpinned epoch (value 0).
func StartingEpoch() Epoch {
	return Epoch{}
}

// EpochWithValue returns an epoch with the given raw representation,
// pinned bit included.
func EpochWithValue(v uint64) Epoch {
	return Epoch{data: v}
}

// Raw returns the underlying representation, pinned bit included.
func (e Epoch) Raw() uint64 {
	return e.data
}

// Pinned returns the same epoch, marked pinned.
func (e Epoch) Pinned() Epoch {
	return Epoch{data: e.data | 1}
}

// Unpinned returns the same epoch, marked unpinned.
func (e Epoch) Unpinned() Epoch {
	return Epoch{data: e.data &^ 1}
}

// IsPinned reports whether the epoch is marked pinned.
func (e Epoch) IsPinned() bool {
	return e.data&1 == 1
}

// Successor returns the next epoch. Advancing by two preserves the pinned
// bit of e.
func (e Epoch) Successor() Epoch {
	return Epoch{data: e.data + 2}
}

// WrappingSub returns the signed number of epochs a is ahead of b, ignoring
// b's pinned bit. The result wraps the same way the underlying counter
// does, so it is only meaningful for distances within roughly
// [MinInt64/2, MaxInt64/2].
func WrappingSub(a, b Epoch) int64 {
	masked := b.data &^ 1
	return int64(a.data-masked) >> 1
}

// AtomicEpoch is an atomically-accessed Epoch.
type AtomicEpoch struct {
	v atomic.Uint64
}

// NewAtomicEpoch returns an AtomicEpoch initialized to e.
func NewAtomicEpoch(e Epoch) *AtomicEpoch {
	a := &AtomicEpoch{}
	a.v.Store(e.data)
	return a
}

// Load reads the current value. order is accepted for API fidelity only;
// see the Ordering doc comment.
func (a *AtomicEpoch) Load(order Ordering) Epoch {
	return Epoch{data: a.v.Load()}
}

// Store writes a new value. order is accepted for API fidelity only.
func (a *AtomicEpoch) Store(e Epoch, order Ordering) {
	a.v.Store(e.data)
}

// CompareAndSwap stores next if the current value equals current, using
// order for the success case (the failure case derives its own, weaker
// ordering per strongestFailureOrdering, accepted for fidelity only, see
// Ordering). It returns the previous value and whether the swap took
// place.
func (a *AtomicEpoch) CompareAndSwap(current, next Epoch, order Ordering) (Epoch, bool) {
	_ = strongestFailureOrdering(order)
	swapped := a.v.CompareAndSwap(current.data, next.data)
	if swapped {
		return current, true
	}
	return Epoch{data: a.v.Load()}, false
}
