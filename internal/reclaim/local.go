// Licensed under the MIT License. See LICENSE file in the project root for details.

package reclaim

import "github.com/kianostad/goepoch/internal/lowlock"

// Local is a single participant's state: its view of the epoch, its
// thread-local bag of deferred functions, and the counters that track how
// many guards and handles currently keep it pinned or alive.
//
// # Single-writer contract
//
// guardCount, handleCount, pinCount and deferreds are mutated only by the
// goroutine that owns this Local, the one holding its LocalHandle. Unlike
// the source language, Go has no implicit thread-local storage, so there is
// no way to enforce this automatically: a goroutine that registers a
// handle and hands it to another goroutine while still using it violates
// this contract, exactly as the source's own concurrency model requires
// (see spec §5). localEpoch is the only field read across goroutines (by
// Global.TryAdvance's list iteration) and is therefore atomic.
type Local struct {
	entry       *lowlock.Entry[*Local]
	localEpoch  AtomicEpoch
	global      *Global
	deferreds   *Bag
	bagCapacity int

	guardCount              uint64
	handleCount             uint64
	pinCount                uint64
	pinningsBetweenCollect  uint64
}

// NewLocal allocates a participant against global, registers it in the
// participant list, and returns it with handleCount already at 1, the
// handle register creates for its caller. It does not go through
// AcquireHandle, which requires an existing handle to extend from.
func NewLocal(global *Global, bagCapacity int, pinningsBetweenCollect uint64) *Local {
	if pinningsBetweenCollect == 0 {
		pinningsBetweenCollect = DefaultPinningsBetweenCollect
	}
	l := &Local{
		global:                 global,
		deferreds:              NewBag(bagCapacity),
		bagCapacity:            bagCapacity,
		handleCount:            1,
		pinningsBetweenCollect: pinningsBetweenCollect,
	}
	l.entry = global.registerLocal(l)
	return l
}

// Global returns the shared state this participant is registered against.
func (l *Local) Global() *Global {
	return l.global
}

// Epoch returns the participant's current local epoch.
func (l *Local) Epoch() Epoch {
	return l.localEpoch.Load(Acquire)
}

// IsPinned reports whether this participant currently holds any guard.
func (l *Local) IsPinned() bool {
	return l.guardCount > 0
}

// pin is the raw pinning operation shared by Pin and RepinAfter's restore
// step: it does not allocate a Guard, it only updates counters and, on the
// outermost pin, the local epoch.
func (l *Local) pin() {
	c := l.guardCount
	l.guardCount = c + 1
	if c == 0 {
		g := l.global.globalEpoch.Load(Relaxed)
		// seq_cst: this store must form a total order with the seq_cst
		// loads try_advance performs while iterating the participant
		// list, per the standard EBR correctness argument (Fraser).
		l.localEpoch.Store(g.Pinned(), SeqCst)
		l.pinCount++
		if l.pinCount%l.pinningsBetweenCollect == 0 {
			l.global.Collect()
		}
	}
}

// Pin pins the participant and returns a token proving it. Reentrant: a
// second Pin on an already-pinned participant just bumps guardCount, it
// does not touch the local epoch.
func (l *Local) Pin() *Local {
	l.pin()
	return l
}

// unpin is the raw unpinning operation shared by Unpin and RepinAfter's
// temporary-release step.
func (l *Local) unpin() {
	l.guardCount--
	if l.guardCount == 0 {
		l.localEpoch.Store(EpochWithValue(0), Release)
	}
}

// Unpin releases one pin. If this was the outermost pin and there is no
// handle keeping the participant alive either, the participant is
// finalized: its remaining deferred functions are handed off and it is
// removed from the participant list.
func (l *Local) Unpin() {
	l.unpin()
	if l.guardCount == 0 && l.handleCount == 0 {
		l.finalize()
	}
}

// Repin re-pins the participant in the current global epoch, without an
// intervening unpin, provided this is the only active guard. It is a no-op
// if another guard on this participant is also live, or if the participant
// is already pinned in the current epoch.
func (l *Local) Repin() {
	if l.guardCount != 1 {
		return
	}
	pinned := l.global.globalEpoch.Load(Relaxed).Pinned()
	if l.localEpoch.Load(Relaxed) != pinned {
		l.localEpoch.Store(pinned, Release)
	}
}

// RepinAfter keeps the participant alive across a temporary unpin, runs f,
// and unconditionally re-pins afterward, even if f panics, by acquiring
// an extra handle before unpinning and releasing it only after the repin.
// This is the idiomatic Go substitute for the source's scope-exit
// mechanism: Go has no destructors, so the restore step runs in a defer.
func RepinAfter[R any](l *Local, f func() R) R {
	l.AcquireHandle()
	l.unpin()
	defer func() {
		l.pin()
		l.ReleaseHandle()
	}()
	return f()
}

// AcquireHandle records one more live handle to this participant. It is a
// contract violation, and panics, to call this without at least one
// handle already outstanding; new handles are only ever created by
// extending an existing one.
func (l *Local) AcquireHandle() {
	if l.handleCount < 1 {
		panic("reclaim: AcquireHandle on a participant with no live handle")
	}
	l.handleCount++
}

// ReleaseHandle releases one live handle. It panics if none was
// outstanding. If this was the last handle and the participant is not
// pinned, it is finalized.
func (l *Local) ReleaseHandle() {
	if l.handleCount < 1 {
		panic("reclaim: ReleaseHandle on a participant with no live handle")
	}
	l.handleCount--
	if l.handleCount == 0 && l.guardCount == 0 {
		l.finalize()
	}
}

// Defer stores d in the thread-local bag, spilling to the global queue and
// starting a fresh bag whenever the local one is full. It always succeeds:
// every deferred function ends up either in the local bag or, sealed, on
// the global queue.
func (l *Local) Defer(d Deferred) {
	cur := d
	for {
		leftover, ok := l.deferreds.TryPush(cur)
		if ok {
			return
		}
		fresh := NewBag(l.bagCapacity)
		full := l.deferreds
		l.deferreds = fresh
		l.global.PushBag(full)
		cur = leftover
	}
}

// Flush hands the thread-local bag off to the global queue (if it holds
// anything), starts a fresh one, and always runs a collection pass
// regardless of whether anything was flushed.
func (l *Local) Flush() {
	if !l.deferreds.IsEmpty() {
		full := l.deferreds
		l.deferreds = NewBag(l.bagCapacity)
		l.global.PushBag(full)
	}
	l.global.Collect()
}

// finalize retires the participant: guardCount and handleCount must both
// already be zero. The ordering below is load-bearing: pin, so the
// remaining bag is sealed and reclaimed
// no earlier than is safe; push the remaining bag; unpin; mark the list
// entry removed; drop the reference to Global last.
func (l *Local) finalize() {
	if l.guardCount != 0 || l.handleCount != 0 {
		panic("reclaim: finalize called with a live guard or handle")
	}
	l.handleCount = 1
	l.pin()
	l.global.PushBag(l.deferreds)
	l.unpin()
	l.handleCount = 0
	l.entry.Remove()
	// Dropping the Global reference here mirrors the source's cycle
	// breaking (Collector -> Global -> locals -> Local -> Collector).
	// Go's tracing collector does not need this for correctness, once
	// entry.Remove() lets TryAdvance's list walk physically unlink this
	// node, nothing keeps *Local reachable, but it is kept for symmetry
	// with the documented finalize sequence and so a stray call to any
	// Local method after finalize fails loudly instead of silently
	// touching the collector it no longer belongs to.
	l.global = nil
}
