// Licensed under the MIT License. See LICENSE file in the project root for details.

package reclaim

import "github.com/kianostad/goepoch/internal/lowlock"

// DefaultCollectSteps bounds how many bags a single Collect call will pop
// and destroy, so that collection stays an amortized, bounded-latency side
// effect of pinning rather than an unbounded pause.
const DefaultCollectSteps = 8

// DefaultPinningsBetweenCollect is how many pinnings a participant performs
// before it triggers a collection pass on its own, amortizing the cost of
// reclamation across many pin/unpin cycles.
const DefaultPinningsBetweenCollect = 128

// Global is the state shared by every participant registered against one
// Collector: the participant list, the queue of sealed bags awaiting
// collection, and the global epoch.
type Global struct {
	locals       *lowlock.List[*Local]
	queue        *lowlock.Queue[*Bag]
	globalEpoch  AtomicEpoch
	collectSteps int
}

// NewGlobal returns a Global with an empty participant list, an empty bag
// queue, and the global epoch at its starting (unpinned, zero) value.
func NewGlobal(collectSteps int) *Global {
	if collectSteps <= 0 {
		collectSteps = DefaultCollectSteps
	}
	return &Global{
		locals:       lowlock.NewList[*Local](),
		queue:        lowlock.NewQueue[*Bag](),
		collectSteps: collectSteps,
	}
}

// PushBag seals b with the current global epoch and enqueues it for
// eventual collection. The load is relaxed: the bag's contents are already
// published through the queue's own synchronization once Push returns.
func (g *Global) PushBag(b *Bag) {
	e := g.globalEpoch.Load(Relaxed)
	b.Seal(e)
	g.queue.Push(b)
}

// Collect tries to advance the global epoch, then pops and destroys up to
// collectSteps bags from the head of the queue, stopping as soon as the
// head is missing or not yet expired.
func (g *Global) Collect() {
	e := g.TryAdvance()
	for i := 0; i < g.collectSteps; i++ {
		b, ok := g.queue.TryPopIf(func(b *Bag) bool { return b.IsExpired(e) })
		if !ok {
			break
		}
		b.destroy()
	}
}

// TryAdvance attempts to advance the global epoch by one step and returns
// the epoch now in effect (the newly-published epoch if it advanced, or the
// epoch observed at the start if some participant blocked it).
//
// Advancement requires unanimous agreement: every currently pinned
// participant must be pinned in the epoch currently observed as global.
// Unpinned participants never block progress.
func (g *Global) TryAdvance() Epoch {
	ge := g.globalEpoch.Load(Relaxed)

	blocked := g.locals.IterateWhile(func(*Local) {}, func(l *Local) bool {
		le := l.Epoch()
		return le.IsPinned() && le.Unpinned() != ge
	})
	if blocked {
		return ge
	}

	// Every pinned participant agrees on ge, so it is safe to advance.
	// If another goroutine already advanced past us, this store simply
	// repeats the same successor value: try_advance can only be called
	// from a participant pinned in ge (or from a caller with no pinned
	// participants at all), and the global epoch can never be more than
	// one step ahead of any currently pinned participant.
	newEpoch := ge.Successor()
	g.globalEpoch.Store(newEpoch, Release)
	return newEpoch
}

// registerLocal links l at the front of the participant list and returns
// the entry it can later use to remove itself.
func (g *Global) registerLocal(l *Local) *lowlock.Entry[*Local] {
	return g.locals.PushFront(l)
}

// Drain pops and destroys every remaining bag, unconditionally. It is used
// at shutdown to run any deferred functions left behind.
func (g *Global) Drain() {
	for {
		b, ok := g.queue.TryPopIf(func(*Bag) bool { return true })
		if !ok {
			return
		}
		b.destroy()
	}
}
