// Licensed under the MIT License. See LICENSE file in the project root for details.

package reclaim

// DefaultBagCapacity is the number of deferred functions a Bag holds before
// it is sealed and handed off to the global queue. The source implementation
// uses 4 in debug builds and 64 in release builds; this port defaults to the
// release value and exposes it as a configurable Option (see Collector),
// which is a Go-native substitute for a compile-time template parameter.
const DefaultBagCapacity = 64

// Deferred is a single-call, non-copyable-by-convention closure. It must
// not be invoked more than once and, per the source contract, must not
// panic: a panicking deferred function is allowed to crash the program
// (see Bag.destroy).
type Deferred func()

func noOp() {}

// Bag is a fixed-capacity buffer of deferred functions. It is created
// empty and unsealed, accepts pushes until full, and becomes sealed when
// handed off to the global queue, sealing stamps the epoch at which the
// bag became eligible for collection. A Bag is single-writer: only the
// goroutine that owns it (or, once handed to the global queue, whichever
// goroutine wins the pop) touches it.
type Bag struct {
	capacity    int
	deferreds   []Deferred
	count       int
	sealed      bool
	sealedEpoch Epoch
}

// NewBag returns an empty, unsealed bag with room for capacity deferred
// functions. Unused slots are filled with a no-op placeholder so destroy
// can run over the whole backing slice uniformly.
func NewBag(capacity int) *Bag {
	if capacity <= 0 {
		capacity = DefaultBagCapacity
	}
	deferreds := make([]Deferred, capacity)
	for i := range deferreds {
		deferreds[i] = noOp
	}
	return &Bag{capacity: capacity, deferreds: deferreds}
}

// IsEmpty reports whether the bag holds no deferred functions.
func (b *Bag) IsEmpty() bool {
	return b.count == 0
}

// IsExpired reports whether, with respect to the current global epoch g,
// no participant can still be observing this bag's sealed epoch: it is
// expired once two epochs separate g from the seal. It is a logic error to
// call IsExpired before the bag is sealed.
func (b *Bag) IsExpired(g Epoch) bool {
	if !b.sealed {
		panic("reclaim: Bag.IsExpired called on an unsealed bag")
	}
	return WrappingSub(g, b.sealedEpoch) >= 2
}

// TryPush attempts to store d in the bag. If there is room, it stores d and
// reports (nil, true). If the bag is full, it hands d back unchanged and
// reports (d, false), so the caller can retry against a fresh bag. Pushing
// into a sealed bag is a caller error and panics.
func (b *Bag) TryPush(d Deferred) (Deferred, bool) {
	if b.sealed {
		panic("reclaim: TryPush into a sealed bag")
	}
	if b.count < b.capacity {
		b.deferreds[b.count] = d
		b.count++
		return nil, true
	}
	return d, false
}

// Seal marks the bag immutable and stamps it with the epoch at which it
// became eligible for collection. Sealing is one-shot; calling it more
// than once simply overwrites the stamped epoch, which callers must not
// rely on.
func (b *Bag) Seal(e Epoch) {
	b.sealedEpoch = e
	b.sealed = true
}

// destroy invokes every stored function, in index order, including the
// no-op placeholders in unused slots. Go has no destructors, so callers
// (Global.Collect, Collector.Close, Local.finalize) must call this
// explicitly once a bag is known to be expired or is being drained
// unconditionally at shutdown. A deferred function that panics is not
// recovered here: per the source contract, invocation panics are allowed
// to terminate the program.
func (b *Bag) destroy() {
	for i := 0; i < b.capacity; i++ {
		b.deferreds[i]()
	}
}
