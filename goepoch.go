// Licensed under the MIT License. See LICENSE file in the project root for details.

// Package goepoch implements epoch-based memory reclamation: a
// general-purpose facility that lets many goroutines concurrently read,
// modify, and reason about lock-free data structures built over shared
// atomic pointers, while still reclaiming memory for nodes that become
// unreachable.
//
// # Key Features
//
//   - Collector: a shared handle to the reclamation core's global state
//   - LocalHandle: a per-goroutine registration, pinned to run a critical
//     section and to defer reclamation work
//   - Guard: a scoped pin token, real or dummy (see Unprotected)
//   - Tagged-pointer collaborators for building lock-free structures over
//     reclaimed memory (see the ptr subpackage)
//
// # Usage Examples
//
//	c := goepoch.NewCollector()
//	defer c.Close()
//
//	h := c.Register()
//	defer h.Release()
//
//	g := h.Pin()
//	defer g.Release()
//	// ... read shared atomic pointers, safe until g.Release() ...
//	g.Defer(func() { /* reclaim a node no longer reachable */ })
//
// # Dangers and Warnings
//
// A LocalHandle must never be handed to another goroutine while a Guard
// obtained from it is still live. Deferred functions must not panic:
// per the reclamation contract, a panicking deferred function is allowed
// to crash the program rather than be silently swallowed.
//
// # Thread Safety
//
// Collector and LocalHandle are safe to share across goroutines in the
// sense that many goroutines may each hold their own LocalHandle
// registered against the same Collector. A single LocalHandle and the
// Guards it produces are not safe for concurrent use, they belong to the
// goroutine that registered them.
package goepoch

import "github.com/kianostad/goepoch/internal/reclaim"

// Option configures a Collector at construction time. Options are the
// idiomatic Go substitute for the compile-time template parameters the
// reclamation core is otherwise specified with (bag capacity, pinnings
// between automatic collection, bags reclaimed per collection pass).
type Option func(*collectorConfig)

type collectorConfig struct {
	bagCapacity            int
	pinningsBetweenCollect uint64
	collectSteps           int
}

// WithBagCapacity overrides the number of deferred functions a
// participant's local bag holds before it seals and hands off to the
// global queue. The default is reclaim.DefaultBagCapacity.
func WithBagCapacity(n int) Option {
	return func(c *collectorConfig) { c.bagCapacity = n }
}

// WithPinningsBetweenCollect overrides how many pinnings a participant
// performs before triggering its own collection pass. The default is
// reclaim.DefaultPinningsBetweenCollect.
func WithPinningsBetweenCollect(n uint64) Option {
	return func(c *collectorConfig) { c.pinningsBetweenCollect = n }
}

// WithCollectSteps overrides how many bags a single collection pass will
// pop and destroy. The default is reclaim.DefaultCollectSteps.
func WithCollectSteps(n int) Option {
	return func(c *collectorConfig) { c.collectSteps = n }
}

// Collector is a handle to the reclamation core's shared state. Every
// goroutine that wants to participate registers its own LocalHandle
// against the same Collector.
type Collector struct {
	global *reclaim.Global
	cfg    collectorConfig
}

// NewCollector returns a Collector with an empty participant list, an
// empty bag queue, and the global epoch at its starting value.
func NewCollector(opts ...Option) *Collector {
	cfg := collectorConfig{
		bagCapacity:            reclaim.DefaultBagCapacity,
		pinningsBetweenCollect: reclaim.DefaultPinningsBetweenCollect,
		collectSteps:           reclaim.DefaultCollectSteps,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Collector{
		global: reclaim.NewGlobal(cfg.collectSteps),
		cfg:    cfg,
	}
}

// Register creates a new participant against c and returns a handle
// owning it. The returned handle starts with no live pins.
func (c *Collector) Register() *LocalHandle {
	l := reclaim.NewLocal(c.global, c.cfg.bagCapacity, c.cfg.pinningsBetweenCollect)
	return &LocalHandle{local: l, collector: c}
}

// Close drains the collector's global bag queue, running every remaining
// deferred function unconditionally. Call it only once every registered
// LocalHandle has already been released, Close does not wait for or
// track outstanding participants, it simply empties whatever bags have
// already reached the global queue.
func (c *Collector) Close() {
	c.global.Drain()
}

// LocalHandle is a per-goroutine registration against a Collector. It
// keeps its Local alive (via a reference count) across however many times
// the owning goroutine pins and unpins.
type LocalHandle struct {
	local     *reclaim.Local
	collector *Collector
}

// Pin marks the current goroutine as pinned and returns a Guard proving
// it. Pinning is reentrant: nested guards on one handle share a single
// local epoch, and only releasing the outermost one actually unpins.
func (h *LocalHandle) Pin() *Guard {
	h.local.Pin()
	return &Guard{local: h.local}
}

// IsPinned reports whether this handle's participant currently holds any
// guard.
func (h *LocalHandle) IsPinned() bool {
	return h.local.IsPinned()
}

// Collector returns the Collector this handle is registered against.
func (h *LocalHandle) Collector() *Collector {
	return h.collector
}

// Release relinquishes this handle's registration. Once every handle and
// guard referring to the underlying participant has been released, the
// participant is finalized: its remaining deferred functions are handed
// off and it is removed from the collector's participant list.
func (h *LocalHandle) Release() {
	h.local.ReleaseHandle()
}

// Guard is a scoped token proving the current goroutine is pinned. It is
// either real, meaning it refers to a Local, or dummy, produced only by
// Unprotected, meaning it makes no pinning guarantee at all.
//
// Go has no destructors, so unlike the reference design's Guard, this one
// must be released explicitly: callers should defer g.Release() (or
// arrange an equivalent explicit call) immediately after obtaining one,
// the same way callers of sync.Mutex defer Unlock.
type Guard struct {
	local *reclaim.Local
}

// Unprotected returns a dummy guard: it makes no pinning guarantee and
// should be used only when no concurrent access is possible, such as
// during single-threaded construction or teardown of a data structure.
// Defer on a dummy guard runs its function immediately instead of
// scheduling it; Flush and Repin are no-ops.
func Unprotected() *Guard {
	return &Guard{}
}

// IsDummy reports whether g was produced by Unprotected rather than by
// pinning a real LocalHandle.
func (g *Guard) IsDummy() bool {
	return g.local == nil
}

// Release ends this guard's pin. Calling Release more than once, or on a
// dummy guard, is a no-op.
func (g *Guard) Release() {
	if g.local == nil {
		return
	}
	l := g.local
	g.local = nil
	l.Unpin()
}

// Defer stores f so that it runs at some point after every goroutine
// currently pinned in the epoch observed now has unpinned at least once.
// There is no guarantee f ever runs promptly, only that it will not run
// before that point. On a dummy guard, f runs immediately.
func (g *Guard) Defer(f func()) {
	if g.local == nil {
		f()
		return
	}
	g.local.Defer(reclaim.Deferred(f))
}

// DeferDestroy is a thin convenience wrapper over Defer, named to mirror
// the collaborator API (see the ptr subpackage's Shared.IntoOwned): it
// runs destroy exactly like Defer would, kept as a separate method so
// callers moving an owned/shared pointer into reclamation can spell that
// intent directly.
func (g *Guard) DeferDestroy(destroy func()) {
	g.Defer(destroy)
}

// Flush clears the calling participant's local bag by handing it to the
// global queue, then runs a collection pass. Call it after Defer if you
// want the deferred function to become eligible for reclamation as soon
// as possible. On a dummy guard, Flush is a no-op.
func (g *Guard) Flush() {
	if g.local == nil {
		return
	}
	g.local.Flush()
}

// Repin moves the current goroutine's pin forward to whatever epoch is now
// current, without an intervening unpin, so that a guard held across a
// long operation does not keep the global epoch from advancing. It only
// takes effect if g is the only live guard on its participant. On a dummy
// guard, Repin is a no-op.
func (g *Guard) Repin() {
	if g.local == nil {
		return
	}
	g.local.Repin()
}

// RepinAfter temporarily releases g's pin, runs f, and unconditionally
// re-pins afterward, even if f panics, then returns f's result. Use
// this around a long-running operation (blocking I/O, sleeping) that does
// not need to hold any guard-derived reference across the call. On a
// dummy guard, f runs directly without unpinning anything.
//
// This must be a package-level function rather than a method: Go does
// not allow a method to introduce its own type parameter.
func RepinAfter[R any](g *Guard, f func() R) R {
	if g.local == nil {
		return f()
	}
	return reclaim.RepinAfter(g.local, f)
}
