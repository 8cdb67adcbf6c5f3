// Licensed under the MIT License. See LICENSE file in the project root for details.

package reclaim

import (
	"sync"
	"testing"

	. "github.com/smartystreets/goconvey/convey"
	"go.uber.org/goleak"
)

func TestLocalPinUnpinRoundTrip(t *testing.T) {
	Convey("Given a participant registered against a fresh global", t, func() {
		g := NewGlobal(DefaultCollectSteps)
		l := NewLocal(g, DefaultBagCapacity, DefaultPinningsBetweenCollect)

		Convey("Pinning sets the local epoch to the pinned global epoch", func() {
			l.Pin()
			So(l.Epoch(), ShouldResemble, g.globalEpoch.Load(Relaxed).Pinned())
			So(l.IsPinned(), ShouldBeTrue)
		})

		Convey("Unpinning resets the local epoch to unpinned zero", func() {
			l.Pin()
			l.Unpin()
			So(l.Epoch(), ShouldResemble, StartingEpoch())
			So(l.IsPinned(), ShouldBeFalse)
		})
	})
}

func TestLocalReentrantPin(t *testing.T) {
	Convey("Given a participant pinned twice", t, func() {
		g := NewGlobal(DefaultCollectSteps)
		l := NewLocal(g, DefaultBagCapacity, DefaultPinningsBetweenCollect)
		l.Pin()
		epochAfterFirstPin := l.Epoch()
		l.Pin()

		Convey("The second pin does not change the local epoch", func() {
			So(l.Epoch(), ShouldResemble, epochAfterFirstPin)
		})

		Convey("Only the outermost unpin clears the local epoch", func() {
			l.Unpin()
			So(l.IsPinned(), ShouldBeTrue)
			So(l.Epoch(), ShouldResemble, epochAfterFirstPin)

			l.Unpin()
			So(l.IsPinned(), ShouldBeFalse)
			So(l.Epoch(), ShouldResemble, StartingEpoch())
		})
	})
}

func TestLocalDeferSpillsToGlobalQueue(t *testing.T) {
	Convey("Given a participant with a bag of capacity 2", t, func() {
		g := NewGlobal(DefaultCollectSteps)
		l := NewLocal(g, 2, DefaultPinningsBetweenCollect)
		ran := make([]int, 0, 3)

		Convey("Deferring 3 functions overflows the local bag once", func() {
			l.Defer(func() { ran = append(ran, 1) })
			l.Defer(func() { ran = append(ran, 2) })
			l.Defer(func() { ran = append(ran, 3) })

			l.handleCount = 0
			l.finalize()

			g.Drain()
			So(ran, ShouldResemble, []int{1, 2, 3})
		})
	})
}

func TestLocalFlushAlwaysCollects(t *testing.T) {
	Convey("Given a participant with an empty bag", t, func() {
		g := NewGlobal(DefaultCollectSteps)
		l := NewLocal(g, DefaultBagCapacity, DefaultPinningsBetweenCollect)

		Convey("Flush still runs a collection pass even though there is nothing to hand off", func() {
			So(func() { l.Flush() }, ShouldNotPanic)
			So(g.globalEpoch.Load(Relaxed), ShouldResemble, StartingEpoch().Successor())
		})
	})
}

func TestLocalAcquireReleaseHandle(t *testing.T) {
	Convey("Given a freshly registered participant", t, func() {
		g := NewGlobal(DefaultCollectSteps)
		l := NewLocal(g, DefaultBagCapacity, DefaultPinningsBetweenCollect)

		Convey("Acquiring then releasing an extra handle leaves one handle live", func() {
			l.AcquireHandle()
			l.ReleaseHandle()
			So(func() { l.ReleaseHandle() }, ShouldNotPanic)
		})

		Convey("Releasing past zero panics", func() {
			l.ReleaseHandle()
			So(func() { l.ReleaseHandle() }, ShouldPanic)
		})
	})
}

func TestRepinAfterRestoresThePin(t *testing.T) {
	Convey("Given a pinned participant", t, func() {
		g := NewGlobal(DefaultCollectSteps)
		l := NewLocal(g, DefaultBagCapacity, DefaultPinningsBetweenCollect)
		l.Pin()

		Convey("RepinAfter runs f while unpinned, then re-pins", func() {
			var pinnedDuringF bool
			result := RepinAfter(l, func() int {
				pinnedDuringF = l.IsPinned()
				return 7
			})
			So(pinnedDuringF, ShouldBeFalse)
			So(result, ShouldEqual, 7)
			So(l.IsPinned(), ShouldBeTrue)
		})

		Convey("RepinAfter restores the pin even if f panics", func() {
			So(func() {
				RepinAfter(l, func() int {
					panic("boom")
				})
			}, ShouldPanic)
			So(l.IsPinned(), ShouldBeTrue)
		})
	})
}

func TestManyParticipantsNoGoroutineLeak(t *testing.T) {
	defer goleak.VerifyNone(t)

	g := NewGlobal(DefaultCollectSteps)
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l := NewLocal(g, DefaultBagCapacity, DefaultPinningsBetweenCollect)
			l.Pin()
			l.Defer(func() {})
			l.Unpin()
			l.handleCount = 0
			l.finalize()
		}()
	}
	wg.Wait()
	g.Drain()
}
