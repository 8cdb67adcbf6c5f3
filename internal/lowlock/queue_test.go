// Licensed under the MIT License. See LICENSE file in the project root for details.

package lowlock

import (
	"sort"
	"sync"
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

func TestQueuePushAndPopOrder(t *testing.T) {
	Convey("Given a queue with three pushed values", t, func() {
		q := NewQueue[int]()
		q.Push(1)
		q.Push(2)
		q.Push(3)

		alwaysTrue := func(int) bool { return true }

		Convey("TryPopIf pops in FIFO order", func() {
			v, ok := q.TryPopIf(alwaysTrue)
			So(ok, ShouldBeTrue)
			So(v, ShouldEqual, 1)

			v, ok = q.TryPopIf(alwaysTrue)
			So(ok, ShouldBeTrue)
			So(v, ShouldEqual, 2)

			v, ok = q.TryPopIf(alwaysTrue)
			So(ok, ShouldBeTrue)
			So(v, ShouldEqual, 3)

			_, ok = q.TryPopIf(alwaysTrue)
			So(ok, ShouldBeFalse)
		})

		Convey("A predicate rejecting the head leaves the queue untouched", func() {
			_, ok := q.TryPopIf(func(int) bool { return false })
			So(ok, ShouldBeFalse)

			v, ok := q.TryPopIf(alwaysTrue)
			So(ok, ShouldBeTrue)
			So(v, ShouldEqual, 1)
		})
	})
}

func TestQueueEmptyPop(t *testing.T) {
	Convey("Given an empty queue", t, func() {
		q := NewQueue[int]()

		Convey("TryPopIf reports false without blocking", func() {
			_, ok := q.TryPopIf(func(int) bool { return true })
			So(ok, ShouldBeFalse)
		})
	})
}

func TestQueueConcurrentPushPop(t *testing.T) {
	Convey("Given many goroutines pushing concurrently", t, func() {
		q := NewQueue[int]()
		const n = 200
		var wg sync.WaitGroup
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				q.Push(i)
			}(i)
		}
		wg.Wait()

		Convey("Popping until empty drains exactly what was pushed", func() {
			var got []int
			for {
				v, ok := q.TryPopIf(func(int) bool { return true })
				if !ok {
					break
				}
				got = append(got, v)
			}
			sort.Ints(got)
			want := make([]int, n)
			for i := range want {
				want[i] = i
			}
			So(got, ShouldResemble, want)
		})
	})
}
