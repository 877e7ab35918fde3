package dedupe_test

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	dedupe "github.com/okian/courtside/internal/domain/dedupe"
	. "github.com/smartystreets/goconvey/convey"
)

func TestInMemoryDeduper(t *testing.T) {
	ctx := context.Background()

	Convey("Given a new InMemoryDeduper", t, func() {
		d := dedupe.NewInMemoryDeduper()

		Convey("When a key is new", func() {
			id, seen := d.SeenOrRecord(ctx, "k1", "job-1")

			Convey("Then it is recorded under the given job", func() {
				So(seen, ShouldBeFalse)
				So(id, ShouldEqual, "job-1")
				So(d.Size(), ShouldEqual, 1)
			})
		})

		Convey("When a key repeats", func() {
			d.SeenOrRecord(ctx, "k1", "job-1")
			id, seen := d.SeenOrRecord(ctx, "k1", "job-2")

			Convey("Then the original job is returned", func() {
				So(seen, ShouldBeTrue)
				So(id, ShouldEqual, "job-1")
				So(d.Size(), ShouldEqual, 1)
			})
		})

		Convey("When a key is unrecorded", func() {
			d.SeenOrRecord(ctx, "k1", "job-1")
			d.Unrecord(ctx, "k1")
			d.Unrecord(ctx, "missing")
			_, seen := d.SeenOrRecord(ctx, "k1", "job-3")

			Convey("Then it can be recorded again", func() {
				So(seen, ShouldBeFalse)
			})
		})
	})

	Convey("Given a bounded deduper", t, func() {
		d := dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(2))
		d.SeenOrRecord(ctx, "a", "1")
		d.SeenOrRecord(ctx, "b", "2")
		d.SeenOrRecord(ctx, "c", "3")

		Convey("Then the oldest key is evicted", func() {
			So(d.Size(), ShouldEqual, 2)
			_, seen := d.SeenOrRecord(ctx, "b", "x")
			So(seen, ShouldBeTrue)
			_, seen = d.SeenOrRecord(ctx, "a", "x")
			So(seen, ShouldBeFalse)
		})
	})

	Convey("Given concurrent uploads of the same key", t, func() {
		d := dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(0))
		var wg sync.WaitGroup
		var mu sync.Mutex
		fresh := 0
		for i := 0; i < 50; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				if _, seen := d.SeenOrRecord(ctx, "same", fmt.Sprintf("job-%d", i)); !seen {
					mu.Lock()
					fresh++
					mu.Unlock()
				}
			}(i)
		}
		wg.Wait()

		Convey("Then exactly one wins", func() {
			So(fresh, ShouldEqual, 1)
		})
	})
}

func TestKey(t *testing.T) {
	Convey("Given upload keys", t, func() {
		Convey("When a request id is supplied", func() {
			So(dedupe.Key(" r-1 ", []byte("video")), ShouldEqual, "req:r-1")
		})

		Convey("When only media is supplied", func() {
			k1 := dedupe.Key("", []byte("video"))
			k2 := dedupe.Key("", []byte("video"))
			k3 := dedupe.Key("", []byte("other"))

			So(strings.HasPrefix(k1, "sha256:"), ShouldBeTrue)
			So(k1, ShouldEqual, k2)
			So(k1, ShouldNotEqual, k3)
		})
	})
}
