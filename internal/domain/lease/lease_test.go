package lease_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/evalbench/internal/adapters/repository"
	"github.com/okian/evalbench/internal/adapters/repository/memstore"
	"github.com/okian/evalbench/internal/adapters/repository/redisstore"
	"github.com/okian/evalbench/internal/domain/lease"
	"github.com/okian/evalbench/internal/domain/model"
	"github.com/okian/evalbench/pkg/logger"
)

type leaseBackend interface {
	repository.LeaseStore
	repository.ProgressStore
}

func redisBackend(t *testing.T) leaseBackend {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	pool := redisstore.NewPool(redisstore.PoolConfig{Addr: mr.Addr(), MaxIdle: 16, MaxActive: 32})
	t.Cleanup(func() { _ = pool.Close() })
	return redisstore.New(pool, redisstore.WithLogger(logger.Nop()))
}

func TestLock(t *testing.T) {
	backends := map[string]func(*testing.T) leaseBackend{
		"memstore": func(*testing.T) leaseBackend { return memstore.New() },
		"redis":    redisBackend,
	}
	for name, mk := range backends {
		Convey("Given a lease lock over "+name, t, func() {
			ctx := context.Background()
			store := mk(t)
			now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
			clock := func() time.Time { return now }
			lock := lease.New(store,
				lease.WithLogger(logger.Nop()),
				lease.WithClock(clock),
				lease.WithStaleAfter(30*time.Minute),
				lease.WithConflictBackoff(time.Millisecond),
			)

			Convey("Acquiring an absent lease records the new owner", func() {
				l, err := lock.Acquire(ctx, model.Owner{CompetitionID: "c1"}, "u1", "bulk")
				So(err, ShouldBeNil)
				So(l.IsLocked, ShouldBeTrue)
				So(l.LockedBy, ShouldEqual, "c1")
				So(l.LockedByUser, ShouldEqual, "u1")
				So(l.RunID, ShouldNotBeEmpty)
				So(l.LockedAt.Equal(now), ShouldBeTrue)

				cur, found, err := lock.Current(ctx)
				So(err, ShouldBeNil)
				So(found, ShouldBeTrue)
				So(cur.LockedBy, ShouldEqual, "c1")
			})

			Convey("Acquiring a released lease succeeds", func() {
				first, err := lock.Acquire(ctx, model.Owner{CompetitionID: "c1"}, "u1", "")
				So(err, ShouldBeNil)
				So(lock.Release(ctx, model.Owner{CompetitionID: "c1", RunID: first.RunID}), ShouldBeNil)
				l, err := lock.Acquire(ctx, model.Owner{CompetitionID: "c2"}, "u2", "")
				So(err, ShouldBeNil)
				So(l.LockedBy, ShouldEqual, "c2")
			})

			Convey("A fresh lease is busy for everyone and left untouched", func() {
				held, err := lock.Acquire(ctx, model.Owner{CompetitionID: "c1", RunID: "r1"}, "u1", "")
				So(err, ShouldBeNil)
				now = now.Add(29 * time.Minute)

				got, err := lock.Acquire(ctx, model.Owner{CompetitionID: "c2"}, "u2", "")
				So(errors.Is(err, lease.ErrBusy), ShouldBeTrue)
				So(got.LockedBy, ShouldEqual, "c1")

				_, err = lock.Acquire(ctx, model.Owner{CompetitionID: "c1"}, "u1", "")
				So(errors.Is(err, lease.ErrBusy), ShouldBeTrue)

				cur, _, _ := lock.Current(ctx)
				So(cur, ShouldResemble, held)
			})

			Convey("A stale lease is recovered and the previous run is paused", func() {
				_, err := lock.Acquire(ctx, model.Owner{CompetitionID: "old", RunID: "r-old"}, "u1", "")
				So(err, ShouldBeNil)
				So(store.PutProgress(ctx, model.RunProgress{CompetitionID: "old", TotalSubmissions: 5, EvaluatedSubmissions: 2, Status: model.RunStatusRunning}), ShouldBeNil)
				now = now.Add(31 * time.Minute)

				l, err := lock.Acquire(ctx, model.Owner{CompetitionID: "new"}, "u2", "")
				So(err, ShouldBeNil)
				So(l.LockedBy, ShouldEqual, "new")
				So(l.LockedAt.Equal(now), ShouldBeTrue)

				p, err := store.GetProgress(ctx, "old")
				So(err, ShouldBeNil)
				So(p.Status, ShouldEqual, model.RunStatusPaused)
				So(p.EvaluatedSubmissions, ShouldEqual, 2)

				Convey("The superseded run cannot release the new holder", func() {
					So(lock.Release(ctx, model.Owner{CompetitionID: "old", RunID: "r-old"}), ShouldBeNil)
					cur, _, _ := lock.Current(ctx)
					So(cur.IsLocked, ShouldBeTrue)
					So(cur.LockedBy, ShouldEqual, "new")
				})
			})

			Convey("Racing recoveries of one stale lease produce exactly one winner", func() {
				_, err := lock.Acquire(ctx, model.Owner{CompetitionID: "old"}, "u1", "")
				So(err, ShouldBeNil)
				now = now.Add(time.Hour)

				const racers = 8
				var wins, busy int32
				var wg sync.WaitGroup
				for i := 0; i < racers; i++ {
					wg.Add(1)
					go func(i int) {
						defer wg.Done()
						_, err := lock.Acquire(ctx, model.Owner{CompetitionID: "c" + string(rune('a'+i))}, "u", "")
						switch {
						case err == nil:
							atomic.AddInt32(&wins, 1)
						case errors.Is(err, lease.ErrBusy):
							atomic.AddInt32(&busy, 1)
						}
					}(i)
				}
				wg.Wait()
				So(wins, ShouldEqual, 1)
				So(busy, ShouldEqual, racers-1)
			})

			Convey("Mismatched releases are no-ops", func() {
				held, err := lock.Acquire(ctx, model.Owner{CompetitionID: "c1", RunID: "r1"}, "u1", "")
				So(err, ShouldBeNil)

				So(lock.Release(ctx, model.Owner{CompetitionID: "c2"}), ShouldBeNil)
				So(lock.Release(ctx, model.Owner{CompetitionID: "c1", RunID: "r-other"}), ShouldBeNil)
				cur, _, _ := lock.Current(ctx)
				So(cur, ShouldResemble, held)

				So(lock.Release(ctx, model.Owner{CompetitionID: "c1"}), ShouldBeNil)
				cur, _, _ = lock.Current(ctx)
				So(cur.IsLocked, ShouldBeFalse)
				So(cur.LockedBy, ShouldBeEmpty)
			})

			Convey("Releasing an absent lease is a no-op", func() {
				So(lock.Release(ctx, model.Owner{CompetitionID: "c1"}), ShouldBeNil)
				_, found, err := lock.Current(ctx)
				So(err, ShouldBeNil)
				So(found, ShouldBeFalse)
			})
		})
	}
}

func TestLockStoreFailure(t *testing.T) {
	Convey("Given a store that is down", t, func() {
		store := memstore.New(memstore.WithFault(func(string) error { return repository.ErrStoreUnavailable }))
		lock := lease.New(store, lease.WithLogger(logger.Nop()))

		_, err := lock.Acquire(context.Background(), model.Owner{CompetitionID: "c1"}, "u1", "")
		So(errors.Is(err, repository.ErrStoreUnavailable), ShouldBeTrue)
		So(errors.Is(err, lease.ErrBusy), ShouldBeFalse)

		err = lock.Release(context.Background(), model.Owner{CompetitionID: "c1"})
		So(errors.Is(err, repository.ErrStoreUnavailable), ShouldBeTrue)
	})
}
