package scoring_test

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/evalbench/internal/domain/model"
	"github.com/okian/evalbench/internal/domain/scoring"
	"github.com/okian/evalbench/pkg/logger"
)

// stubBackend replies with a fixed sequence, repeating the last reply.
type stubBackend struct {
	name    string
	replies []string
	err     error
	calls   int32
	seen    atomic.Value
}

func (s *stubBackend) Name() string { return s.name }

func (s *stubBackend) Complete(_ context.Context, req scoring.Request) (string, error) {
	n := int(atomic.AddInt32(&s.calls, 1)) - 1
	s.seen.Store(req)
	if s.err != nil {
		return "", s.err
	}
	if n >= len(s.replies) {
		n = len(s.replies) - 1
	}
	return s.replies[n], nil
}

var rubric = []model.RubricCriterion{
	{Name: "Correctness", Description: "Does it work", Weight: 0.6},
	{Name: "Creativity", Description: "Is it new", Weight: 0.4},
}

func newAggregator(backends ...scoring.Backend) *scoring.Aggregator {
	return scoring.NewAggregator(backends,
		scoring.WithLogger(logger.Nop()),
		scoring.WithRetryBackoff(time.Millisecond))
}

func TestEvaluate(t *testing.T) {
	ctx := context.Background()

	Convey("Given a single well-behaved backend", t, func() {
		b := &stubBackend{name: "a", replies: []string{`{"Correctness":80,"Creativity":70,"description":"ok"}`}}
		agg := newAggregator(b)

		Convey("When a submission is evaluated", func() {
			res := agg.Evaluate(ctx, "my entry", rubric, "Write a haiku")

			Convey("Then the weighted final score is 76", func() {
				So(res.PerBackendScores["a"], ShouldNotBeNil)
				So(res.PerBackendScores["a"].FinalScore, ShouldAlmostEqual, 76.0)
				So(res.PerBackendScores["a"].Scores["Correctness"], ShouldEqual, 80)
				So(res.PerBackendScores["a"].Description, ShouldEqual, "ok")
				So(*res.AggregateScore, ShouldAlmostEqual, 76.0)
			})

			Convey("And the backend saw the brief, the rubric and the submission", func() {
				req := b.seen.Load().(scoring.Request)
				So(req.Submission, ShouldEqual, "my entry")
				So(req.Instruction, ShouldContainSubstring, "Write a haiku")
				So(req.Instruction, ShouldContainSubstring, "Correctness (weight 0.60): Does it work")
				So(req.Instruction, ShouldContainSubstring, `"required"`)
			})
		})
	})

	Convey("Given two valid backends and one malformed backend", t, func() {
		a := &stubBackend{name: "a", replies: []string{`{"Correctness":80,"Creativity":70,"description":"ok"}`}}
		b := &stubBackend{name: "b", replies: []string{"Sure! Here you go:\n" + `{"Correctness":90,"Creativity":75,"description":"solid {work}"}` + "\nThanks."}}
		bad := &stubBackend{name: "bad", replies: []string{"I cannot score this."}}
		agg := newAggregator(a, b, bad)

		res := agg.Evaluate(ctx, "entry", rubric, "brief")

		Convey("Then the aggregate is the mean of the valid verdicts", func() {
			So(res.PerBackendScores["b"].FinalScore, ShouldAlmostEqual, 84.0)
			So(res.AggregateScore, ShouldNotBeNil)
			So(*res.AggregateScore, ShouldAlmostEqual, 80.0)
			So(res.ValidBackends(), ShouldEqual, 2)
		})

		Convey("And the malformed backend is absent after two attempts", func() {
			v, present := res.PerBackendScores["bad"]
			So(present, ShouldBeTrue)
			So(v, ShouldBeNil)
			So(atomic.LoadInt32(&bad.calls), ShouldEqual, 2)
			So(atomic.LoadInt32(&a.calls), ShouldEqual, 1)
		})
	})

	Convey("Given a backend that recovers on its second attempt", t, func() {
		flaky := &stubBackend{name: "flaky", replies: []string{
			`{"Correctness":80,"Creativity":70}`,
			`{"Correctness":80,"Creativity":70,"description":"second time"}`,
		}}
		res := newAggregator(flaky).Evaluate(ctx, "entry", rubric, "brief")

		So(res.PerBackendScores["flaky"], ShouldNotBeNil)
		So(res.PerBackendScores["flaky"].Description, ShouldEqual, "second time")
		So(atomic.LoadInt32(&flaky.calls), ShouldEqual, 2)
	})

	Convey("Given only failing backends", t, func() {
		down := &stubBackend{name: "down", err: errors.New("connection refused")}
		junk := &stubBackend{name: "junk", replies: []string{`{"Correctness":101,"Creativity":70,"description":"x"}`}}
		res := newAggregator(down, junk).Evaluate(ctx, "entry", rubric, "brief")

		Convey("Then the aggregate is null and every backend is absent", func() {
			So(res.AggregateScore, ShouldBeNil)
			So(res.PerBackendScores, ShouldContainKey, "down")
			So(res.PerBackendScores["down"], ShouldBeNil)
			So(res.PerBackendScores["junk"], ShouldBeNil)
			So(atomic.LoadInt32(&down.calls), ShouldEqual, 2)
		})
	})

	Convey("Given an unusable rubric", t, func() {
		b := &stubBackend{name: "a", replies: []string{`{}`}}
		res := newAggregator(b).Evaluate(ctx, "entry", nil, "brief")
		So(res.AggregateScore, ShouldBeNil)
		So(atomic.LoadInt32(&b.calls), ShouldEqual, 0)
	})

	Convey("Given a zero-weight criterion", t, func() {
		r := []model.RubricCriterion{{Name: "Style", Weight: 0}, {Name: "Depth", Weight: 1}}
		b := &stubBackend{name: "a", replies: []string{`{"Style":10,"Depth":50,"description":"fine"}`}}
		res := newAggregator(b).Evaluate(ctx, "entry", r, "brief")

		Convey("Then it is scored but does not contribute", func() {
			So(res.PerBackendScores["a"].Scores["Style"], ShouldEqual, 10)
			So(res.PerBackendScores["a"].FinalScore, ShouldAlmostEqual, 50.0)
		})

		Convey("And a reply missing it is rejected", func() {
			missing := &stubBackend{name: "m", replies: []string{`{"Depth":50,"description":"fine"}`}}
			res := newAggregator(missing).Evaluate(ctx, "entry", r, "brief")
			So(res.PerBackendScores["m"], ShouldBeNil)
		})
	})

	Convey("Given a cancelled context", t, func() {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		b := &stubBackend{name: "a", err: context.Canceled}
		res := newAggregator(b).Evaluate(cctx, "entry", rubric, "brief")
		So(res.AggregateScore, ShouldBeNil)
		So(atomic.LoadInt32(&b.calls), ShouldEqual, 1)
	})

	Convey("The panel names its backends in order", t, func() {
		agg := newAggregator(&stubBackend{name: "x"}, &stubBackend{name: "y"})
		So(strings.Join(agg.Backends(), ","), ShouldEqual, "x,y")
	})
}
