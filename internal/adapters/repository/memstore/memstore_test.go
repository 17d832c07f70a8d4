package memstore_test

import (
	"context"
	"errors"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/evalbench/internal/adapters/repository"
	"github.com/okian/evalbench/internal/adapters/repository/memstore"
	"github.com/okian/evalbench/internal/domain/model"
)

func score(v float64) *model.SubmissionScore {
	return &model.SubmissionScore{AggregateScore: &v}
}

func TestMemstore(t *testing.T) {
	Convey("Given a seeded memory store", t, func() {
		ctx := context.Background()
		s := memstore.New()
		s.PutCompetition(model.Competition{ID: "c1", TopN: 2})
		s.PutParticipant(model.Participant{ID: "p1", FullName: "Ada", Email: "ada@example.com"})
		s.PutSubmission(model.Submission{ID: "s1", CompetitionID: "c1", ParticipantID: "p1", Score: score(40)})
		s.PutSubmission(model.Submission{ID: "s2", CompetitionID: "c1", ParticipantID: "p1", Score: score(30)})
		s.PutSubmission(model.Submission{ID: "s3", CompetitionID: "c1", ParticipantID: "p2"})
		s.PutSubmission(model.Submission{ID: "s4", CompetitionID: "other", ParticipantID: "p3"})

		Convey("Unknown records report ErrNotFound", func() {
			_, err := s.GetCompetition(ctx, "nope")
			So(errors.Is(err, repository.ErrNotFound), ShouldBeTrue)
			_, err = s.GetChallenge(ctx, "nope")
			So(errors.Is(err, repository.ErrNotFound), ShouldBeTrue)
			_, err = s.FinalLeaderboard(ctx, "c1")
			So(errors.Is(err, repository.ErrNotFound), ShouldBeTrue)
		})

		Convey("Only unscored submissions of the competition are listed", func() {
			subs, err := s.ListUnscoredSubmissions(ctx, "c1")
			So(err, ShouldBeNil)
			So(len(subs), ShouldEqual, 1)
			So(subs[0].ID, ShouldEqual, "s3")
		})

		Convey("The automated leaderboard sums aggregate scores per participant", func() {
			rows, err := s.AutomatedLeaderboard(ctx, "c1")
			So(err, ShouldBeNil)
			So(len(rows), ShouldEqual, 2)
			So(rows[0].ParticipantID, ShouldEqual, "p1")
			So(rows[0].AutomatedScore, ShouldEqual, 70)
			So(rows[0].FullName, ShouldEqual, "Ada")
			So(rows[1].ParticipantID, ShouldEqual, "p2")
			So(rows[1].AutomatedScore, ShouldEqual, 0)
		})

		Convey("Saving a score removes the submission from the unscored list", func() {
			agg := 55.0
			So(s.SaveSubmissionScore(ctx, "s3", model.SubmissionScore{SubmissionID: "s3", AggregateScore: &agg}, time.Now()), ShouldBeNil)
			subs, err := s.ListUnscoredSubmissions(ctx, "c1")
			So(err, ShouldBeNil)
			So(subs, ShouldBeEmpty)
			sub, _ := s.Submission("s3")
			So(sub.EvaluatedAt, ShouldNotBeNil)
		})

		Convey("Progress increments and status changes are applied", func() {
			now := time.Now()
			So(s.PutProgress(ctx, model.RunProgress{CompetitionID: "c1", RunID: "r1", TotalSubmissions: 3, Status: model.RunStatusRunning}), ShouldBeNil)
			So(s.IncrementProgress(ctx, "c1", "r1", 2, now), ShouldBeNil)
			So(s.SetProgressStatus(ctx, "c1", "r1", model.RunStatusCompleted, now), ShouldBeNil)
			p, err := s.GetProgress(ctx, "c1")
			So(err, ShouldBeNil)
			So(p.EvaluatedSubmissions, ShouldEqual, 2)
			So(p.Status, ShouldEqual, model.RunStatusCompleted)

			missing, err := s.GetProgress(ctx, "none")
			So(err, ShouldBeNil)
			So(missing, ShouldBeNil)
		})

		Convey("Progress writes from another run or after completion are rejected", func() {
			now := time.Now()
			So(s.PutProgress(ctx, model.RunProgress{CompetitionID: "c1", RunID: "r2", TotalSubmissions: 3, Status: model.RunStatusRunning}), ShouldBeNil)
			So(errors.Is(s.IncrementProgress(ctx, "c1", "r1", 1, now), repository.ErrStaleRun), ShouldBeTrue)
			So(errors.Is(s.SetProgressStatus(ctx, "c1", "r1", model.RunStatusCompleted, now), repository.ErrStaleRun), ShouldBeTrue)
			So(errors.Is(s.IncrementProgress(ctx, "none", "r1", 1, now), repository.ErrStaleRun), ShouldBeTrue)

			So(s.SetProgressStatus(ctx, "c1", "r2", model.RunStatusCompleted, now), ShouldBeNil)
			So(errors.Is(s.IncrementProgress(ctx, "c1", "r2", 1, now), repository.ErrStaleRun), ShouldBeTrue)
			p, _ := s.GetProgress(ctx, "c1")
			So(p.EvaluatedSubmissions, ShouldEqual, 0)
			So(p.Status, ShouldEqual, model.RunStatusCompleted)

			gone, _ := s.GetProgress(ctx, "none")
			So(gone, ShouldBeNil)
		})

		Convey("A lease update can pause another competition's progress", func() {
			So(s.PutProgress(ctx, model.RunProgress{CompetitionID: "old", Status: model.RunStatusRunning}), ShouldBeNil)
			got, err := s.UpdateLease(ctx, func(current *model.Lease) (repository.LeaseUpdate, error) {
				So(current, ShouldBeNil)
				return repository.LeaseUpdate{
					Lease:           &model.Lease{IsLocked: true, LockedBy: "c1", LockedAt: time.Now()},
					PauseProgressOf: "old",
				}, nil
			})
			So(err, ShouldBeNil)
			So(got.LockedBy, ShouldEqual, "c1")
			p, _ := s.GetProgress(ctx, "old")
			So(p.Status, ShouldEqual, model.RunStatusPaused)
		})

		Convey("Final leaderboards replace prior entries and mark the competition", func() {
			marker := model.LeaderboardMarker{HasFinalLeaderboard: true, GeneratedAt: time.Now(), Track: model.TrackFinal}
			So(s.ReplaceFinalLeaderboard(ctx, "c1", []model.FinalEntry{{ParticipantID: "a", Rank: 2}, {ParticipantID: "b", Rank: 1}}, marker), ShouldBeNil)
			So(s.ReplaceFinalLeaderboard(ctx, "c1", []model.FinalEntry{{ParticipantID: "z", Rank: 1}}, marker), ShouldBeNil)
			entries, err := s.FinalLeaderboard(ctx, "c1")
			So(err, ShouldBeNil)
			So(len(entries), ShouldEqual, 1)
			So(entries[0].ParticipantID, ShouldEqual, "z")
			c, _ := s.GetCompetition(ctx, "c1")
			So(c.HasFinalLeaderboard, ShouldBeTrue)
		})
	})

	Convey("Given a store with an injected fault", t, func() {
		s := memstore.New(memstore.WithFault(func(op string) error {
			if op == "GetProgress" {
				return repository.ErrStoreUnavailable
			}
			return nil
		}))
		_, err := s.GetProgress(context.Background(), "c1")
		So(errors.Is(err, repository.ErrStoreUnavailable), ShouldBeTrue)
		_, err = s.GetLease(context.Background())
		So(err, ShouldBeNil)
	})
}
