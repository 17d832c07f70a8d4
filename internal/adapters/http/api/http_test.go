package api_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/evalbench/internal/adapters/http/api"
	"github.com/okian/evalbench/internal/adapters/repository"
	"github.com/okian/evalbench/internal/domain/lease"
	"github.com/okian/evalbench/internal/domain/model"
	"github.com/okian/evalbench/pkg/logger"
	"github.com/okian/evalbench/pkg/metrics"
)

const secret = "test-secret"

type stubDeps struct {
	startLease model.Lease
	startErr   error
	startedBy  string

	progress    *model.RunProgress
	progressErr error
	lease       *model.Lease

	generateErr error
	generated   string
	entries     []model.FinalEntry
	finalErr    error
	judge       model.JudgeStatus
}

func (d *stubDeps) StartBulkRun(_ context.Context, competitionID, userID string) (model.Lease, error) {
	d.startedBy = userID
	return d.startLease, d.startErr
}

func (d *stubDeps) Progress(context.Context, string) (*model.RunProgress, error) {
	return d.progress, d.progressErr
}

func (d *stubDeps) Lease(context.Context) (*model.Lease, error) { return d.lease, nil }

func (d *stubDeps) GenerateFinalLeaderboard(_ context.Context, id string) ([]model.FinalEntry, error) {
	d.generated = "final:" + id
	return d.entries, d.generateErr
}

func (d *stubDeps) GenerateLevel1Leaderboard(_ context.Context, id string) ([]model.FinalEntry, error) {
	d.generated = "level1:" + id
	return d.entries, d.generateErr
}

func (d *stubDeps) FinalLeaderboard(context.Context, string) ([]model.FinalEntry, error) {
	return d.entries, d.finalErr
}

func (d *stubDeps) JudgeStatus(context.Context, string) (model.JudgeStatus, error) {
	return d.judge, nil
}

type stubStats struct{}

func (stubStats) GetStats() map[string]interface{} {
	return map[string]interface{}{"state": "idle"}
}

func newMux(deps *stubDeps) (*http.ServeMux, *api.Authenticator) {
	auth := api.NewAuthenticator(secret, []string{"admin", "organizer"})
	srv := api.NewServer(deps, stubStats{}, auth, logger.Nop())
	mux := http.NewServeMux()
	srv.Register(context.Background(), mux)
	return mux, auth
}

func do(mux *http.ServeMux, method, path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, http.NoBody)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	return w
}

func decode(w *httptest.ResponseRecorder) map[string]any {
	var out map[string]any
	_ = json.Unmarshal(w.Body.Bytes(), &out)
	return out
}

func TestBulkEndpoints(t *testing.T) {
	Convey("Given the API with a privileged token", t, func() {
		deps := &stubDeps{}
		mux, auth := newMux(deps)
		admin, err := auth.IssueToken("u-1", "admin", time.Hour)
		So(err, ShouldBeNil)

		Convey("When a run is started", func() {
			deps.startLease = model.Lease{IsLocked: true, LockedBy: "c1", RunID: "run-9"}
			w := do(mux, http.MethodPost, "/bulk-evaluate/c1", admin)

			Convey("Then it is accepted with the run id", func() {
				So(w.Code, ShouldEqual, http.StatusAccepted)
				body := decode(w)
				So(body["runId"], ShouldEqual, "run-9")
				So(body["message"], ShouldNotBeEmpty)
				So(deps.startedBy, ShouldEqual, "u-1")
			})
		})

		Convey("When another run holds the lease", func() {
			deps.startLease = model.Lease{IsLocked: true, LockedBy: "other"}
			deps.startErr = lease.ErrBusy
			w := do(mux, http.MethodPost, "/bulk-evaluate/c1", admin)

			Convey("Then it answers 409 busy", func() {
				So(w.Code, ShouldEqual, http.StatusConflict)
				body := decode(w)
				So(body["error"], ShouldEqual, "busy")
				So(body["detail"], ShouldContainSubstring, "other")
			})
		})

		Convey("When the competition is unknown", func() {
			deps.startErr = fmt.Errorf("load competition c9: %w", repository.ErrNotFound)
			w := do(mux, http.MethodPost, "/bulk-evaluate/c9", admin)
			So(w.Code, ShouldEqual, http.StatusNotFound)
			So(decode(w)["error"], ShouldEqual, "not_found")
		})

		Convey("When the store is down", func() {
			deps.startErr = repository.ErrStoreUnavailable
			w := do(mux, http.MethodPost, "/bulk-evaluate/c1", admin)
			So(w.Code, ShouldEqual, http.StatusInternalServerError)
			So(decode(w)["error"], ShouldEqual, "internal_error")
		})

		Convey("When the lease is read", func() {
			deps.lease = &model.Lease{IsLocked: true, LockedBy: "c1", RunID: "r1"}
			w := do(mux, http.MethodGet, "/bulk-evaluate/lease", admin)
			So(w.Code, ShouldEqual, http.StatusOK)
			l := decode(w)["lease"].(map[string]any)
			So(l["lockedBy"], ShouldEqual, "c1")
			So(l["isLocked"], ShouldEqual, true)
		})
	})

	Convey("Given the public progress endpoint", t, func() {
		deps := &stubDeps{}
		mux, _ := newMux(deps)

		Convey("When a run is recorded", func() {
			deps.progress = &model.RunProgress{CompetitionID: "c1", TotalSubmissions: 4, EvaluatedSubmissions: 1, Status: model.RunStatusRunning}
			w := do(mux, http.MethodGet, "/bulk-evaluate/progress/c1", "")
			So(w.Code, ShouldEqual, http.StatusOK)
			p := decode(w)["progress"].(map[string]any)
			So(p["evaluationStatus"], ShouldEqual, "running")
			So(p["totalSubmissions"], ShouldEqual, float64(4))
		})

		Convey("When nothing is recorded", func() {
			w := do(mux, http.MethodGet, "/bulk-evaluate/progress/c1", "")
			So(w.Code, ShouldEqual, http.StatusOK)
			So(strings.TrimSpace(w.Body.String()), ShouldEqual, `{"progress":null}`)
		})

		Convey("When the store fails", func() {
			deps.progressErr = repository.ErrStoreUnavailable
			w := do(mux, http.MethodGet, "/bulk-evaluate/progress/c1", "")
			So(w.Code, ShouldEqual, http.StatusOK)
			So(strings.TrimSpace(w.Body.String()), ShouldEqual, `{"progress":null}`)
		})
	})
}

func TestRoleGate(t *testing.T) {
	Convey("Given the role-gated start endpoint", t, func() {
		deps := &stubDeps{}
		mux, auth := newMux(deps)

		Convey("Without a token it answers 401", func() {
			w := do(mux, http.MethodPost, "/bulk-evaluate/c1", "")
			So(w.Code, ShouldEqual, http.StatusUnauthorized)
			So(decode(w)["error"], ShouldEqual, "unauthorized")
		})

		Convey("With a token signed by another secret it answers 401", func() {
			other := api.NewAuthenticator("other-secret", []string{"admin"})
			tok, _ := other.IssueToken("u-1", "admin", time.Hour)
			w := do(mux, http.MethodPost, "/bulk-evaluate/c1", tok)
			So(w.Code, ShouldEqual, http.StatusUnauthorized)
		})

		Convey("With an expired token it answers 401", func() {
			tok, _ := auth.IssueToken("u-1", "admin", -time.Minute)
			w := do(mux, http.MethodPost, "/bulk-evaluate/c1", tok)
			So(w.Code, ShouldEqual, http.StatusUnauthorized)
		})

		Convey("With an unprivileged role it answers 403", func() {
			tok, _ := auth.IssueToken("u-2", "participant", time.Hour)
			w := do(mux, http.MethodPost, "/bulk-evaluate/c1", tok)
			So(w.Code, ShouldEqual, http.StatusForbidden)
			body := decode(w)
			So(body["error"], ShouldEqual, "forbidden")
			So(body["detail"], ShouldContainSubstring, "participant")
		})

		Convey("Roles are matched case-insensitively", func() {
			So(auth.Privileged("Organizer"), ShouldBeTrue)
			So(auth.Privileged("judge"), ShouldBeFalse)
		})
	})

	Convey("Given a token", t, func() {
		auth := api.NewAuthenticator(secret, []string{"admin"})
		tok, err := auth.IssueToken("u-7", "admin", time.Hour)
		So(err, ShouldBeNil)

		claims, err := auth.Verify(tok)
		So(err, ShouldBeNil)
		So(claims.Subject, ShouldEqual, "u-7")
		So(claims.Role, ShouldEqual, "admin")

		_, err = auth.Verify(tok + "x")
		So(err, ShouldNotBeNil)
	})
}

func TestLeaderboardEndpoints(t *testing.T) {
	Convey("Given the leaderboard endpoints", t, func() {
		deps := &stubDeps{}
		mux, auth := newMux(deps)
		admin, _ := auth.IssueToken("u-1", "organizer", time.Hour)

		Convey("When the final leaderboard is generated", func() {
			w := do(mux, http.MethodPost, "/competitions/c1/final-leaderboard", admin)
			So(w.Code, ShouldEqual, http.StatusOK)
			So(decode(w)["message"], ShouldNotBeEmpty)
			So(deps.generated, ShouldEqual, "final:c1")
		})

		Convey("When the level 1 leaderboard is generated", func() {
			w := do(mux, http.MethodPost, "/competitions/c1/level1-final-leaderboard", admin)
			So(w.Code, ShouldEqual, http.StatusOK)
			So(deps.generated, ShouldEqual, "level1:c1")
		})

		Convey("When the competition is unknown", func() {
			deps.generateErr = fmt.Errorf("load competition c9: %w", repository.ErrNotFound)
			w := do(mux, http.MethodPost, "/competitions/c9/final-leaderboard", admin)
			So(w.Code, ShouldEqual, http.StatusNotFound)
		})

		Convey("When persistence fails", func() {
			deps.generateErr = errors.Join(repository.ErrStoreUnavailable, errors.New("connection reset"))
			w := do(mux, http.MethodPost, "/competitions/c1/final-leaderboard", admin)

			Convey("Then it answers 500 with error and detail", func() {
				So(w.Code, ShouldEqual, http.StatusInternalServerError)
				body := decode(w)
				So(body["error"], ShouldEqual, "internal_error")
				So(body["detail"], ShouldContainSubstring, "connection reset")
			})
		})

		Convey("When generation is attempted without a token", func() {
			w := do(mux, http.MethodPost, "/competitions/c1/final-leaderboard", "")
			So(w.Code, ShouldEqual, http.StatusUnauthorized)
			So(deps.generated, ShouldBeEmpty)
		})

		Convey("When the final leaderboard is read publicly", func() {
			deps.entries = []model.FinalEntry{{ParticipantID: "A", FinalScore: 85, Rank: 1}}
			w := do(mux, http.MethodGet, "/competitions/c1/final-leaderboard", "")
			So(w.Code, ShouldEqual, http.StatusOK)
			entries := decode(w)["entries"].([]any)
			So(entries, ShouldHaveLength, 1)
		})

		Convey("When no final leaderboard exists", func() {
			deps.finalErr = repository.ErrNotFound
			w := do(mux, http.MethodGet, "/competitions/c1/final-leaderboard", "")
			So(w.Code, ShouldEqual, http.StatusNotFound)
		})

		Convey("When judge status is requested", func() {
			deps.judge = model.JudgeStatus{Complete: false, EvaluatedParticipants: 1, TopN: 3}
			w := do(mux, http.MethodGet, "/competitions/c1/judge-status", admin)
			So(w.Code, ShouldEqual, http.StatusOK)
			body := decode(w)
			So(body["complete"], ShouldEqual, false)
			So(body["topN"], ShouldEqual, float64(3))
		})
	})
}

func TestOperationalEndpoints(t *testing.T) {
	Convey("Given the operational endpoints", t, func() {
		mux, _ := newMux(&stubDeps{})

		Convey("Stats include the provider's fields", func() {
			w := do(mux, http.MethodGet, "/stats", "")
			So(w.Code, ShouldEqual, http.StatusOK)
			body := decode(w)
			So(body["state"], ShouldEqual, "idle")
			So(body, ShouldContainKey, "goroutines")
		})

		Convey("Healthz serves the Prometheus exposition", func() {
			_ = do(mux, http.MethodGet, "/stats", "")
			w := do(mux, http.MethodGet, "/healthz", "")
			So(w.Code, ShouldEqual, http.StatusOK)
			So(w.Body.String(), ShouldContainSubstring, "evalbench_")
		})

		Convey("Unknown methods are rejected", func() {
			w := do(mux, http.MethodDelete, "/stats", "")
			So(w.Code, ShouldEqual, http.StatusMethodNotAllowed)
		})
	})
}

// errorCount reads the endpoint error counter for one label set.
func errorCount(endpoint, method, kind string) float64 {
	families, err := metrics.GetRegistry().Gather()
	if err != nil {
		return -1
	}
	for _, f := range families {
		if f.GetName() != "evalbench_orchestrator_errors_by_endpoint_total" {
			continue
		}
		for _, m := range f.GetMetric() {
			labels := make(map[string]string)
			for _, l := range m.GetLabel() {
				labels[l.GetName()] = l.GetValue()
			}
			if labels["endpoint"] == endpoint && labels["method"] == method && labels["error_type"] == kind {
				return m.GetCounter().GetValue()
			}
		}
	}
	return 0
}

func TestErrorMetrics(t *testing.T) {
	Convey("Given the start endpoint", t, func() {
		deps := &stubDeps{}
		mux, auth := newMux(deps)
		admin, _ := auth.IssueToken("u-1", "admin", time.Hour)
		participant, _ := auth.IssueToken("u-2", "participant", time.Hour)

		Convey("Errors are counted under the code the response carries", func() {
			cases := []struct {
				token string
				err   error
				kind  string
			}{
				{token: "", kind: "unauthorized"},
				{token: participant, kind: "forbidden"},
				{token: admin, err: lease.ErrBusy, kind: "busy"},
				{token: admin, err: fmt.Errorf("load competition c1: %w", repository.ErrNotFound), kind: "not_found"},
				{token: admin, err: repository.ErrStoreUnavailable, kind: "internal_error"},
			}
			for _, tc := range cases {
				deps.startErr = tc.err
				before := errorCount("bulk_start", http.MethodPost, tc.kind)
				w := do(mux, http.MethodPost, "/bulk-evaluate/c1", tc.token)
				So(decode(w)["error"], ShouldEqual, tc.kind)
				So(errorCount("bulk_start", http.MethodPost, tc.kind), ShouldEqual, before+1)
			}
		})

		Convey("Successful requests leave the error counters alone", func() {
			deps.startLease = model.Lease{IsLocked: true, LockedBy: "c1", RunID: "run-1"}
			before := errorCount("bulk_start", http.MethodPost, "internal_error")
			w := do(mux, http.MethodPost, "/bulk-evaluate/c1", admin)
			So(w.Code, ShouldEqual, http.StatusAccepted)
			So(errorCount("bulk_start", http.MethodPost, "internal_error"), ShouldEqual, before)
		})
	})
}

func TestErrorKinds(t *testing.T) {
	Convey("Given an api error", t, func() {
		err := api.WrapKind("api.op", api.ErrPermissionDenied, errors.New("role x"))

		So(errors.Is(err, api.ErrPermissionDenied), ShouldBeTrue)
		So(err.Error(), ShouldEqual, "api.op: permission denied: role x")
		So(api.Wrap("api.op", nil), ShouldBeNil)
		So(errors.Is(api.Wrap("api.op", repository.ErrNotFound), repository.ErrNotFound), ShouldBeTrue)
		So(api.NewKind("api.op", api.ErrBadRequest).Error(), ShouldEqual, "api.op: bad request")
	})
}
