package metrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	. "github.com/smartystreets/goconvey/convey"
)

func TestMetricsManagerCreation(t *testing.T) {
	Convey("Given metrics manager creation", t, func() {
		Convey("When creating with a private registry", func() {
			registry := prometheus.NewRegistry()
			manager := NewManager(WithPrometheusRegistry(registry))

			Convey("Then every collector is registered", func() {
				So(manager, ShouldNotBeNil)
				manager.leaseRecoveries.Inc()
				families, err := registry.Gather()
				So(err, ShouldBeNil)
				So(len(families), ShouldBeGreaterThan, 0)
			})
		})

		Convey("When creating with custom options", func() {
			registry := prometheus.NewRegistry()
			manager := NewManager(
				WithNamespace("test"),
				WithSubsystem("unit"),
				WithHistogramBuckets([]float64{1, 5, 10}),
				WithScoreBuckets([]float64{50, 100}),
				WithConstLabels(map[string]string{"env": "test"}),
				WithPrometheusRegistry(registry),
			)

			Convey("Then names and labels follow the options", func() {
				manager.leaseRecoveries.Inc()
				families, err := registry.Gather()
				So(err, ShouldBeNil)
				found := false
				for _, f := range families {
					if f.GetName() == "test_unit_lease_recoveries_total" {
						found = true
						So(f.GetMetric()[0].GetLabel()[0].GetName(), ShouldEqual, "env")
						So(f.GetMetric()[0].GetLabel()[0].GetValue(), ShouldEqual, "test")
					}
				}
				So(found, ShouldBeTrue)
				So(manager.histogramBuckets, ShouldResemble, []float64{1, 5, 10})
			})
		})
	})
}

func TestMetricsRecording(t *testing.T) {
	Convey("Given the global manager", t, func() {
		Convey("When recording lease outcomes", func() {
			before := testutil.ToFloat64(globalManager.leaseAcquisitions.WithLabelValues("busy"))
			RecordLeaseAcquisition("busy")
			RecordLeaseAcquisition("busy")
			RecordLeaseRecovery()
			RecordLeaseRelease("mismatch")
			UpdateLeaseHeld(true)

			Convey("Then the counters move", func() {
				So(testutil.ToFloat64(globalManager.leaseAcquisitions.WithLabelValues("busy")), ShouldEqual, before+2)
				So(testutil.ToFloat64(globalManager.leaseHeld), ShouldEqual, 1)
				UpdateLeaseHeld(false)
				So(testutil.ToFloat64(globalManager.leaseHeld), ShouldEqual, 0)
			})
		})

		Convey("When recording run progress", func() {
			UpdateRunProgress(3, 4)
			So(testutil.ToFloat64(globalManager.runProgressRatio), ShouldEqual, 0.75)
			UpdateRunProgress(0, 0)
			So(testutil.ToFloat64(globalManager.runProgressRatio), ShouldEqual, 0)
		})

		Convey("When recording backend and panel results", func() {
			before := testutil.ToFloat64(globalManager.backendFailures.WithLabelValues("alpha", "invalid_response"))
			RecordBackendAttempt("alpha", 12)
			RecordBackendFailure("alpha", "invalid_response")
			score := 80.0
			RecordPanelResult(2, &score)
			RecordPanelResult(0, nil)

			So(testutil.ToFloat64(globalManager.backendFailures.WithLabelValues("alpha", "invalid_response")), ShouldEqual, before+1)
		})

		Convey("When recording leaderboard generations", func() {
			RecordLeaderboardGeneration("final", "ok", 42)
			RecordLeaderboardGeneration("final", "error", 0)
			So(testutil.ToFloat64(globalManager.leaderboardEntries.WithLabelValues("final")), ShouldEqual, 42)
		})

		Convey("When recording store operations", func() {
			before := testutil.ToFloat64(globalManager.storeErrors.WithLabelValues("redis", "get_lease"))
			RecordStoreOperation("redis", "get_lease", 1.5, nil)
			RecordStoreOperation("redis", "get_lease", 2.5, errors.New("down"))
			So(testutil.ToFloat64(globalManager.storeErrors.WithLabelValues("redis", "get_lease")), ShouldEqual, before+1)
		})

		Convey("When recording HTTP, error and system metrics", func() {
			So(func() {
				RecordHTTPRequest("progress", "GET", "200")
				RecordHTTPRequestDuration("progress", "GET", "200", 3)
				RecordErrorByComponent("orchestrator", "store_unavailable")
				RecordErrorByType("store_unavailable", "high")
				RecordErrorByEndpoint("final_leaderboard", "POST", "server_error")
				RecordRun("completed", 12.5)
				RecordSubmissionEvaluated()
				RecordSubmissionSkipped()
				RecordSubmissionUnscored()
				UpdateSystemMemoryUsage(1 << 20)
				UpdateSystemGoroutineCount(12)
				RecordSystemGCPauseTime(0.4)
			}, ShouldNotPanic)
		})

		Convey("Then the custom registry is exposed", func() {
			So(GetRegistry(), ShouldNotBeNil)
		})
	})
}
