// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/okian/evalbench/pkg/metrics"
)

// Error codes carried in the metrics labels. They match the codes statusFor
// puts in error bodies.
const (
	kindBadRequest   = "bad_request"
	kindUnauthorized = "unauthorized"
	kindForbidden    = "forbidden"
	kindNotFound     = "not_found"
	kindBusy         = "busy"
	kindInternal     = "internal_error"
	kindOtherClient  = "client_error"
)

// MetricsMiddleware records request count and latency for endpoint, plus an
// error counter labelled with the error code the handler answered with.
func MetricsMiddleware(next http.HandlerFunc, endpoint string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		code := strconv.Itoa(rec.status)
		metrics.RecordHTTPRequest(endpoint, r.Method, code)
		metrics.RecordHTTPRequestDuration(endpoint, r.Method, code, float64(time.Since(start).Milliseconds()))

		if rec.status < http.StatusBadRequest {
			return
		}
		kind := rec.kind
		if kind == "" {
			kind = kindForStatus(rec.status)
		}
		metrics.RecordErrorByEndpoint(endpoint, r.Method, kind)
		metrics.RecordErrorByType(kind, severityOf(kind))
		metrics.RecordErrorByComponent("api", kind)
	}
}

// kindForStatus covers responses written without writeError, such as the
// mux's own 404 and 405 answers.
func kindForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return kindBadRequest
	case http.StatusUnauthorized:
		return kindUnauthorized
	case http.StatusForbidden:
		return kindForbidden
	case http.StatusNotFound:
		return kindNotFound
	case http.StatusConflict:
		return kindBusy
	}
	if status >= http.StatusInternalServerError {
		return kindInternal
	}
	return kindOtherClient
}

// severityOf ranks error codes. A busy lease is normal contention.
func severityOf(kind string) string {
	switch kind {
	case kindInternal:
		return "high"
	case kindBusy:
		return "low"
	default:
		return "medium"
	}
}

// errorTagger is implemented by writers that want the code writeError chose.
type errorTagger interface {
	tagError(code string)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	kind   string
}

func (rw *statusRecorder) WriteHeader(status int) {
	rw.status = status
	rw.ResponseWriter.WriteHeader(status)
}

func (rw *statusRecorder) tagError(code string) { rw.kind = code }
