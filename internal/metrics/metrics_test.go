package metrics

import (
	"database/sql"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMiddlewareWithChiRouter(t *testing.T) {
	HTTPRequestsTotal.Reset()

	r := chi.NewRouter()
	r.Use(Middleware)
	r.Post("/api/send-contact-message", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	})

	req := httptest.NewRequest(http.MethodPost, "/api/send-contact-message", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusTooManyRequests {
		t.Errorf("Expected status 429, got %d", rec.Code)
	}

	got := testutil.ToFloat64(HTTPRequestsTotal.WithLabelValues("POST", "/api/send-contact-message", "429"))
	if got != 1 {
		t.Errorf("Expected 1 request recorded for the route pattern, got %v", got)
	}
}

func TestMiddleware_UnmatchedPathLabel(t *testing.T) {
	HTTPRequestsTotal.Reset()

	handler := Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/random/123", nil))

	if got := testutil.ToFloat64(HTTPRequestsTotal.WithLabelValues("GET", "unmatched", "404")); got != 1 {
		t.Errorf("Expected unmatched label to be used, got %v", got)
	}
}

func TestResponseWriter(t *testing.T) {
	rec := httptest.NewRecorder()
	rw := newResponseWriter(rec)

	rw.WriteHeader(http.StatusCreated)
	if rw.statusCode != http.StatusCreated {
		t.Errorf("Expected status code 201, got %d", rw.statusCode)
	}

	data := []byte("Hello, World!")
	n, err := rw.Write(data)
	if err != nil {
		t.Errorf("Unexpected error: %v", err)
	}
	if n != len(data) || rw.size != len(data) {
		t.Errorf("Expected size %d, got n=%d size=%d", len(data), n, rw.size)
	}
}

func TestRecordSubmissionAndDispatch(t *testing.T) {
	SubmissionsTotal.Reset()
	RecordSubmission(OutcomeSuccess)
	RecordSubmission(OutcomeSuccess)
	RecordSubmission(OutcomeRateLimited)

	if got := testutil.ToFloat64(SubmissionsTotal.WithLabelValues(OutcomeSuccess)); got != 2 {
		t.Errorf("Expected 2 successes, got %v", got)
	}

	DispatchDuration.Reset()
	RecordDispatch(100*time.Millisecond, nil)
	RecordDispatch(time.Second, errors.New("boom"))
	if n := testutil.CollectAndCount(DispatchDuration); n != 2 {
		t.Errorf("Expected two result series, got %d", n)
	}
}

type fakeStats struct{}

func (fakeStats) Stats() sql.DBStats {
	return sql.DBStats{OpenConnections: 4, InUse: 1, Idle: 3}
}

func TestDBStatsCollector(t *testing.T) {
	c := NewDBStatsCollector(fakeStats{}, nil)
	c.collect()

	if got := testutil.ToFloat64(DBConnectionsOpen); got != 4 {
		t.Errorf("Expected 4 open connections, got %v", got)
	}
	if got := testutil.ToFloat64(DBConnectionsIdle); got != 3 {
		t.Errorf("Expected 3 idle connections, got %v", got)
	}
}

func TestHandler(t *testing.T) {
	RecordSubmission(OutcomeSuccess)

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.Contains(ct, "text/plain") {
		t.Errorf("Expected text/plain content type, got %s", ct)
	}
	if !strings.Contains(rec.Body.String(), "contact_intake_submissions_total") {
		t.Errorf("Expected body to contain contact_intake_submissions_total")
	}
}

func TestMetricsRegistration(t *testing.T) {
	collectors := []prometheus.Collector{
		HTTPRequestsTotal,
		HTTPRequestDuration,
		HTTPRequestsInFlight,
		SubmissionsTotal,
		RateLimitedTotal,
		SuspiciousInputTotal,
		DispatchDuration,
		ArchiveFailuresTotal,
		DBConnectionsOpen,
		DBConnectionsInUse,
		DBConnectionsIdle,
		DBQueryDuration,
	}

	for _, m := range collectors {
		desc := make(chan *prometheus.Desc, 10)
		m.Describe(desc)
		close(desc)

		count := 0
		for range desc {
			count++
		}
		if count == 0 {
			t.Errorf("Metric has no descriptions")
		}
	}
}
