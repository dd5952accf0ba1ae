package metrics

import (
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

type requestLabel struct {
	method string
	path   string
	status string
}

// Recorder aggregates in-memory counters for HTTP requests, unauthorized
// attempts, accepted uploads, and reconciler deletions, and renders them in
// Prometheus text exposition format.
type Recorder struct {
	mu              sync.RWMutex
	requestCount    map[requestLabel]uint64
	requestDuration map[requestLabel]time.Duration
	unauthorized    atomic.Uint64
	uploads         atomic.Uint64
	orphansDeleted  atomic.Uint64
}

var defaultRecorder = New()

// New constructs an empty Recorder with initialized backing maps so callers
// can immediately record metrics without additional setup.
func New() *Recorder {
	return &Recorder{
		requestCount:    make(map[requestLabel]uint64),
		requestDuration: make(map[requestLabel]time.Duration),
	}
}

// Default returns the singleton Recorder shared by the package helpers.
func Default() *Recorder {
	return defaultRecorder
}

// ObserveRequest accumulates totals for request count and cumulative duration
// by HTTP method, normalized route, and status code.
func (r *Recorder) ObserveRequest(method, path string, status int, duration time.Duration) {
	label := requestLabel{
		method: strings.ToUpper(method),
		path:   normalizeRoute(path),
		status: fmt.Sprintf("%d", status),
	}
	r.mu.Lock()
	r.requestCount[label]++
	r.requestDuration[label] += duration
	r.mu.Unlock()
}

// ObserveUnauthorized counts one rejected request. Every authentication and
// authorization sub-reason feeds the same counter.
func (r *Recorder) ObserveUnauthorized() {
	r.unauthorized.Add(1)
}

// ObserveUpload counts one fully accepted upload (stored and dispatched).
func (r *Recorder) ObserveUpload() {
	r.uploads.Add(1)
}

// ObserveOrphanDeleted counts one blob removed by the reconciler.
func (r *Recorder) ObserveOrphanDeleted() {
	r.orphansDeleted.Add(1)
}

// UnauthorizedCount exposes the unauthorized counter for tests and reporting.
func (r *Recorder) UnauthorizedCount() uint64 {
	return r.unauthorized.Load()
}

// UploadCount exposes the accepted upload counter for tests and reporting.
func (r *Recorder) UploadCount() uint64 {
	return r.uploads.Load()
}

// Reset clears all counters on the recorder. It is intended for test setups.
func (r *Recorder) Reset() {
	r.mu.Lock()
	r.requestCount = make(map[requestLabel]uint64)
	r.requestDuration = make(map[requestLabel]time.Duration)
	r.mu.Unlock()
	r.unauthorized.Store(0)
	r.uploads.Store(0)
	r.orphansDeleted.Store(0)
}

// Handler exposes the Recorder as an http.Handler that writes Prometheus text
// exposition data with the appropriate content type.
func (r *Recorder) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		r.Write(w)
	})
}

// Write renders the Recorder's metrics in Prometheus text format, sorting
// label sets to provide stable output for scrapes and tests.
func (r *Recorder) Write(w io.Writer) {
	r.mu.RLock()
	requestLabels := r.sortedRequestLabels()
	counts := make(map[requestLabel]uint64, len(r.requestCount))
	durations := make(map[requestLabel]time.Duration, len(r.requestDuration))
	for label, count := range r.requestCount {
		counts[label] = count
	}
	for label, duration := range r.requestDuration {
		durations[label] = duration
	}
	r.mu.RUnlock()

	fmt.Fprintln(w, "# HELP mediagate_http_requests_total Total number of HTTP requests processed by the gateway")
	fmt.Fprintln(w, "# TYPE mediagate_http_requests_total counter")
	for _, label := range requestLabels {
		fmt.Fprintf(w, "mediagate_http_requests_total{method=%q,path=%q,status=%q} %d\n", label.method, label.path, label.status, counts[label])
	}

	fmt.Fprintln(w, "# HELP mediagate_http_request_duration_seconds_sum Cumulative duration of HTTP requests in seconds")
	fmt.Fprintln(w, "# TYPE mediagate_http_request_duration_seconds_sum counter")
	for _, label := range requestLabels {
		fmt.Fprintf(w, "mediagate_http_request_duration_seconds_sum{method=%q,path=%q,status=%q} %f\n", label.method, label.path, label.status, durations[label].Seconds())
	}

	fmt.Fprintln(w, "# HELP mediagate_http_request_duration_seconds_count Total number of observations for request durations")
	fmt.Fprintln(w, "# TYPE mediagate_http_request_duration_seconds_count counter")
	for _, label := range requestLabels {
		fmt.Fprintf(w, "mediagate_http_request_duration_seconds_count{method=%q,path=%q,status=%q} %d\n", label.method, label.path, label.status, counts[label])
	}

	fmt.Fprintln(w, "# HELP mediagate_unauthorized_requests_total Requests rejected for missing, invalid, or under-privileged credentials")
	fmt.Fprintln(w, "# TYPE mediagate_unauthorized_requests_total counter")
	fmt.Fprintf(w, "mediagate_unauthorized_requests_total %d\n", r.unauthorized.Load())

	fmt.Fprintln(w, "# HELP mediagate_uploads_total Uploads stored and dispatched successfully")
	fmt.Fprintln(w, "# TYPE mediagate_uploads_total counter")
	fmt.Fprintf(w, "mediagate_uploads_total %d\n", r.uploads.Load())

	fmt.Fprintln(w, "# HELP mediagate_orphan_blobs_deleted_total Blobs removed because no job was dispatched for them")
	fmt.Fprintln(w, "# TYPE mediagate_orphan_blobs_deleted_total counter")
	fmt.Fprintf(w, "mediagate_orphan_blobs_deleted_total %d\n", r.orphansDeleted.Load())
}

func (r *Recorder) sortedRequestLabels() []requestLabel {
	labels := make([]requestLabel, 0, len(r.requestCount))
	for label := range r.requestCount {
		labels = append(labels, label)
	}
	sort.Slice(labels, func(i, j int) bool {
		if labels[i].method != labels[j].method {
			return labels[i].method < labels[j].method
		}
		if labels[i].path != labels[j].path {
			return labels[i].path < labels[j].path
		}
		return labels[i].status < labels[j].status
	})
	return labels
}

var knownRoutes = map[string]struct{}{
	"/":         {},
	"/login":    {},
	"/validate": {},
	"/upload":   {},
	"/download": {},
	"/metrics":  {},
	"/healthz":  {},
}

// normalizeRoute collapses unknown paths into a single label value so a probe
// scan cannot blow up the label cardinality.
func normalizeRoute(path string) string {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return "/"
	}
	if len(trimmed) > 1 {
		trimmed = strings.TrimSuffix(trimmed, "/")
	}
	if _, ok := knownRoutes[trimmed]; ok {
		return trimmed
	}
	return "other"
}

// ObserveRequest is a helper on the default recorder.
func ObserveRequest(method, path string, status int, duration time.Duration) {
	defaultRecorder.ObserveRequest(method, path, status, duration)
}

// ObserveUnauthorized counts a rejected request on the default recorder.
func ObserveUnauthorized() {
	defaultRecorder.ObserveUnauthorized()
}

// ObserveUpload counts an accepted upload on the default recorder.
func ObserveUpload() {
	defaultRecorder.ObserveUpload()
}

// Handler exposes the default recorder as an HTTP handler.
func Handler() http.Handler {
	return defaultRecorder.Handler()
}
