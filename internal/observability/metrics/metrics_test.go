package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestRecorderWriteIncludesCounters(t *testing.T) {
	recorder := New()
	recorder.ObserveRequest(http.MethodPost, "/upload", http.StatusOK, 120*time.Millisecond)
	recorder.ObserveRequest(http.MethodPost, "/upload", http.StatusOK, 80*time.Millisecond)
	recorder.ObserveUnauthorized()
	recorder.ObserveUpload()
	recorder.ObserveOrphanDeleted()

	var builder strings.Builder
	recorder.Write(&builder)
	output := builder.String()

	if !strings.Contains(output, `mediagate_http_requests_total{method="POST",path="/upload",status="200"} 2`) {
		t.Fatalf("missing request counter in output:\n%s", output)
	}
	if !strings.Contains(output, "mediagate_unauthorized_requests_total 1") {
		t.Fatalf("missing unauthorized counter in output:\n%s", output)
	}
	if !strings.Contains(output, "mediagate_uploads_total 1") {
		t.Fatalf("missing uploads counter in output:\n%s", output)
	}
	if !strings.Contains(output, "mediagate_orphan_blobs_deleted_total 1") {
		t.Fatalf("missing orphan counter in output:\n%s", output)
	}
	if !strings.Contains(output, `mediagate_http_request_duration_seconds_count{method="POST",path="/upload",status="200"} 2`) {
		t.Fatalf("missing duration count in output:\n%s", output)
	}
}

func TestRecorderHandlerContentType(t *testing.T) {
	recorder := New()
	recorder.ObserveRequest(http.MethodGet, "/healthz", http.StatusOK, time.Millisecond)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	recorder.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if got := rec.Header().Get("Content-Type"); got != "text/plain; version=0.0.4" {
		t.Fatalf("Content-Type = %q", got)
	}
	if !strings.Contains(rec.Body.String(), "mediagate_http_requests_total") {
		t.Fatal("handler output missing request counter")
	}
}

func TestNormalizeRoute(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{path: "/login", want: "/login"},
		{path: "/download", want: "/download"},
		{path: "/download/", want: "/download"},
		{path: "/", want: "/"},
		{path: "", want: "/"},
		{path: "/admin/phpmyadmin", want: "other"},
		{path: "/upload/../../etc", want: "other"},
	}
	for _, tt := range tests {
		if got := normalizeRoute(tt.path); got != tt.want {
			t.Fatalf("normalizeRoute(%q) = %q, want %q", tt.path, got, tt.want)
		}
	}
}

func TestRecorderReset(t *testing.T) {
	recorder := New()
	recorder.ObserveUnauthorized()
	recorder.ObserveUpload()
	recorder.ObserveRequest(http.MethodGet, "/healthz", http.StatusOK, time.Millisecond)

	recorder.Reset()

	if recorder.UnauthorizedCount() != 0 {
		t.Fatalf("unauthorized count = %d after reset", recorder.UnauthorizedCount())
	}
	if recorder.UploadCount() != 0 {
		t.Fatalf("upload count = %d after reset", recorder.UploadCount())
	}
	var builder strings.Builder
	recorder.Write(&builder)
	if strings.Contains(builder.String(), `path="/healthz"`) {
		t.Fatal("request counters survived reset")
	}
}
