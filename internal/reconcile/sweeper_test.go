package reconcile

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"mediagate/internal/observability/metrics"
)

type fakeBlobs struct {
	mu        sync.Mutex
	blobs     map[string]time.Time
	deleted   []string
	listErr   error
	deleteErr error
}

func (f *fakeBlobs) ListOlderThan(_ context.Context, cutoff time.Time) ([]string, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var keys []string
	for key, created := range f.blobs {
		if created.Before(cutoff) {
			keys = append(keys, key)
		}
	}
	return keys, nil
}

func (f *fakeBlobs) Delete(_ context.Context, key string) error {
	if f.deleteErr != nil {
		return f.deleteErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.blobs, key)
	f.deleted = append(f.deleted, key)
	return nil
}

func (f *fakeBlobs) remaining() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.blobs)
}

func (f *fakeBlobs) contains(key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.blobs[key]
	return ok
}

type fakeInspector struct {
	dispatched map[string]struct{}
	err        error
}

func (f *fakeInspector) DispatchedSince(context.Context, time.Time) (map[string]struct{}, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.dispatched, nil
}

func newTestSweeper(blobs *fakeBlobs, jobs *fakeInspector, now time.Time) *Sweeper {
	return &Sweeper{
		Blobs:   blobs,
		Jobs:    jobs,
		Grace:   time.Hour,
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		Metrics: metrics.New(),
		now:     func() time.Time { return now },
	}
}

func TestSweepOnceDeletesOrphans(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	blobs := &fakeBlobs{blobs: map[string]time.Time{
		"orphan-old":  now.Add(-2 * time.Hour),
		"claimed-old": now.Add(-2 * time.Hour),
		"fresh":       now.Add(-time.Minute),
	}}
	jobs := &fakeInspector{dispatched: map[string]struct{}{"claimed-old": {}}}
	sweeper := newTestSweeper(blobs, jobs, now)

	deleted, err := sweeper.SweepOnce(context.Background())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if deleted != 1 {
		t.Fatalf("deleted = %d, want 1", deleted)
	}
	if len(blobs.deleted) != 1 || blobs.deleted[0] != "orphan-old" {
		t.Fatalf("deleted keys = %v, want [orphan-old]", blobs.deleted)
	}
	if !blobs.contains("claimed-old") {
		t.Fatal("blob with a dispatched job was removed")
	}
	if !blobs.contains("fresh") {
		t.Fatal("blob inside the grace period was removed")
	}
}

func TestSweepOnceNoCandidates(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	blobs := &fakeBlobs{blobs: map[string]time.Time{"fresh": now.Add(-time.Minute)}}
	jobs := &fakeInspector{dispatched: map[string]struct{}{}}
	sweeper := newTestSweeper(blobs, jobs, now)

	deleted, err := sweeper.SweepOnce(context.Background())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if deleted != 0 {
		t.Fatalf("deleted = %d, want 0", deleted)
	}
}

func TestSweepOnceQueueFailureDeletesNothing(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	blobs := &fakeBlobs{blobs: map[string]time.Time{"orphan-old": now.Add(-2 * time.Hour)}}
	jobs := &fakeInspector{err: errors.New("queue down")}
	sweeper := newTestSweeper(blobs, jobs, now)

	if _, err := sweeper.SweepOnce(context.Background()); err == nil {
		t.Fatal("expected error when queue inspection fails")
	}
	if len(blobs.deleted) != 0 {
		t.Fatalf("deleted keys = %v, want none", blobs.deleted)
	}
}

func TestSweepOnceDeleteFailureContinues(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	blobs := &fakeBlobs{
		blobs:     map[string]time.Time{"orphan-old": now.Add(-2 * time.Hour)},
		deleteErr: errors.New("backend down"),
	}
	jobs := &fakeInspector{dispatched: map[string]struct{}{}}
	sweeper := newTestSweeper(blobs, jobs, now)

	deleted, err := sweeper.SweepOnce(context.Background())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if deleted != 0 {
		t.Fatalf("deleted = %d, want 0", deleted)
	}
}

type manualTicker struct {
	c       chan time.Time
	stopped chan struct{}
}

func newManualTicker() *manualTicker {
	return &manualTicker{
		c:       make(chan time.Time, 1),
		stopped: make(chan struct{}),
	}
}

func (m *manualTicker) C() <-chan time.Time {
	return m.c
}

func (m *manualTicker) Stop() {
	select {
	case <-m.stopped:
		return
	default:
		close(m.stopped)
	}
}

func (m *manualTicker) Tick() {
	select {
	case m.c <- time.Now():
	default:
	}
}

func TestStartRunsOnTick(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	blobs := &fakeBlobs{blobs: map[string]time.Time{"orphan-old": now.Add(-2 * time.Hour)}}
	jobs := &fakeInspector{dispatched: map[string]struct{}{}}
	sweeper := newTestSweeper(blobs, jobs, now)
	sweeper.Interval = time.Minute

	ticker := newManualTicker()
	stop := sweeper.startWithTicker(context.Background(), func(time.Duration) sweepTicker {
		return ticker
	})

	ticker.Tick()
	deadline := time.After(2 * time.Second)
	for {
		if blobs.remaining() == 0 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("sweep did not run after tick")
		case <-time.After(10 * time.Millisecond):
		}
	}

	stop()
	select {
	case <-ticker.stopped:
	default:
		t.Fatal("ticker was not stopped on shutdown")
	}
}
