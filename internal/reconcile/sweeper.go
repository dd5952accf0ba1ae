// Package reconcile collects orphan blobs. An upload writes its blob first and
// dispatches the processing job second; when the dispatch fails, the blob has
// no consumer and nothing references it. The sweeper periodically deletes any
// blob that has aged past a grace period without a matching dispatched job.
package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"mediagate/internal/observability/metrics"
	"mediagate/internal/queue"
)

// BlobLister is the slice of the blob store the sweeper needs.
type BlobLister interface {
	ListOlderThan(ctx context.Context, cutoff time.Time) ([]string, error)
	Delete(ctx context.Context, key string) error
}

type sweepTicker interface {
	C() <-chan time.Time
	Stop()
}

type timeTicker struct {
	ticker *time.Ticker
}

func (t timeTicker) C() <-chan time.Time {
	return t.ticker.C
}

func (t timeTicker) Stop() {
	t.ticker.Stop()
}

type tickerFactory func(time.Duration) sweepTicker

const (
	// DefaultGrace is how long a blob may sit without a dispatched job
	// before it is considered orphaned. Generous so in-flight uploads
	// never race the sweeper.
	DefaultGrace = time.Hour
	// DefaultInterval is how often the sweep runs.
	DefaultInterval = 15 * time.Minute
)

// Sweeper deletes blobs the queue has never heard of.
type Sweeper struct {
	Blobs    BlobLister
	Jobs     queue.Inspector
	Grace    time.Duration
	Interval time.Duration
	// Lookback bounds how far back the queue is scanned for dispatched
	// jobs. Zero means scan the whole stream.
	Lookback time.Duration
	Logger   *slog.Logger
	Metrics  *metrics.Recorder

	now func() time.Time
}

func (s *Sweeper) clock() time.Time {
	if s.now != nil {
		return s.now()
	}
	return time.Now()
}

func (s *Sweeper) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

func (s *Sweeper) recorder() *metrics.Recorder {
	if s.Metrics != nil {
		return s.Metrics
	}
	return metrics.Default()
}

// SweepOnce runs a single pass: list blobs older than the grace cutoff, fetch
// the set of blob handles the queue has dispatched jobs for, delete the
// difference. Returns how many blobs were removed.
func (s *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	if s.Blobs == nil || s.Jobs == nil {
		return 0, fmt.Errorf("sweeper requires blob and queue access")
	}
	grace := s.Grace
	if grace <= 0 {
		grace = DefaultGrace
	}
	now := s.clock()
	cutoff := now.Add(-grace)

	candidates, err := s.Blobs.ListOlderThan(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("list sweep candidates: %w", err)
	}
	if len(candidates) == 0 {
		return 0, nil
	}

	var since time.Time
	if s.Lookback > 0 {
		since = now.Add(-s.Lookback)
	}
	dispatched, err := s.Jobs.DispatchedSince(ctx, since)
	if err != nil {
		return 0, fmt.Errorf("inspect dispatched jobs: %w", err)
	}

	deleted := 0
	for _, key := range candidates {
		if _, ok := dispatched[key]; ok {
			continue
		}
		if err := s.Blobs.Delete(ctx, key); err != nil {
			s.logger().Error("orphan delete failed", "blob_id", key, "error", err)
			continue
		}
		s.recorder().ObserveOrphanDeleted()
		s.logger().Info("orphan blob deleted", "blob_id", key)
		deleted++
	}
	return deleted, nil
}

// Start launches the periodic sweep and returns a stop function that blocks
// until the worker has exited. Safe to call the stop function more than once.
func (s *Sweeper) Start(ctx context.Context) func() {
	return s.startWithTicker(ctx, func(d time.Duration) sweepTicker {
		return timeTicker{ticker: time.NewTicker(d)}
	})
}

func (s *Sweeper) startWithTicker(ctx context.Context, newTicker tickerFactory) func() {
	interval := s.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	workerCtx, cancel := context.WithCancel(ctx)
	ticker := newTicker(interval)
	done := make(chan struct{})
	go func() {
		defer func() {
			ticker.Stop()
			close(done)
		}()
		for {
			select {
			case <-workerCtx.Done():
				return
			case <-ticker.C():
				if _, err := s.SweepOnce(workerCtx); err != nil {
					s.logger().Error("orphan sweep failed", "error", err)
				}
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			<-done
		})
	}
}
