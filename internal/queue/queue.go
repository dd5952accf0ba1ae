// Package queue publishes processing jobs to the message broker. The gateway
// only produces; consuming workers live in a separate deployment.
package queue

import (
	"context"
	"time"

	"mediagate/internal/models"
)

// Publisher dispatches one job per accepted upload. Implementations must be
// safe for concurrent use from multiple request handlers.
type Publisher interface {
	Publish(ctx context.Context, job models.Job) error
	Close() error
}

// Inspector exposes the dispatch history needed by the orphan reconciler.
type Inspector interface {
	DispatchedSince(ctx context.Context, since time.Time) (map[string]struct{}, error)
}
