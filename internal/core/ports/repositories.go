package ports

import (
	"context"

	"statwindow/internal/core/domain"
)

// StreamStateStore keeps the most recent ClassifiedReport per stream key.
// Put always overwrites; no history is retained.
type StreamStateStore interface {
	Get(ctx context.Context, key domain.StreamKey) (domain.ClassifiedReport, bool, error)
	Put(ctx context.Context, key domain.StreamKey, report domain.ClassifiedReport) error
	Clear(ctx context.Context) error
	Len(ctx context.Context) (int, error)
}
