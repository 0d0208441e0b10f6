package ports

import (
	"context"
	"time"

	"statwindow/internal/core/domain"
)

// StatsSource is one send or receive handle of the media transport.
type StatsSource interface {
	// Name identifies the handle in logs and metrics.
	Name() string
	GetStats(ctx context.Context) (domain.RawSnapshot, error)
}

// ReportSink receives the windowed reports of every tick.
type ReportSink interface {
	Publish(ctx context.Context, batch domain.SampleBatch)
}

// PollingController is the control surface of the sampling scheduler.
type PollingController interface {
	StartOutbound(handles []StatsSource, interval time.Duration) error
	StartInbound(handles []StatsSource, interval time.Duration) error
	Stop()
	Running(direction domain.Direction) bool
	SessionID() domain.SessionID
}

// SummaryReader exposes the aggregate summaries for display.
type SummaryReader interface {
	Summary(key domain.MetricKey) (domain.Summary, bool)
	Keys() []domain.MetricKey
}

// PollObserver receives timing and outcome of fetches and ticks.
type PollObserver interface {
	ObserveFetch(direction domain.Direction, handle string, duration time.Duration, err error)
	ObserveTick(direction domain.Direction, duration time.Duration, reports int, discarded bool)
	ObserveBreakerState(handle string, state string)
}
