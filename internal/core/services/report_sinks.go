package services

import (
	"context"
	"sort"
	"sync"

	"statwindow/internal/core/domain"
	"statwindow/internal/core/ports"

	"go.uber.org/zap"
)

// FanoutSink publishes every batch to each of its sinks in order.
type FanoutSink struct {
	sinks []ports.ReportSink
}

func NewFanoutSink(sinks ...ports.ReportSink) *FanoutSink {
	out := make([]ports.ReportSink, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	return &FanoutSink{sinks: out}
}

func (f *FanoutSink) Publish(ctx context.Context, batch domain.SampleBatch) {
	for _, s := range f.sinks {
		s.Publish(ctx, batch)
	}
}

// LogSink writes the summary line of every batch, and each report at debug.
type LogSink struct {
	logger *zap.SugaredLogger
}

func NewLogSink(logger *zap.SugaredLogger) *LogSink {
	return &LogSink{logger: logger}
}

func (l *LogSink) Publish(_ context.Context, batch domain.SampleBatch) {
	keys := make([]string, 0, len(batch.Displays))
	for k := range batch.Displays {
		keys = append(keys, string(k))
	}
	sort.Strings(keys)

	fields := []interface{}{
		"session_id", batch.SessionID,
		"partition", batch.Partition.String(),
		"reports", len(batch.Reports),
	}
	for _, k := range keys {
		fields = append(fields, k, batch.Displays[domain.MetricKey(k)])
	}
	l.logger.Infow("sample batch", fields...)

	for _, r := range batch.Reports {
		l.logger.Debugw("windowed report",
			"partition", batch.Partition.String(),
			"rid", r.StreamID,
			"ssrc", r.SSRC,
			"windowed", r.Windowed,
			"sample_duration_ms", r.SampleDurationMs.String(),
			"bitrate_kbps", r.Bitrate().String(),
			"fraction_lost", r.FractionLost.String(),
			"nack_count", r.NackCount.String(),
		)
	}
}

// LatestBatches keeps the most recent batch of every partition for the
// status API.
type LatestBatches struct {
	mu      sync.RWMutex
	batches map[domain.Partition]domain.SampleBatch
}

func NewLatestBatches() *LatestBatches {
	return &LatestBatches{batches: make(map[domain.Partition]domain.SampleBatch)}
}

func (l *LatestBatches) Publish(_ context.Context, batch domain.SampleBatch) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.batches[batch.Partition] = batch
}

// Get returns the last batch of a partition.
func (l *LatestBatches) Get(partition domain.Partition) (domain.SampleBatch, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	b, ok := l.batches[partition]
	return b, ok
}

// All returns the last batch of every partition that produced one, in
// partition order.
func (l *LatestBatches) All() []domain.SampleBatch {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]domain.SampleBatch, 0, len(l.batches))
	for _, p := range domain.Partitions() {
		if b, ok := l.batches[p]; ok {
			out = append(out, b)
		}
	}
	return out
}

// Reset forgets every batch.
func (l *LatestBatches) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.batches = make(map[domain.Partition]domain.SampleBatch)
}
