package backup

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"statwindow/internal/core/domain"
	"statwindow/pkg/backup"

	"go.uber.org/zap"
)

// SummarySource is the sample history a snapshot is taken from.
type SummarySource interface {
	Keys() []domain.MetricKey
	Samples(key domain.MetricKey) []float64
	Summary(key domain.MetricKey) (domain.Summary, bool)
}

// LatestSource supplies the most recent batch per partition.
type LatestSource interface {
	All() []domain.SampleBatch
}

// MetricSnapshot is the persisted history of one metric. Samples are Values
// so non-finite entries survive encoding.
type MetricSnapshot struct {
	Samples []domain.Value `json:"samples"`
	Display string         `json:"display"`
}

// SessionSnapshot is the payload written for a sampling session.
type SessionSnapshot struct {
	SessionID domain.SessionID                      `json:"session_id"`
	Metrics   map[domain.MetricKey]MetricSnapshot `json:"metrics"`
	Latest    []domain.SampleBatch                  `json:"latest,omitempty"`
}

// Config contains scheduler configuration
type Config struct {
	Interval time.Duration
	// Retain is how many snapshots are kept; older ones are pruned.
	Retain int
}

// Scheduler snapshots the session's summaries on an interval.
type Scheduler struct {
	service   *backup.Service
	sessionID domain.SessionID
	summaries SummarySource
	latest    LatestSource
	cfg       Config
	logger    *zap.SugaredLogger
}

func NewScheduler(
	service *backup.Service,
	sessionID domain.SessionID,
	summaries SummarySource,
	latest LatestSource,
	cfg Config,
	logger *zap.SugaredLogger,
) *Scheduler {
	return &Scheduler{
		service:   service,
		sessionID: sessionID,
		summaries: summaries,
		latest:    latest,
		cfg:       cfg,
		logger:    logger,
	}
}

// Run snapshots every interval until ctx is done.
func (s *Scheduler) Run(ctx context.Context) {
	if s.cfg.Interval <= 0 {
		return
	}
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := s.Snapshot(ctx); err != nil {
				s.logger.Warnw("scheduled snapshot failed", "error", err)
			}
		case <-ctx.Done():
			return
		}
	}
}

// Snapshot writes one snapshot now and prunes old ones. Nothing is written
// while no metric has samples.
func (s *Scheduler) Snapshot(ctx context.Context) (string, error) {
	payload := s.collect()
	if len(payload.Metrics) == 0 {
		return "", nil
	}

	name, err := s.service.Create(ctx, payload, map[string]string{
		"session_id": string(s.sessionID),
		"metrics":    fmt.Sprint(len(payload.Metrics)),
	})
	if err != nil {
		return "", err
	}
	s.logger.Debugw("snapshot written", "name", name, "metrics", len(payload.Metrics))

	if s.cfg.Retain > 0 {
		removed, err := s.service.Prune(ctx, s.cfg.Retain)
		if err != nil {
			s.logger.Warnw("failed to prune snapshots", "error", err)
		} else if removed > 0 {
			s.logger.Debugw("pruned snapshots", "removed", removed)
		}
	}
	return name, nil
}

func (s *Scheduler) collect() SessionSnapshot {
	snap := SessionSnapshot{
		SessionID: s.sessionID,
		Metrics:   make(map[domain.MetricKey]MetricSnapshot),
	}
	for _, key := range s.summaries.Keys() {
		summary, ok := s.summaries.Summary(key)
		if !ok {
			continue
		}
		samples := s.summaries.Samples(key)
		values := make([]domain.Value, len(samples))
		for i, v := range samples {
			values[i] = domain.Present(v)
		}
		snap.Metrics[key] = MetricSnapshot{Samples: values, Display: summary.String()}
	}
	if s.latest != nil {
		snap.Latest = s.latest.All()
	}
	return snap
}

// Load reads a snapshot, or the newest one when name is empty.
func Load(ctx context.Context, service *backup.Service, name string) (*backup.Snapshot, *SessionSnapshot, error) {
	if name == "" {
		latest, err := service.Latest(ctx)
		if err != nil {
			return nil, nil, err
		}
		if latest == "" {
			return nil, nil, fmt.Errorf("no snapshots found")
		}
		name = latest
	}

	snap, err := service.Restore(ctx, name)
	if err != nil {
		return nil, nil, err
	}
	var session SessionSnapshot
	if err := json.Unmarshal(snap.Payload, &session); err != nil {
		return nil, nil, fmt.Errorf("failed to decode session snapshot %s: %w", name, err)
	}
	return snap, &session, nil
}
