package backup

import (
	"context"
	"math"
	"testing"

	"statwindow/internal/core/domain"
	"statwindow/internal/core/services"
	"statwindow/pkg/backup"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newTestScheduler(t *testing.T, retain int) (*Scheduler, *services.AggregateSummary, *backup.Service) {
	t.Helper()
	storage, err := backup.NewFileStorage(t.TempDir())
	require.NoError(t, err)
	service := backup.NewService(storage, "test")

	summary := services.NewAggregateSummary()
	latest := services.NewLatestBatches()
	latest.Publish(context.Background(), domain.SampleBatch{
		SessionID: "session",
		Partition: domain.Partition{Direction: domain.DirectionInbound, Kind: domain.MediaKindAudio},
	})

	s := NewScheduler(service, "session", summary, latest, Config{Retain: retain}, zaptest.NewLogger(t).Sugar())
	return s, summary, service
}

func TestScheduler_SnapshotRoundTrip(t *testing.T) {
	s, summary, service := newTestScheduler(t, 0)
	summary.Record("inbound-audio-loss", 0.25)
	summary.Record("inbound-audio-loss", 0.5)
	summary.Record("inbound-audio-bitrate", math.Inf(1))

	name, err := s.Snapshot(context.Background())
	require.NoError(t, err)
	require.NotEmpty(t, name)

	meta, session, err := Load(context.Background(), service, "")
	require.NoError(t, err)
	assert.Equal(t, "session", meta.Metadata["session_id"])
	assert.Equal(t, domain.SessionID("session"), session.SessionID)
	assert.Len(t, session.Latest, 1)

	loss := session.Metrics["inbound-audio-loss"]
	assert.Equal(t, []domain.Value{domain.Present(0.25), domain.Present(0.5)}, loss.Samples)
	assert.Equal(t, "[Avg: 0.375] [Min: 0.25] [Max: 0.5]", loss.Display)

	bitrate := session.Metrics["inbound-audio-bitrate"]
	require.Len(t, bitrate.Samples, 1)
	assert.True(t, bitrate.Samples[0].IsIndeterminate())
}

func TestScheduler_SkipsEmptySession(t *testing.T) {
	s, _, service := newTestScheduler(t, 0)

	name, err := s.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Empty(t, name)

	names, err := service.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestScheduler_PrunesToRetain(t *testing.T) {
	s, summary, service := newTestScheduler(t, 2)
	summary.Record("outbound-video-loss", 0)

	for i := 0; i < 4; i++ {
		_, err := s.Snapshot(context.Background())
		require.NoError(t, err)
	}

	names, err := service.List(context.Background())
	require.NoError(t, err)
	assert.LessOrEqual(t, len(names), 2)
}

func TestLoad_NoSnapshots(t *testing.T) {
	storage, err := backup.NewFileStorage(t.TempDir())
	require.NoError(t, err)

	_, _, err = Load(context.Background(), backup.NewService(storage, "test"), "")
	assert.Error(t, err)
}
