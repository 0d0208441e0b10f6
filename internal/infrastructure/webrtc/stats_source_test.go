package webrtc

import (
	"context"
	"testing"
	"time"

	"statwindow/internal/core/domain"

	"github.com/pion/interceptor/pkg/stats"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type fakeGetter map[uint32]*stats.Stats

func (g fakeGetter) Get(ssrc uint32) *stats.Stats { return g[ssrc] }

func outboundStats(bytesSent uint64, nacks uint32) *stats.Stats {
	s := &stats.Stats{}
	s.OutboundRTPStreamStats.BytesSent = bytesSent
	s.OutboundRTPStreamStats.NACKCount = nacks
	return s
}

func recordsByType(snapshot domain.RawSnapshot) map[domain.RecordType]domain.RawRecord {
	byType := make(map[domain.RecordType]domain.RawRecord)
	for _, r := range snapshot {
		byType[r.Type] = r
	}
	return byType
}

func TestSenderRecords_OutboundAndRemoteInbound(t *testing.T) {
	now := time.UnixMilli(1_700_000_000_000)
	s := outboundStats(125000, 4)
	s.RemoteInboundRTPStreamStats.PacketsReceived = 90
	s.RemoteInboundRTPStreamStats.RoundTripTime = 80 * time.Millisecond
	s.RemoteInboundRTPStreamStats.RoundTripTimeMeasurements = 3
	s.RemoteInboundRTPStreamStats.FractionLost = 0.01

	snapshot := senderRecords(fakeGetter{1: s}, "video", []sendStream{{ssrc: 1, rid: "h"}}, nil, now)
	require.Len(t, snapshot, 2)
	byType := recordsByType(snapshot)

	out := byType[domain.RecordTypeOutboundRTP]
	assert.Equal(t, "h", out.RID)
	assert.Equal(t, domain.MediaKindVideo, out.MediaKind())
	assert.Equal(t, now, out.Timestamp)
	assert.Equal(t, 125000.0, out.Fields[domain.FieldBytesSent])
	assert.Equal(t, 4.0, out.Fields[domain.FieldNackCount])

	remote := byType[domain.RecordTypeRemoteInboundRTP]
	assert.False(t, remote.IsRemote)
	assert.Equal(t, uint32(1), remote.SSRC)
	assert.InDelta(t, 0.08, remote.Fields[domain.FieldRoundTripTime], 1e-9)
	assert.Equal(t, 0.01, remote.Fields[domain.FieldFractionLost])
}

func TestSenderRecords_SkipsUnseenStreamsAndMissingReports(t *testing.T) {
	getter := fakeGetter{1: outboundStats(1000, 0)}
	streams := []sendStream{{ssrc: 1}, {ssrc: 2}}

	snapshot := senderRecords(getter, "audio", streams, nil, time.Now())
	require.Len(t, snapshot, 1)
	assert.Equal(t, domain.RecordTypeOutboundRTP, snapshot[0].Type)
	assert.Equal(t, domain.NoRID, snapshot[0].StreamID())
}

func TestSenderRecords_FeedbackRaisesCounters(t *testing.T) {
	feedback := &FeedbackCounter{}
	feedback.AddPLI()
	feedback.AddPLI()
	feedback.AddNACK(7)

	snapshot := senderRecords(fakeGetter{1: outboundStats(0, 3)}, "video", []sendStream{{ssrc: 1}}, feedback, time.Now())
	require.Len(t, snapshot, 1)
	assert.Equal(t, 2.0, snapshot[0].Fields[domain.FieldPliCount])
	assert.Equal(t, 7.0, snapshot[0].Fields[domain.FieldNackCount])
}

func TestReceiverRecords_Inbound(t *testing.T) {
	s := &stats.Stats{}
	s.InboundRTPStreamStats.PacketsReceived = 95
	s.InboundRTPStreamStats.PacketsLost = 5
	s.InboundRTPStreamStats.BytesReceived = 4000

	snapshot := receiverRecords(fakeGetter{7: s}, []receiveStream{{ssrc: 7, kind: "audio"}, {ssrc: 8, kind: "video"}}, time.Now())
	require.Len(t, snapshot, 1)
	assert.Equal(t, domain.RecordTypeInboundRTP, snapshot[0].Type)
	assert.Equal(t, domain.MediaKindAudio, snapshot[0].MediaKind())
	assert.Equal(t, 5.0, snapshot[0].Fields[domain.FieldPacketsLost])
	assert.Equal(t, 95.0, snapshot[0].Fields[domain.FieldPacketsReceived])
	assert.Equal(t, 4000.0, snapshot[0].Fields[domain.FieldBytesReceived])
}

func TestSources_AbsentHandle(t *testing.T) {
	_, err := NewSenderSource("s", nil, nil, nil, nil).GetStats(context.Background())
	assert.ErrorIs(t, err, domain.ErrHandleAbsent)

	_, err = NewReceiverSource("r", nil, nil, nil).GetStats(context.Background())
	assert.ErrorIs(t, err, domain.ErrHandleAbsent)
}

func TestLoopback_ProducesStats(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	loopback, err := NewLoopback(ctx, LoopbackConfig{Audio: true, Video: true}, zaptest.NewLogger(t).Sugar())
	require.NoError(t, err)
	t.Cleanup(loopback.Close)

	senders := loopback.SenderSources()
	require.Len(t, senders, 2)
	receivers := loopback.ReceiverSources()
	require.NotEmpty(t, receivers)

	for _, source := range append(senders, receivers...) {
		source := source
		require.Eventually(t, func() bool {
			snapshot, err := source.GetStats(ctx)
			if err != nil || len(snapshot) == 0 {
				return false
			}
			for _, r := range snapshot {
				if r.MediaKind() == domain.MediaKindNone {
					return false
				}
				if r.Fields[domain.FieldBytesSent] > 0 || r.Fields[domain.FieldBytesReceived] > 0 {
					return true
				}
			}
			return false
		}, 10*time.Second, 50*time.Millisecond, source.Name())
	}
}
