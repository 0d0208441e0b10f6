package services

import (
	"testing"
	"time"

	"statwindow/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testEpoch = time.UnixMilli(1_700_000_000_000)

func outboundRecord(kind, rid string, ssrc uint32, fields map[domain.Field]float64) domain.RawRecord {
	return domain.RawRecord{
		ID:        "outbound-" + rid,
		Type:      domain.RecordTypeOutboundRTP,
		Kind:      kind,
		SSRC:      ssrc,
		RID:       rid,
		Timestamp: testEpoch,
		Fields:    fields,
	}
}

func remoteInboundRecord(kind string, ssrc uint32, rtt, lost float64) domain.RawRecord {
	return domain.RawRecord{
		ID:        "remote-inbound",
		Type:      domain.RecordTypeRemoteInboundRTP,
		Kind:      kind,
		SSRC:      ssrc,
		Timestamp: testEpoch,
		Fields: map[domain.Field]float64{
			domain.FieldRoundTripTime: rtt,
			domain.FieldFractionLost:  lost,
		},
	}
}

func inboundRecord(kind string, ssrc uint32, fields map[domain.Field]float64) domain.RawRecord {
	return domain.RawRecord{
		ID:        "inbound",
		Type:      domain.RecordTypeInboundRTP,
		Kind:      kind,
		SSRC:      ssrc,
		Timestamp: testEpoch,
		Fields:    fields,
	}
}

func TestClassify_ExcludesRecordsWithoutKind(t *testing.T) {
	snapshot := domain.RawSnapshot{
		outboundRecord("video", "h", 1, map[domain.Field]float64{domain.FieldBytesSent: 1000}),
		outboundRecord("", "q", 2, map[domain.Field]float64{domain.FieldBytesSent: 1000}),
	}

	reports := Classify(snapshot, domain.DirectionOutbound, domain.MediaKindVideo)

	require.Len(t, reports, 1)
	assert.Contains(t, reports, domain.StreamID("h"))
}

func TestClassify_Filters(t *testing.T) {
	remoteOutbound := outboundRecord("video", "r", 7, nil)
	remoteOutbound.IsRemote = true

	snapshot := domain.RawSnapshot{
		outboundRecord("video", "h", 1, nil),
		outboundRecord("audio", "", 2, nil),
		inboundRecord("video", 3, nil),
		remoteOutbound,
		{ID: "transport", Type: "transport"},
	}

	tests := []struct {
		name      string
		direction domain.Direction
		kind      domain.MediaKind
		want      []domain.StreamID
	}{
		{"outbound video", domain.DirectionOutbound, domain.MediaKindVideo, []domain.StreamID{"h"}},
		{"outbound audio", domain.DirectionOutbound, domain.MediaKindAudio, []domain.StreamID{domain.NoRID}},
		{"inbound video", domain.DirectionInbound, domain.MediaKindVideo, []domain.StreamID{domain.NoRID}},
		{"inbound audio", domain.DirectionInbound, domain.MediaKindAudio, nil},
		{"none kind", domain.DirectionOutbound, domain.MediaKindNone, nil},
		{"unknown direction", domain.Direction("sideways"), domain.MediaKindVideo, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reports := Classify(snapshot, tt.direction, tt.kind)
			var got []domain.StreamID
			for id := range reports {
				got = append(got, id)
			}
			assert.ElementsMatch(t, tt.want, got)
		})
	}
}

func TestClassify_OutboundUnits(t *testing.T) {
	snapshot := domain.RawSnapshot{
		outboundRecord("video", "h", 1, map[domain.Field]float64{
			domain.FieldBytesSent:              125000,
			domain.FieldRetransmittedBytesSent: 12500,
			domain.FieldTargetBitrate:          300000,
			domain.FieldTotalEncodeTime:        0.25,
			domain.FieldKeyFramesEncoded:       3,
			domain.FieldFrameWidth:             1280,
		}),
	}

	report := Classify(snapshot, domain.DirectionOutbound, domain.MediaKindVideo)["h"]

	assert.Equal(t, domain.Present(1000), report.EncodeBitrateKbps)
	assert.Equal(t, domain.Present(300), report.TargetBitrateKbps)
	assert.Equal(t, domain.Present(250), report.EncodeDurationMs)
	assert.Equal(t, domain.Present(10), report.PercentBitrateRetransmitted)
	assert.Equal(t, domain.Present(3), report.KeyframesEncoded)
	assert.Equal(t, domain.Present(1280), report.Width)
	assert.True(t, report.HugeFramesSent.IsAbsent())
	assert.True(t, report.NackCount.IsAbsent())
	assert.Equal(t, domain.Present(float64(testEpoch.UnixMilli())), report.Timestamp)
	assert.True(t, report.Local)
	assert.Equal(t, domain.DirectionOutbound, report.Direction)
}

func TestClassify_MergesRemoteInboundBySSRC(t *testing.T) {
	snapshot := domain.RawSnapshot{
		outboundRecord("video", "h", 10, nil),
		outboundRecord("video", "l", 11, nil),
		remoteInboundRecord("video", 10, 0.12, 0.05),
		remoteInboundRecord("audio", 11, 0.5, 0.5),
	}

	reports := Classify(snapshot, domain.DirectionOutbound, domain.MediaKindVideo)
	require.Len(t, reports, 2)

	high := reports["h"]
	assert.True(t, high.RemoteMatched)
	assert.Equal(t, domain.Present(0.12), high.RoundTripTime)
	assert.Equal(t, domain.Present(0.05), high.FractionLost)

	low := reports["l"]
	assert.False(t, low.RemoteMatched)
	assert.Equal(t, domain.Present(0), low.RoundTripTime)
	assert.Equal(t, domain.Present(0), low.FractionLost)
}

func TestClassify_LowestSSRCWinsOnSharedIdentifier(t *testing.T) {
	snapshot := domain.RawSnapshot{
		outboundRecord("audio", "", 30, nil),
		outboundRecord("audio", "", 20, nil),
		outboundRecord("audio", "", 25, nil),
	}

	reports := Classify(snapshot, domain.DirectionOutbound, domain.MediaKindAudio)

	require.Len(t, reports, 1)
	assert.Equal(t, uint32(20), reports[domain.NoRID].SSRC)
}

func TestClassify_Inbound(t *testing.T) {
	snapshot := domain.RawSnapshot{
		inboundRecord("audio", 5, map[domain.Field]float64{
			domain.FieldBytesReceived:   2500,
			domain.FieldPacketsReceived: 95,
			domain.FieldPacketsLost:     5,
			domain.FieldNackCount:       2,
		}),
	}

	report := Classify(snapshot, domain.DirectionInbound, domain.MediaKindAudio)[domain.NoRID]

	assert.Equal(t, domain.DirectionInbound, report.Direction)
	assert.Equal(t, domain.Present(20), report.DecodeBitrateKbps)
	assert.Equal(t, domain.Present(95), report.PacketsReceived)
	assert.Equal(t, domain.Present(5), report.PacketsLost)
	assert.Equal(t, domain.Present(2), report.NackCount)
	assert.Equal(t, domain.Present(0), report.FractionLost)
	assert.True(t, report.EncodeBitrateKbps.IsAbsent())
}

func TestClassify_MissingTimestampIsAbsent(t *testing.T) {
	record := inboundRecord("video", 1, nil)
	record.Timestamp = time.Time{}

	report := Classify(domain.RawSnapshot{record}, domain.DirectionInbound, domain.MediaKindVideo)[domain.NoRID]

	assert.True(t, report.Timestamp.IsAbsent())
}
