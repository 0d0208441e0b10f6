package webrtc

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"statwindow/internal/core/domain"
	"statwindow/internal/core/ports"

	"github.com/pion/interceptor/pkg/stats"
	"github.com/pion/webrtc/v3"
)

// ErrConnectionClosed is returned when the peer connection of a handle is closed.
var ErrConnectionClosed = errors.New("peer connection closed")

// FeedbackCounter counts RTCP feedback a sender received. The stats
// interceptor only sees feedback that passes its RTCP reader, so the
// sender's read loop fills in what it missed.
type FeedbackCounter struct {
	pli  atomic.Uint64
	nack atomic.Uint64
}

func (c *FeedbackCounter) AddPLI()       { c.pli.Add(1) }
func (c *FeedbackCounter) AddNACK(n int) { c.nack.Add(uint64(n)) }
func (c *FeedbackCounter) PLI() uint64   { return c.pli.Load() }
func (c *FeedbackCounter) NACKs() uint64 { return c.nack.Load() }

// SenderSource is the stats handle of one RTPSender. Records are read from
// the stats interceptor of the sender's peer connection.
type SenderSource struct {
	name     string
	pc       *webrtc.PeerConnection
	getter   stats.Getter
	sender   *webrtc.RTPSender
	feedback *FeedbackCounter
	now      func() time.Time
}

// NewSenderSource wraps sender. feedback may be nil.
func NewSenderSource(name string, pc *webrtc.PeerConnection, getter stats.Getter, sender *webrtc.RTPSender, feedback *FeedbackCounter) ports.StatsSource {
	return &SenderSource{name: name, pc: pc, getter: getter, sender: sender, feedback: feedback, now: time.Now}
}

func (s *SenderSource) Name() string { return s.name }

func (s *SenderSource) GetStats(ctx context.Context) (domain.RawSnapshot, error) {
	if s.pc == nil || s.getter == nil || s.sender == nil {
		return nil, domain.ErrHandleAbsent
	}
	if err := checkConnection(ctx, s.pc); err != nil {
		return nil, err
	}
	track := s.sender.Track()
	if track == nil {
		return nil, fmt.Errorf("%s has no track: %w", s.name, domain.ErrHandleAbsent)
	}

	streams := make([]sendStream, 0, 1)
	for _, enc := range s.sender.GetParameters().Encodings {
		streams = append(streams, sendStream{ssrc: uint32(enc.SSRC), rid: enc.RID})
	}
	return senderRecords(s.getter, track.Kind().String(), streams, s.feedback, s.now()), nil
}

// ReceiverSource is the stats handle of one RTPReceiver.
type ReceiverSource struct {
	name     string
	pc       *webrtc.PeerConnection
	getter   stats.Getter
	receiver *webrtc.RTPReceiver
	now      func() time.Time
}

func NewReceiverSource(name string, pc *webrtc.PeerConnection, getter stats.Getter, receiver *webrtc.RTPReceiver) ports.StatsSource {
	return &ReceiverSource{name: name, pc: pc, getter: getter, receiver: receiver, now: time.Now}
}

func (s *ReceiverSource) Name() string { return s.name }

func (s *ReceiverSource) GetStats(ctx context.Context) (domain.RawSnapshot, error) {
	if s.pc == nil || s.getter == nil || s.receiver == nil {
		return nil, domain.ErrHandleAbsent
	}
	if err := checkConnection(ctx, s.pc); err != nil {
		return nil, err
	}

	tracks := s.receiver.Tracks()
	streams := make([]receiveStream, 0, len(tracks))
	for _, track := range tracks {
		streams = append(streams, receiveStream{
			ssrc: uint32(track.SSRC()),
			rid:  track.RID(),
			kind: track.Kind().String(),
		})
	}
	return receiverRecords(s.getter, streams, s.now()), nil
}

func checkConnection(ctx context.Context, pc *webrtc.PeerConnection) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("stats fetch abandoned: %w", err)
	}
	if pc.ConnectionState() == webrtc.PeerConnectionStateClosed {
		return ErrConnectionClosed
	}
	return nil
}

type sendStream struct {
	ssrc uint32
	rid  string
}

type receiveStream struct {
	ssrc uint32
	rid  string
	kind string
}

// senderRecords builds an outbound-rtp record per stream the interceptor has
// seen, plus a remote-inbound-rtp record once receiver reports arrived.
func senderRecords(getter stats.Getter, kind string, streams []sendStream, feedback *FeedbackCounter, now time.Time) domain.RawSnapshot {
	snapshot := make(domain.RawSnapshot, 0, len(streams)*2)
	for _, st := range streams {
		s := getter.Get(st.ssrc)
		if s == nil {
			continue
		}

		out := s.OutboundRTPStreamStats
		record := domain.RawRecord{
			ID:        fmt.Sprintf("outbound-rtp-%d", st.ssrc),
			Type:      domain.RecordTypeOutboundRTP,
			Kind:      kind,
			SSRC:      st.ssrc,
			RID:       st.rid,
			Timestamp: now,
			Fields: map[domain.Field]float64{
				domain.FieldBytesSent: float64(out.BytesSent),
				domain.FieldNackCount: float64(out.NACKCount),
				domain.FieldPliCount:  float64(out.PLICount),
			},
		}
		if feedback != nil {
			raiseTo(record.Fields, domain.FieldPliCount, float64(feedback.PLI()))
			raiseTo(record.Fields, domain.FieldNackCount, float64(feedback.NACKs()))
		}
		snapshot = append(snapshot, record)

		remote := s.RemoteInboundRTPStreamStats
		if remote.PacketsReceived == 0 && remote.RoundTripTimeMeasurements == 0 {
			continue
		}
		snapshot = append(snapshot, domain.RawRecord{
			ID:        fmt.Sprintf("remote-inbound-rtp-%d", st.ssrc),
			Type:      domain.RecordTypeRemoteInboundRTP,
			Kind:      kind,
			SSRC:      st.ssrc,
			RID:       st.rid,
			Timestamp: now,
			Fields: map[domain.Field]float64{
				domain.FieldRoundTripTime: remote.RoundTripTime.Seconds(),
				domain.FieldFractionLost:  remote.FractionLost,
			},
		})
	}
	return snapshot
}

// receiverRecords builds an inbound-rtp record per stream the interceptor
// has seen.
func receiverRecords(getter stats.Getter, streams []receiveStream, now time.Time) domain.RawSnapshot {
	snapshot := make(domain.RawSnapshot, 0, len(streams))
	for _, st := range streams {
		s := getter.Get(st.ssrc)
		if s == nil {
			continue
		}

		in := s.InboundRTPStreamStats
		snapshot = append(snapshot, domain.RawRecord{
			ID:        fmt.Sprintf("inbound-rtp-%d", st.ssrc),
			Type:      domain.RecordTypeInboundRTP,
			Kind:      st.kind,
			SSRC:      st.ssrc,
			RID:       st.rid,
			Timestamp: now,
			Fields: map[domain.Field]float64{
				domain.FieldBytesReceived:   float64(in.BytesReceived),
				domain.FieldPacketsReceived: float64(in.PacketsReceived),
				domain.FieldPacketsLost:     float64(in.PacketsLost),
				domain.FieldNackCount:       float64(in.NACKCount),
			},
		})
	}
	return snapshot
}

func raiseTo(fields map[domain.Field]float64, f domain.Field, v float64) {
	if cur, ok := fields[f]; !ok || cur < v {
		fields[f] = v
	}
}
