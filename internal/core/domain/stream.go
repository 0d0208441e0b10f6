package domain

import (
	"fmt"
	"time"
)

// StreamID identifies one media stream within a session (rid, or NoRID).
type StreamID string

// NoRID keys streams for which the transport reports no rid.
const NoRID StreamID = "no-rid"

// SessionID identifies one scheduler lifetime.
type SessionID string

type Direction string

const (
	DirectionOutbound Direction = "outbound"
	DirectionInbound  Direction = "inbound"
)

// Directions lists every direction the scheduler polls.
var Directions = []Direction{DirectionOutbound, DirectionInbound}

func (d Direction) Valid() bool {
	return d == DirectionOutbound || d == DirectionInbound
}

type MediaKind string

const (
	MediaKindAudio MediaKind = "audio"
	MediaKindVideo MediaKind = "video"
	// MediaKindNone is assigned to records that carry no kind. It never
	// matches a classification request.
	MediaKindNone MediaKind = "none"
)

// MediaKinds lists the kinds that are classified on every tick.
var MediaKinds = []MediaKind{MediaKindAudio, MediaKindVideo}

// Partition is one (direction, kind) pair. Each partition owns its own
// stream state store so audio and video identifiers never collide.
type Partition struct {
	Direction Direction `json:"direction"`
	Kind      MediaKind `json:"kind"`
}

func (p Partition) String() string {
	return fmt.Sprintf("%s-%s", p.Direction, p.Kind)
}

// Partitions returns all four (direction, kind) pairs.
func Partitions() []Partition {
	out := make([]Partition, 0, len(Directions)*len(MediaKinds))
	for _, d := range Directions {
		for _, k := range MediaKinds {
			out = append(out, Partition{Direction: d, Kind: k})
		}
	}
	return out
}

// StreamKey addresses one entry of the stream state store.
type StreamKey struct {
	Direction Direction
	Kind      MediaKind
	StreamID  StreamID
}

func (k StreamKey) Partition() Partition {
	return Partition{Direction: k.Direction, Kind: k.Kind}
}

// RecordType is the stats dictionary type of a raw record.
type RecordType string

const (
	RecordTypeOutboundRTP      RecordType = "outbound-rtp"
	RecordTypeInboundRTP       RecordType = "inbound-rtp"
	RecordTypeRemoteInboundRTP RecordType = "remote-inbound-rtp"
)

// Field names a type-specific numeric field of a raw record.
type Field string

const (
	FieldBytesSent              Field = "bytesSent"
	FieldRetransmittedBytesSent Field = "retransmittedBytesSent"
	FieldTargetBitrate          Field = "targetBitrate"
	FieldTotalEncodeTime        Field = "totalEncodeTime"
	FieldHugeFramesSent         Field = "hugeFramesSent"
	FieldKeyFramesEncoded       Field = "keyFramesEncoded"
	FieldFramesPerSecond        Field = "framesPerSecond"
	FieldFrameWidth             Field = "frameWidth"
	FieldFrameHeight            Field = "frameHeight"
	FieldNackCount              Field = "nackCount"
	FieldPliCount               Field = "pliCount"
	FieldBytesReceived          Field = "bytesReceived"
	FieldPacketsReceived        Field = "packetsReceived"
	FieldPacketsLost            Field = "packetsLost"
	FieldRoundTripTime          Field = "roundTripTime"
	FieldFractionLost           Field = "fractionLost"
)

// RawRecord is one statistics dictionary as produced by the transport.
type RawRecord struct {
	ID        string
	Type      RecordType
	IsRemote  bool
	Kind      string // empty when the transport did not report a kind
	SSRC      uint32
	RID       string
	Timestamp time.Time
	Fields    map[Field]float64
}

// MediaKind maps the raw kind string, treating a missing kind as none.
func (r RawRecord) MediaKind() MediaKind {
	if r.Kind == "" {
		return MediaKindNone
	}
	return MediaKind(r.Kind)
}

// StreamID returns the rid, or NoRID when the transport reported none.
func (r RawRecord) StreamID() StreamID {
	if r.RID == "" {
		return NoRID
	}
	return StreamID(r.RID)
}

// Get returns a field and whether it was reported.
func (r RawRecord) Get(f Field) (float64, bool) {
	v, ok := r.Fields[f]
	return v, ok
}

// Value returns a field as a Value, absent when not reported.
func (r RawRecord) Value(f Field) Value {
	if v, ok := r.Fields[f]; ok {
		return Present(v)
	}
	return Absent()
}

// ValueOr returns a field, or def when not reported.
func (r RawRecord) ValueOr(f Field, def float64) float64 {
	if v, ok := r.Fields[f]; ok {
		return v
	}
	return def
}

// RawSnapshot is the unordered set of records returned by one fetch.
type RawSnapshot []RawRecord
