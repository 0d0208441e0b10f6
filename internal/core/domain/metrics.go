package domain

import (
	"fmt"
	"math"
	"time"
)

// ClassifiedReport merges the records describing one stream into a flat
// report. Only the fields of the report's direction are populated; the rest
// stay absent.
type ClassifiedReport struct {
	Direction Direction `json:"direction"`
	Kind      MediaKind `json:"kind"`
	StreamID  StreamID  `json:"rid"`
	SSRC      uint32    `json:"ssrc"`
	Local     bool      `json:"local"`

	// Timestamp is milliseconds since the Unix epoch.
	Timestamp Value `json:"timestamp"`

	// Outbound
	TargetBitrateKbps           Value `json:"targetBitrateKbps"`
	EncodeBitrateKbps           Value `json:"encodeBitrateKbps"`
	EncodeDurationMs            Value `json:"encodeDurationMs"`
	HugeFramesSent              Value `json:"hugeFramesSent"`
	KeyframesEncoded            Value `json:"keyframesEncoded"`
	PictureLossCount            Value `json:"pictureLossCount"`
	FramesPerSecond             Value `json:"framesPerSecond"`
	Width                       Value `json:"width"`
	Height                      Value `json:"height"`
	PercentBitrateRetransmitted Value `json:"percentBitrateRetransmitted"`
	RoundTripTime               Value `json:"roundTripTime"`
	// RemoteMatched is false when no remote-inbound counterpart was found and
	// RoundTripTime/FractionLost hold their zero defaults.
	RemoteMatched bool `json:"remoteMatched"`

	// Inbound
	DecodeBitrateKbps Value `json:"decodeBitrateKbps"`
	PacketsReceived   Value `json:"packetsReceived"`
	PacketsLost       Value `json:"packetsLost"`

	// Both
	NackCount    Value `json:"nackCount"`
	FractionLost Value `json:"fractionLost"`
}

// Key returns the stream state store key of the report.
func (r ClassifiedReport) Key() StreamKey {
	return StreamKey{Direction: r.Direction, Kind: r.Kind, StreamID: r.StreamID}
}

// WindowedReport is a ClassifiedReport whose cumulative fields were replaced
// by per-interval values. When Windowed is false the report is the first
// sample of its stream and equals the ClassifiedReport.
type WindowedReport struct {
	ClassifiedReport
	Windowed         bool  `json:"windowed"`
	SampleDurationMs Value `json:"sampleDurationMs"`
}

// Bitrate returns the encode bitrate for outbound and decode bitrate for
// inbound reports.
func (r WindowedReport) Bitrate() Value {
	if r.Direction == DirectionOutbound {
		return r.EncodeBitrateKbps
	}
	return r.DecodeBitrateKbps
}

// MetricKey names one sample history.
type MetricKey string

// LossMetricKey is the history of fraction lost for a partition.
func LossMetricKey(p Partition) MetricKey {
	return MetricKey(p.String() + "-loss")
}

// BitrateMetricKey is the history of windowed bitrate for a partition.
func BitrateMetricKey(p Partition) MetricKey {
	return MetricKey(p.String() + "-bitrate")
}

// Summary is the running min/max/average of a sample history.
type Summary struct {
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Avg   float64 `json:"avg"`
	Count int     `json:"count"`
}

// Truncate3 truncates toward zero to three decimals, the display precision.
func Truncate3(v float64) float64 {
	return math.Trunc(v*1000) / 1000
}

func (s Summary) String() string {
	return fmt.Sprintf("[Avg: %v] [Min: %v] [Max: %v]", Truncate3(s.Avg), Truncate3(s.Min), Truncate3(s.Max))
}

// SampleBatch is what one tick hands to the presentation sink for one
// partition.
type SampleBatch struct {
	SessionID SessionID             `json:"session_id"`
	Partition Partition             `json:"partition"`
	Reports   []WindowedReport      `json:"reports"`
	Summaries map[MetricKey]Summary `json:"-"`
	Displays  map[MetricKey]string  `json:"summaries"`
	At        time.Time             `json:"at"`
}
