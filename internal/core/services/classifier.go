package services

import (
	"statwindow/internal/core/domain"
)

// primaryRecordType is the record type carrying a direction's primary fields.
func primaryRecordType(direction domain.Direction) domain.RecordType {
	if direction == domain.DirectionOutbound {
		return domain.RecordTypeOutboundRTP
	}
	return domain.RecordTypeInboundRTP
}

// Classify filters a raw snapshot down to the local records of one direction
// and media kind and indexes them by stream identifier. Outbound reports are
// merged with their remote-inbound counterpart by SSRC.
func Classify(snapshot domain.RawSnapshot, direction domain.Direction, kind domain.MediaKind) map[domain.StreamID]domain.ClassifiedReport {
	result := make(map[domain.StreamID]domain.ClassifiedReport)
	if !direction.Valid() || kind == domain.MediaKindNone {
		return result
	}

	primaryType := primaryRecordType(direction)
	for _, record := range snapshot {
		if !matches(record, primaryType, kind) {
			continue
		}

		var report domain.ClassifiedReport
		if direction == domain.DirectionOutbound {
			report = classifyOutbound(record, kind)
		} else {
			report = classifyInbound(record, kind)
		}

		// Lowest SSRC wins when two streams share an identifier.
		if existing, ok := result[report.StreamID]; ok && existing.SSRC <= report.SSRC {
			continue
		}
		result[report.StreamID] = report
	}

	if direction == domain.DirectionOutbound {
		mergeRemoteInbound(snapshot, kind, result)
	}

	return result
}

func matches(record domain.RawRecord, recordType domain.RecordType, kind domain.MediaKind) bool {
	return record.Type == recordType && !record.IsRemote && record.MediaKind() == kind
}

func timestampValue(record domain.RawRecord) domain.Value {
	if record.Timestamp.IsZero() {
		return domain.Absent()
	}
	return domain.Present(float64(record.Timestamp.UnixMicro()) / 1000)
}

func kbps(bytes float64) float64 {
	return 8 * bytes / 1000
}

func classifyOutbound(record domain.RawRecord, kind domain.MediaKind) domain.ClassifiedReport {
	encodeBitrateKbps := kbps(record.ValueOr(domain.FieldBytesSent, 0))
	retransmittedKbps := kbps(record.ValueOr(domain.FieldRetransmittedBytesSent, 0))

	return domain.ClassifiedReport{
		Direction:                   domain.DirectionOutbound,
		Kind:                        kind,
		StreamID:                    record.StreamID(),
		SSRC:                        record.SSRC,
		Local:                       true,
		Timestamp:                   timestampValue(record),
		TargetBitrateKbps:           domain.Present(record.ValueOr(domain.FieldTargetBitrate, 0) / 1000),
		EncodeBitrateKbps:           domain.Present(encodeBitrateKbps),
		EncodeDurationMs:            domain.Present(record.ValueOr(domain.FieldTotalEncodeTime, 0) * 1000),
		HugeFramesSent:              record.Value(domain.FieldHugeFramesSent),
		KeyframesEncoded:            record.Value(domain.FieldKeyFramesEncoded),
		PictureLossCount:            record.Value(domain.FieldPliCount),
		FramesPerSecond:             record.Value(domain.FieldFramesPerSecond),
		Width:                       record.Value(domain.FieldFrameWidth),
		Height:                      record.Value(domain.FieldFrameHeight),
		PercentBitrateRetransmitted: domain.Present(retransmittedKbps / encodeBitrateKbps * 100),
		NackCount:                   record.Value(domain.FieldNackCount),
		RoundTripTime:               domain.Present(0),
		FractionLost:                domain.Present(0),
		DecodeBitrateKbps:           domain.Absent(),
		PacketsReceived:             domain.Absent(),
		PacketsLost:                 domain.Absent(),
	}
}

func classifyInbound(record domain.RawRecord, kind domain.MediaKind) domain.ClassifiedReport {
	return domain.ClassifiedReport{
		Direction:         domain.DirectionInbound,
		Kind:              kind,
		StreamID:          record.StreamID(),
		SSRC:              record.SSRC,
		Local:             true,
		Timestamp:         timestampValue(record),
		DecodeBitrateKbps: domain.Present(kbps(record.ValueOr(domain.FieldBytesReceived, 0))),
		NackCount:         record.Value(domain.FieldNackCount),
		PacketsReceived:   domain.Present(record.ValueOr(domain.FieldPacketsReceived, 0)),
		PacketsLost:       domain.Present(record.ValueOr(domain.FieldPacketsLost, 0)),
		// Derived by the windower from packet deltas.
		FractionLost: domain.Present(0),
	}
}

// mergeRemoteInbound copies round trip time and fraction lost from the
// remote-inbound record sharing an outbound report's SSRC.
func mergeRemoteInbound(snapshot domain.RawSnapshot, kind domain.MediaKind, reports map[domain.StreamID]domain.ClassifiedReport) {
	remote := make(map[uint32]domain.RawRecord)
	for _, record := range snapshot {
		if matches(record, domain.RecordTypeRemoteInboundRTP, kind) {
			remote[record.SSRC] = record
		}
	}
	if len(remote) == 0 {
		return
	}

	for id, report := range reports {
		record, ok := remote[report.SSRC]
		if !ok {
			continue
		}
		report.RoundTripTime = record.Value(domain.FieldRoundTripTime)
		report.FractionLost = record.Value(domain.FieldFractionLost)
		report.RemoteMatched = true
		reports[id] = report
	}
}

// mergeStreams folds src into dst. Streams from different handles that share
// an identifier resolve the same way as within one snapshot: lowest SSRC wins.
func mergeStreams(dst, src map[domain.StreamID]domain.ClassifiedReport) {
	for id, report := range src {
		if existing, ok := dst[id]; ok && existing.SSRC <= report.SSRC {
			continue
		}
		dst[id] = report
	}
}
