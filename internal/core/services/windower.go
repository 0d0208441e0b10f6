package services

import (
	"math"
	"sort"

	"statwindow/internal/core/domain"
)

// Window diffs every current report against the previous report with the
// same stream identifier. Reports without a predecessor are returned
// unchanged. The result is ordered by stream identifier.
func Window(current map[domain.StreamID]domain.ClassifiedReport, previous map[domain.StreamID]domain.ClassifiedReport) []domain.WindowedReport {
	ids := make([]domain.StreamID, 0, len(current))
	for id := range current {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	out := make([]domain.WindowedReport, 0, len(ids))
	for _, id := range ids {
		prev, ok := previous[id]
		out = append(out, WindowReport(current[id], prev, ok))
	}
	return out
}

// WindowReport windows a single report. hasPrev=false yields the first
// sample case.
func WindowReport(next, prev domain.ClassifiedReport, hasPrev bool) domain.WindowedReport {
	if !hasPrev {
		return domain.WindowedReport{
			ClassifiedReport: next,
			SampleDurationMs: next.Timestamp,
		}
	}

	windowed := domain.WindowedReport{
		ClassifiedReport: next,
		Windowed:         true,
		SampleDurationMs: next.Timestamp.Sub(prev.Timestamp),
	}

	if next.Direction == domain.DirectionOutbound {
		windowOutbound(&windowed, prev)
	} else {
		windowInbound(&windowed, prev)
	}
	return windowed
}

// perSecond normalises a counter delta by the sample duration. A zero or
// unknown duration yields an indeterminate value; it is not corrected.
func perSecond(delta, durationMs domain.Value) domain.Value {
	if delta.IsAbsent() {
		return domain.Absent()
	}
	if durationMs.IsAbsent() {
		return domain.Value{Number: math.NaN(), State: domain.ValueIndeterminate}
	}
	return domain.Present(delta.Number / (durationMs.Number / 1000))
}

func windowOutbound(w *domain.WindowedReport, prev domain.ClassifiedReport) {
	next := w.ClassifiedReport
	w.EncodeBitrateKbps = perSecond(next.EncodeBitrateKbps.Sub(prev.EncodeBitrateKbps), w.SampleDurationMs)
	w.EncodeDurationMs = next.EncodeDurationMs.Sub(prev.EncodeDurationMs)
	w.HugeFramesSent = next.HugeFramesSent.Sub(prev.HugeFramesSent)
	w.KeyframesEncoded = next.KeyframesEncoded.Sub(prev.KeyframesEncoded)
	w.NackCount = next.NackCount.Sub(prev.NackCount)
	w.PictureLossCount = next.PictureLossCount.Sub(prev.PictureLossCount)
}

func windowInbound(w *domain.WindowedReport, prev domain.ClassifiedReport) {
	next := w.ClassifiedReport
	w.DecodeBitrateKbps = perSecond(next.DecodeBitrateKbps.Sub(prev.DecodeBitrateKbps), w.SampleDurationMs)
	w.NackCount = next.NackCount.Sub(prev.NackCount)

	lost := next.PacketsLost.Sub(prev.PacketsLost)
	received := next.PacketsReceived.Sub(prev.PacketsReceived)
	w.FractionLost = fractionLost(lost, received)
}

// fractionLost is lost/(lost+received) over the window, 0 when nothing was
// lost or received.
func fractionLost(lost, received domain.Value) domain.Value {
	if lost.IsAbsent() || received.IsAbsent() {
		return domain.Absent()
	}
	total := lost.Number + received.Number
	if total == 0 {
		return domain.Present(0)
	}
	return domain.Present(lost.Number / total)
}
