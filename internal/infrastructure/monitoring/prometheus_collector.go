package monitoring

import (
	"context"
	"time"

	"statwindow/internal/core/domain"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusCollector exports windowed reports, summaries and polling
// health. It is both a report sink and a poll observer.
type PrometheusCollector struct {
	// Stream metrics
	streamBitrate      *prometheus.GaugeVec
	streamFractionLost *prometheus.GaugeVec
	streamRoundTrip    *prometheus.GaugeVec
	streamNacks        *prometheus.CounterVec
	indeterminate      *prometheus.CounterVec

	// Summary metrics
	summaryMin *prometheus.GaugeVec
	summaryMax *prometheus.GaugeVec
	summaryAvg *prometheus.GaugeVec

	// Polling
	fetchDuration  *prometheus.HistogramVec
	fetchFailures  *prometheus.CounterVec
	tickDuration   *prometheus.HistogramVec
	ticksDiscarded *prometheus.CounterVec
	breakerState   *prometheus.GaugeVec
}

// NewPrometheusCollector registers the collector's metrics with reg.
func NewPrometheusCollector(reg prometheus.Registerer) *PrometheusCollector {
	factory := promauto.With(reg)
	streamLabels := []string{"direction", "kind", "rid"}

	return &PrometheusCollector{
		streamBitrate: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "statwindow_stream_bitrate_kbps",
			Help: "Windowed encode or decode bitrate per stream in kbps",
		}, streamLabels),

		streamFractionLost: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "statwindow_stream_fraction_lost",
			Help: "Fraction of packets lost per stream (0-1)",
		}, streamLabels),

		streamRoundTrip: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "statwindow_stream_round_trip_seconds",
			Help: "Round trip time reported by the remote end per outbound stream",
		}, []string{"kind", "rid"}),

		streamNacks: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "statwindow_stream_nacks_total",
			Help: "NACKs counted over windowed intervals",
		}, streamLabels),

		indeterminate: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "statwindow_indeterminate_bitrate_total",
			Help: "Windowed bitrates that were indeterminate because of a degenerate interval",
		}, []string{"direction", "kind"}),

		summaryMin: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "statwindow_summary_min",
			Help: "Minimum of a metric since polling started",
		}, []string{"metric"}),

		summaryMax: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "statwindow_summary_max",
			Help: "Maximum of a metric since polling started",
		}, []string{"metric"}),

		summaryAvg: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "statwindow_summary_avg",
			Help: "Average of a metric since polling started",
		}, []string{"metric"}),

		fetchDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "statwindow_fetch_duration_seconds",
			Help:    "Duration of stats fetches per handle",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		}, []string{"direction"}),

		fetchFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "statwindow_fetch_failures_total",
			Help: "Stats fetches that failed or hit an absent handle",
		}, []string{"direction", "handle"}),

		tickDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "statwindow_tick_duration_seconds",
			Help:    "Duration of a full sampling tick",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
		}, []string{"direction"}),

		ticksDiscarded: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "statwindow_ticks_discarded_total",
			Help: "Ticks whose results arrived after polling was stopped or restarted",
		}, []string{"direction"}),

		breakerState: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "statwindow_handle_breaker_state",
			Help: "Circuit breaker state per handle (0 closed, 1 half-open, 2 open)",
		}, []string{"handle"}),
	}
}

// Publish exports one sample batch.
func (p *PrometheusCollector) Publish(_ context.Context, batch domain.SampleBatch) {
	direction := string(batch.Partition.Direction)
	kind := string(batch.Partition.Kind)

	for _, r := range batch.Reports {
		rid := string(r.StreamID)

		if r.Windowed {
			bitrate := r.Bitrate()
			if v, ok := bitrate.Float64(); ok {
				p.streamBitrate.WithLabelValues(direction, kind, rid).Set(v)
			} else if bitrate.IsIndeterminate() {
				p.indeterminate.WithLabelValues(direction, kind).Inc()
			}
			if v, ok := r.NackCount.Float64(); ok && v > 0 {
				p.streamNacks.WithLabelValues(direction, kind, rid).Add(v)
			}
		}

		if v, ok := r.FractionLost.Float64(); ok {
			p.streamFractionLost.WithLabelValues(direction, kind, rid).Set(v)
		}
		if r.Direction == domain.DirectionOutbound && r.RemoteMatched {
			if v, ok := r.RoundTripTime.Float64(); ok {
				p.streamRoundTrip.WithLabelValues(kind, rid).Set(v)
			}
		}
	}

	for key, summary := range batch.Summaries {
		p.summaryMin.WithLabelValues(string(key)).Set(summary.Min)
		p.summaryMax.WithLabelValues(string(key)).Set(summary.Max)
		p.summaryAvg.WithLabelValues(string(key)).Set(summary.Avg)
	}
}

func (p *PrometheusCollector) ObserveFetch(direction domain.Direction, handle string, duration time.Duration, err error) {
	p.fetchDuration.WithLabelValues(string(direction)).Observe(duration.Seconds())
	if err != nil {
		p.fetchFailures.WithLabelValues(string(direction), handle).Inc()
	}
}

func (p *PrometheusCollector) ObserveTick(direction domain.Direction, duration time.Duration, _ int, discarded bool) {
	p.tickDuration.WithLabelValues(string(direction)).Observe(duration.Seconds())
	if discarded {
		p.ticksDiscarded.WithLabelValues(string(direction)).Inc()
	}
}

func (p *PrometheusCollector) ObserveBreakerState(handle string, state string) {
	var v float64
	switch state {
	case "half-open":
		v = 1
	case "open":
		v = 2
	}
	p.breakerState.WithLabelValues(handle).Set(v)
}

// Reset drops every per-stream series, used when polling stops.
func (p *PrometheusCollector) Reset() {
	p.streamBitrate.Reset()
	p.streamFractionLost.Reset()
	p.streamRoundTrip.Reset()
	p.summaryMin.Reset()
	p.summaryMax.Reset()
	p.summaryAvg.Reset()
}
