package monitoring

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"statwindow/internal/core/domain"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

var outboundVideo = domain.Partition{Direction: domain.DirectionOutbound, Kind: domain.MediaKindVideo}

func windowedReport(bitrate float64) domain.WindowedReport {
	return domain.WindowedReport{
		ClassifiedReport: domain.ClassifiedReport{
			Direction:         domain.DirectionOutbound,
			Kind:              domain.MediaKindVideo,
			StreamID:          "h",
			EncodeBitrateKbps: domain.Present(bitrate),
			FractionLost:      domain.Present(0.05),
			RoundTripTime:     domain.Present(0.08),
			RemoteMatched:     true,
			NackCount:         domain.Present(3),
		},
		Windowed:         true,
		SampleDurationMs: domain.Present(1000),
	}
}

func TestPrometheusCollector_Publish(t *testing.T) {
	c := NewPrometheusCollector(prometheus.NewRegistry())
	lossKey := domain.LossMetricKey(outboundVideo)

	c.Publish(context.Background(), domain.SampleBatch{
		Partition: outboundVideo,
		Reports:   []domain.WindowedReport{windowedReport(850), windowedReport(math.Inf(1))},
		Summaries: map[domain.MetricKey]domain.Summary{
			lossKey: {Min: 0.01, Max: 0.05, Avg: 0.03, Count: 2},
		},
	})

	assert.Equal(t, 850.0, testutil.ToFloat64(c.streamBitrate.WithLabelValues("outbound", "video", "h")))
	assert.Equal(t, 0.05, testutil.ToFloat64(c.streamFractionLost.WithLabelValues("outbound", "video", "h")))
	assert.Equal(t, 0.08, testutil.ToFloat64(c.streamRoundTrip.WithLabelValues("video", "h")))
	assert.Equal(t, 6.0, testutil.ToFloat64(c.streamNacks.WithLabelValues("outbound", "video", "h")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.indeterminate.WithLabelValues("outbound", "video")))
	assert.Equal(t, 0.05, testutil.ToFloat64(c.summaryMax.WithLabelValues(string(lossKey))))
}

func TestPrometheusCollector_Observer(t *testing.T) {
	c := NewPrometheusCollector(prometheus.NewRegistry())

	c.ObserveFetch(domain.DirectionInbound, "receiver-0", time.Millisecond, errors.New("closed"))
	c.ObserveFetch(domain.DirectionInbound, "receiver-0", time.Millisecond, nil)
	c.ObserveTick(domain.DirectionInbound, time.Millisecond, 0, true)
	c.ObserveBreakerState("receiver-0", "open")

	assert.Equal(t, 1.0, testutil.ToFloat64(c.fetchFailures.WithLabelValues("inbound", "receiver-0")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.ticksDiscarded.WithLabelValues("inbound")))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.breakerState.WithLabelValues("receiver-0")))

	c.ObserveBreakerState("receiver-0", "closed")
	assert.Equal(t, 0.0, testutil.ToFloat64(c.breakerState.WithLabelValues("receiver-0")))
}
