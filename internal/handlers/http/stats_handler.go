package http

import (
	"net/http"
	"sort"
	"time"

	"statwindow/internal/core/domain"
	"statwindow/internal/core/ports"
	"statwindow/internal/core/services"
	apperrors "statwindow/pkg/errors"
	"statwindow/pkg/validation"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// SourceProvider hands out the current send and receive handles.
type SourceProvider interface {
	SenderSources() []ports.StatsSource
	ReceiverSources() []ports.StatsSource
}

type StatsHandler struct {
	scheduler       ports.PollingController
	summaries       ports.SummaryReader
	latest          *services.LatestBatches
	sources         SourceProvider
	defaultInterval time.Duration
	onStop          []func()
	logger          *zap.SugaredLogger
}

var _ ports.StatsHTTPHandler = (*StatsHandler)(nil)

func NewStatsHandler(
	scheduler ports.PollingController,
	summaries ports.SummaryReader,
	latest *services.LatestBatches,
	sources SourceProvider,
	defaultInterval time.Duration,
	logger *zap.SugaredLogger,
) *StatsHandler {
	return &StatsHandler{
		scheduler:       scheduler,
		summaries:       summaries,
		latest:          latest,
		sources:         sources,
		defaultInterval: defaultInterval,
		logger:          logger,
	}
}

// OnStop registers fn to run after polling is stopped through the API.
func (h *StatsHandler) OnStop(fn func()) {
	h.onStop = append(h.onStop, fn)
}

func (h *StatsHandler) SetupRoutes(router gin.IRouter) {
	api := router.Group("/api/v1")
	{
		api.GET("/summaries", h.GetSummaries)
		api.GET("/summaries/:metric", h.GetSummary)
		api.GET("/latest", h.GetLatest)

		api.GET("/polling", h.GetPolling)
		api.POST("/polling/start", h.StartPolling)
		api.POST("/polling/stop", h.StopPolling)
	}
}

type summaryView struct {
	Min     domain.Value `json:"min"`
	Max     domain.Value `json:"max"`
	Avg     domain.Value `json:"avg"`
	Count   int          `json:"count"`
	Display string       `json:"display"`
}

func newSummaryView(s domain.Summary) summaryView {
	return summaryView{
		Min:     domain.Present(s.Min),
		Max:     domain.Present(s.Max),
		Avg:     domain.Present(s.Avg),
		Count:   s.Count,
		Display: s.String(),
	}
}

func (h *StatsHandler) GetSummaries(c *gin.Context) {
	keys := h.summaries.Keys()
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	views := make(map[domain.MetricKey]summaryView, len(keys))
	for _, key := range keys {
		if s, ok := h.summaries.Summary(key); ok {
			views[key] = newSummaryView(s)
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"session_id": h.scheduler.SessionID(),
		"summaries":  views,
	})
}

func (h *StatsHandler) GetSummary(c *gin.Context) {
	key := domain.MetricKey(c.Param("metric"))
	if err := validation.ValidateMetricKey(string(key)); err != nil {
		_ = c.Error(apperrors.WrapError(err, apperrors.ErrCodeInvalidInput, err.Error(), http.StatusBadRequest))
		return
	}

	s, ok := h.summaries.Summary(key)
	if !ok {
		_ = c.Error(apperrors.WrapError(domain.ErrMetricNotFound, apperrors.ErrCodeNotFound,
			"metric has no samples", http.StatusNotFound).WithContext("metric", string(key)))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"metric":  key,
		"summary": newSummaryView(s),
	})
}

// GetLatest returns the last batch per partition, narrowed by ?partition=.
func (h *StatsHandler) GetLatest(c *gin.Context) {
	filter := c.Query("partition")
	if filter == "" {
		c.JSON(http.StatusOK, gin.H{"batches": h.latest.All()})
		return
	}

	if err := validation.ValidatePartition(filter); err != nil {
		_ = c.Error(apperrors.WrapError(err, apperrors.ErrCodeInvalidInput, err.Error(), http.StatusBadRequest))
		return
	}

	for _, p := range domain.Partitions() {
		if p.String() != filter {
			continue
		}
		batch, ok := h.latest.Get(p)
		if !ok {
			_ = c.Error(apperrors.NewNotFoundError("batch for " + filter))
			return
		}
		c.JSON(http.StatusOK, gin.H{"batches": []domain.SampleBatch{batch}})
		return
	}
	_ = c.Error(apperrors.NewNotFoundError("batch for " + filter))
}

func (h *StatsHandler) GetPolling(c *gin.Context) {
	c.JSON(http.StatusOK, h.pollingStatus())
}

type startPollingRequest struct {
	// Directions defaults to both.
	Directions []domain.Direction `json:"directions"`
	// Interval is a Go duration string, e.g. "500ms".
	Interval string `json:"interval"`
}

func (h *StatsHandler) StartPolling(c *gin.Context) {
	var req startPollingRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			_ = c.Error(apperrors.WrapError(err, apperrors.ErrCodeInvalidInput, "invalid request body", http.StatusBadRequest))
			return
		}
	}

	interval := h.defaultInterval
	if req.Interval != "" {
		d, err := time.ParseDuration(req.Interval)
		if err != nil {
			_ = c.Error(apperrors.NewInvalidInputError("interval must be a duration such as 500ms").
				WithContext("interval", req.Interval))
			return
		}
		if err := validation.ValidatePollInterval(d); err != nil {
			_ = c.Error(apperrors.WrapError(err, apperrors.ErrCodeInvalidInput, err.Error(), http.StatusBadRequest).
				WithContext("interval", req.Interval))
			return
		}
		interval = d
	}

	directions := req.Directions
	if len(directions) == 0 {
		directions = domain.Directions
	}
	for _, d := range directions {
		if err := validation.ValidateDirection(string(d)); err != nil {
			_ = c.Error(apperrors.WrapError(domain.ErrUnknownDirection, apperrors.ErrCodeInvalidInput,
				err.Error(), http.StatusBadRequest).WithContext("direction", string(d)))
			return
		}
	}

	for _, d := range directions {
		var err error
		switch d {
		case domain.DirectionOutbound:
			err = h.scheduler.StartOutbound(h.sources.SenderSources(), interval)
		case domain.DirectionInbound:
			err = h.scheduler.StartInbound(h.sources.ReceiverSources(), interval)
		}
		if err != nil {
			_ = c.Error(err)
			return
		}
	}

	h.logger.Infow("polling started via api", "directions", directions, "interval", interval)
	c.JSON(http.StatusAccepted, h.pollingStatus())
}

func (h *StatsHandler) StopPolling(c *gin.Context) {
	h.scheduler.Stop()
	h.latest.Reset()
	for _, fn := range h.onStop {
		fn()
	}

	h.logger.Infow("polling stopped via api")
	c.JSON(http.StatusOK, h.pollingStatus())
}

func (h *StatsHandler) pollingStatus() gin.H {
	running := make(map[domain.Direction]bool, len(domain.Directions))
	for _, d := range domain.Directions {
		running[d] = h.scheduler.Running(d)
	}
	return gin.H{
		"session_id": h.scheduler.SessionID(),
		"running":    running,
	}
}
