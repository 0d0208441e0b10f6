package services

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"time"

	"statwindow/internal/core/domain"
	"statwindow/internal/core/ports"
	"statwindow/pkg/circuitbreaker"
	apperrors "statwindow/pkg/errors"
	rlog "statwindow/pkg/logger"
	"statwindow/pkg/tracing"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// DefaultPollInterval is used when Start is given a non-positive interval.
const DefaultPollInterval = time.Second

// SchedulerConfig tunes fetch behaviour of the sampling scheduler.
type SchedulerConfig struct {
	// SessionID names the session; a random one is generated when empty.
	SessionID domain.SessionID
	// FetchTimeout bounds one handle's fetch. Zero means no timeout.
	FetchTimeout time.Duration
	// FailureLogEvery rate-limits fetch failure warnings. Zero logs all.
	FailureLogEvery time.Duration
	BreakerEnabled  bool
	Breaker         circuitbreaker.Config
}

func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		FailureLogEvery: 10 * time.Second,
		Breaker:         circuitbreaker.DefaultConfig(),
	}
}

// SamplingScheduler polls stats handles on a fixed interval per direction
// and drives classify, window and store update for every tick.
type SamplingScheduler struct {
	sessionID domain.SessionID
	stores    map[domain.Partition]ports.StreamStateStore
	summary   *AggregateSummary
	sink      ports.ReportSink
	observer  ports.PollObserver
	cfg       SchedulerConfig

	logger     *zap.SugaredLogger
	ctxLogger  *rlog.ContextLogger
	failureLog *rate.Limiter

	// mu guards pollers, generations and every store access.
	mu          sync.Mutex
	pollers     map[domain.Direction]*poller
	generations map[domain.Direction]uint64
	wg          sync.WaitGroup
}

type poller struct {
	direction  domain.Direction
	generation uint64
	interval   time.Duration
	handles    []*guardedSource
	cancel     context.CancelFunc
}

type guardedSource struct {
	name    string
	source  ports.StatsSource
	breaker *circuitbreaker.CircuitBreaker
}

type fetchResult struct {
	snapshot domain.RawSnapshot
	err      error
}

type noopSink struct{}

func (noopSink) Publish(context.Context, domain.SampleBatch) {}

// NewSamplingScheduler creates a scheduler owning one store per
// (direction, kind) partition.
func NewSamplingScheduler(
	stores map[domain.Partition]ports.StreamStateStore,
	summary *AggregateSummary,
	sink ports.ReportSink,
	cfg SchedulerConfig,
	logger *zap.SugaredLogger,
) (*SamplingScheduler, error) {
	for _, p := range domain.Partitions() {
		if stores[p] == nil {
			return nil, fmt.Errorf("missing stream state store for %s", p)
		}
	}
	if summary == nil {
		summary = NewAggregateSummary()
	}
	if sink == nil {
		sink = noopSink{}
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	sessionID := cfg.SessionID
	if sessionID == "" {
		sessionID = domain.SessionID(uuid.NewString())
	}

	limit := rate.Inf
	if cfg.FailureLogEvery > 0 {
		limit = rate.Every(cfg.FailureLogEvery)
	}

	return &SamplingScheduler{
		sessionID:   sessionID,
		stores:      stores,
		summary:     summary,
		sink:        sink,
		cfg:         cfg,
		logger:      logger,
		ctxLogger:   rlog.NewContextLogger(logger.Desugar()),
		failureLog:  rate.NewLimiter(limit, 1),
		pollers:     make(map[domain.Direction]*poller),
		generations: make(map[domain.Direction]uint64),
	}, nil
}

// SetObserver installs a fetch/tick observer. Call before Start.
func (s *SamplingScheduler) SetObserver(observer ports.PollObserver) {
	s.observer = observer
}

func (s *SamplingScheduler) SessionID() domain.SessionID {
	return s.sessionID
}

// Summary returns the aggregate summary fed by this scheduler.
func (s *SamplingScheduler) Summary() *AggregateSummary {
	return s.summary
}

// StartOutbound starts polling locally sent media.
func (s *SamplingScheduler) StartOutbound(handles []ports.StatsSource, interval time.Duration) error {
	return s.Start(domain.DirectionOutbound, handles, interval)
}

// StartInbound starts polling locally received media.
func (s *SamplingScheduler) StartInbound(handles []ports.StatsSource, interval time.Duration) error {
	return s.Start(domain.DirectionInbound, handles, interval)
}

// Start begins polling the handles of one direction. Starting a direction
// that is already polled is a no-op.
func (s *SamplingScheduler) Start(direction domain.Direction, handles []ports.StatsSource, interval time.Duration) error {
	if !direction.Valid() {
		return apperrors.WrapError(domain.ErrUnknownDirection, apperrors.ErrCodeInvalidInput,
			fmt.Sprintf("cannot poll direction %q", direction), 400)
	}
	if len(handles) == 0 {
		return apperrors.WrapError(domain.ErrNoHandles, apperrors.ErrCodeInvalidInput,
			fmt.Sprintf("no handles to poll for %s", direction), 400)
	}
	if interval <= 0 {
		interval = DefaultPollInterval
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, running := s.pollers[direction]; running {
		s.logger.Debugw("polling already running", "direction", direction)
		return nil
	}

	s.generations[direction]++
	ctx, cancel := context.WithCancel(context.Background())
	p := &poller{
		direction:  direction,
		generation: s.generations[direction],
		interval:   interval,
		handles:    s.guard(direction, handles),
		cancel:     cancel,
	}
	s.pollers[direction] = p
	s.summary.ResetKeys(directionMetricKeys(direction)...)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.run(ctx, p)
	}()

	s.logger.Infow("polling started",
		"session_id", s.sessionID,
		"direction", direction,
		"handles", len(handles),
		"interval", interval,
	)
	return nil
}

// Stop cancels polling in both directions and clears every stream state
// store. Results of ticks still in flight are discarded. Safe to call when
// nothing is running.
func (s *SamplingScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	stopped := 0
	for _, d := range domain.Directions {
		s.generations[d]++
		if p, ok := s.pollers[d]; ok {
			p.cancel()
			delete(s.pollers, d)
			stopped++
		}
	}

	for partition, store := range s.stores {
		if err := store.Clear(context.Background()); err != nil {
			s.logger.Warnw("failed to clear stream state store", "partition", partition.String(), "error", err)
		}
	}

	if stopped > 0 {
		s.logger.Infow("polling stopped", "session_id", s.sessionID, "directions", stopped)
	}
}

// Shutdown stops polling and waits for ticks in flight to return.
func (s *SamplingScheduler) Shutdown(ctx context.Context) error {
	s.Stop()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Running reports whether a direction is currently polled.
func (s *SamplingScheduler) Running(direction domain.Direction) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.pollers[direction]
	return ok
}

func (s *SamplingScheduler) guard(direction domain.Direction, handles []ports.StatsSource) []*guardedSource {
	out := make([]*guardedSource, 0, len(handles))
	for i, h := range handles {
		g := &guardedSource{name: fmt.Sprintf("%s-%d", direction, i)}
		if !isNilHandle(h) {
			g.source = h
			if name := h.Name(); name != "" {
				g.name = name
			}
		}
		if s.cfg.BreakerEnabled {
			g.breaker = circuitbreaker.New(s.cfg.Breaker)
			name := g.name
			g.breaker.OnStateChange(func(from, to circuitbreaker.State) {
				s.logger.Infow("stats handle breaker state changed", "handle", name, "from", from.String(), "to", to.String())
				if s.observer != nil {
					s.observer.ObserveBreakerState(name, to.String())
				}
			})
		}
		out = append(out, g)
	}
	return out
}

// isNilHandle also catches a nil pointer stored in a non-nil interface.
func isNilHandle(h ports.StatsSource) bool {
	if h == nil {
		return true
	}
	v := reflect.ValueOf(h)
	switch v.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan, reflect.Interface:
		return v.IsNil()
	}
	return false
}

func (s *SamplingScheduler) run(ctx context.Context, p *poller) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if ctx.Err() != nil {
				return
			}
			s.tick(ctx, p)
		}
	}
}

// tick runs one fetch-classify-window-store cycle for a direction.
func (s *SamplingScheduler) tick(ctx context.Context, p *poller) {
	start := time.Now()
	ctx = rlog.WithSessionID(ctx, string(s.sessionID))
	ctx = rlog.WithDirection(ctx, string(p.direction))
	ctx = rlog.WithTickID(ctx, uuid.NewString())
	ctx, span := tracing.TraceTick(ctx, string(s.sessionID), string(p.direction), len(p.handles))
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			s.ctxLogger.Sugar(ctx).Errorw("sampling tick panicked", "panic", r)
		}
	}()

	results := s.fetchAll(ctx, p)
	batches, discarded := s.process(ctx, p, results)

	reports := 0
	for _, b := range batches {
		reports += len(b.Reports)
	}
	tracing.AddSpanAttributes(ctx, tracing.ReportsKey.Int(reports), tracing.DiscardedKey.Bool(discarded))
	if s.observer != nil {
		s.observer.ObserveTick(p.direction, time.Since(start), reports, discarded)
	}
	if discarded {
		return
	}

	for _, batch := range batches {
		s.sink.Publish(ctx, batch)
	}
}

// fetchAll fetches every handle concurrently. A failing handle does not
// affect the others.
func (s *SamplingScheduler) fetchAll(ctx context.Context, p *poller) []fetchResult {
	results := make([]fetchResult, len(p.handles))

	var g errgroup.Group
	for i, h := range p.handles {
		i, h := i, h
		g.Go(func() error {
			snapshot, err := s.fetch(ctx, p.direction, h)
			results[i] = fetchResult{snapshot: snapshot, err: err}
			return nil
		})
	}
	_ = g.Wait()

	return results
}

func (s *SamplingScheduler) fetch(ctx context.Context, direction domain.Direction, h *guardedSource) (snapshot domain.RawSnapshot, err error) {
	start := time.Now()
	ctx, span := tracing.TraceFetch(ctx, h.name)
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			snapshot, err = nil, apperrors.NewFetchFailure(h.name, fmt.Errorf("panic: %v", r))
		}
		if err != nil {
			tracing.RecordError(ctx, err)
			s.reportFetchFailure(ctx, h.name, err)
		}
		if s.observer != nil {
			s.observer.ObserveFetch(direction, h.name, time.Since(start), err)
		}
	}()

	if h.source == nil {
		return nil, apperrors.NewHandleAbsent(h.name, domain.ErrHandleAbsent)
	}

	if s.cfg.FetchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.FetchTimeout)
		defer cancel()
	}

	get := func(ctx context.Context) (domain.RawSnapshot, error) {
		return h.source.GetStats(ctx)
	}
	if h.breaker != nil {
		snapshot, err = circuitbreaker.Do(ctx, h.breaker, get)
	} else {
		snapshot, err = get(ctx)
	}
	if err != nil {
		return nil, apperrors.NewFetchFailure(h.name, err)
	}
	return snapshot, nil
}

func (s *SamplingScheduler) reportFetchFailure(ctx context.Context, handle string, err error) {
	log := s.ctxLogger.Sugar(ctx)
	if errors.Is(ctx.Err(), context.Canceled) {
		log.Debugw("stats fetch cancelled", "handle", handle, "error", err)
		return
	}
	if !s.failureLog.Allow() {
		log.Debugw("stats fetch failed", "handle", handle, "error", err)
		return
	}
	log.Warnw("stats fetch failed, skipping handle for this tick", "handle", handle, "error", err)
}

// process classifies, windows and stores the fetched snapshots. It reports
// discarded=true when the tick belongs to a generation that was stopped or
// restarted while fetching.
func (s *SamplingScheduler) process(ctx context.Context, p *poller, results []fetchResult) ([]domain.SampleBatch, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.generations[p.direction] != p.generation {
		s.ctxLogger.Sugar(ctx).Debugw("discarding stale tick",
			"tick_generation", p.generation,
			"current_generation", s.generations[p.direction],
		)
		return nil, true
	}

	var batches []domain.SampleBatch
	for _, kind := range domain.MediaKinds {
		partition := domain.Partition{Direction: p.direction, Kind: kind}
		store := s.stores[partition]

		current := make(map[domain.StreamID]domain.ClassifiedReport)
		for _, r := range results {
			if r.err != nil {
				continue
			}
			mergeStreams(current, Classify(r.snapshot, p.direction, kind))
		}
		if len(current) == 0 {
			continue
		}

		previous := s.loadPrevious(ctx, store, current)
		reports := Window(current, previous)
		s.storeCurrent(ctx, store, current)
		batches = append(batches, s.summarize(partition, reports))
	}

	return batches, false
}

func (s *SamplingScheduler) loadPrevious(ctx context.Context, store ports.StreamStateStore, current map[domain.StreamID]domain.ClassifiedReport) map[domain.StreamID]domain.ClassifiedReport {
	previous := make(map[domain.StreamID]domain.ClassifiedReport, len(current))
	for id, report := range current {
		prev, ok, err := store.Get(ctx, report.Key())
		if err != nil {
			s.ctxLogger.Sugar(ctx).Warnw("failed to read previous report, treating as first sample",
				"stream_id", id, "error", err)
			continue
		}
		if ok {
			previous[id] = prev
		}
	}
	return previous
}

func (s *SamplingScheduler) storeCurrent(ctx context.Context, store ports.StreamStateStore, current map[domain.StreamID]domain.ClassifiedReport) {
	for id, report := range current {
		if err := store.Put(ctx, report.Key(), report); err != nil {
			s.ctxLogger.Sugar(ctx).Warnw("failed to store report", "stream_id", id, "error", err)
		}
	}
}

// summarize records the tick's samples and builds the batch for the sink.
// Loss is recorded for every report; bitrate only once it is a windowed rate.
func (s *SamplingScheduler) summarize(partition domain.Partition, reports []domain.WindowedReport) domain.SampleBatch {
	lossKey := domain.LossMetricKey(partition)
	bitrateKey := domain.BitrateMetricKey(partition)

	for _, r := range reports {
		if !r.FractionLost.IsAbsent() {
			s.summary.Record(lossKey, r.FractionLost.Number)
		}
		if b := r.Bitrate(); r.Windowed && !b.IsAbsent() {
			s.summary.Record(bitrateKey, b.Number)
		}
	}

	batch := domain.SampleBatch{
		SessionID: s.sessionID,
		Partition: partition,
		Reports:   reports,
		Summaries: make(map[domain.MetricKey]domain.Summary),
		Displays:  make(map[domain.MetricKey]string),
		At:        time.Now(),
	}
	for _, key := range []domain.MetricKey{lossKey, bitrateKey} {
		if summary, ok := s.summary.Summary(key); ok {
			batch.Summaries[key] = summary
			batch.Displays[key] = summary.String()
		}
	}
	return batch
}

func directionMetricKeys(direction domain.Direction) []domain.MetricKey {
	keys := make([]domain.MetricKey, 0, 2*len(domain.MediaKinds))
	for _, kind := range domain.MediaKinds {
		p := domain.Partition{Direction: direction, Kind: kind}
		keys = append(keys, domain.LossMetricKey(p), domain.BitrateMetricKey(p))
	}
	return keys
}
