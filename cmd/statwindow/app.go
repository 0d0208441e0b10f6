package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	ossignal "os/signal"
	"syscall"
	"time"

	"statwindow/internal/core/domain"
	"statwindow/internal/core/ports"
	"statwindow/internal/core/services"
	httphandlers "statwindow/internal/handlers/http"
	"statwindow/internal/infrastructure/backup"
	"statwindow/internal/infrastructure/distributed"
	"statwindow/internal/infrastructure/middleware"
	"statwindow/internal/infrastructure/monitoring"
	"statwindow/internal/infrastructure/repositories"
	"statwindow/internal/infrastructure/signal"
	webrtcinfra "statwindow/internal/infrastructure/webrtc"
	pkgbackup "statwindow/pkg/backup"
	"statwindow/pkg/circuitbreaker"
	"statwindow/pkg/config"
	"statwindow/pkg/logger"
	"statwindow/pkg/tracing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/pion/webrtc/v3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
)

func runApp(c *cli.Context) error {
	startTime := time.Now()

	cfg, err := loadConfig(c)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}

	zapLogger := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	defer zapLogger.Sync()
	log := zapLogger.Sugar()

	tp, err := tracing.Init(tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: cfg.Tracing.ServiceName,
		JaegerURL:   cfg.Tracing.JaegerURL,
		Environment: cfg.Tracing.Environment,
		SampleRate:  cfg.Tracing.SampleRate,
	})
	if err != nil {
		return cli.Exit(fmt.Sprintf("failed to initialize tracing: %v", err), 1)
	}

	ctx, stop := ossignal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	repoFactory, err := repositories.NewRepositoryFactory(cfg, log)
	if err != nil {
		return cli.Exit(fmt.Sprintf("failed to create repository factory: %v", err), 1)
	}

	sessionID := domain.SessionID(uuid.NewString())
	stores := repoFactory.CreateStateStores(sessionID)

	var collector *monitoring.PrometheusCollector
	registry := prometheus.NewRegistry()
	if cfg.Monitoring.PrometheusEnabled {
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		collector = monitoring.NewPrometheusCollector(registry)
	}

	latest := services.NewLatestBatches()
	sinks := []ports.ReportSink{services.NewLogSink(log.Named("reports")), latest}
	if collector != nil {
		sinks = append(sinks, collector)
	}

	var push *signal.WebSocketServer
	if cfg.Push.Enabled {
		push = signal.NewWebSocketServer(log.Named("push"))
		push.SetPingInterval(cfg.Push.PingInterval)
		push.SetWriteTimeout(cfg.Push.WriteTimeout)
		push.SetQueueSize(cfg.Push.QueueSize)
		sinks = append(sinks, push)
	}

	if repoFactory.UsesRedis() && cfg.Redis.PublishBatches {
		bus := distributed.NewEventBus(repoFactory.RedisClient(), cfg.Redis.KeyPrefix, uuid.NewString(), log.Named("events"))
		sinks = append(sinks, bus)
		log.Infow("publishing batches", "channel", distributed.BatchChannel(cfg.Redis.KeyPrefix, sessionID))
	}

	schedulerCfg := services.DefaultSchedulerConfig()
	schedulerCfg.SessionID = sessionID
	schedulerCfg.FetchTimeout = cfg.Polling.FetchTimeout
	schedulerCfg.FailureLogEvery = cfg.Polling.FailureLogEvery
	schedulerCfg.BreakerEnabled = cfg.Polling.Breaker.Enabled
	schedulerCfg.Breaker = circuitbreaker.Config{
		FailureThreshold:    cfg.Polling.Breaker.FailureThreshold,
		SuccessThreshold:    1,
		Timeout:             cfg.Polling.Breaker.OpenTimeout,
		MaxRequestsHalfOpen: 1,
	}

	summary := services.NewAggregateSummary()
	scheduler, err := services.NewSamplingScheduler(stores, summary, services.NewFanoutSink(sinks...), schedulerCfg, log.Named("scheduler"))
	if err != nil {
		return cli.Exit(fmt.Sprintf("failed to create sampling scheduler: %v", err), 1)
	}
	if collector != nil {
		scheduler.SetObserver(collector)
	}

	connectCtx, cancelConnect := context.WithTimeout(ctx, 30*time.Second)
	loopback, err := webrtcinfra.NewLoopback(connectCtx, webrtcinfra.LoopbackConfig{
		ICEServers: iceServers(cfg),
		Audio:      cfg.WebRTC.Audio,
		Video:      cfg.WebRTC.Video,
	}, log.Named("loopback"))
	cancelConnect()
	if err != nil {
		return cli.Exit(fmt.Sprintf("failed to connect loopback: %v", err), 1)
	}

	if err := scheduler.StartOutbound(loopback.SenderSources(), cfg.Polling.Interval); err != nil {
		return cli.Exit(fmt.Sprintf("failed to start outbound polling: %v", err), 1)
	}
	if err := scheduler.StartInbound(loopback.ReceiverSources(), cfg.Polling.Interval); err != nil {
		return cli.Exit(fmt.Sprintf("failed to start inbound polling: %v", err), 1)
	}
	var snapshots *backup.Scheduler
	if cfg.Snapshots.Enabled {
		service, err := snapshotService(cfg)
		if err != nil {
			return cli.Exit(err.Error(), 1)
		}
		snapshots = backup.NewScheduler(service, sessionID, summary, latest, backup.Config{
			Interval: cfg.Snapshots.Interval,
			Retain:   cfg.Snapshots.Retain,
		}, log.Named("snapshots"))
		go snapshots.Run(ctx)
	}

	log.Infow("polling started",
		"session_id", sessionID,
		"interval", cfg.Polling.Interval,
		"redis", repoFactory.UsesRedis(),
	)

	var srv *http.Server
	serverErr := make(chan error, 1)
	if cfg.Server.Enabled {
		health := monitoring.NewHealthChecker()
		health.AddStateStoreCheck(stores, 2*time.Second)
		health.AddCheck("repositories", repoFactory.HealthCheck, 2*time.Second)

		handler := httphandlers.NewStatsHandler(scheduler, summary, latest, loopback, cfg.Polling.Interval, log.Named("api"))
		if collector != nil {
			handler.OnStop(collector.Reset)
		}

		router := newRouter(cfg, log, handler, health, registry, push, startTime)
		srv = &http.Server{
			Addr:         cfg.Server.Address,
			Handler:      router,
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
		}

		go func() {
			log.Infof("starting statwindow server on %s", cfg.Server.Address)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				serverErr <- err
			}
		}()
	}

	var deadline <-chan time.Time
	if d := c.Duration("duration"); d > 0 {
		deadline = time.After(d)
	}

	select {
	case <-ctx.Done():
		log.Infow("received shutdown signal")
	case <-deadline:
		log.Infow("run duration elapsed")
	case err := <-serverErr:
		log.Errorw("server failed", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if srv != nil {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Errorw("error during server shutdown", "error", err)
			srv.Close()
		}
	}
	if push != nil {
		push.Close()
	}
	if err := scheduler.Shutdown(shutdownCtx); err != nil {
		log.Errorw("scheduler did not stop in time", "error", err)
	}
	loopback.Close()
	logSummaries(log, summary)

	if snapshots != nil {
		if name, err := snapshots.Snapshot(shutdownCtx); err != nil {
			log.Errorw("failed to write final snapshot", "error", err)
		} else if name != "" {
			log.Infow("final snapshot written", "name", name)
		}
	}

	if err := repoFactory.Close(); err != nil {
		log.Errorw("error closing repository factory", "error", err)
	}
	if err := tp.Shutdown(shutdownCtx); err != nil {
		log.Errorw("error flushing traces", "error", err)
	}

	log.Info("statwindow stopped")
	return nil
}

func newRouter(
	cfg *config.Config,
	log *zap.SugaredLogger,
	handler *httphandlers.StatsHandler,
	health *monitoring.HealthChecker,
	registry *prometheus.Registry,
	push *signal.WebSocketServer,
	startTime time.Time,
) *gin.Engine {
	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(
		middleware.RequestIDMiddleware(),
		middleware.RecoveryMiddleware(log),
		middleware.TracingMiddleware(),
		middleware.ErrorHandlerMiddleware(log),
	)

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "healthy",
			"timestamp": time.Now(),
			"uptime":    time.Since(startTime).String(),
		})
	})

	router.GET("/ready", func(c *gin.Context) {
		status := health.CheckAll(c.Request.Context())
		code := http.StatusOK
		if status.Status != "healthy" {
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, status)
	})

	if cfg.Monitoring.PrometheusEnabled {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))
	}
	if push != nil {
		router.GET("/ws", gin.WrapF(push.HandleWebSocket))
	}

	api := router.Group("/", middleware.NewHTTPRateLimitMiddleware(cfg))
	handler.SetupRoutes(api)

	return router
}

func snapshotService(cfg *config.Config) (*pkgbackup.Service, error) {
	storage, err := pkgbackup.NewFileStorage(cfg.Snapshots.Directory)
	if err != nil {
		return nil, fmt.Errorf("failed to open snapshot directory: %w", err)
	}
	return pkgbackup.NewService(storage, AppVersion), nil
}

func iceServers(cfg *config.Config) []webrtc.ICEServer {
	servers := make([]webrtc.ICEServer, 0, len(cfg.WebRTC.ICEServers))
	for _, s := range cfg.WebRTC.ICEServers {
		servers = append(servers, webrtc.ICEServer{
			URLs:       s.URLs,
			Username:   s.Username,
			Credential: s.Credential,
		})
	}
	return servers
}

// logSummaries writes the final summary of every metric on exit.
func logSummaries(log *zap.SugaredLogger, summary *services.AggregateSummary) {
	for _, key := range summary.Keys() {
		if s, ok := summary.Summary(key); ok {
			log.Infow("final summary", "metric", key, "samples", s.Count, "summary", s.String())
		}
	}
}
