package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/okian/readyroom/internal/adapters/detection"
	"github.com/okian/readyroom/internal/adapters/handoff"
	"github.com/okian/readyroom/internal/adapters/http/api"
	"github.com/okian/readyroom/internal/adapters/http/swagger"
	"github.com/okian/readyroom/internal/adapters/rooms"
	"github.com/okian/readyroom/internal/adapters/speech"
	app "github.com/okian/readyroom/internal/app"
	"github.com/okian/readyroom/internal/config"
	"github.com/okian/readyroom/internal/domain/landmark"
	"github.com/okian/readyroom/pkg/logger"
	"github.com/okian/readyroom/pkg/metrics"
)

// HTTP server timeout constants.
const (
	readTimeout               = 10 * time.Second
	idleTimeout               = 60 * time.Second
	readHeaderTimeout         = 5 * time.Second
	shutdownTimeout           = 30 * time.Second
	systemMetricsInterval     = 10 * time.Second
	serviceMetricsInterval    = 5 * time.Second
	nanosecondsPerMillisecond = 1e6
)

func main() {
	// Custom system metrics replace the default Go collectors.
	prometheus.Unregister(collectors.NewGoCollector())
	prometheus.Unregister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	if err := logger.Init(); err != nil {
		os.Stderr.WriteString("failed to initialize logging: " + err.Error() + "\n")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		logger.Get().Error(ctx, "readyroom exited", logger.Error(err))
		_ = logger.Sync()
		stop()
		os.Exit(1)
	}
	_ = logger.Sync()
}

func run(ctx context.Context) error {
	// Load configuration (defaults -> optional file -> env)
	cfg, err := config.Load(ctx)
	if err != nil {
		return err
	}
	if err := logger.Init(logger.WithFormat(cfg.LogFormat)); err != nil {
		return err
	}
	log := logger.Get()
	if err := logger.SetLevelString(cfg.LogLevel); err != nil {
		log.Warn(ctx, "invalid log_level; falling back to info", logger.String("log_level", cfg.LogLevel), logger.Error(err))
		_ = logger.SetLevelString("info")
	}

	svc, closeStore, err := buildService(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeStore()

	if err := svc.Start(ctx); err != nil {
		return err
	}
	defer svc.Stop()

	go startSystemMetricsUpdater(ctx)
	go startServiceMetricsUpdater(ctx, svc)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           newRouter(ctx, cfg, svc, log),
		ReadTimeout:       readTimeout,
		IdleTimeout:       idleTimeout,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info(ctx, "starting HTTP server", logger.String("addr", cfg.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return err
		}
	}
	log.Info(ctx, "shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error(ctx, "server shutdown failed", logger.Error(err))
	}
	log.Info(ctx, "server stopped")
	return nil
}

// buildService picks the collaborators cfg enables and creates the service.
// The returned func closes the handoff store.
func buildService(ctx context.Context, cfg *config.Config, log logger.Logger) (*app.Service, func(), error) {
	opts := []app.Option{
		app.WithLogger(log),
		app.WithMaxSessions(cfg.MaxSessions),
		app.WithReapAfter(cfg.ReapAfter()),
		app.WithReadinessTimeout(cfg.ReadinessTimeout()),
		app.WithCapture(cfg.CaptureWindow(), cfg.CaptureSampleRate),
		app.WithMaxFrameBytes(cfg.MaxFrameBytes),
		app.WithNotifyBuffer(cfg.NotifyBuffer),
		app.WithWorkerCount(cfg.WorkerCount),
		app.WithQueueSize(cfg.ReleaseQueueSize),
		app.WithDedupeSize(cfg.DedupeSize),
		app.WithReleaseTimeout(cfg.ReleaseTimeout()),
	}

	if cfg.ModelURL != "" {
		opts = append(opts, app.WithModelLoader(detection.NewLoader(cfg.ModelURL, cfg.ModelName, detection.WithLogger(log.Named("detection")))))
	} else {
		log.Info(ctx, "no model_url; using the simulated landmark model")
		opts = append(opts, app.WithModelLoader(landmark.NewSimulatedLoader(landmark.WithLoadLatency(cfg.ModelLoadLatency()))))
	}

	if cfg.SpeechURL != "" {
		opts = append(opts, app.WithCredentialSource(speech.NewClient(cfg.SpeechURL, cfg.SpeechKey, cfg.SpeechRegion, speech.WithLogger(log.Named("speech")))))
	} else {
		log.Info(ctx, "no speech_url; issuing development credentials")
	}

	if cfg.RoomsURL != "" {
		roomOpts := []rooms.Option{rooms.WithLogger(log.Named("rooms"))}
		if cfg.RoomsToken != "" {
			roomOpts = append(roomOpts, rooms.WithBearerToken(cfg.RoomsToken))
		}
		opts = append(opts, app.WithRoomReleaser(rooms.NewClient(cfg.RoomsURL, roomOpts...)))
	} else {
		log.Info(ctx, "no rooms_url; rooms are not released on leave")
	}

	var store handoff.Store = handoff.NewMemoryStore()
	if cfg.RedisAddr != "" {
		rs, err := handoff.NewRedisStore(ctx, handoff.RedisConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			TTL:      cfg.HandoffTTL(),
		}, log.Named("handoff"))
		if err != nil {
			return nil, nil, err
		}
		store = rs
	}
	opts = append(opts, app.WithHandoffStore(store))

	closeStore := func() {
		if err := store.Close(); err != nil {
			log.Warn(ctx, "closing handoff store failed", logger.Error(err))
		}
	}
	return app.New(opts...), closeStore, nil
}

// newRouter mounts the API and the docs on one chi router.
func newRouter(ctx context.Context, cfg *config.Config, svc *app.Service, log logger.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	swagger.Register(ctx, r)

	apiServer := api.NewServer(svc, svc,
		api.WithLogger(log.Named("api")),
		api.WithRateLimit(cfg.RateLimitPerMinute),
		api.WithMaxFrameBytes(int64(cfg.MaxFrameBytes)),
		api.WithAllowedOrigins(cfg.AllowedOrigins),
	)
	apiServer.Register(ctx, r)
	return r
}

// startSystemMetricsUpdater starts a background goroutine that updates system metrics.
func startSystemMetricsUpdater(ctx context.Context) {
	ticker := time.NewTicker(systemMetricsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			updateSystemMetrics()
		}
	}
}

// startServiceMetricsUpdater starts a background goroutine that updates service metrics.
func startServiceMetricsUpdater(ctx context.Context, svc *app.Service) {
	ticker := time.NewTicker(serviceMetricsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			updateServiceMetrics(svc)
		}
	}
}

// updateSystemMetrics updates system-level metrics.
func updateSystemMetrics() {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	metrics.UpdateSystemMemoryUsage(m.Alloc)
	metrics.UpdateSystemGoroutineCount(runtime.NumGoroutine())

	if m.NumGC > 0 {
		avgPauseMs := float64(m.PauseTotalNs) / float64(m.NumGC) / nanosecondsPerMillisecond
		metrics.RecordSystemGCPauseTime(avgPauseMs)
	}
}

// updateServiceMetrics refreshes gauges that only the service can count.
func updateServiceMetrics(svc *app.Service) {
	stats := svc.GetStats()

	if sessions, ok := stats["sessions"].(int); ok {
		metrics.UpdateSessionsActive(sessions)
	}
	if queueLen, ok := stats["queueLength"].(int); ok {
		metrics.UpdateQueueSize(queueLen)
	}
	if workerCount, ok := stats["workerCount"].(int); ok {
		metrics.UpdateWorkerCount(workerCount)
	}
}
