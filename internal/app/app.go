// Package app wires the normalization pipeline's components (schema
// catalog, rule registry, demuxer/processor fabric, output sinks, and
// the ambient stack: config, metrics, tracing, hot-reload) into a
// runnable process. Ingestion transport and schema authoring happen
// elsewhere; App only drives the core pipeline against whatever
// registry/catalog/sinks are configured.
package app

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/mdzesseis/eventnorm/internal/config"
	"github.com/mdzesseis/eventnorm/internal/dlq"
	"github.com/mdzesseis/eventnorm/internal/hotreload"
	"github.com/mdzesseis/eventnorm/internal/metrics"
	"github.com/mdzesseis/eventnorm/internal/pipeline"
	"github.com/mdzesseis/eventnorm/internal/ratelimit"
	"github.com/mdzesseis/eventnorm/internal/schema"
	"github.com/mdzesseis/eventnorm/internal/sinks"
	"github.com/mdzesseis/eventnorm/internal/tenant"
	"github.com/mdzesseis/eventnorm/internal/tracing"
	"github.com/mdzesseis/eventnorm/pkg/types"
)

// App coordinates one running instance of the normalization pipeline.
type App struct {
	config *config.Config
	logger *logrus.Logger

	registry *pipeline.Registry
	catalog  *schema.Catalog

	demuxer        *pipeline.EventDemuxer
	demuxQueue     *types.BoundedQueue
	demuxTransform *pipeline.Transformer
	demuxDone      chan struct{}
	demuxStarted   bool
	ingest         *ingestReader

	fanout    *fanoutSink
	rawSink   *rawSinkAdapter
	sinkNames []string
	sinkSet   []sinks.OutputSink

	deadLetter     *dlq.Queue
	tenantRegistry *tenant.Registry
	limiter        *ratelimit.Limiter
	tracer         *tracing.Manager
	reloader       *hotreload.Watcher

	adminServer   *http.Server
	metricsServer *metrics.MetricsServer

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New loads configuration, the schema catalog and rule registry, builds
// every configured output sink, and wires the demuxer/ingest pipeline.
// It does not start anything; call Start or Run.
func New(configFile string) (*App, error) {
	cfg, err := config.LoadConfig(configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger := logrus.New()
	level, err := logrus.ParseLevel(cfg.App.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
	if cfg.App.LogFormat == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{})
	}

	ctx, cancel := context.WithCancel(context.Background())
	app := &App{config: cfg, logger: logger, ctx: ctx, cancel: cancel}

	if err := app.initializeComponents(); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to initialize components: %w", err)
	}
	return app, nil
}

// Start brings up sinks, the demuxer/ingest pipeline, hot-reload
// watcher and admin HTTP surface.
func (app *App) Start() error {
	app.logger.WithField("app", app.config.App.Name).Info("app: starting event normalization pipeline")

	for i, sink := range app.sinkSet {
		if err := sink.Start(app.ctx); err != nil {
			return fmt.Errorf("failed to start sink %s: %w", app.sinkNames[i], err)
		}
	}

	app.demuxStarted = true
	go func() {
		app.demuxTransform.Run()
		close(app.demuxDone)
	}()
	app.ingest.Start()

	if app.reloader != nil {
		app.reloader.Start()
	}

	if app.adminServer != nil {
		app.wg.Add(1)
		go func() {
			defer app.wg.Done()
			app.logger.WithField("addr", app.adminServer.Addr).Info("app: starting admin HTTP server")
			if err := app.adminServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				app.logger.WithError(err).Error("app: admin HTTP server error")
			}
		}()
	}

	if app.metricsServer != nil {
		if err := app.metricsServer.Start(); err != nil {
			return fmt.Errorf("failed to start metrics server: %w", err)
		}
	}

	if *app.config.Metrics.Enabled {
		app.wg.Add(1)
		go app.reportQueueStats()
	}

	app.logger.Info("app: started")
	return nil
}

// reportQueueStats periodically pushes each active source-type queue's
// depth/utilization into the Prometheus gauges (internal/metrics), since
// BoundedQueue.Available is a pull-based snapshot with no natural push
// hook of its own.
func (app *App) reportQueueStats() {
	defer app.wg.Done()
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-app.ctx.Done():
			return
		case <-ticker.C:
			capacity := app.config.Pipeline.QueueCapacity
			for _, ps := range app.demuxer.ProcessorStats() {
				metrics.SetQueueStats(ps.SourceType, ps.QueueAvailable, capacity)
			}
		}
	}
}

// Stop drains the ingest source, lets EOS propagate end to end through
// the demuxer/processor fabric, then shuts down sinks and ancillary
// services. Individual component stop errors are logged, not returned;
// shutdown is best-effort.
func (app *App) Stop() error {
	app.logger.Info("app: stopping")

	if err := app.ingest.Stop(); err != nil {
		app.logger.WithError(err).Warn("app: ingest reader stop error")
	}

	// The ingest reader's shutdown put EOS on the demuxer's source; wait
	// for the demuxer to fan it out and for every per-source processor to
	// drain before tearing down the sinks they forward into.
	if app.demuxStarted {
		<-app.demuxDone
		app.demuxer.WaitProcessors()
	}

	if app.adminServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		app.adminServer.Shutdown(ctx)
	}

	if app.metricsServer != nil {
		if err := app.metricsServer.Stop(); err != nil {
			app.logger.WithError(err).Warn("app: metrics server stop error")
		}
	}

	if app.reloader != nil {
		if err := app.reloader.Stop(); err != nil {
			app.logger.WithError(err).Warn("app: hot-reload watcher stop error")
		}
	}

	if app.tracer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := app.tracer.Shutdown(ctx); err != nil {
			app.logger.WithError(err).Warn("app: tracing shutdown error")
		}
	}

	for i, sink := range app.sinkSet {
		if err := sink.Stop(); err != nil {
			app.logger.WithError(err).WithField("sink", app.sinkNames[i]).Warn("app: sink stop error")
		}
	}

	app.cancel()
	app.wg.Wait()
	app.logger.Info("app: stopped")
	return nil
}

// Run starts the app and blocks until SIGINT/SIGTERM, then shuts down.
func (app *App) Run() error {
	if err := app.Start(); err != nil {
		return err
	}
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	app.logger.Info("app: shutdown signal received")
	return app.Stop()
}

// adminRouter builds the gorilla/mux admin surface: /healthz, /stats,
// /metrics, /dlq, /config.
func (app *App) adminRouter() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", app.healthHandler).Methods(http.MethodGet)
	r.HandleFunc("/stats", app.statsHandler).Methods(http.MethodGet)
	r.HandleFunc("/config", app.configHandler).Methods(http.MethodGet)
	if app.config.DLQ.Enabled {
		r.HandleFunc("/dlq", app.dlqHandler).Methods(http.MethodGet)
	}
	if *app.config.Metrics.Enabled {
		r.Handle(app.config.Metrics.Path, metrics.Handler()).Methods(http.MethodGet)
	}
	return r
}
