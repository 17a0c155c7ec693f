package app

import (
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/mdzesseis/eventnorm/internal/dlq"
	"github.com/mdzesseis/eventnorm/internal/hotreload"
	"github.com/mdzesseis/eventnorm/internal/metrics"
	"github.com/mdzesseis/eventnorm/internal/pipeline"
	"github.com/mdzesseis/eventnorm/internal/ratelimit"
	"github.com/mdzesseis/eventnorm/internal/schema"
	"github.com/mdzesseis/eventnorm/internal/sinks"
	"github.com/mdzesseis/eventnorm/internal/tenant"
	"github.com/mdzesseis/eventnorm/internal/tracing"
	"github.com/mdzesseis/eventnorm/pkg/errors"
	"github.com/mdzesseis/eventnorm/pkg/types"
)

// initializeComponents builds every component App needs, in dependency
// order: ambient stack first (metrics, tracing), then the schema
// catalog and rule registry, then sinks, then the demuxer/fanout/ingest
// fabric that ties them together, and finally the optional hot-reload
// watcher and admin HTTP server.
func (app *App) initializeComponents() error {
	metrics.EnsureRegistered()

	if err := app.initTracing(); err != nil {
		return err
	}
	if err := app.initSchemaAndRegistry(); err != nil {
		return err
	}
	if err := app.initDeadLetterAndAncillary(); err != nil {
		return err
	}
	if err := app.initSinks(); err != nil {
		return err
	}
	if err := app.initPipeline(); err != nil {
		return err
	}
	if err := app.initHotReload(); err != nil {
		return err
	}
	app.initAdminServer()
	return nil
}

func (app *App) initTracing() error {
	tracer, err := tracing.NewManager(app.config.Tracing, app.logger)
	if err != nil {
		return fmt.Errorf("tracing manager: %w", err)
	}
	app.tracer = tracer
	return nil
}

func (app *App) initSchemaAndRegistry() error {
	registry, err := loadRegistry(app.config.Rules.Directory, app.config.Pipeline.FuzzyKeySeparator, app.logger)
	if err != nil {
		return fmt.Errorf("rule registry: %w", err)
	}
	app.registry = registry

	catalog, err := loadCatalog(app.config.Schema.Document)
	if err != nil {
		return err
	}
	app.catalog = catalog
	return nil
}

// loadCatalog reads and indexes the schema document; failures are fatal
// at startup and reject the swap under hot-reload.
func loadCatalog(document string) (*schema.Catalog, error) {
	data, err := os.ReadFile(document)
	if err != nil {
		return nil, errors.SchemaLoadError(document, err)
	}
	catalog, err := schema.Load(data)
	if err != nil {
		return nil, errors.SchemaLoadError(document, err)
	}
	return catalog, nil
}

func (app *App) initDeadLetterAndAncillary() error {
	if app.config.DLQ.Enabled {
		app.deadLetter = dlq.NewQueue(dlq.Config{MaxEntries: app.config.DLQ.Capacity}, app.logger)
	}

	if app.config.Tenant.Enabled {
		registry, err := tenant.Load(app.config.Tenant.AllowListFile)
		if err != nil {
			return fmt.Errorf("tenant allow-list: %w", err)
		}
		app.tenantRegistry = registry
	}

	if app.config.RateLimit.Enabled {
		app.limiter = ratelimit.New(ratelimit.Config{
			EventsPerSecond: app.config.RateLimit.EventsPerSecond,
			Burst:           app.config.RateLimit.Burst,
		})
	}
	return nil
}

// initSinks constructs every enabled output sink plus the local-file
// raw side-channel. The Kafka and Elasticsearch sinks each wrap their
// own circuit.Breaker and dlq.Queue fallback internally
// (internal/sinks); the local file sink has neither. initSinks only
// decides which targets are active.
func (app *App) initSinks() error {
	if app.config.Sinks.Kafka.Enabled {
		sink, err := sinks.NewKafkaSink(app.config.Sinks.Kafka, app.logger, app.deadLetter)
		if err != nil {
			return fmt.Errorf("kafka sink: %w", err)
		}
		app.sinkSet = append(app.sinkSet, sink)
		app.sinkNames = append(app.sinkNames, "kafka")
	}

	if app.config.Sinks.Elasticsearch.Enabled {
		sink, err := sinks.NewElasticsearchSink(app.config.Sinks.Elasticsearch, app.logger, app.deadLetter)
		if err != nil {
			return fmt.Errorf("elasticsearch sink: %w", err)
		}
		app.sinkSet = append(app.sinkSet, sink)
		app.sinkNames = append(app.sinkNames, "elasticsearch")
	}

	localSink := sinks.NewLocalFileSink(app.config.Sinks.LocalFile, app.logger)
	if app.config.Sinks.LocalFile.Enabled {
		app.sinkSet = append(app.sinkSet, localSink)
		app.sinkNames = append(app.sinkNames, "local_file")
	}
	app.rawSink = &rawSinkAdapter{ctx: app.ctx, sink: localSink, logger: app.logger}
	return nil
}

func (app *App) initPipeline() error {
	enrich := types.EnrichmentOptions{
		AddEnumSiblings: *app.config.Pipeline.AddEnumSiblings,
		AddObservables:  *app.config.Pipeline.AddObservables,
	}

	fanout := newFanoutSink(app.ctx, app.logger, enrich, app.tracer)
	fanout.tenantRegistry = app.tenantRegistry
	fanout.limiter = app.limiter
	fanout.swapCatalog(app.catalog)
	for i, sink := range app.sinkSet {
		fanout.addTarget(app.sinkNames[i], sink)
	}
	app.fanout = fanout

	app.demuxer = pipeline.NewEventDemuxer(app.registry, fanout, app.config.Pipeline.QueueCapacity, app.logger)
	app.demuxQueue = types.NewBoundedQueue(app.config.Pipeline.QueueCapacity)
	app.demuxTransform = app.demuxer.NewTransformer(app.demuxQueue, app.rawSink)
	app.demuxDone = make(chan struct{})

	reader, err := openIngestReader(app.config.Pipeline.InputPath, app.demuxQueue, app.logger)
	if err != nil {
		return fmt.Errorf("ingest reader: %w", err)
	}
	app.ingest = reader
	return nil
}

// initHotReload wires a watcher over the rule directory and schema
// document that recompiles both off to the side and swaps them in
// atomically.
func (app *App) initHotReload() error {
	if !app.config.HotReload.Enabled {
		return nil
	}

	paths := []string{app.config.Rules.Directory, app.config.Schema.Document}
	rebuild := func() error {
		registry, err := loadRegistry(app.config.Rules.Directory, app.config.Pipeline.FuzzyKeySeparator, app.logger)
		if err != nil {
			metrics.RecordRuleReload(false)
			return err
		}
		catalog, err := loadCatalog(app.config.Schema.Document)
		if err != nil {
			metrics.RecordRuleReload(false)
			return err
		}
		app.demuxer.SwapRegistry(registry)
		app.fanout.swapCatalog(catalog)
		metrics.RecordRuleReload(true)
		return nil
	}

	watcher, err := hotreload.New(hotreload.Config{DebounceInterval: 2 * time.Second}, paths, rebuild, app.logger)
	if err != nil {
		return fmt.Errorf("hot-reload watcher: %w", err)
	}
	app.reloader = watcher
	return nil
}

// initAdminServer builds the admin HTTP server, or, when the admin
// surface is disabled but metrics are still enabled, a standalone
// metrics listener so Prometheus scraping survives headless
// deployments.
func (app *App) initAdminServer() {
	if !*app.config.Server.Enabled {
		if *app.config.Metrics.Enabled {
			app.metricsServer = metrics.NewMetricsServer(app.config.Metrics.Address, app.logger)
		}
		return
	}
	app.adminServer = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", app.config.Server.Host, app.config.Server.Port),
		Handler: app.adminRouter(),
	}
}
