package app

import (
	"context"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/mdzesseis/eventnorm/internal/metrics"
	"github.com/mdzesseis/eventnorm/internal/ratelimit"
	"github.com/mdzesseis/eventnorm/internal/schema"
	"github.com/mdzesseis/eventnorm/internal/sinks"
	"github.com/mdzesseis/eventnorm/internal/tenant"
	"github.com/mdzesseis/eventnorm/internal/tracing"
	"github.com/mdzesseis/eventnorm/pkg/types"
)

// fanoutSink is the demuxer's translatedSink (pkg/types.Sink): it applies
// tenant normalization and the optional rate-limit guard to every
// translated/enriched event, then forwards it to every enabled output
// sink (Kafka, Elasticsearch, local file). The Kafka and Elasticsearch
// sinks do their own internal batching, circuit breaking and DLQ
// fallback (internal/sinks); the local file sink writes each event
// directly. fanoutSink's job is only routing one event to all of them.
type fanoutSink struct {
	ctx    context.Context
	logger *logrus.Logger

	targets     []sinks.OutputSink
	targetNames []string

	tenantRegistry *tenant.Registry // nil if tenant normalization disabled

	limiter *ratelimit.Limiter // nil if rate limiting disabled

	catalog atomic.Pointer[schema.Catalog]
	enrich  types.EnrichmentOptions

	tracer *tracing.Manager
}

func newFanoutSink(ctx context.Context, logger *logrus.Logger, enrich types.EnrichmentOptions, tracer *tracing.Manager) *fanoutSink {
	return &fanoutSink{ctx: ctx, logger: logger, enrich: enrich, tracer: tracer}
}

func (f *fanoutSink) addTarget(name string, sink sinks.OutputSink) {
	f.targets = append(f.targets, sink)
	f.targetNames = append(f.targetNames, name)
}

// swapCatalog atomically installs the active schema catalog, called once
// at startup and again on every hot-reload rebuild.
func (f *fanoutSink) swapCatalog(c *schema.Catalog) {
	f.catalog.Store(c)
}

// Put implements pkg/types.Sink. It returns false when the rate limiter
// rejects the event; otherwise it calls each target sink's Send in turn.
// The Kafka sink enqueues for a background flush, waiting at most 100ms
// for room before dead-lettering; the Elasticsearch sink waits for room
// in its buffer; the local file sink writes synchronously.
func (f *fanoutSink) Put(e types.Event) bool {
	if e.IsEOS() {
		return true
	}

	tree := e.Data()
	sourceType := sourceTypeOf(tree)

	if f.tenantRegistry != nil {
		raw, _ := tree.GetString("unmapped.tenant")
		if canonical, ok := f.tenantRegistry.Resolve(raw); ok {
			tree.Set("unmapped.tenant", canonical)
		} else if f.logger != nil {
			f.logger.WithField("tenant", raw).Warn("app: unrecognized tenant, forwarding unresolved")
		}
	}

	if f.limiter != nil {
		tenantName, _ := tree.GetString("unmapped.tenant")
		if !f.limiter.Allow(tenantName) {
			metrics.RecordRateLimitRejected(tenantName)
			return false
		}
	}

	if catalog := f.catalog.Load(); catalog != nil {
		_, span := f.tracer.StartStage(f.ctx, "enrich", e.ID, sourceType)
		started := time.Now()
		catalog.Enrich(tree, f.enrich)
		metrics.EnrichmentDuration.WithLabelValues(classUIDLabel(tree)).Observe(time.Since(started).Seconds())
		tracing.EndStage(span, started, nil)
	}

	events := []types.Event{e}
	for i, target := range f.targets {
		_, span := f.tracer.StartStage(f.ctx, "sink-send", e.ID, sourceType)
		err := target.Send(f.ctx, events)
		tracing.EndStage(span, time.Now(), err)
		if err != nil && f.logger != nil {
			f.logger.WithError(err).WithField("sink", f.targetNames[i]).Warn("app: sink send failed")
		}
	}
	return true
}

func classUIDLabel(tree types.Tree) string {
	v, ok := tree.Get("class_uid")
	if !ok {
		return "unknown"
	}
	switch n := v.(type) {
	case int:
		return strconv.Itoa(n)
	case float64:
		return strconv.Itoa(int(n))
	default:
		return "unknown"
	}
}

func sourceTypeOf(tree types.Tree) string {
	if v, ok := tree.GetString("unmapped.sourceType"); ok {
		return v
	}
	return "unknown"
}

// rawSinkAdapter wraps the local file sink as the demuxer's raw/
// unparseable-event side-channel: events with no sourceType, or one
// with no registered parser/translator, land here unchanged rather
// than being silently dropped.
type rawSinkAdapter struct {
	ctx    context.Context
	sink   sinks.OutputSink
	logger *logrus.Logger
}

func (r *rawSinkAdapter) Put(e types.Event) bool {
	if e.IsEOS() {
		return true
	}
	if err := r.sink.Send(r.ctx, []types.Event{e}); err != nil {
		if r.logger != nil {
			r.logger.WithError(err).Warn("app: raw side-sink send failed")
		}
		return false
	}
	return true
}
