package pipeline

import (
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/mdzesseis/eventnorm/internal/metrics"
	"github.com/mdzesseis/eventnorm/pkg/errors"
	"github.com/mdzesseis/eventnorm/pkg/types"
)

// EventDemuxer is the single upstream worker of the pipeline fabric:
// it reads raw Events off one Source and, for every distinct sourceType
// it has a registered parser and translators manager for, lazily spins
// up a dedicated BoundedQueue and EventProcessor worker. Events with no
// sourceType, or one without a registration, are forwarded unchanged to
// the raw side-sink.
type EventDemuxer struct {
	registry       atomic.Pointer[Registry]
	translatedSink types.Sink
	rawSink        types.Sink
	queueCapacity  int
	logger         *logrus.Logger

	mu     sync.RWMutex
	queues map[string]*types.BoundedQueue
	procWg sync.WaitGroup

	warnedMu sync.Mutex
	warned   map[string]struct{}

	routed       int64
	rawForwarded int64
}

// NewEventDemuxer builds a demuxer over registry, routing matched events
// to dedicated per-source-type EventProcessor workers that forward to
// translatedSink, and unmatched/unrouted events to the Transformer's
// own sink (the raw side-channel).
func NewEventDemuxer(registry *Registry, translatedSink types.Sink, queueCapacity int, logger *logrus.Logger) *EventDemuxer {
	d := &EventDemuxer{
		translatedSink: translatedSink,
		queueCapacity:  queueCapacity,
		logger:         logger,
		queues:         make(map[string]*types.BoundedQueue),
		warned:         make(map[string]struct{}),
	}
	d.registry.Store(registry)
	return d
}

// SwapRegistry atomically installs a newly compiled registry. Already
// running per-source-type EventProcessor workers keep the translators
// they were constructed with (at most one EventProcessor exists per
// source type for the process lifetime); the new registry takes
// effect only for source types not yet seen. Used by internal/hotreload
// after it recompiles the rule directory off to the side.
func (d *EventDemuxer) SwapRegistry(registry *Registry) {
	d.registry.Store(registry)
}

// NewTransformer wraps d as a Transformer draining source and forwarding
// unroutable events to rawSink. Run the returned Transformer on its own
// goroutine.
func (d *EventDemuxer) NewTransformer(source types.Source, rawSink types.Sink) *Transformer {
	d.rawSink = rawSink
	return NewTransformer("demuxer", source, rawSink, d.process, d.terminated, d.logger)
}

// process routes one raw event: a matched event is handed off to its
// per-source queue and process returns (zero, false, nil) since it has
// already been forwarded internally; everything else is returned for
// the caller Transformer to forward to the raw sink.
func (d *EventDemuxer) process(e types.Event) (types.Event, bool, error) {
	sourceType, ok := e.Data().GetString("sourceType")
	if !ok {
		if d.logger != nil {
			d.logger.WithError(errors.MissingSourceType(e.ID)).Warn("demuxer: event has no sourceType, forwarding to raw sink")
		}
		atomic.AddInt64(&d.rawForwarded, 1)
		metrics.RecordRawForwarded("missing_source_type")
		return e, true, nil
	}

	queue := d.queueFor(sourceType)
	if queue == nil {
		atomic.AddInt64(&d.rawForwarded, 1)
		metrics.RecordRawForwarded("unknown_source_type")
		return e, true, nil
	}

	queue.Put(e)
	atomic.AddInt64(&d.routed, 1)
	metrics.RecordRouted(sourceType)
	return types.Event{}, false, nil
}

// queueFor returns the cached per-source queue for sourceType, creating
// it (and starting its EventProcessor worker) on first use. It returns
// nil if sourceType has no registered parser or translator.
func (d *EventDemuxer) queueFor(sourceType string) *types.BoundedQueue {
	d.mu.RLock()
	q, ok := d.queues[sourceType]
	d.mu.RUnlock()
	if ok {
		return q
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if q, ok := d.queues[sourceType]; ok {
		return q
	}

	parser, manager, ok := d.registry.Load().Lookup(sourceType)
	if !ok {
		d.warnUnknownOnce(sourceType)
		return nil
	}

	q = types.NewBoundedQueue(d.queueCapacity)
	proc := NewEventProcessor(sourceType, parser, manager, q, d.translatedSink, d.rawSink, d.logger)
	d.procWg.Add(1)
	go func() {
		defer d.procWg.Done()
		proc.Run()
	}()
	d.queues[sourceType] = q
	return q
}

// WaitProcessors blocks until every started per-source EventProcessor
// worker has exited. Callers must first let EOS reach the demuxer's own
// source (so terminated fans it out to each per-source queue), or the
// wait never returns.
func (d *EventDemuxer) WaitProcessors() {
	d.procWg.Wait()
}

func (d *EventDemuxer) warnUnknownOnce(sourceType string) {
	d.warnedMu.Lock()
	_, already := d.warned[sourceType]
	d.warned[sourceType] = struct{}{}
	d.warnedMu.Unlock()
	if already || d.logger == nil {
		return
	}
	d.logger.WithError(errors.UnknownSourceType(sourceType)).Warn("demuxer: no parser/translator registered, forwarding to raw sink")
}

// terminated puts EOS on every per-source queue exactly once,
// guaranteeing every downstream EventProcessor eventually drains and
// exits.
func (d *EventDemuxer) terminated() {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, q := range d.queues {
		q.Put(types.EOS)
	}
}

// Stats reports a point-in-time snapshot for the admin HTTP surface and
// Prometheus metrics.
func (d *EventDemuxer) Stats() types.DemuxStats {
	d.mu.RLock()
	n := len(d.queues)
	d.mu.RUnlock()
	return types.DemuxStats{
		SourceTypesRegistered: n,
		RawForwarded:          atomic.LoadInt64(&d.rawForwarded),
		Routed:                atomic.LoadInt64(&d.routed),
	}
}

// ProcessorStats reports a QueueAvailable snapshot per active source
// type, keyed by the literal sourceType string events were routed under
// (which may differ from the fuzzy registration key that resolved it).
func (d *EventDemuxer) ProcessorStats() []types.ProcessorStats {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]types.ProcessorStats, 0, len(d.queues))
	for sourceType, q := range d.queues {
		out = append(out, types.ProcessorStats{
			SourceType:     sourceType,
			QueueAvailable: q.Available(),
		})
	}
	return out
}
