// Package pipeline implements the demultiplexer + processor fabric:
// the generic Transformer worker loop, the
// EventDemuxer that lazily fans a raw stream out into one bounded queue
// and EventProcessor per source type, and the EventProcessor that binds
// a parser and a TranslatorsManager to one such queue.
package pipeline

import (
	"github.com/sirupsen/logrus"

	"github.com/mdzesseis/eventnorm/pkg/types"
)

// ProcessFunc transforms one Event into zero or one output Events.
// Returning ok == false drops the event (no output produced); an error
// is logged and the event is dropped without stopping the worker.
type ProcessFunc func(types.Event) (types.Event, bool, error)

// Transformer is a long-lived worker that drains a Source, applies a
// ProcessFunc, and forwards non-dropped results to a Sink. Callers
// supply the process function and a terminated hook rather than
// subclassing anything.
type Transformer struct {
	name       string
	source     types.Source
	sink       types.Sink
	process    ProcessFunc
	terminated func()
	logger     *logrus.Logger
}

// NewTransformer builds a Transformer. terminated may be nil if the
// caller has no downstream queues to signal.
func NewTransformer(name string, source types.Source, sink types.Sink, process ProcessFunc, terminated func(), logger *logrus.Logger) *Transformer {
	if terminated == nil {
		terminated = func() {}
	}
	return &Transformer{name: name, source: source, sink: sink, process: process, terminated: terminated, logger: logger}
}

// Run executes the worker's main loop until it observes EOS or its
// source is closed out from under it. It must be invoked on
// its own goroutine. On EOS, Run calls the terminated hook before
// returning; when the source is closed without an EOS, Run returns
// without calling it.
func (t *Transformer) Run() {
	for {
		e, ok := t.source.Take()
		if !ok {
			// Hard cancellation: the source queue was closed without an
			// EOS ever arriving. Exit without propagating EOS; callers
			// must not rely on downstream drain after a hard close.
			return
		}
		if e.IsEOS() {
			t.terminated()
			return
		}

		out, keep, err := t.process(e)
		if err != nil {
			if t.logger != nil {
				t.logger.WithError(err).WithField("transformer", t.name).Warn("transformer: dropping event after process error")
			}
			continue
		}
		if !keep {
			continue
		}
		if t.sink != nil {
			t.sink.Put(out)
		}
	}
}
