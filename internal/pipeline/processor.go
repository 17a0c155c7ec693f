package pipeline

import (
	"github.com/sirupsen/logrus"

	"github.com/mdzesseis/eventnorm/internal/metrics"
	"github.com/mdzesseis/eventnorm/internal/rules"
	"github.com/mdzesseis/eventnorm/pkg/errors"
	"github.com/mdzesseis/eventnorm/pkg/types"
)

// passthroughKeys are always copied into translated.unmapped.*
// regardless of whether the matching rule claimed them.
var passthroughKeys = []string{"sourceType", "tenant"}

// NewEventProcessor builds the Transformer bound to a single
// (parser, translators, source-queue, output-sink). It is always
// constructed by an EventDemuxer the first time a source type is seen.
// rawSink receives the original pre-translate event when no translator
// matched; it may be nil, in which case a miss is dropped instead of
// forwarded.
func NewEventProcessor(sourceType string, parser types.Parser, manager *rules.TranslatorsManager, queue *types.BoundedQueue, output types.Sink, rawSink types.Sink, logger *logrus.Logger) *Transformer {
	process := func(e types.Event) (types.Event, bool, error) {
		return processEvent(sourceType, parser, manager, e, rawSink, logger)
	}
	terminated := func() {
		output.Put(types.EOS)
	}
	return NewTransformer("processor:"+sourceType, queue, output, process, terminated, logger)
}

func processEvent(sourceType string, parser types.Parser, manager *rules.TranslatorsManager, e types.Event, rawSink types.Sink, logger *logrus.Logger) (types.Event, bool, error) {
	rawEvent, ok := e.Data().GetString("rawEvent")
	if !ok {
		return types.Event{}, false, nil
	}

	parsed, err := parser.Parse(rawEvent)
	if err != nil {
		metrics.RecordParseFailure(sourceType)
		if logger != nil {
			logger.WithError(errors.ParseFailure(sourceType, err.Error())).
				WithField("source_type", sourceType).
				Warn("processor: parse failure, dropping event")
		}
		return types.Event{}, false, nil
	}

	translated, claimed, matched := manager.TranslateWithClaims(parsed)
	if !matched {
		metrics.RecordTranslateMiss(sourceType)
		if logger != nil {
			logger.WithError(errors.TranslateMiss(sourceType)).
				WithField("source_type", sourceType).
				Warn("processor: no translator matched, forwarding to raw sink")
		}
		if rawSink != nil {
			rawSink.Put(e)
		}
		return types.Event{}, false, nil
	}

	applyUnmapped(translated, parsed, claimed, sourceType, e.Data(), rawEvent)
	metrics.RecordEmitted(sourceType)

	return types.NewEvent(translated), true, nil
}

// applyUnmapped writes the unmapped.* passthrough block into
// translated: the fixed passthrough attributes, the original
// sourceType, rawEvent, and any top-level parsed attribute the winning
// translator's rules never read from.
func applyUnmapped(translated, parsed types.Tree, claimed []string, sourceType string, raw types.Tree, rawEvent string) {
	claimedSet := make(map[string]struct{}, len(claimed))
	for _, k := range claimed {
		claimedSet[k] = struct{}{}
	}

	for k, v := range parsed {
		if _, ok := claimedSet[k]; ok {
			continue
		}
		translated.Set("unmapped."+k, v)
	}

	for _, k := range passthroughKeys {
		if v, ok := raw.Get(k); ok {
			translated.Set("unmapped."+k, v)
		}
	}
	translated.Set("unmapped.sourceType", sourceType)
	translated.Set("unmapped.rawEvent", rawEvent)
}
