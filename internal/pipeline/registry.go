package pipeline

import (
	"github.com/mdzesseis/eventnorm/internal/rules"
	"github.com/mdzesseis/eventnorm/pkg/fuzzy"
	"github.com/mdzesseis/eventnorm/pkg/types"
)

// Registry holds the two fuzzy maps an EventDemuxer consults per
// source type: parsers and the translators manager built from the rule
// documents compiled for that source type. It is built once at startup
// (or once per hot-reload swap) and is never mutated by the demuxer
// itself, so concurrent reads from worker goroutines need no locking.
type Registry struct {
	Parsers     *fuzzy.Map[types.Parser]
	Translators *fuzzy.Map[*rules.TranslatorsManager]
}

// NewRegistry builds an empty registry using separator for fuzzy
// suffix-stripping.
func NewRegistry(separator string) *Registry {
	return &Registry{
		Parsers:     fuzzy.NewMap[types.Parser](separator),
		Translators: fuzzy.NewMap[*rules.TranslatorsManager](separator),
	}
}

// Lookup resolves both the parser and translators manager registered for
// sourceType (fuzzily). Both must be present for the demuxer to route to
// a dedicated queue; a partial match is treated as a miss.
func (r *Registry) Lookup(sourceType string) (types.Parser, *rules.TranslatorsManager, bool) {
	p, ok := r.Parsers.Lookup(sourceType)
	if !ok {
		return nil, nil, false
	}
	t, ok := r.Translators.Lookup(sourceType)
	if !ok {
		return nil, nil, false
	}
	return p, t, true
}
