package types

// EnrichmentOptions controls the behavior of the schema enrichment walk
// (internal/schema). Default behavior of Enrich when called without
// per-call overrides.
type EnrichmentOptions struct {
	AddEnumSiblings bool
	AddObservables  bool
}

// PipelineOptions are the process-wide defaults: fuzzy key separator
// and default bounded queue capacity. Individual components may still
// be constructed with explicit overrides.
type PipelineOptions struct {
	FuzzyKeySeparator string
	QueueCapacity     int
	Enrichment        EnrichmentOptions
}

// DefaultPipelineOptions returns the documented defaults.
func DefaultPipelineOptions() PipelineOptions {
	return PipelineOptions{
		FuzzyKeySeparator: ":",
		QueueCapacity:     1000,
		Enrichment: EnrichmentOptions{
			AddEnumSiblings: true,
			AddObservables:  true,
		},
	}
}

// DemuxStats reports point-in-time counters for an EventDemuxer, used by
// the admin HTTP surface and Prometheus metrics.
type DemuxStats struct {
	SourceTypesRegistered int
	RawForwarded          int64
	Routed                int64
}

// ProcessorStats reports point-in-time counters for a single
// EventProcessor, keyed by source type in the owning demuxer.
type ProcessorStats struct {
	SourceType     string
	ParseFailures  int64
	TranslateMiss  int64
	Emitted        int64
	QueueAvailable int
}
