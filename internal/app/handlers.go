package app

import (
	"encoding/json"
	"net/http"
	"time"
)

// healthHandler reports the health of every configured output sink.
// The ingest reader is not checked.
func (app *App) healthHandler(w http.ResponseWriter, r *http.Request) {
	healthy := true
	sinkHealth := make(map[string]bool, len(app.sinkSet))
	for i, sink := range app.sinkSet {
		ok := sink.IsHealthy()
		sinkHealth[app.sinkNames[i]] = ok
		healthy = healthy && ok
	}

	status := http.StatusOK
	if !healthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]interface{}{
		"status":    healthyLabel(healthy),
		"sinks":     sinkHealth,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func healthyLabel(ok bool) string {
	if ok {
		return "ok"
	}
	return "degraded"
}

// statsHandler reports demuxer/processor queue depths and, if enabled,
// dead-letter and hot-reload counters, for operator visibility
// alongside the Prometheus metrics endpoint.
func (app *App) statsHandler(w http.ResponseWriter, r *http.Request) {
	body := map[string]interface{}{
		"demux":      app.demuxer.Stats(),
		"processors": app.demuxer.ProcessorStats(),
	}
	if app.deadLetter != nil {
		body["dlq"] = app.deadLetter.Stats()
	}
	if app.reloader != nil {
		body["hot_reload"] = app.reloader.Stats()
	}
	writeJSON(w, http.StatusOK, body)
}

// configHandler dumps the effective configuration. The Kafka SASL
// password and the Elasticsearch basic-auth password are scrubbed
// before serialization.
func (app *App) configHandler(w http.ResponseWriter, r *http.Request) {
	redacted := *app.config
	redacted.Sinks.Kafka.SASL.Password = ""
	redacted.Sinks.Elasticsearch.Password = ""
	writeJSON(w, http.StatusOK, redacted)
}

// dlqHandler reports the current dead-letter queue depth. Reprocessing
// is an operator-triggered action outside this read-only surface.
func (app *App) dlqHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, app.deadLetter.Stats())
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
