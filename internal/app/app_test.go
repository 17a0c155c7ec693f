package app

import (
	"encoding/json"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v2"

	"github.com/mdzesseis/eventnorm/internal/config"
)

const minimalSchemaDocument = `{
  "classes": {
    "Test Activity": {
      "uid": 1,
      "caption": "Test Activity",
      "attributes": {
        "activity_id": {"caption": "Activity ID", "type": "integer_t"}
      }
    }
  },
  "objects": {},
  "types": {}
}`

const minimalRuleDocument = `{
  "desc": "minimal passthrough rule",
  "rules": [
    {"rawEvent": {"@move": "message"}}
  ]
}`

// writeMinimalDeployment lays out a rules directory and schema document
// on disk and returns a YAML config file path pointing at them, with
// Kafka, Elasticsearch and tracing disabled so New succeeds without
// external services.
func writeMinimalDeployment(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()

	rulesDir := filepath.Join(dir, "rules")
	require.NoError(t, os.MkdirAll(filepath.Join(rulesDir, "demo-vendor"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(rulesDir, "demo-vendor", "001.json"), []byte(minimalRuleDocument), 0o644))

	schemaPath := filepath.Join(dir, "schema.json")
	require.NoError(t, os.WriteFile(schemaPath, []byte(minimalSchemaDocument), 0o644))

	inputPath := filepath.Join(dir, "input.jsonl")
	require.NoError(t, os.WriteFile(inputPath, []byte(""), 0o644))

	outputDir := filepath.Join(dir, "raw")
	require.NoError(t, os.MkdirAll(outputDir, 0o755))

	cfg := map[string]interface{}{
		"app": map[string]interface{}{"log_level": "error", "log_format": "text"},
		"server": map[string]interface{}{
			"enabled": true,
			"host":    "127.0.0.1",
			"port":    0,
		},
		"pipeline": map[string]interface{}{
			"queue_capacity": 16,
			"input_path":     inputPath,
		},
		"rules":  map[string]interface{}{"directory": rulesDir},
		"schema": map[string]interface{}{"document": schemaPath},
		"sinks": map[string]interface{}{
			"local_file": map[string]interface{}{"enabled": true, "directory": outputDir},
		},
	}
	data, err := yaml.Marshal(cfg)
	require.NoError(t, err)

	configPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(configPath, data, 0o644))
	return configPath
}

func TestNewBuildsAppFromMinimalConfig(t *testing.T) {
	configPath := writeMinimalDeployment(t)

	application, err := New(configPath)
	require.NoError(t, err)
	require.NotNil(t, application.registry)
	require.NotNil(t, application.catalog)
	require.NotNil(t, application.demuxer)
	require.Len(t, application.sinkSet, 1)
	require.Equal(t, "local_file", application.sinkNames[0])
}

func TestAppStartRunsIngestToEOS(t *testing.T) {
	configPath := writeMinimalDeployment(t)
	cfg, err := config.LoadConfig(configPath)
	require.NoError(t, err)
	cfg.Pipeline.InputPath = writeEventsFile(t, `{"sourceType":"demo-vendor","tenant":"acme","rawEvent":"hello"}`)

	data, err := yaml.Marshal(cfg)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(configPath, data, 0o644))

	application, err := New(configPath)
	require.NoError(t, err)
	require.NoError(t, application.Start())

	require.Eventually(t, func() bool {
		return application.demuxer.Stats().Routed >= 1
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, application.Stop())
}

func TestHealthHandlerReportsSinkStatus(t *testing.T) {
	configPath := writeMinimalDeployment(t)
	application, err := New(configPath)
	require.NoError(t, err)
	require.NoError(t, application.Start())
	defer application.Stop()

	req := httptest.NewRequest("GET", "/healthz", nil)
	rec := httptest.NewRecorder()
	application.healthHandler(rec, req)
	require.Equal(t, 200, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "ok", body["status"])
}

func TestStatsHandlerReportsDemuxCounters(t *testing.T) {
	configPath := writeMinimalDeployment(t)
	application, err := New(configPath)
	require.NoError(t, err)
	require.NoError(t, application.Start())
	defer application.Stop()

	req := httptest.NewRequest("GET", "/stats", nil)
	rec := httptest.NewRecorder()
	application.statsHandler(rec, req)
	require.Equal(t, 200, rec.Code)
}

func writeEventsFile(t *testing.T, lines ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "events.jsonl")
	content := ""
	for _, l := range lines {
		content += l + "\n"
	}
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}
