package sinks

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/mdzesseis/eventnorm/internal/config"
)

func TestNewElasticsearchSinkRejectsMissingURLs(t *testing.T) {
	_, err := NewElasticsearchSink(config.ElasticsearchSinkConfig{Enabled: true}, logrus.New(), nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "urls")
}

func TestNewElasticsearchSinkResolvesPasswordFromSecretManager(t *testing.T) {
	t.Setenv("EVENTNORM_ES_PASSWORD", "")
	cfg := config.ElasticsearchSinkConfig{
		Enabled:  true,
		URLs:     []string{"http://localhost:9200"},
		Username: "svc-eventnorm",
	}
	_, err := NewElasticsearchSink(cfg, logrus.New(), nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "password")

	t.Setenv("EVENTNORM_ES_PASSWORD", "s3cret")
	sink, err := NewElasticsearchSink(cfg, logrus.New(), nil)
	require.NoError(t, err)
	require.NotNil(t, sink)
}

func TestElasticsearchIndexNameIncludesDate(t *testing.T) {
	sink, err := NewElasticsearchSink(config.ElasticsearchSinkConfig{
		Enabled: true,
		URLs:    []string{"http://localhost:9200"},
		Index:   "eventnorm-test",
	}, logrus.New(), nil)
	require.NoError(t, err)
	require.Contains(t, sink.indexName(), "eventnorm-test-")
}
