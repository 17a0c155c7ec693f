package sinks

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
	"github.com/sirupsen/logrus"

	"github.com/mdzesseis/eventnorm/internal/circuit"
	"github.com/mdzesseis/eventnorm/internal/config"
	"github.com/mdzesseis/eventnorm/internal/dlq"
	"github.com/mdzesseis/eventnorm/internal/metrics"
	"github.com/mdzesseis/eventnorm/pkg/types"
)

// ElasticsearchSink bulk-indexes enriched events, one index per UTC day
// under the configured index prefix.
type ElasticsearchSink struct {
	config     config.ElasticsearchSinkConfig
	logger     *logrus.Logger
	client     *elasticsearch.Client
	breaker    *circuit.Breaker
	deadLetter *dlq.Queue

	queue      chan types.Event
	batch      []types.Event
	batchMutex sync.Mutex
	batchSize  int
	flushEvery time.Duration

	ctx       context.Context
	cancel    context.CancelFunc
	isRunning bool
	mutex     sync.RWMutex
	loopWg    sync.WaitGroup
}

func NewElasticsearchSink(cfg config.ElasticsearchSinkConfig, logger *logrus.Logger, deadLetter *dlq.Queue) (*ElasticsearchSink, error) {
	if len(cfg.URLs) == 0 {
		return nil, fmt.Errorf("elasticsearch sink: no urls configured")
	}

	esConfig := elasticsearch.Config{Addresses: cfg.URLs}
	if cfg.Username != "" {
		password := cfg.Password
		if password == "" {
			// Same posture as the Kafka sink: credentials missing from
			// the config file are resolved from the environment.
			secret, err := NewBasicSecretManager().GetSecret("EVENTNORM_ES_PASSWORD")
			if err != nil {
				return nil, fmt.Errorf("elasticsearch sink: password: %w", err)
			}
			password = secret
		}
		esConfig.Username = cfg.Username
		esConfig.Password = password
	}
	if cfg.TLS.Enabled {
		tlsConfig, err := createTLSConfig(TLSSettings{
			CertFile:           cfg.TLS.CertFile,
			KeyFile:            cfg.TLS.KeyFile,
			CAFile:             cfg.TLS.CAFile,
			InsecureSkipVerify: cfg.TLS.InsecureSkipVerify,
		})
		if err != nil {
			return nil, fmt.Errorf("elasticsearch sink: tls config: %w", err)
		}
		esConfig.Transport = &http.Transport{TLSClientConfig: tlsConfig}
	}

	client, err := elasticsearch.NewClient(esConfig)
	if err != nil {
		return nil, fmt.Errorf("elasticsearch sink: failed to create client: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	breaker := circuit.NewBreaker(circuit.Config{
		Name:             "elasticsearch_sink",
		FailureThreshold: 10,
		SuccessThreshold: 2,
		Timeout:          60 * time.Second,
	}, logger)

	return &ElasticsearchSink{
		config:     cfg,
		logger:     logger,
		client:     client,
		breaker:    breaker,
		deadLetter: deadLetter,
		queue:      make(chan types.Event, 10000),
		batch:      make([]types.Event, 0, 100),
		batchSize:  100,
		flushEvery: 10 * time.Second,
		ctx:        ctx,
		cancel:     cancel,
	}, nil
}

func (es *ElasticsearchSink) Start(context.Context) error {
	if !es.config.Enabled {
		es.logger.Info("elasticsearch sink disabled")
		return nil
	}

	es.mutex.Lock()
	if es.isRunning {
		es.mutex.Unlock()
		return fmt.Errorf("elasticsearch sink already running")
	}
	es.isRunning = true
	es.mutex.Unlock()

	es.loopWg.Add(1)
	go es.processLoop()
	return nil
}

func (es *ElasticsearchSink) Stop() error {
	es.mutex.Lock()
	if !es.isRunning {
		es.mutex.Unlock()
		return nil
	}
	es.isRunning = false
	es.mutex.Unlock()

	es.cancel()
	es.loopWg.Wait()
	es.flushBatch()
	return nil
}

func (es *ElasticsearchSink) Send(ctx context.Context, events []types.Event) error {
	if !es.config.Enabled {
		return nil
	}
	for _, e := range events {
		select {
		case es.queue <- e:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	metrics.SetQueueStats("elasticsearch_sink", len(es.queue), cap(es.queue))
	return nil
}

func (es *ElasticsearchSink) processLoop() {
	defer es.loopWg.Done()

	ticker := time.NewTicker(es.flushEvery)
	defer ticker.Stop()

	for {
		select {
		case <-es.ctx.Done():
			return
		case e := <-es.queue:
			es.batchMutex.Lock()
			es.batch = append(es.batch, e)
			shouldFlush := len(es.batch) >= es.batchSize
			es.batchMutex.Unlock()
			if shouldFlush {
				es.flushBatch()
			}
		case <-ticker.C:
			es.flushBatch()
		}
	}
}

func (es *ElasticsearchSink) flushBatch() {
	es.batchMutex.Lock()
	if len(es.batch) == 0 {
		es.batchMutex.Unlock()
		return
	}
	batch := es.batch
	es.batch = make([]types.Event, 0, es.batchSize)
	es.batchMutex.Unlock()

	start := time.Now()
	err := es.breaker.Execute(func() error {
		return es.sendBatch(batch)
	})
	metrics.SinkSendDuration.WithLabelValues("elasticsearch").Observe(time.Since(start).Seconds())
	metrics.RecordSinkSend("elasticsearch", err == nil)
	metrics.SetCircuitState("elasticsearch", int(es.breaker.State()))

	if err != nil {
		es.logger.WithError(err).WithField("batch_size", len(batch)).Error("elasticsearch sink: bulk index failed")
		if es.deadLetter != nil {
			for _, e := range batch {
				es.deadLetter.Add(e, err.Error(), "elasticsearch_sink", 0)
			}
		}
	}
}

func (es *ElasticsearchSink) sendBatch(events []types.Event) error {
	if len(events) == 0 {
		return nil
	}

	var buf bytes.Buffer
	for _, e := range events {
		action := map[string]interface{}{
			"index": map[string]interface{}{"_index": es.indexName()},
		}
		actionJSON, err := json.Marshal(action)
		if err != nil {
			return fmt.Errorf("elasticsearch sink: marshal action: %w", err)
		}
		buf.Write(actionJSON)
		buf.WriteByte('\n')

		docJSON, err := json.Marshal(e.Data())
		if err != nil {
			return fmt.Errorf("elasticsearch sink: marshal document: %w", err)
		}
		buf.Write(docJSON)
		buf.WriteByte('\n')
	}

	ctx, cancel := context.WithTimeout(es.ctx, 30*time.Second)
	defer cancel()

	req := esapi.BulkRequest{Body: bytes.NewReader(buf.Bytes())}
	res, err := req.Do(ctx, es.client)
	if err != nil {
		return fmt.Errorf("elasticsearch sink: bulk request: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return fmt.Errorf("elasticsearch sink: bulk response: %s", res.Status())
	}
	return nil
}

func (es *ElasticsearchSink) indexName() string {
	index := es.config.Index
	if index == "" {
		index = "eventnorm"
	}
	return fmt.Sprintf("%s-%s", index, time.Now().UTC().Format("2006.01.02"))
}

func (es *ElasticsearchSink) IsHealthy() bool {
	select {
	case <-es.ctx.Done():
		return false
	default:
	}
	return es.breaker.State() != circuit.StateOpen
}
