package sinks

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/IBM/sarama"
	"github.com/sirupsen/logrus"

	"github.com/mdzesseis/eventnorm/internal/circuit"
	"github.com/mdzesseis/eventnorm/internal/compression"
	"github.com/mdzesseis/eventnorm/internal/config"
	"github.com/mdzesseis/eventnorm/internal/dlq"
	"github.com/mdzesseis/eventnorm/internal/metrics"
	"github.com/mdzesseis/eventnorm/pkg/types"
)

// KafkaSink batches enriched events and publishes them to a topic via
// sarama's async producer, with a circuit breaker guarding the send
// path and a dead letter queue catching permanent failures.
type KafkaSink struct {
	config     config.KafkaSinkConfig
	logger     *logrus.Logger
	producer   sarama.AsyncProducer
	breaker    *circuit.Breaker
	compressor compression.Compressor
	deadLetter *dlq.Queue

	queue      chan types.Event
	batch      []types.Event
	batchMutex sync.Mutex
	lastSent   time.Time

	ctx       context.Context
	cancel    context.CancelFunc
	isRunning bool
	mutex     sync.RWMutex

	loopWg sync.WaitGroup

	sentCount  int64
	errorCount int64
}

func NewKafkaSink(cfg config.KafkaSinkConfig, logger *logrus.Logger, deadLetter *dlq.Queue) (*KafkaSink, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka sink: no brokers configured")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("kafka sink: no topic configured")
	}

	saramaConfig := sarama.NewConfig()
	saramaConfig.Producer.Return.Successes = true
	saramaConfig.Producer.Return.Errors = true
	saramaConfig.Producer.RequiredAcks = sarama.RequiredAcks(cfg.RequiredAcks)
	// Compression is applied ourselves (internal/compression) so the
	// concrete codec implementation is exercised directly.
	saramaConfig.Producer.Compression = sarama.CompressionNone

	if cfg.BatchTimeout != "" {
		if d, err := time.ParseDuration(cfg.BatchTimeout); err == nil {
			saramaConfig.Producer.Flush.Frequency = d
		}
	}
	if cfg.RetryMax > 0 {
		saramaConfig.Producer.Retry.Max = cfg.RetryMax
	}

	if cfg.TLS.Enabled {
		tlsConfig, err := createTLSConfig(TLSSettings{
			CertFile:           cfg.TLS.CertFile,
			KeyFile:            cfg.TLS.KeyFile,
			CAFile:             cfg.TLS.CAFile,
			InsecureSkipVerify: cfg.TLS.InsecureSkipVerify,
		})
		if err != nil {
			return nil, fmt.Errorf("kafka sink: tls config: %w", err)
		}
		saramaConfig.Net.TLS.Enable = true
		saramaConfig.Net.TLS.Config = tlsConfig
	}

	if cfg.SASL.Enabled {
		password := cfg.SASL.Password
		if password == "" {
			// Config files shouldn't carry broker credentials; fall back
			// to the environment-backed secret manager.
			secret, err := NewBasicSecretManager().GetSecret("EVENTNORM_KAFKA_SASL_PASSWORD")
			if err != nil {
				return nil, fmt.Errorf("kafka sink: sasl password: %w", err)
			}
			password = secret
		}
		saramaConfig.Net.SASL.Enable = true
		saramaConfig.Net.SASL.User = cfg.SASL.Username
		saramaConfig.Net.SASL.Password = password

		switch strings.ToLower(cfg.SASL.Mechanism) {
		case "scram-sha-256":
			saramaConfig.Net.SASL.Mechanism = sarama.SASLTypeSCRAMSHA256
			saramaConfig.Net.SASL.SCRAMClientGeneratorFunc = func() sarama.SCRAMClient {
				return &XDGSCRAMClient{HashGeneratorFcn: SHA256}
			}
		case "scram-sha-512":
			saramaConfig.Net.SASL.Mechanism = sarama.SASLTypeSCRAMSHA512
			saramaConfig.Net.SASL.SCRAMClientGeneratorFunc = func() sarama.SCRAMClient {
				return &XDGSCRAMClient{HashGeneratorFcn: SHA512}
			}
		default:
			saramaConfig.Net.SASL.Mechanism = sarama.SASLTypePlaintext
		}
	}

	producer, err := sarama.NewAsyncProducer(cfg.Brokers, saramaConfig)
	if err != nil {
		return nil, fmt.Errorf("kafka sink: failed to create producer: %w", err)
	}

	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = 10000
	}

	ctx, cancel := context.WithCancel(context.Background())

	breaker := circuit.NewBreaker(circuit.Config{
		Name:             "kafka_sink",
		FailureThreshold: 10,
		SuccessThreshold: 2,
		Timeout:          60 * time.Second,
	}, logger)

	logger.WithFields(logrus.Fields{
		"brokers":     cfg.Brokers,
		"topic":       cfg.Topic,
		"compression": cfg.Compression,
		"batch_size":  cfg.BatchSize,
	}).Info("kafka sink initialized")

	return &KafkaSink{
		config:     cfg,
		logger:     logger,
		producer:   producer,
		breaker:    breaker,
		compressor: compression.New(compression.ParseAlgorithm(cfg.Compression)),
		deadLetter: deadLetter,
		queue:      make(chan types.Event, queueSize),
		ctx:        ctx,
		cancel:     cancel,
	}, nil
}

func (ks *KafkaSink) Start(context.Context) error {
	if !ks.config.Enabled {
		ks.logger.Info("kafka sink disabled")
		return nil
	}

	ks.mutex.Lock()
	if ks.isRunning {
		ks.mutex.Unlock()
		return fmt.Errorf("kafka sink already running")
	}
	ks.isRunning = true
	ks.lastSent = time.Now()
	ks.mutex.Unlock()

	ks.loopWg.Add(2)
	go ks.processLoop()
	go ks.handleProducerResponses()

	return nil
}

func (ks *KafkaSink) Stop() error {
	ks.mutex.Lock()
	if !ks.isRunning {
		ks.mutex.Unlock()
		return nil
	}
	ks.isRunning = false
	ks.mutex.Unlock()

	ks.cancel()
	ks.loopWg.Wait()
	ks.flushBatch()

	if err := ks.producer.Close(); err != nil {
		ks.logger.WithError(err).Error("kafka sink: error closing producer")
	}
	return nil
}

// Send enqueues events for batched delivery. A full queue blocks up to
// 100ms before dead-lettering the event, matching the bounded-queue
// backpressure ethos used upstream.
func (ks *KafkaSink) Send(ctx context.Context, events []types.Event) error {
	if !ks.config.Enabled {
		return nil
	}
	for _, e := range events {
		select {
		case ks.queue <- e:
		case <-ctx.Done():
			return ctx.Err()
		default:
			select {
			case ks.queue <- e:
			case <-time.After(100 * time.Millisecond):
				if ks.deadLetter != nil {
					ks.deadLetter.Add(e, "kafka queue full", "kafka_sink", 0)
				}
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	metrics.SetQueueStats("kafka_sink", len(ks.queue), cap(ks.queue))
	return nil
}

func (ks *KafkaSink) processLoop() {
	defer ks.loopWg.Done()

	batchTimeout := 5 * time.Second
	if ks.config.BatchTimeout != "" {
		if d, err := time.ParseDuration(ks.config.BatchTimeout); err == nil {
			batchTimeout = d
		}
	}
	ticker := time.NewTicker(batchTimeout)
	defer ticker.Stop()

	for {
		select {
		case <-ks.ctx.Done():
			return
		case e := <-ks.queue:
			ks.batchMutex.Lock()
			ks.batch = append(ks.batch, e)
			shouldFlush := len(ks.batch) >= ks.config.BatchSize
			ks.batchMutex.Unlock()
			if shouldFlush {
				ks.flushBatch()
			}
		case <-ticker.C:
			ks.flushBatch()
		}
	}
}

func (ks *KafkaSink) flushBatch() {
	ks.batchMutex.Lock()
	if len(ks.batch) == 0 {
		ks.batchMutex.Unlock()
		return
	}
	batch := ks.batch
	ks.batch = make([]types.Event, 0, ks.config.BatchSize)
	ks.lastSent = time.Now()
	ks.batchMutex.Unlock()

	start := time.Now()
	err := ks.breaker.Execute(func() error {
		return ks.sendBatch(batch)
	})
	metrics.SinkSendDuration.WithLabelValues("kafka").Observe(time.Since(start).Seconds())
	metrics.RecordSinkSend("kafka", err == nil)
	metrics.SetCircuitState("kafka", int(ks.breaker.State()))

	if err != nil {
		ks.logger.WithError(err).WithField("batch_size", len(batch)).Error("kafka sink: failed to send batch")
		atomic.AddInt64(&ks.errorCount, int64(len(batch)))
		if ks.deadLetter != nil {
			for _, e := range batch {
				ks.deadLetter.Add(e, err.Error(), "kafka_sink", 0)
			}
		}
	}
}

func (ks *KafkaSink) sendBatch(events []types.Event) error {
	if len(events) == 0 {
		return nil
	}

	errCount := 0
	for _, e := range events {
		value, err := json.Marshal(e.Data())
		if err != nil {
			errCount++
			continue
		}

		compressed, err := ks.compressor.Compress(value)
		if err != nil {
			errCount++
			continue
		}

		msg := &sarama.ProducerMessage{
			Topic: ks.config.Topic,
			Key:   sarama.StringEncoder(ks.partitionKey(e)),
			Value: sarama.ByteEncoder(compressed),
		}
		ks.producer.Input() <- msg
	}

	atomic.AddInt64(&ks.sentCount, int64(len(events)-errCount))
	atomic.AddInt64(&ks.errorCount, int64(errCount))

	if errCount > 0 {
		return fmt.Errorf("kafka sink: %d/%d events failed to marshal/compress", errCount, len(events))
	}
	return nil
}

func (ks *KafkaSink) partitionKey(e types.Event) string {
	if tenant, ok := e.Data().GetString("unmapped.tenant"); ok {
		return tenant
	}
	return ""
}

func (ks *KafkaSink) handleProducerResponses() {
	defer ks.loopWg.Done()
	for {
		select {
		case <-ks.ctx.Done():
			return
		case success := <-ks.producer.Successes():
			if success != nil {
				ks.logger.WithFields(logrus.Fields{"topic": success.Topic, "partition": success.Partition}).Trace("kafka sink: message delivered")
			}
		case err := <-ks.producer.Errors():
			if err != nil {
				ks.logger.WithError(err.Err).Error("kafka sink: produce error")
				atomic.AddInt64(&ks.errorCount, 1)
			}
		}
	}
}

func (ks *KafkaSink) Stats() map[string]interface{} {
	ks.mutex.RLock()
	defer ks.mutex.RUnlock()
	return map[string]interface{}{
		"enabled":        ks.config.Enabled,
		"running":        ks.isRunning,
		"queue_size":     len(ks.queue),
		"queue_capacity": cap(ks.queue),
		"sent_total":     atomic.LoadInt64(&ks.sentCount),
		"error_total":    atomic.LoadInt64(&ks.errorCount),
		"circuit_state":  ks.breaker.State().String(),
	}
}

func (ks *KafkaSink) IsHealthy() bool {
	select {
	case <-ks.ctx.Done():
		return false
	default:
	}
	return ks.breaker.State() != circuit.StateOpen
}
