// Package config loads and validates the application configuration: a
// YAML file, then defaults, then environment variable overrides, then
// validation of the combined result.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/mdzesseis/eventnorm/pkg/errors"
)

// Config is the root application configuration.
type Config struct {
	App       AppConfig       `yaml:"app"`
	Server    ServerConfig    `yaml:"server"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Pipeline  PipelineConfig  `yaml:"pipeline"`
	Rules     RulesConfig     `yaml:"rules"`
	Schema    SchemaConfig    `yaml:"schema"`
	Sinks     SinksConfig     `yaml:"sinks"`
	Tenant    TenantConfig    `yaml:"tenant"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	DLQ       DLQConfig       `yaml:"dlq"`
	Circuit   CircuitConfig   `yaml:"circuit_breaker"`
	HotReload HotReloadConfig `yaml:"hot_reload"`
	Tracing   TracingConfig   `yaml:"tracing"`
}

// AppConfig carries process-level identity and logging knobs.
type AppConfig struct {
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	Environment string `yaml:"environment"`
	LogLevel    string `yaml:"log_level"`
	LogFormat   string `yaml:"log_format"`
}

// ServerConfig is the admin HTTP surface (gorilla/mux): /healthz,
// /metrics, /stats.
type ServerConfig struct {
	Enabled      *bool  `yaml:"enabled"`
	Host         string `yaml:"host"`
	Port         int    `yaml:"port"`
	ReadTimeout  string `yaml:"read_timeout"`
	WriteTimeout string `yaml:"write_timeout"`
}

// MetricsConfig controls the Prometheus metrics endpoint. When the
// admin server is enabled /metrics is mounted on it at Path; when it
// is disabled, a standalone metrics listener is bound to Address
// instead.
type MetricsConfig struct {
	Enabled   *bool  `yaml:"enabled"`
	Path      string `yaml:"path"`
	Address   string `yaml:"address"`
	Namespace string `yaml:"namespace"`
}

// PipelineConfig carries the bounded-queue capacity, fuzzy key
// separator, and enrichment toggles.
type PipelineConfig struct {
	QueueCapacity     int    `yaml:"queue_capacity"`
	FuzzyKeySeparator string `yaml:"fuzzy_key_separator"`
	AddEnumSiblings   *bool  `yaml:"add_enum_siblings"`
	AddObservables    *bool  `yaml:"add_observables"`
	// InputPath is a newline-delimited-JSON file of raw events read at
	// startup. Empty means read from stdin. Concrete ingestion transport
	// (syslog framing, HTTP collectors) lives upstream of this process;
	// this is the minimal entrypoint that feeds it.
	InputPath string `yaml:"input_path"`
}

// RulesConfig points at the directory of JSON rule documents compiled
// into the parser/translator registry at startup.
type RulesConfig struct {
	Directory string `yaml:"directory"`
}

// SchemaConfig points at the single JSON schema document (classes,
// objects, types).
type SchemaConfig struct {
	Document string `yaml:"document"`
}

// SinksConfig configures the output sinks.
type SinksConfig struct {
	Kafka         KafkaSinkConfig         `yaml:"kafka"`
	Elasticsearch ElasticsearchSinkConfig `yaml:"elasticsearch"`
	LocalFile     LocalFileSinkConfig     `yaml:"local_file"`
}

// KafkaSinkConfig configures the Kafka producer sink (sarama), optional
// SASL/SCRAM auth and compression codec selection.
type KafkaSinkConfig struct {
	Enabled      bool     `yaml:"enabled"`
	Brokers      []string `yaml:"brokers"`
	Topic        string   `yaml:"topic"`
	Compression  string   `yaml:"compression"` // none|gzip|snappy|lz4|zstd
	BatchSize    int      `yaml:"batch_size"`
	BatchTimeout string   `yaml:"batch_timeout"`
	QueueSize    int      `yaml:"queue_size"`
	RequiredAcks int16    `yaml:"required_acks"`
	RetryMax     int      `yaml:"retry_max"`
	SASL         struct {
		Enabled   bool   `yaml:"enabled"`
		Mechanism string `yaml:"mechanism"` // scram-sha-256|scram-sha-512
		Username  string `yaml:"username"`
		Password  string `yaml:"password"`
	} `yaml:"sasl"`
	TLS TLSConfig `yaml:"tls"`
}

// TLSConfig carries the certificate material a sink uses to dial its
// backend over TLS.
type TLSConfig struct {
	Enabled            bool   `yaml:"enabled"`
	CertFile           string `yaml:"cert_file"`
	KeyFile            string `yaml:"key_file"`
	CAFile             string `yaml:"ca_file"`
	InsecureSkipVerify bool   `yaml:"insecure_skip_verify"`
}

// ElasticsearchSinkConfig configures the Elasticsearch bulk-index sink.
type ElasticsearchSinkConfig struct {
	Enabled  bool      `yaml:"enabled"`
	URLs     []string  `yaml:"urls"`
	Index    string    `yaml:"index"`
	Username string    `yaml:"username"`
	Password string    `yaml:"password"`
	TLS      TLSConfig `yaml:"tls"`
}

// LocalFileSinkConfig configures the local-file sink used as the raw
// (unparseable/unmapped) side-channel.
type LocalFileSinkConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Directory string `yaml:"directory"`
}

// TenantConfig configures the tenant normalization allow-list.
type TenantConfig struct {
	Enabled       bool   `yaml:"enabled"`
	AllowListFile string `yaml:"allow_list_file"`
}

// RateLimitConfig configures the optional per-tenant rate limiter that
// the output fan-out applies to translated events. Disabled by default: the bounded queue's blocking put/take is the
// canonical backpressure mechanism.
type RateLimitConfig struct {
	Enabled         bool    `yaml:"enabled"`
	EventsPerSecond float64 `yaml:"events_per_second"`
	Burst           int     `yaml:"burst"`
}

// DLQConfig configures the in-memory dead letter queue for sink send
// failures.
type DLQConfig struct {
	Enabled    bool `yaml:"enabled"`
	Capacity   int  `yaml:"capacity"`
	MaxRetries int  `yaml:"max_retries"`
}

// CircuitConfig holds circuit breaker settings. It is defaulted and
// validated here; the sinks build their breakers with fixed settings
// and do not read it.
type CircuitConfig struct {
	Enabled          bool   `yaml:"enabled"`
	FailureThreshold int    `yaml:"failure_threshold"`
	OpenTimeout      string `yaml:"open_timeout"`
}

// HotReloadConfig configures the fsnotify-driven rule/schema watcher.
type HotReloadConfig struct {
	Enabled bool `yaml:"enabled"`
}

// TracingConfig configures the OpenTelemetry exporter.
type TracingConfig struct {
	Enabled     bool    `yaml:"enabled"`
	ServiceName string  `yaml:"service_name"`
	Environment string  `yaml:"environment"`
	Exporter    string  `yaml:"exporter"` // jaeger|otlp
	Endpoint    string  `yaml:"endpoint"`
	SampleRate  float64 `yaml:"sample_rate"`
}

// LoadConfig loads configuration from an optional YAML file, applies
// defaults, then environment variable overrides, and validates the
// result.
func LoadConfig(configFile string) (*Config, error) {
	cfg := &Config{}

	if configFile != "" {
		if err := loadConfigFile(configFile, cfg); err != nil {
			return nil, fmt.Errorf("loading config file %s: %w", configFile, err)
		}
	}

	applyDefaults(cfg)
	applyEnvironmentOverrides(cfg)

	if err := ValidateConfig(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func loadConfigFile(filename string, cfg *Config) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parsing config file: %w", err)
	}
	return nil
}

func boolPtr(b bool) *bool { return &b }

func applyDefaults(cfg *Config) {
	if cfg.App.Name == "" {
		cfg.App.Name = "eventnorm"
	}
	if cfg.App.Version == "" {
		cfg.App.Version = "v0.1.0"
	}
	if cfg.App.Environment == "" {
		cfg.App.Environment = "production"
	}
	if cfg.App.LogLevel == "" {
		cfg.App.LogLevel = "info"
	}
	if cfg.App.LogFormat == "" {
		cfg.App.LogFormat = "json"
	}

	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8401
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Enabled == nil {
		cfg.Server.Enabled = boolPtr(true)
	}

	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}
	if cfg.Metrics.Address == "" {
		cfg.Metrics.Address = "0.0.0.0:9090"
	}
	if cfg.Metrics.Enabled == nil {
		cfg.Metrics.Enabled = boolPtr(true)
	}

	if cfg.Pipeline.QueueCapacity == 0 {
		cfg.Pipeline.QueueCapacity = 1000
	}
	if cfg.Pipeline.FuzzyKeySeparator == "" {
		cfg.Pipeline.FuzzyKeySeparator = ":"
	}
	if cfg.Pipeline.AddEnumSiblings == nil {
		cfg.Pipeline.AddEnumSiblings = boolPtr(true)
	}
	if cfg.Pipeline.AddObservables == nil {
		cfg.Pipeline.AddObservables = boolPtr(true)
	}

	if cfg.Rules.Directory == "" {
		cfg.Rules.Directory = "/etc/eventnorm/rules"
	}
	if cfg.Schema.Document == "" {
		cfg.Schema.Document = "/etc/eventnorm/schema.json"
	}

	if cfg.Sinks.Kafka.Compression == "" {
		cfg.Sinks.Kafka.Compression = "none"
	}
	if cfg.Sinks.Kafka.BatchSize == 0 {
		cfg.Sinks.Kafka.BatchSize = 500
	}
	if cfg.Sinks.Kafka.BatchTimeout == "" {
		cfg.Sinks.Kafka.BatchTimeout = "5s"
	}
	if cfg.Sinks.Kafka.QueueSize == 0 {
		cfg.Sinks.Kafka.QueueSize = 10000
	}
	if cfg.Sinks.Kafka.RequiredAcks == 0 {
		cfg.Sinks.Kafka.RequiredAcks = 1
	}
	if cfg.Sinks.Kafka.RetryMax == 0 {
		cfg.Sinks.Kafka.RetryMax = 3
	}
	if cfg.Sinks.Elasticsearch.Index == "" {
		cfg.Sinks.Elasticsearch.Index = "eventnorm"
	}
	if cfg.Sinks.LocalFile.Directory == "" {
		cfg.Sinks.LocalFile.Directory = "/var/log/eventnorm/raw"
	}
	if !cfg.Sinks.Kafka.Enabled && !cfg.Sinks.Elasticsearch.Enabled && !cfg.Sinks.LocalFile.Enabled {
		cfg.Sinks.LocalFile.Enabled = true
	}

	if cfg.DLQ.Capacity == 0 {
		cfg.DLQ.Capacity = 10000
	}
	if cfg.DLQ.MaxRetries == 0 {
		cfg.DLQ.MaxRetries = 3
	}

	if cfg.Circuit.FailureThreshold == 0 {
		cfg.Circuit.FailureThreshold = 5
	}
	if cfg.Circuit.OpenTimeout == "" {
		cfg.Circuit.OpenTimeout = "30s"
	}

	if cfg.RateLimit.Burst == 0 {
		cfg.RateLimit.Burst = 1000
	}

	if cfg.Tracing.ServiceName == "" {
		cfg.Tracing.ServiceName = cfg.App.Name
	}
	if cfg.Tracing.Exporter == "" {
		cfg.Tracing.Exporter = "otlp"
	}
}

func applyEnvironmentOverrides(cfg *Config) {
	cfg.App.Name = getEnvString("EVENTNORM_APP_NAME", cfg.App.Name)
	cfg.App.Environment = getEnvString("EVENTNORM_ENVIRONMENT", cfg.App.Environment)
	cfg.App.LogLevel = getEnvString("EVENTNORM_LOG_LEVEL", cfg.App.LogLevel)
	cfg.App.LogFormat = getEnvString("EVENTNORM_LOG_FORMAT", cfg.App.LogFormat)

	cfg.Server.Enabled = boolPtr(getEnvBool("EVENTNORM_SERVER_ENABLED", *cfg.Server.Enabled))
	cfg.Server.Host = getEnvString("EVENTNORM_SERVER_HOST", cfg.Server.Host)
	cfg.Server.Port = getEnvInt("EVENTNORM_SERVER_PORT", cfg.Server.Port)

	cfg.Metrics.Enabled = boolPtr(getEnvBool("EVENTNORM_METRICS_ENABLED", *cfg.Metrics.Enabled))
	cfg.Metrics.Address = getEnvString("EVENTNORM_METRICS_ADDRESS", cfg.Metrics.Address)
	cfg.Metrics.Namespace = getEnvString("EVENTNORM_METRICS_NAMESPACE", cfg.Metrics.Namespace)

	cfg.Pipeline.QueueCapacity = getEnvInt("EVENTNORM_QUEUE_CAPACITY", cfg.Pipeline.QueueCapacity)
	cfg.Pipeline.FuzzyKeySeparator = getEnvString("EVENTNORM_FUZZY_SEPARATOR", cfg.Pipeline.FuzzyKeySeparator)

	cfg.Rules.Directory = getEnvString("EVENTNORM_RULES_DIR", cfg.Rules.Directory)
	cfg.Schema.Document = getEnvString("EVENTNORM_SCHEMA_DOCUMENT", cfg.Schema.Document)

	cfg.Sinks.Kafka.Enabled = getEnvBool("EVENTNORM_KAFKA_ENABLED", cfg.Sinks.Kafka.Enabled)
	if brokers := getEnvString("EVENTNORM_KAFKA_BROKERS", ""); brokers != "" {
		cfg.Sinks.Kafka.Brokers = strings.Split(brokers, ",")
	}
	cfg.Sinks.Kafka.Topic = getEnvString("EVENTNORM_KAFKA_TOPIC", cfg.Sinks.Kafka.Topic)

	cfg.Sinks.Elasticsearch.Enabled = getEnvBool("EVENTNORM_ES_ENABLED", cfg.Sinks.Elasticsearch.Enabled)
	if urls := getEnvString("EVENTNORM_ES_URLS", ""); urls != "" {
		cfg.Sinks.Elasticsearch.URLs = strings.Split(urls, ",")
	}

	cfg.Sinks.LocalFile.Enabled = getEnvBool("EVENTNORM_LOCALFILE_ENABLED", cfg.Sinks.LocalFile.Enabled)
	cfg.Sinks.LocalFile.Directory = getEnvString("EVENTNORM_LOCALFILE_DIR", cfg.Sinks.LocalFile.Directory)

	cfg.Tenant.Enabled = getEnvBool("EVENTNORM_TENANT_ENABLED", cfg.Tenant.Enabled)
	cfg.RateLimit.Enabled = getEnvBool("EVENTNORM_RATELIMIT_ENABLED", cfg.RateLimit.Enabled)
	cfg.DLQ.Enabled = getEnvBool("EVENTNORM_DLQ_ENABLED", cfg.DLQ.Enabled)
	cfg.Circuit.Enabled = getEnvBool("EVENTNORM_CIRCUIT_ENABLED", cfg.Circuit.Enabled)
	cfg.HotReload.Enabled = getEnvBool("EVENTNORM_HOTRELOAD_ENABLED", cfg.HotReload.Enabled)
	cfg.Tracing.Enabled = getEnvBool("EVENTNORM_TRACING_ENABLED", cfg.Tracing.Enabled)
	cfg.Tracing.Endpoint = getEnvString("EVENTNORM_TRACING_ENDPOINT", cfg.Tracing.Endpoint)
}

func getEnvString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

// ValidateConfig performs comprehensive configuration validation,
// collecting every violation before returning rather than failing on
// the first one.
func ValidateConfig(cfg *Config) error {
	v := &validator{cfg: cfg}
	v.validateApp()
	v.validateServer()
	v.validateMetrics()
	v.validatePipeline()
	v.validateSinks()
	v.validateResources()
	if len(v.errors) > 0 {
		return v.buildError()
	}
	return nil
}

type validator struct {
	cfg    *Config
	errors []error
}

func (v *validator) addError(component, operation, message string) {
	v.errors = append(v.errors, errors.ConfigError(operation, message).WithMetadata("component", component))
}

func (v *validator) validateApp() {
	validLevels := map[string]bool{"trace": true, "debug": true, "info": true, "warn": true, "error": true, "fatal": true, "panic": true}
	if !validLevels[v.cfg.App.LogLevel] {
		v.addError("app", "validate_log_level", fmt.Sprintf("invalid log level: %s", v.cfg.App.LogLevel))
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[v.cfg.App.LogFormat] {
		v.addError("app", "validate_log_format", fmt.Sprintf("invalid log format: %s", v.cfg.App.LogFormat))
	}
}

func (v *validator) validateServer() {
	if !*v.cfg.Server.Enabled {
		return
	}
	if v.cfg.Server.Port <= 0 || v.cfg.Server.Port > 65535 {
		v.addError("server", "validate_port", fmt.Sprintf("invalid server port: %d", v.cfg.Server.Port))
	}
	if v.cfg.Server.ReadTimeout != "" {
		if _, err := time.ParseDuration(v.cfg.Server.ReadTimeout); err != nil {
			v.addError("server", "validate_read_timeout", fmt.Sprintf("invalid read timeout: %s", v.cfg.Server.ReadTimeout))
		}
	}
}

func (v *validator) validateMetrics() {
	if !*v.cfg.Metrics.Enabled {
		return
	}
	if v.cfg.Metrics.Path == "" {
		v.addError("metrics", "validate_path", "metrics path cannot be empty when enabled")
	}
	if !*v.cfg.Server.Enabled && v.cfg.Metrics.Address == "" {
		v.addError("metrics", "validate_address", "metrics address cannot be empty when the admin server is disabled")
	}
}

func (v *validator) validatePipeline() {
	if v.cfg.Pipeline.QueueCapacity <= 0 {
		v.addError("pipeline", "validate_queue_capacity", "queue capacity must be positive")
	}
	if v.cfg.Pipeline.FuzzyKeySeparator == "" {
		v.addError("pipeline", "validate_fuzzy_separator", "fuzzy key separator cannot be empty")
	}
	if v.cfg.Rules.Directory == "" {
		v.addError("rules", "validate_directory", "rule directory cannot be empty")
	}
	if v.cfg.Schema.Document == "" {
		v.addError("schema", "validate_document", "schema document path cannot be empty")
	}
}

func (v *validator) validateSinks() {
	enabled := 0
	if v.cfg.Sinks.Kafka.Enabled {
		enabled++
		if len(v.cfg.Sinks.Kafka.Brokers) == 0 {
			v.addError("kafka_sink", "validate_brokers", "at least one broker required when enabled")
		}
		if v.cfg.Sinks.Kafka.Topic == "" {
			v.addError("kafka_sink", "validate_topic", "topic cannot be empty when enabled")
		}
	}
	if v.cfg.Sinks.Elasticsearch.Enabled {
		enabled++
		if len(v.cfg.Sinks.Elasticsearch.URLs) == 0 {
			v.addError("elasticsearch_sink", "validate_urls", "URLs cannot be empty when enabled")
		}
		for i, u := range v.cfg.Sinks.Elasticsearch.URLs {
			if _, err := url.Parse(u); err != nil {
				v.addError("elasticsearch_sink", "validate_urls", fmt.Sprintf("invalid URL[%d]: %v", i, err))
			}
		}
	}
	if v.cfg.Sinks.LocalFile.Enabled && v.cfg.Sinks.LocalFile.Directory == "" {
		v.addError("localfile_sink", "validate_directory", "directory cannot be empty when enabled")
	}
	if enabled == 0 && !v.cfg.Sinks.LocalFile.Enabled {
		v.addError("sinks", "validate_enabled", "at least one sink must be enabled")
	}
}

func (v *validator) validateResources() {
	if v.cfg.DLQ.Enabled && v.cfg.DLQ.Capacity <= 0 {
		v.addError("dlq", "validate_capacity", "capacity must be positive when enabled")
	}
	if v.cfg.Circuit.Enabled {
		if v.cfg.Circuit.FailureThreshold <= 0 {
			v.addError("circuit_breaker", "validate_threshold", "failure threshold must be positive when enabled")
		}
		if _, err := time.ParseDuration(v.cfg.Circuit.OpenTimeout); err != nil {
			v.addError("circuit_breaker", "validate_open_timeout", fmt.Sprintf("invalid open timeout: %s", v.cfg.Circuit.OpenTimeout))
		}
	}
}

func (v *validator) buildError() error {
	if len(v.errors) == 1 {
		return v.errors[0]
	}
	msgs := make([]string, 0, len(v.errors))
	for _, e := range v.errors {
		msgs = append(msgs, e.Error())
	}
	return errors.ConfigError("validate", fmt.Sprintf("multiple validation errors: %s", strings.Join(msgs, "; ")))
}
