package config

import "testing"

func TestApplyDefaultsFillsMissingValues(t *testing.T) {
	cfg := &Config{}
	applyDefaults(cfg)

	if cfg.App.Name != "eventnorm" {
		t.Errorf("expected default app name, got %s", cfg.App.Name)
	}
	if cfg.Server.Port != 8401 {
		t.Errorf("expected default server port 8401, got %d", cfg.Server.Port)
	}
	if cfg.Pipeline.QueueCapacity != 1000 {
		t.Errorf("expected default queue capacity 1000, got %d", cfg.Pipeline.QueueCapacity)
	}
	if cfg.Pipeline.FuzzyKeySeparator != ":" {
		t.Errorf("expected default fuzzy separator ':', got %q", cfg.Pipeline.FuzzyKeySeparator)
	}
	if cfg.Pipeline.AddEnumSiblings == nil || !*cfg.Pipeline.AddEnumSiblings {
		t.Error("expected AddEnumSiblings to default true")
	}
	if cfg.Pipeline.AddObservables == nil || !*cfg.Pipeline.AddObservables {
		t.Error("expected AddObservables to default true")
	}
	if cfg.Server.Enabled == nil || !*cfg.Server.Enabled {
		t.Error("expected admin server to default enabled")
	}
	if cfg.Metrics.Enabled == nil || !*cfg.Metrics.Enabled {
		t.Error("expected metrics to default enabled")
	}
	if cfg.Metrics.Address != "0.0.0.0:9090" {
		t.Errorf("expected default standalone metrics address, got %q", cfg.Metrics.Address)
	}
	if !cfg.Sinks.LocalFile.Enabled {
		t.Error("expected local-file sink to default enabled when no sink is configured")
	}
}

func TestApplyDefaultsRespectsExplicitValues(t *testing.T) {
	cfg := &Config{}
	cfg.App.Name = "custom-app"
	cfg.Pipeline.QueueCapacity = 50
	falseVal := false
	cfg.Pipeline.AddEnumSiblings = &falseVal
	cfg.Server.Enabled = &falseVal
	cfg.Sinks.Kafka.Enabled = true

	applyDefaults(cfg)

	if cfg.App.Name != "custom-app" {
		t.Errorf("expected explicit app name preserved, got %s", cfg.App.Name)
	}
	if cfg.Pipeline.QueueCapacity != 50 {
		t.Errorf("expected explicit queue capacity preserved, got %d", cfg.Pipeline.QueueCapacity)
	}
	if *cfg.Pipeline.AddEnumSiblings {
		t.Error("expected explicit AddEnumSiblings=false preserved")
	}
	if *cfg.Server.Enabled {
		t.Error("expected explicit server.enabled=false preserved")
	}
	if cfg.Sinks.LocalFile.Enabled {
		t.Error("expected local-file sink to stay disabled when another sink is explicitly enabled")
	}
}

func TestEnvironmentOverridesTakePrecedence(t *testing.T) {
	t.Setenv("EVENTNORM_APP_NAME", "from-env")
	t.Setenv("EVENTNORM_SERVER_PORT", "9999")
	t.Setenv("EVENTNORM_KAFKA_ENABLED", "true")
	t.Setenv("EVENTNORM_KAFKA_BROKERS", "broker-a:9092,broker-b:9092")

	cfg := &Config{}
	applyDefaults(cfg)
	applyEnvironmentOverrides(cfg)

	if cfg.App.Name != "from-env" {
		t.Errorf("expected env override for app name, got %s", cfg.App.Name)
	}
	if cfg.Server.Port != 9999 {
		t.Errorf("expected env override for server port, got %d", cfg.Server.Port)
	}
	if !cfg.Sinks.Kafka.Enabled {
		t.Error("expected env override to enable kafka sink")
	}
	if len(cfg.Sinks.Kafka.Brokers) != 2 {
		t.Errorf("expected 2 brokers from env override, got %v", cfg.Sinks.Kafka.Brokers)
	}
}
