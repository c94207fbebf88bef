package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("writing config file: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load with no file: %v", err)
	}
	if cfg.Experiment.Name == "" {
		t.Error("default experiment name is empty")
	}
	if cfg.Experiment.ID != -1 {
		t.Errorf("default experiment id = %d, want -1 (no override)", cfg.Experiment.ID)
	}
	if cfg.Seed != 42 {
		t.Errorf("default seed = %d, want 42", cfg.Seed)
	}
	if cfg.Device != "cpu" {
		t.Errorf("default device = %q, want cpu", cfg.Device)
	}
	if cfg.Postgres.Enabled() {
		t.Error("postgres enabled by default without a host")
	}
	if cfg.Kafka.Enabled() {
		t.Error("kafka enabled by default without brokers")
	}
	if cfg.Redis.Enabled() {
		t.Error("redis enabled by default without an addr")
	}
}

func TestLoadFromFile(t *testing.T) {
	path := writeConfigFile(t, `
experiment:
  name: continual-5x20k
  id: 3
run_type:
  sizes: [20000, 40000, 60000]
  baseline: false
datasets:
  train: /data/train.json
  split_size: 0.25
biencoder:
  batch_size: 16
  max_epochs: 2
negatives_amount: 2
ewc_lambda: 250
device: gpu
seed: 7
kafka:
  brokers: ["broker-1:9092", "broker-2:9092"]
  alertsTopic: run-alerts
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Experiment.Name != "continual-5x20k" || cfg.Experiment.ID != 3 {
		t.Errorf("experiment = %+v", cfg.Experiment)
	}
	if len(cfg.RunType.Sizes) != 3 || cfg.RunType.Sizes[2] != 60000 {
		t.Errorf("sizes = %v", cfg.RunType.Sizes)
	}
	if cfg.Datasets.Train != "/data/train.json" || cfg.Datasets.SplitSize != 0.25 {
		t.Errorf("datasets = %+v", cfg.Datasets)
	}
	if cfg.Biencoder.BatchSize != 16 || cfg.Biencoder.MaxEpochs != 2 {
		t.Errorf("biencoder = %+v", cfg.Biencoder)
	}
	if cfg.NegativesAmount != 2 || cfg.EWCLambda != 250 || cfg.Device != "gpu" || cfg.Seed != 7 {
		t.Errorf("top-level overrides not applied: %+v", cfg)
	}
	if !cfg.Kafka.Enabled() || cfg.Kafka.AlertsTopic != "run-alerts" {
		t.Errorf("kafka = %+v", cfg.Kafka)
	}
	// Unset fields keep their defaults.
	if cfg.Biencoder.LearningRate != 2e-5 {
		t.Errorf("learning rate = %g, want default 2e-5", cfg.Biencoder.LearningRate)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("Load succeeded on a missing file")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("CR_EXPERIMENT_NAME", "from-env")
	t.Setenv("CR_SEED", "1234")
	t.Setenv("CR_KAFKA_BROKERS", "a:9092,b:9092")
	t.Setenv("CR_REDIS_ADDR", "cache:6379")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Experiment.Name != "from-env" {
		t.Errorf("experiment name = %q, want env override", cfg.Experiment.Name)
	}
	if cfg.Seed != 1234 {
		t.Errorf("seed = %d, want 1234", cfg.Seed)
	}
	if len(cfg.Kafka.Brokers) != 2 || cfg.Kafka.Brokers[1] != "b:9092" {
		t.Errorf("brokers = %v", cfg.Kafka.Brokers)
	}
	if cfg.Redis.Addr != "cache:6379" {
		t.Errorf("redis addr = %q", cfg.Redis.Addr)
	}
}

func TestValidateRejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"empty_name", func(c *Config) { c.Experiment.Name = "" }, "experiment.name"},
		{"single_boundary", func(c *Config) { c.RunType.Sizes = []int{10} }, "run_type.sizes"},
		{"negative_boundary", func(c *Config) { c.RunType.Sizes = []int{-1, 10} }, "run_type.sizes"},
		{"non_increasing", func(c *Config) { c.RunType.Sizes = []int{10, 10} }, "run_type.sizes"},
		{"zero_negatives", func(c *Config) { c.NegativesAmount = 0 }, "negatives_amount"},
		{"zero_batch", func(c *Config) { c.Biencoder.BatchSize = 0 }, "batch sizes"},
		{"zero_lr", func(c *Config) { c.Biencoder.LearningRate = 0 }, "learning_rate"},
		{"bad_device", func(c *Config) { c.Device = "tpu" }, "device"},
		{"negative_lambda", func(c *Config) { c.EWCLambda = -1 }, "ewc_lambda"},
		{"zero_epochs", func(c *Config) { c.Biencoder.MaxEpochs = 0 }, "max_epochs"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("Validate accepted an invalid config")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestValidateAcceptsDefaults(t *testing.T) {
	if err := defaultConfig().Validate(); err != nil {
		t.Errorf("default config fails validation: %v", err)
	}
}

func TestPostgresDSN(t *testing.T) {
	p := PostgresConfig{
		Host: "db", Port: 5432, User: "u", Password: "p", Database: "runs", SSLMode: "disable",
	}
	want := "host=db port=5432 user=u password=p dbname=runs sslmode=disable"
	if got := p.DSN(); got != want {
		t.Errorf("DSN = %q, want %q", got, want)
	}
}
