// Package config loads and validates trainer configuration from YAML files
// with environment-variable overrides. It provides typed structs for every
// subsystem (Experiment, RunType, Datasets, Biencoder, Postgres, Kafka,
// Redis, Logging, Metrics).
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level trainer configuration.
type Config struct {
	Experiment      ExperimentConfig `yaml:"experiment"`
	RunType         RunTypeConfig    `yaml:"run_type"`
	Datasets        DatasetsConfig   `yaml:"datasets"`
	Biencoder       BiencoderConfig  `yaml:"biencoder"`
	NegativesAmount int              `yaml:"negatives_amount"`
	EWCLambda       float64          `yaml:"ewc_lambda"`
	Device          string           `yaml:"device"`
	Seed            int64            `yaml:"seed"`
	ArtifactDir     string           `yaml:"artifact_dir"`
	FastDevRun      bool             `yaml:"fast_dev_run"`
	LoggingOn       bool             `yaml:"logging_on"`
	Postgres        PostgresConfig   `yaml:"postgres"`
	Kafka           KafkaConfig      `yaml:"kafka"`
	Redis           RedisConfig      `yaml:"redis"`
	Logging         LoggingConfig    `yaml:"logging"`
	Metrics         MetricsConfig    `yaml:"metrics"`
}

// ExperimentConfig names the run and optionally pins the task identifier.
type ExperimentConfig struct {
	Name string `yaml:"name"`
	// ID overrides the stream-position task id when >= 0.
	ID int `yaml:"id"`
}

// RunTypeConfig selects between a baseline run (one chunk) and a continual
// run (sequential task chunks) and carries the cumulative chunk boundaries.
type RunTypeConfig struct {
	Sizes    []int `yaml:"sizes"`
	Baseline bool  `yaml:"baseline"`
}

// DatasetsConfig holds the dataset file paths and the validation split
// scaling factor applied to the cumulative boundaries.
type DatasetsConfig struct {
	Train     string  `yaml:"train"`
	Val       string  `yaml:"val"`
	Index     string  `yaml:"index"`
	Test      string  `yaml:"test"`
	SplitSize float64 `yaml:"split_size"`
}

// BiencoderConfig controls the dual-tower model and its optimization.
type BiencoderConfig struct {
	BatchSize      int     `yaml:"batch_size"`
	EvalBatchSize  int     `yaml:"eval_batch_size"`
	IndexBatchSize int     `yaml:"index_batch_size"`
	NumWorkers     int     `yaml:"num_workers"`
	LearningRate   float64 `yaml:"learning_rate"`
	AdamEps        float64 `yaml:"adam_eps"`
	WeightDecay    float64 `yaml:"weight_decay"`
	WarmupSteps    int     `yaml:"warmup_steps"`
	MaxGradNorm    float64 `yaml:"max_grad_norm"`
	SequenceLength int     `yaml:"sequence_length"`
	EmbeddingDim   int     `yaml:"embedding_dim"`
	VocabSize      int     `yaml:"vocab_size"`
	MaxEpochs      int     `yaml:"max_epochs"`
}

// PostgresConfig holds PostgreSQL connection parameters for the evaluation
// results store. An empty Host disables persistence.
type PostgresConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	Database        string        `yaml:"database"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	SSLMode         string        `yaml:"sslMode"`
	MaxOpenConns    int           `yaml:"maxOpenConns"`
	MaxIdleConns    int           `yaml:"maxIdleConns"`
	ConnMaxLifetime time.Duration `yaml:"connMaxLifetime"`
}

// DSN returns a lib/pq-compatible data source name.
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

// Enabled reports whether a results store should be connected.
func (p PostgresConfig) Enabled() bool {
	return p.Host != ""
}

// KafkaConfig holds the alert-event broker settings. An empty broker list
// disables the Kafka notifier and alerts fall back to structured logs.
type KafkaConfig struct {
	Brokers     []string `yaml:"brokers"`
	AlertsTopic string   `yaml:"alertsTopic"`
}

// Enabled reports whether alerts should be published to Kafka.
func (k KafkaConfig) Enabled() bool {
	return len(k.Brokers) > 0
}

// RedisConfig holds Redis connection parameters for the run registry. An
// empty Addr disables the registry.
type RedisConfig struct {
	Addr        string        `yaml:"addr"`
	Password    string        `yaml:"password"`
	DB          int           `yaml:"db"`
	PoolSize    int           `yaml:"poolSize"`
	ProgressTTL time.Duration `yaml:"progressTTL"`
}

// Enabled reports whether run progress should be tracked in Redis.
func (r RedisConfig) Enabled() bool {
	return r.Addr != ""
}

// LoggingConfig controls structured logging level and output format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig controls the Prometheus metrics server.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// Load reads a YAML config file (if provided) and applies environment-variable
// overrides. It returns a Config populated with sensible defaults for any
// missing values.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}
	applyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the invariants the training run depends on: increasing
// boundaries, positive batch sizes, and a recognised device.
func (c *Config) Validate() error {
	if c.Experiment.Name == "" {
		return fmt.Errorf("experiment.name must not be empty")
	}
	if len(c.RunType.Sizes) < 2 {
		return fmt.Errorf("run_type.sizes needs at least two cumulative boundaries, got %d", len(c.RunType.Sizes))
	}
	if c.RunType.Sizes[0] < 0 {
		return fmt.Errorf("run_type.sizes must be non-negative, got %v", c.RunType.Sizes)
	}
	for i := 1; i < len(c.RunType.Sizes); i++ {
		if c.RunType.Sizes[i] <= c.RunType.Sizes[i-1] {
			return fmt.Errorf("run_type.sizes must be strictly increasing, got %v", c.RunType.Sizes)
		}
	}
	if c.NegativesAmount < 1 {
		return fmt.Errorf("negatives_amount must be >= 1, got %d", c.NegativesAmount)
	}
	if c.Biencoder.BatchSize < 1 || c.Biencoder.EvalBatchSize < 1 || c.Biencoder.IndexBatchSize < 1 {
		return fmt.Errorf("biencoder batch sizes must be >= 1")
	}
	if c.Biencoder.LearningRate <= 0 {
		return fmt.Errorf("biencoder.learning_rate must be > 0, got %g", c.Biencoder.LearningRate)
	}
	if c.Biencoder.EmbeddingDim < 1 || c.Biencoder.VocabSize < 2 {
		return fmt.Errorf("biencoder embedding_dim and vocab_size must be positive")
	}
	if c.Biencoder.SequenceLength < 1 {
		return fmt.Errorf("biencoder.sequence_length must be >= 1, got %d", c.Biencoder.SequenceLength)
	}
	if c.Biencoder.MaxEpochs < 1 {
		return fmt.Errorf("biencoder.max_epochs must be >= 1, got %d", c.Biencoder.MaxEpochs)
	}
	if c.Device != "cpu" && c.Device != "gpu" {
		return fmt.Errorf("device must be \"cpu\" or \"gpu\", got %q", c.Device)
	}
	if c.EWCLambda < 0 {
		return fmt.Errorf("ewc_lambda must be >= 0, got %g", c.EWCLambda)
	}
	return nil
}

// defaultConfig returns a Config with defaults suitable for a local run.
func defaultConfig() *Config {
	return &Config{
		Experiment: ExperimentConfig{
			Name: "continual-biencoder",
			ID:   -1,
		},
		RunType: RunTypeConfig{
			Sizes:    []int{0, 1000},
			Baseline: false,
		},
		Datasets: DatasetsConfig{
			Train:     "data/train.json",
			Val:       "data/val.json",
			Index:     "data/index.json",
			Test:      "data/test.json",
			SplitSize: 0.1,
		},
		Biencoder: BiencoderConfig{
			BatchSize:      32,
			EvalBatchSize:  64,
			IndexBatchSize: 128,
			NumWorkers:     4,
			LearningRate:   2e-5,
			AdamEps:        1e-8,
			WeightDecay:    0.01,
			WarmupSteps:    100,
			MaxGradNorm:    2.0,
			SequenceLength: 256,
			EmbeddingDim:   128,
			VocabSize:      1 << 15,
			MaxEpochs:      1,
		},
		NegativesAmount: 1,
		EWCLambda:       100,
		Device:          "cpu",
		Seed:            42,
		ArtifactDir:     "artifacts",
		FastDevRun:      false,
		LoggingOn:       true,
		Postgres: PostgresConfig{
			Port:            5432,
			Database:        "continualrank",
			User:            "continualrank",
			SSLMode:         "disable",
			MaxOpenConns:    10,
			MaxIdleConns:    2,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Kafka: KafkaConfig{
			AlertsTopic: "trainer-alerts",
		},
		Redis: RedisConfig{
			PoolSize:    10,
			ProgressTTL: 24 * time.Hour,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
		},
	}
}

// applyEnvOverrides reads CR_* environment variables and overrides the
// corresponding config fields.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("CR_EXPERIMENT_NAME"); v != "" {
		cfg.Experiment.Name = v
	}
	if v := os.Getenv("CR_DEVICE"); v != "" {
		cfg.Device = v
	}
	if v := os.Getenv("CR_SEED"); v != "" {
		if seed, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Seed = seed
		}
	}
	if v := os.Getenv("CR_ARTIFACT_DIR"); v != "" {
		cfg.ArtifactDir = v
	}
	if v := os.Getenv("CR_POSTGRES_HOST"); v != "" {
		cfg.Postgres.Host = v
	}
	if v := os.Getenv("CR_POSTGRES_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Postgres.Port = port
		}
	}
	if v := os.Getenv("CR_POSTGRES_DATABASE"); v != "" {
		cfg.Postgres.Database = v
	}
	if v := os.Getenv("CR_POSTGRES_USER"); v != "" {
		cfg.Postgres.User = v
	}
	if v := os.Getenv("CR_POSTGRES_PASSWORD"); v != "" {
		cfg.Postgres.Password = v
	}
	if v := os.Getenv("CR_KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("CR_KAFKA_ALERTS_TOPIC"); v != "" {
		cfg.Kafka.AlertsTopic = v
	}
	if v := os.Getenv("CR_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("CR_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("CR_LOGGING_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("CR_LOGGING_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
	if v := os.Getenv("CR_METRICS_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Metrics.Port = port
		}
	}
}
