package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	sharedcfg "github.com/couchcryptid/storm-data-shared/config"
)

// Bronze storage backends.
const (
	BackendFile     = "file"
	BackendPostgres = "postgres"
)

// Config holds all service settings, populated from environment variables.
type Config struct {
	DataDir        string
	RawBatchDir    string
	PipelineConfig string

	BronzeBackend string
	DatabaseURL   string

	// Layer events are published only when brokers are configured.
	KafkaBrokers []string
	KafkaTopic   string

	ParquetExport bool

	HTTPAddr        string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration
}

// Load reads configuration from environment variables, applying defaults where unset.
func Load() (*Config, error) {
	shutdownTimeout, err := sharedcfg.ParseShutdownTimeout()
	if err != nil {
		return nil, err
	}

	parquet, err := parseBool("PARQUET_EXPORT", false)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		DataDir:         sharedcfg.EnvOrDefault("DATA_DIR", "data"),
		RawBatchDir:     sharedcfg.EnvOrDefault("RAW_BATCH_DIR", "data/raw_batches"),
		PipelineConfig:  sharedcfg.EnvOrDefault("PIPELINE_CONFIG", "config/pipeline.yaml"),
		BronzeBackend:   sharedcfg.EnvOrDefault("BRONZE_BACKEND", BackendFile),
		DatabaseURL:     os.Getenv("DATABASE_URL"),
		KafkaTopic:      sharedcfg.EnvOrDefault("KAFKA_TOPIC", "climate-layer-events"),
		ParquetExport:   parquet,
		HTTPAddr:        sharedcfg.EnvOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:        sharedcfg.EnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:       sharedcfg.EnvOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout: shutdownTimeout,
	}
	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = sharedcfg.ParseBrokers(brokers)
	}

	switch cfg.BronzeBackend {
	case BackendFile:
	case BackendPostgres:
		if cfg.DatabaseURL == "" {
			return nil, errors.New("DATABASE_URL is required when BRONZE_BACKEND is postgres")
		}
	default:
		return nil, fmt.Errorf("invalid BRONZE_BACKEND %q", cfg.BronzeBackend)
	}
	if cfg.DataDir == "" {
		return nil, errors.New("DATA_DIR is required")
	}
	if len(cfg.KafkaBrokers) > 0 && cfg.KafkaTopic == "" {
		return nil, errors.New("KAFKA_TOPIC is required when KAFKA_BROKERS is set")
	}

	return cfg, nil
}

// EventsEnabled reports whether layer events should be published.
func (c *Config) EventsEnabled() bool {
	return len(c.KafkaBrokers) > 0
}

func parseBool(key string, def bool) (bool, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	v, err := strconv.ParseBool(s)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return v, nil
}
