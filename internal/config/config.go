package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Store backends.
const (
	BackendNeo4j    = "neo4j"
	BackendPostgres = "postgres"
	BackendQdrant   = "qdrant"
	BackendMemory   = "memory"
)

// Config holds all application configuration.
type Config struct {
	Store     StoreConfig     `mapstructure:"store"`
	Neo4j     Neo4jConfig     `mapstructure:"neo4j"`
	Postgres  PostgresConfig  `mapstructure:"postgres"`
	Qdrant    QdrantConfig    `mapstructure:"qdrant"`
	Embedding EmbeddingConfig `mapstructure:"embedding"`
	Ingest    IngestConfig    `mapstructure:"ingest"`
	Matching  MatchingConfig  `mapstructure:"matching"`
	Server    ServerConfig    `mapstructure:"server"`
	Tracing   TracingConfig   `mapstructure:"tracing"`
	Log       LogConfig       `mapstructure:"log"`
}

type StoreConfig struct {
	// Backend is one of neo4j, postgres, qdrant, memory.
	Backend string `mapstructure:"backend"`
}

type Neo4jConfig struct {
	URI      string `mapstructure:"uri"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
}

type PostgresConfig struct {
	DSN string `mapstructure:"dsn"`
}

type QdrantConfig struct {
	Host       string `mapstructure:"host"`
	Port       int    `mapstructure:"port"`
	Collection string `mapstructure:"collection"`
}

type EmbeddingConfig struct {
	// Provider is a registered embedding factory name, e.g. openai or fake.
	Provider          string        `mapstructure:"provider"`
	Model             string        `mapstructure:"model"`
	APIKey            string        `mapstructure:"api_key"`
	BaseURL           string        `mapstructure:"base_url"`
	Dimensions        int           `mapstructure:"dimensions"`
	Timeout           time.Duration `mapstructure:"timeout"`
	MaxRetries        int           `mapstructure:"max_retries"`
	RetryDelay        time.Duration `mapstructure:"retry_delay"`
	RequestsPerMinute int           `mapstructure:"requests_per_minute"`
	BurstSize         int           `mapstructure:"burst_size"`
}

type IngestConfig struct {
	Workers int `mapstructure:"workers"`
}

type MatchingConfig struct {
	K         int     `mapstructure:"k"`
	Threshold float64 `mapstructure:"threshold"`
	AgeBand   int     `mapstructure:"age_band"`
}

type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type TracingConfig struct {
	Endpoint   string  `mapstructure:"endpoint"`
	SampleRate float64 `mapstructure:"sample_rate"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// setDefaults registers every default on v so that env overrides apply to
// keys absent from the file.
func setDefaults(v *viper.Viper) {
	v.SetDefault("store.backend", BackendNeo4j)

	v.SetDefault("neo4j.uri", "bolt://localhost:7687")
	v.SetDefault("neo4j.username", "neo4j")
	v.SetDefault("neo4j.password", "")
	v.SetDefault("neo4j.database", "")

	v.SetDefault("postgres.dsn", "postgres://localhost:5432/kindred?sslmode=disable")

	v.SetDefault("qdrant.host", "localhost")
	v.SetDefault("qdrant.port", 6334)
	v.SetDefault("qdrant.collection", "profiles")

	v.SetDefault("embedding.provider", "openai")
	v.SetDefault("embedding.model", "text-embedding-3-small")
	v.SetDefault("embedding.api_key", "")
	v.SetDefault("embedding.base_url", "")
	v.SetDefault("embedding.dimensions", 1536)
	v.SetDefault("embedding.timeout", 30*time.Second)
	v.SetDefault("embedding.max_retries", 3)
	v.SetDefault("embedding.retry_delay", time.Second)
	v.SetDefault("embedding.requests_per_minute", 0)
	v.SetDefault("embedding.burst_size", 0)

	v.SetDefault("ingest.workers", 4)

	v.SetDefault("matching.k", 10)
	v.SetDefault("matching.threshold", 0.5)
	v.SetDefault("matching.age_band", 5)

	v.SetDefault("server.addr", ":8000")
	v.SetDefault("server.shutdown_timeout", 30*time.Second)

	v.SetDefault("tracing.endpoint", "")
	v.SetDefault("tracing.sample_rate", 1.0)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

func newViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("KINDRED")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

func unmarshal(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}
	return &cfg, nil
}

// Default returns the defaults with environment overrides applied.
func Default() *Config {
	cfg, err := unmarshal(newViper())
	if err != nil {
		// Defaults and env values always decode into Config.
		panic(err)
	}
	return cfg
}

// Validate checks configuration for issues and returns warnings.
func (c *Config) Validate() []string {
	var warnings []string

	switch c.Store.Backend {
	case BackendNeo4j, BackendPostgres, BackendQdrant, BackendMemory:
	default:
		warnings = append(warnings, fmt.Sprintf("store backend '%s' is not one of neo4j, postgres, qdrant, memory", c.Store.Backend))
	}

	if c.Embedding.Provider == "openai" && c.Embedding.APIKey == "" && c.Embedding.BaseURL == "" {
		warnings = append(warnings, "embedding provider 'openai' is configured but api_key is empty")
	}
	if c.Embedding.Dimensions <= 0 {
		warnings = append(warnings, fmt.Sprintf("embedding dimensions %d must be positive", c.Embedding.Dimensions))
	}
	if c.Embedding.MaxRetries < 0 {
		warnings = append(warnings, fmt.Sprintf("embedding max_retries %d is negative", c.Embedding.MaxRetries))
	}

	if c.Ingest.Workers < 1 {
		warnings = append(warnings, fmt.Sprintf("ingest workers %d is below 1; one worker will be used", c.Ingest.Workers))
	}

	if c.Matching.K <= 0 {
		warnings = append(warnings, fmt.Sprintf("matching k %d must be positive", c.Matching.K))
	}
	if c.Matching.Threshold < -1 || c.Matching.Threshold > 1 {
		warnings = append(warnings, fmt.Sprintf("matching threshold %.2f is outside [-1.0, 1.0]", c.Matching.Threshold))
	}
	if c.Matching.AgeBand < 0 {
		warnings = append(warnings, fmt.Sprintf("matching age_band %d is negative", c.Matching.AgeBand))
	}

	if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
		warnings = append(warnings, fmt.Sprintf("tracing sample_rate %.2f is outside [0.0, 1.0]", c.Tracing.SampleRate))
	}

	return warnings
}

// Load reads configuration from file and environment.
func Load(path string) (*Config, error) {
	v := newViper()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	cfg, err := unmarshal(v)
	if err != nil {
		return nil, err
	}
	printWarnings(cfg)
	return cfg, nil
}

// LoadOrDefault behaves like Load but falls back to Default when path is
// empty or does not exist.
func LoadOrDefault(path string) (*Config, error) {
	if path == "" {
		cfg := Default()
		printWarnings(cfg)
		return cfg, nil
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		cfg := Default()
		printWarnings(cfg)
		return cfg, nil
	}
	return Load(path)
}

func printWarnings(cfg *Config) {
	for _, warning := range cfg.Validate() {
		fmt.Fprintf(os.Stderr, "Warning: %s\n", warning)
	}
}
