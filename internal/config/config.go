package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds the casematch API configuration.
type Config struct {
	HTTP       HTTPConfig       `yaml:"http"`
	Database   DatabaseConfig   `yaml:"database"`
	Cache      CacheConfig      `yaml:"cache"`
	Embedding  EmbeddingConfig  `yaml:"embedding"`
	Oracle     OracleConfig     `yaml:"oracle"`
	Literature LiteratureConfig `yaml:"literature"`
	Search     SearchConfig     `yaml:"search"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error (default: determined by env)
}

// HTTPConfig holds HTTP server settings.
type HTTPConfig struct {
	Port            int `yaml:"port"`
	ReadTimeoutSec  int `yaml:"read_timeout_sec"`
	WriteTimeoutSec int `yaml:"write_timeout_sec"`
	ShutdownSec     int `yaml:"shutdown_timeout_sec"`
}

// DatabaseConfig holds Postgres connection settings for the record store.
type DatabaseConfig struct {
	DSN              string `yaml:"dsn"`
	MaxConns         int    `yaml:"max_conns"`
	ReadinessTimeout int    `yaml:"readiness_timeout_sec"`
	QueryTimeoutSec  int    `yaml:"query_timeout_sec"`
}

// CacheConfig holds Redis settings for the embedding cache. Optional;
// with no addrs the service embeds without a cache.
type CacheConfig struct {
	Addrs    []string `yaml:"addrs"`
	Password string   `yaml:"password"`
}

// EmbeddingConfig holds embedding provider settings.
type EmbeddingConfig struct {
	APIKey     string `yaml:"api_key"`
	BaseURL    string `yaml:"base_url"`
	Model      string `yaml:"model"`
	Dimensions int    `yaml:"dimensions"`
	TimeoutSec int    `yaml:"timeout_sec"`
}

// OracleConfig holds structured-extraction oracle settings.
type OracleConfig struct {
	APIKey     string `yaml:"api_key"`
	BaseURL    string `yaml:"base_url"`
	Model      string `yaml:"model"`
	TimeoutSec int    `yaml:"timeout_sec"`
}

// LiteratureConfig holds literature index (PubMed E-utilities) settings.
type LiteratureConfig struct {
	BaseURL      string `yaml:"base_url"`
	Tool         string `yaml:"tool"`
	Email        string `yaml:"email"`
	TimeoutSec   int    `yaml:"timeout_sec"`
	MaxRetries   int    `yaml:"max_retries"`
	RetryBaseMS  int    `yaml:"retry_base_ms"`
	MaxPerSearch int    `yaml:"max_per_search"`
}

// SearchConfig holds case-matching search knobs.
type SearchConfig struct {
	MaxPerSymptom       int    `yaml:"max_per_symptom"`
	MaxPatientsReturned int    `yaml:"max_patients_returned"`
	AggregationPolicy   string `yaml:"aggregation_policy"` // max, mean, count
}

// Load reads configuration from a YAML file by environment name (local, dev, prod).
func Load(env string) (Config, error) {
	configPath := findConfigPath(env)

	data, err := os.ReadFile(filepath.Clean(configPath))
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config %s: %w", configPath, err)
	}

	// Substitute env variables of the form ${VAR}
	data = expandEnvVars(data)

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// MustLoad loads configuration or panics.
func MustLoad(env string) Config {
	cfg, err := Load(env)
	if err != nil {
		panic(err)
	}
	return cfg
}

// GetEnv returns the current environment from the ENV variable, defaulting to "local".
func GetEnv() string {
	if env := os.Getenv("ENV"); env != "" {
		return env
	}
	return "local"
}

// ApplyDefaults fills empty fields with default values.
func (c *Config) ApplyDefaults() {
	if c.HTTP.ReadTimeoutSec <= 0 {
		c.HTTP.ReadTimeoutSec = 10
	}
	if c.HTTP.WriteTimeoutSec <= 0 {
		// Responses wait on oracle and index round-trips.
		c.HTTP.WriteTimeoutSec = 120
	}
	if c.HTTP.ShutdownSec <= 0 {
		c.HTTP.ShutdownSec = 10
	}
	if c.Database.MaxConns <= 0 {
		c.Database.MaxConns = 8
	}
	if c.Database.ReadinessTimeout <= 0 {
		c.Database.ReadinessTimeout = 10
	}
	if c.Database.QueryTimeoutSec <= 0 {
		c.Database.QueryTimeoutSec = 5
	}
	if c.Embedding.Model == "" {
		c.Embedding.Model = "text-embedding-3-small"
	}
	if c.Embedding.Dimensions <= 0 {
		c.Embedding.Dimensions = 384
	}
	if c.Embedding.TimeoutSec <= 0 {
		c.Embedding.TimeoutSec = 15
	}
	if c.Oracle.Model == "" {
		c.Oracle.Model = "gpt-5-mini"
	}
	if c.Oracle.TimeoutSec <= 0 {
		c.Oracle.TimeoutSec = 60
	}
	if c.Literature.BaseURL == "" {
		c.Literature.BaseURL = "https://eutils.ncbi.nlm.nih.gov/entrez/eutils"
	}
	if c.Literature.Tool == "" {
		c.Literature.Tool = "casematch"
	}
	if c.Literature.TimeoutSec <= 0 {
		c.Literature.TimeoutSec = 15
	}
	if c.Literature.MaxRetries == 0 {
		c.Literature.MaxRetries = 2
	}
	if c.Literature.RetryBaseMS <= 0 {
		c.Literature.RetryBaseMS = 200
	}
	if c.Literature.MaxPerSearch <= 0 {
		c.Literature.MaxPerSearch = 3
	}
	if c.Search.MaxPerSymptom <= 0 {
		c.Search.MaxPerSymptom = 5
	}
	if c.Search.MaxPatientsReturned <= 0 {
		c.Search.MaxPatientsReturned = 5
	}
	if c.Search.AggregationPolicy == "" {
		c.Search.AggregationPolicy = "max"
	}
}

// Validate checks the configuration for correctness.
func (c *Config) Validate() error {
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http.port must be between 1 and 65535, got %d", c.HTTP.Port)
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required")
	}
	if c.Embedding.APIKey == "" {
		return fmt.Errorf("embedding.api_key is required")
	}
	if c.Oracle.APIKey == "" {
		return fmt.Errorf("oracle.api_key is required")
	}
	switch c.Search.AggregationPolicy {
	case "", "max", "mean", "count":
		// ok
	default:
		return fmt.Errorf(
			"search.aggregation_policy must be \"max\", \"mean\" or \"count\", got %q",
			c.Search.AggregationPolicy,
		)
	}
	return nil
}

// findConfigPath locates the config file.
func findConfigPath(env string) string {
	filename := fmt.Sprintf("%s.yaml", env)

	// 1. Check ./config/
	if path := filepath.Join("config", filename); fileExists(path) {
		return path
	}

	// 2. Check relative to the source file
	_, b, _, _ := runtime.Caller(0)
	projectRoot := filepath.Dir(filepath.Dir(filepath.Dir(b))) // internal/config -> project root
	if path := filepath.Join(projectRoot, "config", filename); fileExists(path) {
		return path
	}

	// 3. Fallback to ./config/
	return filepath.Join("config", filename)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// expandEnvVars replaces ${VAR} and ${VAR:-default} with environment variable values.
var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}`)

func expandEnvVars(data []byte) []byte {
	return envVarRegex.ReplaceAllFunc(data, func(match []byte) []byte {
		expr := string(match[2 : len(match)-1]) // strip ${ and }
		varName, defaultVal, hasDefault := strings.Cut(expr, ":-")
		val := os.Getenv(varName)
		if val == "" && hasDefault {
			val = defaultVal
		}
		return []byte(val)
	})
}
