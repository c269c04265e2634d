// Package config loads the control plane's configuration from a YAML file
// (if present) and environment variables, matching the teacher's
// file-then-env overlay with envdecode/godotenv.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ServerConfig controls the admin/public HTTP server.
type ServerConfig struct {
	Host string `json:"host" env:"SERVER_HOST"`
	Port int    `json:"port" env:"SERVER_PORT"`
}

// DatabaseConfig controls the postgres connection, per spec.md §6's
// DB_HOST/PORT/NAME/USER/PASSWORD env vars.
type DatabaseConfig struct {
	Host            string `json:"host" env:"DB_HOST"`
	Port            int    `json:"port" env:"DB_PORT"`
	Name            string `json:"name" env:"DB_NAME"`
	User            string `json:"user" env:"DB_USER"`
	Password        string `json:"password" env:"DB_PASSWORD"`
	SSLMode         string `json:"sslmode" env:"DB_SSLMODE"`
	MaxOpenConns    int    `json:"max_open_conns" env:"DB_MAX_OPEN_CONNS"`
	MaxIdleConns    int    `json:"max_idle_conns" env:"DB_MAX_IDLE_CONNS"`
	ConnMaxLifetime int    `json:"conn_max_lifetime" env:"DB_CONN_MAX_LIFETIME"`
	MigrateOnStart  bool   `json:"migrate_on_start" env:"DB_MIGRATE_ON_START"`
}

// ConnectionString builds a PostgreSQL connection string from host
// parameters, for use with github.com/lib/pq.
func (c DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

// LoggingConfig controls application logging.
type LoggingConfig struct {
	Level      string `json:"level" env:"LOG_LEVEL"`
	Format     string `json:"format" env:"LOG_FORMAT"`
	Output     string `json:"output" env:"LOG_OUTPUT"`
	FilePrefix string `json:"file_prefix" env:"LOG_FILE_PREFIX"`
}

// AdminConfig controls the shared-secret admin auth allowlist described in
// spec.md §6: an empty Keys list means every admin route returns
// unavailable rather than unauthorized.
type AdminConfig struct {
	Keys []string `json:"keys" env:"ADMIN_KEYS"`
}

// MetaLoopConfig tunes the Meta-Management Loop's period.
type MetaLoopConfig struct {
	CheckIntervalSec int `json:"check_interval_sec" env:"CHECK_INTERVAL_SEC"`
}

// CircuitConfig tunes per-backend circuit breaker behavior.
type CircuitConfig struct {
	FailureThreshold int `json:"failure_threshold" env:"CIRCUIT_FAILURE_THRESHOLD"`
	TimeoutSec       int `json:"timeout_sec" env:"CIRCUIT_TIMEOUT_SEC"`
}

// CacheConfig tunes the response cache's L1/L2 TTL.
type CacheConfig struct {
	TTLSec   int    `json:"ttl_sec" env:"CACHE_TTL_SEC"`
	RedisURL string `json:"redis_url" env:"CACHE_REDIS_URL"`
}

// ModerationConfig holds a content-moderation provider name and API key.
// The application does not read it: the guardrails service always runs the
// keyword-table moderator.
type ModerationConfig struct {
	Provider string `json:"provider" env:"MODERATION_PROVIDER"`
	APIKey   string `json:"api_key" env:"MODERATION_API_KEY"`
}

// TrainingConfig configures the Fine-Tuning Orchestrator's artifact store.
type TrainingConfig struct {
	S3Bucket string `json:"s3_bucket" env:"TRAINING_S3_BUCKET"`
	S3Prefix string `json:"s3_prefix" env:"TRAINING_S3_PREFIX"`
	Region   string `json:"region" env:"AWS_REGION"`
}

// LLMBackendConfig configures the hosted-LLM SDK credentials the LLM
// Client's backend implementations use.
type LLMBackendConfig struct {
	AnthropicAPIKey string `json:"anthropic_api_key" env:"ANTHROPIC_API_KEY"`
	BedrockRegion   string `json:"bedrock_region" env:"BEDROCK_REGION"`
}

// Config is the top-level configuration structure.
type Config struct {
	Server     ServerConfig     `json:"server"`
	Database   DatabaseConfig   `json:"database"`
	Logging    LoggingConfig    `json:"logging"`
	Admin      AdminConfig      `json:"admin"`
	MetaLoop   MetaLoopConfig   `json:"meta_loop"`
	Circuit    CircuitConfig    `json:"circuit"`
	Cache      CacheConfig      `json:"cache"`
	Moderation ModerationConfig `json:"moderation"`
	Training   TrainingConfig   `json:"training"`
	LLMBackend LLMBackendConfig `json:"llm_backend"`
}

// New returns a configuration populated with defaults.
func New() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
		Database: DatabaseConfig{
			Port:            5432,
			SSLMode:         "disable",
			MaxOpenConns:    10,
			MaxIdleConns:    5,
			ConnMaxLifetime: 300,
			MigrateOnStart:  true,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			Output:     "stdout",
			FilePrefix: "modelplane",
		},
		MetaLoop: MetaLoopConfig{
			CheckIntervalSec: 3600,
		},
		Circuit: CircuitConfig{
			FailureThreshold: 5,
			TimeoutSec:       30,
		},
		Cache: CacheConfig{
			TTLSec: 3600,
		},
	}
}

// Load loads configuration from file (if present) and environment
// variables, in that order so env vars win.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := New()

	if path := strings.TrimSpace(os.Getenv("CONFIG_FILE")); path != "" {
		if err := loadFromFile(path, cfg); err != nil {
			return nil, err
		}
	} else {
		_ = loadFromFile("configs/config.yaml", cfg)
	}

	if err := envdecode.Decode(cfg); err != nil {
		// envdecode returns an error when no tagged fields are present in
		// the environment; treat that as "no overrides" so local runs work
		// without exporting every variable.
		if !strings.Contains(err.Error(), "none of the target fields were set") {
			return nil, fmt.Errorf("decode env: %w", err)
		}
	}

	return cfg, nil
}

// LoadFile reads configuration from a YAML file, without consulting the
// environment. Used by tests that want deterministic config.
func LoadFile(path string) (*Config, error) {
	cfg := New()
	if err := loadFromFile(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadFromFile(path string, cfg *Config) error {
	expanded, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(expanded)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return yaml.Unmarshal(data, cfg)
}
