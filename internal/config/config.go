// Package config provides environment-aware configuration for modelplaned:
// server, database, and the external integrations the control plane's
// services dial out to (hosted LLM providers, object storage, SageMaker,
// response cache backend, discovery catalogs).
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Environment is the deployment environment, selecting which .env file to
// load and loosening a handful of production-only checks.
type Environment string

const (
	Development Environment = "development"
	Testing     Environment = "testing"
	Production  Environment = "production"
)

// ParseEnvironment normalizes a MODELPLANE_ENV value.
func ParseEnvironment(value string) (Environment, bool) {
	switch Environment(strings.ToLower(strings.TrimSpace(value))) {
	case Development:
		return Development, true
	case Testing:
		return Testing, true
	case Production:
		return Production, true
	default:
		return "", false
	}
}

// Config holds all application configuration.
type Config struct {
	Env Environment

	Server   ServerConfig
	Database DatabaseConfig
	Logging  LoggingConfig
	Admin    AdminConfig

	Anthropic  ProviderConfig
	Bedrock    BedrockConfig
	OpenRouter ProviderConfig
	HuggingFace ProviderConfig

	ResponseCache ResponseCacheConfig
	FineTuning    FineTuningConfig
	MetaLoop      MetaLoopConfig
}

// ServerConfig is the HTTP listener configuration.
type ServerConfig struct {
	Host string
	Port int
}

// Addr formats Host/Port as a net.Listen-compatible address.
func (s ServerConfig) Addr() string {
	host := s.Host
	if host == "" {
		host = "0.0.0.0"
	}
	return fmt.Sprintf("%s:%d", host, s.Port)
}

// DatabaseConfig is the postgres connection configuration. DSN empty means
// in-memory storage.
type DatabaseConfig struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// LoggingConfig configures pkg/logger.
type LoggingConfig struct {
	Level  string
	Format string
}

// AdminConfig is the shared-secret allowlist used by httpapi's admin auth
// middleware. An empty Tokens list means every admin operation responds
// unavailable, per spec.md §6.
type AdminConfig struct {
	Tokens []string
}

// ProviderConfig is a generic "api key + base URL" external integration.
type ProviderConfig struct {
	APIKey  string
	BaseURL string
}

// BedrockConfig configures the AWS Bedrock backend.
type BedrockConfig struct {
	Region string
}

// ResponseCacheConfig configures the Response Cache's L2 backing store.
type ResponseCacheConfig struct {
	RedisAddr string
	TTL       time.Duration
}

// FineTuningConfig configures the dataset uploader and SageMaker submission.
type FineTuningConfig struct {
	S3Bucket            string
	AWSRegion           string
	SageMakerRoleARN    string
	SageMakerOutputBucket string
}

// MetaLoopConfig configures the Meta-Management Loop's scheduling.
type MetaLoopConfig struct {
	UseCases         []string
	CheckInterval    time.Duration
	RecoveryInterval time.Duration
	AggregateWindow  time.Duration
}

// Load loads configuration based on the MODELPLANE_ENV environment variable,
// optionally overlaying a `config/<env>.env` file.
func Load() (*Config, error) {
	envStr := os.Getenv("MODELPLANE_ENV")
	if envStr == "" {
		envStr = string(Development)
	}
	env, ok := ParseEnvironment(envStr)
	if !ok {
		return nil, fmt.Errorf("invalid MODELPLANE_ENV: %s (must be development, testing, or production)", envStr)
	}

	configFile := filepath.Join("config", fmt.Sprintf("%s.env", env))
	if err := godotenv.Load(configFile); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			fmt.Printf("warning: could not load %s: %v\n", configFile, err)
		}
	}

	cfg := &Config{Env: env}
	cfg.loadFromEnv()
	return cfg, nil
}

func (c *Config) loadFromEnv() {
	c.Server.Host = getEnv("SERVER_HOST", "0.0.0.0")
	c.Server.Port = getIntEnv("SERVER_PORT", 8080)

	c.Database.DSN = getEnv("DATABASE_URL", "")
	c.Database.MaxOpenConns = getIntEnv("DB_MAX_OPEN_CONNS", 20)
	c.Database.MaxIdleConns = getIntEnv("DB_MAX_IDLE_CONNS", 5)
	c.Database.ConnMaxLifetime = getDurationEnv("DB_CONN_MAX_LIFETIME", 5*time.Minute)

	c.Logging.Level = getEnv("LOG_LEVEL", "info")
	c.Logging.Format = getEnv("LOG_FORMAT", "json")

	c.Admin.Tokens = splitTokens(getEnv("ADMIN_API_TOKENS", ""))

	c.Anthropic.APIKey = getEnv("ANTHROPIC_API_KEY", "")
	c.Bedrock.Region = getEnv("AWS_BEDROCK_REGION", getEnv("AWS_REGION", "us-east-1"))
	c.OpenRouter.APIKey = getEnv("OPENROUTER_API_KEY", "")
	c.HuggingFace.APIKey = getEnv("HUGGINGFACE_API_TOKEN", "")

	c.ResponseCache.RedisAddr = getEnv("REDIS_ADDR", "")
	c.ResponseCache.TTL = getDurationEnv("RESPONSE_CACHE_TTL", time.Hour)

	c.FineTuning.S3Bucket = getEnv("FINE_TUNE_S3_BUCKET", "")
	c.FineTuning.AWSRegion = getEnv("AWS_REGION", "us-east-1")
	c.FineTuning.SageMakerRoleARN = getEnv("SAGEMAKER_EXECUTION_ROLE_ARN", "")
	c.FineTuning.SageMakerOutputBucket = getEnv("SAGEMAKER_S3_BUCKET", c.FineTuning.S3Bucket)

	c.MetaLoop.UseCases = splitTokens(getEnv("META_LOOP_USE_CASES", "story_generation,npc_dialogue,faction_decision"))
	c.MetaLoop.CheckInterval = getDurationEnv("META_LOOP_CHECK_INTERVAL", time.Hour)
	c.MetaLoop.RecoveryInterval = getDurationEnv("META_LOOP_RECOVERY_INTERVAL", 60*time.Second)
	c.MetaLoop.AggregateWindow = getDurationEnv("META_LOOP_AGGREGATE_WINDOW", time.Hour)
}

// IsProduction reports whether c targets the production environment.
func (c *Config) IsProduction() bool {
	return c.Env == Production
}

// Validate applies production-only guardrails.
func (c *Config) Validate() error {
	if c.IsProduction() && len(c.Admin.Tokens) == 0 {
		return fmt.Errorf("ADMIN_API_TOKENS must be set in production")
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func splitTokens(value string) []string {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
