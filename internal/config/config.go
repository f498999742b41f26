// Package config provides configuration management for Helios.
// Precedence (highest to lowest): flags > env vars > config file > defaults.
package config

import (
	"fmt"
	"time"
)

// Default configuration values.
const (
	DefaultTokenBudget     = 3000
	DefaultSafetyMarginPct = 0.15
	DefaultRuleTable       = "v1"
	DefaultProvider        = "hive"
	DefaultOutputSuffix    = "_helios"
	DefaultModel           = "gpt-4o"
	DefaultAPIKeyEnv       = "OPENAI_API_KEY"
	DefaultTimeoutSeconds  = 60
	DefaultMaxRetries      = 2
	DefaultRetryBackoffMS  = 500
	DefaultWorkers         = 4
	DefaultSchemaMode      = "auto"
	DefaultSchemaCache     = "schema_cache.json"
)

// ConverterConfig holds external converter settings.
type ConverterConfig struct {
	// Enabled selects the chat-completions converter; when false the
	// rule-rewritten SQL passes through unchanged.
	Enabled bool `koanf:"enabled"`
	// Model is the chat model identifier.
	Model string `koanf:"model"`
	// BaseURL overrides the API endpoint (for compatible gateways).
	BaseURL string `koanf:"base_url"`
	// APIKeyEnv names the environment variable holding the API key.
	APIKeyEnv string `koanf:"api_key_env"`
	// TimeoutSeconds bounds one converter HTTP call.
	TimeoutSeconds int `koanf:"timeout_seconds"`
	// MaxRetries bounds re-sends of an identical chunk after a failure.
	MaxRetries int `koanf:"max_retries"`
	// RetryBackoffMS is the constant delay between attempts.
	RetryBackoffMS int `koanf:"retry_backoff_ms"`
	// Workers caps concurrent chunk conversions.
	Workers int `koanf:"workers"`
}

// Timeout returns the per-call timeout as a duration.
func (c ConverterConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// Backoff returns the retry delay as a duration.
func (c ConverterConfig) Backoff() time.Duration {
	return time.Duration(c.RetryBackoffMS) * time.Millisecond
}

// SchemaConfig holds schema resolver settings.
type SchemaConfig struct {
	// Mode is auto, cache, or spark-sql.
	Mode string `koanf:"mode"`
	// CachePath is the JSON schema cache file.
	CachePath string `koanf:"cache_path"`
	// SparkSQLBin is the spark-sql executable used for DESCRIBE.
	SparkSQLBin string `koanf:"spark_sql_bin"`
}

// Config holds all Helios configuration options.
type Config struct {
	// TokenBudget is the nominal maximum estimated tokens per chunk.
	TokenBudget int `koanf:"token_budget"`
	// SafetyMarginPct reserves headroom below the token budget.
	SafetyMarginPct float64 `koanf:"safety_margin_pct"`
	// SupportedDateFormats is the allow-list of Oracle date format tokens;
	// empty enables the built-in table.
	SupportedDateFormats []string `koanf:"supported_date_formats"`
	// RuleTableVersion pins the active rewrite table identifier.
	RuleTableVersion string `koanf:"rule_table_version"`
	// Provider is the target table format: hive, delta, or iceberg.
	Provider string `koanf:"provider"`
	// OutputSuffix is appended to the input file stem.
	OutputSuffix string `koanf:"output_suffix"`
	// Verbose enables debug logging.
	Verbose bool `koanf:"verbose"`

	Converter ConverterConfig `koanf:"converter"`
	Schema    SchemaConfig    `koanf:"schema"`
}

// Validate checks the configuration for values the pipeline cannot run
// with.
func (c *Config) Validate() error {
	if c.TokenBudget <= 0 {
		return fmt.Errorf("token_budget must be > 0, got %d", c.TokenBudget)
	}
	if c.SafetyMarginPct < 0 || c.SafetyMarginPct >= 1 {
		return fmt.Errorf("safety_margin_pct must be in [0,1), got %g", c.SafetyMarginPct)
	}
	switch c.Provider {
	case "hive", "delta", "iceberg":
	default:
		return fmt.Errorf("provider must be hive, delta, or iceberg, got %q", c.Provider)
	}
	switch c.Schema.Mode {
	case "auto", "cache", "spark-sql":
	default:
		return fmt.Errorf("schema.mode must be auto, cache, or spark-sql, got %q", c.Schema.Mode)
	}
	if c.Converter.MaxRetries < 0 {
		return fmt.Errorf("converter.max_retries must be >= 0, got %d", c.Converter.MaxRetries)
	}
	return nil
}
