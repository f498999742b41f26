package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"
)

// configFileNames are searched in order in the working directory.
var configFileNames = []string{"helios.yaml", "helios.yml"}

// envPrefix is the prefix for environment variable overrides, e.g.
// HELIOS_TOKEN_BUDGET or HELIOS_CONVERTER.MODEL.
const envPrefix = "HELIOS_"

// Load builds a Config by layering defaults, an optional config file,
// environment variables, and command-line flags, in increasing
// precedence. flags may be nil.
func Load(configFile string, flags *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	path, explicit := configFile, configFile != ""
	if !explicit {
		path = findConfigFile()
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			if explicit || !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
			}
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		return strings.ToLower(strings.TrimPrefix(s, envPrefix))
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if flags != nil {
		err := k.Load(posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, interface{}) {
			if !f.Changed {
				return "", nil
			}
			key := strings.ReplaceAll(f.Name, "-", "_")
			return key, posflag.FlagVal(flags, f)
		}), nil)
		if err != nil {
			return nil, fmt.Errorf("failed to load flags: %w", err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func defaults() map[string]interface{} {
	return map[string]interface{}{
		"token_budget":               DefaultTokenBudget,
		"safety_margin_pct":          DefaultSafetyMarginPct,
		"supported_date_formats":     []string{},
		"rule_table_version":         DefaultRuleTable,
		"provider":                   DefaultProvider,
		"output_suffix":              DefaultOutputSuffix,
		"verbose":                    false,
		"converter.enabled":          false,
		"converter.model":            DefaultModel,
		"converter.base_url":         "",
		"converter.api_key_env":      DefaultAPIKeyEnv,
		"converter.timeout_seconds":  DefaultTimeoutSeconds,
		"converter.max_retries":      DefaultMaxRetries,
		"converter.retry_backoff_ms": DefaultRetryBackoffMS,
		"converter.workers":          DefaultWorkers,
		"schema.mode":                DefaultSchemaMode,
		"schema.cache_path":          DefaultSchemaCache,
		"schema.spark_sql_bin":       "spark-sql",
	}
}

func findConfigFile() string {
	for _, name := range configFileNames {
		if _, err := os.Stat(name); err == nil {
			return name
		}
	}
	return ""
}
