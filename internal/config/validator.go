package config

import (
	"fmt"
	"slices"
	"time"

	"github.com/spf13/viper"
)

var (
	advisorySources = []string{"osv", "snapshot"}
	cacheTypes      = []string{"sqlite", "postgres", "none"}
	aiProviders     = []string{"gemini", "openai", "openrouter", "ollama"}
)

// durationSetting reads a duration that may also be given as plain seconds.
func durationSetting(key string) time.Duration {
	if d := viper.GetDuration(key); d != 0 {
		return d
	}
	return time.Duration(viper.GetInt(key)) * time.Second
}

// ValidateConfig validates configuration values and returns an error if any are invalid.
// This function should be called after viper has loaded the configuration.
func ValidateConfig() error {
	var errors []string

	for _, key := range []string{
		"scan.timeout.file",
		"scan.timeout.archive",
		"scan.timeout.directory",
		"scan.timeout.repository",
		"scan.timeout.manifest",
		"advisories.call_timeout",
		"ai.timeout",
	} {
		if viper.IsSet(key) {
			if d := durationSetting(key); d <= 0 {
				errors = append(errors, fmt.Sprintf("%s must be positive, got: %v", key, d))
			}
		}
	}

	for _, key := range []string{
		"scan.max_file_bytes",
		"scan.max_total_bytes",
		"scan.max_files",
		"scan.workers",
		"advisories.concurrency",
	} {
		if viper.IsSet(key) && viper.GetInt64(key) <= 0 {
			errors = append(errors, fmt.Sprintf("%s must be positive, got: %d", key, viper.GetInt64(key)))
		}
	}

	if viper.GetInt64("scan.max_file_bytes") > viper.GetInt64("scan.max_total_bytes") {
		errors = append(errors, "scan.max_file_bytes must not exceed scan.max_total_bytes")
	}

	for _, key := range []string{"advisories.retries", "ai.retries"} {
		if viper.IsSet(key) && viper.GetInt(key) < 0 {
			errors = append(errors, fmt.Sprintf("%s must not be negative, got: %d", key, viper.GetInt(key)))
		}
	}

	if viper.IsSet("advisories.qps") && viper.GetFloat64("advisories.qps") < 0 {
		errors = append(errors, fmt.Sprintf("advisories.qps must not be negative, got: %v", viper.GetFloat64("advisories.qps")))
	}

	high, medium, low := viper.GetInt("score.weights.high"), viper.GetInt("score.weights.medium"), viper.GetInt("score.weights.low")
	if low <= 0 || medium < low || high < medium {
		errors = append(errors, fmt.Sprintf("score weights must satisfy high >= medium >= low > 0, got: %d/%d/%d", high, medium, low))
	}

	if src := viper.GetString("advisories.source"); !slices.Contains(advisorySources, src) {
		errors = append(errors, fmt.Sprintf("advisories.source must be one of %v, got: %q", advisorySources, src))
	} else if src == "snapshot" && viper.GetString("advisories.snapshot_path") == "" {
		errors = append(errors, "advisories.snapshot_path is required when advisories.source is snapshot")
	}

	if typ := viper.GetString("advisories.cache.type"); !slices.Contains(cacheTypes, typ) {
		errors = append(errors, fmt.Sprintf("advisories.cache.type must be one of %v, got: %q", cacheTypes, typ))
	} else if typ == "postgres" && viper.GetString("advisories.cache.dsn") == "" {
		errors = append(errors, "advisories.cache.dsn is required when advisories.cache.type is postgres")
	}

	if p := viper.GetString("ai.provider"); !slices.Contains(aiProviders, p) {
		errors = append(errors, fmt.Sprintf("ai.provider must be one of %v, got: %q", aiProviders, p))
	}

	// 0 disables the metrics endpoint
	if viper.IsSet("metrics_port") {
		port := viper.GetInt("metrics_port")
		if port < 0 || port > 65535 {
			errors = append(errors, fmt.Sprintf("metrics_port must be between 0 and 65535, got: %d", port))
		}
	}

	if len(errors) > 0 {
		errorMsg := errors[0]
		for i := 1; i < len(errors); i++ {
			errorMsg += "\n  " + errors[i]
		}
		return fmt.Errorf("configuration validation failed:\n  %s", errorMsg)
	}

	return nil
}
