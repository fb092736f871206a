// Package config loads settings from an optional YAML file, a .env file and
// VULNVAULT_* environment variables into the global viper instance.
package config

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of every environment override, e.g.
// VULNVAULT_SCAN_MAX_FILES.
const EnvPrefix = "VULNVAULT"

// Load initializes the configuration from file and environment variables.
// A missing default config.yaml is fine; an explicit cfgFile must exist.
func Load(cfgFile string) error {
	// a missing .env is not an error
	_ = godotenv.Load()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName("vulnvault")
	}

	viper.SetEnvPrefix(EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	SetDefaults()

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile == "" && errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("failed to read config: %w", err)
	}
	fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	return nil
}

// SetDefaults registers the default of every setting.
func SetDefaults() {
	viper.SetDefault("scan.max_file_bytes", 1<<20)
	viper.SetDefault("scan.max_total_bytes", 64<<20)
	viper.SetDefault("scan.max_files", 2000)
	viper.SetDefault("scan.workers", min(runtime.NumCPU(), 8))
	timeouts := DefaultTimeouts()
	viper.SetDefault("scan.timeout.file", timeouts.File)
	viper.SetDefault("scan.timeout.archive", timeouts.Archive)
	viper.SetDefault("scan.timeout.directory", timeouts.Directory)
	viper.SetDefault("scan.timeout.repository", timeouts.Repository)
	viper.SetDefault("scan.timeout.manifest", timeouts.Manifest)

	viper.SetDefault("score.weights.high", 15)
	viper.SetDefault("score.weights.medium", 8)
	viper.SetDefault("score.weights.low", 3)

	viper.SetDefault("secrets.placeholders", []string{})

	viper.SetDefault("advisories.source", "osv")
	viper.SetDefault("advisories.snapshot_path", "")
	viper.SetDefault("advisories.osv_url", "https://api.osv.dev")
	viper.SetDefault("advisories.concurrency", 8)
	viper.SetDefault("advisories.call_timeout", 15*time.Second)
	viper.SetDefault("advisories.retries", 3)
	viper.SetDefault("advisories.backoff", 500*time.Millisecond)
	viper.SetDefault("advisories.qps", 10)
	viper.SetDefault("advisories.burst", 10)
	viper.SetDefault("advisories.watch", false)
	viper.SetDefault("advisories.cache.type", "sqlite")
	viper.SetDefault("advisories.cache.dsn", "")
	viper.SetDefault("advisories.cache.ttl", 24*time.Hour)

	viper.SetDefault("repo.allowed_hosts", []string{"github.com", "gitlab.com", "bitbucket.org"})

	viper.SetDefault("ai.provider", "gemini")
	viper.SetDefault("ai.model", "")
	viper.SetDefault("ai.base_url", "")
	viper.SetDefault("ai.timeout", 60*time.Second)
	viper.SetDefault("ai.retries", 2)

	slackEnabled := os.Getenv("SLACK_BOT_USER_TOKEN") != ""
	viper.SetDefault("notifications.slack.enabled", slackEnabled)
	viper.SetDefault("notifications.slack.channel", "#security")
	viper.SetDefault("notifications.slack.webhook_url", "")

	viper.SetDefault("metrics_port", 2112)
	viper.SetDefault("verbose", false)
	viper.SetDefault("log_file", "")
}
