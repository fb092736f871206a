package config

import (
	"os"
	"time"

	"vulnvault/internal/score"

	"github.com/spf13/viper"
)

// Config is the typed view of the loaded settings.
type Config struct {
	Scan         ScanConfig
	Score        score.Policy
	Placeholders []string
	Advisories   AdvisoriesConfig
	AllowedHosts []string
	AI           AIConfig
	Slack        SlackConfig
	MetricsPort  int
	Verbose      bool
	LogFile      string
}

// ScanConfig bounds a single scan.
type ScanConfig struct {
	MaxFileBytes  int64
	MaxTotalBytes int64
	MaxFiles      int
	Workers       int
	Timeouts      Timeouts
}

// Timeouts is the whole-scan deadline per input kind.
type Timeouts struct {
	File       time.Duration
	Archive    time.Duration
	Directory  time.Duration
	Repository time.Duration
	Manifest   time.Duration
}

// DefaultTimeouts returns the per-kind deadlines used when none are configured.
func DefaultTimeouts() Timeouts {
	return Timeouts{
		File:       30 * time.Second,
		Archive:    3 * time.Minute,
		Directory:  10 * time.Minute,
		Repository: 10 * time.Minute,
		Manifest:   2 * time.Minute,
	}
}

// AdvisoriesConfig selects and tunes the advisory index.
type AdvisoriesConfig struct {
	Source       string
	SnapshotPath string
	OSVURL       string
	Concurrency  int
	CallTimeout  time.Duration
	Retries      int
	Backoff      time.Duration
	QPS          float64
	Burst        int
	Watch        bool
	CacheType    string
	CacheDSN     string
	CacheTTL     time.Duration
}

// AIConfig configures the fix-suggestion provider.
type AIConfig struct {
	Provider string
	Model    string
	BaseURL  string
	APIKey   string
	Timeout  time.Duration
	Retries  int
}

// SlackConfig configures HIGH-finding alerts.
type SlackConfig struct {
	Enabled    bool
	Channel    string
	WebhookURL string
	Token      string
}

// FromViper reads the global viper instance into a Config.
func FromViper() Config {
	return Config{
		Scan: ScanConfig{
			MaxFileBytes:  viper.GetInt64("scan.max_file_bytes"),
			MaxTotalBytes: viper.GetInt64("scan.max_total_bytes"),
			MaxFiles:      viper.GetInt("scan.max_files"),
			Workers:       viper.GetInt("scan.workers"),
			Timeouts: Timeouts{
				File:       viper.GetDuration("scan.timeout.file"),
				Archive:    viper.GetDuration("scan.timeout.archive"),
				Directory:  viper.GetDuration("scan.timeout.directory"),
				Repository: viper.GetDuration("scan.timeout.repository"),
				Manifest:   viper.GetDuration("scan.timeout.manifest"),
			},
		},
		Score: score.Policy{
			High:   viper.GetInt("score.weights.high"),
			Medium: viper.GetInt("score.weights.medium"),
			Low:    viper.GetInt("score.weights.low"),
		},
		Placeholders: viper.GetStringSlice("secrets.placeholders"),
		Advisories: AdvisoriesConfig{
			Source:       viper.GetString("advisories.source"),
			SnapshotPath: viper.GetString("advisories.snapshot_path"),
			OSVURL:       viper.GetString("advisories.osv_url"),
			Concurrency:  viper.GetInt("advisories.concurrency"),
			CallTimeout:  viper.GetDuration("advisories.call_timeout"),
			Retries:      viper.GetInt("advisories.retries"),
			Backoff:      viper.GetDuration("advisories.backoff"),
			QPS:          viper.GetFloat64("advisories.qps"),
			Burst:        viper.GetInt("advisories.burst"),
			Watch:        viper.GetBool("advisories.watch"),
			CacheType:    viper.GetString("advisories.cache.type"),
			CacheDSN:     viper.GetString("advisories.cache.dsn"),
			CacheTTL:     viper.GetDuration("advisories.cache.ttl"),
		},
		AllowedHosts: viper.GetStringSlice("repo.allowed_hosts"),
		AI: AIConfig{
			Provider: viper.GetString("ai.provider"),
			Model:    viper.GetString("ai.model"),
			BaseURL:  viper.GetString("ai.base_url"),
			APIKey:   aiAPIKey(viper.GetString("ai.provider")),
			Timeout:  viper.GetDuration("ai.timeout"),
			Retries:  viper.GetInt("ai.retries"),
		},
		Slack: SlackConfig{
			Enabled:    viper.GetBool("notifications.slack.enabled"),
			Channel:    viper.GetString("notifications.slack.channel"),
			WebhookURL: viper.GetString("notifications.slack.webhook_url"),
			Token:      os.Getenv("SLACK_BOT_USER_TOKEN"),
		},
		MetricsPort: viper.GetInt("metrics_port"),
		Verbose:     viper.GetBool("verbose"),
		LogFile:     viper.GetString("log_file"),
	}
}

// aiAPIKey prefers VULNVAULT_AI_API_KEY, then the provider's own variable.
func aiAPIKey(provider string) string {
	if k := viper.GetString("ai.api_key"); k != "" {
		return k
	}
	switch provider {
	case "gemini":
		return os.Getenv("GEMINI_API_KEY")
	case "openai":
		return os.Getenv("OPENAI_API_KEY")
	case "openrouter":
		return os.Getenv("OPENROUTER_API_KEY")
	}
	return ""
}
