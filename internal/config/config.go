package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"whaleinsight/internal/fetcher"
	"whaleinsight/internal/logging"
)

// EnvPrefix namespaces environment overrides, e.g. WHALEINSIGHT_SEC_USER_AGENT.
const EnvPrefix = "WHALEINSIGHT"

// Config materialises application configuration.
type Config struct {
	App        AppConfig        `mapstructure:"app"`
	Logging    logging.Config   `mapstructure:"logging"`
	Database   DatabaseConfig   `mapstructure:"database"`
	SEC        SECConfig        `mapstructure:"sec"`
	Yahoo      YahooConfig      `mapstructure:"yahoo"`
	Feed       FeedConfig       `mapstructure:"feed"`
	Enrichment EnrichmentConfig `mapstructure:"enrichment"`
	Ingest     IngestConfig     `mapstructure:"ingest"`
	Scheduler  SchedulerConfig  `mapstructure:"scheduler"`
	Alerting   AlertingConfig   `mapstructure:"alerting"`
	Export     ExportConfig     `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity. An empty DSN selects the in-memory store.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	MigrateOnStart  bool          `mapstructure:"migrate_on_start"`
}

// SECConfig covers EDGAR access.
type SECConfig struct {
	BaseURL        string              `mapstructure:"base_url"`
	ArchiveBaseURL string              `mapstructure:"archive_base_url"`
	UserAgent      string              `mapstructure:"user_agent"`
	RequestTimeout time.Duration       `mapstructure:"request_timeout"`
	RateLimit      int                 `mapstructure:"rate_limit"`
	RatePer        time.Duration       `mapstructure:"rate_per"`
	Retry          fetcher.RetryPolicy `mapstructure:"retry"`
}

// YahooConfig covers the daily chart provider.
type YahooConfig struct {
	BaseURL        string              `mapstructure:"base_url"`
	UserAgent      string              `mapstructure:"user_agent"`
	RequestTimeout time.Duration       `mapstructure:"request_timeout"`
	RateLimit      int                 `mapstructure:"rate_limit"`
	RatePer        time.Duration       `mapstructure:"rate_per"`
	Retry          fetcher.RetryPolicy `mapstructure:"retry"`
}

// FeedConfig covers discovery through the current-filings Atom feed.
type FeedConfig struct {
	Enabled bool     `mapstructure:"enabled"`
	URL     string   `mapstructure:"url"`
	Forms   []string `mapstructure:"forms"`
	Count   int      `mapstructure:"count"`
}

// EnrichmentConfig tunes cost-basis and gap derivation.
type EnrichmentConfig struct {
	WindowDays         int    `mapstructure:"window_days"`
	StaleThresholdDays int    `mapstructure:"stale_threshold_days"`
	HistoryRange       string `mapstructure:"history_range"`
	CalcVersion        string `mapstructure:"calc_version"`
	Concurrency        int    `mapstructure:"concurrency"`
}

// IngestConfig tunes filing and universe ingestion.
type IngestConfig struct {
	TransformVersion      string   `mapstructure:"transform_version"`
	FilingsPerInstitution int      `mapstructure:"filings_per_institution"`
	Workers               int      `mapstructure:"workers"`
	PriorityPercentile    int      `mapstructure:"priority_percentile"`
	PriorityOverrides     []string `mapstructure:"priority_overrides"`
}

// SchedulerConfig governs the watch cadence. Cron, when set, replaces the fixed interval.
type SchedulerConfig struct {
	Interval        time.Duration `mapstructure:"interval"`
	Cron            string        `mapstructure:"cron"`
	AlignToBucket   bool          `mapstructure:"align_to_bucket"`
	AdvisoryLockKey int64         `mapstructure:"advisory_lock_key"`
	StartupDelay    time.Duration `mapstructure:"startup_delay"`
}

// AlertingConfig defines operator notifications.
type AlertingConfig struct {
	Enabled        bool           `mapstructure:"enabled"`
	NotifyFailures bool           `mapstructure:"notify_failures"`
	NotifyStale    bool           `mapstructure:"notify_stale"`
	Telegram       TelegramConfig `mapstructure:"telegram"`
}

// TelegramConfig 描述 Telegram 告警参数。
type TelegramConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	BotToken string        `mapstructure:"bot_token"`
	ChatID   string        `mapstructure:"chat_id"`
	APIBase  string        `mapstructure:"api_base"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxRows int `mapstructure:"max_rows"`
}

// Load builds configuration from file, .env, environment, and defaults.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "whaleinsight")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("database.dsn", "")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 2)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.migrate_on_start", true)

	sec := fetcher.DefaultSECOptions()
	v.SetDefault("sec.base_url", sec.BaseURL)
	v.SetDefault("sec.archive_base_url", sec.ArchiveBaseURL)
	v.SetDefault("sec.user_agent", "")
	v.SetDefault("sec.request_timeout", sec.Timeout.String())
	v.SetDefault("sec.rate_limit", sec.RateLimit)
	v.SetDefault("sec.rate_per", sec.RatePer.String())
	setRetryDefaults(v, "sec.retry", sec.Retry)

	yahoo := fetcher.DefaultYahooOptions()
	v.SetDefault("yahoo.base_url", yahoo.BaseURL)
	v.SetDefault("yahoo.user_agent", "Mozilla/5.0 (compatible; whaleinsight/1.0)")
	v.SetDefault("yahoo.request_timeout", yahoo.Timeout.String())
	v.SetDefault("yahoo.rate_limit", yahoo.RateLimit)
	v.SetDefault("yahoo.rate_per", yahoo.RatePer.String())
	setRetryDefaults(v, "yahoo.retry", yahoo.Retry)

	v.SetDefault("feed.enabled", false)
	v.SetDefault("feed.url", "https://www.sec.gov/cgi-bin/browse-edgar?action=getcurrent&type=13F&owner=include&output=atom")
	v.SetDefault("feed.forms", []string{"13F-HR", "13F-HR/A"})
	v.SetDefault("feed.count", 100)

	v.SetDefault("enrichment.window_days", 92)
	v.SetDefault("enrichment.stale_threshold_days", 5)
	v.SetDefault("enrichment.history_range", "1y")
	v.SetDefault("enrichment.calc_version", "vwap-quarter-v1")
	v.SetDefault("enrichment.concurrency", 4)

	v.SetDefault("ingest.transform_version", "holdings-normalize-v1")
	v.SetDefault("ingest.filings_per_institution", 2)
	v.SetDefault("ingest.workers", 4)
	v.SetDefault("ingest.priority_percentile", 20)
	v.SetDefault("ingest.priority_overrides", []string{})

	v.SetDefault("scheduler.interval", "6h")
	v.SetDefault("scheduler.cron", "")
	v.SetDefault("scheduler.align_to_bucket", true)
	v.SetDefault("scheduler.advisory_lock_key", int64(0x13f13f))
	v.SetDefault("scheduler.startup_delay", "0s")

	v.SetDefault("alerting.enabled", false)
	v.SetDefault("alerting.notify_failures", true)
	v.SetDefault("alerting.notify_stale", false)
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.bot_token", "")
	v.SetDefault("alerting.telegram.chat_id", "")
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")
	v.SetDefault("alerting.telegram.timeout", "10s")

	v.SetDefault("export.max_rows", 500)
}

func setRetryDefaults(v *viper.Viper, prefix string, policy fetcher.RetryPolicy) {
	v.SetDefault(prefix+".max_retries", policy.MaxRetries)
	v.SetDefault(prefix+".base_delay", policy.BaseDelay.String())
	v.SetDefault(prefix+".max_delay", policy.MaxDelay.String())
	v.SetDefault(prefix+".jitter", policy.Jitter.String())
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.SEC.UserAgent) == "" {
		return fmt.Errorf("sec.user_agent must be set (EDGAR rejects anonymous clients)")
	}
	if c.SEC.RateLimit <= 0 || c.SEC.RatePer <= 0 {
		return fmt.Errorf("sec.rate_limit and sec.rate_per must be greater than zero")
	}
	if c.Yahoo.RateLimit <= 0 || c.Yahoo.RatePer <= 0 {
		return fmt.Errorf("yahoo.rate_limit and yahoo.rate_per must be greater than zero")
	}
	if c.SEC.Retry.MaxRetries < 0 || c.Yahoo.Retry.MaxRetries < 0 {
		return fmt.Errorf("retry.max_retries cannot be negative")
	}
	if c.Enrichment.WindowDays <= 0 {
		return fmt.Errorf("enrichment.window_days must be greater than zero")
	}
	if c.Enrichment.StaleThresholdDays < 0 {
		return fmt.Errorf("enrichment.stale_threshold_days cannot be negative")
	}
	if c.Ingest.PriorityPercentile < 1 || c.Ingest.PriorityPercentile > 100 {
		return fmt.Errorf("ingest.priority_percentile must be between 1 and 100")
	}
	if c.Ingest.FilingsPerInstitution < 1 {
		return fmt.Errorf("ingest.filings_per_institution must be at least 1")
	}
	if c.Ingest.Workers < 1 {
		return fmt.Errorf("ingest.workers must be at least 1")
	}
	if c.Scheduler.Cron == "" && c.Scheduler.Interval <= 0 {
		return fmt.Errorf("scheduler.interval must be greater than zero")
	}
	if c.Export.MaxRows <= 0 {
		return fmt.Errorf("export.max_rows must be greater than zero")
	}
	if c.Alerting.Telegram.Enabled {
		if c.Alerting.Telegram.BotToken == "" {
			return fmt.Errorf("alerting.telegram.bot_token 必须配置")
		}
		if c.Alerting.Telegram.ChatID == "" {
			return fmt.Errorf("alerting.telegram.chat_id 必须配置")
		}
	}
	return nil
}

// ResolveMaxRows returns either the CLI override or config default.
func (c *Config) ResolveMaxRows(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxRows
}

// SECOptions maps the sec section onto client options.
func (c *Config) SECOptions() fetcher.SECOptions {
	return fetcher.SECOptions{
		BaseURL:        c.SEC.BaseURL,
		ArchiveBaseURL: c.SEC.ArchiveBaseURL,
		UserAgent:      c.SEC.UserAgent,
		Timeout:        c.SEC.RequestTimeout,
		Retry:          c.SEC.Retry,
		RateLimit:      c.SEC.RateLimit,
		RatePer:        c.SEC.RatePer,
	}
}

// YahooOptions maps the yahoo section onto client options.
func (c *Config) YahooOptions() fetcher.YahooOptions {
	return fetcher.YahooOptions{
		BaseURL:   c.Yahoo.BaseURL,
		UserAgent: c.Yahoo.UserAgent,
		Timeout:   c.Yahoo.RequestTimeout,
		Retry:     c.Yahoo.Retry,
		RateLimit: c.Yahoo.RateLimit,
		RatePer:   c.Yahoo.RatePer,
	}
}
