package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	path := writeConfig(t, "sec:\n  user_agent: \"whaleinsight ops@example.com\"\n")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "whaleinsight", cfg.App.Name)
	assert.Equal(t, "https://data.sec.gov", cfg.SEC.BaseURL)
	assert.Equal(t, 8, cfg.SEC.RateLimit)
	assert.Equal(t, time.Second, cfg.SEC.RatePer)
	assert.Equal(t, 2, cfg.SEC.Retry.MaxRetries)
	assert.Equal(t, 200*time.Millisecond, cfg.SEC.Retry.BaseDelay)
	assert.Equal(t, 92, cfg.Enrichment.WindowDays)
	assert.Equal(t, 5, cfg.Enrichment.StaleThresholdDays)
	assert.Equal(t, 20, cfg.Ingest.PriorityPercentile)
	assert.Equal(t, 2, cfg.Ingest.FilingsPerInstitution)
	assert.Equal(t, []string{"13F-HR", "13F-HR/A"}, cfg.Feed.Forms)
	assert.Equal(t, 6*time.Hour, cfg.Scheduler.Interval)
	assert.Empty(t, cfg.Database.DSN)
}

func TestLoadEnvironmentOverrides(t *testing.T) {
	path := writeConfig(t, "sec:\n  user_agent: \"from file\"\n")
	t.Setenv("WHALEINSIGHT_SEC_USER_AGENT", "from env ops@example.com")
	t.Setenv("WHALEINSIGHT_INGEST_PRIORITY_OVERRIDES", "0001067983,0000102909")
	t.Setenv("WHALEINSIGHT_SCHEDULER_INTERVAL", "15m")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "from env ops@example.com", cfg.SEC.UserAgent)
	assert.Equal(t, []string{"0001067983", "0000102909"}, cfg.Ingest.PriorityOverrides)
	assert.Equal(t, 15*time.Minute, cfg.Scheduler.Interval)

	opts := cfg.SECOptions()
	assert.Equal(t, "from env ops@example.com", opts.UserAgent)
	assert.Equal(t, cfg.SEC.Retry, opts.Retry)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		path := writeConfig(t, "sec:\n  user_agent: \"ua\"\n")
		cfg, err := Load(path)
		require.NoError(t, err)
		return cfg
	}

	cases := map[string]func(c *Config){
		"missing user agent":  func(c *Config) { c.SEC.UserAgent = " " },
		"percentile too high": func(c *Config) { c.Ingest.PriorityPercentile = 101 },
		"percentile zero":     func(c *Config) { c.Ingest.PriorityPercentile = 0 },
		"negative threshold":  func(c *Config) { c.Enrichment.StaleThresholdDays = -1 },
		"zero window":         func(c *Config) { c.Enrichment.WindowDays = 0 },
		"zero sec rate":       func(c *Config) { c.SEC.RateLimit = 0 },
		"telegram no token":   func(c *Config) { c.Alerting.Telegram.Enabled = true; c.Alerting.Telegram.ChatID = "1" },
		"no schedule":         func(c *Config) { c.Scheduler.Interval = 0 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := valid()
			mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}

	cfg := valid()
	cfg.Scheduler.Interval = 0
	cfg.Scheduler.Cron = "@daily"
	assert.NoError(t, cfg.Validate())
}

func TestResolveMaxRows(t *testing.T) {
	cfg := &Config{Export: ExportConfig{MaxRows: 10}}
	assert.Equal(t, 10, cfg.ResolveMaxRows(0))
	assert.Equal(t, 3, cfg.ResolveMaxRows(3))
}
