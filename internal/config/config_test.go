package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() Config {
	cfg := DefaultConfig()
	cfg.Strava.ClientID = "12345"
	cfg.Strava.ClientSecret = "abc123secret"
	cfg.LLM.APIKey = "sk-test"
	return cfg
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, 30, cfg.Strava.ImportLimit)
	assert.Equal(t, time.Hour, cfg.Lease.TTL)
	assert.Equal(t, "sqlite", cfg.Lease.Backend)
	assert.Equal(t, "local", cfg.Events.Transport)
	assert.Equal(t, "0 * * * *", cfg.Schedule.Import)
	assert.Equal(t, 5, cfg.Queue.MaxAttempts)
	assert.Empty(t, cfg.Strava.ClientID)
	assert.Empty(t, cfg.LLM.APIKey)
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name        string
		mutate      func(*Config)
		errContains string
	}{
		{name: "valid config"},
		{
			name:        "empty client ID",
			mutate:      func(c *Config) { c.Strava.ClientID = "" },
			errContains: "client_id",
		},
		{
			name:        "placeholder client secret",
			mutate:      func(c *Config) { c.Strava.ClientSecret = "YOUR_CLIENT_SECRET" },
			errContains: "client_secret",
		},
		{
			name:        "missing api key",
			mutate:      func(c *Config) { c.LLM.APIKey = "" },
			errContains: "llm.api_key",
		},
		{
			name:        "redis lease without address",
			mutate:      func(c *Config) { c.Lease.Backend = "redis" },
			errContains: "lease.redis_addr",
		},
		{
			name:        "unknown lease backend",
			mutate:      func(c *Config) { c.Lease.Backend = "etcd" },
			errContains: "lease.backend",
		},
		{
			name:        "kafka without brokers",
			mutate:      func(c *Config) { c.Events.Transport = "kafka" },
			errContains: "events.brokers",
		},
		{
			name:        "telegram without token",
			mutate:      func(c *Config) { c.Notify.Backend = "telegram" },
			errContains: "telegram_token",
		},
		{
			name:        "bad timezone",
			mutate:      func(c *Config) { c.Schedule.Timezone = "Mars/Olympus" },
			errContains: "schedule.timezone",
		},
		{
			name: "kafka with brokers",
			mutate: func(c *Config) {
				c.Events.Transport = "kafka"
				c.Events.Brokers = []string{"localhost:9092"}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			if tt.mutate != nil {
				tt.mutate(&cfg)
			}
			err := cfg.Validate()
			if tt.errContains == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errContains)
		})
	}
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yml := `
strava:
  client_id: "file-id"
  client_secret: "file-secret"
llm:
  api_key: "file-key"
  model: "gpt-4o-mini"
queue:
  workers: 2
  retry_delay: 10s
schedule:
  timezone: "Europe/Amsterdam"
`
	require.NoError(t, os.WriteFile(path, []byte(yml), 0600))

	t.Setenv("STRAVA_CLIENT_ID", "env-id")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092")
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("OPENAI_MODEL", "")
	t.Setenv("WORKER_CONCURRENCY", "")

	cfg, err := LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, "env-id", cfg.Strava.ClientID)
	assert.Equal(t, "file-secret", cfg.Strava.ClientSecret)
	assert.Equal(t, "file-key", cfg.LLM.APIKey)
	assert.Equal(t, "gpt-4o-mini", cfg.LLM.Model)
	assert.Equal(t, 2, cfg.Queue.Workers)
	assert.Equal(t, 10*time.Second, cfg.Queue.RetryDelay)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Events.Brokers)
	assert.Equal(t, 30, cfg.Strava.ImportLimit)
	assert.Equal(t, "https://www.strava.com/api/v3", cfg.Strava.APIURL)
	assert.Equal(t, 150*time.Millisecond, cfg.Strava.MinRequestInterval)
	assert.Equal(t, 10*time.Second, cfg.Events.RelayInterval)
	assert.Equal(t, "Europe/Amsterdam", cfg.Schedule.Timezone)
}

func TestLoadFileMissing(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.ErrorIs(t, err, ErrNoConfig)
}
