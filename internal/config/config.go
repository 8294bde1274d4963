package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Strava   StravaConfig   `yaml:"strava"`
	Database DatabaseConfig `yaml:"database"`
	LLM      LLMConfig      `yaml:"llm"`
	Queue    QueueConfig    `yaml:"queue"`
	Lease    LeaseConfig    `yaml:"lease"`
	Events   EventsConfig   `yaml:"events"`
	Schedule ScheduleConfig `yaml:"schedule"`
	Notify   NotifyConfig   `yaml:"notify"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Log      LogConfig      `yaml:"log"`
}

// StravaConfig holds Strava API credentials
type StravaConfig struct {
	ClientID           string        `yaml:"client_id"`
	ClientSecret       string        `yaml:"client_secret"`
	ImportLimit        int           `yaml:"import_limit"`
	APIURL             string        `yaml:"api_url"`
	MinRequestInterval time.Duration `yaml:"min_request_interval"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// LLMConfig configures the structured-generation service.
type LLMConfig struct {
	APIKey     string        `yaml:"api_key"`
	BaseURL    string        `yaml:"base_url"`
	Model      string        `yaml:"model"`
	Timeout    time.Duration `yaml:"timeout"`
	MaxRetries int           `yaml:"max_retries"`
}

type QueueConfig struct {
	Workers      int           `yaml:"workers"`
	MaxAttempts  int           `yaml:"max_attempts"`
	RetryDelay   time.Duration `yaml:"retry_delay"`
	PollInterval time.Duration `yaml:"poll_interval"`
	StaleAfter   time.Duration `yaml:"stale_after"`
}

// LeaseConfig selects where per-user generation leases live.
type LeaseConfig struct {
	Backend   string        `yaml:"backend"` // "sqlite" or "redis"
	RedisAddr string        `yaml:"redis_addr"`
	TTL       time.Duration `yaml:"ttl"`
}

// EventsConfig selects the activity change event transport.
type EventsConfig struct {
	Transport string   `yaml:"transport"` // "local" or "kafka"
	Brokers   []string `yaml:"brokers"`
	Topic     string   `yaml:"topic"`
	GroupID   string   `yaml:"group_id"`
	// RelayInterval is how often serve retries undelivered change events.
	RelayInterval time.Duration `yaml:"relay_interval"`
}

// ScheduleConfig holds cron expressions for recurring work.
type ScheduleConfig struct {
	Import     string `yaml:"import"`
	DailyPlans string `yaml:"daily_plans"`
	Timezone   string `yaml:"timezone"`
}

type NotifyConfig struct {
	Backend       string `yaml:"backend"` // "log" or "telegram"
	TelegramToken string `yaml:"telegram_token"`
}

type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

type LogConfig struct {
	Mode string `yaml:"mode"`
}

// ErrNoConfig is returned when the config file doesn't exist
var ErrNoConfig = errors.New("config file not found")

// DefaultConfig returns the default configuration
func DefaultConfig() Config {
	return Config{
		Strava: StravaConfig{
			ImportLimit:        30,
			APIURL:             "https://www.strava.com/api/v3",
			MinRequestInterval: 150 * time.Millisecond,
		},
		LLM: LLMConfig{
			BaseURL:    "https://api.openai.com",
			Model:      "gpt-4o",
			Timeout:    120 * time.Second,
			MaxRetries: 3,
		},
		Queue: QueueConfig{
			Workers:      4,
			MaxAttempts:  5,
			RetryDelay:   30 * time.Second,
			PollInterval: time.Second,
			StaleAfter:   30 * time.Minute,
		},
		Lease: LeaseConfig{
			Backend: "sqlite",
			TTL:     time.Hour,
		},
		Events: EventsConfig{
			Transport:     "local",
			Topic:         "activity-changes",
			GroupID:       "lararun-dispatcher",
			RelayInterval: 10 * time.Second,
		},
		Schedule: ScheduleConfig{
			Import:     "0 * * * *",
			DailyPlans: "0 5 * * *",
			Timezone:   "UTC",
		},
		Notify: NotifyConfig{
			Backend: "log",
		},
		Metrics: MetricsConfig{
			Addr: ":9090",
		},
		Log: LogConfig{
			Mode: "dev",
		},
	}
}

// Load reads the configuration file and applies environment overrides.
// The file lives at $LARARUN_CONFIG or ~/.lararun/config.yaml.
func Load() (*Config, error) {
	path, err := getConfigPath()
	if err != nil {
		return nil, err
	}
	return LoadFile(path)
}

// LoadFile reads the configuration from path.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, ErrNoConfig
	}
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnv(&cfg)
	applyDefaults(&cfg)
	return &cfg, nil
}

// applyDefaults fills values an explicit zero in the file left empty.
func applyDefaults(cfg *Config) {
	defaults := DefaultConfig()
	if cfg.Strava.ImportLimit <= 0 {
		cfg.Strava.ImportLimit = defaults.Strava.ImportLimit
	}
	if cfg.Strava.APIURL == "" {
		cfg.Strava.APIURL = defaults.Strava.APIURL
	}
	if cfg.Strava.MinRequestInterval <= 0 {
		cfg.Strava.MinRequestInterval = defaults.Strava.MinRequestInterval
	}
	if cfg.Database.Path == "" {
		if dir, err := GetConfigDir(); err == nil {
			cfg.Database.Path = filepath.Join(dir, "lararun.db")
		}
	}
	if cfg.LLM.Model == "" {
		cfg.LLM.Model = defaults.LLM.Model
	}
	if cfg.LLM.BaseURL == "" {
		cfg.LLM.BaseURL = defaults.LLM.BaseURL
	}
	if cfg.LLM.Timeout <= 0 {
		cfg.LLM.Timeout = defaults.LLM.Timeout
	}
	if cfg.Queue.Workers <= 0 {
		cfg.Queue.Workers = defaults.Queue.Workers
	}
	if cfg.Queue.MaxAttempts <= 0 {
		cfg.Queue.MaxAttempts = defaults.Queue.MaxAttempts
	}
	if cfg.Queue.RetryDelay <= 0 {
		cfg.Queue.RetryDelay = defaults.Queue.RetryDelay
	}
	if cfg.Queue.PollInterval <= 0 {
		cfg.Queue.PollInterval = defaults.Queue.PollInterval
	}
	if cfg.Queue.StaleAfter <= 0 {
		cfg.Queue.StaleAfter = defaults.Queue.StaleAfter
	}
	if cfg.Lease.Backend == "" {
		cfg.Lease.Backend = defaults.Lease.Backend
	}
	if cfg.Lease.TTL <= 0 {
		cfg.Lease.TTL = defaults.Lease.TTL
	}
	if cfg.Events.Transport == "" {
		cfg.Events.Transport = defaults.Events.Transport
	}
	if cfg.Events.Topic == "" {
		cfg.Events.Topic = defaults.Events.Topic
	}
	if cfg.Events.GroupID == "" {
		cfg.Events.GroupID = defaults.Events.GroupID
	}
	if cfg.Events.RelayInterval <= 0 {
		cfg.Events.RelayInterval = defaults.Events.RelayInterval
	}
	if cfg.Schedule.Import == "" {
		cfg.Schedule.Import = defaults.Schedule.Import
	}
	if cfg.Schedule.DailyPlans == "" {
		cfg.Schedule.DailyPlans = defaults.Schedule.DailyPlans
	}
	if cfg.Schedule.Timezone == "" {
		cfg.Schedule.Timezone = defaults.Schedule.Timezone
	}
	if cfg.Notify.Backend == "" {
		cfg.Notify.Backend = defaults.Notify.Backend
	}
	if cfg.Log.Mode == "" {
		cfg.Log.Mode = defaults.Log.Mode
	}
}

// applyEnv overrides file values with environment variables when set.
func applyEnv(cfg *Config) {
	cfg.Strava.ClientID = getEnv("STRAVA_CLIENT_ID", cfg.Strava.ClientID)
	cfg.Strava.ClientSecret = getEnv("STRAVA_CLIENT_SECRET", cfg.Strava.ClientSecret)
	cfg.Database.Path = getEnv("LARARUN_DB_PATH", cfg.Database.Path)
	cfg.LLM.APIKey = getEnv("OPENAI_API_KEY", cfg.LLM.APIKey)
	cfg.LLM.BaseURL = getEnv("OPENAI_BASE_URL", cfg.LLM.BaseURL)
	cfg.LLM.Model = getEnv("OPENAI_MODEL", cfg.LLM.Model)
	cfg.Queue.Workers = getIntEnv("WORKER_CONCURRENCY", cfg.Queue.Workers)
	cfg.Lease.RedisAddr = getEnv("REDIS_ADDR", cfg.Lease.RedisAddr)
	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.Events.Brokers = splitAndTrim(brokers)
	}
	cfg.Notify.TelegramToken = getEnv("TELEGRAM_TOKEN", cfg.Notify.TelegramToken)
	cfg.Log.Mode = getEnv("LARARUN_LOG_MODE", cfg.Log.Mode)
}

// Save writes the configuration to the config path.
func Save(cfg *Config) error {
	path, err := getConfigPath()
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	return nil
}

// CreateExample creates an example config file if none exists
func CreateExample() error {
	path, err := getConfigPath()
	if err != nil {
		return err
	}

	if _, err := os.Stat(path); err == nil {
		return nil // Config exists, don't overwrite
	}

	example := DefaultConfig()
	example.Strava.ClientID = "YOUR_CLIENT_ID"
	example.Strava.ClientSecret = "YOUR_CLIENT_SECRET"
	example.LLM.APIKey = "YOUR_OPENAI_API_KEY"

	return Save(&example)
}

// Validate checks if the config has required fields
func (c *Config) Validate() error {
	if c.Strava.ClientID == "" || c.Strava.ClientID == "YOUR_CLIENT_ID" {
		return errors.New("strava.client_id is required - get it from https://www.strava.com/settings/api")
	}
	if c.Strava.ClientSecret == "" || c.Strava.ClientSecret == "YOUR_CLIENT_SECRET" {
		return errors.New("strava.client_secret is required - get it from https://www.strava.com/settings/api")
	}
	if c.LLM.APIKey == "" || c.LLM.APIKey == "YOUR_OPENAI_API_KEY" {
		return errors.New("llm.api_key is required (or set OPENAI_API_KEY)")
	}

	switch c.Lease.Backend {
	case "sqlite", "":
	case "redis":
		if c.Lease.RedisAddr == "" {
			return errors.New("lease.redis_addr is required when lease.backend is \"redis\"")
		}
	default:
		return fmt.Errorf("lease.backend must be \"sqlite\" or \"redis\", got %q", c.Lease.Backend)
	}

	switch c.Events.Transport {
	case "local", "":
	case "kafka":
		if len(c.Events.Brokers) == 0 {
			return errors.New("events.brokers is required when events.transport is \"kafka\"")
		}
	default:
		return fmt.Errorf("events.transport must be \"local\" or \"kafka\", got %q", c.Events.Transport)
	}

	switch c.Notify.Backend {
	case "log", "":
	case "telegram":
		if c.Notify.TelegramToken == "" {
			return errors.New("notify.telegram_token is required when notify.backend is \"telegram\"")
		}
	default:
		return fmt.Errorf("notify.backend must be \"log\" or \"telegram\", got %q", c.Notify.Backend)
	}

	if c.Schedule.Timezone != "" {
		if _, err := time.LoadLocation(c.Schedule.Timezone); err != nil {
			return fmt.Errorf("schedule.timezone %q: %w", c.Schedule.Timezone, err)
		}
	}

	return nil
}

// Location returns the configured scheduling timezone, falling back to UTC.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Schedule.Timezone)
	if err != nil || c.Schedule.Timezone == "" {
		return time.UTC
	}
	return loc
}

// getConfigPath returns the path to the config file
func getConfigPath() (string, error) {
	if p := os.Getenv("LARARUN_CONFIG"); p != "" {
		return p, nil
	}
	dir, err := GetConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

// GetConfigDir returns the path to the config directory
func GetConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("getting home directory: %w", err)
	}
	return filepath.Join(home, ".lararun"), nil
}

// GetConfigPath returns the config file path used by Load.
func GetConfigPath() (string, error) {
	return getConfigPath()
}

func getEnv(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func getIntEnv(key string, fallback int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return i
}

func splitAndTrim(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
