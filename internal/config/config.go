package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/rewired-gh/firewatch/internal/risk"
)

// Config represents the complete application configuration
type Config struct {
	Feed     FeedConfig     `mapstructure:"feed"`
	Risk     RiskConfig     `mapstructure:"risk"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Source   SourceConfig   `mapstructure:"source"`
	Supabase SupabaseConfig `mapstructure:"supabase"`
	Postgres PostgresConfig `mapstructure:"postgres"`
	MQTT     MQTTConfig     `mapstructure:"mqtt"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	Telegram TelegramConfig `mapstructure:"telegram"`
	Monitor  MonitorConfig  `mapstructure:"monitor"`
	HTTP     HTTPConfig     `mapstructure:"http"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// Feed modes.
const (
	ModeDemo = "demo"
	ModeLive = "live"
)

// Report source kinds.
const (
	SourceSQLite   = "sqlite"
	SourcePostgres = "postgres"
	SourceSupabase = "supabase"
)

// FeedConfig holds the live state owner configuration
type FeedConfig struct {
	Mode         string        `mapstructure:"mode"`
	Interval     time.Duration `mapstructure:"interval"`
	HistorySize  int           `mapstructure:"history_size"`
	SeriesPoints int           `mapstructure:"series_points"`
	// PollSupabase makes live mode poll the latest Supabase row on each tick.
	PollSupabase bool `mapstructure:"poll_supabase"`
}

// RiskConfig holds classifier configuration
type RiskConfig struct {
	Profile          string           `mapstructure:"profile"`
	MissingAsWarning bool             `mapstructure:"missing_as_warning"`
	Thresholds       *risk.Thresholds `mapstructure:"thresholds"`
}

// StorageConfig holds local persistence configuration
type StorageConfig struct {
	DBPath      string `mapstructure:"db_path"`
	MaxReadings int    `mapstructure:"max_readings"`
	MaxAlerts   int    `mapstructure:"max_alerts"`
}

// SourceConfig selects where reports read history from
type SourceConfig struct {
	Kind string `mapstructure:"kind"`
}

// SupabaseConfig holds hosted table API configuration
type SupabaseConfig struct {
	URL            string        `mapstructure:"url"`
	APIKey         string        `mapstructure:"api_key"`
	Timeout        time.Duration `mapstructure:"timeout"`
	MaxRetries     int           `mapstructure:"max_retries"`
	RetryDelayBase time.Duration `mapstructure:"retry_delay_base"`
}

// PostgresConfig holds direct database configuration
type PostgresConfig struct {
	DSN      string `mapstructure:"dsn"`
	MaxConns int    `mapstructure:"max_conns"`
	MaxIdle  int    `mapstructure:"max_idle"`
}

// MQTTConfig holds NodeMCU ingest configuration
type MQTTConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Broker   string `mapstructure:"broker"`
	ClientID string `mapstructure:"client_id"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	Topic    string `mapstructure:"topic"`
	QoS      byte   `mapstructure:"qos"`
}

// RedisConfig holds latest-state cache configuration
type RedisConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	Key      string        `mapstructure:"key"`
	TTL      time.Duration `mapstructure:"ttl"`
}

// KafkaConfig holds classified reading stream configuration
type KafkaConfig struct {
	Enabled bool     `mapstructure:"enabled"`
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

// TelegramConfig holds Telegram notification configuration
type TelegramConfig struct {
	BotToken       string        `mapstructure:"bot_token"`
	ChatID         string        `mapstructure:"chat_id"`
	Enabled        bool          `mapstructure:"enabled"`
	MaxRetries     int           `mapstructure:"max_retries"`
	RetryDelayBase time.Duration `mapstructure:"retry_delay_base"`
}

// MonitorConfig holds alerting behavior configuration
type MonitorConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Cooldown time.Duration `mapstructure:"cooldown"`
}

// HTTPConfig holds API server configuration
type HTTPConfig struct {
	Addr            string        `mapstructure:"addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	AccessLog       bool          `mapstructure:"access_log"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads configuration from file and environment variables. An empty
// path loads defaults and environment only.
func Load(path string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	// Enable environment variable override
	v.SetEnvPrefix("FIREWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// An unset profile follows the feed mode.
	if cfg.Risk.Profile == "" {
		cfg.Risk.Profile = profileForMode(cfg.Feed.Mode)
	}

	return &cfg, nil
}

// setDefaults configures default values for all configuration options
func setDefaults(v *viper.Viper) {
	// Feed defaults
	v.SetDefault("feed.mode", ModeDemo)
	v.SetDefault("feed.interval", "3s")
	v.SetDefault("feed.history_size", 20)
	v.SetDefault("feed.series_points", 24)
	v.SetDefault("feed.poll_supabase", false)

	// Risk defaults; an empty profile is resolved from feed.mode
	v.SetDefault("risk.profile", "")
	v.SetDefault("risk.missing_as_warning", true)

	// Storage defaults
	v.SetDefault("storage.db_path", "./data/firewatch.db")
	v.SetDefault("storage.max_readings", 100000)
	v.SetDefault("storage.max_alerts", 10000)

	v.SetDefault("source.kind", SourceSQLite)

	// Supabase defaults
	v.SetDefault("supabase.timeout", "15s")
	v.SetDefault("supabase.max_retries", 3)
	v.SetDefault("supabase.retry_delay_base", "1s")

	// Postgres defaults
	v.SetDefault("postgres.max_conns", 10)
	v.SetDefault("postgres.max_idle", 2)

	// MQTT defaults
	v.SetDefault("mqtt.enabled", false)
	v.SetDefault("mqtt.broker", "tcp://localhost:1883")
	v.SetDefault("mqtt.client_id", "firewatch")
	v.SetDefault("mqtt.topic", "firewatch/+/readings")
	v.SetDefault("mqtt.qos", 1)

	// Redis defaults
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.key", "firewatch:latest")
	v.SetDefault("redis.ttl", "1m")

	// Kafka defaults
	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.topic", "firewatch.readings")

	// Telegram defaults
	v.SetDefault("telegram.enabled", false)
	v.SetDefault("telegram.max_retries", 3)
	v.SetDefault("telegram.retry_delay_base", "1s")

	// Monitor defaults
	v.SetDefault("monitor.enabled", true)
	v.SetDefault("monitor.cooldown", "10m")

	// HTTP defaults
	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.read_timeout", "10s")
	v.SetDefault("http.write_timeout", "30s")
	v.SetDefault("http.shutdown_timeout", "5s")
	v.SetDefault("http.access_log", true)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

func profileForMode(mode string) string {
	if mode == ModeDemo {
		return risk.ProfileDemo
	}
	return risk.ProfileLive
}

// Thresholds resolves the classifier limits: explicit thresholds win over the
// named profile.
func (c *Config) Thresholds() (risk.Thresholds, error) {
	if c.Risk.Thresholds != nil {
		return *c.Risk.Thresholds, nil
	}
	return risk.ProfileThresholds(c.Risk.Profile)
}

// Classifier builds the configured classifier.
func (c *Config) Classifier() (*risk.Classifier, error) {
	th, err := c.Thresholds()
	if err != nil {
		return nil, err
	}
	return risk.New(th, risk.Options{MissingAsWarning: c.Risk.MissingAsWarning}), nil
}

// Validate checks that all configuration values are valid
func (c *Config) Validate() error {
	// Validate Feed config
	if c.Feed.Mode != ModeDemo && c.Feed.Mode != ModeLive {
		return fmt.Errorf("feed.mode must be one of: %s, %s", ModeDemo, ModeLive)
	}
	if c.Feed.Interval < 100*time.Millisecond {
		return fmt.Errorf("feed.interval must be at least 100ms")
	}
	if c.Feed.HistorySize < 1 {
		return fmt.Errorf("feed.history_size must be at least 1")
	}
	if c.Feed.SeriesPoints < 1 {
		return fmt.Errorf("feed.series_points must be at least 1")
	}
	if c.Feed.PollSupabase && c.Supabase.URL == "" {
		return fmt.Errorf("supabase.url is required when feed.poll_supabase is enabled")
	}

	// Validate Risk config
	th, err := c.Thresholds()
	if err != nil {
		return fmt.Errorf("risk.profile: %w", err)
	}
	if err := th.Validate(); err != nil {
		return fmt.Errorf("risk.thresholds: %w", err)
	}

	// Validate Storage config
	if c.Storage.DBPath == "" {
		return fmt.Errorf("storage.db_path is required")
	}
	if c.Storage.MaxReadings < 100 {
		return fmt.Errorf("storage.max_readings must be at least 100")
	}
	if c.Storage.MaxAlerts < 10 {
		return fmt.Errorf("storage.max_alerts must be at least 10")
	}

	// Validate Source config
	switch c.Source.Kind {
	case SourceSQLite:
	case SourcePostgres:
		if c.Postgres.DSN == "" {
			return fmt.Errorf("postgres.dsn is required when source.kind is postgres")
		}
	case SourceSupabase:
		if c.Supabase.URL == "" || c.Supabase.APIKey == "" {
			return fmt.Errorf("supabase.url and supabase.api_key are required when source.kind is supabase")
		}
	default:
		return fmt.Errorf("source.kind must be one of: %s, %s, %s", SourceSQLite, SourcePostgres, SourceSupabase)
	}

	// Validate MQTT config
	if c.MQTT.Enabled {
		if c.MQTT.Broker == "" {
			return fmt.Errorf("mqtt.broker is required when mqtt is enabled")
		}
		if c.MQTT.Topic == "" {
			return fmt.Errorf("mqtt.topic is required when mqtt is enabled")
		}
		if c.MQTT.QoS > 2 {
			return fmt.Errorf("mqtt.qos must be 0, 1 or 2")
		}
	}

	if c.Redis.Enabled && c.Redis.Addr == "" {
		return fmt.Errorf("redis.addr is required when redis is enabled")
	}
	if c.Kafka.Enabled && (len(c.Kafka.Brokers) == 0 || c.Kafka.Topic == "") {
		return fmt.Errorf("kafka.brokers and kafka.topic are required when kafka is enabled")
	}

	// Validate Telegram config
	if c.Telegram.Enabled {
		if c.Telegram.BotToken == "" {
			return fmt.Errorf("telegram.bot_token is required when telegram is enabled")
		}
		if c.Telegram.ChatID == "" {
			return fmt.Errorf("telegram.chat_id is required when telegram is enabled")
		}
	}

	// Validate Monitor config
	if c.Monitor.Cooldown < 0 {
		return fmt.Errorf("monitor.cooldown must not be negative")
	}

	if c.HTTP.Addr == "" {
		return fmt.Errorf("http.addr is required")
	}

	// Validate Logging config
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	return nil
}
