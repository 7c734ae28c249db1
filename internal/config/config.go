package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
	_ "time/tzdata" // Asia/Dhaka must resolve in minimal containers

	"github.com/spf13/viper"

	"github.com/rewired-gh/meterbot/internal/models"
)

// Run modes
const (
	ModeContinuous = "continuous"
	ModeOneShot    = "one-shot"
)

// Config represents the complete application configuration
type Config struct {
	Meters   []models.Meter `mapstructure:"meters"`
	Schedule ScheduleConfig `mapstructure:"schedule"`
	Monitor  MonitorConfig  `mapstructure:"monitor"`
	Desco    DescoConfig    `mapstructure:"desco"`
	Telegram TelegramConfig `mapstructure:"telegram"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Health   HealthConfig   `mapstructure:"health"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// ScheduleConfig holds trigger configuration. Interval, when set, takes
// precedence over Times.
type ScheduleConfig struct {
	Mode       string        `mapstructure:"mode"`
	Times      []string      `mapstructure:"times"`
	Interval   time.Duration `mapstructure:"interval"`
	Timezone   string        `mapstructure:"timezone"`
	RunOnStart bool          `mapstructure:"run_on_start"`
}

// MonitorConfig holds fetch and classification behavior
type MonitorConfig struct {
	FetchTimeout      time.Duration `mapstructure:"fetch_timeout"`
	RetryCount        int           `mapstructure:"retry_count"`
	RetryDelayBase    time.Duration `mapstructure:"retry_delay_base"`
	MaxParallel       int           `mapstructure:"max_parallel"`
	RechargeThreshold float64       `mapstructure:"recharge_threshold"` // Currency units; increases up to this are noise
	SanityBound       float64       `mapstructure:"sanity_bound"`       // Currency units; 0 disables the check
}

// DescoConfig holds the DESCO prepaid portal client configuration
type DescoConfig struct {
	BaseURL             string        `mapstructure:"base_url"`
	Timezone            string        `mapstructure:"timezone"`
	MaxIdleConns        int           `mapstructure:"max_idle_conns"`
	MaxIdleConnsPerHost int           `mapstructure:"max_idle_conns_per_host"`
	IdleConnTimeout     time.Duration `mapstructure:"idle_conn_timeout"`
}

// TelegramConfig holds Telegram notification configuration
type TelegramConfig struct {
	BotToken       string        `mapstructure:"bot_token"`
	ChatID         string        `mapstructure:"chat_id"`
	Enabled        bool          `mapstructure:"enabled"`
	MaxRetries     int           `mapstructure:"max_retries"`
	RetryDelayBase time.Duration `mapstructure:"retry_delay_base"`
	ShowSchedule   bool          `mapstructure:"show_schedule"`
	Commands       bool          `mapstructure:"commands"`
}

// StorageConfig holds state persistence configuration
type StorageConfig struct {
	DBPath    string `mapstructure:"db_path"`
	MaxCycles int    `mapstructure:"max_cycles"`
}

// HealthConfig holds the health check server configuration
type HealthConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	File   string `mapstructure:"file"`
}

// Load reads configuration from an optional file and environment variables.
// An empty path means environment and defaults only.
func Load(path string) (*Config, error) {
	v := viper.New()

	// Set defaults
	setDefaults(v)

	// Enable environment variable override
	v.SetEnvPrefix("METERBOT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindLegacyEnv(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// The noise threshold has no sensible universal default
	if !v.IsSet("monitor.recharge_threshold") {
		return nil, &models.ConfigError{Field: "monitor.recharge_threshold", Reason: "must be set"}
	}

	// Unmarshal into Config struct
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Env-provided lists arrive as a single comma separated string
	cfg.Schedule.Times = splitList(cfg.Schedule.Times)

	if raw := os.Getenv("METERS"); raw != "" && len(cfg.Meters) == 0 {
		meters, err := ParseMeters(raw)
		if err != nil {
			return nil, err
		}
		cfg.Meters = meters
	}

	if strings.EqualFold(os.Getenv("TEST_RUN"), "true") {
		cfg.Schedule.Mode = ModeOneShot
	}

	return &cfg, nil
}

// bindLegacyEnv keeps the variable names used by the hosted deployment working.
func bindLegacyEnv(v *viper.Viper) {
	_ = v.BindEnv("schedule.times", "METERBOT_SCHEDULE_TIMES", "SCHEDULE_TIMES")
	_ = v.BindEnv("health.port", "METERBOT_HEALTH_PORT", "PORT")
	_ = v.BindEnv("telegram.bot_token", "METERBOT_TELEGRAM_BOT_TOKEN", "TELEGRAM_BOT_TOKEN")
	_ = v.BindEnv("telegram.chat_id", "METERBOT_TELEGRAM_CHAT_ID", "TELEGRAM_CHAT_ID")
	_ = v.BindEnv("monitor.recharge_threshold", "METERBOT_MONITOR_RECHARGE_THRESHOLD", "RECHARGE_THRESHOLD")
}

// setDefaults configures default values for all configuration options
func setDefaults(v *viper.Viper) {
	// Schedule defaults
	v.SetDefault("schedule.mode", ModeContinuous)
	v.SetDefault("schedule.times", []string{"08:00"})
	v.SetDefault("schedule.interval", "0s")
	v.SetDefault("schedule.timezone", "Asia/Dhaka")
	v.SetDefault("schedule.run_on_start", false)

	// Monitor defaults
	v.SetDefault("monitor.fetch_timeout", "30s")
	v.SetDefault("monitor.retry_count", 3)
	v.SetDefault("monitor.retry_delay_base", "2s")
	v.SetDefault("monitor.max_parallel", 4)
	v.SetDefault("monitor.sanity_bound", 0.0)

	// DESCO defaults
	v.SetDefault("desco.base_url", "https://prepaid.desco.org.bd")
	v.SetDefault("desco.timezone", "Asia/Dhaka")
	v.SetDefault("desco.max_idle_conns", 10)
	v.SetDefault("desco.max_idle_conns_per_host", 5)
	v.SetDefault("desco.idle_conn_timeout", "90s")

	// Telegram defaults
	v.SetDefault("telegram.enabled", false)
	v.SetDefault("telegram.max_retries", 3)
	v.SetDefault("telegram.retry_delay_base", "2s")
	v.SetDefault("telegram.show_schedule", true)
	v.SetDefault("telegram.commands", true)

	// Storage defaults
	v.SetDefault("storage.db_path", "./data/meterbot.db")
	v.SetDefault("storage.max_cycles", 500)

	// Health defaults
	v.SetDefault("health.enabled", true)
	v.SetDefault("health.port", 8080)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.file", "")
}

// ParseMeters parses "Name=account,Name=account" into meters. IDs are the
// lower-cased names.
func ParseMeters(raw string) ([]models.Meter, error) {
	var meters []models.Meter
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, account, ok := strings.Cut(part, "=")
		name, account = strings.TrimSpace(name), strings.TrimSpace(account)
		if !ok || name == "" || account == "" {
			return nil, &models.ConfigError{Field: "METERS", Reason: fmt.Sprintf("entry %q must be Name=account", part)}
		}
		meters = append(meters, models.Meter{
			ID:         strings.ToLower(name),
			Name:       name,
			AccountRef: account,
		})
	}
	return meters, nil
}

func splitList(in []string) []string {
	var out []string
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// Validate checks that all configuration values are valid
func (c *Config) Validate() error {
	// Validate meters
	if _, err := c.Registry(); err != nil {
		return err
	}

	// Validate schedule config
	if c.Schedule.Mode != ModeContinuous && c.Schedule.Mode != ModeOneShot {
		return fmt.Errorf("schedule.mode must be one of: %s, %s", ModeContinuous, ModeOneShot)
	}
	if c.Schedule.Interval < 0 {
		return errors.New("schedule.interval must not be negative")
	}
	if c.Schedule.Interval > 0 && c.Schedule.Interval < time.Minute {
		return errors.New("schedule.interval must be at least 1 minute")
	}
	if c.Schedule.Interval == 0 && len(c.Schedule.Times) == 0 {
		return errors.New("schedule.times must contain at least one time when no interval is set")
	}
	for _, t := range c.Schedule.Times {
		if _, err := time.Parse("15:04", t); err != nil {
			return fmt.Errorf("schedule.times entry %q must be HH:MM", t)
		}
	}
	if _, err := time.LoadLocation(c.Schedule.Timezone); err != nil {
		return fmt.Errorf("schedule.timezone is invalid: %w", err)
	}

	// Validate monitor config
	if c.Monitor.FetchTimeout < time.Second {
		return errors.New("monitor.fetch_timeout must be at least 1 second")
	}
	if c.Monitor.RetryCount < 1 {
		return errors.New("monitor.retry_count must be at least 1")
	}
	if c.Monitor.RetryDelayBase < 0 {
		return errors.New("monitor.retry_delay_base must not be negative")
	}
	if c.Monitor.MaxParallel < 1 {
		return errors.New("monitor.max_parallel must be at least 1")
	}
	if c.Monitor.RechargeThreshold < 0 {
		return errors.New("monitor.recharge_threshold must not be negative")
	}
	if c.Monitor.SanityBound < 0 {
		return errors.New("monitor.sanity_bound must not be negative")
	}
	if c.Monitor.SanityBound > 0 && c.Monitor.SanityBound <= c.Monitor.RechargeThreshold {
		return errors.New("monitor.sanity_bound must be greater than monitor.recharge_threshold")
	}

	// Validate DESCO config
	if c.Desco.BaseURL == "" {
		return errors.New("desco.base_url is required")
	}
	if _, err := time.LoadLocation(c.Desco.Timezone); err != nil {
		return fmt.Errorf("desco.timezone is invalid: %w", err)
	}

	// Validate Telegram config
	if c.Telegram.Enabled {
		if c.Telegram.BotToken == "" {
			return errors.New("telegram.bot_token is required when telegram is enabled")
		}
		if c.Telegram.ChatID == "" {
			return errors.New("telegram.chat_id is required when telegram is enabled")
		}
		if c.Telegram.MaxRetries < 1 {
			return errors.New("telegram.max_retries must be at least 1")
		}
	}

	// Validate Storage config
	if c.Storage.DBPath == "" {
		return errors.New("storage.db_path is required")
	}
	if c.Storage.MaxCycles < 1 {
		return errors.New("storage.max_cycles must be at least 1")
	}

	// Validate Health config
	if c.Health.Enabled && (c.Health.Port < 1 || c.Health.Port > 65535) {
		return errors.New("health.port must be between 1 and 65535")
	}

	// Validate Logging config
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return errors.New("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return errors.New("logging.format must be one of: json, text")
	}

	return nil
}

// Registry builds the meter registry from the configured meters.
func (c *Config) Registry() (*models.Registry, error) {
	return models.NewRegistry(c.Meters)
}

// OneShot reports whether a single cycle should run before exiting.
func (c *Config) OneShot() bool {
	return c.Schedule.Mode == ModeOneShot
}

// RechargeThresholdAmount returns the noise threshold in the smallest currency unit.
func (m MonitorConfig) RechargeThresholdAmount() models.Amount {
	return models.AmountFromFloat(m.RechargeThreshold)
}

// SanityBoundAmount returns the implausible delta bound in the smallest currency unit.
func (m MonitorConfig) SanityBoundAmount() models.Amount {
	return models.AmountFromFloat(m.SanityBound)
}
