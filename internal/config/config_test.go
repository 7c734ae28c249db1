package config

import (
	"errors"
	"os"
	"testing"
	"time"

	"github.com/rewired-gh/meterbot/internal/models"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	tmpfile, err := os.CreateTemp(t.TempDir(), "config-*.yaml")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := tmpfile.Write([]byte(content)); err != nil {
		t.Fatal(err)
	}
	if err := tmpfile.Close(); err != nil {
		t.Fatal(err)
	}
	return tmpfile.Name()
}

func TestLoadAndValidate(t *testing.T) {
	content := `
meters:
  - id: ayon
    name: Ayon
    account: "11111111"
  - id: arif
    name: Arif
    account: "22222222"

schedule:
  mode: continuous
  times: ["08:00", "20:30"]
  timezone: Asia/Dhaka

monitor:
  fetch_timeout: 20s
  retry_count: 2
  retry_delay_base: 1s
  max_parallel: 2
  recharge_threshold: 50.00
  sanity_bound: 10000

telegram:
  bot_token: "test_token"
  chat_id: "12345"
  enabled: true

storage:
  db_path: "./data/test.db"
  max_cycles: 100

logging:
  level: "info"
  format: "json"
`
	cfg, err := Load(writeConfig(t, content))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if len(cfg.Meters) != 2 {
		t.Fatalf("Expected 2 meters, got %d", len(cfg.Meters))
	}
	if cfg.Meters[1].AccountRef != "22222222" {
		t.Errorf("Unexpected account: %s", cfg.Meters[1].AccountRef)
	}
	if len(cfg.Schedule.Times) != 2 || cfg.Schedule.Times[1] != "20:30" {
		t.Errorf("Unexpected schedule times: %v", cfg.Schedule.Times)
	}
	if cfg.Monitor.FetchTimeout != 20*time.Second {
		t.Errorf("Unexpected fetch timeout: %v", cfg.Monitor.FetchTimeout)
	}
	if cfg.Monitor.RechargeThresholdAmount() != 5000 {
		t.Errorf("Unexpected threshold: %d", cfg.Monitor.RechargeThresholdAmount())
	}
	if cfg.Monitor.SanityBoundAmount() != 1000000 {
		t.Errorf("Unexpected sanity bound: %d", cfg.Monitor.SanityBoundAmount())
	}

	// Defaults survive
	if cfg.Desco.BaseURL != "https://prepaid.desco.org.bd" {
		t.Errorf("Unexpected DESCO URL: %s", cfg.Desco.BaseURL)
	}
	if cfg.Health.Port != 8080 {
		t.Errorf("Unexpected health port: %d", cfg.Health.Port)
	}

	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	if cfg.OneShot() {
		t.Error("Expected continuous mode")
	}
}

func TestLoad_RequiresRechargeThreshold(t *testing.T) {
	content := `
meters:
  - id: ayon
    name: Ayon
    account: "1"
`
	_, err := Load(writeConfig(t, content))
	var cfgErr *models.ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("Expected ConfigError, got %v", err)
	}
	if cfgErr.Field != "monitor.recharge_threshold" {
		t.Errorf("Unexpected field: %s", cfgErr.Field)
	}
}

func TestLoad_LegacyEnvironment(t *testing.T) {
	t.Setenv("METERS", "Ayon=111, Payel=333")
	t.Setenv("SCHEDULE_TIMES", "07:30, 19:00")
	t.Setenv("TEST_RUN", "true")
	t.Setenv("PORT", "9090")
	t.Setenv("METERBOT_MONITOR_RECHARGE_THRESHOLD", "25")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if len(cfg.Meters) != 2 || cfg.Meters[1].ID != "payel" || cfg.Meters[1].AccountRef != "333" {
		t.Errorf("Unexpected meters: %+v", cfg.Meters)
	}
	if len(cfg.Schedule.Times) != 2 || cfg.Schedule.Times[0] != "07:30" || cfg.Schedule.Times[1] != "19:00" {
		t.Errorf("Unexpected schedule times: %v", cfg.Schedule.Times)
	}
	if !cfg.OneShot() {
		t.Error("Expected TEST_RUN to select one-shot mode")
	}
	if cfg.Health.Port != 9090 {
		t.Errorf("Expected PORT override, got %d", cfg.Health.Port)
	}
	if cfg.Monitor.RechargeThreshold != 25 {
		t.Errorf("Expected threshold 25, got %f", cfg.Monitor.RechargeThreshold)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
}

func TestParseMeters(t *testing.T) {
	meters, err := ParseMeters("Ayon=1,Arif=2,,Solo=5")
	if err != nil {
		t.Fatalf("ParseMeters failed: %v", err)
	}
	if len(meters) != 3 {
		t.Fatalf("Expected 3 meters, got %d", len(meters))
	}
	if meters[2].ID != "solo" || meters[2].Name != "Solo" {
		t.Errorf("Unexpected meter: %+v", meters[2])
	}

	if _, err := ParseMeters("Ayon"); err == nil {
		t.Error("Expected error for entry without account")
	}
}

func validConfig() *Config {
	return &Config{
		Meters: []models.Meter{{ID: "ayon", Name: "Ayon", AccountRef: "1"}},
		Schedule: ScheduleConfig{
			Mode:     ModeContinuous,
			Times:    []string{"08:00"},
			Timezone: "Asia/Dhaka",
		},
		Monitor: MonitorConfig{
			FetchTimeout:      30 * time.Second,
			RetryCount:        3,
			RetryDelayBase:    time.Second,
			MaxParallel:       4,
			RechargeThreshold: 50,
		},
		Desco:   DescoConfig{BaseURL: "https://example.com", Timezone: "Asia/Dhaka"},
		Storage: StorageConfig{DBPath: "./data/test.db", MaxCycles: 10},
		Health:  HealthConfig{Enabled: true, Port: 8080},
		Logging: LoggingConfig{Level: "info", Format: "text"},
	}
}

func TestValidateErrors(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{"valid", func(c *Config) {}, false},
		{"no meters", func(c *Config) { c.Meters = nil }, true},
		{"duplicate meters", func(c *Config) { c.Meters = append(c.Meters, c.Meters[0]) }, true},
		{"bad mode", func(c *Config) { c.Schedule.Mode = "sometimes" }, true},
		{"bad time", func(c *Config) { c.Schedule.Times = []string{"8am"} }, true},
		{"no times and no interval", func(c *Config) { c.Schedule.Times = nil }, true},
		{"interval only", func(c *Config) { c.Schedule.Times = nil; c.Schedule.Interval = time.Hour }, false},
		{"interval too short", func(c *Config) { c.Schedule.Interval = time.Second }, true},
		{"bad timezone", func(c *Config) { c.Schedule.Timezone = "Mars/Olympus" }, true},
		{"zero retries", func(c *Config) { c.Monitor.RetryCount = 0 }, true},
		{"negative threshold", func(c *Config) { c.Monitor.RechargeThreshold = -1 }, true},
		{"sanity below threshold", func(c *Config) { c.Monitor.SanityBound = 10 }, true},
		{"zero threshold allowed", func(c *Config) { c.Monitor.RechargeThreshold = 0 }, false},
		{"missing telegram token when enabled", func(c *Config) {
			c.Telegram = TelegramConfig{Enabled: true, ChatID: "1", MaxRetries: 3}
		}, true},
		{"bad port", func(c *Config) { c.Health.Port = 0 }, true},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
