package config

import (
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Database struct {
		Path string `yaml:"path"`
	} `yaml:"database"`

	Backup BackupConfig `yaml:"backup"`

	Redis struct {
		Address  string `yaml:"address"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		// LockTTLMillis bounds how long a facility lock may be held before it expires.
		LockTTLMillis int `yaml:"lock_ttl_millis"`
	} `yaml:"redis"`

	Monitoring struct {
		HealthCheckPort   int  `yaml:"health_check_port"`
		GRPCHealthPort    int  `yaml:"grpc_health_port"`
		PrometheusEnabled bool `yaml:"prometheus_enabled"`
		PrometheusPort    int  `yaml:"prometheus_port"`
	} `yaml:"monitoring"`

	Logging struct {
		Level   string `yaml:"level"`
		Console bool   `yaml:"console"`
	} `yaml:"logging"`

	Booking struct {
		MinAdvanceMinutes int `yaml:"min_advance_minutes"`
		MaxAdvanceDays    int `yaml:"max_advance_days"`
	} `yaml:"booking"`

	Notifications NotificationsConfig `yaml:"notifications"`

	Reminders struct {
		// LeadMinutes before an approved booking starts its requester is reminded. Zero disables.
		LeadMinutes          int `yaml:"lead_minutes"`
		CheckIntervalMinutes int `yaml:"check_interval_minutes"`
	} `yaml:"reminders"`

	FacilitiesFile string `yaml:"facilities_file"`

	// Timezone interprets facility opening hours, e.g. "Europe/Berlin". Empty means local time.
	Timezone string `yaml:"timezone"`

	Admins []string `yaml:"admins"`
}

// BackupConfig controls periodic database snapshots.
type BackupConfig struct {
	Enabled       bool   `yaml:"enabled"`
	IntervalHours int    `yaml:"interval_hours"`
	StoragePath   string `yaml:"path"`
	RetentionDays int    `yaml:"retention_days"`
	// ExportXLSX also writes an xlsx audit workbook next to every snapshot.
	ExportXLSX bool `yaml:"export_xlsx"`
}

// NotificationsConfig controls asynchronous delivery of booking events.
type NotificationsConfig struct {
	QueueSize     int     `yaml:"queue_size"`
	RatePerSecond float64 `yaml:"rate_per_second"`
	Burst         int     `yaml:"burst"`
	MaxRetries    int     `yaml:"max_retries"`
	RetryDelayMs  int     `yaml:"retry_delay_ms"`

	Telegram struct {
		BotToken string `yaml:"bot_token"`
		// ChatIDs maps actor ids to Telegram chat ids.
		ChatIDs map[string]int64 `yaml:"chat_ids"`
	} `yaml:"telegram"`

	Calendar struct {
		CalendarID      string `yaml:"calendar_id"`
		CredentialsFile string `yaml:"credentials_file"`
	} `yaml:"calendar"`
}

func Load(path string) (*Config, error) {
	if path == "" {
		path = "configs/config.yaml"
	}

	// .env is optional; values already in the environment win.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Support ${ENV_VAR} placeholders in YAML config.
	data = []byte(os.ExpandEnv(string(data)))

	var cfg Config
	if err = yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()

	if err = os.MkdirAll(filepath.Dir(cfg.Database.Path), 0o755); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Database.Path == "" {
		c.Database.Path = "data/campusbook.db"
	}
	if c.FacilitiesFile == "" {
		c.FacilitiesFile = "configs/facilities.yaml"
	}
	if c.Monitoring.HealthCheckPort == 0 {
		c.Monitoring.HealthCheckPort = 8090
	}
	if c.Monitoring.PrometheusPort == 0 {
		c.Monitoring.PrometheusPort = 9090
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Backup.IntervalHours <= 0 {
		c.Backup.IntervalHours = 24
	}
	if c.Backup.StoragePath == "" {
		c.Backup.StoragePath = "data/backups"
	}
	if c.Notifications.QueueSize <= 0 {
		c.Notifications.QueueSize = 256
	}
	if c.Notifications.RatePerSecond <= 0 {
		c.Notifications.RatePerSecond = 20
	}
	if c.Notifications.Burst <= 0 {
		c.Notifications.Burst = 30
	}
	if c.Notifications.MaxRetries < 0 {
		c.Notifications.MaxRetries = 0
	}
	if c.Notifications.RetryDelayMs <= 0 {
		c.Notifications.RetryDelayMs = 1000
	}
	if c.Reminders.CheckIntervalMinutes <= 0 {
		c.Reminders.CheckIntervalMinutes = 5
	}
}

// BookingMinAdvance is how far ahead of its start a booking must be requested.
// Zero means any future start is accepted.
func (c *Config) BookingMinAdvance() time.Duration {
	if c.Booking.MinAdvanceMinutes <= 0 {
		return 0
	}
	return time.Duration(c.Booking.MinAdvanceMinutes) * time.Minute
}

// BookingMaxAdvance is the furthest ahead a booking may start. Zero means unbounded.
func (c *Config) BookingMaxAdvance() time.Duration {
	if c.Booking.MaxAdvanceDays <= 0 {
		return 0
	}
	return time.Duration(c.Booking.MaxAdvanceDays) * 24 * time.Hour
}

// Location returns the configured time zone.
func (c *Config) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.Local, nil
	}
	return time.LoadLocation(c.Timezone)
}

func (c *Config) LockTTL() time.Duration {
	if c.Redis.LockTTLMillis <= 0 {
		return 5 * time.Second
	}
	return time.Duration(c.Redis.LockTTLMillis) * time.Millisecond
}

func (c *Config) RetryDelay() time.Duration {
	return time.Duration(c.Notifications.RetryDelayMs) * time.Millisecond
}

func (c *Config) ReminderLead() time.Duration {
	if c.Reminders.LeadMinutes <= 0 {
		return 0
	}
	return time.Duration(c.Reminders.LeadMinutes) * time.Minute
}

func (c *Config) ReminderCheckInterval() time.Duration {
	return time.Duration(c.Reminders.CheckIntervalMinutes) * time.Minute
}
