package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/amirbiron/Tfilin/internal/domain"
)

// Config holds application configuration loaded from environment variables.
// Scheduling caps live here, not on users: they bound what any user may
// request, so configuration errors are rejected before they reach the core.
type Config struct {
	BotToken string `envconfig:"BOT_TOKEN" required:"true"`
	DBPath   string `envconfig:"DB_PATH" default:"./data/tfilin.db"`
	HTTPAddr string `envconfig:"HTTP_ADDR" default:":8080"` // healthz
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`  // debug|info|warn|error

	// Scheduler loop.
	TickInterval time.Duration `envconfig:"TICK_INTERVAL" default:"30s"`
	TickWorkers  int           `envconfig:"TICK_WORKERS" default:"8"`
	GraceWindow  time.Duration `envconfig:"GRACE_WINDOW" default:"30m"`

	// Snooze caps. Defaults: 3 snoozes, 2h of total deferral per day.
	SnoozeMaxCount int           `envconfig:"SNOOZE_MAX_COUNT" default:"3"`
	SnoozeMaxTotal time.Duration `envconfig:"SNOOZE_MAX_TOTAL" default:"2h"`

	// Defaults applied to newly registered users.
	DefaultTZ     string `envconfig:"DEFAULT_TZ" default:"Asia/Jerusalem"`
	DefaultLocale string `envconfig:"DEFAULT_LOCALE" default:"jerusalem"`
	DefaultTime   string `envconfig:"DEFAULT_TIME" default:"07:30"` // HH:MM local

	// External calendar/zmanim provider.
	CalendarBaseURL string        `envconfig:"CALENDAR_BASE_URL" default:"https://www.hebcal.com"`
	CalendarTimeout time.Duration `envconfig:"CALENDAR_TIMEOUT" default:"5s"`

	// Messaging gateway.
	SendTimeout time.Duration `envconfig:"SEND_TIMEOUT" default:"5s"`

	// Instance retention (archived history for streaks and stats).
	RetentionDays int `envconfig:"RETENTION_DAYS" default:"90"`
}

// Load reads environment variables into Config and validates them.
func Load() (Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return cfg, err
	}
	if err := cfg.validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.TickInterval < time.Second || c.TickInterval > time.Minute {
		return fmt.Errorf("TICK_INTERVAL %s out of range [1s, 1m]", c.TickInterval)
	}
	if c.TickWorkers < 1 {
		return fmt.Errorf("TICK_WORKERS must be positive, got %d", c.TickWorkers)
	}
	if c.GraceWindow <= 0 {
		return fmt.Errorf("GRACE_WINDOW must be positive, got %s", c.GraceWindow)
	}
	if c.SnoozeMaxCount < 0 {
		return fmt.Errorf("SNOOZE_MAX_COUNT must be non-negative, got %d", c.SnoozeMaxCount)
	}
	if c.SnoozeMaxTotal <= 0 {
		return fmt.Errorf("SNOOZE_MAX_TOTAL must be positive, got %s", c.SnoozeMaxTotal)
	}
	if c.RetentionDays < 1 {
		return fmt.Errorf("RETENTION_DAYS must be positive, got %d", c.RetentionDays)
	}
	if _, err := domain.ValidateTZ(c.DefaultTZ); err != nil {
		return fmt.Errorf("DEFAULT_TZ: %w", err)
	}
	if _, _, err := domain.ParseClock(c.DefaultTime); err != nil {
		return fmt.Errorf("DEFAULT_TIME: %w", err)
	}
	return nil
}

// DefaultClock returns the validated default reminder time.
func (c Config) DefaultClock() (hour, minute int) {
	hour, minute, _ = domain.ParseClock(c.DefaultTime)
	return hour, minute
}
