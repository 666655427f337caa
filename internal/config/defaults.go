package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"outagebot/internal/jobs"
	"outagebot/pkg/logx"
)

const (
	DefaultSourceURL     = "https://www.roe.vsei.ua/disconnections"
	DefaultQueueLabel    = "6.2"
	DefaultQueueColumn   = 11
	DefaultTimezone      = "Europe/Kyiv"
	DefaultRefreshSpec   = "*/30 * * * *"
	DefaultPendingMarker = "Очікується"
)

// ApplyDefaults fills unset fields in place. BOT_TOKEN from the environment
// is used when telegram.token is empty.
func ApplyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.Telegram.Token) == "" {
		cfg.Telegram.Token = strings.TrimSpace(os.Getenv("BOT_TOKEN"))
	}
	s := &cfg.Source
	if strings.TrimSpace(s.URL) == "" {
		s.URL = DefaultSourceURL
	}
	if strings.TrimSpace(s.QueueLabel) == "" {
		s.QueueLabel = DefaultQueueLabel
	}
	if s.QueueColumn == 0 {
		s.QueueColumn = DefaultQueueColumn
	}
	if strings.TrimSpace(s.Timezone) == "" {
		s.Timezone = DefaultTimezone
	}
	if s.PendingMarkers == nil {
		s.PendingMarkers = []string{DefaultPendingMarker}
	}
	if strings.TrimSpace(cfg.Refresh.Schedule) == "" {
		cfg.Refresh.Schedule = DefaultRefreshSpec
	}
}

// Validate rejects configs that cannot be applied. It does not mutate cfg.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	add := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	if strings.TrimSpace(cfg.Telegram.Token) == "" {
		add(errors.New("telegram.token is required (or set BOT_TOKEN)"))
	}
	_, err := ParseDurationField("telegram.poll_timeout", cfg.Telegram.PollTimeout)
	add(err)

	s := cfg.Source
	if u, err := url.Parse(s.URL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		add(fmt.Errorf("source.url: invalid %q", s.URL))
	}
	if s.QueueColumn < 1 {
		add(fmt.Errorf("source.queue_column: must be >= 1, got %d", s.QueueColumn))
	}
	if _, err := time.LoadLocation(s.Timezone); err != nil {
		add(fmt.Errorf("source.timezone: %w", err))
	}
	_, err = ParseDurationField("source.timeout", s.Timeout)
	add(err)
	_, err = ParseDurationField("source.cache_ttl", s.CacheTTL)
	add(err)
	_, err = ParseDurationField("reminders.delivery_timeout", cfg.Reminders.DeliveryTimeout)
	add(err)

	if cfg.Refresh.Enabled {
		if err := jobs.ParseSpec(cfg.Refresh.Schedule); err != nil {
			add(fmt.Errorf("refresh.schedule: %w", err))
		}
	}
	_, err = ParseDurationField("refresh.timeout", cfg.Refresh.Timeout)
	add(err)

	n := cfg.Notifier
	if n.RatePerSec < 0 || n.Workers < 0 || n.QueueSize < 0 {
		add(errors.New("notifier: rate_per_sec, workers and queue_size must be >= 0"))
	}
	_, err = ParseDurationField("notifier.send_timeout", n.SendTimeout)
	add(err)
	_, err = ParseDurationField("notifier.dedup_window", n.DedupWindow)
	add(err)

	if st := cfg.Storage; st != nil {
		switch strings.ToLower(strings.TrimSpace(st.Driver)) {
		case "", "none":
		case "sqlite", "sqlite3":
			if strings.TrimSpace(st.Path) == "" {
				add(errors.New("storage.path is required for sqlite"))
			}
		default:
			add(fmt.Errorf("storage.driver: unknown %q", st.Driver))
		}
		_, err = ParseDurationField("storage.busy_timeout", st.BusyTimeout)
		add(err)
	}

	return errors.Join(errs...)
}

// Logx maps the logging section onto the logger service config.
func (c LoggingConfig) Logx() logx.Config {
	return logx.Config{
		Level:   c.Level,
		Console: c.Console,
		File:    logx.FileConfig{Enabled: c.File.Enabled, Path: c.File.Path},
	}
}

// Location loads the configured time zone.
func (c SourceConfig) Location() (*time.Location, error) {
	return time.LoadLocation(c.Timezone)
}
