package app

import (
	"strings"
	"time"

	"outagebot/internal/config"
	"outagebot/internal/notifier"
	"outagebot/internal/source"
	"outagebot/internal/storage"
	telegram "outagebot/internal/transport/telegram/adapter"
)

// Each map* function assumes cfg passed config.Validate, so duration
// errors are still returned but never expected.

func mapTelegramConfig(cfg *config.Config) (telegram.Config, error) {
	poll, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return telegram.Config{}, err
	}
	return telegram.Config{Token: cfg.Telegram.Token, PollTimeout: poll}, nil
}

func mapSourceConfig(cfg *config.Config) (source.Config, error) {
	s := cfg.Source
	timeout, err := config.ParseDurationOrDefault("source.timeout", s.Timeout, 15*time.Second)
	if err != nil {
		return source.Config{}, err
	}
	ttl, err := config.ParseDurationOrDefault("source.cache_ttl", s.CacheTTL, 2*time.Minute)
	if err != nil {
		return source.Config{}, err
	}
	return source.Config{
		URL:            s.URL,
		Column:         s.QueueColumn,
		PendingMarkers: append([]string(nil), s.PendingMarkers...),
		Timeout:        timeout,
		CacheTTL:       ttl,
		UserAgent:      s.UserAgent,
	}, nil
}

func mapNotifierConfig(cfg *config.Config) (notifier.Config, error) {
	n := cfg.Notifier
	sendTimeout, err := config.ParseDurationOrDefault("notifier.send_timeout", n.SendTimeout, 10*time.Second)
	if err != nil {
		return notifier.Config{}, err
	}
	dedup, err := config.ParseDurationField("notifier.dedup_window", n.DedupWindow)
	if err != nil {
		return notifier.Config{}, err
	}
	return notifier.Config{
		RatePerSec:  n.RatePerSec,
		SendTimeout: sendTimeout,
		Workers:     n.Workers,
		QueueSize:   n.QueueSize,
		DedupWindow: dedup,
	}, nil
}

func mapStorageConfig(cfg *config.Config) (storage.Config, bool, error) {
	if cfg == nil || cfg.Storage == nil {
		return storage.Config{}, false, nil
	}
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	if driver == "" || driver == "none" {
		return storage.Config{}, false, nil
	}
	busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
	if err != nil {
		return storage.Config{}, false, err
	}
	return storage.Config{Driver: driver, Path: strings.TrimSpace(sc.Path), BusyTimeout: busy}, true, nil
}

// refreshJob is the cron registration derived from the refresh section.
type refreshJob struct {
	Enabled bool
	Spec    string
	Timeout time.Duration
}

func mapRefreshJob(cfg *config.Config) (refreshJob, error) {
	r := cfg.Refresh
	timeout, err := config.ParseDurationOrDefault("refresh.timeout", r.Timeout, 2*time.Minute)
	if err != nil {
		return refreshJob{}, err
	}
	return refreshJob{Enabled: r.Enabled, Spec: r.Schedule, Timeout: timeout}, nil
}
