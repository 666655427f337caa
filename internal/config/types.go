package config

// Config is the on-disk configuration (JSON or YAML).
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
type Config struct {
	Telegram  TelegramConfig  `json:"telegram"`
	Logging   LoggingConfig   `json:"logging"`
	Source    SourceConfig    `json:"source"`
	Reminders RemindersConfig `json:"reminders"`
	Refresh   RefreshConfig   `json:"refresh"`
	Notifier  NotifierConfig  `json:"notifier"`
	Storage   *StorageConfig  `json:"storage,omitempty"`
}

type TelegramConfig struct {
	// Token may be left empty and supplied via the BOT_TOKEN environment variable.
	Token string `json:"token"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// SourceConfig describes the published schedule page.
//
// Defaults:
//   - queue_label: "6.2"
//   - queue_column: 11 (zero-based <td> index of the queue in a date row)
//   - timezone: "Europe/Kyiv"
//   - timeout: "15s", cache_ttl: "2m"
//   - pending_markers: ["Очікується"]
type SourceConfig struct {
	URL            string   `json:"url"`
	QueueLabel     string   `json:"queue_label"`
	QueueColumn    int      `json:"queue_column"`
	Timezone       string   `json:"timezone"`
	Timeout        string   `json:"timeout"`
	CacheTTL       string   `json:"cache_ttl"`
	PendingMarkers []string `json:"pending_markers"`
	UserAgent      string   `json:"user_agent,omitempty"`
}

type RemindersConfig struct {
	// DeliveryTimeout bounds one reminder send (default "30s").
	DeliveryTimeout string `json:"delivery_timeout"`
}

// RefreshConfig controls the periodic re-fetch of the schedule for
// subscribed chats.
type RefreshConfig struct {
	Enabled bool `json:"enabled"`
	// Schedule is a cron spec (default "*/30 * * * *").
	Schedule string `json:"schedule"`
	Timeout  string `json:"timeout"`
	// NotifyChanges sends subscribers the new schedule when it changes.
	NotifyChanges bool `json:"notify_changes"`
}

type NotifierConfig struct {
	RatePerSec  int    `json:"rate_per_sec"`
	Workers     int    `json:"workers"`
	QueueSize   int    `json:"queue_size"`
	SendTimeout string `json:"send_timeout"`
	DedupWindow string `json:"dedup_window"`
}

// StorageConfig controls the optional persistence layer.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./data/outagebot.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
}
