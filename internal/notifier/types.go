package notifier

import "time"

// Config controls delivery throttling and the async broadcast pipeline.
type Config struct {
	RatePerSec  int
	SendTimeout time.Duration
	Workers     int
	QueueSize   int
	// DedupWindow suppresses identical text to the same chat within the window.
	// Applies to queued notifications only; Deliver is never deduplicated.
	DedupWindow time.Duration
}

// Notification is a queued message for one chat.
type Notification struct {
	ChatID int64
	Text   string
}

type HistoryItem struct {
	At     time.Time
	ChatID int64
	Text   string
}

// Event is published on the bus for notifier lifecycle events.
type Event struct {
	ChatID int64     `json:"chat_id"`
	Key    string    `json:"key,omitempty"`
	At     time.Time `json:"at"`
	Error  string    `json:"error,omitempty"`
}

const (
	EventSent    = "notifier.sent"
	EventFailed  = "notifier.failed"
	EventDeduped = "notifier.deduped"
	EventDropped = "notifier.dropped"
)
