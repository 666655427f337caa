package storage

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// Driver values:
//   - "sqlite": SQLite database file
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // 0 means default
}

// AuditEntry records one lifecycle event (reminder armed, fired, cancelled,
// delivery failed, subscription changed).
type AuditEntry struct {
	At     time.Time
	Kind   string
	ChatID int64
	Key    string
	Detail string
	Error  string
}

