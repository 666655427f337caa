package storage

import (
	"context"
	"errors"
	"strings"

	"outagebot/internal/outage"
	"outagebot/pkg/logx"
)

// Store is the persistence API used by the app.
type Store interface {
	AppendAudit(ctx context.Context, e AuditEntry) error
	RecentAudit(ctx context.Context, chatID int64, limit int) ([]AuditEntry, error)
	// PutSnapshot stores raw for day and reports whether it differs from the
	// previously stored text. The first write for a day counts as changed.
	PutSnapshot(ctx context.Context, day outage.Date, raw string) (changed bool, err error)
	GetSnapshot(ctx context.Context, day outage.Date) (raw string, ok bool, err error)
	// PruneSnapshots deletes snapshots for days before day.
	PruneSnapshots(ctx context.Context, before outage.Date) (int64, error)
	Close() error
}

// Open initializes the configured store.
// It returns (nil, nil) if storage is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}

	switch driver {
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log.With(logx.String("comp", "storage")))
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
