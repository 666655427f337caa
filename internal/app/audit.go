package app

import (
	"context"
	"time"

	"outagebot/internal/bot"
	"outagebot/internal/eventbus"
	"outagebot/internal/notifier"
	"outagebot/internal/reminder"
	"outagebot/internal/storage"
	"outagebot/pkg/logx"
	"outagebot/pkg/tgui"
)

const (
	auditWriteTimeout = 2 * time.Second
	maxAuditError     = 300
)

// auditEntry maps a bus event onto an audit row. ok is false for events
// that are not audited.
func auditEntry(e eventbus.Event) (storage.AuditEntry, bool) {
	ent := storage.AuditEntry{At: e.Time, Kind: e.Type}
	switch d := e.Data.(type) {
	case reminder.EventData:
		ent.ChatID = d.Reminder.Key.Recipient
		ent.Key = d.Reminder.Key.String()
		ent.Detail = "cutoff " + d.Reminder.Cutoff.Format("2006-01-02 15:04")
		if d.Err != nil {
			ent.Error = tgui.TruncRunes(d.Err.Error(), maxAuditError)
		}
	case bot.SubscriptionEvent:
		ent.ChatID = d.ChatID
	case notifier.Event:
		if e.Type == notifier.EventSent {
			return ent, false
		}
		ent.ChatID = d.ChatID
		ent.Key = d.Key
		ent.Error = tgui.TruncRunes(d.Error, maxAuditError)
	default:
		return ent, false
	}
	if ent.At.IsZero() {
		ent.At = time.Now()
	}
	return ent, true
}

// recordAudit drains events into store until ctx is done. Write errors are
// logged and never stop the loop.
func recordAudit(ctx context.Context, events <-chan eventbus.Event, store storage.Store, log logx.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			// Keep this debug-level; reminders produce several events per schedule.
			log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			if store == nil {
				continue
			}
			ent, ok := auditEntry(e)
			if !ok {
				continue
			}
			wctx, cancel := context.WithTimeout(ctx, auditWriteTimeout)
			err := store.AppendAudit(wctx, ent)
			cancel()
			if err != nil {
				log.Warn("audit write failed", logx.String("kind", ent.Kind), logx.Err(err))
			}
		}
	}
}
