package bot

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"outagebot/internal/notifier"
	"outagebot/internal/outage"
	"outagebot/pkg/logx"
)

// snapshotRetentionDays is how long stored day snapshots are kept.
const snapshotRetentionDays = 7

// RawSource exposes the raw published table.
type RawSource interface {
	FetchRaw(ctx context.Context) (map[outage.Date]string, error)
	Invalidate()
}

// Snapshots persists the last seen raw text per day.
type Snapshots interface {
	PutSnapshot(ctx context.Context, day outage.Date, raw string) (changed bool, err error)
	PruneSnapshots(ctx context.Context, before outage.Date) (int64, error)
}

// Notifier queues messages for asynchronous delivery.
type Notifier interface {
	Notify(ctx context.Context, n notifier.Notification) error
}

type RefreshOptions struct {
	Source RawSource
	// Snapshots is optional; without it changes are tracked in memory.
	Snapshots Snapshots
	// Notifier is optional; without it changes are never announced.
	Notifier Notifier
	// NotifyChanges is the initial value; see SetNotifyChanges.
	NotifyChanges bool
}

// Refresher re-reads the published table and syncs reminders of every
// subscribed chat for today and tomorrow: windows that moved or disappeared
// lose their reminders, the rest are replaced by key.
type Refresher struct {
	bot    *Bot
	opt    RefreshOptions
	log    logx.Logger
	notify atomic.Bool

	mu   sync.Mutex
	last map[outage.Date]string
}

func NewRefresher(b *Bot, opt RefreshOptions) *Refresher {
	r := &Refresher{
		bot:  b,
		opt:  opt,
		log:  b.log.With(logx.String("comp", "bot.refresh")),
		last: map[outage.Date]string{},
	}
	r.notify.Store(opt.NotifyChanges)
	return r
}

// SetNotifyChanges toggles change announcements on a running refresher.
func (r *Refresher) SetNotifyChanges(on bool) { r.notify.Store(on) }

// Run performs one refresh. It is meant to be scheduled as a cron job.
func (r *Refresher) Run(ctx context.Context) error {
	r.opt.Source.Invalidate()
	rows, err := r.opt.Source.FetchRaw(ctx)
	if err != nil {
		return fmt.Errorf("refresh: %w", err)
	}

	days := []outage.Day{outage.Today, outage.Tomorrow}
	now := r.bot.clk.Now()
	changed := map[outage.Date]bool{}
	for _, d := range days {
		date := d.Resolve(now, r.bot.loc)
		raw, ok := rows[date]
		if !ok {
			continue
		}
		changed[date] = r.track(ctx, date, raw)
	}
	if r.opt.Snapshots != nil {
		before := outage.Today.Resolve(now, r.bot.loc).AddDays(-snapshotRetentionDays)
		if n, err := r.opt.Snapshots.PruneSnapshots(ctx, before); err != nil {
			r.log.Warn("snapshot prune failed", logx.Err(err))
		} else if n > 0 {
			r.log.Debug("snapshots pruned", logx.Int64("count", n))
		}
	}

	var errs []error
	announce := r.notify.Load() && r.opt.Notifier != nil
	subs := r.bot.Subscribers()
	armed := 0
	for _, chatID := range subs {
		for _, d := range days {
			if err := ctx.Err(); err != nil {
				return err
			}
			res, err := r.bot.schedule(ctx, chatID, d, true)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			armed += res.Armed
			if res.NoData || !changed[res.Date] || !announce {
				continue
			}
			n := notifier.Notification{ChatID: chatID, Text: updatedText(res.Text)}
			if err := r.opt.Notifier.Notify(ctx, n); err != nil {
				r.log.Warn("change notice not queued", logx.Int64("chat_id", chatID), logx.Err(err))
			}
		}
	}

	r.log.Info("refresh done",
		logx.Int("rows", len(rows)),
		logx.Int("subscribers", len(subs)),
		logx.Int("armed", armed),
		logx.Int("changed", countTrue(changed)),
	)
	return errors.Join(errs...)
}

// track records raw for date and reports whether it differs from the
// previous value. Storage is authoritative when configured so change
// detection survives restarts.
func (r *Refresher) track(ctx context.Context, date outage.Date, raw string) bool {
	if r.opt.Snapshots != nil {
		changed, err := r.opt.Snapshots.PutSnapshot(ctx, date, raw)
		if err == nil {
			return changed
		}
		r.log.Warn("snapshot write failed", logx.String("date", date.String()), logx.Err(err))
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	prev, ok := r.last[date]
	r.last[date] = raw
	return !ok || prev != raw
}

func countTrue(m map[outage.Date]bool) int {
	n := 0
	for _, v := range m {
		if v {
			n++
		}
	}
	return n
}
