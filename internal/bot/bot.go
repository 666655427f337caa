// Package bot implements the chat command surface: schedule requests that
// arm reminders, reminder cancellation, and the periodic schedule refresh
// for subscribed chats.
package bot

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"outagebot/internal/clock"
	"outagebot/internal/eventbus"
	"outagebot/internal/outage"
	"outagebot/internal/reminder"
	"outagebot/internal/source"
	"outagebot/internal/transport"
	"outagebot/pkg/logx"
)

// Event types published on the bus.
const (
	EventSubscribed   = "bot.subscribed"
	EventUnsubscribed = "bot.unsubscribed"
)

// SubscriptionEvent is the payload of bot.subscribed / bot.unsubscribed.
type SubscriptionEvent struct {
	ChatID int64
}

// Source returns the windows published for a date.
type Source interface {
	FetchWindows(ctx context.Context, date outage.Date) ([]outage.Interval, error)
}

// Reminders is the part of the reminder scheduler the bot drives.
type Reminders interface {
	Arm(recipient int64, date outage.Date, intervals []outage.Interval) (int, error)
	Sync(recipient int64, date outage.Date, intervals []outage.Interval) (int, error)
	CancelAll(recipient int64) int
	Pending(recipient int64) []reminder.Reminder
}

type Options struct {
	Adapter    transport.Adapter
	Source     Source
	Reminders  Reminders
	Clock      clock.Clock
	Location   *time.Location
	QueueLabel string
	Log        logx.Logger
	Bus        eventbus.Bus
}

type Bot struct {
	adapter transport.Adapter
	src     Source
	rem     Reminders
	clk     clock.Clock
	loc     *time.Location
	queue   string
	log     logx.Logger
	bus     eventbus.Bus

	mu   sync.RWMutex
	subs map[int64]struct{}
}

func New(opt Options) *Bot {
	if opt.Clock == nil {
		opt.Clock = clock.Real()
	}
	if opt.Location == nil {
		opt.Location = time.Local
	}
	return &Bot{
		adapter: opt.Adapter,
		src:     opt.Source,
		rem:     opt.Reminders,
		clk:     opt.Clock,
		loc:     opt.Location,
		queue:   opt.QueueLabel,
		log:     opt.Log.With(logx.String("comp", "bot")),
		bus:     opt.Bus,
		subs:    map[int64]struct{}{},
	}
}

// scheduleResult is one resolved day for one chat.
type scheduleResult struct {
	Date      outage.Date
	Intervals []outage.Interval
	Armed     int
	NoData    bool
	Text      string
}

// schedule fetches the windows of day, arms reminders for recipient and
// renders the reply. Missing data is a result, not an error. With replace set
// the fetched windows replace whatever was armed for that date, so moved or
// withdrawn windows lose their reminders.
func (b *Bot) schedule(ctx context.Context, recipient int64, day outage.Day, replace bool) (scheduleResult, error) {
	date := day.Resolve(b.clk.Now(), b.loc)
	res := scheduleResult{Date: date}

	ivs, err := b.src.FetchWindows(ctx, date)
	switch {
	case errors.Is(err, source.ErrNoData):
		res.NoData = true
		res.Text = noDataText(day)
		if replace {
			if _, err := b.rem.Sync(recipient, date, nil); err != nil {
				return res, fmt.Errorf("sync %s: %w", date, err)
			}
		}
		return res, nil
	case err != nil:
		return res, NewUserError(fmt.Errorf("fetch %s: %w", date, err), textFetchFailed)
	}

	res.Intervals = ivs
	switch {
	case replace:
		res.Armed, err = b.rem.Sync(recipient, date, ivs)
	case len(ivs) > 0:
		res.Armed, err = b.rem.Arm(recipient, date, ivs)
	}
	if err != nil {
		return res, NewUserError(fmt.Errorf("arm %s: %w", date, err), textFetchFailed)
	}
	res.Text = scheduleText(b.queue, day, date, ivs, res.Armed)
	return res, nil
}

// RequestSchedule shows the schedule of day in chat and arms reminders for
// its windows. A loading message is sent first and then edited into the
// result. It returns the number of reminders armed.
func (b *Bot) RequestSchedule(ctx context.Context, chat transport.ChatTarget, day outage.Day) (int, error) {
	ref, err := b.adapter.SendText(ctx, chat, textLoading, nil)
	if err != nil {
		return 0, fmt.Errorf("send loading: %w", err)
	}

	res, err := b.schedule(ctx, chat.ChatID, day, false)
	text := res.Text
	if err != nil {
		text = userMessage(err)
	}
	if eerr := b.adapter.EditText(ctx, ref, text, htmlOpts()); eerr != nil {
		return res.Armed, errors.Join(err, fmt.Errorf("edit reply: %w", eerr))
	}
	return res.Armed, err
}

// EnableReminders subscribes chat to refreshes and shows today's schedule.
func (b *Bot) EnableReminders(ctx context.Context, chat transport.ChatTarget) (int, error) {
	b.subscribe(chat.ChatID)
	return b.RequestSchedule(ctx, chat, outage.Today)
}

// DisableReminders unsubscribes chat and cancels all its pending reminders.
func (b *Bot) DisableReminders(ctx context.Context, chat transport.ChatTarget) (int, error) {
	b.unsubscribe(chat.ChatID)
	n := b.rem.CancelAll(chat.ChatID)
	if _, err := b.adapter.SendText(ctx, chat, disabledText(n), htmlOpts()); err != nil {
		return n, fmt.Errorf("send reply: %w", err)
	}
	return n, nil
}

// Status replies with the subscription state and pending reminders of chat.
func (b *Bot) Status(ctx context.Context, chat transport.ChatTarget) error {
	text := statusText(b.Subscribed(chat.ChatID), b.rem.Pending(chat.ChatID))
	_, err := b.adapter.SendText(ctx, chat, text, htmlOpts())
	return err
}

func (b *Bot) Start(ctx context.Context, chat transport.ChatTarget) error {
	_, err := b.adapter.SendText(ctx, chat, startText(b.queue), &transport.SendOptions{
		ParseMode: "HTML",
		Keyboard:  keyboard,
	})
	return err
}

func (b *Bot) Help(ctx context.Context, chat transport.ChatTarget) error {
	_, err := b.adapter.SendText(ctx, chat, helpText(), htmlOpts())
	return err
}

func (b *Bot) Subscribed(chatID int64) bool {
	b.mu.RLock()
	_, ok := b.subs[chatID]
	b.mu.RUnlock()
	return ok
}

// Subscribers returns the subscribed chats in ascending order.
func (b *Bot) Subscribers() []int64 {
	b.mu.RLock()
	out := make([]int64, 0, len(b.subs))
	for id := range b.subs {
		out = append(out, id)
	}
	b.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (b *Bot) subscribe(chatID int64) {
	b.mu.Lock()
	_, had := b.subs[chatID]
	b.subs[chatID] = struct{}{}
	b.mu.Unlock()
	if !had {
		b.log.Info("chat subscribed", logx.Int64("chat_id", chatID))
		b.publish(EventSubscribed, chatID)
	}
}

func (b *Bot) unsubscribe(chatID int64) {
	b.mu.Lock()
	_, had := b.subs[chatID]
	delete(b.subs, chatID)
	b.mu.Unlock()
	if had {
		b.log.Info("chat unsubscribed", logx.Int64("chat_id", chatID))
		b.publish(EventUnsubscribed, chatID)
	}
}

func (b *Bot) publish(typ string, chatID int64) {
	if b.bus == nil {
		return
	}
	b.bus.Publish(eventbus.Event{Type: typ, Time: b.clk.Now(), Data: SubscriptionEvent{ChatID: chatID}})
}

func htmlOpts() *transport.SendOptions {
	return &transport.SendOptions{ParseMode: "HTML", DisablePreview: true}
}
