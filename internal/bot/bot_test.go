package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"outagebot/internal/clock"
	"outagebot/internal/eventbus"
	"outagebot/internal/notifier"
	"outagebot/internal/outage"
	"outagebot/internal/reminder"
	"outagebot/internal/source"
	"outagebot/internal/transport"
	"outagebot/pkg/logx"
)

var kyiv = time.FixedZone("EET", 2*60*60)

type outMsg struct {
	chatID int64
	ref    int // message id; for edits the id of the edited message
	edit   bool
	text   string
	opt    transport.SendOptions
}

type fakeAdapter struct {
	mu   sync.Mutex
	msgs []outMsg
	next int
}

func (f *fakeAdapter) Start(context.Context, chan<- transport.Update) error { return nil }
func (f *fakeAdapter) Stop(context.Context) error                          { return nil }

func (f *fakeAdapter) SendText(_ context.Context, to transport.ChatTarget, text string, opt *transport.SendOptions) (transport.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.next++
	m := outMsg{chatID: to.ChatID, ref: f.next, text: text}
	if opt != nil {
		m.opt = *opt
	}
	f.msgs = append(f.msgs, m)
	return transport.MessageRef{ChatID: to.ChatID, ThreadID: to.ThreadID, MessageID: f.next}, nil
}

func (f *fakeAdapter) EditText(_ context.Context, ref transport.MessageRef, text string, opt *transport.SendOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	m := outMsg{chatID: ref.ChatID, ref: ref.MessageID, edit: true, text: text}
	if opt != nil {
		m.opt = *opt
	}
	f.msgs = append(f.msgs, m)
	return nil
}

func (f *fakeAdapter) all() []outMsg {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]outMsg(nil), f.msgs...)
}

func (f *fakeAdapter) last(t *testing.T) outMsg {
	t.Helper()
	all := f.all()
	if len(all) == 0 {
		t.Fatal("nothing sent")
	}
	return all[len(all)-1]
}

// fakeSource serves raw cells per date, parsing them like the real client.
type fakeSource struct {
	mu          sync.Mutex
	rows        map[outage.Date]string
	err         error
	asked       []outage.Date
	invalidated int
}

func (f *fakeSource) set(date outage.Date, raw string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.rows == nil {
		f.rows = map[outage.Date]string{}
	}
	f.rows[date] = raw
}

func (f *fakeSource) FetchWindows(_ context.Context, date outage.Date) ([]outage.Interval, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.asked = append(f.asked, date)
	if f.err != nil {
		return nil, f.err
	}
	raw, ok := f.rows[date]
	if !ok || raw == "Очікується" {
		return nil, fmt.Errorf("%s: %w", date, source.ErrNoData)
	}
	return outage.Parse(raw), nil
}

func (f *fakeSource) FetchRaw(context.Context) (map[outage.Date]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	out := make(map[outage.Date]string, len(f.rows))
	for k, v := range f.rows {
		out[k] = v
	}
	return out, nil
}

func (f *fakeSource) Invalidate() {
	f.mu.Lock()
	f.invalidated++
	f.mu.Unlock()
}

type recordingChannel struct {
	mu   sync.Mutex
	sent map[int64][]string
}

func (c *recordingChannel) Deliver(_ context.Context, recipient int64, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sent == nil {
		c.sent = map[int64][]string{}
	}
	c.sent[recipient] = append(c.sent[recipient], text)
	return nil
}

func (c *recordingChannel) count(recipient int64) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sent[recipient])
}

type fixture struct {
	clk     *clock.Manual
	adapter *fakeAdapter
	src     *fakeSource
	ch      *recordingChannel
	sched   *reminder.Scheduler
	bus     eventbus.Bus
	bot     *Bot
}

func newFixture(now time.Time) *fixture {
	f := &fixture{
		clk:     clock.NewManual(now),
		adapter: &fakeAdapter{},
		src:     &fakeSource{},
		ch:      &recordingChannel{},
		bus:     eventbus.New(),
	}
	f.sched = reminder.New(f.ch, reminder.Options{
		Clock:      f.clk,
		Location:   kyiv,
		QueueLabel: "6.2",
		Log:        logx.Nop(),
	})
	f.bot = New(Options{
		Adapter:    f.adapter,
		Source:     f.src,
		Reminders:  f.sched,
		Clock:      f.clk,
		Location:   kyiv,
		QueueLabel: "6.2",
		Log:        logx.Nop(),
		Bus:        f.bus,
	})
	return f
}

func date(t *testing.T, s string) outage.Date {
	t.Helper()
	d, err := outage.ParseDate(s)
	if err != nil {
		t.Fatal(err)
	}
	return d
}

var chat = transport.ChatTarget{ChatID: 77}

func TestRequestScheduleArmsAndEditsLoadingMessage(t *testing.T) {
	t.Parallel()
	f := newFixture(time.Date(2025, time.March, 5, 1, 59, 0, 0, kyiv))
	f.src.set(date(t, "05.03.2025"), "03:00 - 07:00  15:00 - 19:00")

	armed, err := f.bot.RequestSchedule(context.Background(), chat, outage.Today)
	if err != nil {
		t.Fatalf("RequestSchedule: %v", err)
	}
	if armed != 2 {
		t.Fatalf("armed = %d, want 2", armed)
	}

	msgs := f.adapter.all()
	if len(msgs) != 2 || msgs[0].text != textLoading || !msgs[1].edit || msgs[1].ref != msgs[0].ref {
		t.Fatalf("messages = %+v", msgs)
	}
	reply := msgs[1]
	for _, want := range []string{
		"Графік чергу 6.2 на сьогодні",
		"Дата: <b>05.03.2025</b>",
		"1. <b>03:00</b> - <b>07:00</b>",
		"2. <b>15:00</b> - <b>19:00</b>",
		"✅ Нагадування активовані!",
	} {
		if !strings.Contains(reply.text, want) {
			t.Errorf("reply missing %q:\n%s", want, reply.text)
		}
	}
	if reply.opt.ParseMode != "HTML" {
		t.Fatalf("parse mode = %q", reply.opt.ParseMode)
	}

	f.clk.Advance(time.Minute)
	if got := f.ch.count(chat.ChatID); got != 1 {
		t.Fatalf("reminders delivered at 02:00 = %d, want 1", got)
	}
}

func TestRequestScheduleOutcomes(t *testing.T) {
	t.Parallel()
	boom := errors.New("connection reset")
	tests := []struct {
		name      string
		now       time.Time
		day       outage.Day
		raw       map[string]string
		srcErr    error
		wantText  string
		wantArmed int
		wantErr   error
	}{
		{
			name:     "no row",
			now:      time.Date(2025, time.March, 5, 9, 0, 0, 0, kyiv),
			day:      outage.Tomorrow,
			wantText: "❌ Дані для завтра ще недоступні.",
		},
		{
			name:     "pending marker",
			now:      time.Date(2025, time.March, 5, 9, 0, 0, 0, kyiv),
			day:      outage.Today,
			raw:      map[string]string{"05.03.2025": "Очікується"},
			wantText: "❌ Дані для сьогодні ще недоступні.",
		},
		{
			name:     "fetch error",
			now:      time.Date(2025, time.March, 5, 9, 0, 0, 0, kyiv),
			day:      outage.Today,
			srcErr:   boom,
			wantText: textFetchFailed,
			wantErr:  boom,
		},
		{
			name:      "all windows past",
			now:       time.Date(2025, time.March, 5, 20, 0, 0, 0, kyiv),
			day:       outage.Today,
			raw:       map[string]string{"05.03.2025": "03:00 - 07:00  15:00 - 19:00"},
			wantText:  "1. <b>03:00</b> - <b>07:00</b>",
			wantArmed: 0,
		},
		{
			name:      "tomorrow",
			now:       time.Date(2025, time.March, 5, 23, 30, 0, 0, kyiv),
			day:       outage.Tomorrow,
			raw:       map[string]string{"06.03.2025": "00:30 - 04:00"},
			wantText:  "Дата: <b>06.03.2025</b>",
			wantArmed: 0, // trigger 23:30 is not after now
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			f := newFixture(tt.now)
			f.src.err = tt.srcErr
			for d, raw := range tt.raw {
				f.src.set(date(t, d), raw)
			}

			armed, err := f.bot.RequestSchedule(context.Background(), chat, tt.day)
			if tt.wantErr == nil && err != nil {
				t.Fatalf("err = %v", err)
			}
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("err = %v, want %v", err, tt.wantErr)
				}
				var ue *UserError
				if !errors.As(err, &ue) {
					t.Fatalf("err should carry a user message: %T", err)
				}
			}
			if armed != tt.wantArmed {
				t.Fatalf("armed = %d, want %d", armed, tt.wantArmed)
			}
			if got := f.adapter.last(t).text; !strings.Contains(got, tt.wantText) {
				t.Fatalf("reply = %q, want %q", got, tt.wantText)
			}
			if tt.wantArmed == 0 && strings.Contains(f.adapter.last(t).text, "активовані") {
				t.Fatal("nothing armed; reply should not claim reminders are on")
			}
		})
	}
}

func TestEnableAndDisableReminders(t *testing.T) {
	t.Parallel()
	f := newFixture(time.Date(2025, time.March, 5, 0, 0, 0, 0, kyiv))
	f.src.set(date(t, "05.03.2025"), "03:00 - 07:00  15:00 - 19:00")
	other := transport.ChatTarget{ChatID: 88}
	events, unsub := f.bus.Subscribe(8)
	defer unsub()
	ctx := context.Background()

	if _, err := f.bot.EnableReminders(ctx, chat); err != nil {
		t.Fatal(err)
	}
	if _, err := f.bot.RequestSchedule(ctx, other, outage.Today); err != nil {
		t.Fatal(err)
	}
	if !f.bot.Subscribed(chat.ChatID) || f.bot.Subscribed(other.ChatID) {
		t.Fatalf("subscribers = %v", f.bot.Subscribers())
	}

	n, err := f.bot.DisableReminders(ctx, chat)
	if err != nil || n != 2 {
		t.Fatalf("DisableReminders = %d, %v", n, err)
	}
	if got := f.adapter.last(t).text; got != "✅ Нагадування вимкнені.\nСкасовано нагадувань: 2" {
		t.Fatalf("reply = %q", got)
	}
	if f.bot.Subscribed(chat.ChatID) {
		t.Fatal("chat should be unsubscribed")
	}
	if len(f.sched.Pending(other.ChatID)) != 2 {
		t.Fatal("other chat's reminders must survive")
	}

	n, _ = f.bot.DisableReminders(ctx, chat)
	if n != 0 {
		t.Fatalf("second disable cancelled %d", n)
	}

	var types []string
	for len(events) > 0 {
		types = append(types, (<-events).Type)
	}
	if strings.Join(types, ",") != EventSubscribed+","+EventUnsubscribed {
		t.Fatalf("events = %v", types)
	}
}

func TestStatusListsPending(t *testing.T) {
	t.Parallel()
	f := newFixture(time.Date(2025, time.March, 5, 0, 0, 0, 0, kyiv))
	f.src.set(date(t, "05.03.2025"), "15:00 - 19:00")
	ctx := context.Background()

	if err := f.bot.Status(ctx, chat); err != nil {
		t.Fatal(err)
	}
	if got := f.adapter.last(t).text; !strings.Contains(got, "Активних нагадувань немає.") {
		t.Fatalf("empty status = %q", got)
	}

	_, _ = f.bot.EnableReminders(ctx, chat)
	_ = f.bot.Status(ctx, chat)
	got := f.adapter.last(t).text
	for _, want := range []string{"<b>увімкнено</b>", "05.03.2025 <b>15:00</b> (о 14:00)"} {
		if !strings.Contains(got, want) {
			t.Fatalf("status missing %q:\n%s", want, got)
		}
	}
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []notifier.Notification
}

func (n *fakeNotifier) Notify(_ context.Context, x notifier.Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, x)
	return nil
}

func (n *fakeNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.sent)
}

type memSnapshots struct {
	mu     sync.Mutex
	m      map[outage.Date]string
	pruned []outage.Date
}

func (s *memSnapshots) PutSnapshot(_ context.Context, day outage.Date, raw string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.m == nil {
		s.m = map[outage.Date]string{}
	}
	prev, ok := s.m[day]
	s.m[day] = raw
	return !ok || prev != raw, nil
}

func (s *memSnapshots) PruneSnapshots(_ context.Context, before outage.Date) (int64, error) {
	s.mu.Lock()
	s.pruned = append(s.pruned, before)
	s.mu.Unlock()
	return 0, nil
}

func TestRefresherRearmsSubscribersAndAnnouncesChanges(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name  string
		snaps *memSnapshots
	}{
		{"in memory", nil},
		{"with storage", &memSnapshots{}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			f := newFixture(time.Date(2025, time.March, 5, 0, 0, 0, 0, kyiv))
			today := date(t, "05.03.2025")
			f.src.set(today, "03:00 - 07:00")
			ctx := context.Background()
			_, _ = f.bot.EnableReminders(ctx, chat)

			n := &fakeNotifier{}
			opt := RefreshOptions{Source: f.src, Notifier: n, NotifyChanges: true}
			if tt.snaps != nil {
				opt.Snapshots = tt.snaps
			}
			r := NewRefresher(f.bot, opt)

			if err := r.Run(ctx); err != nil {
				t.Fatalf("Run: %v", err)
			}
			if n.count() != 1 {
				t.Fatalf("first run notices = %d, want 1 (today only, tomorrow has no data)", n.count())
			}
			if err := r.Run(ctx); err != nil {
				t.Fatal(err)
			}
			if n.count() != 1 {
				t.Fatalf("unchanged table should not notify, got %d", n.count())
			}

			f.src.set(today, "03:00 - 07:00  15:00 - 19:00")
			if err := r.Run(ctx); err != nil {
				t.Fatal(err)
			}
			if n.count() != 2 {
				t.Fatalf("changed table notices = %d, want 2", n.count())
			}
			if !strings.Contains(n.sent[1].Text, "🔄 Графік оновлено") || n.sent[1].ChatID != chat.ChatID {
				t.Fatalf("notice = %+v", n.sent[1])
			}
			if got := len(f.sched.Pending(chat.ChatID)); got != 2 {
				t.Fatalf("pending after refresh = %d, want 2 (no duplicates)", got)
			}
			if f.src.invalidated != 3 {
				t.Fatalf("cache invalidations = %d", f.src.invalidated)
			}
			if tt.snaps != nil && len(tt.snaps.pruned) != 3 {
				t.Fatalf("prune calls = %d", len(tt.snaps.pruned))
			}
		})
	}
}

func TestRefresherDropsWithdrawnWindows(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name        string
		updated     string
		wantCutoffs []string
	}{
		{"window moved", "17:00 - 21:00", []string{"17:00"}},
		{"window kept", "15:00 - 19:00", []string{"15:00"}},
		{"not published any more", "Очікується", nil},
		{"no windows left", "", nil},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			f := newFixture(time.Date(2025, time.March, 5, 8, 0, 0, 0, kyiv))
			today := date(t, "05.03.2025")
			f.src.set(today, "15:00 - 19:00")
			ctx := context.Background()
			if _, err := f.bot.EnableReminders(ctx, chat); err != nil {
				t.Fatal(err)
			}

			f.src.set(today, tt.updated)
			r := NewRefresher(f.bot, RefreshOptions{Source: f.src})
			if err := r.Run(ctx); err != nil {
				t.Fatalf("Run: %v", err)
			}

			var cutoffs []string
			for _, rem := range f.sched.Pending(chat.ChatID) {
				cutoffs = append(cutoffs, rem.Cutoff.Format("15:04"))
			}
			if strings.Join(cutoffs, ",") != strings.Join(tt.wantCutoffs, ",") {
				t.Fatalf("pending cutoffs = %v, want %v", cutoffs, tt.wantCutoffs)
			}

			f.clk.Advance(24 * time.Hour)
			if got := f.ch.count(chat.ChatID); got != len(tt.wantCutoffs) {
				t.Fatalf("deliveries = %d, want %d", got, len(tt.wantCutoffs))
			}
		})
	}
}

func TestRefresherSourceFailure(t *testing.T) {
	t.Parallel()
	f := newFixture(time.Date(2025, time.March, 5, 0, 0, 0, 0, kyiv))
	f.src.err = errors.New("503")
	r := NewRefresher(f.bot, RefreshOptions{Source: f.src})
	if err := r.Run(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}
