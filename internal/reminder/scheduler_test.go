package reminder

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"outagebot/internal/clock"
	"outagebot/internal/eventbus"
	"outagebot/internal/outage"
)

var kyiv = time.FixedZone("EET", 2*60*60)

type delivery struct {
	recipient int64
	text      string
}

type fakeChannel struct {
	mu    sync.Mutex
	sent  []delivery
	err   error
	onDel func(recipient int64)
}

func (f *fakeChannel) Deliver(_ context.Context, recipient int64, text string) error {
	if f.onDel != nil {
		f.onDel(recipient)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, delivery{recipient: recipient, text: text})
	return f.err
}

func (f *fakeChannel) deliveries() []delivery {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]delivery(nil), f.sent...)
}

func mustDate(t *testing.T, s string) outage.Date {
	t.Helper()
	d, err := outage.ParseDate(s)
	if err != nil {
		t.Fatalf("ParseDate(%q): %v", s, err)
	}
	return d
}

func at(h, m int) time.Time {
	return time.Date(2025, time.March, 5, h, m, 0, 0, kyiv)
}

func sampleIntervals() []outage.Interval {
	return outage.Parse("03:00 - 07:00  15:00 - 19:00")
}

func newTestScheduler(now time.Time, ch Channel, bus eventbus.Bus) (*Scheduler, *clock.Manual) {
	clk := clock.NewManual(now)
	s := New(ch, Options{Clock: clk, Location: kyiv, QueueLabel: "6.2", Bus: bus})
	return s, clk
}

func TestArmTriggerMustBeStrictlyFuture(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		now  time.Time
		want int
	}{
		{name: "before both triggers", now: at(1, 59), want: 2},
		{name: "exactly at first trigger", now: at(2, 0), want: 1},
		{name: "between triggers", now: at(13, 59), want: 1},
		{name: "past second trigger before cutoff", now: at(14, 30), want: 0},
		{name: "after all cutoffs", now: at(20, 0), want: 0},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s, _ := newTestScheduler(tt.now, &fakeChannel{}, nil)
			got, err := s.Arm(1, mustDate(t, "05.03.2025"), sampleIntervals())
			if err != nil || got != tt.want {
				t.Fatalf("Arm = %d, want %d", got, tt.want)
			}
			if s.Len() != tt.want {
				t.Fatalf("Len = %d, want %d", s.Len(), tt.want)
			}
			for _, r := range s.Pending(1) {
				if !r.Trigger.After(tt.now) {
					t.Fatalf("armed reminder with trigger %v not after now %v", r.Trigger, tt.now)
				}
				if r.Cutoff.Sub(r.Trigger) != LeadTime {
					t.Fatalf("lead = %v", r.Cutoff.Sub(r.Trigger))
				}
			}
		})
	}
}

func TestArmDeliversAtTrigger(t *testing.T) {
	t.Parallel()
	ch := &fakeChannel{}
	s, clk := newTestScheduler(at(1, 0), ch, nil)
	if n, err := s.Arm(42, mustDate(t, "05.03.2025"), sampleIntervals()); n != 2 || err != nil {
		t.Fatalf("Arm = %d, %v", n, err)
	}

	clk.Set(at(1, 59))
	if got := ch.deliveries(); len(got) != 0 {
		t.Fatalf("delivered early: %v", got)
	}

	clk.Set(at(2, 0))
	got := ch.deliveries()
	if len(got) != 1 || got[0].recipient != 42 {
		t.Fatalf("deliveries = %v", got)
	}
	for _, want := range []string{"<b>Черга 6.2</b>", "<b>1 годину</b>", "Час: <b>03:00</b>"} {
		if !strings.Contains(got[0].text, want) {
			t.Fatalf("message %q missing %q", got[0].text, want)
		}
	}
	if s.Len() != 1 {
		t.Fatalf("Len after first fire = %d", s.Len())
	}

	clk.Set(at(14, 0))
	if got := ch.deliveries(); len(got) != 2 || !strings.Contains(got[1].text, "15:00") {
		t.Fatalf("deliveries = %v", got)
	}
	if s.Len() != 0 {
		t.Fatalf("Len after all fired = %d", s.Len())
	}
}

func TestRearmReplacesWithoutDoubleDelivery(t *testing.T) {
	t.Parallel()
	ch := &fakeChannel{}
	s, clk := newTestScheduler(at(0, 0), ch, nil)
	date := mustDate(t, "05.03.2025")
	ivs := outage.Parse("03:00 - 07:00")

	s.Arm(7, date, ivs)
	clk.Advance(30 * time.Minute)
	s.Arm(7, date, ivs)
	s.Arm(7, date, ivs)

	if s.Len() != 1 {
		t.Fatalf("Len = %d, want 1", s.Len())
	}
	if clk.Pending() != 1 {
		t.Fatalf("pending timers = %d, want 1", clk.Pending())
	}
	clk.Set(at(3, 0))
	if got := ch.deliveries(); len(got) != 1 {
		t.Fatalf("deliveries = %d, want 1", len(got))
	}
}

func TestCancelAllIsolatesRecipients(t *testing.T) {
	t.Parallel()
	ch := &fakeChannel{}
	s, clk := newTestScheduler(at(0, 0), ch, nil)
	date := mustDate(t, "05.03.2025")
	s.Arm(1, date, sampleIntervals())
	s.Arm(2, date, sampleIntervals())

	if n := s.CancelAll(1); n != 2 {
		t.Fatalf("CancelAll(1) = %d, want 2", n)
	}
	if n := s.CancelAll(1); n != 0 {
		t.Fatalf("second CancelAll(1) = %d, want 0", n)
	}
	if n := s.CancelAll(99); n != 0 {
		t.Fatalf("CancelAll(unknown) = %d", n)
	}
	if got := len(s.Pending(2)); got != 2 {
		t.Fatalf("Pending(2) = %d, want 2", got)
	}

	clk.Advance(24 * time.Hour)
	for _, d := range ch.deliveries() {
		if d.recipient != 2 {
			t.Fatalf("cancelled recipient received %v", d)
		}
	}
	if got := len(ch.deliveries()); got != 2 {
		t.Fatalf("deliveries = %d, want 2", got)
	}
}

func TestCancelAfterDecisionPoint(t *testing.T) {
	t.Parallel()
	ch := &fakeChannel{}
	s, clk := newTestScheduler(at(0, 0), ch, nil)
	var cancelled int
	ch.onDel = func(r int64) { cancelled = s.CancelAll(r) }

	s.Arm(5, mustDate(t, "05.03.2025"), outage.Parse("03:00 - 07:00"))
	clk.Set(at(2, 0))

	if len(ch.deliveries()) != 1 {
		t.Fatal("reminder past the decision point should still deliver")
	}
	if cancelled != 0 {
		t.Fatalf("CancelAll during delivery = %d, want 0", cancelled)
	}
}

func TestDeliveryFailureRetiresEntry(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	events, unsub := bus.Subscribe(16)
	defer unsub()

	ch := &fakeChannel{err: errors.New("blocked by user")}
	s, clk := newTestScheduler(at(0, 0), ch, bus)
	s.Arm(3, mustDate(t, "05.03.2025"), outage.Parse("03:00 - 07:00"))
	clk.Set(at(2, 0))

	if s.Len() != 0 {
		t.Fatalf("Len = %d, want 0", s.Len())
	}
	clk.Advance(time.Hour)
	if got := len(ch.deliveries()); got != 1 {
		t.Fatalf("deliveries = %d, want exactly one attempt", got)
	}

	var types []string
	for len(events) > 0 {
		types = append(types, (<-events).Type)
	}
	want := []string{EventArmed, EventFailed}
	if strings.Join(types, ",") != strings.Join(want, ",") {
		t.Fatalf("events = %v, want %v", types, want)
	}
}

func TestArmPublishesSkipAndReplace(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	events, unsub := bus.Subscribe(16)
	defer unsub()

	s, _ := newTestScheduler(at(2, 0), &fakeChannel{}, bus)
	date := mustDate(t, "05.03.2025")
	s.Arm(1, date, sampleIntervals())
	s.Arm(1, date, outage.Parse("15:00 - 19:00"))
	s.CancelAll(1)

	var types []string
	for len(events) > 0 {
		types = append(types, (<-events).Type)
	}
	want := []string{EventSkipped, EventArmed, EventReplaced, EventArmed, EventCancelled}
	if strings.Join(types, ",") != strings.Join(want, ",") {
		t.Fatalf("events = %v, want %v", types, want)
	}
}

func TestSyncDropsUnlistedWindows(t *testing.T) {
	t.Parallel()
	date := mustDate(t, "05.03.2025")
	next := date.AddDays(1)
	tests := []struct {
		name       string
		windows    string
		wantStarts []string
	}{
		{name: "window moved", windows: "03:00 - 07:00  17:00 - 21:00", wantStarts: []string{"03:00", "17:00"}},
		{name: "same windows", windows: "03:00 - 07:00  15:00 - 19:00", wantStarts: []string{"03:00", "15:00"}},
		{name: "all windows removed", windows: "", wantStarts: nil},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			ch := &fakeChannel{}
			s, clk := newTestScheduler(at(1, 0), ch, nil)
			s.Arm(1, date, sampleIntervals())
			s.Arm(1, next, sampleIntervals())
			s.Arm(2, date, sampleIntervals())

			if _, err := s.Sync(1, date, outage.Parse(tt.windows)); err != nil {
				t.Fatalf("Sync: %v", err)
			}

			var starts []string
			for _, r := range s.Pending(1) {
				if r.Key.Date == date {
					starts = append(starts, r.Key.Start.String())
				}
			}
			if strings.Join(starts, ",") != strings.Join(tt.wantStarts, ",") {
				t.Fatalf("pending starts = %v, want %v", starts, tt.wantStarts)
			}
			if got := len(s.Pending(2)); got != 2 {
				t.Fatalf("other recipient pending = %d", got)
			}
			if got := len(s.Pending(1)) - len(starts); got != 2 {
				t.Fatalf("next day pending = %d", got)
			}

			clk.Advance(23 * time.Hour)
			n := 0
			for _, d := range ch.deliveries() {
				if d.recipient == 1 {
					n++
				}
			}
			if n != len(tt.wantStarts) {
				t.Fatalf("deliveries to recipient 1 = %d, want %d", n, len(tt.wantStarts))
			}
		})
	}
}

func TestStopCancelsPending(t *testing.T) {
	t.Parallel()
	ch := &fakeChannel{}
	s, clk := newTestScheduler(at(0, 0), ch, nil)
	date := mustDate(t, "05.03.2025")
	s.Arm(1, date, sampleIntervals())

	if err := s.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if clk.Pending() != 0 || s.Len() != 0 {
		t.Fatalf("timers = %d, entries = %d after Stop", clk.Pending(), s.Len())
	}
	if n, err := s.Arm(1, date, sampleIntervals()); n != 0 || !errors.Is(err, ErrStopped) {
		t.Fatalf("Arm after Stop = %d, %v", n, err)
	}
	if _, err := s.Sync(1, date, nil); !errors.Is(err, ErrStopped) {
		t.Fatalf("Sync after Stop = %v", err)
	}
	clk.Advance(24 * time.Hour)
	if len(ch.deliveries()) != 0 {
		t.Fatal("delivered after Stop")
	}
	if err := s.Stop(context.Background()); err != nil {
		t.Fatalf("second Stop: %v", err)
	}
}

func TestConcurrentArmAndCancel(t *testing.T) {
	t.Parallel()
	ch := &fakeChannel{}
	s := New(ch, Options{Location: kyiv})
	date := outage.DateOf(time.Now().In(kyiv)).AddDays(2)
	ivs := outage.Parse("03:00 - 07:00  15:00 - 19:00")

	var wg sync.WaitGroup
	for r := int64(1); r <= 8; r++ {
		for i := 0; i < 20; i++ {
			wg.Add(2)
			go func(r int64) {
				defer wg.Done()
				s.Arm(r, date, ivs)
			}(r)
			go func(r int64) {
				defer wg.Done()
				s.CancelAll(r)
			}(r)
		}
	}
	wg.Wait()

	for r := int64(1); r <= 8; r++ {
		if n := len(s.Pending(r)); n > 2 {
			t.Fatalf("recipient %d has %d live reminders, want at most 2", r, n)
		}
		s.CancelAll(r)
	}
	if s.Len() != 0 {
		t.Fatalf("Len = %d after cancelling all", s.Len())
	}
	_ = s.Stop(context.Background())
}

func TestKeyString(t *testing.T) {
	t.Parallel()
	k := Key{Recipient: 12, Date: outage.Date{Year: 2025, Month: time.March, Day: 5}, Start: outage.ClockTime{Hour: 3}}
	if got := k.String(); got != "12_05.03.2025_03:00" {
		t.Fatalf("Key.String = %q", got)
	}
}

func TestMessageWithoutQueue(t *testing.T) {
	t.Parallel()
	msg := Message("", at(15, 0))
	if strings.Contains(msg, "Черга") {
		t.Fatalf("unexpected queue line: %q", msg)
	}
	if !strings.HasPrefix(msg, "⚠️ <b>Нагадування про відключення світла!</b>\n\n") {
		t.Fatalf("unexpected header: %q", msg)
	}
	if !strings.HasSuffix(msg, "\n\nПідготуйтеся заздалегідь!") {
		t.Fatalf("unexpected footer: %q", msg)
	}
}
