// Package reminder arms one-shot reminders ahead of interruption windows.
//
// Each armed reminder is a clock.AfterFunc timer tracked in a registry keyed
// by (recipient, date, window start). All registry mutations happen under a
// single mutex; delivery runs outside it.
package reminder

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
	"outagebot/pkg/logx"
)

// LeadTime is how long before the cutoff a reminder is delivered.
const LeadTime = time.Hour

const defaultDeliveryTimeout = 30 * time.Second

// Event types published on the bus.
const (
	EventArmed     = "reminder.armed"
	EventReplaced  = "reminder.replaced"
	EventSkipped   = "reminder.skipped"
	EventFired     = "reminder.fired"
	EventFailed    = "reminder.failed"
	EventCancelled = "reminder.cancelled"
)

// ErrStopped is returned by Arm and Sync after Stop.
var ErrStopped = errors.New("reminder scheduler stopped")

// Channel delivers reminder text to a recipient.
type Channel interface {
	Deliver(ctx context.Context, recipient int64, text string) error
}

// Key identifies at most one live reminder.
type Key struct {
	Recipient int64
	Date      outage.Date
	Start     outage.ClockTime
}

func (k Key) String() string {
	return fmt.Sprintf("%d_%s_%s", k.Recipient, k.Date, k.Start)
}

// Reminder is a snapshot of an armed registry entry.
type Reminder struct {
	Key     Key
	Trigger time.Time
	Cutoff  time.Time
}

// EventData is the payload of every reminder.* event.
type EventData struct {
	Reminder Reminder
	Err      error
}

type entry struct {
	rem   Reminder
	seq   uint64
	timer clock.Timer
}

// Options configures a Scheduler. Zero values fall back to the real clock,
// time.Local and a 30s delivery timeout.
type Options struct {
	Clock           clock.Clock
	Location        *time.Location
	QueueLabel      string
	DeliveryTimeout time.Duration
	Log             logx.Logger
	Bus             eventbus.Bus
}

// Scheduler owns the reminder registry. It is safe for concurrent use.
type Scheduler struct {
	ch    Channel
	clk   clock.Clock
	loc   *time.Location
	queue string
	tmo   time.Duration
	log   logx.Logger
	bus   eventbus.Bus

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	entries map[Key]*entry
	seq     uint64
	stopped bool
}

// New returns a Scheduler delivering through ch.
func New(ch Channel, opt Options) *Scheduler {
	if opt.Clock == nil {
		opt.Clock = clock.Real()
	}
	if opt.Location == nil {
		opt.Location = time.Local
	}
	if opt.DeliveryTimeout <= 0 {
		opt.DeliveryTimeout = defaultDeliveryTimeout
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		ch:      ch,
		clk:     opt.Clock,
		loc:     opt.Location,
		queue:   opt.QueueLabel,
		tmo:     opt.DeliveryTimeout,
		log:     opt.Log.With(logx.String("comp", "reminder")),
		bus:     opt.Bus,
		ctx:     ctx,
		cancel:  cancel,
		entries: map[Key]*entry{},
	}
}

// Arm schedules a reminder for every interval whose trigger instant
// (cutoff minus LeadTime) is strictly after now. An existing reminder with
// the same key is replaced. It returns the number of reminders armed, or
// ErrStopped once Stop has been called.
func (s *Scheduler) Arm(recipient int64, date outage.Date, intervals []outage.Interval) (int, error) {
	return s.apply(recipient, date, intervals, false)
}

// Sync makes intervals the complete set of windows for recipient on date:
// pending reminders of that date whose start is no longer listed are
// cancelled, the rest are armed as by Arm. An empty set cancels the whole
// date. Both steps happen under one lock.
func (s *Scheduler) Sync(recipient int64, date outage.Date, intervals []outage.Interval) (int, error) {
	return s.apply(recipient, date, intervals, true)
}

func (s *Scheduler) apply(recipient int64, date outage.Date, intervals []outage.Interval, prune bool) (int, error) {
	now := s.clk.Now()
	var events []eventbus.Event
	armed, dropped := 0, 0

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return 0, ErrStopped
	}
	if prune {
		keep := make(map[outage.ClockTime]struct{}, len(intervals))
		for _, iv := range intervals {
			keep[iv.Start] = struct{}{}
		}
		for k, e := range s.entries {
			if k.Recipient != recipient || k.Date != date {
				continue
			}
			if _, ok := keep[k.Start]; ok {
				continue
			}
			e.timer.Stop()
			delete(s.entries, k)
			dropped++
			events = append(events, s.event(EventCancelled, e.rem, nil))
		}
	}
	for _, iv := range intervals {
		cutoff := date.At(iv.Start, s.loc)
		rem := Reminder{
			Key:     Key{Recipient: recipient, Date: date, Start: iv.Start},
			Trigger: cutoff.Add(-LeadTime),
			Cutoff:  cutoff,
		}
		if !rem.Trigger.After(now) {
			events = append(events, s.event(EventSkipped, rem, nil))
			continue
		}
		if old, ok := s.entries[rem.Key]; ok {
			old.timer.Stop()
			events = append(events, s.event(EventReplaced, old.rem, nil))
		}
		s.seq++
		e := &entry{rem: rem, seq: s.seq}
		key, seq := rem.Key, e.seq
		e.timer = s.clk.AfterFunc(rem.Trigger.Sub(now), func() { s.fire(key, seq) })
		s.entries[key] = e
		armed++
		events = append(events, s.event(EventArmed, rem, nil))
	}
	s.mu.Unlock()

	s.publish(events)
	s.log.Debug("arm",
		logx.Int64("recipient", recipient),
		logx.String("date", date.String()),
		logx.Int("intervals", len(intervals)),
		logx.Int("armed", armed),
		logx.Int("dropped", dropped),
	)
	return armed, nil
}

// CancelAll cancels and removes every pending reminder of recipient.
// A reminder whose timer already claimed its entry may still deliver.
func (s *Scheduler) CancelAll(recipient int64) int {
	var events []eventbus.Event

	s.mu.Lock()
	for k, e := range s.entries {
		if k.Recipient != recipient {
			continue
		}
		e.timer.Stop()
		delete(s.entries, k)
		events = append(events, s.event(EventCancelled, e.rem, nil))
	}
	s.mu.Unlock()

	s.publish(events)
	if n := len(events); n > 0 {
		s.log.Info("reminders cancelled", logx.Int64("recipient", recipient), logx.Int("count", n))
	}
	return len(events)
}

// Pending returns the live reminders of recipient ordered by trigger time.
func (s *Scheduler) Pending(recipient int64) []Reminder {
	s.mu.Lock()
	out := make([]Reminder, 0, 4)
	for k, e := range s.entries {
		if k.Recipient == recipient {
			out = append(out, e.rem)
		}
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Trigger.Before(out[j].Trigger) })
	return out
}

// Len returns the number of live reminders across all recipients.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Stop cancels every pending timer and waits for in-flight deliveries.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	n := len(s.entries)
	for k, e := range s.entries {
		e.timer.Stop()
		delete(s.entries, k)
	}
	s.mu.Unlock()
	s.log.Info("scheduler stopping", logx.Int("dropped", n))

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.cancel()
		return nil
	case <-ctx.Done():
		s.cancel()
		return ctx.Err()
	}
}

func (s *Scheduler) fire(key Key, seq uint64) {
	// Removing the entry is the point of no return: from here on a
	// concurrent CancelAll no longer sees this reminder.
	s.mu.Lock()
	e, ok := s.entries[key]
	if !ok || e.seq != seq || s.stopped {
		s.mu.Unlock()
		return
	}
	delete(s.entries, key)
	s.wg.Add(1)
	s.mu.Unlock()
	defer s.wg.Done()

	ctx, cancel := context.WithTimeout(s.ctx, s.tmo)
	err := s.ch.Deliver(ctx, key.Recipient, Message(s.queue, e.rem.Cutoff))
	cancel()

	if err != nil {
		s.log.Warn("reminder delivery failed",
			logx.String("key", key.String()),
			logx.Err(err),
		)
		s.publish([]eventbus.Event{s.event(EventFailed, e.rem, err)})
		return
	}
	s.log.Info("reminder delivered",
		logx.String("key", key.String()),
		logx.Time("cutoff", e.rem.Cutoff),
	)
	s.publish([]eventbus.Event{s.event(EventFired, e.rem, nil)})
}

func (s *Scheduler) event(typ string, rem Reminder, err error) eventbus.Event {
	return eventbus.Event{Type: typ, Time: s.clk.Now(), Data: EventData{Reminder: rem, Err: err}}
}

func (s *Scheduler) publish(events []eventbus.Event) {
	if s.bus == nil {
		return
	}
	for _, e := range events {
		s.bus.Publish(e)
	}
}
