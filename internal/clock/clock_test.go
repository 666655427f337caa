package clock

import (
	"testing"
	"time"
)

func TestManualFiresInOrder(t *testing.T) {
	t.Parallel()
	start := time.Date(2025, time.March, 5, 2, 0, 0, 0, time.UTC)
	c := NewManual(start)

	var got []string
	c.AfterFunc(2*time.Hour, func() { got = append(got, "b") })
	c.AfterFunc(time.Hour, func() { got = append(got, "a") })
	stopped := c.AfterFunc(90*time.Minute, func() { got = append(got, "x") })
	if !stopped.Stop() {
		t.Fatal("Stop on pending timer should return true")
	}
	if stopped.Stop() {
		t.Fatal("second Stop should return false")
	}

	c.Advance(time.Hour)
	if len(got) != 1 || got[0] != "a" {
		t.Fatalf("after 1h got %v", got)
	}
	if !c.Now().Equal(start.Add(time.Hour)) {
		t.Fatalf("Now = %v", c.Now())
	}

	c.Advance(3 * time.Hour)
	if len(got) != 2 || got[1] != "b" {
		t.Fatalf("after 4h got %v", got)
	}
	if c.Pending() != 0 {
		t.Fatalf("Pending = %d", c.Pending())
	}
}

func TestManualNowDuringCallback(t *testing.T) {
	t.Parallel()
	start := time.Date(2025, time.March, 5, 0, 0, 0, 0, time.UTC)
	c := NewManual(start)
	var at time.Time
	c.AfterFunc(30*time.Minute, func() { at = c.Now() })
	c.Advance(2 * time.Hour)
	if !at.Equal(start.Add(30 * time.Minute)) {
		t.Fatalf("callback saw Now = %v", at)
	}
}

func TestManualStopAfterFire(t *testing.T) {
	t.Parallel()
	c := NewManual(time.Unix(0, 0))
	tm := c.AfterFunc(time.Second, func() {})
	c.Advance(time.Second)
	if tm.Stop() {
		t.Fatal("Stop after fire should return false")
	}
}
