package core

import (
	"testing"
	"time"
)

func TestSlotClock_Now(t *testing.T) {
	c := NewSlotClock(time.Second)
	c.now = func() time.Time { return time.Unix(100, 500_000_000) }

	slot, ts := c.Now()
	if slot != 101 || ts != 100 {
		t.Fatalf("expected slot 101 at 100, got %d at %d", slot, ts)
	}

	c.now = func() time.Time { return time.Unix(101, 0) }
	if next, _ := c.Now(); next != 102 {
		t.Fatalf("expected slot 102, got %d", next)
	}
}

func TestSlotClock_DefaultDuration(t *testing.T) {
	if c := NewSlotClock(0); c.slotDuration != DefaultSlotDuration {
		t.Fatalf("expected %s, got %s", DefaultSlotDuration, c.slotDuration)
	}
}
