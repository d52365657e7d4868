package core

import (
	"time"

	"github.com/x5th/x-leverage/internal/state"
)

// Clock supplies the slot and timestamp stamped onto live commands. The
// core reads it under its mutex and never lets either value move back.
type Clock interface {
	Now() (slot uint64, timestamp int64)
}

// DefaultSlotDuration matches a 400ms block time.
const DefaultSlotDuration = 400 * time.Millisecond

// SlotClock counts slots of a fixed duration since the Unix epoch. Slot
// zero is never issued.
type SlotClock struct {
	slotDuration time.Duration
	now          func() time.Time
}

func NewSlotClock(slotDuration time.Duration) *SlotClock {
	if slotDuration <= 0 {
		slotDuration = DefaultSlotDuration
	}
	return &SlotClock{slotDuration: slotDuration, now: time.Now}
}

func (c *SlotClock) Now() (uint64, int64) {
	t := c.now()
	return uint64(t.UnixNano()/int64(c.slotDuration)) + 1, t.Unix()
}

func clockBytes(c state.Clock) []byte {
	buf := make([]byte, 0, 17)
	buf = append(buf, 'c')
	buf = appendInt64LE(buf, int64(c.Slot))
	return appendInt64LE(buf, c.Timestamp)
}
