package state

import "fmt"

// Clock is the slot and timestamp of the last committed command. Neither
// moves backwards.
type Clock struct {
	Slot      uint64 `json:"slot"`
	Timestamp int64  `json:"timestamp"` // unix seconds
}

// Check rejects a command stamped before the clock.
func (c Clock) Check(slot uint64, timestamp int64) error {
	if slot < c.Slot {
		return fmt.Errorf("%w: slot %d before %d", ErrClockRegression, slot, c.Slot)
	}
	if timestamp < c.Timestamp {
		return fmt.Errorf("%w: timestamp %d before %d", ErrClockRegression, timestamp, c.Timestamp)
	}
	return nil
}

// Clamp lifts a stamp to the clock so a lagging source cannot regress it.
func (c Clock) Clamp(slot uint64, timestamp int64) (uint64, int64) {
	return max(slot, c.Slot), max(timestamp, c.Timestamp)
}
