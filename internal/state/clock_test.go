package state

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClock_Check(t *testing.T) {
	c := Clock{Slot: 10, Timestamp: 1_000}

	assert.NoError(t, c.Check(10, 1_000))
	assert.NoError(t, c.Check(11, 1_001))
	assert.ErrorIs(t, c.Check(9, 1_000), ErrClockRegression)
	assert.ErrorIs(t, c.Check(10, 999), ErrClockRegression)
	assert.NoError(t, Clock{}.Check(0, 0))
}

func TestClock_Clamp(t *testing.T) {
	c := Clock{Slot: 10, Timestamp: 1_000}

	slot, ts := c.Clamp(8, 1_200)
	assert.Equal(t, uint64(10), slot)
	assert.Equal(t, int64(1_200), ts)

	slot, ts = c.Clamp(12, 900)
	assert.Equal(t, uint64(12), slot)
	assert.Equal(t, int64(1_000), ts)
	assert.NoError(t, c.Check(slot, ts))
}
