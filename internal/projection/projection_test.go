package projection

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/x5th/x-leverage/internal/core"
	"github.com/x5th/x-leverage/internal/event"
)

func liquidationOutput(seq int64, owner uuid.UUID, rejected bool) core.CoreOutput {
	return core.CoreOutput{
		Envelope: &event.EventEnvelope{
			Sequence:  seq,
			EventType: event.EventTypeForcedLiquidation,
			Owner:     owner,
			Timestamp: time.Unix(seq, 0).UTC(),
			Rejected:  rejected,
		},
		Changes: &core.StateChanges{
			Outcome: &core.LiquidationOutcome{
				Kind:             core.LiquidationKindForced,
				Owner:            owner,
				DebtRepaid:       105_000_000,
				CollateralSeized: 480_769_231,
				ProtocolFee:      5_250_000,
				FullyLiquidated:  true,
			},
		},
	}
}

func TestLiquidationEntry(t *testing.T) {
	owner := uuid.New()

	entry, ok := liquidationEntry(liquidationOutput(12, owner, false))
	require.True(t, ok)
	assert.Equal(t, int64(12), entry.Sequence)
	assert.Equal(t, core.LiquidationKindForced, entry.Kind)
	assert.Equal(t, owner, entry.Owner)
	assert.Equal(t, uint64(5_250_000), entry.ProtocolFee)
	assert.True(t, entry.FullyLiquidated)

	_, ok = liquidationEntry(liquidationOutput(13, owner, true))
	assert.False(t, ok, "rejected commands record nothing")

	_, ok = liquidationEntry(core.CoreOutput{Envelope: &event.EventEnvelope{Sequence: 14}})
	assert.False(t, ok)
}

func TestRecentLiquidations_NewestFirstAndBounded(t *testing.T) {
	a, b := uuid.New(), uuid.New()
	recent := NewRecentLiquidations(3)

	for seq := int64(1); seq <= 4; seq++ {
		owner := a
		if seq%2 == 0 {
			owner = b
		}
		recent.Add(LiquidationEntry{Sequence: seq, Owner: owner})
	}

	all := recent.Query(uuid.Nil, 10)
	require.Len(t, all, 3)
	assert.Equal(t, []int64{4, 3, 2}, []int64{all[0].Sequence, all[1].Sequence, all[2].Sequence})

	forA := recent.Query(a, 10)
	require.Len(t, forA, 1)
	assert.Equal(t, int64(3), forA[0].Sequence)

	assert.Len(t, recent.Query(uuid.Nil, 1), 1)
}

func TestNumeric(t *testing.T) {
	assert.Equal(t, "18446744073709551615", numeric(^uint64(0)))
	assert.Equal(t, "0", numeric(0))
}
