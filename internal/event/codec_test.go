package event

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventTypeNames_RoundTrip(t *testing.T) {
	for _, et := range AllEventTypes() {
		name := et.String()
		require.NotEqual(t, "unknown", name, "event type %d has no name", et)

		parsed, ok := ParseEventType(name)
		require.True(t, ok, name)
		assert.Equal(t, et, parsed)

		e, err := New(et)
		require.NoError(t, err, name)
		assert.Equal(t, et, e.EventType())
	}
}

func TestDecode_FlattensMetaAndPositionRef(t *testing.T) {
	owner := uuid.New()
	payload := []byte(`{
		"request_id": "6f1c8e2a-4b0d-4d8e-9a51-3c2d7e9b1a10",
		"caller": "` + owner.String() + `",
		"slot": 42,
		"timestamp": 1700000000,
		"owner": "` + owner.String() + `",
		"index": 3,
		"pct": 50
	}`)

	e, err := Decode(EventTypePermissionlessLiquidation, payload)
	require.NoError(t, err)

	liq, ok := e.(*PermissionlessLiquidation)
	require.True(t, ok)
	assert.Equal(t, uint64(42), liq.Slot)
	assert.Equal(t, owner, liq.Subject())
	assert.Equal(t, uint64(3), liq.Index)
	assert.Equal(t, uint64(50), liq.Pct)
	assert.Equal(t, "6f1c8e2a-4b0d-4d8e-9a51-3c2d7e9b1a10", liq.IdempotencyKey())
}

func TestDecode_UnknownType(t *testing.T) {
	_, err := Decode(EventTypeUnknown, []byte(`{}`))
	assert.Error(t, err)
}
