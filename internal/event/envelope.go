package event

import (
	"time"

	"github.com/google/uuid"
)

// EventType discriminator for event payloads
type EventType int32

const (
	EventTypeUnknown EventType = iota
	EventTypeProtocolInit
	EventTypeProtocolPause
	EventTypeProtocolUnpause
	EventTypeWalletDeposit
	EventTypeWalletWithdrawal
	EventTypeOraclePriceUpdate
	EventTypePositionOpen
	EventTypeCollateralPriceUpdate
	EventTypeMaturityClose
	EventTypeEarlyClose
	EventTypeDelegateAssignment
	EventTypeRepaymentSettlement
	EventTypeMaturitySweep
	EventTypePermissionlessLiquidation
	EventTypeForcedLiquidation
	EventTypeSnapshotFreeze
	EventTypeLiquidationExecution
	EventTypeProceedsDistribution
	EventTypeLiquidityDeposit
	EventTypeLiquidityWithdrawal
	EventTypeFinancingAllocation
	EventTypeFinancingRelease
	EventTypeBadDebtWriteOff
	EventTypePoolPause
	EventTypePoolUnpause
	EventTypePoolAuthorityMigration
	EventTypeOraclePause
	EventTypeOracleUnpause
)

var eventTypeNames = map[EventType]string{
	EventTypeProtocolInit:              "protocol_init",
	EventTypeProtocolPause:             "protocol_pause",
	EventTypeProtocolUnpause:           "protocol_unpause",
	EventTypeWalletDeposit:             "wallet_deposit",
	EventTypeWalletWithdrawal:          "wallet_withdrawal",
	EventTypeOraclePriceUpdate:         "oracle_price_update",
	EventTypePositionOpen:              "position_open",
	EventTypeCollateralPriceUpdate:     "collateral_price_update",
	EventTypeMaturityClose:             "maturity_close",
	EventTypeEarlyClose:                "early_close",
	EventTypeDelegateAssignment:        "delegate_assignment",
	EventTypeRepaymentSettlement:       "repayment_settlement",
	EventTypeMaturitySweep:             "maturity_sweep",
	EventTypePermissionlessLiquidation: "permissionless_liquidation",
	EventTypeForcedLiquidation:         "forced_liquidation",
	EventTypeSnapshotFreeze:            "snapshot_freeze",
	EventTypeLiquidationExecution:      "liquidation_execution",
	EventTypeProceedsDistribution:      "proceeds_distribution",
	EventTypeLiquidityDeposit:          "liquidity_deposit",
	EventTypeLiquidityWithdrawal:       "liquidity_withdrawal",
	EventTypeFinancingAllocation:       "financing_allocation",
	EventTypeFinancingRelease:          "financing_release",
	EventTypeBadDebtWriteOff:           "bad_debt_write_off",
	EventTypePoolPause:                 "pool_pause",
	EventTypePoolUnpause:               "pool_unpause",
	EventTypePoolAuthorityMigration:    "pool_authority_migration",
	EventTypeOraclePause:               "oracle_pause",
	EventTypeOracleUnpause:             "oracle_unpause",
}

var eventTypesByName = func() map[string]EventType {
	m := make(map[string]EventType, len(eventTypeNames))
	for t, name := range eventTypeNames {
		m[name] = t
	}
	return m
}()

func (et EventType) String() string {
	if name, ok := eventTypeNames[et]; ok {
		return name
	}
	return "unknown"
}

// ParseEventType resolves a wire name such as "position_open".
func ParseEventType(name string) (EventType, bool) {
	t, ok := eventTypesByName[name]
	return t, ok
}

// AllEventTypes lists every known event type in declaration order.
func AllEventTypes() []EventType {
	out := make([]EventType, 0, len(eventTypeNames))
	for t := EventTypeProtocolInit; t <= EventTypeOracleUnpause; t++ {
		out = append(out, t)
	}
	return out
}

// EventEnvelope wraps every event in the log
type EventEnvelope struct {
	// Global monotonic sequence assigned by core
	Sequence int64

	// Stable idempotency key from upstream
	IdempotencyKey string

	EventType EventType

	// Position owner the event concerns (uuid.Nil for global events)
	Owner uuid.UUID

	// Command timestamp (NOT wall-clock)
	Timestamp time.Time

	// Command slot
	Slot uint64

	// Upstream sequence for ordering validation
	SourceSequence int64

	// JSON-encoded event payload
	Payload []byte

	// Set when the command was rejected; rejected events do not change state
	Rejected     bool
	RejectReason string

	// SHA-256 of state AFTER applying this event
	StateHash [32]byte

	// Previous event's state hash (chain integrity)
	PrevHash [32]byte
}

// Event is the interface all command payloads implement
type Event interface {
	// IdempotencyKey returns the stable dedup key
	IdempotencyKey() string

	EventType() EventType

	// Subject returns the owner the event concerns (uuid.Nil for global events)
	Subject() uuid.UUID

	// SourceSequence returns upstream ordering key
	SourceSequence() int64

	// Header returns the common command metadata
	Header() Meta

	// Stamp overwrites the submitted slot and timestamp
	Stamp(slot uint64, timestamp int64)
}

// Meta carries the fields every command shares. A live engine stamps Slot
// and Timestamp from its own clock; the stamped values are what the event
// log records, so replay is deterministic.
type Meta struct {
	RequestID uuid.UUID `json:"request_id"`
	Caller    uuid.UUID `json:"caller"`
	Slot      uint64    `json:"slot"`
	Timestamp int64     `json:"timestamp"` // unix seconds
	Sequence  int64     `json:"sequence,omitempty"`
}

func (m Meta) IdempotencyKey() string {
	return m.RequestID.String()
}

func (m Meta) SourceSequence() int64 {
	return m.Sequence
}

func (m Meta) Header() Meta {
	return m
}

func (m *Meta) Stamp(slot uint64, timestamp int64) {
	m.Slot = slot
	m.Timestamp = timestamp
}
