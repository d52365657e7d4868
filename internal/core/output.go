package core

import (
	"github.com/google/uuid"

	"github.com/x5th/x-leverage/internal/event"
	"github.com/x5th/x-leverage/internal/ledger"
	"github.com/x5th/x-leverage/internal/state"
)

// CoreOutput is what the core hands to the persistence and projection
// workers for every processed command, accepted or rejected.
type CoreOutput struct {
	Envelope   *event.EventEnvelope
	Batch      *ledger.Batch
	StateDelta []byte
	Changes    *StateChanges
}

// StateChanges carries post-command copies of every record the command
// touched so projections can upsert them without reading core state.
type StateChanges struct {
	Positions    []state.Position
	Reclaimed    []state.PositionKey
	Counters     []state.UserPositionCounter
	Pool         *state.LiquidityPool
	Liquidations []state.LiquidationRecord
	Outcome      *LiquidationOutcome
}

// Liquidation kinds recorded in liquidation history.
const (
	LiquidationKindPermissionless = "permissionless"
	LiquidationKindForced         = "forced"
	LiquidationKindExecutor       = "executor"
)

// LiquidationOutcome summarizes one liquidation for history and metrics.
type LiquidationOutcome struct {
	Kind             string
	Owner            uuid.UUID
	Index            uint64
	Liquidator       uuid.UUID
	DebtRepaid       uint64
	CollateralSeized uint64
	Bonus            uint64
	ProtocolFee      uint64
	OwnerReturn      uint64
	Shortfall        uint64
	FullyLiquidated  bool
}

// Receipt reports the result of ProcessEvent to the submitter.
type Receipt struct {
	Sequence  int64
	StateHash [32]byte
	Duplicate bool
	Rejected  bool
}
