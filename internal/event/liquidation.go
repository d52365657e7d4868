// internal/event/liquidation.go
package event

import "github.com/google/uuid"

// PermissionlessLiquidation repays pct% of a position's debt for a bonus.
type PermissionlessLiquidation struct {
	Meta
	PositionRef
	Pct uint64 `json:"pct"`
}

func (l *PermissionlessLiquidation) EventType() EventType {
	return EventTypePermissionlessLiquidation
}

func (l *PermissionlessLiquidation) Subject() uuid.UUID {
	return l.Owner
}

// ForcedLiquidation sells collateral at CurrentPrice to clear a position.
type ForcedLiquidation struct {
	Meta
	PositionRef
	CurrentPrice uint64 `json:"current_price"`
}

func (l *ForcedLiquidation) EventType() EventType {
	return EventTypeForcedLiquidation
}

func (l *ForcedLiquidation) Subject() uuid.UUID {
	return l.Owner
}

// SnapshotFreeze freezes a price for the owner's next liquidation. Either
// SourceID names a price source to read or Price is supplied directly.
type SnapshotFreeze struct {
	Meta
	Owner    uuid.UUID `json:"owner"`
	Price    uint64    `json:"price,omitempty"`
	SourceID uuid.UUID `json:"source_id"`
}

func (s *SnapshotFreeze) EventType() EventType {
	return EventTypeSnapshotFreeze
}

func (s *SnapshotFreeze) Subject() uuid.UUID {
	return s.Owner
}

// LiquidationExecution executes against the frozen snapshot.
type LiquidationExecution struct {
	Meta
	Owner       uuid.UUID `json:"owner"`
	Ltv         uint64    `json:"ltv"`
	Threshold   uint64    `json:"threshold"`
	SlippageBps uint64    `json:"slippage_bps"`
}

func (l *LiquidationExecution) EventType() EventType {
	return EventTypeLiquidationExecution
}

func (l *LiquidationExecution) Subject() uuid.UUID {
	return l.Owner
}

// ProceedsDistribution settles an executed liquidation's proceeds.
type ProceedsDistribution struct {
	Meta
	Owner         uuid.UUID `json:"owner"`
	TotalProceeds uint64    `json:"total_proceeds"`
}

func (p *ProceedsDistribution) EventType() EventType {
	return EventTypeProceedsDistribution
}

func (p *ProceedsDistribution) Subject() uuid.UUID {
	return p.Owner
}
