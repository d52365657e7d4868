package event

import "github.com/google/uuid"

// PositionRef identifies a financing position.
type PositionRef struct {
	Owner uuid.UUID `json:"owner"`
	Index uint64    `json:"index"`
}

// PositionOpen originates a financing position owned by the caller.
type PositionOpen struct {
	Meta
	CollateralAsset      string      `json:"collateral_asset"`
	CollateralAmount     uint64      `json:"collateral_amount"`
	CollateralValue      uint64      `json:"collateral_value"`
	FinancedAsset        string      `json:"financed_asset"`
	FinancingAmount      uint64      `json:"financing_amount"`
	PurchasePrice        uint64      `json:"purchase_price"`
	MarkupBps            uint64      `json:"markup_bps"`
	InitialLtv           uint64      `json:"initial_ltv"`
	MaxLtv               uint64      `json:"max_ltv"`
	LiquidationThreshold uint64      `json:"liquidation_threshold"`
	TermStart            int64       `json:"term_start"`
	TermEnd              int64       `json:"term_end"`
	PriceSources         []uuid.UUID `json:"price_sources"`
}

func (p *PositionOpen) EventType() EventType { return EventTypePositionOpen }
func (p *PositionOpen) Subject() uuid.UUID   { return p.Caller }

// CollateralPriceUpdate revalues a position's collateral.
type CollateralPriceUpdate struct {
	Meta
	PositionRef
	Price uint64 `json:"price"`
}

func (c *CollateralPriceUpdate) EventType() EventType { return EventTypeCollateralPriceUpdate }
func (c *CollateralPriceUpdate) Subject() uuid.UUID   { return c.Owner }

// MaturityClose closes a position at or after its term end.
type MaturityClose struct {
	Meta
	PositionRef
}

func (m *MaturityClose) EventType() EventType { return EventTypeMaturityClose }
func (m *MaturityClose) Subject() uuid.UUID   { return m.Owner }

// EarlyClose closes a position before its term end for a fee.
type EarlyClose struct {
	Meta
	PositionRef
}

func (e *EarlyClose) EventType() EventType { return EventTypeEarlyClose }
func (e *EarlyClose) Subject() uuid.UUID   { return e.Owner }

// DelegateAssignment grants liquidation and settlement capabilities.
type DelegateAssignment struct {
	Meta
	PositionRef
	Liquidator uuid.UUID `json:"liquidator"`
	Settlement uuid.UUID `json:"settlement"`
}

func (d *DelegateAssignment) EventType() EventType { return EventTypeDelegateAssignment }
func (d *DelegateAssignment) Subject() uuid.UUID   { return d.Owner }

// RepaymentSettlement pays the deferred payment of a closed position.
type RepaymentSettlement struct {
	Meta
	PositionRef
}

func (r *RepaymentSettlement) EventType() EventType { return EventTypeRepaymentSettlement }
func (r *RepaymentSettlement) Subject() uuid.UUID   { return r.Owner }

// MaturitySweep marks an active position past its term end as matured.
type MaturitySweep struct {
	Meta
	PositionRef
}

func (m *MaturitySweep) EventType() EventType { return EventTypeMaturitySweep }
func (m *MaturitySweep) Subject() uuid.UUID   { return m.Owner }
