// internal/state/position.go
package state

import (
	"github.com/google/uuid"

	"github.com/x5th/x-leverage/internal/ledger"
)

// PositionStatus is the lifecycle state of a financing position
type PositionStatus uint8

const (
	PositionStatusActive PositionStatus = iota
	PositionStatusMatured
	PositionStatusLiquidated
	PositionStatusClosed
)

func (s PositionStatus) String() string {
	switch s {
	case PositionStatusActive:
		return "Active"
	case PositionStatusMatured:
		return "Matured"
	case PositionStatusLiquidated:
		return "Liquidated"
	case PositionStatusClosed:
		return "Closed"
	default:
		return "Unknown"
	}
}

var validStatusTransitions = map[PositionStatus][]PositionStatus{
	PositionStatusActive: {
		PositionStatusMatured,
		PositionStatusClosed,
		PositionStatusLiquidated,
	},
	PositionStatusMatured: {
		PositionStatusClosed,
		PositionStatusLiquidated,
	},
}

// CanTransitionTo validates status transitions. Closed and Liquidated are terminal.
func (s PositionStatus) CanTransitionTo(next PositionStatus) bool {
	for _, allowed := range validStatusTransitions[s] {
		if next == allowed {
			return true
		}
	}
	return false
}

// IsOpen reports whether the position still counts toward the owner's cap.
func (s PositionStatus) IsOpen() bool {
	return s == PositionStatusActive || s == PositionStatusMatured
}

// PositionKey identifies a position: one per (owner, index).
type PositionKey struct {
	Owner uuid.UUID
	Index uint64
}

// Position is a financing position. Collateral sits in protocol custody;
// the financed asset was delivered to the owner at origination.
type Position struct {
	Owner uuid.UUID
	Index uint64

	CollateralAsset  ledger.AssetID
	CollateralAmount uint64 // collateral token units
	CollateralValue  uint64 // value units
	CollateralPrice  uint64 // value units per whole collateral token

	FinancedAsset   ledger.AssetID
	FinancedAmount  uint64 // financed token units delivered to owner
	PurchasePrice   uint64
	FinancingAmount uint64 // outstanding principal
	MarkupBps       uint64
	MarkupAmount    uint64 // outstanding markup
	DeferredPayment uint64 // outstanding principal + markup

	InitialLtv           uint64
	MaxLtv               uint64
	LiquidationThreshold uint64
	CurrentLtv           uint64

	TermStart int64
	TermEnd   int64

	PriceSources        []uuid.UUID
	LiquidationDelegate uuid.UUID
	SettlementDelegate  uuid.UUID

	Status   PositionStatus
	OpenedAt int64 // sequence of origination
	Version  int64 // bumped on every mutation
}

func (p *Position) Key() PositionKey {
	return PositionKey{Owner: p.Owner, Index: p.Index}
}

// Clone returns a deep copy so handlers can stage changes.
func (p *Position) Clone() *Position {
	c := *p
	c.PriceSources = append([]uuid.UUID(nil), p.PriceSources...)
	return &c
}

// IsPriceSource reports whether id is on the position's allow-list.
func (p *Position) IsPriceSource(id uuid.UUID) bool {
	for _, s := range p.PriceSources {
		if s == id {
			return true
		}
	}
	return false
}

// TransitionTo moves the position to next or returns ErrInvalidStatus.
func (p *Position) TransitionTo(next PositionStatus) error {
	if !p.Status.CanTransitionTo(next) {
		return ErrInvalidStatus
	}
	p.Status = next
	p.Version++
	return nil
}

// CanonicalBytes returns deterministic serialization for hashing
func (p *Position) CanonicalBytes() []byte {
	buf := make([]byte, 0, 256)

	buf = append(buf, p.Owner[:]...)
	buf = appendUint64LE(buf, p.Index)

	buf = appendUint64LE(buf, uint64(p.CollateralAsset))
	buf = appendUint64LE(buf, p.CollateralAmount)
	buf = appendUint64LE(buf, p.CollateralValue)
	buf = appendUint64LE(buf, p.CollateralPrice)

	buf = appendUint64LE(buf, uint64(p.FinancedAsset))
	buf = appendUint64LE(buf, p.FinancedAmount)
	buf = appendUint64LE(buf, p.PurchasePrice)
	buf = appendUint64LE(buf, p.FinancingAmount)
	buf = appendUint64LE(buf, p.MarkupBps)
	buf = appendUint64LE(buf, p.MarkupAmount)
	buf = appendUint64LE(buf, p.DeferredPayment)

	buf = appendUint64LE(buf, p.InitialLtv)
	buf = appendUint64LE(buf, p.MaxLtv)
	buf = appendUint64LE(buf, p.LiquidationThreshold)
	buf = appendUint64LE(buf, p.CurrentLtv)

	buf = appendInt64LE(buf, p.TermStart)
	buf = appendInt64LE(buf, p.TermEnd)

	// price sources (count-prefixed)
	buf = append(buf, byte(len(p.PriceSources)))
	for _, s := range p.PriceSources {
		buf = append(buf, s[:]...)
	}
	buf = append(buf, p.LiquidationDelegate[:]...)
	buf = append(buf, p.SettlementDelegate[:]...)

	buf = append(buf, byte(p.Status))

	return buf
}

func appendInt64LE(buf []byte, v int64) []byte {
	return appendUint64LE(buf, uint64(v))
}

func appendUint64LE(buf []byte, v uint64) []byte {
	return append(buf,
		byte(v),
		byte(v>>8),
		byte(v>>16),
		byte(v>>24),
		byte(v>>32),
		byte(v>>40),
		byte(v>>48),
		byte(v>>56),
	)
}
