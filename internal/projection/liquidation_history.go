package projection

import (
	"context"
	"database/sql"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/x5th/x-leverage/internal/core"
)

// LiquidationEntry is one row of projections.liquidation_history.
type LiquidationEntry struct {
	Sequence         int64
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
	Timestamp        time.Time
}

// liquidationEntry extracts the liquidation recorded by an output, if any.
func liquidationEntry(out core.CoreOutput) (LiquidationEntry, bool) {
	if out.Envelope == nil || out.Envelope.Rejected || out.Changes == nil || out.Changes.Outcome == nil {
		return LiquidationEntry{}, false
	}
	o := out.Changes.Outcome
	return LiquidationEntry{
		Sequence:         out.Envelope.Sequence,
		Kind:             o.Kind,
		Owner:            o.Owner,
		Index:            o.Index,
		Liquidator:       o.Liquidator,
		DebtRepaid:       o.DebtRepaid,
		CollateralSeized: o.CollateralSeized,
		Bonus:            o.Bonus,
		ProtocolFee:      o.ProtocolFee,
		OwnerReturn:      o.OwnerReturn,
		Shortfall:        o.Shortfall,
		FullyLiquidated:  o.FullyLiquidated,
		Timestamp:        out.Envelope.Timestamp,
	}, true
}

func insertLiquidation(ctx context.Context, tx *sql.Tx, e LiquidationEntry) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO projections.liquidation_history
			(sequence, kind, owner_id, position_index, liquidator, debt_repaid,
			 collateral_seized, bonus, protocol_fee, owner_return, shortfall,
			 fully_liquidated, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (sequence) DO NOTHING
	`, e.Sequence, e.Kind, e.Owner, int64(e.Index), e.Liquidator, numeric(e.DebtRepaid),
		numeric(e.CollateralSeized), numeric(e.Bonus), numeric(e.ProtocolFee),
		numeric(e.OwnerReturn), numeric(e.Shortfall), e.FullyLiquidated, e.Timestamp)
	return err
}

// numeric renders an amount for a NUMERIC(20,0) column.
func numeric(v uint64) string {
	return strconv.FormatUint(v, 10)
}

// RecentLiquidations keeps the last few liquidations in memory so liquidator
// and dashboard reads avoid the database. Oldest entries are evicted first.
type RecentLiquidations struct {
	mu       sync.RWMutex
	capacity int
	entries  []LiquidationEntry
}

func NewRecentLiquidations(capacity int) *RecentLiquidations {
	if capacity <= 0 {
		capacity = 1
	}
	return &RecentLiquidations{capacity: capacity, entries: make([]LiquidationEntry, 0, capacity)}
}

// Add records a liquidation.
func (r *RecentLiquidations) Add(e LiquidationEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.entries) == r.capacity {
		copy(r.entries, r.entries[1:])
		r.entries = r.entries[:len(r.entries)-1]
	}
	r.entries = append(r.entries, e)
}

// Query returns up to limit entries, newest first. A nil owner matches all.
func (r *RecentLiquidations) Query(owner uuid.UUID, limit int) []LiquidationEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]LiquidationEntry, 0)
	for i := len(r.entries) - 1; i >= 0 && len(result) < limit; i-- {
		if owner == uuid.Nil || r.entries[i].Owner == owner {
			result = append(result, r.entries[i])
		}
	}
	return result
}
