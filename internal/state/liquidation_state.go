package state

import (
	"bytes"
	"sort"

	"github.com/google/uuid"

	fpmath "github.com/x5th/x-leverage/internal/math"
)

// LiquidationPhase is the snapshot executor's state for one owner
type LiquidationPhase uint8

const (
	PhaseIdle LiquidationPhase = iota
	PhaseFrozen
	PhaseExecuted
)

func (ph LiquidationPhase) String() string {
	switch ph {
	case PhaseIdle:
		return "Idle"
	case PhaseFrozen:
		return "Frozen"
	case PhaseExecuted:
		return "Executed"
	default:
		return "Unknown"
	}
}

// CanTransitionTo validates phase transitions. Frozen may be re-entered
// only after the snapshot expires; that check is made by Freeze.
func (ph LiquidationPhase) CanTransitionTo(next LiquidationPhase) bool {
	switch ph {
	case PhaseIdle:
		return next == PhaseFrozen
	case PhaseFrozen:
		return next == PhaseFrozen || next == PhaseExecuted
	case PhaseExecuted:
		return next == PhaseIdle
	}
	return false
}

// LiquidationRecord is the per-owner snapshot executor record. Slot zero
// means no snapshot is frozen.
type LiquidationRecord struct {
	Owner               uuid.UUID
	DelegatedLiquidator uuid.UUID
	FrozenSnapshotSlot  uint64
	FrozenPrice         uint64
	Executed            bool
	ExecutedSlippageBps uint64
	LastFeeAccrued      uint64
	LastOwnerReturn     uint64
	Cycles              uint64 // completed distributions
}

// Phase derives the executor phase from the record's fields.
func (r *LiquidationRecord) Phase() LiquidationPhase {
	switch {
	case r.Executed:
		return PhaseExecuted
	case r.FrozenSnapshotSlot != 0:
		return PhaseFrozen
	default:
		return PhaseIdle
	}
}

// CanLiquidate reports whether a delegate is registered and the current
// snapshot has not been executed.
func (r *LiquidationRecord) CanLiquidate() bool {
	return r.DelegatedLiquidator != uuid.Nil && !r.Executed
}

// snapshotLive reports whether a frozen snapshot is younger than expiry.
// The age saturates at zero, so a slot before the freeze counts as live.
func (r *LiquidationRecord) snapshotLive(now, expiry uint64) bool {
	if r.FrozenSnapshotSlot == 0 {
		return false
	}
	return fpmath.SaturatingSub(now, r.FrozenSnapshotSlot) < expiry
}

// Freeze records price at slot now. A live snapshot, or one already
// executed and awaiting distribution, blocks a new freeze.
func (r *LiquidationRecord) Freeze(p RiskParams, now, price uint64) error {
	if now == 0 {
		return ErrInvalidSlot
	}
	if price == 0 {
		return ErrZeroAmount
	}
	switch r.Phase() {
	case PhaseExecuted:
		return ErrDoubleLiquidation
	case PhaseFrozen:
		if r.snapshotLive(now, p.SnapshotExpirySlots) {
			return ErrDoubleLiquidation
		}
	}
	r.FrozenSnapshotSlot = now
	r.FrozenPrice = price
	return nil
}

// Execute marks the snapshot executed. Only the registered delegate may call.
func (r *LiquidationRecord) Execute(p RiskParams, caller uuid.UUID, now, ltv, threshold, slippageBps uint64) error {
	if r.DelegatedLiquidator == uuid.Nil {
		return ErrInvalidLiquidator
	}
	if caller != r.DelegatedLiquidator {
		return ErrUnauthorized
	}
	if r.Executed {
		return ErrAlreadyExecuted
	}
	if r.FrozenSnapshotSlot == 0 {
		return ErrSnapshotMissing
	}
	if !r.snapshotLive(now, p.SnapshotExpirySlots) {
		return ErrSnapshotExpired
	}
	if ltv < threshold {
		return ErrThresholdNotBreached
	}
	if slippageBps > p.MaxSlippageBps {
		return ErrSlippageTooHigh
	}
	r.Executed = true
	r.ExecutedSlippageBps = slippageBps
	return nil
}

// DistributionResult splits proceeds between the protocol and the owner.
type DistributionResult struct {
	Fee         uint64
	OwnerReturn uint64
}

// Distribute records the fee and owner return of an executed liquidation
// and resets the record so it can serve the owner's next liquidation.
func (r *LiquidationRecord) Distribute(p RiskParams, totalProceeds uint64) (DistributionResult, error) {
	if !r.Phase().CanTransitionTo(PhaseIdle) {
		return DistributionResult{}, ErrNotExecuted
	}
	fee, err := fpmath.MulDiv(totalProceeds, p.ExecutorFeePct, 100)
	if err != nil {
		return DistributionResult{}, arith(err)
	}
	ownerReturn, err := fpmath.CheckedSub(totalProceeds, fee)
	if err != nil {
		return DistributionResult{}, arith(err)
	}

	r.LastFeeAccrued = fee
	r.LastOwnerReturn = ownerReturn
	r.FrozenSnapshotSlot = 0
	r.FrozenPrice = 0
	r.Executed = false
	r.ExecutedSlippageBps = 0
	r.Cycles = fpmath.SaturatingAdd(r.Cycles, 1)

	return DistributionResult{Fee: fee, OwnerReturn: ownerReturn}, nil
}

// CanonicalBytes returns deterministic serialization for hashing
func (r *LiquidationRecord) CanonicalBytes() []byte {
	buf := make([]byte, 0, 96)
	buf = append(buf, r.Owner[:]...)
	buf = append(buf, r.DelegatedLiquidator[:]...)
	buf = appendUint64LE(buf, r.FrozenSnapshotSlot)
	buf = appendUint64LE(buf, r.FrozenPrice)
	if r.Executed {
		buf = append(buf, 1)
	} else {
		buf = append(buf, 0)
	}
	buf = appendUint64LE(buf, r.ExecutedSlippageBps)
	buf = appendUint64LE(buf, r.LastFeeAccrued)
	buf = appendUint64LE(buf, r.LastOwnerReturn)
	buf = appendUint64LE(buf, r.Cycles)
	return buf
}

// LiquidationManager owns the per-owner executor records
type LiquidationManager struct {
	records map[uuid.UUID]*LiquidationRecord
}

func NewLiquidationManager() *LiquidationManager {
	return &LiquidationManager{
		records: make(map[uuid.UUID]*LiquidationRecord),
	}
}

// Record returns a copy of the owner's record, creating an idle one if absent.
func (lm *LiquidationManager) Record(owner uuid.UUID) LiquidationRecord {
	if r, ok := lm.records[owner]; ok {
		return *r
	}
	return LiquidationRecord{Owner: owner}
}

// Lookup returns the stored record, if any.
func (lm *LiquidationManager) Lookup(owner uuid.UUID) (LiquidationRecord, bool) {
	r, ok := lm.records[owner]
	if !ok {
		return LiquidationRecord{}, false
	}
	return *r, true
}

// Put stores a record.
func (lm *LiquidationManager) Put(r LiquidationRecord) {
	lm.records[r.Owner] = &r
}

// Records returns all records ordered by owner.
func (lm *LiquidationManager) Records() []LiquidationRecord {
	out := make([]LiquidationRecord, 0, len(lm.records))
	for _, r := range lm.records {
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool {
		return bytes.Compare(out[i].Owner[:], out[j].Owner[:]) < 0
	})
	return out
}

// Restore replaces all records, used when loading a snapshot.
func (lm *LiquidationManager) Restore(records []LiquidationRecord) {
	lm.records = make(map[uuid.UUID]*LiquidationRecord, len(records))
	for i := range records {
		r := records[i]
		lm.records[r.Owner] = &r
	}
}
