package core

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/x5th/x-leverage/internal/event"
	"github.com/x5th/x-leverage/internal/ledger"
	"github.com/x5th/x-leverage/internal/oracle"
	"github.com/x5th/x-leverage/internal/state"
)

// ErrReplayDivergence means replaying a logged event produced a different
// outcome than the one recorded.
var ErrReplayDivergence = errors.New("core: replay diverged from event log")

// SnapshotState holds the serializable in-memory state for restore.
type SnapshotState struct {
	Sequence        int64 // last processed sequence
	StateHash       [32]byte
	Clock           state.Clock
	Protocol        state.ProtocolConfig
	Pool            *state.LiquidityPool
	Balances        map[ledger.AccountKey]int64
	Positions       []*state.Position
	Counters        []state.UserPositionCounter
	Liquidations    []state.LiquidationRecord
	Prices          []oracle.Reading
	SequenceState   map[string]int64
	IdempotencyKeys []string
}

// CreateSnapshotState captures the current in-memory state for persistence.
func (c *DeterministicCore) CreateSnapshotState() *SnapshotState {
	c.mu.Lock()
	defer c.mu.Unlock()

	positions := c.positions.Positions()
	copies := make([]*state.Position, len(positions))
	for i, p := range positions {
		copies[i] = p.Clone()
	}

	return &SnapshotState{
		Sequence:        c.sequence - 1,
		StateHash:       c.hasher.GetPrevHash(),
		Clock:           c.clock,
		Protocol:        c.protocol,
		Pool:            c.pool.Clone(),
		Balances:        c.balanceTracker.Snapshot(),
		Positions:       copies,
		Counters:        c.positions.Counters(),
		Liquidations:    c.liquidations.Records(),
		Prices:          c.prices.Readings(),
		SequenceState:   c.sequenceValidator.Partitions(),
		IdempotencyKeys: c.idempotency.Keys(),
	}
}

// RestoreFromSnapshot replaces the core's in-memory state. Events after
// snap.Sequence are then replayed with Replay.
func (c *DeterministicCore) RestoreFromSnapshot(snap *SnapshotState) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.sequence = snap.Sequence + 1
	c.hasher.SetPrevHash(snap.StateHash)
	c.clock = snap.Clock
	c.protocol = snap.Protocol
	if snap.Pool != nil {
		c.pool = snap.Pool.Clone()
	}
	c.balanceTracker.Restore(snap.Balances)
	c.positions.Restore(snap.Positions, snap.Counters)
	c.liquidations.Restore(snap.Liquidations)
	c.prices.Restore(snap.Prices)
	c.sequenceValidator.RestorePartitions(snap.SequenceState)
	c.idempotency.Warm(snap.IdempotencyKeys)
}

// Replay re-applies a logged envelope during recovery and verifies that it
// reproduces the recorded outcome and state hash. Nothing is emitted.
func (c *DeterministicCore) Replay(env *event.EventEnvelope) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if env.Sequence != c.sequence {
		return fmt.Errorf("%w: replay expected sequence %d, got %d", ErrSequenceGap, c.sequence, env.Sequence)
	}
	evt, err := event.Decode(env.EventType, env.Payload)
	if err != nil {
		return err
	}

	receipt, err := c.process(evt, true)
	if err != nil && !receipt.Rejected {
		return err
	}
	if receipt.Rejected != env.Rejected {
		return fmt.Errorf("%w: sequence %d rejected=%t, logged rejected=%t", ErrReplayDivergence, env.Sequence, receipt.Rejected, env.Rejected)
	}
	if receipt.StateHash != env.StateHash {
		return fmt.Errorf("%w: sequence %d state hash %x, logged %x", ErrReplayDivergence, env.Sequence, receipt.StateHash, env.StateHash)
	}
	if c.metrics != nil {
		c.metrics.ReplayEventsTotal.Inc()
	}
	return nil
}

// WarmLRU loads recent idempotency keys into the LRU cache.
func (c *DeterministicCore) WarmLRU(keys []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.idempotency.Warm(keys)
}

// GetSequence returns the next sequence the core will assign.
func (c *DeterministicCore) GetSequence() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sequence
}

// Clock returns the slot and timestamp of the last committed command.
func (c *DeterministicCore) Clock() state.Clock {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.clock
}

// GetStateHash returns the current state hash (chain tip).
func (c *DeterministicCore) GetStateHash() [32]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hasher.GetPrevHash()
}

// --- Read accessors. Each returns a copy. ---

func (c *DeterministicCore) Params() state.RiskParams {
	return c.params
}

func (c *DeterministicCore) PoolAsset() ledger.AssetID {
	return c.poolAsset
}

func (c *DeterministicCore) Protocol() state.ProtocolConfig {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.protocol
}

func (c *DeterministicCore) Pool() *state.LiquidityPool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pool.Clone()
}

func (c *DeterministicCore) Position(owner uuid.UUID, index uint64) (*state.Position, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p := c.positions.GetPosition(state.PositionKey{Owner: owner, Index: index})
	if p == nil {
		return nil, false
	}
	return p.Clone(), true
}

func (c *DeterministicCore) OwnerPositions(owner uuid.UUID) []*state.Position {
	c.mu.Lock()
	defer c.mu.Unlock()
	positions := c.positions.OwnerPositions(owner)
	out := make([]*state.Position, len(positions))
	for i, p := range positions {
		out[i] = p.Clone()
	}
	return out
}

func (c *DeterministicCore) Counter(owner uuid.UUID) state.UserPositionCounter {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.positions.Counter(owner)
}

func (c *DeterministicCore) LiquidationRecord(owner uuid.UUID) (state.LiquidationRecord, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.liquidations.Lookup(owner)
}

func (c *DeterministicCore) Balance(key ledger.AccountKey) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.balanceTracker.GetBalance(key)
}

func (c *DeterministicCore) OwnerBalances(owner uuid.UUID) map[ledger.AccountKey]int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.balanceTracker.OwnerBalances(owner)
}
