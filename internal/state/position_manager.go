package state

import (
	"bytes"
	"sort"

	"github.com/google/uuid"

	"github.com/x5th/x-leverage/internal/ledger"
	fpmath "github.com/x5th/x-leverage/internal/math"
)

// UserPositionCounter tracks an owner's open positions and the monotonic
// index source for new ones.
type UserPositionCounter struct {
	Owner          uuid.UUID
	OpenPositions  uint64
	TotalPositions uint64
}

// Reserve claims the next position index, enforcing the open-position cap.
func (c *UserPositionCounter) Reserve(maxOpen uint64) (uint64, error) {
	if c.OpenPositions >= maxOpen {
		return 0, ErrTooManyPositions
	}
	index := c.TotalPositions
	c.OpenPositions++
	c.TotalPositions = fpmath.SaturatingAdd(c.TotalPositions, 1)
	return index, nil
}

// Release records that a position left the open set.
func (c *UserPositionCounter) Release() {
	c.OpenPositions = fpmath.SaturatingSub(c.OpenPositions, 1)
}

// PositionManager owns positions and per-owner counters
type PositionManager struct {
	positions map[PositionKey]*Position
	counters  map[uuid.UUID]*UserPositionCounter
}

func NewPositionManager() *PositionManager {
	return &PositionManager{
		positions: make(map[PositionKey]*Position),
		counters:  make(map[uuid.UUID]*UserPositionCounter),
	}
}

// GetPosition returns the position or nil
func (pm *PositionManager) GetPosition(key PositionKey) *Position {
	return pm.positions[key]
}

// PutPosition stores a position, replacing any previous version.
func (pm *PositionManager) PutPosition(p *Position) {
	pm.positions[p.Key()] = p
}

// Reclaim removes a position record once nothing more is owed on it.
func (pm *PositionManager) Reclaim(key PositionKey) {
	delete(pm.positions, key)
}

// Counter returns a copy of the owner's counter.
func (pm *PositionManager) Counter(owner uuid.UUID) UserPositionCounter {
	if c, ok := pm.counters[owner]; ok {
		return *c
	}
	return UserPositionCounter{Owner: owner}
}

// PutCounter stores an owner's counter.
func (pm *PositionManager) PutCounter(c UserPositionCounter) {
	pm.counters[c.Owner] = &c
}

// Positions returns all positions ordered by (owner, index).
func (pm *PositionManager) Positions() []*Position {
	out := make([]*Position, 0, len(pm.positions))
	for _, p := range pm.positions {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if c := bytes.Compare(out[i].Owner[:], out[j].Owner[:]); c != 0 {
			return c < 0
		}
		return out[i].Index < out[j].Index
	})
	return out
}

// OwnerPositions returns an owner's positions ordered by index.
func (pm *PositionManager) OwnerPositions(owner uuid.UUID) []*Position {
	var out []*Position
	for _, p := range pm.Positions() {
		if p.Owner == owner {
			out = append(out, p)
		}
	}
	return out
}

// Counters returns all counters ordered by owner.
func (pm *PositionManager) Counters() []UserPositionCounter {
	out := make([]UserPositionCounter, 0, len(pm.counters))
	for _, c := range pm.counters {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool {
		return bytes.Compare(out[i].Owner[:], out[j].Owner[:]) < 0
	})
	return out
}

// OpenPositionCount returns the number of Active or Matured positions.
func (pm *PositionManager) OpenPositionCount() int {
	n := 0
	for _, p := range pm.positions {
		if p.Status.IsOpen() {
			n++
		}
	}
	return n
}

// CustodiedCollateral sums collateral recorded on open positions per asset.
func (pm *PositionManager) CustodiedCollateral() map[ledger.AssetID]uint64 {
	out := make(map[ledger.AssetID]uint64)
	for _, p := range pm.positions {
		if p.Status.IsOpen() {
			out[p.CollateralAsset] = fpmath.SaturatingAdd(out[p.CollateralAsset], p.CollateralAmount)
		}
	}
	return out
}

// Restore replaces all positions and counters, used when loading a snapshot.
func (pm *PositionManager) Restore(positions []*Position, counters []UserPositionCounter) {
	pm.positions = make(map[PositionKey]*Position, len(positions))
	for _, p := range positions {
		pm.positions[p.Key()] = p
	}
	pm.counters = make(map[uuid.UUID]*UserPositionCounter, len(counters))
	for i := range counters {
		c := counters[i]
		pm.counters[c.Owner] = &c
	}
}
