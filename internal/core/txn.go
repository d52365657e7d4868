package core

import (
	"bytes"
	"sort"

	"github.com/google/uuid"

	"github.com/x5th/x-leverage/internal/event"
	"github.com/x5th/x-leverage/internal/ledger"
	"github.com/x5th/x-leverage/internal/oracle"
	"github.com/x5th/x-leverage/internal/state"
)

// txn stages the records a handler mutates. Nothing reaches the core's
// managers until commit, so a handler error leaves state untouched.
type txn struct {
	c    *DeterministicCore
	meta event.Meta
	b    *ledger.BatchBuilder

	protocol  *state.ProtocolConfig
	pool      *state.LiquidityPool
	prices    *oracle.PriceBook
	positions map[state.PositionKey]*state.Position
	reclaimed map[state.PositionKey]bool
	counters  map[uuid.UUID]state.UserPositionCounter
	records   map[uuid.UUID]state.LiquidationRecord
	outcome   *LiquidationOutcome
	onCommit  []func()
}

func (c *DeterministicCore) begin(evt event.Event) *txn {
	meta := evt.Header()
	return &txn{
		c:         c,
		meta:      meta,
		b:         ledger.NewBatchBuilder(evt.IdempotencyKey(), c.sequence, meta.Timestamp*1_000_000),
		positions: make(map[state.PositionKey]*state.Position),
		reclaimed: make(map[state.PositionKey]bool),
		counters:  make(map[uuid.UUID]state.UserPositionCounter),
		records:   make(map[uuid.UUID]state.LiquidationRecord),
	}
}

func (tx *txn) params() state.RiskParams {
	return tx.c.params
}

// protocolConfig returns the staged protocol record.
func (tx *txn) protocolConfig() *state.ProtocolConfig {
	if tx.protocol == nil {
		p := tx.c.protocol
		tx.protocol = &p
	}
	return tx.protocol
}

// requireActive rejects commands while the circuit breaker is engaged.
func (tx *txn) requireActive() error {
	return tx.protocolConfig().RequireActive()
}

func (tx *txn) requireAdmin() error {
	return tx.protocolConfig().RequireAdmin(tx.meta.Caller)
}

func (tx *txn) liquidityPool() *state.LiquidityPool {
	if tx.pool == nil {
		tx.pool = tx.c.pool.Clone()
	}
	return tx.pool
}

func (tx *txn) priceBook() *oracle.PriceBook {
	if tx.prices == nil {
		tx.prices = tx.c.prices.Clone()
	}
	return tx.prices
}

// position returns a staged copy of the position.
func (tx *txn) position(owner uuid.UUID, index uint64) (*state.Position, error) {
	key := state.PositionKey{Owner: owner, Index: index}
	if p, ok := tx.positions[key]; ok {
		return p, nil
	}
	p := tx.c.positions.GetPosition(key)
	if p == nil {
		return nil, state.ErrPositionNotFound
	}
	staged := p.Clone()
	tx.positions[key] = staged
	return staged, nil
}

func (tx *txn) putPosition(p *state.Position) {
	tx.positions[p.Key()] = p
}

// reclaim drops the position record on commit.
func (tx *txn) reclaim(key state.PositionKey) {
	tx.reclaimed[key] = true
}

func (tx *txn) counter(owner uuid.UUID) state.UserPositionCounter {
	if c, ok := tx.counters[owner]; ok {
		return c
	}
	return tx.c.positions.Counter(owner)
}

func (tx *txn) putCounter(c state.UserPositionCounter) {
	tx.counters[c.Owner] = c
}

// releaseSlot decrements the owner's open-position count.
func (tx *txn) releaseSlot(owner uuid.UUID) {
	c := tx.counter(owner)
	c.Release()
	tx.putCounter(c)
}

func (tx *txn) record(owner uuid.UUID) state.LiquidationRecord {
	if r, ok := tx.records[owner]; ok {
		return r
	}
	return tx.c.liquidations.Record(owner)
}

func (tx *txn) putRecord(r state.LiquidationRecord) {
	tx.records[r.Owner] = r
}

// after registers work that runs only once the command commits.
func (tx *txn) after(fn func()) {
	tx.onCommit = append(tx.onCommit, fn)
}

// commit publishes every staged record to the core's managers.
func (tx *txn) commit() {
	c := tx.c
	if tx.protocol != nil {
		c.protocol = *tx.protocol
	}
	if tx.pool != nil {
		c.pool = tx.pool
	}
	if tx.prices != nil {
		c.prices = tx.prices
	}
	for key, p := range tx.positions {
		if tx.reclaimed[key] {
			continue
		}
		c.positions.PutPosition(p)
	}
	for key := range tx.reclaimed {
		c.positions.Reclaim(key)
	}
	for _, ctr := range tx.counters {
		c.positions.PutCounter(ctr)
	}
	for _, r := range tx.records {
		c.liquidations.Put(r)
	}
	for _, fn := range tx.onCommit {
		fn()
	}
}

// changes returns the touched records in a deterministic order.
func (tx *txn) changes() *StateChanges {
	ch := &StateChanges{Outcome: tx.outcome}

	for _, p := range tx.positions {
		ch.Positions = append(ch.Positions, *p.Clone())
	}
	sort.Slice(ch.Positions, func(i, j int) bool {
		return positionLess(ch.Positions[i].Key(), ch.Positions[j].Key())
	})

	for key := range tx.reclaimed {
		ch.Reclaimed = append(ch.Reclaimed, key)
	}
	sort.Slice(ch.Reclaimed, func(i, j int) bool {
		return positionLess(ch.Reclaimed[i], ch.Reclaimed[j])
	})

	for _, ctr := range tx.counters {
		ch.Counters = append(ch.Counters, ctr)
	}
	sort.Slice(ch.Counters, func(i, j int) bool {
		return bytes.Compare(ch.Counters[i].Owner[:], ch.Counters[j].Owner[:]) < 0
	})

	for _, r := range tx.records {
		ch.Liquidations = append(ch.Liquidations, r)
	}
	sort.Slice(ch.Liquidations, func(i, j int) bool {
		return bytes.Compare(ch.Liquidations[i].Owner[:], ch.Liquidations[j].Owner[:]) < 0
	})

	if tx.pool != nil {
		ch.Pool = tx.pool.Clone()
	}
	return ch
}

// canonical returns the serialized touched records, folded into the digest.
func (ch *StateChanges) canonical(protocol *state.ProtocolConfig) []byte {
	var buf []byte
	for i := range ch.Positions {
		buf = append(buf, ch.Positions[i].CanonicalBytes()...)
	}
	for _, key := range ch.Reclaimed {
		buf = append(buf, 'r')
		buf = append(buf, key.Owner[:]...)
		buf = appendInt64LE(buf, int64(key.Index))
	}
	for _, ctr := range ch.Counters {
		buf = append(buf, ctr.Owner[:]...)
		buf = appendInt64LE(buf, int64(ctr.OpenPositions))
		buf = appendInt64LE(buf, int64(ctr.TotalPositions))
	}
	for i := range ch.Liquidations {
		buf = append(buf, ch.Liquidations[i].CanonicalBytes()...)
	}
	if ch.Pool != nil {
		buf = append(buf, ch.Pool.CanonicalBytes()...)
	}
	if protocol != nil {
		buf = append(buf, protocolBytes(*protocol)...)
	}
	return buf
}

func positionLess(a, b state.PositionKey) bool {
	if c := bytes.Compare(a.Owner[:], b.Owner[:]); c != 0 {
		return c < 0
	}
	return a.Index < b.Index
}

func protocolBytes(p state.ProtocolConfig) []byte {
	buf := make([]byte, 0, 19)
	buf = append(buf, p.Admin[:]...)
	buf = append(buf, boolByte(p.Paused), boolByte(p.Initialized), boolByte(p.OraclePaused))
	return buf
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}
