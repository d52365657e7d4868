package core

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/x5th/x-leverage/internal/event"
	"github.com/x5th/x-leverage/internal/exchange"
	"github.com/x5th/x-leverage/internal/ledger"
	"github.com/x5th/x-leverage/internal/observability"
	"github.com/x5th/x-leverage/internal/oracle"
	"github.com/x5th/x-leverage/internal/state"
)

// globalCheckInterval is how often, in sequences, the zero-sum ledger
// invariant is verified across every asset.
const globalCheckInterval = 1000

// ErrUnknownCommand is returned for payloads the core has no handler for.
var ErrUnknownCommand = errors.New("core: unknown command type")

// Config fixes the engine's protocol constants and pool identity.
type Config struct {
	Params        state.RiskParams
	PoolAsset     ledger.AssetID
	PoolAuthority uuid.UUID
	StartSequence int64
	LRUCapacity   int

	// Clock stamps live commands. When nil the submitted stamps are kept,
	// still subject to the no-regression check.
	Clock Clock
}

// DeterministicCore applies commands one at a time. All handlers run under
// mu, so concurrent ingestion paths are serialized.
type DeterministicCore struct {
	mu sync.Mutex

	sequence   int64
	clock      state.Clock
	stamper    Clock
	params     state.RiskParams
	poolAsset  ledger.AssetID
	valueScale uint8

	protocol     state.ProtocolConfig
	pool         *state.LiquidityPool
	prices       *oracle.PriceBook
	positions    *state.PositionManager
	liquidations *state.LiquidationManager

	balanceTracker    *ledger.BalanceTracker
	validator         *ledger.InvariantValidator
	exchange          exchange.Exchange
	hasher            *StateHasher
	idempotency       *IdempotencyChecker
	sequenceValidator *SequenceValidator
	metrics           *observability.Metrics
	logger            zerolog.Logger

	persistChan    chan<- CoreOutput
	projectionChan chan<- CoreOutput
}

func NewDeterministicCore(
	cfg Config,
	persistChan, projectionChan chan<- CoreOutput,
	dbChecker DBIdempotencyChecker,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) (*DeterministicCore, error) {
	if err := state.ValidateRiskParams(cfg.Params); err != nil {
		return nil, err
	}
	decimals, ok := ledger.GetAssetDecimals(cfg.PoolAsset)
	if !ok {
		return nil, fmt.Errorf("%w: pool asset %d", state.ErrUnknownAsset, cfg.PoolAsset)
	}
	capacity := cfg.LRUCapacity
	if capacity <= 0 {
		capacity = 1_000_000
	}

	balanceTracker := ledger.NewBalanceTracker()
	return &DeterministicCore{
		sequence:          cfg.StartSequence,
		stamper:           cfg.Clock,
		params:            cfg.Params,
		poolAsset:         cfg.PoolAsset,
		valueScale:        decimals,
		pool:              state.NewLiquidityPool(cfg.PoolAsset, cfg.PoolAuthority),
		prices:            oracle.NewPriceBook(),
		positions:         state.NewPositionManager(),
		liquidations:      state.NewLiquidationManager(),
		balanceTracker:    balanceTracker,
		validator:         ledger.NewInvariantValidator(balanceTracker),
		exchange:          exchange.NewPricedExchange(),
		hasher:            NewStateHasher(),
		idempotency:       NewIdempotencyChecker(capacity, dbChecker, metrics),
		sequenceValidator: NewSequenceValidator(metrics),
		metrics:           metrics,
		logger:            logger,
		persistChan:       persistChan,
		projectionChan:    projectionChan,
	}, nil
}

// ProcessEvent is the main processing pipeline. A domain rejection is
// recorded in the event log and returned as the error; ordering failures
// are returned without recording anything.
func (c *DeterministicCore) ProcessEvent(evt event.Event) (Receipt, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.process(evt, false)
}

func (c *DeterministicCore) process(evt event.Event, replay bool) (Receipt, error) {
	start := time.Now()
	eventType := evt.EventType().String()
	idempotencyKey := evt.IdempotencyKey()

	// Step 1: Idempotency check (two-tier). Replayed events are already in
	// the log, so only live commands consult it.
	isDuplicate := false
	if !replay {
		isDuplicate = c.idempotency.IsDuplicate(eventType, idempotencyKey)
	}

	// Step 2: Sequence validation. Price readings tolerate gaps.
	partition, priced := c.partition(evt)
	sourceSequence := evt.SourceSequence()
	if !priced {
		if err := c.sequenceValidator.Check(partition, sourceSequence, isDuplicate); err != nil {
			return Receipt{}, fmt.Errorf("sequence validation failed: %w", err)
		}
	}

	if isDuplicate {
		return Receipt{Duplicate: true, StateHash: c.hasher.GetPrevHash()}, nil
	}

	// Step 3: Stamp the command and dispatch it to a handler that stages
	// its changes. Replay keeps the logged stamp.
	if !replay && c.stamper != nil {
		evt.Stamp(c.clock.Clamp(c.stamper.Now()))
	}
	tx := c.begin(evt)
	handleErr := c.clock.Check(tx.meta.Slot, tx.meta.Timestamp)
	if handleErr == nil {
		handleErr = c.dispatch(tx, evt, partition, priced)
	}

	// Step 4: Validate and apply the batch
	batch := tx.b.Build()
	if handleErr == nil && batch != nil {
		if err := c.validator.ValidateBatchBalance(batch); err != nil {
			panic(fmt.Sprintf("FATAL: unbalanced batch: %v", err))
		}
		handleErr = c.balanceTracker.ApplyBatch(batch)
	}

	if handleErr != nil {
		return c.reject(evt, handleErr, replay)
	}

	// Step 5: Commit staged records
	tx.commit()
	c.clock = state.Clock{Slot: tx.meta.Slot, Timestamp: tx.meta.Timestamp}
	c.sequenceValidator.Advance(partition, sourceSequence)

	if err := c.postCheckInvariants(); err != nil {
		panic(fmt.Sprintf("FATAL: invariant violated: %v", err))
	}

	// Step 6: State digest and chained hash
	changes := tx.changes()
	hashStart := time.Now()
	digest := c.computeStateDigest(batch, changes, tx)
	prevHash := c.hasher.GetPrevHash()
	stateHash := c.hasher.ComputeHash(c.sequence, digest)
	if c.metrics != nil {
		c.metrics.CoreStateHashDur.Observe(time.Since(hashStart).Seconds())
	}

	envelope, err := c.envelope(evt, prevHash, stateHash)
	if err != nil {
		return Receipt{}, err
	}

	// Step 7: Emit outputs
	c.emit(CoreOutput{Envelope: envelope, Batch: batch, StateDelta: digest, Changes: changes}, replay)

	// Step 8: Mark as processed
	c.idempotency.MarkProcessed(eventType, idempotencyKey)

	receipt := Receipt{Sequence: c.sequence, StateHash: stateHash}
	c.sequence++

	if c.metrics != nil {
		c.metrics.CoreEventsApplied.WithLabelValues(eventType).Inc()
		c.metrics.CoreEventDuration.WithLabelValues(eventType).Observe(time.Since(start).Seconds())
		c.metrics.CoreSequence.Set(float64(c.sequence))
		if batch != nil {
			for _, j := range batch.Journals {
				c.metrics.CoreJournals.WithLabelValues(j.JournalType.String()).Inc()
			}
		}
		c.observeState()
	}

	c.logger.Debug().
		Int64("sequence", receipt.Sequence).
		Str("event_type", eventType).
		Str("request_id", idempotencyKey).
		Msg("command applied")

	return receipt, nil
}

// reject records a rejection envelope. State, including the hash chain
// tip, is left unchanged.
func (c *DeterministicCore) reject(evt event.Event, cause error, replay bool) (Receipt, error) {
	eventType := evt.EventType().String()
	reason := state.Reason(cause)

	tip := c.hasher.GetPrevHash()
	envelope, err := c.envelope(evt, tip, tip)
	if err != nil {
		return Receipt{}, err
	}
	envelope.Rejected = true
	envelope.RejectReason = reason

	c.emit(CoreOutput{Envelope: envelope}, replay)

	partition, priced := c.partition(evt)
	if !priced {
		c.sequenceValidator.Advance(partition, evt.SourceSequence())
	}
	c.idempotency.MarkProcessed(eventType, evt.IdempotencyKey())

	receipt := Receipt{Sequence: c.sequence, StateHash: tip, Rejected: true}
	c.sequence++

	if c.metrics != nil {
		c.metrics.CoreEventsRejected.WithLabelValues(eventType, reason).Inc()
		c.metrics.CoreSequence.Set(float64(c.sequence))
	}
	if !replay {
		c.logger.Warn().
			Int64("sequence", receipt.Sequence).
			Str("event_type", eventType).
			Str("category", state.Classify(cause).String()).
			Err(cause).
			Msg("command rejected")
	}
	return receipt, cause
}

func (c *DeterministicCore) envelope(evt event.Event, prevHash, stateHash [32]byte) (*event.EventEnvelope, error) {
	payload, err := event.Encode(evt)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", evt.EventType(), err)
	}
	meta := evt.Header()
	return &event.EventEnvelope{
		Sequence:       c.sequence,
		IdempotencyKey: evt.IdempotencyKey(),
		EventType:      evt.EventType(),
		Owner:          evt.Subject(),
		Timestamp:      time.Unix(meta.Timestamp, 0).UTC(),
		Slot:           meta.Slot,
		SourceSequence: evt.SourceSequence(),
		Payload:        payload,
		StateHash:      stateHash,
		PrevHash:       prevHash,
	}, nil
}

// emit sends to persistence with a blocking send (backpressure) and to
// projections with a non-blocking send. Replay emits nothing.
func (c *DeterministicCore) emit(out CoreOutput, replay bool) {
	if replay {
		return
	}
	if c.persistChan != nil {
		c.persistChan <- out
	}
	if c.projectionChan != nil {
		select {
		case c.projectionChan <- out:
		default:
			if c.metrics != nil {
				c.metrics.ProjectionDrops.Inc()
			}
		}
	}
}

// partition determines the ordering partition. Oracle readings are ordered
// per price source and tolerate gaps.
func (c *DeterministicCore) partition(evt event.Event) (string, bool) {
	if p, ok := evt.(*event.OraclePriceUpdate); ok {
		return SourcePartition(p.SourceID), true
	}
	return CallerPartition(evt.Header().Caller), false
}

func (c *DeterministicCore) dispatch(tx *txn, evt event.Event, partition string, priced bool) error {
	switch e := evt.(type) {
	case *event.ProtocolInit:
		return c.handleProtocolInit(tx, e)
	case *event.ProtocolPause:
		return c.handleProtocolPause(tx, e)
	case *event.ProtocolUnpause:
		return c.handleProtocolUnpause(tx, e)
	case *event.WalletDeposit:
		return c.handleWalletDeposit(tx, e)
	case *event.WalletWithdrawal:
		return c.handleWalletWithdrawal(tx, e)
	case *event.OraclePriceUpdate:
		if priced && c.sequenceValidator.CheckPrice(partition, e.SourceSequence()) {
			return oracle.ErrStaleUpdate
		}
		return c.handleOraclePriceUpdate(tx, e)
	case *event.PositionOpen:
		return c.handlePositionOpen(tx, e)
	case *event.CollateralPriceUpdate:
		return c.handleCollateralPriceUpdate(tx, e)
	case *event.MaturityClose:
		return c.handleMaturityClose(tx, e)
	case *event.EarlyClose:
		return c.handleEarlyClose(tx, e)
	case *event.DelegateAssignment:
		return c.handleDelegateAssignment(tx, e)
	case *event.RepaymentSettlement:
		return c.handleRepaymentSettlement(tx, e)
	case *event.MaturitySweep:
		return c.handleMaturitySweep(tx, e)
	case *event.PermissionlessLiquidation:
		return c.handlePermissionlessLiquidation(tx, e)
	case *event.ForcedLiquidation:
		return c.handleForcedLiquidation(tx, e)
	case *event.SnapshotFreeze:
		return c.handleSnapshotFreeze(tx, e)
	case *event.LiquidationExecution:
		return c.handleLiquidationExecution(tx, e)
	case *event.ProceedsDistribution:
		return c.handleProceedsDistribution(tx, e)
	case *event.LiquidityDeposit:
		return c.handleLiquidityDeposit(tx, e)
	case *event.LiquidityWithdrawal:
		return c.handleLiquidityWithdrawal(tx, e)
	case *event.FinancingAllocation:
		return c.handleFinancingAllocation(tx, e)
	case *event.FinancingRelease:
		return c.handleFinancingRelease(tx, e)
	case *event.BadDebtWriteOff:
		return c.handleBadDebtWriteOff(tx, e)
	case *event.PoolPause:
		return c.handlePoolPause(tx, e)
	case *event.PoolUnpause:
		return c.handlePoolUnpause(tx, e)
	case *event.PoolAuthorityMigration:
		return c.handlePoolAuthorityMigration(tx, e)
	case *event.OraclePause:
		return c.handleOraclePause(tx, e)
	case *event.OracleUnpause:
		return c.handleOracleUnpause(tx, e)
	default:
		return fmt.Errorf("%w: %T", ErrUnknownCommand, evt)
	}
}

// computeStateDigest creates canonical bytes for the state hash: the
// balances of every account the batch touched followed by every record
// the command changed.
func (c *DeterministicCore) computeStateDigest(batch *ledger.Batch, changes *StateChanges, tx *txn) []byte {
	affectedAccounts := make(map[ledger.AccountKey]bool)
	if batch != nil {
		for _, j := range batch.Journals {
			affectedAccounts[j.DebitAccount] = true
			affectedAccounts[j.CreditAccount] = true
		}
	}

	accounts := make([]ledger.AccountKey, 0, len(affectedAccounts))
	for key := range affectedAccounts {
		accounts = append(accounts, key)
	}
	sort.Slice(accounts, func(i, j int) bool {
		return accounts[i].AccountPath() < accounts[j].AccountPath()
	})

	digest := make([]byte, 0, len(accounts)*64)
	for _, key := range accounts {
		path := key.AccountPath()
		digest = append(digest, byte(len(path)))
		digest = append(digest, []byte(path)...)
		digest = appendInt64LE(digest, c.balanceTracker.GetBalance(key))
	}

	digest = append(digest, changes.canonical(tx.protocol)...)
	if tx.prices != nil {
		for _, r := range tx.prices.Readings() {
			digest = append(digest, readingBytes(r)...)
		}
	}
	return append(digest, clockBytes(c.clock)...)
}

func readingBytes(r oracle.Reading) []byte {
	buf := make([]byte, 0, 44)
	buf = append(buf, r.SourceID[:]...)
	buf = appendInt64LE(buf, int64(r.AssetID))
	buf = appendInt64LE(buf, int64(r.Price))
	buf = append(buf, r.Decimals)
	buf = appendInt64LE(buf, int64(r.LastUpdateSlot))
	return buf
}

func appendInt64LE(buf []byte, v int64) []byte {
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

// postCheckInvariants validates the ledger against the domain records
// after every commit.
func (c *DeterministicCore) postCheckInvariants() error {
	if err := c.validator.ValidateCustodyCovers(c.positions.CustodiedCollateral()); err != nil {
		return err
	}
	if err := c.validator.ValidatePoolCash(c.poolAsset, c.pool.Available()); err != nil {
		return err
	}
	if c.sequence%globalCheckInterval == 0 {
		if err := c.validator.ValidateGlobalBalance(); err != nil {
			return err
		}
	}
	return nil
}

func (c *DeterministicCore) observeState() {
	c.metrics.SetPool(observability.PoolGauges{
		Balance:        c.pool.Balance,
		Locked:         c.pool.LockedForFinancing,
		SharePrice:     c.pool.SharePrice(),
		Utilization:    c.pool.UtilizationBps(),
		PendingBadDebt: c.pool.PendingBadDebt,
	})
	c.metrics.OpenPositions.Set(float64(c.positions.OpenPositionCount()))
}

// FullDigest hashes the complete in-memory state. Two cores that applied
// the same commands produce the same digest.
func (c *DeterministicCore) FullDigest() [32]byte {
	c.mu.Lock()
	defer c.mu.Unlock()

	h := sha256.New()
	h.Write(clockBytes(c.clock))
	h.Write(protocolBytes(c.protocol))
	h.Write(c.pool.CanonicalBytes())

	balances := c.balanceTracker.Snapshot()
	keys := make([]ledger.AccountKey, 0, len(balances))
	for k := range balances {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].AccountPath() < keys[j].AccountPath() })
	for _, k := range keys {
		h.Write([]byte(k.AccountPath()))
		h.Write(appendInt64LE(nil, balances[k]))
	}

	for _, p := range c.positions.Positions() {
		h.Write(p.CanonicalBytes())
	}
	for _, ctr := range c.positions.Counters() {
		h.Write(ctr.Owner[:])
		h.Write(appendInt64LE(nil, int64(ctr.OpenPositions)))
		h.Write(appendInt64LE(nil, int64(ctr.TotalPositions)))
	}
	for _, r := range c.liquidations.Records() {
		h.Write(r.CanonicalBytes())
	}
	for _, r := range c.prices.Readings() {
		h.Write(readingBytes(r))
	}

	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}
