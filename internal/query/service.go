package query

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/x5th/x-leverage/internal/core"
	"github.com/x5th/x-leverage/internal/ledger"
	"github.com/x5th/x-leverage/internal/projection"
)

var (
	ErrUnknownAsset = errors.New("query: unknown asset")
	ErrNoPool       = errors.New("query: pool not initialized")
)

// QueryService provides read-only access to the projection tables. Every
// response carries as_of_sequence, the projection watermark at read time.
type QueryService struct {
	db          *sql.DB
	recent      *projection.RecentLiquidations
	poolAsset   ledger.AssetID
	baseRateBps uint64
}

// NewQueryService creates a query service. Position values and pool amounts
// are rendered in poolAsset. recent may be nil, in which case
// recent-liquidation reads go to the database.
func NewQueryService(db *sql.DB, recent *projection.RecentLiquidations, poolAsset ledger.AssetID, baseRateBps uint64) *QueryService {
	return &QueryService{db: db, recent: recent, poolAsset: poolAsset, baseRateBps: baseRateBps}
}

// GetBalance returns the projected balance of an owner's wallet.
func (qs *QueryService) GetBalance(ctx context.Context, owner uuid.UUID, symbol string) (*BalanceResponse, error) {
	asset, ok := ledger.GetAssetID(symbol)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAsset, symbol)
	}
	return qs.GetAccountBalance(ctx, ledger.Wallet(owner, asset))
}

// GetAccountBalance returns the projected balance of any account.
func (qs *QueryService) GetAccountBalance(ctx context.Context, key ledger.AccountKey) (*BalanceResponse, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}

	raw := "0"
	err = qs.db.QueryRowContext(ctx, `
		SELECT balance::text FROM projections.balances
		WHERE account_path = $1 AND asset_id = $2
	`, key.AccountPath(), int32(key.AssetID)).Scan(&raw)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}

	amount, err := tokenAmount(raw, key.AssetID)
	if err != nil {
		return nil, err
	}
	return &BalanceResponse{
		Account:      key.AccountPath(),
		Asset:        assetName(key.AssetID),
		Raw:          raw,
		Amount:       amount,
		AsOfSequence: asOfSeq,
	}, nil
}

// GetPositions returns an owner's positions that have not been reclaimed.
func (qs *QueryService) GetPositions(ctx context.Context, owner uuid.UUID) ([]PositionResponse, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := qs.db.QueryContext(ctx, `
		SELECT position_index, status, collateral_asset, collateral_amount::text,
		       collateral_value::text, financed_asset, financed_amount::text,
		       deferred_payment::text, current_ltv, max_ltv, liquidation_threshold,
		       term_end, liquidation_delegate, settlement_delegate, reclaimed,
		       version, last_sequence
		FROM projections.positions
		WHERE owner_id = $1 AND NOT reclaimed
		ORDER BY position_index
	`, owner)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var positions []PositionResponse
	for rows.Next() {
		var (
			p                                    PositionResponse
			index                                int64
			collAsset, finAsset                  int32
			collAmount, collValue, finAmount, dp string
			liqDelegate, settleDelegate          uuid.NullUUID
		)
		if err := rows.Scan(
			&index, &p.Status, &collAsset, &collAmount, &collValue, &finAsset, &finAmount,
			&dp, &p.CurrentLtvBps, &p.MaxLtvBps, &p.LiquidationThreshold, &p.TermEnd,
			&liqDelegate, &settleDelegate, &p.Reclaimed, &p.Version, &p.LastSequence,
		); err != nil {
			return nil, err
		}
		p.Owner = owner
		p.Index = uint64(index)
		p.AsOfSequence = asOfSeq
		if err := p.fill(qs.poolAsset, ledger.AssetID(collAsset), ledger.AssetID(finAsset), collAmount, collValue, finAmount, dp); err != nil {
			return nil, err
		}
		if liqDelegate.Valid {
			p.LiquidationDelegate = &liqDelegate.UUID
		}
		if settleDelegate.Valid {
			p.SettlementDelegate = &settleDelegate.UUID
		}
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

// GetPositionsAsOf returns an owner's positions as they stood at sequence.
// Only the fields tracked in position history are filled.
func (qs *QueryService) GetPositionsAsOf(ctx context.Context, owner uuid.UUID, sequence int64) ([]PositionResponse, error) {
	rows, err := qs.db.QueryContext(ctx, `
		SELECT DISTINCT ON (h.position_index)
		       h.position_index, h.status, p.collateral_asset, p.financed_asset,
		       h.collateral_value::text, h.deferred_payment::text, h.current_ltv,
		       p.max_ltv, p.liquidation_threshold, p.term_end, h.sequence
		FROM projections.position_history h
		JOIN projections.positions p
		  ON p.owner_id = h.owner_id AND p.position_index = h.position_index
		WHERE h.owner_id = $1 AND h.sequence <= $2
		ORDER BY h.position_index, h.sequence DESC
	`, owner, sequence)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var positions []PositionResponse
	for rows.Next() {
		var (
			p                   PositionResponse
			index               int64
			collAsset, finAsset int32
			collValue, dp       string
		)
		if err := rows.Scan(
			&index, &p.Status, &collAsset, &finAsset, &collValue, &dp,
			&p.CurrentLtvBps, &p.MaxLtvBps, &p.LiquidationThreshold, &p.TermEnd, &p.LastSequence,
		); err != nil {
			return nil, err
		}
		p.Owner = owner
		p.Index = uint64(index)
		p.AsOfSequence = sequence
		if err := p.fill(qs.poolAsset, ledger.AssetID(collAsset), ledger.AssetID(finAsset), "0", collValue, "0", dp); err != nil {
			return nil, err
		}
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

// fill converts raw amounts. Collateral value and deferred payment are
// value units of the pool asset.
func (p *PositionResponse) fill(valueAsset, collAsset, finAsset ledger.AssetID, collAmount, collValue, finAmount, deferred string) error {
	var err error
	p.CollateralAsset = assetName(collAsset)
	p.FinancedAsset = assetName(finAsset)
	if p.CollateralAmount, err = tokenAmount(collAmount, collAsset); err != nil {
		return err
	}
	if p.CollateralValue, err = tokenAmount(collValue, valueAsset); err != nil {
		return err
	}
	if p.FinancedAmount, err = tokenAmount(finAmount, finAsset); err != nil {
		return err
	}
	if p.DeferredPayment, err = tokenAmount(deferred, valueAsset); err != nil {
		return err
	}
	p.CurrentLtv = bpsPercent(p.CurrentLtvBps)
	return nil
}

// GetPool returns the pool at the watermark, or at the last pool change at
// or before asOf when given.
func (qs *QueryService) GetPool(ctx context.Context, asOf *int64) (*PoolResponse, error) {
	asset := qs.poolAsset
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, err
	}
	if asOf != nil {
		asOfSeq = *asOf
	}

	var (
		r                        PoolResponse
		balance, locked, badDebt string
	)
	err = qs.db.QueryRowContext(ctx, `
		SELECT sequence, authority, paused, total_shares::text, balance::text,
		       locked::text, utilization_bps, pending_bad_debt::text
		FROM projections.pool
		WHERE sequence <= $1
		ORDER BY sequence DESC
		LIMIT 1
	`, asOfSeq).Scan(&r.Sequence, &r.Authority, &r.Paused, &r.TotalShares, &balance,
		&locked, &r.UtilizationBps, &badDebt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoPool
	}
	if err != nil {
		return nil, err
	}

	r.Asset = assetName(asset)
	r.AsOfSequence = asOfSeq
	if r.Balance, err = tokenAmount(balance, asset); err != nil {
		return nil, err
	}
	if r.Locked, err = tokenAmount(locked, asset); err != nil {
		return nil, err
	}
	if r.PendingBadDebt, err = tokenAmount(badDebt, asset); err != nil {
		return nil, err
	}
	if r.SharePrice, err = sharePrice(balance, r.TotalShares); err != nil {
		return nil, err
	}
	r.Utilization = bpsPercent(r.UtilizationBps)
	r.ApyBps = r.UtilizationBps * int64(qs.baseRateBps) / 10_000
	r.Apy = bpsPercent(r.ApyBps)
	return &r, nil
}

// GetLiquidationHistory returns liquidations newest first. A nil owner
// returns all owners; beforeSequence pages backwards.
func (qs *QueryService) GetLiquidationHistory(
	ctx context.Context,
	owner uuid.UUID,
	limit int,
	beforeSequence *int64,
) ([]LiquidationResponse, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT sequence, kind, owner_id, position_index, liquidator, debt_repaid::text,
		       collateral_seized::text, bonus::text, protocol_fee::text,
		       owner_return::text, shortfall::text, fully_liquidated, timestamp
		FROM projections.liquidation_history
		WHERE TRUE
	`
	var args []interface{}
	argIdx := 1

	if owner != uuid.Nil {
		query += fmt.Sprintf(" AND owner_id = $%d", argIdx)
		args = append(args, owner)
		argIdx++
	}
	if beforeSequence != nil {
		query += fmt.Sprintf(" AND sequence < $%d", argIdx)
		args = append(args, *beforeSequence)
		argIdx++
	}
	query += fmt.Sprintf(" ORDER BY sequence DESC LIMIT $%d", argIdx)
	args = append(args, limit)

	rows, err := qs.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var history []LiquidationResponse
	for rows.Next() {
		var (
			r     LiquidationResponse
			index int64
		)
		if err := rows.Scan(
			&r.Sequence, &r.Kind, &r.Owner, &index, &r.Liquidator, &r.DebtRepaid,
			&r.CollateralSeized, &r.Bonus, &r.ProtocolFee, &r.OwnerReturn, &r.Shortfall,
			&r.FullyLiquidated, &r.Timestamp,
		); err != nil {
			return nil, err
		}
		r.Index = uint64(index)
		r.AsOfSequence = asOfSeq
		history = append(history, r)
	}
	return history, rows.Err()
}

// GetRecentLiquidations serves the latest liquidations from memory when the
// projection worker keeps them, and from the database otherwise.
func (qs *QueryService) GetRecentLiquidations(ctx context.Context, owner uuid.UUID, limit int) ([]LiquidationResponse, error) {
	if qs.recent == nil {
		return qs.GetLiquidationHistory(ctx, owner, limit, nil)
	}
	entries := qs.recent.Query(owner, limit)
	out := make([]LiquidationResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, liquidationFromEntry(e))
	}
	return out, nil
}

func liquidationFromEntry(e projection.LiquidationEntry) LiquidationResponse {
	return LiquidationResponse{
		Sequence:         e.Sequence,
		Kind:             e.Kind,
		Owner:            e.Owner,
		Index:            e.Index,
		Liquidator:       e.Liquidator,
		DebtRepaid:       fmt.Sprint(e.DebtRepaid),
		CollateralSeized: fmt.Sprint(e.CollateralSeized),
		Bonus:            fmt.Sprint(e.Bonus),
		ProtocolFee:      fmt.Sprint(e.ProtocolFee),
		OwnerReturn:      fmt.Sprint(e.OwnerReturn),
		Shortfall:        fmt.Sprint(e.Shortfall),
		FullyLiquidated:  e.FullyLiquidated,
		Timestamp:        e.Timestamp,
		AsOfSequence:     e.Sequence,
	}
}

// GetJournalHistory returns journal entries touching an owner's accounts,
// newest first.
func (qs *QueryService) GetJournalHistory(
	ctx context.Context,
	owner uuid.UUID,
	limit int,
	beforeSequence *int64,
) ([]JournalHistoryEntry, error) {
	accountPrefix := fmt.Sprintf("user:%s:%%", owner)

	query := `
		SELECT journal_id, batch_id, event_ref, sequence, debit_account,
		       credit_account, asset_id, amount::text, journal_type, timestamp
		FROM event_log.journal
		WHERE (debit_account LIKE $1 OR credit_account LIKE $1)
	`
	args := []interface{}{accountPrefix}
	argIdx := 2

	if beforeSequence != nil {
		query += fmt.Sprintf(" AND sequence < $%d", argIdx)
		args = append(args, *beforeSequence)
		argIdx++
	}
	query += fmt.Sprintf(" ORDER BY sequence DESC LIMIT $%d", argIdx)
	args = append(args, limit)

	rows, err := qs.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []JournalHistoryEntry
	for rows.Next() {
		var (
			e     JournalHistoryEntry
			asset int32
			raw   string
		)
		if err := rows.Scan(
			&e.JournalID, &e.BatchID, &e.EventRef, &e.Sequence, &e.DebitAccount,
			&e.CreditAccount, &asset, &raw, &e.JournalType, &e.Timestamp,
		); err != nil {
			return nil, err
		}
		e.Asset = assetName(ledger.AssetID(asset))
		if e.Amount, err = tokenAmount(raw, ledger.AssetID(asset)); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// --- Admin APIs ---

// maxReportedBreaks bounds the break list in an integrity report.
const maxReportedBreaks = 10

// VerifyIntegrity walks the event log checking the hash chain, then checks
// that every asset's projected balances sum to zero.
func (qs *QueryService) VerifyIntegrity(ctx context.Context) (*IntegrityReport, error) {
	report := &IntegrityReport{}

	rows, err := qs.db.QueryContext(ctx, `
		SELECT sequence, prev_hash, state_hash, rejected
		FROM event_log.events
		ORDER BY sequence ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	v := newChainVerifier()
	for rows.Next() {
		var link chainLink
		if err := rows.Scan(&link.Sequence, &link.PrevHash, &link.StateHash, &link.Rejected); err != nil {
			return nil, err
		}
		if !v.next(link) && len(report.HashChainBreaks) < maxReportedBreaks {
			report.HashChainBreaks = append(report.HashChainBreaks, link.Sequence)
		}
		report.CheckedEvents++
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	balanceRows, err := qs.db.QueryContext(ctx, `
		SELECT asset_id, SUM(balance)::text
		FROM projections.balances
		GROUP BY asset_id
		HAVING SUM(balance) != 0
	`)
	if err != nil {
		return nil, err
	}
	defer balanceRows.Close()

	for balanceRows.Next() {
		var (
			asset int32
			total string
		)
		if err := balanceRows.Scan(&asset, &total); err != nil {
			return nil, err
		}
		report.UnbalancedAssets = append(report.UnbalancedAssets, UnbalancedAsset{
			Asset:     assetName(ledger.AssetID(asset)),
			Imbalance: total,
		})
	}
	if err := balanceRows.Err(); err != nil {
		return nil, err
	}

	report.IsHealthy = len(report.HashChainBreaks) == 0 && len(report.UnbalancedAssets) == 0
	return report, nil
}

type chainLink struct {
	Sequence  int64
	PrevHash  []byte
	StateHash []byte
	Rejected  bool
}

// chainVerifier checks that each event links to the previous event's state
// hash, starting from genesis. A rejected command leaves the tip unchanged.
type chainVerifier struct {
	tip []byte
}

func newChainVerifier() *chainVerifier {
	g := core.GenesisHash()
	return &chainVerifier{tip: g[:]}
}

func (v *chainVerifier) next(link chainLink) bool {
	ok := bytes.Equal(link.PrevHash, v.tip)
	if link.Rejected && !bytes.Equal(link.StateHash, link.PrevHash) {
		ok = false
	}
	v.tip = link.StateHash
	return ok
}

// --- helpers ---

func (qs *QueryService) getWatermark(ctx context.Context) (int64, error) {
	var seq int64
	err := qs.db.QueryRowContext(ctx, `
		SELECT last_sequence FROM projections.watermark WHERE worker_id = 'main'
	`).Scan(&seq)
	if errors.Is(err, sql.ErrNoRows) {
		return -1, nil
	}
	return seq, err
}
