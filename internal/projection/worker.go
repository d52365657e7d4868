package projection

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/x5th/x-leverage/internal/core"
	"github.com/x5th/x-leverage/internal/ledger"
	"github.com/x5th/x-leverage/internal/observability"
	"github.com/x5th/x-leverage/internal/state"
)

const watermarkWorker = "main"

// ProjectionWorker updates the read models from processed commands. The
// projection channel drops on overflow; a lagging or failed projection is
// repaired with RebuildProjections.
type ProjectionWorker struct {
	db        *sql.DB
	inputChan <-chan core.CoreOutput
	metrics   *observability.Metrics
	logger    zerolog.Logger
	recent    *RecentLiquidations
	lastSeq   int64
}

// NewProjectionWorker creates a worker. recent may be nil.
func NewProjectionWorker(db *sql.DB, inputChan <-chan core.CoreOutput, recent *RecentLiquidations, metrics *observability.Metrics, logger zerolog.Logger) *ProjectionWorker {
	return &ProjectionWorker{
		db:        db,
		inputChan: inputChan,
		metrics:   metrics,
		logger:    logger,
		recent:    recent,
		lastSeq:   -1,
	}
}

// Run starts the projection worker loop.
func (pw *ProjectionWorker) Run(ctx context.Context) error {
	pw.logger.Info().Msg("projection worker started")
	defer pw.logger.Info().Int64("last_sequence", pw.lastSeq).Msg("projection worker stopped")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case output, ok := <-pw.inputChan:
			if !ok {
				return nil
			}
			seq := output.Envelope.Sequence
			if pw.lastSeq >= 0 && seq != pw.lastSeq+1 {
				pw.logger.Warn().Int64("expected", pw.lastSeq+1).Int64("got", seq).Msg("projection gap; rebuild required")
			}

			start := time.Now()
			if err := pw.apply(ctx, output); err != nil {
				pw.logger.Warn().Err(err).Int64("sequence", seq).Msg("projection update failed")
				continue
			}
			if entry, ok := liquidationEntry(output); ok && pw.recent != nil {
				pw.recent.Add(entry)
			}
			if pw.metrics != nil {
				pw.metrics.ProjectionUpdateDur.WithLabelValues(output.Envelope.EventType.String()).Observe(time.Since(start).Seconds())
			}
			pw.lastSeq = seq
		}
	}
}

func (pw *ProjectionWorker) apply(ctx context.Context, out core.CoreOutput) error {
	tx, err := pw.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	seq := out.Envelope.Sequence
	if !out.Envelope.Rejected {
		if out.Batch != nil {
			for _, j := range out.Batch.Journals {
				if err := applyJournal(ctx, tx, j); err != nil {
					return fmt.Errorf("balance projection: %w", err)
				}
			}
		}
		if c := out.Changes; c != nil {
			if err := applyChanges(ctx, tx, seq, c); err != nil {
				return err
			}
		}
		if entry, ok := liquidationEntry(out); ok {
			if err := insertLiquidation(ctx, tx, entry); err != nil {
				return fmt.Errorf("liquidation history: %w", err)
			}
		}
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.watermark (worker_id, last_sequence, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (worker_id) DO UPDATE SET last_sequence = $2, updated_at = NOW()
	`, watermarkWorker, seq); err != nil {
		return fmt.Errorf("watermark update: %w", err)
	}
	return tx.Commit()
}

func applyChanges(ctx context.Context, tx *sql.Tx, seq int64, c *core.StateChanges) error {
	reclaimed := make(map[state.PositionKey]bool, len(c.Reclaimed))
	for _, k := range c.Reclaimed {
		reclaimed[k] = true
	}
	for i := range c.Positions {
		p := &c.Positions[i]
		if err := upsertPosition(ctx, tx, seq, p, reclaimed[p.Key()]); err != nil {
			return fmt.Errorf("position projection: %w", err)
		}
		delete(reclaimed, p.Key())
	}
	for k := range reclaimed {
		if _, err := tx.ExecContext(ctx, `
			UPDATE projections.positions SET reclaimed = TRUE, last_sequence = $3
			WHERE owner_id = $1 AND position_index = $2
		`, k.Owner, int64(k.Index), seq); err != nil {
			return fmt.Errorf("reclaim projection: %w", err)
		}
	}
	if c.Pool != nil {
		if err := insertPool(ctx, tx, seq, c.Pool); err != nil {
			return fmt.Errorf("pool projection: %w", err)
		}
	}
	return nil
}

// applyJournal moves the amount from the credit account to the debit account.
func applyJournal(ctx context.Context, tx *sql.Tx, j ledger.Journal) error {
	amount := numeric(j.Amount)
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.balances (account_path, asset_id, balance, last_sequence)
		VALUES ($1, $2, -$3::numeric, $4)
		ON CONFLICT (account_path, asset_id)
		DO UPDATE SET balance = projections.balances.balance - $3::numeric, last_sequence = $4
	`, j.CreditAccount.AccountPath(), int32(j.AssetID), amount, j.Sequence); err != nil {
		return err
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO projections.balances (account_path, asset_id, balance, last_sequence)
		VALUES ($1, $2, $3::numeric, $4)
		ON CONFLICT (account_path, asset_id)
		DO UPDATE SET balance = projections.balances.balance + $3::numeric, last_sequence = $4
	`, j.DebitAccount.AccountPath(), int32(j.AssetID), amount, j.Sequence)
	return err
}

func upsertPosition(ctx context.Context, tx *sql.Tx, seq int64, p *state.Position, reclaimed bool) error {
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.positions
			(owner_id, position_index, status, collateral_asset, collateral_amount,
			 collateral_value, collateral_price, financed_asset, financed_amount,
			 financing_amount, markup_amount, deferred_payment, current_ltv, max_ltv,
			 liquidation_threshold, term_start, term_end, liquidation_delegate,
			 settlement_delegate, reclaimed, version, last_sequence)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15,
		        $16, $17, $18, $19, $20, $21, $22)
		ON CONFLICT (owner_id, position_index) DO UPDATE SET
			status = EXCLUDED.status,
			collateral_amount = EXCLUDED.collateral_amount,
			collateral_value = EXCLUDED.collateral_value,
			collateral_price = EXCLUDED.collateral_price,
			financing_amount = EXCLUDED.financing_amount,
			markup_amount = EXCLUDED.markup_amount,
			deferred_payment = EXCLUDED.deferred_payment,
			current_ltv = EXCLUDED.current_ltv,
			liquidation_delegate = EXCLUDED.liquidation_delegate,
			settlement_delegate = EXCLUDED.settlement_delegate,
			reclaimed = EXCLUDED.reclaimed,
			version = EXCLUDED.version,
			last_sequence = EXCLUDED.last_sequence
	`, p.Owner, int64(p.Index), p.Status.String(), int32(p.CollateralAsset),
		numeric(p.CollateralAmount), numeric(p.CollateralValue), numeric(p.CollateralPrice),
		int32(p.FinancedAsset), numeric(p.FinancedAmount), numeric(p.FinancingAmount),
		numeric(p.MarkupAmount), numeric(p.DeferredPayment), int64(p.CurrentLtv),
		int64(p.MaxLtv), int64(p.LiquidationThreshold), p.TermStart, p.TermEnd,
		nullUUID(p.LiquidationDelegate), nullUUID(p.SettlementDelegate), reclaimed,
		int64(p.Version), seq,
	); err != nil {
		return err
	}

	_, err := tx.ExecContext(ctx, `
		INSERT INTO projections.position_history
			(owner_id, position_index, sequence, status, collateral_value, deferred_payment, current_ltv)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT DO NOTHING
	`, p.Owner, int64(p.Index), seq, p.Status.String(), numeric(p.CollateralValue),
		numeric(p.DeferredPayment), int64(p.CurrentLtv))
	return err
}

func insertPool(ctx context.Context, tx *sql.Tx, seq int64, lp *state.LiquidityPool) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO projections.pool
			(sequence, authority, paused, total_shares, balance, locked, utilization_bps, pending_bad_debt)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (sequence) DO NOTHING
	`, seq, lp.Authority, lp.Paused, numeric(lp.TotalShares), numeric(lp.Balance),
		numeric(lp.LockedForFinancing), int64(lp.UtilizationBps()), numeric(lp.PendingBadDebt))
	return err
}

func nullUUID(id uuid.UUID) interface{} {
	if id == uuid.Nil {
		return nil
	}
	return id
}

// RebuildProjections rebuilds the balance projection from the journal and
// resets the other read models. Position, pool and liquidation history are
// repopulated by replaying the event log through a fresh core.
func RebuildProjections(ctx context.Context, db *sql.DB) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, stmt := range []string{
		`TRUNCATE projections.balances`,
		`TRUNCATE projections.positions`,
		`TRUNCATE projections.position_history`,
		`TRUNCATE projections.pool`,
		`TRUNCATE projections.liquidation_history`,
		`DELETE FROM projections.watermark WHERE worker_id = 'main'`,
	} {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("truncate failed: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.balances (account_path, asset_id, balance, last_sequence)
		SELECT account_path, asset_id, SUM(delta), MAX(sequence)
		FROM (
			SELECT debit_account AS account_path, asset_id, amount AS delta, sequence FROM event_log.journal
			UNION ALL
			SELECT credit_account, asset_id, -amount, sequence FROM event_log.journal
		) moves
		GROUP BY account_path, asset_id
	`); err != nil {
		return fmt.Errorf("rebuild balances: %w", err)
	}
	return tx.Commit()
}
