package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/x5th/x-leverage/internal/core"
	"github.com/x5th/x-leverage/internal/event"
	"github.com/x5th/x-leverage/internal/ledger"
	"github.com/x5th/x-leverage/internal/oracle"
	"github.com/x5th/x-leverage/internal/state"
)

// snapshotFormatVersion is bumped whenever SnapshotData changes shape.
const snapshotFormatVersion = 2

// SnapshotManager handles creating and loading state snapshots for recovery.
type SnapshotManager struct {
	db *sql.DB
}

// SnapshotData is the JSON form of core.SnapshotState. Balances are a list
// because AccountKey cannot be a JSON object key.
type SnapshotData struct {
	Sequence        int64                       `json:"sequence"`
	StateHash       []byte                      `json:"state_hash"`
	Clock           state.Clock                 `json:"clock"`
	Protocol        state.ProtocolConfig        `json:"protocol"`
	Pool            *state.LiquidityPool        `json:"pool"`
	Balances        []BalanceSnap               `json:"balances"`
	Positions       []*state.Position           `json:"positions"`
	Counters        []state.UserPositionCounter `json:"counters"`
	Liquidations    []state.LiquidationRecord   `json:"liquidations"`
	Prices          []oracle.Reading            `json:"prices"`
	SequenceState   map[string]int64            `json:"sequence_state"`
	IdempotencyKeys []string                    `json:"idempotency_keys"`
	CreatedAt       time.Time                   `json:"created_at"`
}

// BalanceSnap is one account balance.
type BalanceSnap struct {
	Scope    ledger.AccountScope   `json:"scope"`
	EntityID uuid.UUID             `json:"entity_id"`
	SubType  ledger.AccountSubType `json:"sub_type"`
	AssetID  ledger.AssetID        `json:"asset_id"`
	Balance  int64                 `json:"balance"`
}

func NewSnapshotManager(db *sql.DB) *SnapshotManager {
	return &SnapshotManager{db: db}
}

// SnapshotDataFromCore converts the core's state for storage. Balances are
// ordered by account path so equal states encode identically.
func SnapshotDataFromCore(s *core.SnapshotState, createdAt time.Time) *SnapshotData {
	balances := make([]BalanceSnap, 0, len(s.Balances))
	for key, bal := range s.Balances {
		balances = append(balances, BalanceSnap{
			Scope:    key.Scope,
			EntityID: uuid.UUID(key.EntityID),
			SubType:  key.SubType,
			AssetID:  key.AssetID,
			Balance:  bal,
		})
	}
	sort.Slice(balances, func(i, j int) bool {
		return balances[i].key().AccountPath() < balances[j].key().AccountPath()
	})

	return &SnapshotData{
		Sequence:        s.Sequence,
		StateHash:       append([]byte(nil), s.StateHash[:]...),
		Clock:           s.Clock,
		Protocol:        s.Protocol,
		Pool:            s.Pool,
		Balances:        balances,
		Positions:       s.Positions,
		Counters:        s.Counters,
		Liquidations:    s.Liquidations,
		Prices:          s.Prices,
		SequenceState:   s.SequenceState,
		IdempotencyKeys: s.IdempotencyKeys,
		CreatedAt:       createdAt,
	}
}

func (b BalanceSnap) key() ledger.AccountKey {
	return ledger.AccountKey{Scope: b.Scope, EntityID: b.EntityID, SubType: b.SubType, AssetID: b.AssetID}
}

// CoreState converts a stored snapshot back into the core's form.
func (d *SnapshotData) CoreState() (*core.SnapshotState, error) {
	if len(d.StateHash) != 32 {
		return nil, fmt.Errorf("snapshot %d: state hash is %d bytes", d.Sequence, len(d.StateHash))
	}
	s := &core.SnapshotState{
		Sequence:        d.Sequence,
		Clock:           d.Clock,
		Protocol:        d.Protocol,
		Pool:            d.Pool,
		Balances:        make(map[ledger.AccountKey]int64, len(d.Balances)),
		Positions:       d.Positions,
		Counters:        d.Counters,
		Liquidations:    d.Liquidations,
		Prices:          d.Prices,
		SequenceState:   d.SequenceState,
		IdempotencyKeys: d.IdempotencyKeys,
	}
	copy(s.StateHash[:], d.StateHash)
	for _, b := range d.Balances {
		s.Balances[b.key()] = b.Balance
	}
	if s.Pool != nil && s.Pool.Shares == nil {
		s.Pool.Shares = make(map[uuid.UUID]uint64)
	}
	return s, nil
}

// SaveSnapshot persists a snapshot. A snapshot taken from live state is
// stored verified.
func (sm *SnapshotManager) SaveSnapshot(ctx context.Context, snap *SnapshotData, verified bool) (int, error) {
	data, err := json.Marshal(snap)
	if err != nil {
		return 0, fmt.Errorf("marshal snapshot: %w", err)
	}

	_, err = sm.db.ExecContext(ctx, `
		INSERT INTO event_log.snapshots
			(snapshot_id, sequence, data, state_hash, format_version, size_bytes, verified, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (sequence) DO UPDATE SET data = $3, state_hash = $4, size_bytes = $6, verified = $7
	`, uuid.New(), snap.Sequence, data, snap.StateHash, snapshotFormatVersion, len(data), verified, snap.CreatedAt)
	if err != nil {
		return 0, err
	}
	return len(data), nil
}

// LoadLatestSnapshot loads the most recent verified snapshot, or nil on a
// cold start.
func (sm *SnapshotManager) LoadLatestSnapshot(ctx context.Context) (*SnapshotData, error) {
	var data []byte
	var version int
	err := sm.db.QueryRowContext(ctx, `
		SELECT data, format_version FROM event_log.snapshots
		WHERE verified = TRUE
		ORDER BY sequence DESC
		LIMIT 1
	`).Scan(&data, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}
	if version != snapshotFormatVersion {
		return nil, fmt.Errorf("snapshot format %d unsupported", version)
	}

	var snap SnapshotData
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return &snap, nil
}

// MarkVerified marks a snapshot as verified after an integrity check.
func (sm *SnapshotManager) MarkVerified(ctx context.Context, sequence int64) error {
	_, err := sm.db.ExecContext(ctx, `
		UPDATE event_log.snapshots SET verified = TRUE WHERE sequence = $1
	`, sequence)
	return err
}

// LoadEnvelopesFrom loads up to limit logged envelopes from fromSequence
// onward, for replay.
func (sm *SnapshotManager) LoadEnvelopesFrom(ctx context.Context, fromSequence int64, limit int) ([]*event.EventEnvelope, error) {
	rows, err := sm.db.QueryContext(ctx, `
		SELECT sequence, event_type, idempotency_key, owner_id, slot, payload,
		       state_hash, prev_hash, timestamp, source_sequence, rejected,
		       COALESCE(reject_reason, '')
		FROM event_log.events
		WHERE sequence >= $1
		ORDER BY sequence ASC
		LIMIT $2
	`, fromSequence, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var envs []*event.EventEnvelope
	for rows.Next() {
		var (
			env                 event.EventEnvelope
			eventType           string
			owner               sql.NullString
			slot                int64
			stateHash, prevHash []byte
		)
		if err := rows.Scan(
			&env.Sequence, &eventType, &env.IdempotencyKey, &owner, &slot, &env.Payload,
			&stateHash, &prevHash, &env.Timestamp, &env.SourceSequence, &env.Rejected,
			&env.RejectReason,
		); err != nil {
			return nil, err
		}
		et, ok := event.ParseEventType(eventType)
		if !ok {
			return nil, fmt.Errorf("sequence %d: unknown event type %q", env.Sequence, eventType)
		}
		env.EventType = et
		env.Slot = uint64(slot)
		if owner.Valid {
			id, err := uuid.Parse(owner.String)
			if err != nil {
				return nil, fmt.Errorf("sequence %d: owner: %w", env.Sequence, err)
			}
			env.Owner = id
		}
		copy(env.StateHash[:], stateHash)
		copy(env.PrevHash[:], prevHash)
		envs = append(envs, &env)
	}
	return envs, rows.Err()
}

// GetLatestSequence returns the highest logged sequence, or -1 for an
// empty log.
func (sm *SnapshotManager) GetLatestSequence(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	if err := sm.db.QueryRowContext(ctx, `SELECT MAX(sequence) FROM event_log.events`).Scan(&seq); err != nil {
		return 0, err
	}
	if !seq.Valid {
		return -1, nil
	}
	return seq.Int64, nil
}
