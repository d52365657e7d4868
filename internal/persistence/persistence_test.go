package persistence

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/x5th/x-leverage/internal/core"
	"github.com/x5th/x-leverage/internal/event"
	"github.com/x5th/x-leverage/internal/ledger"
	"github.com/x5th/x-leverage/internal/oracle"
	"github.com/x5th/x-leverage/internal/state"
)

func TestPlaceholders(t *testing.T) {
	assert.Equal(t, "($1, $2, $3)", placeholders(0, 3))
	assert.Equal(t, "($13, $14)", placeholders(12, 2))
}

func TestMigrationFiles_PendingInOrder(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{
		"000002_projections.up.sql", "000001_event_log.up.sql",
		"000001_event_log.down.sql", "README.md",
	} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("SELECT 1;"), 0o600))
	}

	files, err := listMigrationFiles(dir, ".up.sql")
	require.NoError(t, err)
	assert.Equal(t, []string{"000001_event_log.up.sql", "000002_projections.up.sql"}, files)

	assert.Equal(t, []string{"000002_projections.up.sql"}, pending(files, map[string]bool{"000001": true}))
	assert.Empty(t, pending(files, map[string]bool{"000001": true, "000002": true}))
	assert.Equal(t, "000001", extractVersion("000001_event_log.up.sql"))
}

func TestRowsFromOutput(t *testing.T) {
	owner := uuid.New()
	usdc, _ := ledger.GetAssetID("USDC")
	b := ledger.NewBatchBuilder("req-1", 7, 1_500_000_000)
	b.Transfer(ledger.Wallet(owner, usdc), ledger.NewSystemAccountKey(ledger.SubTypePoolLiquidity, usdc), 18_000_000_000_000_000_000, ledger.JournalTypeRepayment)

	env := &event.EventEnvelope{
		Sequence:       7,
		IdempotencyKey: "req-1",
		EventType:      event.EventTypeRepaymentSettlement,
		Owner:          owner,
		Timestamp:      time.Unix(1_500, 0).UTC(),
		Slot:           42,
		Payload:        []byte(`{}`),
		StateHash:      [32]byte{1},
		PrevHash:       [32]byte{2},
	}

	row, journals := RowsFromOutput(core.CoreOutput{Envelope: env, Batch: b.Build()})
	require.NotNil(t, row.OwnerID)
	assert.Equal(t, owner.String(), *row.OwnerID)
	assert.Equal(t, "repayment_settlement", row.EventType)
	assert.Nil(t, row.RejectReason)
	assert.Equal(t, byte(1), row.StateHash[0])

	require.Len(t, journals, 1)
	assert.Equal(t, "18000000000000000000", journals[0].Amount)
	assert.Equal(t, "system:pool_liquidity:USDC", journals[0].DebitAccount)
	assert.Equal(t, "user:"+owner.String()+":wallet:USDC", journals[0].CreditAccount)
}

func TestRowsFromOutput_Rejected(t *testing.T) {
	env := &event.EventEnvelope{
		Sequence:     3,
		EventType:    event.EventTypeProtocolPause,
		Rejected:     true,
		RejectReason: state.ErrUnauthorized.Error(),
	}
	row, journals := RowsFromOutput(core.CoreOutput{Envelope: env})
	assert.Nil(t, row.OwnerID)
	require.NotNil(t, row.RejectReason)
	assert.Equal(t, state.ErrUnauthorized.Error(), *row.RejectReason)
	assert.Empty(t, journals)
}

func TestSnapshotData_CoreStateRoundTrip(t *testing.T) {
	owner := uuid.New()
	usdc, _ := ledger.GetAssetID("USDC")
	sol, _ := ledger.GetAssetID("SOL")

	pool := state.NewLiquidityPool(usdc, owner)
	pool.Shares[owner] = 10
	pool.TotalShares = 10
	pool.Balance = 10

	snap := &core.SnapshotState{
		Sequence:  9,
		StateHash: [32]byte{0xaa},
		Clock:     state.Clock{Slot: 40, Timestamp: 1_700_000_000},
		Protocol:  state.ProtocolConfig{Admin: owner, Initialized: true, OraclePaused: true},
		Pool:      pool,
		Balances: map[ledger.AccountKey]int64{
			ledger.Wallet(owner, sol): 5,
			ledger.NewSystemAccountKey(ledger.SubTypeCollateralCustody, sol): 7,
		},
		Prices:        []oracle.Reading{{SourceID: owner, AssetID: sol, Price: 12, Decimals: 6, LastUpdateSlot: 3}},
		SequenceState: map[string]int64{"caller:x": 4},
	}

	data := SnapshotDataFromCore(snap, time.Unix(0, 0))
	require.Len(t, data.Balances, 2)
	assert.Equal(t, ledger.AccountScopeUser, data.Balances[1].Scope, "balances are ordered by account path")

	back, err := data.CoreState()
	require.NoError(t, err)
	assert.Equal(t, snap.StateHash, back.StateHash)
	assert.Equal(t, snap.Clock, back.Clock)
	assert.True(t, back.Protocol.OraclePaused)
	assert.Equal(t, snap.Balances, back.Balances)
	assert.Equal(t, uint64(10), back.Pool.Shares[owner])

	data.StateHash = data.StateHash[:4]
	_, err = data.CoreState()
	assert.Error(t, err)
}
