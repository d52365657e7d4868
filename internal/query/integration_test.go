package query_test

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/x5th/x-leverage/internal/core"
	"github.com/x5th/x-leverage/internal/ledger"
	"github.com/x5th/x-leverage/internal/persistence"
	"github.com/x5th/x-leverage/internal/projection"
	"github.com/x5th/x-leverage/internal/query"
	"github.com/x5th/x-leverage/internal/testutil"
)

func TestQueryService_PoolBalancesAndIntegrity(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()

	persistChan := make(chan core.CoreOutput, 16)
	projChan := make(chan core.CoreOutput, 16)
	c := testutil.NewCore(t, persistChan, projChan)
	testutil.Apply(t, c, testutil.FundedPool(500_000_000, 200_000_000)...)
	close(persistChan)
	close(projChan)

	require.NoError(t, persistence.NewPersistenceWorker(db, persistChan, 8, 5*time.Millisecond, nil, zerolog.Nop()).Run(ctx))
	recent := projection.NewRecentLiquidations(8)
	require.NoError(t, projection.NewProjectionWorker(db, projChan, recent, nil, zerolog.Nop()).Run(ctx))

	usdc, _ := ledger.GetAssetID("USDC")
	qs := query.NewQueryService(db, recent, usdc, 800)

	bal, err := qs.GetBalance(ctx, testutil.ProviderID, "USDC")
	require.NoError(t, err)
	assert.Equal(t, "300000000", bal.Raw)
	assert.True(t, decimal.NewFromInt(300).Equal(bal.Amount), bal.Amount.String())
	assert.Equal(t, int64(2), bal.AsOfSequence)

	pool, err := qs.GetPool(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, "USDC", pool.Asset)
	assert.True(t, decimal.NewFromInt(200).Equal(pool.Balance), pool.Balance.String())
	assert.Equal(t, int64(0), pool.UtilizationBps)
	assert.Equal(t, testutil.AdminID, pool.Authority)

	report, err := qs.VerifyIntegrity(ctx)
	require.NoError(t, err)
	assert.True(t, report.IsHealthy, "%+v", report)
	assert.Equal(t, int64(3), report.CheckedEvents)

	journals, err := qs.GetJournalHistory(ctx, testutil.ProviderID, 10, nil)
	require.NoError(t, err)
	assert.Len(t, journals, 2)
}
