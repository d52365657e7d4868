package query

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/x5th/x-leverage/internal/core"
	"github.com/x5th/x-leverage/internal/ledger"
	"github.com/x5th/x-leverage/internal/projection"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestTokenAmount_UsesAssetDecimals(t *testing.T) {
	usdc, _ := ledger.GetAssetID("USDC")
	sol, _ := ledger.GetAssetID("SOL")

	d, err := tokenAmount("1500000", usdc)
	require.NoError(t, err)
	assert.True(t, d.Equal(dec("1.5")), d.String())

	d, err = tokenAmount("2000000001", sol)
	require.NoError(t, err)
	assert.True(t, d.Equal(dec("2.000000001")), d.String())

	d, err = tokenAmount("-25", usdc)
	require.NoError(t, err)
	assert.True(t, d.Equal(dec("-0.000025")), "external accounts project negative")

	_, err = tokenAmount("abc", usdc)
	assert.Error(t, err)
	_, err = tokenAmount("1", ledger.AssetID(999))
	assert.Error(t, err)
}

func TestSharePriceAndPercent(t *testing.T) {
	p, err := sharePrice("0", "0")
	require.NoError(t, err)
	assert.True(t, p.Equal(decimal.NewFromInt(1)), "empty pool prices at one")

	p, err = sharePrice("1100", "1000")
	require.NoError(t, err)
	assert.True(t, p.Equal(dec("1.1")), p.String())

	assert.True(t, bpsPercent(7300).Equal(decimal.NewFromInt(73)))
	assert.True(t, bpsPercent(25).Equal(dec("0.25")))
}

func TestChainVerifier(t *testing.T) {
	g := core.GenesisHash()
	h1 := []byte("h1-----------------------------!")
	h3 := []byte("h3-----------------------------!")

	v := newChainVerifier()
	assert.True(t, v.next(chainLink{Sequence: 0, PrevHash: g[:], StateHash: h1}))
	assert.True(t, v.next(chainLink{Sequence: 1, PrevHash: h1, StateHash: h1, Rejected: true}),
		"a rejection links to the tip without moving it")
	assert.True(t, v.next(chainLink{Sequence: 2, PrevHash: h1, StateHash: h3}))

	assert.False(t, v.next(chainLink{Sequence: 3, PrevHash: h1, StateHash: h1}), "prev hash must be the tip")

	v = newChainVerifier()
	assert.False(t, v.next(chainLink{Sequence: 0, PrevHash: g[:], StateHash: h1, Rejected: true}),
		"a rejection must not move the chain")
}

func TestGetRecentLiquidations_FromMemory(t *testing.T) {
	owner := uuid.New()
	usdc, _ := ledger.GetAssetID("USDC")
	recent := projection.NewRecentLiquidations(4)
	recent.Add(projection.LiquidationEntry{Sequence: 5, Kind: core.LiquidationKindPermissionless, Owner: owner, DebtRepaid: 250})
	recent.Add(projection.LiquidationEntry{Sequence: 9, Kind: core.LiquidationKindForced, Owner: uuid.New()})

	qs := NewQueryService(nil, recent, usdc, 800)
	got, err := qs.GetRecentLiquidations(context.Background(), owner, 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, int64(5), got[0].Sequence)
	assert.Equal(t, "250", got[0].DebtRepaid)
	assert.Equal(t, core.LiquidationKindPermissionless, got[0].Kind)
}
