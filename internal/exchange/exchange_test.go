package exchange

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/x5th/x-leverage/internal/ledger"
)

func TestPricedExchange_BuyPostsBothLegs(t *testing.T) {
	usdc, _ := ledger.GetAssetID("USDC")
	weth, _ := ledger.GetAssetID("WETH")
	owner := uuid.New()
	pool := ledger.NewSystemAccountKey(ledger.SubTypePoolLiquidity, usdc)

	b := ledger.NewBatchBuilder("buy", 1, 0)
	// 100 USDC at 2,000 USDC per WETH buys 0.05 WETH (8 decimals).
	units, err := NewPricedExchange().Buy(b, pool, ledger.Wallet(owner, weth), 100_000_000, weth, 2_000_000_000)
	require.NoError(t, err)
	assert.Equal(t, uint64(5_000_000), units)

	batch := b.Build()
	require.NotNil(t, batch)
	require.Len(t, batch.Journals, 2)
	assert.Equal(t, pool, batch.Journals[0].CreditAccount)
	assert.Equal(t, ledger.Wallet(owner, weth), batch.Journals[1].DebitAccount)
	require.NoError(t, batch.Validate())
}

func TestPricedExchange_SellRoundsDown(t *testing.T) {
	sol, _ := ledger.GetAssetID("SOL")
	usdc, _ := ledger.GetAssetID("USDC")
	custody := ledger.NewSystemAccountKey(ledger.SubTypeCollateralCustody, sol)
	pool := ledger.NewSystemAccountKey(ledger.SubTypePoolLiquidity, usdc)

	b := ledger.NewBatchBuilder("sell", 1, 0)
	// 1.5 SOL at 150 USDC
	proceeds, err := NewPricedExchange().Sell(b, custody, pool, 1_500_000_000, 150_000_000)
	require.NoError(t, err)
	assert.Equal(t, uint64(225_000_000), proceeds)

	_, err = NewPricedExchange().Sell(ledger.NewBatchBuilder("dust", 1, 0), custody, pool, 1, 1)
	assert.ErrorIs(t, err, ErrEmptyFill)
}
