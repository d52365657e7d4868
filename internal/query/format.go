package query

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/x5th/x-leverage/internal/ledger"
)

var (
	bps     = decimal.NewFromInt(10_000)
	hundred = decimal.NewFromInt(100)
)

// tokenAmount converts a raw NUMERIC amount into whole tokens of asset.
func tokenAmount(raw string, asset ledger.AssetID) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("amount %q: %w", raw, err)
	}
	decimals, ok := ledger.GetAssetDecimals(asset)
	if !ok {
		return decimal.Zero, fmt.Errorf("unknown asset %d", asset)
	}
	return d.Shift(-int32(decimals)), nil
}

// bpsPercent renders basis points as a percentage, e.g. 7300 -> 73.
func bpsPercent(v int64) decimal.Decimal {
	return decimal.NewFromInt(v).Div(bps).Mul(hundred)
}

// sharePrice is balance / shares in pool-asset units per share, or 1 for an
// empty pool.
func sharePrice(balance, totalShares string) (decimal.Decimal, error) {
	b, err := decimal.NewFromString(balance)
	if err != nil {
		return decimal.Zero, err
	}
	s, err := decimal.NewFromString(totalShares)
	if err != nil {
		return decimal.Zero, err
	}
	if s.IsZero() {
		return decimal.NewFromInt(1), nil
	}
	return b.DivRound(s, 12), nil
}

func assetName(id ledger.AssetID) string {
	if name, ok := ledger.GetAssetName(id); ok {
		return name
	}
	return fmt.Sprintf("asset_%d", id)
}
