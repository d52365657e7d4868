// Package exchange is the opaque priced exchange the protocol buys financed
// assets from and sells seized collateral to. Fills happen at the quoted
// price with no execution algorithm behind them.
package exchange

import (
	"errors"
	"fmt"

	"github.com/x5th/x-leverage/internal/ledger"
	fpmath "github.com/x5th/x-leverage/internal/math"
)

var ErrEmptyFill = errors.New("exchange: fill rounds to zero")

// Exchange converts between the value asset and other assets at a price.
// Both legs are posted to the batch under construction so that the trade
// commits or fails together with the rest of the command.
type Exchange interface {
	Buy(b *ledger.BatchBuilder, payer, recipient ledger.AccountKey, value uint64, asset ledger.AssetID, price uint64) (uint64, error)
	Sell(b *ledger.BatchBuilder, seller, recipient ledger.AccountKey, units uint64, price uint64) (uint64, error)
}

// PricedExchange fills against the external exchange accounts.
type PricedExchange struct{}

func NewPricedExchange() *PricedExchange {
	return &PricedExchange{}
}

// Buy spends value units from payer and delivers asset units to recipient.
// price is in value units per whole token of asset.
func (x *PricedExchange) Buy(b *ledger.BatchBuilder, payer, recipient ledger.AccountKey, value uint64, asset ledger.AssetID, price uint64) (uint64, error) {
	decimals, ok := ledger.GetAssetDecimals(asset)
	if !ok {
		return 0, fmt.Errorf("exchange: unknown asset %d", asset)
	}
	units, err := fpmath.ValueToUnits(value, price, decimals, fpmath.RoundDown)
	if err != nil {
		return 0, err
	}
	if units == 0 {
		return 0, ErrEmptyFill
	}

	b.Transfer(payer, ledger.NewExternalAccountKey(ledger.SubTypeExternalExchange, payer.AssetID), value, ledger.JournalTypeAssetPurchase)
	b.Transfer(ledger.NewExternalAccountKey(ledger.SubTypeExternalExchange, asset), recipient, units, ledger.JournalTypeAssetDelivery)
	return units, nil
}

// Sell takes units of the seller's asset and pays the proceeds, in the
// recipient account's asset, to recipient.
func (x *PricedExchange) Sell(b *ledger.BatchBuilder, seller, recipient ledger.AccountKey, units uint64, price uint64) (uint64, error) {
	decimals, ok := ledger.GetAssetDecimals(seller.AssetID)
	if !ok {
		return 0, fmt.Errorf("exchange: unknown asset %d", seller.AssetID)
	}
	proceeds, err := fpmath.UnitsToValue(units, price, decimals, fpmath.RoundDown)
	if err != nil {
		return 0, err
	}
	if proceeds == 0 {
		return 0, ErrEmptyFill
	}

	b.Transfer(seller, ledger.NewExternalAccountKey(ledger.SubTypeExternalExchange, seller.AssetID), units, ledger.JournalTypeCollateralSale)
	b.Transfer(ledger.NewExternalAccountKey(ledger.SubTypeExternalExchange, recipient.AssetID), recipient, proceeds, ledger.JournalTypeSaleProceeds)
	return proceeds, nil
}
