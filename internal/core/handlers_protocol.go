package core

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/x5th/x-leverage/internal/event"
	"github.com/x5th/x-leverage/internal/ledger"
	"github.com/x5th/x-leverage/internal/oracle"
	"github.com/x5th/x-leverage/internal/state"
)

// resolveAsset maps a symbol to its id and declared decimals.
func resolveAsset(symbol string) (ledger.AssetID, uint8, error) {
	id, ok := ledger.GetAssetID(symbol)
	if !ok {
		return 0, 0, fmt.Errorf("%w: %q", state.ErrUnknownAsset, symbol)
	}
	decimals, _ := ledger.GetAssetDecimals(id)
	return id, decimals, nil
}

func assetDecimals(id ledger.AssetID) (uint8, error) {
	decimals, ok := ledger.GetAssetDecimals(id)
	if !ok {
		return 0, fmt.Errorf("%w: %d", state.ErrUnknownAsset, id)
	}
	return decimals, nil
}

func (c *DeterministicCore) handleProtocolInit(tx *txn, evt *event.ProtocolInit) error {
	return tx.protocolConfig().Initialize(evt.Admin)
}

func (c *DeterministicCore) handleProtocolPause(tx *txn, evt *event.ProtocolPause) error {
	return tx.protocolConfig().Pause(evt.Caller)
}

func (c *DeterministicCore) handleProtocolUnpause(tx *txn, evt *event.ProtocolUnpause) error {
	return tx.protocolConfig().Unpause(evt.Caller)
}

// handleWalletDeposit credits an owner wallet from the external deposit
// account. Only the admin bridges funds in.
func (c *DeterministicCore) handleWalletDeposit(tx *txn, evt *event.WalletDeposit) error {
	if err := tx.requireActive(); err != nil {
		return err
	}
	if err := tx.requireAdmin(); err != nil {
		return err
	}
	if evt.Account == uuid.Nil {
		return fmt.Errorf("%w: deposit account", state.ErrInvalidAuthority)
	}
	if evt.Amount == 0 {
		return state.ErrZeroAmount
	}
	assetID, _, err := resolveAsset(evt.Asset)
	if err != nil {
		return err
	}

	tx.b.Transfer(
		ledger.NewExternalAccountKey(ledger.SubTypeExternalDeposits, assetID),
		ledger.Wallet(evt.Account, assetID),
		evt.Amount,
		ledger.JournalTypeWalletDeposit,
	)
	return nil
}

// handleWalletWithdrawal moves funds out of the caller's wallet. The batch
// apply rejects a withdrawal larger than the wallet balance.
func (c *DeterministicCore) handleWalletWithdrawal(tx *txn, evt *event.WalletWithdrawal) error {
	if err := tx.requireActive(); err != nil {
		return err
	}
	if evt.Amount == 0 {
		return state.ErrZeroAmount
	}
	assetID, _, err := resolveAsset(evt.Asset)
	if err != nil {
		return err
	}

	tx.b.Transfer(
		ledger.Wallet(evt.Caller, assetID),
		ledger.NewExternalAccountKey(ledger.SubTypeExternalWithdrawals, assetID),
		evt.Amount,
		ledger.JournalTypeWalletWithdrawal,
	)
	return nil
}

func (c *DeterministicCore) handleOraclePriceUpdate(tx *txn, evt *event.OraclePriceUpdate) error {
	if err := tx.requireActive(); err != nil {
		return err
	}
	if err := tx.requireAdmin(); err != nil {
		return err
	}
	if tx.protocolConfig().OraclePaused {
		return state.ErrOraclePaused
	}
	assetID, _, err := resolveAsset(evt.Asset)
	if err != nil {
		return err
	}
	return tx.priceBook().Publish(oracle.Reading{
		SourceID:       evt.SourceID,
		AssetID:        assetID,
		Price:          evt.Price,
		Decimals:       evt.Decimals,
		LastUpdateSlot: evt.Slot,
	})
}

func (c *DeterministicCore) handleOraclePause(tx *txn, evt *event.OraclePause) error {
	if err := tx.requireActive(); err != nil {
		return err
	}
	return tx.protocolConfig().PauseOracle(evt.Caller)
}

func (c *DeterministicCore) handleOracleUnpause(tx *txn, evt *event.OracleUnpause) error {
	if err := tx.requireActive(); err != nil {
		return err
	}
	return tx.protocolConfig().UnpauseOracle(evt.Caller)
}
