package ledger

import (
	"fmt"

	"github.com/google/uuid"
)

// AccountScope represents the top-level account namespace
type AccountScope uint8

const (
	AccountScopeUser AccountScope = iota
	AccountScopeSystem
	AccountScopeExternal
)

// AccountSubType represents the account purpose
type AccountSubType uint8

const (
	// User sub-types
	SubTypeWallet AccountSubType = iota

	// System sub-types
	SubTypeCollateralCustody
	SubTypePoolLiquidity
	SubTypeProtocolFees
	SubTypeFinancingEscrow

	// External sub-types
	SubTypeExternalDeposits
	SubTypeExternalWithdrawals
	SubTypeExternalExchange
)

// AssetID maps asset symbols to numeric IDs for performance
type AssetID uint16

// Asset describes a registered token and its declared decimal count.
type Asset struct {
	ID       AssetID
	Symbol   string
	Decimals uint8
}

var (
	assetsBySymbol = map[string]Asset{}
	assetsByID     = map[AssetID]Asset{}
)

func init() {
	for _, a := range []Asset{
		{ID: 1, Symbol: "USDC", Decimals: 6},
		{ID: 2, Symbol: "USDT", Decimals: 6},
		{ID: 3, Symbol: "SOL", Decimals: 9},
		{ID: 4, Symbol: "WBTC", Decimals: 8},
		{ID: 5, Symbol: "WETH", Decimals: 8},
	} {
		if err := RegisterAsset(a); err != nil {
			panic(err)
		}
	}
}

// RegisterAsset adds an asset to the registry. Registration is expected at
// startup, before the engine processes commands.
func RegisterAsset(a Asset) error {
	if a.ID == 0 || a.Symbol == "" {
		return fmt.Errorf("asset id and symbol are required")
	}
	if a.Decimals > 18 {
		return fmt.Errorf("asset %s: decimals %d out of range", a.Symbol, a.Decimals)
	}
	if existing, ok := assetsByID[a.ID]; ok && existing.Symbol != a.Symbol {
		return fmt.Errorf("asset id %d already registered as %s", a.ID, existing.Symbol)
	}
	assetsBySymbol[a.Symbol] = a
	assetsByID[a.ID] = a
	return nil
}

func GetAssetID(symbol string) (AssetID, bool) {
	a, ok := assetsBySymbol[symbol]
	return a.ID, ok
}

func GetAssetName(id AssetID) (string, bool) {
	a, ok := assetsByID[id]
	return a.Symbol, ok
}

// GetAsset returns the registered asset for a symbol.
func GetAsset(symbol string) (Asset, bool) {
	a, ok := assetsBySymbol[symbol]
	return a, ok
}

// GetAssetDecimals returns the declared decimal count of an asset.
func GetAssetDecimals(id AssetID) (uint8, bool) {
	a, ok := assetsByID[id]
	return a.Decimals, ok
}

// AccountKey is the in-memory key for balance tracking
type AccountKey struct {
	Scope    AccountScope
	EntityID [16]byte // owner UUID for user accounts, zero otherwise
	SubType  AccountSubType
	AssetID  AssetID
}

// NewUserAccountKey creates a key for user accounts
func NewUserAccountKey(userID uuid.UUID, subType AccountSubType, assetID AssetID) AccountKey {
	return AccountKey{
		Scope:    AccountScopeUser,
		EntityID: userID,
		SubType:  subType,
		AssetID:  assetID,
	}
}

// NewSystemAccountKey creates a key for protocol-owned accounts
func NewSystemAccountKey(subType AccountSubType, assetID AssetID) AccountKey {
	return AccountKey{
		Scope:   AccountScopeSystem,
		SubType: subType,
		AssetID: assetID,
	}
}

// NewExternalAccountKey creates a key for external boundary accounts
func NewExternalAccountKey(subType AccountSubType, assetID AssetID) AccountKey {
	return AccountKey{
		Scope:   AccountScopeExternal,
		SubType: subType,
		AssetID: assetID,
	}
}

// Wallet is shorthand for a user's wallet account.
func Wallet(owner uuid.UUID, assetID AssetID) AccountKey {
	return NewUserAccountKey(owner, SubTypeWallet, assetID)
}

// IsExternal reports whether the account is an unbounded source/sink.
func (k AccountKey) IsExternal() bool {
	return k.Scope == AccountScopeExternal
}

// AccountPath returns the string representation for storage/logging
func (k AccountKey) AccountPath() string {
	assetName, ok := GetAssetName(k.AssetID)
	if !ok {
		assetName = fmt.Sprintf("asset%d", k.AssetID)
	}

	switch k.Scope {
	case AccountScopeUser:
		uid := uuid.UUID(k.EntityID)
		return fmt.Sprintf("user:%s:%s:%s", uid.String(), k.subTypeName(), assetName)
	case AccountScopeSystem:
		return fmt.Sprintf("system:%s:%s", k.subTypeName(), assetName)
	case AccountScopeExternal:
		return fmt.Sprintf("external:%s:%s", k.subTypeName(), assetName)
	}
	return "unknown"
}

func (k AccountKey) subTypeName() string {
	switch k.SubType {
	case SubTypeWallet:
		return "wallet"
	case SubTypeCollateralCustody:
		return "collateral_custody"
	case SubTypePoolLiquidity:
		return "pool_liquidity"
	case SubTypeProtocolFees:
		return "protocol_fees"
	case SubTypeFinancingEscrow:
		return "financing_escrow"
	case SubTypeExternalDeposits:
		return "deposits"
	case SubTypeExternalWithdrawals:
		return "withdrawals"
	case SubTypeExternalExchange:
		return "exchange"
	default:
		return "unknown"
	}
}
