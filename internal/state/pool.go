package state

import (
	"bytes"
	"sort"

	"github.com/google/uuid"

	"github.com/x5th/x-leverage/internal/ledger"
	fpmath "github.com/x5th/x-leverage/internal/math"
)

// BaseSharePrice is reported as the share price of an empty pool.
const BaseSharePrice uint64 = 1_000_000

// LiquidityPool is the singleton pool that funds financings. Balance is the
// pool's total assets, including the part lent out and counted in
// LockedForFinancing. Losses are absorbed by reducing Balance, which lowers
// the share price for every holder at once.
type LiquidityPool struct {
	Asset              ledger.AssetID
	Authority          uuid.UUID
	Paused             bool
	TotalShares        uint64
	Balance            uint64
	LockedForFinancing uint64
	Utilization        uint64 // bps
	PendingBadDebt     uint64 // lost principal awaiting write-off
	Shares             map[uuid.UUID]uint64
}

func NewLiquidityPool(asset ledger.AssetID, authority uuid.UUID) *LiquidityPool {
	return &LiquidityPool{
		Asset:     asset,
		Authority: authority,
		Shares:    make(map[uuid.UUID]uint64),
	}
}

// Clone returns a deep copy so handlers can stage changes.
func (lp *LiquidityPool) Clone() *LiquidityPool {
	c := *lp
	c.Shares = make(map[uuid.UUID]uint64, len(lp.Shares))
	for k, v := range lp.Shares {
		c.Shares[k] = v
	}
	return &c
}

// SharePrice returns balance / totalShares, or BaseSharePrice when empty.
func (lp *LiquidityPool) SharePrice() uint64 {
	if lp.TotalShares == 0 {
		return BaseSharePrice
	}
	return lp.Balance / lp.TotalShares
}

// Available returns the liquidity not locked against open financings.
func (lp *LiquidityPool) Available() uint64 {
	return fpmath.SaturatingSub(lp.Balance, lp.LockedForFinancing)
}

// UtilizationBps returns locked * 10_000 / balance, 0 for an empty pool.
func (lp *LiquidityPool) UtilizationBps() uint64 {
	if lp.Balance == 0 {
		return 0
	}
	u, err := fpmath.MulDiv(lp.LockedForFinancing, fpmath.BpsDenominator, lp.Balance)
	if err != nil {
		return fpmath.BpsDenominator
	}
	return u
}

// LPApyBps returns utilization * baseRate / 10_000.
func (lp *LiquidityPool) LPApyBps(baseRateBps uint64) uint64 {
	apy, err := fpmath.MulDiv(lp.UtilizationBps(), baseRateBps, fpmath.BpsDenominator)
	if err != nil {
		return 0
	}
	return apy
}

// RedeemAmount returns balance * shares / totalShares, rounded down.
func (lp *LiquidityPool) RedeemAmount(shares uint64) (uint64, error) {
	if shares > lp.TotalShares {
		return 0, ErrInsufficientShares
	}
	if lp.TotalShares == 0 {
		return 0, nil
	}
	amount, err := fpmath.MulDiv(lp.Balance, shares, lp.TotalShares)
	return amount, arith(err)
}

func (lp *LiquidityPool) refresh() error {
	if lp.Balance < lp.LockedForFinancing {
		return ErrUnderCollateralized
	}
	lp.Utilization = lp.UtilizationBps()
	return nil
}

func (lp *LiquidityPool) requireAuthority(caller uuid.UUID) error {
	if lp.Authority == uuid.Nil || caller != lp.Authority {
		return ErrUnauthorized
	}
	return nil
}

func (lp *LiquidityPool) requireActive() error {
	if lp.Paused {
		return ErrPoolPaused
	}
	return nil
}

// Deposit mints shares for amount. The first deposit mints 1:1; later ones
// mint amount * totalShares / balance.
func (lp *LiquidityPool) Deposit(provider uuid.UUID, amount uint64) (uint64, error) {
	if err := lp.requireActive(); err != nil {
		return 0, err
	}
	if amount == 0 {
		return 0, ErrZeroAmount
	}

	preShares := lp.TotalShares
	prePrice := lp.SharePrice()

	var minted uint64
	if preShares == 0 {
		minted = amount
	} else {
		if lp.Balance == 0 {
			return 0, ErrPoolInsolvent
		}
		m, err := fpmath.MulDiv(amount, preShares, lp.Balance)
		if err != nil {
			return 0, arith(err)
		}
		minted = m
	}
	if minted == 0 {
		return 0, ErrDepositTooSmall
	}

	totalShares, err := fpmath.CheckedAdd(preShares, minted)
	if err != nil {
		return 0, arith(err)
	}
	balance, err := fpmath.CheckedAdd(lp.Balance, amount)
	if err != nil {
		return 0, arith(err)
	}
	holding, err := fpmath.CheckedAdd(lp.Shares[provider], minted)
	if err != nil {
		return 0, arith(err)
	}

	if preShares > 0 && balance/totalShares < prePrice {
		return 0, ErrSharePriceRegression
	}

	lp.TotalShares = totalShares
	lp.Balance = balance
	lp.Shares[provider] = holding
	return minted, lp.refresh()
}

// Withdraw burns shares and returns balance * shares / totalShares, limited
// to the liquidity not locked against financings.
func (lp *LiquidityPool) Withdraw(provider uuid.UUID, shares uint64) (uint64, error) {
	if err := lp.requireActive(); err != nil {
		return 0, err
	}
	if shares == 0 {
		return 0, ErrZeroAmount
	}
	if shares > lp.TotalShares {
		return 0, ErrInsufficientShares
	}
	if shares > lp.Shares[provider] {
		return 0, ErrInsufficientShares
	}

	amount, err := lp.RedeemAmount(shares)
	if err != nil {
		return 0, err
	}
	if amount == 0 {
		return 0, ErrZeroAmount
	}
	if amount > lp.Available() {
		return 0, ErrInsufficientLiquidity
	}

	totalShares := lp.TotalShares - shares
	balance := lp.Balance - amount
	if totalShares > 0 && balance/totalShares == 0 {
		return 0, ErrSharePriceZero
	}

	lp.TotalShares = totalShares
	lp.Balance = balance
	if remaining := lp.Shares[provider] - shares; remaining > 0 {
		lp.Shares[provider] = remaining
	} else {
		delete(lp.Shares, provider)
	}
	return amount, lp.refresh()
}

// Allocate locks amount against a new financing.
func (lp *LiquidityPool) Allocate(amount uint64) error {
	if err := lp.requireActive(); err != nil {
		return err
	}
	if amount == 0 {
		return ErrZeroAmount
	}
	if amount > lp.Balance {
		return ErrInsufficientLiquidity
	}
	locked, err := fpmath.CheckedAdd(lp.LockedForFinancing, amount)
	if err != nil {
		return arith(err)
	}
	if locked > lp.Balance {
		return ErrInsufficientLiquidity
	}
	lp.LockedForFinancing = locked
	return lp.refresh()
}

// Release unlocks repaid principal, clamped to what is locked, and books
// income (markup, recovered fees) into the balance. It returns the amount
// actually unlocked.
func (lp *LiquidityPool) Release(principal, income uint64) (uint64, error) {
	unlock := principal
	if unlock > lp.LockedForFinancing {
		unlock = lp.LockedForFinancing
	}
	balance, err := fpmath.CheckedAdd(lp.Balance, income)
	if err != nil {
		return 0, arith(err)
	}
	lp.LockedForFinancing -= unlock
	lp.Balance = balance
	return unlock, lp.refresh()
}

// RecordLoss marks principal that a liquidation failed to recover.
func (lp *LiquidityPool) RecordLoss(lostPrincipal uint64) {
	lp.PendingBadDebt = fpmath.SaturatingAdd(lp.PendingBadDebt, lostPrincipal)
}

// WriteOff unlocks the financing amount (clamped to what is locked) and
// removes badDebt from the balance, spreading the loss over all shares.
func (lp *LiquidityPool) WriteOff(caller uuid.UUID, financingAmount, badDebt uint64) error {
	if err := lp.requireAuthority(caller); err != nil {
		return err
	}
	if financingAmount == 0 && badDebt == 0 {
		return ErrZeroAmount
	}
	unlock := financingAmount
	if unlock > lp.LockedForFinancing {
		unlock = lp.LockedForFinancing
	}
	balance, err := fpmath.CheckedSub(lp.Balance, badDebt)
	if err != nil {
		return ErrInsufficientLiquidity
	}
	lp.LockedForFinancing -= unlock
	lp.Balance = balance
	lp.PendingBadDebt = fpmath.SaturatingSub(lp.PendingBadDebt, badDebt)
	return lp.refresh()
}

func (lp *LiquidityPool) Pause(caller uuid.UUID) error {
	if err := lp.requireAuthority(caller); err != nil {
		return err
	}
	if lp.Paused {
		return ErrAlreadyPaused
	}
	lp.Paused = true
	return nil
}

func (lp *LiquidityPool) Unpause(caller uuid.UUID) error {
	if err := lp.requireAuthority(caller); err != nil {
		return err
	}
	if !lp.Paused {
		return ErrNotPaused
	}
	lp.Paused = false
	return nil
}

// MigrateAuthority hands the pool to a new authority. While no authority is
// set, any caller may claim it.
func (lp *LiquidityPool) MigrateAuthority(caller, next uuid.UUID) error {
	if next == uuid.Nil {
		return ErrInvalidAuthority
	}
	if lp.Authority != uuid.Nil && caller != lp.Authority {
		return ErrUnauthorized
	}
	lp.Authority = next
	return nil
}

// Holders returns share holdings ordered by provider.
func (lp *LiquidityPool) Holders() []ShareHolding {
	out := make([]ShareHolding, 0, len(lp.Shares))
	for k, v := range lp.Shares {
		out = append(out, ShareHolding{Provider: k, Shares: v})
	}
	sort.Slice(out, func(i, j int) bool {
		return bytes.Compare(out[i].Provider[:], out[j].Provider[:]) < 0
	})
	return out
}

// ShareHolding is one provider's share balance.
type ShareHolding struct {
	Provider uuid.UUID
	Shares   uint64
}

// CanonicalBytes returns deterministic serialization for hashing
func (lp *LiquidityPool) CanonicalBytes() []byte {
	buf := make([]byte, 0, 128)
	buf = appendUint64LE(buf, uint64(lp.Asset))
	buf = append(buf, lp.Authority[:]...)
	if lp.Paused {
		buf = append(buf, 1)
	} else {
		buf = append(buf, 0)
	}
	buf = appendUint64LE(buf, lp.TotalShares)
	buf = appendUint64LE(buf, lp.Balance)
	buf = appendUint64LE(buf, lp.LockedForFinancing)
	buf = appendUint64LE(buf, lp.Utilization)
	buf = appendUint64LE(buf, lp.PendingBadDebt)
	for _, h := range lp.Holders() {
		buf = append(buf, h.Provider[:]...)
		buf = appendUint64LE(buf, h.Shares)
	}
	return buf
}
