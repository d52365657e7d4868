package event

import "github.com/google/uuid"

// LiquidityDeposit adds liquidity from the caller's wallet for shares.
type LiquidityDeposit struct {
	Meta
	Amount uint64 `json:"amount"`
}

func (l *LiquidityDeposit) EventType() EventType { return EventTypeLiquidityDeposit }
func (l *LiquidityDeposit) Subject() uuid.UUID   { return l.Caller }

// LiquidityWithdrawal burns the caller's shares for liquidity.
type LiquidityWithdrawal struct {
	Meta
	Shares uint64 `json:"shares"`
}

func (l *LiquidityWithdrawal) EventType() EventType { return EventTypeLiquidityWithdrawal }
func (l *LiquidityWithdrawal) Subject() uuid.UUID   { return l.Caller }

// FinancingAllocation locks pool liquidity outside the origination flow.
type FinancingAllocation struct {
	Meta
	Amount uint64 `json:"amount"`
}

func (f *FinancingAllocation) EventType() EventType { return EventTypeFinancingAllocation }
func (f *FinancingAllocation) Subject() uuid.UUID   { return uuid.Nil }

// FinancingRelease returns escrowed liquidity to the pool.
type FinancingRelease struct {
	Meta
	Amount uint64 `json:"amount"`
}

func (f *FinancingRelease) EventType() EventType { return EventTypeFinancingRelease }
func (f *FinancingRelease) Subject() uuid.UUID   { return uuid.Nil }

// BadDebtWriteOff socializes a loss across share holders.
type BadDebtWriteOff struct {
	Meta
	FinancingAmount uint64 `json:"financing_amount"`
	BadDebt         uint64 `json:"bad_debt"`
}

func (b *BadDebtWriteOff) EventType() EventType { return EventTypeBadDebtWriteOff }
func (b *BadDebtWriteOff) Subject() uuid.UUID   { return uuid.Nil }

type PoolPause struct {
	Meta
}

func (p *PoolPause) EventType() EventType { return EventTypePoolPause }
func (p *PoolPause) Subject() uuid.UUID   { return uuid.Nil }

type PoolUnpause struct {
	Meta
}

func (p *PoolUnpause) EventType() EventType { return EventTypePoolUnpause }
func (p *PoolUnpause) Subject() uuid.UUID   { return uuid.Nil }

// PoolAuthorityMigration hands pool authority to a new identity.
type PoolAuthorityMigration struct {
	Meta
	NewAuthority uuid.UUID `json:"new_authority"`
}

func (p *PoolAuthorityMigration) EventType() EventType { return EventTypePoolAuthorityMigration }
func (p *PoolAuthorityMigration) Subject() uuid.UUID   { return uuid.Nil }
