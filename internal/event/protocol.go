package event

import "github.com/google/uuid"

// ProtocolInit installs the protocol admin. It succeeds once.
type ProtocolInit struct {
	Meta
	Admin uuid.UUID `json:"admin"`
}

func (p *ProtocolInit) EventType() EventType { return EventTypeProtocolInit }
func (p *ProtocolInit) Subject() uuid.UUID   { return uuid.Nil }

// ProtocolPause engages the circuit breaker.
type ProtocolPause struct {
	Meta
}

func (p *ProtocolPause) EventType() EventType { return EventTypeProtocolPause }
func (p *ProtocolPause) Subject() uuid.UUID   { return uuid.Nil }

// ProtocolUnpause releases the circuit breaker.
type ProtocolUnpause struct {
	Meta
}

func (p *ProtocolUnpause) EventType() EventType { return EventTypeProtocolUnpause }
func (p *ProtocolUnpause) Subject() uuid.UUID   { return uuid.Nil }

// WalletDeposit credits an account's wallet from the custody bridge.
type WalletDeposit struct {
	Meta
	Account uuid.UUID `json:"account"`
	Asset   string    `json:"asset"`
	Amount  uint64    `json:"amount"`
}

func (w *WalletDeposit) EventType() EventType { return EventTypeWalletDeposit }
func (w *WalletDeposit) Subject() uuid.UUID   { return w.Account }

// WalletWithdrawal moves funds out of the caller's wallet.
type WalletWithdrawal struct {
	Meta
	Asset  string `json:"asset"`
	Amount uint64 `json:"amount"`
}

func (w *WalletWithdrawal) EventType() EventType { return EventTypeWalletWithdrawal }
func (w *WalletWithdrawal) Subject() uuid.UUID   { return w.Caller }

// OraclePriceUpdate publishes a reading from a price source.
type OraclePriceUpdate struct {
	Meta
	SourceID uuid.UUID `json:"source_id"`
	Asset    string    `json:"asset"`
	Price    uint64    `json:"price"`
	Decimals uint8     `json:"decimals"`
}

func (o *OraclePriceUpdate) EventType() EventType { return EventTypeOraclePriceUpdate }
func (o *OraclePriceUpdate) Subject() uuid.UUID   { return uuid.Nil }

// OraclePause stops price publication. Stored readings age out normally.
type OraclePause struct {
	Meta
}

func (o *OraclePause) EventType() EventType { return EventTypeOraclePause }
func (o *OraclePause) Subject() uuid.UUID   { return uuid.Nil }

// OracleUnpause resumes price publication.
type OracleUnpause struct {
	Meta
}

func (o *OracleUnpause) EventType() EventType { return EventTypeOracleUnpause }
func (o *OracleUnpause) Subject() uuid.UUID   { return uuid.Nil }
