package event

import (
	"encoding/json"
	"fmt"
)

var constructors = map[EventType]func() Event{
	EventTypeProtocolInit:              func() Event { return &ProtocolInit{} },
	EventTypeProtocolPause:             func() Event { return &ProtocolPause{} },
	EventTypeProtocolUnpause:           func() Event { return &ProtocolUnpause{} },
	EventTypeWalletDeposit:             func() Event { return &WalletDeposit{} },
	EventTypeWalletWithdrawal:          func() Event { return &WalletWithdrawal{} },
	EventTypeOraclePriceUpdate:         func() Event { return &OraclePriceUpdate{} },
	EventTypePositionOpen:              func() Event { return &PositionOpen{} },
	EventTypeCollateralPriceUpdate:     func() Event { return &CollateralPriceUpdate{} },
	EventTypeMaturityClose:             func() Event { return &MaturityClose{} },
	EventTypeEarlyClose:                func() Event { return &EarlyClose{} },
	EventTypeDelegateAssignment:        func() Event { return &DelegateAssignment{} },
	EventTypeRepaymentSettlement:       func() Event { return &RepaymentSettlement{} },
	EventTypeMaturitySweep:             func() Event { return &MaturitySweep{} },
	EventTypePermissionlessLiquidation: func() Event { return &PermissionlessLiquidation{} },
	EventTypeForcedLiquidation:         func() Event { return &ForcedLiquidation{} },
	EventTypeSnapshotFreeze:            func() Event { return &SnapshotFreeze{} },
	EventTypeLiquidationExecution:      func() Event { return &LiquidationExecution{} },
	EventTypeProceedsDistribution:      func() Event { return &ProceedsDistribution{} },
	EventTypeLiquidityDeposit:          func() Event { return &LiquidityDeposit{} },
	EventTypeLiquidityWithdrawal:       func() Event { return &LiquidityWithdrawal{} },
	EventTypeFinancingAllocation:       func() Event { return &FinancingAllocation{} },
	EventTypeFinancingRelease:          func() Event { return &FinancingRelease{} },
	EventTypeBadDebtWriteOff:           func() Event { return &BadDebtWriteOff{} },
	EventTypePoolPause:                 func() Event { return &PoolPause{} },
	EventTypePoolUnpause:               func() Event { return &PoolUnpause{} },
	EventTypePoolAuthorityMigration:    func() Event { return &PoolAuthorityMigration{} },
	EventTypeOraclePause:               func() Event { return &OraclePause{} },
	EventTypeOracleUnpause:             func() Event { return &OracleUnpause{} },
}

// New returns an empty payload for an event type.
func New(t EventType) (Event, error) {
	ctor, ok := constructors[t]
	if !ok {
		return nil, fmt.Errorf("unknown event type: %d", t)
	}
	return ctor(), nil
}

// Encode serializes an event payload for the event log.
func Encode(e Event) ([]byte, error) {
	return json.Marshal(e)
}

// Decode rebuilds an event payload from its type and encoded form.
func Decode(t EventType, payload []byte) (Event, error) {
	e, err := New(t)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(payload, e); err != nil {
		return nil, fmt.Errorf("decode %s: %w", t, err)
	}
	return e, nil
}
