package state

// LiquidationState is the account's position in the liquidation lifecycle,
// derived from the BeingLiquidated and IsBankrupt flags.
type LiquidationState int32

const (
	LiquidationStateHealthy LiquidationState = iota
	LiquidationStateBeingLiquidated
	LiquidationStateBankrupt
)

func (ls LiquidationState) String() string {
	switch ls {
	case LiquidationStateHealthy:
		return "Healthy"
	case LiquidationStateBeingLiquidated:
		return "BeingLiquidated"
	case LiquidationStateBankrupt:
		return "Bankrupt"
	default:
		return "Unknown"
	}
}

func (a *Account) LiquidationState() LiquidationState {
	switch {
	case a.IsBankrupt:
		return LiquidationStateBankrupt
	case a.BeingLiquidated:
		return LiquidationStateBeingLiquidated
	default:
		return LiquidationStateHealthy
	}
}
