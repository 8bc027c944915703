package health

import (
	"LyraeLedger/internal/host"
	"LyraeLedger/internal/state"
)

// CheckEnterBankruptcy reports whether acct has liabilities and no assets
// left to liquidate: no deposits, no positive perp quote, no base position
// and no basket open-orders balances.
func CheckEnterBankruptcy(g *state.Group, acct *state.Account, venue host.SpotVenue) bool {
	if acct.Deposits[state.QuoteIndex].IsPositive() {
		return false
	}
	for i := 0; i < g.NumOracles; i++ {
		if acct.Deposits[i].IsPositive() {
			return false
		}
		pa := &acct.Perps[i]
		if pa.BasePosition != 0 || pa.QuotePosition.IsPositive() {
			return false
		}
		if acct.InMarginBasket[i] && venue != nil {
			if oo, ok := venue.OpenOrders(acct.ID, i); ok && !oo.IsEmpty() {
				return false
			}
		}
	}
	return hasLiabilities(g, acct)
}

// CheckExitBankruptcy reports whether every borrow is zero and no perp quote
// position is negative.
func CheckExitBankruptcy(g *state.Group, acct *state.Account) bool {
	return !hasLiabilities(g, acct)
}

func hasLiabilities(g *state.Group, acct *state.Account) bool {
	if acct.Borrows[state.QuoteIndex].IsPositive() {
		return true
	}
	for i := 0; i < g.NumOracles; i++ {
		if acct.Borrows[i].IsPositive() || acct.Perps[i].QuotePosition.IsNegative() {
			return true
		}
	}
	return false
}
