package ledger

import (
	"fmt"

	fpmath "LyraeLedger/internal/math"
	"LyraeLedger/internal/state"
)

// tolerance absorbs the last-bit drift of fixed-point sums.
var tolerance = fpmath.MustParse("0.000001")

// InvariantValidator checks cross-account ledger invariants against the
// group and its markets.
type InvariantValidator struct {
	group   *state.Group
	markets map[int]*state.PerpMarket
}

func NewInvariantValidator(g *state.Group, markets map[int]*state.PerpMarket) *InvariantValidator {
	return &InvariantValidator{group: g, markets: markets}
}

// ValidateExclusivity verifies no account holds both a deposit and a
// borrow of the same token.
func (v *InvariantValidator) ValidateExclusivity(accounts []*state.Account) error {
	for _, a := range accounts {
		for t := range a.Deposits {
			if a.Deposits[t].IsPositive() && a.Borrows[t].IsPositive() {
				return fmt.Errorf("%w: account %s has deposit and borrow of token %d", state.ErrInvalidAccountState, a.ID, t)
			}
		}
	}
	return nil
}

// ValidateBankTotals verifies each bank's pooled indexed deposits and
// borrows equal the sum over accounts.
func (v *InvariantValidator) ValidateBankTotals(accounts []*state.Account) error {
	for t := range v.group.Tokens {
		bank := v.group.Tokens[t].RootBank
		if bank == nil {
			continue
		}
		var poolDeposits, poolBorrows, deposits, borrows fpmath.I80F48
		for i := range bank.NodeBanks {
			poolDeposits = poolDeposits.Add(bank.NodeBanks[i].Deposits)
			poolBorrows = poolBorrows.Add(bank.NodeBanks[i].Borrows)
		}
		for _, a := range accounts {
			deposits = deposits.Add(a.Deposits[t])
			borrows = borrows.Add(a.Borrows[t])
		}
		if poolDeposits.Sub(deposits).Abs().Gt(tolerance) {
			return fmt.Errorf("%w: token %d pool deposits %s, accounts %s", state.ErrInvalidAccountState, t, poolDeposits, deposits)
		}
		if poolBorrows.Sub(borrows).Abs().Gt(tolerance) {
			return fmt.Errorf("%w: token %d pool borrows %s, accounts %s", state.ErrInvalidAccountState, t, poolBorrows, borrows)
		}
	}
	return nil
}

// ValidateOpenInterest verifies every market's open interest is the sum
// of absolute base positions.
func (v *InvariantValidator) ValidateOpenInterest(accounts []*state.Account) error {
	for i, m := range v.markets {
		var oi int64
		for _, a := range accounts {
			base := a.Perps[i].BasePosition
			if base < 0 {
				base = -base
			}
			oi += base
		}
		if oi != m.OpenInterest {
			return fmt.Errorf("%w: market %d open interest %d, positions sum to %d", state.ErrInvalidAccountState, i, m.OpenInterest, oi)
		}
	}
	return nil
}

// ValidateAll runs every check.
func (v *InvariantValidator) ValidateAll(accounts []*state.Account) error {
	if err := v.ValidateExclusivity(accounts); err != nil {
		return err
	}
	if err := v.ValidateBankTotals(accounts); err != nil {
		return err
	}
	return v.ValidateOpenInterest(accounts)
}
