package state

import (
	"fmt"

	fpmath "LyraeLedger/internal/math"
)

// InsuranceFund holds native quote tokens that bankruptcy resolution draws
// on before losses are socialized.
type InsuranceFund struct {
	Balance uint64 `json:"balance"`
}

func NewInsuranceFund(balance uint64) *InsuranceFund {
	return &InsuranceFund{Balance: balance}
}

// BalanceFixed returns the balance as a fixed-point value.
func (f *InsuranceFund) BalanceFixed() fpmath.I80F48 {
	return fpmath.FromUint(f.Balance)
}

// Cover returns how much of deficit the fund can pay, and whether paying
// it empties the fund. Any remainder is socialized by the caller.
func (f *InsuranceFund) Cover(deficit uint64) (amount uint64, exhausted bool) {
	amount = min(deficit, f.Balance)
	return amount, amount == f.Balance
}

// Draw removes amount from the fund.
func (f *InsuranceFund) Draw(amount uint64) error {
	if amount > f.Balance {
		return fmt.Errorf("%w: insurance fund has %d, need %d", ErrInsufficientFunds, f.Balance, amount)
	}
	f.Balance -= amount
	return nil
}

func (f *InsuranceFund) Clone() *InsuranceFund {
	c := *f
	return &c
}
