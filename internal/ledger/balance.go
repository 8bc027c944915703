// Package ledger holds the account balance operations that sit beside
// matching and liquidation: deposits and withdrawals, spot basket upkeep,
// PnL and fee settlement, incentive redemption and the cache cranks.
package ledger

import (
	"fmt"
	"math"

	"LyraeLedger/internal/event"
	"LyraeLedger/internal/funding"
	"LyraeLedger/internal/health"
	"LyraeLedger/internal/host"
	fpmath "LyraeLedger/internal/math"
	"LyraeLedger/internal/state"
)

// WithdrawAll asks Withdraw for the whole deposit, floored to native units.
const WithdrawAll = math.MaxUint64

// Deposit credits quantity native units of token to acct. Anyone may fund
// any account; only bankrupt accounts are refused.
func Deposit(env *host.Env, acct *state.Account, token int, quantity uint64) error {
	g, mc := env.Group, env.Cache
	if err := g.CheckTokenIndex(token); err != nil {
		return err
	}
	if quantity == 0 {
		return fmt.Errorf("%w: zero deposit", state.ErrInvalidParam)
	}
	if acct.IsBankrupt {
		return state.ErrBankrupt
	}
	if err := mc.CheckRootBank(g, token, env.Now); err != nil {
		return err
	}

	node := g.Tokens[token].RootBank.Node()
	if err := state.CheckedChangeNet(&mc.RootBanks[token], node, acct, token, fpmath.FromUint(quantity)); err != nil {
		return err
	}
	node.Vault += quantity

	env.Emit(&event.DepositLog{Account: acct.ID, Token: token, Quantity: quantity})
	env.Emit(event.TokenBalance(acct, token))
	return nil
}

// Withdraw debits quantity native units of token from acct after settling
// funding on its perps. Without allowBorrow the deposit must cover the
// whole quantity. The account must end with non-negative Init health.
func Withdraw(env *host.Env, acct *state.Account, token int, quantity uint64, allowBorrow bool) (uint64, error) {
	g, mc := env.Group, env.Cache
	if err := g.CheckTokenIndex(token); err != nil {
		return 0, err
	}
	if acct.IsBankrupt {
		return 0, state.ErrBankrupt
	}
	if acct.BeingLiquidated {
		return 0, state.ErrBeingLiquidated
	}

	tokenAsset := state.Asset{Type: state.AssetToken, Index: token}
	active := state.NewActiveAssets(g, acct, tokenAsset)
	if err := mc.CheckValid(g, active, env.Now); err != nil {
		return 0, err
	}
	funding.SettleActive(g, mc, acct, active)

	bankCache := &mc.RootBanks[token]
	deposit := acct.NativeDeposit(bankCache, token)
	amount := fpmath.FromUint(quantity)
	if quantity == WithdrawAll && !allowBorrow {
		amount = deposit.Floor()
		quantity = amount.ToUint64()
	}
	if quantity == 0 {
		return 0, fmt.Errorf("%w: nothing to withdraw", state.ErrInvalidParam)
	}
	if deposit.Lt(amount) && !allowBorrow {
		return 0, fmt.Errorf("%w: deposit %s, requested %d", state.ErrInsufficientFunds, deposit, quantity)
	}

	node := g.Tokens[token].RootBank.Node()
	if node.Vault < quantity {
		return 0, fmt.Errorf("%w: vault holds %d", state.ErrInsufficientLiquidity, node.Vault)
	}
	if err := state.CheckedChangeNet(bankCache, node, acct, token, amount.Neg()); err != nil {
		return 0, err
	}
	node.Vault -= quantity

	hc, err := health.ForAccount(env, acct, tokenAsset)
	if err != nil {
		return 0, err
	}
	if h := hc.Health(g, mc, state.Init); h.IsNegative() {
		return 0, fmt.Errorf("%w: init health %s after withdraw", state.ErrInsufficientHealth, h)
	}

	env.Emit(&event.WithdrawLog{Account: acct.ID, Owner: acct.Owner, Token: token, Quantity: quantity})
	env.Emit(event.TokenBalance(acct, token))
	return quantity, nil
}

// UpdateMarginBasket keeps exactly the spot markets where acct has a
// non-empty open orders account in its margin basket.
func UpdateMarginBasket(env *host.Env, acct *state.Account) {
	for i := 0; i < env.Group.NumOracles; i++ {
		acct.InMarginBasket[i] = hasOpenOrders(env.Venue, acct, i)
	}
}

func hasOpenOrders(venue host.SpotVenue, acct *state.Account, market int) bool {
	if venue == nil {
		return false
	}
	oo, ok := venue.OpenOrders(acct.ID, market)
	return ok && !oo.IsEmpty()
}

// SettleSpotFunds releases acct's free balances on spot market i through
// the venue and credits them to the base and quote banks.
func SettleSpotFunds(env *host.Env, acct *state.Account, i int) error {
	g, mc := env.Group, env.Cache
	if err := g.CheckMarketIndex(i); err != nil {
		return err
	}
	if !g.SpotMarkets[i].Listed {
		return fmt.Errorf("%w: no spot market at %d", state.ErrInvalidMarket, i)
	}
	if acct.IsBankrupt {
		return state.ErrBankrupt
	}
	if !hasOpenOrders(env.Venue, acct, i) {
		acct.InMarginBasket[i] = false
		return nil
	}
	if err := mc.CheckRootBank(g, i, env.Now); err != nil {
		return err
	}
	if err := mc.CheckRootBank(g, state.QuoteIndex, env.Now); err != nil {
		return err
	}

	base, quote, err := env.Venue.SettleFunds(acct.ID, i)
	if err != nil {
		return fmt.Errorf("settle spot funds on market %d: %w", i, err)
	}
	for _, leg := range []struct {
		token  int
		amount uint64
	}{{i, base}, {state.QuoteIndex, quote}} {
		if leg.amount == 0 {
			continue
		}
		node := g.Tokens[leg.token].RootBank.Node()
		if err := state.CheckedChangeNet(&mc.RootBanks[leg.token], node, acct, leg.token, fpmath.FromUint(leg.amount)); err != nil {
			return err
		}
		node.Vault += leg.amount
		env.Emit(event.TokenBalance(acct, leg.token))
	}
	acct.InMarginBasket[i] = hasOpenOrders(env.Venue, acct, i)

	env.Emit(&event.SettleSpotFundsLog{Account: acct.ID, MarketIndex: i, Base: base, Quote: quote})
	return nil
}
