package ledger

import (
	"fmt"

	"LyraeLedger/internal/event"
	"LyraeLedger/internal/funding"
	"LyraeLedger/internal/host"
	fpmath "LyraeLedger/internal/math"
	"LyraeLedger/internal/state"
)

// checkSettleCaches validates the quote bank, the oracle and the funding
// cache of perp market i.
func checkSettleCaches(env *host.Env, i int) error {
	g, mc := env.Group, env.Cache
	if err := g.CheckPerpMarket(i); err != nil {
		return err
	}
	if err := mc.CheckRootBank(g, state.QuoteIndex, env.Now); err != nil {
		return err
	}
	if err := mc.CheckPrice(g, i, env.Now); err != nil {
		return err
	}
	return mc.CheckPerpMarket(g, i, env.Now)
}

// SettlePnl realizes offsetting PnL between two accounts on perp market i.
// The account with positive PnL gives up quote position and receives quote
// tokens from the other. It returns the amount moved, signed from a's side;
// zero when the PnLs do not have opposite signs.
func SettlePnl(env *host.Env, a, b *state.Account, i int) (fpmath.I80F48, error) {
	if a.ID == b.ID {
		return fpmath.Zero, fmt.Errorf("%w: cannot settle an account with itself", state.ErrInvalidParam)
	}
	if a.IsBankrupt || b.IsBankrupt {
		return fpmath.Zero, state.ErrBankrupt
	}
	if err := checkSettleCaches(env, i); err != nil {
		return fpmath.Zero, err
	}
	g, mc := env.Group, env.Cache
	info := &g.PerpMarkets[i]
	price := mc.Prices[i].Price

	funding.Settle(mc, a, i)
	funding.Settle(mc, b, i)
	aPnl := a.Perps[i].Pnl(info, price)
	bPnl := b.Perps[i].Pnl(info, price)
	if aPnl.Sign()*bPnl.Sign() >= 0 {
		return fpmath.Zero, nil
	}

	settlement := fpmath.Min(aPnl.Abs(), bPnl.Abs())
	winner, loser := a, b
	signed := settlement
	if aPnl.IsNegative() {
		winner, loser = b, a
		signed = settlement.Neg()
	}
	winner.Perps[i].TransferQuotePosition(&loser.Perps[i], settlement)

	node := g.Tokens[state.QuoteIndex].RootBank.Node()
	if err := state.TransferTokenInternal(&mc.RootBanks[state.QuoteIndex], node, loser, winner, state.QuoteIndex, settlement); err != nil {
		return fpmath.Zero, err
	}

	env.Emit(&event.SettlePnlLog{AccountA: a.ID, AccountB: b.ID, MarketIndex: i, Settlement: signed})
	env.Emit(event.PerpBalance(a, i))
	env.Emit(event.PerpBalance(b, i))
	return signed, nil
}

// SettleFees collects the market's accrued fees from an account with
// negative PnL. The amount moves from the account's quote balance into the
// group fees vault and is credited back to its quote position.
func SettleFees(env *host.Env, m *state.PerpMarket, acct *state.Account) (fpmath.I80F48, error) {
	i := m.Index
	if acct.IsBankrupt {
		return fpmath.Zero, state.ErrBankrupt
	}
	if err := checkSettleCaches(env, i); err != nil {
		return fpmath.Zero, err
	}
	g, mc := env.Group, env.Cache

	pa := &acct.Perps[i]
	funding.Settle(mc, acct, i)
	pnl := pa.Pnl(&g.PerpMarkets[i], mc.Prices[i].Price)
	if !pnl.IsNegative() {
		return fpmath.Zero, fmt.Errorf("%w: pnl %s is not negative", state.ErrInvalidParam, pnl)
	}
	if !m.FeesAccrued.IsPositive() {
		return fpmath.Zero, fmt.Errorf("%w: no fees accrued on market %d", state.ErrInvalidParam, i)
	}

	settlement := fpmath.Min(pnl.Abs(), m.FeesAccrued).Floor()
	if settlement.IsZero() {
		return fpmath.Zero, nil
	}
	amount := settlement.ToUint64()
	node := g.Tokens[state.QuoteIndex].RootBank.Node()
	if node.Vault < amount {
		return fpmath.Zero, fmt.Errorf("%w: quote vault holds %d", state.ErrInsufficientLiquidity, node.Vault)
	}

	m.FeesAccrued = m.FeesAccrued.Sub(settlement)
	pa.QuotePosition = pa.QuotePosition.Add(settlement)
	if err := state.CheckedChangeNet(&mc.RootBanks[state.QuoteIndex], node, acct, state.QuoteIndex, settlement.Neg()); err != nil {
		return fpmath.Zero, err
	}
	node.Vault -= amount
	g.FeesVault += amount

	env.Emit(&event.SettleFeesLog{Account: acct.ID, MarketIndex: i, Settlement: settlement})
	env.Emit(event.PerpBalance(acct, i))
	return settlement, nil
}

// RedeemIncentives pays acct's accrued liquidity-mining reward on m out of
// the market's reward vault into its reward token deposit.
func RedeemIncentives(env *host.Env, m *state.PerpMarket, acct *state.Account) (uint64, error) {
	g, mc := env.Group, env.Cache
	i := m.Index
	if err := g.CheckPerpMarket(i); err != nil {
		return 0, err
	}
	if acct.IsBankrupt {
		return 0, state.ErrBankrupt
	}
	pa := &acct.Perps[i]
	redeemed := pa.IncentiveAccrued
	if redeemed == 0 {
		return 0, nil
	}
	if m.RewardVault < redeemed {
		return 0, fmt.Errorf("%w: reward vault holds %d, owed %d", state.ErrInsufficientFunds, m.RewardVault, redeemed)
	}
	token := g.RewardToken
	if err := mc.CheckRootBank(g, token, env.Now); err != nil {
		return 0, err
	}

	node := g.Tokens[token].RootBank.Node()
	if err := state.CheckedChangeNet(&mc.RootBanks[token], node, acct, token, fpmath.FromUint(redeemed)); err != nil {
		return 0, err
	}
	m.RewardVault -= redeemed
	node.Vault += redeemed
	pa.IncentiveAccrued = 0

	env.Emit(&event.RedeemIncentiveLog{Account: acct.ID, MarketIndex: i, Redeemed: redeemed})
	env.Emit(event.TokenBalance(acct, token))
	return redeemed, nil
}
