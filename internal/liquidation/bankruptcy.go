package liquidation

import (
	"fmt"

	"LyraeLedger/internal/event"
	"LyraeLedger/internal/health"
	"LyraeLedger/internal/host"
	fpmath "LyraeLedger/internal/math"
	"LyraeLedger/internal/state"
)

// beginResolve checks the preconditions shared by both bankruptcy
// resolutions: the liqee is bankrupt, the liqor is not, and caches for
// both accounts plus the named asset are fresh.
func beginResolve(env *host.Env, liqee, liqor *state.Account, maxLiab fpmath.I80F48, asset state.Asset) (*session, error) {
	if !liqee.IsBankrupt {
		return nil, state.ErrNotBankrupt
	}
	if liqor.IsBankrupt {
		return nil, fmt.Errorf("%w: liqor", state.ErrBankrupt)
	}
	if err := checkMaxLiab(maxLiab); err != nil {
		return nil, err
	}
	return open(env, liqee, liqor, asset)
}

// ResolvePerpBankruptcy covers a bankrupt account's negative quote
// position on m from the insurance fund. The liqor fronts the transfer:
// it takes on the negative quote and is paid the same amount in quote
// tokens from the fund. If the fund is emptied and quote is still negative,
// the rest is socialized over the market's open interest.
func ResolvePerpBankruptcy(env *host.Env, m *state.PerpMarket, liqee, liqor *state.Account,
	fund *state.InsuranceFund, maxLiab fpmath.I80F48) error {
	g, mc := env.Group, env.Cache
	i := m.Index
	if err := g.CheckPerpMarket(i); err != nil {
		return err
	}
	s, err := beginResolve(env, liqee, liqor, maxLiab, state.Asset{Type: state.AssetPerp, Index: i})
	if err != nil {
		return err
	}

	pa := &liqee.Perps[i]
	if !pa.QuotePosition.IsNegative() {
		return fmt.Errorf("%w: perp %d quote position is not negative", state.ErrInvalidParam, i)
	}
	want := fpmath.Min(maxLiab, pa.QuotePosition.Neg()).Ceil().ToUint64()
	transfer, exhausted := fund.Cover(want)

	if transfer > 0 {
		if err := drawToLiqor(env, fund, liqor, transfer); err != nil {
			return err
		}
		pa.TransferQuotePosition(&liqor.Perps[i], fpmath.FromUint(transfer).Neg())
		if err := s.checkLiqor(); err != nil {
			return err
		}
	}

	socialized := fpmath.Zero
	if exhausted && pa.QuotePosition.IsNegative() {
		socialized = m.SocializeLoss(pa, &mc.PerpMarkets[i])
	}
	liqee.IsBankrupt = !health.CheckExitBankruptcy(g, liqee)

	env.Emit(&event.PerpBankruptcyLog{
		Liqee:             liqee.ID,
		Liqor:             liqor.ID,
		MarketIndex:       i,
		InsuranceTransfer: transfer,
		SocializedLoss:    socialized,
		CacheLongFunding:  mc.PerpMarkets[i].LongFunding,
		CacheShortFunding: mc.PerpMarkets[i].ShortFunding,
	})
	env.Emit(event.PerpBalance(liqee, i))
	env.Emit(event.PerpBalance(liqor, i))
	return nil
}

// ResolveTokenBankruptcy covers a bankrupt account's borrow of liab. The
// fund pays the liqor in quote tokens; the liqor repays the borrow at the
// liquidation premium. If the fund is emptied and the borrow remains, it is
// written off against all depositors of liab through the deposit index.
func ResolveTokenBankruptcy(env *host.Env, liqee, liqor *state.Account, fund *state.InsuranceFund,
	liab int, maxLiab fpmath.I80F48) error {
	g, mc := env.Group, env.Cache
	if err := g.CheckTokenIndex(liab); err != nil {
		return err
	}
	s, err := beginResolve(env, liqee, liqor, maxLiab, state.Asset{Type: state.AssetToken, Index: liab})
	if err != nil {
		return err
	}

	liabCache := &mc.RootBanks[liab]
	if !liqee.Borrows[liab].IsPositive() {
		return fmt.Errorf("%w: liqee has no borrow of %d", state.ErrInvalidParam, liab)
	}
	nativeBorrows := liqee.NativeBorrow(liabCache, liab)
	liabPrice := mc.Price(liab)
	liabFee, _ := liabTerms(g, liab)

	insured := fund.BalanceFixed().Mul(liabFee).Div(liabPrice)
	liabTransfer := minOf(maxLiab, nativeBorrows, insured)
	transfer, exhausted := fund.Cover(liabTransfer.Mul(liabPrice).Div(liabFee).Ceil().ToUint64())

	if transfer > 0 {
		if err := drawToLiqor(env, fund, liqor, transfer); err != nil {
			return err
		}
		liabTransfer = fpmath.FromUint(transfer).Mul(liabFee).Div(liabPrice)
		bank := g.Tokens[liab].RootBank
		if err := state.TransferTokenInternal(liabCache, bank.Node(), liqor, liqee, liab, liabTransfer); err != nil {
			return err
		}
		if err := s.checkLiqor(); err != nil {
			return err
		}
	}

	socialized, pct := fpmath.Zero, fpmath.Zero
	if exhausted && liqee.Borrows[liab].IsPositive() {
		socialized, pct, err = g.Tokens[liab].RootBank.SocializeLoss(liabCache, liqee, liab, env.Now)
		if err != nil {
			return err
		}
	}
	liqee.IsBankrupt = !health.CheckExitBankruptcy(g, liqee)

	env.Emit(&event.TokenBankruptcyLog{
		Liqee:             liqee.ID,
		Liqor:             liqor.ID,
		LiabIndex:         liab,
		InsuranceTransfer: transfer,
		SocializedLoss:    socialized,
		PercentageLoss:    pct,
		CacheDepositIndex: liabCache.DepositIndex,
	})
	for _, a := range []*state.Account{liqee, liqor} {
		env.Emit(event.TokenBalance(a, liab))
		env.Emit(event.TokenBalance(a, state.QuoteIndex))
	}
	return nil
}

// drawToLiqor moves quote tokens from the insurance fund into the quote
// vault and credits them to the liqor.
func drawToLiqor(env *host.Env, fund *state.InsuranceFund, liqor *state.Account, amount uint64) error {
	if err := fund.Draw(amount); err != nil {
		return err
	}
	bank := env.Group.Tokens[state.QuoteIndex].RootBank
	bank.Node().Vault += amount
	return state.CheckedChangeNet(&env.Cache.RootBanks[state.QuoteIndex], bank.Node(), liqor, state.QuoteIndex, fpmath.FromUint(amount))
}
