// Package liquidation moves value from accounts below zero Maint health to
// the liquidators that take over their risk, and resolves bankrupt
// accounts against the insurance fund and, when that runs dry, against all
// depositors or all open interest.
package liquidation

import (
	"fmt"

	"LyraeLedger/internal/health"
	"LyraeLedger/internal/host"
	fpmath "LyraeLedger/internal/math"
	"LyraeLedger/internal/state"
)

// dustHealth is the Init health below which a liqee stays flagged as being
// liquidated after a successful step.
var dustHealth = fpmath.FromInt(-1)

// session carries the liqee's health cache and both accounts' active sets
// from entry to settlement of one liquidation step.
type session struct {
	env         *host.Env
	liqee       *state.Account
	liqor       *state.Account
	hc          *health.Cache
	liqorActive *state.ActiveAssets
	initHealth  fpmath.I80F48
}

// begin checks the shared preconditions and applies the entry rule. When
// the liqee was already flagged and is back above zero Init health, the
// flag is cleared and done is true: the caller returns without a transfer.
func begin(env *host.Env, liqee, liqor *state.Account, assets ...state.Asset) (s *session, done bool, err error) {
	if liqee.IsBankrupt {
		return nil, false, fmt.Errorf("%w: liqee", state.ErrBankrupt)
	}
	if liqor.IsBankrupt {
		return nil, false, fmt.Errorf("%w: liqor", state.ErrBankrupt)
	}
	s, err = open(env, liqee, liqor, assets...)
	if err != nil {
		return nil, false, err
	}
	done, err = entryRule(env, liqee, s.hc)
	if err != nil {
		return nil, false, err
	}
	s.initHealth = s.hc.Health(env.Group, env.Cache, state.Init)
	return s, done, nil
}

// open validates the caches both accounts need and builds the liqee's
// health cache. The liqee may not have resting perp orders on any market
// that counts toward its health.
func open(env *host.Env, liqee, liqor *state.Account, assets ...state.Asset) (*session, error) {
	g := env.Group
	liqeeActive := state.NewActiveAssets(g, liqee, assets...)
	liqorActive := state.NewActiveAssets(g, liqor, assets...)
	if err := env.Cache.CheckValid(g, liqeeActive.Merge(liqorActive), env.Now); err != nil {
		return nil, err
	}
	if !liqee.HasNoOpenPerpOrders(liqeeActive) {
		return nil, fmt.Errorf("%w: liqee has open perp orders", state.ErrInvalidAccountState)
	}
	hc := health.NewCache(liqeeActive)
	hc.Init(g, env.Cache, liqee, env.Venue)
	return &session{env: env, liqee: liqee, liqor: liqor, hc: hc, liqorActive: liqorActive}, nil
}

// entryRule flags the liqee if its Maint health is negative. A liqee that
// is already flagged may be liquidated until its Init health is positive;
// at that point the flag clears and done is true.
func entryRule(env *host.Env, liqee *state.Account, hc *health.Cache) (done bool, err error) {
	if liqee.BeingLiquidated {
		if hc.Health(env.Group, env.Cache, state.Init).IsPositive() {
			liqee.BeingLiquidated = false
			return true, nil
		}
		return false, nil
	}
	if maint := hc.Health(env.Group, env.Cache, state.Maint); !maint.IsNegative() {
		return false, fmt.Errorf("%w: maint health %s", state.ErrNotLiquidatable, maint)
	}
	liqee.BeingLiquidated = true
	return false, nil
}

// checkLiqor requires the liquidator to end with non-negative Init health.
func (s *session) checkLiqor() error {
	g, mc := s.env.Group, s.env.Cache
	active := state.NewActiveAssets(g, s.liqor).Merge(s.liqorActive)
	hc := health.NewCache(active)
	hc.Init(g, mc, s.liqor, s.env.Venue)
	if h := hc.Health(g, mc, state.Init); h.IsNegative() {
		return fmt.Errorf("%w: liqor init health %s", state.ErrInsufficientHealth, h)
	}
	return nil
}

// settle re-rates the liqee after a transfer, whose changed assets the
// caller has already pushed into the health cache. A liqee still below zero
// Maint health goes bankrupt once nothing liquidatable is left; otherwise
// it stays flagged only while Init health is below the dust threshold.
func (s *session) settle() error {
	if err := s.checkLiqor(); err != nil {
		return err
	}
	g, mc := s.env.Group, s.env.Cache
	if s.hc.Health(g, mc, state.Maint).IsNegative() {
		s.liqee.IsBankrupt = health.CheckEnterBankruptcy(g, s.liqee, s.env.Venue)
	} else {
		s.liqee.BeingLiquidated = s.hc.Health(g, mc, state.Init).Lt(dustHealth)
	}
	return nil
}

// assetTerms is the fee multiplier a liquidator pays on a token bought from
// the liqee and its Init asset weight. The quote token has no spread.
func assetTerms(g *state.Group, token int) (fee, weight fpmath.I80F48) {
	if token == state.QuoteIndex {
		return fpmath.One, fpmath.One
	}
	info := &g.SpotMarkets[token]
	return fpmath.One.Add(info.LiquidationFee), info.InitAssetWeight
}

// liabTerms is the fee multiplier on a liability relieved for the liqee
// and its Init liability weight.
func liabTerms(g *state.Group, token int) (fee, weight fpmath.I80F48) {
	if token == state.QuoteIndex {
		return fpmath.One, fpmath.One
	}
	info := &g.SpotMarkets[token]
	return fpmath.One.Sub(info.LiquidationFee), info.InitLiabWeight
}

// deficit is the liability, in native liab units, whose transfer brings
// the liqee's Init health back to zero.
func deficit(initHealth, liabPrice, assetFee, assetWeight, liabFee, liabWeight fpmath.I80F48) (fpmath.I80F48, error) {
	denom := liabPrice.Mul(liabWeight.Sub(assetWeight.Mul(assetFee).Div(liabFee)))
	if !denom.IsPositive() {
		return fpmath.Zero, fmt.Errorf("%w: liquidation weights leave no health gain", state.ErrMath)
	}
	return initHealth.Neg().Div(denom), nil
}

func minOf(v fpmath.I80F48, rest ...fpmath.I80F48) fpmath.I80F48 {
	for _, r := range rest {
		v = fpmath.Min(v, r)
	}
	return v
}

func checkMaxLiab(maxLiab fpmath.I80F48) error {
	if !maxLiab.IsPositive() {
		return fmt.Errorf("%w: max liab transfer %s", state.ErrInvalidParam, maxLiab)
	}
	return nil
}
