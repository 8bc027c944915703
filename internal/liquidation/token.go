package liquidation

import (
	"fmt"

	"LyraeLedger/internal/event"
	"LyraeLedger/internal/host"
	fpmath "LyraeLedger/internal/math"
	"LyraeLedger/internal/state"
)

// LiquidateTokenAndToken has liqor take over up to maxLiab native units of
// the liqee's borrow of liab, paid for with the liqee's deposit of asset at
// the liquidation discount.
func LiquidateTokenAndToken(env *host.Env, liqee, liqor *state.Account, asset, liab int, maxLiab fpmath.I80F48) error {
	g, mc := env.Group, env.Cache
	if asset == liab {
		return fmt.Errorf("%w: asset and liab are both token %d", state.ErrInvalidParam, asset)
	}
	for _, t := range []int{asset, liab} {
		if err := g.CheckTokenIndex(t); err != nil {
			return err
		}
	}
	if err := checkMaxLiab(maxLiab); err != nil {
		return err
	}

	s, done, err := begin(env, liqee, liqor,
		state.Asset{Type: state.AssetToken, Index: asset},
		state.Asset{Type: state.AssetToken, Index: liab})
	if err != nil || done {
		return err
	}

	assetCache, liabCache := &mc.RootBanks[asset], &mc.RootBanks[liab]
	if !liqee.Deposits[asset].IsPositive() || !liqee.Borrows[liab].IsPositive() {
		return fmt.Errorf("%w: liqee needs a deposit of %d and a borrow of %d", state.ErrInvalidParam, asset, liab)
	}
	nativeDeposits := liqee.NativeDeposit(assetCache, asset)
	nativeBorrows := liqee.NativeBorrow(liabCache, liab)
	assetPrice, liabPrice := mc.Price(asset), mc.Price(liab)
	assetFee, assetWeight := assetTerms(g, asset)
	liabFee, liabWeight := liabTerms(g, liab)

	maxDeficit, err := deficit(s.initHealth, liabPrice, assetFee, assetWeight, liabFee, liabWeight)
	if err != nil {
		return err
	}
	assetImplied := nativeDeposits.Mul(assetPrice).Mul(liabFee).Div(liabPrice.Mul(assetFee))
	liabTransfer := minOf(maxDeficit, nativeBorrows, maxLiab, assetImplied)
	assetTransfer := liabTransfer.Mul(liabPrice).Mul(assetFee).Div(liabFee.Mul(assetPrice))

	liabNode, assetNode := g.Tokens[liab].RootBank.Node(), g.Tokens[asset].RootBank.Node()
	if err := state.TransferTokenInternal(liabCache, liabNode, liqor, liqee, liab, liabTransfer); err != nil {
		return err
	}
	if err := state.TransferTokenInternal(assetCache, assetNode, liqee, liqor, asset, assetTransfer); err != nil {
		return err
	}

	s.hc.UpdateToken(mc, liqee, env.Venue, asset)
	s.hc.UpdateToken(mc, liqee, env.Venue, liab)
	if err := s.settle(); err != nil {
		return err
	}

	env.Emit(&event.LiquidateTokenAndTokenLog{
		Liqee:         liqee.ID,
		Liqor:         liqor.ID,
		AssetIndex:    asset,
		LiabIndex:     liab,
		AssetTransfer: assetTransfer,
		LiabTransfer:  liabTransfer,
		AssetPrice:    assetPrice,
		LiabPrice:     liabPrice,
		Bankruptcy:    liqee.IsBankrupt,
	})
	for _, a := range []*state.Account{liqee, liqor} {
		env.Emit(event.TokenBalance(a, asset))
		env.Emit(event.TokenBalance(a, liab))
	}
	return nil
}

// LiquidateTokenAndPerp pairs a token leg with the quote position of a perp
// market whose base position is flat. Either a token deposit pays for a
// negative perp quote position, or a positive perp quote position pays for
// a token borrow. The perp leg carries no fee spread.
func LiquidateTokenAndPerp(env *host.Env, liqee, liqor *state.Account,
	assetType state.AssetType, asset int, liabType state.AssetType, liab int, maxLiab fpmath.I80F48) error {
	if assetType == liabType {
		return fmt.Errorf("%w: need one token and one perp leg", state.ErrInvalidParam)
	}
	if err := checkMaxLiab(maxLiab); err != nil {
		return err
	}
	if assetType == state.AssetToken {
		return tokenForPerpQuote(env, liqee, liqor, asset, liab, maxLiab)
	}
	return perpQuoteForToken(env, liqee, liqor, asset, liab, maxLiab)
}

// tokenForPerpQuote: asset is a token, liab is a perp market with negative
// quote.
func tokenForPerpQuote(env *host.Env, liqee, liqor *state.Account, asset, market int, maxLiab fpmath.I80F48) error {
	g, mc := env.Group, env.Cache
	if err := g.CheckTokenIndex(asset); err != nil {
		return err
	}
	if err := g.CheckPerpMarket(market); err != nil {
		return err
	}
	s, done, err := begin(env, liqee, liqor,
		state.Asset{Type: state.AssetToken, Index: asset},
		state.Asset{Type: state.AssetPerp, Index: market})
	if err != nil || done {
		return err
	}

	pa := &liqee.Perps[market]
	if pa.BasePosition != 0 || !pa.QuotePosition.IsNegative() {
		return fmt.Errorf("%w: perp %d needs a flat base and negative quote", state.ErrInvalidParam, market)
	}
	assetCache := &mc.RootBanks[asset]
	if !liqee.Deposits[asset].IsPositive() {
		return fmt.Errorf("%w: liqee has no deposit of %d", state.ErrInvalidParam, asset)
	}
	nativeDeposits := liqee.NativeDeposit(assetCache, asset)
	nativeBorrows := pa.QuotePosition.Neg()
	assetPrice, liabPrice := mc.Price(asset), fpmath.One
	assetFee, assetWeight := assetTerms(g, asset)
	liabFee, liabWeight := fpmath.One, fpmath.One

	maxDeficit := nativeDeposits
	if asset != state.QuoteIndex {
		if maxDeficit, err = deficit(s.initHealth, liabPrice, assetFee, assetWeight, liabFee, liabWeight); err != nil {
			return err
		}
	}
	assetImplied := nativeDeposits.Mul(assetPrice).Mul(liabFee).Div(liabPrice.Mul(assetFee))
	liabTransfer := minOf(maxDeficit, nativeBorrows, maxLiab, assetImplied)
	assetTransfer := liabTransfer.Mul(liabPrice).Mul(assetFee).Div(liabFee.Mul(assetPrice))

	pa.TransferQuotePosition(&liqor.Perps[market], liabTransfer.Neg())
	if err := state.TransferTokenInternal(assetCache, g.Tokens[asset].RootBank.Node(), liqee, liqor, asset, assetTransfer); err != nil {
		return err
	}

	s.hc.UpdateToken(mc, liqee, env.Venue, asset)
	s.hc.UpdatePerpVal(g, mc, liqee, market)
	if err := s.settle(); err != nil {
		return err
	}
	emitTokenPerp(env, s, state.AssetToken, asset, state.AssetPerp, market, assetPrice, liabPrice, assetTransfer, liabTransfer)
	env.Emit(event.TokenBalance(liqee, asset))
	env.Emit(event.TokenBalance(liqor, asset))
	return nil
}

// perpQuoteForToken: asset is a perp market with positive quote, liab is
// a token borrow.
func perpQuoteForToken(env *host.Env, liqee, liqor *state.Account, market, liab int, maxLiab fpmath.I80F48) error {
	g, mc := env.Group, env.Cache
	if err := g.CheckPerpMarket(market); err != nil {
		return err
	}
	if err := g.CheckTokenIndex(liab); err != nil {
		return err
	}
	s, done, err := begin(env, liqee, liqor,
		state.Asset{Type: state.AssetPerp, Index: market},
		state.Asset{Type: state.AssetToken, Index: liab})
	if err != nil || done {
		return err
	}

	pa := &liqee.Perps[market]
	if pa.BasePosition != 0 || !pa.QuotePosition.IsPositive() {
		return fmt.Errorf("%w: perp %d needs a flat base and positive quote", state.ErrInvalidParam, market)
	}
	liabCache := &mc.RootBanks[liab]
	if !liqee.Borrows[liab].IsPositive() {
		return fmt.Errorf("%w: liqee has no borrow of %d", state.ErrInvalidParam, liab)
	}
	nativeDeposits := pa.QuotePosition
	nativeBorrows := liqee.NativeBorrow(liabCache, liab)
	assetPrice, liabPrice := fpmath.One, mc.Price(liab)
	assetFee, assetWeight := fpmath.One, fpmath.One
	liabFee, liabWeight := liabTerms(g, liab)

	maxDeficit := nativeBorrows
	if liab != state.QuoteIndex {
		if maxDeficit, err = deficit(s.initHealth, liabPrice, assetFee, assetWeight, liabFee, liabWeight); err != nil {
			return err
		}
	}
	assetImplied := nativeDeposits.Mul(assetPrice).Mul(liabFee).Div(liabPrice.Mul(assetFee))
	liabTransfer := minOf(maxDeficit, nativeBorrows, maxLiab, assetImplied)
	assetTransfer := liabTransfer.Mul(liabPrice).Mul(assetFee).Div(liabFee.Mul(assetPrice))

	if err := state.TransferTokenInternal(liabCache, g.Tokens[liab].RootBank.Node(), liqor, liqee, liab, liabTransfer); err != nil {
		return err
	}
	pa.TransferQuotePosition(&liqor.Perps[market], assetTransfer)

	s.hc.UpdateToken(mc, liqee, env.Venue, liab)
	s.hc.UpdatePerpVal(g, mc, liqee, market)
	if err := s.settle(); err != nil {
		return err
	}
	emitTokenPerp(env, s, state.AssetPerp, market, state.AssetToken, liab, assetPrice, liabPrice, assetTransfer, liabTransfer)
	env.Emit(event.TokenBalance(liqee, liab))
	env.Emit(event.TokenBalance(liqor, liab))
	return nil
}

func emitTokenPerp(env *host.Env, s *session, assetType state.AssetType, asset int, liabType state.AssetType, liab int,
	assetPrice, liabPrice, assetTransfer, liabTransfer fpmath.I80F48) {
	env.Emit(&event.LiquidateTokenAndPerpLog{
		Liqee:         s.liqee.ID,
		Liqor:         s.liqor.ID,
		AssetIndex:    asset,
		LiabIndex:     liab,
		AssetType:     assetType,
		LiabType:      liabType,
		AssetPrice:    assetPrice,
		LiabPrice:     liabPrice,
		AssetTransfer: assetTransfer,
		LiabTransfer:  liabTransfer,
		Bankruptcy:    s.liqee.IsBankrupt,
	})
	market := liab
	if assetType == state.AssetPerp {
		market = asset
	}
	env.Emit(event.PerpBalance(s.liqee, market))
	env.Emit(event.PerpBalance(s.liqor, market))
}
