package liquidation

import (
	"fmt"

	"LyraeLedger/internal/event"
	"LyraeLedger/internal/funding"
	"LyraeLedger/internal/health"
	"LyraeLedger/internal/host"
	"LyraeLedger/internal/matching"
	fpmath "LyraeLedger/internal/math"
	"LyraeLedger/internal/queue"
	"LyraeLedger/internal/state"
)

// LiquidatePerpMarket moves base lots of the liqee's position on m to the
// liqor at the oracle price, discounted by the liquidation fee in the
// liqor's favour. request is signed like the liqee's position: positive
// takes over a long, negative a short. The transfer stops at the lots that
// bring the liqee's Init health back to zero.
func LiquidatePerpMarket(env *host.Env, m *state.PerpMarket, liqee, liqor *state.Account, request int64) error {
	g, mc := env.Group, env.Cache
	i := m.Index
	if err := g.CheckPerpMarket(i); err != nil {
		return err
	}
	if request == 0 {
		return fmt.Errorf("%w: zero base transfer request", state.ErrInvalidParam)
	}
	s, done, err := begin(env, liqee, liqor, state.Asset{Type: state.AssetPerp, Index: i})
	if err != nil || done {
		return err
	}

	funding.Settle(mc, liqee, i)
	funding.Settle(mc, liqor, i)

	info := &g.PerpMarkets[i]
	price := mc.Price(i)
	base, quote, err := perpTransfer(info, price, s.initHealth, liqee.Perps[i].BasePosition, request)
	if err != nil {
		return err
	}

	if _, err := m.Events.PushBack(queue.NewLiquidate(queue.LiquidateEvent{
		Liqee:          liqee.ID,
		Liqor:          liqor.ID,
		Price:          price,
		Quantity:       base,
		LiquidationFee: info.LiquidationFee,
		Timestamp:      env.Now,
	})); err != nil {
		return fmt.Errorf("%w: %v", state.ErrOutOfSpace, err)
	}

	liqee.Perps[i].ChangeBasePosition(m, -base)
	liqor.Perps[i].ChangeBasePosition(m, base)
	liqee.Perps[i].TransferQuotePosition(&liqor.Perps[i], quote)

	s.hc.UpdatePerpVal(g, mc, liqee, i)
	if err := s.settle(); err != nil {
		return err
	}

	env.Emit(&event.LiquidatePerpMarketLog{
		Liqee:         liqee.ID,
		Liqor:         liqor.ID,
		MarketIndex:   i,
		Price:         price,
		BaseTransfer:  base,
		QuoteTransfer: quote,
		Bankruptcy:    liqee.IsBankrupt,
	})
	env.Emit(event.PerpBalance(liqee, i))
	env.Emit(event.PerpBalance(liqor, i))
	return nil
}

// perpTransfer sizes a perp liquidation. It returns the base lots moving
// from liqee to liqor and the quote the liqor pays the liqee, as a
// transfer from the liqee's quote position.
//
// For a long, each lot sold restores price*lot*(1 - initAssetWeight - fee)
// of Init health; for a short, each lot bought back restores
// price*lot*(initLiabWeight - 1 - fee).
func perpTransfer(info *state.PerpMarketInfo, price, initHealth fpmath.I80F48, position, request int64) (int64, fpmath.I80F48, error) {
	lotPrice := price.MulInt(info.BaseLotSize)
	fee := info.LiquidationFee
	switch {
	case position > 0:
		if request < 0 {
			return 0, fpmath.Zero, fmt.Errorf("%w: liqee is long, request %d", state.ErrInvalidParam, request)
		}
		perLot := lotPrice.Mul(fpmath.One.Sub(info.InitAssetWeight).Sub(fee))
		if !perLot.IsPositive() {
			return 0, fpmath.Zero, fmt.Errorf("%w: long liquidation restores no health", state.ErrMath)
		}
		maxBase := initHealth.Neg().Div(perLot).Ceil().ToInt64Trunc()
		base := min(maxBase, request, position)
		quote := fpmath.FromInt(-base).Mul(lotPrice).Mul(fpmath.One.Sub(fee))
		return base, quote, nil
	case position < 0:
		if request > 0 {
			return 0, fpmath.Zero, fmt.Errorf("%w: liqee is short, request %d", state.ErrInvalidParam, request)
		}
		perLot := lotPrice.Mul(fpmath.One.Sub(info.InitLiabWeight).Add(fee))
		if !perLot.IsNegative() {
			return 0, fpmath.Zero, fmt.Errorf("%w: short liquidation restores no health", state.ErrMath)
		}
		maxBase := initHealth.Neg().Div(perLot).Floor().ToInt64Trunc()
		base := max(maxBase, request, position)
		quote := fpmath.FromInt(-base).Mul(lotPrice).Mul(fpmath.One.Add(fee))
		return base, quote, nil
	}
	return 0, fpmath.Zero, fmt.Errorf("%w: liqee has no base position", state.ErrInvalidParam)
}

// ForceCancelPerpOrders removes up to limit of a liquidatable account's
// resting orders on m so that it can be liquidated. Nothing is paid for
// the cancelled orders.
func ForceCancelPerpOrders(env *host.Env, m *state.PerpMarket, liqee *state.Account, limit int) (int, error) {
	g := env.Group
	if liqee.IsBankrupt {
		return 0, fmt.Errorf("%w: liqee", state.ErrBankrupt)
	}
	if err := g.CheckPerpMarket(m.Index); err != nil {
		return 0, err
	}
	hc, err := health.ForAccount(env, liqee, state.Asset{Type: state.AssetPerp, Index: m.Index})
	if err != nil {
		return 0, err
	}
	done, err := entryRule(env, liqee, hc)
	if err != nil || done {
		return 0, err
	}
	return matching.ForceCancelOrders(env, m, liqee, limit)
}
