package matching

import (
	"fmt"

	"LyraeLedger/internal/book"
	"LyraeLedger/internal/event"
	"LyraeLedger/internal/funding"
	"LyraeLedger/internal/health"
	"LyraeLedger/internal/host"
	fpmath "LyraeLedger/internal/math"
	"LyraeLedger/internal/state"
)

// PlaceParams is one perp order request. Price is in lots and ignored for
// market orders.
type PlaceParams struct {
	Side          book.Side
	Price         int64
	Quantity      int64
	Type          book.OrderType
	ClientOrderID uint64
	ReduceOnly    bool
}

// PlacePerpOrder runs an order for acct on market m with the health rules
// around it. An account below zero Init health may only place orders that
// leave it no worse off; a being-liquidated account must first be back to
// non-negative Init health. referrer may be nil. Health is checked after
// the order runs, so a failed call leaves the market changed and the
// caller must discard it.
func PlacePerpOrder(env *host.Env, m *state.PerpMarket, acct, referrer *state.Account, p PlaceParams) (Result, error) {
	if p.Quantity <= 0 || (p.Price <= 0 && p.Type != book.Market) {
		return Result{}, fmt.Errorf("%w: price %d quantity %d", state.ErrInvalidParam, p.Price, p.Quantity)
	}
	if acct.IsBankrupt {
		return Result{}, state.ErrBankrupt
	}
	g, i := env.Group, m.Index
	if err := g.CheckPerpMarket(i); err != nil {
		return Result{}, err
	}

	hc, err := health.ForAccount(env, acct, state.Asset{Type: state.AssetPerp, Index: i})
	if err != nil {
		return Result{}, err
	}
	pre := hc.Health(g, env.Cache, state.Init)
	if acct.BeingLiquidated {
		if pre.IsNegative() {
			return Result{}, state.ErrBeingLiquidated
		}
		acct.BeingLiquidated = false
	}
	upOnly := pre.IsNegative()

	funding.Settle(env.Cache, acct, i)

	qty := p.Quantity
	if p.ReduceOnly {
		qty = ReduceOnlyQuantity(m, acct, p.Side, qty)
		if qty == 0 {
			return Result{Disposition: Discarded}, nil
		}
	}

	res, err := NewOrder(env, m, acct, p.Side, p.Price, qty, p.Type, p.ClientOrderID)
	if err != nil {
		return Result{}, err
	}
	if res.QuoteLots > 0 {
		payReferral(env, m, acct, referrer, res.QuoteLots)
	}

	hc.UpdatePerpVal(g, env.Cache, acct, i)
	post := hc.Health(g, env.Cache, state.Init)
	if post.IsNegative() && !(upOnly && post.Gte(pre)) {
		return Result{}, fmt.Errorf("%w: init health %s after order", state.ErrInsufficientHealth, post)
	}

	env.Emit(&event.OrderPlacedLog{
		Account:       acct.ID,
		MarketIndex:   i,
		OrderID:       res.OrderID,
		ClientOrderID: p.ClientOrderID,
		Side:          p.Side,
		OrderType:     p.Type,
		Price:         res.Price,
		Quantity:      qty,
		Filled:        res.Filled,
		Posted:        res.Posted,
		Disposition:   res.Disposition.String(),
	})
	return res, nil
}

// ReduceOnlyQuantity clamps qty so that an order on side can only shrink
// the account's effective base position, counting fills still in the queue.
func ReduceOnlyQuantity(m *state.PerpMarket, acct *state.Account, side book.Side, qty int64) int64 {
	base := m.Events.EffectiveBasePosition(acct.ID, acct.Perps[m.Index].BasePosition)
	if (side == book.Bid && base >= 0) || (side == book.Ask && base <= 0) {
		return 0
	}
	return min(abs64(base), qty)
}

// payReferral moves the referrer's share of the taker fee out of the
// market's accrued fees into the referrer's perp quote position.
func payReferral(env *host.Env, m *state.PerpMarket, acct, referrer *state.Account, quoteLots int64) {
	info := &env.Group.PerpMarkets[m.Index]
	if referrer == nil || referrer.ID == acct.ID || !info.ReferralShare.IsPositive() {
		return
	}
	notional := fpmath.FromInt(quoteLots).MulInt(info.QuoteLotSize)
	fee := notional.Mul(info.TakerFee).Mul(info.ReferralShare)
	if !fee.IsPositive() {
		return
	}
	m.FeesAccrued = m.FeesAccrued.Sub(fee)
	pa := &referrer.Perps[m.Index]
	pa.QuotePosition = pa.QuotePosition.Add(fee)
	env.Emit(&event.ReferralFeeAccrualLog{
		Referrer:    referrer.ID,
		Referree:    acct.ID,
		MarketIndex: m.Index,
		ReferralFee: fee,
	})
}
