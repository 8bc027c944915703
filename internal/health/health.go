// Package health computes Init and Maint health: the weighted net value of an
// account's token balances, basket open orders and perp positions.
package health

import (
	"LyraeLedger/internal/host"
	fpmath "LyraeLedger/internal/math"
	"LyraeLedger/internal/state"
)

// val is a worst-case (base, quote) pair. For spot, base is native base
// units; for perps, base is already valued in native quote.
type val struct {
	base  fpmath.I80F48
	quote fpmath.I80F48
}

// Cache holds per-asset contributions so that single assets can be
// recomputed after a mutation without rebuilding everything.
type Cache struct {
	Active *state.ActiveAssets

	spot  [state.MaxPairs]val
	perp  [state.MaxPairs]val
	quote fpmath.I80F48

	computed [2]bool
	health   [2]fpmath.I80F48
}

func NewCache(active *state.ActiveAssets) *Cache {
	return &Cache{Active: active}
}

// Init fills the cache for every active asset of acct. venue may be nil when
// no account has basket open orders.
func (h *Cache) Init(g *state.Group, mc *state.MarketDataCache, acct *state.Account, venue host.SpotVenue) {
	h.quote = acct.NativeNet(&mc.RootBanks[state.QuoteIndex], state.QuoteIndex)
	for i := 0; i < g.NumOracles; i++ {
		if h.Active.Spot[i] {
			h.spot[i] = spotVal(mc, acct, venue, i)
		}
		if h.Active.Perps[i] {
			h.perp[i] = perpVal(g, mc, &acct.Perps[i], i)
		}
	}
	h.invalidate()
}

// ForAccount checks the market data acct depends on, plus extra, and
// returns a filled cache.
func ForAccount(env *host.Env, acct *state.Account, extra ...state.Asset) (*Cache, error) {
	active := state.NewActiveAssets(env.Group, acct, extra...)
	if err := env.Cache.CheckValid(env.Group, active, env.Now); err != nil {
		return nil, err
	}
	h := NewCache(active)
	h.Init(env.Group, env.Cache, acct, env.Venue)
	return h, nil
}

func (h *Cache) invalidate() { h.computed = [2]bool{} }

// UpdateQuote recomputes the quote token contribution.
func (h *Cache) UpdateQuote(mc *state.MarketDataCache, acct *state.Account) {
	h.quote = acct.NativeNet(&mc.RootBanks[state.QuoteIndex], state.QuoteIndex)
	h.invalidate()
}

// UpdateSpotVal recomputes token i.
func (h *Cache) UpdateSpotVal(mc *state.MarketDataCache, acct *state.Account, venue host.SpotVenue, i int) {
	h.spot[i] = spotVal(mc, acct, venue, i)
	h.invalidate()
}

// UpdatePerpVal recomputes perp market i.
func (h *Cache) UpdatePerpVal(g *state.Group, mc *state.MarketDataCache, acct *state.Account, i int) {
	h.perp[i] = perpVal(g, mc, &acct.Perps[i], i)
	h.invalidate()
}

// UpdateToken recomputes whichever entry holds token i.
func (h *Cache) UpdateToken(mc *state.MarketDataCache, acct *state.Account, venue host.SpotVenue, i int) {
	if i == state.QuoteIndex {
		h.UpdateQuote(mc, acct)
		return
	}
	h.UpdateSpotVal(mc, acct, venue, i)
}

// Health returns the health of the given type, memoized until the next
// update.
func (h *Cache) Health(g *state.Group, mc *state.MarketDataCache, typ state.HealthType) fpmath.I80F48 {
	if h.computed[typ] {
		return h.health[typ]
	}
	total := h.quote
	for i := 0; i < g.NumOracles; i++ {
		if h.Active.Spot[i] {
			aw, lw := g.SpotMarkets[i].Weights(typ)
			v := h.spot[i]
			total = total.Add(weighted(v.base.Mul(mc.Price(i)), aw, lw)).Add(v.quote)
		}
		if h.Active.Perps[i] {
			total = total.Add(perpHealth(h.perp[i], &g.PerpMarkets[i], typ))
		}
	}
	h.health[typ] = total
	h.computed[typ] = true
	return total
}

// HealthAfterSimPerp is the health acct would have if market i's pending
// taker trade and resting quantities moved by the given lot deltas.
func (h *Cache) HealthAfterSimPerp(g *state.Group, mc *state.MarketDataCache, acct *state.Account, i int,
	typ state.HealthType, takerBase, takerQuote, bidsQty, asksQty int64) fpmath.I80F48 {
	pa := acct.Perps[i]
	pa.TakerBase += takerBase
	pa.TakerQuote += takerQuote
	pa.BidsQuantity += bidsQty
	pa.AsksQuantity += asksQty

	info := &g.PerpMarkets[i]
	current := fpmath.Zero
	if h.Active.Perps[i] {
		current = perpHealth(h.perp[i], info, typ)
	}
	next := perpHealth(perpVal(g, mc, &pa, i), info, typ)
	return h.Health(g, mc, typ).Sub(current).Add(next)
}

func weighted(v, assetWeight, liabWeight fpmath.I80F48) fpmath.I80F48 {
	if v.IsNegative() {
		return v.Mul(liabWeight)
	}
	return v.Mul(assetWeight)
}

func perpHealth(v val, info *state.PerpMarketInfo, typ state.HealthType) fpmath.I80F48 {
	aw, lw := info.Weights(typ)
	return weighted(v.base, aw, lw).Add(v.quote)
}

// spotVal considers two worst cases for basket open orders: every bid fills
// at the oracle price, or every ask does. It returns the one that adds less
// health.
func spotVal(mc *state.MarketDataCache, acct *state.Account, venue host.SpotVenue, i int) val {
	baseNet := acct.NativeNet(&mc.RootBanks[i], i)
	if !acct.InMarginBasket[i] || venue == nil {
		return val{base: baseNet}
	}
	oo, ok := venue.OpenOrders(acct.ID, i)
	if !ok {
		return val{base: baseNet}
	}
	price := mc.Price(i)
	quoteFree := fpmath.FromUint(oo.QuoteFree + oo.ReferrerRebates)
	quoteLocked := fpmath.FromUint(oo.QuoteTotal - oo.QuoteFree)
	baseFree := fpmath.FromUint(oo.BaseFree)
	baseLocked := fpmath.FromUint(oo.BaseTotal - oo.BaseFree)

	bidsBaseNet := baseNet.Add(baseFree).Add(baseLocked)
	if price.IsPositive() {
		bidsBaseNet = bidsBaseNet.Add(quoteLocked.Div(price))
	}
	asksBaseNet := baseNet.Add(baseFree)
	if bidsBaseNet.Abs().Gt(asksBaseNet.Abs()) {
		return val{base: bidsBaseNet, quote: quoteFree}
	}
	return val{base: asksBaseNet, quote: baseLocked.Mul(price).Add(quoteFree).Add(quoteLocked)}
}

// perpVal takes the worse of all bids or all asks filling at the oracle
// price, including pending taker trades, less unsettled funding.
func perpVal(g *state.Group, mc *state.MarketDataCache, pa *state.PerpAccount, i int) val {
	info := &g.PerpMarkets[i]
	price := mc.Price(i)
	lotValue := func(lots int64) fpmath.I80F48 {
		return fpmath.FromInt(lots).MulInt(info.BaseLotSize).Mul(price)
	}
	takerQuote := fpmath.FromInt(pa.TakerQuote).MulInt(info.QuoteLotSize)

	bidsBaseNet := pa.BasePosition + pa.TakerBase + pa.BidsQuantity
	asksBaseNet := pa.BasePosition + pa.TakerBase - pa.AsksQuantity

	var v val
	if abs64(bidsBaseNet) > abs64(asksBaseNet) {
		v = val{
			base:  lotValue(bidsBaseNet),
			quote: pa.QuotePosition.Add(takerQuote).Sub(lotValue(pa.BidsQuantity)),
		}
	} else {
		v = val{
			base:  lotValue(asksBaseNet),
			quote: pa.QuotePosition.Add(takerQuote).Add(lotValue(pa.AsksQuantity)),
		}
	}
	v.quote = v.quote.Sub(pa.UnsettledFunding(&mc.PerpMarkets[i]))
	return v
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
