// Package funding accrues perp funding from book impact prices and settles
// it into positions.
package funding

import (
	"LyraeLedger/internal/book"
	"LyraeLedger/internal/event"
	fpmath "LyraeLedger/internal/math"
	"LyraeLedger/internal/state"
)

// ImpactQuantity is the depth in base lots at which the book price is read.
const ImpactQuantity = 100

// BookPrice is the native mid of the impact prices on both sides. The flags
// report which sides are deep enough.
func BookPrice(info *state.PerpMarketInfo, b *book.Book) (fpmath.I80F48, bool, bool) {
	bid, hasBid := b.ImpactPrice(book.Bid, ImpactQuantity)
	ask, hasAsk := b.ImpactPrice(book.Ask, ImpactQuantity)
	if !hasBid || !hasAsk {
		return fpmath.Zero, hasBid, hasAsk
	}
	return info.LotToNativePrice((bid + ask) / 2), true, true
}

// Update accrues funding on m since its last update at the clamped premium
// of the book over the cached oracle price, and refreshes the market's
// funding cache.
func Update(g *state.Group, mc *state.MarketDataCache, m *state.PerpMarket, now int64, sink event.Sink) error {
	i := m.Index
	if err := mc.CheckPrice(g, i, now); err != nil {
		return err
	}
	info := &g.PerpMarkets[i]
	index := mc.Price(i)

	bookPrice, hasBid, hasAsk := BookPrice(info, m.Book)
	rate := fpmath.ComputeFundingRate(bookPrice, hasBid, hasAsk, index)
	delta := fpmath.ComputeFundingDelta(index, rate, info.BaseLotSize, now-m.LastUpdated)

	m.LongFunding = m.LongFunding.Add(delta)
	m.ShortFunding = m.ShortFunding.Add(delta)
	m.LastUpdated = now
	mc.PerpMarkets[i] = m.Cache(now)

	sink.Emit(&event.UpdateFundingLog{
		MarketIndex:  i,
		LongFunding:  m.LongFunding,
		ShortFunding: m.ShortFunding,
		Rate:         rate,
	})
	return nil
}

// Settle realizes the account's unsettled funding on market i.
func Settle(mc *state.MarketDataCache, acct *state.Account, i int) {
	acct.Perps[i].SettleFunding(&mc.PerpMarkets[i])
}

// SettleActive settles funding on every perp market marked active.
func SettleActive(g *state.Group, mc *state.MarketDataCache, acct *state.Account, active *state.ActiveAssets) {
	for i := 0; i < g.NumOracles; i++ {
		if active.Perps[i] {
			Settle(mc, acct, i)
		}
	}
}
