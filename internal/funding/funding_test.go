package funding_test

import (
	"errors"
	"testing"

	"LyraeLedger/internal/book"
	"LyraeLedger/internal/event"
	"LyraeLedger/internal/funding"
	"LyraeLedger/internal/matching"
	fpmath "LyraeLedger/internal/math"
	"LyraeLedger/internal/state"
	"LyraeLedger/internal/testutil"
)

func near(a, b fpmath.I80F48) bool {
	return a.Sub(b).Abs().Lte(fpmath.MustParse("0.000001"))
}

// newTestMarket lists perp 0 at an oracle of 100 with resting depth of
// funding.ImpactQuantity lots on each side at the given lot prices.
func newTestMarket(t *testing.T, bid, ask int64) (*testutil.Fixture, *state.PerpMarket) {
	t.Helper()
	f := testutil.NewFixture(t)
	m := f.AddPerp(0, "BTC-PERP", "100", 1, 1)
	f.Refresh()
	mm := f.NewAccount()
	f.Deposit(mm, state.QuoteIndex, 1_000_000)
	for _, o := range []struct {
		side  book.Side
		price int64
	}{{book.Bid, bid}, {book.Ask, ask}} {
		if o.price == 0 {
			continue
		}
		_, err := matching.PlacePerpOrder(f.Env(), m, mm, nil, matching.PlaceParams{
			Side: o.side, Price: o.price, Quantity: funding.ImpactQuantity, Type: book.Limit,
		})
		if err != nil {
			t.Fatalf("place %v: %v", o.side, err)
		}
	}
	return f, m
}

// ============================================================================
// Test: funding accrual
// ============================================================================

func TestUpdate_PremiumAccruesOverADay(t *testing.T) {
	f, m := newTestMarket(t, 101, 103)

	price, hasBid, hasAsk := funding.BookPrice(&f.Group.PerpMarkets[0], m.Book)
	if !hasBid || !hasAsk || !price.Eq(fpmath.FromInt(102)) {
		t.Fatalf("book price = %s (%v, %v), want 102", price, hasBid, hasAsk)
	}

	f.Advance(fpmath.SecondsPerDay)
	if err := funding.Update(f.Group, f.Cache, m, f.Now, f.Sink); err != nil {
		t.Fatalf("update: %v", err)
	}
	// 2% premium on an index of 100 for one lot of 1 over a full day
	if !near(m.LongFunding, fpmath.FromInt(2)) || !near(m.ShortFunding, fpmath.FromInt(2)) {
		t.Fatalf("funding = %s / %s, want 2", m.LongFunding, m.ShortFunding)
	}
	if !f.Cache.PerpMarkets[0].LongFunding.Eq(m.LongFunding) || f.Cache.PerpMarkets[0].LastUpdate != f.Now {
		t.Fatal("cache not refreshed")
	}
	logs := f.Records(event.RecordTypeUpdateFunding)
	if len(logs) != 1 || !near(logs[0].(*event.UpdateFundingLog).Rate, fpmath.MustParse("0.02")) {
		t.Fatalf("funding logs = %+v", logs)
	}
}

func TestUpdate_OneSidedBookPinsRate(t *testing.T) {
	f, m := newTestMarket(t, 101, 0)
	f.Advance(fpmath.SecondsPerDay)
	if err := funding.Update(f.Group, f.Cache, m, f.Now, f.Sink); err != nil {
		t.Fatalf("update: %v", err)
	}
	if !near(m.LongFunding, fpmath.FromInt(5)) {
		t.Fatalf("long funding = %s, want the 5%% cap", m.LongFunding)
	}
}

func TestUpdate_EmptyBookOnlyAdvancesClock(t *testing.T) {
	f, m := newTestMarket(t, 0, 0)
	f.Advance(3600)
	if err := funding.Update(f.Group, f.Cache, m, f.Now, event.Discard{}); err != nil {
		t.Fatalf("update: %v", err)
	}
	if !m.LongFunding.IsZero() || m.LastUpdated != f.Now {
		t.Fatalf("funding %s at %d", m.LongFunding, m.LastUpdated)
	}
}

func TestUpdate_StalePriceRejected(t *testing.T) {
	f, m := newTestMarket(t, 101, 103)
	f.Now += f.Group.ValidInterval + 1
	if err := funding.Update(f.Group, f.Cache, m, f.Now, f.Sink); !errors.Is(err, state.ErrInvalidPriceCache) {
		t.Fatalf("stale price: %v", err)
	}
}

// ============================================================================
// Test: settlement
// ============================================================================

func TestSettleActive(t *testing.T) {
	f, m := newTestMarket(t, 0, 0)
	long, short := f.NewAccount(), f.NewAccount()
	long.Perps[0].ChangeBasePosition(m, 3)
	short.Perps[0].ChangeBasePosition(m, -3)
	f.Cache.PerpMarkets[0].LongFunding = fpmath.FromInt(4)
	f.Cache.PerpMarkets[0].ShortFunding = fpmath.FromInt(4)

	for _, a := range []*state.Account{long, short} {
		funding.SettleActive(f.Group, f.Cache, a, state.NewActiveAssets(f.Group, a))
	}
	if !long.Perps[0].QuotePosition.Eq(fpmath.FromInt(-12)) || !short.Perps[0].QuotePosition.Eq(fpmath.FromInt(12)) {
		t.Fatalf("quote = %s / %s", long.Perps[0].QuotePosition, short.Perps[0].QuotePosition)
	}
	if !long.Perps[0].LongSettledFunding.Eq(fpmath.FromInt(4)) {
		t.Fatal("settled snapshot not advanced")
	}
}
