package matching_test

import (
	"errors"
	"testing"

	"LyraeLedger/internal/book"
	"LyraeLedger/internal/event"
	"LyraeLedger/internal/matching"
	fpmath "LyraeLedger/internal/math"
	"LyraeLedger/internal/state"
	"LyraeLedger/internal/testutil"

	"github.com/google/uuid"
)

// newTestMarket lists perp 0 at price 100 with unit lots, so lot prices
// equal native prices.
func newTestMarket(t *testing.T) (*testutil.Fixture, *state.PerpMarket) {
	t.Helper()
	f := testutil.NewFixture(t)
	m := f.AddPerp(0, "BTC-PERP", "100", 1, 1)
	f.Refresh()
	return f, m
}

func newFunded(f *testutil.Fixture, quote int64) *state.Account {
	acct := f.NewAccount()
	f.Deposit(acct, state.QuoteIndex, quote)
	return acct
}

func mustPlace(t *testing.T, f *testutil.Fixture, m *state.PerpMarket, acct *state.Account, p matching.PlaceParams) matching.Result {
	t.Helper()
	res, err := matching.PlacePerpOrder(f.Env(), m, acct, nil, p)
	if err != nil {
		t.Fatalf("place %+v: %v", p, err)
	}
	return res
}

func limit(side book.Side, price, qty int64) matching.PlaceParams {
	return matching.PlaceParams{Side: side, Price: price, Quantity: qty, Type: book.Limit}
}

// near tolerates the binary rounding of decimal fee rates.
func near(a, b fpmath.I80F48) bool {
	return a.Sub(b).Abs().Lt(fpmath.MustParse("0.000001"))
}

func lookup(accts ...*state.Account) matching.Accounts {
	return func(id uuid.UUID) (*state.Account, bool) {
		for _, a := range accts {
			if a.ID == id {
				return a, true
			}
		}
		return nil, false
	}
}

// ============================================================================
// Test: placement
// ============================================================================

func TestPlace_CrossingOrderQueuesFillAndPendingTakerTrade(t *testing.T) {
	f, m := newTestMarket(t)
	maker := newFunded(f, 10_000)
	taker := newFunded(f, 10_000)

	if res := mustPlace(t, f, m, maker, limit(book.Bid, 100, 10)); res.Disposition != matching.Posted {
		t.Fatalf("maker disposition = %s, want posted", res.Disposition)
	}
	res := mustPlace(t, f, m, taker, limit(book.Ask, 100, 4))
	if res.Disposition != matching.Filled || res.Filled != 4 || res.QuoteLots != 400 {
		t.Fatalf("taker result = %+v", res)
	}
	if m.Events.Len() != 1 {
		t.Fatalf("queue len = %d, want 1", m.Events.Len())
	}
	pa := taker.Perps[0]
	if pa.TakerBase != -4 || pa.TakerQuote != 400 || pa.BasePosition != 0 {
		t.Fatalf("taker pending trade = %+v", pa)
	}
	resting, ok := m.Book.Side(book.Bid).Best()
	if !ok || resting.Quantity != 6 {
		t.Fatalf("resting maker = %+v, %v", resting, ok)
	}
	if len(f.Records(event.RecordTypeOrderPlaced)) != 2 {
		t.Fatal("expected an OrderPlacedLog per order")
	}
}

func TestPlace_QuoteLotOverflowFailsWithoutChanges(t *testing.T) {
	f, m := newTestMarket(t)
	maker := newFunded(f, 10_000)
	taker := newFunded(f, 10_000)
	const huge = int64(1) << 60
	if _, err := matching.NewOrder(f.Env(), m, maker, book.Ask, 100, huge, book.Limit, 0); err != nil {
		t.Fatalf("rest huge ask: %v", err)
	}

	_, err := matching.NewOrder(f.Env(), m, taker, book.Bid, 100, huge, book.Limit, 0)
	if !errors.Is(err, state.ErrMath) {
		t.Fatalf("overflowing cross = %v, want ErrMath", err)
	}
	if m.Events.Len() != 0 || taker.Perps[0].TakerQuote != 0 || taker.Perps[0].BidsQuantity != 0 {
		t.Fatalf("overflowing cross changed state: queue %d, taker %+v", m.Events.Len(), taker.Perps[0])
	}
	if resting, ok := m.Book.Side(book.Ask).Best(); !ok || resting.Quantity != huge {
		t.Fatalf("resting ask = %+v, %v", resting, ok)
	}

	res, err := matching.NewOrder(f.Env(), m, taker, book.Bid, 100, 3, book.Limit, 0)
	if err != nil || res.QuoteLots != 300 {
		t.Fatalf("small cross = %+v, %v", res, err)
	}
}

func TestPlace_PostOnlyCrossIsRejectedWithoutChanges(t *testing.T) {
	f, m := newTestMarket(t)
	maker := newFunded(f, 10_000)
	other := newFunded(f, 10_000)
	mustPlace(t, f, m, maker, limit(book.Ask, 100, 5))

	res := mustPlace(t, f, m, other, matching.PlaceParams{Side: book.Bid, Price: 100, Quantity: 5, Type: book.PostOnly})
	if res.Disposition != matching.Rejected {
		t.Fatalf("disposition = %s, want rejected", res.Disposition)
	}
	if m.Events.Len() != 0 || m.Book.Side(book.Bid).Len() != 0 {
		t.Fatal("rejected post-only order changed the market")
	}
	if other.Perps[0].BidsQuantity != 0 {
		t.Fatalf("bids quantity = %d", other.Perps[0].BidsQuantity)
	}
}

func TestPlace_PostOnlySlideRestsOneTickInside(t *testing.T) {
	f, m := newTestMarket(t)
	mustPlace(t, f, m, newFunded(f, 10_000), limit(book.Ask, 100, 5))

	res := mustPlace(t, f, m, newFunded(f, 10_000), matching.PlaceParams{Side: book.Bid, Price: 101, Quantity: 5, Type: book.PostOnlySlide})
	if res.Disposition != matching.Posted || res.Price != 99 {
		t.Fatalf("slide result = %+v, want posted at 99", res)
	}
}

func TestPlace_IOCDiscardsRemainder(t *testing.T) {
	f, m := newTestMarket(t)
	mustPlace(t, f, m, newFunded(f, 10_000), limit(book.Ask, 100, 3))

	res := mustPlace(t, f, m, newFunded(f, 10_000), matching.PlaceParams{Side: book.Bid, Price: 100, Quantity: 5, Type: book.ImmediateOrCancel})
	if res.Disposition != matching.Discarded || res.Filled != 3 || res.Posted != 0 {
		t.Fatalf("ioc result = %+v", res)
	}
	if m.Book.Side(book.Bid).Len() != 0 {
		t.Fatal("ioc remainder rested")
	}
}

func TestPlace_OutsideOracleBandIsNotPosted(t *testing.T) {
	f, m := newTestMarket(t)
	// 106 / 100 exceeds the maint liability weight of 1.05
	res := mustPlace(t, f, m, newFunded(f, 10_000), limit(book.Bid, 106, 1))
	if res.Disposition != matching.Discarded || m.Book.Side(book.Bid).Len() != 0 {
		t.Fatalf("out-of-band bid = %+v", res)
	}
}

func TestPlace_RejectsOrderThatBreaksInitHealth(t *testing.T) {
	f, m := newTestMarket(t)
	acct := newFunded(f, 100)

	_, err := matching.PlacePerpOrder(f.Env(), m, acct, nil, limit(book.Bid, 100, 100))
	if !errors.Is(err, state.ErrInsufficientHealth) {
		t.Fatalf("err = %v, want ErrInsufficientHealth", err)
	}
}

func TestPlace_BankruptAndInvalidParams(t *testing.T) {
	f, m := newTestMarket(t)
	acct := newFunded(f, 100)

	if _, err := matching.PlacePerpOrder(f.Env(), m, acct, nil, limit(book.Bid, 0, 1)); !errors.Is(err, state.ErrInvalidParam) {
		t.Fatalf("zero price: %v", err)
	}
	acct.IsBankrupt = true
	if _, err := matching.PlacePerpOrder(f.Env(), m, acct, nil, limit(book.Bid, 100, 1)); !errors.Is(err, state.ErrBankrupt) {
		t.Fatalf("bankrupt: %v", err)
	}
}

func TestPlace_ReduceOnlyWithoutPositionIsDiscarded(t *testing.T) {
	f, m := newTestMarket(t)
	acct := newFunded(f, 10_000)
	p := limit(book.Ask, 100, 5)
	p.ReduceOnly = true

	res := mustPlace(t, f, m, acct, p)
	if res.Disposition != matching.Discarded || m.Book.Side(book.Ask).Len() != 0 {
		t.Fatalf("reduce-only on flat account = %+v", res)
	}
}

func TestReduceOnlyQuantity_CountsQueuedFills(t *testing.T) {
	f, m := newTestMarket(t)
	maker := newFunded(f, 10_000)
	mustPlace(t, f, m, maker, limit(book.Bid, 100, 10))
	mustPlace(t, f, m, newFunded(f, 10_000), limit(book.Ask, 100, 4))

	// the maker is long 4 once the queued fill is consumed
	if got := matching.ReduceOnlyQuantity(m, maker, book.Ask, 10); got != 4 {
		t.Fatalf("reduce-only ask = %d, want 4", got)
	}
	if got := matching.ReduceOnlyQuantity(m, maker, book.Bid, 10); got != 0 {
		t.Fatalf("reduce-only bid = %d, want 0", got)
	}
}

func TestPlace_PaysReferrerShareOfTakerFee(t *testing.T) {
	f, m := newTestMarket(t)
	f.Group.PerpMarkets[0].TakerFee = fpmath.MustParse("0.001")
	f.Group.PerpMarkets[0].ReferralShare = fpmath.MustParse("0.2")
	referrer := newFunded(f, 1_000)
	mustPlace(t, f, m, newFunded(f, 10_000), limit(book.Ask, 100, 10))

	taker := newFunded(f, 10_000)
	if _, err := matching.PlacePerpOrder(f.Env(), m, taker, referrer, limit(book.Bid, 100, 10)); err != nil {
		t.Fatalf("place: %v", err)
	}
	// 1000 notional * 0.001 * 0.2
	want := fpmath.MustParse("0.2")
	if !near(referrer.Perps[0].QuotePosition, want) {
		t.Fatalf("referrer quote = %s, want %s", referrer.Perps[0].QuotePosition, want)
	}
	if !near(m.FeesAccrued, want.Neg()) {
		t.Fatalf("fees accrued = %s", m.FeesAccrued)
	}
}

// ============================================================================
// Test: simulation
// ============================================================================

func TestSimNewBid_MatchesPlacementWithoutMutation(t *testing.T) {
	f, m := newTestMarket(t)
	mustPlace(t, f, m, newFunded(f, 10_000), limit(book.Ask, 100, 3))
	info := &f.Group.PerpMarkets[0]

	tb, tq, bids, asks, err := matching.SimNewBid(m, info, f.Cache.Price(0), 100, 5, book.Limit)
	if err != nil {
		t.Fatalf("sim: %v", err)
	}
	if tb != 3 || tq != -300 || bids != 2 || asks != 0 {
		t.Fatalf("sim deltas = %d %d %d %d", tb, tq, bids, asks)
	}
	if m.Events.Len() != 0 || m.Book.Side(book.Ask).Len() != 1 {
		t.Fatal("simulation mutated the market")
	}
	if _, _, _, _, err := matching.SimNewBid(m, info, f.Cache.Price(0), 100, 5, book.PostOnly); !errors.Is(err, state.ErrPostOnly) {
		t.Fatalf("crossing post-only sim: %v", err)
	}
}

// ============================================================================
// Test: event consumption
// ============================================================================

func TestConsumeEvents_SettlesMakerAndTaker(t *testing.T) {
	f, m := newTestMarket(t)
	f.Group.PerpMarkets[0].TakerFee = fpmath.MustParse("0.001")
	maker := newFunded(f, 10_000)
	taker := newFunded(f, 10_000)
	mustPlace(t, f, m, maker, limit(book.Bid, 100, 10))
	mustPlace(t, f, m, taker, limit(book.Ask, 100, 4))

	res, err := matching.ConsumeEvents(f.Env(), m, lookup(maker, taker), 10)
	if err != nil {
		t.Fatalf("consume: %v", err)
	}
	if res.Consumed != 1 || m.Events.Len() != 0 {
		t.Fatalf("consume result = %+v, queue %d", res, m.Events.Len())
	}
	mp, tp := maker.Perps[0], taker.Perps[0]
	if mp.BasePosition != 4 || !mp.QuotePosition.Eq(fpmath.FromInt(-400)) || mp.BidsQuantity != 6 {
		t.Fatalf("maker = %+v", mp)
	}
	if tp.BasePosition != -4 || tp.TakerBase != 0 || tp.TakerQuote != 0 {
		t.Fatalf("taker = %+v", tp)
	}
	if !near(tp.QuotePosition, fpmath.MustParse("399.6")) || !near(m.FeesAccrued, fpmath.MustParse("0.4")) {
		t.Fatalf("taker quote = %s, fees = %s", tp.QuotePosition, m.FeesAccrued)
	}
	if m.OpenInterest != 8 {
		t.Fatalf("open interest = %d, want 8", m.OpenInterest)
	}
	if len(f.Records(event.RecordTypeFill)) != 1 || len(f.Records(event.RecordTypePerpBalance)) != 2 {
		t.Fatal("consume did not log the fill and both balances")
	}
}

func TestConsumeEvents_StopsAtMissingAccount(t *testing.T) {
	f, m := newTestMarket(t)
	maker := newFunded(f, 10_000)
	taker := newFunded(f, 10_000)
	mustPlace(t, f, m, maker, limit(book.Bid, 100, 10))
	mustPlace(t, f, m, taker, limit(book.Ask, 100, 4))

	res, err := matching.ConsumeEvents(f.Env(), m, lookup(maker), 4)
	if err != nil {
		t.Fatalf("consume: %v", err)
	}
	if res.Consumed != 0 || res.Missing != taker.ID || m.Events.Len() != 1 {
		t.Fatalf("result = %+v, queue %d", res, m.Events.Len())
	}
	if maker.Perps[0].BasePosition != 0 {
		t.Fatal("maker changed although the event stayed queued")
	}
}

func TestConsumeEvents_OutEventFreesMakerSlot(t *testing.T) {
	f, m := newTestMarket(t)
	maker := newFunded(f, 10_000)
	taker := newFunded(f, 10_000)
	mustPlace(t, f, m, maker, limit(book.Bid, 100, 3))
	mustPlace(t, f, m, taker, limit(book.Ask, 100, 3))

	if _, err := matching.ConsumeEvents(f.Env(), m, lookup(maker, taker), 4); err != nil {
		t.Fatalf("consume: %v", err)
	}
	if len(maker.OpenOrders(0)) != 0 || maker.Perps[0].BidsQuantity != 0 {
		t.Fatalf("fully filled maker still holds a slot: %+v", maker.Perps[0])
	}
}

func TestConsumeEvents_RequiresFreshPerpCache(t *testing.T) {
	f, m := newTestMarket(t)
	f.Now += 3600
	if _, err := matching.ConsumeEvents(f.Env(), m, lookup(), 4); !errors.Is(err, state.ErrStaleCache) {
		t.Fatalf("stale cache: %v", err)
	}
}

// ============================================================================
// Test: cancels and incentives
// ============================================================================

func TestCancelPerpOrder_RemovesOrderAndSlot(t *testing.T) {
	f, m := newTestMarket(t)
	acct := newFunded(f, 10_000)
	res := mustPlace(t, f, m, acct, limit(book.Bid, 100, 5))

	if err := matching.CancelPerpOrder(f.Env(), m, acct, res.OrderID, false); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if m.Book.Side(book.Bid).Len() != 0 || acct.Perps[0].BidsQuantity != 0 || len(acct.OpenOrders(0)) != 0 {
		t.Fatal("cancel left state behind")
	}
	if err := matching.CancelPerpOrder(f.Env(), m, acct, res.OrderID, false); !errors.Is(err, state.ErrInvalidOrderID) {
		t.Fatalf("second cancel: %v", err)
	}
	if err := matching.CancelPerpOrder(f.Env(), m, acct, res.OrderID, true); err != nil {
		t.Fatalf("second cancel with invalidIDOK: %v", err)
	}
}

func TestCancelPerpOrderByClientID(t *testing.T) {
	f, m := newTestMarket(t)
	acct := newFunded(f, 10_000)
	p := limit(book.Ask, 100, 5)
	p.ClientOrderID = 42
	mustPlace(t, f, m, acct, p)

	if err := matching.CancelPerpOrderByClientID(f.Env(), m, acct, 7, false); !errors.Is(err, state.ErrClientIDNotFound) {
		t.Fatalf("unknown client id: %v", err)
	}
	if err := matching.CancelPerpOrderByClientID(f.Env(), m, acct, 42, false); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if m.Book.Side(book.Ask).Len() != 0 {
		t.Fatal("order still on book")
	}
}

func TestCancelAll_RespectsLimitAndLogsIDs(t *testing.T) {
	f, m := newTestMarket(t)
	acct := newFunded(f, 10_000)
	for i := int64(0); i < 3; i++ {
		mustPlace(t, f, m, acct, limit(book.Bid, 98+i, 1))
	}
	if err := matching.CancelAllPerpOrders(f.Env(), m, acct, 2); err != nil {
		t.Fatalf("cancel all: %v", err)
	}
	if m.Book.Side(book.Bid).Len() != 1 {
		t.Fatalf("book has %d bids, want 1", m.Book.Side(book.Bid).Len())
	}
	logs := f.Records(event.RecordTypeCancelAllPerpOrders)
	if len(logs) != 1 {
		t.Fatalf("cancel logs = %d", len(logs))
	}
	l := logs[0].(*event.CancelAllPerpOrdersLog)
	if len(l.AllOrderIDs) != 3 || len(l.CanceledOrderIDs) != 2 {
		t.Fatalf("log ids = %d all, %d canceled", len(l.AllOrderIDs), len(l.CanceledOrderIDs))
	}
}

func TestCancelSide_NeedsSizeIncentiveMarket(t *testing.T) {
	f, m := newTestMarket(t)
	acct := newFunded(f, 10_000)
	mustPlace(t, f, m, acct, limit(book.Bid, 99, 1))
	mustPlace(t, f, m, acct, limit(book.Ask, 101, 1))

	if err := matching.CancelPerpOrdersSide(f.Env(), m, acct, book.Bid, 10); !errors.Is(err, state.ErrInvalidParam) {
		t.Fatalf("v0 side cancel: %v", err)
	}
	m.Version = 1
	if err := matching.CancelPerpOrdersSide(f.Env(), m, acct, book.Bid, 10); err != nil {
		t.Fatalf("v1 side cancel: %v", err)
	}
	if m.Book.Side(book.Bid).Len() != 0 || m.Book.Side(book.Ask).Len() != 1 {
		t.Fatal("side cancel touched the wrong side")
	}
}

func TestCancel_PaysPriceIncentiveAfterFullPeriod(t *testing.T) {
	f, m := newTestMarket(t)
	m.LM = state.LiquidityMiningInfo{
		Rate:               fpmath.One,
		MaxDepth:           fpmath.FromInt(100),
		PeriodStart:        f.Now,
		TargetPeriodLength: 3600,
		RewardLeft:         1_000_000_000,
		RewardPerPeriod:    1_000_000_000,
	}
	acct := newFunded(f, 10_000)
	res := mustPlace(t, f, m, acct, limit(book.Bid, 100, 10))

	f.Advance(3600)
	if err := matching.CancelPerpOrder(f.Env(), m, acct, res.OrderID, false); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	// (100 bps - 0)^2 * full period * 10 lots at rate 1
	if got := acct.Perps[0].IncentiveAccrued; got != 100_000 {
		t.Fatalf("incentive = %d, want 100000", got)
	}
	if m.LM.RewardLeft != m.LM.RewardPerPeriod || m.LM.PeriodStart != f.Now {
		t.Fatalf("period did not roll over: %+v", m.LM)
	}
}

func TestForceCancelOrders_PaysNothing(t *testing.T) {
	f, m := newTestMarket(t)
	m.LM = state.LiquidityMiningInfo{Rate: fpmath.One, MaxDepth: fpmath.FromInt(100), TargetPeriodLength: 3600,
		PeriodStart: f.Now, RewardLeft: 1_000_000, RewardPerPeriod: 1_000_000}
	acct := newFunded(f, 10_000)
	mustPlace(t, f, m, acct, limit(book.Bid, 100, 1))
	mustPlace(t, f, m, acct, limit(book.Ask, 101, 1))
	f.Advance(600)

	n, err := matching.ForceCancelOrders(f.Env(), m, acct, 8)
	if err != nil || n != 2 {
		t.Fatalf("force cancel = %d, %v", n, err)
	}
	if acct.Perps[0].IncentiveAccrued != 0 {
		t.Fatal("force cancel paid an incentive")
	}
}

// ============================================================================
// Test: trigger orders
// ============================================================================

func TestTriggerOrder_ExecutesOnceConditionHolds(t *testing.T) {
	f, m := newTestMarket(t)
	acct := newFunded(f, 10_000)
	idx, err := matching.AddTriggerOrder(f.Env(), acct, state.TriggerOrder{
		MarketIndex:  0,
		Side:         book.Bid,
		OrderType:    book.Limit,
		Condition:    state.TriggerAbove,
		Price:        105,
		Quantity:     5,
		TriggerPrice: fpmath.FromInt(110),
	})
	if err != nil {
		t.Fatalf("add trigger: %v", err)
	}

	if _, err := matching.ExecuteTriggerOrder(f.Env(), m, acct, idx); !errors.Is(err, state.ErrTriggerConditionFalse) {
		t.Fatalf("untriggered execute: %v", err)
	}
	f.SetPrice(0, "110")
	res, err := matching.ExecuteTriggerOrder(f.Env(), m, acct, idx)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if res.Disposition != matching.Posted || res.Posted != 5 {
		t.Fatalf("trigger result = %+v", res)
	}
	if acct.AdvancedOrders[idx].Active {
		t.Fatal("executed trigger order still active")
	}
}

func TestTriggerOrder_UnhealthyOrderIsDroppedNotPlaced(t *testing.T) {
	f, m := newTestMarket(t)
	acct := newFunded(f, 100)
	idx, err := matching.AddTriggerOrder(f.Env(), acct, state.TriggerOrder{
		Side:         book.Bid,
		OrderType:    book.Limit,
		Condition:    state.TriggerBelow,
		Price:        100,
		Quantity:     100,
		TriggerPrice: fpmath.FromInt(150),
	})
	if err != nil {
		t.Fatalf("add trigger: %v", err)
	}
	res, err := matching.ExecuteTriggerOrder(f.Env(), m, acct, idx)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if res.Disposition != matching.Discarded || m.Book.Side(book.Bid).Len() != 0 {
		t.Fatalf("unhealthy trigger placed: %+v", res)
	}
	if acct.AdvancedOrders[idx].Active {
		t.Fatal("dropped trigger order still active")
	}
}

func TestTriggerOrder_BankruptAccountLosesAllTriggers(t *testing.T) {
	f, m := newTestMarket(t)
	acct := newFunded(f, 10_000)
	for i := 0; i < 3; i++ {
		if _, err := matching.AddTriggerOrder(f.Env(), acct, state.TriggerOrder{
			Side: book.Ask, OrderType: book.Limit, Price: 100, Quantity: 1, TriggerPrice: fpmath.One,
		}); err != nil {
			t.Fatalf("add trigger: %v", err)
		}
	}
	acct.IsBankrupt = true
	if _, err := matching.ExecuteTriggerOrder(f.Env(), m, acct, 1); err != nil {
		t.Fatalf("execute: %v", err)
	}
	for i := range acct.AdvancedOrders {
		if acct.AdvancedOrders[i].Active {
			t.Fatalf("trigger %d survived bankruptcy", i)
		}
	}
}

func TestAddTriggerOrder_Validation(t *testing.T) {
	f, _ := newTestMarket(t)
	acct := newFunded(f, 10_000)
	_, err := matching.AddTriggerOrder(f.Env(), acct, state.TriggerOrder{Side: book.Bid, Price: 100, Quantity: 1})
	if !errors.Is(err, state.ErrInvalidParam) {
		t.Fatalf("zero trigger price: %v", err)
	}
	if err := matching.RemoveTriggerOrder(f.Env(), acct, 0); !errors.Is(err, state.ErrInvalidParam) {
		t.Fatalf("remove empty slot: %v", err)
	}
}
