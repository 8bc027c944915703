package state_test

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"LyraeLedger/internal/book"
	fpmath "LyraeLedger/internal/math"
	"LyraeLedger/internal/state"

	"github.com/google/uuid"
)

func newTestBank() (*state.RootBank, *state.RootBankCache) {
	r := state.NewRootBank(fpmath.MustParse("0.7"), fpmath.MustParse("0.06"), fpmath.MustParse("1.5"), 0)
	c := r.Cache(0)
	return r, &c
}

func mustChange(t *testing.T, c *state.RootBankCache, r *state.RootBank, a *state.Account, native int64) {
	t.Helper()
	if err := state.CheckedChangeNet(c, r.Node(), a, state.QuoteIndex, fpmath.FromInt(native)); err != nil {
		t.Fatalf("change net %d: %v", native, err)
	}
}

func newTestAccount() *state.Account {
	return state.NewAccount(uuid.New(), uuid.New())
}

// ============================================================================
// Test: banks
// ============================================================================

func TestCheckedChangeNet_CreditsRepayBorrowsFirst(t *testing.T) {
	r, c := newTestBank()
	lender, a := newTestAccount(), newTestAccount()
	mustChange(t, c, r, lender, 1_000)
	mustChange(t, c, r, a, -300)

	if !a.Borrows[state.QuoteIndex].Eq(fpmath.FromInt(300)) || !a.Deposits[state.QuoteIndex].IsZero() {
		t.Fatalf("after borrow: deposits %s borrows %s", a.Deposits[state.QuoteIndex], a.Borrows[state.QuoteIndex])
	}
	mustChange(t, c, r, a, 500)
	if !a.Borrows[state.QuoteIndex].IsZero() || !a.Deposits[state.QuoteIndex].Eq(fpmath.FromInt(200)) {
		t.Fatalf("after credit: deposits %s borrows %s", a.Deposits[state.QuoteIndex], a.Borrows[state.QuoteIndex])
	}
	if !r.Node().Deposits.Eq(fpmath.FromInt(1_200)) || !r.Node().Borrows.IsZero() {
		t.Fatalf("node = %s / %s", r.Node().Deposits, r.Node().Borrows)
	}
}

func TestCheckedChangeNet_BorrowNeedsLiquidity(t *testing.T) {
	r, c := newTestBank()
	lender, a := newTestAccount(), newTestAccount()
	mustChange(t, c, r, lender, 100)

	err := state.CheckedChangeNet(c, r.Node(), a, state.QuoteIndex, fpmath.FromInt(-101))
	if !errors.Is(err, state.ErrInsufficientLiquidity) {
		t.Fatalf("over-borrow: %v", err)
	}
}

func TestTransferTokenInternal(t *testing.T) {
	r, c := newTestBank()
	from, to := newTestAccount(), newTestAccount()
	mustChange(t, c, r, from, 100)

	if err := state.TransferTokenInternal(c, r.Node(), from, to, state.QuoteIndex, fpmath.FromInt(40)); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if !from.Deposits[state.QuoteIndex].Eq(fpmath.FromInt(60)) || !to.Deposits[state.QuoteIndex].Eq(fpmath.FromInt(40)) {
		t.Fatalf("balances = %s / %s", from.Deposits[state.QuoteIndex], to.Deposits[state.QuoteIndex])
	}
}

func TestRootBank_UpdateIndexAtOptimalUtilization(t *testing.T) {
	r, c := newTestBank()
	lender, borrower := newTestAccount(), newTestAccount()
	mustChange(t, c, r, lender, 1_000)
	mustChange(t, c, r, borrower, -700)

	r.UpdateIndex(fpmath.SecondsPerYear)

	// 70% utilization sits on the kink: 6% for borrowers, 4.2% for lenders
	if !r.BorrowIndex.Sub(fpmath.MustParse("1.06")).Abs().Lt(fpmath.MustParse("0.000001")) {
		t.Errorf("borrow index = %s, want 1.06", r.BorrowIndex)
	}
	if !r.DepositIndex.Sub(fpmath.MustParse("1.042")).Abs().Lt(fpmath.MustParse("0.000001")) {
		t.Errorf("deposit index = %s, want 1.042", r.DepositIndex)
	}
	if r.LastUpdated != fpmath.SecondsPerYear {
		t.Errorf("last updated = %d", r.LastUpdated)
	}
}

func TestRootBank_UpdateIndexWithoutBorrows(t *testing.T) {
	r, c := newTestBank()
	mustChange(t, c, r, newTestAccount(), 1_000)

	r.UpdateIndex(3600)
	if !r.DepositIndex.Eq(fpmath.One) || !r.BorrowIndex.Eq(fpmath.One) || r.LastUpdated != 3600 {
		t.Fatalf("indexes moved without borrows: %s / %s at %d", r.DepositIndex, r.BorrowIndex, r.LastUpdated)
	}
}

func TestRootBank_SocializeLoss(t *testing.T) {
	r, c := newTestBank()
	lender, bankrupt := newTestAccount(), newTestAccount()
	mustChange(t, c, r, lender, 1_000)
	mustChange(t, c, r, bankrupt, -100)

	loss, pct, err := r.SocializeLoss(c, bankrupt, state.QuoteIndex, 10)
	if err != nil {
		t.Fatalf("socialize: %v", err)
	}
	if !loss.Eq(fpmath.FromInt(100)) || !pct.Eq(fpmath.MustParse("0.1")) {
		t.Fatalf("loss %s pct %s", loss, pct)
	}
	if !bankrupt.Borrows[state.QuoteIndex].IsZero() {
		t.Fatal("borrow not written off")
	}
	if got := lender.NativeDeposit(c, state.QuoteIndex); !got.Sub(fpmath.FromInt(900)).Abs().Lt(fpmath.MustParse("0.000001")) {
		t.Fatalf("lender native deposit = %s, want 900", got)
	}
}

// ============================================================================
// Test: risk params
// ============================================================================

func TestRiskParams_Weights(t *testing.T) {
	p := &state.RiskParams{
		MaintLeverage:  fpmath.FromInt(20),
		InitLeverage:   fpmath.FromInt(10),
		LiquidationFee: fpmath.MustParse("0.025"),
	}
	ma, ia, ml, il := p.Weights()
	want := []string{"0.95", "0.9", "1.05", "1.1"}
	for i, got := range []fpmath.I80F48{ma, ia, ml, il} {
		if got.Sub(fpmath.MustParse(want[i])).Abs().Gt(fpmath.MustParse("0.0000001")) {
			t.Errorf("weight %d = %s, want %s", i, got, want[i])
		}
	}
	if err := state.ValidateWeights(ma, ia, ml, il); err != nil {
		t.Errorf("derived weights invalid: %v", err)
	}
}

func TestValidateRiskParams(t *testing.T) {
	tests := []struct {
		name  string
		maint string
		init  string
		fee   string
		ok    bool
	}{
		{"valid", "20", "10", "0.025", true},
		{"init not positive", "20", "0", "0.025", false},
		{"maint below init", "5", "10", "0.025", false},
		{"fee at one", "20", "10", "1", false},
		{"negative fee", "20", "10", "-0.1", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := state.ValidateRiskParams(&state.RiskParams{
				MaintLeverage:  fpmath.MustParse(tt.maint),
				InitLeverage:   fpmath.MustParse(tt.init),
				LiquidationFee: fpmath.MustParse(tt.fee),
			})
			if (err == nil) != tt.ok {
				t.Fatalf("err = %v, want ok=%v", err, tt.ok)
			}
		})
	}
}

func TestGroup_ApplyPerpRejectsBadLots(t *testing.T) {
	g := state.NewGroup("USDC", 6, state.NewRootBank(fpmath.One, fpmath.One, fpmath.One, 0))
	params := &state.RiskParams{MaintLeverage: fpmath.FromInt(20), InitLeverage: fpmath.FromInt(10)}
	if err := g.ApplyPerp(state.PerpMarketInfo{Name: "X", BaseLotSize: 0, QuoteLotSize: 1}, params); err == nil {
		t.Fatal("zero base lot accepted")
	}
	if err := g.ApplyPerp(state.PerpMarketInfo{Name: "X", BaseLotSize: 1, QuoteLotSize: 1,
		MakerFee: fpmath.MustParse("-0.01"), TakerFee: fpmath.MustParse("0.005")}, params); err == nil {
		t.Fatal("negative fee sum accepted")
	}
}

// ============================================================================
// Test: cache validity
// ============================================================================

func TestMarketDataCache_CheckValid(t *testing.T) {
	g := state.NewGroup("USDC", 6, state.NewRootBank(fpmath.One, fpmath.One, fpmath.One, 0))
	g.NumOracles = 1
	if err := g.ApplyPerp(state.PerpMarketInfo{Name: "BTC-PERP", BaseLotSize: 1, QuoteLotSize: 1},
		&state.RiskParams{MaintLeverage: fpmath.FromInt(20), InitLeverage: fpmath.FromInt(10)}); err != nil {
		t.Fatalf("apply: %v", err)
	}
	mc := &state.MarketDataCache{}
	mc.RootBanks[state.QuoteIndex].LastUpdate = 100
	mc.Prices[0] = state.PriceCache{Price: fpmath.FromInt(10), LastUpdate: 100}

	a := newTestAccount()
	a.Perps[0].BasePosition = 1
	active := state.NewActiveAssets(g, a)

	if err := mc.CheckValid(g, active, 100); !errors.Is(err, state.ErrInvalidPerpMarketCache) {
		t.Fatalf("missing perp cache: %v", err)
	}
	mc.PerpMarkets[0].LastUpdate = 100
	if err := mc.CheckValid(g, active, 105); err != nil {
		t.Fatalf("fresh caches: %v", err)
	}
	if err := mc.CheckValid(g, active, 106); !errors.Is(err, state.ErrInvalidPriceCache) {
		t.Fatalf("stale price: %v", err)
	}
	// an inactive account only needs the quote bank
	if err := mc.CheckValid(g, state.NewActiveAssets(g, newTestAccount()), 105); err != nil {
		t.Fatalf("inactive account: %v", err)
	}
}

// ============================================================================
// Test: order slots and trigger orders
// ============================================================================

func TestAccount_OrderSlots(t *testing.T) {
	a := newTestAccount()
	slot, ok := a.NextOrderSlot()
	if !ok || slot != 0 {
		t.Fatalf("first slot = %d, %v", slot, ok)
	}
	o := &book.Order{Key: book.NewOrderKey(book.Bid, 100, 1), OwnerSlot: uint8(slot), Quantity: 5, ClientOrderID: 42}
	if err := a.AddOrder(2, book.Bid, o); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := a.AddOrder(2, book.Bid, o); !errors.Is(err, state.ErrTooManyOpenOrders) {
		t.Fatalf("reused slot: %v", err)
	}
	if a.Perps[2].BidsQuantity != 5 {
		t.Fatalf("bids = %d", a.Perps[2].BidsQuantity)
	}
	if s, ok := a.FindOrderWithClientID(2, 42); !ok || s != slot {
		t.Fatalf("by client id = %d, %v", s, ok)
	}
	if s, ok := a.FindOrder(2, o.Key); !ok || s != slot {
		t.Fatalf("by key = %d, %v", s, ok)
	}
	if err := a.RemoveOrder(slot, 5); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if a.Perps[2].BidsQuantity != 0 || len(a.OpenOrders(2)) != 0 {
		t.Fatal("order not removed")
	}
	if err := a.RemoveOrder(slot, 5); !errors.Is(err, state.ErrInvalidOrderID) {
		t.Fatalf("double remove: %v", err)
	}
}

func TestTriggerOrder_Condition(t *testing.T) {
	above := state.TriggerOrder{Condition: state.TriggerAbove, TriggerPrice: fpmath.FromInt(100)}
	below := state.TriggerOrder{Condition: state.TriggerBelow, TriggerPrice: fpmath.FromInt(100)}

	if !above.Triggered(fpmath.FromInt(100)) || above.Triggered(fpmath.FromInt(99)) {
		t.Error("above condition")
	}
	if !below.Triggered(fpmath.FromInt(100)) || below.Triggered(fpmath.FromInt(101)) {
		t.Error("below condition")
	}
	if _, err := state.ParseTriggerCondition("sideways"); !errors.Is(err, state.ErrInvalidParam) {
		t.Errorf("bad condition: %v", err)
	}
}

func TestAccount_TriggerOrderSlotsFillUp(t *testing.T) {
	a := newTestAccount()
	for i := 0; i < state.MaxAdvancedOrders; i++ {
		if idx, err := a.AddTriggerOrder(state.TriggerOrder{Quantity: 1}); err != nil || idx != i {
			t.Fatalf("add %d = %d, %v", i, idx, err)
		}
	}
	if _, err := a.AddTriggerOrder(state.TriggerOrder{Quantity: 1}); !errors.Is(err, state.ErrOutOfSpace) {
		t.Fatalf("full: %v", err)
	}
	if err := a.RemoveTriggerOrder(3); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if idx, _ := a.AddTriggerOrder(state.TriggerOrder{Quantity: 1}); idx != 3 {
		t.Fatalf("reused slot = %d, want 3", idx)
	}
	a.ClearTriggerOrders()
	for i := range a.AdvancedOrders {
		if a.AdvancedOrders[i].Active {
			t.Fatalf("slot %d still active", i)
		}
	}
}

// ============================================================================
// Test: perp positions
// ============================================================================

func TestPerpAccount_FundingSettlement(t *testing.T) {
	m := state.NewPerpMarket(0, 8, 8, 0)
	long, short := &state.PerpAccount{}, &state.PerpAccount{}
	long.ChangeBasePosition(m, 10)
	short.ChangeBasePosition(m, -10)
	if m.OpenInterest != 20 {
		t.Fatalf("open interest = %d", m.OpenInterest)
	}

	c := &state.PerpMarketCache{LongFunding: fpmath.FromInt(2), ShortFunding: fpmath.FromInt(2)}
	long.SettleFunding(c)
	short.SettleFunding(c)
	if !long.QuotePosition.Eq(fpmath.FromInt(-20)) || !short.QuotePosition.Eq(fpmath.FromInt(20)) {
		t.Fatalf("quote = %s / %s", long.QuotePosition, short.QuotePosition)
	}
	long.SettleFunding(c)
	if !long.QuotePosition.Eq(fpmath.FromInt(-20)) {
		t.Fatal("second settlement moved the quote position")
	}
}

func TestAccount_LiquidationState(t *testing.T) {
	a := newTestAccount()
	if a.LiquidationState() != state.LiquidationStateHealthy {
		t.Fatal("new account not healthy")
	}
	a.BeingLiquidated = true
	if a.LiquidationState() != state.LiquidationStateBeingLiquidated {
		t.Fatal("flag ignored")
	}
	a.IsBankrupt = true
	if a.LiquidationState().String() != "Bankrupt" {
		t.Fatalf("state = %s", a.LiquidationState())
	}
}

func TestAccount_CloneIsIndependent(t *testing.T) {
	a := newTestAccount()
	c := a.Clone()
	c.Perps[0].BasePosition = 7
	c.Deposits[0] = fpmath.One
	if a.Perps[0].BasePosition != 0 || !a.Deposits[0].IsZero() {
		t.Fatal("clone shares state with the original")
	}
}

func TestInsuranceFund_Cover(t *testing.T) {
	f := state.NewInsuranceFund(300)
	if amt, exhausted := f.Cover(100); amt != 100 || exhausted {
		t.Errorf("partial cover = %d, %v", amt, exhausted)
	}
	if amt, exhausted := f.Cover(500); amt != 300 || !exhausted {
		t.Errorf("short cover = %d, %v", amt, exhausted)
	}
	if amt, exhausted := f.Cover(300); amt != 300 || !exhausted {
		t.Errorf("exact cover = %d, %v", amt, exhausted)
	}
	if err := f.Draw(301); !errors.Is(err, state.ErrInsufficientFunds) {
		t.Errorf("overdraw = %v", err)
	}
}

// ============================================================================
// Test: canonical encoding
// ============================================================================

func TestAccount_CanonicalBytesStableAcrossSnapshotRoundTrip(t *testing.T) {
	a := newTestAccount()
	a.Deposits[state.QuoteIndex] = fpmath.FromInt(1_000)
	a.Perps[1].BasePosition = -3
	a.Perps[1].QuotePosition = fpmath.FromInt(450)
	a.InMarginBasket[1] = true
	o := &book.Order{Key: book.NewOrderKey(book.Ask, 150, 9), OwnerSlot: 0, Quantity: 2}
	if err := a.AddOrder(1, book.Ask, o); err != nil {
		t.Fatalf("add: %v", err)
	}

	want := a.CanonicalBytes()
	if !bytes.Equal(want, a.CanonicalBytes()) || !bytes.Equal(want, a.Clone().CanonicalBytes()) {
		t.Fatal("encoding is not deterministic")
	}

	data, err := json.Marshal(a)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var back state.Account
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !bytes.Equal(want, back.CanonicalBytes()) {
		t.Fatal("snapshot round trip changed the encoding")
	}
}

func TestAccount_CanonicalBytesCoverOrdersAndFlags(t *testing.T) {
	a := newTestAccount()
	base := a.CanonicalBytes()

	withOrder := a.Clone()
	o := &book.Order{Key: book.NewOrderKey(book.Bid, 100, 1), OwnerSlot: 0, Quantity: 1}
	if err := withOrder.AddOrder(0, book.Bid, o); err != nil {
		t.Fatalf("add: %v", err)
	}
	moved := withOrder.Clone()
	moved.Orders[0] = book.NewOrderKey(book.Bid, 101, 1)

	flagged := a.Clone()
	flagged.BeingLiquidated = true

	cases := map[string][]byte{
		"order":      withOrder.CanonicalBytes(),
		"order key":  moved.CanonicalBytes(),
		"liquidated": flagged.CanonicalBytes(),
	}
	for name, got := range cases {
		if bytes.Equal(got, base) {
			t.Errorf("%s not covered by the encoding", name)
		}
	}
	if bytes.Equal(withOrder.CanonicalBytes(), moved.CanonicalBytes()) {
		t.Error("order key not covered by the encoding")
	}
}
