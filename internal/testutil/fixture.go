package testutil

import (
	"testing"

	"LyraeLedger/internal/event"
	"LyraeLedger/internal/host"
	fpmath "LyraeLedger/internal/math"
	"LyraeLedger/internal/state"

	"github.com/google/uuid"
)

// FixtureStart is the operation time fixtures begin at.
const FixtureStart int64 = 1_700_000_000

// Fixture is an in-memory group with fresh caches for package tests.
// Weights come from leverage 20 (maint) and 10 (init): asset 0.95/0.9,
// liability 1.05/1.1.
type Fixture struct {
	T       *testing.T
	Group   *state.Group
	Cache   *state.MarketDataCache
	Markets map[int]*state.PerpMarket
	Venue   *host.MemorySpotVenue
	Sink    *event.Buffer
	Now     int64
}

func NewFixture(t *testing.T) *Fixture {
	t.Helper()
	quote := state.NewRootBank(fpmath.MustParse("0.7"), fpmath.MustParse("0.06"), fpmath.MustParse("1.5"), FixtureStart)
	f := &Fixture{
		T:       t,
		Group:   state.NewGroup("USDC", 6, quote),
		Cache:   &state.MarketDataCache{},
		Markets: make(map[int]*state.PerpMarket),
		Venue:   host.NewMemorySpotVenue(),
		Sink:    &event.Buffer{},
		Now:     FixtureStart,
	}
	f.Refresh()
	return f
}

// DefaultRisk is leverage 20/10 with a 2.5% liquidation fee.
func DefaultRisk(index int) *state.RiskParams {
	return &state.RiskParams{
		MarketIndex:    index,
		MaintLeverage:  fpmath.FromInt(20),
		InitLeverage:   fpmath.FromInt(10),
		LiquidationFee: fpmath.MustParse("0.025"),
	}
}

// AddSpot lists token i with a bank and sets its oracle price.
func (f *Fixture) AddSpot(i int, symbol string, price string) {
	f.T.Helper()
	if err := f.Group.ApplySpot(symbol, DefaultRisk(i)); err != nil {
		f.T.Fatalf("apply spot: %v", err)
	}
	f.Group.Tokens[i] = state.TokenInfo{
		Symbol:   symbol,
		Decimals: 6,
		RootBank: state.NewRootBank(fpmath.MustParse("0.7"), fpmath.MustParse("0.06"), fpmath.MustParse("1.5"), f.Now),
	}
	f.Group.NumOracles = max(f.Group.NumOracles, i+1)
	f.SetPrice(i, price)
}

// AddPerp lists perp market i with zero fees and the given lot sizes.
func (f *Fixture) AddPerp(i int, name, price string, baseLot, quoteLot int64) *state.PerpMarket {
	f.T.Helper()
	info := state.PerpMarketInfo{Name: name, BaseLotSize: baseLot, QuoteLotSize: quoteLot}
	if err := f.Group.ApplyPerp(info, DefaultRisk(i)); err != nil {
		f.T.Fatalf("apply perp: %v", err)
	}
	f.Group.NumOracles = max(f.Group.NumOracles, i+1)
	m := state.NewPerpMarket(i, 32, 32, f.Now)
	f.Markets[i] = m
	f.SetPrice(i, price)
	return m
}

// SetPrice writes a cached oracle price at the current time.
func (f *Fixture) SetPrice(i int, price string) {
	f.Cache.Prices[i] = state.PriceCache{Price: fpmath.MustParse(price), LastUpdate: f.Now}
}

// Refresh rewrites every bank and perp market cache entry at Now.
func (f *Fixture) Refresh() {
	for t := range f.Group.Tokens {
		if b := f.Group.Tokens[t].RootBank; b != nil {
			f.Cache.RootBanks[t] = b.Cache(f.Now)
		}
	}
	for i, m := range f.Markets {
		f.Cache.PerpMarkets[i] = m.Cache(f.Now)
	}
	for i := 0; i < f.Group.NumOracles; i++ {
		if f.Cache.Prices[i].Price.IsPositive() {
			f.Cache.Prices[i].LastUpdate = f.Now
		}
	}
}

// Advance moves the clock and refreshes the caches.
func (f *Fixture) Advance(seconds int64) {
	f.Now += seconds
	f.Refresh()
}

func (f *Fixture) Env() *host.Env {
	return &host.Env{Group: f.Group, Cache: f.Cache, Venue: f.Venue, Sink: f.Sink, Now: f.Now}
}

// NewAccount returns an account owned by a fresh random owner.
func (f *Fixture) NewAccount() *state.Account {
	return state.NewAccount(uuid.New(), uuid.New())
}

// Deposit credits native units of token to acct through its bank.
func (f *Fixture) Deposit(acct *state.Account, token int, native int64) {
	f.T.Helper()
	bank := f.Group.Tokens[token].RootBank
	if err := state.CheckedChangeNet(&f.Cache.RootBanks[token], bank.Node(), acct, token, fpmath.FromInt(native)); err != nil {
		f.T.Fatalf("deposit: %v", err)
	}
	bank.Node().Vault += uint64(native)
}

// Borrow debits native units of token from acct, drawing deposits first.
func (f *Fixture) Borrow(acct *state.Account, token int, native int64) {
	f.T.Helper()
	bank := f.Group.Tokens[token].RootBank
	if err := state.CheckedChangeNet(&f.Cache.RootBanks[token], bank.Node(), acct, token, fpmath.FromInt(-native)); err != nil {
		f.T.Fatalf("borrow: %v", err)
	}
	bank.Node().Vault -= uint64(native)
}

// Records returns the buffered records of type rt.
func (f *Fixture) Records(rt event.RecordType) []event.Record {
	var out []event.Record
	for _, r := range f.Sink.Records() {
		if r.RecordType() == rt {
			out = append(out, r)
		}
	}
	return out
}
