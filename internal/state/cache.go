package state

import (
	"fmt"

	fpmath "LyraeLedger/internal/math"
)

type PriceCache struct {
	Price      fpmath.I80F48 `json:"price"`
	LastUpdate int64         `json:"last_update"`
}

type RootBankCache struct {
	DepositIndex fpmath.I80F48 `json:"deposit_index"`
	BorrowIndex  fpmath.I80F48 `json:"borrow_index"`
	LastUpdate   int64         `json:"last_update"`
}

type PerpMarketCache struct {
	LongFunding  fpmath.I80F48 `json:"long_funding"`
	ShortFunding fpmath.I80F48 `json:"short_funding"`
	LastUpdate   int64         `json:"last_update"`
}

// MarketDataCache is the snapshot of prices, bank indexes and funding
// accumulators that health and liquidation math read. Every entry carries
// the time it was written; readers check it against the group's validity
// interval.
type MarketDataCache struct {
	Prices      [MaxPairs]PriceCache      `json:"prices"`
	RootBanks   [MaxTokens]RootBankCache  `json:"root_banks"`
	PerpMarkets [MaxPairs]PerpMarketCache `json:"perp_markets"`
}

// Price returns the cached oracle price of a token; the quote token is 1.
func (c *MarketDataCache) Price(token int) fpmath.I80F48 {
	if token == QuoteIndex {
		return fpmath.One
	}
	return c.Prices[token].Price
}

func fresh(lastUpdate, now, interval int64) bool {
	return lastUpdate >= now-interval
}

// CheckValid fails if any cache entry needed by the active assets is older
// than the group's validity interval. The quote bank is always required.
func (c *MarketDataCache) CheckValid(g *Group, active *ActiveAssets, now int64) error {
	for i := 0; i < g.NumOracles; i++ {
		if active.Spot[i] || active.Perps[i] {
			if !fresh(c.Prices[i].LastUpdate, now, g.ValidInterval) {
				return fmt.Errorf("%w: index %d", ErrInvalidPriceCache, i)
			}
		}
		if active.Spot[i] && !fresh(c.RootBanks[i].LastUpdate, now, g.ValidInterval) {
			return fmt.Errorf("%w: token %d", ErrInvalidRootBankCache, i)
		}
		if active.Perps[i] && !fresh(c.PerpMarkets[i].LastUpdate, now, g.ValidInterval) {
			return fmt.Errorf("%w: market %d", ErrInvalidPerpMarketCache, i)
		}
	}
	if !fresh(c.RootBanks[QuoteIndex].LastUpdate, now, g.ValidInterval) {
		return fmt.Errorf("%w: quote", ErrInvalidRootBankCache)
	}
	return nil
}

// CheckRootBank validates a single token's bank cache.
func (c *MarketDataCache) CheckRootBank(g *Group, token int, now int64) error {
	if !fresh(c.RootBanks[token].LastUpdate, now, g.ValidInterval) {
		return fmt.Errorf("%w: token %d", ErrInvalidRootBankCache, token)
	}
	return nil
}

func (c *MarketDataCache) CheckPrice(g *Group, index int, now int64) error {
	if index == QuoteIndex {
		return nil
	}
	if !fresh(c.Prices[index].LastUpdate, now, g.ValidInterval) {
		return fmt.Errorf("%w: index %d", ErrInvalidPriceCache, index)
	}
	return nil
}

func (c *MarketDataCache) CheckPerpMarket(g *Group, index int, now int64) error {
	if !fresh(c.PerpMarkets[index].LastUpdate, now, g.ValidInterval) {
		return fmt.Errorf("%w: market %d", ErrInvalidPerpMarketCache, index)
	}
	return nil
}

// AssetType distinguishes token balances from perp positions.
type AssetType uint8

const (
	AssetToken AssetType = iota
	AssetPerp
)

func (t AssetType) String() string {
	if t == AssetPerp {
		return "perp"
	}
	return "token"
}

func (t AssetType) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

func (t *AssetType) UnmarshalText(text []byte) error {
	switch string(text) {
	case "token":
		*t = AssetToken
	case "perp":
		*t = AssetPerp
	default:
		return fmt.Errorf("%w: asset type %q", ErrInvalidParam, text)
	}
	return nil
}

// Asset names one token or perp market.
type Asset struct {
	Type  AssetType
	Index int
}

// ActiveAssets is the set of spot tokens and perp markets whose data a
// computation needs.
type ActiveAssets struct {
	Spot  [MaxPairs]bool
	Perps [MaxPairs]bool
}

// NewActiveAssets collects the account's active assets plus extra. The
// quote token is implied and never listed.
func NewActiveAssets(g *Group, acct *Account, extra ...Asset) *ActiveAssets {
	a := &ActiveAssets{}
	for i := 0; i < g.NumOracles; i++ {
		a.Spot[i] = acct.InMarginBasket[i] || !acct.Deposits[i].IsZero() || !acct.Borrows[i].IsZero()
		a.Perps[i] = g.PerpMarkets[i].Listed && acct.Perps[i].IsActive()
	}
	for _, e := range extra {
		if e.Index == QuoteIndex {
			continue
		}
		if e.Type == AssetToken {
			a.Spot[e.Index] = true
		} else {
			a.Perps[e.Index] = true
		}
	}
	return a
}

// Merge returns the union of a and b.
func (a *ActiveAssets) Merge(b *ActiveAssets) *ActiveAssets {
	m := &ActiveAssets{}
	for i := 0; i < MaxPairs; i++ {
		m.Spot[i] = a.Spot[i] || b.Spot[i]
		m.Perps[i] = a.Perps[i] || b.Perps[i]
	}
	return m
}
