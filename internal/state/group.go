package state

import (
	"fmt"

	fpmath "LyraeLedger/internal/math"
)

const (
	// MaxPairs is the number of market slots; each slot may carry a spot
	// market, a perp market, or both, sharing one oracle index.
	MaxPairs = 15
	// QuoteIndex is the token index of the quote currency.
	QuoteIndex = MaxPairs
	MaxTokens  = MaxPairs + 1

	MaxPerpOpenOrders = 64
	MaxAdvancedOrders = 32

	// FreeOrderSlot marks an unused per-account order slot.
	FreeOrderSlot = ^uint8(0)

	// DefaultValidInterval is the cache staleness bound in seconds.
	DefaultValidInterval = 5
)

// TokenInfo describes a listed token and owns its bank.
type TokenInfo struct {
	Symbol   string    `json:"symbol"`
	Decimals uint8     `json:"decimals"`
	RootBank *RootBank `json:"root_bank,omitempty"`
}

func (t *TokenInfo) IsListed() bool { return t.RootBank != nil }

// SpotMarketInfo holds the risk weights of a spot token when used as
// collateral or as a liability.
type SpotMarketInfo struct {
	Name             string        `json:"name"`
	Listed           bool          `json:"listed"`
	MaintAssetWeight fpmath.I80F48 `json:"maint_asset_weight"`
	InitAssetWeight  fpmath.I80F48 `json:"init_asset_weight"`
	MaintLiabWeight  fpmath.I80F48 `json:"maint_liab_weight"`
	InitLiabWeight   fpmath.I80F48 `json:"init_liab_weight"`
	LiquidationFee   fpmath.I80F48 `json:"liquidation_fee"`
}

// PerpMarketInfo is the static configuration of a perp market.
type PerpMarketInfo struct {
	Name             string        `json:"name"`
	Listed           bool          `json:"listed"`
	MaintAssetWeight fpmath.I80F48 `json:"maint_asset_weight"`
	InitAssetWeight  fpmath.I80F48 `json:"init_asset_weight"`
	MaintLiabWeight  fpmath.I80F48 `json:"maint_liab_weight"`
	InitLiabWeight   fpmath.I80F48 `json:"init_liab_weight"`
	LiquidationFee   fpmath.I80F48 `json:"liquidation_fee"`
	MakerFee         fpmath.I80F48 `json:"maker_fee"`
	TakerFee         fpmath.I80F48 `json:"taker_fee"`
	BaseLotSize      int64         `json:"base_lot_size"`
	QuoteLotSize     int64         `json:"quote_lot_size"`
	// ReferralShare is the fraction of the taker fee paid to a referrer.
	ReferralShare fpmath.I80F48 `json:"referral_share"`
}

// HealthType selects the weight set.
type HealthType uint8

const (
	Maint HealthType = iota
	Init
)

func (h HealthType) String() string {
	if h == Init {
		return "init"
	}
	return "maint"
}

// Weights returns (asset, liability) weights for the health type.
func (s *SpotMarketInfo) Weights(h HealthType) (fpmath.I80F48, fpmath.I80F48) {
	if h == Init {
		return s.InitAssetWeight, s.InitLiabWeight
	}
	return s.MaintAssetWeight, s.MaintLiabWeight
}

func (p *PerpMarketInfo) Weights(h HealthType) (fpmath.I80F48, fpmath.I80F48) {
	if h == Init {
		return p.InitAssetWeight, p.InitLiabWeight
	}
	return p.MaintAssetWeight, p.MaintLiabWeight
}

// LotToNativePrice converts a price in quote lots per base lot into native
// quote per native base.
func (p *PerpMarketInfo) LotToNativePrice(price int64) fpmath.I80F48 {
	return fpmath.FromInt(price).MulInt(p.QuoteLotSize).DivInt(p.BaseLotSize)
}

// NativeToLotPrice is the inverse of LotToNativePrice, truncated.
func (p *PerpMarketInfo) NativeToLotPrice(price fpmath.I80F48) int64 {
	return price.MulInt(p.BaseLotSize).DivInt(p.QuoteLotSize).ToInt64Trunc()
}

// Group is the root configuration shared by every account and market.
type Group struct {
	NumOracles    int                      `json:"num_oracles"`
	Tokens        [MaxTokens]TokenInfo     `json:"tokens"`
	SpotMarkets   [MaxPairs]SpotMarketInfo `json:"spot_markets"`
	PerpMarkets   [MaxPairs]PerpMarketInfo `json:"perp_markets"`
	ValidInterval int64                    `json:"valid_interval"`
	// RewardToken is the token index that incentive rewards are paid in.
	RewardToken int `json:"reward_token"`
	// FeesVault collects settled perp fees in native quote.
	FeesVault uint64 `json:"fees_vault"`
}

func NewGroup(quoteSymbol string, quoteDecimals uint8, quoteBank *RootBank) *Group {
	g := &Group{ValidInterval: DefaultValidInterval, RewardToken: QuoteIndex}
	g.Tokens[QuoteIndex] = TokenInfo{Symbol: quoteSymbol, Decimals: quoteDecimals, RootBank: quoteBank}
	return g
}

// CheckMarketIndex validates an oracle/market slot index.
func (g *Group) CheckMarketIndex(i int) error {
	if i < 0 || i >= g.NumOracles {
		return fmt.Errorf("%w: market index %d", ErrInvalidMarket, i)
	}
	return nil
}

// CheckTokenIndex validates a token index (QuoteIndex included).
func (g *Group) CheckTokenIndex(i int) error {
	if i == QuoteIndex {
		return nil
	}
	if i < 0 || i >= g.NumOracles || !g.Tokens[i].IsListed() {
		return fmt.Errorf("%w: token index %d", ErrInvalidToken, i)
	}
	return nil
}

func (g *Group) CheckPerpMarket(i int) error {
	if err := g.CheckMarketIndex(i); err != nil {
		return err
	}
	if !g.PerpMarkets[i].Listed {
		return fmt.Errorf("%w: no perp market at %d", ErrInvalidMarket, i)
	}
	return nil
}

// Clone copies the group including its banks.
func (g *Group) Clone() *Group {
	c := *g
	for i := range c.Tokens {
		if rb := g.Tokens[i].RootBank; rb != nil {
			c.Tokens[i].RootBank = rb.Clone()
		}
	}
	return &c
}
