package config

import (
	"fmt"

	fpmath "LyraeLedger/internal/math"
	"LyraeLedger/internal/state"
)

// GroupConfig lists the tokens and markets of the ledger. Decimal values are
// strings so they parse exactly into fixed point.
type GroupConfig struct {
	ValidInterval int64          `mapstructure:"valid_interval"`
	OracleMaxAge  int64          `mapstructure:"oracle_max_age"`
	InsuranceFund uint64         `mapstructure:"insurance_fund"`
	Quote         TokenConfig    `mapstructure:"quote"`
	Markets       []MarketConfig `mapstructure:"markets"`
}

// TokenConfig describes a token and its interest curve.
type TokenConfig struct {
	Symbol      string `mapstructure:"symbol"`
	Decimals    uint8  `mapstructure:"decimals"`
	OptimalUtil string `mapstructure:"optimal_util"`
	OptimalRate string `mapstructure:"optimal_rate"`
	MaxRate     string `mapstructure:"max_rate"`
}

// RiskConfig is the leverage form of a market's weights.
type RiskConfig struct {
	MaintLeverage  string `mapstructure:"maint_leverage"`
	InitLeverage   string `mapstructure:"init_leverage"`
	LiquidationFee string `mapstructure:"liquidation_fee"`
}

// MarketConfig is one oracle slot. It may list a spot token, a perp market,
// or both.
type MarketConfig struct {
	Index int         `mapstructure:"index"`
	Spot  *SpotConfig `mapstructure:"spot"`
	Perp  *PerpConfig `mapstructure:"perp"`
}

type SpotConfig struct {
	Token TokenConfig `mapstructure:"token"`
	Risk  RiskConfig  `mapstructure:"risk"`
}

type PerpConfig struct {
	Name          string             `mapstructure:"name"`
	Risk          RiskConfig         `mapstructure:"risk"`
	BaseLotSize   int64              `mapstructure:"base_lot_size"`
	QuoteLotSize  int64              `mapstructure:"quote_lot_size"`
	MakerFee      string             `mapstructure:"maker_fee"`
	TakerFee      string             `mapstructure:"taker_fee"`
	ReferralShare string             `mapstructure:"referral_share"`
	BookCapacity  int                `mapstructure:"book_capacity"`
	QueueCapacity int                `mapstructure:"queue_capacity"`
	Version       uint8              `mapstructure:"version"`
	Mining        LiquidityMiningCfg `mapstructure:"liquidity_mining"`
}

type LiquidityMiningCfg struct {
	Rate               string `mapstructure:"rate"`
	MaxDepth           string `mapstructure:"max_depth"`
	TargetPeriodLength int64  `mapstructure:"target_period_length"`
	RewardPerPeriod    uint64 `mapstructure:"reward_per_period"`
	Exponent           uint8  `mapstructure:"exponent"`
}

// Validate builds the group once and discards it.
func (g GroupConfig) Validate() error {
	_, _, err := g.Build(0)
	return err
}

// Build constructs the group and the perp market runtime state, validating
// every market's risk parameters.
func (g GroupConfig) Build(now int64) (*state.Group, map[int]*state.PerpMarket, error) {
	quoteBank, err := g.Quote.bank(now)
	if err != nil {
		return nil, nil, fmt.Errorf("quote: %w", err)
	}
	group := state.NewGroup(g.Quote.Symbol, g.Quote.Decimals, quoteBank)
	if g.ValidInterval > 0 {
		group.ValidInterval = g.ValidInterval
	}

	markets := make(map[int]*state.PerpMarket)
	seen := make(map[int]bool)
	for _, mc := range g.Markets {
		if mc.Index < 0 || mc.Index >= state.MaxPairs {
			return nil, nil, fmt.Errorf("market index %d out of range [0, %d)", mc.Index, state.MaxPairs)
		}
		if seen[mc.Index] {
			return nil, nil, fmt.Errorf("market index %d listed twice", mc.Index)
		}
		seen[mc.Index] = true
		if mc.Spot == nil && mc.Perp == nil {
			return nil, nil, fmt.Errorf("market %d lists neither spot nor perp", mc.Index)
		}

		if mc.Spot != nil {
			if err := mc.Spot.apply(group, mc.Index, now); err != nil {
				return nil, nil, err
			}
		}
		if mc.Perp != nil {
			m, err := mc.Perp.apply(group, mc.Index, now)
			if err != nil {
				return nil, nil, err
			}
			markets[mc.Index] = m
		}
		group.NumOracles = max(group.NumOracles, mc.Index+1)
	}
	return group, markets, nil
}

func (t TokenConfig) bank(now int64) (*state.RootBank, error) {
	if t.Symbol == "" {
		return nil, fmt.Errorf("token symbol is required")
	}
	util, err := parseOr(t.OptimalUtil, "0.7")
	if err != nil {
		return nil, fmt.Errorf("%s optimal_util: %w", t.Symbol, err)
	}
	rate, err := parseOr(t.OptimalRate, "0.06")
	if err != nil {
		return nil, fmt.Errorf("%s optimal_rate: %w", t.Symbol, err)
	}
	maxRate, err := parseOr(t.MaxRate, "1.5")
	if err != nil {
		return nil, fmt.Errorf("%s max_rate: %w", t.Symbol, err)
	}
	if !util.IsPositive() || util.Gte(fpmath.One) {
		return nil, fmt.Errorf("%s optimal_util must be in (0, 1), got %s", t.Symbol, util)
	}
	if rate.IsNegative() || maxRate.Lt(rate) {
		return nil, fmt.Errorf("%s rates must satisfy 0 <= optimal_rate <= max_rate", t.Symbol)
	}
	return state.NewRootBank(util, rate, maxRate, now), nil
}

func (r RiskConfig) params(index int) (*state.RiskParams, error) {
	maint, err := fpmath.Parse(r.MaintLeverage)
	if err != nil {
		return nil, fmt.Errorf("maint_leverage: %w", err)
	}
	initLev, err := fpmath.Parse(r.InitLeverage)
	if err != nil {
		return nil, fmt.Errorf("init_leverage: %w", err)
	}
	fee, err := parseOr(r.LiquidationFee, "0")
	if err != nil {
		return nil, fmt.Errorf("liquidation_fee: %w", err)
	}
	p := &state.RiskParams{MarketIndex: index, MaintLeverage: maint, InitLeverage: initLev, LiquidationFee: fee}
	if err := state.ValidateRiskParams(p); err != nil {
		return nil, err
	}
	return p, nil
}

func (s *SpotConfig) apply(g *state.Group, index int, now int64) error {
	params, err := s.Risk.params(index)
	if err != nil {
		return fmt.Errorf("spot %d: %w", index, err)
	}
	bank, err := s.Token.bank(now)
	if err != nil {
		return fmt.Errorf("spot %d: %w", index, err)
	}
	if err := g.ApplySpot(s.Token.Symbol, params); err != nil {
		return err
	}
	g.Tokens[index] = state.TokenInfo{Symbol: s.Token.Symbol, Decimals: s.Token.Decimals, RootBank: bank}
	return nil
}

func (p *PerpConfig) apply(g *state.Group, index int, now int64) (*state.PerpMarket, error) {
	params, err := p.Risk.params(index)
	if err != nil {
		return nil, fmt.Errorf("perp %s: %w", p.Name, err)
	}
	info := state.PerpMarketInfo{Name: p.Name, BaseLotSize: p.BaseLotSize, QuoteLotSize: p.QuoteLotSize}
	fields := []struct {
		name string
		raw  string
		dst  *fpmath.I80F48
	}{
		{"maker_fee", p.MakerFee, &info.MakerFee},
		{"taker_fee", p.TakerFee, &info.TakerFee},
		{"referral_share", p.ReferralShare, &info.ReferralShare},
	}
	for _, f := range fields {
		v, err := parseOr(f.raw, "0")
		if err != nil {
			return nil, fmt.Errorf("perp %s %s: %w", p.Name, f.name, err)
		}
		*f.dst = v
	}
	if err := g.ApplyPerp(info, params); err != nil {
		return nil, err
	}
	if p.Version > 1 {
		return nil, fmt.Errorf("perp %s: unknown version %d", p.Name, p.Version)
	}

	bookCap, queueCap := p.BookCapacity, p.QueueCapacity
	if bookCap <= 0 {
		bookCap = 1024
	}
	if queueCap <= 0 {
		queueCap = 512
	}
	m := state.NewPerpMarket(index, bookCap, queueCap, now)
	m.Version = p.Version

	rate, err := parseOr(p.Mining.Rate, "0")
	if err != nil {
		return nil, fmt.Errorf("perp %s liquidity_mining.rate: %w", p.Name, err)
	}
	depth, err := parseOr(p.Mining.MaxDepth, "0")
	if err != nil {
		return nil, fmt.Errorf("perp %s liquidity_mining.max_depth: %w", p.Name, err)
	}
	m.LM = state.LiquidityMiningInfo{
		Rate:               rate,
		MaxDepth:           depth,
		PeriodStart:        now,
		TargetPeriodLength: p.Mining.TargetPeriodLength,
		RewardPerPeriod:    p.Mining.RewardPerPeriod,
		RewardLeft:         p.Mining.RewardPerPeriod,
		Exponent:           p.Mining.Exponent,
	}
	return m, nil
}

func parseOr(raw, def string) (fpmath.I80F48, error) {
	if raw == "" {
		raw = def
	}
	return fpmath.Parse(raw)
}
