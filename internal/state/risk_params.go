package state

import (
	"fmt"

	fpmath "LyraeLedger/internal/math"
)

// RiskParams is the leverage form of a market's risk configuration, as it
// appears in config. Weights derive from it: asset weight (lev-1)/lev,
// liability weight (lev+1)/lev.
type RiskParams struct {
	MarketIndex    int
	MaintLeverage  fpmath.I80F48
	InitLeverage   fpmath.I80F48
	LiquidationFee fpmath.I80F48
}

// Weights returns maint asset, init asset, maint liab and init liab weights.
func (p *RiskParams) Weights() (maintAsset, initAsset, maintLiab, initLiab fpmath.I80F48) {
	maintAsset = p.MaintLeverage.Sub(fpmath.One).Div(p.MaintLeverage)
	maintLiab = p.MaintLeverage.Add(fpmath.One).Div(p.MaintLeverage)
	initAsset = p.InitLeverage.Sub(fpmath.One).Div(p.InitLeverage)
	initLiab = p.InitLeverage.Add(fpmath.One).Div(p.InitLeverage)
	return
}

// ValidateRiskParams checks that risk parameters are within valid ranges:
// maint leverage > init leverage > 0 and 0 <= liquidation fee < 1.
func ValidateRiskParams(params *RiskParams) error {
	if !params.InitLeverage.IsPositive() {
		return fmt.Errorf("init_leverage must be > 0, got %s", params.InitLeverage)
	}
	if params.MaintLeverage.Lte(params.InitLeverage) {
		return fmt.Errorf("maint_leverage (%s) must be > init_leverage (%s)", params.MaintLeverage, params.InitLeverage)
	}
	if params.LiquidationFee.IsNegative() || params.LiquidationFee.Gte(fpmath.One) {
		return fmt.Errorf("liquidation_fee must be in [0, 1), got %s", params.LiquidationFee)
	}
	return nil
}

// ValidateWeights checks a weight set directly: 0 <= init asset <= maint
// asset <= 1 <= maint liab <= init liab.
func ValidateWeights(maintAsset, initAsset, maintLiab, initLiab fpmath.I80F48) error {
	if initAsset.IsNegative() {
		return fmt.Errorf("init_asset_weight must be >= 0, got %s", initAsset)
	}
	if initAsset.Gt(maintAsset) {
		return fmt.Errorf("init_asset_weight (%s) must be <= maint_asset_weight (%s)", initAsset, maintAsset)
	}
	if maintAsset.Gt(fpmath.One) {
		return fmt.Errorf("maint_asset_weight must be <= 1, got %s", maintAsset)
	}
	if maintLiab.Lt(fpmath.One) {
		return fmt.Errorf("maint_liab_weight must be >= 1, got %s", maintLiab)
	}
	if initLiab.Lt(maintLiab) {
		return fmt.Errorf("init_liab_weight (%s) must be >= maint_liab_weight (%s)", initLiab, maintLiab)
	}
	return nil
}

// ApplySpot validates params and writes the derived weights into the spot
// market slot.
func (g *Group) ApplySpot(name string, params *RiskParams) error {
	if err := ValidateRiskParams(params); err != nil {
		return fmt.Errorf("invalid risk params for spot %s: %w", name, err)
	}
	ma, ia, ml, il := params.Weights()
	g.SpotMarkets[params.MarketIndex] = SpotMarketInfo{
		Name:             name,
		Listed:           true,
		MaintAssetWeight: ma,
		InitAssetWeight:  ia,
		MaintLiabWeight:  ml,
		InitLiabWeight:   il,
		LiquidationFee:   params.LiquidationFee,
	}
	return nil
}

// ApplyPerp validates params and lot sizes and writes the perp market slot.
func (g *Group) ApplyPerp(info PerpMarketInfo, params *RiskParams) error {
	if err := ValidateRiskParams(params); err != nil {
		return fmt.Errorf("invalid risk params for perp %s: %w", info.Name, err)
	}
	if info.BaseLotSize <= 0 || info.QuoteLotSize <= 0 {
		return fmt.Errorf("invalid lot sizes for perp %s: base=%d quote=%d", info.Name, info.BaseLotSize, info.QuoteLotSize)
	}
	if info.MakerFee.Add(info.TakerFee).IsNegative() {
		return fmt.Errorf("maker_fee + taker_fee must be >= 0 for perp %s", info.Name)
	}
	info.MaintAssetWeight, info.InitAssetWeight, info.MaintLiabWeight, info.InitLiabWeight = params.Weights()
	info.LiquidationFee = params.LiquidationFee
	info.Listed = true
	g.PerpMarkets[params.MarketIndex] = info
	return nil
}
