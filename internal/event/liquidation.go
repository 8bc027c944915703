package event

import (
	fpmath "LyraeLedger/internal/math"
	"LyraeLedger/internal/state"

	"github.com/google/uuid"
)

type LiquidateTokenAndTokenLog struct {
	Liqee         uuid.UUID     `json:"liqee"`
	Liqor         uuid.UUID     `json:"liqor"`
	AssetIndex    int           `json:"asset_index"`
	LiabIndex     int           `json:"liab_index"`
	AssetTransfer fpmath.I80F48 `json:"asset_transfer"`
	LiabTransfer  fpmath.I80F48 `json:"liab_transfer"`
	AssetPrice    fpmath.I80F48 `json:"asset_price"`
	LiabPrice     fpmath.I80F48 `json:"liab_price"`
	Bankruptcy    bool          `json:"bankruptcy"`
}

func (*LiquidateTokenAndTokenLog) RecordType() RecordType { return RecordTypeLiquidateTokenAndToken }

type LiquidateTokenAndPerpLog struct {
	Liqee         uuid.UUID       `json:"liqee"`
	Liqor         uuid.UUID       `json:"liqor"`
	AssetIndex    int             `json:"asset_index"`
	LiabIndex     int             `json:"liab_index"`
	AssetType     state.AssetType `json:"asset_type"`
	LiabType      state.AssetType `json:"liab_type"`
	AssetPrice    fpmath.I80F48   `json:"asset_price"`
	LiabPrice     fpmath.I80F48   `json:"liab_price"`
	AssetTransfer fpmath.I80F48   `json:"asset_transfer"`
	LiabTransfer  fpmath.I80F48   `json:"liab_transfer"`
	Bankruptcy    bool            `json:"bankruptcy"`
}

func (*LiquidateTokenAndPerpLog) RecordType() RecordType { return RecordTypeLiquidateTokenAndPerp }

type LiquidatePerpMarketLog struct {
	Liqee         uuid.UUID     `json:"liqee"`
	Liqor         uuid.UUID     `json:"liqor"`
	MarketIndex   int           `json:"market_index"`
	Price         fpmath.I80F48 `json:"price"`
	BaseTransfer  int64         `json:"base_transfer"`
	QuoteTransfer fpmath.I80F48 `json:"quote_transfer"`
	Bankruptcy    bool          `json:"bankruptcy"`
}

func (*LiquidatePerpMarketLog) RecordType() RecordType { return RecordTypeLiquidatePerpMarket }

type PerpBankruptcyLog struct {
	Liqee             uuid.UUID     `json:"liqee"`
	Liqor             uuid.UUID     `json:"liqor"`
	MarketIndex       int           `json:"market_index"`
	InsuranceTransfer uint64        `json:"insurance_transfer"`
	SocializedLoss    fpmath.I80F48 `json:"socialized_loss"`
	CacheLongFunding  fpmath.I80F48 `json:"cache_long_funding"`
	CacheShortFunding fpmath.I80F48 `json:"cache_short_funding"`
}

func (*PerpBankruptcyLog) RecordType() RecordType { return RecordTypePerpBankruptcy }

type TokenBankruptcyLog struct {
	Liqee             uuid.UUID     `json:"liqee"`
	Liqor             uuid.UUID     `json:"liqor"`
	LiabIndex         int           `json:"liab_index"`
	InsuranceTransfer uint64        `json:"insurance_transfer"`
	SocializedLoss    fpmath.I80F48 `json:"socialized_loss"`
	PercentageLoss    fpmath.I80F48 `json:"percentage_loss"`
	CacheDepositIndex fpmath.I80F48 `json:"cache_deposit_index"`
}

func (*TokenBankruptcyLog) RecordType() RecordType { return RecordTypeTokenBankruptcy }
