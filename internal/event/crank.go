package event

import fpmath "LyraeLedger/internal/math"

type CachePricesLog struct {
	OracleIndexes []int           `json:"oracle_indexes"`
	OldPrices     []fpmath.I80F48 `json:"old_prices"`
	NewPrices     []fpmath.I80F48 `json:"new_prices"`
}

func (*CachePricesLog) RecordType() RecordType { return RecordTypeCachePrices }

type CacheRootBanksLog struct {
	TokenIndexes   []int           `json:"token_indexes"`
	DepositIndexes []fpmath.I80F48 `json:"deposit_indexes"`
	BorrowIndexes  []fpmath.I80F48 `json:"borrow_indexes"`
}

func (*CacheRootBanksLog) RecordType() RecordType { return RecordTypeCacheRootBanks }

type CachePerpMarketsLog struct {
	MarketIndexes []int           `json:"market_indexes"`
	LongFundings  []fpmath.I80F48 `json:"long_fundings"`
	ShortFundings []fpmath.I80F48 `json:"short_fundings"`
}

func (*CachePerpMarketsLog) RecordType() RecordType { return RecordTypeCachePerpMarkets }

type UpdateRootBankLog struct {
	Token        int           `json:"token"`
	DepositIndex fpmath.I80F48 `json:"deposit_index"`
	BorrowIndex  fpmath.I80F48 `json:"borrow_index"`
}

func (*UpdateRootBankLog) RecordType() RecordType { return RecordTypeUpdateRootBank }

type UpdateFundingLog struct {
	MarketIndex  int           `json:"market_index"`
	LongFunding  fpmath.I80F48 `json:"long_funding"`
	ShortFunding fpmath.I80F48 `json:"short_funding"`
	Rate         fpmath.I80F48 `json:"rate"`
}

func (*UpdateFundingLog) RecordType() RecordType { return RecordTypeUpdateFunding }
