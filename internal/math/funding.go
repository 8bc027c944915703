package math

// SecondsPerDay is the funding accrual period.
const SecondsPerDay = 86400

var (
	// MaxFundingRate bounds the daily premium in either direction.
	MaxFundingRate = MustParse("0.05")
	MinFundingRate = MaxFundingRate.Neg()
)

// ComputeFundingRate derives the clamped premium of the book over the index.
// A missing side pins the rate to the bound that pushes the book back toward
// the index; an empty book yields zero.
func ComputeFundingRate(bookPrice I80F48, hasBid, hasAsk bool, indexPrice I80F48) I80F48 {
	switch {
	case hasBid && hasAsk:
		return bookPrice.Div(indexPrice).Sub(One).Clamp(MinFundingRate, MaxFundingRate)
	case hasBid:
		return MaxFundingRate
	case hasAsk:
		return MinFundingRate
	default:
		return Zero
	}
}

// ComputeFundingDelta returns the per-lot amount added to both cumulative
// funding accumulators for elapsedSeconds at the given rate:
// indexPrice * rate * baseLotSize * elapsed / day.
func ComputeFundingDelta(indexPrice, rate I80F48, baseLotSize int64, elapsedSeconds int64) I80F48 {
	if elapsedSeconds <= 0 {
		return Zero
	}
	timeFactor := FromInt(elapsedSeconds).DivInt(SecondsPerDay)
	return indexPrice.Mul(rate).MulInt(baseLotSize).Mul(timeFactor)
}

// ComputeFundingPayment is what a position owes when the accumulator moved
// from settled to current. Positive means the holder pays.
func ComputeFundingPayment(current, settled I80F48, basePosition int64) I80F48 {
	return current.Sub(settled).MulInt(basePosition)
}
