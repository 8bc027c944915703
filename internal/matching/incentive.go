package matching

import (
	"LyraeLedger/internal/book"
	fpmath "LyraeLedger/internal/math"
	"LyraeLedger/internal/state"
)

// Incentive is a liquidity-mining strategy. The market version selects one.
type Incentive interface {
	// BestInitial is stored on an order posted at price, before it is
	// inserted.
	BestInitial(b *book.Book, side book.Side, price int64, lm *state.LiquidityMiningInfo) int64
	// BestFinal is measured while the order is still on the book, just
	// before it is cancelled.
	BestFinal(b *book.Book, side book.Side, key book.OrderKey, lm *state.LiquidityMiningInfo) int64
	// BestFinalOnFill is the final reference when the order is matched.
	BestFinalOnFill(fillPrice int64) int64
	// Points scores qty base lots that rested for elapsed seconds.
	Points(lm *state.LiquidityMiningInfo, side book.Side, price, bestInitial, bestFinal, elapsed, qty int64) fpmath.I80F48
}

// ForVersion returns the strategy of a market version: 0 rewards resting
// near the best price, anything else rewards resting with little size
// ahead.
func ForVersion(version uint8) Incentive {
	if version == 0 {
		return PriceIncentive{}
	}
	return SizeIncentive{}
}

// PriceIncentive scores the distance in basis points from the best price
// seen over the order's life. MaxDepth is in basis points.
type PriceIncentive struct{}

func (PriceIncentive) BestInitial(b *book.Book, side book.Side, price int64, _ *state.LiquidityMiningInfo) int64 {
	if best, ok := b.BestPrice(side); ok {
		return best
	}
	return price
}

func (PriceIncentive) BestFinal(b *book.Book, side book.Side, key book.OrderKey, _ *state.LiquidityMiningInfo) int64 {
	if best, ok := b.BestPrice(side); ok {
		return best
	}
	return key.Price()
}

func (PriceIncentive) BestFinalOnFill(fillPrice int64) int64 { return fillPrice }

func (PriceIncentive) Points(lm *state.LiquidityMiningInfo, side book.Side, price, bestInitial, bestFinal, elapsed, qty int64) fpmath.I80F48 {
	best := min(bestInitial, bestFinal)
	if side == book.Bid {
		best = max(bestInitial, bestFinal)
	}
	if best <= 0 {
		return fpmath.Zero
	}
	dist := fpmath.FromInt(abs64(best - price)).MulInt(10_000).DivInt(best)
	factor := fpmath.Max(lm.MaxDepth.Sub(dist), fpmath.Zero)
	return scale(lm, factor, 2, elapsed, qty)
}

// SizeIncentive scores how little resting size was ahead of the order.
// MaxDepth is in base lots and the depth factor is raised to the market's
// exponent.
type SizeIncentive struct{}

func (SizeIncentive) BestInitial(b *book.Book, side book.Side, price int64, lm *state.LiquidityMiningInfo) int64 {
	return b.SizeAhead(side, price, lm.MaxDepth.ToInt64Trunc())
}

func (SizeIncentive) BestFinal(b *book.Book, side book.Side, key book.OrderKey, lm *state.LiquidityMiningInfo) int64 {
	return b.SizeAheadOfOrder(side, key, lm.MaxDepth.ToInt64Trunc())
}

func (SizeIncentive) BestFinalOnFill(int64) int64 { return 0 }

func (SizeIncentive) Points(lm *state.LiquidityMiningInfo, _ book.Side, _, bestInitial, bestFinal, elapsed, qty int64) fpmath.I80F48 {
	ahead := fpmath.FromInt(max(bestInitial, bestFinal))
	if ahead.Gte(lm.MaxDepth) {
		return fpmath.Zero
	}
	return scale(lm, lm.MaxDepth.Sub(ahead), uint32(lm.Exponent), elapsed, qty)
}

// scale is factor^exp * min(elapsed, target)/target * qty. Overflow
// saturates to MaxValue; the payout is capped by the budget anyway.
func scale(lm *state.LiquidityMiningInfo, factor fpmath.I80F48, exp uint32, elapsed, qty int64) fpmath.I80F48 {
	if elapsed <= 0 || qty <= 0 || !factor.IsPositive() {
		return fpmath.Zero
	}
	points := fpmath.One
	for i := uint32(0); i < exp; i++ {
		var ok bool
		if points, ok = points.CheckedMul(factor); !ok {
			return fpmath.MaxValue
		}
	}
	timeFactor := fpmath.One
	if lm.TargetPeriodLength > 0 {
		timeFactor = fpmath.FromRatio(min(elapsed, lm.TargetPeriodLength), lm.TargetPeriodLength)
	}
	points, ok := points.CheckedMul(timeFactor)
	if !ok {
		return fpmath.MaxValue
	}
	if points, ok = points.CheckedMul(fpmath.FromInt(qty)); !ok {
		return fpmath.MaxValue
	}
	return points
}

// maxRateAdjustment bounds how far one period can move the reward rate.
var maxRateAdjustment = fpmath.FromInt(4)

// accrue converts points into reward at the market rate, capped by the
// budget left in the period, and credits it to pa. When the budget is spent
// or the period is over, a new period starts with a fresh budget and the
// rate moves toward paying out exactly one budget per target period.
func accrue(lm *state.LiquidityMiningInfo, pa *state.PerpAccount, points fpmath.I80F48, now int64) uint64 {
	if lm.Rate.IsZero() || lm.RewardPerPeriod == 0 {
		return 0
	}
	earned := fpmath.FromUint(lm.RewardLeft)
	if v, ok := points.CheckedMul(lm.Rate); ok {
		earned = fpmath.Min(v, earned)
	}
	reward := earned.ToUint64()
	lm.RewardLeft -= reward
	pa.IncentiveAccrued += reward

	elapsed := now - lm.PeriodStart
	if lm.RewardLeft == 0 || elapsed >= lm.TargetPeriodLength {
		if elapsed > 0 && lm.TargetPeriodLength > 0 {
			adj := fpmath.FromRatio(lm.TargetPeriodLength, elapsed)
			adj = adj.Clamp(fpmath.One.Div(maxRateAdjustment), maxRateAdjustment)
			lm.Rate = lm.Rate.Mul(adj)
		}
		lm.PeriodStart = now
		lm.RewardLeft = lm.RewardPerPeriod
	}
	return reward
}

// payIncentive scores an order that left the book and credits the reward.
// Orders placed under another market version earn nothing.
func payIncentive(m *state.PerpMarket, pa *state.PerpAccount, side book.Side, o *book.Order, bestFinal, qty, now int64) uint64 {
	if o.Version != m.Version {
		return 0
	}
	points := ForVersion(m.Version).Points(&m.LM, side, o.Price(), o.BestInitial, bestFinal, now-o.Timestamp, qty)
	return accrue(&m.LM, pa, points, now)
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
