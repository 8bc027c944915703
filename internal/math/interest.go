package math

// SecondsPerYear is used to annualize interest rates.
const SecondsPerYear = 31536000

// ComputeUtilization returns borrows/deposits clamped to [0, 1]. Zero
// deposits yield zero utilization.
func ComputeUtilization(nativeDeposits, nativeBorrows I80F48) I80F48 {
	if !nativeDeposits.IsPositive() {
		return Zero
	}
	return nativeBorrows.Div(nativeDeposits).Clamp(Zero, One)
}

// ComputeInterestRate evaluates the two-segment utilization curve: linear
// from 0 to optimalRate below optimalUtil, then linear from optimalRate to
// maxRate above it.
func ComputeInterestRate(utilization, optimalUtil, optimalRate, maxRate I80F48) I80F48 {
	if utilization.Lte(optimalUtil) {
		if optimalUtil.IsZero() {
			return Zero
		}
		slope := optimalRate.Div(optimalUtil)
		return slope.Mul(utilization)
	}
	extra := utilization.Sub(optimalUtil)
	denom := One.Sub(optimalUtil)
	if denom.IsZero() {
		return maxRate
	}
	slope := maxRate.Sub(optimalRate).Div(denom)
	return optimalRate.Add(slope.Mul(extra))
}

// ComputeInterest returns the borrow and deposit growth fractions accrued over
// elapsedSeconds. Deposit interest is borrow interest scaled by utilization so
// borrowers fund depositors pro rata.
func ComputeInterest(utilization, rate I80F48, elapsedSeconds int64) (borrowInterest, depositInterest I80F48) {
	borrowInterest = rate.MulInt(elapsedSeconds).DivInt(SecondsPerYear)
	depositInterest = borrowInterest.Mul(utilization)
	return borrowInterest, depositInterest
}
