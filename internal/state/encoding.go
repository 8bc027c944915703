package state

import fpmath "LyraeLedger/internal/math"

func appendInt64LE(buf []byte, v int64) []byte {
	return append(buf,
		byte(v),
		byte(v>>8),
		byte(v>>16),
		byte(v>>24),
		byte(v>>32),
		byte(v>>40),
		byte(v>>48),
		byte(v>>56),
	)
}

// appendFixed appends the 16-byte two's complement form of v.
func appendFixed(buf []byte, v fpmath.I80F48) []byte {
	b := v.Bytes()
	return append(buf, b[:]...)
}

// CanonicalBytes returns deterministic serialization of the market's
// scalar state for hashing.
func (m *PerpMarket) CanonicalBytes() []byte {
	buf := make([]byte, 0, 128)
	buf = append(buf, byte(m.Index), m.Version)
	buf = appendFixed(buf, m.LongFunding)
	buf = appendFixed(buf, m.ShortFunding)
	buf = appendInt64LE(buf, m.OpenInterest)
	buf = appendInt64LE(buf, int64(m.SeqNum))
	buf = appendFixed(buf, m.FeesAccrued)
	buf = appendInt64LE(buf, int64(m.LM.RewardLeft))
	buf = appendInt64LE(buf, m.LM.PeriodStart)
	buf = appendInt64LE(buf, int64(m.Events.SeqNum()))
	buf = appendInt64LE(buf, int64(m.Events.Len()))
	return buf
}

// CanonicalBytes returns deterministic serialization of the bank indexes and
// pooled balances.
func (r *RootBank) CanonicalBytes() []byte {
	buf := make([]byte, 0, 96)
	buf = appendFixed(buf, r.DepositIndex)
	buf = appendFixed(buf, r.BorrowIndex)
	buf = appendInt64LE(buf, r.LastUpdated)
	for i := range r.NodeBanks {
		buf = appendFixed(buf, r.NodeBanks[i].Deposits)
		buf = appendFixed(buf, r.NodeBanks[i].Borrows)
		buf = appendInt64LE(buf, int64(r.NodeBanks[i].Vault))
	}
	return buf
}

// CanonicalBytes returns deterministic serialization of the account's
// balances, positions, resting order slots and flags.
func (a *Account) CanonicalBytes() []byte {
	buf := make([]byte, 0, 1024)
	buf = append(buf, a.ID[:]...)
	buf = append(buf, a.Owner[:]...)
	buf = append(buf, a.Delegate[:]...)
	for t := range a.Deposits {
		buf = appendFixed(buf, a.Deposits[t])
		buf = appendFixed(buf, a.Borrows[t])
	}
	for i := range a.Perps {
		p := &a.Perps[i]
		buf = append(buf, boolByte(a.InMarginBasket[i]))
		buf = appendInt64LE(buf, p.BasePosition)
		buf = appendFixed(buf, p.QuotePosition)
		buf = appendFixed(buf, p.LongSettledFunding)
		buf = appendFixed(buf, p.ShortSettledFunding)
		buf = appendInt64LE(buf, p.BidsQuantity)
		buf = appendInt64LE(buf, p.AsksQuantity)
		buf = appendInt64LE(buf, p.TakerBase)
		buf = appendInt64LE(buf, p.TakerQuote)
		buf = appendInt64LE(buf, int64(p.IncentiveAccrued))
	}
	for i := range a.OrderMarket {
		if a.OrderMarket[i] == FreeOrderSlot {
			continue
		}
		buf = append(buf, byte(i), a.OrderMarket[i], byte(a.OrderSide[i]))
		buf = appendInt64LE(buf, int64(a.Orders[i].Hi))
		buf = appendInt64LE(buf, int64(a.Orders[i].Lo))
	}
	for i := range a.AdvancedOrders {
		buf = append(buf, boolByte(a.AdvancedOrders[i].Active))
	}
	return append(buf, boolByte(a.BeingLiquidated), boolByte(a.IsBankrupt))
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}
