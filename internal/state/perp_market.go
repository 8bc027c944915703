package state

import (
	"LyraeLedger/internal/book"
	fpmath "LyraeLedger/internal/math"
	"LyraeLedger/internal/queue"
)

// LiquidityMiningInfo parameterizes the resting-order reward.
type LiquidityMiningInfo struct {
	Rate fpmath.I80F48 `json:"rate"`
	// MaxDepth is in basis points from the best price for version 0 markets
	// and in base lots of size ahead for version 1 markets.
	MaxDepth           fpmath.I80F48 `json:"max_depth"`
	PeriodStart        int64         `json:"period_start"`
	TargetPeriodLength int64         `json:"target_period_length"`
	RewardLeft         uint64        `json:"reward_left"`
	RewardPerPeriod    uint64        `json:"reward_per_period"`
	// Exponent applies to the version 1 depth factor.
	Exponent uint8 `json:"exponent"`
}

// PerpMarket is the mutable runtime state of a perp market.
type PerpMarket struct {
	Index        int           `json:"index"`
	LongFunding  fpmath.I80F48 `json:"long_funding"`
	ShortFunding fpmath.I80F48 `json:"short_funding"`
	OpenInterest int64         `json:"open_interest"`
	LastUpdated  int64         `json:"last_updated"`
	SeqNum       uint64        `json:"seq_num"`
	FeesAccrued  fpmath.I80F48 `json:"fees_accrued"`
	// Version selects the incentive strategy.
	Version     uint8               `json:"version"`
	LM          LiquidityMiningInfo `json:"liquidity_mining"`
	RewardVault uint64              `json:"reward_vault"`

	Book   *book.Book        `json:"-"`
	Events *queue.EventQueue `json:"-"`
}

func NewPerpMarket(index int, bookCapacity, queueCapacity int, now int64) *PerpMarket {
	return &PerpMarket{
		Index:       index,
		LastUpdated: now,
		Book:        book.New(bookCapacity),
		Events:      queue.New(queueCapacity),
	}
}

// NextSeq returns the sequence number for the next order key.
func (m *PerpMarket) NextSeq() uint64 {
	seq := m.SeqNum
	m.SeqNum++
	return seq
}

// Cache snapshots the funding accumulators.
func (m *PerpMarket) Cache(now int64) PerpMarketCache {
	return PerpMarketCache{LongFunding: m.LongFunding, ShortFunding: m.ShortFunding, LastUpdate: now}
}

// SocializeLoss spreads a bankrupt position's negative quote over all open
// interest through the funding accumulators and zeroes the position. It
// returns the per-lot loss.
func (m *PerpMarket) SocializeLoss(pa *PerpAccount, c *PerpMarketCache) fpmath.I80F48 {
	loss := fpmath.Zero
	if m.OpenInterest != 0 {
		loss = pa.QuotePosition.DivInt(m.OpenInterest)
	}
	pa.QuotePosition = fpmath.Zero
	m.LongFunding = m.LongFunding.Sub(loss)
	m.ShortFunding = m.ShortFunding.Add(loss)
	c.LongFunding = m.LongFunding
	c.ShortFunding = m.ShortFunding
	return loss
}

func (m *PerpMarket) Clone() *PerpMarket {
	c := *m
	c.Book = m.Book.Clone()
	c.Events = m.Events.Clone()
	return &c
}
