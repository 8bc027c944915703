package core

import (
	"fmt"

	"github.com/google/uuid"

	"LyraeLedger/internal/book"
	"LyraeLedger/internal/health"
	"LyraeLedger/internal/host"
	"LyraeLedger/internal/matching"
	fpmath "LyraeLedger/internal/math"
	"LyraeLedger/internal/state"
)

// Account returns a copy of the account.
func (e *Engine) Account(id uuid.UUID) (*state.Account, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	a, ok := e.accounts[id]
	if !ok {
		return nil, false
	}
	return a.Clone(), true
}

// AccountHealth is an account's Init and Maint health against the current
// cache.
type AccountHealth struct {
	Init            fpmath.I80F48 `json:"init"`
	Maint           fpmath.I80F48 `json:"maint"`
	BeingLiquidated bool          `json:"being_liquidated"`
	IsBankrupt      bool          `json:"is_bankrupt"`
}

// Health computes the account's health at the clock's current time. It
// fails with a stale-cache error if any active asset's cache has expired.
func (e *Engine) Health(id uuid.UUID) (AccountHealth, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	a, ok := e.accounts[id]
	if !ok {
		return AccountHealth{}, fmt.Errorf("%w: %s", state.ErrInvalidAccount, id)
	}
	env := &host.Env{Group: e.group, Cache: e.cache, Venue: e.venue, Now: e.clock.Now()}
	hc, err := health.ForAccount(env, a)
	if err != nil {
		return AccountHealth{}, err
	}
	return AccountHealth{
		Init:            hc.Health(e.group, e.cache, state.Init),
		Maint:           hc.Health(e.group, e.cache, state.Maint),
		BeingLiquidated: a.BeingLiquidated,
		IsBankrupt:      a.IsBankrupt,
	}, nil
}

// BookDepth aggregates the top depth price levels of both sides.
func (e *Engine) BookDepth(market, depth int) (bids, asks []book.Level, err error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	m, ok := e.markets[market]
	if !ok {
		return nil, nil, fmt.Errorf("%w: perp market %d", state.ErrInvalidMarket, market)
	}
	return m.Book.Depth(book.Bid, depth), m.Book.Depth(book.Ask, depth), nil
}

// QueuedAccounts returns the accounts a ConsumeEvents call on market needs
// to apply up to limit events.
func (e *Engine) QueuedAccounts(market, limit int) ([]uuid.UUID, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	m, ok := e.markets[market]
	if !ok {
		return nil, fmt.Errorf("%w: perp market %d", state.ErrInvalidMarket, market)
	}
	return m.Events.Accounts(min(limit, matching.MaxConsume)), nil
}

// Sequence returns the next envelope sequence.
func (e *Engine) Sequence() int64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.sequence
}

// StateHash returns the hash chain tip.
func (e *Engine) StateHash() [32]byte {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.hasher.Tip()
}

// InsuranceFund returns the fund balance in native quote.
func (e *Engine) InsuranceFund() uint64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.fund.Balance
}
