package core

import (
	"fmt"

	"github.com/google/uuid"

	"LyraeLedger/internal/book"
	"LyraeLedger/internal/ledger"
	"LyraeLedger/internal/queue"
	"LyraeLedger/internal/state"
)

// Snapshot is a self-contained copy of the engine state. It shares no
// memory with the engine and can be encoded on another goroutine.
type Snapshot struct {
	// Sequence is the next envelope sequence.
	Sequence        int64                 `json:"sequence"`
	Applied         int64                 `json:"applied"`
	StateHash       [32]byte              `json:"state_hash"`
	Timestamp       int64                 `json:"timestamp"`
	Group           *state.Group          `json:"group"`
	Cache           state.MarketDataCache `json:"cache"`
	Fund            state.InsuranceFund   `json:"insurance_fund"`
	Accounts        []*state.Account      `json:"accounts"`
	Markets         []MarketSnapshot      `json:"markets"`
	IdempotencyKeys []string              `json:"idempotency_keys"`
}

// MarketSnapshot carries a perp market with its resting orders and queued
// events.
type MarketSnapshot struct {
	Market        *state.PerpMarket `json:"market"`
	BookCapacity  int               `json:"book_capacity"`
	Bids          []book.Order      `json:"bids"`
	Asks          []book.Order      `json:"asks"`
	QueueCapacity int               `json:"queue_capacity"`
	QueueSeq      uint64            `json:"queue_seq"`
	Events        []queue.Event     `json:"events"`
}

// Snapshot copies the current state.
func (e *Engine) Snapshot() *Snapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.snapshotLocked()
}

func (e *Engine) snapshotLocked() *Snapshot {
	s := &Snapshot{
		Sequence:        e.sequence,
		Applied:         e.applied,
		StateHash:       e.hasher.Tip(),
		Timestamp:       e.clock.Now(),
		Group:           e.group.Clone(),
		Cache:           *e.cache,
		Fund:            *e.fund,
		IdempotencyKeys: e.idempotency.RecentKeys(),
	}
	for _, a := range e.accountList() {
		s.Accounts = append(s.Accounts, a.Clone())
	}
	for i := 0; i < state.MaxPairs; i++ {
		m, ok := e.markets[i]
		if !ok {
			continue
		}
		scalar := *m
		scalar.Book, scalar.Events = nil, nil
		s.Markets = append(s.Markets, MarketSnapshot{
			Market:        &scalar,
			BookCapacity:  m.Book.Bids.Capacity(),
			Bids:          m.Book.Bids.Orders(0),
			Asks:          m.Book.Asks.Orders(0),
			QueueCapacity: m.Events.Capacity(),
			QueueSeq:      m.Events.SeqNum(),
			Events:        m.Events.Events(),
		})
	}
	return s
}

// Restore replaces the engine state with s and continues the hash chain
// from its tip.
func (e *Engine) Restore(s *Snapshot) error {
	if s == nil || s.Group == nil {
		return fmt.Errorf("%w: empty snapshot", state.ErrInvalidParam)
	}
	markets := make(map[int]*state.PerpMarket, len(s.Markets))
	for _, ms := range s.Markets {
		m, err := restoreMarket(ms)
		if err != nil {
			return err
		}
		markets[m.Index] = m
	}
	accounts := make(map[uuid.UUID]*state.Account, len(s.Accounts))
	for _, a := range s.Accounts {
		accounts[a.ID] = a.Clone()
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.group = s.Group.Clone()
	cache := s.Cache
	e.cache = &cache
	fund := s.Fund
	e.fund = &fund
	e.markets = markets
	e.accounts = accounts
	e.sequence = s.Sequence
	e.applied = s.Applied
	e.hasher = RestoreStateHasher(s.StateHash)
	e.validator = ledger.NewInvariantValidator(e.group, e.markets)
	e.idempotency.Warm(s.IdempotencyKeys)

	e.metrics.Sequence.Set(float64(e.sequence))
	e.metrics.InsuranceFundBalance.Set(float64(e.fund.Balance))
	e.log.Info().
		Int64("sequence", s.Sequence).
		Int("accounts", len(accounts)).
		Int("markets", len(markets)).
		Msg("restored from snapshot")
	return nil
}

func restoreMarket(ms MarketSnapshot) (*state.PerpMarket, error) {
	if ms.Market == nil {
		return nil, fmt.Errorf("%w: market snapshot without market", state.ErrInvalidParam)
	}
	m := *ms.Market
	m.Book = book.New(ms.BookCapacity)
	for _, o := range ms.Bids {
		if err := m.Book.Bids.Insert(o); err != nil {
			return nil, fmt.Errorf("restore market %d bids: %w", m.Index, err)
		}
	}
	for _, o := range ms.Asks {
		if err := m.Book.Asks.Insert(o); err != nil {
			return nil, fmt.Errorf("restore market %d asks: %w", m.Index, err)
		}
	}
	q, err := queue.Restore(ms.QueueCapacity, ms.QueueSeq, ms.Events)
	if err != nil {
		return nil, fmt.Errorf("restore market %d queue: %w", m.Index, err)
	}
	m.Events = q
	return &m, nil
}

// WarmIdempotency preloads composite idempotency keys, oldest first, such as
// those read back from the intent log at boot.
func (e *Engine) WarmIdempotency(keys []string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.idempotency.Warm(keys)
}
