package core

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"LyraeLedger/internal/event"
	"LyraeLedger/internal/host"
	fpmath "LyraeLedger/internal/math"
	"LyraeLedger/internal/state"
)

// txn is one intent's transaction. The group, cache and insurance fund are
// saved up front; accounts and markets are saved the first time a handler
// asks for them. Rollback copies the saved values back in place so that
// pointers held by the engine stay valid.
type txn struct {
	e   *Engine
	env *host.Env
	buf event.Buffer

	group    *state.Group
	cache    state.MarketDataCache
	fund     state.InsuranceFund
	accounts map[uuid.UUID]*state.Account
	markets  map[int]*state.PerpMarket
	created  []uuid.UUID
}

func (e *Engine) begin() *txn {
	tx := &txn{
		e:        e,
		group:    e.group.Clone(),
		cache:    *e.cache,
		fund:     *e.fund,
		accounts: make(map[uuid.UUID]*state.Account),
		markets:  make(map[int]*state.PerpMarket),
	}
	tx.env = &host.Env{
		Group: e.group,
		Cache: e.cache,
		Venue: e.venue,
		Sink:  &tx.buf,
		Now:   e.clock.Now(),
	}
	return tx
}

// run calls fn, converting a fixed-point overflow panic into ErrMath.
func (tx *txn) run(fn func() (Result, error)) (res Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			var oe *fpmath.OverflowError
			if rerr, ok := r.(error); ok && errors.As(rerr, &oe) {
				res, err = Result{}, fmt.Errorf("%w: %v", state.ErrMath, oe)
				return
			}
			panic(r)
		}
	}()
	return fn()
}

func (tx *txn) rollback() {
	e := tx.e
	*e.group = *tx.group
	*e.cache = tx.cache
	*e.fund = tx.fund
	for id, saved := range tx.accounts {
		*e.accounts[id] = *saved
	}
	for i, saved := range tx.markets {
		*e.markets[i] = *saved
	}
	for _, id := range tx.created {
		delete(e.accounts, id)
	}
	tx.buf.Reset()
}

// account returns the live account, saving it on first use.
func (tx *txn) account(id uuid.UUID) (*state.Account, error) {
	a, ok := tx.e.accounts[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", state.ErrInvalidAccount, id)
	}
	if _, saved := tx.accounts[id]; !saved {
		tx.accounts[id] = a.Clone()
	}
	return a, nil
}

// lookup adapts account to matching.Accounts.
func (tx *txn) lookup(id uuid.UUID) (*state.Account, bool) {
	a, err := tx.account(id)
	return a, err == nil
}

// authorized returns the account if signer may act for it.
func (tx *txn) authorized(id, signer uuid.UUID) (*state.Account, error) {
	a, err := tx.account(id)
	if err != nil {
		return nil, err
	}
	if !a.IsOwnerOrDelegate(signer) {
		return nil, fmt.Errorf("%w: %s on %s", state.ErrUnauthorized, signer, id)
	}
	return a, nil
}

// market returns the live perp market, saving it on first use.
func (tx *txn) market(i int) (*state.PerpMarket, error) {
	if err := tx.e.group.CheckPerpMarket(i); err != nil {
		return nil, err
	}
	m, ok := tx.e.markets[i]
	if !ok {
		return nil, fmt.Errorf("%w: perp market %d has no runtime state", state.ErrInvalidMarket, i)
	}
	if _, saved := tx.markets[i]; !saved {
		tx.markets[i] = m.Clone()
	}
	return m, nil
}

func (tx *txn) create(a *state.Account) {
	tx.e.accounts[a.ID] = a
	tx.created = append(tx.created, a.ID)
}
