package matching

import (
	"fmt"

	"LyraeLedger/internal/book"
	"LyraeLedger/internal/event"
	"LyraeLedger/internal/host"
	"LyraeLedger/internal/state"
)

// CancelPerpOrder removes acct's resting order key from market m and pays
// its incentive. A key that is not resting fails with ErrInvalidOrderID
// unless invalidIDOK is set, in which case nothing happens.
func CancelPerpOrder(env *host.Env, m *state.PerpMarket, acct *state.Account, key book.OrderKey, invalidIDOK bool) error {
	slot, ok := acct.FindOrder(m.Index, key)
	if !ok {
		return missingOrder(invalidIDOK, "order %s not found", key)
	}
	return cancelSlot(env, m, acct, slot, invalidIDOK)
}

// CancelPerpOrderByClientID is CancelPerpOrder addressed by client order id.
func CancelPerpOrderByClientID(env *host.Env, m *state.PerpMarket, acct *state.Account, clientID uint64, invalidIDOK bool) error {
	slot, ok := acct.FindOrderWithClientID(m.Index, clientID)
	if !ok {
		if invalidIDOK {
			return nil
		}
		return fmt.Errorf("%w: %d", state.ErrClientIDNotFound, clientID)
	}
	return cancelSlot(env, m, acct, slot, invalidIDOK)
}

func missingOrder(invalidIDOK bool, format string, args ...any) error {
	if invalidIDOK {
		return nil
	}
	return fmt.Errorf("%w: "+format, append([]any{state.ErrInvalidOrderID}, args...)...)
}

func cancelSlot(env *host.Env, m *state.PerpMarket, acct *state.Account, slot int, invalidIDOK bool) error {
	side, key := acct.OrderSide[slot], acct.Orders[slot]
	bestFinal := ForVersion(m.Version).BestFinal(m.Book, side, key, &m.LM)

	o, ok := m.Book.Side(side).Remove(key)
	if !ok {
		// Filled or evicted; the queued event frees the slot.
		return missingOrder(invalidIDOK, "order %s not on book", key)
	}
	if o.Owner != acct.ID {
		return fmt.Errorf("%w: order %s", state.ErrInvalidOwner, key)
	}
	if err := acct.RemoveOrder(int(o.OwnerSlot), o.Quantity); err != nil {
		return err
	}
	if reward := payIncentive(m, &acct.Perps[m.Index], side, &o, bestFinal, o.Quantity, env.Now); reward > 0 {
		env.Emit(&event.IncentiveAccrualLog{Account: acct.ID, MarketIndex: m.Index, Accrued: reward})
	}
	return nil
}

// CancelAllPerpOrders cancels up to limit of acct's orders on market m.
func CancelAllPerpOrders(env *host.Env, m *state.PerpMarket, acct *state.Account, limit int) error {
	_, err := cancelMany(env, m, acct, nil, limit, true)
	return err
}

// CancelPerpOrdersSide cancels up to limit of acct's orders on one side.
// Only size-incentive markets support it.
func CancelPerpOrdersSide(env *host.Env, m *state.PerpMarket, acct *state.Account, side book.Side, limit int) error {
	if m.Version == 0 {
		return fmt.Errorf("%w: side cancel needs market version 1", state.ErrInvalidParam)
	}
	_, err := cancelMany(env, m, acct, &side, limit, true)
	return err
}

// ForceCancelOrders removes up to limit of acct's orders on m without
// paying incentives and returns how many were removed. Callers enforce the
// liquidation preconditions.
func ForceCancelOrders(env *host.Env, m *state.PerpMarket, acct *state.Account, limit int) (int, error) {
	return cancelMany(env, m, acct, nil, limit, false)
}

type pending struct {
	slot      int
	side      book.Side
	key       book.OrderKey
	bestFinal int64
}

// cancelMany measures every order's final reference before removing any,
// so the first cancel does not improve the score of the next one.
func cancelMany(env *host.Env, m *state.PerpMarket, acct *state.Account, only *book.Side, limit int, incentives bool) (int, error) {
	strategy := ForVersion(m.Version)
	var all, canceled []book.OrderKey
	var todo []pending
	for _, slot := range acct.OpenOrders(m.Index) {
		side, key := acct.OrderSide[slot], acct.Orders[slot]
		if only != nil && side != *only {
			continue
		}
		all = append(all, key)
		if len(todo) >= limit {
			continue
		}
		todo = append(todo, pending{
			slot:      slot,
			side:      side,
			key:       key,
			bestFinal: strategy.BestFinal(m.Book, side, key, &m.LM),
		})
	}

	var accrued uint64
	for _, p := range todo {
		o, ok := m.Book.Side(p.side).Remove(p.key)
		if !ok {
			continue
		}
		if err := acct.RemoveOrder(p.slot, o.Quantity); err != nil {
			return len(canceled), err
		}
		canceled = append(canceled, p.key)
		if incentives {
			accrued += payIncentive(m, &acct.Perps[m.Index], p.side, &o, p.bestFinal, o.Quantity, env.Now)
		}
	}

	env.Emit(&event.CancelAllPerpOrdersLog{
		Account:          acct.ID,
		MarketIndex:      m.Index,
		AllOrderIDs:      all,
		CanceledOrderIDs: canceled,
	})
	if accrued > 0 {
		env.Emit(&event.IncentiveAccrualLog{Account: acct.ID, MarketIndex: m.Index, Accrued: accrued})
	}
	return len(canceled), nil
}
