package matching

import (
	"fmt"

	"LyraeLedger/internal/book"
	"LyraeLedger/internal/event"
	"LyraeLedger/internal/funding"
	"LyraeLedger/internal/health"
	"LyraeLedger/internal/host"
	fpmath "LyraeLedger/internal/math"
	"LyraeLedger/internal/state"
)

// Trigger order log actions.
const (
	TriggerAdded    = "added"
	TriggerRemoved  = "removed"
	TriggerExecuted = "executed"
	TriggerSkipped  = "skipped"
	TriggerCleared  = "cleared"
)

// AddTriggerOrder validates o and stores it on acct. It returns the slot.
func AddTriggerOrder(env *host.Env, acct *state.Account, o state.TriggerOrder) (int, error) {
	if acct.IsBankrupt {
		return 0, state.ErrBankrupt
	}
	i := int(o.MarketIndex)
	if err := env.Group.CheckPerpMarket(i); err != nil {
		return 0, err
	}
	if o.Quantity <= 0 || (o.Price <= 0 && o.OrderType != book.Market) || !o.TriggerPrice.IsPositive() {
		return 0, fmt.Errorf("%w: trigger order price %d quantity %d trigger %s",
			state.ErrInvalidParam, o.Price, o.Quantity, o.TriggerPrice)
	}
	idx, err := acct.AddTriggerOrder(o)
	if err != nil {
		return 0, err
	}
	env.Emit(&event.TriggerOrderLog{Account: acct.ID, Index: idx, MarketIndex: i, Action: TriggerAdded})
	return idx, nil
}

// RemoveTriggerOrder deletes the active trigger order in slot idx.
func RemoveTriggerOrder(env *host.Env, acct *state.Account, idx int) error {
	if idx < 0 || idx >= state.MaxAdvancedOrders || !acct.AdvancedOrders[idx].Active {
		return fmt.Errorf("%w: no trigger order at %d", state.ErrInvalidParam, idx)
	}
	i := int(acct.AdvancedOrders[idx].MarketIndex)
	if err := acct.RemoveTriggerOrder(idx); err != nil {
		return err
	}
	env.Emit(&event.TriggerOrderLog{Account: acct.ID, Index: idx, MarketIndex: i, Action: TriggerRemoved})
	return nil
}

// ExecuteTriggerOrder places the trigger order in slot idx on market m if
// the cached oracle price satisfies its condition. The order runs only if
// a dry run leaves Init health non-negative, or no worse for an account
// already below zero; otherwise it is dropped. Either way the slot is
// freed. A bankrupt account, or one under liquidation with negative Init
// health, loses all its trigger orders instead.
func ExecuteTriggerOrder(env *host.Env, m *state.PerpMarket, acct *state.Account, idx int) (Result, error) {
	if idx < 0 || idx >= state.MaxAdvancedOrders {
		return Result{}, fmt.Errorf("%w: trigger order index %d", state.ErrInvalidParam, idx)
	}
	i := m.Index
	if acct.IsBankrupt {
		clearTriggers(env, acct, i)
		return Result{Disposition: Discarded}, nil
	}
	o := acct.AdvancedOrders[idx]
	if !o.Active {
		return Result{}, fmt.Errorf("%w: no trigger order at %d", state.ErrInvalidParam, idx)
	}
	if int(o.MarketIndex) != i {
		return Result{}, fmt.Errorf("%w: trigger order is for market %d", state.ErrInvalidMarket, o.MarketIndex)
	}

	g := env.Group
	hc, err := health.ForAccount(env, acct, state.Asset{Type: state.AssetPerp, Index: i})
	if err != nil {
		return Result{}, err
	}
	if !o.Triggered(env.Cache.Price(i)) {
		return Result{}, state.ErrTriggerConditionFalse
	}
	pre := hc.Health(g, env.Cache, state.Init)
	if acct.BeingLiquidated {
		if pre.IsNegative() {
			clearTriggers(env, acct, i)
			return Result{Disposition: Discarded}, nil
		}
		acct.BeingLiquidated = false
	}
	upOnly := pre.IsNegative()

	funding.Settle(env.Cache, acct, i)

	qty := o.Quantity
	if o.ReduceOnly {
		qty = ReduceOnlyQuantity(m, acct, o.Side, qty)
	}

	res := Result{Disposition: Discarded}
	action := TriggerSkipped
	if qty > 0 && simulatedHealthOK(env, m, acct, hc, o, qty, pre, upOnly) {
		res, err = NewOrder(env, m, acct, o.Side, o.Price, qty, o.OrderType, o.ClientOrderID)
		if err != nil {
			return Result{}, err
		}
		action = TriggerExecuted
		env.Emit(&event.OrderPlacedLog{
			Account:       acct.ID,
			MarketIndex:   i,
			OrderID:       res.OrderID,
			ClientOrderID: o.ClientOrderID,
			Side:          o.Side,
			OrderType:     o.OrderType,
			Price:         res.Price,
			Quantity:      qty,
			Filled:        res.Filled,
			Posted:        res.Posted,
			Disposition:   res.Disposition.String(),
		})
	}

	if err := acct.RemoveTriggerOrder(idx); err != nil {
		return Result{}, err
	}
	env.Emit(&event.TriggerOrderLog{Account: acct.ID, Index: idx, MarketIndex: i, Action: action})
	return res, nil
}

// simulatedHealthOK dry-runs the order. A simulation error, such as a
// crossing post-only order, counts as a failed check.
func simulatedHealthOK(env *host.Env, m *state.PerpMarket, acct *state.Account, hc *health.Cache,
	o state.TriggerOrder, qty int64, pre fpmath.I80F48, upOnly bool) bool {
	info := &env.Group.PerpMarkets[m.Index]
	tb, tq, bids, asks, err := simulate(m, info, env.Cache.Price(m.Index), o.Side, o.Price, qty, o.OrderType)
	if err != nil {
		return false
	}
	sim := hc.HealthAfterSimPerp(env.Group, env.Cache, acct, m.Index, state.Init, tb, tq, bids, asks)
	return !sim.IsNegative() || (upOnly && sim.Gte(pre))
}

func clearTriggers(env *host.Env, acct *state.Account, market int) {
	acct.ClearTriggerOrders()
	env.Emit(&event.TriggerOrderLog{Account: acct.ID, Index: -1, MarketIndex: market, Action: TriggerCleared})
}
