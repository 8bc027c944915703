package core

import (
	"fmt"

	"github.com/google/uuid"

	"LyraeLedger/internal/event"
	"LyraeLedger/internal/funding"
	"LyraeLedger/internal/intent"
	"LyraeLedger/internal/ledger"
	"LyraeLedger/internal/liquidation"
	"LyraeLedger/internal/matching"
	"LyraeLedger/internal/state"
)

// dispatch runs the handler for in. Account operations need the owner or
// delegate as signer; cranks, deposits, settlement, force cancels and
// trigger execution may be signed by anyone.
func (e *Engine) dispatch(tx *txn, in intent.Intent) (Result, error) {
	env := tx.env
	signer := in.Signer()

	switch x := in.(type) {
	case *intent.CreateAccount:
		return e.createAccount(tx, x)

	case *intent.SetDelegate:
		a, err := tx.account(x.Account)
		if err != nil {
			return Result{}, err
		}
		if a.Owner != signer {
			return Result{}, fmt.Errorf("%w: %s does not own %s", state.ErrInvalidOwner, signer, a.ID)
		}
		a.Delegate = x.Delegate
		return Result{}, nil

	case *intent.Deposit:
		a, err := tx.account(x.Account)
		if err != nil {
			return Result{}, err
		}
		return Result{}, ledger.Deposit(env, a, x.Token, x.Quantity)

	case *intent.Withdraw:
		a, err := tx.authorized(x.Account, signer)
		if err != nil {
			return Result{}, err
		}
		n, err := ledger.Withdraw(env, a, x.Token, x.Quantity, x.AllowBorrow)
		return Result{Detail: n}, err

	case *intent.UpdateMarginBasket:
		a, err := tx.account(x.Account)
		if err != nil {
			return Result{}, err
		}
		ledger.UpdateMarginBasket(env, a)
		return Result{}, nil

	case *intent.CachePrices:
		if e.oracle == nil {
			return Result{}, fmt.Errorf("%w: no oracle configured", state.ErrInvalidParam)
		}
		return Result{}, ledger.CachePrices(env, e.oracle, x.Indexes)

	case *intent.CacheRootBanks:
		return Result{}, ledger.CacheRootBanks(env, x.Tokens)

	case *intent.CachePerpMarkets:
		markets := make([]*state.PerpMarket, 0, len(x.Markets))
		for _, i := range x.Markets {
			m, err := tx.market(i)
			if err != nil {
				return Result{}, err
			}
			markets = append(markets, m)
		}
		return Result{}, ledger.CachePerpMarkets(env, markets)

	case *intent.UpdateRootBank:
		return Result{}, ledger.UpdateRootBank(env, x.Token)

	case *intent.UpdateFunding:
		m, err := tx.market(x.Market)
		if err != nil {
			return Result{}, err
		}
		return Result{}, funding.Update(env.Group, env.Cache, m, env.Now, env.Sink)

	case *intent.ConsumeEvents:
		m, err := tx.market(x.Market)
		if err != nil {
			return Result{}, err
		}
		supplied := make(map[uuid.UUID]bool, len(x.Accounts))
		for _, id := range x.Accounts {
			supplied[id] = true
		}
		res, err := matching.ConsumeEvents(env, m, func(id uuid.UUID) (*state.Account, bool) {
			if !supplied[id] {
				return nil, false
			}
			return tx.lookup(id)
		}, x.Limit)
		return Result{Detail: res}, err

	case *intent.PlacePerpOrder:
		return e.placePerpOrder(tx, x)

	case *intent.CancelPerpOrder:
		a, m, err := tx.accountAndMarket(x.Account, signer, x.Market)
		if err != nil {
			return Result{}, err
		}
		return Result{}, matching.CancelPerpOrder(env, m, a, x.OrderID, x.InvalidIDOK)

	case *intent.CancelPerpOrderByClientID:
		a, m, err := tx.accountAndMarket(x.Account, signer, x.Market)
		if err != nil {
			return Result{}, err
		}
		return Result{}, matching.CancelPerpOrderByClientID(env, m, a, x.ClientOrderID, x.InvalidIDOK)

	case *intent.CancelAllPerpOrders:
		a, m, err := tx.accountAndMarket(x.Account, signer, x.Market)
		if err != nil {
			return Result{}, err
		}
		return Result{}, matching.CancelAllPerpOrders(env, m, a, x.Limit)

	case *intent.CancelPerpOrdersSide:
		a, m, err := tx.accountAndMarket(x.Account, signer, x.Market)
		if err != nil {
			return Result{}, err
		}
		return Result{}, matching.CancelPerpOrdersSide(env, m, a, x.Side, x.Limit)

	case *intent.ForceCancelPerpOrders:
		m, err := tx.market(x.Market)
		if err != nil {
			return Result{}, err
		}
		liqee, err := tx.account(x.Liqee)
		if err != nil {
			return Result{}, err
		}
		n, err := liquidation.ForceCancelPerpOrders(env, m, liqee, x.Limit)
		return Result{Detail: n}, err

	case *intent.AddPerpTriggerOrder:
		a, err := tx.authorized(x.Account, signer)
		if err != nil {
			return Result{}, err
		}
		o, err := x.Order()
		if err != nil {
			return Result{}, err
		}
		idx, err := matching.AddTriggerOrder(env, a, o)
		return Result{Detail: idx}, err

	case *intent.RemoveAdvancedOrder:
		a, err := tx.authorized(x.Account, signer)
		if err != nil {
			return Result{}, err
		}
		return Result{}, matching.RemoveTriggerOrder(env, a, x.Index)

	case *intent.ExecutePerpTriggerOrder:
		return e.executeTrigger(tx, x)

	case *intent.SettlePnl:
		a, err := tx.account(x.AccountA)
		if err != nil {
			return Result{}, err
		}
		b, err := tx.account(x.AccountB)
		if err != nil {
			return Result{}, err
		}
		settled, err := ledger.SettlePnl(env, a, b, x.Market)
		return Result{Detail: settled}, err

	case *intent.SettleFees:
		a, err := tx.account(x.Account)
		if err != nil {
			return Result{}, err
		}
		m, err := tx.market(x.Market)
		if err != nil {
			return Result{}, err
		}
		settled, err := ledger.SettleFees(env, m, a)
		return Result{Detail: settled}, err

	case *intent.SettleSpotFunds:
		a, err := tx.authorized(x.Account, signer)
		if err != nil {
			return Result{}, err
		}
		return Result{}, ledger.SettleSpotFunds(env, a, x.Market)

	case *intent.RedeemIncentives:
		a, m, err := tx.accountAndMarket(x.Account, signer, x.Market)
		if err != nil {
			return Result{}, err
		}
		n, err := ledger.RedeemIncentives(env, m, a)
		return Result{Detail: n}, err

	case *intent.LiquidateTokenAndToken:
		liqee, liqor, err := tx.liquidationPair(x.Liqee, x.Liqor, signer)
		if err != nil {
			return Result{}, err
		}
		return Result{}, liquidation.LiquidateTokenAndToken(env, liqee, liqor, x.Asset, x.Liab, x.MaxLiab)

	case *intent.LiquidateTokenAndPerp:
		liqee, liqor, err := tx.liquidationPair(x.Liqee, x.Liqor, signer)
		if err != nil {
			return Result{}, err
		}
		return Result{}, liquidation.LiquidateTokenAndPerp(env, liqee, liqor, x.AssetType, x.Asset, x.LiabType, x.Liab, x.MaxLiab)

	case *intent.LiquidatePerpMarket:
		liqee, liqor, err := tx.liquidationPair(x.Liqee, x.Liqor, signer)
		if err != nil {
			return Result{}, err
		}
		m, err := tx.market(x.Market)
		if err != nil {
			return Result{}, err
		}
		return Result{}, liquidation.LiquidatePerpMarket(env, m, liqee, liqor, x.BaseTransferRequest)

	case *intent.ResolvePerpBankruptcy:
		liqee, liqor, err := tx.liquidationPair(x.Liqee, x.Liqor, signer)
		if err != nil {
			return Result{}, err
		}
		m, err := tx.market(x.Market)
		if err != nil {
			return Result{}, err
		}
		return Result{}, liquidation.ResolvePerpBankruptcy(env, m, liqee, liqor, e.fund, x.MaxLiab)

	case *intent.ResolveTokenBankruptcy:
		liqee, liqor, err := tx.liquidationPair(x.Liqee, x.Liqor, signer)
		if err != nil {
			return Result{}, err
		}
		return Result{}, liquidation.ResolveTokenBankruptcy(env, liqee, liqor, e.fund, x.Liab, x.MaxLiab)
	}
	return Result{}, fmt.Errorf("%w: unhandled intent type %s", state.ErrInvalidParam, in.Type())
}

func (e *Engine) createAccount(tx *txn, x *intent.CreateAccount) (Result, error) {
	owner := x.Owner
	if owner == uuid.Nil {
		owner = x.Signer()
	}
	if owner == uuid.Nil {
		return Result{}, fmt.Errorf("%w: account needs an owner", state.ErrInvalidOwner)
	}
	id := x.AccountID()
	if _, exists := e.accounts[id]; exists {
		return Result{}, fmt.Errorf("%w: %s already exists", state.ErrInvalidAccount, id)
	}
	tx.create(state.NewAccount(id, owner))
	tx.env.Emit(&event.AccountCreatedLog{Account: id, Owner: owner})
	return Result{Account: id}, nil
}

func (e *Engine) placePerpOrder(tx *txn, x *intent.PlacePerpOrder) (Result, error) {
	a, m, err := tx.accountAndMarket(x.Account, x.Signer(), x.Market)
	if err != nil {
		return Result{}, err
	}
	var referrer *state.Account
	if x.Referrer != uuid.Nil {
		if referrer, err = tx.account(x.Referrer); err != nil {
			return Result{}, fmt.Errorf("referrer: %w", err)
		}
	}
	res, err := matching.PlacePerpOrder(tx.env, m, a, referrer, matching.PlaceParams{
		Side:          x.Side,
		Price:         x.Price,
		Quantity:      x.Quantity,
		Type:          x.OrderType,
		ClientOrderID: x.ClientOrderID,
		ReduceOnly:    x.ReduceOnly,
	})
	return Result{Detail: res}, err
}

func (e *Engine) executeTrigger(tx *txn, x *intent.ExecutePerpTriggerOrder) (Result, error) {
	a, err := tx.account(x.Account)
	if err != nil {
		return Result{}, err
	}
	if x.Index < 0 || x.Index >= state.MaxAdvancedOrders || !a.AdvancedOrders[x.Index].Active {
		return Result{}, fmt.Errorf("%w: no trigger order at %d", state.ErrInvalidParam, x.Index)
	}
	m, err := tx.market(int(a.AdvancedOrders[x.Index].MarketIndex))
	if err != nil {
		return Result{}, err
	}
	res, err := matching.ExecuteTriggerOrder(tx.env, m, a, x.Index)
	return Result{Detail: res}, err
}

func (tx *txn) accountAndMarket(id, signer uuid.UUID, market int) (*state.Account, *state.PerpMarket, error) {
	a, err := tx.authorized(id, signer)
	if err != nil {
		return nil, nil, err
	}
	m, err := tx.market(market)
	if err != nil {
		return nil, nil, err
	}
	return a, m, nil
}

// liquidationPair resolves a distinct liqee and liqor; the signer must own
// or be delegated the liqor.
func (tx *txn) liquidationPair(liqeeID, liqorID, signer uuid.UUID) (*state.Account, *state.Account, error) {
	if liqeeID == liqorID {
		return nil, nil, fmt.Errorf("%w: liqee and liqor are the same account", state.ErrInvalidParam)
	}
	liqor, err := tx.authorized(liqorID, signer)
	if err != nil {
		return nil, nil, fmt.Errorf("liqor: %w", err)
	}
	liqee, err := tx.account(liqeeID)
	if err != nil {
		return nil, nil, fmt.Errorf("liqee: %w", err)
	}
	return liqee, liqor, nil
}
