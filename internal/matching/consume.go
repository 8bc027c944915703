package matching

import (
	"LyraeLedger/internal/book"
	"LyraeLedger/internal/event"
	"LyraeLedger/internal/funding"
	"LyraeLedger/internal/host"
	fpmath "LyraeLedger/internal/math"
	"LyraeLedger/internal/queue"
	"LyraeLedger/internal/state"

	"github.com/google/uuid"
)

// MaxConsume bounds the events applied by one ConsumeEvents call.
const MaxConsume = 4

// Accounts resolves an account id to its state. ok is false if the caller
// did not supply it.
type Accounts func(id uuid.UUID) (acct *state.Account, ok bool)

// ConsumeResult reports how far a ConsumeEvents call got. Missing is set
// when it stopped at an event whose account was not supplied.
type ConsumeResult struct {
	Consumed int
	Missing  uuid.UUID
}

// ConsumeEvents applies up to limit events from the front of m's queue to
// the accounts they name. It stops without error at the first event whose
// account is missing, leaving that event queued.
func ConsumeEvents(env *host.Env, m *state.PerpMarket, accounts Accounts, limit int) (ConsumeResult, error) {
	var res ConsumeResult
	i := m.Index
	if err := env.Cache.CheckPerpMarket(env.Group, i, env.Now); err != nil {
		return res, err
	}
	limit = min(limit, MaxConsume)

	for res.Consumed < limit {
		e, ok := m.Events.PeekFront()
		if !ok {
			break
		}
		switch e.Type {
		case queue.EventFill:
			f := e.Fill
			maker, ok := accounts(f.Maker)
			if !ok {
				res.Missing = f.Maker
				return res, nil
			}
			taker, ok := accounts(f.Taker)
			if !ok {
				res.Missing = f.Taker
				return res, nil
			}
			reward, err := executeMaker(env, m, maker, f)
			if err != nil {
				return res, err
			}
			executeTaker(env, m, taker, f)

			if reward > 0 {
				env.Emit(&event.IncentiveAccrualLog{Account: maker.ID, MarketIndex: i, Accrued: reward})
			}
			env.Emit(event.PerpBalance(maker, i))
			env.Emit(event.PerpBalance(taker, i))
			env.Emit(fillLog(i, f))

		case queue.EventOut:
			o := e.Out
			owner, ok := accounts(o.Owner)
			if !ok {
				res.Missing = o.Owner
				return res, nil
			}
			if err := owner.RemoveOrder(int(o.OwnerSlot), o.Quantity); err != nil {
				return res, err
			}

		case queue.EventLiquidate:
			// Audit only; balances moved when the liquidation ran.
		}
		m.Events.PopFront()
		res.Consumed++
	}
	return res, nil
}

// executeMaker settles the resting side of a fill. A maker whose order left
// the book frees its slot; otherwise only the resting total shrinks.
func executeMaker(env *host.Env, m *state.PerpMarket, acct *state.Account, f *queue.FillEvent) (uint64, error) {
	i := m.Index
	info := &env.Group.PerpMarkets[i]
	funding.Settle(env.Cache, acct, i)
	pa := &acct.Perps[i]

	side := f.TakerSide.Invert()
	base, quote := f.BaseQuoteChange(side)
	pa.ChangeBasePosition(m, base)
	applyQuote(m, pa, info, quote, f.MakerFee)

	if f.MakerOut {
		if err := acct.RemoveOrder(int(f.MakerSlot), abs64(base)); err != nil {
			return 0, err
		}
	} else if side == book.Bid {
		pa.BidsQuantity -= abs64(base)
	} else {
		pa.AsksQuantity -= abs64(base)
	}

	o := book.Order{
		Key:         f.MakerOrderID,
		Timestamp:   f.MakerTimestamp,
		BestInitial: f.BestInitial,
		Version:     f.Version,
	}
	bestFinal := ForVersion(m.Version).BestFinalOnFill(f.Price)
	return payIncentive(m, pa, side, &o, bestFinal, f.Quantity, f.Timestamp), nil
}

// executeTaker turns the taker's pending trade for this fill into position.
func executeTaker(env *host.Env, m *state.PerpMarket, acct *state.Account, f *queue.FillEvent) {
	i := m.Index
	info := &env.Group.PerpMarkets[i]
	funding.Settle(env.Cache, acct, i)
	pa := &acct.Perps[i]

	base, quote := f.BaseQuoteChange(f.TakerSide)
	pa.RemoveTakerTrade(base, quote)
	pa.ChangeBasePosition(m, base)
	applyQuote(m, pa, info, quote, f.TakerFee)
}

// applyQuote credits quote lots net of the fee rate, which is charged on
// the absolute notional and accrues to the market. A negative rate is a
// rebate.
func applyQuote(m *state.PerpMarket, pa *state.PerpAccount, info *state.PerpMarketInfo, quoteLots int64, rate fpmath.I80F48) {
	q := fpmath.FromInt(quoteLots).MulInt(info.QuoteLotSize)
	fees := q.Abs().Mul(rate)
	m.FeesAccrued = m.FeesAccrued.Add(fees)
	pa.QuotePosition = pa.QuotePosition.Add(q).Sub(fees)
}

func fillLog(i int, f *queue.FillEvent) *event.FillLog {
	return &event.FillLog{
		MarketIndex:        i,
		TakerSide:          f.TakerSide,
		MakerSlot:          f.MakerSlot,
		MakerOut:           f.MakerOut,
		Timestamp:          f.Timestamp,
		Seq:                f.Seq,
		Maker:              f.Maker,
		MakerOrderID:       f.MakerOrderID,
		MakerClientOrderID: f.MakerClientOrderID,
		MakerFee:           f.MakerFee,
		BestInitial:        f.BestInitial,
		MakerTimestamp:     f.MakerTimestamp,
		Taker:              f.Taker,
		TakerOrderID:       f.TakerOrderID,
		TakerClientOrderID: f.TakerClientOrderID,
		TakerFee:           f.TakerFee,
		Price:              f.Price,
		Quantity:           f.Quantity,
	}
}
