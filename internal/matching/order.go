// Package matching places perp orders against the book, cancels them, pays
// liquidity-mining incentives and applies the event queue to accounts.
package matching

import (
	"fmt"
	gomath "math"

	"LyraeLedger/internal/book"
	"LyraeLedger/internal/host"
	fpmath "LyraeLedger/internal/math"
	"LyraeLedger/internal/queue"
	"LyraeLedger/internal/state"
)

// Disposition is what happened to a new order.
type Disposition uint8

const (
	// Filled means the whole quantity matched.
	Filled Disposition = iota
	// Posted means nothing matched and the whole quantity rests.
	Posted
	// PartiallyPosted means some quantity matched and the rest rests.
	PartiallyPosted
	// Discarded means the unmatched remainder was dropped: the order was
	// IOC or market, or its price was outside the oracle band. Some
	// quantity may have matched.
	Discarded
	// Rejected means a post-only order would have crossed. Nothing changed.
	Rejected
)

func (d Disposition) String() string {
	switch d {
	case Filled:
		return "filled"
	case Posted:
		return "posted"
	case PartiallyPosted:
		return "partially_posted"
	case Discarded:
		return "discarded"
	case Rejected:
		return "rejected"
	}
	return fmt.Sprintf("Disposition(%d)", uint8(d))
}

// Result is the outcome of one order.
type Result struct {
	Disposition Disposition
	OrderID     book.OrderKey
	// Price is the limit after order-type adjustment, in lots.
	Price     int64
	Filled    int64
	QuoteLots int64
	Posted    int64
	Fills     int
}

type match struct {
	maker book.Order
	qty   int64
}

// plan is a matching pass computed without touching the book, so that a
// rejection leaves no trace and a dry run shares the same code.
type plan struct {
	side        book.Side
	price       int64
	quantity    int64
	postOnly    bool
	postAllowed bool
	crossed     bool

	matches   []match
	remaining int64
	quoteLots int64
	evict     *book.Order
}

func planOrder(b *book.Book, info *state.PerpMarketInfo, oracle fpmath.I80F48,
	side book.Side, price, quantity int64, typ book.OrderType) (*plan, error) {
	if quantity <= 0 {
		return nil, fmt.Errorf("%w: quantity %d", state.ErrInvalidParam, quantity)
	}
	p := &plan{side: side, quantity: quantity}
	opposite := side.Invert()

	switch typ {
	case book.Limit:
		p.postAllowed = true
	case book.ImmediateOrCancel:
	case book.PostOnly:
		p.postOnly, p.postAllowed = true, true
	case book.Market:
		if side == book.Bid {
			price = gomath.MaxInt64
		} else {
			price = 1
		}
	case book.PostOnlySlide:
		if best, ok := b.BestPrice(opposite); ok {
			if side == book.Bid {
				price = min(price, best-1)
			} else {
				price = max(price, best+1)
			}
		}
		p.postOnly, p.postAllowed = true, true
	default:
		return nil, fmt.Errorf("%w: order type %d", state.ErrInvalidParam, typ)
	}
	if price <= 0 {
		return nil, fmt.Errorf("%w: price %d", state.ErrInvalidParam, price)
	}
	p.price = price

	if p.postAllowed && !withinOracleBand(info, oracle, side, price) {
		p.postAllowed = false
	}

	rem := quantity
	overflow := false
	b.Side(opposite).Iter(func(o book.Order) bool {
		if !crosses(side, price, o.Price()) {
			return false
		}
		if p.postOnly {
			p.crossed = true
			p.postAllowed = false
			return false
		}
		qty := min(rem, o.Quantity)
		notional, ok := fpmath.CheckedMulLots(qty, o.Price())
		if ok {
			notional, ok = fpmath.CheckedAddLots(p.quoteLots, notional)
		}
		if !ok {
			overflow = true
			return false
		}
		p.matches = append(p.matches, match{maker: o, qty: qty})
		rem -= qty
		p.quoteLots = notional
		return rem > 0
	})
	if overflow {
		return nil, fmt.Errorf("%w: quote lots of %d at %d leave int64", state.ErrMath, quantity, price)
	}
	p.remaining = rem

	if p.posted() > 0 {
		own := b.Side(side)
		if !own.HasRoom() {
			worst, ok := worstOrder(own)
			if !ok || !better(side, price, worst.Price()) {
				return nil, fmt.Errorf("%w: %s side full", state.ErrOutOfSpace, side)
			}
			p.evict = &worst
		}
	}
	return p, nil
}

// withinOracleBand keeps resting bids at or below the oracle price times
// the maintenance liability weight and asks at or above it times the
// maintenance asset weight.
func withinOracleBand(info *state.PerpMarketInfo, oracle fpmath.I80F48, side book.Side, price int64) bool {
	if !oracle.IsPositive() {
		return false
	}
	ratio := info.LotToNativePrice(price).Div(oracle)
	if side == book.Bid {
		return ratio.Lte(info.MaintLiabWeight)
	}
	return ratio.Gte(info.MaintAssetWeight)
}

// crosses reports whether an order on side at price trades with a resting
// order at other.
func crosses(side book.Side, price, other int64) bool {
	if side == book.Bid {
		return price >= other
	}
	return price <= other
}

// better reports whether price strictly outranks other on side.
func better(side book.Side, price, other int64) bool {
	if side == book.Bid {
		return price > other
	}
	return price < other
}

func worstOrder(s *book.BookSide) (book.Order, bool) {
	if s.Side() == book.Bid {
		return s.Min()
	}
	return s.Max()
}

func (p *plan) filled() int64 { return p.quantity - p.remaining }

func (p *plan) posted() int64 {
	if p.postAllowed {
		return p.remaining
	}
	return 0
}

func (p *plan) disposition() Disposition {
	switch {
	case p.crossed:
		return Rejected
	case p.remaining == 0:
		return Filled
	case p.posted() > 0 && p.filled() > 0:
		return PartiallyPosted
	case p.posted() > 0:
		return Posted
	}
	return Discarded
}

// takerDeltas are the lot changes to the taker's pending trade and resting
// quantities if the plan were committed.
func (p *plan) takerDeltas() (takerBase, takerQuote, bids, asks int64) {
	if p.side == book.Bid {
		return p.filled(), -p.quoteLots, p.posted(), 0
	}
	return -p.filled(), p.quoteLots, 0, p.posted()
}

// checkRoom fails before any mutation if the queue cannot take the plan's
// events or the account has no order slot for the posted remainder.
func (p *plan) checkRoom(m *state.PerpMarket, acct *state.Account) error {
	need := len(p.matches)
	if p.evict != nil {
		need++
	}
	if free := m.Events.Capacity() - m.Events.Len(); need > free {
		return fmt.Errorf("%w: event queue needs %d, has %d", state.ErrOutOfSpace, need, free)
	}
	if p.posted() > 0 {
		if _, ok := acct.NextOrderSlot(); !ok {
			return state.ErrTooManyOpenOrders
		}
	}
	return nil
}

func (p *plan) commit(m *state.PerpMarket, info *state.PerpMarketInfo, acct *state.Account,
	typ book.OrderType, clientID uint64, now int64) (Result, error) {
	res := Result{Disposition: p.disposition(), Price: p.price}
	if p.crossed {
		return res, nil
	}
	key := book.NewOrderKey(p.side, p.price, m.NextSeq())
	res.OrderID = key

	opposite := m.Book.Side(p.side.Invert())
	for _, mt := range p.matches {
		left := mt.maker.Quantity - mt.qty
		_, err := m.Events.PushBack(queue.NewFill(queue.FillEvent{
			TakerSide:          p.side,
			Timestamp:          now,
			Maker:              mt.maker.Owner,
			MakerSlot:          mt.maker.OwnerSlot,
			MakerOut:           left == 0,
			MakerOrderID:       mt.maker.Key,
			MakerClientOrderID: mt.maker.ClientOrderID,
			MakerFee:           info.MakerFee,
			MakerTimestamp:     mt.maker.Timestamp,
			BestInitial:        mt.maker.BestInitial,
			Version:            mt.maker.Version,
			Taker:              acct.ID,
			TakerOrderID:       key,
			TakerClientOrderID: clientID,
			TakerFee:           info.TakerFee,
			Price:              mt.maker.Price(),
			Quantity:           mt.qty,
		}))
		if err != nil {
			return res, fmt.Errorf("%w: %v", state.ErrOutOfSpace, err)
		}
		if left == 0 {
			opposite.Remove(mt.maker.Key)
		} else {
			opposite.SetQuantity(mt.maker.Key, left)
		}
	}

	own := m.Book.Side(p.side)
	if p.evict != nil {
		own.Remove(p.evict.Key)
		_, err := m.Events.PushBack(queue.NewOut(queue.OutEvent{
			Side:      p.side,
			Owner:     p.evict.Owner,
			OwnerSlot: p.evict.OwnerSlot,
			Quantity:  p.evict.Quantity,
			Timestamp: now,
		}))
		if err != nil {
			return res, fmt.Errorf("%w: %v", state.ErrOutOfSpace, err)
		}
	}

	if qty := p.posted(); qty > 0 {
		slot, ok := acct.NextOrderSlot()
		if !ok {
			return res, state.ErrTooManyOpenOrders
		}
		o := book.Order{
			Key:           key,
			Owner:         acct.ID,
			OwnerSlot:     uint8(slot),
			Quantity:      qty,
			ClientOrderID: clientID,
			Timestamp:     now,
			BestInitial:   ForVersion(m.Version).BestInitial(m.Book, p.side, p.price, &m.LM),
			Version:       m.Version,
			OrderType:     typ,
		}
		if err := own.Insert(o); err != nil {
			return res, fmt.Errorf("%w: %v", state.ErrOutOfSpace, err)
		}
		if err := acct.AddOrder(m.Index, p.side, &o); err != nil {
			return res, err
		}
		res.Posted = qty
	}

	if p.quoteLots > 0 {
		base, quote, _, _ := p.takerDeltas()
		acct.Perps[m.Index].AddTakerTrade(base, quote)
	}
	res.Filled = p.filled()
	res.QuoteLots = p.quoteLots
	res.Fills = len(p.matches)
	return res, nil
}

// NewOrder matches an order from acct against market m and rests the
// remainder when the order type allows it. Makers are settled later from
// the queued fills; the taker's matched lots are held as a pending taker
// trade until then. Health is the caller's concern.
func NewOrder(env *host.Env, m *state.PerpMarket, acct *state.Account, side book.Side,
	price, quantity int64, typ book.OrderType, clientID uint64) (Result, error) {
	info := &env.Group.PerpMarkets[m.Index]
	p, err := planOrder(m.Book, info, env.Cache.Price(m.Index), side, price, quantity, typ)
	if err != nil {
		return Result{}, err
	}
	if err := p.checkRoom(m, acct); err != nil {
		return Result{}, err
	}
	return p.commit(m, info, acct, typ, clientID, env.Now)
}

// SimNewBid returns the changes a bid would make to the taker's pending
// base and quote lots and resting bid quantity, without placing it.
func SimNewBid(m *state.PerpMarket, info *state.PerpMarketInfo, oracle fpmath.I80F48,
	price, quantity int64, typ book.OrderType) (takerBase, takerQuote, bids, asks int64, err error) {
	return simulate(m, info, oracle, book.Bid, price, quantity, typ)
}

// SimNewAsk is SimNewBid for asks.
func SimNewAsk(m *state.PerpMarket, info *state.PerpMarketInfo, oracle fpmath.I80F48,
	price, quantity int64, typ book.OrderType) (takerBase, takerQuote, bids, asks int64, err error) {
	return simulate(m, info, oracle, book.Ask, price, quantity, typ)
}

func simulate(m *state.PerpMarket, info *state.PerpMarketInfo, oracle fpmath.I80F48,
	side book.Side, price, quantity int64, typ book.OrderType) (int64, int64, int64, int64, error) {
	p, err := planOrder(m.Book, info, oracle, side, price, quantity, typ)
	if err != nil {
		return 0, 0, 0, 0, err
	}
	if p.crossed {
		return 0, 0, 0, 0, state.ErrPostOnly
	}
	tb, tq, bids, asks := p.takerDeltas()
	return tb, tq, bids, asks, nil
}
