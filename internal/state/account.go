package state

import (
	"fmt"

	"LyraeLedger/internal/book"
	fpmath "LyraeLedger/internal/math"

	"github.com/google/uuid"
)

// PerpAccount is an account's position in one perp market. Quote values are
// native quote units; base values are base lots.
type PerpAccount struct {
	BasePosition        int64         `json:"base_position"`
	QuotePosition       fpmath.I80F48 `json:"quote_position"`
	LongSettledFunding  fpmath.I80F48 `json:"long_settled_funding"`
	ShortSettledFunding fpmath.I80F48 `json:"short_settled_funding"`
	BidsQuantity        int64         `json:"bids_quantity"`
	AsksQuantity        int64         `json:"asks_quantity"`
	// TakerBase and TakerQuote hold matched but unconsumed taker fills, in lots.
	TakerBase  int64 `json:"taker_base"`
	TakerQuote int64 `json:"taker_quote"`
	// IncentiveAccrued is the liquidity-mining reward in native reward token.
	IncentiveAccrued uint64 `json:"incentive_accrued"`
}

// IsActive reports whether the position contributes to health.
func (p *PerpAccount) IsActive() bool {
	return p.BasePosition != 0 || !p.QuotePosition.IsZero() ||
		p.BidsQuantity != 0 || p.AsksQuantity != 0 ||
		p.TakerBase != 0 || p.TakerQuote != 0
}

func (p *PerpAccount) HasNoOpenOrders() bool {
	return p.BidsQuantity == 0 && p.AsksQuantity == 0
}

// ChangeBasePosition moves the base position and keeps the market's open
// interest equal to the sum of absolute positions.
func (p *PerpAccount) ChangeBasePosition(m *PerpMarket, delta int64) {
	start := p.BasePosition
	p.BasePosition += delta
	m.OpenInterest += abs64(p.BasePosition) - abs64(start)
}

func (p *PerpAccount) AddTakerTrade(base, quote int64) {
	p.TakerBase = fpmath.AddLots(p.TakerBase, base)
	p.TakerQuote = fpmath.AddLots(p.TakerQuote, quote)
}

func (p *PerpAccount) RemoveTakerTrade(base, quote int64) {
	p.TakerBase -= base
	p.TakerQuote -= quote
}

// UnsettledFunding is what the position owes for funding accrued since its
// last settlement. Positive means it pays.
func (p *PerpAccount) UnsettledFunding(c *PerpMarketCache) fpmath.I80F48 {
	switch {
	case p.BasePosition > 0:
		return fpmath.ComputeFundingPayment(c.LongFunding, p.LongSettledFunding, p.BasePosition)
	case p.BasePosition < 0:
		return fpmath.ComputeFundingPayment(c.ShortFunding, p.ShortSettledFunding, p.BasePosition)
	}
	return fpmath.Zero
}

// SettleFunding realizes unsettled funding into the quote position and
// advances both snapshots. A second call without a funding update is a no-op.
func (p *PerpAccount) SettleFunding(c *PerpMarketCache) {
	p.QuotePosition = p.QuotePosition.Sub(p.UnsettledFunding(c))
	p.LongSettledFunding = c.LongFunding
	p.ShortSettledFunding = c.ShortFunding
}

// TransferQuotePosition moves quantity of quote position from p to other.
func (p *PerpAccount) TransferQuotePosition(other *PerpAccount, quantity fpmath.I80F48) {
	p.QuotePosition = p.QuotePosition.Sub(quantity)
	other.QuotePosition = other.QuotePosition.Add(quantity)
}

// Pnl is the quote position plus the oracle value of the base position.
func (p *PerpAccount) Pnl(info *PerpMarketInfo, price fpmath.I80F48) fpmath.I80F48 {
	base := fpmath.FromInt(p.BasePosition).MulInt(info.BaseLotSize).Mul(price)
	return p.QuotePosition.Add(base)
}

// Account is a user's margin account. Arrays are fixed size so a copy of the
// struct is a full snapshot.
type Account struct {
	ID       uuid.UUID `json:"id"`
	Owner    uuid.UUID `json:"owner"`
	Delegate uuid.UUID `json:"delegate"`

	InMarginBasket [MaxPairs]bool           `json:"in_margin_basket"`
	Deposits       [MaxTokens]fpmath.I80F48 `json:"deposits"`
	Borrows        [MaxTokens]fpmath.I80F48 `json:"borrows"`
	Perps          [MaxPairs]PerpAccount    `json:"perps"`

	OrderMarket    [MaxPerpOpenOrders]uint8         `json:"order_market"`
	OrderSide      [MaxPerpOpenOrders]book.Side     `json:"order_side"`
	Orders         [MaxPerpOpenOrders]book.OrderKey `json:"orders"`
	ClientOrderIDs [MaxPerpOpenOrders]uint64        `json:"client_order_ids"`

	AdvancedOrders [MaxAdvancedOrders]TriggerOrder `json:"advanced_orders"`

	BeingLiquidated bool `json:"being_liquidated"`
	IsBankrupt      bool `json:"is_bankrupt"`
}

func NewAccount(id, owner uuid.UUID) *Account {
	a := &Account{ID: id, Owner: owner}
	for i := range a.OrderMarket {
		a.OrderMarket[i] = FreeOrderSlot
	}
	return a
}

func (a *Account) Clone() *Account {
	c := *a
	return &c
}

// IsOwnerOrDelegate reports whether signer may act for the account.
func (a *Account) IsOwnerOrDelegate(signer uuid.UUID) bool {
	return signer == a.Owner || (a.Delegate != uuid.Nil && signer == a.Delegate)
}

func (a *Account) NativeDeposit(c *RootBankCache, token int) fpmath.I80F48 {
	return a.Deposits[token].Mul(c.DepositIndex)
}

func (a *Account) NativeBorrow(c *RootBankCache, token int) fpmath.I80F48 {
	return a.Borrows[token].Mul(c.BorrowIndex)
}

// NativeNet is deposits minus borrows in native units.
func (a *Account) NativeNet(c *RootBankCache, token int) fpmath.I80F48 {
	if a.Deposits[token].IsPositive() {
		return a.NativeDeposit(c, token)
	}
	return a.NativeBorrow(c, token).Neg()
}

// NextOrderSlot returns the first free order slot.
func (a *Account) NextOrderSlot() (int, bool) {
	for i, m := range a.OrderMarket {
		if m == FreeOrderSlot {
			return i, true
		}
	}
	return 0, false
}

// AddOrder records a resting order in its owner slot and adds its quantity
// to the side total.
func (a *Account) AddOrder(market int, side book.Side, o *book.Order) error {
	slot := int(o.OwnerSlot)
	if a.OrderMarket[slot] != FreeOrderSlot {
		return fmt.Errorf("%w: order slot %d in use", ErrTooManyOpenOrders, slot)
	}
	pa := &a.Perps[market]
	if side == book.Bid {
		pa.BidsQuantity += o.Quantity
	} else {
		pa.AsksQuantity += o.Quantity
	}
	a.OrderMarket[slot] = uint8(market)
	a.OrderSide[slot] = side
	a.Orders[slot] = o.Key
	a.ClientOrderIDs[slot] = o.ClientOrderID
	return nil
}

// RemoveOrder frees slot and subtracts quantity from the side total.
func (a *Account) RemoveOrder(slot int, quantity int64) error {
	market := a.OrderMarket[slot]
	if market == FreeOrderSlot {
		return fmt.Errorf("%w: slot %d is free", ErrInvalidOrderID, slot)
	}
	pa := &a.Perps[market]
	if a.OrderSide[slot] == book.Bid {
		pa.BidsQuantity -= quantity
	} else {
		pa.AsksQuantity -= quantity
	}
	a.OrderMarket[slot] = FreeOrderSlot
	a.Orders[slot] = book.OrderKey{}
	a.ClientOrderIDs[slot] = 0
	return nil
}

// FindOrder returns the slot holding key on market.
func (a *Account) FindOrder(market int, key book.OrderKey) (int, bool) {
	for i := range a.Orders {
		if a.OrderMarket[i] == uint8(market) && a.Orders[i] == key {
			return i, true
		}
	}
	return 0, false
}

// FindOrderWithClientID returns the slot of the order with clientID on market.
func (a *Account) FindOrderWithClientID(market int, clientID uint64) (int, bool) {
	for i := range a.ClientOrderIDs {
		if a.OrderMarket[i] == uint8(market) && a.ClientOrderIDs[i] == clientID {
			return i, true
		}
	}
	return 0, false
}

// OpenOrders lists the slots with resting orders on market.
func (a *Account) OpenOrders(market int) []int {
	var slots []int
	for i, m := range a.OrderMarket {
		if m == uint8(market) {
			slots = append(slots, i)
		}
	}
	return slots
}

// HasNoOpenPerpOrders reports whether no active perp market has resting
// quantity.
func (a *Account) HasNoOpenPerpOrders(active *ActiveAssets) bool {
	for i := range a.Perps {
		if active.Perps[i] && !a.Perps[i].HasNoOpenOrders() {
			return false
		}
	}
	return true
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
