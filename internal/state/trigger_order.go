package state

import (
	"fmt"

	"LyraeLedger/internal/book"
	fpmath "LyraeLedger/internal/math"
)

type TriggerCondition uint8

const (
	TriggerAbove TriggerCondition = iota
	TriggerBelow
)

func (c TriggerCondition) String() string {
	if c == TriggerBelow {
		return "below"
	}
	return "above"
}

func ParseTriggerCondition(s string) (TriggerCondition, error) {
	switch s {
	case "above":
		return TriggerAbove, nil
	case "below":
		return TriggerBelow, nil
	}
	return TriggerAbove, fmt.Errorf("%w: trigger condition %q", ErrInvalidParam, s)
}

func (c TriggerCondition) MarshalText() ([]byte, error) { return []byte(c.String()), nil }

func (c *TriggerCondition) UnmarshalText(text []byte) error {
	v, err := ParseTriggerCondition(string(text))
	if err != nil {
		return err
	}
	*c = v
	return nil
}

// TriggerOrder is a stored perp order that becomes placeable once the
// oracle price crosses TriggerPrice.
type TriggerOrder struct {
	Active        bool             `json:"active"`
	MarketIndex   uint8            `json:"market_index"`
	Side          book.Side        `json:"side"`
	OrderType     book.OrderType   `json:"order_type"`
	Condition     TriggerCondition `json:"condition"`
	ReduceOnly    bool             `json:"reduce_only"`
	ClientOrderID uint64           `json:"client_order_id"`
	Price         int64            `json:"price"`
	Quantity      int64            `json:"quantity"`
	TriggerPrice  fpmath.I80F48    `json:"trigger_price"`
}

// Triggered reports whether price satisfies the condition.
func (o *TriggerOrder) Triggered(price fpmath.I80F48) bool {
	if o.Condition == TriggerAbove {
		return price.Gte(o.TriggerPrice)
	}
	return price.Lte(o.TriggerPrice)
}

// AddTriggerOrder stores o in the first inactive slot.
func (a *Account) AddTriggerOrder(o TriggerOrder) (int, error) {
	for i := range a.AdvancedOrders {
		if !a.AdvancedOrders[i].Active {
			o.Active = true
			a.AdvancedOrders[i] = o
			return i, nil
		}
	}
	return 0, fmt.Errorf("%w: advanced orders", ErrOutOfSpace)
}

func (a *Account) RemoveTriggerOrder(i int) error {
	if i < 0 || i >= MaxAdvancedOrders {
		return fmt.Errorf("%w: advanced order index %d", ErrInvalidParam, i)
	}
	a.AdvancedOrders[i] = TriggerOrder{}
	return nil
}

// ClearTriggerOrders deactivates every stored trigger order.
func (a *Account) ClearTriggerOrders() {
	for i := range a.AdvancedOrders {
		a.AdvancedOrders[i] = TriggerOrder{}
	}
}
