package book

import (
	"fmt"
	"math/big"
	"math/bits"

	"github.com/google/uuid"
)

// Side of the book an order rests on.
type Side uint8

const (
	Bid Side = iota
	Ask
)

func (s Side) String() string {
	switch s {
	case Bid:
		return "bid"
	case Ask:
		return "ask"
	default:
		return "unknown"
	}
}

// Invert returns the opposing side.
func (s Side) Invert() Side {
	if s == Bid {
		return Ask
	}
	return Bid
}

// ParseSide accepts "bid"/"buy" and "ask"/"sell".
func ParseSide(s string) (Side, error) {
	switch s {
	case "bid", "buy":
		return Bid, nil
	case "ask", "sell":
		return Ask, nil
	}
	return Bid, fmt.Errorf("unknown side %q", s)
}

func (s Side) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *Side) UnmarshalText(text []byte) error {
	v, err := ParseSide(string(text))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// OrderType controls how the unmatched remainder of an order is handled.
type OrderType uint8

const (
	Limit OrderType = iota
	ImmediateOrCancel
	PostOnly
	Market
	PostOnlySlide
)

func (t OrderType) String() string {
	switch t {
	case Limit:
		return "limit"
	case ImmediateOrCancel:
		return "ioc"
	case PostOnly:
		return "post_only"
	case Market:
		return "market"
	case PostOnlySlide:
		return "post_only_slide"
	default:
		return "unknown"
	}
}

func ParseOrderType(s string) (OrderType, error) {
	for _, t := range []OrderType{Limit, ImmediateOrCancel, PostOnly, Market, PostOnlySlide} {
		if t.String() == s {
			return t, nil
		}
	}
	return Limit, fmt.Errorf("unknown order type %q", s)
}

func (t OrderType) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

func (t *OrderType) UnmarshalText(text []byte) error {
	v, err := ParseOrderType(string(text))
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// OrderKey is the 128-bit order id and trie key: the price in lots in the
// high word and the placement sequence in the low word. Bids store the
// bitwise inverse of the sequence so that, at equal price, the earlier order
// has the larger key and is reached first when walking bids from the top.
type OrderKey struct {
	Hi uint64
	Lo uint64
}

func NewOrderKey(side Side, priceLots int64, seq uint64) OrderKey {
	if side == Bid {
		seq = ^seq
	}
	return OrderKey{Hi: uint64(priceLots), Lo: seq}
}

// Price returns the limit price in quote lots per base lot.
func (k OrderKey) Price() int64 { return int64(k.Hi) }

// Seq recovers the placement sequence.
func (k OrderKey) Seq(side Side) uint64 {
	if side == Bid {
		return ^k.Lo
	}
	return k.Lo
}

func (k OrderKey) IsZero() bool { return k.Hi == 0 && k.Lo == 0 }

func (k OrderKey) Cmp(o OrderKey) int {
	switch {
	case k.Hi < o.Hi:
		return -1
	case k.Hi > o.Hi:
		return 1
	case k.Lo < o.Lo:
		return -1
	case k.Lo > o.Lo:
		return 1
	}
	return 0
}

// bit returns bit i counted from the most significant end.
func (k OrderKey) bit(i uint32) int {
	if i < 64 {
		return int(k.Hi>>(63-i)) & 1
	}
	return int(k.Lo>>(127-i)) & 1
}

// commonPrefix returns how many leading bits k and o share.
func (k OrderKey) commonPrefix(o OrderKey) uint32 {
	if x := k.Hi ^ o.Hi; x != 0 {
		return uint32(bits.LeadingZeros64(x))
	}
	if x := k.Lo ^ o.Lo; x != 0 {
		return 64 + uint32(bits.LeadingZeros64(x))
	}
	return 128
}

// Big returns the key as an unsigned 128-bit integer.
func (k OrderKey) Big() *big.Int {
	v := new(big.Int).SetUint64(k.Hi)
	v.Lsh(v, 64)
	return v.Or(v, new(big.Int).SetUint64(k.Lo))
}

func (k OrderKey) String() string { return k.Big().String() }

func (k OrderKey) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

func (k *OrderKey) UnmarshalText(text []byte) error {
	parsed, err := ParseOrderKey(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// ParseOrderKey parses the decimal form produced by String.
func ParseOrderKey(s string) (OrderKey, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok || v.Sign() < 0 || v.BitLen() > 128 {
		return OrderKey{}, fmt.Errorf("invalid order id %q", s)
	}
	lo := new(big.Int).And(v, new(big.Int).SetUint64(^uint64(0)))
	hi := new(big.Int).Rsh(v, 64)
	return OrderKey{Hi: hi.Uint64(), Lo: lo.Uint64()}, nil
}

// Order is a resting order, the leaf of a BookSide.
type Order struct {
	Key           OrderKey
	Owner         uuid.UUID
	OwnerSlot     uint8
	Quantity      int64 // base lots remaining
	ClientOrderID uint64
	Timestamp     int64 // placement time, unix seconds
	BestInitial   int64 // best price or depth ahead at placement, used for incentives
	Version       uint8 // market version at placement
	OrderType     OrderType
}

func (o *Order) Price() int64 { return o.Key.Price() }
