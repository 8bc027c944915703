package queue

import (
	"LyraeLedger/internal/book"
	fpmath "LyraeLedger/internal/math"

	"github.com/google/uuid"
)

type EventType uint8

const (
	EventFill EventType = iota
	EventOut
	EventLiquidate
)

func (t EventType) String() string {
	switch t {
	case EventFill:
		return "fill"
	case EventOut:
		return "out"
	case EventLiquidate:
		return "liquidate"
	default:
		return "unknown"
	}
}

// FillEvent records one maker/taker match. Prices are in lots.
type FillEvent struct {
	TakerSide book.Side `json:"taker_side"`
	Timestamp int64     `json:"timestamp"`
	Seq       uint64    `json:"seq"`

	Maker              uuid.UUID     `json:"maker"`
	MakerSlot          uint8         `json:"maker_slot"`
	MakerOut           bool          `json:"maker_out"`
	MakerOrderID       book.OrderKey `json:"maker_order_id"`
	MakerClientOrderID uint64        `json:"maker_client_order_id"`
	MakerFee           fpmath.I80F48 `json:"maker_fee"`
	MakerTimestamp     int64         `json:"maker_timestamp"`
	BestInitial        int64         `json:"best_initial"`
	Version            uint8         `json:"version"`

	Taker              uuid.UUID     `json:"taker"`
	TakerOrderID       book.OrderKey `json:"taker_order_id"`
	TakerClientOrderID uint64        `json:"taker_client_order_id"`
	TakerFee           fpmath.I80F48 `json:"taker_fee"`

	Price    int64 `json:"price"`
	Quantity int64 `json:"quantity"`
}

// BaseQuoteChange returns the lot deltas of the party on side. It panics
// with an OverflowError if the notional leaves int64.
func (f *FillEvent) BaseQuoteChange(side book.Side) (base, quote int64) {
	notional := fpmath.MulLots(f.Price, f.Quantity)
	if side == book.Bid {
		return f.Quantity, -notional
	}
	return -f.Quantity, notional
}

// OutEvent frees a maker's order slot after its order left the book.
type OutEvent struct {
	Side      book.Side `json:"side"`
	Owner     uuid.UUID `json:"owner"`
	OwnerSlot uint8     `json:"owner_slot"`
	Quantity  int64     `json:"quantity"`
	Timestamp int64     `json:"timestamp"`
	Seq       uint64    `json:"seq"`
}

// LiquidateEvent is a record of a perp market liquidation.
type LiquidateEvent struct {
	Liqee          uuid.UUID     `json:"liqee"`
	Liqor          uuid.UUID     `json:"liqor"`
	Price          fpmath.I80F48 `json:"price"`
	Quantity       int64         `json:"quantity"`
	LiquidationFee fpmath.I80F48 `json:"liquidation_fee"`
	Timestamp      int64         `json:"timestamp"`
	Seq            uint64        `json:"seq"`
}

// Event is a tagged union; exactly one payload matches Type. Payloads are
// never mutated after push.
type Event struct {
	Type      EventType       `json:"type"`
	Fill      *FillEvent      `json:"fill,omitempty"`
	Out       *OutEvent       `json:"out,omitempty"`
	Liquidate *LiquidateEvent `json:"liquidate,omitempty"`
}

func NewFill(f FillEvent) Event           { return Event{Type: EventFill, Fill: &f} }
func NewOut(o OutEvent) Event             { return Event{Type: EventOut, Out: &o} }
func NewLiquidate(l LiquidateEvent) Event { return Event{Type: EventLiquidate, Liquidate: &l} }

// Seq returns the queue sequence number stamped on push.
func (e Event) Seq() uint64 {
	switch e.Type {
	case EventFill:
		return e.Fill.Seq
	case EventOut:
		return e.Out.Seq
	case EventLiquidate:
		return e.Liquidate.Seq
	}
	return 0
}

func (e *Event) setSeq(seq uint64) {
	switch e.Type {
	case EventFill:
		e.Fill.Seq = seq
	case EventOut:
		e.Out.Seq = seq
	case EventLiquidate:
		e.Liquidate.Seq = seq
	}
}
