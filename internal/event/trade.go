package event

import (
	"LyraeLedger/internal/book"
	fpmath "LyraeLedger/internal/math"
	"LyraeLedger/internal/state"

	"github.com/google/uuid"
)

// FillLog records a consumed fill. Price is in lots; Quote amounts are
// native.
type FillLog struct {
	MarketIndex        int           `json:"market_index"`
	TakerSide          book.Side     `json:"taker_side"`
	MakerSlot          uint8         `json:"maker_slot"`
	MakerOut           bool          `json:"maker_out"`
	Timestamp          int64         `json:"timestamp"`
	Seq                uint64        `json:"seq"`
	Maker              uuid.UUID     `json:"maker"`
	MakerOrderID       book.OrderKey `json:"maker_order_id"`
	MakerClientOrderID uint64        `json:"maker_client_order_id"`
	MakerFee           fpmath.I80F48 `json:"maker_fee"`
	BestInitial        int64         `json:"best_initial"`
	MakerTimestamp     int64         `json:"maker_timestamp"`
	Taker              uuid.UUID     `json:"taker"`
	TakerOrderID       book.OrderKey `json:"taker_order_id"`
	TakerClientOrderID uint64        `json:"taker_client_order_id"`
	TakerFee           fpmath.I80F48 `json:"taker_fee"`
	Price              int64         `json:"price"`
	Quantity           int64         `json:"quantity"`
}

func (*FillLog) RecordType() RecordType { return RecordTypeFill }

// CancelAllPerpOrdersLog lists the orders considered and the ones removed by
// a batch cancel.
type CancelAllPerpOrdersLog struct {
	Account          uuid.UUID       `json:"account"`
	MarketIndex      int             `json:"market_index"`
	AllOrderIDs      []book.OrderKey `json:"all_order_ids"`
	CanceledOrderIDs []book.OrderKey `json:"canceled_order_ids"`
}

func (*CancelAllPerpOrdersLog) RecordType() RecordType { return RecordTypeCancelAllPerpOrders }

// IncentiveAccrualLog records liquidity-mining reward credited to a maker.
type IncentiveAccrualLog struct {
	Account     uuid.UUID `json:"account"`
	MarketIndex int       `json:"market_index"`
	Accrued     uint64    `json:"accrued"`
}

func (*IncentiveAccrualLog) RecordType() RecordType { return RecordTypeIncentiveAccrual }

// PerpBalanceLog is the perp position of an account after a change.
type PerpBalanceLog struct {
	Account             uuid.UUID     `json:"account"`
	MarketIndex         int           `json:"market_index"`
	BasePosition        int64         `json:"base_position"`
	QuotePosition       fpmath.I80F48 `json:"quote_position"`
	LongSettledFunding  fpmath.I80F48 `json:"long_settled_funding"`
	ShortSettledFunding fpmath.I80F48 `json:"short_settled_funding"`
}

func (*PerpBalanceLog) RecordType() RecordType { return RecordTypePerpBalance }

// ReferralFeeAccrualLog records the share of a taker fee paid to a referrer.
type ReferralFeeAccrualLog struct {
	Referrer    uuid.UUID     `json:"referrer"`
	Referree    uuid.UUID     `json:"referree"`
	MarketIndex int           `json:"market_index"`
	ReferralFee fpmath.I80F48 `json:"referral_fee"`
}

func (*ReferralFeeAccrualLog) RecordType() RecordType { return RecordTypeReferralFeeAccrual }

// OrderPlacedLog is the disposition of a new order.
type OrderPlacedLog struct {
	Account       uuid.UUID      `json:"account"`
	MarketIndex   int            `json:"market_index"`
	OrderID       book.OrderKey  `json:"order_id"`
	ClientOrderID uint64         `json:"client_order_id"`
	Side          book.Side      `json:"side"`
	OrderType     book.OrderType `json:"order_type"`
	Price         int64          `json:"price"`
	Quantity      int64          `json:"quantity"`
	Filled        int64          `json:"filled"`
	Posted        int64          `json:"posted"`
	Disposition   string         `json:"disposition"`
}

func (*OrderPlacedLog) RecordType() RecordType { return RecordTypeOrderPlaced }

// TriggerOrderLog records a stored trigger order being added, executed or
// dropped.
type TriggerOrderLog struct {
	Account     uuid.UUID `json:"account"`
	Index       int       `json:"index"`
	MarketIndex int       `json:"market_index"`
	Action      string    `json:"action"`
}

func (*TriggerOrderLog) RecordType() RecordType { return RecordTypeTriggerOrder }

// PerpBalance snapshots acct's position in market i.
func PerpBalance(acct *state.Account, i int) *PerpBalanceLog {
	pa := &acct.Perps[i]
	return &PerpBalanceLog{
		Account:             acct.ID,
		MarketIndex:         i,
		BasePosition:        pa.BasePosition,
		QuotePosition:       pa.QuotePosition,
		LongSettledFunding:  pa.LongSettledFunding,
		ShortSettledFunding: pa.ShortSettledFunding,
	}
}
