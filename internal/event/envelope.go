package event

import (
	"encoding/json"
	"fmt"
)

// RecordType discriminator for audit record payloads
type RecordType int32

const (
	RecordTypeUnknown RecordType = iota
	RecordTypeFill
	RecordTypeDeposit
	RecordTypeWithdraw
	RecordTypeTokenBalance
	RecordTypePerpBalance
	RecordTypeCachePrices
	RecordTypeCacheRootBanks
	RecordTypeCachePerpMarkets
	RecordTypeUpdateRootBank
	RecordTypeUpdateFunding
	RecordTypeSettlePnl
	RecordTypeSettleFees
	RecordTypeRedeemIncentive
	RecordTypeIncentiveAccrual
	RecordTypeCancelAllPerpOrders
	RecordTypeLiquidateTokenAndToken
	RecordTypeLiquidateTokenAndPerp
	RecordTypeLiquidatePerpMarket
	RecordTypePerpBankruptcy
	RecordTypeTokenBankruptcy
	RecordTypeAccountCreated
	RecordTypeSettleSpotFunds
	RecordTypeReferralFeeAccrual
	RecordTypeTriggerOrder
	RecordTypeOrderPlaced
)

var recordTypeNames = map[RecordType]string{
	RecordTypeFill:                   "FillLog",
	RecordTypeDeposit:                "DepositLog",
	RecordTypeWithdraw:               "WithdrawLog",
	RecordTypeTokenBalance:           "TokenBalanceLog",
	RecordTypePerpBalance:            "PerpBalanceLog",
	RecordTypeCachePrices:            "CachePricesLog",
	RecordTypeCacheRootBanks:         "CacheRootBanksLog",
	RecordTypeCachePerpMarkets:       "CachePerpMarketsLog",
	RecordTypeUpdateRootBank:         "UpdateRootBankLog",
	RecordTypeUpdateFunding:          "UpdateFundingLog",
	RecordTypeSettlePnl:              "SettlePnlLog",
	RecordTypeSettleFees:             "SettleFeesLog",
	RecordTypeRedeemIncentive:        "RedeemIncentiveLog",
	RecordTypeIncentiveAccrual:       "IncentiveAccrualLog",
	RecordTypeCancelAllPerpOrders:    "CancelAllPerpOrdersLog",
	RecordTypeLiquidateTokenAndToken: "LiquidateTokenAndTokenLog",
	RecordTypeLiquidateTokenAndPerp:  "LiquidateTokenAndPerpLog",
	RecordTypeLiquidatePerpMarket:    "LiquidatePerpMarketLog",
	RecordTypePerpBankruptcy:         "PerpBankruptcyLog",
	RecordTypeTokenBankruptcy:        "TokenBankruptcyLog",
	RecordTypeAccountCreated:         "AccountCreatedLog",
	RecordTypeSettleSpotFunds:        "SettleSpotFundsLog",
	RecordTypeReferralFeeAccrual:     "ReferralFeeAccrualLog",
	RecordTypeTriggerOrder:           "TriggerOrderLog",
	RecordTypeOrderPlaced:            "OrderPlacedLog",
}

func (rt RecordType) String() string {
	if name, ok := recordTypeNames[rt]; ok {
		return name
	}
	return "Unknown"
}

// Record is the interface all audit record payloads implement. Records are
// write-only output; the core never reads them back.
type Record interface {
	RecordType() RecordType
}

// Envelope wraps every record in the audit log
type Envelope struct {
	// Global monotonic sequence assigned by the engine
	Sequence int64 `json:"sequence"`

	// Idempotency key of the intent that produced the record
	IntentKey string `json:"intent_key"`

	// Record type discriminator
	Type RecordType `json:"type"`

	// Operation timestamp from the host clock, unix seconds
	Timestamp int64 `json:"timestamp"`

	// JSON-encoded record
	Payload json.RawMessage `json:"payload"`

	// SHA-256 chain over the state digest after the intent
	StateHash [32]byte `json:"state_hash"`

	// Previous envelope's state hash (chain integrity)
	PrevHash [32]byte `json:"prev_hash"`
}

// NewEnvelope encodes r into an envelope without hashes.
func NewEnvelope(seq int64, intentKey string, ts int64, r Record) (*Envelope, error) {
	payload, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", r.RecordType(), err)
	}
	return &Envelope{
		Sequence:  seq,
		IntentKey: intentKey,
		Type:      r.RecordType(),
		Timestamp: ts,
		Payload:   payload,
	}, nil
}

// Sink receives records as operations produce them.
type Sink interface {
	Emit(Record)
}

// Buffer is a Sink that keeps records in order until drained.
type Buffer struct {
	records []Record
}

func (b *Buffer) Emit(r Record) { b.records = append(b.records, r) }

func (b *Buffer) Records() []Record { return b.records }

func (b *Buffer) Len() int { return len(b.records) }

// Reset drops buffered records.
func (b *Buffer) Reset() { b.records = nil }

// Discard is a Sink that drops everything.
type Discard struct{}

func (Discard) Emit(Record) {}
