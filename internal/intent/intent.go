// Package intent defines the commands callers submit to the ledger engine.
// Every intent carries an idempotency key and the signer it acts for; the
// engine authorizes the signer against the accounts the intent names.
package intent

import (
	"fmt"

	"LyraeLedger/internal/book"
	fpmath "LyraeLedger/internal/math"
	"LyraeLedger/internal/state"

	"github.com/google/uuid"
)

// Type names an intent on the wire and in metrics.
type Type string

const (
	TypeCreateAccount           Type = "CreateAccount"
	TypeSetDelegate             Type = "SetDelegate"
	TypeDeposit                 Type = "Deposit"
	TypeWithdraw                Type = "Withdraw"
	TypeUpdateMarginBasket      Type = "UpdateMarginBasket"
	TypeCachePrices             Type = "CachePrices"
	TypeCacheRootBanks          Type = "CacheRootBanks"
	TypeCachePerpMarkets        Type = "CachePerpMarkets"
	TypeUpdateRootBank          Type = "UpdateRootBank"
	TypeUpdateFunding           Type = "UpdateFunding"
	TypeConsumeEvents           Type = "ConsumeEvents"
	TypePlacePerpOrder          Type = "PlacePerpOrder"
	TypeCancelPerpOrder         Type = "CancelPerpOrder"
	TypeCancelPerpOrderByClient Type = "CancelPerpOrderByClientID"
	TypeCancelAllPerpOrders     Type = "CancelAllPerpOrders"
	TypeCancelPerpOrdersSide    Type = "CancelPerpOrdersSide"
	TypeForceCancelPerpOrders   Type = "ForceCancelPerpOrders"
	TypeAddPerpTriggerOrder     Type = "AddPerpTriggerOrder"
	TypeRemoveAdvancedOrder     Type = "RemoveAdvancedOrder"
	TypeExecutePerpTriggerOrder Type = "ExecutePerpTriggerOrder"
	TypeSettlePnl               Type = "SettlePnl"
	TypeSettleFees              Type = "SettleFees"
	TypeSettleSpotFunds         Type = "SettleSpotFunds"
	TypeRedeemIncentives        Type = "RedeemIncentives"
	TypeLiquidateTokenAndToken  Type = "LiquidateTokenAndToken"
	TypeLiquidateTokenAndPerp   Type = "LiquidateTokenAndPerp"
	TypeLiquidatePerpMarket     Type = "LiquidatePerpMarket"
	TypeResolvePerpBankruptcy   Type = "ResolvePerpBankruptcy"
	TypeResolveTokenBankruptcy  Type = "ResolveTokenBankruptcy"
)

// Intent is a command for the engine.
type Intent interface {
	Type() Type
	// Key is the idempotency key. An intent whose key was already applied is
	// acknowledged without effect.
	Key() string
	// Signer is the identity the intent acts for.
	Signer() uuid.UUID
}

// Header is embedded in every intent.
type Header struct {
	ID       string    `json:"id"`
	SignedBy uuid.UUID `json:"signer"`
}

func (h Header) Key() string       { return h.ID }
func (h Header) Signer() uuid.UUID { return h.SignedBy }

// --- accounts and balances ---

type CreateAccount struct {
	Header
	Owner uuid.UUID `json:"owner"`
}

// accountNamespace scopes account ids derived from intent keys.
var accountNamespace = uuid.MustParse("0f8a4e0c-5d1b-4f39-9a43-6c1f2b7e8d21")

// AccountID is derived from the idempotency key so that a replay assigns
// the same id.
func (c *CreateAccount) AccountID() uuid.UUID {
	return uuid.NewSHA1(accountNamespace, []byte(c.ID))
}

type SetDelegate struct {
	Header
	Account  uuid.UUID `json:"account"`
	Delegate uuid.UUID `json:"delegate"`
}

type Deposit struct {
	Header
	Account  uuid.UUID `json:"account"`
	Token    int       `json:"token"`
	Quantity uint64    `json:"quantity"`
}

type Withdraw struct {
	Header
	Account     uuid.UUID `json:"account"`
	Token       int       `json:"token"`
	Quantity    uint64    `json:"quantity"`
	AllowBorrow bool      `json:"allow_borrow"`
}

// UpdateMarginBasket re-reads the account's spot open orders and keeps
// every market with a non-empty open orders account in the basket.
type UpdateMarginBasket struct {
	Header
	Account uuid.UUID `json:"account"`
}

// --- cranks ---

type CachePrices struct {
	Header
	Indexes []int `json:"indexes"`
}

type CacheRootBanks struct {
	Header
	Tokens []int `json:"tokens"`
}

type CachePerpMarkets struct {
	Header
	Markets []int `json:"markets"`
}

type UpdateRootBank struct {
	Header
	Token int `json:"token"`
}

type UpdateFunding struct {
	Header
	Market int `json:"market"`
}

// ConsumeEvents applies queued events to the listed accounts only. It stops
// at the first event naming an account that is not listed.
type ConsumeEvents struct {
	Header
	Market   int         `json:"market"`
	Accounts []uuid.UUID `json:"accounts"`
	Limit    int         `json:"limit"`
}

// --- orders ---

type PlacePerpOrder struct {
	Header
	Account       uuid.UUID      `json:"account"`
	Market        int            `json:"market"`
	Side          book.Side      `json:"side"`
	Price         int64          `json:"price"`
	Quantity      int64          `json:"quantity"`
	OrderType     book.OrderType `json:"order_type"`
	ClientOrderID uint64         `json:"client_order_id"`
	ReduceOnly    bool           `json:"reduce_only"`
	Referrer      uuid.UUID      `json:"referrer"`
}

type CancelPerpOrder struct {
	Header
	Account     uuid.UUID     `json:"account"`
	Market      int           `json:"market"`
	OrderID     book.OrderKey `json:"order_id"`
	InvalidIDOK bool          `json:"invalid_id_ok"`
}

type CancelPerpOrderByClientID struct {
	Header
	Account       uuid.UUID `json:"account"`
	Market        int       `json:"market"`
	ClientOrderID uint64    `json:"client_order_id"`
	InvalidIDOK   bool      `json:"invalid_id_ok"`
}

type CancelAllPerpOrders struct {
	Header
	Account uuid.UUID `json:"account"`
	Market  int       `json:"market"`
	Limit   int       `json:"limit"`
}

type CancelPerpOrdersSide struct {
	Header
	Account uuid.UUID `json:"account"`
	Market  int       `json:"market"`
	Side    book.Side `json:"side"`
	Limit   int       `json:"limit"`
}

// ForceCancelPerpOrders may be submitted by anyone.
type ForceCancelPerpOrders struct {
	Header
	Liqee  uuid.UUID `json:"liqee"`
	Market int       `json:"market"`
	Limit  int       `json:"limit"`
}

type AddPerpTriggerOrder struct {
	Header
	Account       uuid.UUID              `json:"account"`
	Market        int                    `json:"market"`
	Side          book.Side              `json:"side"`
	OrderType     book.OrderType         `json:"order_type"`
	Condition     state.TriggerCondition `json:"condition"`
	ReduceOnly    bool                   `json:"reduce_only"`
	ClientOrderID uint64                 `json:"client_order_id"`
	Price         int64                  `json:"price"`
	Quantity      int64                  `json:"quantity"`
	TriggerPrice  fpmath.I80F48          `json:"trigger_price"`
}

// Order converts the intent into the stored form.
func (a *AddPerpTriggerOrder) Order() (state.TriggerOrder, error) {
	if a.Market < 0 || a.Market >= state.MaxPairs {
		return state.TriggerOrder{}, fmt.Errorf("%w: market %d", state.ErrInvalidMarket, a.Market)
	}
	return state.TriggerOrder{
		MarketIndex:   uint8(a.Market),
		Side:          a.Side,
		OrderType:     a.OrderType,
		Condition:     a.Condition,
		ReduceOnly:    a.ReduceOnly,
		ClientOrderID: a.ClientOrderID,
		Price:         a.Price,
		Quantity:      a.Quantity,
		TriggerPrice:  a.TriggerPrice,
	}, nil
}

type RemoveAdvancedOrder struct {
	Header
	Account uuid.UUID `json:"account"`
	Index   int       `json:"index"`
}

// ExecutePerpTriggerOrder may be submitted by any keeper.
type ExecutePerpTriggerOrder struct {
	Header
	Account uuid.UUID `json:"account"`
	Index   int       `json:"index"`
}

// --- settlement ---

// SettlePnl may be submitted by anyone.
type SettlePnl struct {
	Header
	AccountA uuid.UUID `json:"account_a"`
	AccountB uuid.UUID `json:"account_b"`
	Market   int       `json:"market"`
}

// SettleFees may be submitted by anyone.
type SettleFees struct {
	Header
	Account uuid.UUID `json:"account"`
	Market  int       `json:"market"`
}

type SettleSpotFunds struct {
	Header
	Account uuid.UUID `json:"account"`
	Market  int       `json:"market"`
}

type RedeemIncentives struct {
	Header
	Account uuid.UUID `json:"account"`
	Market  int       `json:"market"`
}

// --- liquidation ---

type LiquidateTokenAndToken struct {
	Header
	Liqee   uuid.UUID     `json:"liqee"`
	Liqor   uuid.UUID     `json:"liqor"`
	Asset   int           `json:"asset"`
	Liab    int           `json:"liab"`
	MaxLiab fpmath.I80F48 `json:"max_liab"`
}

type LiquidateTokenAndPerp struct {
	Header
	Liqee     uuid.UUID       `json:"liqee"`
	Liqor     uuid.UUID       `json:"liqor"`
	AssetType state.AssetType `json:"asset_type"`
	Asset     int             `json:"asset"`
	LiabType  state.AssetType `json:"liab_type"`
	Liab      int             `json:"liab"`
	MaxLiab   fpmath.I80F48   `json:"max_liab"`
}

type LiquidatePerpMarket struct {
	Header
	Liqee  uuid.UUID `json:"liqee"`
	Liqor  uuid.UUID `json:"liqor"`
	Market int       `json:"market"`
	// BaseTransferRequest is signed like the liqee's position.
	BaseTransferRequest int64 `json:"base_transfer_request"`
}

type ResolvePerpBankruptcy struct {
	Header
	Liqee   uuid.UUID     `json:"liqee"`
	Liqor   uuid.UUID     `json:"liqor"`
	Market  int           `json:"market"`
	MaxLiab fpmath.I80F48 `json:"max_liab"`
}

type ResolveTokenBankruptcy struct {
	Header
	Liqee   uuid.UUID     `json:"liqee"`
	Liqor   uuid.UUID     `json:"liqor"`
	Liab    int           `json:"liab"`
	MaxLiab fpmath.I80F48 `json:"max_liab"`
}

func (*CreateAccount) Type() Type             { return TypeCreateAccount }
func (*SetDelegate) Type() Type               { return TypeSetDelegate }
func (*Deposit) Type() Type                   { return TypeDeposit }
func (*Withdraw) Type() Type                  { return TypeWithdraw }
func (*UpdateMarginBasket) Type() Type        { return TypeUpdateMarginBasket }
func (*CachePrices) Type() Type               { return TypeCachePrices }
func (*CacheRootBanks) Type() Type            { return TypeCacheRootBanks }
func (*CachePerpMarkets) Type() Type          { return TypeCachePerpMarkets }
func (*UpdateRootBank) Type() Type            { return TypeUpdateRootBank }
func (*UpdateFunding) Type() Type             { return TypeUpdateFunding }
func (*ConsumeEvents) Type() Type             { return TypeConsumeEvents }
func (*PlacePerpOrder) Type() Type            { return TypePlacePerpOrder }
func (*CancelPerpOrder) Type() Type           { return TypeCancelPerpOrder }
func (*CancelPerpOrderByClientID) Type() Type { return TypeCancelPerpOrderByClient }
func (*CancelAllPerpOrders) Type() Type       { return TypeCancelAllPerpOrders }
func (*CancelPerpOrdersSide) Type() Type      { return TypeCancelPerpOrdersSide }
func (*ForceCancelPerpOrders) Type() Type     { return TypeForceCancelPerpOrders }
func (*AddPerpTriggerOrder) Type() Type       { return TypeAddPerpTriggerOrder }
func (*RemoveAdvancedOrder) Type() Type       { return TypeRemoveAdvancedOrder }
func (*ExecutePerpTriggerOrder) Type() Type   { return TypeExecutePerpTriggerOrder }
func (*SettlePnl) Type() Type                 { return TypeSettlePnl }
func (*SettleFees) Type() Type                { return TypeSettleFees }
func (*SettleSpotFunds) Type() Type           { return TypeSettleSpotFunds }
func (*RedeemIncentives) Type() Type          { return TypeRedeemIncentives }
func (*LiquidateTokenAndToken) Type() Type    { return TypeLiquidateTokenAndToken }
func (*LiquidateTokenAndPerp) Type() Type     { return TypeLiquidateTokenAndPerp }
func (*LiquidatePerpMarket) Type() Type       { return TypeLiquidatePerpMarket }
func (*ResolvePerpBankruptcy) Type() Type     { return TypeResolvePerpBankruptcy }
func (*ResolveTokenBankruptcy) Type() Type    { return TypeResolveTokenBankruptcy }

var registry = map[Type]func() Intent{
	TypeCreateAccount:           func() Intent { return &CreateAccount{} },
	TypeSetDelegate:             func() Intent { return &SetDelegate{} },
	TypeDeposit:                 func() Intent { return &Deposit{} },
	TypeWithdraw:                func() Intent { return &Withdraw{} },
	TypeUpdateMarginBasket:      func() Intent { return &UpdateMarginBasket{} },
	TypeCachePrices:             func() Intent { return &CachePrices{} },
	TypeCacheRootBanks:          func() Intent { return &CacheRootBanks{} },
	TypeCachePerpMarkets:        func() Intent { return &CachePerpMarkets{} },
	TypeUpdateRootBank:          func() Intent { return &UpdateRootBank{} },
	TypeUpdateFunding:           func() Intent { return &UpdateFunding{} },
	TypeConsumeEvents:           func() Intent { return &ConsumeEvents{} },
	TypePlacePerpOrder:          func() Intent { return &PlacePerpOrder{} },
	TypeCancelPerpOrder:         func() Intent { return &CancelPerpOrder{} },
	TypeCancelPerpOrderByClient: func() Intent { return &CancelPerpOrderByClientID{} },
	TypeCancelAllPerpOrders:     func() Intent { return &CancelAllPerpOrders{} },
	TypeCancelPerpOrdersSide:    func() Intent { return &CancelPerpOrdersSide{} },
	TypeForceCancelPerpOrders:   func() Intent { return &ForceCancelPerpOrders{} },
	TypeAddPerpTriggerOrder:     func() Intent { return &AddPerpTriggerOrder{} },
	TypeRemoveAdvancedOrder:     func() Intent { return &RemoveAdvancedOrder{} },
	TypeExecutePerpTriggerOrder: func() Intent { return &ExecutePerpTriggerOrder{} },
	TypeSettlePnl:               func() Intent { return &SettlePnl{} },
	TypeSettleFees:              func() Intent { return &SettleFees{} },
	TypeSettleSpotFunds:         func() Intent { return &SettleSpotFunds{} },
	TypeRedeemIncentives:        func() Intent { return &RedeemIncentives{} },
	TypeLiquidateTokenAndToken:  func() Intent { return &LiquidateTokenAndToken{} },
	TypeLiquidateTokenAndPerp:   func() Intent { return &LiquidateTokenAndPerp{} },
	TypeLiquidatePerpMarket:     func() Intent { return &LiquidatePerpMarket{} },
	TypeResolvePerpBankruptcy:   func() Intent { return &ResolvePerpBankruptcy{} },
	TypeResolveTokenBankruptcy:  func() Intent { return &ResolveTokenBankruptcy{} },
}

// New returns an empty intent of type t, ready to be decoded into.
func New(t Type) (Intent, error) {
	mk, ok := registry[t]
	if !ok {
		return nil, fmt.Errorf("unknown intent type: %s", t)
	}
	return mk(), nil
}

// Types lists every registered intent type.
func Types() []Type {
	out := make([]Type, 0, len(registry))
	for t := range registry {
		out = append(out, t)
	}
	return out
}
