package state

import (
	"errors"
	"fmt"
)

// Sentinel errors shared by every engine package. Callers wrap them with
// context and test with errors.Is.
var (
	ErrInvalidParam           = errors.New("invalid parameter")
	ErrStaleCache             = errors.New("stale cache")
	ErrInvalidPriceCache      = fmt.Errorf("%w: price", ErrStaleCache)
	ErrInvalidRootBankCache   = fmt.Errorf("%w: root bank", ErrStaleCache)
	ErrInvalidPerpMarketCache = fmt.Errorf("%w: perp market", ErrStaleCache)
	ErrInsufficientHealth     = errors.New("insufficient health")
	ErrInsufficientFunds      = errors.New("insufficient funds")
	ErrNotLiquidatable        = errors.New("account not liquidatable")
	ErrInvalidOrderID         = errors.New("invalid order id")
	ErrClientIDNotFound       = errors.New("client order id not found")
	ErrMath                   = errors.New("math error")
	ErrOutOfSpace             = errors.New("out of space")
	ErrBankrupt               = errors.New("account is bankrupt")
	ErrNotBankrupt            = errors.New("account is not bankrupt")
	ErrBeingLiquidated        = errors.New("account is being liquidated")
	ErrInsufficientLiquidity  = errors.New("insufficient liquidity")
	ErrTooManyOpenOrders      = errors.New("too many open orders")
	ErrPostOnly               = errors.New("post-only order would cross")
	ErrInvalidAccount         = errors.New("invalid account")
	ErrInvalidOwner           = errors.New("invalid owner")
	ErrUnauthorized           = errors.New("signer is not owner or delegate")
	ErrInvalidMarket          = errors.New("invalid market")
	ErrInvalidToken           = errors.New("invalid token")
	ErrInvalidAccountState    = errors.New("invalid account state")
	ErrTriggerConditionFalse  = errors.New("trigger condition false")
)
