package event

import (
	fpmath "LyraeLedger/internal/math"
	"LyraeLedger/internal/state"

	"github.com/google/uuid"
)

type AccountCreatedLog struct {
	Account uuid.UUID `json:"account"`
	Owner   uuid.UUID `json:"owner"`
}

func (*AccountCreatedLog) RecordType() RecordType { return RecordTypeAccountCreated }

type DepositLog struct {
	Account  uuid.UUID `json:"account"`
	Token    int       `json:"token"`
	Quantity uint64    `json:"quantity"`
}

func (*DepositLog) RecordType() RecordType { return RecordTypeDeposit }

type WithdrawLog struct {
	Account  uuid.UUID `json:"account"`
	Owner    uuid.UUID `json:"owner"`
	Token    int       `json:"token"`
	Quantity uint64    `json:"quantity"`
}

func (*WithdrawLog) RecordType() RecordType { return RecordTypeWithdraw }

// TokenBalanceLog is an account's indexed balance of one token after a
// change.
type TokenBalanceLog struct {
	Account uuid.UUID     `json:"account"`
	Token   int           `json:"token"`
	Deposit fpmath.I80F48 `json:"deposit"`
	Borrow  fpmath.I80F48 `json:"borrow"`
}

func (*TokenBalanceLog) RecordType() RecordType { return RecordTypeTokenBalance }

type SettlePnlLog struct {
	AccountA    uuid.UUID     `json:"account_a"`
	AccountB    uuid.UUID     `json:"account_b"`
	MarketIndex int           `json:"market_index"`
	Settlement  fpmath.I80F48 `json:"settlement"`
}

func (*SettlePnlLog) RecordType() RecordType { return RecordTypeSettlePnl }

type SettleFeesLog struct {
	Account     uuid.UUID     `json:"account"`
	MarketIndex int           `json:"market_index"`
	Settlement  fpmath.I80F48 `json:"settlement"`
}

func (*SettleFeesLog) RecordType() RecordType { return RecordTypeSettleFees }

type RedeemIncentiveLog struct {
	Account     uuid.UUID `json:"account"`
	MarketIndex int       `json:"market_index"`
	Redeemed    uint64    `json:"redeemed"`
}

func (*RedeemIncentiveLog) RecordType() RecordType { return RecordTypeRedeemIncentive }

type SettleSpotFundsLog struct {
	Account     uuid.UUID `json:"account"`
	MarketIndex int       `json:"market_index"`
	Base        uint64    `json:"base"`
	Quote       uint64    `json:"quote"`
}

func (*SettleSpotFundsLog) RecordType() RecordType { return RecordTypeSettleSpotFunds }

// TokenBalance snapshots acct's indexed balance of token.
func TokenBalance(acct *state.Account, token int) *TokenBalanceLog {
	return &TokenBalanceLog{
		Account: acct.ID,
		Token:   token,
		Deposit: acct.Deposits[token],
		Borrow:  acct.Borrows[token],
	}
}
