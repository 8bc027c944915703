package state

import (
	"fmt"

	fpmath "LyraeLedger/internal/math"
)

// NodeBank holds the pooled indexed deposits and borrows of one token and
// the native balance of its vault.
type NodeBank struct {
	Deposits fpmath.I80F48 `json:"deposits"`
	Borrows  fpmath.I80F48 `json:"borrows"`
	Vault    uint64        `json:"vault"`
}

// HasValidDepositsBorrows reports whether native deposits cover native
// borrows at the cached indexes.
func (n *NodeBank) HasValidDepositsBorrows(c *RootBankCache) bool {
	return n.Deposits.Mul(c.DepositIndex).Gte(n.Borrows.Mul(c.BorrowIndex))
}

// RootBank carries the interest indexes and the rate curve of a token.
type RootBank struct {
	OptimalUtil  fpmath.I80F48 `json:"optimal_util"`
	OptimalRate  fpmath.I80F48 `json:"optimal_rate"`
	MaxRate      fpmath.I80F48 `json:"max_rate"`
	DepositIndex fpmath.I80F48 `json:"deposit_index"`
	BorrowIndex  fpmath.I80F48 `json:"borrow_index"`
	LastUpdated  int64         `json:"last_updated"`
	NodeBanks    []NodeBank    `json:"node_banks"`
}

func NewRootBank(optimalUtil, optimalRate, maxRate fpmath.I80F48, now int64) *RootBank {
	return &RootBank{
		OptimalUtil:  optimalUtil,
		OptimalRate:  optimalRate,
		MaxRate:      maxRate,
		DepositIndex: fpmath.One,
		BorrowIndex:  fpmath.One,
		LastUpdated:  now,
		NodeBanks:    []NodeBank{{}},
	}
}

func (r *RootBank) Clone() *RootBank {
	c := *r
	c.NodeBanks = append([]NodeBank(nil), r.NodeBanks...)
	return &c
}

// Node returns the node bank used for account flows.
func (r *RootBank) Node() *NodeBank { return &r.NodeBanks[0] }

// NativeTotals sums deposits and borrows over all node banks at the
// current indexes.
func (r *RootBank) NativeTotals() (deposits, borrows fpmath.I80F48) {
	for i := range r.NodeBanks {
		deposits = deposits.Add(r.NodeBanks[i].Deposits.Mul(r.DepositIndex))
		borrows = borrows.Add(r.NodeBanks[i].Borrows.Mul(r.BorrowIndex))
	}
	return deposits, borrows
}

// UpdateIndex accrues interest since LastUpdated. Interest that rounds to
// zero leaves the indexes untouched but still advances the timestamp.
func (r *RootBank) UpdateIndex(now int64) {
	deposits, borrows := r.NativeTotals()
	util := fpmath.ComputeUtilization(deposits, borrows)
	rate := fpmath.ComputeInterestRate(util, r.OptimalUtil, r.OptimalRate, r.MaxRate)
	borrowInt, depositInt := fpmath.ComputeInterest(util, rate, now-r.LastUpdated)
	r.LastUpdated = now
	if !borrowInt.IsPositive() || !depositInt.IsPositive() {
		return
	}
	r.BorrowIndex = r.BorrowIndex.Add(r.BorrowIndex.Mul(borrowInt))
	r.DepositIndex = r.DepositIndex.Add(r.DepositIndex.Mul(depositInt))
}

// Cache snapshots the indexes for the market data cache.
func (r *RootBank) Cache(now int64) RootBankCache {
	return RootBankCache{DepositIndex: r.DepositIndex, BorrowIndex: r.BorrowIndex, LastUpdate: now}
}

// --- indexed balance movements ---

func addDeposit(node *NodeBank, acct *Account, token int, qty fpmath.I80F48) {
	acct.Deposits[token] = acct.Deposits[token].Add(qty)
	node.Deposits = node.Deposits.Add(qty)
}

func subDeposit(node *NodeBank, acct *Account, token int, qty fpmath.I80F48) {
	qty = fpmath.Min(qty, acct.Deposits[token])
	acct.Deposits[token] = acct.Deposits[token].Sub(qty)
	node.Deposits = fpmath.Max(node.Deposits.Sub(qty), fpmath.Zero)
}

func addBorrow(node *NodeBank, acct *Account, token int, qty fpmath.I80F48) {
	acct.Borrows[token] = acct.Borrows[token].Add(qty)
	node.Borrows = node.Borrows.Add(qty)
}

func subBorrow(node *NodeBank, acct *Account, token int, qty fpmath.I80F48) {
	qty = fpmath.Min(qty, acct.Borrows[token])
	acct.Borrows[token] = acct.Borrows[token].Sub(qty)
	node.Borrows = fpmath.Max(node.Borrows.Sub(qty), fpmath.Zero)
}

// CheckedChangeNet applies a signed native change to an account's token
// balance. Credits pay down borrows before adding deposits; debits draw
// deposits before adding borrows. Any borrow increase requires the node
// bank to stay solvent at the cached indexes.
func CheckedChangeNet(c *RootBankCache, node *NodeBank, acct *Account, token int, native fpmath.I80F48) error {
	switch native.Sign() {
	case 1:
		checkedAddNet(c, node, acct, token, native)
	case -1:
		return checkedSubNet(c, node, acct, token, native.Neg())
	}
	return nil
}

func checkedAddNet(c *RootBankCache, node *NodeBank, acct *Account, token int, native fpmath.I80F48) {
	if acct.Borrows[token].IsPositive() {
		nativeBorrows := acct.Borrows[token].Mul(c.BorrowIndex)
		if native.Lt(nativeBorrows) {
			subBorrow(node, acct, token, native.Div(c.BorrowIndex))
			return
		}
		subBorrow(node, acct, token, acct.Borrows[token])
		native = native.Sub(nativeBorrows)
	}
	if native.IsPositive() {
		addDeposit(node, acct, token, native.Div(c.DepositIndex))
	}
}

func checkedSubNet(c *RootBankCache, node *NodeBank, acct *Account, token int, native fpmath.I80F48) error {
	if acct.Deposits[token].IsPositive() {
		nativeDeposits := acct.Deposits[token].Mul(c.DepositIndex)
		if nativeDeposits.Gte(native) {
			subDeposit(node, acct, token, native.Div(c.DepositIndex))
			return nil
		}
		subDeposit(node, acct, token, acct.Deposits[token])
		native = native.Sub(nativeDeposits)
	}
	addBorrow(node, acct, token, native.Div(c.BorrowIndex))
	if !node.HasValidDepositsBorrows(c) {
		return fmt.Errorf("%w: token %d", ErrInsufficientLiquidity, token)
	}
	return nil
}

// TransferTokenInternal moves native quantity of token from one account to
// another, applying the increasing leg first.
func TransferTokenInternal(c *RootBankCache, node *NodeBank, from, to *Account, token int, native fpmath.I80F48) error {
	if err := CheckedChangeNet(c, node, to, token, native); err != nil {
		return err
	}
	return CheckedChangeNet(c, node, from, token, native.Neg())
}

// SocializeLoss writes off an account's entire borrow of the bank's token by
// shrinking the deposit index pro rata. It returns the native loss and the
// fraction taken from depositors. The cache entry is refreshed.
func (r *RootBank) SocializeLoss(c *RootBankCache, acct *Account, token int, now int64) (fpmath.I80F48, fpmath.I80F48, error) {
	borrows := acct.Borrows[token]
	nativeLoss := borrows.Mul(r.BorrowIndex)

	var totalDeposits fpmath.I80F48
	for i := range r.NodeBanks {
		totalDeposits = totalDeposits.Add(r.NodeBanks[i].Deposits)
	}
	nativeDeposits := totalDeposits.Mul(r.DepositIndex)
	if !nativeDeposits.IsPositive() {
		return fpmath.Zero, fpmath.Zero, fmt.Errorf("%w: no deposits to absorb loss on token %d", ErrMath, token)
	}
	pct := nativeLoss.Div(nativeDeposits)
	if pct.Gt(fpmath.One) {
		return fpmath.Zero, fpmath.Zero, fmt.Errorf("%w: loss exceeds deposits on token %d", ErrMath, token)
	}
	r.DepositIndex = r.DepositIndex.Mul(fpmath.One.Sub(pct))
	*c = r.Cache(now)

	node := r.Node()
	subBorrow(node, acct, token, borrows)
	return nativeLoss, pct, nil
}
