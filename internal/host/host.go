// Package host defines the collaborators the ledger core consumes: the price
// oracle, the spot venue holding basket open orders, and the clock.
package host

import (
	"errors"

	fpmath "LyraeLedger/internal/math"

	"github.com/google/uuid"
)

var (
	ErrUnknownOracle = errors.New("unknown oracle index")
	ErrStalePrice    = errors.New("stale oracle price")
)

// Oracle returns the price of a token in native quote per native base and
// the unix time it was published.
type Oracle interface {
	Price(index int) (fpmath.I80F48, int64, error)
}

// OpenOrders are an account's balances on the external spot venue, in
// native units.
type OpenOrders struct {
	BaseFree        uint64 `json:"base_free"`
	BaseTotal       uint64 `json:"base_total"`
	QuoteFree       uint64 `json:"quote_free"`
	QuoteTotal      uint64 `json:"quote_total"`
	ReferrerRebates uint64 `json:"referrer_rebates"`
}

func (o OpenOrders) IsEmpty() bool {
	return o.BaseTotal == 0 && o.QuoteTotal == 0 && o.ReferrerRebates == 0
}

// SpotVenue gives read access to basket open orders and settles their free
// balances back to the ledger.
type SpotVenue interface {
	OpenOrders(account uuid.UUID, market int) (OpenOrders, bool)
	// SettleFunds releases the free balances and returns them.
	SettleFunds(account uuid.UUID, market int) (base, quote uint64, err error)
}

// Clock supplies the monotonic operation timestamp in unix seconds.
type Clock interface {
	Now() int64
}
