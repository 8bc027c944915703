package host

import (
	"fmt"
	"sync"
	"time"

	fpmath "LyraeLedger/internal/math"

	"github.com/google/uuid"
)

type priceEntry struct {
	price       fpmath.I80F48
	publishedAt int64
}

// MemoryOracle is an in-process oracle fed by SetPrice. Readings older than
// MaxAge relative to the clock are reported stale.
type MemoryOracle struct {
	mu     sync.RWMutex
	prices map[int]priceEntry
	clock  Clock
	maxAge int64
}

func NewMemoryOracle(clock Clock, maxAge int64) *MemoryOracle {
	return &MemoryOracle{prices: make(map[int]priceEntry), clock: clock, maxAge: maxAge}
}

func (o *MemoryOracle) SetPrice(index int, price fpmath.I80F48, publishedAt int64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.prices[index] = priceEntry{price: price, publishedAt: publishedAt}
}

func (o *MemoryOracle) Price(index int) (fpmath.I80F48, int64, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	e, ok := o.prices[index]
	if !ok {
		return fpmath.Zero, 0, fmt.Errorf("%w: %d", ErrUnknownOracle, index)
	}
	if o.maxAge > 0 && e.publishedAt < o.clock.Now()-o.maxAge {
		return fpmath.Zero, 0, fmt.Errorf("%w: index %d published at %d", ErrStalePrice, index, e.publishedAt)
	}
	if !e.price.IsPositive() {
		return fpmath.Zero, 0, fmt.Errorf("%w: non-positive price at index %d", ErrStalePrice, index)
	}
	return e.price, e.publishedAt, nil
}

type ooKey struct {
	account uuid.UUID
	market  int
}

// MemorySpotVenue keeps open-orders balances in memory.
type MemorySpotVenue struct {
	mu     sync.RWMutex
	orders map[ooKey]OpenOrders
}

func NewMemorySpotVenue() *MemorySpotVenue {
	return &MemorySpotVenue{orders: make(map[ooKey]OpenOrders)}
}

func (v *MemorySpotVenue) SetOpenOrders(account uuid.UUID, market int, oo OpenOrders) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.orders[ooKey{account, market}] = oo
}

func (v *MemorySpotVenue) OpenOrders(account uuid.UUID, market int) (OpenOrders, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	oo, ok := v.orders[ooKey{account, market}]
	return oo, ok
}

func (v *MemorySpotVenue) SettleFunds(account uuid.UUID, market int) (uint64, uint64, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	k := ooKey{account, market}
	oo, ok := v.orders[k]
	if !ok {
		return 0, 0, fmt.Errorf("no open orders for %s on market %d", account, market)
	}
	base, quote := oo.BaseFree, oo.QuoteFree+oo.ReferrerRebates
	oo.BaseTotal -= oo.BaseFree
	oo.QuoteTotal -= oo.QuoteFree
	oo.BaseFree, oo.QuoteFree, oo.ReferrerRebates = 0, 0, 0
	v.orders[k] = oo
	return base, quote, nil
}

// ManualClock is a settable clock for tests and replays.
type ManualClock struct {
	mu  sync.Mutex
	now int64
}

func NewManualClock(now int64) *ManualClock { return &ManualClock{now: now} }

func (c *ManualClock) Now() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *ManualClock) Set(now int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}

func (c *ManualClock) Advance(seconds int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now += seconds
}

// SystemClock reads wall-clock time.
type SystemClock struct{}

func (SystemClock) Now() int64 { return time.Now().Unix() }
