package host

import (
	"LyraeLedger/internal/event"
	"LyraeLedger/internal/state"
)

// Env is what one operation runs against: the group configuration, the
// market data cache, the spot venue for basket valuation, the audit sink and
// the operation time. Venue may be nil when no account uses a basket.
type Env struct {
	Group *state.Group
	Cache *state.MarketDataCache
	Venue SpotVenue
	Sink  event.Sink
	Now   int64
}

// Emit forwards r to the sink if there is one.
func (e *Env) Emit(r event.Record) {
	if e.Sink != nil {
		e.Sink.Emit(r)
	}
}
