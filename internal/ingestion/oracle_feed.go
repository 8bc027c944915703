package ingestion

import (
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	fpmath "LyraeLedger/internal/math"
	"LyraeLedger/internal/state"
)

// PriceSetter receives oracle readings. *host.MemoryOracle implements it.
type PriceSetter interface {
	SetPrice(index int, price fpmath.I80F48, publishedAt int64)
}

// PriceUpdate is one oracle reading as published on the oracle subject.
type PriceUpdate struct {
	Index       int           `json:"index"`
	Price       fpmath.I80F48 `json:"price"`
	PublishedAt int64         `json:"published_at"`
}

// OracleFeed feeds oracle prices from a core NATS subject into the engine's
// oracle. Readings only reach the ledger through a CachePrices intent.
type OracleFeed struct {
	nc      *nats.Conn
	subject string
	oracle  PriceSetter
	sub     *nats.Subscription
	log     zerolog.Logger
}

func NewOracleFeed(nc *nats.Conn, subject string, oracle PriceSetter, log zerolog.Logger) *OracleFeed {
	return &OracleFeed{nc: nc, subject: subject, oracle: oracle, log: log}
}

// Start subscribes to the oracle subject.
func (f *OracleFeed) Start() error {
	sub, err := f.nc.Subscribe(f.subject, func(msg *nats.Msg) {
		if err := f.Handle(msg.Data); err != nil {
			f.log.Warn().Err(err).Str("subject", msg.Subject).Msg("dropping oracle update")
		}
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", f.subject, err)
	}
	f.sub = sub
	f.log.Info().Str("subject", f.subject).Msg("oracle feed subscribed")
	return nil
}

// Handle decodes and applies one update.
func (f *OracleFeed) Handle(data []byte) error {
	var u PriceUpdate
	if err := json.Unmarshal(data, &u); err != nil {
		return fmt.Errorf("decode price update: %w", err)
	}
	if u.Index < 0 || u.Index >= state.MaxPairs {
		return fmt.Errorf("%w: oracle index %d", state.ErrInvalidMarket, u.Index)
	}
	if !u.Price.IsPositive() {
		return fmt.Errorf("%w: non-positive price %s", state.ErrInvalidParam, u.Price)
	}
	f.oracle.SetPrice(u.Index, u.Price, u.PublishedAt)
	return nil
}

func (f *OracleFeed) Stop() {
	if f.sub != nil {
		_ = f.sub.Unsubscribe()
	}
}
