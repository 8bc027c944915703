package ingestion

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"LyraeLedger/internal/core"
	"LyraeLedger/internal/intent"
	"LyraeLedger/internal/state"
)

// KeeperPlan lists what the keeper cranks each tick.
type KeeperPlan struct {
	Tokens       []int
	Oracles      []int
	PerpMarkets  []int
	ConsumeLimit int
}

// PlanFor derives a plan from the group's listed tokens and markets.
func PlanFor(g *state.Group, consumeLimit int) KeeperPlan {
	p := KeeperPlan{ConsumeLimit: consumeLimit}
	for i := 0; i < g.NumOracles; i++ {
		p.Oracles = append(p.Oracles, i)
		if g.Tokens[i].IsListed() {
			p.Tokens = append(p.Tokens, i)
		}
		if g.PerpMarkets[i].Listed {
			p.PerpMarkets = append(p.PerpMarkets, i)
		}
	}
	p.Tokens = append(p.Tokens, state.QuoteIndex)
	return p
}

// KeeperEngine is the engine as the keeper sees it.
type KeeperEngine interface {
	Submitter
	QueuedAccounts(market, limit int) ([]uuid.UUID, error)
}

// Keeper submits the periodic crank intents: prices, bank interest, funding
// and event consumption. Keys embed the tick time, so a restarted keeper
// never replays a crank that already applied.
type Keeper struct {
	engine   KeeperEngine
	plan     KeeperPlan
	interval time.Duration
	log      zerolog.Logger
}

func NewKeeper(engine KeeperEngine, plan KeeperPlan, interval time.Duration, log zerolog.Logger) *Keeper {
	return &Keeper{engine: engine, plan: plan, interval: interval, log: log}
}

// Run ticks until ctx is done.
func (k *Keeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(k.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			k.Tick(now.Unix())
		}
	}
}

// Tick submits one round of cranks and returns how many applied. Caches go
// first so the funding update and event consumption see fresh values.
func (k *Keeper) Tick(now int64) int {
	applied := 0
	for _, in := range k.intents(now) {
		_, err := k.engine.Submit(in)
		switch {
		case err == nil:
			applied++
		case errors.Is(err, core.ErrDuplicate):
		default:
			k.log.Debug().Err(err).Str("intent", string(in.Type())).Str("key", in.Key()).Msg("crank rejected")
		}
	}
	return applied
}

func (k *Keeper) intents(now int64) []intent.Intent {
	key := func(typ intent.Type, target int) intent.Header {
		return intent.Header{ID: fmt.Sprintf("keeper:%s:%d:%d", typ, target, now)}
	}

	out := []intent.Intent{
		&intent.CachePrices{Header: key(intent.TypeCachePrices, -1), Indexes: k.plan.Oracles},
	}
	for _, t := range k.plan.Tokens {
		out = append(out, &intent.UpdateRootBank{Header: key(intent.TypeUpdateRootBank, t), Token: t})
	}
	out = append(out, &intent.CacheRootBanks{Header: key(intent.TypeCacheRootBanks, -1), Tokens: k.plan.Tokens})
	for _, m := range k.plan.PerpMarkets {
		out = append(out, &intent.UpdateFunding{Header: key(intent.TypeUpdateFunding, m), Market: m})
	}
	if len(k.plan.PerpMarkets) > 0 {
		out = append(out, &intent.CachePerpMarkets{Header: key(intent.TypeCachePerpMarkets, -1), Markets: k.plan.PerpMarkets})
	}
	if k.plan.ConsumeLimit > 0 {
		for _, m := range k.plan.PerpMarkets {
			accounts, err := k.engine.QueuedAccounts(m, k.plan.ConsumeLimit)
			if err != nil {
				k.log.Debug().Err(err).Int("market", m).Msg("queue read failed")
				continue
			}
			if len(accounts) == 0 {
				continue
			}
			out = append(out, &intent.ConsumeEvents{
				Header:   key(intent.TypeConsumeEvents, m),
				Market:   m,
				Accounts: accounts,
				Limit:    k.plan.ConsumeLimit,
			})
		}
	}
	return out
}
