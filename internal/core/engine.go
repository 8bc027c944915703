package core

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"LyraeLedger/internal/event"
	"LyraeLedger/internal/host"
	"LyraeLedger/internal/intent"
	"LyraeLedger/internal/ledger"
	"LyraeLedger/internal/observability"
	"LyraeLedger/internal/state"
)

// ErrDuplicate is returned alongside a zero Result when an intent's key was
// already applied.
var ErrDuplicate = errors.New("duplicate intent")

type Config struct {
	NodeID               string
	IdempotencyCacheSize int
	// SnapshotInterval is the number of committed intents between
	// snapshots. Zero disables snapshots.
	SnapshotInterval int64
	// ValidateInvariants re-checks bank totals, open interest and
	// deposit/borrow exclusivity over every account after each commit.
	ValidateInvariants bool
}

// Deps are the collaborators and initial state the engine owns.
type Deps struct {
	Group   *state.Group
	Markets map[int]*state.PerpMarket
	Fund    *state.InsuranceFund

	Oracle host.Oracle
	Venue  host.SpotVenue
	Clock  host.Clock

	DBChecker DBIdempotencyChecker
	Metrics   *observability.Metrics
	Logger    *zerolog.Logger

	// PersistCh receives every committed output; sends block.
	PersistCh chan<- Output
	// PublishCh receives committed outputs when it has room.
	PublishCh chan<- Output
}

// Output is everything one committed intent produced.
type Output struct {
	IntentType intent.Type
	IntentKey  string
	Envelopes  []*event.Envelope
	// StateHash is the chain tip after the intent.
	StateHash [32]byte
	// Snapshot is set when the intent completed a snapshot interval.
	Snapshot *Snapshot
}

// Result describes the effect of an applied intent.
type Result struct {
	// FirstSequence is the sequence of the intent's first envelope; zero if
	// it produced none.
	FirstSequence int64
	Records       int
	// Account is set by CreateAccount.
	Account uuid.UUID
	// Detail carries the operation's own result, such as a matching.Result
	// or a liquidation count.
	Detail any
}

// Engine is the single writer of all ledger state. Every intent runs as an
// all-or-nothing transaction; queries take a read lock.
type Engine struct {
	mu sync.RWMutex

	cfg      Config
	group    *state.Group
	cache    *state.MarketDataCache
	markets  map[int]*state.PerpMarket
	accounts map[uuid.UUID]*state.Account
	fund     *state.InsuranceFund

	oracle host.Oracle
	venue  host.SpotVenue
	clock  host.Clock

	// sequence is the next envelope sequence.
	sequence    int64
	applied     int64
	hasher      *StateHasher
	idempotency *IdempotencyChecker
	validator   *ledger.InvariantValidator

	metrics *observability.Metrics
	log     zerolog.Logger

	persistCh chan<- Output
	publishCh chan<- Output
}

func New(cfg Config, deps Deps) (*Engine, error) {
	if deps.Group == nil {
		return nil, fmt.Errorf("%w: engine needs a group", state.ErrInvalidParam)
	}
	if cfg.IdempotencyCacheSize <= 0 {
		cfg.IdempotencyCacheSize = 1_000_000
	}
	metrics := deps.Metrics
	if metrics == nil {
		metrics = observability.NewMetrics(prometheus.NewRegistry())
	}
	log := observability.NewLogger("core")
	if deps.Logger != nil {
		log = *deps.Logger
	}
	clock := deps.Clock
	if clock == nil {
		clock = host.SystemClock{}
	}
	markets := deps.Markets
	if markets == nil {
		markets = make(map[int]*state.PerpMarket)
	}
	for i, m := range markets {
		if err := deps.Group.CheckPerpMarket(i); err != nil {
			return nil, fmt.Errorf("market %d: %w", i, err)
		}
		if m.Index != i {
			return nil, fmt.Errorf("%w: market keyed %d has index %d", state.ErrInvalidMarket, i, m.Index)
		}
	}
	fund := deps.Fund
	if fund == nil {
		fund = state.NewInsuranceFund(0)
	}
	idem, err := NewIdempotencyChecker(cfg.IdempotencyCacheSize, deps.DBChecker, metrics)
	if err != nil {
		return nil, err
	}

	e := &Engine{
		cfg:         cfg,
		group:       deps.Group,
		cache:       &state.MarketDataCache{},
		markets:     markets,
		accounts:    make(map[uuid.UUID]*state.Account),
		fund:        fund,
		oracle:      deps.Oracle,
		venue:       deps.Venue,
		clock:       clock,
		sequence:    1,
		hasher:      NewStateHasher(),
		idempotency: idem,
		metrics:     metrics,
		log:         log.With().Str("node_id", cfg.NodeID).Logger(),
		persistCh:   deps.PersistCh,
		publishCh:   deps.PublishCh,
	}
	e.validator = ledger.NewInvariantValidator(e.group, e.markets)
	metrics.InsuranceFundBalance.Set(float64(fund.Balance))
	return e, nil
}

// Submit applies one intent. A duplicate key returns ErrDuplicate without
// effect. A rejected intent leaves all state untouched, emits nothing and
// does not consume its key, so it may be resubmitted.
func (e *Engine) Submit(in intent.Intent) (Result, error) {
	typ := in.Type()
	if in.Key() == "" {
		return Result{}, fmt.Errorf("%w: intent %s has no id", state.ErrInvalidParam, typ)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	start := time.Now()
	if e.idempotency.IsDuplicate(string(typ), in.Key()) {
		e.metrics.IntentsRejected.WithLabelValues(string(typ), "duplicate").Inc()
		return Result{}, ErrDuplicate
	}

	tx := e.begin()
	res, err := tx.run(func() (Result, error) { return e.dispatch(tx, in) })
	if err == nil {
		err = e.checkInvariants()
	}
	if err != nil {
		tx.rollback()
		e.reject(in, err)
		return Result{}, err
	}

	out, err := e.commit(tx, in)
	if err != nil {
		tx.rollback()
		e.reject(in, err)
		return Result{}, err
	}
	e.idempotency.MarkProcessed(string(typ), in.Key())
	e.applied++

	if len(out.Envelopes) > 0 {
		res.FirstSequence = out.Envelopes[0].Sequence
	}
	res.Records = len(out.Envelopes)
	if e.cfg.SnapshotInterval > 0 && e.applied%e.cfg.SnapshotInterval == 0 {
		out.Snapshot = e.snapshotLocked()
	}

	e.observe(tx.buf.Records())
	e.metrics.IntentsApplied.WithLabelValues(string(typ)).Inc()
	e.metrics.IntentDuration.WithLabelValues(string(typ)).Observe(time.Since(start).Seconds())
	e.emit(out)
	return res, nil
}

func (e *Engine) reject(in intent.Intent, err error) {
	reason := "validation"
	switch {
	case errors.Is(err, state.ErrMath):
		reason = "math"
		e.metrics.MathRecovered.Inc()
		e.log.Error().Err(err).Str("intent_type", string(in.Type())).Str("intent_key", in.Key()).Msg("fixed-point overflow")
	case errors.Is(err, state.ErrUnauthorized), errors.Is(err, state.ErrInvalidOwner):
		reason = "unauthorized"
	case errors.Is(err, state.ErrStaleCache):
		reason = "stale_cache"
	case errors.Is(err, state.ErrInsufficientHealth):
		reason = "health"
	case errors.Is(err, state.ErrInvalidAccountState):
		reason = "invariant"
	}
	e.metrics.IntentsRejected.WithLabelValues(string(in.Type()), reason).Inc()
	if reason != "math" {
		e.log.Warn().Err(err).
			Str("intent_type", string(in.Type())).
			Str("intent_key", in.Key()).
			Msg("intent rejected")
	}
}

func (e *Engine) checkInvariants() error {
	if !e.cfg.ValidateInvariants {
		return nil
	}
	return e.validator.ValidateAll(e.accountList())
}

// commit turns the buffered records into hash-chained envelopes. Every
// envelope's digest covers the post-intent state digest and its payload.
func (e *Engine) commit(tx *txn, in intent.Intent) (Output, error) {
	records := tx.buf.Records()
	out := Output{IntentType: in.Type(), IntentKey: in.Key()}
	envs := make([]*event.Envelope, 0, len(records))
	for k, r := range records {
		env, err := event.NewEnvelope(e.sequence+int64(k), in.Key(), tx.env.Now, r)
		if err != nil {
			return Output{}, err
		}
		envs = append(envs, env)
	}

	if len(envs) > 0 {
		hashStart := time.Now()
		digest := e.stateDigest(tx)
		for _, env := range envs {
			e.hasher.Seal(env, digest)
		}
		e.metrics.StateHashDur.Observe(time.Since(hashStart).Seconds())
		e.sequence += int64(len(envs))
	}
	out.Envelopes = envs
	out.StateHash = e.hasher.Tip()
	e.metrics.Sequence.Set(float64(e.sequence))
	return out, nil
}

// stateDigest covers everything the intent touched plus every bank and the
// insurance fund.
func (e *Engine) stateDigest(tx *txn) []byte {
	digest := make([]byte, 0, 4096)

	ids := make([]uuid.UUID, 0, len(tx.accounts)+len(tx.created))
	for id := range tx.accounts {
		ids = append(ids, id)
	}
	ids = append(ids, tx.created...)
	sort.Slice(ids, func(a, b int) bool { return ids[a].String() < ids[b].String() })
	for _, id := range ids {
		if a, ok := e.accounts[id]; ok {
			digest = append(digest, a.CanonicalBytes()...)
		}
	}

	idx := make([]int, 0, len(tx.markets))
	for i := range tx.markets {
		idx = append(idx, i)
	}
	sort.Ints(idx)
	for _, i := range idx {
		digest = append(digest, e.markets[i].CanonicalBytes()...)
	}

	for t := range e.group.Tokens {
		if rb := e.group.Tokens[t].RootBank; rb != nil {
			digest = append(digest, rb.CanonicalBytes()...)
		}
	}
	digest = appendUint64(digest, e.fund.Balance)
	return appendUint64(digest, e.group.FeesVault)
}

func appendUint64(buf []byte, v uint64) []byte {
	for i := 0; i < 8; i++ {
		buf = append(buf, byte(v>>(8*i)))
	}
	return buf
}

// emit hands out to the persist channel, blocking if it is full, and to the
// publish channel if it has room.
func (e *Engine) emit(out Output) {
	if e.persistCh != nil {
		select {
		case e.persistCh <- out:
		default:
			e.metrics.PersistBackpressure.Inc()
			e.persistCh <- out
		}
	}
	if e.publishCh != nil && len(out.Envelopes) > 0 {
		select {
		case e.publishCh <- out:
		default:
			e.metrics.PublishDrops.Inc()
		}
	}
}

// observe feeds committed records into the risk metrics and logs
// liquidation outcomes.
func (e *Engine) observe(records []event.Record) {
	for _, r := range records {
		e.metrics.RecordsEmitted.WithLabelValues(r.RecordType().String()).Inc()
		switch rec := r.(type) {
		case *event.UpdateFundingLog:
			m := fmt.Sprint(rec.MarketIndex)
			e.metrics.FundingUpdates.WithLabelValues(m).Inc()
			e.metrics.FundingRate.WithLabelValues(m).Set(rec.Rate.Float64())
		case *event.LiquidateTokenAndTokenLog:
			e.metrics.Liquidations.WithLabelValues("token_and_token").Inc()
			e.log.Info().Str("liqee", rec.Liqee.String()).Str("liqor", rec.Liqor.String()).Msg("token and token liquidation")
		case *event.LiquidateTokenAndPerpLog:
			e.metrics.Liquidations.WithLabelValues("token_and_perp").Inc()
			e.log.Info().Str("liqee", rec.Liqee.String()).Str("liqor", rec.Liqor.String()).Msg("token and perp liquidation")
		case *event.LiquidatePerpMarketLog:
			e.metrics.Liquidations.WithLabelValues("perp_market").Inc()
			e.log.Info().Str("liqee", rec.Liqee.String()).Str("liqor", rec.Liqor.String()).
				Int("market", rec.MarketIndex).Int64("base_transfer", rec.BaseTransfer).Msg("perp market liquidation")
		case *event.PerpBankruptcyLog:
			e.metrics.Bankruptcies.WithLabelValues("perp").Inc()
			e.log.Info().Str("liqee", rec.Liqee.String()).Int("market", rec.MarketIndex).Msg("perp bankruptcy resolved")
		case *event.TokenBankruptcyLog:
			e.metrics.Bankruptcies.WithLabelValues("token").Inc()
			e.log.Info().Str("liqee", rec.Liqee.String()).Int("token", rec.LiabIndex).Msg("token bankruptcy resolved")
		}
	}
	e.metrics.InsuranceFundBalance.Set(float64(e.fund.Balance))
}

func (e *Engine) accountList() []*state.Account {
	out := make([]*state.Account, 0, len(e.accounts))
	for _, a := range e.accounts {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.String() < out[j].ID.String() })
	return out
}
