package core_test

import (
	"crypto/sha256"
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/uuid"

	"LyraeLedger/internal/book"
	"LyraeLedger/internal/core"
	"LyraeLedger/internal/event"
	"LyraeLedger/internal/host"
	"LyraeLedger/internal/intent"
	"LyraeLedger/internal/matching"
	fpmath "LyraeLedger/internal/math"
	"LyraeLedger/internal/state"
	"LyraeLedger/internal/testutil"
)

const (
	spot = 0
	perp = 1
)

type testEngine struct {
	t       *testing.T
	e       *core.Engine
	f       *testutil.Fixture
	clock   *host.ManualClock
	persist chan core.Output
	publish chan core.Output
	keys    int
}

// newTestEngine lists SOL spot at 20 and an ETH perp at 100 with unit lots,
// publishes both prices and runs the cache cranks.
func newTestEngine(t *testing.T, cfg core.Config) *testEngine {
	t.Helper()
	f := testutil.NewFixture(t)
	f.AddSpot(spot, "SOL", "20")
	f.AddPerp(perp, "ETH-PERP", "100", 1, 1)

	clock := host.NewManualClock(f.Now)
	oracle := host.NewMemoryOracle(clock, 60)
	oracle.SetPrice(spot, fpmath.FromInt(20), f.Now)
	oracle.SetPrice(perp, fpmath.FromInt(100), f.Now)

	te := &testEngine{
		t:       t,
		f:       f,
		clock:   clock,
		persist: make(chan core.Output, 256),
		publish: make(chan core.Output, 256),
	}
	e, err := core.New(cfg, core.Deps{
		Group:     f.Group,
		Markets:   f.Markets,
		Fund:      state.NewInsuranceFund(1_000),
		Oracle:    oracle,
		Venue:     f.Venue,
		Clock:     clock,
		PersistCh: te.persist,
		PublishCh: te.publish,
	})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	te.e = e
	te.crank()
	te.drain()
	return te
}

func (te *testEngine) key() string {
	te.keys++
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte{byte(te.keys >> 8), byte(te.keys)}).String()
}

func (te *testEngine) header(signer uuid.UUID) intent.Header {
	return intent.Header{ID: te.key(), SignedBy: signer}
}

func (te *testEngine) mustSubmit(in intent.Intent) core.Result {
	te.t.Helper()
	res, err := te.e.Submit(in)
	if err != nil {
		te.t.Fatalf("%s: %v", in.Type(), err)
	}
	return res
}

func (te *testEngine) crank() {
	te.t.Helper()
	te.mustSubmit(&intent.CachePrices{Header: te.header(uuid.Nil), Indexes: []int{spot, perp}})
	te.mustSubmit(&intent.CacheRootBanks{Header: te.header(uuid.Nil), Tokens: []int{spot, state.QuoteIndex}})
	te.mustSubmit(&intent.CachePerpMarkets{Header: te.header(uuid.Nil), Markets: []int{perp}})
}

func (te *testEngine) drain() []core.Output {
	var out []core.Output
	for {
		select {
		case o := <-te.persist:
			out = append(out, o)
		default:
			return out
		}
	}
}

// newOwnedAccount creates an account for a fresh owner and funds it.
func (te *testEngine) newOwnedAccount(token int, qty uint64) (id, owner uuid.UUID) {
	te.t.Helper()
	owner = uuid.New()
	res := te.mustSubmit(&intent.CreateAccount{Header: te.header(owner)})
	if qty > 0 {
		te.mustSubmit(&intent.Deposit{Header: te.header(owner), Account: res.Account, Token: token, Quantity: qty})
	}
	return res.Account, owner
}

// near tolerates the binary rounding of leverage-derived weights.
func near(a, b fpmath.I80F48) bool {
	return a.Sub(b).Abs().Lt(fpmath.MustParse("0.000001"))
}

func (te *testEngine) account(id uuid.UUID) *state.Account {
	te.t.Helper()
	a, ok := te.e.Account(id)
	if !ok {
		te.t.Fatalf("account %s not found", id)
	}
	return a
}

// ============================================================================
// Test: commit, envelopes and the hash chain
// ============================================================================

func TestSubmit_EnvelopesAreSequencedAndChained(t *testing.T) {
	te := newTestEngine(t, core.Config{})
	start := te.e.Sequence()
	te.newOwnedAccount(state.QuoteIndex, 500)

	outs := te.drain()
	if len(outs) != 2 {
		t.Fatalf("outputs = %d, want 2", len(outs))
	}
	var envs int
	prev := outs[0].Envelopes[0].PrevHash
	for _, o := range outs {
		for _, env := range o.Envelopes {
			if env.Sequence != start+int64(envs) {
				t.Fatalf("sequence = %d, want %d", env.Sequence, start+int64(envs))
			}
			if env.PrevHash != prev {
				t.Fatalf("envelope %d prev hash does not link", env.Sequence)
			}
			prev = env.StateHash
			envs++
		}
		if o.StateHash != prev {
			t.Fatal("output state hash is not the chain tip")
		}
	}
	if te.e.StateHash() != prev || te.e.Sequence() != start+int64(envs) {
		t.Fatal("engine tip or sequence out of step with outputs")
	}
}

func TestSubmit_FirstEnvelopeChainsFromGenesis(t *testing.T) {
	f := testutil.NewFixture(t)
	persist := make(chan core.Output, 4)
	e, err := core.New(core.Config{}, core.Deps{Group: f.Group, Clock: host.NewManualClock(f.Now), PersistCh: persist})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	owner := uuid.New()
	if _, err := e.Submit(&intent.CreateAccount{Header: intent.Header{ID: "genesis-1", SignedBy: owner}}); err != nil {
		t.Fatalf("create: %v", err)
	}
	out := <-persist
	if out.Envelopes[0].PrevHash != sha256.Sum256([]byte(core.GenesisHashSeed)) {
		t.Fatal("first envelope does not chain from the genesis seed")
	}
	if out.Envelopes[0].Sequence != 1 {
		t.Fatalf("first sequence = %d, want 1", out.Envelopes[0].Sequence)
	}
}

func TestSubmit_PublishesWithoutBlocking(t *testing.T) {
	f := testutil.NewFixture(t)
	publish := make(chan core.Output)
	e, err := core.New(core.Config{}, core.Deps{Group: f.Group, Clock: host.NewManualClock(f.Now), PublishCh: publish})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	if _, err := e.Submit(&intent.CreateAccount{Header: intent.Header{ID: "unread", SignedBy: uuid.New()}}); err != nil {
		t.Fatalf("create: %v", err)
	}
}

// ============================================================================
// Test: idempotency
// ============================================================================

func TestSubmit_DuplicateKeyHasNoEffect(t *testing.T) {
	te := newTestEngine(t, core.Config{})
	id, owner := te.newOwnedAccount(state.QuoteIndex, 0)
	te.drain()

	dep := &intent.Deposit{Header: te.header(owner), Account: id, Token: state.QuoteIndex, Quantity: 100}
	te.mustSubmit(dep)
	if _, err := te.e.Submit(dep); !errors.Is(err, core.ErrDuplicate) {
		t.Fatalf("resubmit = %v, want ErrDuplicate", err)
	}
	if got := te.account(id).Deposits[state.QuoteIndex]; !got.Eq(fpmath.FromInt(100)) {
		t.Fatalf("deposit = %s, want 100", got)
	}
	if n := len(te.drain()); n != 1 {
		t.Fatalf("outputs = %d, want 1", n)
	}
}

func TestSubmit_CreateAccountReplayGivesSameID(t *testing.T) {
	te := newTestEngine(t, core.Config{})
	in := &intent.CreateAccount{Header: te.header(uuid.New())}
	res := te.mustSubmit(in)
	if res.Account != in.AccountID() {
		t.Fatalf("account id = %s, want %s", res.Account, in.AccountID())
	}
	if _, err := te.e.Submit(in); !errors.Is(err, core.ErrDuplicate) {
		t.Fatalf("replay = %v", err)
	}
}

func TestSubmit_MissingKeyRejected(t *testing.T) {
	te := newTestEngine(t, core.Config{})
	if _, err := te.e.Submit(&intent.CreateAccount{}); !errors.Is(err, state.ErrInvalidParam) {
		t.Fatalf("no key: %v", err)
	}
}

// ============================================================================
// Test: atomicity
// ============================================================================

func TestSubmit_RejectionLeavesNoTrace(t *testing.T) {
	te := newTestEngine(t, core.Config{})
	id, owner := te.newOwnedAccount(state.QuoteIndex, 300)
	te.drain()
	hash := te.e.StateHash()

	w := &intent.Withdraw{Header: te.header(owner), Account: id, Token: state.QuoteIndex, Quantity: 400}
	if _, err := te.e.Submit(w); !errors.Is(err, state.ErrInsufficientFunds) {
		t.Fatalf("overdraw: %v", err)
	}
	if len(te.drain()) != 0 || te.e.StateHash() != hash {
		t.Fatal("rejected intent produced output")
	}

	// The key was not consumed.
	te.mustSubmit(&intent.Deposit{Header: te.header(owner), Account: id, Token: state.QuoteIndex, Quantity: 200})
	if res := te.mustSubmit(w); res.Detail != uint64(400) {
		t.Fatalf("retried withdraw = %v", res.Detail)
	}
}

func TestSubmit_FailedHealthCheckRollsBackBorrow(t *testing.T) {
	te := newTestEngine(t, core.Config{ValidateInvariants: true})
	te.newOwnedAccount(state.QuoteIndex, 1_000)
	id, owner := te.newOwnedAccount(spot, 10)
	bank := te.f.Group.Tokens[state.QuoteIndex].RootBank
	vault := bank.Node().Vault

	// 10 SOL at 20 is 180 of Init collateral; a 500 borrow needs 550.
	w := &intent.Withdraw{Header: te.header(owner), Account: id, Token: state.QuoteIndex, Quantity: 500, AllowBorrow: true}
	if _, err := te.e.Submit(w); !errors.Is(err, state.ErrInsufficientHealth) {
		t.Fatalf("withdraw = %v, want ErrInsufficientHealth", err)
	}
	a := te.account(id)
	if !a.Borrows[state.QuoteIndex].IsZero() {
		t.Fatalf("borrow survived rollback: %s", a.Borrows[state.QuoteIndex])
	}
	if got := te.f.Group.Tokens[state.QuoteIndex].RootBank.Node(); got.Vault != vault || !got.Borrows.IsZero() {
		t.Fatalf("bank after rollback: vault %d borrows %s", got.Vault, got.Borrows)
	}
}

// ============================================================================
// Test: authorization
// ============================================================================

func TestSubmit_OwnerAndDelegate(t *testing.T) {
	te := newTestEngine(t, core.Config{})
	id, owner := te.newOwnedAccount(state.QuoteIndex, 1_000)
	stranger, delegate := uuid.New(), uuid.New()

	w := func(signer uuid.UUID) error {
		_, err := te.e.Submit(&intent.Withdraw{Header: te.header(signer), Account: id, Token: state.QuoteIndex, Quantity: 10})
		return err
	}
	if err := w(stranger); !errors.Is(err, state.ErrUnauthorized) {
		t.Fatalf("stranger withdraw = %v", err)
	}
	if _, err := te.e.Submit(&intent.SetDelegate{Header: te.header(stranger), Account: id, Delegate: stranger}); !errors.Is(err, state.ErrInvalidOwner) {
		t.Fatalf("stranger set delegate = %v", err)
	}
	te.mustSubmit(&intent.SetDelegate{Header: te.header(owner), Account: id, Delegate: delegate})
	if err := w(delegate); err != nil {
		t.Fatalf("delegate withdraw: %v", err)
	}

	// Anyone may deposit.
	te.mustSubmit(&intent.Deposit{Header: te.header(stranger), Account: id, Token: state.QuoteIndex, Quantity: 5})
}

// ============================================================================
// Test: trading through the engine
// ============================================================================

func placeLimit(te *testEngine, id, owner uuid.UUID, side book.Side, price, qty int64) matching.Result {
	te.t.Helper()
	res := te.mustSubmit(&intent.PlacePerpOrder{
		Header:    te.header(owner),
		Account:   id,
		Market:    perp,
		Side:      side,
		Price:     price,
		Quantity:  qty,
		OrderType: book.Limit,
	})
	return res.Detail.(matching.Result)
}

func TestSubmit_PlaceMatchAndConsume(t *testing.T) {
	te := newTestEngine(t, core.Config{ValidateInvariants: true})
	maker, makerOwner := te.newOwnedAccount(state.QuoteIndex, 10_000)
	taker, takerOwner := te.newOwnedAccount(state.QuoteIndex, 10_000)

	if res := placeLimit(te, maker, makerOwner, book.Ask, 100, 5); res.Disposition != matching.Posted {
		t.Fatalf("maker = %+v", res)
	}
	if res := placeLimit(te, taker, takerOwner, book.Bid, 100, 2); res.Disposition != matching.Filled {
		t.Fatalf("taker = %+v", res)
	}
	queued, err := te.e.QueuedAccounts(perp, 4)
	if err != nil || len(queued) != 2 || queued[0] != maker || queued[1] != taker {
		t.Fatalf("queued accounts = %v, %v", queued, err)
	}
	res := te.mustSubmit(&intent.ConsumeEvents{Header: te.header(uuid.Nil), Market: perp, Accounts: queued, Limit: 4})
	if c := res.Detail.(matching.ConsumeResult); c.Consumed != 1 {
		t.Fatalf("consumed = %+v", c)
	}

	if got := te.account(maker).Perps[perp].BasePosition; got != -2 {
		t.Fatalf("maker base = %d, want -2", got)
	}
	if got := te.account(taker).Perps[perp].BasePosition; got != 2 {
		t.Fatalf("taker base = %d, want 2", got)
	}
	bids, asks, err := te.e.BookDepth(perp, 5)
	if err != nil || len(bids) != 0 || len(asks) != 1 || asks[0].Quantity != 3 {
		t.Fatalf("depth = %+v %+v, %v", bids, asks, err)
	}
}

func TestSubmit_ConsumeStopsAtUnlistedAccount(t *testing.T) {
	te := newTestEngine(t, core.Config{ValidateInvariants: true})
	maker, makerOwner := te.newOwnedAccount(state.QuoteIndex, 10_000)
	taker, takerOwner := te.newOwnedAccount(state.QuoteIndex, 10_000)
	placeLimit(te, maker, makerOwner, book.Ask, 100, 5)
	placeLimit(te, taker, takerOwner, book.Bid, 100, 2)

	res := te.mustSubmit(&intent.ConsumeEvents{Header: te.header(uuid.Nil), Market: perp, Accounts: []uuid.UUID{taker}, Limit: 4})
	if c := res.Detail.(matching.ConsumeResult); c.Consumed != 0 || c.Missing != maker {
		t.Fatalf("consume without maker = %+v", c)
	}
	if te.account(maker).Perps[perp].BasePosition != 0 || te.account(taker).Perps[perp].BasePosition != 0 {
		t.Fatal("fill applied without its maker")
	}

	res = te.mustSubmit(&intent.ConsumeEvents{Header: te.header(uuid.Nil), Market: perp, Accounts: []uuid.UUID{maker, taker}, Limit: 4})
	if c := res.Detail.(matching.ConsumeResult); c.Consumed != 1 {
		t.Fatalf("retry consumed = %+v", c)
	}
	if got := te.account(maker).Perps[perp].BasePosition; got != -2 {
		t.Fatalf("maker base = %d, want -2", got)
	}
}

func TestSubmit_HealthQuery(t *testing.T) {
	te := newTestEngine(t, core.Config{})
	id, _ := te.newOwnedAccount(spot, 10)

	h, err := te.e.Health(id)
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	if !near(h.Init, fpmath.FromInt(180)) || !near(h.Maint, fpmath.FromInt(190)) {
		t.Fatalf("health = %s / %s, want 180 / 190", h.Init, h.Maint)
	}

	te.clock.Advance(int64(te.f.Group.ValidInterval) + 1)
	if _, err := te.e.Health(id); !errors.Is(err, state.ErrStaleCache) {
		t.Fatalf("stale health = %v", err)
	}
}

// ============================================================================
// Test: snapshots
// ============================================================================

func TestSnapshot_IntervalAttachesSnapshot(t *testing.T) {
	te := newTestEngine(t, core.Config{SnapshotInterval: 5})
	// The three cranks were intents 1-3.
	te.newOwnedAccount(state.QuoteIndex, 100)
	outs := te.drain()
	if len(outs) != 2 || outs[0].Snapshot != nil || outs[1].Snapshot == nil {
		t.Fatalf("snapshot on outputs = %v, %v", outs[0].Snapshot != nil, outs[1].Snapshot != nil)
	}
	if outs[1].Snapshot.StateHash != outs[1].StateHash {
		t.Fatal("snapshot hash differs from the output tip")
	}
}

func TestSnapshot_RestoreReproducesState(t *testing.T) {
	te := newTestEngine(t, core.Config{})
	maker, makerOwner := te.newOwnedAccount(state.QuoteIndex, 10_000)
	taker, takerOwner := te.newOwnedAccount(state.QuoteIndex, 10_000)
	placeLimit(te, maker, makerOwner, book.Ask, 101, 5)
	placeLimit(te, taker, takerOwner, book.Bid, 101, 1)
	dep := &intent.Deposit{Header: te.header(makerOwner), Account: maker, Token: state.QuoteIndex, Quantity: 1}
	te.mustSubmit(dep)

	raw, err := json.Marshal(te.e.Snapshot())
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	var snap core.Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		t.Fatalf("decode: %v", err)
	}

	other := newTestEngine(t, core.Config{})
	if err := other.e.Restore(&snap); err != nil {
		t.Fatalf("restore: %v", err)
	}
	if other.e.StateHash() != te.e.StateHash() || other.e.Sequence() != te.e.Sequence() {
		t.Fatal("restored chain tip differs")
	}
	a, b := te.account(maker), other.account(maker)
	if !a.Deposits[state.QuoteIndex].Eq(b.Deposits[state.QuoteIndex]) || a.Perps[perp].AsksQuantity != b.Perps[perp].AsksQuantity {
		t.Fatal("restored maker differs")
	}
	_, asks, _ := other.e.BookDepth(perp, 1)
	if len(asks) != 1 || asks[0].Price != 101 || asks[0].Quantity != 4 {
		t.Fatalf("restored asks = %+v", asks)
	}

	// The restored engine consumes the queued fill and knows the old keys.
	queued, err := other.e.QueuedAccounts(perp, 4)
	if err != nil {
		t.Fatalf("queued accounts: %v", err)
	}
	res, err := other.e.Submit(&intent.ConsumeEvents{Header: intent.Header{ID: "after-restore"}, Market: perp, Accounts: queued, Limit: 4})
	if err != nil || res.Detail.(matching.ConsumeResult).Consumed != 1 {
		t.Fatalf("consume after restore = %+v, %v", res.Detail, err)
	}
	if _, err := other.e.Submit(dep); !errors.Is(err, core.ErrDuplicate) {
		t.Fatalf("replayed deposit after restore = %v", err)
	}
}

// ============================================================================
// Test: state hasher
// ============================================================================

func TestStateHasher_SealLinksAndCoversKey(t *testing.T) {
	seal := func(key string) (*event.Envelope, *event.Envelope) {
		h := core.NewStateHasher()
		a := &event.Envelope{Sequence: 1, IntentKey: key, Type: event.RecordTypeUnknown, Payload: []byte(`{}`)}
		b := &event.Envelope{Sequence: 2, IntentKey: key, Type: event.RecordTypeUnknown, Payload: []byte(`{}`)}
		h.Seal(a, []byte("digest"))
		h.Seal(b, []byte("digest"))
		if h.Tip() != b.StateHash {
			t.Fatalf("tip %x, want %x", h.Tip(), b.StateHash)
		}
		return a, b
	}

	a1, b1 := seal("k1")
	if a1.PrevHash != sha256.Sum256([]byte(core.GenesisHashSeed)) || b1.PrevHash != a1.StateHash {
		t.Fatal("envelopes are not linked")
	}
	a2, _ := seal("k1")
	if a2.StateHash != a1.StateHash {
		t.Error("sealing is not deterministic")
	}
	a3, _ := seal("k2")
	if a3.StateHash == a1.StateHash {
		t.Error("intent key is not covered by the hash")
	}

	restored := core.RestoreStateHasher(b1.StateHash)
	c := &event.Envelope{Sequence: 3, IntentKey: "k1", Payload: []byte(`{}`)}
	restored.Seal(c, nil)
	if c.PrevHash != b1.StateHash {
		t.Error("restored hasher does not continue the chain")
	}
}
