package query_test

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"LyraeLedger/internal/core"
	"LyraeLedger/internal/event"
	"LyraeLedger/internal/intent"
	"LyraeLedger/internal/observability"
	"LyraeLedger/internal/persistence"
	"LyraeLedger/internal/query"
	"LyraeLedger/internal/testutil"
)

func chain(n int) []query.EnvelopeView {
	out := make([]query.EnvelopeView, n)
	prev := "00"
	for i := range out {
		h := string(rune('a' + i))
		out[i] = query.EnvelopeView{Sequence: int64(i + 1), PrevHash: prev, StateHash: h}
		prev = h
	}
	return out
}

// ============================================================================
// Test: chain verification
// ============================================================================

func TestVerifyChain_Intact(t *testing.T) {
	r := query.VerifyChain("", chain(5))
	if !r.IsHealthy || r.Checked != 5 || r.FirstSequence != 1 || r.LastSequence != 5 {
		t.Fatalf("report: got %+v", r)
	}
}

func TestVerifyChain_Break(t *testing.T) {
	envs := chain(5)
	envs[3].PrevHash = "zz"
	r := query.VerifyChain("", envs)
	if r.IsHealthy || len(r.ChainBreaks) != 1 || r.ChainBreaks[0] != 4 {
		t.Fatalf("report: got %+v", r)
	}
}

func TestVerifyChain_GapAndAnchor(t *testing.T) {
	envs := chain(4)
	envs = append(envs[:1], envs[2:]...)
	r := query.VerifyChain("00", envs)
	if r.IsHealthy || len(r.SequenceGaps) != 1 || r.SequenceGaps[0] != 3 {
		t.Fatalf("gap: got %+v", r)
	}

	r = query.VerifyChain("ff", chain(2))
	if r.IsHealthy || len(r.ChainBreaks) != 1 || r.ChainBreaks[0] != 1 {
		t.Fatalf("anchor mismatch: got %+v", r)
	}
}

func TestVerifyChain_Empty(t *testing.T) {
	if r := query.VerifyChain("", nil); !r.IsHealthy || r.Checked != 0 {
		t.Fatalf("report: got %+v", r)
	}
}

// ============================================================================
// Test: Postgres integration
// ============================================================================

func TestAuditService_ReadsPersistedChain(t *testing.T) {
	db := testutil.SetupTestDB(t)

	var prev [32]byte
	ch := make(chan core.Output, 3)
	for i := int64(1); i <= 3; i++ {
		env, err := event.NewEnvelope(i, "d-"+string(rune('0'+i)), 1_700_000_000, &event.DepositLog{Token: 15, Quantity: uint64(i)})
		if err != nil {
			t.Fatalf("envelope: %v", err)
		}
		env.PrevHash = prev
		env.StateHash[0] = byte(i)
		prev = env.StateHash
		ch <- core.Output{IntentType: intent.TypeDeposit, IntentKey: env.IntentKey, Envelopes: []*event.Envelope{env}, StateHash: prev}
	}
	close(ch)

	metrics := observability.NewMetrics(prometheus.NewRegistry())
	if err := persistence.NewWorker(db, ch, 10, time.Second, metrics, zerolog.Nop()).Run(context.Background()); err != nil {
		t.Fatalf("persist: %v", err)
	}

	svc := query.NewAuditService(db)
	ctx := context.Background()

	envs, err := svc.Envelopes(ctx, 1, 10)
	if err != nil || len(envs) != 2 || envs[0].Sequence != 2 {
		t.Fatalf("envelopes after 1: got %+v, %v", envs, err)
	}
	report, err := svc.VerifyIntegrity(ctx, 0, 0)
	if err != nil || !report.IsHealthy || report.Checked != 3 {
		t.Fatalf("integrity: got %+v, %v", report, err)
	}
	iv, err := svc.Intent(ctx, string(intent.TypeDeposit), "d-2")
	if err != nil || iv.FirstSequence == nil || *iv.FirstSequence != 2 {
		t.Fatalf("intent: got %+v, %v", iv, err)
	}
	if _, err := svc.Intent(ctx, string(intent.TypeDeposit), "missing"); err != query.ErrNotFound {
		t.Fatalf("missing intent: got %v", err)
	}
}
