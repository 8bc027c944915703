package server_test

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"LyraeLedger/internal/book"
	"LyraeLedger/internal/core"
	"LyraeLedger/internal/intent"
	fpmath "LyraeLedger/internal/math"
	"LyraeLedger/internal/observability"
	"LyraeLedger/internal/server"
	"LyraeLedger/internal/state"
)

type fakeLedger struct {
	accounts  map[uuid.UUID]*state.Account
	submitErr error
	submitted []intent.Intent
}

func (f *fakeLedger) Account(id uuid.UUID) (*state.Account, bool) {
	a, ok := f.accounts[id]
	return a, ok
}

func (f *fakeLedger) Health(id uuid.UUID) (core.AccountHealth, error) {
	if _, ok := f.accounts[id]; !ok {
		return core.AccountHealth{}, fmt.Errorf("%w: %s", state.ErrInvalidAccount, id)
	}
	return core.AccountHealth{Init: fpmath.FromInt(180), Maint: fpmath.FromInt(190)}, nil
}

func (f *fakeLedger) BookDepth(market, depth int) ([]book.Level, []book.Level, error) {
	if market != 1 {
		return nil, nil, fmt.Errorf("%w: %d", state.ErrInvalidMarket, market)
	}
	asks := []book.Level{{Price: 101, Quantity: 4, Orders: 1}, {Price: 102, Quantity: 1, Orders: 1}}
	return nil, asks[:min(depth, len(asks))], nil
}

func (f *fakeLedger) Sequence() int64       { return 9 }
func (f *fakeLedger) StateHash() [32]byte   { return [32]byte{0xab} }
func (f *fakeLedger) InsuranceFund() uint64 { return 1000 }

func (f *fakeLedger) Submit(in intent.Intent) (core.Result, error) {
	f.submitted = append(f.submitted, in)
	if f.submitErr != nil {
		return core.Result{}, f.submitErr
	}
	return core.Result{FirstSequence: 9, Records: 1}, nil
}

func newTestServer(t *testing.T, ledger *fakeLedger) (http.Handler, *observability.HealthChecker) {
	t.Helper()
	reg := prometheus.NewRegistry()
	checker := observability.NewHealthChecker()
	s, err := server.New(":0", ":0", server.Deps{
		Ledger:   ledger,
		Checker:  checker,
		Metrics:  observability.NewMetrics(reg),
		Gatherer: reg,
		Log:      zerolog.Nop(),
	})
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	return s.Handler(), checker
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

// ============================================================================
// Test: query routes
// ============================================================================

func TestAccountRoutes(t *testing.T) {
	id := uuid.New()
	acct := state.NewAccount(id, uuid.New())
	acct.BeingLiquidated = true
	h, _ := newTestServer(t, &fakeLedger{accounts: map[uuid.UUID]*state.Account{id: acct}})

	rec := do(t, h, "GET", "/v1/accounts/"+id.String(), "")
	if rec.Code != http.StatusOK {
		t.Fatalf("account: %d %s", rec.Code, rec.Body)
	}
	var got state.Account
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil || got.ID != id || !got.BeingLiquidated {
		t.Fatalf("account body: %+v, %v", got, err)
	}
	var flags struct {
		LiquidationState string `json:"liquidation_state"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &flags); err != nil || flags.LiquidationState != "BeingLiquidated" {
		t.Fatalf("liquidation state: %+v, %v", flags, err)
	}

	rec = do(t, h, "GET", "/v1/accounts/"+id.String()+"/health", "")
	var hl core.AccountHealth
	if rec.Code != http.StatusOK || json.Unmarshal(rec.Body.Bytes(), &hl) != nil || !hl.Init.Eq(fpmath.FromInt(180)) {
		t.Fatalf("health: %d %s", rec.Code, rec.Body)
	}

	if rec := do(t, h, "GET", "/v1/accounts/"+uuid.NewString(), ""); rec.Code != http.StatusNotFound {
		t.Errorf("unknown account: got %d", rec.Code)
	}
	if rec := do(t, h, "GET", "/v1/accounts/not-a-uuid/health", ""); rec.Code != http.StatusBadRequest {
		t.Errorf("bad id: got %d", rec.Code)
	}
}

func TestBookRoute(t *testing.T) {
	h, _ := newTestServer(t, &fakeLedger{})

	rec := do(t, h, "GET", "/v1/markets/1/book?depth=1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("book: %d %s", rec.Code, rec.Body)
	}
	var got struct {
		Market int          `json:"market"`
		Asks   []book.Level `json:"asks"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil || got.Market != 1 || len(got.Asks) != 1 || got.Asks[0].Price != 101 {
		t.Fatalf("book body: %+v, %v", got, err)
	}

	if rec := do(t, h, "GET", "/v1/markets/7/book", ""); rec.Code != http.StatusBadRequest {
		t.Errorf("unknown market: got %d", rec.Code)
	}
	if rec := do(t, h, "GET", "/v1/markets/1/book?depth=-2", ""); rec.Code != http.StatusBadRequest {
		t.Errorf("negative depth: got %d", rec.Code)
	}
}

func TestStatusRoute(t *testing.T) {
	h, _ := newTestServer(t, &fakeLedger{})
	rec := do(t, h, "GET", "/v1/status", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"state_hash":"ab00`) {
		t.Fatalf("status: %d %s", rec.Code, rec.Body)
	}
}

// ============================================================================
// Test: intent submission
// ============================================================================

func TestSubmitIntent(t *testing.T) {
	ledger := &fakeLedger{}
	h, _ := newTestServer(t, ledger)

	body := `{"type":"Deposit","intent":{"id":"dep-1","account":"550e8400-e29b-41d4-a716-446655440000","token":15,"quantity":10}}`
	rec := do(t, h, "POST", "/v1/intents", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("submit: %d %s", rec.Code, rec.Body)
	}
	if len(ledger.submitted) != 1 || ledger.submitted[0].Key() != "dep-1" {
		t.Fatalf("submitted: %+v", ledger.submitted)
	}
	if !strings.Contains(rec.Body.String(), `"first_sequence":9`) {
		t.Errorf("body: %s", rec.Body)
	}
}

func TestSubmitIntent_ErrorCodes(t *testing.T) {
	body := `{"type":"Withdraw","intent":{"id":"w-1"}}`
	tests := []struct {
		err  error
		want int
	}{
		{core.ErrDuplicate, http.StatusConflict},
		{fmt.Errorf("x: %w", state.ErrUnauthorized), http.StatusForbidden},
		{state.ErrInvalidPriceCache, http.StatusServiceUnavailable},
		{state.ErrInsufficientHealth, http.StatusUnprocessableEntity},
		{state.ErrMath, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			h, _ := newTestServer(t, &fakeLedger{submitErr: tt.err})
			if rec := do(t, h, "POST", "/v1/intents", body); rec.Code != tt.want {
				t.Fatalf("got %d, want %d", rec.Code, tt.want)
			}
		})
	}

	h, _ := newTestServer(t, &fakeLedger{})
	if rec := do(t, h, "POST", "/v1/intents", `{"type":"Teleport","intent":{}}`); rec.Code != http.StatusBadRequest {
		t.Errorf("malformed: got %d", rec.Code)
	}
}

// ============================================================================
// Test: probes and metrics
// ============================================================================

func TestProbesAndMetrics(t *testing.T) {
	h, checker := newTestServer(t, &fakeLedger{})

	if rec := do(t, h, "GET", "/healthz", ""); rec.Code != http.StatusOK {
		t.Errorf("healthz: %d", rec.Code)
	}
	if rec := do(t, h, "GET", "/readyz", ""); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("readyz before ready: %d", rec.Code)
	}
	checker.SetReady(true)
	if rec := do(t, h, "GET", "/readyz", ""); rec.Code != http.StatusOK {
		t.Errorf("readyz after ready: %d", rec.Code)
	}

	do(t, h, "GET", "/v1/status", "")
	rec := do(t, h, "GET", "/metrics", "")
	if !strings.Contains(rec.Body.String(), `lyrae_query_requests_total{endpoint="status",status="200"} 1`) {
		t.Errorf("metrics missing query counter:\n%s", rec.Body)
	}
}

func TestAuditRoutesWithoutDatabase(t *testing.T) {
	h, _ := newTestServer(t, &fakeLedger{})
	for _, path := range []string{"/v1/audit/envelopes", "/v1/audit/verify", "/v1/intents/Deposit/dep-1"} {
		if rec := do(t, h, "GET", path, ""); rec.Code != http.StatusServiceUnavailable {
			t.Errorf("%s: got %d", path, rec.Code)
		}
	}
}
