package server

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"

	"LyraeLedger/internal/book"
	"LyraeLedger/internal/core"
	"LyraeLedger/internal/ingestion"
	"LyraeLedger/internal/query"
	"LyraeLedger/internal/state"
)

const maxIntentBody = 1 << 20

type api struct {
	deps Deps
}

type route struct {
	method  string
	pattern string
	name    string
	handler runtime.HandlerFunc
}

func (a *api) register(mux *runtime.ServeMux) error {
	routes := []route{
		{"GET", "/v1/status", "status", a.status},
		{"GET", "/v1/accounts/{id}", "account", a.account},
		{"GET", "/v1/accounts/{id}/health", "account_health", a.accountHealth},
		{"GET", "/v1/markets/{index}/book", "book", a.book},
		{"POST", "/v1/intents", "submit_intent", a.submitIntent},
		{"GET", "/v1/intents/{type}/{key}", "intent", a.intent},
		{"GET", "/v1/audit/envelopes", "audit_envelopes", a.auditEnvelopes},
		{"GET", "/v1/audit/verify", "audit_verify", a.auditVerify},
	}
	for _, r := range routes {
		if err := mux.HandlePath(r.method, r.pattern, a.instrument(r.name, r.handler)); err != nil {
			return fmt.Errorf("register %s %s: %w", r.method, r.pattern, err)
		}
	}
	return nil
}

// statusRecorder captures the response code for metrics.
type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.code = code
	r.ResponseWriter.WriteHeader(code)
}

func (a *api) instrument(name string, h runtime.HandlerFunc) runtime.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request, params map[string]string) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, code: http.StatusOK}
		h(rec, r, params)
		if m := a.deps.Metrics; m != nil {
			m.QueryRequests.WithLabelValues(name, strconv.Itoa(rec.code)).Inc()
			m.QueryDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
		}
	}
}

// ============================================================================
// Engine routes
// ============================================================================

type statusResponse struct {
	Sequence      int64  `json:"sequence"`
	StateHash     string `json:"state_hash"`
	InsuranceFund uint64 `json:"insurance_fund"`
}

func (a *api) status(w http.ResponseWriter, _ *http.Request, _ map[string]string) {
	h := a.deps.Ledger.StateHash()
	writeJSON(w, http.StatusOK, statusResponse{
		Sequence:      a.deps.Ledger.Sequence(),
		StateHash:     hex.EncodeToString(h[:]),
		InsuranceFund: a.deps.Ledger.InsuranceFund(),
	})
}

func (a *api) account(w http.ResponseWriter, _ *http.Request, params map[string]string) {
	id, err := uuid.Parse(params["id"])
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("%w: account id: %v", state.ErrInvalidParam, err))
		return
	}
	acct, ok := a.deps.Ledger.Account(id)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Errorf("%w: %s", state.ErrInvalidAccount, id))
		return
	}
	writeJSON(w, http.StatusOK, accountResponse{Account: acct, LiquidationState: acct.LiquidationState().String()})
}

// accountResponse is the account with its derived liquidation state.
type accountResponse struct {
	*state.Account
	LiquidationState string `json:"liquidation_state"`
}

func (a *api) accountHealth(w http.ResponseWriter, _ *http.Request, params map[string]string) {
	id, err := uuid.Parse(params["id"])
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("%w: account id: %v", state.ErrInvalidParam, err))
		return
	}
	h, err := a.deps.Ledger.Health(id)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, h)
}

type bookResponse struct {
	Market int          `json:"market"`
	Bids   []book.Level `json:"bids"`
	Asks   []book.Level `json:"asks"`
}

func (a *api) book(w http.ResponseWriter, r *http.Request, params map[string]string) {
	index, err := strconv.Atoi(params["index"])
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("%w: market index: %v", state.ErrInvalidParam, err))
		return
	}
	depth, err := intParam(r, "depth", 20)
	if err != nil || depth <= 0 {
		writeError(w, http.StatusBadRequest, fmt.Errorf("%w: depth must be a positive integer", state.ErrInvalidParam))
		return
	}
	bids, asks, err := a.deps.Ledger.BookDepth(index, depth)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, bookResponse{Market: index, Bids: bids, Asks: asks})
}

type submitResponse struct {
	FirstSequence int64      `json:"first_sequence"`
	Records       int        `json:"records"`
	Account       *uuid.UUID `json:"account,omitempty"`
	Detail        any        `json:"detail,omitempty"`
}

// submitIntent accepts the same {"type": ..., "intent": {...}} message the
// NATS intake decodes.
func (a *api) submitIntent(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxIntentBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	in, err := ingestion.ParseMessage(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	res, err := a.deps.Ledger.Submit(in)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	resp := submitResponse{FirstSequence: res.FirstSequence, Records: res.Records, Detail: res.Detail}
	if res.Account != uuid.Nil {
		resp.Account = &res.Account
	}
	writeJSON(w, http.StatusOK, resp)
}

// ============================================================================
// Audit routes
// ============================================================================

type intentResponse struct {
	Intent    *query.IntentView    `json:"intent"`
	Envelopes []query.EnvelopeView `json:"envelopes"`
}

func (a *api) intent(w http.ResponseWriter, r *http.Request, params map[string]string) {
	if a.deps.Audit == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("audit log unavailable"))
		return
	}
	iv, err := a.deps.Audit.Intent(r.Context(), params["type"], params["key"])
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	envs, err := a.deps.Audit.IntentEnvelopes(r.Context(), params["key"])
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, intentResponse{Intent: iv, Envelopes: envs})
}

func (a *api) auditEnvelopes(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	if a.deps.Audit == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("audit log unavailable"))
		return
	}
	after, err1 := intParam(r, "after", 0)
	limit, err2 := intParam(r, "limit", 100)
	if err := errors.Join(err1, err2); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	envs, err := a.deps.Audit.Envelopes(r.Context(), int64(after), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, envs)
}

func (a *api) auditVerify(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	if a.deps.Audit == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("audit log unavailable"))
		return
	}
	after, err1 := intParam(r, "after", 0)
	limit, err2 := intParam(r, "limit", 10_000)
	if err := errors.Join(err1, err2); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	report, err := a.deps.Audit.VerifyIntegrity(r.Context(), int64(after), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// ============================================================================
// Helpers
// ============================================================================

// statusFor maps ledger errors to HTTP status codes. Anything not listed is a
// business rejection.
func statusFor(err error) int {
	switch {
	case errors.Is(err, core.ErrDuplicate):
		return http.StatusConflict
	case errors.Is(err, state.ErrInvalidAccount), errors.Is(err, query.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, state.ErrUnauthorized), errors.Is(err, state.ErrInvalidOwner):
		return http.StatusForbidden
	case errors.Is(err, state.ErrStaleCache):
		return http.StatusServiceUnavailable
	case errors.Is(err, state.ErrInvalidParam), errors.Is(err, state.ErrInvalidMarket), errors.Is(err, state.ErrInvalidToken):
		return http.StatusBadRequest
	case errors.Is(err, state.ErrMath):
		return http.StatusInternalServerError
	default:
		return http.StatusUnprocessableEntity
	}
}

func intParam(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", name, err)
	}
	return v, nil
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}
