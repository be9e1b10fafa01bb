// Package api exposes the pool engine over HTTP and WebSocket.
//
// Every mutating request names its caller in the X-Caller-Address header;
// authorisation itself is decided by the pool.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/hicpool/pool-engine/internal/access"
	"github.com/hicpool/pool-engine/internal/model"
	"github.com/hicpool/pool-engine/internal/pool"
	"github.com/hicpool/pool-engine/internal/timer"
)

// CallerHeader carries the address of the acting caller.
const CallerHeader = "X-Caller-Address"

// Handler serves the /api/v1 routes on top of an Ecosystem.
type Handler struct {
	eco      *pool.Ecosystem
	hub      *WSHub // optional
	defaults InitDefaults
}

// InitDefaults fill the parts of an init request the caller leaves out.
type InitDefaults struct {
	TimerAddress model.Address
	IsWinterTime bool
}

// NewHandler creates a handler. Pass nil for hub if the live event feed is
// not needed.
func NewHandler(eco *pool.Ecosystem, hub *WSHub) *Handler {
	return &Handler{eco: eco, hub: hub}
}

// WithInitDefaults sets the defaults applied to POST /pool/init.
func (h *Handler) WithInitDefaults(d InitDefaults) *Handler {
	h.defaults = d
	return h
}

// Routes mounts every endpoint on r.
func (h *Handler) Routes(r chi.Router) {
	if h.hub != nil {
		r.Get("/ws", h.hub.HandleWS)
	}

	r.Post("/pool/init", h.InitEcosystem)
	r.Get("/pool", h.GetPool)
	r.Get("/pool/days/{day}", h.GetPoolDay)
	r.Post("/pool/expenses", h.SetWcExpenses)
	r.Post("/pool/daylight-saving", h.AdjustDaylightSaving)
	r.Post("/pool/accelerate", h.AcceleratePoolYield)

	r.Post("/access/preauth", h.PreAuth)
	r.Post("/access/keys", h.AddKey)
	r.Post("/access/rotate", h.RotateKey)

	r.Post("/bank/credits", h.ProcessAccountCredit)
	r.Get("/bank/advice", h.ListAdvice)
	r.Post("/bank/advice/{idx}/process", h.ProcessPaymentAdvice)

	r.Post("/bonds", h.CreateBond)
	r.Get("/bonds/{hash}", h.GetBond)

	r.Post("/adjustors", h.CreateAdjustor)
	r.Get("/adjustors/{hash}", h.GetAdjustor)
	r.Put("/adjustors/{hash}", h.UpdateAdjustor)
	r.Delete("/adjustors/{hash}", h.RetireAdjustor)

	r.Post("/policies", h.CreatePolicy)
	r.Get("/policies/{hash}", h.GetPolicy)
	r.Put("/policies/{hash}", h.UpdatePolicy)
	r.Post("/policies/{hash}/suspend", h.SuspendPolicy)
	r.Post("/policies/{hash}/unsuspend", h.UnsuspendPolicy)
	r.Post("/policies/{hash}/retire", h.RetirePolicy)

	r.Post("/settlements", h.CreateSettlement)
	r.Get("/settlements/{hash}", h.GetSettlement)
	r.Post("/settlements/{hash}/info", h.AddSettlementInfo)
	r.Post("/settlements/{hash}/expected", h.SetExpectedSettlementAmount)
	r.Post("/settlements/{hash}/close", h.CloseSettlement)

	r.Post("/timer/ping", h.Ping)
	r.Get("/timer/jobs", h.ListJobs)

	r.Get("/events", h.ListEvents)
	r.Get("/reconcile", h.Reconcile)
}

// --- Request types ---

// InitRequest is the JSON body for POST /pool/init. A missing timer address
// or winter time flag falls back to the handler's defaults.
type InitRequest struct {
	Addresses    map[access.Component]model.Address `json:"addresses"`
	IsWinterTime *bool                              `json:"is_winter_time,omitempty"`
}

// AmountRequest carries a single Cu amount.
type AmountRequest struct {
	AmountCu int64 `json:"amount_cu"`
}

// AccelerateRequest is the JSON body for POST /pool/accelerate.
type AccelerateRequest struct {
	Intervals int `json:"intervals"`
}

// KeyRequest is the JSON body for POST /access/keys.
type KeyRequest struct {
	Key model.Address `json:"key"`
}

// AdviceRequest is the JSON body for POST /bank/advice/{idx}/process.
type AdviceRequest struct {
	TransactionIdx uint64 `json:"transaction_idx"`
}

// BondRequest is the JSON body for POST /bonds.
type BondRequest struct {
	PrincipalCu int64      `json:"principal_cu"`
	Reference   model.Hash `json:"reference"`
}

// PolicyRequest is the JSON body for POST /policies and PUT /policies/{hash}.
// Owner is ignored on update.
type PolicyRequest struct {
	Adjustor     model.Hash    `json:"adjustor"`
	Owner        model.Address `json:"owner"`
	DocumentHash model.Hash    `json:"document_hash"`
	RiskPoints   int64         `json:"risk_points"`
}

// SettlementRequest is the JSON body for settlement operations. Policy is
// read on create only, DocumentHash on create and info, AmountCu on
// expected and close.
type SettlementRequest struct {
	Adjustor     model.Hash `json:"adjustor"`
	Policy       model.Hash `json:"policy"`
	DocumentHash model.Hash `json:"document_hash"`
	AmountCu     int64      `json:"amount_cu"`
}

// PingRequest is the JSON body for POST /timer/ping.
type PingRequest struct {
	Kind    timer.Kind `json:"kind"`
	Subject model.Hash `json:"subject"`
	At      int64      `json:"at"`
}

// --- Pool and trust ---

// InitEcosystem handles POST /api/v1/pool/init
func (h *Handler) InitEcosystem(w http.ResponseWriter, r *http.Request) {
	var req InitRequest
	if !decode(w, r, &req) {
		return
	}
	winter := h.defaults.IsWinterTime
	if req.IsWinterTime != nil {
		winter = *req.IsWinterTime
	}
	if req.Addresses[access.ComponentTimer] == "" && h.defaults.TimerAddress != "" {
		addrs := make(map[access.Component]model.Address, len(req.Addresses)+1)
		for c, a := range req.Addresses {
			addrs[c] = a
		}
		addrs[access.ComponentTimer] = h.defaults.TimerAddress
		req.Addresses = addrs
	}
	if err := h.eco.InitEcosystem(r.Context(), caller(r), req.Addresses, winter); err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.eco.Pool())
}

// GetPool handles GET /api/v1/pool
func (h *Handler) GetPool(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.eco.Pool())
}

// GetPoolDay handles GET /api/v1/pool/days/{day}
func (h *Handler) GetPoolDay(w http.ResponseWriter, r *http.Request) {
	day, err := strconv.ParseInt(chi.URLParam(r, "day"), 10, 64)
	if err != nil {
		writeError(w, "invalid pool day", http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"day":                        day,
		"premium_per_risk_point_ppm": h.eco.PremiumRates(day),
		"bond_maturity_payouts_cu":   h.eco.BondMaturityPayouts(day),
	})
}

// SetWcExpenses handles POST /api/v1/pool/expenses
func (h *Handler) SetWcExpenses(w http.ResponseWriter, r *http.Request) {
	var req AmountRequest
	if !decode(w, r, &req) {
		return
	}
	if err := h.eco.SetWcExpenses(r.Context(), caller(r), req.AmountCu); err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.eco.Pool())
}

// AdjustDaylightSaving handles POST /api/v1/pool/daylight-saving
func (h *Handler) AdjustDaylightSaving(w http.ResponseWriter, r *http.Request) {
	if err := h.eco.AdjustDaylightSaving(r.Context(), caller(r)); err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.eco.Pool())
}

// AcceleratePoolYield handles POST /api/v1/pool/accelerate
func (h *Handler) AcceleratePoolYield(w http.ResponseWriter, r *http.Request) {
	var req AccelerateRequest
	if !decode(w, r, &req) {
		return
	}
	applied, err := h.eco.AcceleratePoolYield(r.Context(), caller(r), req.Intervals)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"applied":     applied,
		"b_yield_ppb": h.eco.Pool().BYieldPpb,
	})
}

// --- Access ---

// PreAuth handles POST /api/v1/access/preauth
func (h *Handler) PreAuth(w http.ResponseWriter, r *http.Request) {
	if err := h.eco.PreAuth(r.Context(), caller(r)); err != nil {
		writeFailure(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// AddKey handles POST /api/v1/access/keys
func (h *Handler) AddKey(w http.ResponseWriter, r *http.Request) {
	var req KeyRequest
	if !decode(w, r, &req) {
		return
	}
	if err := h.eco.AddKey(r.Context(), caller(r), req.Key); err != nil {
		writeFailure(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RotateKey handles POST /api/v1/access/rotate
func (h *Handler) RotateKey(w http.ResponseWriter, r *http.Request) {
	if err := h.eco.RotateKey(r.Context(), caller(r)); err != nil {
		writeFailure(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- Bank ---

// ProcessAccountCredit handles POST /api/v1/bank/credits
func (h *Handler) ProcessAccountCredit(w http.ResponseWriter, r *http.Request) {
	var req pool.Credit
	if !decode(w, r, &req) {
		return
	}
	res, err := h.eco.ProcessAccountCredit(r.Context(), caller(r), req)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// ListAdvice handles GET /api/v1/bank/advice
func (h *Handler) ListAdvice(w http.ResponseWriter, r *http.Request) {
	advice := h.eco.Advice()
	if advice == nil {
		advice = []model.PaymentAdvice{}
	}
	writeJSON(w, http.StatusOK, advice)
}

// ProcessPaymentAdvice handles POST /api/v1/bank/advice/{idx}/process
func (h *Handler) ProcessPaymentAdvice(w http.ResponseWriter, r *http.Request) {
	idx, err := strconv.ParseUint(chi.URLParam(r, "idx"), 10, 64)
	if err != nil {
		writeError(w, "invalid advice index", http.StatusBadRequest)
		return
	}
	var req AdviceRequest
	if !decode(w, r, &req) {
		return
	}
	processed, err := h.eco.ProcessPaymentAdvice(r.Context(), caller(r), idx, req.TransactionIdx)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"processed": processed})
}

// --- Bonds ---

// CreateBond handles POST /api/v1/bonds
func (h *Handler) CreateBond(w http.ResponseWriter, r *http.Request) {
	var req BondRequest
	if !decode(w, r, &req) {
		return
	}
	hash, err := h.eco.CreateBond(r.Context(), caller(r), req.PrincipalCu, req.Reference)
	if err != nil {
		writeFailure(w, err)
		return
	}
	bond, _ := h.eco.Bond(hash)
	writeJSON(w, http.StatusCreated, bond)
}

// GetBond handles GET /api/v1/bonds/{hash}
func (h *Handler) GetBond(w http.ResponseWriter, r *http.Request) {
	hash, ok := hashParam(w, r)
	if !ok {
		return
	}
	bond, err := h.eco.Bond(hash)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, bond)
}

// --- Adjustors ---

// CreateAdjustor handles POST /api/v1/adjustors
func (h *Handler) CreateAdjustor(w http.ResponseWriter, r *http.Request) {
	var req pool.AdjustorTerms
	if !decode(w, r, &req) {
		return
	}
	hash, err := h.eco.CreateAdjustor(r.Context(), caller(r), req)
	if err != nil {
		writeFailure(w, err)
		return
	}
	adj, _ := h.eco.Adjustor(hash)
	writeJSON(w, http.StatusCreated, adj)
}

// GetAdjustor handles GET /api/v1/adjustors/{hash}
func (h *Handler) GetAdjustor(w http.ResponseWriter, r *http.Request) {
	hash, ok := hashParam(w, r)
	if !ok {
		return
	}
	adj, err := h.eco.Adjustor(hash)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, adj)
}

// UpdateAdjustor handles PUT /api/v1/adjustors/{hash}
func (h *Handler) UpdateAdjustor(w http.ResponseWriter, r *http.Request) {
	hash, ok := hashParam(w, r)
	if !ok {
		return
	}
	var req pool.AdjustorTerms
	if !decode(w, r, &req) {
		return
	}
	if err := h.eco.UpdateAdjustor(r.Context(), caller(r), hash, req); err != nil {
		writeFailure(w, err)
		return
	}
	adj, _ := h.eco.Adjustor(hash)
	writeJSON(w, http.StatusOK, adj)
}

// RetireAdjustor handles DELETE /api/v1/adjustors/{hash}
func (h *Handler) RetireAdjustor(w http.ResponseWriter, r *http.Request) {
	hash, ok := hashParam(w, r)
	if !ok {
		return
	}
	if err := h.eco.RetireAdjustor(r.Context(), caller(r), hash); err != nil {
		writeFailure(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- Policies ---

// CreatePolicy handles POST /api/v1/policies
func (h *Handler) CreatePolicy(w http.ResponseWriter, r *http.Request) {
	var req PolicyRequest
	if !decode(w, r, &req) {
		return
	}
	hash, err := h.eco.CreatePolicy(r.Context(), caller(r), req.Adjustor, req.Owner, req.DocumentHash, req.RiskPoints)
	if err != nil {
		writeFailure(w, err)
		return
	}
	policy, _ := h.eco.Policy(hash)
	writeJSON(w, http.StatusCreated, policy)
}

// GetPolicy handles GET /api/v1/policies/{hash}
func (h *Handler) GetPolicy(w http.ResponseWriter, r *http.Request) {
	hash, ok := hashParam(w, r)
	if !ok {
		return
	}
	policy, err := h.eco.Policy(hash)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, policy)
}

// UpdatePolicy handles PUT /api/v1/policies/{hash}
func (h *Handler) UpdatePolicy(w http.ResponseWriter, r *http.Request) {
	hash, ok := hashParam(w, r)
	if !ok {
		return
	}
	var req PolicyRequest
	if !decode(w, r, &req) {
		return
	}
	if err := h.eco.UpdatePolicy(r.Context(), caller(r), req.Adjustor, hash, req.DocumentHash, req.RiskPoints); err != nil {
		writeFailure(w, err)
		return
	}
	policy, _ := h.eco.Policy(hash)
	writeJSON(w, http.StatusOK, policy)
}

// SuspendPolicy handles POST /api/v1/policies/{hash}/suspend
func (h *Handler) SuspendPolicy(w http.ResponseWriter, r *http.Request) {
	h.policyTransition(w, r, h.eco.SuspendPolicy)
}

// UnsuspendPolicy handles POST /api/v1/policies/{hash}/unsuspend
func (h *Handler) UnsuspendPolicy(w http.ResponseWriter, r *http.Request) {
	h.policyTransition(w, r, h.eco.UnsuspendPolicy)
}

// RetirePolicy handles POST /api/v1/policies/{hash}/retire
func (h *Handler) RetirePolicy(w http.ResponseWriter, r *http.Request) {
	h.policyTransition(w, r, h.eco.RetirePolicy)
}

func (h *Handler) policyTransition(w http.ResponseWriter, r *http.Request, op func(context.Context, model.Address, model.Hash) error) {
	hash, ok := hashParam(w, r)
	if !ok {
		return
	}
	if err := op(r.Context(), caller(r), hash); err != nil {
		writeFailure(w, err)
		return
	}
	policy, _ := h.eco.Policy(hash)
	writeJSON(w, http.StatusOK, policy)
}

// --- Settlements ---

// CreateSettlement handles POST /api/v1/settlements
func (h *Handler) CreateSettlement(w http.ResponseWriter, r *http.Request) {
	var req SettlementRequest
	if !decode(w, r, &req) {
		return
	}
	hash, err := h.eco.CreateSettlement(r.Context(), caller(r), req.Adjustor, req.Policy, req.DocumentHash)
	if err != nil {
		writeFailure(w, err)
		return
	}
	s, _ := h.eco.Settlement(hash)
	writeJSON(w, http.StatusCreated, s)
}

// GetSettlement handles GET /api/v1/settlements/{hash}
func (h *Handler) GetSettlement(w http.ResponseWriter, r *http.Request) {
	hash, ok := hashParam(w, r)
	if !ok {
		return
	}
	s, err := h.eco.Settlement(hash)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

// AddSettlementInfo handles POST /api/v1/settlements/{hash}/info
func (h *Handler) AddSettlementInfo(w http.ResponseWriter, r *http.Request) {
	h.settlementOp(w, r, func(ctx context.Context, adj, hash model.Hash, req SettlementRequest) error {
		return h.eco.AddSettlementInfo(ctx, caller(r), adj, hash, req.DocumentHash)
	})
}

// SetExpectedSettlementAmount handles POST /api/v1/settlements/{hash}/expected
func (h *Handler) SetExpectedSettlementAmount(w http.ResponseWriter, r *http.Request) {
	h.settlementOp(w, r, func(ctx context.Context, adj, hash model.Hash, req SettlementRequest) error {
		return h.eco.SetExpectedSettlementAmount(ctx, caller(r), adj, hash, req.AmountCu)
	})
}

// CloseSettlement handles POST /api/v1/settlements/{hash}/close
func (h *Handler) CloseSettlement(w http.ResponseWriter, r *http.Request) {
	h.settlementOp(w, r, func(ctx context.Context, adj, hash model.Hash, req SettlementRequest) error {
		return h.eco.CloseSettlement(ctx, caller(r), adj, hash, req.AmountCu)
	})
}

func (h *Handler) settlementOp(w http.ResponseWriter, r *http.Request, op func(context.Context, model.Hash, model.Hash, SettlementRequest) error) {
	hash, ok := hashParam(w, r)
	if !ok {
		return
	}
	var req SettlementRequest
	if !decode(w, r, &req) {
		return
	}
	if err := op(r.Context(), req.Adjustor, hash, req); err != nil {
		writeFailure(w, err)
		return
	}
	s, _ := h.eco.Settlement(hash)
	writeJSON(w, http.StatusOK, s)
}

// --- Timer ---

// Ping handles POST /api/v1/timer/ping
func (h *Handler) Ping(w http.ResponseWriter, r *http.Request) {
	var req PingRequest
	if !decode(w, r, &req) {
		return
	}
	if err := h.eco.Ping(r.Context(), caller(r), req.Kind, req.Subject, req.At); err != nil {
		writeFailure(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListJobs handles GET /api/v1/timer/jobs
func (h *Handler) ListJobs(w http.ResponseWriter, r *http.Request) {
	jobs := h.eco.Jobs()
	if jobs == nil {
		jobs = []timer.Job{}
	}
	writeJSON(w, http.StatusOK, jobs)
}

// --- Audit ---

// ListEvents handles GET /api/v1/events?category=&subject=&after=&limit=
func (h *Handler) ListEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := model.EventFilter{Category: model.Category(q.Get("category"))}

	var err error
	if f.Subject, err = model.ParseHash(q.Get("subject")); err != nil {
		writeError(w, "invalid subject hash", http.StatusBadRequest)
		return
	}
	if v := q.Get("after"); v != "" {
		if f.AfterSeq, err = strconv.ParseUint(v, 10, 64); err != nil {
			writeError(w, "invalid after", http.StatusBadRequest)
			return
		}
	}
	f.Limit = 100
	if v := q.Get("limit"); v != "" {
		if f.Limit, err = strconv.Atoi(v); err != nil || f.Limit <= 0 {
			writeError(w, "invalid limit", http.StatusBadRequest)
			return
		}
	}

	events, err := h.eco.ListEvents(r.Context(), f)
	if err != nil {
		writeFailure(w, err)
		return
	}
	if events == nil {
		events = []model.Event{}
	}
	writeJSON(w, http.StatusOK, events)
}

// Reconcile handles GET /api/v1/reconcile
func (h *Handler) Reconcile(w http.ResponseWriter, r *http.Request) {
	report := h.eco.Reconcile()
	if !report.OK {
		slog.Warn("reconciliation failed", "violations", len(report.Violations))
	}
	writeJSON(w, http.StatusOK, report)
}

// --- Helpers ---

func caller(r *http.Request) model.Address {
	return model.Address(r.Header.Get(CallerHeader))
}

func hashParam(w http.ResponseWriter, r *http.Request) (model.Hash, bool) {
	h, err := model.ParseHash(chi.URLParam(r, "hash"))
	if err != nil {
		writeError(w, "invalid hash", http.StatusBadRequest)
		return h, false
	}
	return h, true
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return false
	}
	return true
}

// statusFor maps the pool error taxonomy to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, pool.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, pool.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, pool.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, pool.ErrStateConflict):
		return http.StatusConflict
	case errors.Is(err, pool.ErrNotDue):
		return http.StatusTooEarly
	case errors.Is(err, pool.ErrNotInitialised):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func writeFailure(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		slog.Error("operation failed", "err", err)
	}
	writeError(w, err.Error(), status)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
