// Package pool is the mutual insurance pool: bonds, policies, adjustors,
// settlements, the bank ledger and the daily overnight algorithm that prices
// risk and sizes working capital.
//
// All state lives in one Ecosystem. Every mutating call is serialised
// behind a single lock and runs against a clone of the state; the clone
// replaces the live state only if the call succeeds, so a rejected call
// leaves no trace. Committed audit events are then handed to the journal
// and the event sinks in commit order.
package pool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hicpool/pool-engine/internal/access"
	"github.com/hicpool/pool-engine/internal/config"
	"github.com/hicpool/pool-engine/internal/metrics"
	"github.com/hicpool/pool-engine/internal/model"
	"github.com/hicpool/pool-engine/internal/timer"
)

// EventSink receives committed audit events.
type EventSink interface {
	Publish(ctx context.Context, events []model.Event) error
}

// Journal persists committed events and periodic state snapshots.
type Journal interface {
	AppendEvents(ctx context.Context, events []model.Event) error
	ListEvents(ctx context.Context, f model.EventFilter) ([]model.Event, error)
	SaveSnapshot(ctx context.Context, snap model.Snapshot) error
}

// DefaultEventWindow is the number of recent events kept in memory.
const DefaultEventWindow = 50_000

// Ecosystem owns the complete pool state.
type Ecosystem struct {
	mu      sync.Mutex
	params  config.Params
	st      *State
	clock   func() time.Time
	sinks   []EventSink
	journal Journal

	// events holds the most recent committed events; everything up to
	// trimmedThrough is only available from the journal.
	events         []model.Event
	window         int
	trimmedThrough uint64
}

// Option configures an Ecosystem.
type Option func(*Ecosystem)

// WithClock overrides the wall clock.
func WithClock(clock func() time.Time) Option {
	return func(e *Ecosystem) { e.clock = clock }
}

// WithSinks adds sinks that receive every committed batch of events.
func WithSinks(sinks ...EventSink) Option {
	return func(e *Ecosystem) { e.sinks = append(e.sinks, sinks...) }
}

// WithJournal persists events and snapshots.
func WithJournal(j Journal) Option {
	return func(e *Ecosystem) { e.journal = j }
}

// WithEventWindow sets how many recent events are kept in memory. Older
// events are served from the journal.
func WithEventWindow(n int) Option {
	return func(e *Ecosystem) {
		if n > 0 {
			e.window = n
		}
	}
}

// New creates a freshly deployed pool whose only external key is deployer.
func New(params config.Params, deployer model.Address, opts ...Option) *Ecosystem {
	e := &Ecosystem{
		params: params,
		st:     NewState(params, deployer),
		clock:  time.Now,
		window: DefaultEventWindow,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Restore rebuilds an Ecosystem from a snapshot. Events committed before
// the snapshot are served from the journal.
func Restore(params config.Params, snap model.Snapshot, opts ...Option) (*Ecosystem, error) {
	st := &State{}
	if err := json.Unmarshal(snap.State, st); err != nil {
		return nil, fmt.Errorf("pool: decode snapshot %s: %w", snap.ID, err)
	}
	st.normalise()
	if st.EventSeq != snap.LastSeq {
		return nil, fmt.Errorf("pool: snapshot %s records seq %d but its state is at %d", snap.ID, snap.LastSeq, st.EventSeq)
	}

	e := &Ecosystem{params: params, st: st, clock: time.Now, window: DefaultEventWindow}
	for _, opt := range opts {
		opt(e)
	}
	e.trimmedThrough = st.EventSeq
	e.updateGauges()
	return e, nil
}

// Params returns the pool parameters.
func (e *Ecosystem) Params() config.Params { return e.params }

// apply runs fn as one atomic operation.
func (e *Ecosystem) apply(ctx context.Context, op string, fn func(t *tx) error) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	start := time.Now()
	defer func() {
		metrics.OperationLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
	}()

	t := &tx{st: e.st.Clone(), p: &e.params, now: e.clock().Unix()}
	if err := fn(t); err != nil {
		metrics.OperationsTotal.WithLabelValues(op, "rejected").Inc()
		return err
	}
	e.commit(ctx, op, t)
	return nil
}

func (e *Ecosystem) commit(ctx context.Context, op string, t *tx) {
	dayChanged := t.st.CurrentPoolDay != e.st.CurrentPoolDay
	e.st = t.st

	outcome := "committed"
	if len(t.events) == 0 {
		outcome = "noop"
	}
	metrics.OperationsTotal.WithLabelValues(op, outcome).Inc()

	for _, l := range t.logs {
		slog.Log(ctx, l.level, l.msg, l.args...)
	}
	e.updateGauges()
	if len(t.events) == 0 {
		return
	}

	for i := range t.events {
		t.events[i].ID = uuid.NewString()
	}
	e.events = append(e.events, t.events...)
	if len(e.events) > 2*e.window {
		drop := len(e.events) - e.window
		e.trimmedThrough = e.events[drop-1].Seq
		e.events = slices.Clone(e.events[drop:])
	}

	if e.journal != nil {
		if err := e.journal.AppendEvents(ctx, t.events); err != nil {
			slog.Error("journal append failed", "op", op, "events", len(t.events), "err", err)
		}
		if dayChanged {
			if err := e.journal.SaveSnapshot(ctx, e.snapshotLocked()); err != nil {
				slog.Error("snapshot save failed", "pool_day", e.st.CurrentPoolDay, "err", err)
			}
		}
	}
	for _, s := range e.sinks {
		sink := fmt.Sprintf("%T", s)
		if err := s.Publish(ctx, t.events); err != nil {
			metrics.EventsPublished.WithLabelValues(sink, "error").Add(float64(len(t.events)))
			slog.Warn("event sink publish failed", "sink", sink, "err", err)
			continue
		}
		metrics.EventsPublished.WithLabelValues(sink, "ok").Add(float64(len(t.events)))
	}
}

func (e *Ecosystem) updateGauges() {
	st := e.st
	metrics.PoolDay.Set(float64(st.CurrentPoolDay))
	metrics.AccountBalance.WithLabelValues("premium").Set(float64(st.WcBalPaCu))
	metrics.AccountBalance.WithLabelValues("bond").Set(float64(st.WcBalBaCu))
	metrics.AccountBalance.WithLabelValues("funding").Set(float64(st.WcBalFaCu))
	metrics.WorkingCapital.WithLabelValues("bond").Set(float64(st.WcBondCu))
	metrics.WorkingCapital.WithLabelValues("expenses").Set(float64(st.WcExpCu))
	metrics.WorkingCapital.WithLabelValues("locked").Set(float64(st.WcLockedCu))
	metrics.WorkingCapital.WithLabelValues("transit").Set(float64(st.WcTransitCu))
	metrics.BondYield.Set(float64(st.BYieldPpb))
	metrics.TotalRiskPoints.Set(float64(st.TotalIssuedPolicyRiskPoints))
	metrics.ActiveEntities.WithLabelValues("adjustor").Set(float64(st.AdjustorRegistry.Count))
	metrics.ActiveEntities.WithLabelValues("bond").Set(float64(st.BondRegistry.Count))
	metrics.ActiveEntities.WithLabelValues("policy").Set(float64(st.PolicyRegistry.Count))
	metrics.ActiveEntities.WithLabelValues("settlement").Set(float64(st.SettlementRegistry.Count))
	metrics.AdviceOutstanding.Set(float64(st.AdviceQueuedCu - st.AdviceProcessedCu))
}

func (t *tx) requireInit() error {
	if !t.st.Initialised {
		return ErrNotInitialised
	}
	return nil
}

// --- Trust ---

// InitEcosystem wires the internal component addresses and starts the
// pool clock. Only an external key may call it, and only once.
func (e *Ecosystem) InitEcosystem(ctx context.Context, caller model.Address, addresses map[access.Component]model.Address, isWinterTime bool) error {
	return e.apply(ctx, "init_ecosystem", func(t *tx) error {
		return t.initEcosystem(caller, addresses, isWinterTime)
	})
}

// SetWcExpenses overrides the expense forecast used by the next overnight run.
func (e *Ecosystem) SetWcExpenses(ctx context.Context, caller model.Address, amount int64) error {
	return e.apply(ctx, "set_wc_expenses", func(t *tx) error {
		if err := t.requireInit(); err != nil {
			return err
		}
		return t.setWcExpenses(caller, amount)
	})
}

// AdjustDaylightSaving toggles between summer and winter time.
func (e *Ecosystem) AdjustDaylightSaving(ctx context.Context, caller model.Address) error {
	return e.apply(ctx, "adjust_daylight_saving", func(t *tx) error {
		if err := t.requireInit(); err != nil {
			return err
		}
		return t.adjustDaylightSaving(caller)
	})
}

// AcceleratePoolYield compounds the pool yield for up to intervals
// intervals, one atomic operation each, and returns how many applied.
// It stops early once bond demand no longer justifies acceleration.
func (e *Ecosystem) AcceleratePoolYield(ctx context.Context, caller model.Address, intervals int) (int, error) {
	if intervals <= 0 {
		return 0, invalid("intervals must be positive")
	}
	applied := 0
	for i := 0; i < intervals; i++ {
		var changed bool
		err := e.apply(ctx, "accelerate_yield", func(t *tx) error {
			if err := t.requireInit(); err != nil {
				return err
			}
			if err := t.st.External.Check(caller); err != nil {
				return err
			}
			changed = t.accelerateYield()
			return nil
		})
		if err != nil {
			return applied, err
		}
		if !changed {
			break
		}
		applied++
	}
	return applied, nil
}

// PreAuth issues a pre-authorisation for a key change by another key.
func (e *Ecosystem) PreAuth(ctx context.Context, caller model.Address) error {
	return e.apply(ctx, "pre_auth", func(t *tx) error { return t.preAuth(caller) })
}

// AddKey registers a new external key.
func (e *Ecosystem) AddKey(ctx context.Context, caller, key model.Address) error {
	return e.apply(ctx, "add_key", func(t *tx) error { return t.addKey(caller, key) })
}

// RotateKey drops the oldest external key.
func (e *Ecosystem) RotateKey(ctx context.Context, caller model.Address) error {
	return e.apply(ctx, "rotate_key", func(t *tx) error { return t.rotateKey(caller) })
}

// --- Bank ---

// ProcessAccountCredit books an incoming payment. Only the bank component
// may report credits.
func (e *Ecosystem) ProcessAccountCredit(ctx context.Context, caller model.Address, c Credit) (CreditResult, error) {
	var res CreditResult
	err := e.apply(ctx, "process_account_credit", func(t *tx) error {
		if err := t.requireInit(); err != nil {
			return err
		}
		if err := t.st.Internal.Check(access.ComponentBank, caller); err != nil {
			return err
		}
		var err error
		res, err = t.processAccountCredit(c)
		return err
	})
	return res, err
}

// ProcessPaymentAdvice marks advice idx as paid by bank transaction txIdx.
// It reports false when the advice was already consumed.
func (e *Ecosystem) ProcessPaymentAdvice(ctx context.Context, caller model.Address, idx, txIdx uint64) (bool, error) {
	var done bool
	err := e.apply(ctx, "process_payment_advice", func(t *tx) error {
		if err := t.requireInit(); err != nil {
			return err
		}
		if err := t.st.Internal.Check(access.ComponentBank, caller); err != nil {
			return err
		}
		var err error
		done, err = t.processPaymentAdvice(idx, txIdx)
		return err
	})
	return done, err
}

// --- Bonds ---

// CreateBond creates a bond owned by caller. A non-zero reference hash
// secures the bond with an issued peer bond instead of cash principal.
func (e *Ecosystem) CreateBond(ctx context.Context, caller model.Address, principal int64, reference model.Hash) (model.Hash, error) {
	var h model.Hash
	err := e.apply(ctx, "create_bond", func(t *tx) error {
		if err := t.requireInit(); err != nil {
			return err
		}
		var err error
		h, err = t.createBond(caller, principal, reference)
		return err
	})
	return h, err
}

// --- Adjustors ---

func (e *Ecosystem) CreateAdjustor(ctx context.Context, caller model.Address, terms AdjustorTerms) (model.Hash, error) {
	var h model.Hash
	err := e.apply(ctx, "create_adjustor", func(t *tx) error {
		if err := t.requireInit(); err != nil {
			return err
		}
		var err error
		h, err = t.createAdjustor(caller, terms)
		return err
	})
	return h, err
}

func (e *Ecosystem) UpdateAdjustor(ctx context.Context, caller model.Address, h model.Hash, terms AdjustorTerms) error {
	return e.apply(ctx, "update_adjustor", func(t *tx) error {
		if err := t.requireInit(); err != nil {
			return err
		}
		return t.updateAdjustor(caller, h, terms)
	})
}

func (e *Ecosystem) RetireAdjustor(ctx context.Context, caller model.Address, h model.Hash) error {
	return e.apply(ctx, "retire_adjustor", func(t *tx) error {
		if err := t.requireInit(); err != nil {
			return err
		}
		return t.retireAdjustor(caller, h)
	})
}

// --- Policies ---

// CreatePolicy creates a paused policy on behalf of the owner of adjustorHash.
func (e *Ecosystem) CreatePolicy(ctx context.Context, caller model.Address, adjustorHash model.Hash, owner model.Address, docHash model.Hash, riskPoints int64) (model.Hash, error) {
	var h model.Hash
	err := e.apply(ctx, "create_policy", func(t *tx) error {
		if err := t.requireInit(); err != nil {
			return err
		}
		var err error
		h, err = t.createPolicy(caller, adjustorHash, owner, docHash, riskPoints)
		return err
	})
	return h, err
}

func (e *Ecosystem) UpdatePolicy(ctx context.Context, caller model.Address, adjustorHash, policyHash, docHash model.Hash, riskPoints int64) error {
	return e.apply(ctx, "update_policy", func(t *tx) error {
		if err := t.requireInit(); err != nil {
			return err
		}
		return t.updatePolicy(caller, adjustorHash, policyHash, docHash, riskPoints)
	})
}

func (e *Ecosystem) SuspendPolicy(ctx context.Context, caller model.Address, h model.Hash) error {
	return e.apply(ctx, "suspend_policy", func(t *tx) error {
		if err := t.requireInit(); err != nil {
			return err
		}
		return t.suspendPolicy(caller, h)
	})
}

func (e *Ecosystem) UnsuspendPolicy(ctx context.Context, caller model.Address, h model.Hash) error {
	return e.apply(ctx, "unsuspend_policy", func(t *tx) error {
		if err := t.requireInit(); err != nil {
			return err
		}
		return t.unsuspendPolicy(caller, h)
	})
}

func (e *Ecosystem) RetirePolicy(ctx context.Context, caller model.Address, h model.Hash) error {
	return e.apply(ctx, "retire_policy", func(t *tx) error {
		if err := t.requireInit(); err != nil {
			return err
		}
		return t.retirePolicy(caller, h)
	})
}

// --- Settlements ---

func (e *Ecosystem) CreateSettlement(ctx context.Context, caller model.Address, adjustorHash, policyHash, docHash model.Hash) (model.Hash, error) {
	var h model.Hash
	err := e.apply(ctx, "create_settlement", func(t *tx) error {
		if err := t.requireInit(); err != nil {
			return err
		}
		var err error
		h, err = t.createSettlement(caller, adjustorHash, policyHash, docHash)
		return err
	})
	return h, err
}

func (e *Ecosystem) AddSettlementInfo(ctx context.Context, caller model.Address, adjustorHash, h, docHash model.Hash) error {
	return e.apply(ctx, "add_settlement_info", func(t *tx) error {
		if err := t.requireInit(); err != nil {
			return err
		}
		return t.addSettlementInfo(caller, adjustorHash, h, docHash)
	})
}

func (e *Ecosystem) SetExpectedSettlementAmount(ctx context.Context, caller model.Address, adjustorHash, h model.Hash, amount int64) error {
	return e.apply(ctx, "set_expected_settlement", func(t *tx) error {
		if err := t.requireInit(); err != nil {
			return err
		}
		return t.setExpectedSettlementAmount(caller, adjustorHash, h, amount)
	})
}

func (e *Ecosystem) CloseSettlement(ctx context.Context, caller model.Address, adjustorHash, h model.Hash, amount int64) error {
	return e.apply(ctx, "close_settlement", func(t *tx) error {
		if err := t.requireInit(); err != nil {
			return err
		}
		return t.closeSettlement(caller, adjustorHash, h, amount)
	})
}

// --- Timer ---

// Ping runs the scheduled job identified by kind and subject. Only the timer
// component may ping. A job that is not yet due is rejected with ErrNotDue;
// at, when non-zero, must match the job's scheduled time.
func (e *Ecosystem) Ping(ctx context.Context, caller model.Address, kind timer.Kind, subject model.Hash, at int64) error {
	return e.apply(ctx, "ping_"+string(kind), func(t *tx) error {
		if err := t.requireInit(); err != nil {
			return err
		}
		if err := t.st.Internal.Check(access.ComponentTimer, caller); err != nil {
			return err
		}
		job, ok := t.st.Jobs.Find(kind, subject)
		if !ok {
			return fmt.Errorf("%w: no %s job for %s", ErrNotFound, kind, subject)
		}
		if at != 0 && at != job.At {
			return conflict("%s job for %s is scheduled at %d, not %d", kind, subject, job.At, at)
		}
		if job.At > t.now {
			return ErrNotDue
		}
		t.st.Jobs.Cancel(kind, subject)
		return t.runJob(job)
	})
}

// RunNextDue runs the earliest due job. A due overnight run always goes
// first so entity jobs see the new pool day. Jobs whose subject has moved
// on are dropped together with any partial effect. It reports whether a
// job was taken off the queue.
func (e *Ecosystem) RunNextDue(ctx context.Context) (bool, error) {
	var ran bool
	err := e.apply(ctx, "run_next_due", func(t *tx) error {
		if !t.st.Initialised {
			return nil
		}
		job, ok := t.st.Jobs.Find(timer.KindOvernight, model.EmptyHash)
		if ok && job.At <= t.now {
			t.st.Jobs.Cancel(job.Kind, job.Subject)
		} else if job, ok = t.st.Jobs.PopDue(t.now); !ok {
			return nil
		}
		ran = true
		popped := t.st.Clone()
		err := t.runJob(job)
		if errors.Is(err, ErrNotFound) || errors.Is(err, ErrStateConflict) {
			// Keep the job off the queue but nothing the job did.
			t.st, t.events, t.logs = popped, nil, nil
			t.log(slog.LevelDebug, "stale job dropped", "kind", job.Kind, "subject", job.Subject, "err", err)
			return nil
		}
		return err
	})
	return ran, err
}

func (t *tx) runJob(job timer.Job) error {
	switch job.Kind {
	case timer.KindOvernight:
		return t.runOvernight()
	case timer.KindYield:
		t.runYieldPing(job.At)
		return nil
	case timer.KindBondMaturity:
		return t.processMaturedBond(job.Subject)
	case timer.KindPolicyReconciliation:
		return t.reconcilePolicy(job.Subject)
	}
	return invalid("unknown job kind %q", job.Kind)
}

// --- Reads ---

// PoolView is the pool-level state exposed to readers.
type PoolView struct {
	Initialised             bool  `json:"initialised"`
	IsWinterTime            bool  `json:"is_winter_time"`
	CurrentPoolDay          int64 `json:"current_pool_day"`
	NextOvernightProcessing int64 `json:"next_overnight_processing"`

	WcBalPaCu    int64 `json:"wc_bal_pa_cu"`
	WcBalBaCu    int64 `json:"wc_bal_ba_cu"`
	WcBalFaCu    int64 `json:"wc_bal_fa_cu"`
	WcBondCu     int64 `json:"wc_bond_cu"`
	WcExpCu      int64 `json:"wc_exp_cu"`
	WcLockedCu   int64 `json:"wc_locked_cu"`
	WcTransitCu  int64 `json:"wc_transit_cu"`
	BYieldPpb    int64 `json:"b_yield_ppb"`
	BGradientPpq int64 `json:"b_gradient_ppq"`

	OverwriteWcExpenses         bool         `json:"overwrite_wc_expenses"`
	TotalIssuedPolicyRiskPoints int64        `json:"total_issued_policy_risk_points"`
	PremiumPerRiskPointPpm      PremiumRates `json:"premium_per_risk_point_ppm"`
	AdviceOutstandingCu         int64        `json:"advice_outstanding_cu"`
	PendingJobs                 int          `json:"pending_jobs"`
	LastEventSeq                uint64       `json:"last_event_seq"`
}

// Pool returns the current pool-level figures.
func (e *Ecosystem) Pool() PoolView {
	e.mu.Lock()
	defer e.mu.Unlock()
	st := e.st
	return PoolView{
		Initialised:                 st.Initialised,
		IsWinterTime:                st.IsWinterTime,
		CurrentPoolDay:              st.CurrentPoolDay,
		NextOvernightProcessing:     st.NextOvernightProcessing,
		WcBalPaCu:                   st.WcBalPaCu,
		WcBalBaCu:                   st.WcBalBaCu,
		WcBalFaCu:                   st.WcBalFaCu,
		WcBondCu:                    st.WcBondCu,
		WcExpCu:                     st.WcExpCu,
		WcLockedCu:                  st.WcLockedCu,
		WcTransitCu:                 st.WcTransitCu,
		BYieldPpb:                   st.BYieldPpb,
		BGradientPpq:                st.BGradientPpq,
		OverwriteWcExpenses:         st.OverwriteWcExpenses,
		TotalIssuedPolicyRiskPoints: st.TotalIssuedPolicyRiskPoints,
		PremiumPerRiskPointPpm:      st.PremiumPerRiskPointPpm[st.CurrentPoolDay],
		AdviceOutstandingCu:         st.AdviceQueuedCu - st.AdviceProcessedCu,
		PendingJobs:                 st.Jobs.Len(),
		LastEventSeq:                st.EventSeq,
	}
}

// PremiumRates returns the premium per risk point of a pool day.
func (e *Ecosystem) PremiumRates(day int64) PremiumRates {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.st.PremiumPerRiskPointPpm[day]
}

// BondMaturityPayouts returns the payout booked for a pool day.
func (e *Ecosystem) BondMaturityPayouts(day int64) int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.st.BondMaturityPayoutsCu[day]
}

func (e *Ecosystem) Bond(h model.Hash) (model.Bond, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	b, ok := e.st.Bonds[h]
	if !ok {
		return b, notFound("bond", h)
	}
	return b, nil
}

func (e *Ecosystem) Policy(h model.Hash) (model.Policy, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, ok := e.st.Policies[h]
	if !ok {
		return p, notFound("policy", h)
	}
	return p, nil
}

func (e *Ecosystem) Adjustor(h model.Hash) (model.Adjustor, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	a, ok := e.st.Adjustors[h]
	if !ok {
		return a, notFound("adjustor", h)
	}
	return a, nil
}

func (e *Ecosystem) Settlement(h model.Hash) (model.Settlement, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.st.Settlements[h]
	if !ok {
		return s, notFound("settlement", h)
	}
	return s, nil
}

// Advice returns a copy of the payment advice queue.
func (e *Ecosystem) Advice() []model.PaymentAdvice {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]model.PaymentAdvice, len(e.st.Advice))
	copy(out, e.st.Advice)
	return out
}

// Jobs returns the pending jobs in no particular order.
func (e *Ecosystem) Jobs() []timer.Job {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]timer.Job, len(e.st.Jobs.Jobs))
	copy(out, e.st.Jobs.Jobs)
	return out
}

// Events returns the in-memory events matching f in commit order. Only
// the recent window is searched; ListEvents reaches further back.
func (e *Ecosystem) Events(f model.EventFilter) []model.Event {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.recentEvents(f)
}

// ListEvents returns committed events matching f in commit order, reading
// from the journal when f starts before the in-memory window.
func (e *Ecosystem) ListEvents(ctx context.Context, f model.EventFilter) ([]model.Event, error) {
	e.mu.Lock()
	if e.journal == nil || f.AfterSeq >= e.trimmedThrough {
		defer e.mu.Unlock()
		return e.recentEvents(f), nil
	}
	j := e.journal
	e.mu.Unlock()

	events, err := j.ListEvents(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("pool: list journal events: %w", err)
	}
	return events, nil
}

func (e *Ecosystem) recentEvents(f model.EventFilter) []model.Event {
	var out []model.Event
	for _, ev := range e.events {
		if !f.Match(ev) {
			continue
		}
		out = append(out, ev)
		if f.Limit > 0 && len(out) == f.Limit {
			break
		}
	}
	return out
}

// Snapshot serialises the current state.
func (e *Ecosystem) Snapshot() model.Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshotLocked()
}

func (e *Ecosystem) snapshotLocked() model.Snapshot {
	raw, err := json.Marshal(e.st)
	if err != nil {
		// State only holds plain data; a marshal failure is a programming error.
		panic(fmt.Sprintf("pool: marshal state: %v", err))
	}
	return model.Snapshot{
		ID:      uuid.NewString(),
		Day:     e.st.CurrentPoolDay,
		LastSeq: e.st.EventSeq,
		TakenAt: e.clock().UTC(),
		State:   raw,
	}
}
