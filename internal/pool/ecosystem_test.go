package pool_test

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/hicpool/pool-engine/internal/access"
	"github.com/hicpool/pool-engine/internal/config"
	"github.com/hicpool/pool-engine/internal/model"
	"github.com/hicpool/pool-engine/internal/pool"
	"github.com/hicpool/pool-engine/internal/timer"
)

const (
	trustKey  = model.Address("trust-operator")
	bankAdr   = model.Address("bank-gateway")
	timerAdr  = model.Address("timer")
	adjOwner  = model.Address("adjustor-owner")
	startTime = int64(1_700_000_000)
)

// testEnv drives an initialised ecosystem with a manual clock.
type testEnv struct {
	t     *testing.T
	ctx   context.Context
	eco   *pool.Ecosystem
	p     config.Params
	now   int64
	txIdx uint64
	day0  int64
}

func newTestEnv(t *testing.T, opts ...pool.Option) *testEnv {
	t.Helper()
	env := &testEnv{t: t, ctx: context.Background(), p: config.DefaultParams(), now: startTime}
	opts = append([]pool.Option{pool.WithClock(env.clock)}, opts...)
	env.eco = pool.New(env.p, trustKey, opts...)
	if err := env.eco.InitEcosystem(env.ctx, trustKey, wiring(), true); err != nil {
		t.Fatalf("init ecosystem: %v", err)
	}
	env.day0 = env.eco.Pool().CurrentPoolDay
	return env
}

func wiring() map[access.Component]model.Address {
	return map[access.Component]model.Address{
		access.ComponentPool:       "pool",
		access.ComponentBond:       "bond",
		access.ComponentBank:       bankAdr,
		access.ComponentPolicy:     "policy",
		access.ComponentSettlement: "settlement",
		access.ComponentAdjustor:   "adjustor",
		access.ComponentTimer:      timerAdr,
	}
}

func (env *testEnv) clock() time.Time { return time.Unix(env.now, 0) }

func (env *testEnv) credit(acct model.AccountType, sender, subject model.Hash, amount int64) pool.CreditResult {
	env.t.Helper()
	env.txIdx++
	res, err := env.eco.ProcessAccountCredit(env.ctx, bankAdr, pool.Credit{
		TransactionIdx: env.txIdx,
		Account:        acct,
		Sender:         sender,
		Subject:        subject,
		AmountCu:       amount,
	})
	if err != nil {
		env.t.Fatalf("credit %d to %s: %v", amount, subject, err)
	}
	return res
}

func (env *testEnv) bond(h model.Hash) model.Bond {
	env.t.Helper()
	b, err := env.eco.Bond(h)
	if err != nil {
		env.t.Fatalf("bond %s: %v", h, err)
	}
	return b
}

func (env *testEnv) policy(h model.Hash) model.Policy {
	env.t.Helper()
	p, err := env.eco.Policy(h)
	if err != nil {
		env.t.Fatalf("policy %s: %v", h, err)
	}
	return p
}

// issuedBond creates a bond and pays its principal.
func (env *testEnv) issuedBond(owner model.Address, principal int64) model.Hash {
	env.t.Helper()
	h, err := env.eco.CreateBond(env.ctx, owner, principal, model.EmptyHash)
	if err != nil {
		env.t.Fatalf("create bond: %v", err)
	}
	if res := env.credit(model.AccountFunding, env.bond(h).PaymentAccountHash, h, principal); !res.Accepted {
		env.t.Fatalf("principal credit not accepted: %+v", res)
	}
	return h
}

func (env *testEnv) adjustor(approval, limit int64) model.Hash {
	env.t.Helper()
	h, err := env.eco.CreateAdjustor(env.ctx, trustKey, pool.AdjustorTerms{
		Owner:                      adjOwner,
		SettlementApprovalAmountCu: approval,
		PolicyRiskPointLimit:       limit,
		ServiceAgreementHash:       pool.AddressHash("service-agreement"),
	})
	if err != nil {
		env.t.Fatalf("create adjustor: %v", err)
	}
	return h
}

func (env *testEnv) newPolicy(adj model.Hash, riskPoints int64) model.Hash {
	env.t.Helper()
	h, err := env.eco.CreatePolicy(env.ctx, adjOwner, adj, "policy-holder", pool.AddressHash("policy-doc"), riskPoints)
	if err != nil {
		env.t.Fatalf("create policy: %v", err)
	}
	return h
}

func (env *testEnv) payPremium(h model.Hash, amount int64) pool.CreditResult {
	env.t.Helper()
	return env.credit(model.AccountPremium, env.policy(h).PaymentAccountHash, h, amount)
}

// runOvernight moves the clock to the next overnight run and pings it.
func (env *testEnv) runOvernight() {
	env.t.Helper()
	env.now = env.eco.Pool().NextOvernightProcessing
	if err := env.eco.Ping(env.ctx, timerAdr, timer.KindOvernight, model.EmptyHash, 0); err != nil {
		env.t.Fatalf("overnight: %v", err)
	}
}

// drain runs every job due at the current time.
func (env *testEnv) drain() int {
	env.t.Helper()
	n := 0
	for {
		ran, err := env.eco.RunNextDue(env.ctx)
		if err != nil {
			env.t.Fatalf("run next due: %v", err)
		}
		if !ran {
			return n
		}
		n++
	}
}

func (env *testEnv) assertReconciled() {
	env.t.Helper()
	if r := env.eco.Reconcile(); !r.OK {
		env.t.Fatalf("reconcile failed: %v", r.Violations)
	}
}

func bondStates(events []model.Event) []model.BondState {
	var out []model.BondState
	for _, ev := range events {
		out = append(out, model.BondState(ev.State))
	}
	return out
}

// --- End-to-end scenarios ---

func TestBondIssuedOnPrincipalCredit(t *testing.T) {
	env := newTestEnv(t)

	h, err := env.eco.CreateBond(env.ctx, "alice", 25_000, model.EmptyHash)
	if err != nil {
		t.Fatalf("create bond: %v", err)
	}
	if got := env.bond(h).State; got != model.BondCreated {
		t.Fatalf("expected Created, got %s", got)
	}

	res := env.credit(model.AccountFunding, env.bond(h).PaymentAccountHash, h, 25_000)
	if !res.Accepted {
		t.Fatalf("credit not accepted: %+v", res)
	}

	b := env.bond(h)
	if b.State != model.BondIssued {
		t.Fatalf("expected Issued, got %s", b.State)
	}
	if b.YieldPpb != env.p.MinYieldPpb {
		t.Errorf("expected yield %d, got %d", env.p.MinYieldPpb, b.YieldPpb)
	}
	if b.MaturityPayoutCu != 25_125 {
		t.Errorf("expected maturity payout 25125, got %d", b.MaturityPayoutCu)
	}
	if b.MaturityDate != startTime+env.p.DurationToBondMaturitySec {
		t.Errorf("unexpected maturity date %d", b.MaturityDate)
	}
	if got := env.eco.Pool().WcBalFaCu; got != 25_000 {
		t.Errorf("expected funding balance 25000, got %d", got)
	}
	if got := env.eco.BondMaturityPayouts(env.day0 + 90); got != 25_125 {
		t.Errorf("expected payout 25125 booked at day+90, got %d", got)
	}

	want := []model.BondState{model.BondCreated, model.BondSecuredBondPrincipal, model.BondSigned, model.BondIssued}
	got := bondStates(env.eco.Events(model.EventFilter{Category: model.CategoryBond, Subject: h}))
	if !slices.Equal(got, want) {
		t.Errorf("bond event states = %v, want %v", got, want)
	}

	// The bank credit is reported after the bond transitions.
	all := env.eco.Events(model.EventFilter{Subject: h})
	last := all[len(all)-1]
	if last.Category != model.CategoryBank || last.Bank == nil || last.Bank.Type != model.TransactionCredit || !last.Bank.Success {
		t.Errorf("expected successful bank credit last, got %+v", last)
	}
	env.assertReconciled()
}

func TestBondSecuredByReferenceBond(t *testing.T) {
	env := newTestEnv(t)
	b1 := env.issuedBond("alice", 25_000)

	if err := env.eco.SetWcExpenses(env.ctx, trustKey, 1_400_000); err != nil {
		t.Fatalf("set expenses: %v", err)
	}
	env.runOvernight()

	pv := env.eco.Pool()
	if pv.WcBondCu != 8_975_000 {
		t.Fatalf("expected WC_Bond 8975000, got %d", pv.WcBondCu)
	}
	if pv.BGradientPpq != 557_103 {
		t.Fatalf("expected gradient 557103, got %d", pv.BGradientPpq)
	}

	n, err := env.eco.AcceleratePoolYield(env.ctx, trustKey, 30)
	if err != nil {
		t.Fatalf("accelerate: %v", err)
	}
	if n != 30 {
		t.Fatalf("expected 30 intervals applied, got %d", n)
	}

	before := env.eco.Pool()
	b2, err := env.eco.CreateBond(env.ctx, "alice", 7_000_000, b1)
	if err != nil {
		t.Fatalf("create reference bond: %v", err)
	}

	avg := before.BGradientPpq * 7_000_000 / 2_000_000
	wantYield := max(env.p.MinYieldPpb, before.BYieldPpb-avg)
	wantPool := max(env.p.MinYieldPpb, before.BYieldPpb-2*avg)

	ref, sec := env.bond(b1), env.bond(b2)
	if ref.State != model.BondLockedReferenceBond || ref.SecurityReferenceHash != b2 {
		t.Fatalf("reference bond: state %s, ref %s", ref.State, ref.SecurityReferenceHash)
	}
	if sec.State != model.BondSigned || sec.SecurityReferenceHash != b1 {
		t.Fatalf("secured bond: state %s, ref %s", sec.State, sec.SecurityReferenceHash)
	}
	if sec.YieldPpb != wantYield || sec.YieldPpb >= before.BYieldPpb {
		t.Errorf("expected reduced yield %d (pool %d), got %d", wantYield, before.BYieldPpb, sec.YieldPpb)
	}

	pv = env.eco.Pool()
	if pv.BYieldPpb != wantPool {
		t.Errorf("expected pool yield %d, got %d", wantPool, pv.BYieldPpb)
	}
	if pv.WcTransitCu != 7_000_000 {
		t.Errorf("expected transit 7000000, got %d", pv.WcTransitCu)
	}
	if pv.WcBondCu != 1_975_000 {
		t.Errorf("expected WC_Bond 1975000, got %d", pv.WcBondCu)
	}
	env.assertReconciled()

	if res := env.credit(model.AccountFunding, sec.PaymentAccountHash, b2, 7_000_000); !res.Accepted {
		t.Fatalf("principal credit not accepted: %+v", res)
	}
	ref, sec = env.bond(b1), env.bond(b2)
	if ref.State != model.BondIssued || !ref.SecurityReferenceHash.IsZero() {
		t.Errorf("reference bond not released: state %s, ref %s", ref.State, ref.SecurityReferenceHash)
	}
	if sec.State != model.BondIssued {
		t.Errorf("expected secured bond Issued, got %s", sec.State)
	}
	if want := 7_000_000 + 7_000_000*sec.YieldPpb/1_000_000_000; sec.MaturityPayoutCu != want {
		t.Errorf("expected payout %d, got %d", want, sec.MaturityPayoutCu)
	}
	pv = env.eco.Pool()
	if pv.WcTransitCu != 0 {
		t.Errorf("expected transit 0, got %d", pv.WcTransitCu)
	}
	if pv.WcBalFaCu != 7_025_000 {
		t.Errorf("expected funding balance 7025000, got %d", pv.WcBalFaCu)
	}
	env.assertReconciled()
}

func TestPolicyIssuedOnFirstPremium(t *testing.T) {
	env := newTestEnv(t)
	adj := env.adjustor(500_000, 10_000)
	h := env.newPolicy(adj, 1_000)

	if got := env.policy(h).State; got != model.PolicyPaused {
		t.Fatalf("expected Paused, got %s", got)
	}
	if got := env.eco.Pool().TotalIssuedPolicyRiskPoints; got != 0 {
		t.Fatalf("expected no issued risk points, got %d", got)
	}

	if res := env.payPremium(h, 2_000_000); !res.Accepted {
		t.Fatalf("premium not accepted: %+v", res)
	}

	p := env.policy(h)
	if p.State != model.PolicyIssued {
		t.Errorf("expected Issued, got %s", p.State)
	}
	if p.PremiumCreditedCu != 2_000_000 {
		t.Errorf("expected 2000000 credited, got %d", p.PremiumCreditedCu)
	}
	pv := env.eco.Pool()
	if pv.TotalIssuedPolicyRiskPoints != 1_000 {
		t.Errorf("expected 1000 issued risk points, got %d", pv.TotalIssuedPolicyRiskPoints)
	}
	if pv.WcBalPaCu != 2_000_000 {
		t.Errorf("expected premium balance 2000000, got %d", pv.WcBalPaCu)
	}
	env.assertReconciled()
}

func TestOvernightUsesOverwrittenExpensesOnce(t *testing.T) {
	env := newTestEnv(t)

	if err := env.eco.SetWcExpenses(env.ctx, trustKey, 100_000*14); err != nil {
		t.Fatalf("set expenses: %v", err)
	}
	if !env.eco.Pool().OverwriteWcExpenses {
		t.Fatal("expected overwrite flag set")
	}
	seq := env.eco.Pool().LastEventSeq

	env.runOvernight()

	pv := env.eco.Pool()
	if pv.WcExpCu != 1_400_000 {
		t.Errorf("expected WC_Exp 1400000, got %d", pv.WcExpCu)
	}
	if pv.OverwriteWcExpenses {
		t.Error("expected overwrite flag cleared")
	}
	if pv.WcBondCu != 9_000_000 {
		t.Errorf("expected WC_Bond 9000000, got %d", pv.WcBondCu)
	}
	if pv.BGradientPpq != 555_555 {
		t.Errorf("expected gradient 555555, got %d", pv.BGradientPpq)
	}
	if pv.CurrentPoolDay != env.day0+1 {
		t.Errorf("expected pool day %d, got %d", env.day0+1, pv.CurrentPoolDay)
	}

	var names []string
	for _, ev := range env.eco.Events(model.EventFilter{Category: model.CategoryPool, AfterSeq: seq}) {
		names = append(names, ev.Name)
	}
	want := []string{
		pool.SubjectTotalRiskPoints,
		pool.SubjectPremiumCu,
		pool.SubjectWcExpensesCu,
		pool.SubjectWcTimeSec,
		pool.SubjectWcBondCu,
		pool.SubjectBondGradientPpq,
		pool.SubjectBondYieldPpb,
		pool.SubjectBondPayoutNext3DaysCu,
		pool.SubjectBondPayoutAverageCu,
		pool.SubjectBondPayoutMaxSlopeCu,
		pool.SubjectPremiumPerRiskPointPpm,
	}
	if !slices.Equal(names, want) {
		t.Errorf("pool events = %v, want %v", names, want)
	}

	env.runOvernight()
	if got := env.eco.Pool().WcExpCu; got != 1_300_000 {
		t.Errorf("expected decayed WC_Exp 1300000, got %d", got)
	}
	env.assertReconciled()
}

func TestOvernightSweepsBondAccountOverflow(t *testing.T) {
	env := newTestEnv(t)
	env.issuedBond("alice", 25_000)
	adj := env.adjustor(100_000, 10_000)
	env.payPremium(env.newPolicy(adj, 1_000), 2_000_000)
	env.runOvernight()

	if res := env.credit(model.AccountBond, env.p.PremiumAccountPaymentHash, model.EmptyHash, 1_000_000); !res.Accepted {
		t.Fatalf("bond account credit not accepted: %+v", res)
	}
	seq := env.eco.Pool().LastEventSeq
	env.runOvernight()

	// 25125 due at day0+90 averages to 279 a day over the 90 day horizon;
	// five days of that stay in the bond account.
	const buffer = 279 * 5
	const overflow = 1_000_000 - buffer

	var names []string
	var swept, average int64
	for _, ev := range env.eco.Events(model.EventFilter{Category: model.CategoryPool, AfterSeq: seq}) {
		names = append(names, ev.Name)
		switch ev.Name {
		case pool.SubjectOverflowCu:
			swept = ev.Info
		case pool.SubjectBondPayoutAverageCu:
			average = ev.Info
		}
	}
	want := []string{
		pool.SubjectTotalRiskPoints,
		pool.SubjectPremiumCu,
		pool.SubjectTrustFeeCu,
		pool.SubjectOperatorFeeCu,
		pool.SubjectOverflowCu,
		pool.SubjectWcExpensesCu,
	}
	if len(names) < len(want) || !slices.Equal(names[:len(want)], want) {
		t.Fatalf("pool events = %v, want prefix %v", names, want)
	}
	if average != 279 {
		t.Errorf("expected average payout 279, got %d", average)
	}
	if swept != overflow {
		t.Errorf("expected overflow %d, got %d", overflow, swept)
	}

	advice := env.eco.Advice()
	if len(advice) != 4 {
		t.Fatalf("expected premium, fees and overflow advice, got %+v", advice)
	}
	adv := advice[3]
	if adv.Type != model.AdviceOverflow || adv.Amount != overflow || adv.RecipientAccount != env.p.FundingAccountPaymentHash {
		t.Fatalf("unexpected overflow advice %+v", adv)
	}
	pv := env.eco.Pool()
	if pv.WcBalBaCu != buffer {
		t.Errorf("expected bond account %d, got %d", buffer, pv.WcBalBaCu)
	}
	env.assertReconciled()

	seq, funding := pv.LastEventSeq, pv.WcBalFaCu
	done, err := env.eco.ProcessPaymentAdvice(env.ctx, bankAdr, adv.Idx, 5_000)
	if err != nil || !done {
		t.Fatalf("process overflow advice: done=%v err=%v", done, err)
	}
	pv = env.eco.Pool()
	if pv.WcBalFaCu != funding+overflow {
		t.Errorf("expected funding balance %d, got %d", funding+overflow, pv.WcBalFaCu)
	}
	if pv.WcBalBaCu != buffer {
		t.Errorf("expected bond account %d, got %d", buffer, pv.WcBalBaCu)
	}

	evs := env.eco.Events(model.EventFilter{Category: model.CategoryBank, AfterSeq: seq})
	if len(evs) != 2 {
		t.Fatalf("expected debit and internal credit, got %d events", len(evs))
	}
	if b := evs[0].Bank; b.Type != model.TransactionDebit || b.Account != model.AccountBond || b.AmountCu != overflow {
		t.Errorf("expected bond account debit first, got %+v", b)
	}
	if b := evs[1].Bank; b.Type != model.TransactionCredit || b.Account != model.AccountFunding || !b.Internal || b.PaymentAccountHash != env.p.BondAccountPaymentHash {
		t.Errorf("expected internal funding credit from the bond account, got %+v", b)
	}
	env.assertReconciled()
}

func TestSettlementLocksAndReleasesCapital(t *testing.T) {
	env := newTestEnv(t)
	adj := env.adjustor(200_000, 10_000)
	pol := env.newPolicy(adj, 1_000)
	env.issuedBond("alice", 100_000)

	s, err := env.eco.CreateSettlement(env.ctx, adjOwner, adj, pol, model.EmptyHash)
	if err != nil {
		t.Fatalf("create settlement: %v", err)
	}

	steps := []struct {
		amount int64
		locked int64
	}{
		{120_000, 120_000},
		{110_000, 110_000},
	}
	for _, step := range steps {
		if err := env.eco.SetExpectedSettlementAmount(env.ctx, adjOwner, adj, s, step.amount); err != nil {
			t.Fatalf("set expected %d: %v", step.amount, err)
		}
		if got := env.eco.Pool().WcLockedCu; got != step.locked {
			t.Errorf("after %d: expected locked %d, got %d", step.amount, step.locked, got)
		}
	}

	if err := env.eco.SetExpectedSettlementAmount(env.ctx, adjOwner, adj, s, 250_000); !errors.Is(err, pool.ErrValidation) {
		t.Errorf("expected validation error above approval limit, got %v", err)
	}

	if err := env.eco.CloseSettlement(env.ctx, adjOwner, adj, s, 55_500); err != nil {
		t.Fatalf("close settlement: %v", err)
	}
	st, _ := env.eco.Settlement(s)
	if st.State != model.SettlementSettled || st.SettlementAmountCu != 55_500 {
		t.Errorf("unexpected settlement %+v", st)
	}

	pv := env.eco.Pool()
	if pv.WcLockedCu != 0 {
		t.Errorf("expected locked 0, got %d", pv.WcLockedCu)
	}
	if pv.WcBalFaCu != 44_500 {
		t.Errorf("expected funding balance 44500, got %d", pv.WcBalFaCu)
	}
	advice := env.eco.Advice()
	if len(advice) != 1 {
		t.Fatalf("expected 1 advice, got %d", len(advice))
	}
	a := advice[0]
	if a.Type != model.AdviceServiceProvider || a.Amount != 55_500 || a.Subject != s || a.RecipientAccount != env.p.SettlementAccountPaymentHash {
		t.Errorf("unexpected advice %+v", a)
	}

	if err := env.eco.CloseSettlement(env.ctx, adjOwner, adj, s, 0); !errors.Is(err, pool.ErrStateConflict) {
		t.Errorf("expected conflict closing twice, got %v", err)
	}
	env.assertReconciled()
}

func TestUnsignedBondDefaultsAtDeadline(t *testing.T) {
	env := newTestEnv(t)

	h, err := env.eco.CreateBond(env.ctx, "alice", 50_000, model.EmptyHash)
	if err != nil {
		t.Fatalf("create bond: %v", err)
	}
	if err := env.eco.Ping(env.ctx, timerAdr, timer.KindBondMaturity, h, 0); !errors.Is(err, pool.ErrNotDue) {
		t.Fatalf("expected ErrNotDue before the deadline, got %v", err)
	}

	env.now = startTime + env.p.DurationBondLockNextStateSec
	env.drain()

	b := env.bond(h)
	if b.State != model.BondDefaulted {
		t.Fatalf("expected Defaulted, got %s", b.State)
	}
	if b.MaturityPayoutCu != 0 {
		t.Errorf("expected no payout, got %d", b.MaturityPayoutCu)
	}
	if len(env.eco.Advice()) != 0 {
		t.Errorf("expected no payment advice, got %d", len(env.eco.Advice()))
	}
	if got := env.eco.Pool().CurrentPoolDay; got != env.day0+2 {
		t.Errorf("expected two overnight runs, pool day %d", got)
	}

	// A late principal is refunded.
	res := env.credit(model.AccountFunding, b.PaymentAccountHash, h, 50_000)
	if !res.Refunded {
		t.Errorf("expected refund for archived bond, got %+v", res)
	}
	env.assertReconciled()
}
