package pool

import (
	"fmt"

	"github.com/hicpool/pool-engine/internal/hashmap"
	"github.com/hicpool/pool-engine/internal/model"
)

// Report is the outcome of Reconcile. Balances are the account balances
// rebuilt from the totals of the committed bank events.
type Report struct {
	OK         bool                        `json:"ok"`
	Balances   map[model.AccountType]int64 `json:"balances"`
	Violations []string                    `json:"violations,omitempty"`
}

func (r *Report) failf(format string, args ...any) {
	r.Violations = append(r.Violations, fmt.Sprintf(format, args...))
}

// Reconcile rebuilds the account balances from the committed bank totals
// and cross-checks them and the entity records against the pool's running
// figures.
func (e *Ecosystem) Reconcile() Report {
	e.mu.Lock()
	defer e.mu.Unlock()
	st := e.st

	r := Report{Balances: map[model.AccountType]int64{
		model.AccountPremium: st.BankTotals.CreditedCu[model.AccountPremium],
		model.AccountBond:    st.BankTotals.CreditedCu[model.AccountBond],
		model.AccountFunding: st.BankTotals.CreditedCu[model.AccountFunding],
	}}
	paid := st.BankTotals.PaidCu

	var queued, outstanding int64
	for _, adv := range st.Advice {
		r.Balances[adv.Type.SourceAccount()] -= adv.OriginalAmount
		queued += adv.OriginalAmount
		outstanding += adv.Amount
	}

	for _, acct := range []model.AccountType{model.AccountPremium, model.AccountBond, model.AccountFunding} {
		if got := *st.balance(acct); got != r.Balances[acct] {
			r.failf("%s account balance %d, replayed %d", acct, got, r.Balances[acct])
		}
		if r.Balances[acct] < 0 {
			r.failf("%s account balance is negative", acct)
		}
	}
	if queued != st.AdviceQueuedCu {
		r.failf("advice queued total %d, sum of advice %d", st.AdviceQueuedCu, queued)
	}
	if st.AdviceQueuedCu-st.AdviceProcessedCu != outstanding {
		r.failf("advice queued-processed %d, outstanding %d", st.AdviceQueuedCu-st.AdviceProcessedCu, outstanding)
	}
	if paid != st.AdviceProcessedCu {
		r.failf("advice processed total %d, replayed debits %d", st.AdviceProcessedCu, paid)
	}

	checkRegistry(&r, "adjustor", st.AdjustorRegistry, len(st.Adjustors), func(h model.Hash) bool {
		return st.AdjustorRegistry.IsActive(h)
	})
	checkRegistry(&r, "bond", st.BondRegistry, len(st.Bonds), func(h model.Hash) bool {
		return !st.Bonds[h].State.Terminal()
	})
	checkRegistry(&r, "policy", st.PolicyRegistry, len(st.Policies), func(h model.Hash) bool {
		return st.Policies[h].State != model.PolicyRetired
	})
	checkRegistry(&r, "settlement", st.SettlementRegistry, len(st.Settlements), func(h model.Hash) bool {
		return st.Settlements[h].State != model.SettlementSettled
	})

	var rp int64
	for _, p := range st.Policies {
		if p.State == model.PolicyIssued {
			rp += p.RiskPoints
		}
	}
	if rp != st.TotalIssuedPolicyRiskPoints {
		r.failf("issued risk points %d, sum over issued policies %d", st.TotalIssuedPolicyRiskPoints, rp)
	}

	for _, b := range st.Bonds {
		if b.State == model.BondSigned && b.ViaReference && b.SecurityReferenceHash.IsZero() {
			r.failf("bond %s signed via reference without a reference hash", b.Hash)
		}
	}
	if st.WcBondCu < 0 {
		r.failf("WC_Bond is negative: %d", st.WcBondCu)
	}
	if st.BGradientPpq < 0 {
		r.failf("bond gradient is negative: %d", st.BGradientPpq)
	}

	r.OK = len(r.Violations) == 0
	return r
}

// checkRegistry verifies that the active count matches the entities the
// live predicate accepts and that every entity is registered.
func checkRegistry(r *Report, kind string, reg *hashmap.Registry, entities int, live func(model.Hash) bool) {
	if uint64(len(reg.Hashes)) != uint64(entities) {
		r.failf("%s registry holds %d hashes for %d entities", kind, len(reg.Hashes), entities)
	}
	var active uint64
	for _, h := range reg.Hashes {
		if reg.IsActive(h) {
			active++
			if !live(h) {
				r.failf("%s %s is active in the registry but terminal", kind, h)
			}
		}
	}
	if active != reg.Count {
		r.failf("%s registry count %d, active entries %d", kind, reg.Count, active)
	}
}
