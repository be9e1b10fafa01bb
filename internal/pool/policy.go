package pool

import (
	"log/slog"

	"github.com/hicpool/pool-engine/internal/fixedpoint"
	"github.com/hicpool/pool-engine/internal/model"
	"github.com/hicpool/pool-engine/internal/timer"
)

// activeAdjustor returns the adjustor if it is active and owned by caller.
func (t *tx) activeAdjustor(caller model.Address, h model.Hash) (model.Adjustor, error) {
	a, ok := t.st.Adjustors[h]
	if !ok || !t.st.AdjustorRegistry.IsActive(h) {
		return model.Adjustor{}, notFound("adjustor", h)
	}
	if a.Owner != caller {
		return model.Adjustor{}, unauthorized("%q does not own adjustor %s", caller, h)
	}
	return a, nil
}

func (t *tx) createPolicy(caller model.Address, adjustorHash model.Hash, owner model.Address, docHash model.Hash, riskPoints int64) (model.Hash, error) {
	a, err := t.activeAdjustor(caller, adjustorHash)
	if err != nil {
		return model.EmptyHash, err
	}
	if owner == "" {
		return model.EmptyHash, invalid("policy owner required")
	}
	if riskPoints <= 0 || riskPoints > a.PolicyRiskPointLimit {
		return model.EmptyHash, invalid("risk points %d outside (0, %d]", riskPoints, a.PolicyRiskPointLimit)
	}

	h := entityHash("policy", owner, t.st.PolicyRegistry.Next, t.now)
	idx, err := t.st.PolicyRegistry.Insert(h)
	if err != nil {
		return model.EmptyHash, conflict("%v", err)
	}
	p := model.Policy{
		Hash:                  h,
		Idx:                   idx,
		Owner:                 owner,
		AdjustorHash:          adjustorHash,
		PaymentAccountHash:    PaymentAccountHash(h),
		DocumentHash:          docHash,
		RiskPoints:            riskPoints,
		State:                 model.PolicyPaused,
		LastReconciliationDay: t.today(),
		NextReconciliationDay: t.today(),
	}
	t.st.Policies[h] = p
	t.policyEvent(&p, model.EmptyHash, riskPoints)
	t.policyEvent(&p, docHash, 0)
	return h, nil
}

func (t *tx) updatePolicy(caller model.Address, adjustorHash, policyHash, docHash model.Hash, riskPoints int64) error {
	a, err := t.activeAdjustor(caller, adjustorHash)
	if err != nil {
		return err
	}
	p, err := t.livePolicy(policyHash)
	if err != nil {
		return err
	}
	if riskPoints <= 0 || riskPoints > a.PolicyRiskPointLimit {
		return invalid("risk points %d outside (0, %d]", riskPoints, a.PolicyRiskPointLimit)
	}
	if p.State == model.PolicyIssued {
		t.chargePolicy(&p)
		t.st.TotalIssuedPolicyRiskPoints += riskPoints - p.RiskPoints
	}
	p.RiskPoints = riskPoints
	p.DocumentHash = docHash
	t.st.Policies[policyHash] = p
	if p.State == model.PolicyIssued {
		t.scheduleReconciliation(&p)
	}
	t.policyEvent(&p, model.EmptyHash, riskPoints)
	t.policyEvent(&p, docHash, 0)
	return nil
}

func (t *tx) livePolicy(h model.Hash) (model.Policy, error) {
	p, ok := t.st.Policies[h]
	if !ok {
		return p, notFound("policy", h)
	}
	if p.State == model.PolicyRetired || !t.st.PolicyRegistry.IsActive(h) {
		return p, conflict("policy %s is retired", h)
	}
	return p, nil
}

// onPremiumCredited records a premium payment against a policy.
func (t *tx) onPremiumCredited(h model.Hash, amount int64) error {
	p := t.st.Policies[h]
	if p.State == model.PolicyRetired || !t.st.PolicyRegistry.IsActive(h) {
		return refuse("policy %s is retired", h)
	}
	if amount < t.p.MinPolicyCreditCu || amount > t.p.MaxPolicyCreditCu {
		return refuse("premium %d outside [%d, %d]", amount, t.p.MinPolicyCreditCu, t.p.MaxPolicyCreditCu)
	}

	switch p.State {
	case model.PolicyPaused:
		if p.PremiumCreditedCu == 0 {
			p.State = model.PolicyIssued
			t.st.TotalIssuedPolicyRiskPoints += p.RiskPoints
			p.LastReconciliationDay = t.today()
		}
	case model.PolicyLapsed:
		p.State = model.PolicyPostLapsed
		p.LastReconciliationDay = t.today()
	case model.PolicyIssued:
		t.chargePolicy(&p)
	}
	p.PremiumCreditedCu += amount

	switch p.State {
	case model.PolicyIssued:
		t.scheduleReconciliation(&p)
	case model.PolicyPostLapsed:
		p.NextReconciliationDay = p.LastReconciliationDay + t.p.DurationPolicyPostLapsedDays
		t.st.Jobs.Schedule(timer.KindPolicyReconciliation, h, t.dayStart(p.NextReconciliationDay))
	}
	t.st.Policies[h] = p
	t.policyEvent(&p, model.EmptyHash, amount)
	return nil
}

// chargePolicy accrues the premium of every day since the last
// reconciliation up to, but excluding, today.
func (t *tx) chargePolicy(p *model.Policy) {
	for d := p.LastReconciliationDay; d < t.today(); d++ {
		rate := t.st.PremiumPerRiskPointPpm[d][0]
		p.PremiumChargedPpt += fixedpoint.MulDiv(p.RiskPoints, rate, fixedpoint.Ppt)
	}
	if p.LastReconciliationDay < t.today() {
		p.LastReconciliationDay = t.today()
	}
}

func (t *tx) policySolvent(p *model.Policy) bool {
	return p.PremiumCreditedCu*fixedpoint.Ppt >= p.PremiumChargedPpt
}

// scheduleReconciliation plans the next check of an issued policy for the
// day its credit is expected to run out, less a safety margin.
func (t *tx) scheduleReconciliation(p *model.Policy) {
	days := t.p.MaxDurationPolicyReconciliationDays
	daily := fixedpoint.MulDiv(p.RiskPoints, t.st.PremiumPerRiskPointPpm[t.today()][0], fixedpoint.Ppt)
	if daily > 0 {
		remaining := fixedpoint.SubFloor(p.PremiumCreditedCu*fixedpoint.Ppt, p.PremiumChargedPpt)
		days = fixedpoint.Div(remaining, daily) - t.p.PolicyReconciliationSafetyMarginDays
		days = fixedpoint.Min(fixedpoint.Max(days, 1), t.p.MaxDurationPolicyReconciliationDays)
	}
	p.NextReconciliationDay = t.today() + days
	t.st.Jobs.Schedule(timer.KindPolicyReconciliation, p.Hash, t.dayStart(p.NextReconciliationDay))
}

// ownerOrAdjustor authorises policy owner actions. The owner of the
// policy's adjustor may act on the owner's behalf.
func (t *tx) ownerOrAdjustor(caller model.Address, p *model.Policy) error {
	if caller == p.Owner {
		return nil
	}
	if a, ok := t.st.Adjustors[p.AdjustorHash]; ok && t.st.AdjustorRegistry.IsActive(a.Hash) && a.Owner == caller {
		return nil
	}
	return unauthorized("%q may not manage policy %s", caller, p.Hash)
}

func (t *tx) suspendPolicy(caller model.Address, h model.Hash) error {
	p, err := t.livePolicy(h)
	if err != nil {
		return err
	}
	if err := t.ownerOrAdjustor(caller, &p); err != nil {
		return err
	}
	if p.State != model.PolicyIssued {
		return conflict("policy %s is %s, want Issued", h, p.State)
	}
	t.chargePolicy(&p)
	p.State = model.PolicyPaused
	t.st.TotalIssuedPolicyRiskPoints -= p.RiskPoints
	p.LastReconciliationDay = t.today()
	p.NextReconciliationDay = t.today() + t.p.MaxDurationPolicyPausedDays
	t.st.Jobs.Schedule(timer.KindPolicyReconciliation, h, t.dayStart(p.NextReconciliationDay))
	t.st.Policies[h] = p
	t.policyEvent(&p, model.EmptyHash, p.NextReconciliationDay)
	return nil
}

func (t *tx) unsuspendPolicy(caller model.Address, h model.Hash) error {
	p, err := t.livePolicy(h)
	if err != nil {
		return err
	}
	if err := t.ownerOrAdjustor(caller, &p); err != nil {
		return err
	}
	if p.State != model.PolicyPaused || p.PremiumCreditedCu == 0 {
		return conflict("policy %s is not suspended", h)
	}
	if t.today() < p.LastReconciliationDay+t.p.MinDurationPolicyPausedDays {
		return conflict("policy %s must stay paused until day %d", h, p.LastReconciliationDay+t.p.MinDurationPolicyPausedDays)
	}
	t.resumePolicy(&p)
	t.st.Policies[h] = p
	t.policyEvent(&p, model.EmptyHash, p.NextReconciliationDay)
	return nil
}

func (t *tx) resumePolicy(p *model.Policy) {
	p.State = model.PolicyIssued
	t.st.TotalIssuedPolicyRiskPoints += p.RiskPoints
	p.LastReconciliationDay = t.today()
	t.scheduleReconciliation(p)
}

func (t *tx) retirePolicy(caller model.Address, h model.Hash) error {
	p, err := t.livePolicy(h)
	if err != nil {
		return err
	}
	if err := t.ownerOrAdjustor(caller, &p); err != nil {
		return err
	}
	return t.finalisePolicy(&p)
}

// finalisePolicy retires a policy and refunds any unconsumed premium.
func (t *tx) finalisePolicy(p *model.Policy) error {
	if p.State == model.PolicyIssued {
		t.chargePolicy(p)
		t.st.TotalIssuedPolicyRiskPoints -= p.RiskPoints
	}
	refund := fixedpoint.Div(fixedpoint.SubFloor(p.PremiumCreditedCu*fixedpoint.Ppt, p.PremiumChargedPpt), fixedpoint.Ppt)
	if refund > 0 {
		_, refund = t.queueAdvice(model.AdvicePremiumRefund, p.PaymentAccountHash, p.Hash, refund)
	}
	p.State = model.PolicyRetired
	t.st.Policies[p.Hash] = *p
	if err := t.st.PolicyRegistry.Archive(p.Hash); err != nil {
		return conflict("%v", err)
	}
	t.st.Jobs.Cancel(timer.KindPolicyReconciliation, p.Hash)
	t.policyEvent(p, model.EmptyHash, refund)
	t.log(slog.LevelInfo, "policy retired", "policy", p.Hash, "refund", refund)
	return nil
}

// reconcilePolicy is the scheduled check of a single policy.
func (t *tx) reconcilePolicy(h model.Hash) error {
	p, err := t.livePolicy(h)
	if err != nil {
		return err
	}
	if t.today() < p.NextReconciliationDay {
		t.st.Jobs.Schedule(timer.KindPolicyReconciliation, h, t.dayStart(p.NextReconciliationDay))
		return nil
	}

	switch p.State {
	case model.PolicyIssued:
		t.chargePolicy(&p)
		if !t.policySolvent(&p) {
			t.lapsePolicy(&p)
		} else {
			t.scheduleReconciliation(&p)
		}

	case model.PolicyPostLapsed:
		if t.policySolvent(&p) {
			t.resumePolicy(&p)
		} else {
			t.lapsePolicy(&p)
		}

	case model.PolicyLapsed:
		return t.finalisePolicy(&p)

	case model.PolicyPaused:
		if p.PremiumCreditedCu == 0 {
			t.st.Jobs.Cancel(timer.KindPolicyReconciliation, h)
			return nil
		}
		t.resumePolicy(&p)
	}
	t.st.Policies[h] = p
	t.policyEvent(&p, model.EmptyHash, p.NextReconciliationDay)
	return nil
}

func (t *tx) lapsePolicy(p *model.Policy) {
	if p.State == model.PolicyIssued {
		t.st.TotalIssuedPolicyRiskPoints -= p.RiskPoints
	}
	p.State = model.PolicyLapsed
	p.LastReconciliationDay = t.today()
	p.NextReconciliationDay = t.today() + t.p.MaxDurationPolicyLapsedDays
	t.st.Jobs.Schedule(timer.KindPolicyReconciliation, p.Hash, t.dayStart(p.NextReconciliationDay))
	t.log(slog.LevelWarn, "policy lapsed", "policy", p.Hash, "credited", p.PremiumCreditedCu, "charged_ppt", p.PremiumChargedPpt)
}
