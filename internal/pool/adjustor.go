package pool

import (
	"github.com/hicpool/pool-engine/internal/model"
)

// AdjustorTerms are the settable fields of an adjustor.
type AdjustorTerms struct {
	Owner                      model.Address `json:"owner"`
	SettlementApprovalAmountCu int64         `json:"settlement_approval_amount_cu"`
	PolicyRiskPointLimit       int64         `json:"policy_risk_point_limit"`
	ServiceAgreementHash       model.Hash    `json:"service_agreement_hash"`
}

func (a AdjustorTerms) validate() error {
	if a.Owner == "" {
		return invalid("adjustor owner required")
	}
	if a.SettlementApprovalAmountCu < 0 {
		return invalid("settlement approval amount must not be negative")
	}
	if a.PolicyRiskPointLimit < 0 {
		return invalid("policy risk point limit must not be negative")
	}
	return nil
}

func (t *tx) createAdjustor(caller model.Address, terms AdjustorTerms) (model.Hash, error) {
	if err := t.st.External.Check(caller); err != nil {
		return model.EmptyHash, err
	}
	if err := terms.validate(); err != nil {
		return model.EmptyHash, err
	}
	h := entityHash("adjustor", terms.Owner, t.st.AdjustorRegistry.Next, t.now)
	idx, err := t.st.AdjustorRegistry.Insert(h)
	if err != nil {
		return model.EmptyHash, conflict("%v", err)
	}
	a := model.Adjustor{Hash: h, Idx: idx}
	t.setAdjustorTerms(&a, terms)
	return h, nil
}

func (t *tx) updateAdjustor(caller model.Address, h model.Hash, terms AdjustorTerms) error {
	if err := t.st.External.Check(caller); err != nil {
		return err
	}
	if err := terms.validate(); err != nil {
		return err
	}
	a, ok := t.st.Adjustors[h]
	if !ok || !t.st.AdjustorRegistry.IsActive(h) {
		return notFound("adjustor", h)
	}
	t.setAdjustorTerms(&a, terms)
	return nil
}

func (t *tx) setAdjustorTerms(a *model.Adjustor, terms AdjustorTerms) {
	a.Owner = terms.Owner
	a.SettlementApprovalAmountCu = terms.SettlementApprovalAmountCu
	a.PolicyRiskPointLimit = terms.PolicyRiskPointLimit
	a.ServiceAgreementHash = terms.ServiceAgreementHash
	t.st.Adjustors[a.Hash] = *a

	t.adjustorEvent(a, model.EmptyHash, a.SettlementApprovalAmountCu)
	t.adjustorEvent(a, model.EmptyHash, a.PolicyRiskPointLimit)
	t.adjustorEvent(a, a.ServiceAgreementHash, 0)
}

// retireAdjustor archives the adjustor and clears its rights. Existing
// policies keep their adjustor hash.
func (t *tx) retireAdjustor(caller model.Address, h model.Hash) error {
	if err := t.st.External.Check(caller); err != nil {
		return err
	}
	a, ok := t.st.Adjustors[h]
	if !ok || !t.st.AdjustorRegistry.IsActive(h) {
		return notFound("adjustor", h)
	}
	if err := t.st.AdjustorRegistry.Archive(h); err != nil {
		return conflict("%v", err)
	}
	a.SettlementApprovalAmountCu = 0
	a.PolicyRiskPointLimit = 0
	a.ServiceAgreementHash = model.EmptyHash
	t.st.Adjustors[h] = a
	t.adjustorEvent(&a, model.EmptyHash, 0)
	return nil
}
