package pool

import (
	"log/slog"

	"github.com/hicpool/pool-engine/internal/fixedpoint"
	"github.com/hicpool/pool-engine/internal/model"
)

func (t *tx) createSettlement(caller model.Address, adjustorHash, policyHash, docHash model.Hash) (model.Hash, error) {
	a, err := t.activeAdjustor(caller, adjustorHash)
	if err != nil {
		return model.EmptyHash, err
	}
	if !t.st.PolicyRegistry.IsValid(policyHash) {
		return model.EmptyHash, notFound("policy", policyHash)
	}

	h := entityHash("settlement", a.Owner, t.st.SettlementRegistry.Next, t.now)
	idx, err := t.st.SettlementRegistry.Insert(h)
	if err != nil {
		return model.EmptyHash, conflict("%v", err)
	}
	s := model.Settlement{
		Hash:         h,
		Idx:          idx,
		AdjustorHash: adjustorHash,
		PolicyHash:   policyHash,
		State:        model.SettlementCreated,
	}
	t.settlementEvent(&s, policyHash, 0)
	if !docHash.IsZero() {
		s.State = model.SettlementProcessing
		t.settlementEvent(&s, docHash, 0)
	}
	t.st.Settlements[h] = s
	return h, nil
}

// openSettlement loads a settlement that has not been closed and checks
// that caller may act on it through actingAdjustor.
func (t *tx) openSettlement(caller model.Address, actingAdjustor, h model.Hash) (model.Settlement, model.Adjustor, error) {
	s, ok := t.st.Settlements[h]
	if !ok {
		return s, model.Adjustor{}, notFound("settlement", h)
	}
	if s.State == model.SettlementSettled || !t.st.SettlementRegistry.IsActive(h) {
		return s, model.Adjustor{}, conflict("settlement %s is closed", h)
	}
	a, err := t.activeAdjustor(caller, actingAdjustor)
	if err != nil {
		return s, a, err
	}
	if actingAdjustor != s.AdjustorHash {
		origin := t.st.Adjustors[s.AdjustorHash]
		if a.SettlementApprovalAmountCu < origin.SettlementApprovalAmountCu {
			return s, a, unauthorized("adjustor %s may not act on settlement %s", actingAdjustor, h)
		}
	}
	return s, a, nil
}

func (t *tx) addSettlementInfo(caller model.Address, adjustorHash, h, docHash model.Hash) error {
	s, _, err := t.openSettlement(caller, adjustorHash, h)
	if err != nil {
		return err
	}
	if docHash.IsZero() {
		return invalid("document hash required")
	}
	s.State = model.SettlementProcessing
	t.st.Settlements[h] = s
	t.settlementEvent(&s, docHash, 0)
	return nil
}

// setExpectedSettlementAmount relocks working capital by the change in the
// expected amount.
func (t *tx) setExpectedSettlementAmount(caller model.Address, adjustorHash, h model.Hash, amount int64) error {
	s, a, err := t.openSettlement(caller, adjustorHash, h)
	if err != nil {
		return err
	}
	if amount < 0 || amount > a.SettlementApprovalAmountCu {
		return invalid("settlement amount %d outside [0, %d]", amount, a.SettlementApprovalAmountCu)
	}
	t.st.WcLockedCu = fixedpoint.SubFloor(t.st.WcLockedCu+amount, s.SettlementAmountCu)
	s.SettlementAmountCu = amount
	s.State = model.SettlementProcessing
	t.st.Settlements[h] = s
	t.settlementEvent(&s, model.EmptyHash, amount)
	return nil
}

// closeSettlement releases the lock and pays the final amount from the
// funding account. A payout above the funding balance is reduced to it.
func (t *tx) closeSettlement(caller model.Address, adjustorHash, h model.Hash, amount int64) error {
	s, a, err := t.openSettlement(caller, adjustorHash, h)
	if err != nil {
		return err
	}
	if amount < 0 || amount > a.SettlementApprovalAmountCu {
		return invalid("settlement amount %d outside [0, %d]", amount, a.SettlementApprovalAmountCu)
	}
	t.st.WcLockedCu = fixedpoint.SubFloor(t.st.WcLockedCu, s.SettlementAmountCu)

	var paid int64
	if amount > 0 {
		_, paid = t.queueAdvice(model.AdviceServiceProvider, t.p.SettlementAccountPaymentHash, h, amount)
		if paid < amount {
			t.log(slog.LevelWarn, "settlement payout reduced", "settlement", h, "requested", amount, "paid", paid)
		}
	}
	s.SettlementAmountCu = paid
	s.State = model.SettlementSettled
	t.st.Settlements[h] = s
	if err := t.st.SettlementRegistry.Archive(h); err != nil {
		return conflict("%v", err)
	}
	t.settlementEvent(&s, model.EmptyHash, paid)
	return nil
}
