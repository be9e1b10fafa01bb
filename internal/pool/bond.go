package pool

import (
	"log/slog"

	"github.com/hicpool/pool-engine/internal/fixedpoint"
	"github.com/hicpool/pool-engine/internal/model"
	"github.com/hicpool/pool-engine/internal/timer"
)

// createBond registers a new bond. With a reference bond the new bond is
// secured and signed immediately and the reference bond is locked.
func (t *tx) createBond(owner model.Address, principal int64, refHash model.Hash) (model.Hash, error) {
	if owner == "" {
		return model.EmptyHash, invalid("bond owner required")
	}
	if principal < t.p.MinBondPrincipalCu || principal > t.p.MaxBondPrincipalCu {
		return model.EmptyHash, invalid("bond principal %d outside [%d, %d]", principal, t.p.MinBondPrincipalCu, t.p.MaxBondPrincipalCu)
	}

	var ref model.Bond
	if !refHash.IsZero() {
		var ok bool
		if ref, ok = t.st.Bonds[refHash]; !ok {
			return model.EmptyHash, notFound("reference bond", refHash)
		}
		if ref.Owner != owner {
			return model.EmptyHash, unauthorized("reference bond %s is not owned by %s", refHash, owner)
		}
		if ref.State != model.BondIssued {
			return model.EmptyHash, conflict("reference bond %s is %s, want Issued", refHash, ref.State)
		}
	}

	h := entityHash("bond", owner, t.st.BondRegistry.Next, t.now)
	idx, err := t.st.BondRegistry.Insert(h)
	if err != nil {
		return model.EmptyHash, conflict("%v", err)
	}

	deadline := t.now + t.p.DurationBondLockNextStateSec
	b := model.Bond{
		Hash:                h,
		Idx:                 idx,
		Owner:               owner,
		PaymentAccountHash:  PaymentAccountHash(h),
		PrincipalCu:         principal,
		CreationDate:        t.now,
		NextStateExpiryDate: deadline,
		MaturityDate:        deadline,
		State:               model.BondCreated,
	}
	t.bondEvent(&b, model.EmptyHash, principal)

	if !refHash.IsZero() {
		ref.State = model.BondLockedReferenceBond
		ref.SecurityReferenceHash = h
		t.st.Bonds[refHash] = ref
		t.bondEvent(&ref, h, 0)

		b.State = model.BondSecuredReferenceBond
		b.SecurityReferenceHash = refHash
		b.ViaReference = true
		t.bondEvent(&b, refHash, 0)

		b.YieldPpb = t.allocateYield(principal)
		b.State = model.BondSigned
		t.bondEvent(&b, model.EmptyHash, b.YieldPpb)

		t.st.WcBondCu = fixedpoint.SubFloor(t.st.WcBondCu, principal)
		t.st.WcTransitCu += principal
	}

	t.st.Bonds[h] = b
	t.st.Jobs.Schedule(timer.KindBondMaturity, h, b.MaturityDate)
	return h, nil
}

// allocateYield returns the yield for a new bond of the given principal and
// lowers the pool yield by twice the bond's discount.
func (t *tx) allocateYield(principal int64) int64 {
	yieldAvg := fixedpoint.MulDiv(t.st.BGradientPpq, principal, 2*fixedpoint.Ppm)
	bondYield := fixedpoint.Max(t.p.MinYieldPpb, t.st.BYieldPpb-yieldAvg)
	t.st.BYieldPpb = fixedpoint.Max(t.p.MinYieldPpb, t.st.BYieldPpb-2*yieldAvg)
	return bondYield
}

// onBondPrincipalCredited completes the securing of a bond once its
// principal has arrived in the funding account.
func (t *tx) onBondPrincipalCredited(h model.Hash, amount int64) error {
	b := t.st.Bonds[h]
	if !t.st.BondRegistry.IsActive(h) {
		return refuse("bond %s is archived", h)
	}
	switch {
	case b.State == model.BondCreated:
	case b.State == model.BondSigned && b.ViaReference:
	default:
		return refuse("bond %s is %s and cannot take principal", h, b.State)
	}
	if amount != b.PrincipalCu {
		return refuse("amount %d does not match bond principal %d", amount, b.PrincipalCu)
	}

	if b.State == model.BondCreated {
		b.State = model.BondSecuredBondPrincipal
		t.bondEvent(&b, model.EmptyHash, b.PrincipalCu)

		b.YieldPpb = t.allocateYield(b.PrincipalCu)
		b.State = model.BondSigned
		t.bondEvent(&b, model.EmptyHash, b.YieldPpb)

		t.st.WcBondCu = fixedpoint.SubFloor(t.st.WcBondCu, b.PrincipalCu)
	} else {
		if ref, ok := t.st.Bonds[b.SecurityReferenceHash]; ok &&
			ref.State == model.BondLockedReferenceBond && ref.SecurityReferenceHash == h {
			ref.State = model.BondIssued
			ref.SecurityReferenceHash = model.EmptyHash
			t.st.Bonds[ref.Hash] = ref
			t.bondEvent(&ref, model.EmptyHash, ref.MaturityDate)
		}
		b.SecurityReferenceHash = model.EmptyHash
		t.st.WcTransitCu = fixedpoint.SubFloor(t.st.WcTransitCu, b.PrincipalCu)
	}

	t.issueBond(&b)
	t.st.Bonds[h] = b
	return nil
}

func (t *tx) issueBond(b *model.Bond) {
	b.State = model.BondIssued
	b.MaturityDate = t.now + t.p.DurationToBondMaturitySec
	b.NextStateExpiryDate = b.MaturityDate
	b.MaturityPayoutCu = b.PrincipalCu + fixedpoint.MulDiv(b.PrincipalCu, b.YieldPpb, fixedpoint.Ppb)
	t.st.BondMaturityPayoutsCu[t.today()+t.p.BondMaturityDays()] += b.MaturityPayoutCu
	t.st.Jobs.Schedule(timer.KindBondMaturity, b.Hash, b.MaturityDate)
	t.bondEvent(b, model.EmptyHash, b.MaturityDate)
	t.log(slog.LevelInfo, "bond issued", "bond", b.Hash, "principal", b.PrincipalCu, "yield_ppb", b.YieldPpb, "payout", b.MaturityPayoutCu)
}

// processMaturedBond settles a bond whose maturity date has passed. Only an
// Issued bond with sufficient holding funds matures; everything else
// defaults. The bond is archived either way.
func (t *tx) processMaturedBond(h model.Hash) error {
	b, ok := t.st.Bonds[h]
	if !ok || !t.st.BondRegistry.IsActive(h) {
		return notFound("bond", h)
	}
	if t.now < b.MaturityDate {
		return ErrNotDue
	}

	var payout int64
	final := model.BondDefaulted
	switch b.State {
	case model.BondIssued:
		payout = b.MaturityPayoutCu
		final = model.BondMatured
	case model.BondSigned:
		t.st.WcTransitCu = fixedpoint.SubFloor(t.st.WcTransitCu, b.PrincipalCu)
	case model.BondLockedReferenceBond:
		payout = b.MaturityPayoutCu
		if secured, ok := t.st.Bonds[b.SecurityReferenceHash]; ok {
			haircut := fixedpoint.MulDiv(secured.PrincipalCu, t.p.BondRequiredSecurityReferencePpt, fixedpoint.Ppt)
			payout = fixedpoint.SubFloor(payout, haircut)
		}
	}
	if payout > t.st.WcBalBaCu {
		payout = t.st.WcBalBaCu
		final = model.BondDefaulted
	}
	if payout > 0 {
		t.queueAdvice(model.AdviceBondMaturity, b.PaymentAccountHash, h, payout)
	}

	b.State = final
	b.MaturityPayoutCu = payout
	t.st.Bonds[h] = b
	if err := t.st.BondRegistry.Archive(h); err != nil {
		return conflict("%v", err)
	}
	t.st.Jobs.Cancel(timer.KindBondMaturity, h)
	t.bondEvent(&b, model.EmptyHash, payout)
	if final == model.BondDefaulted {
		t.log(slog.LevelWarn, "bond defaulted", "bond", h, "payout", payout)
	}
	return nil
}
