package pool

import (
	"log/slog"

	"github.com/hicpool/pool-engine/internal/config"
	"github.com/hicpool/pool-engine/internal/fixedpoint"
	"github.com/hicpool/pool-engine/internal/model"
	"github.com/hicpool/pool-engine/internal/timer"
)

// Names of the quantities reported by the overnight run, in emission order.
const (
	SubjectTotalRiskPoints        = "TotalRiskPoints"
	SubjectPremiumCu              = "PremiumCu"
	SubjectTrustFeeCu             = "TrustFeeCu"
	SubjectOperatorFeeCu          = "OperatorFeeCu"
	SubjectOverflowCu             = "OverflowCu"
	SubjectWcExpensesCu           = "WcExpensesCu"
	SubjectWcTimeSec              = "WcTimeSec"
	SubjectWcBondCu               = "WcBondCu"
	SubjectBondGradientPpq        = "BondGradientPpq"
	SubjectBondYieldPpb           = "BondYieldPpb"
	SubjectBondPayoutNext3DaysCu  = "BondPayoutNext3DaysCu"
	SubjectBondPayoutAverageCu    = "BondPayoutAverageCu"
	SubjectBondPayoutMaxSlopeCu   = "BondPayoutMaxSlopeCu"
	SubjectPremiumPerRiskPointPpm = "PremiumPerRiskPointPpm"
)

// runOvernight closes the current pool day and opens the next one.
func (t *tx) runOvernight() error {
	if t.now < t.st.NextOvernightProcessing {
		return ErrNotDue
	}
	st, p := t.st, t.p
	day := st.CurrentPoolDay
	t.poolEvent(SubjectTotalRiskPoints, day, st.TotalIssuedPolicyRiskPoints)

	// Premium earned over the closing day moves to the bond account; the
	// fees are paid out of funding.
	premium := fixedpoint.MulDiv(st.PremiumPerRiskPointPpm[day][0], st.TotalIssuedPolicyRiskPoints, fixedpoint.Ppm)
	if premium > 0 {
		_, premium = t.queueAdvice(model.AdvicePremium, p.BondAccountPaymentHash, model.EmptyHash, premium)
	}
	t.poolEvent(SubjectPremiumCu, day, premium)
	if fee := fixedpoint.MulDiv(premium, p.TrustFeePpt, fixedpoint.Ppt); fee >= 1 {
		_, fee = t.queueAdvice(model.AdviceTrust, p.TrustAccountPaymentHash, model.EmptyHash, fee)
		t.poolEvent(SubjectTrustFeeCu, day, fee)
	}
	if fee := fixedpoint.MulDiv(premium, p.PoolOperatorFeePpt, fixedpoint.Ppt); fee >= 1 {
		_, fee = t.queueAdvice(model.AdvicePoolOperator, p.OperatorAccountPaymentHash, model.EmptyHash, fee)
		t.poolEvent(SubjectOperatorFeeCu, day, fee)
	}

	// Sweep bond account funds above the payout buffer into funding.
	payouts := t.payoutForecast(day)
	if limit := payouts.average * p.BondPayoutBufferDays; st.WcBalBaCu > limit {
		_, overflow := t.queueAdvice(model.AdviceOverflow, p.FundingAccountPaymentHash, model.EmptyHash, st.WcBalBaCu-limit)
		t.poolEvent(SubjectOverflowCu, day, overflow)
	}

	if !st.OverwriteWcExpenses {
		n := p.WcExpenseHistoryDays
		st.WcExpCu = fixedpoint.MulDiv(st.WcExpCu, n-1, n) + st.FundingPaymentsCu
	}
	st.FundingPaymentsCu = 0
	t.poolEvent(SubjectWcExpensesCu, day, st.WcExpCu)

	wcTime := t.computeWcBond()
	t.poolEvent(SubjectWcTimeSec, day, wcTime)
	t.poolEvent(SubjectWcBondCu, day, st.WcBondCu)

	st.BGradientPpq = 0
	if st.WcBondCu > 0 {
		st.BGradientPpq = fixedpoint.MulDiv(st.BYieldPpb, fixedpoint.Ppm, st.WcBondCu)
	}
	t.poolEvent(SubjectBondGradientPpq, day, st.BGradientPpq)
	t.poolEvent(SubjectBondYieldPpb, day, st.BYieldPpb)

	t.poolEvent(SubjectBondPayoutNext3DaysCu, day, payouts.next3Days)
	t.poolEvent(SubjectBondPayoutAverageCu, day, payouts.average)
	t.poolEvent(SubjectBondPayoutMaxSlopeCu, day, payouts.maxSlope)

	target := fixedpoint.Max(payouts.average, payouts.maxSlope)
	var rates PremiumRates
	if st.TotalIssuedPolicyRiskPoints > 0 {
		rates[0] = fixedpoint.MulDiv(target, fixedpoint.Ppm, st.TotalIssuedPolicyRiskPoints)
	}
	for tier := 1; tier < config.PremiumTiers; tier++ {
		rates[tier] = fixedpoint.MulDiv(rates[0], fixedpoint.Ppt+p.PremiumTierSurchargePpt[tier], fixedpoint.Ppt)
	}
	st.PremiumPerRiskPointPpm[day+1] = rates
	t.poolEvent(SubjectPremiumPerRiskPointPpm, day+1, rates[0])

	t.advanceDay()
	t.log(slog.LevelInfo, "overnight processing complete",
		"pool_day", day,
		"premium", premium,
		"wc_exp", st.WcExpCu,
		"wc_bond", st.WcBondCu,
		"premium_per_rp_ppm", rates[0],
	)
	return nil
}

// computeWcBond recomputes the bond capital target from the funding runway
// and returns the runway in seconds.
func (t *tx) computeWcBond() int64 {
	st, p := t.st, t.p
	if st.WcExpCu == 0 {
		st.WcBondCu = 0
		return 0
	}
	window := p.WcExpenseHistoryDays * secondsPerDay
	free := fixedpoint.SubFloor(st.WcBalFaCu, st.WcLockedCu)
	wcTime := fixedpoint.MulDiv(free, window, st.WcExpCu)

	var delta int64
	if wcTime < p.WcPoolTargetTimeSec {
		delta = fixedpoint.MulDiv(p.WcPoolTargetTimeSec-wcTime, st.WcExpCu, window)
	}
	st.WcBondCu = fixedpoint.SubFloor(delta, st.WcTransitCu)
	return wcTime
}

type payoutForecast struct {
	next3Days int64
	average   int64
	maxSlope  int64
}

// payoutForecast summarises the bond maturity payouts booked from day
// onwards. maxSlope is the steepest average daily shortfall of the bond
// account against the cumulative payouts due over the next k days.
func (t *tx) payoutForecast(day int64) payoutForecast {
	var f payoutForecast
	horizon := t.p.BondMaturityDays()
	if horizon <= 0 {
		return f
	}
	var total, cum int64
	for d := day; d <= day+horizon; d++ {
		total += t.st.BondMaturityPayoutsCu[d]
	}
	f.average = fixedpoint.Div(total, horizon)
	for k := int64(1); k <= horizon; k++ {
		cum += t.st.BondMaturityPayoutsCu[day+k]
		if k <= 3 {
			f.next3Days = cum
		}
		if cum > t.st.WcBalBaCu {
			f.maxSlope = fixedpoint.Max(f.maxSlope, fixedpoint.Div(cum-t.st.WcBalBaCu, k))
		}
	}
	return f
}

// advanceDay opens the next pool day and schedules its overnight run.
func (t *tx) advanceDay() {
	st := t.st
	for d := range st.BondMaturityPayoutsCu {
		if d < st.CurrentPoolDay {
			delete(st.BondMaturityPayoutsCu, d)
		}
	}
	st.CurrentPoolDay++
	st.OverwriteWcExpenses = false
	st.NextOvernightProcessing += secondsPerDay
	if st.DaylightSavingPending {
		if st.IsWinterTime {
			st.NextOvernightProcessing += t.p.DaylightSavingAdjSec
		} else {
			st.NextOvernightProcessing -= t.p.DaylightSavingAdjSec
		}
		st.DaylightSavingPending = false
	}
	st.Jobs.Schedule(timer.KindOvernight, model.EmptyHash, st.NextOvernightProcessing)
}

// yieldDemandThreshold is the bond capital demand above which the pool
// yield may accelerate.
func (t *tx) yieldDemandThreshold() int64 {
	p := t.p
	return fixedpoint.MulDiv(t.st.WcExpCu, secondsPerDay*p.YacExpenseThresholdPpt, p.WcExpenseHistoryDays*3600*fixedpoint.Ppt)
}

// accelerateYield compounds the pool yield by one interval when bond
// demand is under-supplied. It reports whether the yield changed.
func (t *tx) accelerateYield() bool {
	st, p := t.st, t.p
	if st.WcBondCu <= t.yieldDemandThreshold() {
		return false
	}
	next := fixedpoint.Min(p.MaxYieldPpb, fixedpoint.MulDiv(st.BYieldPpb, fixedpoint.Ppb+p.YacPerIntervalPpb, fixedpoint.Ppb))
	if next == st.BYieldPpb {
		return false
	}
	st.BYieldPpb = next
	t.poolEvent(SubjectBondYieldPpb, st.CurrentPoolDay, next)
	return true
}

// runYieldPing is the recurring yield job.
func (t *tx) runYieldPing(at int64) {
	t.accelerateYield()
	next := at + t.p.YacIntervalSec
	if next <= t.now {
		next = t.now + t.p.YacIntervalSec
	}
	t.st.Jobs.Schedule(timer.KindYield, model.EmptyHash, next)
}
