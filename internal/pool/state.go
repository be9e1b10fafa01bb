package pool

import (
	"maps"
	"slices"

	"github.com/hicpool/pool-engine/internal/access"
	"github.com/hicpool/pool-engine/internal/config"
	"github.com/hicpool/pool-engine/internal/hashmap"
	"github.com/hicpool/pool-engine/internal/model"
	"github.com/hicpool/pool-engine/internal/timer"
)

// PremiumRates holds the premium per risk point of one day for every tier.
type PremiumRates [config.PremiumTiers]int64

// State is the complete pool state. Operations run against a clone and the
// clone replaces the live state only when the operation succeeds.
type State struct {
	Initialised             bool  `json:"initialised"`
	IsWinterTime            bool  `json:"is_winter_time"`
	DaylightSavingPending   bool  `json:"daylight_saving_pending"`
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

	OverwriteWcExpenses bool  `json:"overwrite_wc_expenses"`
	FundingPaymentsCu   int64 `json:"funding_payments_cu"`

	TotalIssuedPolicyRiskPoints int64 `json:"total_issued_policy_risk_points"`

	PremiumPerRiskPointPpm map[int64]PremiumRates `json:"premium_per_risk_point_ppm"`
	BondMaturityPayoutsCu  map[int64]int64        `json:"bond_maturity_payouts_cu"`

	External access.External `json:"external"`
	Internal access.Internal `json:"internal"`

	AdjustorRegistry   *hashmap.Registry `json:"adjustor_registry"`
	BondRegistry       *hashmap.Registry `json:"bond_registry"`
	PolicyRegistry     *hashmap.Registry `json:"policy_registry"`
	SettlementRegistry *hashmap.Registry `json:"settlement_registry"`

	Adjustors   map[model.Hash]model.Adjustor   `json:"adjustors"`
	Bonds       map[model.Hash]model.Bond       `json:"bonds"`
	Policies    map[model.Hash]model.Policy     `json:"policies"`
	Settlements map[model.Hash]model.Settlement `json:"settlements"`

	Advice            []model.PaymentAdvice `json:"advice"`
	AdviceQueuedCu    int64                 `json:"advice_queued_cu"`
	AdviceProcessedCu int64                 `json:"advice_processed_cu"`
	BankTxProcessed   map[uint64]bool       `json:"bank_tx_processed"`
	BankTotals        BankTotals            `json:"bank_totals"`

	Jobs     timer.Queue `json:"jobs"`
	EventSeq uint64      `json:"event_seq"`
}

// BankTotals accumulates the committed bank entries so the ledger can be
// reconciled without the full event log.
type BankTotals struct {
	CreditedCu [3]int64 `json:"credited_cu"`
	PaidCu     int64    `json:"paid_cu"`
}

func (b *BankTotals) add(e model.BankEntry) {
	switch {
	case e.Type == model.TransactionCredit && e.Success && e.Account.Valid():
		b.CreditedCu[e.Account] += e.AmountCu
	case e.Type == model.TransactionDebit && !e.Refund:
		b.PaidCu += e.AmountCu
	}
}

// NewState returns the state of a freshly deployed pool.
func NewState(p config.Params, deployer model.Address) *State {
	return &State{
		BYieldPpb:              p.MinYieldPpb,
		PremiumPerRiskPointPpm: make(map[int64]PremiumRates),
		BondMaturityPayoutsCu:  make(map[int64]int64),
		External:               access.NewExternal(deployer),
		Internal:               access.NewInternal(),
		AdjustorRegistry:       hashmap.New(),
		BondRegistry:           hashmap.New(),
		PolicyRegistry:         hashmap.New(),
		SettlementRegistry:     hashmap.New(),
		Adjustors:              make(map[model.Hash]model.Adjustor),
		Bonds:                  make(map[model.Hash]model.Bond),
		Policies:               make(map[model.Hash]model.Policy),
		Settlements:            make(map[model.Hash]model.Settlement),
		BankTxProcessed:        make(map[uint64]bool),
	}
}

// Clone returns a deep copy.
func (s *State) Clone() *State {
	c := *s
	c.PremiumPerRiskPointPpm = maps.Clone(s.PremiumPerRiskPointPpm)
	c.BondMaturityPayoutsCu = maps.Clone(s.BondMaturityPayoutsCu)
	c.Internal = s.Internal.Clone()
	c.AdjustorRegistry = s.AdjustorRegistry.Clone()
	c.BondRegistry = s.BondRegistry.Clone()
	c.PolicyRegistry = s.PolicyRegistry.Clone()
	c.SettlementRegistry = s.SettlementRegistry.Clone()
	c.Adjustors = maps.Clone(s.Adjustors)
	c.Bonds = maps.Clone(s.Bonds)
	c.Policies = maps.Clone(s.Policies)
	c.Settlements = maps.Clone(s.Settlements)
	c.Advice = slices.Clone(s.Advice)
	c.BankTxProcessed = maps.Clone(s.BankTxProcessed)
	c.Jobs = s.Jobs.Clone()
	return &c
}

// normalise fills maps a decoded snapshot may carry as null.
func (s *State) normalise() {
	if s.PremiumPerRiskPointPpm == nil {
		s.PremiumPerRiskPointPpm = make(map[int64]PremiumRates)
	}
	if s.BondMaturityPayoutsCu == nil {
		s.BondMaturityPayoutsCu = make(map[int64]int64)
	}
	if s.Internal.Addresses == nil {
		s.Internal = access.NewInternal()
	}
	for _, r := range []**hashmap.Registry{&s.AdjustorRegistry, &s.BondRegistry, &s.PolicyRegistry, &s.SettlementRegistry} {
		if *r == nil {
			*r = hashmap.New()
		} else if (*r).Entries == nil {
			(*r).Entries = make(map[model.Hash]hashmap.Entry)
		}
	}
	if s.Adjustors == nil {
		s.Adjustors = make(map[model.Hash]model.Adjustor)
	}
	if s.Bonds == nil {
		s.Bonds = make(map[model.Hash]model.Bond)
	}
	if s.Policies == nil {
		s.Policies = make(map[model.Hash]model.Policy)
	}
	if s.Settlements == nil {
		s.Settlements = make(map[model.Hash]model.Settlement)
	}
	if s.BankTxProcessed == nil {
		s.BankTxProcessed = make(map[uint64]bool)
	}
}

// balance returns a pointer to the balance of a pooled account.
func (s *State) balance(a model.AccountType) *int64 {
	switch a {
	case model.AccountPremium:
		return &s.WcBalPaCu
	case model.AccountBond:
		return &s.WcBalBaCu
	default:
		return &s.WcBalFaCu
	}
}
