// Package model defines the core domain types shared across the pool engine.
// All currency and ratio values are int64 fixed-point integers (Cu, Ppt, Ppm,
// Ppb, Ppq); nothing in the pool is ever stored as a float.
package model

import (
	"encoding/hex"
	"errors"
	"strings"
)

// ErrInvalidHash is returned when a hex string does not decode to 32 bytes.
var ErrInvalidHash = errors.New("model: invalid hash")

// Hash is an opaque 32-byte identifier (entity hashes, payment account
// hashes, document hashes).
type Hash [32]byte

// EmptyHash is the zero hash.
var EmptyHash Hash

// IsZero reports whether h is the empty hash.
func (h Hash) IsZero() bool { return h == EmptyHash }

// String returns the 0x-prefixed lowercase hex form.
func (h Hash) String() string { return "0x" + hex.EncodeToString(h[:]) }

func (h Hash) MarshalText() ([]byte, error) { return []byte(h.String()), nil }

func (h *Hash) UnmarshalText(b []byte) error {
	parsed, err := ParseHash(string(b))
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}

// ParseHash decodes a 64 hex digit string, with or without the 0x prefix.
// An empty string decodes to the empty hash.
func ParseHash(s string) (Hash, error) {
	var h Hash
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if s == "" {
		return h, nil
	}
	if len(s) != 64 {
		return h, ErrInvalidHash
	}
	if _, err := hex.Decode(h[:], []byte(s)); err != nil {
		return h, ErrInvalidHash
	}
	return h, nil
}

// MustParseHash is ParseHash for constants; it panics on malformed input.
func MustParseHash(s string) Hash {
	h, err := ParseHash(s)
	if err != nil {
		panic(err)
	}
	return h
}

// Address identifies a caller: an external key holder, a bond or policy
// owner, or one of the internal pool components.
type Address string

// --- Accounts and payment advice ---

// AccountType is one of the three pooled bank accounts.
type AccountType int

const (
	AccountPremium AccountType = iota
	AccountBond
	AccountFunding
)

func (a AccountType) Valid() bool { return a >= AccountPremium && a <= AccountFunding }

func (a AccountType) String() string {
	switch a {
	case AccountPremium:
		return "premium"
	case AccountBond:
		return "bond"
	case AccountFunding:
		return "funding"
	}
	return "unknown"
}

// TransactionType distinguishes bank credit and debit events.
type TransactionType int

const (
	TransactionCredit TransactionType = iota
	TransactionDebit
)

// AdviceType classifies a queued payment advice.
type AdviceType int

const (
	AdvicePremiumRefund AdviceType = iota
	AdvicePremium
	AdviceBondMaturity
	AdviceOverflow
	AdvicePoolOperator
	AdviceServiceProvider
	AdviceTrust
)

func (a AdviceType) Valid() bool { return a >= AdvicePremiumRefund && a <= AdviceTrust }

// SourceAccount is the pooled account an advice of this type is paid from.
func (a AdviceType) SourceAccount() AccountType {
	switch a {
	case AdvicePremiumRefund, AdvicePremium:
		return AccountPremium
	case AdviceBondMaturity, AdviceOverflow:
		return AccountBond
	default:
		return AccountFunding
	}
}

func (a AdviceType) String() string {
	switch a {
	case AdvicePremiumRefund:
		return "premium_refund"
	case AdvicePremium:
		return "premium"
	case AdviceBondMaturity:
		return "bond_maturity"
	case AdviceOverflow:
		return "overflow"
	case AdvicePoolOperator:
		return "pool_operator"
	case AdviceServiceProvider:
		return "service_provider"
	case AdviceTrust:
		return "trust"
	}
	return "unknown"
}

// PaymentAdvice is a queued instruction to pay out of a pooled account.
// Amount is set to zero once the advice has been processed.
type PaymentAdvice struct {
	Idx              uint64     `json:"idx"`
	Type             AdviceType `json:"type"`
	RecipientAccount Hash       `json:"recipient_account"`
	Subject          Hash       `json:"subject"`
	Amount           int64      `json:"amount"`
	OriginalAmount   int64      `json:"original_amount"`
}

// --- Entities ---

// BondState is a step of the bond lifecycle.
type BondState int

const (
	BondCreated BondState = iota
	BondSecuredBondPrincipal
	BondSecuredReferenceBond
	BondSigned
	BondIssued
	BondLockedReferenceBond
	BondDefaulted
	BondMatured
)

func (s BondState) String() string {
	switch s {
	case BondCreated:
		return "Created"
	case BondSecuredBondPrincipal:
		return "SecuredBondPrincipal"
	case BondSecuredReferenceBond:
		return "SecuredReferenceBond"
	case BondSigned:
		return "Signed"
	case BondIssued:
		return "Issued"
	case BondLockedReferenceBond:
		return "LockedReferenceBond"
	case BondDefaulted:
		return "Defaulted"
	case BondMatured:
		return "Matured"
	}
	return "Unknown"
}

// Terminal reports whether no further transition is possible.
func (s BondState) Terminal() bool { return s == BondDefaulted || s == BondMatured }

// Bond is an underwriting bond. SecurityReferenceHash points at the peer
// bond for both sides of a reference relationship while it is active.
type Bond struct {
	Hash                  Hash      `json:"hash"`
	Idx                   uint64    `json:"idx"`
	Owner                 Address   `json:"owner"`
	PaymentAccountHash    Hash      `json:"payment_account_hash"`
	PrincipalCu           int64     `json:"principal_cu"`
	YieldPpb              int64     `json:"yield_ppb"`
	MaturityPayoutCu      int64     `json:"maturity_payout_cu"`
	CreationDate          int64     `json:"creation_date"`
	NextStateExpiryDate   int64     `json:"next_state_expiry_date"`
	MaturityDate          int64     `json:"maturity_date"`
	State                 BondState `json:"state"`
	SecurityReferenceHash Hash      `json:"security_reference_hash"`

	// ViaReference records that the bond was secured by a peer bond.
	ViaReference bool `json:"via_reference"`
}

// PolicyState is a step of the policy lifecycle.
type PolicyState int

const (
	PolicyPaused PolicyState = iota
	PolicyIssued
	PolicyLapsed
	PolicyPostLapsed
	PolicyRetired
)

func (s PolicyState) String() string {
	switch s {
	case PolicyPaused:
		return "Paused"
	case PolicyIssued:
		return "Issued"
	case PolicyLapsed:
		return "Lapsed"
	case PolicyPostLapsed:
		return "PostLapsed"
	case PolicyRetired:
		return "Retired"
	}
	return "Unknown"
}

type Policy struct {
	Hash                  Hash        `json:"hash"`
	Idx                   uint64      `json:"idx"`
	Owner                 Address     `json:"owner"`
	AdjustorHash          Hash        `json:"adjustor_hash"`
	PaymentAccountHash    Hash        `json:"payment_account_hash"`
	DocumentHash          Hash        `json:"document_hash"`
	RiskPoints            int64       `json:"risk_points"`
	PremiumCreditedCu     int64       `json:"premium_credited_cu"`
	PremiumChargedPpt     int64       `json:"premium_charged_ppt"`
	State                 PolicyState `json:"state"`
	LastReconciliationDay int64       `json:"last_reconciliation_day"`
	NextReconciliationDay int64       `json:"next_reconciliation_day"`
}

// Adjustor gates policy and settlement rights.
type Adjustor struct {
	Hash                       Hash    `json:"hash"`
	Idx                        uint64  `json:"idx"`
	Owner                      Address `json:"owner"`
	SettlementApprovalAmountCu int64   `json:"settlement_approval_amount_cu"`
	PolicyRiskPointLimit       int64   `json:"policy_risk_point_limit"`
	ServiceAgreementHash       Hash    `json:"service_agreement_hash"`
}

// SettlementState is a step of the settlement workflow.
type SettlementState int

const (
	SettlementCreated SettlementState = iota
	SettlementProcessing
	SettlementSettled
)

func (s SettlementState) String() string {
	switch s {
	case SettlementCreated:
		return "Created"
	case SettlementProcessing:
		return "Processing"
	case SettlementSettled:
		return "Settled"
	}
	return "Unknown"
}

type Settlement struct {
	Hash               Hash            `json:"hash"`
	Idx                uint64          `json:"idx"`
	AdjustorHash       Hash            `json:"adjustor_hash"`
	PolicyHash         Hash            `json:"policy_hash"`
	SettlementAmountCu int64           `json:"settlement_amount_cu"`
	State              SettlementState `json:"state"`
}
