package model

import (
	"encoding/json"
	"time"
)

// Category groups audit events by the component that emitted them.
type Category string

const (
	CategoryAdjustor   Category = "adjustor"
	CategoryBond       Category = "bond"
	CategoryPolicy     Category = "policy"
	CategorySettlement Category = "settlement"
	CategoryBank       Category = "bank"
	CategoryPool       Category = "pool"
	CategoryTrust      Category = "trust"
	CategoryAccess     Category = "access"
)

// Event is one entry of the append-only audit stream. Seq is assigned
// inside the operation that produced the event, so ordering within and
// across operations is total.
//
// For pool events Name carries the reported quantity and Day the pool day
// it refers to. Bank events carry a BankEntry.
type Event struct {
	ID        string     `json:"id"`
	Seq       uint64     `json:"seq"`
	Category  Category   `json:"category"`
	Subject   Hash       `json:"subject"`
	Secondary Hash       `json:"secondary"`
	Info      int64      `json:"info"`
	State     int        `json:"state"`
	Name      string     `json:"name,omitempty"`
	Day       int64      `json:"day,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
	Bank      *BankEntry `json:"bank,omitempty"`
}

// BankEntry describes a single credit or debit on a pooled account.
// A credit with Success=false is always followed by a refund debit.
type BankEntry struct {
	Account            AccountType     `json:"account"`
	Type               TransactionType `json:"type"`
	PaymentAccountHash Hash            `json:"payment_account_hash"`
	TransactionIdx     uint64          `json:"transaction_idx"`
	AmountCu           int64           `json:"amount_cu"`
	Success            bool            `json:"success"`

	// Internal marks transfers between pooled accounts, Refund the debit
	// returning a refused credit. AdviceIdx is set on advice debits.
	Internal  bool   `json:"internal,omitempty"`
	Refund    bool   `json:"refund,omitempty"`
	AdviceIdx uint64 `json:"advice_idx,omitempty"`
}

// EventFilter narrows an event listing. Zero values match everything.
type EventFilter struct {
	Category Category
	Subject  Hash
	AfterSeq uint64
	Limit    int
}

// Match reports whether ev passes the filter (Limit is not applied).
func (f EventFilter) Match(ev Event) bool {
	if f.Category != "" && ev.Category != f.Category {
		return false
	}
	if !f.Subject.IsZero() && ev.Subject != f.Subject {
		return false
	}
	return ev.Seq > f.AfterSeq
}

// Snapshot is a serialized pool state at a point in the event stream.
type Snapshot struct {
	ID      string          `json:"id"`
	Day     int64           `json:"day"`
	LastSeq uint64          `json:"last_seq"`
	TakenAt time.Time       `json:"taken_at"`
	State   json.RawMessage `json:"state"`
}
