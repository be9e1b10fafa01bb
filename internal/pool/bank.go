package pool

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/hicpool/pool-engine/internal/model"
)

// Credit is an incoming payment reported by the bank.
type Credit struct {
	TransactionIdx uint64            `json:"transaction_idx"`
	Account        model.AccountType `json:"account"`
	Sender         model.Hash        `json:"sender"`
	Subject        model.Hash        `json:"subject"`
	AmountCu       int64             `json:"amount_cu"`
}

// CreditResult describes how a credit was handled. A duplicate transaction
// index is neither accepted nor refunded.
type CreditResult struct {
	Duplicate bool   `json:"duplicate"`
	Accepted  bool   `json:"accepted"`
	Refunded  bool   `json:"refunded"`
	Reason    string `json:"reason,omitempty"`
}

// processAccountCredit books an external payment into a pooled account.
// Business refusals produce a failed credit plus a refund and still mark the
// transaction processed; malformed input is rejected outright.
func (t *tx) processAccountCredit(c Credit) (CreditResult, error) {
	if !c.Account.Valid() {
		return CreditResult{}, invalid("unknown account type %d", c.Account)
	}
	if c.AmountCu <= 0 {
		return CreditResult{}, invalid("credit amount must be positive")
	}
	if t.st.BankTxProcessed[c.TransactionIdx] {
		return CreditResult{Duplicate: true}, nil
	}

	err := t.applyCredit(c, false)
	var r *refusal
	switch {
	case err == nil:
		t.st.BankTxProcessed[c.TransactionIdx] = true
		return CreditResult{Accepted: true}, nil
	case errors.As(err, &r):
		t.st.BankTxProcessed[c.TransactionIdx] = true
		entry := model.BankEntry{
			Account:            c.Account,
			Type:               model.TransactionCredit,
			PaymentAccountHash: c.Sender,
			TransactionIdx:     c.TransactionIdx,
			AmountCu:           c.AmountCu,
		}
		t.bankEvent(c.Subject, entry)
		entry.Type, entry.Success, entry.Refund = model.TransactionDebit, true, true
		t.bankEvent(c.Subject, entry)
		t.log(slog.LevelWarn, "bank credit refunded", "account", c.Account.String(), "subject", c.Subject, "amount", c.AmountCu, "reason", r.reason)
		return CreditResult{Refunded: true, Reason: r.reason}, nil
	default:
		return CreditResult{}, err
	}
}

// applyCredit routes a credit to its recipient handler, then books it.
// Handler events precede the bank credit event.
func (t *tx) applyCredit(c Credit, internal bool) error {
	switch c.Account {
	case model.AccountPremium:
		p, ok := t.st.Policies[c.Subject]
		if !ok {
			return refuse("subject %s is not a policy", c.Subject)
		}
		if c.Sender != p.PaymentAccountHash {
			return invalid("sender %s does not match policy payment account", c.Sender)
		}
		if err := t.onPremiumCredited(c.Subject, c.AmountCu); err != nil {
			return err
		}

	case model.AccountBond:
		if c.Sender != t.p.PremiumAccountPaymentHash {
			return invalid("bond account only accepts transfers from the premium account")
		}

	case model.AccountFunding:
		if c.Sender == t.p.BondAccountPaymentHash {
			break
		}
		b, ok := t.st.Bonds[c.Subject]
		if !ok {
			return refuse("subject %s is not a bond", c.Subject)
		}
		if c.Sender != b.PaymentAccountHash {
			return invalid("sender %s does not match bond payment account", c.Sender)
		}
		if err := t.onBondPrincipalCredited(c.Subject, c.AmountCu); err != nil {
			return err
		}
	}

	*t.st.balance(c.Account) += c.AmountCu
	t.bankEvent(c.Subject, model.BankEntry{
		Account:            c.Account,
		Type:               model.TransactionCredit,
		PaymentAccountHash: c.Sender,
		TransactionIdx:     c.TransactionIdx,
		AmountCu:           c.AmountCu,
		Success:            true,
		Internal:           internal,
	})
	return nil
}

// queueAdvice debits the source account and appends a payment advice. The
// amount is capped at the available balance; the queued amount is returned.
func (t *tx) queueAdvice(typ model.AdviceType, recipient, subject model.Hash, amount int64) (uint64, int64) {
	src := typ.SourceAccount()
	bal := t.st.balance(src)
	if amount > *bal {
		amount = *bal
	}
	if amount <= 0 {
		return 0, 0
	}
	*bal -= amount
	if src == model.AccountFunding {
		t.st.FundingPaymentsCu += amount
	}
	idx := uint64(len(t.st.Advice))
	t.st.Advice = append(t.st.Advice, model.PaymentAdvice{
		Idx:              idx,
		Type:             typ,
		RecipientAccount: recipient,
		Subject:          subject,
		Amount:           amount,
		OriginalAmount:   amount,
	})
	t.st.AdviceQueuedCu += amount
	return idx, amount
}

// processPaymentAdvice marks an advice as paid. Internal transfers are
// credited to their destination account in the same operation.
func (t *tx) processPaymentAdvice(idx, txIdx uint64) (bool, error) {
	if idx >= uint64(len(t.st.Advice)) {
		return false, invalid("payment advice %d does not exist", idx)
	}
	adv := t.st.Advice[idx]
	if adv.Amount == 0 || t.st.BankTxProcessed[txIdx] {
		return false, nil
	}
	t.st.BankTxProcessed[txIdx] = true

	amount := adv.Amount
	t.bankEvent(adv.Subject, model.BankEntry{
		Account:            adv.Type.SourceAccount(),
		Type:               model.TransactionDebit,
		PaymentAccountHash: adv.RecipientAccount,
		TransactionIdx:     txIdx,
		AmountCu:           amount,
		Success:            true,
		AdviceIdx:          idx,
	})
	t.st.Advice[idx].Amount = 0
	t.st.AdviceProcessedCu += amount

	var dest model.AccountType
	var sender model.Hash
	switch adv.Type {
	case model.AdvicePremium:
		dest, sender = model.AccountBond, t.p.PremiumAccountPaymentHash
	case model.AdviceOverflow:
		dest, sender = model.AccountFunding, t.p.BondAccountPaymentHash
	default:
		return true, nil
	}
	if adv.RecipientAccount != t.p.AccountPaymentHash(dest) {
		return false, fmt.Errorf("%w: advice %d recipient does not match %s account", ErrStateConflict, idx, dest)
	}
	err := t.applyCredit(Credit{
		TransactionIdx: txIdx,
		Account:        dest,
		Sender:         sender,
		Subject:        adv.Subject,
		AmountCu:       amount,
	}, true)
	return true, err
}

func (t *tx) bankEvent(subject model.Hash, entry model.BankEntry) {
	t.emit(model.Event{
		Category:  model.CategoryBank,
		Subject:   subject,
		Secondary: entry.PaymentAccountHash,
		Info:      entry.AmountCu,
		State:     int(entry.Type),
		Day:       t.today(),
		Bank:      &entry,
	})
}
