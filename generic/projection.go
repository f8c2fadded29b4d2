/*
projection.go - Future due dates and projected account balance

PURPOSE:
  Answers "what will this account look like on date X?" without creating
  any transactions. Generation is the only thing that writes; projection
  walks the same date cursor forward in memory.

WHAT COUNTS:
  Start:    the account's current (settled) balance
  Pending:  existing pending transactions dated on or before Until
  Upcoming: due dates of ACTIVE obligations on the account from their
            effective due date through Until

  Cancelled transactions and paused or completed obligations are ignored.
  Pending transactions and upcoming dues are merged by date and applied in
  order, producing a running balance per entry.

CURSOR WALK:
  The walk advances exactly like generation does: the override date first
  (if any), then Override.Advance() and the regular index + 1. An EMI stops
  after its remaining installments.

SEE ALSO:
  - time.go: NextDueDate, EffectiveDueDate
  - obligation/generator.go: The writer that follows the same walk
*/
package generic

import (
	"sort"

	"github.com/shopspring/decimal"
)

// ProjectedDue is one future due date of an obligation.
type ProjectedDue struct {
	Ref       ObligationRef
	Name      string
	Date      Date
	Amount    decimal.Decimal
	Direction Direction
}

// SignedAmount is the amount as it would affect the account balance.
func (p ProjectedDue) SignedAmount() decimal.Decimal {
	if p.Direction == DirectionIncome {
		return p.Amount
	}
	return p.Amount.Neg()
}

// ProjectDueDates lists the due dates of o on or before until, at most limit
// of them. Inactive obligations have none.
func ProjectDueDates(o Obligation, until Date, limit int) ([]ProjectedDue, error) {
	t := o.ObligationTerms()
	if t.Status != StatusActive {
		return nil, nil
	}

	var index, remaining int
	switch v := o.(type) {
	case *EMI:
		index, remaining = v.CompletedInstallments, v.Remaining()
	case *RecurringTemplate:
		index, remaining = v.Occurrences, limit
	default:
		return nil, &FieldError{Field: "kind", Err: ErrUnknownObligation}
	}
	if remaining > limit {
		remaining = limit
	}

	var dues []ProjectedDue
	override := t.Override
	for len(dues) < remaining {
		var (
			due Date
			err error
		)
		if override != nil {
			due, err = override.Date(t.Frequency)
		} else {
			due, err = NextDueDate(t.StartDate, t.Frequency, index)
		}
		if err != nil {
			return nil, err
		}
		if due.After(until) {
			break
		}

		dues = append(dues, ProjectedDue{
			Ref:       o.Ref(),
			Name:      t.Name,
			Date:      due,
			Amount:    t.Amount,
			Direction: t.Direction,
		})
		override = override.Advance()
		index++
	}
	return dues, nil
}

// =============================================================================
// ACCOUNT PROJECTION
// =============================================================================

// ProjectionEntry is one balance-moving event in a projection.
// Exactly one of Transaction and Due is set.
type ProjectionEntry struct {
	Date        Date
	Transaction *Transaction
	Due         *ProjectedDue
	Amount      decimal.Decimal // signed
	Balance     decimal.Decimal // running balance after this entry
}

// Projection is the expected balance path of one account.
type Projection struct {
	AccountID      AccountID
	Until          Date
	StartBalance   decimal.Decimal
	Entries        []ProjectionEntry
	ClosingBalance decimal.Decimal
}

// BuildProjection merges pending transactions and upcoming dues onto the
// account's current balance. Pending transactions sort before dues on the
// same date.
func BuildProjection(acct Account, txs []Transaction, dues []ProjectedDue, until Date) Projection {
	var entries []ProjectionEntry
	for i := range txs {
		tx := txs[i]
		if tx.AccountID != acct.ID || tx.Status != TxPending || tx.Date.After(until) {
			continue
		}
		entries = append(entries, ProjectionEntry{Date: tx.Date, Transaction: &tx, Amount: tx.SignedAmount()})
	}
	for i := range dues {
		due := dues[i]
		if due.Date.After(until) {
			continue
		}
		entries = append(entries, ProjectionEntry{Date: due.Date, Due: &due, Amount: due.SignedAmount()})
	}

	sort.SliceStable(entries, func(i, j int) bool {
		if !entries[i].Date.Equal(entries[j].Date) {
			return entries[i].Date.Before(entries[j].Date)
		}
		return entries[i].Transaction != nil && entries[j].Transaction == nil
	})

	balance := acct.Balance
	for i := range entries {
		balance = balance.Add(entries[i].Amount)
		entries[i].Balance = balance
	}

	return Projection{
		AccountID:      acct.ID,
		Until:          until,
		StartBalance:   acct.Balance,
		Entries:        entries,
		ClosingBalance: balance,
	}
}
