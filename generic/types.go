/*
Package generic provides the core model of the recurring obligation engine.

PURPOSE:
  This package contains the types and algorithms every other package builds
  on: accounts, ledger transactions, the two obligation kinds (EMI and
  Recurring Template), the due-date cursor, the error taxonomy, the store
  interfaces, and the transaction ledger that keeps balances reconciled.

KEY CONCEPTS IN THIS FILE (types.go):
  - Account:           Externally owned balance holder
  - Transaction:       Dated ledger entry, optionally linked to one obligation
  - EMI:               Fixed-installment obligation (loan / investment)
  - RecurringTemplate: Open-ended obligation, runs until paused or deleted
  - DueOverride:       Stored form of a retargeted deduction date

DESIGN PRINCIPLES:
  1. Precision: Money is decimal.Decimal, never float
  2. Type Safety: Distinct ID types for accounts, transactions, obligations
  3. Idempotency: Generated transactions carry a key derived from
     (obligation, due date), so a due date can only be satisfied once

SEE ALSO:
  - time.go: Date type and due-date cursor
  - ledger.go: Transaction ledger with balance reconciliation
  - store.go: Persistence interfaces
*/
package generic

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type AccountID string
type TransactionID string
type ObligationID string

// ObligationKind distinguishes the two obligation variants.
type ObligationKind string

const (
	KindEMI       ObligationKind = "emi"
	KindRecurring ObligationKind = "recurring"
)

// ObligationRef identifies one obligation of either kind.
type ObligationRef struct {
	Kind ObligationKind
	ID   ObligationID
}

func EMIRef(id ObligationID) ObligationRef       { return ObligationRef{Kind: KindEMI, ID: id} }
func TemplateRef(id ObligationID) ObligationRef  { return ObligationRef{Kind: KindRecurring, ID: id} }
func (r ObligationRef) String() string           { return string(r.Kind) + "/" + string(r.ID) }

// GenerationKey is the idempotency key of the transaction generated for ref
// on the given due date.
func GenerationKey(id ObligationID, due Date) string {
	return "gen:" + string(id) + ":" + due.String()
}

// MustParseDecimal parses a decimal literal, returning zero on failure.
func MustParseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// =============================================================================
// ACCOUNT
// =============================================================================

type Account struct {
	ID             AccountID
	Name           string
	Type           string // bank, cash, credit, investment, loan
	OpeningBalance decimal.Decimal

	// Balance is derived from settled transactions. Only the reconciler writes it.
	Balance decimal.Decimal

	CreatedAt time.Time
	UpdatedAt time.Time
}

// =============================================================================
// TRANSACTION
// =============================================================================

// Direction decides the sign a settled transaction applies to its account.
type Direction string

const (
	DirectionExpense Direction = "expense" // outflow
	DirectionIncome  Direction = "income"  // inflow
)

func (d Direction) Valid() bool { return d == DirectionExpense || d == DirectionIncome }

type TxStatus string

const (
	TxPending   TxStatus = "pending"
	TxSettled   TxStatus = "settled"
	TxCancelled TxStatus = "cancelled"
)

func (s TxStatus) Valid() bool { return s == TxPending || s == TxSettled || s == TxCancelled }

type Transaction struct {
	ID          TransactionID
	AccountID   AccountID
	Date        Date
	Amount      decimal.Decimal
	Direction   Direction
	Status      TxStatus
	Description string
	Category    string

	// At most one link is set.
	EMIID               ObligationID
	RecurringTemplateID ObligationID

	Generated      bool
	IdempotencyKey string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Link returns the obligation this transaction belongs to, if any.
func (t Transaction) Link() (ObligationRef, bool) {
	switch {
	case t.EMIID != "":
		return EMIRef(t.EMIID), true
	case t.RecurringTemplateID != "":
		return TemplateRef(t.RecurringTemplateID), true
	}
	return ObligationRef{}, false
}

// SetLink points the transaction at ref, clearing any previous link.
func (t *Transaction) SetLink(ref ObligationRef) {
	t.EMIID, t.RecurringTemplateID = "", ""
	switch ref.Kind {
	case KindEMI:
		t.EMIID = ref.ID
	case KindRecurring:
		t.RecurringTemplateID = ref.ID
	}
}

// SignedAmount is the amount as it affects the account balance.
func (t Transaction) SignedAmount() decimal.Decimal {
	if t.Direction == DirectionIncome {
		return t.Amount
	}
	return t.Amount.Neg()
}

// =============================================================================
// OBLIGATIONS
// =============================================================================

type Status string

const (
	StatusActive    Status = "active"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed" // EMI only
)

// Terms are the fields shared by both obligation kinds.
type Terms struct {
	ID        ObligationID
	Name      string
	AccountID AccountID
	Amount    decimal.Decimal
	Frequency Frequency
	Direction Direction
	Category  string
	Notes     string
	StartDate Date
	Status    Status

	// Override is the deduction date set by a retarget, nil when the regular
	// schedule applies.
	Override *DueOverride

	CreatedAt time.Time
	UpdatedAt time.Time
}

// DueOverride replaces the regular schedule position.
//
// Two layers, either may be empty:
//
//	Anchor/Steps  persistent cadence: NextDueDate(Anchor, freq, Steps).
//	              Advancing bumps Steps instead of re-anchoring so month
//	              clamping never accumulates. Zero Anchor means the regular
//	              schedule supplies the cadence.
//	Next          one-shot date for the next occurrence only. It stands in
//	              for the occurrence the cadence would have produced.
type DueOverride struct {
	Anchor Date
	Steps  int
	Next   Date
}

// OneShot reports whether the next due date is a one-time move.
func (o DueOverride) OneShot() bool { return !o.Next.IsZero() }

// Persistent reports whether a retargeted cadence outlives the next occurrence.
func (o DueOverride) Persistent() bool { return !o.Anchor.IsZero() }

func (o DueOverride) Date(freq Frequency) (Date, error) {
	if o.OneShot() {
		return o.Next, nil
	}
	return NextDueDate(o.Anchor, freq, o.Steps)
}

// Advance returns the override for the following due date, or nil when the
// regular schedule takes over again. A one-shot date consumes the cadence
// position it replaced.
func (o *DueOverride) Advance() *DueOverride {
	if o == nil || !o.Persistent() {
		return nil
	}
	next := *o
	next.Next = Date{}
	next.Steps++
	return &next
}

// WithNext returns o with a one-shot date for the next occurrence, keeping
// any persistent cadence. A nil o yields a one-shot over the regular schedule.
func (o *DueOverride) WithNext(d Date) *DueOverride {
	var next DueOverride
	if o != nil {
		next = *o
	}
	next.Next = d
	return &next
}

// Obligation is implemented by *EMI and *RecurringTemplate.
type Obligation interface {
	Ref() ObligationRef
	ObligationTerms() *Terms

	// RegularDueDate is the next due date ignoring any override.
	RegularDueDate() (Date, error)
}

type EMIKind string

const (
	EMILoan       EMIKind = "loan"
	EMIInvestment EMIKind = "investment"
)

// EMI is a fixed-installment obligation.
//
// INVARIANT: 0 <= CompletedInstallments <= TotalInstallments, and an active
// EMI always has CompletedInstallments < TotalInstallments.
type EMI struct {
	Terms
	Kind                  EMIKind
	EndDate               Date
	TotalInstallments     int
	CompletedInstallments int
}

func (e *EMI) Ref() ObligationRef      { return EMIRef(e.ID) }
func (e *EMI) ObligationTerms() *Terms { return &e.Terms }

func (e *EMI) RegularDueDate() (Date, error) {
	return NextDueDate(e.StartDate, e.Frequency, e.CompletedInstallments)
}

func (e *EMI) Remaining() int { return e.TotalInstallments - e.CompletedInstallments }
func (e *EMI) IsComplete() bool { return e.CompletedInstallments >= e.TotalInstallments }

// RecurringTemplate is an open-ended obligation.
//
// Occurrences counts the due dates already satisfied; the regular cursor is
// NextDueDate(StartDate, Frequency, Occurrences), the same arithmetic an EMI
// uses with CompletedInstallments.
type RecurringTemplate struct {
	Terms
	Occurrences int
}

func (r *RecurringTemplate) Ref() ObligationRef      { return TemplateRef(r.ID) }
func (r *RecurringTemplate) ObligationTerms() *Terms { return &r.Terms }

func (r *RecurringTemplate) RegularDueDate() (Date, error) {
	return NextDueDate(r.StartDate, r.Frequency, r.Occurrences)
}
