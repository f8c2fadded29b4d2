/*
ledger.go - Account and transaction ledger

PURPOSE:
  The Ledger is the account/transaction collaborator the obligation engine
  calls into. It validates transaction input, writes through the Store, and
  keeps balances reconciled after every mutation.

CRITICAL INVARIANTS:
  1. RECONCILED: After any create/update/delete, every touched account's
     Balance equals its opening balance plus its settled transactions.
  2. SINGLE LINK: A transaction references at most one obligation.
  3. GUARDED DELETES: An account cannot be deleted while transactions or
     obligations still reference it.
  4. IDEMPOTENT: A transaction with an existing idempotency key is rejected.

TRANSACTIONAL USE:
  Ledger is a thin wrapper, cheap to build. Inside TxStore.WithTx build one
  over the transactional view so the write and the reconciliation commit or
  roll back together:

    store.WithTx(ctx, func(s generic.Store) error {
        _, err := generic.NewLedger(s).CreateTransaction(ctx, input)
        return err
    })

SEE ALSO:
  - balance.go: Reconciler
  - store.go: Store interfaces
*/
package generic

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// =============================================================================
// INPUTS
// =============================================================================

type AccountInput struct {
	ID             AccountID // optional; generated when empty
	Name           string
	Type           string
	OpeningBalance decimal.Decimal
}

type TransactionInput struct {
	AccountID   AccountID
	Date        Date
	Amount      decimal.Decimal
	Direction   Direction // default expense
	Status      TxStatus  // default pending
	Description string
	Category    string

	Link *ObligationRef

	Generated      bool
	IdempotencyKey string
}

// TransactionPatch holds the fields to change. Nil fields are left alone.
// A Link with an empty Kind detaches the transaction from its obligation.
type TransactionPatch struct {
	AccountID   *AccountID
	Date        *Date
	Amount      *decimal.Decimal
	Direction   *Direction
	Status      *TxStatus
	Description *string
	Category    *string
	Link        *ObligationRef
}

// =============================================================================
// LEDGER
// =============================================================================

type Ledger struct {
	Store      Store
	Reconciler *Reconciler
	Now        func() time.Time
	NewID      func() string
}

func NewLedger(store Store) *Ledger {
	return &Ledger{
		Store:      store,
		Reconciler: NewReconciler(store),
		Now:        func() time.Time { return time.Now().UTC() },
		NewID:      uuid.NewString,
	}
}

// -----------------------------------------------------------------------------
// Accounts
// -----------------------------------------------------------------------------

func (l *Ledger) CreateAccount(ctx context.Context, in AccountInput) (*Account, error) {
	if in.Name == "" {
		return nil, fieldErr("name", ErrRequiredField)
	}
	id := in.ID
	if id == "" {
		id = AccountID(l.NewID())
	} else {
		existing, err := l.Store.GetAccount(ctx, id)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			return nil, &InUseError{ID: string(id), References: []string{"existing account"}, Err: ErrAccountInUse}
		}
	}

	now := l.Now()
	acct := Account{
		ID:             id,
		Name:           in.Name,
		Type:           in.Type,
		OpeningBalance: in.OpeningBalance,
		Balance:        in.OpeningBalance,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := l.Store.SaveAccount(ctx, acct); err != nil {
		return nil, fmt.Errorf("save account: %w", err)
	}
	return &acct, nil
}

func (l *Ledger) GetAccount(ctx context.Context, id AccountID) (*Account, error) {
	acct, err := l.Store.GetAccount(ctx, id)
	if err != nil {
		return nil, err
	}
	if acct == nil {
		return nil, &FieldError{Field: string(id), Err: ErrUnknownAccount}
	}
	return acct, nil
}

func (l *Ledger) ListAccounts(ctx context.Context) ([]Account, error) {
	return l.Store.ListAccounts(ctx)
}

// DeleteAccount removes an account that nothing references any more.
func (l *Ledger) DeleteAccount(ctx context.Context, id AccountID) error {
	if _, err := l.GetAccount(ctx, id); err != nil {
		return err
	}

	var refs []string
	txs, err := l.Store.ListTransactionsByAccount(ctx, id)
	if err != nil {
		return err
	}
	for _, tx := range txs {
		refs = append(refs, "transaction/"+string(tx.ID))
	}
	filter := ObligationFilter{AccountID: id}
	emis, err := l.Store.ListEMIs(ctx, filter)
	if err != nil {
		return err
	}
	for _, e := range emis {
		refs = append(refs, e.Ref().String())
	}
	templates, err := l.Store.ListTemplates(ctx, filter)
	if err != nil {
		return err
	}
	for _, r := range templates {
		refs = append(refs, r.Ref().String())
	}
	if len(refs) > 0 {
		return &InUseError{ID: string(id), References: refs, Err: ErrAccountInUse}
	}

	return l.Store.DeleteAccount(ctx, id)
}

// -----------------------------------------------------------------------------
// Transactions
// -----------------------------------------------------------------------------

// CreateTransaction validates and records a transaction, then reconciles its
// account.
func (l *Ledger) CreateTransaction(ctx context.Context, in TransactionInput) (*Transaction, error) {
	now := l.Now()
	tx := Transaction{
		ID:             TransactionID(l.NewID()),
		AccountID:      in.AccountID,
		Date:           in.Date,
		Amount:         in.Amount,
		Direction:      in.Direction,
		Status:         in.Status,
		Description:    in.Description,
		Category:       in.Category,
		Generated:      in.Generated,
		IdempotencyKey: in.IdempotencyKey,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if tx.Direction == "" {
		tx.Direction = DirectionExpense
	}
	if tx.Status == "" {
		tx.Status = TxPending
	}
	if in.Link != nil {
		tx.SetLink(*in.Link)
	}

	if err := l.validate(ctx, tx); err != nil {
		return nil, err
	}
	if tx.IdempotencyKey != "" {
		exists, err := l.Store.Exists(ctx, tx.IdempotencyKey)
		if err != nil {
			return nil, err
		}
		if exists {
			return nil, ErrDuplicateIdempotencyKey
		}
	}

	if err := l.Store.InsertTransaction(ctx, tx); err != nil {
		return nil, err
	}
	if _, err := l.Reconciler.Reconcile(ctx, tx.AccountID); err != nil {
		return nil, err
	}
	return &tx, nil
}

// UpdateTransaction applies a partial update and reconciles both the old and
// the new account.
func (l *Ledger) UpdateTransaction(ctx context.Context, id TransactionID, patch TransactionPatch) (*Transaction, error) {
	current, err := l.GetTransaction(ctx, id)
	if err != nil {
		return nil, err
	}

	tx := *current
	if patch.AccountID != nil {
		tx.AccountID = *patch.AccountID
	}
	if patch.Date != nil {
		tx.Date = *patch.Date
	}
	if patch.Amount != nil {
		tx.Amount = *patch.Amount
	}
	if patch.Direction != nil {
		tx.Direction = *patch.Direction
	}
	if patch.Status != nil {
		tx.Status = *patch.Status
	}
	if patch.Description != nil {
		tx.Description = *patch.Description
	}
	if patch.Category != nil {
		tx.Category = *patch.Category
	}
	if patch.Link != nil {
		tx.SetLink(*patch.Link)
	}

	if err := l.validate(ctx, tx); err != nil {
		return nil, err
	}

	tx.UpdatedAt = l.Now()
	if err := l.Store.UpdateTransaction(ctx, tx); err != nil {
		return nil, err
	}

	if _, err := l.Reconciler.Reconcile(ctx, tx.AccountID); err != nil {
		return nil, err
	}
	if current.AccountID != tx.AccountID {
		if _, err := l.Reconciler.Reconcile(ctx, current.AccountID); err != nil {
			return nil, err
		}
	}
	return &tx, nil
}

// DeleteTransaction removes a transaction and reconciles its account.
func (l *Ledger) DeleteTransaction(ctx context.Context, id TransactionID) error {
	tx, err := l.GetTransaction(ctx, id)
	if err != nil {
		return err
	}
	if err := l.Store.DeleteTransaction(ctx, id); err != nil {
		return err
	}
	_, err = l.Reconciler.Reconcile(ctx, tx.AccountID)
	return err
}

func (l *Ledger) GetTransaction(ctx context.Context, id TransactionID) (*Transaction, error) {
	tx, err := l.Store.GetTransaction(ctx, id)
	if err != nil {
		return nil, err
	}
	if tx == nil {
		return nil, &FieldError{Field: string(id), Err: ErrUnknownTransaction}
	}
	return tx, nil
}

func (l *Ledger) ListTransactionsByObligation(ctx context.Context, ref ObligationRef) ([]Transaction, error) {
	return l.Store.ListTransactionsByObligation(ctx, ref)
}

func (l *Ledger) ListTransactionsByAccount(ctx context.Context, id AccountID) ([]Transaction, error) {
	if _, err := l.GetAccount(ctx, id); err != nil {
		return nil, err
	}
	return l.Store.ListTransactionsByAccount(ctx, id)
}

func (l *Ledger) validate(ctx context.Context, tx Transaction) error {
	if !tx.Amount.IsPositive() {
		return fieldErr("amount", ErrInvalidAmount)
	}
	if tx.Date.IsZero() {
		return fieldErr("date", ErrInvalidDate)
	}
	if !tx.Direction.Valid() {
		return fieldErr("direction", fmt.Errorf("%w: %q", ErrInvalidField, tx.Direction))
	}
	if !tx.Status.Valid() {
		return fieldErr("status", fmt.Errorf("%w: %q", ErrInvalidField, tx.Status))
	}
	if tx.EMIID != "" && tx.RecurringTemplateID != "" {
		return ErrConflictingLinks
	}

	acct, err := l.Store.GetAccount(ctx, tx.AccountID)
	if err != nil {
		return err
	}
	if acct == nil {
		return fieldErr("account_id", ErrUnknownAccount)
	}
	if ref, ok := tx.Link(); ok {
		if _, err := LoadObligation(ctx, l.Store, ref); err != nil {
			return err
		}
	}
	return nil
}
