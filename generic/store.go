/*
store.go - Persistence interfaces for accounts, transactions and obligations

PURPOSE:
  Defines the boundary between the engine and storage. The engine never
  talks to a database directly; it calls these interfaces.

KEY INTERFACES:
  AccountStore:     Account records and their derived balance
  TransactionStore: Ledger transactions, keyed by id and idempotency key
  ObligationStore:  EMIs and recurring templates
  Store:            All three
  TxStore:          Store + atomic multi-write boundary

NOT-FOUND CONVENTION:
  Get* methods return (nil, nil) when the record does not exist. Callers
  translate that into the matching Unknown* taxonomy error.

IDEMPOTENCY:
  InsertTransaction rejects a second transaction with the same non-empty
  idempotency key with ErrDuplicateIdempotencyKey. This is the guard that
  makes generation safe to run concurrently with itself.

ATOMICITY:
  WithTx runs fn against a transactional view. If fn returns an error every
  write made through the view is rolled back. Multi-step operations
  (generation of one obligation, conversion, cascade delete, retarget) run
  inside WithTx so readers never observe a half-applied change.

IMPLEMENTATIONS:
  - generic/store/memory.go: In-memory, for tests and dev
  - store/sqlite/sqlite.go:  SQLite

SEE ALSO:
  - ledger.go: Transaction ledger built on Store
*/
package generic

import "context"

// =============================================================================
// STORE INTERFACES
// =============================================================================

type AccountStore interface {
	GetAccount(ctx context.Context, id AccountID) (*Account, error)
	ListAccounts(ctx context.Context) ([]Account, error)

	// SaveAccount inserts or replaces an account.
	SaveAccount(ctx context.Context, a Account) error
	DeleteAccount(ctx context.Context, id AccountID) error
}

type TransactionStore interface {
	// InsertTransaction fails with ErrDuplicateIdempotencyKey when the key exists.
	InsertTransaction(ctx context.Context, tx Transaction) error

	// UpdateTransaction replaces a stored transaction. ErrUnknownTransaction if absent.
	UpdateTransaction(ctx context.Context, tx Transaction) error
	DeleteTransaction(ctx context.Context, id TransactionID) error
	GetTransaction(ctx context.Context, id TransactionID) (*Transaction, error)

	// ListTransactionsByObligation returns linked transactions ordered by date.
	ListTransactionsByObligation(ctx context.Context, ref ObligationRef) ([]Transaction, error)

	// ListTransactionsByAccount returns the account's transactions ordered by date.
	ListTransactionsByAccount(ctx context.Context, id AccountID) ([]Transaction, error)

	Exists(ctx context.Context, idempotencyKey string) (bool, error)
}

// ObligationFilter narrows obligation listings. Zero fields match everything.
type ObligationFilter struct {
	AccountID AccountID
	Status    Status
}

func (f ObligationFilter) Match(t *Terms) bool {
	if f.AccountID != "" && t.AccountID != f.AccountID {
		return false
	}
	if f.Status != "" && t.Status != f.Status {
		return false
	}
	return true
}

type ObligationStore interface {
	GetEMI(ctx context.Context, id ObligationID) (*EMI, error)
	ListEMIs(ctx context.Context, filter ObligationFilter) ([]EMI, error)
	SaveEMI(ctx context.Context, e EMI) error
	DeleteEMI(ctx context.Context, id ObligationID) error

	GetTemplate(ctx context.Context, id ObligationID) (*RecurringTemplate, error)
	ListTemplates(ctx context.Context, filter ObligationFilter) ([]RecurringTemplate, error)
	SaveTemplate(ctx context.Context, r RecurringTemplate) error
	DeleteTemplate(ctx context.Context, id ObligationID) error
}

// Store handles persistence of every record the engine touches.
type Store interface {
	AccountStore
	TransactionStore
	ObligationStore
}

// =============================================================================
// TRANSACTIONAL STORE - For atomic operations across multiple writes
// =============================================================================

// TxStore wraps Store with transaction support.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns error, transaction is rolled back.
	// If fn returns nil, transaction is committed.
	WithTx(ctx context.Context, fn func(Store) error) error
}

// LoadObligation fetches either kind of obligation, failing with
// ErrUnknownObligation when it does not exist.
func LoadObligation(ctx context.Context, s ObligationStore, ref ObligationRef) (Obligation, error) {
	switch ref.Kind {
	case KindEMI:
		e, err := s.GetEMI(ctx, ref.ID)
		if err != nil {
			return nil, err
		}
		if e == nil {
			return nil, &FieldError{Field: ref.String(), Err: ErrUnknownObligation}
		}
		return e, nil
	case KindRecurring:
		r, err := s.GetTemplate(ctx, ref.ID)
		if err != nil {
			return nil, err
		}
		if r == nil {
			return nil, &FieldError{Field: ref.String(), Err: ErrUnknownObligation}
		}
		return r, nil
	}
	return nil, &FieldError{Field: "kind", Err: ErrUnknownObligation}
}

// SaveObligation persists either kind of obligation.
func SaveObligation(ctx context.Context, s ObligationStore, o Obligation) error {
	switch v := o.(type) {
	case *EMI:
		return s.SaveEMI(ctx, *v)
	case *RecurringTemplate:
		return s.SaveTemplate(ctx, *v)
	}
	return &FieldError{Field: "kind", Err: ErrUnknownObligation}
}
