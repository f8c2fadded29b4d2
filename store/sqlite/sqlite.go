/*
Package sqlite provides a SQLite-backed implementation of the storage interfaces.

PURPOSE:
  Implements generic.TxStore (accounts, transactions, EMIs, recurring
  templates) on SQLite. The same schema ports to PostgreSQL with minor
  dialect changes.

KEY TABLES:
  accounts:            Account records with their reconciled balance
  transactions:        Ledger entries, optionally linked to one obligation
  emis:                Fixed-installment obligations
  recurring_templates: Open-ended obligations

INDEXES / CONSTRAINTS:
  - transactions.idempotency_key UNIQUE: one transaction per generated due date
  - CHECK on transactions: never linked to an EMI and a template at once
  - idx_transactions_account_date: Balance reconciliation (hot path)
  - idx_transactions_emi / idx_transactions_template: Linked listings

ENCODING:
  Money is stored as decimal TEXT (never REAL), dates as YYYY-MM-DD TEXT so
  lexical order is date order, timestamps as fixed-width UTC RFC3339.

CONCURRENCY:
  Uses sync.RWMutex for thread-safety and a single connection, so ":memory:"
  databases are shared by every query. WithTx holds the write lock for the
  whole transaction.

USAGE:
  store, err := sqlite.New("./obligations.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  svc := obligation.NewService(store)

MIGRATION:
  Schema is auto-migrated on New().

SEE ALSO:
  - generic/store.go: Interface definitions
  - generic/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/warp/obligation-engine/generic"
)

// Store implements generic.TxStore using SQLite.
type Store struct {
	db  *sql.DB
	mu  sync.RWMutex
	ops ops
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	store := &Store{db: db, ops: ops{q: db}}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS accounts (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		type TEXT NOT NULL DEFAULT '',
		opening_balance TEXT NOT NULL,
		balance TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS transactions (
		id TEXT PRIMARY KEY,
		account_id TEXT NOT NULL REFERENCES accounts(id),
		date TEXT NOT NULL,
		amount TEXT NOT NULL,
		direction TEXT NOT NULL,
		status TEXT NOT NULL,
		description TEXT,
		category TEXT,
		emi_id TEXT,
		recurring_template_id TEXT,
		generated BOOLEAN NOT NULL DEFAULT FALSE,
		idempotency_key TEXT UNIQUE,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		CHECK (emi_id IS NULL OR recurring_template_id IS NULL)
	);

	CREATE INDEX IF NOT EXISTS idx_transactions_account_date
		ON transactions(account_id, date);
	CREATE INDEX IF NOT EXISTS idx_transactions_emi
		ON transactions(emi_id) WHERE emi_id IS NOT NULL;
	CREATE INDEX IF NOT EXISTS idx_transactions_template
		ON transactions(recurring_template_id) WHERE recurring_template_id IS NOT NULL;

	CREATE TABLE IF NOT EXISTS emis (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		account_id TEXT NOT NULL REFERENCES accounts(id),
		amount TEXT NOT NULL,
		frequency TEXT NOT NULL,
		direction TEXT NOT NULL,
		category TEXT,
		notes TEXT,
		start_date TEXT NOT NULL,
		status TEXT NOT NULL,
		override_anchor TEXT,
		override_steps INTEGER NOT NULL DEFAULT 0,
		override_next TEXT,
		kind TEXT NOT NULL,
		end_date TEXT,
		total_installments INTEGER NOT NULL,
		completed_installments INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		CHECK (completed_installments >= 0 AND completed_installments <= total_installments)
	);

	CREATE INDEX IF NOT EXISTS idx_emis_account ON emis(account_id);
	CREATE INDEX IF NOT EXISTS idx_emis_status ON emis(status);

	CREATE TABLE IF NOT EXISTS recurring_templates (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		account_id TEXT NOT NULL REFERENCES accounts(id),
		amount TEXT NOT NULL,
		frequency TEXT NOT NULL,
		direction TEXT NOT NULL,
		category TEXT,
		notes TEXT,
		start_date TEXT NOT NULL,
		status TEXT NOT NULL,
		override_anchor TEXT,
		override_steps INTEGER NOT NULL DEFAULT 0,
		override_next TEXT,
		occurrences INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_templates_account ON recurring_templates(account_id);
	CREATE INDEX IF NOT EXISTS idx_templates_status ON recurring_templates(status);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// LOCKED ENTRY POINTS (generic.Store interface)
// =============================================================================

func (s *Store) GetAccount(ctx context.Context, id generic.AccountID) (*generic.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ops.GetAccount(ctx, id)
}

func (s *Store) ListAccounts(ctx context.Context) ([]generic.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ops.ListAccounts(ctx)
}

func (s *Store) SaveAccount(ctx context.Context, a generic.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ops.SaveAccount(ctx, a)
}

func (s *Store) DeleteAccount(ctx context.Context, id generic.AccountID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ops.DeleteAccount(ctx, id)
}

func (s *Store) InsertTransaction(ctx context.Context, tx generic.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ops.InsertTransaction(ctx, tx)
}

func (s *Store) UpdateTransaction(ctx context.Context, tx generic.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ops.UpdateTransaction(ctx, tx)
}

func (s *Store) DeleteTransaction(ctx context.Context, id generic.TransactionID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ops.DeleteTransaction(ctx, id)
}

func (s *Store) GetTransaction(ctx context.Context, id generic.TransactionID) (*generic.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ops.GetTransaction(ctx, id)
}

func (s *Store) ListTransactionsByObligation(ctx context.Context, ref generic.ObligationRef) ([]generic.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ops.ListTransactionsByObligation(ctx, ref)
}

func (s *Store) ListTransactionsByAccount(ctx context.Context, id generic.AccountID) ([]generic.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ops.ListTransactionsByAccount(ctx, id)
}

// Exists checks if an idempotency key exists.
func (s *Store) Exists(ctx context.Context, idempotencyKey string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ops.Exists(ctx, idempotencyKey)
}

func (s *Store) GetEMI(ctx context.Context, id generic.ObligationID) (*generic.EMI, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ops.GetEMI(ctx, id)
}

func (s *Store) ListEMIs(ctx context.Context, f generic.ObligationFilter) ([]generic.EMI, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ops.ListEMIs(ctx, f)
}

func (s *Store) SaveEMI(ctx context.Context, e generic.EMI) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ops.SaveEMI(ctx, e)
}

func (s *Store) DeleteEMI(ctx context.Context, id generic.ObligationID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ops.DeleteEMI(ctx, id)
}

func (s *Store) GetTemplate(ctx context.Context, id generic.ObligationID) (*generic.RecurringTemplate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ops.GetTemplate(ctx, id)
}

func (s *Store) ListTemplates(ctx context.Context, f generic.ObligationFilter) ([]generic.RecurringTemplate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ops.ListTemplates(ctx, f)
}

func (s *Store) SaveTemplate(ctx context.Context, r generic.RecurringTemplate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ops.SaveTemplate(ctx, r)
}

func (s *Store) DeleteTemplate(ctx context.Context, id generic.ObligationID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ops.DeleteTemplate(ctx, id)
}

// =============================================================================
// TRANSACTIONAL STORE (generic.TxStore interface)
// =============================================================================

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(store generic.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(ops{q: sqlTx}); err != nil {
		return err
	}

	return sqlTx.Commit()
}

// Reset clears all data (for testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tables := []string{"transactions", "emis", "recurring_templates", "accounts"}
	for _, table := range tables {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return err
		}
	}
	return nil
}

// =============================================================================
// QUERIES - shared by Store (under its lock) and WithTx (inside sql.Tx)
// =============================================================================

type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// ops implements generic.Store without locking.
type ops struct {
	q queryer
}

type scanner interface {
	Scan(dest ...any) error
}

// -----------------------------------------------------------------------------
// Accounts
// -----------------------------------------------------------------------------

const accountColumns = `id, name, type, opening_balance, balance, created_at, updated_at`

func (o ops) GetAccount(ctx context.Context, id generic.AccountID) (*generic.Account, error) {
	row := o.q.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = ?`, id)
	a, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (o ops) ListAccounts(ctx context.Context) ([]generic.Account, error) {
	rows, err := o.q.QueryContext(ctx, `SELECT `+accountColumns+` FROM accounts ORDER BY name, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query accounts: %w", err)
	}
	defer rows.Close()

	var accounts []generic.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

func (o ops) SaveAccount(ctx context.Context, a generic.Account) error {
	query := `
		INSERT INTO accounts (` + accountColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			type = excluded.type,
			opening_balance = excluded.opening_balance,
			balance = excluded.balance,
			updated_at = excluded.updated_at
	`
	_, err := o.q.ExecContext(ctx, query,
		a.ID, a.Name, a.Type,
		a.OpeningBalance.String(), a.Balance.String(),
		formatTime(a.CreatedAt), formatTime(a.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save account: %w", err)
	}
	return nil
}

func (o ops) DeleteAccount(ctx context.Context, id generic.AccountID) error {
	_, err := o.q.ExecContext(ctx, `DELETE FROM accounts WHERE id = ?`, id)
	return err
}

func scanAccount(row scanner) (generic.Account, error) {
	var (
		a                generic.Account
		opening, balance string
		created, updated string
	)
	if err := row.Scan(&a.ID, &a.Name, &a.Type, &opening, &balance, &created, &updated); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return a, err
		}
		return a, fmt.Errorf("failed to scan account: %w", err)
	}
	a.OpeningBalance = generic.MustParseDecimal(opening)
	a.Balance = generic.MustParseDecimal(balance)
	a.CreatedAt = parseTime(created)
	a.UpdatedAt = parseTime(updated)
	return a, nil
}

// -----------------------------------------------------------------------------
// Transactions
// -----------------------------------------------------------------------------

const transactionColumns = `id, account_id, date, amount, direction, status, description, category,
	emi_id, recurring_template_id, generated, idempotency_key, created_at, updated_at`

func (o ops) InsertTransaction(ctx context.Context, tx generic.Transaction) error {
	query := `INSERT INTO transactions (` + transactionColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := o.q.ExecContext(ctx, query,
		tx.ID, tx.AccountID, tx.Date.String(), tx.Amount.String(),
		tx.Direction, tx.Status, tx.Description, tx.Category,
		nullString(string(tx.EMIID)), nullString(string(tx.RecurringTemplateID)),
		tx.Generated, nullString(tx.IdempotencyKey),
		formatTime(tx.CreatedAt), formatTime(tx.UpdatedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) && strings.Contains(err.Error(), "idempotency_key") {
			return generic.ErrDuplicateIdempotencyKey
		}
		if isCheckConstraintError(err) {
			return generic.ErrConflictingLinks
		}
		return fmt.Errorf("failed to insert transaction: %w", err)
	}
	return nil
}

// UpdateTransaction rewrites every mutable column. The idempotency key is
// fixed at insert time.
func (o ops) UpdateTransaction(ctx context.Context, tx generic.Transaction) error {
	query := `
		UPDATE transactions SET
			account_id = ?, date = ?, amount = ?, direction = ?, status = ?,
			description = ?, category = ?, emi_id = ?, recurring_template_id = ?,
			generated = ?, updated_at = ?
		WHERE id = ?
	`
	res, err := o.q.ExecContext(ctx, query,
		tx.AccountID, tx.Date.String(), tx.Amount.String(), tx.Direction, tx.Status,
		tx.Description, tx.Category,
		nullString(string(tx.EMIID)), nullString(string(tx.RecurringTemplateID)),
		tx.Generated, formatTime(tx.UpdatedAt),
		tx.ID,
	)
	if err != nil {
		if isCheckConstraintError(err) {
			return generic.ErrConflictingLinks
		}
		return fmt.Errorf("failed to update transaction: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return generic.ErrUnknownTransaction
	}
	return nil
}

func (o ops) DeleteTransaction(ctx context.Context, id generic.TransactionID) error {
	_, err := o.q.ExecContext(ctx, `DELETE FROM transactions WHERE id = ?`, id)
	return err
}

func (o ops) GetTransaction(ctx context.Context, id generic.TransactionID) (*generic.Transaction, error) {
	row := o.q.QueryRowContext(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE id = ?`, id)
	tx, err := scanTransaction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &tx, nil
}

func (o ops) ListTransactionsByObligation(ctx context.Context, ref generic.ObligationRef) ([]generic.Transaction, error) {
	column := "emi_id"
	if ref.Kind == generic.KindRecurring {
		column = "recurring_template_id"
	}
	query := `SELECT ` + transactionColumns + ` FROM transactions
		WHERE ` + column + ` = ?
		ORDER BY date ASC, created_at ASC, id ASC`
	return o.queryTransactions(ctx, query, ref.ID)
}

func (o ops) ListTransactionsByAccount(ctx context.Context, id generic.AccountID) ([]generic.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions
		WHERE account_id = ?
		ORDER BY date ASC, created_at ASC, id ASC`
	return o.queryTransactions(ctx, query, id)
}

func (o ops) Exists(ctx context.Context, idempotencyKey string) (bool, error) {
	var count int
	err := o.q.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM transactions WHERE idempotency_key = ?",
		idempotencyKey,
	).Scan(&count)

	return count > 0, err
}

func (o ops) queryTransactions(ctx context.Context, query string, args ...any) ([]generic.Transaction, error) {
	rows, err := o.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer rows.Close()

	var transactions []generic.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		transactions = append(transactions, tx)
	}

	return transactions, rows.Err()
}

func scanTransaction(row scanner) (generic.Transaction, error) {
	var (
		tx                   generic.Transaction
		date, amount         string
		description          sql.NullString
		category             sql.NullString
		emiID, templateID    sql.NullString
		idempotencyKey       sql.NullString
		createdAt, updatedAt string
	)

	err := row.Scan(
		&tx.ID, &tx.AccountID, &date, &amount, &tx.Direction, &tx.Status,
		&description, &category, &emiID, &templateID,
		&tx.Generated, &idempotencyKey, &createdAt, &updatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return tx, err
		}
		return tx, fmt.Errorf("failed to scan transaction: %w", err)
	}

	tx.Date = parseDate(date)
	tx.Amount = generic.MustParseDecimal(amount)
	tx.Description = description.String
	tx.Category = category.String
	tx.EMIID = generic.ObligationID(emiID.String)
	tx.RecurringTemplateID = generic.ObligationID(templateID.String)
	tx.IdempotencyKey = idempotencyKey.String
	tx.CreatedAt = parseTime(createdAt)
	tx.UpdatedAt = parseTime(updatedAt)
	return tx, nil
}

// -----------------------------------------------------------------------------
// Obligations
// -----------------------------------------------------------------------------

const termsColumns = `id, name, account_id, amount, frequency, direction, category, notes,
	start_date, status, override_anchor, override_steps, override_next, created_at, updated_at`

const termsUpdates = `
	name = excluded.name,
	account_id = excluded.account_id,
	amount = excluded.amount,
	frequency = excluded.frequency,
	direction = excluded.direction,
	category = excluded.category,
	notes = excluded.notes,
	start_date = excluded.start_date,
	status = excluded.status,
	override_anchor = excluded.override_anchor,
	override_steps = excluded.override_steps,
	override_next = excluded.override_next,
	updated_at = excluded.updated_at`

func termsArgs(t *generic.Terms) []any {
	var (
		anchor, next sql.NullString
		steps        int
	)
	if o := t.Override; o != nil {
		anchor = nullString(dateString(o.Anchor))
		steps = o.Steps
		next = nullString(dateString(o.Next))
	}
	return []any{
		t.ID, t.Name, t.AccountID, t.Amount.String(), t.Frequency, t.Direction,
		t.Category, t.Notes, t.StartDate.String(), t.Status,
		anchor, steps, next,
		formatTime(t.CreatedAt), formatTime(t.UpdatedAt),
	}
}

// termsScan collects the raw terms columns; finish converts them.
type termsScan struct {
	amount, startDate string
	category, notes   sql.NullString
	anchor, next      sql.NullString
	steps             int
	created, updated  string
}

func (ts *termsScan) dest(t *generic.Terms) []any {
	return []any{
		&t.ID, &t.Name, &t.AccountID, &ts.amount, &t.Frequency, &t.Direction,
		&ts.category, &ts.notes, &ts.startDate, &t.Status,
		&ts.anchor, &ts.steps, &ts.next,
		&ts.created, &ts.updated,
	}
}

func (ts *termsScan) finish(t *generic.Terms) {
	t.Amount = generic.MustParseDecimal(ts.amount)
	t.Category = ts.category.String
	t.Notes = ts.notes.String
	t.StartDate = parseDate(ts.startDate)
	if ts.anchor.Valid || ts.next.Valid {
		t.Override = &generic.DueOverride{Steps: ts.steps}
		if ts.anchor.Valid {
			t.Override.Anchor = parseDate(ts.anchor.String)
		}
		if ts.next.Valid {
			t.Override.Next = parseDate(ts.next.String)
		}
	}
	t.CreatedAt = parseTime(ts.created)
	t.UpdatedAt = parseTime(ts.updated)
}

func obligationWhere(f generic.ObligationFilter) (string, []any) {
	var (
		clauses []string
		args    []any
	)
	if f.AccountID != "" {
		clauses = append(clauses, "account_id = ?")
		args = append(args, f.AccountID)
	}
	if f.Status != "" {
		clauses = append(clauses, "status = ?")
		args = append(args, f.Status)
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

// EMIs

const emiColumns = termsColumns + `, kind, end_date, total_installments, completed_installments`

func (o ops) GetEMI(ctx context.Context, id generic.ObligationID) (*generic.EMI, error) {
	row := o.q.QueryRowContext(ctx, `SELECT `+emiColumns+` FROM emis WHERE id = ?`, id)
	e, err := scanEMI(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (o ops) ListEMIs(ctx context.Context, f generic.ObligationFilter) ([]generic.EMI, error) {
	where, args := obligationWhere(f)
	rows, err := o.q.QueryContext(ctx, `SELECT `+emiColumns+` FROM emis`+where+` ORDER BY created_at, id`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query emis: %w", err)
	}
	defer rows.Close()

	var emis []generic.EMI
	for rows.Next() {
		e, err := scanEMI(rows)
		if err != nil {
			return nil, err
		}
		emis = append(emis, e)
	}
	return emis, rows.Err()
}

func (o ops) SaveEMI(ctx context.Context, e generic.EMI) error {
	query := `
		INSERT INTO emis (` + emiColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET` + termsUpdates + `,
			kind = excluded.kind,
			end_date = excluded.end_date,
			total_installments = excluded.total_installments,
			completed_installments = excluded.completed_installments
	`
	args := append(termsArgs(&e.Terms),
		e.Kind, nullString(dateString(e.EndDate)), e.TotalInstallments, e.CompletedInstallments)
	if _, err := o.q.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to save emi: %w", err)
	}
	return nil
}

func (o ops) DeleteEMI(ctx context.Context, id generic.ObligationID) error {
	_, err := o.q.ExecContext(ctx, `DELETE FROM emis WHERE id = ?`, id)
	return err
}

func scanEMI(row scanner) (generic.EMI, error) {
	var (
		e       generic.EMI
		ts      termsScan
		endDate sql.NullString
	)
	dest := append(ts.dest(&e.Terms), &e.Kind, &endDate, &e.TotalInstallments, &e.CompletedInstallments)
	if err := row.Scan(dest...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return e, err
		}
		return e, fmt.Errorf("failed to scan emi: %w", err)
	}
	ts.finish(&e.Terms)
	if endDate.Valid {
		e.EndDate = parseDate(endDate.String)
	}
	return e, nil
}

// Recurring templates

const templateColumns = termsColumns + `, occurrences`

func (o ops) GetTemplate(ctx context.Context, id generic.ObligationID) (*generic.RecurringTemplate, error) {
	row := o.q.QueryRowContext(ctx, `SELECT `+templateColumns+` FROM recurring_templates WHERE id = ?`, id)
	r, err := scanTemplate(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (o ops) ListTemplates(ctx context.Context, f generic.ObligationFilter) ([]generic.RecurringTemplate, error) {
	where, args := obligationWhere(f)
	rows, err := o.q.QueryContext(ctx, `SELECT `+templateColumns+` FROM recurring_templates`+where+` ORDER BY created_at, id`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query templates: %w", err)
	}
	defer rows.Close()

	var templates []generic.RecurringTemplate
	for rows.Next() {
		r, err := scanTemplate(rows)
		if err != nil {
			return nil, err
		}
		templates = append(templates, r)
	}
	return templates, rows.Err()
}

func (o ops) SaveTemplate(ctx context.Context, r generic.RecurringTemplate) error {
	query := `
		INSERT INTO recurring_templates (` + templateColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET` + termsUpdates + `,
			occurrences = excluded.occurrences
	`
	args := append(termsArgs(&r.Terms), r.Occurrences)
	if _, err := o.q.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to save template: %w", err)
	}
	return nil
}

func (o ops) DeleteTemplate(ctx context.Context, id generic.ObligationID) error {
	_, err := o.q.ExecContext(ctx, `DELETE FROM recurring_templates WHERE id = ?`, id)
	return err
}

func scanTemplate(row scanner) (generic.RecurringTemplate, error) {
	var (
		r  generic.RecurringTemplate
		ts termsScan
	)
	dest := append(ts.dest(&r.Terms), &r.Occurrences)
	if err := row.Scan(dest...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return r, err
		}
		return r, fmt.Errorf("failed to scan template: %w", err)
	}
	ts.finish(&r.Terms)
	return r, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func dateString(d generic.Date) string {
	if d.IsZero() {
		return ""
	}
	return d.String()
}

func parseDate(s string) generic.Date {
	d, err := generic.ParseDate(s)
	if err != nil {
		return generic.Date{}
	}
	return d
}

// timeLayout is fixed width so lexical order is chronological order.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(timeLayout, s)
	return t
}

func isUniqueConstraintError(err error) bool {
	var sqliteErr sqlite3.Error
	return errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
}

func isCheckConstraintError(err error) bool {
	var sqliteErr sqlite3.Error
	return errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintCheck
}
