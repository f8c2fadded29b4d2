// Package store provides Store implementations.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/warp/obligation-engine/generic"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu   sync.RWMutex
	data *data
}

func NewMemory() *Memory {
	return &Memory{data: newData()}
}

// data holds the records and implements generic.Store without locking.
// Memory guards it; WithTx hands it out directly while holding the lock.
type data struct {
	accounts     map[generic.AccountID]generic.Account
	transactions map[generic.TransactionID]generic.Transaction
	idempotency  map[string]generic.TransactionID
	emis         map[generic.ObligationID]generic.EMI
	templates    map[generic.ObligationID]generic.RecurringTemplate
}

func newData() *data {
	return &data{
		accounts:     make(map[generic.AccountID]generic.Account),
		transactions: make(map[generic.TransactionID]generic.Transaction),
		idempotency:  make(map[string]generic.TransactionID),
		emis:         make(map[generic.ObligationID]generic.EMI),
		templates:    make(map[generic.ObligationID]generic.RecurringTemplate),
	}
}

func (d *data) clone() *data {
	c := newData()
	for k, v := range d.accounts {
		c.accounts[k] = v
	}
	for k, v := range d.transactions {
		c.transactions[k] = v
	}
	for k, v := range d.idempotency {
		c.idempotency[k] = v
	}
	for k, v := range d.emis {
		c.emis[k] = cloneEMI(v)
	}
	for k, v := range d.templates {
		c.templates[k] = cloneTemplate(v)
	}
	return c
}

// Overrides are pointers; never share them with callers.
func cloneTerms(t generic.Terms) generic.Terms {
	if t.Override != nil {
		ov := *t.Override
		t.Override = &ov
	}
	return t
}

func cloneEMI(e generic.EMI) generic.EMI {
	e.Terms = cloneTerms(e.Terms)
	return e
}

func cloneTemplate(r generic.RecurringTemplate) generic.RecurringTemplate {
	r.Terms = cloneTerms(r.Terms)
	return r
}

// =============================================================================
// ACCOUNTS
// =============================================================================

func (m *Memory) GetAccount(ctx context.Context, id generic.AccountID) (*generic.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.data.GetAccount(ctx, id)
}

func (m *Memory) ListAccounts(ctx context.Context) ([]generic.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.data.ListAccounts(ctx)
}

func (m *Memory) SaveAccount(ctx context.Context, a generic.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.SaveAccount(ctx, a)
}

func (m *Memory) DeleteAccount(ctx context.Context, id generic.AccountID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.DeleteAccount(ctx, id)
}

func (d *data) GetAccount(_ context.Context, id generic.AccountID) (*generic.Account, error) {
	a, ok := d.accounts[id]
	if !ok {
		return nil, nil
	}
	return &a, nil
}

func (d *data) ListAccounts(_ context.Context) ([]generic.Account, error) {
	result := make([]generic.Account, 0, len(d.accounts))
	for _, a := range d.accounts {
		result = append(result, a)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Name != result[j].Name {
			return result[i].Name < result[j].Name
		}
		return result[i].ID < result[j].ID
	})
	return result, nil
}

func (d *data) SaveAccount(_ context.Context, a generic.Account) error {
	d.accounts[a.ID] = a
	return nil
}

func (d *data) DeleteAccount(_ context.Context, id generic.AccountID) error {
	delete(d.accounts, id)
	return nil
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

func (m *Memory) InsertTransaction(ctx context.Context, tx generic.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.InsertTransaction(ctx, tx)
}

func (m *Memory) UpdateTransaction(ctx context.Context, tx generic.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.UpdateTransaction(ctx, tx)
}

func (m *Memory) DeleteTransaction(ctx context.Context, id generic.TransactionID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.DeleteTransaction(ctx, id)
}

func (m *Memory) GetTransaction(ctx context.Context, id generic.TransactionID) (*generic.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.data.GetTransaction(ctx, id)
}

func (m *Memory) ListTransactionsByObligation(ctx context.Context, ref generic.ObligationRef) ([]generic.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.data.ListTransactionsByObligation(ctx, ref)
}

func (m *Memory) ListTransactionsByAccount(ctx context.Context, id generic.AccountID) ([]generic.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.data.ListTransactionsByAccount(ctx, id)
}

func (m *Memory) Exists(ctx context.Context, idempotencyKey string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.data.Exists(ctx, idempotencyKey)
}

func (d *data) InsertTransaction(_ context.Context, tx generic.Transaction) error {
	if tx.IdempotencyKey != "" {
		if _, ok := d.idempotency[tx.IdempotencyKey]; ok {
			return generic.ErrDuplicateIdempotencyKey
		}
		d.idempotency[tx.IdempotencyKey] = tx.ID
	}
	d.transactions[tx.ID] = tx
	return nil
}

func (d *data) UpdateTransaction(_ context.Context, tx generic.Transaction) error {
	current, ok := d.transactions[tx.ID]
	if !ok {
		return generic.ErrUnknownTransaction
	}
	// The idempotency key is fixed at insert time.
	tx.IdempotencyKey = current.IdempotencyKey
	d.transactions[tx.ID] = tx
	return nil
}

func (d *data) DeleteTransaction(_ context.Context, id generic.TransactionID) error {
	tx, ok := d.transactions[id]
	if !ok {
		return nil
	}
	if tx.IdempotencyKey != "" {
		delete(d.idempotency, tx.IdempotencyKey)
	}
	delete(d.transactions, id)
	return nil
}

func (d *data) GetTransaction(_ context.Context, id generic.TransactionID) (*generic.Transaction, error) {
	tx, ok := d.transactions[id]
	if !ok {
		return nil, nil
	}
	return &tx, nil
}

func (d *data) ListTransactionsByObligation(_ context.Context, ref generic.ObligationRef) ([]generic.Transaction, error) {
	return d.filterTransactions(func(tx generic.Transaction) bool {
		link, ok := tx.Link()
		return ok && link == ref
	}), nil
}

func (d *data) ListTransactionsByAccount(_ context.Context, id generic.AccountID) ([]generic.Transaction, error) {
	return d.filterTransactions(func(tx generic.Transaction) bool {
		return tx.AccountID == id
	}), nil
}

func (d *data) Exists(_ context.Context, idempotencyKey string) (bool, error) {
	_, ok := d.idempotency[idempotencyKey]
	return ok, nil
}

func (d *data) filterTransactions(keep func(generic.Transaction) bool) []generic.Transaction {
	var result []generic.Transaction
	for _, tx := range d.transactions {
		if keep(tx) {
			result = append(result, tx)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		a, b := result[i], result[j]
		if !a.Date.Equal(b.Date) {
			return a.Date.Before(b.Date)
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
	return result
}

// =============================================================================
// OBLIGATIONS
// =============================================================================

func (m *Memory) GetEMI(ctx context.Context, id generic.ObligationID) (*generic.EMI, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.data.GetEMI(ctx, id)
}

func (m *Memory) ListEMIs(ctx context.Context, filter generic.ObligationFilter) ([]generic.EMI, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.data.ListEMIs(ctx, filter)
}

func (m *Memory) SaveEMI(ctx context.Context, e generic.EMI) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.SaveEMI(ctx, e)
}

func (m *Memory) DeleteEMI(ctx context.Context, id generic.ObligationID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.DeleteEMI(ctx, id)
}

func (m *Memory) GetTemplate(ctx context.Context, id generic.ObligationID) (*generic.RecurringTemplate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.data.GetTemplate(ctx, id)
}

func (m *Memory) ListTemplates(ctx context.Context, filter generic.ObligationFilter) ([]generic.RecurringTemplate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.data.ListTemplates(ctx, filter)
}

func (m *Memory) SaveTemplate(ctx context.Context, r generic.RecurringTemplate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.SaveTemplate(ctx, r)
}

func (m *Memory) DeleteTemplate(ctx context.Context, id generic.ObligationID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.DeleteTemplate(ctx, id)
}

func (d *data) GetEMI(_ context.Context, id generic.ObligationID) (*generic.EMI, error) {
	e, ok := d.emis[id]
	if !ok {
		return nil, nil
	}
	e = cloneEMI(e)
	return &e, nil
}

func (d *data) ListEMIs(_ context.Context, filter generic.ObligationFilter) ([]generic.EMI, error) {
	var result []generic.EMI
	for _, e := range d.emis {
		if filter.Match(&e.Terms) {
			result = append(result, cloneEMI(e))
		}
	}
	sort.Slice(result, func(i, j int) bool { return termsLess(&result[i].Terms, &result[j].Terms) })
	return result, nil
}

func (d *data) SaveEMI(_ context.Context, e generic.EMI) error {
	d.emis[e.ID] = cloneEMI(e)
	return nil
}

func (d *data) DeleteEMI(_ context.Context, id generic.ObligationID) error {
	delete(d.emis, id)
	return nil
}

func (d *data) GetTemplate(_ context.Context, id generic.ObligationID) (*generic.RecurringTemplate, error) {
	r, ok := d.templates[id]
	if !ok {
		return nil, nil
	}
	r = cloneTemplate(r)
	return &r, nil
}

func (d *data) ListTemplates(_ context.Context, filter generic.ObligationFilter) ([]generic.RecurringTemplate, error) {
	var result []generic.RecurringTemplate
	for _, r := range d.templates {
		if filter.Match(&r.Terms) {
			result = append(result, cloneTemplate(r))
		}
	}
	sort.Slice(result, func(i, j int) bool { return termsLess(&result[i].Terms, &result[j].Terms) })
	return result, nil
}

func (d *data) SaveTemplate(_ context.Context, r generic.RecurringTemplate) error {
	d.templates[r.ID] = cloneTemplate(r)
	return nil
}

func (d *data) DeleteTemplate(_ context.Context, id generic.ObligationID) error {
	delete(d.templates, id)
	return nil
}

func termsLess(a, b *generic.Terms) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}

// =============================================================================
// TRANSACTIONAL SUPPORT
// =============================================================================

// WithTx executes fn while holding the write lock.
// For memory store, this is simulated with a snapshot + rollback on error.
func (m *Memory) WithTx(_ context.Context, fn func(generic.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.data.clone()
	if err := fn(m.data); err != nil {
		m.data = snapshot
		return err
	}
	return nil
}

// Reset drops every record.
func (m *Memory) Reset(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data = newData()
	return nil
}
