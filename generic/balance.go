/*
balance.go - Account balance reconciliation

PURPOSE:
  Keeps every account's stored balance equal to its opening balance plus
  the signed sum of its SETTLED transactions:

    Balance = OpeningBalance + Σ settled income - Σ settled expense

  Pending and cancelled transactions never move the balance.

TRIGGER:
  The reconciler is not a background job. Ledger calls it synchronously after
  every transaction create, update or delete, for each account the mutation
  touched (both accounts when a transaction moves between accounts).

EMPTY ACCOUNTS:
  An account with no transactions has Balance == OpeningBalance.

SEE ALSO:
  - ledger.go: Calls Reconcile after mutations
*/
package generic

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// BalanceStore is the subset of Store the reconciler needs.
type BalanceStore interface {
	AccountStore
	ListTransactionsByAccount(ctx context.Context, id AccountID) ([]Transaction, error)
}

// Reconciler recomputes account balances from the ledger.
type Reconciler struct {
	Store BalanceStore
	Now   func() time.Time
}

func NewReconciler(store BalanceStore) *Reconciler {
	return &Reconciler{Store: store, Now: func() time.Time { return time.Now().UTC() }}
}

// Reconcile recomputes and persists the balance of one account.
func (r *Reconciler) Reconcile(ctx context.Context, id AccountID) (decimal.Decimal, error) {
	acct, err := r.Store.GetAccount(ctx, id)
	if err != nil {
		return decimal.Zero, err
	}
	if acct == nil {
		return decimal.Zero, &FieldError{Field: string(id), Err: ErrUnknownAccount}
	}

	txs, err := r.Store.ListTransactionsByAccount(ctx, id)
	if err != nil {
		return decimal.Zero, fmt.Errorf("load transactions for %s: %w", id, err)
	}

	balance := ComputeBalance(acct.OpeningBalance, txs)
	if acct.Balance.Equal(balance) {
		return balance, nil
	}

	acct.Balance = balance
	acct.UpdatedAt = r.Now()
	if err := r.Store.SaveAccount(ctx, *acct); err != nil {
		return decimal.Zero, fmt.Errorf("save balance for %s: %w", id, err)
	}
	return balance, nil
}

// ComputeBalance applies the settled transactions in txs to opening.
func ComputeBalance(opening decimal.Decimal, txs []Transaction) decimal.Decimal {
	balance := opening
	for _, tx := range txs {
		if tx.Status != TxSettled {
			continue
		}
		balance = balance.Add(tx.SignedAmount())
	}
	return balance
}
