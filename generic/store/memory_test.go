package store_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/obligation-engine/generic"
	"github.com/warp/obligation-engine/generic/store"
)

func sampleEMI(id generic.ObligationID) generic.EMI {
	return generic.EMI{
		Terms: generic.Terms{
			ID:        id,
			AccountID: "acct-1",
			Frequency: generic.FrequencyMonthly,
			StartDate: generic.MustParseDate("2025-01-10"),
			Status:    generic.StatusActive,
			Override:  &generic.DueOverride{Anchor: generic.MustParseDate("2025-01-12")},
		},
		TotalInstallments: 3,
	}
}

func TestMemory_WithTx_RollsBackOnError(t *testing.T) {
	// GIVEN: An empty store
	// WHEN: A transaction writes then fails
	// THEN: None of its writes are visible

	ctx := context.Background()
	mem := store.NewMemory()
	boom := errors.New("boom")

	err := mem.WithTx(ctx, func(s generic.Store) error {
		require.NoError(t, s.SaveEMI(ctx, sampleEMI("emi-1")))
		require.NoError(t, s.InsertTransaction(ctx, generic.Transaction{ID: "tx-1", IdempotencyKey: "k1"}))
		return boom
	})
	require.ErrorIs(t, err, boom)

	e, err := mem.GetEMI(ctx, "emi-1")
	require.NoError(t, err)
	assert.Nil(t, e)
	exists, err := mem.Exists(ctx, "k1")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestMemory_WithTx_Commits(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()

	require.NoError(t, mem.WithTx(ctx, func(s generic.Store) error {
		return s.SaveEMI(ctx, sampleEMI("emi-1"))
	}))

	e, err := mem.GetEMI(ctx, "emi-1")
	require.NoError(t, err)
	require.NotNil(t, e)
	assert.Equal(t, 3, e.TotalInstallments)
}

func TestMemory_IdempotencyKeyUnique(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()

	require.NoError(t, mem.InsertTransaction(ctx, generic.Transaction{ID: "tx-1", IdempotencyKey: "gen:a:2025-01-10"}))
	err := mem.InsertTransaction(ctx, generic.Transaction{ID: "tx-2", IdempotencyKey: "gen:a:2025-01-10"})
	assert.ErrorIs(t, err, generic.ErrDuplicateIdempotencyKey)

	// Deleting frees the key
	require.NoError(t, mem.DeleteTransaction(ctx, "tx-1"))
	require.NoError(t, mem.InsertTransaction(ctx, generic.Transaction{ID: "tx-2", IdempotencyKey: "gen:a:2025-01-10"}))
}

func TestMemory_OverrideNotShared(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	emi := sampleEMI("emi-1")
	require.NoError(t, mem.SaveEMI(ctx, emi))

	emi.Override.Steps = 5
	got, err := mem.GetEMI(ctx, "emi-1")
	require.NoError(t, err)
	assert.Equal(t, 0, got.Override.Steps)

	got.Override.Steps = 7
	again, err := mem.GetEMI(ctx, "emi-1")
	require.NoError(t, err)
	assert.Equal(t, 0, again.Override.Steps)
}

func TestMemory_ListTransactionsOrderedByDate(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	ref := generic.EMIRef("emi-1")

	for id, d := range map[generic.TransactionID]string{"b": "2025-03-10", "a": "2025-01-10", "c": "2025-02-10"} {
		tx := generic.Transaction{ID: id, AccountID: "acct-1", Date: generic.MustParseDate(d)}
		tx.SetLink(ref)
		require.NoError(t, mem.InsertTransaction(ctx, tx))
	}

	txs, err := mem.ListTransactionsByObligation(ctx, ref)
	require.NoError(t, err)
	require.Len(t, txs, 3)
	assert.Equal(t, []generic.TransactionID{"a", "c", "b"}, []generic.TransactionID{txs[0].ID, txs[1].ID, txs[2].ID})

	other, err := mem.ListTransactionsByObligation(ctx, generic.TemplateRef("emi-1"))
	require.NoError(t, err)
	assert.Empty(t, other, "same id under the other kind is a different obligation")
}
