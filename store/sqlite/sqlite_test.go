package sqlite_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/obligation-engine/generic"
	"github.com/warp/obligation-engine/obligation"
	"github.com/warp/obligation-engine/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestStore(t *testing.T) *sqlite.Store {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	now := time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC)
	require.NoError(t, store.SaveAccount(context.Background(), generic.Account{
		ID:             "acct-1",
		Name:           "Checking",
		Type:           "bank",
		OpeningBalance: decimal.RequireFromString("1000.50"),
		Balance:        decimal.RequireFromString("1000.50"),
		CreatedAt:      now,
		UpdatedAt:      now,
	}))
	return store
}

func sampleTx(id generic.TransactionID, date string) generic.Transaction {
	now := time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC)
	return generic.Transaction{
		ID:        id,
		AccountID: "acct-1",
		Date:      generic.MustParseDate(date),
		Amount:    decimal.RequireFromString("12.34"),
		Direction: generic.DirectionExpense,
		Status:    generic.TxPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func sampleEMI(id generic.ObligationID) generic.EMI {
	now := time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC)
	return generic.EMI{
		Terms: generic.Terms{
			ID:        id,
			Name:      "Car loan",
			AccountID: "acct-1",
			Amount:    decimal.RequireFromString("250.75"),
			Frequency: generic.FrequencyMonthly,
			Direction: generic.DirectionExpense,
			Category:  "loan",
			StartDate: generic.MustParseDate("2025-01-31"),
			Status:    generic.StatusActive,
			CreatedAt: now,
			UpdatedAt: now,
		},
		Kind:                  generic.EMILoan,
		EndDate:               generic.MustParseDate("2025-12-31"),
		TotalInstallments:     12,
		CompletedInstallments: 2,
	}
}

// =============================================================================
// ROUND TRIPS
// =============================================================================

func TestStore_AccountRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	acct, err := store.GetAccount(ctx, "acct-1")
	require.NoError(t, err)
	require.NotNil(t, acct)
	assert.Equal(t, "Checking", acct.Name)
	assert.True(t, acct.Balance.Equal(decimal.RequireFromString("1000.50")))

	acct.Balance = decimal.RequireFromString("900")
	require.NoError(t, store.SaveAccount(ctx, *acct))

	again, err := store.GetAccount(ctx, "acct-1")
	require.NoError(t, err)
	assert.True(t, again.Balance.Equal(decimal.RequireFromString("900")))
	assert.True(t, again.OpeningBalance.Equal(decimal.RequireFromString("1000.50")))

	missing, err := store.GetAccount(ctx, "ghost")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestStore_EMIRoundTripWithOverride(t *testing.T) {
	// GIVEN: An EMI with a persistent retarget override
	// WHEN: Saving and loading it
	// THEN: Every field survives, including the override

	store := newTestStore(t)
	ctx := context.Background()

	emi := sampleEMI("emi-1")
	emi.Override = &generic.DueOverride{Anchor: generic.MustParseDate("2025-03-15"), Steps: 2}
	require.NoError(t, store.SaveEMI(ctx, emi))

	got, err := store.GetEMI(ctx, "emi-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "Car loan", got.Name)
	assert.True(t, got.Amount.Equal(emi.Amount))
	assert.Equal(t, "2025-01-31", got.StartDate.String())
	assert.Equal(t, "2025-12-31", got.EndDate.String())
	assert.Equal(t, 12, got.TotalInstallments)
	assert.Equal(t, 2, got.CompletedInstallments)
	assert.Equal(t, generic.EMILoan, got.Kind)
	require.NotNil(t, got.Override)
	assert.Equal(t, "2025-03-15", got.Override.Anchor.String())
	assert.Equal(t, 2, got.Override.Steps)
	assert.False(t, got.Override.OneShot())

	// Clearing the override is persisted as well
	got.Override = nil
	got.CompletedInstallments = 3
	require.NoError(t, store.SaveEMI(ctx, *got))
	again, err := store.GetEMI(ctx, "emi-1")
	require.NoError(t, err)
	assert.Nil(t, again.Override)
	assert.Equal(t, 3, again.CompletedInstallments)
}

func TestStore_TemplateRoundTripAndFilter(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	tpl := generic.RecurringTemplate{Terms: sampleEMI("tpl-1").Terms, Occurrences: 4}
	tpl.Override = &generic.DueOverride{Anchor: generic.MustParseDate("2025-01-20"), Steps: 1, Next: generic.MustParseDate("2025-02-14")}
	require.NoError(t, store.SaveTemplate(ctx, tpl))

	paused := generic.RecurringTemplate{Terms: sampleEMI("tpl-2").Terms}
	paused.Status = generic.StatusPaused
	paused.CreatedAt = paused.CreatedAt.Add(time.Minute)
	require.NoError(t, store.SaveTemplate(ctx, paused))

	got, err := store.GetTemplate(ctx, "tpl-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 4, got.Occurrences)
	require.NotNil(t, got.Override)
	assert.True(t, got.Override.OneShot())
	assert.Equal(t, "2025-02-14", got.Override.Next.String())
	assert.Equal(t, "2025-01-20", got.Override.Anchor.String())
	assert.Equal(t, 1, got.Override.Steps)

	all, err := store.ListTemplates(ctx, generic.ObligationFilter{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, generic.ObligationID("tpl-1"), all[0].ID)

	active, err := store.ListTemplates(ctx, generic.ObligationFilter{Status: generic.StatusActive})
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, generic.ObligationID("tpl-1"), active[0].ID)

	require.NoError(t, store.DeleteTemplate(ctx, "tpl-1"))
	gone, err := store.GetTemplate(ctx, "tpl-1")
	require.NoError(t, err)
	assert.Nil(t, gone)
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

func TestStore_TransactionLinksAndOrdering(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	ref := generic.EMIRef("emi-1")

	for id, d := range map[generic.TransactionID]string{"b": "2025-03-10", "a": "2025-01-10", "c": "2025-02-10"} {
		tx := sampleTx(id, d)
		tx.SetLink(ref)
		require.NoError(t, store.InsertTransaction(ctx, tx))
	}
	require.NoError(t, store.InsertTransaction(ctx, sampleTx("unlinked", "2025-01-01")))

	linked, err := store.ListTransactionsByObligation(ctx, ref)
	require.NoError(t, err)
	require.Len(t, linked, 3)
	assert.Equal(t, []generic.TransactionID{"a", "c", "b"}, []generic.TransactionID{linked[0].ID, linked[1].ID, linked[2].ID})
	assert.Equal(t, generic.ObligationID("emi-1"), linked[0].EMIID)
	assert.Empty(t, linked[0].RecurringTemplateID)

	other, err := store.ListTransactionsByObligation(ctx, generic.TemplateRef("emi-1"))
	require.NoError(t, err)
	assert.Empty(t, other)

	byAccount, err := store.ListTransactionsByAccount(ctx, "acct-1")
	require.NoError(t, err)
	require.Len(t, byAccount, 4)
	assert.Equal(t, generic.TransactionID("unlinked"), byAccount[0].ID)
}

func TestStore_IdempotencyKeyUnique(t *testing.T) {
	// GIVEN: A generated transaction for a due date
	// WHEN: Inserting a second transaction with the same key
	// THEN: ErrDuplicateIdempotencyKey, and deleting the first frees the key

	store := newTestStore(t)
	ctx := context.Background()
	key := generic.GenerationKey("emi-1", generic.MustParseDate("2025-01-10"))

	first := sampleTx("tx-1", "2025-01-10")
	first.IdempotencyKey = key
	require.NoError(t, store.InsertTransaction(ctx, first))

	exists, err := store.Exists(ctx, key)
	require.NoError(t, err)
	assert.True(t, exists)

	second := sampleTx("tx-2", "2025-01-10")
	second.IdempotencyKey = key
	assert.ErrorIs(t, store.InsertTransaction(ctx, second), generic.ErrDuplicateIdempotencyKey)

	// Manual transactions have no key and never collide
	require.NoError(t, store.InsertTransaction(ctx, sampleTx("manual-1", "2025-01-10")))
	require.NoError(t, store.InsertTransaction(ctx, sampleTx("manual-2", "2025-01-10")))

	require.NoError(t, store.DeleteTransaction(ctx, "tx-1"))
	require.NoError(t, store.InsertTransaction(ctx, second))
}

func TestStore_UpdateTransaction(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	tx := sampleTx("tx-1", "2025-01-10")
	tx.IdempotencyKey = "gen:emi-1:2025-01-10"
	require.NoError(t, store.InsertTransaction(ctx, tx))

	tx.Date = generic.MustParseDate("2025-01-13")
	tx.Status = generic.TxSettled
	tx.IdempotencyKey = "ignored"
	require.NoError(t, store.UpdateTransaction(ctx, tx))

	got, err := store.GetTransaction(ctx, "tx-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "2025-01-13", got.Date.String())
	assert.Equal(t, generic.TxSettled, got.Status)
	assert.Equal(t, "gen:emi-1:2025-01-10", got.IdempotencyKey)

	assert.ErrorIs(t, store.UpdateTransaction(ctx, sampleTx("ghost", "2025-01-10")), generic.ErrUnknownTransaction)
}

func TestStore_RejectsDoubleLink(t *testing.T) {
	store := newTestStore(t)
	tx := sampleTx("tx-1", "2025-01-10")
	tx.EMIID = "emi-1"
	tx.RecurringTemplateID = "tpl-1"
	assert.ErrorIs(t, store.InsertTransaction(context.Background(), tx), generic.ErrConflictingLinks)
}

// =============================================================================
// ATOMICITY
// =============================================================================

func TestStore_WithTx_RollsBackOnError(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := store.WithTx(ctx, func(s generic.Store) error {
		require.NoError(t, s.SaveEMI(ctx, sampleEMI("emi-1")))
		tx := sampleTx("tx-1", "2025-01-31")
		tx.IdempotencyKey = "k1"
		require.NoError(t, s.InsertTransaction(ctx, tx))

		// Writes are visible inside the transaction
		e, err := s.GetEMI(ctx, "emi-1")
		require.NoError(t, err)
		require.NotNil(t, e)
		return boom
	})
	require.ErrorIs(t, err, boom)

	e, err := store.GetEMI(ctx, "emi-1")
	require.NoError(t, err)
	assert.Nil(t, e)
	exists, err := store.Exists(ctx, "k1")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestStore_WithTx_Commits(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.WithTx(ctx, func(s generic.Store) error {
		return s.SaveEMI(ctx, sampleEMI("emi-1"))
	}))

	emis, err := store.ListEMIs(ctx, generic.ObligationFilter{AccountID: "acct-1"})
	require.NoError(t, err)
	require.Len(t, emis, 1)
}

func TestStore_Reset(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.SaveEMI(ctx, sampleEMI("emi-1")))
	require.NoError(t, store.InsertTransaction(ctx, sampleTx("tx-1", "2025-01-10")))

	require.NoError(t, store.Reset(ctx))

	accounts, err := store.ListAccounts(ctx)
	require.NoError(t, err)
	assert.Empty(t, accounts)
	emis, err := store.ListEMIs(ctx, generic.ObligationFilter{})
	require.NoError(t, err)
	assert.Empty(t, emis)
}

// =============================================================================
// ENGINE OVER SQLITE
// =============================================================================

func TestStore_GenerationCatchUpAndBalance(t *testing.T) {
	// GIVEN: A monthly EMI starting 2025-01-31 over SQLite
	// WHEN: Scanning on 2025-04-30, then settling one generated transaction
	// THEN: Four clamped due dates are generated once, and only the settled one
	// moves the balance

	store := newTestStore(t)
	ctx := context.Background()
	today := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	svc := obligation.NewService(store, obligation.WithClock(func() time.Time { return today }))

	emi, err := svc.CreateEMI(ctx, obligation.EMIInput{
		Name:              "Car loan",
		AccountID:         "acct-1",
		Amount:            decimal.RequireFromString("100"),
		StartDate:         generic.MustParseDate("2025-01-31"),
		TotalInstallments: 12,
	})
	require.NoError(t, err)

	report, err := svc.CheckAndGenerate(ctx, generic.MustParseDate("2025-04-30"))
	require.NoError(t, err)
	require.Len(t, report.Generated, 4)
	var dates []string
	for _, tx := range report.Generated {
		dates = append(dates, tx.Date.String())
	}
	assert.Equal(t, []string{"2025-01-31", "2025-02-28", "2025-03-31", "2025-04-30"}, dates)

	again, err := svc.CheckAndGenerate(ctx, generic.MustParseDate("2025-04-30"))
	require.NoError(t, err)
	assert.Empty(t, again.Generated)

	got, err := svc.GetEMI(ctx, emi.ID)
	require.NoError(t, err)
	assert.Equal(t, 4, got.CompletedInstallments)

	settled := generic.TxSettled
	require.NoError(t, svc.WithLedger(ctx, func(l *generic.Ledger) error {
		_, err := l.UpdateTransaction(ctx, report.Generated[0].ID, generic.TransactionPatch{Status: &settled})
		return err
	}))
	acct, err := store.GetAccount(ctx, "acct-1")
	require.NoError(t, err)
	assert.True(t, acct.Balance.Equal(decimal.RequireFromString("900.50")))
}

func TestStore_ConversionOverSQLite(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	today := time.Date(2025, 3, 15, 0, 0, 0, 0, time.UTC)
	svc := obligation.NewService(store, obligation.WithClock(func() time.Time { return today }))

	emi, err := svc.CreateEMI(ctx, obligation.EMIInput{
		Name:              "Phone",
		AccountID:         "acct-1",
		Amount:            decimal.RequireFromString("40"),
		StartDate:         generic.MustParseDate("2025-01-10"),
		TotalInstallments: 6,
	})
	require.NoError(t, err)
	require.Equal(t, 3, emi.CompletedInstallments)

	tplID, err := svc.Converter().ConvertEMIToRecurring(ctx, emi.ID)
	require.NoError(t, err)

	txs, err := svc.Transactions(ctx, generic.TemplateRef(tplID))
	require.NoError(t, err)
	assert.Len(t, txs, 3)

	gone, err := store.GetEMI(ctx, emi.ID)
	require.NoError(t, err)
	assert.Nil(t, gone)
}
