package obligation_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/obligation-engine/generic"
	"github.com/warp/obligation-engine/obligation"
)

// =============================================================================
// CREATE
// =============================================================================

func TestCreateEMI_FutureStart_NoGeneration(t *testing.T) {
	// GIVEN: Today is before the first installment
	// WHEN: Creating the EMI
	// THEN: It is active, nothing is generated, end date is the 20th installment

	f := newFixture(t, "2025-01-01")

	emi, err := f.svc.CreateEMI(f.ctx, loanInput("2025-01-10"))
	require.NoError(t, err)

	assert.Equal(t, generic.StatusActive, emi.Status)
	assert.Equal(t, 0, emi.CompletedInstallments)
	assert.Equal(t, generic.EMILoan, emi.Kind)
	assert.Equal(t, "2026-08-10", emi.EndDate.String())
	assert.Empty(t, f.linked(t, emi.Ref()))
}

func TestCreateEMI_PastStart_GeneratesOnCreate(t *testing.T) {
	// GIVEN: Today is after the first installment
	// WHEN: Creating the EMI
	// THEN: The first installment is generated before Create returns

	f := newFixture(t, "2025-01-15")

	emi, err := f.svc.CreateEMI(f.ctx, loanInput("2025-01-10"))
	require.NoError(t, err)

	assert.Equal(t, 1, emi.CompletedInstallments)
	txs := f.linked(t, emi.Ref())
	require.Len(t, txs, 1)
	assert.Equal(t, "2025-01-10", txs[0].Date.String())
	assert.True(t, txs[0].Amount.Equal(dec("10000")))
	assert.Equal(t, generic.TxPending, txs[0].Status)
	assert.True(t, txs[0].Generated)
}

func TestCreateEMI_ValidationOrder(t *testing.T) {
	f := newFixture(t, "2025-01-01")

	tests := []struct {
		name   string
		mutate func(*obligation.EMIInput)
		want   error
	}{
		{"zero amount", func(in *obligation.EMIInput) { in.Amount = dec("0") }, generic.ErrInvalidAmount},
		{"negative amount beats bad count", func(in *obligation.EMIInput) {
			in.Amount = dec("-5")
			in.TotalInstallments = 0
		}, generic.ErrInvalidAmount},
		{"bad frequency", func(in *obligation.EMIInput) { in.Frequency = "weekly" }, generic.ErrInvalidFrequency},
		{"missing start", func(in *obligation.EMIInput) { in.StartDate = generic.Date{} }, generic.ErrInvalidDate},
		{"zero installments", func(in *obligation.EMIInput) { in.TotalInstallments = 0 }, generic.ErrInvalidInstallmentCount},
		{"end before start", func(in *obligation.EMIInput) { in.EndDate = date("2024-12-31") }, generic.ErrInvalidDateRange},
		{"end before last installment", func(in *obligation.EMIInput) { in.EndDate = date("2026-08-09") }, generic.ErrInvalidDateRange},
		{"unknown account", func(in *obligation.EMIInput) { in.AccountID = "nope" }, generic.ErrUnknownAccount},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := loanInput("2025-01-10")
			tt.mutate(&in)
			_, err := f.svc.CreateEMI(f.ctx, in)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	emis, err := f.svc.ListEMIs(f.ctx, generic.ObligationFilter{})
	require.NoError(t, err)
	assert.Empty(t, emis, "failed creates must not persist anything")
}

func TestCreateTemplate_Defaults(t *testing.T) {
	f := newFixture(t, "2025-01-01")

	tpl, err := f.svc.CreateTemplate(f.ctx, obligation.TemplateInput{
		Name:      "Gym",
		AccountID: testAccount,
		Amount:    dec("40"),
		StartDate: date("2025-02-01"),
	})
	require.NoError(t, err)

	assert.Equal(t, generic.FrequencyMonthly, tpl.Frequency)
	assert.Equal(t, generic.DirectionExpense, tpl.Direction)
	assert.Equal(t, generic.StatusActive, tpl.Status)
	next, err := generic.EffectiveDueDate(tpl)
	require.NoError(t, err)
	assert.Equal(t, "2025-02-01", next.String())
}

// =============================================================================
// UPDATE
// =============================================================================

func TestUpdateEMI_InstallmentRules(t *testing.T) {
	// GIVEN: An EMI with 3 completed installments out of 20
	f := newFixture(t, "2025-03-20")
	emi, err := f.svc.CreateEMI(f.ctx, loanInput("2025-01-10"))
	require.NoError(t, err)
	require.Equal(t, 3, emi.CompletedInstallments)

	two, zero, minus := 2, 0, -1
	_, err = f.svc.UpdateEMI(f.ctx, emi.ID, obligation.EMIPatch{TotalInstallments: &two})
	assert.ErrorIs(t, err, generic.ErrInstallmentCountBelowProgress)

	_, err = f.svc.UpdateEMI(f.ctx, emi.ID, obligation.EMIPatch{TotalInstallments: &zero})
	assert.ErrorIs(t, err, generic.ErrInvalidInstallmentCount)

	_, err = f.svc.UpdateEMI(f.ctx, emi.ID, obligation.EMIPatch{CompletedInstallments: &minus})
	assert.ErrorIs(t, err, generic.ErrInvalidInstallmentCount)

	tooMany := 21
	_, err = f.svc.UpdateEMI(f.ctx, emi.ID, obligation.EMIPatch{CompletedInstallments: &tooMany})
	assert.ErrorIs(t, err, generic.ErrInstallmentCountExceeded)

	// Nothing changed
	assert.Equal(t, 3, f.emi(t, emi.ID).CompletedInstallments)
	assert.Equal(t, 20, f.emi(t, emi.ID).TotalInstallments)
}

func TestUpdateEMI_StatusFollowsProgress(t *testing.T) {
	f := newFixture(t, "2025-03-20")
	emi, err := f.svc.CreateEMI(f.ctx, loanInput("2025-01-10"))
	require.NoError(t, err)

	// WHEN: Total drops to the completed count
	three := 3
	updated, err := f.svc.UpdateEMI(f.ctx, emi.ID, obligation.EMIPatch{TotalInstallments: &three})
	require.NoError(t, err)
	assert.Equal(t, generic.StatusCompleted, updated.Status)
	assert.Equal(t, "2025-03-10", updated.EndDate.String())

	// WHEN: Total grows again
	six := 6
	updated, err = f.svc.UpdateEMI(f.ctx, emi.ID, obligation.EMIPatch{TotalInstallments: &six})
	require.NoError(t, err)
	assert.Equal(t, generic.StatusActive, updated.Status)
}

func TestEMI_EndDateCoversLastInstallment(t *testing.T) {
	// GIVEN: A 20 installment loan whose last installment is 2026-08-10
	f := newFixture(t, "2025-01-01")
	in := loanInput("2025-01-10")
	in.EndDate = date("2026-08-10")
	emi, err := f.svc.CreateEMI(f.ctx, in)
	require.NoError(t, err)
	assert.Equal(t, "2026-08-10", emi.EndDate.String())

	// WHEN: Pulling the end date before the last installment
	early := date("2026-06-30")
	_, err = f.svc.UpdateEMI(f.ctx, emi.ID, obligation.EMIPatch{EndDate: &early})

	// THEN: Rejected, nothing changed
	assert.ErrorIs(t, err, generic.ErrInvalidDateRange)
	assert.Equal(t, "2026-08-10", f.emi(t, emi.ID).EndDate.String())

	// Shrinking the schedule to fit makes the same end date valid
	eighteen := 18
	updated, err := f.svc.UpdateEMI(f.ctx, emi.ID, obligation.EMIPatch{TotalInstallments: &eighteen, EndDate: &early})
	require.NoError(t, err)
	assert.Equal(t, "2026-06-30", updated.EndDate.String())
}

func TestUpdateEMI_DoesNotGenerate(t *testing.T) {
	f := newFixture(t, "2025-01-01")
	emi, err := f.svc.CreateEMI(f.ctx, loanInput("2025-01-10"))
	require.NoError(t, err)

	f.clock.Set("2025-06-01")
	newStart := date("2024-06-10")
	_, err = f.svc.UpdateEMI(f.ctx, emi.ID, obligation.EMIPatch{TermsPatch: obligation.TermsPatch{StartDate: &newStart}})
	require.NoError(t, err)

	assert.Empty(t, f.linked(t, emi.Ref()))
}

func TestUpdate_UnknownObligation(t *testing.T) {
	f := newFixture(t, "2025-01-01")
	name := "x"

	_, err := f.svc.UpdateEMI(f.ctx, "missing", obligation.EMIPatch{})
	assert.ErrorIs(t, err, generic.ErrUnknownObligation)
	_, err = f.svc.UpdateTemplate(f.ctx, "missing", obligation.TemplatePatch{TermsPatch: obligation.TermsPatch{Name: &name}})
	assert.ErrorIs(t, err, generic.ErrUnknownObligation)
}

func TestUpdateTemplate_RejectsBadAmount(t *testing.T) {
	f := newFixture(t, "2025-01-01")
	tpl, err := f.svc.CreateTemplate(f.ctx, rentInput("2025-02-01"))
	require.NoError(t, err)

	bad := dec("-1")
	_, err = f.svc.UpdateTemplate(f.ctx, tpl.ID, obligation.TemplatePatch{TermsPatch: obligation.TermsPatch{Amount: &bad}})
	assert.ErrorIs(t, err, generic.ErrInvalidAmount)
	assert.True(t, f.template(t, tpl.ID).Amount.Equal(dec("1500")))
}

// =============================================================================
// DELETE
// =============================================================================

func TestDelete_GuardedByLinkedTransactions(t *testing.T) {
	// GIVEN: A template with one generated transaction
	f := newFixture(t, "2025-02-05")
	tpl, err := f.svc.CreateTemplate(f.ctx, rentInput("2025-02-01"))
	require.NoError(t, err)
	require.Len(t, f.linked(t, tpl.Ref()), 1)

	// WHEN: Deleting without cascade
	err = f.svc.DeleteTemplate(f.ctx, tpl.ID, obligation.DeleteOptions{})

	// THEN: ObligationInUse lists the blocking transaction
	require.ErrorIs(t, err, generic.ErrObligationInUse)
	var inUse *generic.InUseError
	require.ErrorAs(t, err, &inUse)
	assert.Len(t, inUse.References, 1)
	f.template(t, tpl.ID)
}

func TestDelete_CascadeRemovesTransactionsAndReconciles(t *testing.T) {
	f := newFixture(t, "2025-02-05")
	tpl, err := f.svc.CreateTemplate(f.ctx, rentInput("2025-02-01"))
	require.NoError(t, err)
	txs := f.linked(t, tpl.Ref())
	require.Len(t, txs, 1)

	// Settle the generated rent so it moves the balance
	settled := generic.TxSettled
	err = f.svc.WithLedger(f.ctx, func(l *generic.Ledger) error {
		_, err := l.UpdateTransaction(f.ctx, txs[0].ID, generic.TransactionPatch{Status: &settled})
		return err
	})
	require.NoError(t, err)
	acct, err := f.store.GetAccount(f.ctx, testAccount)
	require.NoError(t, err)
	require.True(t, acct.Balance.Equal(dec("98500")))

	require.NoError(t, f.svc.DeleteTemplate(f.ctx, tpl.ID, obligation.DeleteOptions{Cascade: true}))

	_, err = f.svc.GetTemplate(f.ctx, tpl.ID)
	assert.ErrorIs(t, err, generic.ErrUnknownObligation)
	tx, err := f.store.GetTransaction(f.ctx, txs[0].ID)
	require.NoError(t, err)
	assert.Nil(t, tx)
	acct, err = f.store.GetAccount(f.ctx, testAccount)
	require.NoError(t, err)
	assert.True(t, acct.Balance.Equal(dec("100000")), "balance back to opening, got %s", acct.Balance)
}

func TestDelete_UnknownObligation(t *testing.T) {
	f := newFixture(t, "2025-01-01")
	err := f.svc.DeleteEMI(f.ctx, "missing", obligation.DeleteOptions{})
	assert.ErrorIs(t, err, generic.ErrUnknownObligation)
}

// =============================================================================
// STATUS
// =============================================================================

func TestPauseResume_Transitions(t *testing.T) {
	f := newFixture(t, "2025-01-01")
	emi, err := f.svc.CreateEMI(f.ctx, loanInput("2025-01-10"))
	require.NoError(t, err)

	o, err := f.svc.Pause(f.ctx, emi.Ref())
	require.NoError(t, err)
	assert.Equal(t, generic.StatusPaused, o.ObligationTerms().Status)

	// Pausing again is a no-op
	_, err = f.svc.Pause(f.ctx, emi.Ref())
	require.NoError(t, err)

	o, err = f.svc.Resume(f.ctx, emi.Ref())
	require.NoError(t, err)
	assert.Equal(t, generic.StatusActive, o.ObligationTerms().Status)
}

func TestPauseResume_CompletedEMIRejected(t *testing.T) {
	f := newFixture(t, "2025-03-20")
	in := loanInput("2025-01-10")
	in.TotalInstallments = 2
	emi, err := f.svc.CreateEMI(f.ctx, in)
	require.NoError(t, err)
	require.Equal(t, generic.StatusCompleted, emi.Status)

	_, err = f.svc.Pause(f.ctx, emi.Ref())
	assert.ErrorIs(t, err, generic.ErrInvalidStatus)
	_, err = f.svc.Resume(f.ctx, emi.Ref())
	assert.ErrorIs(t, err, generic.ErrInvalidStatus)
}

// =============================================================================
// READS
// =============================================================================

func TestObligations_FilterByStatus(t *testing.T) {
	f := newFixture(t, "2025-01-01")
	emi, err := f.svc.CreateEMI(f.ctx, loanInput("2025-01-10"))
	require.NoError(t, err)
	tpl, err := f.svc.CreateTemplate(f.ctx, rentInput("2025-02-01"))
	require.NoError(t, err)
	_, err = f.svc.Pause(f.ctx, tpl.Ref())
	require.NoError(t, err)

	all, err := f.svc.Obligations(f.ctx, generic.ObligationFilter{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, emi.Ref(), all[0].Ref())
	assert.Equal(t, tpl.Ref(), all[1].Ref())

	paused, err := f.svc.Obligations(f.ctx, generic.ObligationFilter{Status: generic.StatusPaused})
	require.NoError(t, err)
	require.Len(t, paused, 1)
	assert.Equal(t, tpl.Ref(), paused[0].Ref())
}
