package obligation_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/obligation-engine/generic"
)

func TestProject_MergesPendingAndUpcoming(t *testing.T) {
	// GIVEN: A loan with its January installment generated (pending) and a
	// rent template starting in February
	f := newFixture(t, "2025-01-15")
	_, err := f.svc.CreateEMI(f.ctx, loanInput("2025-01-10"))
	require.NoError(t, err)
	_, err = f.svc.CreateTemplate(f.ctx, rentInput("2025-02-01"))
	require.NoError(t, err)

	// WHEN: Projecting through March
	p, err := f.svc.Project(f.ctx, testAccount, date("2025-03-31"))
	require.NoError(t, err)

	// THEN: Pending January, then rent and loan dues in date order
	var got []string
	for _, e := range p.Entries {
		got = append(got, e.Date.String()+" "+e.Balance.String())
	}
	assert.Equal(t, []string{
		"2025-01-10 90000",
		"2025-02-01 88500",
		"2025-02-10 78500",
		"2025-03-01 77000",
		"2025-03-10 67000",
	}, got)
	assert.True(t, p.StartBalance.Equal(dec("100000")))
	assert.True(t, p.ClosingBalance.Equal(dec("67000")))
	require.NotNil(t, p.Entries[0].Transaction)
	require.NotNil(t, p.Entries[1].Due)
	assert.Equal(t, "Rent", p.Entries[1].Due.Name)
}

func TestProject_WritesNothingAndSkipsPaused(t *testing.T) {
	f := newFixture(t, "2025-01-01")
	emi, err := f.svc.CreateEMI(f.ctx, loanInput("2025-01-10"))
	require.NoError(t, err)
	_, err = f.svc.Pause(f.ctx, emi.Ref())
	require.NoError(t, err)

	p, err := f.svc.Project(f.ctx, testAccount, date("2025-12-31"))
	require.NoError(t, err)
	assert.Empty(t, p.Entries)
	assert.Empty(t, f.linked(t, emi.Ref()))
	assert.Equal(t, 0, f.emi(t, emi.ID).CompletedInstallments)
}

func TestProject_Validation(t *testing.T) {
	f := newFixture(t, "2025-01-01")

	_, err := f.svc.Project(f.ctx, "ghost", date("2025-12-31"))
	assert.ErrorIs(t, err, generic.ErrUnknownAccount)

	_, err = f.svc.Project(f.ctx, testAccount, generic.Date{})
	assert.ErrorIs(t, err, generic.ErrInvalidDate)
}
