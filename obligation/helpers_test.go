package obligation_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"github.com/warp/obligation-engine/generic"
	"github.com/warp/obligation-engine/generic/store"
	"github.com/warp/obligation-engine/obligation"
)

// =============================================================================
// TEST SETUP
// =============================================================================

const testAccount generic.AccountID = "acct-main"

// testClock is a settable clock shared by the service under test.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Set(date string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = generic.MustParseDate(date).Time
}

type fixture struct {
	ctx   context.Context
	store *store.Memory
	svc   *obligation.Service
	clock *testClock
}

// newFixture builds a service over a memory store with one account whose
// opening balance is 100000. Today is the given date.
func newFixture(t *testing.T, today string) *fixture {
	t.Helper()
	f := &fixture{
		ctx:   context.Background(),
		store: store.NewMemory(),
		clock: &testClock{},
	}
	f.clock.Set(today)

	seq := 0
	var mu sync.Mutex
	ids := func() string {
		mu.Lock()
		defer mu.Unlock()
		seq++
		return fmt.Sprintf("id-%03d", seq)
	}
	f.svc = obligation.NewService(f.store,
		obligation.WithClock(f.clock.Now),
		obligation.WithIDGenerator(ids),
	)

	_, err := generic.NewLedger(f.store).CreateAccount(f.ctx, generic.AccountInput{
		ID:             testAccount,
		Name:           "Main",
		Type:           "bank",
		OpeningBalance: dec("100000"),
	})
	require.NoError(t, err)
	return f
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func date(s string) generic.Date { return generic.MustParseDate(s) }

// loanInput is the reference EMI: 10000 monthly, 20 installments.
func loanInput(start string) obligation.EMIInput {
	return obligation.EMIInput{
		Name:              "Car loan",
		AccountID:         testAccount,
		Amount:            dec("10000"),
		Frequency:         generic.FrequencyMonthly,
		StartDate:         date(start),
		TotalInstallments: 20,
	}
}

func rentInput(start string) obligation.TemplateInput {
	return obligation.TemplateInput{
		Name:      "Rent",
		AccountID: testAccount,
		Amount:    dec("1500"),
		Frequency: generic.FrequencyMonthly,
		Category:  "housing",
		StartDate: date(start),
	}
}

func (f *fixture) linked(t *testing.T, ref generic.ObligationRef) []generic.Transaction {
	t.Helper()
	txs, err := f.store.ListTransactionsByObligation(f.ctx, ref)
	require.NoError(t, err)
	return txs
}

func (f *fixture) emi(t *testing.T, id generic.ObligationID) *generic.EMI {
	t.Helper()
	e, err := f.svc.GetEMI(f.ctx, id)
	require.NoError(t, err)
	return e
}

func (f *fixture) template(t *testing.T, id generic.ObligationID) *generic.RecurringTemplate {
	t.Helper()
	r, err := f.svc.GetTemplate(f.ctx, id)
	require.NoError(t, err)
	return r
}

func dates(txs []generic.Transaction) []string {
	out := make([]string, len(txs))
	for i, tx := range txs {
		out[i] = tx.Date.String()
	}
	return out
}

func ids(txs []generic.Transaction) []generic.TransactionID {
	out := make([]generic.TransactionID, len(txs))
	for i, tx := range txs {
		out[i] = tx.ID
	}
	return out
}
