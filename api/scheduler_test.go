package api

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/obligation-engine/generic"
)

func TestGenerationScheduler_RunsOnStart(t *testing.T) {
	// GIVEN: An EMI created before its first due date
	// WHEN: The scheduler starts after the clock moved past two due dates
	// THEN: The immediate scan generates both, and Stop waits for it

	s := newTestServer(t, "2025-01-01")
	s.mustCreateAccount("1000")
	emi := s.mustCreateEMI("2025-01-10", 12)
	require.Equal(t, 0, emi.CompletedInstallments)

	gs := NewGenerationScheduler(s.handler.Service, zerolog.Nop())
	gs.Now = func() time.Time { return generic.MustParseDate("2025-02-10").Time }
	assert.Nil(t, gs.LastReport())

	gs.Start()
	gs.Stop()

	report := gs.LastReport()
	require.NotNil(t, report)
	assert.Equal(t, "2025-02-10", report.Today.String())
	assert.Len(t, report.Generated, 2)

	got := decodeJSON[EMIDTO](t, s.do(http.MethodGet, "/api/emis/"+emi.ID, nil))
	assert.Equal(t, 2, got.CompletedInstallments)
}

func TestGenerationScheduler_Disabled(t *testing.T) {
	s := newTestServer(t, "2025-01-01")

	gs := NewGenerationScheduler(s.handler.Service, zerolog.Nop())
	gs.Enabled = false
	gs.Start()
	gs.Stop()

	assert.Nil(t, gs.LastReport())
}

func TestGenerationScheduler_RunNowIsIdempotent(t *testing.T) {
	s := newTestServer(t, "2025-01-01")
	s.mustCreateAccount("1000")
	s.mustCreateEMI("2025-01-10", 3)

	gs := NewGenerationScheduler(s.handler.Service, zerolog.Nop())
	gs.Now = func() time.Time { return generic.MustParseDate("2025-06-01").Time }

	first := gs.RunNow()
	require.NotNil(t, first)
	assert.Len(t, first.Generated, 3, "stops at the installment count")

	second := gs.RunNow()
	require.NotNil(t, second)
	assert.Empty(t, second.Generated)

	txs, err := s.store.ListTransactionsByAccount(context.Background(), "acct-1")
	require.NoError(t, err)
	assert.Len(t, txs, 3)
}
