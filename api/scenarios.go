/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the database with realistic
	data for testing and demos. Each scenario creates accounts and
	obligations whose start dates lie in the past, so loading one exercises
	catch-up generation and balance reconciliation.

AVAILABLE SCENARIOS:

	emi-loan:        Car loan EMI three months in, two installments settled
	salary-and-rent: Monthly salary income and rent expense templates, all settled

HOW SCENARIOS WORK:
 1. Reset database (clear all data)
 2. Create accounts via the ledger
 3. Create obligations via the service (past due dates are generated)
 4. Optionally settle generated transactions

Dates are relative to the handler clock: obligations start on the first of
a past month so the number of generated transactions does not depend on
the day of the month.

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "emi-loan"}

ADDING NEW SCENARIOS:
 1. Add to 'scenarios' slice with ID, name, description
 2. Create loader function: loadXxxScenario(ctx)
 3. Add entry to scenarioLoaders

NOTE:

	Scenarios reset the database. Only use in development/demo environments.

SEE ALSO:
  - handlers.go: Handler and helpers
*/
package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/shopspring/decimal"
	"github.com/warp/obligation-engine/generic"
	"github.com/warp/obligation-engine/obligation"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "emi-loan",
		Name:        "Car Loan EMI",
		Description: "24-installment car loan started three months ago; two installments settled",
		Category:    "emi",
	},
	{
		ID:          "salary-and-rent",
		Name:        "Salary and Rent",
		Description: "Monthly salary and rent templates started two months ago; everything settled",
		Category:    "recurring",
	},
}

func (h *Handler) scenarioLoaders() map[string]func(context.Context) error {
	return map[string]func(context.Context) error{
		"emi-loan":        h.loadEMILoanScenario,
		"salary-and-rent": h.loadSalaryAndRentScenario,
	}
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	current := h.currentScenario
	h.mu.Unlock()

	if current == "" {
		writeJSON(w, http.StatusOK, nil)
		return
	}

	for _, s := range scenarios {
		if s.ID == current {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}

	writeJSON(w, http.StatusOK, ScenarioDTO{
		ID:          current,
		Name:        current,
		Description: "Currently loaded scenario",
	})
}

// LoadScenario loads a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if !decodeBody(w, r, &req) {
		return
	}

	load, ok := h.scenarioLoaders()[req.ScenarioID]
	if !ok {
		writeError(w, http.StatusBadRequest, "Unknown scenario", nil)
		return
	}

	ctx := r.Context()

	// Reset first
	if err := h.Store.Reset(ctx); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset database", err)
		return
	}
	h.mu.Lock()
	h.currentScenario = ""
	h.mu.Unlock()

	if err := load(ctx); err != nil {
		writeDomainError(w, r, fmt.Sprintf("Failed to load scenario: %v", err), err)
		return
	}

	h.mu.Lock()
	h.currentScenario = req.ScenarioID
	h.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]string{"status": "loaded", "scenario": req.ScenarioID})
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

// monthsAgo returns the first day of the month n months before today.
func (h *Handler) monthsAgo(n int) generic.Date {
	today := h.today()
	first := generic.NewDate(today.Year(), today.Month(), 1)
	return generic.AddMonths(first, -n)
}

func (h *Handler) loadEMILoanScenario(ctx context.Context) error {
	if err := h.createAccount(ctx, "acct-checking", "Checking", "bank", "50000"); err != nil {
		return err
	}

	// Due on the 1st for the last three months and this month
	emi, err := h.Service.CreateEMI(ctx, obligation.EMIInput{
		Name:              "Car loan",
		AccountID:         "acct-checking",
		Amount:            decimal.RequireFromString("450"),
		Category:          "auto",
		Notes:             "24 monthly installments",
		StartDate:         h.monthsAgo(3),
		TotalInstallments: 24,
	})
	if err != nil {
		return err
	}

	// The first two installments have cleared
	return h.settleLinked(ctx, emi.Ref(), 2)
}

func (h *Handler) loadSalaryAndRentScenario(ctx context.Context) error {
	if err := h.createAccount(ctx, "acct-checking", "Checking", "bank", "2000"); err != nil {
		return err
	}

	salary, err := h.Service.CreateTemplate(ctx, obligation.TemplateInput{
		Name:      "Salary",
		AccountID: "acct-checking",
		Amount:    decimal.RequireFromString("5000"),
		Direction: generic.DirectionIncome,
		Category:  "income",
		StartDate: h.monthsAgo(2),
	})
	if err != nil {
		return err
	}

	rent, err := h.Service.CreateTemplate(ctx, obligation.TemplateInput{
		Name:      "Rent",
		AccountID: "acct-checking",
		Amount:    decimal.RequireFromString("1500"),
		Category:  "housing",
		StartDate: h.monthsAgo(2),
	})
	if err != nil {
		return err
	}

	if err := h.settleLinked(ctx, salary.Ref(), -1); err != nil {
		return err
	}
	return h.settleLinked(ctx, rent.Ref(), -1)
}

func (h *Handler) createAccount(ctx context.Context, id generic.AccountID, name, kind, opening string) error {
	return h.withLedger(ctx, func(l *generic.Ledger) error {
		_, err := l.CreateAccount(ctx, generic.AccountInput{
			ID:             id,
			Name:           name,
			Type:           kind,
			OpeningBalance: decimal.RequireFromString(opening),
		})
		return err
	})
}

// settleLinked settles the first n transactions linked to ref (all when n < 0).
func (h *Handler) settleLinked(ctx context.Context, ref generic.ObligationRef, n int) error {
	settled := generic.TxSettled
	return h.withLedger(ctx, func(l *generic.Ledger) error {
		txs, err := l.ListTransactionsByObligation(ctx, ref)
		if err != nil {
			return err
		}
		for i, tx := range txs {
			if n >= 0 && i >= n {
				break
			}
			if _, err := l.UpdateTransaction(ctx, tx.ID, generic.TransactionPatch{Status: &settled}); err != nil {
				return err
			}
		}
		return nil
	})
}
