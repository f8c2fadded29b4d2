/*
handlers.go - HTTP API handlers for the obligation engine

PURPOSE:
  Exposes accounts, the transaction ledger, EMIs and recurring templates via
  REST API. Handles HTTP request/response, JSON serialization, and delegates
  to the obligation service.

ENDPOINTS:
  Accounts:
    GET    /api/accounts                    List accounts with balances
    POST   /api/accounts                    Create account
    GET    /api/accounts/{id}               Get account
    DELETE /api/accounts/{id}               Delete unreferenced account
    GET    /api/accounts/{id}/transactions  Account ledger
    GET    /api/accounts/{id}/projection    Expected balance path (?until=)

  Transactions:
    POST   /api/transactions                Record manual transaction
    GET    /api/transactions/{id}           Get transaction
    PATCH  /api/transactions/{id}           Update (reconciles balances)
    DELETE /api/transactions/{id}           Delete (reconciles balances)

  EMIs (templates mirror these under /api/templates):
    GET    /api/emis                        List (?account_id=&status=)
    POST   /api/emis                        Create (catches up past due dates)
    GET    /api/emis/{id}                   Get
    PATCH  /api/emis/{id}                   Update terms
    DELETE /api/emis/{id}                   Delete (?cascade=true)
    POST   /api/emis/{id}/pause             Pause generation
    POST   /api/emis/{id}/resume            Resume generation
    POST   /api/emis/{id}/convert           Convert to the other kind
    POST   /api/emis/{id}/deduction-date    Retarget the next deduction
    GET    /api/emis/{id}/transactions      Linked transactions

  Generation:
    POST   /api/generate                    Run a generation scan now

REQUEST FLOW:
  1. Parse HTTP request
  2. Call the obligation service (validation lives there)
  3. Serialize response
  4. Map errors to status codes

ERROR HANDLING:
  Errors are returned as JSON {error, code, details}:
  - 400: Validation errors, invalid input
  - 404: Unknown account, obligation or transaction
  - 409: Conflict (in use, duplicate idempotency key)
  - 500: Internal errors

SECURITY NOTE:
  Currently NO authentication or authorization. All endpoints are public.

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/warp/obligation-engine/generic"
	"github.com/warp/obligation-engine/logging"
	"github.com/warp/obligation-engine/obligation"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Store is the persistence the API needs: the engine store plus a reset
// for demo scenarios.
type Store interface {
	generic.TxStore
	Reset(ctx context.Context) error
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store   Store
	Service *obligation.Service

	// Now is the server clock. Generation without an explicit date uses it.
	Now func() time.Time

	mu sync.Mutex
	// Track currently loaded scenario
	currentScenario string
}

// NewHandler creates a new handler over the given store and service.
func NewHandler(store Store, svc *obligation.Service) *Handler {
	return &Handler{
		Store:   store,
		Service: svc,
		Now:     func() time.Time { return time.Now().UTC() },
	}
}

func (h *Handler) today() generic.Date { return generic.DateOf(h.Now()) }

// withLedger runs fn against the ledger inside a store transaction.
func (h *Handler) withLedger(ctx context.Context, fn func(*generic.Ledger) error) error {
	return h.Service.WithLedger(ctx, fn)
}

// =============================================================================
// ACCOUNT HANDLERS
// =============================================================================

// ListAccounts returns all accounts with their reconciled balances.
func (h *Handler) ListAccounts(w http.ResponseWriter, r *http.Request) {
	accounts, err := h.Store.ListAccounts(r.Context())
	if err != nil {
		writeDomainError(w, r, "Failed to list accounts", err)
		return
	}

	dtos := make([]AccountDTO, len(accounts))
	for i := range accounts {
		dtos[i] = toAccountDTO(&accounts[i])
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateAccount creates a new account.
func (h *Handler) CreateAccount(w http.ResponseWriter, r *http.Request) {
	var req CreateAccountRequest
	if !decodeBody(w, r, &req) {
		return
	}

	var acct *generic.Account
	err := h.withLedger(r.Context(), func(l *generic.Ledger) error {
		var err error
		acct, err = l.CreateAccount(r.Context(), generic.AccountInput{
			ID:             generic.AccountID(req.ID),
			Name:           req.Name,
			Type:           req.Type,
			OpeningBalance: req.OpeningBalance,
		})
		return err
	})
	if err != nil {
		writeDomainError(w, r, "Failed to create account", err)
		return
	}

	writeJSON(w, http.StatusCreated, toAccountDTO(acct))
}

// GetAccount returns a single account.
func (h *Handler) GetAccount(w http.ResponseWriter, r *http.Request) {
	id := generic.AccountID(chi.URLParam(r, "id"))

	acct, err := h.Store.GetAccount(r.Context(), id)
	if err != nil {
		writeDomainError(w, r, "Failed to get account", err)
		return
	}
	if acct == nil {
		writeDomainError(w, r, "Account not found", &generic.FieldError{Field: string(id), Err: generic.ErrUnknownAccount})
		return
	}

	writeJSON(w, http.StatusOK, toAccountDTO(acct))
}

// DeleteAccount removes an account no transaction or obligation references.
func (h *Handler) DeleteAccount(w http.ResponseWriter, r *http.Request) {
	id := generic.AccountID(chi.URLParam(r, "id"))

	err := h.withLedger(r.Context(), func(l *generic.Ledger) error {
		return l.DeleteAccount(r.Context(), id)
	})
	if err != nil {
		writeDomainError(w, r, "Failed to delete account", err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// GetAccountTransactions returns the account's ledger in date order.
func (h *Handler) GetAccountTransactions(w http.ResponseWriter, r *http.Request) {
	id := generic.AccountID(chi.URLParam(r, "id"))

	var txs []generic.Transaction
	err := h.withLedger(r.Context(), func(l *generic.Ledger) error {
		var err error
		txs, err = l.ListTransactionsByAccount(r.Context(), id)
		return err
	})
	if err != nil {
		writeDomainError(w, r, "Failed to get transactions", err)
		return
	}

	writeJSON(w, http.StatusOK, toTransactionDTOs(txs))
}

// GetAccountProjection returns the expected balance path through ?until=
// (default: three months from today). Nothing is generated.
func (h *Handler) GetAccountProjection(w http.ResponseWriter, r *http.Request) {
	id := generic.AccountID(chi.URLParam(r, "id"))

	until := generic.AddMonths(h.today(), 3)
	if raw := r.URL.Query().Get("until"); raw != "" {
		d, err := generic.ParseDate(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid until date", err)
			return
		}
		until = d
	}

	p, err := h.Service.Project(r.Context(), id, until)
	if err != nil {
		writeDomainError(w, r, "Failed to project balance", err)
		return
	}

	writeJSON(w, http.StatusOK, toProjectionDTO(p))
}

// =============================================================================
// TRANSACTION HANDLERS
// =============================================================================

// CreateTransaction records a manual transaction.
func (h *Handler) CreateTransaction(w http.ResponseWriter, r *http.Request) {
	var req CreateTransactionRequest
	if !decodeBody(w, r, &req) {
		return
	}

	in, err := req.input()
	if err != nil {
		writeDomainError(w, r, "Invalid transaction", err)
		return
	}

	var tx *generic.Transaction
	err = h.withLedger(r.Context(), func(l *generic.Ledger) error {
		var err error
		tx, err = l.CreateTransaction(r.Context(), in)
		return err
	})
	if err != nil {
		writeDomainError(w, r, "Failed to create transaction", err)
		return
	}

	writeJSON(w, http.StatusCreated, toTransactionDTO(*tx))
}

// GetTransaction returns a single transaction.
func (h *Handler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	id := generic.TransactionID(chi.URLParam(r, "id"))

	var tx *generic.Transaction
	err := h.withLedger(r.Context(), func(l *generic.Ledger) error {
		var err error
		tx, err = l.GetTransaction(r.Context(), id)
		return err
	})
	if err != nil {
		writeDomainError(w, r, "Failed to get transaction", err)
		return
	}

	writeJSON(w, http.StatusOK, toTransactionDTO(*tx))
}

// UpdateTransaction patches a transaction and reconciles affected balances.
func (h *Handler) UpdateTransaction(w http.ResponseWriter, r *http.Request) {
	id := generic.TransactionID(chi.URLParam(r, "id"))

	var req UpdateTransactionRequest
	if !decodeBody(w, r, &req) {
		return
	}
	patch, err := req.patch()
	if err != nil {
		writeDomainError(w, r, "Invalid transaction", err)
		return
	}

	var tx *generic.Transaction
	err = h.withLedger(r.Context(), func(l *generic.Ledger) error {
		var err error
		tx, err = l.UpdateTransaction(r.Context(), id, patch)
		return err
	})
	if err != nil {
		writeDomainError(w, r, "Failed to update transaction", err)
		return
	}

	writeJSON(w, http.StatusOK, toTransactionDTO(*tx))
}

// DeleteTransaction removes a transaction and reconciles its account.
func (h *Handler) DeleteTransaction(w http.ResponseWriter, r *http.Request) {
	id := generic.TransactionID(chi.URLParam(r, "id"))

	err := h.withLedger(r.Context(), func(l *generic.Ledger) error {
		return l.DeleteTransaction(r.Context(), id)
	})
	if err != nil {
		writeDomainError(w, r, "Failed to delete transaction", err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// EMI HANDLERS
// =============================================================================

// ListEMIs returns EMIs filtered by account_id and status.
func (h *Handler) ListEMIs(w http.ResponseWriter, r *http.Request) {
	emis, err := h.Service.ListEMIs(r.Context(), filterFromQuery(r))
	if err != nil {
		writeDomainError(w, r, "Failed to list EMIs", err)
		return
	}

	dtos := make([]EMIDTO, len(emis))
	for i := range emis {
		dtos[i] = toEMIDTO(&emis[i])
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateEMI creates an EMI and generates any due dates already in the past.
func (h *Handler) CreateEMI(w http.ResponseWriter, r *http.Request) {
	var req CreateEMIRequest
	if !decodeBody(w, r, &req) {
		return
	}

	emi, err := h.Service.CreateEMI(r.Context(), req.input())
	if err != nil {
		writeDomainError(w, r, "Failed to create EMI", err)
		return
	}

	writeJSON(w, http.StatusCreated, toEMIDTO(emi))
}

// GetEMI returns a single EMI.
func (h *Handler) GetEMI(w http.ResponseWriter, r *http.Request) {
	emi, err := h.Service.GetEMI(r.Context(), obligationID(r))
	if err != nil {
		writeDomainError(w, r, "Failed to get EMI", err)
		return
	}

	writeJSON(w, http.StatusOK, toEMIDTO(emi))
}

// UpdateEMI patches an EMI. It never generates transactions.
func (h *Handler) UpdateEMI(w http.ResponseWriter, r *http.Request) {
	var req UpdateEMIRequest
	if !decodeBody(w, r, &req) {
		return
	}

	emi, err := h.Service.UpdateEMI(r.Context(), obligationID(r), req.patch())
	if err != nil {
		writeDomainError(w, r, "Failed to update EMI", err)
		return
	}

	writeJSON(w, http.StatusOK, toEMIDTO(emi))
}

// DeleteEMI removes an EMI; ?cascade=true also deletes its transactions.
func (h *Handler) DeleteEMI(w http.ResponseWriter, r *http.Request) {
	if err := h.Service.DeleteEMI(r.Context(), obligationID(r), deleteOptions(r)); err != nil {
		writeDomainError(w, r, "Failed to delete EMI", err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// ConvertEMI turns an EMI into a recurring template, keeping its history.
func (h *Handler) ConvertEMI(w http.ResponseWriter, r *http.Request) {
	id, err := h.Service.Converter().ConvertEMIToRecurring(r.Context(), obligationID(r))
	if err != nil {
		writeDomainError(w, r, "Failed to convert EMI", err)
		return
	}

	tpl, err := h.Service.GetTemplate(r.Context(), id)
	if err != nil {
		writeDomainError(w, r, "Failed to load converted template", err)
		return
	}

	writeJSON(w, http.StatusOK, toTemplateDTO(tpl))
}

// =============================================================================
// RECURRING TEMPLATE HANDLERS
// =============================================================================

// ListTemplates returns recurring templates filtered by account_id and status.
func (h *Handler) ListTemplates(w http.ResponseWriter, r *http.Request) {
	templates, err := h.Service.ListTemplates(r.Context(), filterFromQuery(r))
	if err != nil {
		writeDomainError(w, r, "Failed to list templates", err)
		return
	}

	dtos := make([]TemplateDTO, len(templates))
	for i := range templates {
		dtos[i] = toTemplateDTO(&templates[i])
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateTemplate creates a recurring template and catches up past due dates.
func (h *Handler) CreateTemplate(w http.ResponseWriter, r *http.Request) {
	var req CreateTemplateRequest
	if !decodeBody(w, r, &req) {
		return
	}

	tpl, err := h.Service.CreateTemplate(r.Context(), req.input())
	if err != nil {
		writeDomainError(w, r, "Failed to create template", err)
		return
	}

	writeJSON(w, http.StatusCreated, toTemplateDTO(tpl))
}

func (h *Handler) GetTemplate(w http.ResponseWriter, r *http.Request) {
	tpl, err := h.Service.GetTemplate(r.Context(), obligationID(r))
	if err != nil {
		writeDomainError(w, r, "Failed to get template", err)
		return
	}

	writeJSON(w, http.StatusOK, toTemplateDTO(tpl))
}

func (h *Handler) UpdateTemplate(w http.ResponseWriter, r *http.Request) {
	var req UpdateTemplateRequest
	if !decodeBody(w, r, &req) {
		return
	}

	tpl, err := h.Service.UpdateTemplate(r.Context(), obligationID(r), obligation.TemplatePatch{
		TermsPatch: req.UpdateTermsRequest.patch(),
	})
	if err != nil {
		writeDomainError(w, r, "Failed to update template", err)
		return
	}

	writeJSON(w, http.StatusOK, toTemplateDTO(tpl))
}

func (h *Handler) DeleteTemplate(w http.ResponseWriter, r *http.Request) {
	if err := h.Service.DeleteTemplate(r.Context(), obligationID(r), deleteOptions(r)); err != nil {
		writeDomainError(w, r, "Failed to delete template", err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// ConvertTemplate turns a recurring template into an EMI with
// total_installments installments, counting linked transactions as paid.
func (h *Handler) ConvertTemplate(w http.ResponseWriter, r *http.Request) {
	var req ConvertRequest
	if !decodeBody(w, r, &req) {
		return
	}

	id, err := h.Service.Converter().ConvertRecurringToEMI(r.Context(), obligationID(r), req.TotalInstallments)
	if err != nil {
		writeDomainError(w, r, "Failed to convert template", err)
		return
	}

	emi, err := h.Service.GetEMI(r.Context(), id)
	if err != nil {
		writeDomainError(w, r, "Failed to load converted EMI", err)
		return
	}

	writeJSON(w, http.StatusOK, toEMIDTO(emi))
}

// =============================================================================
// SHARED OBLIGATION HANDLERS - bound to a kind by the router
// =============================================================================

// Pause stops generation for the obligation.
func (h *Handler) Pause(kind generic.ObligationKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		o, err := h.Service.Pause(r.Context(), obligationRef(r, kind))
		if err != nil {
			writeDomainError(w, r, "Failed to pause obligation", err)
			return
		}
		writeJSON(w, http.StatusOK, toObligationDTO(o))
	}
}

// Resume restarts generation. Due dates missed while paused are generated
// by the next scan.
func (h *Handler) Resume(kind generic.ObligationKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		o, err := h.Service.Resume(r.Context(), obligationRef(r, kind))
		if err != nil {
			writeDomainError(w, r, "Failed to resume obligation", err)
			return
		}
		writeJSON(w, http.StatusOK, toObligationDTO(o))
	}
}

// UpdateDeductionDate retargets the next deduction.
func (h *Handler) UpdateDeductionDate(kind generic.ObligationKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req DeductionDateRequest
		if !decodeBody(w, r, &req) {
			return
		}

		mode := obligation.RetargetMode(req.Mode)
		if mode == "" {
			mode = obligation.RetargetThisDateOnly
		}

		o, err := h.Service.UpdateDeductionDate(r.Context(), obligationRef(r, kind), req.Date, mode)
		if err != nil {
			writeDomainError(w, r, "Failed to update deduction date", err)
			return
		}
		writeJSON(w, http.StatusOK, toObligationDTO(o))
	}
}

// ObligationTransactions lists the transactions linked to the obligation.
func (h *Handler) ObligationTransactions(kind generic.ObligationKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ref := obligationRef(r, kind)
		if _, err := generic.LoadObligation(r.Context(), h.Store, ref); err != nil {
			writeDomainError(w, r, "Failed to get obligation", err)
			return
		}

		txs, err := h.Service.Transactions(r.Context(), ref)
		if err != nil {
			writeDomainError(w, r, "Failed to get transactions", err)
			return
		}
		writeJSON(w, http.StatusOK, toTransactionDTOs(txs))
	}
}

// =============================================================================
// GENERATION
// =============================================================================

// Generate runs a generation scan for the given day (default: today).
func (h *Handler) Generate(w http.ResponseWriter, r *http.Request) {
	var req GenerateRequest
	if !decodeOptionalBody(w, r, &req) {
		return
	}

	today := req.Today
	if today.IsZero() {
		today = h.today()
	}

	report, err := h.Service.CheckAndGenerate(r.Context(), today)
	if err != nil {
		writeDomainError(w, r, "Failed to generate transactions", err)
		return
	}

	writeJSON(w, http.StatusOK, toGenerationReportDTO(report))
}

// ResetDatabase clears all data.
func (h *Handler) ResetDatabase(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.Reset(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset database", err)
		return
	}

	h.mu.Lock()
	h.currentScenario = ""
	h.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Code = generic.Code(err)
		if resp.Code == "internal" && status < http.StatusInternalServerError {
			resp.Code = "invalid_request"
		}
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeDomainError picks the status from the error taxonomy.
func writeDomainError(w http.ResponseWriter, r *http.Request, message string, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		log := logging.FromContext(r.Context())
		log.Error().Err(err).Str("path", r.URL.Path).Msg(message)
	}
	writeError(w, status, message, err)
}

func statusFor(err error) int {
	switch {
	case generic.IsNotFound(err):
		return http.StatusNotFound
	case generic.IsConflict(err):
		return http.StatusConflict
	case generic.IsClientError(err):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// decodeBody reads a JSON body into v, writing a 400 on failure.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		if errors.Is(err, generic.ErrInvalidDate) {
			writeError(w, http.StatusBadRequest, "Invalid date (use YYYY-MM-DD)", err)
			return false
		}
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	return true
}

// decodeOptionalBody is decodeBody for endpoints whose body may be absent.
// An empty body, chunked or not, leaves v untouched.
func decodeOptionalBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if r.Body == nil || r.Body == http.NoBody {
		return true
	}
	err := json.NewDecoder(r.Body).Decode(v)
	switch {
	case err == nil || errors.Is(err, io.EOF):
		return true
	case errors.Is(err, generic.ErrInvalidDate):
		writeError(w, http.StatusBadRequest, "Invalid date (use YYYY-MM-DD)", err)
	default:
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
	}
	return false
}

func obligationID(r *http.Request) generic.ObligationID {
	return generic.ObligationID(chi.URLParam(r, "id"))
}

func obligationRef(r *http.Request, kind generic.ObligationKind) generic.ObligationRef {
	return generic.ObligationRef{Kind: kind, ID: obligationID(r)}
}

func filterFromQuery(r *http.Request) generic.ObligationFilter {
	q := r.URL.Query()
	return generic.ObligationFilter{
		AccountID: generic.AccountID(q.Get("account_id")),
		Status:    generic.Status(q.Get("status")),
	}
}

func deleteOptions(r *http.Request) obligation.DeleteOptions {
	cascade, _ := strconv.ParseBool(r.URL.Query().Get("cascade"))
	return obligation.DeleteOptions{Cascade: cascade}
}
