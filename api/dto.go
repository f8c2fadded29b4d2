/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract, allowing:
  - Field renaming without breaking clients
  - API-specific validation
  - Version evolution

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

TYPES:
  Accounts:
    AccountDTO, CreateAccountRequest

  Transactions:
    TransactionDTO, CreateTransactionRequest, UpdateTransactionRequest

  Obligations:
    EMIDTO, CreateEMIRequest, UpdateEMIRequest
    TemplateDTO, CreateTemplateRequest, UpdateTemplateRequest
    ConvertRequest, DeductionDateRequest

  Generation:
    GenerateRequest, GenerationReportDTO

  Scenarios:
    ScenarioDTO, LoadScenarioRequest

MONEY AND DATES:
  Amounts are decimal.Decimal and travel as JSON strings ("1500.00").
  Requests accept either strings or numbers. Dates are "YYYY-MM-DD".

VALIDATION:
  Validation is done by the service, not in DTOs. DTOs are pure data carriers.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/obligation-engine/generic"
	"github.com/warp/obligation-engine/obligation"
)

// =============================================================================
// ACCOUNTS
// =============================================================================

// AccountDTO represents an account in API responses.
type AccountDTO struct {
	ID             string          `json:"id"`
	Name           string          `json:"name"`
	Type           string          `json:"type,omitempty"`
	OpeningBalance decimal.Decimal `json:"opening_balance"`
	Balance        decimal.Decimal `json:"balance"`
	CreatedAt      string          `json:"created_at,omitempty"`
}

// CreateAccountRequest is the request to create an account.
type CreateAccountRequest struct {
	ID             string          `json:"id"`
	Name           string          `json:"name"`
	Type           string          `json:"type"`
	OpeningBalance decimal.Decimal `json:"opening_balance"`
}

func toAccountDTO(a *generic.Account) AccountDTO {
	return AccountDTO{
		ID:             string(a.ID),
		Name:           a.Name,
		Type:           a.Type,
		OpeningBalance: a.OpeningBalance,
		Balance:        a.Balance,
		CreatedAt:      formatTimestamp(a.CreatedAt),
	}
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// TransactionDTO represents a ledger transaction in API responses.
type TransactionDTO struct {
	ID                  string          `json:"id"`
	AccountID           string          `json:"account_id"`
	Date                generic.Date    `json:"date"`
	Amount              decimal.Decimal `json:"amount"`
	Direction           string          `json:"direction"`
	Status              string          `json:"status"`
	Description         string          `json:"description,omitempty"`
	Category            string          `json:"category,omitempty"`
	EMIID               string          `json:"emi_id,omitempty"`
	RecurringTemplateID string          `json:"recurring_template_id,omitempty"`
	Generated           bool            `json:"generated"`
	IdempotencyKey      string          `json:"idempotency_key,omitempty"`
	CreatedAt           string          `json:"created_at,omitempty"`
}

// CreateTransactionRequest records a manual transaction.
// At most one of emi_id and recurring_template_id may be set.
type CreateTransactionRequest struct {
	AccountID           string          `json:"account_id"`
	Date                generic.Date    `json:"date"`
	Amount              decimal.Decimal `json:"amount"`
	Direction           string          `json:"direction"`
	Status              string          `json:"status"`
	Description         string          `json:"description"`
	Category            string          `json:"category"`
	EMIID               string          `json:"emi_id"`
	RecurringTemplateID string          `json:"recurring_template_id"`
}

// UpdateTransactionRequest changes a transaction. Omitted fields are kept.
// An empty emi_id or recurring_template_id detaches the transaction.
type UpdateTransactionRequest struct {
	AccountID           *string          `json:"account_id"`
	Date                *generic.Date    `json:"date"`
	Amount              *decimal.Decimal `json:"amount"`
	Direction           *string          `json:"direction"`
	Status              *string          `json:"status"`
	Description         *string          `json:"description"`
	Category            *string          `json:"category"`
	EMIID               *string          `json:"emi_id"`
	RecurringTemplateID *string          `json:"recurring_template_id"`
}

func toTransactionDTO(tx generic.Transaction) TransactionDTO {
	return TransactionDTO{
		ID:                  string(tx.ID),
		AccountID:           string(tx.AccountID),
		Date:                tx.Date,
		Amount:              tx.Amount,
		Direction:           string(tx.Direction),
		Status:              string(tx.Status),
		Description:         tx.Description,
		Category:            tx.Category,
		EMIID:               string(tx.EMIID),
		RecurringTemplateID: string(tx.RecurringTemplateID),
		Generated:           tx.Generated,
		IdempotencyKey:      tx.IdempotencyKey,
		CreatedAt:           formatTimestamp(tx.CreatedAt),
	}
}

func toTransactionDTOs(txs []generic.Transaction) []TransactionDTO {
	dtos := make([]TransactionDTO, len(txs))
	for i, tx := range txs {
		dtos[i] = toTransactionDTO(tx)
	}
	return dtos
}

func (req CreateTransactionRequest) input() (generic.TransactionInput, error) {
	in := generic.TransactionInput{
		AccountID:   generic.AccountID(req.AccountID),
		Date:        req.Date,
		Amount:      req.Amount,
		Direction:   generic.Direction(req.Direction),
		Status:      generic.TxStatus(req.Status),
		Description: req.Description,
		Category:    req.Category,
	}
	switch {
	case req.EMIID != "" && req.RecurringTemplateID != "":
		return in, generic.ErrConflictingLinks
	case req.EMIID != "":
		ref := generic.EMIRef(generic.ObligationID(req.EMIID))
		in.Link = &ref
	case req.RecurringTemplateID != "":
		ref := generic.TemplateRef(generic.ObligationID(req.RecurringTemplateID))
		in.Link = &ref
	}
	return in, nil
}

func (req UpdateTransactionRequest) patch() (generic.TransactionPatch, error) {
	p := generic.TransactionPatch{
		Date:        req.Date,
		Amount:      req.Amount,
		Description: req.Description,
		Category:    req.Category,
	}
	if req.AccountID != nil {
		id := generic.AccountID(*req.AccountID)
		p.AccountID = &id
	}
	if req.Direction != nil {
		d := generic.Direction(*req.Direction)
		p.Direction = &d
	}
	if req.Status != nil {
		s := generic.TxStatus(*req.Status)
		p.Status = &s
	}

	switch {
	case req.EMIID != nil && req.RecurringTemplateID != nil && *req.EMIID != "" && *req.RecurringTemplateID != "":
		return p, generic.ErrConflictingLinks
	case req.EMIID != nil && *req.EMIID != "":
		ref := generic.EMIRef(generic.ObligationID(*req.EMIID))
		p.Link = &ref
	case req.RecurringTemplateID != nil && *req.RecurringTemplateID != "":
		ref := generic.TemplateRef(generic.ObligationID(*req.RecurringTemplateID))
		p.Link = &ref
	case req.EMIID != nil || req.RecurringTemplateID != nil:
		p.Link = &generic.ObligationRef{}
	}
	return p, nil
}

// =============================================================================
// OBLIGATIONS
// =============================================================================

// TermsDTO holds the fields both obligation kinds share.
type TermsDTO struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	AccountID string          `json:"account_id"`
	Amount    decimal.Decimal `json:"amount"`
	Frequency string          `json:"frequency"`
	Direction string          `json:"direction"`
	Category  string          `json:"category,omitempty"`
	Notes     string          `json:"notes,omitempty"`
	StartDate generic.Date    `json:"start_date"`
	Status    string          `json:"status"`

	// NextDueDate is the date the next transaction will be generated for.
	NextDueDate generic.Date `json:"next_due_date"`

	// DeductionOverride is set while a retargeted date is in effect.
	DeductionOverride *OverrideDTO `json:"deduction_override,omitempty"`

	CreatedAt string `json:"created_at,omitempty"`
	UpdatedAt string `json:"updated_at,omitempty"`
}

// OverrideDTO describes a retargeted deduction date.
type OverrideDTO struct {
	Date    generic.Date `json:"date"`
	OneShot bool         `json:"one_shot"`
}

// EMIDTO represents an EMI in API responses.
type EMIDTO struct {
	TermsDTO
	Kind                  string       `json:"kind"`
	EndDate               generic.Date `json:"end_date"`
	TotalInstallments     int          `json:"total_installments"`
	CompletedInstallments int          `json:"completed_installments"`
	RemainingInstallments int          `json:"remaining_installments"`
}

// TemplateDTO represents a recurring template in API responses.
type TemplateDTO struct {
	TermsDTO
	Occurrences int `json:"occurrences"`
}

func toTermsDTO(o generic.Obligation) TermsDTO {
	t := o.ObligationTerms()
	dto := TermsDTO{
		ID:        string(t.ID),
		Name:      t.Name,
		AccountID: string(t.AccountID),
		Amount:    t.Amount,
		Frequency: string(t.Frequency),
		Direction: string(t.Direction),
		Category:  t.Category,
		Notes:     t.Notes,
		StartDate: t.StartDate,
		Status:    string(t.Status),
		CreatedAt: formatTimestamp(t.CreatedAt),
		UpdatedAt: formatTimestamp(t.UpdatedAt),
	}
	if t.Status != generic.StatusCompleted {
		if next, err := generic.EffectiveDueDate(o); err == nil {
			dto.NextDueDate = next
		}
	}
	if t.Override != nil {
		if d, err := t.Override.Date(t.Frequency); err == nil {
			dto.DeductionOverride = &OverrideDTO{Date: d, OneShot: t.Override.OneShot()}
		}
	}
	return dto
}

func toEMIDTO(e *generic.EMI) EMIDTO {
	return EMIDTO{
		TermsDTO:              toTermsDTO(e),
		Kind:                  string(e.Kind),
		EndDate:               e.EndDate,
		TotalInstallments:     e.TotalInstallments,
		CompletedInstallments: e.CompletedInstallments,
		RemainingInstallments: e.Remaining(),
	}
}

func toTemplateDTO(r *generic.RecurringTemplate) TemplateDTO {
	return TemplateDTO{
		TermsDTO:    toTermsDTO(r),
		Occurrences: r.Occurrences,
	}
}

// toObligationDTO renders either kind.
func toObligationDTO(o generic.Obligation) any {
	switch v := o.(type) {
	case *generic.EMI:
		return toEMIDTO(v)
	case *generic.RecurringTemplate:
		return toTemplateDTO(v)
	}
	return toTermsDTO(o)
}

// CreateEMIRequest is the request to create an EMI.
type CreateEMIRequest struct {
	Name              string          `json:"name"`
	AccountID         string          `json:"account_id"`
	Amount            decimal.Decimal `json:"amount"`
	Frequency         string          `json:"frequency"`
	Direction         string          `json:"direction"`
	Category          string          `json:"category"`
	Notes             string          `json:"notes"`
	Kind              string          `json:"kind"`
	StartDate         generic.Date    `json:"start_date"`
	EndDate           generic.Date    `json:"end_date"`
	TotalInstallments int             `json:"total_installments"`
}

func (req CreateEMIRequest) input() obligation.EMIInput {
	return obligation.EMIInput{
		Name:              req.Name,
		AccountID:         generic.AccountID(req.AccountID),
		Amount:            req.Amount,
		Frequency:         generic.Frequency(req.Frequency),
		Direction:         generic.Direction(req.Direction),
		Category:          req.Category,
		Notes:             req.Notes,
		Kind:              generic.EMIKind(req.Kind),
		StartDate:         req.StartDate,
		EndDate:           req.EndDate,
		TotalInstallments: req.TotalInstallments,
	}
}

// CreateTemplateRequest is the request to create a recurring template.
type CreateTemplateRequest struct {
	Name      string          `json:"name"`
	AccountID string          `json:"account_id"`
	Amount    decimal.Decimal `json:"amount"`
	Frequency string          `json:"frequency"`
	Direction string          `json:"direction"`
	Category  string          `json:"category"`
	Notes     string          `json:"notes"`
	StartDate generic.Date    `json:"start_date"`
}

func (req CreateTemplateRequest) input() obligation.TemplateInput {
	return obligation.TemplateInput{
		Name:      req.Name,
		AccountID: generic.AccountID(req.AccountID),
		Amount:    req.Amount,
		Frequency: generic.Frequency(req.Frequency),
		Direction: generic.Direction(req.Direction),
		Category:  req.Category,
		Notes:     req.Notes,
		StartDate: req.StartDate,
	}
}

// UpdateTermsRequest carries the shared updatable fields. Omitted fields are kept.
type UpdateTermsRequest struct {
	Name      *string          `json:"name"`
	AccountID *string          `json:"account_id"`
	Amount    *decimal.Decimal `json:"amount"`
	Frequency *string          `json:"frequency"`
	Direction *string          `json:"direction"`
	Category  *string          `json:"category"`
	Notes     *string          `json:"notes"`
	StartDate *generic.Date    `json:"start_date"`
}

// UpdateEMIRequest is the request to update an EMI.
type UpdateEMIRequest struct {
	UpdateTermsRequest
	Kind                  *string       `json:"kind"`
	EndDate               *generic.Date `json:"end_date"`
	TotalInstallments     *int          `json:"total_installments"`
	CompletedInstallments *int          `json:"completed_installments"`
}

// UpdateTemplateRequest is the request to update a recurring template.
type UpdateTemplateRequest struct {
	UpdateTermsRequest
}

func (req UpdateTermsRequest) patch() obligation.TermsPatch {
	p := obligation.TermsPatch{
		Name:      req.Name,
		Amount:    req.Amount,
		Category:  req.Category,
		Notes:     req.Notes,
		StartDate: req.StartDate,
	}
	if req.AccountID != nil {
		id := generic.AccountID(*req.AccountID)
		p.AccountID = &id
	}
	if req.Frequency != nil {
		f := generic.Frequency(*req.Frequency)
		p.Frequency = &f
	}
	if req.Direction != nil {
		d := generic.Direction(*req.Direction)
		p.Direction = &d
	}
	return p
}

func (req UpdateEMIRequest) patch() obligation.EMIPatch {
	p := obligation.EMIPatch{
		TermsPatch:            req.UpdateTermsRequest.patch(),
		EndDate:               req.EndDate,
		TotalInstallments:     req.TotalInstallments,
		CompletedInstallments: req.CompletedInstallments,
	}
	if req.Kind != nil {
		k := generic.EMIKind(*req.Kind)
		p.Kind = &k
	}
	return p
}

// ConvertRequest carries the installment count for template to EMI
// conversion. EMI to template conversion takes no body.
type ConvertRequest struct {
	TotalInstallments int `json:"total_installments"`
}

// DeductionDateRequest retargets the next deduction.
type DeductionDateRequest struct {
	Date generic.Date `json:"date"`
	Mode string       `json:"mode"`
}

// =============================================================================
// GENERATION
// =============================================================================

// GenerateRequest triggers a scan. Today defaults to the server date.
type GenerateRequest struct {
	Today generic.Date `json:"today"`
}

// GenerationReportDTO summarizes one scan.
type GenerationReportDTO struct {
	Today     generic.Date           `json:"today"`
	Scanned   int                    `json:"scanned"`
	Generated []TransactionDTO       `json:"generated"`
	Failures  []GenerationFailureDTO `json:"failures"`
}

// GenerationFailureDTO names an obligation that stopped generating.
type GenerationFailureDTO struct {
	ObligationID string `json:"obligation_id"`
	Kind         string `json:"kind"`
	Error        string `json:"error"`
	Code         string `json:"code"`
}

func toGenerationReportDTO(r *obligation.GenerationReport) GenerationReportDTO {
	dto := GenerationReportDTO{
		Today:     r.Today,
		Scanned:   r.Scanned,
		Generated: toTransactionDTOs(r.Generated),
		Failures:  make([]GenerationFailureDTO, len(r.Failures)),
	}
	for i, f := range r.Failures {
		dto.Failures[i] = GenerationFailureDTO{
			ObligationID: string(f.Ref.ID),
			Kind:         string(f.Ref.Kind),
			Error:        f.Err.Error(),
			Code:         generic.Code(f.Err),
		}
	}
	return dto
}

// ProjectionDTO is the expected balance path of an account.
type ProjectionDTO struct {
	AccountID      string               `json:"account_id"`
	Until          generic.Date         `json:"until"`
	StartBalance   decimal.Decimal      `json:"start_balance"`
	Entries        []ProjectionEntryDTO `json:"entries"`
	ClosingBalance decimal.Decimal      `json:"closing_balance"`
}

// ProjectionEntryDTO is a pending transaction or an upcoming due date.
type ProjectionEntryDTO struct {
	Date          generic.Date    `json:"date"`
	Source        string          `json:"source"` // "transaction" or "due"
	TransactionID string          `json:"transaction_id,omitempty"`
	ObligationID  string          `json:"obligation_id,omitempty"`
	Kind          string          `json:"kind,omitempty"`
	Name          string          `json:"name,omitempty"`
	Amount        decimal.Decimal `json:"amount"`
	Balance       decimal.Decimal `json:"balance"`
}

func toProjectionDTO(p *generic.Projection) ProjectionDTO {
	dto := ProjectionDTO{
		AccountID:      string(p.AccountID),
		Until:          p.Until,
		StartBalance:   p.StartBalance,
		Entries:        make([]ProjectionEntryDTO, len(p.Entries)),
		ClosingBalance: p.ClosingBalance,
	}
	for i, e := range p.Entries {
		entry := ProjectionEntryDTO{Date: e.Date, Amount: e.Amount, Balance: e.Balance}
		if e.Transaction != nil {
			entry.Source = "transaction"
			entry.TransactionID = string(e.Transaction.ID)
			entry.Name = e.Transaction.Description
		} else {
			entry.Source = "due"
			entry.ObligationID = string(e.Due.Ref.ID)
			entry.Kind = string(e.Due.Ref.Kind)
			entry.Name = e.Due.Name
		}
		dto.Entries[i] = entry
	}
	return dto
}

// =============================================================================
// SCENARIOS AND ERRORS
// =============================================================================

// ScenarioDTO represents a demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Category    string `json:"category,omitempty"`
}

// LoadScenarioRequest is the request to load a scenario.
type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

func formatTimestamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(time.RFC3339)
}
