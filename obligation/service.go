/*
Package obligation manages the lifecycle of recurring obligations.

PURPOSE:
  The obligation package is the engine proper. It creates, updates, pauses,
  resumes and deletes EMIs and recurring templates, generates their ledger
  transactions as due dates arrive, converts obligations between the two
  kinds, and retargets their deduction dates.

KEY CONCEPTS IN THIS FILE (service.go):
  - Service:       CRUD + status transitions for both obligation kinds
  - EMIInput:      Creation parameters for an EMI
  - TemplateInput: Creation parameters for a recurring template
  - EMIPatch / TemplatePatch: Partial updates (nil fields untouched)

LIFECYCLE:

    create ──▶ active ◀──▶ paused
                 │
                 ▼ (EMI only, completed == total)
             completed

  Creating an obligation immediately runs the generator for it, so a start
  date in the past or today yields its transactions before Create returns.
  Updates never trigger generation.

SEE ALSO:
  - generator.go: Transaction generation and catch-up
  - conversion.go: EMI <-> recurring template conversion
  - retarget.go: Deduction date changes
  - generic/ledger.go: Transaction ledger the generator writes through
*/
package obligation

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/warp/obligation-engine/generic"
)

// DefaultMaxCatchUp bounds how many missed due dates one obligation may
// produce in a single scan.
const DefaultMaxCatchUp = 120

// =============================================================================
// OPTIONS
// =============================================================================

type settings struct {
	log        zerolog.Logger
	now        func() time.Time
	newID      func() string
	maxCatchUp int
}

func defaultSettings() settings {
	return settings{
		log:        zerolog.Nop(),
		now:        func() time.Time { return time.Now().UTC() },
		newID:      uuid.NewString,
		maxCatchUp: DefaultMaxCatchUp,
	}
}

// ledger builds a Ledger over s that shares the engine's clock and ids.
func (c settings) ledger(s generic.Store) *generic.Ledger {
	l := generic.NewLedger(s)
	l.Now = c.now
	l.NewID = c.newID
	l.Reconciler.Now = c.now
	return l
}

func (c settings) today() generic.Date { return generic.DateOf(c.now()) }

// Option configures a Service, Generator or Converter.
type Option func(*settings)

func WithLogger(log zerolog.Logger) Option {
	return func(c *settings) { c.log = log }
}

// WithClock replaces time.Now. Generation on create uses the clock's date as today.
func WithClock(now func() time.Time) Option {
	return func(c *settings) { c.now = now }
}

func WithIDGenerator(newID func() string) Option {
	return func(c *settings) { c.newID = newID }
}

func WithMaxCatchUp(n int) Option {
	return func(c *settings) {
		if n > 0 {
			c.maxCatchUp = n
		}
	}
}

func buildSettings(opts []Option) settings {
	c := defaultSettings()
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

// =============================================================================
// INPUTS
// =============================================================================

type EMIInput struct {
	Name      string
	AccountID generic.AccountID
	Amount    decimal.Decimal
	Frequency generic.Frequency // default monthly
	Direction generic.Direction // default expense
	Category  string
	Notes     string
	Kind      generic.EMIKind // default loan

	StartDate         generic.Date
	EndDate           generic.Date // optional; defaults to the last installment date
	TotalInstallments int
}

type TemplateInput struct {
	Name      string
	AccountID generic.AccountID
	Amount    decimal.Decimal
	Frequency generic.Frequency // default monthly
	Direction generic.Direction // default expense
	Category  string
	Notes     string
	StartDate generic.Date
}

// TermsPatch holds the updatable fields both kinds share.
type TermsPatch struct {
	Name      *string
	AccountID *generic.AccountID
	Amount    *decimal.Decimal
	Frequency *generic.Frequency
	Direction *generic.Direction
	Category  *string
	Notes     *string
	StartDate *generic.Date
}

type EMIPatch struct {
	TermsPatch
	Kind                  *generic.EMIKind
	EndDate               *generic.Date
	TotalInstallments     *int
	CompletedInstallments *int
}

type TemplatePatch struct {
	TermsPatch
}

type DeleteOptions struct {
	// Cascade deletes the linked transactions along with the obligation.
	Cascade bool
}

// =============================================================================
// SERVICE
// =============================================================================

// Service is the obligation store: the entry point for everything that
// changes an obligation.
type Service struct {
	store     generic.TxStore
	cfg       settings
	generator *Generator
	converter *Converter
}

func NewService(store generic.TxStore, opts ...Option) *Service {
	return &Service{
		store:     store,
		cfg:       buildSettings(opts),
		generator: NewGenerator(store, opts...),
		converter: NewConverter(store, opts...),
	}
}

func (s *Service) Generator() *Generator { return s.generator }
func (s *Service) Converter() *Converter { return s.converter }

// WithLedger runs fn with a ledger bound to one store transaction, so a
// transaction write and the balance reconciliation it triggers commit
// together.
func (s *Service) WithLedger(ctx context.Context, fn func(*generic.Ledger) error) error {
	return s.store.WithTx(ctx, func(st generic.Store) error {
		return fn(s.cfg.ledger(st))
	})
}

// -----------------------------------------------------------------------------
// Create
// -----------------------------------------------------------------------------

func (s *Service) CreateEMI(ctx context.Context, in EMIInput) (*generic.EMI, error) {
	now := s.cfg.now()
	emi := generic.EMI{
		Terms: generic.Terms{
			ID:        generic.ObligationID(s.cfg.newID()),
			Name:      in.Name,
			AccountID: in.AccountID,
			Amount:    in.Amount,
			Frequency: in.Frequency,
			Direction: in.Direction,
			Category:  in.Category,
			Notes:     in.Notes,
			StartDate: in.StartDate,
			Status:    generic.StatusActive,
			CreatedAt: now,
			UpdatedAt: now,
		},
		Kind:              in.Kind,
		EndDate:           in.EndDate,
		TotalInstallments: in.TotalInstallments,
	}
	applyTermDefaults(&emi.Terms)
	if emi.Kind == "" {
		emi.Kind = generic.EMILoan
	}

	if err := validateEMI(ctx, s.store, &emi); err != nil {
		return nil, err
	}
	if emi.EndDate.IsZero() {
		emi.EndDate = lastInstallment(&emi)
	}
	if err := s.store.SaveEMI(ctx, emi); err != nil {
		return nil, fmt.Errorf("save emi: %w", err)
	}
	s.cfg.log.Info().
		Str("obligation_id", string(emi.ID)).
		Str("start_date", emi.StartDate.String()).
		Int("total_installments", emi.TotalInstallments).
		Msg("emi created")

	s.generateOnCreate(ctx, emi.Ref())
	return s.GetEMI(ctx, emi.ID)
}

func (s *Service) CreateTemplate(ctx context.Context, in TemplateInput) (*generic.RecurringTemplate, error) {
	now := s.cfg.now()
	tpl := generic.RecurringTemplate{
		Terms: generic.Terms{
			ID:        generic.ObligationID(s.cfg.newID()),
			Name:      in.Name,
			AccountID: in.AccountID,
			Amount:    in.Amount,
			Frequency: in.Frequency,
			Direction: in.Direction,
			Category:  in.Category,
			Notes:     in.Notes,
			StartDate: in.StartDate,
			Status:    generic.StatusActive,
			CreatedAt: now,
			UpdatedAt: now,
		},
	}
	applyTermDefaults(&tpl.Terms)

	if err := validateTerms(ctx, s.store, &tpl.Terms); err != nil {
		return nil, err
	}
	if err := s.store.SaveTemplate(ctx, tpl); err != nil {
		return nil, fmt.Errorf("save template: %w", err)
	}
	s.cfg.log.Info().
		Str("obligation_id", string(tpl.ID)).
		Str("start_date", tpl.StartDate.String()).
		Msg("recurring template created")

	s.generateOnCreate(ctx, tpl.Ref())
	return s.GetTemplate(ctx, tpl.ID)
}

// generateOnCreate runs generation for a freshly created obligation.
// Failures are logged; the obligation itself was created.
func (s *Service) generateOnCreate(ctx context.Context, ref generic.ObligationRef) {
	if _, err := s.generator.GenerateFor(ctx, ref, s.cfg.today()); err != nil {
		s.cfg.log.Warn().Err(err).Str("obligation", ref.String()).Msg("generation after create failed")
	}
}

// -----------------------------------------------------------------------------
// Update
// -----------------------------------------------------------------------------

func (s *Service) UpdateEMI(ctx context.Context, id generic.ObligationID, p EMIPatch) (*generic.EMI, error) {
	var out generic.EMI
	err := s.store.WithTx(ctx, func(st generic.Store) error {
		cur, err := st.GetEMI(ctx, id)
		if err != nil {
			return err
		}
		if cur == nil {
			return &generic.FieldError{Field: string(id), Err: generic.ErrUnknownObligation}
		}

		next := *cur
		scheduleChanged := p.apply(&next.Terms)
		if p.Kind != nil {
			next.Kind = *p.Kind
		}
		if p.TotalInstallments != nil {
			if *p.TotalInstallments <= 0 {
				return &generic.FieldError{Field: "total_installments", Err: generic.ErrInvalidInstallmentCount}
			}
			next.TotalInstallments = *p.TotalInstallments
			scheduleChanged = true
		}
		if p.CompletedInstallments != nil {
			if *p.CompletedInstallments < 0 {
				return &generic.FieldError{Field: "completed_installments", Err: generic.ErrInvalidInstallmentCount}
			}
			next.CompletedInstallments = *p.CompletedInstallments
		}
		if p.TotalInstallments != nil && p.CompletedInstallments == nil &&
			next.TotalInstallments < next.CompletedInstallments {
			return &generic.FieldError{Field: "total_installments", Err: generic.ErrInstallmentCountBelowProgress}
		}
		if next.CompletedInstallments > next.TotalInstallments {
			return &generic.FieldError{Field: "completed_installments", Err: generic.ErrInstallmentCountExceeded}
		}

		if p.EndDate != nil {
			next.EndDate = *p.EndDate
		} else if scheduleChanged {
			next.EndDate = generic.Date{}
		}
		if err := validateEMI(ctx, st, &next); err != nil {
			return err
		}
		if next.EndDate.IsZero() {
			next.EndDate = lastInstallment(&next)
		}

		switch {
		case next.IsComplete():
			next.Status = generic.StatusCompleted
		case next.Status == generic.StatusCompleted:
			next.Status = generic.StatusActive
		}
		next.UpdatedAt = s.cfg.now()
		if err := st.SaveEMI(ctx, next); err != nil {
			return fmt.Errorf("save emi: %w", err)
		}
		out = next
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *Service) UpdateTemplate(ctx context.Context, id generic.ObligationID, p TemplatePatch) (*generic.RecurringTemplate, error) {
	var out generic.RecurringTemplate
	err := s.store.WithTx(ctx, func(st generic.Store) error {
		cur, err := st.GetTemplate(ctx, id)
		if err != nil {
			return err
		}
		if cur == nil {
			return &generic.FieldError{Field: string(id), Err: generic.ErrUnknownObligation}
		}

		next := *cur
		p.apply(&next.Terms)
		if err := validateTerms(ctx, st, &next.Terms); err != nil {
			return err
		}
		next.UpdatedAt = s.cfg.now()
		if err := st.SaveTemplate(ctx, next); err != nil {
			return fmt.Errorf("save template: %w", err)
		}
		out = next
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// apply copies the set fields onto t and reports whether the installment
// schedule moved.
func (p TermsPatch) apply(t *generic.Terms) bool {
	changed := false
	if p.Name != nil {
		t.Name = *p.Name
	}
	if p.AccountID != nil {
		t.AccountID = *p.AccountID
	}
	if p.Amount != nil {
		t.Amount = *p.Amount
	}
	if p.Frequency != nil {
		changed = changed || *p.Frequency != t.Frequency
		t.Frequency = *p.Frequency
	}
	if p.Direction != nil {
		t.Direction = *p.Direction
	}
	if p.Category != nil {
		t.Category = *p.Category
	}
	if p.Notes != nil {
		t.Notes = *p.Notes
	}
	if p.StartDate != nil {
		changed = changed || !p.StartDate.Equal(t.StartDate)
		t.StartDate = *p.StartDate
	}
	return changed
}

// -----------------------------------------------------------------------------
// Delete
// -----------------------------------------------------------------------------

func (s *Service) DeleteEMI(ctx context.Context, id generic.ObligationID, opts DeleteOptions) error {
	return s.delete(ctx, generic.EMIRef(id), opts)
}

func (s *Service) DeleteTemplate(ctx context.Context, id generic.ObligationID, opts DeleteOptions) error {
	return s.delete(ctx, generic.TemplateRef(id), opts)
}

func (s *Service) delete(ctx context.Context, ref generic.ObligationRef, opts DeleteOptions) error {
	err := s.store.WithTx(ctx, func(st generic.Store) error {
		if _, err := generic.LoadObligation(ctx, st, ref); err != nil {
			return err
		}
		txs, err := st.ListTransactionsByObligation(ctx, ref)
		if err != nil {
			return err
		}
		if len(txs) > 0 && !opts.Cascade {
			refs := make([]string, len(txs))
			for i, tx := range txs {
				refs[i] = "transaction/" + string(tx.ID)
			}
			return &generic.InUseError{ID: ref.String(), References: refs, Err: generic.ErrObligationInUse}
		}

		ledger := s.cfg.ledger(st)
		for _, tx := range txs {
			if err := ledger.DeleteTransaction(ctx, tx.ID); err != nil {
				return fmt.Errorf("cascade transaction %s: %w", tx.ID, err)
			}
		}
		if ref.Kind == generic.KindEMI {
			return st.DeleteEMI(ctx, ref.ID)
		}
		return st.DeleteTemplate(ctx, ref.ID)
	})
	if err != nil {
		return err
	}
	s.cfg.log.Info().Str("obligation", ref.String()).Bool("cascade", opts.Cascade).Msg("obligation deleted")
	return nil
}

// -----------------------------------------------------------------------------
// Status
// -----------------------------------------------------------------------------

// Pause stops generation for an obligation. Pausing a paused obligation is a no-op.
func (s *Service) Pause(ctx context.Context, ref generic.ObligationRef) (generic.Obligation, error) {
	return s.setStatus(ctx, ref, generic.StatusPaused)
}

// Resume re-enables generation. Due dates missed while paused are caught up
// by the next scan.
func (s *Service) Resume(ctx context.Context, ref generic.ObligationRef) (generic.Obligation, error) {
	return s.setStatus(ctx, ref, generic.StatusActive)
}

func (s *Service) setStatus(ctx context.Context, ref generic.ObligationRef, status generic.Status) (generic.Obligation, error) {
	var out generic.Obligation
	err := s.store.WithTx(ctx, func(st generic.Store) error {
		o, err := generic.LoadObligation(ctx, st, ref)
		if err != nil {
			return err
		}
		t := o.ObligationTerms()
		if t.Status == generic.StatusCompleted {
			return fmt.Errorf("%w: %s is completed", generic.ErrInvalidStatus, ref)
		}
		out = o
		if t.Status == status {
			return nil
		}
		t.Status = status
		t.UpdatedAt = s.cfg.now()
		return generic.SaveObligation(ctx, st, o)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// -----------------------------------------------------------------------------
// Reads
// -----------------------------------------------------------------------------

func (s *Service) GetEMI(ctx context.Context, id generic.ObligationID) (*generic.EMI, error) {
	e, err := s.store.GetEMI(ctx, id)
	if err != nil {
		return nil, err
	}
	if e == nil {
		return nil, &generic.FieldError{Field: string(id), Err: generic.ErrUnknownObligation}
	}
	return e, nil
}

func (s *Service) GetTemplate(ctx context.Context, id generic.ObligationID) (*generic.RecurringTemplate, error) {
	r, err := s.store.GetTemplate(ctx, id)
	if err != nil {
		return nil, err
	}
	if r == nil {
		return nil, &generic.FieldError{Field: string(id), Err: generic.ErrUnknownObligation}
	}
	return r, nil
}

func (s *Service) ListEMIs(ctx context.Context, f generic.ObligationFilter) ([]generic.EMI, error) {
	return s.store.ListEMIs(ctx, f)
}

func (s *Service) ListTemplates(ctx context.Context, f generic.ObligationFilter) ([]generic.RecurringTemplate, error) {
	return s.store.ListTemplates(ctx, f)
}

// Obligations lists both kinds, EMIs first.
func (s *Service) Obligations(ctx context.Context, f generic.ObligationFilter) ([]generic.Obligation, error) {
	emis, err := s.store.ListEMIs(ctx, f)
	if err != nil {
		return nil, err
	}
	templates, err := s.store.ListTemplates(ctx, f)
	if err != nil {
		return nil, err
	}
	out := make([]generic.Obligation, 0, len(emis)+len(templates))
	for i := range emis {
		out = append(out, &emis[i])
	}
	for i := range templates {
		out = append(out, &templates[i])
	}
	return out, nil
}

func (s *Service) Transactions(ctx context.Context, ref generic.ObligationRef) ([]generic.Transaction, error) {
	if _, err := generic.LoadObligation(ctx, s.store, ref); err != nil {
		return nil, err
	}
	return s.store.ListTransactionsByObligation(ctx, ref)
}

// CheckAndGenerate runs one generation scan over every active obligation.
func (s *Service) CheckAndGenerate(ctx context.Context, today generic.Date) (*GenerationReport, error) {
	return s.generator.CheckAndGenerate(ctx, today)
}

// =============================================================================
// VALIDATION
// =============================================================================

func applyTermDefaults(t *generic.Terms) {
	if t.Frequency == "" {
		t.Frequency = generic.FrequencyMonthly
	}
	if t.Direction == "" {
		t.Direction = generic.DirectionExpense
	}
}

// validateTerms checks the shared fields in a fixed order so the same bad
// input always reports the same error.
func validateTerms(ctx context.Context, st generic.AccountStore, t *generic.Terms) error {
	if !t.Amount.IsPositive() {
		return &generic.FieldError{Field: "amount", Err: generic.ErrInvalidAmount}
	}
	if err := t.Frequency.Validate(); err != nil {
		return &generic.FieldError{Field: "frequency", Err: err}
	}
	if !t.Direction.Valid() {
		return &generic.FieldError{Field: "direction", Err: fmt.Errorf("%w: %q", generic.ErrInvalidField, t.Direction)}
	}
	if t.StartDate.IsZero() {
		return &generic.FieldError{Field: "start_date", Err: generic.ErrInvalidDate}
	}
	if t.AccountID == "" {
		return &generic.FieldError{Field: "account_id", Err: generic.ErrRequiredField}
	}
	acct, err := st.GetAccount(ctx, t.AccountID)
	if err != nil {
		return err
	}
	if acct == nil {
		return &generic.FieldError{Field: "account_id", Err: generic.ErrUnknownAccount}
	}
	return nil
}

// validateEMI runs the EMI checks in the order amount, frequency, start,
// installment count, date range, account. An explicit end date must not cut
// off the last installment.
func validateEMI(ctx context.Context, st generic.AccountStore, e *generic.EMI) error {
	if !e.Amount.IsPositive() {
		return &generic.FieldError{Field: "amount", Err: generic.ErrInvalidAmount}
	}
	if err := e.Frequency.Validate(); err != nil {
		return &generic.FieldError{Field: "frequency", Err: err}
	}
	if e.StartDate.IsZero() {
		return &generic.FieldError{Field: "start_date", Err: generic.ErrInvalidDate}
	}
	if e.TotalInstallments <= 0 {
		return &generic.FieldError{Field: "total_installments", Err: generic.ErrInvalidInstallmentCount}
	}
	if !e.EndDate.IsZero() {
		if e.StartDate.After(e.EndDate) {
			return &generic.FieldError{Field: "end_date", Err: generic.ErrInvalidDateRange}
		}
		if last := lastInstallment(e); last.After(e.EndDate) {
			return &generic.FieldError{
				Field: "end_date",
				Err:   fmt.Errorf("%w: last installment %s is after %s", generic.ErrInvalidDateRange, last, e.EndDate),
			}
		}
	}
	if e.Kind != generic.EMILoan && e.Kind != generic.EMIInvestment {
		return &generic.FieldError{Field: "kind", Err: fmt.Errorf("%w: %q", generic.ErrInvalidField, e.Kind)}
	}
	return validateTerms(ctx, st, &e.Terms)
}

// lastInstallment is the due date of the final installment on the regular schedule.
func lastInstallment(e *generic.EMI) generic.Date {
	d, err := generic.NextDueDate(e.StartDate, e.Frequency, e.TotalInstallments-1)
	if err != nil {
		return generic.Date{}
	}
	return d
}
