/*
generator.go - Transaction generation for due obligations

PURPOSE:
  Turns due dates into ledger transactions. A scan walks every active
  obligation and, for each one whose effective due date is on or before
  "today", records a pending transaction and advances the obligation's
  progress. Missed due dates are caught up one by one.

ONE STEP, ONE STORE TRANSACTION:
  Each generated due date is one WithTx boundary:

    reload ─▶ due ≤ today? ─▶ satisfied? ─no─▶ create tx ─▶ advance ─▶ save
                  │               │yes                          ▲
                  └─ stop         └─────────────────────────────┘

  A due date counts as satisfied when a transaction carries its idempotency
  key or any transaction linked to the obligation is already dated on it.
  Satisfied dates still advance progress, so a re-run after a crash between
  the insert and the save repairs the cursor instead of duplicating money.

FAILURE ISOLATION:
  An error rolls back the current step, stops that obligation for this scan
  and lands in GenerationReport.Failures. Other obligations still run.

SEE ALSO:
  - generic/time.go: EffectiveDueDate, GenerationKey
  - generic/ledger.go: CreateTransaction (reconciles balances)
*/
package obligation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/warp/obligation-engine/generic"
)

// GenerationFailure records why one obligation stopped generating.
type GenerationFailure struct {
	Ref generic.ObligationRef
	Err error
}

// GenerationReport summarizes one scan.
type GenerationReport struct {
	Today     generic.Date
	Scanned   int
	Generated []generic.Transaction
	Failures  []GenerationFailure
}

type Generator struct {
	store generic.TxStore
	cfg   settings
}

func NewGenerator(store generic.TxStore, opts ...Option) *Generator {
	return &Generator{store: store, cfg: buildSettings(opts)}
}

// CheckAndGenerate scans every active obligation. The returned error is only
// set when the scan could not list obligations at all.
func (g *Generator) CheckAndGenerate(ctx context.Context, today generic.Date) (*GenerationReport, error) {
	active := generic.ObligationFilter{Status: generic.StatusActive}
	emis, err := g.store.ListEMIs(ctx, active)
	if err != nil {
		return nil, fmt.Errorf("list emis: %w", err)
	}
	templates, err := g.store.ListTemplates(ctx, active)
	if err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}

	refs := make([]generic.ObligationRef, 0, len(emis)+len(templates))
	for i := range emis {
		refs = append(refs, emis[i].Ref())
	}
	for i := range templates {
		refs = append(refs, templates[i].Ref())
	}

	report := &GenerationReport{Today: today, Scanned: len(refs)}
	for _, ref := range refs {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		txs, err := g.GenerateFor(ctx, ref, today)
		report.Generated = append(report.Generated, txs...)
		if err != nil {
			report.Failures = append(report.Failures, GenerationFailure{Ref: ref, Err: err})
			g.cfg.log.Error().Err(err).Str("obligation", ref.String()).Msg("generation failed")
		}
	}

	g.cfg.log.Info().
		Str("today", today.String()).
		Int("scanned", report.Scanned).
		Int("generated", len(report.Generated)).
		Int("failed", len(report.Failures)).
		Msg("generation scan complete")
	return report, nil
}

// GenerateFor produces every transaction ref owes up to and including today.
// Transactions created before a failing step are kept and returned alongside
// the error.
func (g *Generator) GenerateFor(ctx context.Context, ref generic.ObligationRef, today generic.Date) ([]generic.Transaction, error) {
	var out []generic.Transaction
	for i := 0; i < g.cfg.maxCatchUp; i++ {
		tx, more, err := g.step(ctx, ref, today)
		if err != nil {
			return out, err
		}
		if tx != nil {
			out = append(out, *tx)
		}
		if !more {
			return out, nil
		}
	}
	g.cfg.log.Warn().
		Str("obligation", ref.String()).
		Int("max_catch_up", g.cfg.maxCatchUp).
		Msg("catch-up limit reached, remaining due dates wait for the next scan")
	return out, nil
}

// step satisfies at most one due date. more reports whether another due
// date may still be pending.
func (g *Generator) step(ctx context.Context, ref generic.ObligationRef, today generic.Date) (created *generic.Transaction, more bool, err error) {
	err = g.store.WithTx(ctx, func(st generic.Store) error {
		created, more = nil, false

		o, err := generic.LoadObligation(ctx, st, ref)
		if generic.IsNotFound(err) {
			return nil // deleted since the scan listed it
		}
		if err != nil {
			return err
		}
		t := o.ObligationTerms()
		if t.Status != generic.StatusActive {
			return nil
		}
		if emi, ok := o.(*generic.EMI); ok && emi.IsComplete() {
			emi.Status = generic.StatusCompleted
			emi.UpdatedAt = g.cfg.now()
			return st.SaveEMI(ctx, *emi)
		}

		due, err := generic.EffectiveDueDate(o)
		if err != nil {
			return err
		}
		if due.After(today) {
			return nil
		}

		key := generic.GenerationKey(t.ID, due)
		satisfied, err := isSatisfied(ctx, st, ref, key, due)
		if err != nil {
			return err
		}
		if !satisfied {
			link := ref
			tx, err := g.cfg.ledger(st).CreateTransaction(ctx, generic.TransactionInput{
				AccountID:      t.AccountID,
				Date:           due,
				Amount:         t.Amount,
				Direction:      t.Direction,
				Status:         generic.TxPending,
				Description:    t.Name,
				Category:       t.Category,
				Link:           &link,
				Generated:      true,
				IdempotencyKey: key,
			})
			switch {
			case errors.Is(err, generic.ErrDuplicateIdempotencyKey):
				// Another writer got there first; treat as satisfied.
			case err != nil:
				return fmt.Errorf("create transaction for %s: %w", due, err)
			default:
				created = tx
			}
		}

		advance(o, g.cfg.now())
		if err := generic.SaveObligation(ctx, st, o); err != nil {
			return fmt.Errorf("advance %s: %w", ref, err)
		}
		more = t.Status == generic.StatusActive
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	if created != nil {
		g.cfg.log.Info().
			Str("obligation_id", string(ref.ID)).
			Str("kind", string(ref.Kind)).
			Str("due_date", created.Date.String()).
			Str("transaction_id", string(created.ID)).
			Msg("transaction generated")
	}
	return created, more, nil
}

func isSatisfied(ctx context.Context, st generic.Store, ref generic.ObligationRef, key string, due generic.Date) (bool, error) {
	exists, err := st.Exists(ctx, key)
	if err != nil || exists {
		return exists, err
	}
	linked, err := st.ListTransactionsByObligation(ctx, ref)
	if err != nil {
		return false, err
	}
	for _, tx := range linked {
		if tx.Date.Equal(due) {
			return true, nil
		}
	}
	return false, nil
}

// advance moves o past its current due date.
func advance(o generic.Obligation, now time.Time) {
	t := o.ObligationTerms()
	t.Override = t.Override.Advance()
	t.UpdatedAt = now
	switch v := o.(type) {
	case *generic.EMI:
		v.CompletedInstallments++
		if v.IsComplete() {
			v.Status = generic.StatusCompleted
		}
	case *generic.RecurringTemplate:
		v.Occurrences++
	}
}
