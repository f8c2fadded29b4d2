/*
conversion.go - EMI <-> recurring template conversion

PURPOSE:
  Replaces an obligation with one of the other kind, carrying its history
  along: every transaction linked to the source is re-linked to the target,
  and the target picks up where the source's schedule left off.

ATOMICITY:
  A conversion is a single WithTx boundary:

    resolve source ─▶ snapshot links ─▶ insert target ─▶ relink ─▶ delete source

  Nothing else observes the intermediate state, and any failing step rolls
  everything back. The target is inserted directly and never passes through
  the creation path, so conversion does not generate transactions.

CURSOR MAPPING:
  EMI -> template:  start, progress and override carry over unchanged, so
                    the template's next due date is the EMI's effective due
                    date.
  template -> EMI:  completed = number of linked transactions the template
                    generated (cancelled ones included, manual ones not). If the
                    regular schedule at that progress would not land on the
                    template's effective due date, a persistent override
                    anchored on that date keeps the cadence.

SEE ALSO:
  - service.go: CreateEMI / CreateTemplate (generating creation path)
*/
package obligation

import (
	"context"
	"fmt"
	"time"

	"github.com/warp/obligation-engine/generic"
)

type Converter struct {
	store generic.TxStore
	cfg   settings
}

func NewConverter(store generic.TxStore, opts ...Option) *Converter {
	return &Converter{store: store, cfg: buildSettings(opts)}
}

// ConvertEMIToRecurring replaces an EMI with an open-ended template and
// returns the template's id.
func (c *Converter) ConvertEMIToRecurring(ctx context.Context, id generic.ObligationID) (generic.ObligationID, error) {
	var newID generic.ObligationID
	err := c.store.WithTx(ctx, func(st generic.Store) error {
		emi, err := st.GetEMI(ctx, id)
		if err != nil {
			return err
		}
		if emi == nil {
			return &generic.FieldError{Field: string(id), Err: generic.ErrUnknownObligation}
		}
		linked, err := st.ListTransactionsByObligation(ctx, emi.Ref())
		if err != nil {
			return err
		}

		now := c.cfg.now()
		tpl := generic.RecurringTemplate{
			Terms:       emi.Terms,
			Occurrences: emi.CompletedInstallments,
		}
		tpl.ID = generic.ObligationID(c.cfg.newID())
		tpl.CreatedAt, tpl.UpdatedAt = now, now
		if tpl.Status != generic.StatusPaused {
			tpl.Status = generic.StatusActive
		}
		if err := st.SaveTemplate(ctx, tpl); err != nil {
			return fmt.Errorf("save template: %w", err)
		}

		if err := relink(ctx, st, linked, tpl.Ref(), now); err != nil {
			return err
		}
		if err := st.DeleteEMI(ctx, emi.ID); err != nil {
			return fmt.Errorf("delete emi: %w", err)
		}
		newID = tpl.ID
		return nil
	})
	if err != nil {
		return "", err
	}
	c.cfg.log.Info().Str("from", string(id)).Str("to", string(newID)).Msg("emi converted to recurring template")
	return newID, nil
}

// ConvertRecurringToEMI replaces a template with an EMI of totalInstallments
// installments and returns the EMI's id. Transactions the template generated
// count as completed installments; manually linked ones move along as history.
func (c *Converter) ConvertRecurringToEMI(ctx context.Context, id generic.ObligationID, totalInstallments int) (generic.ObligationID, error) {
	if totalInstallments <= 0 {
		return "", &generic.FieldError{Field: "total_installments", Err: generic.ErrInvalidInstallmentCount}
	}

	var newID generic.ObligationID
	err := c.store.WithTx(ctx, func(st generic.Store) error {
		tpl, err := st.GetTemplate(ctx, id)
		if err != nil {
			return err
		}
		if tpl == nil {
			return &generic.FieldError{Field: string(id), Err: generic.ErrUnknownObligation}
		}
		linked, err := st.ListTransactionsByObligation(ctx, tpl.Ref())
		if err != nil {
			return err
		}
		completed := countGenerated(linked)
		if totalInstallments < completed {
			return &generic.FieldError{
				Field: "total_installments",
				Err:   fmt.Errorf("%w: %d < %d", generic.ErrInstallmentCountBelowProgress, totalInstallments, completed),
			}
		}

		due, err := generic.EffectiveDueDate(tpl)
		if err != nil {
			return err
		}

		now := c.cfg.now()
		emi := generic.EMI{
			Terms:                 tpl.Terms,
			Kind:                  generic.EMILoan,
			TotalInstallments:     totalInstallments,
			CompletedInstallments: completed,
		}
		emi.ID = generic.ObligationID(c.cfg.newID())
		emi.CreatedAt, emi.UpdatedAt = now, now
		emi.EndDate = lastInstallment(&emi)

		if completed != tpl.Occurrences || tpl.Override == nil {
			emi.Override = nil
			regular, err := emi.RegularDueDate()
			if err != nil {
				return err
			}
			if !regular.Equal(due) {
				emi.Override = &generic.DueOverride{Anchor: due}
			}
		}
		if emi.IsComplete() {
			emi.Status = generic.StatusCompleted
			emi.Override = nil
		}
		if err := st.SaveEMI(ctx, emi); err != nil {
			return fmt.Errorf("save emi: %w", err)
		}

		if err := relink(ctx, st, linked, emi.Ref(), now); err != nil {
			return err
		}
		if err := st.DeleteTemplate(ctx, tpl.ID); err != nil {
			return fmt.Errorf("delete template: %w", err)
		}
		newID = emi.ID
		return nil
	})
	if err != nil {
		return "", err
	}
	c.cfg.log.Info().
		Str("from", string(id)).
		Str("to", string(newID)).
		Int("total_installments", totalInstallments).
		Msg("recurring template converted to emi")
	return newID, nil
}

// countGenerated counts the due dates the generator already processed.
// A cancelled installment still occupied its due date.
func countGenerated(txs []generic.Transaction) int {
	n := 0
	for _, tx := range txs {
		if tx.Generated {
			n++
		}
	}
	return n
}

// relink points every transaction in txs at ref. Amounts, dates and accounts
// are untouched, so balances need no reconciliation.
func relink(ctx context.Context, st generic.TransactionStore, txs []generic.Transaction, ref generic.ObligationRef, now time.Time) error {
	for _, tx := range txs {
		tx.SetLink(ref)
		tx.UpdatedAt = now
		if err := st.UpdateTransaction(ctx, tx); err != nil {
			return fmt.Errorf("relink transaction %s: %w", tx.ID, err)
		}
	}
	return nil
}
