/*
retarget.go - Moving an obligation's deduction date

PURPOSE:
  Lets the user move the next deduction (or the whole forward schedule) to
  a different date without touching history. Settled and cancelled
  transactions never move; linked pending ones follow the mode.

MODES:
  this_date_only   one-shot DueOverride.Next; whatever cadence was in force
                   before (a persistent override or the regular schedule)
                   resumes once that occurrence generates
  all_future       persistent override anchored on the new date; pending
                   transactions on or after the old date shift by
                   DateOffset(old, new) days
  reset_schedule   persistent override anchored on the new date; pending
                   transactions are re-dated onto the new cadence in order

  The obligation update and every re-dated transaction share one WithTx.

SEE ALSO:
  - generic/types.go: DueOverride (Anchor/Steps cadence plus one-shot Next)
  - generator.go: advance(), which consumes the override
*/
package obligation

import (
	"context"
	"fmt"
	"sort"

	"github.com/warp/obligation-engine/generic"
)

// RetargetMode selects how far a deduction date change reaches.
type RetargetMode string

const (
	// RetargetThisDateOnly moves the next occurrence only; the schedule in
	// force before, persistent override included, resumes after it generates.
	RetargetThisDateOnly RetargetMode = "this_date_only"

	// RetargetAllFuture moves the schedule to the new date and shifts linked
	// pending transactions on or after the old date by the same number of days.
	RetargetAllFuture RetargetMode = "all_future"

	// RetargetResetSchedule restarts the cadence at the new date and re-dates
	// linked pending transactions onto that cadence.
	RetargetResetSchedule RetargetMode = "reset_schedule"
)

func (m RetargetMode) Validate() error {
	switch m {
	case RetargetThisDateOnly, RetargetAllFuture, RetargetResetSchedule:
		return nil
	}
	return fmt.Errorf("%w: %q", generic.ErrInvalidRetargetMode, string(m))
}

// UpdateDeductionDate moves the obligation's next deduction to newDate.
func (s *Service) UpdateDeductionDate(ctx context.Context, ref generic.ObligationRef, newDate generic.Date, mode RetargetMode) (generic.Obligation, error) {
	if err := mode.Validate(); err != nil {
		return nil, err
	}
	if newDate.IsZero() {
		return nil, &generic.FieldError{Field: "deduction_date", Err: generic.ErrInvalidDate}
	}

	var out generic.Obligation
	var moved int
	err := s.store.WithTx(ctx, func(st generic.Store) error {
		o, err := generic.LoadObligation(ctx, st, ref)
		if err != nil {
			return err
		}
		t := o.ObligationTerms()
		if t.Status == generic.StatusCompleted {
			return fmt.Errorf("%w: %s is completed", generic.ErrInvalidStatus, ref)
		}
		old, err := generic.EffectiveDueDate(o)
		if err != nil {
			return err
		}

		if mode == RetargetThisDateOnly {
			t.Override = t.Override.WithNext(newDate)
		} else {
			t.Override = &generic.DueOverride{Anchor: newDate}
		}
		t.UpdatedAt = s.cfg.now()
		if err := generic.SaveObligation(ctx, st, o); err != nil {
			return err
		}

		if mode != RetargetThisDateOnly {
			moved, err = s.redatePending(ctx, st, o, old, newDate, mode)
			if err != nil {
				return err
			}
		}
		out = o
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.cfg.log.Info().
		Str("obligation", ref.String()).
		Str("deduction_date", newDate.String()).
		Str("mode", string(mode)).
		Int("moved_transactions", moved).
		Msg("deduction date updated")
	return out, nil
}

// redatePending moves the pending transactions linked to o dated on or after
// old. Settled and cancelled transactions are history and never move.
func (s *Service) redatePending(ctx context.Context, st generic.Store, o generic.Obligation, old, newDate generic.Date, mode RetargetMode) (int, error) {
	linked, err := st.ListTransactionsByObligation(ctx, o.Ref())
	if err != nil {
		return 0, err
	}
	var pending []generic.Transaction
	for _, tx := range linked {
		if tx.Status == generic.TxPending && tx.Date.AfterOrEqual(old) {
			pending = append(pending, tx)
		}
	}
	sort.SliceStable(pending, func(i, j int) bool { return pending[i].Date.Before(pending[j].Date) })

	offset := generic.DateOffset(old, newDate)
	freq := o.ObligationTerms().Frequency
	ledger := s.cfg.ledger(st)
	for k, tx := range pending {
		var date generic.Date
		switch mode {
		case RetargetAllFuture:
			date = generic.AddDays(tx.Date, offset)
		case RetargetResetSchedule:
			if date, err = generic.NextDueDate(newDate, freq, k); err != nil {
				return 0, err
			}
		}
		if _, err := ledger.UpdateTransaction(ctx, tx.ID, generic.TransactionPatch{Date: &date}); err != nil {
			return 0, fmt.Errorf("redate transaction %s: %w", tx.ID, err)
		}
	}
	return len(pending), nil
}
