package obligation

import (
	"context"

	"github.com/warp/obligation-engine/generic"
)

// Project returns the expected balance path of an account through until:
// its pending transactions plus the upcoming due dates of its active
// obligations. Nothing is written.
func (s *Service) Project(ctx context.Context, accountID generic.AccountID, until generic.Date) (*generic.Projection, error) {
	if until.IsZero() {
		return nil, &generic.FieldError{Field: "until", Err: generic.ErrInvalidDate}
	}

	acct, err := s.store.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if acct == nil {
		return nil, &generic.FieldError{Field: string(accountID), Err: generic.ErrUnknownAccount}
	}

	txs, err := s.store.ListTransactionsByAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}

	active := generic.ObligationFilter{AccountID: accountID, Status: generic.StatusActive}
	obligations, err := s.Obligations(ctx, active)
	if err != nil {
		return nil, err
	}

	var dues []generic.ProjectedDue
	for _, o := range obligations {
		next, err := generic.ProjectDueDates(o, until, s.cfg.maxCatchUp)
		if err != nil {
			return nil, err
		}
		dues = append(dues, next...)
	}

	p := generic.BuildProjection(*acct, txs, dues, until)
	return &p, nil
}
