/*
expiry.go - Rolling-window expiry sweep

PURPOSE:
  Expires ledger entries whose owning allocation has aged past the rolling
  six-month window. The cutoff is computed per allocation from its own
  FromDate, never from a shared calendar boundary: a 7-month-old allocation
  expires while a 5-month-old one is untouched, whatever the date.

  Only the IsExpired flag is mutated; entries themselves are immutable.
  Timesheets whose allocation expired are moved to Expired for display.
*/
package toil

import (
	"context"

	"github.com/rs/zerolog"
)

// ExpirySummary reports one sweep for logging and tests.
type ExpirySummary struct {
	AllocationsAged int
	EntriesExpired  int
}

type ExpiryJob struct {
	Store TxStore
	Log   zerolog.Logger
	Now   func() Date
}

func NewExpiryJob(store TxStore, log zerolog.Logger) *ExpiryJob {
	return &ExpiryJob{Store: store, Log: log, Now: Today}
}

// Run performs one sweep over all employees' allocations. Each allocation is
// processed in its own transaction so one failure does not hold back the
// rest of the sweep.
func (j *ExpiryJob) Run(ctx context.Context) (ExpirySummary, error) {
	var summary ExpirySummary
	cutoff := j.Now().AddMonths(-ValidityMonths)

	employees, err := j.Store.ListEmployees(ctx)
	if err != nil {
		return summary, &InfrastructureError{Op: "list employees", Err: err}
	}

	for _, emp := range employees {
		allocs, err := j.Store.AllocationsByEmployee(ctx, emp.ID)
		if err != nil {
			return summary, &InfrastructureError{Op: "list allocations", Err: err}
		}
		for _, alloc := range allocs {
			if !alloc.IsTOIL || !alloc.FromDate.Before(cutoff) {
				continue
			}
			expired, err := j.expireAllocation(ctx, alloc)
			if err != nil {
				return summary, err
			}
			if expired > 0 {
				summary.AllocationsAged++
				summary.EntriesExpired += expired
			}
		}
	}

	if summary.EntriesExpired > 0 {
		j.Log.Info().
			Int("allocations", summary.AllocationsAged).
			Int("entries", summary.EntriesExpired).
			Msg("expiry sweep complete")
	}
	return summary, nil
}

func (j *ExpiryJob) expireAllocation(ctx context.Context, alloc Allocation) (int, error) {
	expired := 0
	err := j.Store.WithTx(ctx, func(s Store) error {
		entries, err := s.EntriesByAllocation(ctx, alloc.ID)
		if err != nil {
			return &InfrastructureError{Op: "load allocation entries", Err: err}
		}
		for _, e := range entries {
			if e.IsExpired {
				continue
			}
			if err := s.MarkExpired(ctx, e.ID); err != nil {
				return &InfrastructureError{Op: "mark entry expired", Err: err}
			}
			expired++
		}
		if expired == 0 {
			return nil
		}

		// Surface the expiry on contributing timesheets.
		for _, tsID := range alloc.SourceTimesheets {
			ts, err := s.GetTimesheet(ctx, tsID)
			if err != nil || ts == nil {
				continue
			}
			switch ts.Status {
			case StatusAccrued, StatusPartiallyUsed:
				ts.Status = StatusExpired
				if err := s.PutTimesheet(ctx, ts); err != nil {
					return &InfrastructureError{Op: "mark timesheet expired", Err: err}
				}
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return expired, nil
}
