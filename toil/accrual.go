/*
accrual.go - Allocation ledger manager

PURPOSE:
  Converts an approved timesheet into a TOIL allocation plus a credit ledger
  entry. Runs as a background job, never on the interactive path.

THE CENTRAL CONSISTENCY RULE:
  One open window per employee. Timesheets approved while an unexpired
  allocation window is still open top up that allocation; they never create
  overlapping grants. The per-employee lock makes concurrent accrual jobs
  serialize, and because top-up is addition the outcome is order-independent.
  Eligibility is re-checked inside the locked transaction, so duplicate
  deliveries of the same job commit exactly one credit.

GRANT SIZING:
  Fractional TOIL accrues in whole leave-days: the grant is ceil(toil_days).

ATOMICITY:
  The allocation upsert, the credit entry, and the timesheet update commit as
  one transaction. On any failure the transaction rolls back and the
  timesheet is reverted to its pre-accrual shape (Pending Accrual, no
  allocation reference) before a retryable error surfaces. There is never a
  dangling allocation.
*/
package toil

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
)

// AccrualManager owns the accrual transaction and its compensating rollback.
type AccrualManager struct {
	Store  TxStore
	Locker Locker
	Log    zerolog.Logger
	Now    func() Date
}

func NewAccrualManager(store TxStore, locker Locker, log zerolog.Logger) *AccrualManager {
	return &AccrualManager{Store: store, Locker: locker, Log: log, Now: Today}
}

// accruable checks that a timesheet is eligible to accrue. At-least-once
// delivery means replays are normal: an already-confirmed timesheet yields
// its existing allocation and no error.
func accruable(ts *Timesheet, id TimesheetID) (AllocationID, error) {
	if ts == nil {
		return "", &NotFoundError{Kind: "timesheet", ID: string(id)}
	}
	if ts.Status == StatusAccrued && ts.AllocationID != "" {
		return ts.AllocationID, nil
	}
	if ts.Status != StatusPendingAccrual {
		return "", &ConflictError{Code: CodeInvalidTransition,
			Message: fmt.Sprintf("timesheet %s is %s, not pending accrual", id, ts.Status)}
	}
	if ts.ApprovedBy == "" {
		return "", &ConflictError{Code: CodeInvalidTransition,
			Message: fmt.Sprintf("timesheet %s has not been approved", id)}
	}
	if !ts.TOILDays.IsPositive() {
		return "", &ConflictError{Code: CodeInvalidTransition,
			Message: fmt.Sprintf("timesheet %s has no TOIL days to accrue", id)}
	}
	return "", nil
}

// Accrue creates or tops up the employee's open allocation for the given
// approved timesheet and appends the credit entry. Idempotent: a timesheet
// that is already Accrued returns its existing allocation.
func (m *AccrualManager) Accrue(ctx context.Context, id TimesheetID) (AllocationID, error) {
	ts, err := m.Store.GetTimesheet(ctx, id)
	if err != nil {
		return "", &InfrastructureError{Op: "load timesheet", Err: err}
	}
	// Pre-lock screen only. Two workers delivering the same job can both pass
	// here; the re-read under the lock below is what keeps the second one
	// from double-crediting.
	if done, err := accruable(ts, id); done != "" || err != nil {
		return done, err
	}

	var allocID AllocationID
	lockErr := m.Locker.WithEmployeeLock(ctx, ts.EmployeeID, func() error {
		return m.Store.WithTx(ctx, func(s Store) error {
			// Authoritative re-check: nothing read before the lock is trusted.
			ts, err := s.GetTimesheet(ctx, id)
			if err != nil {
				return &InfrastructureError{Op: "load timesheet", Err: err}
			}
			if done, err := accruable(ts, id); done != "" || err != nil {
				allocID = done
				return err
			}

			today := m.Now()
			grant := ts.TOILDays.Ceil()

			alloc, err := s.OpenAllocation(ctx, ts.EmployeeID, today)
			if err != nil {
				return &InfrastructureError{Op: "find open allocation", Err: err}
			}
			if alloc == nil {
				alloc = &Allocation{
					ID:         NewAllocationID(),
					EmployeeID: ts.EmployeeID,
					FromDate:   today,
					ToDate:     today.AddMonths(ValidityMonths),
					IsTOIL:     true,
				}
			}
			alloc.NewLeavesAllocated = alloc.NewLeavesAllocated.Add(grant)
			alloc.SourceTimesheets = append(alloc.SourceTimesheets, ts.ID)
			if err := s.PutAllocation(ctx, alloc); err != nil {
				return &InfrastructureError{Op: "commit allocation", Err: err}
			}

			credit := LedgerEntry{
				ID:              NewEntryID(),
				EmployeeID:      ts.EmployeeID,
				AllocationID:    alloc.ID,
				TransactionType: TxTimesheet,
				TransactionRef:  string(ts.ID),
				Leaves:          grant,
				FromDate:        alloc.FromDate,
				ToDate:          alloc.ToDate,
				PostedAt:        today,
			}
			if err := s.AppendEntries(ctx, []LedgerEntry{credit}); err != nil {
				return &InfrastructureError{Op: "append credit entry", Err: err}
			}

			ts.AllocationID = alloc.ID
			ts.Status = StatusAccrued
			if err := s.PutTimesheet(ctx, ts); err != nil {
				return &InfrastructureError{Op: "confirm timesheet accrual", Err: err}
			}

			allocID = alloc.ID
			return nil
		})
	})
	if lockErr != nil {
		m.compensate(ctx, id)
		m.Log.Error().
			Str("timesheet", string(id)).
			Err(lockErr).
			Msg("accrual failed, rolled back")
		if IsRetryable(lockErr) || IsClientError(lockErr) || IsNotFound(lockErr) {
			return "", lockErr
		}
		return "", &InfrastructureError{Op: "accrual transaction", Err: lockErr}
	}

	m.Log.Info().
		Str("timesheet", string(id)).
		Str("allocation", string(allocID)).
		Msg("toil accrued")
	return allocID, nil
}

// compensate restores the timesheet to its pre-accrual shape. The transaction
// rollback already discarded the allocation and ledger writes; this guards the
// timesheet record itself against any partial confirmation.
func (m *AccrualManager) compensate(ctx context.Context, id TimesheetID) {
	ts, err := m.Store.GetTimesheet(ctx, id)
	if err != nil || ts == nil {
		return
	}
	if ts.Status == StatusAccrued || ts.AllocationID != "" {
		ts.Status = StatusPendingAccrual
		ts.AllocationID = ""
		if err := m.Store.PutTimesheet(ctx, ts); err != nil {
			m.Log.Error().Str("timesheet", string(id)).Err(err).Msg("compensating revert failed")
		}
	}
}
