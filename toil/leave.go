/*
leave.go - Leave application submission (the consumption path)

PURPOSE:
  A leave application draws on the TOIL balance. Requested days must not
  exceed the balance at submission time; the draw is split across allocations
  in the FIFO order the consumption tracker dictates, and one debit entry is
  recorded per allocation drawn.

  Debits and the application record commit atomically. After the commit the
  contributing timesheets of each drawn allocation move to Partially Used or
  Fully Used.
*/
package toil

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

type LeaveService struct {
	Store   TxStore
	Locker  Locker
	Tracker *ConsumptionTracker
	Log     zerolog.Logger
	Now     func() Date
}

func NewLeaveService(store TxStore, locker Locker, log zerolog.Logger) *LeaveService {
	return &LeaveService{
		Store:   store,
		Locker:  locker,
		Tracker: NewConsumptionTracker(store),
		Log:     log,
		Now:     Today,
	}
}

// LeaveRequest is the input to Apply.
type LeaveRequest struct {
	EmployeeID EmployeeID
	FromDate   Date
	ToDate     Date
	TotalDays  decimal.Decimal
}

// Apply validates the request against the current balance, records the debit
// entries FIFO, and persists the application.
func (s *LeaveService) Apply(ctx context.Context, caller Identity, req LeaveRequest) (*LeaveApplication, error) {
	if !req.TotalDays.IsPositive() {
		return nil, &ValidationError{Code: CodeInvalidInput, Message: "total days must be positive"}
	}
	if req.ToDate.Before(req.FromDate) {
		return nil, &ValidationError{Code: CodeInvalidInput,
			Message: fmt.Sprintf("to date %s is before from date %s", req.ToDate, req.FromDate)}
	}

	emp, err := s.Store.GetEmployee(ctx, req.EmployeeID)
	if err != nil {
		return nil, &InfrastructureError{Op: "load employee", Err: err}
	}
	if emp == nil {
		return nil, &NotFoundError{Kind: "employee", ID: string(req.EmployeeID)}
	}

	app := &LeaveApplication{
		ID:         NewLeaveApplicationID(),
		EmployeeID: req.EmployeeID,
		FromDate:   req.FromDate,
		ToDate:     req.ToDate,
		TotalDays:  req.TotalDays,
		Status:     LeaveSubmitted,
		AppliedBy:  caller.ID,
		AppliedAt:  s.Now(),
	}

	// The employee lock keeps the plan valid until the debits commit:
	// a concurrent accrual cannot reshuffle the FIFO order underneath us.
	err = s.Locker.WithEmployeeLock(ctx, req.EmployeeID, func() error {
		draws, err := s.Tracker.PlanConsumption(ctx, req.EmployeeID, req.TotalDays)
		if err != nil {
			return err
		}
		app.Draws = draws

		return s.Store.WithTx(ctx, func(store Store) error {
			entries := make([]LedgerEntry, 0, len(draws))
			for _, d := range draws {
				alloc, err := store.GetAllocation(ctx, d.AllocationID)
				if err != nil {
					return &InfrastructureError{Op: "load allocation", Err: err}
				}
				if alloc == nil {
					return &NotFoundError{Kind: "allocation", ID: string(d.AllocationID)}
				}
				entries = append(entries, LedgerEntry{
					ID:              NewEntryID(),
					EmployeeID:      req.EmployeeID,
					AllocationID:    d.AllocationID,
					TransactionType: TxLeaveApplication,
					TransactionRef:  string(app.ID),
					Leaves:          d.Days.Neg(),
					FromDate:        alloc.FromDate,
					ToDate:          alloc.ToDate,
					PostedAt:        app.AppliedAt,
				})
			}
			if err := store.AppendEntries(ctx, entries); err != nil {
				return &InfrastructureError{Op: "append debit entries", Err: err}
			}
			if err := store.PutLeaveApplication(ctx, app); err != nil {
				return &InfrastructureError{Op: "save leave application", Err: err}
			}
			for _, d := range draws {
				if err := s.refreshUsageStatus(ctx, store, d.AllocationID); err != nil {
					return err
				}
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	s.Log.Info().
		Str("leave_application", string(app.ID)).
		Str("employee", string(req.EmployeeID)).
		Str("days", req.TotalDays.String()).
		Int("allocations_drawn", len(app.Draws)).
		Msg("leave applied against toil balance")
	return app, nil
}

// refreshUsageStatus moves contributing timesheets between Accrued,
// Partially Used, and Fully Used based on the allocation's remaining balance.
func (s *LeaveService) refreshUsageStatus(ctx context.Context, store Store, id AllocationID) error {
	alloc, err := store.GetAllocation(ctx, id)
	if err != nil {
		return &InfrastructureError{Op: "load allocation", Err: err}
	}
	if alloc == nil {
		return &NotFoundError{Kind: "allocation", ID: string(id)}
	}
	entries, err := store.EntriesByAllocation(ctx, id)
	if err != nil {
		return &InfrastructureError{Op: "load allocation entries", Err: err}
	}

	balance := decimal.Zero
	consumed := decimal.Zero
	for _, e := range entries {
		if e.IsDebit() {
			consumed = consumed.Add(e.Leaves.Neg())
		}
		if e.IsExpired {
			continue
		}
		balance = balance.Add(e.Leaves)
	}

	var status TOILStatus
	switch {
	case consumed.IsZero():
		status = StatusAccrued
	case balance.IsPositive():
		status = StatusPartiallyUsed
	default:
		status = StatusFullyUsed
	}

	for _, tsID := range alloc.SourceTimesheets {
		ts, err := store.GetTimesheet(ctx, tsID)
		if err != nil {
			return &InfrastructureError{Op: "load timesheet", Err: err}
		}
		if ts == nil {
			continue
		}
		switch ts.Status {
		case StatusAccrued, StatusPartiallyUsed, StatusFullyUsed:
			if ts.Status != status {
				ts.Status = status
				if err := store.PutTimesheet(ctx, ts); err != nil {
					return &InfrastructureError{Op: "update timesheet usage status", Err: err}
				}
			}
		}
	}
	return nil
}
