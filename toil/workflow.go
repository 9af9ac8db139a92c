/*
workflow.go - Timesheet state machine

PURPOSE:
  Governs Draft → Pending Accrual → {Accrued, Rejected} → Cancelled and the
  supervisor-authorization guards. Approval does not write the ledger itself:
  it records the decision and enqueues an accrual command; the timesheet stays
  Pending Accrual until the background job confirms Accrued or the failure
  path reverts it.

GUARDS:
  Entering Accrued (via approval), each failing with its own code:
    1. employee has a supervisor assigned        -> toil.supervisor_missing
    2. the supervisor record exists              -> toil.supervisor_missing
    3. the supervisor has a linked identity      -> toil.supervisor_identity_missing
    4. the supervisor's account is enabled       -> toil.supervisor_disabled
    5. caller is that identity or a privileged   -> toil.not_supervisor
       role

  Entering Cancelled: the linked allocation must show zero consumption;
  otherwise the error names the consumed amount.

IDEMPOTENCY:
  Replaying an already-applied approval, rejection, or cancellation returns
  the current state rather than erroring. A duplicate submit is a conflict.

SEE ALSO:
  - accrual.go: the job this state machine enqueues
*/
package toil

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Decision is the supervisor's verdict on a pending timesheet.
type Decision string

const (
	DecisionApproved Decision = "approved"
	DecisionRejected Decision = "rejected"
)

// AccrualEnqueuer dispatches an accrual command to the background worker
// pool. Dispatch happens after the triggering transition has committed.
type AccrualEnqueuer interface {
	EnqueueAccrual(id TimesheetID)
}

// Workflow drives timesheet transitions.
type Workflow struct {
	Store TxStore
	Queue AccrualEnqueuer
	Log   zerolog.Logger
	Now   func() Date
}

func NewWorkflow(store TxStore, queue AccrualEnqueuer, log zerolog.Logger) *Workflow {
	return &Workflow{Store: store, Queue: queue, Log: log, Now: Today}
}

// =============================================================================
// PREVIEW (read-only)
// =============================================================================

// TOILPreview is the computed accrual a draft would produce.
type TOILPreview struct {
	TOILHours decimal.Decimal
	TOILDays  decimal.Decimal
	Breakdown []TOILBreakdownLine
}

// Preview computes TOIL figures without persisting anything.
func (w *Workflow) Preview(ctx context.Context, id TimesheetID) (*TOILPreview, error) {
	ts, err := w.loadTimesheet(ctx, id)
	if err != nil {
		return nil, err
	}
	hours := ComputeTOILHours(ts.Logs)
	return &TOILPreview{
		TOILHours: hours,
		TOILDays:  TOILDaysFromHours(hours),
		Breakdown: Breakdown(ts.Logs),
	}, nil
}

// =============================================================================
// SUBMIT
// =============================================================================

// SubmitForApproval moves a draft to Pending Accrual. A draft computing to
// zero TOIL hours becomes Not Applicable: no allocation will ever be created
// for it, and that is not an error.
func (w *Workflow) SubmitForApproval(ctx context.Context, caller Identity, id TimesheetID) (*Timesheet, error) {
	ts, err := w.loadTimesheet(ctx, id)
	if err != nil {
		return nil, err
	}

	switch ts.Status {
	case StatusDraft:
		// fall through
	case StatusPendingAccrual, StatusNotApplicable:
		return nil, &ConflictError{Code: CodeDuplicateSubmit,
			Message: fmt.Sprintf("timesheet %s is already submitted", id)}
	default:
		return nil, w.invalidTransition(ts, "submit")
	}

	ts.Recompute()
	if ts.TOILHours.IsPositive() {
		ts.Status = StatusPendingAccrual
	} else {
		ts.Status = StatusNotApplicable
	}
	ts.SubmittedAt = w.Now()

	if err := w.Store.PutTimesheet(ctx, ts); err != nil {
		return nil, &InfrastructureError{Op: "submit timesheet", Err: err}
	}

	w.Log.Info().
		Str("timesheet", string(id)).
		Str("status", string(ts.Status)).
		Str("toil_hours", ts.TOILHours.String()).
		Msg("timesheet submitted")
	return ts, nil
}

// =============================================================================
// APPROVAL / REJECTION
// =============================================================================

// SetApproval records the supervisor's decision. Approval enqueues the
// allocation ledger job and returns immediately; the timesheet is confirmed
// Accrued only once that job commits.
func (w *Workflow) SetApproval(ctx context.Context, caller Identity, id TimesheetID, decision Decision, reason string) (*Timesheet, error) {
	if decision != DecisionApproved && decision != DecisionRejected {
		return nil, &ValidationError{Code: CodeInvalidInput,
			Message: fmt.Sprintf("unknown decision %q", decision)}
	}

	ts, err := w.loadTimesheet(ctx, id)
	if err != nil {
		return nil, err
	}

	// Replays pass through the same guard chain: re-enqueueing accrual is
	// not something an unauthorized caller gets to do.
	if err := w.authorizeApprover(ctx, caller, ts.EmployeeID); err != nil {
		return nil, err
	}

	// Idempotent replay: the transition has already been applied.
	switch {
	case decision == DecisionApproved && ts.Status == StatusAccrued:
		return ts, nil
	case decision == DecisionApproved && ts.Status == StatusPendingAccrual && ts.ApprovedBy != "":
		// Approved but accrual not confirmed yet. Re-enqueue so a lost job
		// is recovered; accrual itself is idempotent.
		w.Queue.EnqueueAccrual(ts.ID)
		return ts, nil
	case decision == DecisionRejected && ts.Status == StatusRejected:
		return ts, nil
	}

	if ts.Status != StatusPendingAccrual {
		return nil, w.invalidTransition(ts, string(decision))
	}

	ts.DecidedAt = w.Now()
	if decision == DecisionRejected {
		ts.Status = StatusRejected
		ts.RejectionReason = reason
	} else {
		// Status stays Pending Accrual until the job confirms.
		ts.ApprovedBy = caller.ID
	}

	if err := w.Store.PutTimesheet(ctx, ts); err != nil {
		return nil, &InfrastructureError{Op: "record approval decision", Err: err}
	}

	if decision == DecisionApproved {
		w.Queue.EnqueueAccrual(ts.ID)
	}

	w.Log.Info().
		Str("timesheet", string(id)).
		Str("decision", string(decision)).
		Str("caller", caller.ID).
		Msg("approval recorded")
	return ts, nil
}

// authorizeApprover runs the approval guard chain. Each condition fails
// independently with its own code so the client can tell the user exactly
// what to fix.
func (w *Workflow) authorizeApprover(ctx context.Context, caller Identity, employeeID EmployeeID) error {
	emp, err := w.Store.GetEmployee(ctx, employeeID)
	if err != nil {
		return &InfrastructureError{Op: "load employee", Err: err}
	}
	if emp == nil {
		return &NotFoundError{Kind: "employee", ID: string(employeeID)}
	}

	if emp.SupervisorID == "" {
		return &ValidationError{Code: CodeSupervisorMissing,
			Message: fmt.Sprintf("employee %s has no supervisor assigned; set one before approving", emp.ID)}
	}

	sup, err := w.Store.GetEmployee(ctx, emp.SupervisorID)
	if err != nil {
		return &InfrastructureError{Op: "load supervisor", Err: err}
	}
	if sup == nil {
		return &ValidationError{Code: CodeSupervisorMissing,
			Message: fmt.Sprintf("supervisor %s of employee %s does not exist", emp.SupervisorID, emp.ID)}
	}
	if sup.IdentityID == "" {
		return &ValidationError{Code: CodeSupervisorIdentityMissing,
			Message: fmt.Sprintf("supervisor %s has no linked user account", sup.ID)}
	}
	if !sup.Enabled {
		return &ValidationError{Code: CodeSupervisorDisabled,
			Message: fmt.Sprintf("supervisor %s's account is disabled", sup.ID)}
	}

	if caller.ID != sup.IdentityID && !caller.HasRole(RoleHRManager) {
		return &PermissionError{Code: CodeNotSupervisor, CallerID: caller.ID,
			Message: fmt.Sprintf("only supervisor %s may decide this timesheet", sup.ID)}
	}
	return nil
}

// =============================================================================
// CANCELLATION
// =============================================================================

// Cancel withdraws a timesheet. Before accrual this is a plain status change.
// After accrual the linked allocation must show zero consumption; the
// timesheet's own contribution is then reversed out of the allocation and the
// ledger, leaving other contributing timesheets' credit intact.
func (w *Workflow) Cancel(ctx context.Context, caller Identity, id TimesheetID) (*Timesheet, error) {
	ts, err := w.loadTimesheet(ctx, id)
	if err != nil {
		return nil, err
	}

	switch ts.Status {
	case StatusCancelled:
		return ts, nil // idempotent replay
	case StatusDraft, StatusNotApplicable, StatusPendingAccrual:
		ts.Status = StatusCancelled
		if err := w.Store.PutTimesheet(ctx, ts); err != nil {
			return nil, &InfrastructureError{Op: "cancel timesheet", Err: err}
		}
		return ts, nil
	case StatusAccrued:
		// fall through to the ledger-aware path
	default:
		return nil, w.invalidTransition(ts, "cancel")
	}

	err = w.Store.WithTx(ctx, func(s Store) error {
		alloc, err := s.GetAllocation(ctx, ts.AllocationID)
		if err != nil {
			return &InfrastructureError{Op: "load allocation", Err: err}
		}
		if alloc == nil {
			return &NotFoundError{Kind: "allocation", ID: string(ts.AllocationID)}
		}

		entries, err := s.EntriesByAllocation(ctx, alloc.ID)
		if err != nil {
			return &InfrastructureError{Op: "load allocation entries", Err: err}
		}

		consumed := decimal.Zero
		contribution := decimal.Zero
		for _, e := range entries {
			if e.IsDebit() {
				consumed = consumed.Add(e.Leaves.Neg())
			}
			if e.IsCredit() && e.TransactionType == TxTimesheet && e.TransactionRef == string(ts.ID) {
				contribution = contribution.Add(e.Leaves)
			}
		}
		if !consumed.IsZero() {
			return &ConsumedAllocationError{AllocationID: alloc.ID, Consumed: consumed}
		}

		if contribution.IsPositive() {
			now := w.Now()
			reversal := LedgerEntry{
				ID:              NewEntryID(),
				EmployeeID:      ts.EmployeeID,
				AllocationID:    alloc.ID,
				TransactionType: TxTimesheetCancel,
				TransactionRef:  string(ts.ID),
				Leaves:          contribution.Neg(),
				FromDate:        alloc.FromDate,
				ToDate:          alloc.ToDate,
				PostedAt:        now,
			}
			if err := s.AppendEntries(ctx, []LedgerEntry{reversal}); err != nil {
				return &InfrastructureError{Op: "append cancellation reversal", Err: err}
			}

			alloc.NewLeavesAllocated = alloc.NewLeavesAllocated.Sub(contribution)
			alloc.SourceTimesheets = removeTimesheet(alloc.SourceTimesheets, ts.ID)
			if err := s.PutAllocation(ctx, alloc); err != nil {
				return &InfrastructureError{Op: "update allocation", Err: err}
			}
		}

		ts.Status = StatusCancelled
		if err := s.PutTimesheet(ctx, ts); err != nil {
			return &InfrastructureError{Op: "cancel timesheet", Err: err}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	w.Log.Info().
		Str("timesheet", string(id)).
		Str("caller", caller.ID).
		Msg("timesheet cancelled")
	return ts, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func (w *Workflow) loadTimesheet(ctx context.Context, id TimesheetID) (*Timesheet, error) {
	ts, err := w.Store.GetTimesheet(ctx, id)
	if err != nil {
		return nil, &InfrastructureError{Op: "load timesheet", Err: err}
	}
	if ts == nil {
		return nil, &NotFoundError{Kind: "timesheet", ID: string(id)}
	}
	return ts, nil
}

func (w *Workflow) invalidTransition(ts *Timesheet, action string) error {
	return &ConflictError{Code: CodeInvalidTransition,
		Message: fmt.Sprintf("cannot %s timesheet %s in status %s", action, ts.ID, ts.Status)}
}

func removeTimesheet(ids []TimesheetID, id TimesheetID) []TimesheetID {
	out := ids[:0]
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}
