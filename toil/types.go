/*
Package toil implements compensatory time-off ("Time Off In Lieu") accounting:
accrual of leave credits from overtime timesheets, an append-only leave ledger,
first-in-first-out consumption, and rolling per-allocation expiry.

KEY CONCEPTS IN THIS FILE (types.go):
  - Employee: the credit holder, with an optional supervisor and linked identity
  - Timesheet: ordered overtime logs plus derived TOIL hours/days and status
  - Allocation: a bounded-validity grant of leave days, topped up while open
  - LedgerEntry: an immutable signed record; the ledger is the source of truth
  - LeaveApplication: consumption of ledger balance

DESIGN PRINCIPLES:
  1. Precision: decimal.Decimal for hours, days, and balances
  2. Ledger truth: an allocation's cached total is never authoritative;
     balance is always a fold over ledger entries
  3. Explicit identity: the caller is passed into every operation, never
     read from ambient state

SEE ALSO:
  - calc.go: TOIL hours calculator
  - workflow.go: Timesheet state machine and authorization guards
  - accrual.go: Allocation ledger manager
  - store.go: Repository interfaces
*/
package toil

import (
	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type EmployeeID string
type TimesheetID string
type AllocationID string
type EntryID string
type LeaveApplicationID string

// =============================================================================
// CALLER IDENTITY
// =============================================================================

// Identity is the authenticated caller of an operation. It is resolved by the
// transport layer (JWT middleware) and passed explicitly into the domain.
type Identity struct {
	ID    string
	Roles []string
}

type Role = string

const (
	// RoleHRManager may approve any timesheet regardless of supervisor link.
	RoleHRManager Role = "hr_manager"
)

func (i Identity) HasRole(role Role) bool {
	for _, r := range i.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// =============================================================================
// EMPLOYEE
// =============================================================================

// Employee holds the references the approval guard needs: who supervises this
// employee, and which login identity (if any) the employee maps to.
type Employee struct {
	ID           EmployeeID
	Name         string
	SupervisorID EmployeeID // empty = no supervisor assigned
	IdentityID   string     // linked login identity; empty = none
	Enabled      bool       // account enabled
}

// =============================================================================
// TIMESHEET
// =============================================================================

type TOILStatus string

const (
	StatusDraft          TOILStatus = "draft"
	StatusNotApplicable  TOILStatus = "not_applicable" // submitted with zero TOIL hours
	StatusPendingAccrual TOILStatus = "pending_accrual"
	StatusAccrued        TOILStatus = "accrued"
	StatusPartiallyUsed  TOILStatus = "partially_used"
	StatusFullyUsed      TOILStatus = "fully_used"
	StatusExpired        TOILStatus = "expired"
	StatusRejected       TOILStatus = "rejected"
	StatusCancelled      TOILStatus = "cancelled"
)

// TimeLog is a single overtime entry. Only non-billable hours earn TOIL.
type TimeLog struct {
	ID         string
	Date       Date
	Hours      decimal.Decimal
	IsBillable bool
	Activity   string
}

// Timesheet owns its time logs. TOILHours and TOILDays are derived on every
// draft save and on submission; they are never entered directly.
type Timesheet struct {
	ID         TimesheetID
	EmployeeID EmployeeID
	Logs       []TimeLog

	TOILHours decimal.Decimal // sum of non-billable hours, 2 decimals
	TOILDays  decimal.Decimal // TOILHours / 8, 3 decimals

	Status       TOILStatus
	AllocationID AllocationID // set once accrual commits; empty otherwise

	ApprovedBy      string // identity that approved, for audit
	RejectionReason string

	SubmittedAt Date
	DecidedAt   Date
}

// =============================================================================
// ALLOCATION
// =============================================================================

// Allocation is a TOIL credit grant with a fixed six-month validity window.
// Timesheets accrued while the window is open top up the same allocation
// rather than creating overlapping grants.
type Allocation struct {
	ID         AllocationID
	EmployeeID EmployeeID

	FromDate Date // creation day
	ToDate   Date // FromDate + 6 months

	// Cached total of granted days. Display only: the ledger is authoritative.
	NewLeavesAllocated decimal.Decimal

	// Timesheets that contributed, in accrual order. Per-timesheet
	// contributions are derived from credit ledger entries.
	SourceTimesheets []TimesheetID

	IsTOIL bool
}

// ValidityMonths is the rolling window length for TOIL allocations and for
// ledger-entry expiry. The cutoff is always relative to each allocation's own
// FromDate, never a shared calendar date.
const ValidityMonths = 6

// ExpiringSoonDays is the horizon for the "expiring soon" balance figure.
const ExpiringSoonDays = 30

// Open reports whether the allocation window contains the given day.
func (a *Allocation) Open(on Date) bool {
	return on.AfterOrEqual(a.FromDate) && on.BeforeOrEqual(a.ToDate)
}

// =============================================================================
// LEDGER ENTRY
// =============================================================================

type TransactionType string

const (
	TxTimesheet            TransactionType = "timesheet"             // credit
	TxTimesheetCancel      TransactionType = "timesheet_cancellation" // reversal of a credit
	TxLeaveApplication     TransactionType = "leave_application"     // debit
)

// LedgerEntry is an immutable signed quantity. Positive = credit, negative =
// debit. The only permitted mutation is flipping IsExpired; corrections are
// made via reversing entries, never edits.
type LedgerEntry struct {
	ID           EntryID
	EmployeeID   EmployeeID
	AllocationID AllocationID

	TransactionType TransactionType
	TransactionRef  string // timesheet or leave application ID

	Leaves    decimal.Decimal // signed days
	IsExpired bool

	FromDate Date // validity window copied from the allocation
	ToDate   Date
	PostedAt Date
}

func (e LedgerEntry) IsCredit() bool { return e.Leaves.IsPositive() }
func (e LedgerEntry) IsDebit() bool  { return e.Leaves.IsNegative() }

// =============================================================================
// LEAVE APPLICATION
// =============================================================================

type LeaveStatus string

const (
	LeaveSubmitted LeaveStatus = "submitted"
)

// AllocationDraw records how many days a leave application drew from one
// allocation. A single application may span allocations under FIFO.
type AllocationDraw struct {
	AllocationID AllocationID
	Days         decimal.Decimal
}

type LeaveApplication struct {
	ID         LeaveApplicationID
	EmployeeID EmployeeID
	FromDate   Date
	ToDate     Date
	TotalDays  decimal.Decimal
	Status     LeaveStatus
	Draws      []AllocationDraw
	AppliedBy  string
	AppliedAt  Date
}

// =============================================================================
// BALANCE REPORT
// =============================================================================

// BalanceReport answers "how much is available / expiring soon" for one
// employee. All figures in days.
type BalanceReport struct {
	Available     decimal.Decimal
	TotalAccrued  decimal.Decimal
	TotalConsumed decimal.Decimal
	ExpiringSoon  decimal.Decimal
}
