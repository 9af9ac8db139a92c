/*
store.go - Repository interfaces

PURPOSE:
  The contract between domain logic and persistence. Implementations live in
  store/memory (tests, dev) and store/sqlite (production).

APPEND-ONLY LEDGER CONTRACT:
  LedgerStore has no update or delete. The single permitted mutation is
  MarkExpired, which flips the IsExpired flag. Corrections are reversing
  entries. Balance reads are a pure fold over entries and need no locking.

TRANSACTIONS AND LOCKING:
  TxStore.WithTx runs a function against a transactional view; an error rolls
  every write back. Locker.WithEmployeeLock serializes accrual for one
  employee without blocking others. Contention blocks until the holder
  releases; it never skips.
*/
package toil

import "context"

// =============================================================================
// PER-ENTITY REPOSITORIES
// =============================================================================

type EmployeeStore interface {
	GetEmployee(ctx context.Context, id EmployeeID) (*Employee, error)
	PutEmployee(ctx context.Context, e *Employee) error
	ListEmployees(ctx context.Context) ([]Employee, error)
}

type TimesheetStore interface {
	GetTimesheet(ctx context.Context, id TimesheetID) (*Timesheet, error)
	PutTimesheet(ctx context.Context, t *Timesheet) error
	TimesheetsByEmployee(ctx context.Context, id EmployeeID) ([]Timesheet, error)
}

type AllocationStore interface {
	GetAllocation(ctx context.Context, id AllocationID) (*Allocation, error)
	PutAllocation(ctx context.Context, a *Allocation) error
	AllocationsByEmployee(ctx context.Context, id EmployeeID) ([]Allocation, error)

	// OpenAllocation returns the TOIL allocation whose validity window
	// contains the given day, or nil if none is open. At most one window is
	// open per employee; the accrual lock preserves that.
	OpenAllocation(ctx context.Context, id EmployeeID, on Date) (*Allocation, error)
}

type LedgerStore interface {
	// AppendEntries persists entries atomically. Append-only.
	AppendEntries(ctx context.Context, entries []LedgerEntry) error

	EntriesByEmployee(ctx context.Context, id EmployeeID) ([]LedgerEntry, error)
	EntriesByAllocation(ctx context.Context, id AllocationID) ([]LedgerEntry, error)

	// EntriesInRange returns an employee's entries with PostedAt in [from, to],
	// ordered by posting date.
	EntriesInRange(ctx context.Context, id EmployeeID, from, to Date) ([]LedgerEntry, error)

	// MarkExpired flips IsExpired on the entry. The only ledger mutation.
	MarkExpired(ctx context.Context, id EntryID) error
}

type LeaveApplicationStore interface {
	GetLeaveApplication(ctx context.Context, id LeaveApplicationID) (*LeaveApplication, error)
	PutLeaveApplication(ctx context.Context, a *LeaveApplication) error
}

// Store aggregates the per-entity repositories.
type Store interface {
	EmployeeStore
	TimesheetStore
	AllocationStore
	LedgerStore
	LeaveApplicationStore
}

// =============================================================================
// TRANSACTIONS AND LOCKING
// =============================================================================

// TxStore adds atomic multi-record transactions. If fn returns an error, all
// writes made through its Store argument are rolled back.
type TxStore interface {
	Store

	WithTx(ctx context.Context, fn func(Store) error) error
}

// Locker serializes accrual per employee. The lock is held only for the
// allocation read-modify-write; concurrent holders for different employees
// never block each other.
type Locker interface {
	WithEmployeeLock(ctx context.Context, id EmployeeID, fn func() error) error
}
