// Package memory provides an in-memory Store implementation for tests and
// development. It implements toil.TxStore and toil.Locker, with an injectable
// write-failure hook so tests can simulate mid-transaction persistence
// failures.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/warp/toil-engine/toil"
)

type Store struct {
	mu sync.RWMutex

	employees   map[toil.EmployeeID]toil.Employee
	timesheets  map[toil.TimesheetID]toil.Timesheet
	allocations map[toil.AllocationID]toil.Allocation
	entries     []toil.LedgerEntry
	leaves      map[toil.LeaveApplicationID]toil.LeaveApplication

	// txMu serializes transactions so rollback can restore a snapshot.
	txMu sync.Mutex

	lockMu  sync.Mutex
	empLock map[toil.EmployeeID]*sync.Mutex

	// FailWrites, when set, is consulted before every write with the
	// operation name ("PutTimesheet", "AppendEntries", ...). Returning a
	// non-nil error makes that write fail. Tests only.
	FailWrites func(op string) error
}

func New() *Store {
	return &Store{
		employees:   make(map[toil.EmployeeID]toil.Employee),
		timesheets:  make(map[toil.TimesheetID]toil.Timesheet),
		allocations: make(map[toil.AllocationID]toil.Allocation),
		leaves:      make(map[toil.LeaveApplicationID]toil.LeaveApplication),
		empLock:     make(map[toil.EmployeeID]*sync.Mutex),
	}
}

func (s *Store) failWrite(op string) error {
	if s.FailWrites != nil {
		return s.FailWrites(op)
	}
	return nil
}

// =============================================================================
// EMPLOYEES
// =============================================================================

func (s *Store) GetEmployee(_ context.Context, id toil.EmployeeID) (*toil.Employee, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.employees[id]
	if !ok {
		return nil, nil
	}
	return &e, nil
}

func (s *Store) PutEmployee(_ context.Context, e *toil.Employee) error {
	if err := s.failWrite("PutEmployee"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.employees[e.ID] = *e
	return nil
}

func (s *Store) ListEmployees(_ context.Context) ([]toil.Employee, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]toil.Employee, 0, len(s.employees))
	for _, e := range s.employees {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// =============================================================================
// TIMESHEETS
// =============================================================================

func (s *Store) GetTimesheet(_ context.Context, id toil.TimesheetID) (*toil.Timesheet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.timesheets[id]
	if !ok {
		return nil, nil
	}
	cp := t
	cp.Logs = append([]toil.TimeLog(nil), t.Logs...)
	return &cp, nil
}

func (s *Store) PutTimesheet(_ context.Context, t *toil.Timesheet) error {
	if err := s.failWrite("PutTimesheet"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *t
	cp.Logs = append([]toil.TimeLog(nil), t.Logs...)
	s.timesheets[t.ID] = cp
	return nil
}

func (s *Store) TimesheetsByEmployee(_ context.Context, id toil.EmployeeID) ([]toil.Timesheet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []toil.Timesheet
	for _, t := range s.timesheets {
		if t.EmployeeID == id {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// =============================================================================
// ALLOCATIONS
// =============================================================================

func (s *Store) GetAllocation(_ context.Context, id toil.AllocationID) (*toil.Allocation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.allocations[id]
	if !ok {
		return nil, nil
	}
	cp := a
	cp.SourceTimesheets = append([]toil.TimesheetID(nil), a.SourceTimesheets...)
	return &cp, nil
}

func (s *Store) PutAllocation(_ context.Context, a *toil.Allocation) error {
	if err := s.failWrite("PutAllocation"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *a
	cp.SourceTimesheets = append([]toil.TimesheetID(nil), a.SourceTimesheets...)
	s.allocations[a.ID] = cp
	return nil
}

func (s *Store) AllocationsByEmployee(_ context.Context, id toil.EmployeeID) ([]toil.Allocation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []toil.Allocation
	for _, a := range s.allocations {
		if a.EmployeeID == id {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FromDate.Before(out[j].FromDate) })
	return out, nil
}

func (s *Store) OpenAllocation(_ context.Context, id toil.EmployeeID, on toil.Date) (*toil.Allocation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, a := range s.allocations {
		if a.EmployeeID == id && a.IsTOIL && a.Open(on) {
			cp := a
			cp.SourceTimesheets = append([]toil.TimesheetID(nil), a.SourceTimesheets...)
			return &cp, nil
		}
	}
	return nil, nil
}

// =============================================================================
// LEDGER
// =============================================================================

func (s *Store) AppendEntries(_ context.Context, entries []toil.LedgerEntry) error {
	if err := s.failWrite("AppendEntries"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entries...)
	return nil
}

func (s *Store) EntriesByEmployee(_ context.Context, id toil.EmployeeID) ([]toil.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []toil.LedgerEntry
	for _, e := range s.entries {
		if e.EmployeeID == id {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *Store) EntriesByAllocation(_ context.Context, id toil.AllocationID) ([]toil.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []toil.LedgerEntry
	for _, e := range s.entries {
		if e.AllocationID == id {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *Store) EntriesInRange(_ context.Context, id toil.EmployeeID, from, to toil.Date) ([]toil.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []toil.LedgerEntry
	for _, e := range s.entries {
		if e.EmployeeID == id && e.PostedAt.AfterOrEqual(from) && e.PostedAt.BeforeOrEqual(to) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *Store) MarkExpired(_ context.Context, id toil.EntryID) error {
	if err := s.failWrite("MarkExpired"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.entries {
		if s.entries[i].ID == id {
			s.entries[i].IsExpired = true
			return nil
		}
	}
	return nil
}

// =============================================================================
// LEAVE APPLICATIONS
// =============================================================================

func (s *Store) GetLeaveApplication(_ context.Context, id toil.LeaveApplicationID) (*toil.LeaveApplication, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.leaves[id]
	if !ok {
		return nil, nil
	}
	cp := a
	cp.Draws = append([]toil.AllocationDraw(nil), a.Draws...)
	return &cp, nil
}

func (s *Store) PutLeaveApplication(_ context.Context, a *toil.LeaveApplication) error {
	if err := s.failWrite("PutLeaveApplication"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *a
	cp.Draws = append([]toil.AllocationDraw(nil), a.Draws...)
	s.leaves[a.ID] = cp
	return nil
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx runs fn and restores a snapshot of the whole store if it fails.
// Transactions are serialized, which is fine for tests and dev.
func (s *Store) WithTx(_ context.Context, fn func(toil.Store) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	snap := s.snapshot()
	if err := fn(s); err != nil {
		s.restore(snap)
		return err
	}
	return nil
}

type snapshot struct {
	employees   map[toil.EmployeeID]toil.Employee
	timesheets  map[toil.TimesheetID]toil.Timesheet
	allocations map[toil.AllocationID]toil.Allocation
	entries     []toil.LedgerEntry
	leaves      map[toil.LeaveApplicationID]toil.LeaveApplication
}

func (s *Store) snapshot() snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := snapshot{
		employees:   make(map[toil.EmployeeID]toil.Employee, len(s.employees)),
		timesheets:  make(map[toil.TimesheetID]toil.Timesheet, len(s.timesheets)),
		allocations: make(map[toil.AllocationID]toil.Allocation, len(s.allocations)),
		entries:     append([]toil.LedgerEntry(nil), s.entries...),
		leaves:      make(map[toil.LeaveApplicationID]toil.LeaveApplication, len(s.leaves)),
	}
	for k, v := range s.employees {
		snap.employees[k] = v
	}
	for k, v := range s.timesheets {
		v.Logs = append([]toil.TimeLog(nil), v.Logs...)
		snap.timesheets[k] = v
	}
	for k, v := range s.allocations {
		v.SourceTimesheets = append([]toil.TimesheetID(nil), v.SourceTimesheets...)
		snap.allocations[k] = v
	}
	for k, v := range s.leaves {
		v.Draws = append([]toil.AllocationDraw(nil), v.Draws...)
		snap.leaves[k] = v
	}
	return snap
}

func (s *Store) restore(snap snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.employees = snap.employees
	s.timesheets = snap.timesheets
	s.allocations = snap.allocations
	s.entries = snap.entries
	s.leaves = snap.leaves
}

// =============================================================================
// EMPLOYEE LOCK
// =============================================================================

// WithEmployeeLock serializes fn per employee. Contending callers block until
// the holder releases; they are never skipped.
func (s *Store) WithEmployeeLock(_ context.Context, id toil.EmployeeID, fn func() error) error {
	s.lockMu.Lock()
	l, ok := s.empLock[id]
	if !ok {
		l = &sync.Mutex{}
		s.empLock[id] = l
	}
	s.lockMu.Unlock()

	l.Lock()
	defer l.Unlock()
	return fn()
}

var (
	_ toil.TxStore = (*Store)(nil)
	_ toil.Locker  = (*Store)(nil)
)
