/*
Package sqlite provides the SQLite-backed implementation of the storage
interfaces.

INTERFACES IMPLEMENTED:
  toil.TxStore: per-entity repositories plus atomic multi-record transactions
  toil.Locker:  the per-employee accrual lock

APPEND-ONLY ENFORCEMENT:
  ledger_entries has no UPDATE path except the is_expired flag and no DELETE
  path at all. Corrections are reversing entries.

KEY TABLES:
  employees          supervisor and identity links for the approval guard
  timesheets         workflow state plus derived TOIL figures
  time_logs          owned exclusively by their timesheet, replaced on save
  allocations        TOIL grants with their six-month validity window
  allocation_sources contributing timesheets in accrual order
  ledger_entries     the signed, immutable balance records
  leave_applications / leave_draws  consumption records

WAL MODE:
  Opened with WAL so balance reads never block the single writer.

USAGE:
  store, err := sqlite.New("./data/toil.db")   // ":memory:" for tests
  defer store.Close()
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/warp/toil-engine/toil"
)

const dateLayout = "2006-01-02"

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store implements toil.TxStore and toil.Locker on SQLite.
type Store struct {
	db    *sql.DB
	q     querier // db outside a transaction, *sql.Tx inside
	locks *lockRegistry
}

// New opens (or creates) the database at path and migrates the schema.
// Use ":memory:" for an in-memory database.
func New(path string) (*Store, error) {
	// _txlock=immediate makes BEGIN take the write lock up front, so a
	// read-modify-write transaction cannot be upgraded out from under us.
	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_journal_mode=WAL&_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite supports one writer; a second connection would surface
	// "database is locked" instead of queueing.
	db.SetMaxOpenConns(1)

	s := &Store{db: db, locks: newLockRegistry()}
	s.q = db
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS employees (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		supervisor_id TEXT,
		identity_id TEXT,
		enabled INTEGER NOT NULL DEFAULT 1
	);

	CREATE TABLE IF NOT EXISTS timesheets (
		id TEXT PRIMARY KEY,
		employee_id TEXT NOT NULL REFERENCES employees(id),
		status TEXT NOT NULL,
		toil_hours TEXT NOT NULL DEFAULT '0',
		toil_days TEXT NOT NULL DEFAULT '0',
		allocation_id TEXT,
		approved_by TEXT,
		rejection_reason TEXT,
		submitted_at TEXT,
		decided_at TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_timesheets_employee
		ON timesheets(employee_id);

	CREATE TABLE IF NOT EXISTS time_logs (
		id TEXT NOT NULL,
		timesheet_id TEXT NOT NULL REFERENCES timesheets(id),
		seq INTEGER NOT NULL,
		log_date TEXT NOT NULL,
		hours TEXT NOT NULL,
		is_billable INTEGER NOT NULL,
		activity TEXT,
		PRIMARY KEY (timesheet_id, seq)
	);

	CREATE TABLE IF NOT EXISTS allocations (
		id TEXT PRIMARY KEY,
		employee_id TEXT NOT NULL REFERENCES employees(id),
		from_date TEXT NOT NULL,
		to_date TEXT NOT NULL,
		new_leaves_allocated TEXT NOT NULL DEFAULT '0',
		is_toil INTEGER NOT NULL DEFAULT 1
	);

	CREATE INDEX IF NOT EXISTS idx_allocations_employee
		ON allocations(employee_id, from_date);

	CREATE TABLE IF NOT EXISTS allocation_sources (
		allocation_id TEXT NOT NULL REFERENCES allocations(id),
		seq INTEGER NOT NULL,
		timesheet_id TEXT NOT NULL,
		PRIMARY KEY (allocation_id, seq)
	);

	-- Append-only. is_expired is the only column ever updated.
	CREATE TABLE IF NOT EXISTS ledger_entries (
		id TEXT PRIMARY KEY,
		employee_id TEXT NOT NULL,
		allocation_id TEXT NOT NULL,
		tx_type TEXT NOT NULL,
		tx_ref TEXT NOT NULL,
		leaves TEXT NOT NULL,
		is_expired INTEGER NOT NULL DEFAULT 0,
		from_date TEXT NOT NULL,
		to_date TEXT NOT NULL,
		posted_at TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_ledger_employee_posted
		ON ledger_entries(employee_id, posted_at);
	CREATE INDEX IF NOT EXISTS idx_ledger_allocation
		ON ledger_entries(allocation_id);

	CREATE TABLE IF NOT EXISTS leave_applications (
		id TEXT PRIMARY KEY,
		employee_id TEXT NOT NULL REFERENCES employees(id),
		from_date TEXT NOT NULL,
		to_date TEXT NOT NULL,
		total_days TEXT NOT NULL,
		status TEXT NOT NULL,
		applied_by TEXT,
		applied_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS leave_draws (
		leave_id TEXT NOT NULL REFERENCES leave_applications(id),
		seq INTEGER NOT NULL,
		allocation_id TEXT NOT NULL,
		days TEXT NOT NULL,
		PRIMARY KEY (leave_id, seq)
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// EMPLOYEES
// =============================================================================

func (s *Store) GetEmployee(ctx context.Context, id toil.EmployeeID) (*toil.Employee, error) {
	row := s.q.QueryRowContext(ctx, `
		SELECT id, name, COALESCE(supervisor_id, ''), COALESCE(identity_id, ''), enabled
		FROM employees WHERE id = ?`, id)
	var e toil.Employee
	var enabled int
	err := row.Scan(&e.ID, &e.Name, &e.SupervisorID, &e.IdentityID, &enabled)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load employee: %w", err)
	}
	e.Enabled = enabled != 0
	return &e, nil
}

func (s *Store) PutEmployee(ctx context.Context, e *toil.Employee) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO employees (id, name, supervisor_id, identity_id, enabled)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			supervisor_id = excluded.supervisor_id,
			identity_id = excluded.identity_id,
			enabled = excluded.enabled`,
		e.ID, e.Name, string(e.SupervisorID), e.IdentityID, boolInt(e.Enabled))
	if err != nil {
		return fmt.Errorf("failed to save employee: %w", err)
	}
	return nil
}

func (s *Store) ListEmployees(ctx context.Context) ([]toil.Employee, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT id, name, COALESCE(supervisor_id, ''), COALESCE(identity_id, ''), enabled
		FROM employees ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list employees: %w", err)
	}
	defer rows.Close()

	var out []toil.Employee
	for rows.Next() {
		var e toil.Employee
		var enabled int
		if err := rows.Scan(&e.ID, &e.Name, &e.SupervisorID, &e.IdentityID, &enabled); err != nil {
			return nil, err
		}
		e.Enabled = enabled != 0
		out = append(out, e)
	}
	return out, rows.Err()
}

// =============================================================================
// TIMESHEETS
// =============================================================================

func (s *Store) GetTimesheet(ctx context.Context, id toil.TimesheetID) (*toil.Timesheet, error) {
	row := s.q.QueryRowContext(ctx, `
		SELECT id, employee_id, status, toil_hours, toil_days,
		       COALESCE(allocation_id, ''), COALESCE(approved_by, ''),
		       COALESCE(rejection_reason, ''), COALESCE(submitted_at, ''), COALESCE(decided_at, '')
		FROM timesheets WHERE id = ?`, id)

	var t toil.Timesheet
	var hours, days, submitted, decided string
	err := row.Scan(&t.ID, &t.EmployeeID, &t.Status, &hours, &days,
		&t.AllocationID, &t.ApprovedBy, &t.RejectionReason, &submitted, &decided)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load timesheet: %w", err)
	}
	if t.TOILHours, err = decimal.NewFromString(hours); err != nil {
		return nil, fmt.Errorf("corrupt toil_hours for %s: %w", id, err)
	}
	if t.TOILDays, err = decimal.NewFromString(days); err != nil {
		return nil, fmt.Errorf("corrupt toil_days for %s: %w", id, err)
	}
	if t.SubmittedAt, err = parseDate(submitted); err != nil {
		return nil, err
	}
	if t.DecidedAt, err = parseDate(decided); err != nil {
		return nil, err
	}

	if t.Logs, err = s.loadLogs(ctx, id); err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *Store) loadLogs(ctx context.Context, id toil.TimesheetID) ([]toil.TimeLog, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT id, log_date, hours, is_billable, COALESCE(activity, '')
		FROM time_logs WHERE timesheet_id = ? ORDER BY seq`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load time logs: %w", err)
	}
	defer rows.Close()

	var logs []toil.TimeLog
	for rows.Next() {
		var l toil.TimeLog
		var date, hours string
		var billable int
		if err := rows.Scan(&l.ID, &date, &hours, &billable, &l.Activity); err != nil {
			return nil, err
		}
		if l.Date, err = parseDate(date); err != nil {
			return nil, err
		}
		if l.Hours, err = decimal.NewFromString(hours); err != nil {
			return nil, err
		}
		l.IsBillable = billable != 0
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

func (s *Store) PutTimesheet(ctx context.Context, t *toil.Timesheet) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO timesheets
			(id, employee_id, status, toil_hours, toil_days, allocation_id,
			 approved_by, rejection_reason, submitted_at, decided_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			toil_hours = excluded.toil_hours,
			toil_days = excluded.toil_days,
			allocation_id = excluded.allocation_id,
			approved_by = excluded.approved_by,
			rejection_reason = excluded.rejection_reason,
			submitted_at = excluded.submitted_at,
			decided_at = excluded.decided_at`,
		t.ID, t.EmployeeID, t.Status, t.TOILHours.String(), t.TOILDays.String(),
		string(t.AllocationID), t.ApprovedBy, t.RejectionReason,
		formatDate(t.SubmittedAt), formatDate(t.DecidedAt))
	if err != nil {
		return fmt.Errorf("failed to save timesheet: %w", err)
	}

	// Logs are owned exclusively by the timesheet; replace on save.
	if _, err := s.q.ExecContext(ctx, `DELETE FROM time_logs WHERE timesheet_id = ?`, t.ID); err != nil {
		return fmt.Errorf("failed to replace time logs: %w", err)
	}
	for i, l := range t.Logs {
		_, err := s.q.ExecContext(ctx, `
			INSERT INTO time_logs (id, timesheet_id, seq, log_date, hours, is_billable, activity)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			l.ID, t.ID, i, formatDate(l.Date), l.Hours.String(), boolInt(l.IsBillable), l.Activity)
		if err != nil {
			return fmt.Errorf("failed to save time log: %w", err)
		}
	}
	return nil
}

func (s *Store) TimesheetsByEmployee(ctx context.Context, id toil.EmployeeID) ([]toil.Timesheet, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT id FROM timesheets WHERE employee_id = ? ORDER BY id`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to list timesheets: %w", err)
	}
	defer rows.Close()

	var ids []toil.TimesheetID
	for rows.Next() {
		var tid toil.TimesheetID
		if err := rows.Scan(&tid); err != nil {
			return nil, err
		}
		ids = append(ids, tid)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]toil.Timesheet, 0, len(ids))
	for _, tid := range ids {
		t, err := s.GetTimesheet(ctx, tid)
		if err != nil {
			return nil, err
		}
		if t != nil {
			out = append(out, *t)
		}
	}
	return out, nil
}

// =============================================================================
// ALLOCATIONS
// =============================================================================

func (s *Store) GetAllocation(ctx context.Context, id toil.AllocationID) (*toil.Allocation, error) {
	row := s.q.QueryRowContext(ctx, `
		SELECT id, employee_id, from_date, to_date, new_leaves_allocated, is_toil
		FROM allocations WHERE id = ?`, id)
	a, err := scanAllocation(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if a.SourceTimesheets, err = s.loadSources(ctx, a.ID); err != nil {
		return nil, err
	}
	return a, nil
}

func (s *Store) loadSources(ctx context.Context, id toil.AllocationID) ([]toil.TimesheetID, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT timesheet_id FROM allocation_sources WHERE allocation_id = ? ORDER BY seq`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load allocation sources: %w", err)
	}
	defer rows.Close()

	var out []toil.TimesheetID
	for rows.Next() {
		var tid toil.TimesheetID
		if err := rows.Scan(&tid); err != nil {
			return nil, err
		}
		out = append(out, tid)
	}
	return out, rows.Err()
}

func (s *Store) PutAllocation(ctx context.Context, a *toil.Allocation) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO allocations (id, employee_id, from_date, to_date, new_leaves_allocated, is_toil)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			new_leaves_allocated = excluded.new_leaves_allocated`,
		a.ID, a.EmployeeID, formatDate(a.FromDate), formatDate(a.ToDate),
		a.NewLeavesAllocated.String(), boolInt(a.IsTOIL))
	if err != nil {
		return fmt.Errorf("failed to save allocation: %w", err)
	}

	if _, err := s.q.ExecContext(ctx, `DELETE FROM allocation_sources WHERE allocation_id = ?`, a.ID); err != nil {
		return fmt.Errorf("failed to replace allocation sources: %w", err)
	}
	for i, tid := range a.SourceTimesheets {
		_, err := s.q.ExecContext(ctx, `
			INSERT INTO allocation_sources (allocation_id, seq, timesheet_id) VALUES (?, ?, ?)`,
			a.ID, i, tid)
		if err != nil {
			return fmt.Errorf("failed to save allocation source: %w", err)
		}
	}
	return nil
}

func (s *Store) AllocationsByEmployee(ctx context.Context, id toil.EmployeeID) ([]toil.Allocation, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT id, employee_id, from_date, to_date, new_leaves_allocated, is_toil
		FROM allocations WHERE employee_id = ? ORDER BY from_date`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to list allocations: %w", err)
	}
	defer rows.Close()

	var out []toil.Allocation
	for rows.Next() {
		a, err := scanAllocation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range out {
		if out[i].SourceTimesheets, err = s.loadSources(ctx, out[i].ID); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (s *Store) OpenAllocation(ctx context.Context, id toil.EmployeeID, on toil.Date) (*toil.Allocation, error) {
	day := formatDate(on)
	row := s.q.QueryRowContext(ctx, `
		SELECT id, employee_id, from_date, to_date, new_leaves_allocated, is_toil
		FROM allocations
		WHERE employee_id = ? AND is_toil = 1 AND from_date <= ? AND to_date >= ?
		ORDER BY from_date LIMIT 1`, id, day, day)
	a, err := scanAllocation(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if a.SourceTimesheets, err = s.loadSources(ctx, a.ID); err != nil {
		return nil, err
	}
	return a, nil
}

type rowScanner interface{ Scan(dest ...any) error }

func scanAllocation(r rowScanner) (*toil.Allocation, error) {
	var a toil.Allocation
	var from, to, allocated string
	var isTOIL int
	err := r.Scan(&a.ID, &a.EmployeeID, &from, &to, &allocated, &isTOIL)
	if err != nil {
		return nil, err
	}
	if a.FromDate, err = parseDate(from); err != nil {
		return nil, err
	}
	if a.ToDate, err = parseDate(to); err != nil {
		return nil, err
	}
	if a.NewLeavesAllocated, err = decimal.NewFromString(allocated); err != nil {
		return nil, fmt.Errorf("corrupt new_leaves_allocated for %s: %w", a.ID, err)
	}
	a.IsTOIL = isTOIL != 0
	return &a, nil
}

// =============================================================================
// LEDGER
// =============================================================================

func (s *Store) AppendEntries(ctx context.Context, entries []toil.LedgerEntry) error {
	for _, e := range entries {
		_, err := s.q.ExecContext(ctx, `
			INSERT INTO ledger_entries
				(id, employee_id, allocation_id, tx_type, tx_ref, leaves,
				 is_expired, from_date, to_date, posted_at, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			e.ID, e.EmployeeID, e.AllocationID, e.TransactionType, e.TransactionRef,
			e.Leaves.String(), boolInt(e.IsExpired), formatDate(e.FromDate),
			formatDate(e.ToDate), formatDate(e.PostedAt),
			time.Now().UTC().Format(time.RFC3339Nano))
		if err != nil {
			return fmt.Errorf("failed to append ledger entry: %w", err)
		}
	}
	return nil
}

const entryColumns = `id, employee_id, allocation_id, tx_type, tx_ref, leaves,
	is_expired, from_date, to_date, posted_at`

func (s *Store) EntriesByEmployee(ctx context.Context, id toil.EmployeeID) ([]toil.LedgerEntry, error) {
	return s.queryEntries(ctx, `
		SELECT `+entryColumns+` FROM ledger_entries
		WHERE employee_id = ? ORDER BY posted_at, created_at`, id)
}

func (s *Store) EntriesByAllocation(ctx context.Context, id toil.AllocationID) ([]toil.LedgerEntry, error) {
	return s.queryEntries(ctx, `
		SELECT `+entryColumns+` FROM ledger_entries
		WHERE allocation_id = ? ORDER BY posted_at, created_at`, id)
}

func (s *Store) EntriesInRange(ctx context.Context, id toil.EmployeeID, from, to toil.Date) ([]toil.LedgerEntry, error) {
	return s.queryEntries(ctx, `
		SELECT `+entryColumns+` FROM ledger_entries
		WHERE employee_id = ? AND posted_at >= ? AND posted_at <= ?
		ORDER BY posted_at, created_at`, id, formatDate(from), formatDate(to))
}

func (s *Store) queryEntries(ctx context.Context, query string, args ...any) ([]toil.LedgerEntry, error) {
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query ledger entries: %w", err)
	}
	defer rows.Close()

	var out []toil.LedgerEntry
	for rows.Next() {
		var e toil.LedgerEntry
		var leaves, from, to, posted string
		var expired int
		err := rows.Scan(&e.ID, &e.EmployeeID, &e.AllocationID, &e.TransactionType,
			&e.TransactionRef, &leaves, &expired, &from, &to, &posted)
		if err != nil {
			return nil, err
		}
		if e.Leaves, err = decimal.NewFromString(leaves); err != nil {
			return nil, fmt.Errorf("corrupt leaves for entry %s: %w", e.ID, err)
		}
		if e.FromDate, err = parseDate(from); err != nil {
			return nil, err
		}
		if e.ToDate, err = parseDate(to); err != nil {
			return nil, err
		}
		if e.PostedAt, err = parseDate(posted); err != nil {
			return nil, err
		}
		e.IsExpired = expired != 0
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) MarkExpired(ctx context.Context, id toil.EntryID) error {
	_, err := s.q.ExecContext(ctx,
		`UPDATE ledger_entries SET is_expired = 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to mark entry expired: %w", err)
	}
	return nil
}

// =============================================================================
// LEAVE APPLICATIONS
// =============================================================================

func (s *Store) GetLeaveApplication(ctx context.Context, id toil.LeaveApplicationID) (*toil.LeaveApplication, error) {
	row := s.q.QueryRowContext(ctx, `
		SELECT id, employee_id, from_date, to_date, total_days, status,
		       COALESCE(applied_by, ''), applied_at
		FROM leave_applications WHERE id = ?`, id)

	var a toil.LeaveApplication
	var from, to, days, applied string
	err := row.Scan(&a.ID, &a.EmployeeID, &from, &to, &days, &a.Status, &a.AppliedBy, &applied)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load leave application: %w", err)
	}
	if a.FromDate, err = parseDate(from); err != nil {
		return nil, err
	}
	if a.ToDate, err = parseDate(to); err != nil {
		return nil, err
	}
	if a.AppliedAt, err = parseDate(applied); err != nil {
		return nil, err
	}
	if a.TotalDays, err = decimal.NewFromString(days); err != nil {
		return nil, fmt.Errorf("corrupt total_days for %s: %w", id, err)
	}

	rows, err := s.q.QueryContext(ctx, `
		SELECT allocation_id, days FROM leave_draws WHERE leave_id = ? ORDER BY seq`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load leave draws: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var d toil.AllocationDraw
		var drawDays string
		if err := rows.Scan(&d.AllocationID, &drawDays); err != nil {
			return nil, err
		}
		if d.Days, err = decimal.NewFromString(drawDays); err != nil {
			return nil, err
		}
		a.Draws = append(a.Draws, d)
	}
	return &a, rows.Err()
}

func (s *Store) PutLeaveApplication(ctx context.Context, a *toil.LeaveApplication) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO leave_applications
			(id, employee_id, from_date, to_date, total_days, status, applied_by, applied_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET status = excluded.status`,
		a.ID, a.EmployeeID, formatDate(a.FromDate), formatDate(a.ToDate),
		a.TotalDays.String(), a.Status, a.AppliedBy, formatDate(a.AppliedAt))
	if err != nil {
		return fmt.Errorf("failed to save leave application: %w", err)
	}

	if _, err := s.q.ExecContext(ctx, `DELETE FROM leave_draws WHERE leave_id = ?`, a.ID); err != nil {
		return fmt.Errorf("failed to replace leave draws: %w", err)
	}
	for i, d := range a.Draws {
		_, err := s.q.ExecContext(ctx, `
			INSERT INTO leave_draws (leave_id, seq, allocation_id, days) VALUES (?, ?, ?, ?)`,
			a.ID, i, d.AllocationID, d.Days.String())
		if err != nil {
			return fmt.Errorf("failed to save leave draw: %w", err)
		}
	}
	return nil
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx runs fn against a transactional view of the store. An error from fn
// rolls back every write made through the view.
func (s *Store) WithTx(ctx context.Context, fn func(toil.Store) error) error {
	if _, ok := s.q.(*sql.Tx); ok {
		// Already inside a transaction; SQLite has no nesting.
		return fn(s)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	child := &Store{db: s.db, q: tx, locks: s.locks}
	if err := fn(child); err != nil {
		return err
	}
	return tx.Commit()
}

// =============================================================================
// EMPLOYEE LOCK
// =============================================================================

type lockRegistry struct {
	mu    sync.Mutex
	locks map[toil.EmployeeID]*sync.Mutex
}

func newLockRegistry() *lockRegistry {
	return &lockRegistry{locks: make(map[toil.EmployeeID]*sync.Mutex)}
}

func (r *lockRegistry) get(id toil.EmployeeID) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.locks[id]
	if !ok {
		l = &sync.Mutex{}
		r.locks[id] = l
	}
	return l
}

// WithEmployeeLock serializes fn per employee. Contention blocks; it never
// skips.
func (s *Store) WithEmployeeLock(_ context.Context, id toil.EmployeeID, fn func() error) error {
	l := s.locks.get(id)
	l.Lock()
	defer l.Unlock()
	return fn()
}

// =============================================================================
// HELPERS
// =============================================================================

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func formatDate(d toil.Date) string {
	if d.IsZero() {
		return ""
	}
	return d.Time().Format(dateLayout)
}

func parseDate(s string) (toil.Date, error) {
	if s == "" {
		return toil.Date{}, nil
	}
	return toil.ParseDate(s)
}

var (
	_ toil.TxStore = (*Store)(nil)
	_ toil.Locker  = (*Store)(nil)
)
