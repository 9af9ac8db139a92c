package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/toil-engine/api"
	"github.com/warp/toil-engine/store/memory"
	"github.com/warp/toil-engine/toil"
)

const testSecret = "test-secret"

// =============================================================================
// TEST HELPERS
// =============================================================================

type env struct {
	store  *memory.Store
	queue  *recordingQueue
	server *httptest.Server
}

type recordingQueue struct {
	enqueued []toil.TimesheetID
}

func (q *recordingQueue) EnqueueAccrual(id toil.TimesheetID) {
	q.enqueued = append(q.enqueued, id)
}

func newEnv(t *testing.T) *env {
	t.Helper()
	store := memory.New()
	queue := &recordingQueue{}

	wf := toil.NewWorkflow(store, queue, zerolog.Nop())
	leave := toil.NewLeaveService(store, store, zerolog.Nop())
	handler := api.NewHandler(store, wf, leave, zerolog.Nop())

	srv := httptest.NewServer(api.NewRouter(handler, testSecret, zerolog.Nop()))
	t.Cleanup(srv.Close)
	return &env{store: store, queue: queue, server: srv}
}

func token(t *testing.T, sub string, roles ...string) string {
	t.Helper()
	claims := jwt.MapClaims{
		"sub": sub,
		"exp": time.Now().Add(time.Hour).Unix(),
	}
	if len(roles) > 0 {
		list := make([]any, len(roles))
		for i, r := range roles {
			list[i] = r
		}
		claims["roles"] = list
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return signed
}

// do issues an authenticated request and decodes the JSON response into out.
func (e *env) do(t *testing.T, method, path, bearer string, body any, out any) int {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, e.server.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func seedEmployee(t *testing.T, store *memory.Store, id, supervisor toil.EmployeeID, identityID string) {
	t.Helper()
	require.NoError(t, store.PutEmployee(context.Background(), &toil.Employee{
		ID:           id,
		Name:         string(id),
		SupervisorID: supervisor,
		IdentityID:   identityID,
		Enabled:      true,
	}))
}

// =============================================================================
// AUTHENTICATION
// =============================================================================

func TestAuth_RejectsMissingAndBadTokens(t *testing.T) {
	e := newEnv(t)

	var errResp struct {
		Code string `json:"code"`
	}
	status := e.do(t, http.MethodGet, "/api/employees/emp-1/balance", "", nil, &errResp)
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "auth.missing_token", errResp.Code)

	status = e.do(t, http.MethodGet, "/api/employees/emp-1/balance", "not-a-jwt", nil, &errResp)
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "auth.invalid_token", errResp.Code)
}

func TestHealthz_IsOpen(t *testing.T) {
	e := newEnv(t)
	resp, err := http.Get(e.server.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

// =============================================================================
// TIMESHEET LIFECYCLE OVER HTTP
// =============================================================================

func TestTimesheetLifecycle(t *testing.T) {
	// Create -> preview -> submit -> approve: the full interactive path.
	// Accrual itself is asynchronous, so approval leaves the timesheet in
	// pending_accrual and enqueues the job.
	e := newEnv(t)
	seedEmployee(t, e.store, "sup-1", "", "login-sup")
	seedEmployee(t, e.store, "emp-1", "sup-1", "login-emp")
	empToken := token(t, "login-emp")
	supToken := token(t, "login-sup")

	var created struct {
		ID        string `json:"id"`
		Status    string `json:"toil_status"`
		TOILHours string `json:"toil_hours"`
	}
	status := e.do(t, http.MethodPost, "/api/timesheets", empToken, map[string]any{
		"employee_id": "emp-1",
		"logs": []map[string]any{
			{"date": "2026-03-02", "hours": 6.0, "is_billable": false, "activity": "release support"},
			{"date": "2026-03-03", "hours": 8.0, "is_billable": true},
		},
	}, &created)
	require.Equal(t, http.StatusCreated, status)
	assert.Equal(t, "draft", created.Status)
	assert.Equal(t, "6", created.TOILHours)

	var preview struct {
		TOILDays  string `json:"toil_days"`
		Breakdown []struct {
			Counted bool `json:"counted"`
		} `json:"breakdown"`
	}
	status = e.do(t, http.MethodGet, "/api/timesheets/"+created.ID+"/preview", empToken, nil, &preview)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "0.75", preview.TOILDays)
	require.Len(t, preview.Breakdown, 2)
	assert.True(t, preview.Breakdown[0].Counted)
	assert.False(t, preview.Breakdown[1].Counted)

	var submitted struct {
		Status string `json:"toil_status"`
	}
	status = e.do(t, http.MethodPost, "/api/timesheets/"+created.ID+"/submit", empToken, nil, &submitted)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "pending_accrual", submitted.Status)

	var approved struct {
		Status string `json:"toil_status"`
	}
	status = e.do(t, http.MethodPost, "/api/timesheets/"+created.ID+"/approval", supToken,
		map[string]string{"decision": "approved"}, &approved)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "pending_accrual", approved.Status)
	assert.Equal(t, []toil.TimesheetID{toil.TimesheetID(created.ID)}, e.queue.enqueued)

	var listed []struct {
		ID     string `json:"id"`
		Status string `json:"toil_status"`
	}
	status = e.do(t, http.MethodGet, "/api/employees/emp-1/timesheets", empToken, nil, &listed)
	require.Equal(t, http.StatusOK, status)
	require.Len(t, listed, 1)
	assert.Equal(t, created.ID, listed[0].ID)
	assert.Equal(t, "pending_accrual", listed[0].Status)
}

func TestCreateTimesheet_AcceptsZeroHourLogs(t *testing.T) {
	// A zero-hour line is a legitimate entry; it simply never counts toward
	// TOIL. Negative hours are rejected outright.
	e := newEnv(t)
	seedEmployee(t, e.store, "emp-1", "", "login-emp")
	empToken := token(t, "login-emp")

	var created struct {
		Status    string `json:"toil_status"`
		TOILHours string `json:"toil_hours"`
	}
	status := e.do(t, http.MethodPost, "/api/timesheets", empToken, map[string]any{
		"employee_id": "emp-1",
		"logs": []map[string]any{
			{"date": "2026-03-02", "hours": 0.0, "is_billable": false, "activity": "on call, no pages"},
		},
	}, &created)
	require.Equal(t, http.StatusCreated, status)
	assert.Equal(t, "0", created.TOILHours)

	var errResp struct {
		Code string `json:"code"`
	}
	status = e.do(t, http.MethodPost, "/api/timesheets", empToken, map[string]any{
		"employee_id": "emp-1",
		"logs": []map[string]any{
			{"date": "2026-03-02", "hours": -1.0, "is_billable": false},
		},
	}, &errResp)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, toil.CodeInvalidInput, errResp.Code)
}

// =============================================================================
// ERROR MAPPING
// =============================================================================

func TestErrorMapping(t *testing.T) {
	e := newEnv(t)
	seedEmployee(t, e.store, "sup-1", "", "login-sup")
	seedEmployee(t, e.store, "emp-1", "sup-1", "login-emp")

	ts := &toil.Timesheet{
		ID:         "ts-1",
		EmployeeID: "emp-1",
		Logs:       []toil.TimeLog{{ID: "l1", Date: toil.NewDate(2026, time.March, 2), Hours: decimalHours(8)}},
		Status:     toil.StatusPendingAccrual,
	}
	ts.Recompute()
	require.NoError(t, e.store.PutTimesheet(context.Background(), ts))

	var errResp struct {
		Code string `json:"code"`
	}

	// Permission: an unrelated identity may not approve -> 403.
	status := e.do(t, http.MethodPost, "/api/timesheets/ts-1/approval", token(t, "login-stranger"),
		map[string]string{"decision": "approved"}, &errResp)
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, toil.CodeNotSupervisor, errResp.Code)

	// Conflict: duplicate submit -> 409.
	status = e.do(t, http.MethodPost, "/api/timesheets/ts-1/submit", token(t, "login-emp"), nil, &errResp)
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, toil.CodeDuplicateSubmit, errResp.Code)

	// Not found -> 404.
	status = e.do(t, http.MethodGet, "/api/timesheets/ghost", token(t, "login-emp"), nil, &errResp)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, toil.CodeNotFound, errResp.Code)

	// Validation: malformed decision -> 400.
	status = e.do(t, http.MethodPost, "/api/timesheets/ts-1/approval", token(t, "login-sup"),
		map[string]string{"decision": "perhaps"}, &errResp)
	assert.Equal(t, http.StatusBadRequest, status)

	// Validation: balance request for a missing employee -> 404.
	status = e.do(t, http.MethodGet, "/api/employees/ghost/balance", token(t, "login-emp"), nil, &errResp)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestHRManagerRoleApprovesOverHTTP(t *testing.T) {
	e := newEnv(t)
	seedEmployee(t, e.store, "sup-1", "", "login-sup")
	seedEmployee(t, e.store, "emp-1", "sup-1", "login-emp")

	ts := &toil.Timesheet{
		ID:         "ts-1",
		EmployeeID: "emp-1",
		Logs:       []toil.TimeLog{{ID: "l1", Date: toil.NewDate(2026, time.March, 2), Hours: decimalHours(8)}},
		Status:     toil.StatusPendingAccrual,
	}
	ts.Recompute()
	require.NoError(t, e.store.PutTimesheet(context.Background(), ts))

	var approved struct {
		Status string `json:"toil_status"`
	}
	status := e.do(t, http.MethodPost, "/api/timesheets/ts-1/approval",
		token(t, "login-hr", toil.RoleHRManager),
		map[string]string{"decision": "approved"}, &approved)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, []toil.TimesheetID{"ts-1"}, e.queue.enqueued)
}

// =============================================================================
// BALANCE AND LEAVE
// =============================================================================

func TestBalanceAndLeaveEndpoints(t *testing.T) {
	e := newEnv(t)
	seedEmployee(t, e.store, "emp-1", "", "login-emp")
	seedTestAllocation(t, e.store, "a-1", 2)

	empToken := token(t, "login-emp")

	var balance struct {
		Available string `json:"available"`
	}
	status := e.do(t, http.MethodGet, "/api/employees/emp-1/balance", empToken, nil, &balance)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "2", balance.Available)

	var allocs []struct {
		AllocationID string `json:"allocation_id"`
		Balance      string `json:"balance"`
	}
	status = e.do(t, http.MethodGet, "/api/employees/emp-1/allocations", empToken, nil, &allocs)
	require.Equal(t, http.StatusOK, status)
	require.Len(t, allocs, 1)
	assert.Equal(t, "a-1", allocs[0].AllocationID)

	var app struct {
		ID        string `json:"id"`
		TotalDays string `json:"total_days"`
		Draws     []struct {
			AllocationID string `json:"allocation_id"`
			Days         string `json:"days"`
		} `json:"draws"`
	}
	from := toil.Today().AddDays(7).String()
	to := toil.Today().AddDays(8).String()
	status = e.do(t, http.MethodPost, "/api/employees/emp-1/leave-applications", empToken,
		map[string]any{"from_date": from, "to_date": to, "total_days": 1.5}, &app)
	require.Equal(t, http.StatusCreated, status)
	require.Len(t, app.Draws, 1)
	assert.Equal(t, "1.5", app.Draws[0].Days)

	var fetched struct {
		ID        string `json:"id"`
		TotalDays string `json:"total_days"`
	}
	status = e.do(t, http.MethodGet, "/api/leave-applications/"+app.ID, empToken, nil, &fetched)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, app.ID, fetched.ID)
	assert.Equal(t, "1.5", fetched.TotalDays)

	// Over-drawing maps to 400 with the insufficient-balance code.
	var errResp struct {
		Code string `json:"code"`
	}
	status = e.do(t, http.MethodPost, "/api/employees/emp-1/leave-applications", empToken,
		map[string]any{"from_date": from, "to_date": to, "total_days": 5.0}, &errResp)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, toil.CodeInsufficientBalance, errResp.Code)

	status = e.do(t, http.MethodGet, "/api/leave-applications/ghost", empToken, nil, &errResp)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, toil.CodeNotFound, errResp.Code)

	var entries []struct {
		TransactionType string `json:"transaction_type"`
	}
	status = e.do(t, http.MethodGet, "/api/employees/emp-1/ledger", empToken, nil, &entries)
	require.Equal(t, http.StatusOK, status)
	require.Len(t, entries, 2)
	assert.Equal(t, string(toil.TxTimesheet), entries[0].TransactionType)
	assert.Equal(t, string(toil.TxLeaveApplication), entries[1].TransactionType)
}

func TestCreateEmployeeEndpoint(t *testing.T) {
	e := newEnv(t)

	var created struct {
		ID      string `json:"id"`
		Name    string `json:"name"`
		Enabled bool   `json:"enabled"`
	}
	status := e.do(t, http.MethodPost, "/api/employees", token(t, "login-hr", toil.RoleHRManager),
		map[string]any{"name": "Priya"}, &created)
	require.Equal(t, http.StatusCreated, status)
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, "Priya", created.Name)
	assert.True(t, created.Enabled)

	// Missing name fails validation -> 400.
	var errResp struct {
		Code string `json:"code"`
	}
	status = e.do(t, http.MethodPost, "/api/employees", token(t, "login-hr", toil.RoleHRManager),
		map[string]any{}, &errResp)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, toil.CodeInvalidInput, errResp.Code)
}

// =============================================================================
// SHARED FIXTURES
// =============================================================================

func decimalHours(n int64) decimal.Decimal { return decimal.NewFromInt(n) }

func seedTestAllocation(t *testing.T, store *memory.Store, id toil.AllocationID, creditDays int64) {
	t.Helper()
	ctx := context.Background()
	from := toil.Today().AddMonths(-1)
	alloc := &toil.Allocation{
		ID:                 id,
		EmployeeID:         "emp-1",
		FromDate:           from,
		ToDate:             from.AddMonths(toil.ValidityMonths),
		NewLeavesAllocated: decimal.NewFromInt(creditDays),
		IsTOIL:             true,
	}
	require.NoError(t, store.PutAllocation(ctx, alloc))
	require.NoError(t, store.AppendEntries(ctx, []toil.LedgerEntry{{
		ID:              toil.EntryID(fmt.Sprintf("credit-%s", id)),
		EmployeeID:      "emp-1",
		AllocationID:    id,
		TransactionType: toil.TxTimesheet,
		TransactionRef:  "ts-seed",
		Leaves:          decimal.NewFromInt(creditDays),
		FromDate:        alloc.FromDate,
		ToDate:          alloc.ToDate,
		PostedAt:        from,
	}}))
}
