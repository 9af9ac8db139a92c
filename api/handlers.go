/*
handlers.go - HTTP handlers

RESPONSIBILITY:
  1. Decode and validate the request body
  2. Resolve the caller identity from the request context
  3. Call domain logic with that identity passed explicitly
  4. Serialize the response or map the error

ERROR MAPPING:
  400 validation, 403 permission, 404 not found, 409 conflict,
  503 retryable infrastructure failure. The body always carries the stable
  error code alongside the human-readable message.
*/
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/warp/toil-engine/toil"
)

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store    toil.TxStore
	Workflow *toil.Workflow
	Balance  *toil.BalanceService
	Tracker  *toil.ConsumptionTracker
	Leave    *toil.LeaveService
	Log      zerolog.Logger
}

func NewHandler(store toil.TxStore, wf *toil.Workflow, leave *toil.LeaveService, log zerolog.Logger) *Handler {
	return &Handler{
		Store:    store,
		Workflow: wf,
		Balance:  toil.NewBalanceService(store),
		Tracker:  toil.NewConsumptionTracker(store),
		Leave:    leave,
		Log:      log,
	}
}

// =============================================================================
// EMPLOYEES
// =============================================================================

func (h *Handler) CreateEmployee(w http.ResponseWriter, r *http.Request) {
	var req CreateEmployeeRequest
	if !h.decode(w, r, &req) {
		return
	}

	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}
	emp := &toil.Employee{
		ID:           toil.NewEmployeeID(),
		Name:         req.Name,
		SupervisorID: toil.EmployeeID(req.SupervisorID),
		IdentityID:   req.IdentityID,
		Enabled:      enabled,
	}
	if err := h.Store.PutEmployee(r.Context(), emp); err != nil {
		h.writeError(w, &toil.InfrastructureError{Op: "save employee", Err: err})
		return
	}
	writeJSON(w, http.StatusCreated, toEmployeeDTO(emp))
}

func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	id := toil.EmployeeID(chi.URLParam(r, "id"))
	if err := h.requireEmployee(w, r, id); err != nil {
		return
	}

	report, err := h.Balance.Balance(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, BalanceDTO{
		Available:     report.Available.String(),
		TotalAccrued:  report.TotalAccrued.String(),
		TotalConsumed: report.TotalConsumed.String(),
		ExpiringSoon:  report.ExpiringSoon.String(),
	})
}

func (h *Handler) GetLedger(w http.ResponseWriter, r *http.Request) {
	id := toil.EmployeeID(chi.URLParam(r, "id"))
	if err := h.requireEmployee(w, r, id); err != nil {
		return
	}

	var from, to toil.Date
	if s := r.URL.Query().Get("from"); s != "" {
		parsed, err := toil.ParseDate(s)
		if err != nil {
			h.writeError(w, &toil.ValidationError{Code: toil.CodeInvalidInput, Message: "invalid from date"})
			return
		}
		from = parsed
	}
	if s := r.URL.Query().Get("to"); s != "" {
		parsed, err := toil.ParseDate(s)
		if err != nil {
			h.writeError(w, &toil.ValidationError{Code: toil.CodeInvalidInput, Message: "invalid to date"})
			return
		}
		to = parsed
	}

	entries, err := h.Balance.Ledger(r.Context(), id, from, to)
	if err != nil {
		h.writeError(w, err)
		return
	}
	dtos := make([]LedgerEntryDTO, len(entries))
	for i, e := range entries {
		dtos[i] = toLedgerEntryDTO(e)
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) GetAvailableAllocations(w http.ResponseWriter, r *http.Request) {
	id := toil.EmployeeID(chi.URLParam(r, "id"))
	if err := h.requireEmployee(w, r, id); err != nil {
		return
	}

	available, err := h.Tracker.AvailableAllocations(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	dtos := make([]AllocationBalanceDTO, len(available))
	for i, ab := range available {
		dtos[i] = AllocationBalanceDTO{
			AllocationID: string(ab.Allocation.ID),
			Balance:      ab.Balance.String(),
			FromDate:     ab.Allocation.FromDate.String(),
			ToDate:       ab.Allocation.ToDate.String(),
		}
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) ListTimesheets(w http.ResponseWriter, r *http.Request) {
	id := toil.EmployeeID(chi.URLParam(r, "id"))
	if err := h.requireEmployee(w, r, id); err != nil {
		return
	}

	sheets, err := h.Store.TimesheetsByEmployee(r.Context(), id)
	if err != nil {
		h.writeError(w, &toil.InfrastructureError{Op: "list timesheets", Err: err})
		return
	}
	dtos := make([]TimesheetDTO, len(sheets))
	for i := range sheets {
		dtos[i] = toTimesheetDTO(&sheets[i])
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) GetLeaveApplication(w http.ResponseWriter, r *http.Request) {
	id := toil.LeaveApplicationID(chi.URLParam(r, "id"))
	app, err := h.Store.GetLeaveApplication(r.Context(), id)
	if err != nil {
		h.writeError(w, &toil.InfrastructureError{Op: "load leave application", Err: err})
		return
	}
	if app == nil {
		h.writeError(w, &toil.NotFoundError{Kind: "leave application", ID: string(id)})
		return
	}
	writeJSON(w, http.StatusOK, toLeaveApplicationDTO(app))
}

func (h *Handler) SubmitLeaveApplication(w http.ResponseWriter, r *http.Request) {
	id := toil.EmployeeID(chi.URLParam(r, "id"))
	var req LeaveApplicationRequest
	if !h.decode(w, r, &req) {
		return
	}

	from, err := toil.ParseDate(req.FromDate)
	if err != nil {
		h.writeError(w, &toil.ValidationError{Code: toil.CodeInvalidInput, Message: "invalid from_date"})
		return
	}
	to, err := toil.ParseDate(req.ToDate)
	if err != nil {
		h.writeError(w, &toil.ValidationError{Code: toil.CodeInvalidInput, Message: "invalid to_date"})
		return
	}

	app, err := h.Leave.Apply(r.Context(), IdentityFromContext(r.Context()), toil.LeaveRequest{
		EmployeeID: id,
		FromDate:   from,
		ToDate:     to,
		TotalDays:  decimalFromFloat(req.TotalDays),
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toLeaveApplicationDTO(app))
}

// =============================================================================
// TIMESHEETS
// =============================================================================

func (h *Handler) CreateTimesheet(w http.ResponseWriter, r *http.Request) {
	var req CreateTimesheetRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.requireEmployee(w, r, toil.EmployeeID(req.EmployeeID)); err != nil {
		return
	}

	ts := &toil.Timesheet{
		ID:         toil.NewTimesheetID(),
		EmployeeID: toil.EmployeeID(req.EmployeeID),
		Status:     toil.StatusDraft,
	}
	for i, l := range req.Logs {
		date, err := toil.ParseDate(l.Date)
		if err != nil {
			h.writeError(w, &toil.ValidationError{Code: toil.CodeInvalidInput, Message: "invalid log date"})
			return
		}
		ts.Logs = append(ts.Logs, toil.TimeLog{
			ID:         string(ts.ID) + "-" + strconv.Itoa(i),
			Date:       date,
			Hours:      decimalFromFloat(l.Hours),
			IsBillable: l.IsBillable,
			Activity:   l.Activity,
		})
	}
	ts.Recompute()

	if err := h.Store.PutTimesheet(r.Context(), ts); err != nil {
		h.writeError(w, &toil.InfrastructureError{Op: "save timesheet", Err: err})
		return
	}
	writeJSON(w, http.StatusCreated, toTimesheetDTO(ts))
}

func (h *Handler) GetTimesheet(w http.ResponseWriter, r *http.Request) {
	id := toil.TimesheetID(chi.URLParam(r, "id"))
	ts, err := h.Store.GetTimesheet(r.Context(), id)
	if err != nil {
		h.writeError(w, &toil.InfrastructureError{Op: "load timesheet", Err: err})
		return
	}
	if ts == nil {
		h.writeError(w, &toil.NotFoundError{Kind: "timesheet", ID: string(id)})
		return
	}
	writeJSON(w, http.StatusOK, toTimesheetDTO(ts))
}

func (h *Handler) PreviewTimesheet(w http.ResponseWriter, r *http.Request) {
	id := toil.TimesheetID(chi.URLParam(r, "id"))
	preview, err := h.Workflow.Preview(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toPreviewDTO(preview))
}

func (h *Handler) SubmitTimesheet(w http.ResponseWriter, r *http.Request) {
	id := toil.TimesheetID(chi.URLParam(r, "id"))
	ts, err := h.Workflow.SubmitForApproval(r.Context(), IdentityFromContext(r.Context()), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toTimesheetDTO(ts))
}

func (h *Handler) SetApproval(w http.ResponseWriter, r *http.Request) {
	id := toil.TimesheetID(chi.URLParam(r, "id"))
	var req ApprovalRequest
	if !h.decode(w, r, &req) {
		return
	}

	ts, err := h.Workflow.SetApproval(r.Context(), IdentityFromContext(r.Context()), id,
		toil.Decision(req.Decision), req.Reason)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toTimesheetDTO(ts))
}

func (h *Handler) CancelTimesheet(w http.ResponseWriter, r *http.Request) {
	id := toil.TimesheetID(chi.URLParam(r, "id"))
	ts, err := h.Workflow.Cancel(r.Context(), IdentityFromContext(r.Context()), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toTimesheetDTO(ts))
}

// =============================================================================
// HELPERS
// =============================================================================

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		h.writeError(w, &toil.ValidationError{Code: toil.CodeInvalidInput, Message: "malformed JSON body"})
		return false
	}
	if err := validate.Struct(dst); err != nil {
		h.writeError(w, &toil.ValidationError{Code: toil.CodeInvalidInput, Message: err.Error()})
		return false
	}
	return true
}

func (h *Handler) requireEmployee(w http.ResponseWriter, r *http.Request, id toil.EmployeeID) error {
	emp, err := h.Store.GetEmployee(r.Context(), id)
	if err != nil {
		wrapped := &toil.InfrastructureError{Op: "load employee", Err: err}
		h.writeError(w, wrapped)
		return wrapped
	}
	if emp == nil {
		nf := &toil.NotFoundError{Kind: "employee", ID: string(id)}
		h.writeError(w, nf)
		return nf
	}
	return nil
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, toil.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, toil.ErrPermission):
		status = http.StatusForbidden
	case errors.Is(err, toil.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, toil.ErrConflict):
		status = http.StatusConflict
	case errors.Is(err, toil.ErrInfrastructure):
		status = http.StatusServiceUnavailable
	}

	code := toil.ErrorCode(err)
	if code == "" {
		code = "toil.internal"
	}
	if status >= 500 {
		h.Log.Error().Err(err).Msg("request failed")
	}
	writeJSON(w, status, errorBody{Code: code, Message: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

