package api

import (
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/warp/toil-engine/toil"
)

var validate = validator.New()

// =============================================================================
// REQUESTS
// =============================================================================

type CreateEmployeeRequest struct {
	Name         string `json:"name" validate:"required"`
	SupervisorID string `json:"supervisor_id"`
	IdentityID   string `json:"identity_id"`
	Enabled      *bool  `json:"enabled"`
}

type TimeLogRequest struct {
	Date       string  `json:"date" validate:"required"`
	Hours      float64 `json:"hours" validate:"gte=0"`
	IsBillable bool    `json:"is_billable"`
	Activity   string  `json:"activity"`
}

type CreateTimesheetRequest struct {
	EmployeeID string           `json:"employee_id" validate:"required"`
	Logs       []TimeLogRequest `json:"logs" validate:"dive"`
}

type ApprovalRequest struct {
	Decision string `json:"decision" validate:"required,oneof=approved rejected"`
	Reason   string `json:"reason"`
}

type LeaveApplicationRequest struct {
	FromDate  string  `json:"from_date" validate:"required"`
	ToDate    string  `json:"to_date" validate:"required"`
	TotalDays float64 `json:"total_days" validate:"required,gt=0"`
}

// =============================================================================
// RESPONSES
// =============================================================================

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type EmployeeDTO struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	SupervisorID string `json:"supervisor_id,omitempty"`
	IdentityID   string `json:"identity_id,omitempty"`
	Enabled      bool   `json:"enabled"`
}

type TimesheetDTO struct {
	ID           string       `json:"id"`
	EmployeeID   string       `json:"employee_id"`
	Status       string       `json:"toil_status"`
	TOILHours    string       `json:"toil_hours"`
	TOILDays     string       `json:"toil_days"`
	AllocationID string       `json:"toil_allocation,omitempty"`
	Logs         []TimeLogDTO `json:"logs,omitempty"`
}

type TimeLogDTO struct {
	ID         string `json:"id"`
	Date       string `json:"date"`
	Hours      string `json:"hours"`
	IsBillable bool   `json:"is_billable"`
	Activity   string `json:"activity,omitempty"`
}

type PreviewDTO struct {
	TOILHours string             `json:"toil_hours"`
	TOILDays  string             `json:"toil_days"`
	Breakdown []BreakdownLineDTO `json:"breakdown"`
}

type BreakdownLineDTO struct {
	LogID    string `json:"log_id"`
	Date     string `json:"date"`
	Hours    string `json:"hours"`
	Billable bool   `json:"billable"`
	Counted  bool   `json:"counted"`
}

type BalanceDTO struct {
	Available     string `json:"available"`
	TotalAccrued  string `json:"total_accrued"`
	TotalConsumed string `json:"total_consumed"`
	ExpiringSoon  string `json:"expiring_soon"`
}

type LedgerEntryDTO struct {
	ID              string `json:"id"`
	AllocationID    string `json:"allocation_id"`
	TransactionType string `json:"transaction_type"`
	TransactionRef  string `json:"transaction_ref"`
	Leaves          string `json:"leaves"`
	IsExpired       bool   `json:"is_expired"`
	FromDate        string `json:"from_date"`
	ToDate          string `json:"to_date"`
	PostedAt        string `json:"posted_at"`
}

type AllocationBalanceDTO struct {
	AllocationID string `json:"allocation_id"`
	Balance      string `json:"balance"`
	FromDate     string `json:"from_date"`
	ToDate       string `json:"to_date"`
}

type LeaveApplicationDTO struct {
	ID         string    `json:"id"`
	EmployeeID string    `json:"employee_id"`
	FromDate   string    `json:"from_date"`
	ToDate     string    `json:"to_date"`
	TotalDays  string    `json:"total_days"`
	Status     string    `json:"status"`
	Draws      []DrawDTO `json:"draws"`
}

type DrawDTO struct {
	AllocationID string `json:"allocation_id"`
	Days         string `json:"days"`
}

// =============================================================================
// MAPPERS
// =============================================================================

func toEmployeeDTO(e *toil.Employee) EmployeeDTO {
	return EmployeeDTO{
		ID:           string(e.ID),
		Name:         e.Name,
		SupervisorID: string(e.SupervisorID),
		IdentityID:   e.IdentityID,
		Enabled:      e.Enabled,
	}
}

func toTimesheetDTO(t *toil.Timesheet) TimesheetDTO {
	dto := TimesheetDTO{
		ID:           string(t.ID),
		EmployeeID:   string(t.EmployeeID),
		Status:       string(t.Status),
		TOILHours:    t.TOILHours.String(),
		TOILDays:     t.TOILDays.String(),
		AllocationID: string(t.AllocationID),
	}
	for _, l := range t.Logs {
		dto.Logs = append(dto.Logs, TimeLogDTO{
			ID:         l.ID,
			Date:       l.Date.String(),
			Hours:      l.Hours.String(),
			IsBillable: l.IsBillable,
			Activity:   l.Activity,
		})
	}
	return dto
}

func toPreviewDTO(p *toil.TOILPreview) PreviewDTO {
	dto := PreviewDTO{
		TOILHours: p.TOILHours.String(),
		TOILDays:  p.TOILDays.String(),
		Breakdown: []BreakdownLineDTO{},
	}
	for _, l := range p.Breakdown {
		dto.Breakdown = append(dto.Breakdown, BreakdownLineDTO{
			LogID:    l.LogID,
			Date:     l.Date.String(),
			Hours:    l.Hours.String(),
			Billable: l.Billable,
			Counted:  l.Counted,
		})
	}
	return dto
}

func toLedgerEntryDTO(e toil.LedgerEntry) LedgerEntryDTO {
	return LedgerEntryDTO{
		ID:              string(e.ID),
		AllocationID:    string(e.AllocationID),
		TransactionType: string(e.TransactionType),
		TransactionRef:  e.TransactionRef,
		Leaves:          e.Leaves.String(),
		IsExpired:       e.IsExpired,
		FromDate:        e.FromDate.String(),
		ToDate:          e.ToDate.String(),
		PostedAt:        e.PostedAt.String(),
	}
}

func toLeaveApplicationDTO(a *toil.LeaveApplication) LeaveApplicationDTO {
	dto := LeaveApplicationDTO{
		ID:         string(a.ID),
		EmployeeID: string(a.EmployeeID),
		FromDate:   a.FromDate.String(),
		ToDate:     a.ToDate.String(),
		TotalDays:  a.TotalDays.String(),
		Status:     string(a.Status),
		Draws:      []DrawDTO{},
	}
	for _, d := range a.Draws {
		dto.Draws = append(dto.Draws, DrawDTO{
			AllocationID: string(d.AllocationID),
			Days:         d.Days.String(),
		})
	}
	return dto
}

func decimalFromFloat(f float64) decimal.Decimal { return decimal.NewFromFloat(f) }
