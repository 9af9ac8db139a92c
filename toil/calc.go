/*
calc.go - TOIL hours calculator

PURPOSE:
  Pure conversion of time-log entries into TOIL hours and days. Only
  non-billable hours earn TOIL; billable work is paid, not compensated.

ROUNDING:
  hours: 2 decimals
  days:  hours / 8, 3 decimals
  Anything at or below zero floors to zero. A timesheet with no logs simply
  computes to zero; it is not an error.

No side effects. Recomputed on every draft save and on submission.
*/
package toil

import "github.com/shopspring/decimal"

var hoursPerDay = decimal.NewFromInt(8)

// TOILBreakdownLine is one log's contribution, for the preview endpoint.
type TOILBreakdownLine struct {
	LogID    string
	Date     Date
	Hours    decimal.Decimal
	Billable bool
	Counted  bool
}

// ComputeTOILHours sums non-billable hours across the logs, rounded to two
// decimals and floored at zero.
func ComputeTOILHours(logs []TimeLog) decimal.Decimal {
	total := decimal.Zero
	for _, l := range logs {
		if l.IsBillable {
			continue
		}
		total = total.Add(l.Hours)
	}
	total = total.Round(2)
	if total.IsNegative() {
		return decimal.Zero
	}
	return total
}

// TOILDaysFromHours converts hours to days at 8 hours per day, rounded to
// three decimals. Non-positive input yields zero.
func TOILDaysFromHours(hours decimal.Decimal) decimal.Decimal {
	if !hours.IsPositive() {
		return decimal.Zero
	}
	return hours.Div(hoursPerDay).Round(3)
}

// Recompute refreshes the derived TOIL fields on the timesheet.
func (t *Timesheet) Recompute() {
	t.TOILHours = ComputeTOILHours(t.Logs)
	t.TOILDays = TOILDaysFromHours(t.TOILHours)
}

// Breakdown returns the per-log contribution lines for the preview API.
func Breakdown(logs []TimeLog) []TOILBreakdownLine {
	lines := make([]TOILBreakdownLine, len(logs))
	for i, l := range logs {
		lines[i] = TOILBreakdownLine{
			LogID:    l.ID,
			Date:     l.Date,
			Hours:    l.Hours,
			Billable: l.IsBillable,
			Counted:  !l.IsBillable && l.Hours.IsPositive(),
		}
	}
	return lines
}
