package toil_test

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/warp/toil-engine/store/memory"
	"github.com/warp/toil-engine/toil"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func nolog() zerolog.Logger { return zerolog.Nop() }

func date(year int, month time.Month, day int) toil.Date {
	return toil.NewDate(year, month, day)
}

func days(n float64) decimal.Decimal { return decimal.NewFromFloat(n) }

func hrs(n float64) decimal.Decimal { return decimal.NewFromFloat(n) }

// fixedNow pins a service clock to a single day.
func fixedNow(d toil.Date) func() toil.Date {
	return func() toil.Date { return d }
}

// queueRecorder captures enqueued accrual commands without running them.
type queueRecorder struct {
	enqueued []toil.TimesheetID
}

func (q *queueRecorder) EnqueueAccrual(id toil.TimesheetID) {
	q.enqueued = append(q.enqueued, id)
}

func newEmployee(store *memory.Store, id, supervisor toil.EmployeeID, identityID string) *toil.Employee {
	emp := &toil.Employee{
		ID:           id,
		Name:         string(id),
		SupervisorID: supervisor,
		IdentityID:   identityID,
		Enabled:      true,
	}
	_ = store.PutEmployee(context.Background(), emp)
	return emp
}

func nonBillableLog(id string, d toil.Date, hours float64) toil.TimeLog {
	return toil.TimeLog{ID: id, Date: d, Hours: hrs(hours), IsBillable: false, Activity: "incident response"}
}

func billableLog(id string, d toil.Date, hours float64) toil.TimeLog {
	return toil.TimeLog{ID: id, Date: d, Hours: hrs(hours), IsBillable: true, Activity: "client project"}
}
