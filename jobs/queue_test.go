package jobs_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/toil-engine/jobs"
	"github.com/warp/toil-engine/store/memory"
	"github.com/warp/toil-engine/toil"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

var testDay = toil.NewDate(2026, time.March, 10)

func newQueue(store *memory.Store) *jobs.AccrualQueue {
	mgr := toil.NewAccrualManager(store, store, zerolog.Nop())
	mgr.Now = func() toil.Date { return testDay }
	q := jobs.NewAccrualQueue(mgr, 2, zerolog.Nop())
	q.RetryDelay = 10 * time.Millisecond
	return q
}

func seedApproved(t *testing.T, store *memory.Store, id toil.TimesheetID) {
	t.Helper()
	ts := &toil.Timesheet{
		ID:         id,
		EmployeeID: "emp-1",
		Logs: []toil.TimeLog{{
			ID:    "l1",
			Date:  testDay.AddDays(-3),
			Hours: decimal.NewFromInt(8),
		}},
		Status:     toil.StatusPendingAccrual,
		ApprovedBy: "login-sup",
	}
	ts.Recompute()
	require.NoError(t, store.PutTimesheet(context.Background(), ts))
}

func awaitEvent(t *testing.T, q *jobs.AccrualQueue) jobs.AccrualEvent {
	t.Helper()
	select {
	case ev := <-q.Events():
		return ev
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for accrual event")
		return jobs.AccrualEvent{}
	}
}

// =============================================================================
// TESTS
// =============================================================================

func TestQueue_ProcessesAccrual(t *testing.T) {
	store := memory.New()
	q := newQueue(store)
	q.Start()
	defer q.Stop()

	seedApproved(t, store, "ts-1")
	q.EnqueueAccrual("ts-1")

	ev := awaitEvent(t, q)
	require.NoError(t, ev.Err)
	assert.Equal(t, toil.TimesheetID("ts-1"), ev.TimesheetID)
	assert.NotEmpty(t, ev.AllocationID)

	ts, err := store.GetTimesheet(context.Background(), "ts-1")
	require.NoError(t, err)
	assert.Equal(t, toil.StatusAccrued, ts.Status)
}

func TestQueue_RetriesInfrastructureFailures(t *testing.T) {
	// GIVEN: The first two write attempts fail transiently
	// WHEN: The command is processed
	// THEN: The queue retries until the write succeeds; one success event

	store := memory.New()
	q := newQueue(store)
	q.Start()
	defer q.Stop()

	seedApproved(t, store, "ts-1")

	failures := 2
	store.FailWrites = func(op string) error {
		if op == "AppendEntries" && failures > 0 {
			failures--
			return errors.New("transient write failure")
		}
		return nil
	}

	q.EnqueueAccrual("ts-1")

	ev := awaitEvent(t, q)
	require.NoError(t, ev.Err)
	assert.NotEmpty(t, ev.AllocationID)
	assert.Zero(t, failures, "both failing attempts should have been consumed")
}

func TestQueue_DoesNotRetryConflicts(t *testing.T) {
	// A draft timesheet can never accrue; retrying cannot fix that, so the
	// failure event arrives immediately with a conflict error.
	store := memory.New()
	q := newQueue(store)
	q.Start()
	defer q.Stop()

	require.NoError(t, store.PutTimesheet(context.Background(), &toil.Timesheet{
		ID:         "ts-draft",
		EmployeeID: "emp-1",
		Status:     toil.StatusDraft,
	}))

	q.EnqueueAccrual("ts-draft")

	ev := awaitEvent(t, q)
	require.Error(t, ev.Err)
	assert.True(t, errors.Is(ev.Err, toil.ErrConflict))
	assert.False(t, toil.IsRetryable(ev.Err))
}

func TestQueue_GivesUpAfterMaxAttempts(t *testing.T) {
	store := memory.New()
	q := newQueue(store)
	q.MaxAttempts = 3
	q.Start()
	defer q.Stop()

	seedApproved(t, store, "ts-1")
	store.FailWrites = func(op string) error {
		if op == "AppendEntries" {
			return errors.New("persistent write failure")
		}
		return nil
	}

	q.EnqueueAccrual("ts-1")

	ev := awaitEvent(t, q)
	require.Error(t, ev.Err)
	assert.True(t, toil.IsRetryable(ev.Err), "the terminal event still carries the retryable error")

	// The timesheet is back in its pre-accrual shape, ready for a manual
	// re-approval replay.
	ts, err := store.GetTimesheet(context.Background(), "ts-1")
	require.NoError(t, err)
	assert.Equal(t, toil.StatusPendingAccrual, ts.Status)
	assert.Empty(t, ts.AllocationID)
}

func TestScheduler_RunsSweepImmediately(t *testing.T) {
	store := memory.New()
	require.NoError(t, store.PutEmployee(context.Background(), &toil.Employee{
		ID: "emp-1", Name: "emp-1", Enabled: true,
	}))

	job := toil.NewExpiryJob(store, zerolog.Nop())
	job.Now = func() toil.Date { return testDay }

	aged := &toil.Allocation{
		ID:         "a-aged",
		EmployeeID: "emp-1",
		FromDate:   testDay.AddMonths(-7),
		ToDate:     testDay.AddMonths(-1),
		IsTOIL:     true,
	}
	require.NoError(t, store.PutAllocation(context.Background(), aged))
	require.NoError(t, store.AppendEntries(context.Background(), []toil.LedgerEntry{{
		ID:           "e-1",
		EmployeeID:   "emp-1",
		AllocationID: "a-aged",
		TransactionType: toil.TxTimesheet,
		TransactionRef:  "ts-1",
		Leaves:          decimal.NewFromInt(1),
		FromDate:        aged.FromDate,
		ToDate:          aged.ToDate,
		PostedAt:        aged.FromDate,
	}}))

	s := jobs.NewExpiryScheduler(job, zerolog.Nop())
	s.Interval = time.Hour
	s.Start()
	defer s.Stop()

	// The first sweep runs synchronously at start-up soon after Start.
	require.Eventually(t, func() bool {
		entries, err := store.EntriesByAllocation(context.Background(), "a-aged")
		return err == nil && len(entries) == 1 && entries[0].IsExpired
	}, 2*time.Second, 10*time.Millisecond)
}
