package toil_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/toil-engine/store/memory"
	"github.com/warp/toil-engine/toil"
)

func newBalanceService(store *memory.Store) *toil.BalanceService {
	b := toil.NewBalanceService(store)
	b.Now = fixedNow(today)
	return b
}

func TestBalance_FoldsTheLedger(t *testing.T) {
	// GIVEN: 3 days accrued (1 of them expired), 0.5 consumed
	// THEN: available 1.5, accrued 3 (historical), consumed 0.5

	store := memory.New()
	svc := newBalanceService(store)
	ctx := context.Background()

	seedAllocation(t, store, "a-expired", today.AddMonths(-8), days(1))
	entries, err := store.EntriesByAllocation(ctx, "a-expired")
	require.NoError(t, err)
	require.NoError(t, store.MarkExpired(ctx, entries[0].ID))

	seedAllocation(t, store, "a-live", today.AddMonths(-2), days(2))
	debit(t, store, "a-live", days(0.5), today.AddDays(-1))

	report, err := svc.Balance(ctx, "emp-1")
	require.NoError(t, err)
	assert.Equal(t, "1.5", report.Available.String())
	assert.Equal(t, "3", report.TotalAccrued.String())
	assert.Equal(t, "0.5", report.TotalConsumed.String())
}

func TestBalance_ExpiringSoonCountsClosingWindows(t *testing.T) {
	// An allocation whose six-month window closes within 30 days contributes
	// its remaining balance to the expiring-soon figure.
	store := memory.New()
	svc := newBalanceService(store)
	ctx := context.Background()

	// Closes in ~10 days.
	seedAllocation(t, store, "a-closing", today.AddMonths(-6).AddDays(10), days(2))
	debit(t, store, "a-closing", days(0.5), today.AddDays(-1))
	// Closes in ~3 months.
	seedAllocation(t, store, "a-fresh", today.AddMonths(-3), days(4))

	report, err := svc.Balance(ctx, "emp-1")
	require.NoError(t, err)
	assert.Equal(t, "1.5", report.ExpiringSoon.String())
	assert.Equal(t, "5.5", report.Available.String())
}

func TestBalance_EmptyLedgerIsAllZero(t *testing.T) {
	store := memory.New()
	svc := newBalanceService(store)

	report, err := svc.Balance(context.Background(), "emp-none")
	require.NoError(t, err)
	assert.True(t, report.Available.IsZero())
	assert.True(t, report.TotalAccrued.IsZero())
	assert.True(t, report.TotalConsumed.IsZero())
	assert.True(t, report.ExpiringSoon.IsZero())
}

func TestLedger_OrderedByPostingDate(t *testing.T) {
	store := memory.New()
	svc := newBalanceService(store)
	ctx := context.Background()

	seedAllocation(t, store, "a-2", today.AddMonths(-1), days(2))
	seedAllocation(t, store, "a-1", today.AddMonths(-4), days(1))
	debit(t, store, "a-1", days(0.5), today)

	entries, err := svc.Ledger(ctx, "emp-1", toil.Date{}, toil.Date{})
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.True(t, entries[0].PostedAt.Equal(today.AddMonths(-4)))
	assert.True(t, entries[2].PostedAt.Equal(today))
}

func TestLedger_RangeBoundsAreInclusive(t *testing.T) {
	store := memory.New()
	svc := newBalanceService(store)
	ctx := context.Background()

	seedAllocation(t, store, "a-1", today.AddMonths(-4), days(1))
	seedAllocation(t, store, "a-2", today.AddMonths(-1), days(2))

	entries, err := svc.Ledger(ctx, "emp-1", today.AddMonths(-1), toil.Date{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, toil.AllocationID("a-2"), entries[0].AllocationID)

	entries, err = svc.Ledger(ctx, "emp-1", toil.Date{}, today.AddMonths(-4))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, toil.AllocationID("a-1"), entries[0].AllocationID)
}
