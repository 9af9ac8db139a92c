package toil

import (
	"context"
	"sort"

	"github.com/shopspring/decimal"
)

// =============================================================================
// FIFO CONSUMPTION TRACKER
// =============================================================================

// AllocationBalance pairs an allocation with its remaining ledger balance.
type AllocationBalance struct {
	Allocation Allocation
	Balance    decimal.Decimal
}

// ConsumptionTracker computes per-allocation remaining balance and the
// oldest-first consumption order. Any caller that debits the ledger must
// follow the order this tracker returns.
type ConsumptionTracker struct {
	Store Store
	Now   func() Date
}

func NewConsumptionTracker(store Store) *ConsumptionTracker {
	return &ConsumptionTracker{Store: store, Now: Today}
}

// AvailableAllocations returns the employee's unexpired TOIL allocations with
// positive balance, oldest FromDate first.
func (t *ConsumptionTracker) AvailableAllocations(ctx context.Context, id EmployeeID) ([]AllocationBalance, error) {
	allocs, err := t.Store.AllocationsByEmployee(ctx, id)
	if err != nil {
		return nil, &InfrastructureError{Op: "list allocations", Err: err}
	}

	today := t.Now()
	var out []AllocationBalance
	for _, a := range allocs {
		if !a.IsTOIL || today.After(a.ToDate) {
			continue
		}
		balance, err := t.allocationBalance(ctx, a.ID)
		if err != nil {
			return nil, err
		}
		if balance.IsPositive() {
			out = append(out, AllocationBalance{Allocation: a, Balance: balance})
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Allocation.FromDate.Before(out[j].Allocation.FromDate)
	})
	return out, nil
}

// PlanConsumption splits the requested days across available allocations in
// FIFO order. Fails with InsufficientBalanceError when the total falls short.
func (t *ConsumptionTracker) PlanConsumption(ctx context.Context, id EmployeeID, days decimal.Decimal) ([]AllocationDraw, error) {
	if !days.IsPositive() {
		return nil, &ValidationError{Code: CodeInvalidInput, Message: "requested days must be positive"}
	}

	available, err := t.AvailableAllocations(ctx, id)
	if err != nil {
		return nil, err
	}

	remaining := days
	var draws []AllocationDraw
	for _, ab := range available {
		if !remaining.IsPositive() {
			break
		}
		draw := decimal.Min(remaining, ab.Balance)
		draws = append(draws, AllocationDraw{AllocationID: ab.Allocation.ID, Days: draw})
		remaining = remaining.Sub(draw)
	}
	if remaining.IsPositive() {
		total := days.Sub(remaining)
		return nil, &InsufficientBalanceError{EmployeeID: id, Available: total, Requested: days}
	}
	return draws, nil
}

// allocationBalance folds the allocation's unexpired entries. Safe without
// locking: entries are append-only and only the IsExpired flag ever changes.
func (t *ConsumptionTracker) allocationBalance(ctx context.Context, id AllocationID) (decimal.Decimal, error) {
	entries, err := t.Store.EntriesByAllocation(ctx, id)
	if err != nil {
		return decimal.Zero, &InfrastructureError{Op: "load allocation entries", Err: err}
	}
	balance := decimal.Zero
	for _, e := range entries {
		if e.IsExpired {
			continue
		}
		balance = balance.Add(e.Leaves)
	}
	return balance, nil
}
