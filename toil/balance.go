/*
balance.go - Balance query service

PURPOSE:
  Read-only aggregation over the ledger. Never partially applies anything.

FIGURES:
  Available      sum of unexpired entries, sign-adjusted
  TotalAccrued   sum of all credit entries (historical, includes expired)
  TotalConsumed  sum of debit magnitudes
  ExpiringSoon   balance held in allocations whose window closes within the
                 next 30 days
*/
package toil

import (
	"context"
	"sort"

	"github.com/shopspring/decimal"
)

type BalanceService struct {
	Store Store
	Now   func() Date
}

func NewBalanceService(store Store) *BalanceService {
	return &BalanceService{Store: store, Now: Today}
}

// Balance computes the employee's TOIL figures from the ledger.
func (b *BalanceService) Balance(ctx context.Context, id EmployeeID) (*BalanceReport, error) {
	entries, err := b.Store.EntriesByEmployee(ctx, id)
	if err != nil {
		return nil, &InfrastructureError{Op: "load ledger entries", Err: err}
	}

	report := &BalanceReport{
		Available:     decimal.Zero,
		TotalAccrued:  decimal.Zero,
		TotalConsumed: decimal.Zero,
		ExpiringSoon:  decimal.Zero,
	}

	today := b.Now()
	perAllocation := map[AllocationID]decimal.Decimal{}
	closesSoon := map[AllocationID]bool{}

	for _, e := range entries {
		if e.IsCredit() {
			report.TotalAccrued = report.TotalAccrued.Add(e.Leaves)
		}
		if e.IsDebit() {
			report.TotalConsumed = report.TotalConsumed.Add(e.Leaves.Neg())
		}
		if e.IsExpired {
			continue
		}
		report.Available = report.Available.Add(e.Leaves)
		perAllocation[e.AllocationID] = perAllocation[e.AllocationID].Add(e.Leaves)
		if left := today.DaysUntil(e.ToDate); left >= 0 && left <= ExpiringSoonDays {
			closesSoon[e.AllocationID] = true
		}
	}

	for allocID, balance := range perAllocation {
		if closesSoon[allocID] && balance.IsPositive() {
			report.ExpiringSoon = report.ExpiringSoon.Add(balance)
		}
	}
	return report, nil
}

// Ledger returns the employee's entries ordered by posting date. A zero
// from/to leaves that bound open.
func (b *BalanceService) Ledger(ctx context.Context, id EmployeeID, from, to Date) ([]LedgerEntry, error) {
	var (
		entries []LedgerEntry
		err     error
	)
	if from.IsZero() && to.IsZero() {
		entries, err = b.Store.EntriesByEmployee(ctx, id)
	} else {
		if from.IsZero() {
			from = NewDate(1970, 1, 1)
		}
		if to.IsZero() {
			to = b.Now().AddMonths(12 * 100)
		}
		entries, err = b.Store.EntriesInRange(ctx, id, from, to)
	}
	if err != nil {
		return nil, &InfrastructureError{Op: "load ledger entries", Err: err}
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].PostedAt.Before(entries[j].PostedAt)
	})
	return entries, nil
}
