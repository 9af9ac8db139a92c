package toil

import "github.com/google/uuid"

// ID constructors. UUIDv4 everywhere; stores treat IDs as opaque strings.

func NewTimesheetID() TimesheetID             { return TimesheetID(uuid.NewString()) }
func NewAllocationID() AllocationID           { return AllocationID(uuid.NewString()) }
func NewEntryID() EntryID                     { return EntryID(uuid.NewString()) }
func NewLeaveApplicationID() LeaveApplicationID { return LeaveApplicationID(uuid.NewString()) }
func NewEmployeeID() EmployeeID               { return EmployeeID(uuid.NewString()) }
