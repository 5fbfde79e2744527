package leave

import "time"

// =============================================================================
// LEAVE BALANCE - One row per (employee, year)
// =============================================================================

// LeaveBalance is the ledger row for one employee and year.
//
//	remaining = entitlement + carriedOverIn + sum(adjustments) - used - pending
//
// Fields are exported for storage adapters. Request-handling code never
// writes them; every change goes through BalanceLedger.
type LeaveBalance struct {
	EmployeeID    EmployeeID   `json:"employee_id"`
	Year          int          `json:"year"`
	Entitlement   Days         `json:"entitlement"`
	Used          Days         `json:"used"`
	Pending       Days         `json:"pending"`
	CarriedOverIn Days         `json:"carried_over_in"`
	Adjustments   []Adjustment `json:"adjustments"`

	// CarryOverApplied is set once a carry-over from Year-1 has been written,
	// even when the carried amount is zero.
	CarryOverApplied bool `json:"carry_over_applied"`

	Version   int64     `json:"version"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Adjustment is a signed manual correction.
type Adjustment struct {
	Amount    Days       `json:"amount"`
	Reason    string     `json:"reason"`
	ActorID   EmployeeID `json:"actor_id"`
	Timestamp time.Time  `json:"timestamp"`
}

func newBalance(key BalanceKey) LeaveBalance {
	zero := DInt(0)
	return LeaveBalance{
		EmployeeID:    key.EmployeeID,
		Year:          key.Year,
		Entitlement:   zero,
		Used:          zero,
		Pending:       zero,
		CarriedOverIn: zero,
	}
}

func (b LeaveBalance) Key() BalanceKey {
	return BalanceKey{EmployeeID: b.EmployeeID, Year: b.Year}
}

// AdjustmentTotal sums all manual adjustments.
func (b LeaveBalance) AdjustmentTotal() Days {
	total := DInt(0)
	for _, a := range b.Adjustments {
		total = total.Add(a.Amount)
	}
	return total
}

// Remaining is the number of days still available, possibly negative down to
// the policy floor.
func (b LeaveBalance) Remaining() Days {
	return b.Entitlement.
		Add(b.CarriedOverIn).
		Add(b.AdjustmentTotal()).
		Sub(b.Used).
		Sub(b.Pending)
}

// Clone returns a copy that shares no slice memory with b.
func (b LeaveBalance) Clone() LeaveBalance {
	c := b
	if b.Adjustments != nil {
		c.Adjustments = make([]Adjustment, len(b.Adjustments))
		copy(c.Adjustments, b.Adjustments)
	}
	return c
}
