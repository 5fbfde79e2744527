/*
Package leave implements the leave accrual and approval engine.

PURPOSE:
  Computes how many leave days an employee has earned, keeps a running
  balance per employee and year, and drives leave requests through an
  approval/cancellation workflow without double-booking or double-spending
  days.

KEY CONCEPTS IN THIS FILE (types.go):
  - Days: a decimal quantity of leave days (0.5 for a weighted Saturday)
  - Identifiers: type-safe ids for employees, requests and policy versions
  - LeaveType: annual, family-event, personal
  - Employee: the externally-owned record the engine reads hire dates from

DESIGN PRINCIPLES:
  1. Precision: day counts use decimal.Decimal, never float64
  2. Single write path: balances only change through BalanceLedger
  3. Explicit policy: every component reads the policy version it was handed
  4. Auditability: every mutation is recorded by AuditTrail

SEE ALSO:
  - daycount.go: BusinessDayCounter
  - entitlement.go: EntitlementCalculator
  - ledger.go: BalanceLedger
  - workflow.go: request lifecycle operations
*/
package leave

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// DAYS - Decimal quantity of leave days
// =============================================================================

// Days is a number of leave days. Weighted weekend days make it fractional.
type Days = decimal.Decimal

// D returns a Days value from a float literal. Intended for constants and tests.
func D(v float64) Days { return decimal.NewFromFloat(v) }

// DInt returns a Days value from an integer.
func DInt(v int) Days { return decimal.NewFromInt(int64(v)) }

func minDays(a, b Days) Days {
	if a.LessThan(b) {
		return a
	}
	return b
}

// =============================================================================
// IDENTIFIERS
// =============================================================================

type EmployeeID string
type RequestID string
type PolicyVersionID string

// BalanceKey identifies one ledger row.
type BalanceKey struct {
	EmployeeID EmployeeID
	Year       int
}

func (k BalanceKey) String() string { return fmt.Sprintf("%s:%d", k.EmployeeID, k.Year) }

// Next returns the key for the following year.
func (k BalanceKey) Next() BalanceKey { return BalanceKey{EmployeeID: k.EmployeeID, Year: k.Year + 1} }

// =============================================================================
// LEAVE TYPE
// =============================================================================

type LeaveType string

const (
	LeaveAnnual      LeaveType = "annual"
	LeaveFamilyEvent LeaveType = "family-event"
	LeavePersonal    LeaveType = "personal"
)

// ParseLeaveType converts a raw string into a LeaveType.
func ParseLeaveType(s string) (LeaveType, error) {
	switch lt := LeaveType(s); lt {
	case LeaveAnnual, LeaveFamilyEvent, LeavePersonal:
		return lt, nil
	}
	return "", fmt.Errorf("%w: unknown leave type %q", ErrInvalidInput, s)
}

// NoticeExempt reports whether the advance-notice rule is skipped for this type.
// Family events (weddings, funerals) cannot be planned ahead.
func (lt LeaveType) NoticeExempt() bool { return lt == LeaveFamilyEvent }

// =============================================================================
// EMPLOYEE - Owned by user management
// =============================================================================

type Role string

const (
	RoleEmployee Role = "employee"
	RoleManager  Role = "manager"
	RoleHR       Role = "hr"
	RoleAdmin    Role = "admin"
)

func ParseRole(s string) (Role, error) {
	switch r := Role(s); r {
	case RoleEmployee, RoleManager, RoleHR, RoleAdmin:
		return r, nil
	}
	return "", fmt.Errorf("%w: unknown role %q", ErrInvalidInput, s)
}

type Employee struct {
	ID              EmployeeID `json:"id"`
	HireDate        Date       `json:"hire_date"`
	TerminationDate *Date      `json:"termination_date,omitempty"`
	Department      string     `json:"department,omitempty"`
	ManagerID       EmployeeID `json:"manager_id,omitempty"`
	Role            Role       `json:"role"`
}

// EmployedOn reports whether the employee is on the payroll on the given date.
func (e Employee) EmployedOn(d Date) bool {
	if d.Before(e.HireDate) {
		return false
	}
	return e.TerminationDate == nil || !d.After(*e.TerminationDate)
}

// EmployedDuring reports whether the employee was on the payroll on any day of year.
func (e Employee) EmployedDuring(year int) bool {
	if e.HireDate.After(EndOfYear(year)) {
		return false
	}
	return e.TerminationDate == nil || !e.TerminationDate.Before(StartOfYear(year))
}

// Clock returns the current instant. Services take one so tests can pin "today".
type Clock func() time.Time

func systemClock() time.Time { return time.Now().UTC() }
