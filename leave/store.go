/*
store.go - Persistence interfaces for the leave engine

PURPOSE:
  Defines the boundary between the domain logic and the database. The
  engine needs four logical tables plus read access to the employee
  directory:

    leave_policies   versioned, append-only
    leave_requests   mutable while pending, versioned
    leave_balances   keyed by (employee, year), versioned
    audit_entries    append-only

OPTIMISTIC CONCURRENCY:
  Requests and balances carry a Version. Writers pass the version they read
  (expectedVersion) and the store rejects the write with
  ErrConcurrentModification if the stored row has moved on. For balances an
  expectedVersion of 0 means "insert, the row must not exist yet".

IMPLEMENTATIONS:
  - leave/store/memory.go: in-memory for tests and development
  - store/sqlite/sqlite.go: SQLite
*/
package leave

import (
	"context"
	"time"
)

// PolicyRepository persists policy versions. Versions are never deleted.
type PolicyRepository interface {
	// AppendPolicy stores p as the active version and marks every other
	// version inactive in the same write.
	AppendPolicy(ctx context.Context, p LeavePolicy) error

	// ActivePolicy returns the single active version or ErrPolicyNotFound.
	ActivePolicy(ctx context.Context) (LeavePolicy, error)

	PolicyVersion(ctx context.Context, id PolicyVersionID) (LeavePolicy, error)

	// ListPolicies returns all versions ordered by EffectiveFrom.
	ListPolicies(ctx context.Context) ([]LeavePolicy, error)
}

// RequestFilter selects leave requests. Zero fields match everything.
type RequestFilter struct {
	EmployeeID EmployeeID
	Statuses   []Status
	IDs        []RequestID
}

type RequestRepository interface {
	CreateRequest(ctx context.Context, r LeaveRequest) error
	GetRequest(ctx context.Context, id RequestID) (LeaveRequest, error)

	// UpdateRequest replaces the stored row if its version equals expectedVersion.
	UpdateRequest(ctx context.Context, r LeaveRequest, expectedVersion int64) error

	DeleteRequest(ctx context.Context, id RequestID, expectedVersion int64) error

	// ListRequests returns matching requests ordered by StartDate.
	ListRequests(ctx context.Context, filter RequestFilter) ([]LeaveRequest, error)
}

type BalanceRepository interface {
	// GetBalance returns ErrBalanceNotFound when the row was never written.
	GetBalance(ctx context.Context, key BalanceKey) (LeaveBalance, error)

	// SaveBalance inserts (expectedVersion == 0) or updates the row.
	SaveBalance(ctx context.Context, b LeaveBalance, expectedVersion int64) error

	// ListBalancesForYear returns every balance of the year ordered by employee.
	ListBalancesForYear(ctx context.Context, year int) ([]LeaveBalance, error)
}

// AuditFilter selects audit entries. Zero fields match everything.
type AuditFilter struct {
	SubjectID string
	ActorID   EmployeeID
	Actions   []AuditAction
	BatchID   string
	From      *time.Time
	To        *time.Time
	Limit     int
}

type AuditRepository interface {
	AppendAudit(ctx context.Context, e AuditEntry) error

	// QueryAudit returns matching entries ordered by Timestamp.
	QueryAudit(ctx context.Context, filter AuditFilter) ([]AuditEntry, error)
}

// EmployeeDirectory is the read side of the external user-management system.
// SaveEmployee exists for seeding and tests.
type EmployeeDirectory interface {
	GetEmployee(ctx context.Context, id EmployeeID) (Employee, error)
	SaveEmployee(ctx context.Context, e Employee) error

	// ListEmployees returns every record ordered by ID.
	ListEmployees(ctx context.Context) ([]Employee, error)
}

// Store bundles every repository the engine needs.
type Store interface {
	PolicyRepository
	RequestRepository
	BalanceRepository
	AuditRepository
	EmployeeDirectory
}
