/*
errors.go - Centralized error types for the leave engine

PURPOSE:
  One sentinel per error kind so callers can branch with errors.Is, plus
  structured errors that carry enough context (employee, request, offending
  rule) for the caller to build a message without re-querying state.

ERROR CATEGORIES:
  1. Validation: InvalidRange, NoticePeriodViolation, ConsecutiveDaysExceeded
  2. Conflict: OverlappingRequest, ConcurrentPendingLimitExceeded
  3. Balance: InsufficientBalance, RetryExhausted
  4. Workflow: InvalidStateTransition, NotAuthorized
  5. Lookup: PolicyNotFound, RequestNotFound, EmployeeNotFound
  6. Batch: DuplicateCarryOver

USAGE:
  if errors.Is(err, leave.ErrOverlappingRequest) {
      var oe *leave.OverlapError
      errors.As(err, &oe) // oe.ConflictingRequestID, oe.Date
  }
*/
package leave

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	ErrInvalidRange                   = errors.New("invalid date range")
	ErrInsufficientBalance            = errors.New("insufficient leave balance")
	ErrOverlappingRequest             = errors.New("overlapping leave request")
	ErrConcurrentPendingLimitExceeded = errors.New("too many pending leave requests")
	ErrNoticePeriodViolation          = errors.New("advance notice period not met")
	ErrConsecutiveDaysExceeded        = errors.New("consecutive leave days exceeded")
	ErrInvalidStateTransition         = errors.New("invalid state transition")
	ErrNotAuthorized                  = errors.New("not authorized")
	ErrPolicyNotFound                 = errors.New("leave policy not found")
	ErrDuplicateCarryOver             = errors.New("carry-over already applied")

	ErrRequestNotFound  = errors.New("leave request not found")
	ErrEmployeeNotFound = errors.New("employee not found")
	ErrBalanceNotFound  = errors.New("leave balance not found")
	ErrInvalidPolicy    = errors.New("invalid leave policy")
	ErrInvalidInput     = errors.New("invalid input")

	// ErrConcurrentModification is returned by stores when an optimistic
	// version check fails. The ledger retries on it.
	ErrConcurrentModification = errors.New("concurrent modification detected")

	// ErrRetryExhausted is returned once the ledger gives up retrying.
	ErrRetryExhausted = errors.New("ledger retry exhausted")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// RangeError reports a malformed or empty date range.
type RangeError struct {
	Start  Date
	End    Date
	Reason string
}

func (e *RangeError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("invalid date range %s..%s: %s", e.Start, e.End, e.Reason)
	}
	return fmt.Sprintf("invalid date range: end %s before start %s", e.End, e.Start)
}

func (e *RangeError) Unwrap() error { return ErrInvalidRange }

// InsufficientBalanceError provides details about a balance shortage.
type InsufficientBalanceError struct {
	EmployeeID EmployeeID
	Year       int
	Remaining  Days
	Requested  Days
	Floor      Days
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance for %s in %d: remaining %s, requested %s, floor %s",
		e.EmployeeID, e.Year, e.Remaining, e.Requested, e.Floor)
}

func (e *InsufficientBalanceError) Unwrap() error { return ErrInsufficientBalance }

// OverlapError names the existing request that already covers a date.
type OverlapError struct {
	EmployeeID           EmployeeID
	ConflictingRequestID RequestID
	Date                 Date
}

func (e *OverlapError) Error() string {
	return fmt.Sprintf("employee %s already has leave on %s (request %s)",
		e.EmployeeID, e.Date, e.ConflictingRequestID)
}

func (e *OverlapError) Unwrap() error { return ErrOverlappingRequest }

// RuleViolationError reports a numeric policy rule that a request breaks.
type RuleViolationError struct {
	Kind       error // one of the rule sentinels
	EmployeeID EmployeeID
	Rule       string
	Limit      int
	Actual     int
}

func (e *RuleViolationError) Error() string {
	return fmt.Sprintf("%v: employee %s, rule %s limit %d, actual %d",
		e.Kind, e.EmployeeID, e.Rule, e.Limit, e.Actual)
}

func (e *RuleViolationError) Unwrap() error { return e.Kind }

// TransitionError reports an event that is illegal from the current state.
type TransitionError struct {
	RequestID RequestID
	From      Status
	Event     Event
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("request %s: cannot %s from status %s", e.RequestID, e.Event, e.From)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidStateTransition }

// AuthorizationError reports an actor lacking the authority for an action.
type AuthorizationError struct {
	ActorID   EmployeeID
	RequestID RequestID
	Action    string
}

func (e *AuthorizationError) Error() string {
	return fmt.Sprintf("actor %s may not %s request %s", e.ActorID, e.Action, e.RequestID)
}

func (e *AuthorizationError) Unwrap() error { return ErrNotAuthorized }

// RetryExhaustedError is returned when a ledger mutation kept losing
// optimistic-concurrency races, or a distributed lock stayed busy. Key names
// the contended lock key.
type RetryExhaustedError struct {
	Key      string
	Attempts int
	Err      error
}

func (e *RetryExhaustedError) Error() string {
	return fmt.Sprintf("%s: gave up after %d attempts: %v", e.Key, e.Attempts, e.Err)
}

func (e *RetryExhaustedError) Unwrap() []error { return []error{ErrRetryExhausted, e.Err} }

// CarryOverError marks an employee whose next-year balance already holds a carry-over.
type CarryOverError struct {
	EmployeeID EmployeeID
	FromYear   int
}

func (e *CarryOverError) Error() string {
	return fmt.Sprintf("carry-over from %d already applied for %s", e.FromYear, e.EmployeeID)
}

func (e *CarryOverError) Unwrap() error { return ErrDuplicateCarryOver }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentModification) || errors.Is(err, ErrRetryExhausted)
}

// IsClientError returns true if the error is due to the request itself.
func IsClientError(err error) bool {
	for _, kind := range []error{
		ErrInvalidRange, ErrInsufficientBalance, ErrOverlappingRequest,
		ErrConcurrentPendingLimitExceeded, ErrNoticePeriodViolation,
		ErrConsecutiveDaysExceeded, ErrInvalidStateTransition, ErrNotAuthorized,
		ErrDuplicateCarryOver, ErrInvalidPolicy, ErrInvalidInput,
	} {
		if errors.Is(err, kind) {
			return true
		}
	}
	return false
}

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrPolicyNotFound) ||
		errors.Is(err, ErrRequestNotFound) ||
		errors.Is(err, ErrEmployeeNotFound) ||
		errors.Is(err, ErrBalanceNotFound)
}

var kinds = []struct {
	err  error
	name string
}{
	{ErrInvalidRange, "InvalidRange"},
	{ErrInsufficientBalance, "InsufficientBalance"},
	{ErrOverlappingRequest, "OverlappingRequest"},
	{ErrConcurrentPendingLimitExceeded, "ConcurrentPendingLimitExceeded"},
	{ErrNoticePeriodViolation, "NoticePeriodViolation"},
	{ErrConsecutiveDaysExceeded, "ConsecutiveDaysExceeded"},
	{ErrInvalidStateTransition, "InvalidStateTransition"},
	{ErrNotAuthorized, "NotAuthorized"},
	{ErrPolicyNotFound, "PolicyNotFound"},
	{ErrDuplicateCarryOver, "DuplicateCarryOver"},
	{ErrRequestNotFound, "RequestNotFound"},
	{ErrEmployeeNotFound, "EmployeeNotFound"},
	{ErrBalanceNotFound, "BalanceNotFound"},
	{ErrInvalidPolicy, "InvalidPolicy"},
	{ErrInvalidInput, "InvalidInput"},
	{ErrRetryExhausted, "RetryExhausted"},
	{ErrConcurrentModification, "ConcurrentModification"},
}

// Kind returns the taxonomy name of err, or "Internal" for unknown errors.
func Kind(err error) string {
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.name
		}
	}
	return "Internal"
}
