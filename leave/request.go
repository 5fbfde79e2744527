package leave

import (
	"fmt"
	"time"
)

// =============================================================================
// STATUS - Closed set of request states
// =============================================================================

type Status string

const (
	StatusPending               Status = "pending"
	StatusApproved              Status = "approved"
	StatusRejected              Status = "rejected"
	StatusWithdrawn             Status = "withdrawn"
	StatusCancellationRequested Status = "cancellation_requested"
	StatusCancelled             Status = "cancelled"
)

// Occupying reports whether a request in this status holds its dates.
// A pending cancellation still holds them until it is approved.
func (s Status) Occupying() bool {
	return s == StatusPending || s == StatusApproved || s == StatusCancellationRequested
}

func (s Status) Terminal() bool {
	return s == StatusRejected || s == StatusWithdrawn || s == StatusCancelled
}

// OccupyingStatuses lists the statuses ConflictGuard checks for overlap.
func OccupyingStatuses() []Status {
	return []Status{StatusPending, StatusApproved, StatusCancellationRequested}
}

type CancellationStatus string

const (
	CancellationNone      CancellationStatus = "none"
	CancellationRequested CancellationStatus = "requested"
	CancellationApproved  CancellationStatus = "approved"
	CancellationRejected  CancellationStatus = "rejected"
)

// Event drives a status transition.
type Event string

const (
	EventApprove             Event = "approve"
	EventReject              Event = "reject"
	EventWithdraw            Event = "withdraw"
	EventRequestCancellation Event = "request_cancellation"
	EventApproveCancellation Event = "approve_cancellation"
	EventRejectCancellation  Event = "reject_cancellation"

	// EventDelete and EventEditDates are not transitions; they are only legal
	// while pending and are reported with the same error when they are not.
	EventDelete    Event = "delete"
	EventEditDates Event = "edit_dates"
)

type transition struct {
	to           Status
	cancellation CancellationStatus
}

// transitions is the complete state machine. Anything not listed is illegal.
var transitions = map[Status]map[Event]transition{
	StatusPending: {
		EventApprove:  {to: StatusApproved, cancellation: CancellationNone},
		EventReject:   {to: StatusRejected, cancellation: CancellationNone},
		EventWithdraw: {to: StatusWithdrawn, cancellation: CancellationNone},
	},
	StatusApproved: {
		EventRequestCancellation: {to: StatusCancellationRequested, cancellation: CancellationRequested},
	},
	StatusCancellationRequested: {
		EventApproveCancellation: {to: StatusCancelled, cancellation: CancellationApproved},
		EventRejectCancellation:  {to: StatusApproved, cancellation: CancellationRejected},
	},
}

// CanApply reports whether ev is legal from s.
func (s Status) CanApply(ev Event) bool {
	_, ok := transitions[s][ev]
	return ok
}

// =============================================================================
// DECISION
// =============================================================================

type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionReject  Decision = "reject"
)

func ParseDecision(s string) (Decision, error) {
	switch d := Decision(s); d {
	case DecisionApprove, DecisionReject:
		return d, nil
	}
	return "", fmt.Errorf("%w: unknown decision %q", ErrInvalidInput, s)
}

func (d Decision) requestEvent() Event {
	if d == DecisionApprove {
		return EventApprove
	}
	return EventReject
}

func (d Decision) cancellationEvent() Event {
	if d == DecisionApprove {
		return EventApproveCancellation
	}
	return EventRejectCancellation
}

// =============================================================================
// LEAVE REQUEST
// =============================================================================

type LeaveRequest struct {
	ID         RequestID  `json:"id"`
	EmployeeID EmployeeID `json:"employee_id"`
	Type       LeaveType  `json:"leave_type"`
	StartDate  Date       `json:"start_date"`
	EndDate    Date       `json:"end_date"`

	// DayCount is always computed by BusinessDayCounter, never taken from input.
	DayCount Days   `json:"day_count"`
	Reason   string `json:"reason"`

	Status          Status     `json:"status"`
	ApproverID      EmployeeID `json:"approver_id,omitempty"`
	ApprovalComment string     `json:"approval_comment,omitempty"`

	CancellationStatus CancellationStatus `json:"cancellation_status"`
	CancellationReason string             `json:"cancellation_reason,omitempty"`
	CancellationBy     EmployeeID         `json:"cancellation_decided_by,omitempty"`

	// PolicyVersionID pins the policy the request was validated under.
	PolicyVersionID PolicyVersionID `json:"policy_version_id"`

	CreatedAt time.Time  `json:"created_at"`
	DecidedAt *time.Time `json:"decided_at,omitempty"`
	UpdatedAt time.Time  `json:"updated_at"`
	Version   int64      `json:"version"`
}

// BalanceYear is the ledger year the request is charged to: the year of its
// start date, including for ranges that cross New Year.
func (r LeaveRequest) BalanceYear() int { return r.StartDate.Year() }

func (r LeaveRequest) BalanceKey() BalanceKey {
	return BalanceKey{EmployeeID: r.EmployeeID, Year: r.BalanceYear()}
}

func (r LeaveRequest) Range() DateRange {
	return DateRange{Start: r.StartDate, End: r.EndDate}
}

// Transition returns the request after ev, or a TransitionError. The
// receiver is never modified.
func (r LeaveRequest) Transition(ev Event, at time.Time) (LeaveRequest, error) {
	t, ok := transitions[r.Status][ev]
	if !ok {
		return r, &TransitionError{RequestID: r.ID, From: r.Status, Event: ev}
	}
	next := r
	next.Status = t.to
	next.CancellationStatus = t.cancellation
	next.UpdatedAt = at
	if r.Status == StatusPending {
		decided := at
		next.DecidedAt = &decided
	}
	return next, nil
}

// requirePending guards operations that only exist while a request is pending.
func (r LeaveRequest) requirePending(ev Event) error {
	if r.Status != StatusPending {
		return &TransitionError{RequestID: r.ID, From: r.Status, Event: ev}
	}
	return nil
}
