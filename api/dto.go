/*
dto.go - Data Transfer Objects for API requests and responses

NAMING CONVENTION:
  - *Body: Request body types from clients
  - *DTO: Response types that differ from the domain type
  - Everything else is returned as the leave type itself

VALIDATION:
  Validation is done by the leave service, not in DTOs. DTOs are pure data
  carriers; an unknown leave type or decision is reported as InvalidInput.
*/
package api

import (
	"github.com/warp/leave-engine/leave"
)

// =============================================================================
// REQUEST BODIES
// =============================================================================

// CreateRequestBody submits a leave request. EmployeeID defaults to the actor.
type CreateRequestBody struct {
	EmployeeID string     `json:"employee_id"`
	LeaveType  string     `json:"leave_type"`
	StartDate  leave.Date `json:"start_date"`
	EndDate    leave.Date `json:"end_date"`
	Reason     string     `json:"reason"`
}

type DecisionBody struct {
	Decision string `json:"decision"`
	Comment  string `json:"comment"`
}

type DatesBody struct {
	StartDate leave.Date `json:"start_date"`
	EndDate   leave.Date `json:"end_date"`
}

type CancellationBody struct {
	Reason string `json:"reason"`
}

type BulkDecisionBody struct {
	IDs      []string `json:"ids"`
	Decision string   `json:"decision"`
	Comment  string   `json:"comment"`
}

// AdjustmentBody accepts the delta as a JSON number or string ("-1.5").
type AdjustmentBody struct {
	Delta  leave.Days `json:"delta"`
	Reason string     `json:"reason"`
}

type EmployeeBody struct {
	HireDate        leave.Date  `json:"hire_date"`
	TerminationDate *leave.Date `json:"termination_date,omitempty"`
	Department      string      `json:"department"`
	ManagerID       string      `json:"manager_id"`
	Role            string      `json:"role"`
}

// =============================================================================
// RESPONSES
// =============================================================================

// BalanceDTO adds the derived remaining amount to a balance row.
type BalanceDTO struct {
	leave.LeaveBalance
	AdjustmentTotal leave.Days `json:"adjustment_total"`
	Remaining       leave.Days `json:"remaining"`
}

func toBalanceDTO(b leave.LeaveBalance) BalanceDTO {
	return BalanceDTO{
		LeaveBalance:    b,
		AdjustmentTotal: b.AdjustmentTotal(),
		Remaining:       b.Remaining(),
	}
}

// ErrorResponse is the body of every non-2xx response. Kind is the error
// taxonomy name clients branch on.
type ErrorResponse struct {
	Error   string `json:"error"`
	Kind    string `json:"kind,omitempty"`
	Details string `json:"details,omitempty"`
}
