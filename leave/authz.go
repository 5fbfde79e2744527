package leave

import (
	"context"
	"errors"
)

// Authorizer decides who may act on requests and balances. Authentication
// happens upstream; the engine only receives an actor id.
type Authorizer interface {
	// CanDecide checks approver authority over a request (approve, reject,
	// decide cancellation).
	CanDecide(ctx context.Context, actorID EmployeeID, req LeaveRequest) error

	// CanAdminister checks authority for policy updates, balance adjustments
	// and carry-over runs.
	CanAdminister(ctx context.Context, actorID EmployeeID) error
}

// DirectoryAuthorizer grants approver authority to the requester's manager
// and to hr/admin roles. Nobody approves their own request.
type DirectoryAuthorizer struct {
	Directory EmployeeDirectory
}

func (a DirectoryAuthorizer) CanDecide(ctx context.Context, actorID EmployeeID, req LeaveRequest) error {
	deny := &AuthorizationError{ActorID: actorID, RequestID: req.ID, Action: "decide"}
	if actorID == "" || actorID == req.EmployeeID {
		return deny
	}
	actor, err := a.actor(ctx, actorID, deny)
	if err != nil {
		return err
	}
	if actor.Role == RoleHR || actor.Role == RoleAdmin {
		return nil
	}
	requester, err := a.Directory.GetEmployee(ctx, req.EmployeeID)
	if err != nil {
		return err
	}
	if requester.ManagerID == actorID {
		return nil
	}
	return deny
}

func (a DirectoryAuthorizer) CanAdminister(ctx context.Context, actorID EmployeeID) error {
	deny := &AuthorizationError{ActorID: actorID, Action: "administer"}
	actor, err := a.actor(ctx, actorID, deny)
	if err != nil {
		return err
	}
	if actor.Role == RoleHR || actor.Role == RoleAdmin {
		return nil
	}
	return deny
}

// actor resolves the acting employee. Unknown actors are reported as unauthorized.
func (a DirectoryAuthorizer) actor(ctx context.Context, id EmployeeID, deny error) (Employee, error) {
	if id == "" {
		return Employee{}, deny
	}
	e, err := a.Directory.GetEmployee(ctx, id)
	if errors.Is(err, ErrEmployeeNotFound) {
		return Employee{}, deny
	}
	return e, err
}

func requireRequester(actorID EmployeeID, req LeaveRequest, action string) error {
	if actorID != req.EmployeeID {
		return &AuthorizationError{ActorID: actorID, RequestID: req.ID, Action: action}
	}
	return nil
}
