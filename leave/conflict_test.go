package leave_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/leave-engine/leave"
)

func activePolicy(rules leave.Rules, exceptions ...leave.DateException) leave.LeavePolicy {
	return leave.LeavePolicy{VersionID: "v1", IsActive: true, Rules: rules, Exceptions: exceptions}
}

func existingRequest(id string, status leave.Status, start, end string) leave.LeaveRequest {
	return leave.LeaveRequest{
		ID:         leave.RequestID(id),
		EmployeeID: "emp-1",
		Type:       leave.LeaveAnnual,
		StartDate:  d(start),
		EndDate:    d(end),
		Status:     status,
	}
}

func candidate(start, end string) leave.Candidate {
	return leave.Candidate{EmployeeID: "emp-1", Type: leave.LeaveAnnual, Start: d(start), End: d(end)}
}

func TestConflictGuard_Overlap_PendingAndApproved(t *testing.T) {
	guard := leave.NewConflictGuard(fixedClock(today))
	policy := activePolicy(leave.DefaultRules())

	for _, status := range []leave.Status{leave.StatusPending, leave.StatusApproved, leave.StatusCancellationRequested} {
		existing := []leave.LeaveRequest{existingRequest("r1", status, "2025-03-10", "2025-03-14")}
		err := guard.Validate(candidate("2025-03-14", "2025-03-18"), existing, policy)

		require.Error(t, err, status)
		assert.ErrorIs(t, err, leave.ErrOverlappingRequest)
		var oe *leave.OverlapError
		require.ErrorAs(t, err, &oe)
		assert.Equal(t, leave.RequestID("r1"), oe.ConflictingRequestID)
		assert.Equal(t, d("2025-03-14"), oe.Date)
	}
}

func TestConflictGuard_Overlap_IgnoresClosedRequests(t *testing.T) {
	guard := leave.NewConflictGuard(fixedClock(today))
	policy := activePolicy(leave.DefaultRules())

	existing := []leave.LeaveRequest{
		existingRequest("r1", leave.StatusRejected, "2025-03-10", "2025-03-14"),
		existingRequest("r2", leave.StatusWithdrawn, "2025-03-10", "2025-03-14"),
		existingRequest("r3", leave.StatusCancelled, "2025-03-10", "2025-03-14"),
	}
	assert.NoError(t, guard.Validate(candidate("2025-03-10", "2025-03-14"), existing, policy))
}

func TestConflictGuard_Overlap_AllowedByException(t *testing.T) {
	// GIVEN: The only shared day is covered by an allow-overlap exception
	// WHEN: Validating
	// THEN: No overlap error

	guard := leave.NewConflictGuard(fixedClock(today))
	policy := activePolicy(leave.DefaultRules(),
		leave.DateException{Date: d("2025-03-14"), Weight: leave.DInt(1), AllowOverlap: true, Name: "company event"})
	existing := []leave.LeaveRequest{existingRequest("r1", leave.StatusApproved, "2025-03-10", "2025-03-14")}

	assert.NoError(t, guard.Validate(candidate("2025-03-14", "2025-03-18"), existing, policy))

	// A second shared day without an exception still conflicts
	err := guard.Validate(candidate("2025-03-13", "2025-03-18"), existing, policy)
	assert.ErrorIs(t, err, leave.ErrOverlappingRequest)
}

func TestConflictGuard_Overlap_ExcludesEditedRequest(t *testing.T) {
	guard := leave.NewConflictGuard(fixedClock(today))
	policy := activePolicy(leave.DefaultRules())
	existing := []leave.LeaveRequest{existingRequest("r1", leave.StatusPending, "2025-03-10", "2025-03-14")}

	c := candidate("2025-03-12", "2025-03-17")
	c.ExcludeID = "r1"
	assert.NoError(t, guard.Validate(c, existing, policy))
}

func TestConflictGuard_PendingLimit(t *testing.T) {
	// GIVEN: maxConcurrentPendingRequests = 2 and two pending requests
	// WHEN: Validating a third, non-overlapping request
	// THEN: ConcurrentPendingLimitExceeded

	guard := leave.NewConflictGuard(fixedClock(today))
	rules := leave.DefaultRules()
	rules.MaxConcurrentPendingRequests = 2
	policy := activePolicy(rules)
	existing := []leave.LeaveRequest{
		existingRequest("r1", leave.StatusPending, "2025-03-10", "2025-03-10"),
		existingRequest("r2", leave.StatusPending, "2025-03-11", "2025-03-11"),
		existingRequest("r3", leave.StatusApproved, "2025-03-12", "2025-03-12"),
	}

	err := guard.Validate(candidate("2025-03-20", "2025-03-20"), existing, policy)
	require.Error(t, err)
	assert.ErrorIs(t, err, leave.ErrConcurrentPendingLimitExceeded)
	var rv *leave.RuleViolationError
	require.ErrorAs(t, err, &rv)
	assert.Equal(t, 2, rv.Limit)
	assert.Equal(t, leave.EmployeeID("emp-1"), rv.EmployeeID)
}

func TestConflictGuard_Notice(t *testing.T) {
	guard := leave.NewConflictGuard(fixedClock(today)) // 2025-03-01
	policy := activePolicy(leave.DefaultRules())      // 3 days notice

	err := guard.Validate(candidate("2025-03-03", "2025-03-03"), nil, policy)
	require.Error(t, err)
	assert.ErrorIs(t, err, leave.ErrNoticePeriodViolation)
	var rv *leave.RuleViolationError
	require.ErrorAs(t, err, &rv)
	assert.Equal(t, 2, rv.Actual)

	assert.NoError(t, guard.Validate(candidate("2025-03-04", "2025-03-04"), nil, policy))
}

func TestConflictGuard_Notice_FamilyEventExempt(t *testing.T) {
	guard := leave.NewConflictGuard(fixedClock(today))
	policy := activePolicy(leave.DefaultRules())

	c := candidate("2025-03-01", "2025-03-03")
	c.Type = leave.LeaveFamilyEvent
	assert.NoError(t, guard.Validate(c, nil, policy))

	c.Type = leave.LeavePersonal
	assert.ErrorIs(t, guard.Validate(c, nil, policy), leave.ErrNoticePeriodViolation)
}

func TestConflictGuard_ConsecutiveDays(t *testing.T) {
	guard := leave.NewConflictGuard(fixedClock(today))
	policy := activePolicy(leave.DefaultRules()) // 14 days

	assert.NoError(t, guard.Validate(candidate("2025-04-01", "2025-04-14"), nil, policy))

	err := guard.Validate(candidate("2025-04-01", "2025-04-15"), nil, policy)
	require.Error(t, err)
	assert.ErrorIs(t, err, leave.ErrConsecutiveDaysExceeded)
	var rv *leave.RuleViolationError
	require.ErrorAs(t, err, &rv)
	assert.Equal(t, 15, rv.Actual)
}

func TestConflictGuard_CheckOrder_OverlapFirst(t *testing.T) {
	// A candidate that breaks every rule reports the overlap
	guard := leave.NewConflictGuard(fixedClock(today))
	rules := leave.DefaultRules()
	rules.MaxConcurrentPendingRequests = 1
	policy := activePolicy(rules)
	existing := []leave.LeaveRequest{existingRequest("r1", leave.StatusPending, "2025-03-02", "2025-03-02")}

	err := guard.Validate(candidate("2025-03-02", "2025-04-30"), existing, policy)
	assert.ErrorIs(t, err, leave.ErrOverlappingRequest)
}
