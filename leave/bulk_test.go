package leave_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/leave-engine/leave"
)

func TestBulkDecide_OneAlreadyRejected(t *testing.T) {
	// GIVEN: Five pending one-day requests, the third already rejected
	// WHEN: Bulk-approving all five
	// THEN: 4 succeed, 1 fails with InvalidStateTransition, and the 4 commits are applied

	rules := leave.DefaultRules()
	rules.MaxConcurrentPendingRequests = 10
	f := newFixtureWithRules(t, rules, nil)

	var ids []leave.RequestID
	for _, day := range []string{"2025-03-10", "2025-03-17", "2025-03-24", "2025-03-31", "2025-04-07"} {
		ids = append(ids, f.create(t, "emp-1", day, day).ID)
	}
	_, err := f.svc.Decide(f.ctx, ids[2], "mgr-1", leave.DecisionReject, "")
	require.NoError(t, err)

	result, err := f.svc.BulkDecide(f.ctx, ids, leave.DecisionApprove, "mgr-1", "batch ok")
	require.NoError(t, err)

	assert.NotEmpty(t, result.BatchID)
	assert.Equal(t, []leave.RequestID{ids[0], ids[1], ids[3], ids[4]}, result.Succeeded)
	require.Len(t, result.Failed, 1)
	assert.Equal(t, ids[2], result.Failed[0].ID)
	assert.Equal(t, "InvalidStateTransition", result.Failed[0].Kind)
	assert.ErrorIs(t, result.Failed[0].Err, leave.ErrInvalidStateTransition)

	b := f.balance(t, "emp-1", 2025)
	assertDays(t, 4, b.Used)
	assertDays(t, 0, b.Pending)

	// The whole batch can be reconstructed from the audit trail
	entries, err := f.svc.QueryAudit(f.ctx, leave.AuditFilter{BatchID: result.BatchID})
	require.NoError(t, err)
	counts := map[leave.AuditAction]int{}
	for _, e := range entries {
		counts[e.Action]++
	}
	assert.Equal(t, 4, counts[leave.AuditRequestApproved])
	assert.Equal(t, 1, counts[leave.AuditBulkItemFailed])
	assert.Equal(t, 1, counts[leave.AuditBulkCompleted])
}

func TestBulkDecide_MixedFailures(t *testing.T) {
	f := newFixture(t)
	own := f.create(t, "emp-1", "2025-03-10", "2025-03-10")
	other := f.create(t, "emp-2", "2025-03-10", "2025-03-10")

	// mgr-2 manages neither employee; hr-1 can decide both
	result, err := f.svc.BulkDecide(f.ctx, []leave.RequestID{own.ID, "missing", other.ID}, leave.DecisionReject, "mgr-2", "")
	require.NoError(t, err)
	assert.Empty(t, result.Succeeded)
	require.Len(t, result.Failed, 3)
	assert.Equal(t, "NotAuthorized", result.Failed[0].Kind)
	assert.Equal(t, "RequestNotFound", result.Failed[1].Kind)

	result, err = f.svc.BulkDecide(f.ctx, []leave.RequestID{own.ID, other.ID}, leave.DecisionReject, "hr-1", "")
	require.NoError(t, err)
	assert.Len(t, result.Succeeded, 2)
	assert.Empty(t, result.Failed)
}

func TestBulkDecide_DuplicateIDsDecidedOnce(t *testing.T) {
	f := newFixture(t)
	req := f.create(t, "emp-1", "2025-03-10", "2025-03-14")

	result, err := f.svc.BulkDecide(f.ctx, []leave.RequestID{req.ID, req.ID, req.ID}, leave.DecisionApprove, "mgr-1", "")
	require.NoError(t, err)
	assert.Len(t, result.Succeeded, 1)
	assert.Len(t, result.Failed, 2)
	assertDays(t, 5, f.balance(t, "emp-1", 2025).Used, "committed exactly once")
}

func TestBulkDecide_InvalidDecision(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.BulkDecide(f.ctx, nil, "maybe", "mgr-1", "")
	assert.ErrorIs(t, err, leave.ErrInvalidInput)
}
