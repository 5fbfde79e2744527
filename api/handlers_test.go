package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/leave-engine/leave"
	"github.com/warp/leave-engine/leave/store"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

type testServer struct {
	t      *testing.T
	router *chi.Mux
	svc    *leave.Service
}

// newTestServer serves a memory-backed service with today pinned to
// Saturday 2025-03-01.
func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ctx := context.Background()
	mem := store.NewMemory()
	for _, e := range []leave.Employee{
		{ID: "emp-1", HireDate: leave.MustDate("2020-01-01"), ManagerID: "mgr-1", Role: leave.RoleEmployee},
		{ID: "emp-2", HireDate: leave.MustDate("2024-06-15"), ManagerID: "mgr-1", Role: leave.RoleEmployee},
		{ID: "mgr-1", HireDate: leave.MustDate("2015-01-01"), Role: leave.RoleManager},
		{ID: "mgr-2", HireDate: leave.MustDate("2016-01-01"), Role: leave.RoleManager},
		{ID: "hr-1", HireDate: leave.MustDate("2018-01-01"), Role: leave.RoleHR},
	} {
		require.NoError(t, mem.SaveEmployee(ctx, e))
	}
	clock := func() time.Time { return time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC) }
	svc := leave.NewService(mem, leave.Config{Clock: clock})
	_, err := svc.BootstrapPolicy(ctx, leave.DefaultRules(), nil)
	require.NoError(t, err)

	h := NewHandler(svc, nil)
	return &testServer{t: t, router: NewRouter(h, []string{"*"}), svc: svc}
}

func (s *testServer) do(method, path, actor string, body any) *httptest.ResponseRecorder {
	s.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if str, ok := body.(string); ok {
			buf.WriteString(str)
		} else {
			require.NoError(s.t, json.NewEncoder(&buf).Encode(body))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if actor != "" {
		req.Header.Set(ActorHeader, actor)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) createRequest(actor, start, end string) leave.LeaveRequest {
	s.t.Helper()
	rec := s.do(http.MethodPost, "/api/requests", actor, map[string]string{
		"leave_type": "annual",
		"start_date": start,
		"end_date":   end,
		"reason":     "vacation",
	})
	require.Equal(s.t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[leave.LeaveRequest](s.t, rec)
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func assertError(t *testing.T, rec *httptest.ResponseRecorder, status int, kind string) {
	t.Helper()
	require.Equal(t, status, rec.Code, rec.Body.String())
	resp := decode[ErrorResponse](t, rec)
	assert.Equal(t, kind, resp.Kind)
	assert.NotEmpty(t, resp.Error)
}

func assertDays(t *testing.T, want float64, got leave.Days) {
	t.Helper()
	assert.True(t, leave.D(want).Equal(got), "want %v, got %s", want, got)
}

// =============================================================================
// REQUEST LIFECYCLE
// =============================================================================

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestCreateAndApprove(t *testing.T) {
	// GIVEN: emp-1 with 19 days for 2025
	// WHEN: Requesting Mon 2025-03-10 to Sat 2025-03-15 and mgr-1 approving it
	// THEN: 5.5 days are used and the balance shows 13.5 remaining

	s := newTestServer(t)
	req := s.createRequest("emp-1", "2025-03-10", "2025-03-15")
	assert.Equal(t, leave.StatusPending, req.Status)
	assertDays(t, 5.5, req.DayCount)

	rec := s.do(http.MethodPost, "/api/requests/"+string(req.ID)+"/decision", "mgr-1", DecisionBody{Decision: "approve", Comment: "ok"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	approved := decode[leave.LeaveRequest](t, rec)
	assert.Equal(t, leave.StatusApproved, approved.Status)
	assert.Equal(t, leave.EmployeeID("mgr-1"), approved.ApproverID)

	rec = s.do(http.MethodGet, "/api/employees/emp-1/balances/2025", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	b := decode[BalanceDTO](t, rec)
	assertDays(t, 19, b.Entitlement)
	assertDays(t, 5.5, b.Used)
	assertDays(t, 0, b.Pending)
	assertDays(t, 13.5, b.Remaining)

	rec = s.do(http.MethodGet, "/api/requests/"+string(req.ID), "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, leave.StatusApproved, decode[leave.LeaveRequest](t, rec).Status)
}

func TestCreateRequest_Errors(t *testing.T) {
	s := newTestServer(t)
	s.createRequest("emp-1", "2025-03-10", "2025-03-14")

	tests := []struct {
		name   string
		actor  string
		body   any
		status int
		kind   string
	}{
		{
			name:   "overlap",
			actor:  "emp-1",
			body:   map[string]string{"leave_type": "annual", "start_date": "2025-03-12", "end_date": "2025-03-13"},
			status: http.StatusConflict,
			kind:   "OverlappingRequest",
		},
		{
			name:   "notice",
			actor:  "emp-1",
			body:   map[string]string{"leave_type": "annual", "start_date": "2025-03-03", "end_date": "2025-03-03"},
			status: http.StatusUnprocessableEntity,
			kind:   "NoticePeriodViolation",
		},
		{
			name:   "end before start",
			actor:  "emp-1",
			body:   map[string]string{"leave_type": "annual", "start_date": "2025-04-10", "end_date": "2025-04-08"},
			status: http.StatusBadRequest,
			kind:   "InvalidRange",
		},
		{
			name:   "unknown leave type",
			actor:  "emp-1",
			body:   map[string]string{"leave_type": "sabbatical", "start_date": "2025-04-10", "end_date": "2025-04-10"},
			status: http.StatusBadRequest,
			kind:   "InvalidInput",
		},
		{
			name:   "another employee",
			actor:  "emp-2",
			body:   map[string]string{"employee_id": "emp-1", "leave_type": "annual", "start_date": "2025-04-10", "end_date": "2025-04-10"},
			status: http.StatusForbidden,
			kind:   "NotAuthorized",
		},
		{
			name:   "malformed date",
			actor:  "emp-1",
			body:   `{"leave_type": "annual", "start_date": "10/04/2025"}`,
			status: http.StatusBadRequest,
			kind:   "InvalidInput",
		},
		{
			name:   "unknown employee",
			actor:  "ghost",
			body:   map[string]string{"leave_type": "annual", "start_date": "2025-04-10", "end_date": "2025-04-10"},
			status: http.StatusNotFound,
			kind:   "EmployeeNotFound",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(http.MethodPost, "/api/requests", tt.actor, tt.body)
			assertError(t, rec, tt.status, tt.kind)
		})
	}
}

func TestMissingActor(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(http.MethodPost, "/api/requests", "", map[string]string{"leave_type": "annual"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestDecide_Errors(t *testing.T) {
	// GIVEN: A pending request of emp-1
	// WHEN: An unrelated manager decides, then the request is decided twice
	// THEN: 403 for the stranger, 409 for the second decision, 404 for unknown ids

	s := newTestServer(t)
	req := s.createRequest("emp-1", "2025-03-10", "2025-03-14")
	path := "/api/requests/" + string(req.ID) + "/decision"

	assertError(t, s.do(http.MethodPost, path, "mgr-2", DecisionBody{Decision: "approve"}), http.StatusForbidden, "NotAuthorized")
	assertError(t, s.do(http.MethodPost, path, "mgr-1", DecisionBody{Decision: "maybe"}), http.StatusBadRequest, "InvalidInput")

	rec := s.do(http.MethodPost, path, "mgr-1", DecisionBody{Decision: "reject"})
	require.Equal(t, http.StatusOK, rec.Code)
	assertError(t, s.do(http.MethodPost, path, "mgr-1", DecisionBody{Decision: "approve"}), http.StatusConflict, "InvalidStateTransition")

	assertError(t, s.do(http.MethodPost, "/api/requests/nope/decision", "mgr-1", DecisionBody{Decision: "approve"}), http.StatusNotFound, "RequestNotFound")
}

func TestWithdrawEditAndDelete(t *testing.T) {
	s := newTestServer(t)

	// Edit dates then withdraw
	req := s.createRequest("emp-1", "2025-03-10", "2025-03-14")
	rec := s.do(http.MethodPut, "/api/requests/"+string(req.ID)+"/dates", "emp-1", map[string]string{"start_date": "2025-03-17", "end_date": "2025-03-18"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assertDays(t, 2, decode[leave.LeaveRequest](t, rec).DayCount)

	assertError(t, s.do(http.MethodPost, "/api/requests/"+string(req.ID)+"/withdraw", "emp-2", nil), http.StatusForbidden, "NotAuthorized")
	rec = s.do(http.MethodPost, "/api/requests/"+string(req.ID)+"/withdraw", "emp-1", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, leave.StatusWithdrawn, decode[leave.LeaveRequest](t, rec).Status)

	// Delete
	other := s.createRequest("emp-1", "2025-04-07", "2025-04-08")
	rec = s.do(http.MethodDelete, "/api/requests/"+string(other.ID), "emp-1", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assertError(t, s.do(http.MethodGet, "/api/requests/"+string(other.ID), "", nil), http.StatusNotFound, "RequestNotFound")

	rec = s.do(http.MethodGet, "/api/employees/emp-1/balances/2025", "", nil)
	b := decode[BalanceDTO](t, rec)
	assertDays(t, 0, b.Pending)
	assertDays(t, 19, b.Remaining)
}

func TestCancellationRoundTrip(t *testing.T) {
	// GIVEN: An approved request
	// WHEN: The employee asks to cancel and the manager approves
	// THEN: The request is cancelled and the balance is restored

	s := newTestServer(t)
	req := s.createRequest("emp-1", "2025-03-10", "2025-03-15")
	id := string(req.ID)
	require.Equal(t, http.StatusOK, s.do(http.MethodPost, "/api/requests/"+id+"/decision", "mgr-1", DecisionBody{Decision: "approve"}).Code)

	rec := s.do(http.MethodPost, "/api/requests/"+id+"/cancellation", "emp-1", CancellationBody{Reason: "plans changed"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, leave.StatusCancellationRequested, decode[leave.LeaveRequest](t, rec).Status)

	rec = s.do(http.MethodPost, "/api/requests/"+id+"/cancellation/decision", "mgr-1", DecisionBody{Decision: "approve"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	cancelled := decode[leave.LeaveRequest](t, rec)
	assert.Equal(t, leave.StatusCancelled, cancelled.Status)
	assert.Equal(t, leave.CancellationApproved, cancelled.CancellationStatus)

	b := decode[BalanceDTO](t, s.do(http.MethodGet, "/api/employees/emp-1/balances/2025", "", nil))
	assertDays(t, 0, b.Used)
	assertDays(t, 19, b.Remaining)
}

func TestListRequests(t *testing.T) {
	s := newTestServer(t)
	r1 := s.createRequest("emp-1", "2025-03-10", "2025-03-11")
	s.createRequest("emp-2", "2025-03-10", "2025-03-11")
	require.Equal(t, http.StatusOK, s.do(http.MethodPost, "/api/requests/"+string(r1.ID)+"/decision", "mgr-1", DecisionBody{Decision: "approve"}).Code)

	all := decode[[]leave.LeaveRequest](t, s.do(http.MethodGet, "/api/requests", "", nil))
	assert.Len(t, all, 2)

	mine := decode[[]leave.LeaveRequest](t, s.do(http.MethodGet, "/api/requests?employee_id=emp-1", "", nil))
	require.Len(t, mine, 1)
	assert.Equal(t, r1.ID, mine[0].ID)

	pending := decode[[]leave.LeaveRequest](t, s.do(http.MethodGet, "/api/requests?status=pending", "", nil))
	require.Len(t, pending, 1)
	assert.Equal(t, leave.EmployeeID("emp-2"), pending[0].EmployeeID)

	none := s.do(http.MethodGet, "/api/requests?employee_id=mgr-1", "", nil)
	assert.JSONEq(t, `[]`, none.Body.String())
}

func TestBulkDecision(t *testing.T) {
	// GIVEN: Two pending requests and one unknown id
	// WHEN: hr-1 approves all three in one batch
	// THEN: The two known requests succeed and the unknown one is reported

	s := newTestServer(t)
	r1 := s.createRequest("emp-1", "2025-03-10", "2025-03-11")
	r2 := s.createRequest("emp-2", "2025-03-10", "2025-03-11")

	rec := s.do(http.MethodPost, "/api/requests/bulk-decision", "hr-1", BulkDecisionBody{
		IDs:      []string{string(r1.ID), "missing", string(r2.ID)},
		Decision: "approve",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	result := decode[leave.BulkResult](t, rec)
	assert.NotEmpty(t, result.BatchID)
	assert.Equal(t, []leave.RequestID{r1.ID, r2.ID}, result.Succeeded)
	require.Len(t, result.Failed, 1)
	assert.Equal(t, leave.RequestID("missing"), result.Failed[0].ID)
	assert.Equal(t, "RequestNotFound", result.Failed[0].Kind)

	assertError(t, s.do(http.MethodPost, "/api/requests/bulk-decision", "hr-1", BulkDecisionBody{Decision: "later"}), http.StatusBadRequest, "InvalidInput")
}

// =============================================================================
// EMPLOYEES AND BALANCES
// =============================================================================

func TestEmployees(t *testing.T) {
	s := newTestServer(t)

	body := EmployeeBody{HireDate: leave.MustDate("2025-02-01"), ManagerID: "mgr-1", Role: "employee", Department: "ops"}
	assertError(t, s.do(http.MethodPut, "/api/employees/emp-3", "mgr-1", body), http.StatusForbidden, "NotAuthorized")

	rec := s.do(http.MethodPut, "/api/employees/emp-3", "hr-1", body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	got := decode[leave.Employee](t, s.do(http.MethodGet, "/api/employees/emp-3", "", nil))
	assert.Equal(t, leave.EmployeeID("emp-3"), got.ID)
	assert.True(t, got.HireDate.Equal(leave.MustDate("2025-02-01")))
	assert.Equal(t, "ops", got.Department)

	assertError(t, s.do(http.MethodGet, "/api/employees/nobody", "", nil), http.StatusNotFound, "EmployeeNotFound")
	assertError(t, s.do(http.MethodPut, "/api/employees/emp-4", "hr-1", EmployeeBody{HireDate: leave.MustDate("2025-02-01"), Role: "boss"}), http.StatusBadRequest, "InvalidInput")
}

func TestAdjustBalance(t *testing.T) {
	// GIVEN: emp-1 with 19 days
	// WHEN: hr-1 adds 2.5 days
	// THEN: The adjustment is listed and remaining grows to 21.5

	s := newTestServer(t)
	path := "/api/employees/emp-1/balances/2025/adjustments"

	assertError(t, s.do(http.MethodPost, path, "emp-1", `{"delta": 2.5, "reason": "bonus"}`), http.StatusForbidden, "NotAuthorized")

	rec := s.do(http.MethodPost, path, "hr-1", `{"delta": "2.5", "reason": "bonus"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	b := decode[BalanceDTO](t, rec)
	require.Len(t, b.Adjustments, 1)
	assert.Equal(t, "bonus", b.Adjustments[0].Reason)
	assertDays(t, 2.5, b.AdjustmentTotal)
	assertDays(t, 21.5, b.Remaining)

	assertError(t, s.do(http.MethodGet, "/api/employees/emp-1/balances/twenty", "", nil), http.StatusBadRequest, "InvalidInput")
}

// =============================================================================
// POLICIES, CARRY-OVER, AUDIT
// =============================================================================

func TestPolicies(t *testing.T) {
	s := newTestServer(t)

	assertError(t, s.do(http.MethodPut, "/api/policies", "emp-1", `{"max_consecutive_days": 21}`), http.StatusForbidden, "NotAuthorized")
	assertError(t, s.do(http.MethodPut, "/api/policies", "hr-1", `{"max_consecutive_days": `), http.StatusBadRequest, "InvalidPolicy")
	assertError(t, s.do(http.MethodPut, "/api/policies", "hr-1", `{"max_carry_over_days": -1}`), http.StatusBadRequest, "InvalidPolicy")

	rec := s.do(http.MethodPut, "/api/policies", "hr-1", `{"max_consecutive_days": 21, "exceptions": [{"date": "2025-12-25", "weight": 0, "name": "christmas"}]}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	updated := decode[leave.LeavePolicy](t, rec)
	assert.True(t, updated.IsActive)
	assert.Equal(t, leave.EmployeeID("hr-1"), updated.CreatedBy)

	active := decode[leave.LeavePolicy](t, s.do(http.MethodGet, "/api/policies/active", "", nil))
	assert.Equal(t, updated.VersionID, active.VersionID)
	assert.Equal(t, 21, active.Rules.MaxConsecutiveDays)
	require.Len(t, active.Exceptions, 1)

	history := decode[[]leave.LeavePolicy](t, s.do(http.MethodGet, "/api/policies", "", nil))
	require.Len(t, history, 2)
	assert.False(t, history[0].IsActive)
	assert.True(t, history[1].IsActive)
}

func TestCarryOver(t *testing.T) {
	// GIVEN: emp-1 has 17 days left and mgr-1 never requested leave in 2025
	// WHEN: hr-1 runs carry-over for 2025 twice
	// THEN: Both carry the 5-day cap once; the second run skips everyone

	s := newTestServer(t)
	req := s.createRequest("emp-1", "2025-03-10", "2025-03-11")
	require.Equal(t, http.StatusOK, s.do(http.MethodPost, "/api/requests/"+string(req.ID)+"/decision", "mgr-1", DecisionBody{Decision: "approve"}).Code)

	assertError(t, s.do(http.MethodPost, "/api/carry-over/2025", "emp-1", nil), http.StatusForbidden, "NotAuthorized")

	rec := s.do(http.MethodPost, "/api/carry-over/2025", "hr-1", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	report := decode[leave.CarryOverReport](t, rec)
	assert.Equal(t, 2025, report.Year)
	assert.Equal(t, 5, report.Applied)
	require.Len(t, report.Entries, 5)
	for _, e := range report.Entries {
		if e.EmployeeID == "emp-1" {
			assertDays(t, 17, e.Remaining)
		}
		assertDays(t, 5, e.Carried)
	}

	again := decode[leave.CarryOverReport](t, s.do(http.MethodPost, "/api/carry-over/2025", "hr-1", nil))
	assert.Equal(t, 0, again.Applied)
	assert.Equal(t, 5, again.Skipped)

	for _, id := range []string{"emp-1", "mgr-1"} {
		b := decode[BalanceDTO](t, s.do(http.MethodGet, "/api/employees/"+id+"/balances/2026", "", nil))
		assertDays(t, 5, b.CarriedOverIn)
	}
}

func TestQueryAudit(t *testing.T) {
	s := newTestServer(t)
	req := s.createRequest("emp-1", "2025-03-10", "2025-03-11")
	require.Equal(t, http.StatusOK, s.do(http.MethodPost, "/api/requests/"+string(req.ID)+"/decision", "mgr-1", DecisionBody{Decision: "approve"}).Code)

	entries := decode[[]leave.AuditEntry](t, s.do(http.MethodGet, "/api/audit?subject_id="+string(req.ID), "", nil))
	require.Len(t, entries, 2)
	assert.Equal(t, leave.AuditRequestCreated, entries[0].Action)
	assert.Equal(t, leave.AuditRequestApproved, entries[1].Action)

	approvals := decode[[]leave.AuditEntry](t, s.do(http.MethodGet, "/api/audit?actor_id=mgr-1&action=request_approved", "", nil))
	require.Len(t, approvals, 1)

	limited := decode[[]leave.AuditEntry](t, s.do(http.MethodGet, "/api/audit?subject_id="+string(req.ID)+"&limit=1", "", nil))
	assert.Len(t, limited, 1)

	assertError(t, s.do(http.MethodGet, "/api/audit?from=yesterday", "", nil), http.StatusBadRequest, "InvalidInput")
	assertError(t, s.do(http.MethodGet, "/api/audit?limit=-2", "", nil), http.StatusBadRequest, "InvalidInput")
}

// =============================================================================
// ERROR MAPPING
// =============================================================================

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err    error
		status int
	}{
		{leave.ErrInvalidRange, http.StatusBadRequest},
		{leave.ErrInvalidPolicy, http.StatusBadRequest},
		{leave.ErrNotAuthorized, http.StatusForbidden},
		{leave.ErrPolicyNotFound, http.StatusNotFound},
		{leave.ErrBalanceNotFound, http.StatusNotFound},
		{leave.ErrDuplicateCarryOver, http.StatusConflict},
		{leave.ErrConcurrentModification, http.StatusConflict},
		{leave.ErrInsufficientBalance, http.StatusUnprocessableEntity},
		{leave.ErrConsecutiveDaysExceeded, http.StatusUnprocessableEntity},
		{&leave.RetryExhaustedError{Key: "balance:emp-1:2025", Attempts: 3, Err: leave.ErrConcurrentModification}, http.StatusServiceUnavailable},
		{fmt.Errorf("wrapped: %w", leave.ErrConcurrentPendingLimitExceeded), http.StatusUnprocessableEntity},
		{errMissingActor, http.StatusUnauthorized},
		{errors.New("disk on fire"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			assert.Equal(t, tt.status, statusFor(tt.err))
		})
	}
}

func TestInternalErrorHidesDetails(t *testing.T) {
	h := NewHandler(nil, nil)
	h.Ping = func() error { return errors.New("db gone") }
	router := NewRouter(h, nil)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = httptest.NewRecorder()
	(&Handler{logger: h.logger}).fail(rec, httptest.NewRequest(http.MethodGet, "/x", nil), errors.New("secret"))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "secret")
	assert.Contains(t, rec.Body.String(), "Internal")
}
