package leave_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/leave-engine/leave"
	"github.com/warp/leave-engine/leave/store"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

// today is a Saturday; every fixture runs with this date pinned.
var today = leave.MustDate("2025-03-01")

func fixedClock(d leave.Date) leave.Clock {
	return func() time.Time { return d.Time().Add(9 * time.Hour) }
}

func d(s string) leave.Date { return leave.MustDate(s) }

func assertDays(t *testing.T, want float64, got leave.Days, msgAndArgs ...any) {
	t.Helper()
	if !leave.D(want).Equal(got) {
		assert.Fail(t, fmt.Sprintf("days mismatch: want %v, got %s", want, got), msgAndArgs...)
	}
}

type fixture struct {
	ctx   context.Context
	mem   *store.Memory
	svc   *leave.Service
	clock leave.Clock
}

var testEmployees = []leave.Employee{
	{ID: "emp-1", HireDate: leave.MustDate("2020-01-01"), ManagerID: "mgr-1", Role: leave.RoleEmployee, Department: "eng"},
	{ID: "emp-2", HireDate: leave.MustDate("2024-06-15"), ManagerID: "mgr-1", Role: leave.RoleEmployee, Department: "eng"},
	{ID: "mgr-1", HireDate: leave.MustDate("2015-01-01"), Role: leave.RoleManager, Department: "eng"},
	{ID: "mgr-2", HireDate: leave.MustDate("2016-01-01"), Role: leave.RoleManager, Department: "sales"},
	{ID: "hr-1", HireDate: leave.MustDate("2018-01-01"), Role: leave.RoleHR, Department: "people"},
}

func newFixture(t *testing.T) *fixture {
	return newFixtureWithRules(t, leave.DefaultRules(), nil)
}

func newFixtureWithRules(t *testing.T, rules leave.Rules, exceptions []leave.DateException) *fixture {
	t.Helper()
	ctx := context.Background()
	mem := store.NewMemory()
	for _, e := range testEmployees {
		require.NoError(t, mem.SaveEmployee(ctx, e))
	}
	clock := fixedClock(today)
	svc := leave.NewService(mem, leave.Config{Clock: clock})
	_, err := svc.BootstrapPolicy(ctx, rules, exceptions)
	require.NoError(t, err)
	return &fixture{ctx: ctx, mem: mem, svc: svc, clock: clock}
}

func (f *fixture) create(t *testing.T, emp leave.EmployeeID, start, end string) leave.LeaveRequest {
	t.Helper()
	req, err := f.svc.CreateRequest(f.ctx, leave.CreateRequestInput{
		EmployeeID: emp,
		Type:       leave.LeaveAnnual,
		StartDate:  d(start),
		EndDate:    d(end),
		Reason:     "vacation",
	})
	require.NoError(t, err)
	return req
}

func (f *fixture) balance(t *testing.T, emp leave.EmployeeID, year int) leave.LeaveBalance {
	t.Helper()
	b, err := f.svc.GetBalance(f.ctx, emp, year)
	require.NoError(t, err)
	return b
}
