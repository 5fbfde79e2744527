// Package store provides an in-memory leave.Store.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/warp/leave-engine/leave"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu        sync.RWMutex
	policies  []leave.LeavePolicy
	requests  map[leave.RequestID]leave.LeaveRequest
	balances  map[leave.BalanceKey]leave.LeaveBalance
	audit     []leave.AuditEntry
	employees map[leave.EmployeeID]leave.Employee
}

var _ leave.Store = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{
		requests:  make(map[leave.RequestID]leave.LeaveRequest),
		balances:  make(map[leave.BalanceKey]leave.LeaveBalance),
		employees: make(map[leave.EmployeeID]leave.Employee),
	}
}

// =============================================================================
// POLICIES
// =============================================================================

func (m *Memory) AppendPolicy(_ context.Context, p leave.LeavePolicy) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.policies {
		m.policies[i].IsActive = false
	}
	p.IsActive = true
	p.Exceptions = append([]leave.DateException(nil), p.Exceptions...)
	m.policies = append(m.policies, p)
	return nil
}

func (m *Memory) ActivePolicy(_ context.Context) (leave.LeavePolicy, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for i := len(m.policies) - 1; i >= 0; i-- {
		if m.policies[i].IsActive {
			return clonePolicy(m.policies[i]), nil
		}
	}
	return leave.LeavePolicy{}, leave.ErrPolicyNotFound
}

func (m *Memory) PolicyVersion(_ context.Context, id leave.PolicyVersionID) (leave.LeavePolicy, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, p := range m.policies {
		if p.VersionID == id {
			return clonePolicy(p), nil
		}
	}
	return leave.LeavePolicy{}, leave.ErrPolicyNotFound
}

func (m *Memory) ListPolicies(_ context.Context) ([]leave.LeavePolicy, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]leave.LeavePolicy, 0, len(m.policies))
	for _, p := range m.policies {
		result = append(result, clonePolicy(p))
	}
	return result, nil
}

func clonePolicy(p leave.LeavePolicy) leave.LeavePolicy {
	p.Exceptions = append([]leave.DateException(nil), p.Exceptions...)
	return p
}

// =============================================================================
// REQUESTS
// =============================================================================

func (m *Memory) CreateRequest(_ context.Context, r leave.LeaveRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.requests[r.ID]; exists {
		return leave.ErrConcurrentModification
	}
	m.requests[r.ID] = r
	return nil
}

func (m *Memory) GetRequest(_ context.Context, id leave.RequestID) (leave.LeaveRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.requests[id]
	if !ok {
		return leave.LeaveRequest{}, leave.ErrRequestNotFound
	}
	return r, nil
}

func (m *Memory) UpdateRequest(_ context.Context, r leave.LeaveRequest, expectedVersion int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.requests[r.ID]
	if !ok {
		return leave.ErrRequestNotFound
	}
	if current.Version != expectedVersion {
		return leave.ErrConcurrentModification
	}
	m.requests[r.ID] = r
	return nil
}

func (m *Memory) DeleteRequest(_ context.Context, id leave.RequestID, expectedVersion int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.requests[id]
	if !ok {
		return leave.ErrRequestNotFound
	}
	if current.Version != expectedVersion {
		return leave.ErrConcurrentModification
	}
	delete(m.requests, id)
	return nil
}

func (m *Memory) ListRequests(_ context.Context, filter leave.RequestFilter) ([]leave.LeaveRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	statuses := make(map[leave.Status]bool, len(filter.Statuses))
	for _, s := range filter.Statuses {
		statuses[s] = true
	}
	ids := make(map[leave.RequestID]bool, len(filter.IDs))
	for _, id := range filter.IDs {
		ids[id] = true
	}

	var result []leave.LeaveRequest
	for _, r := range m.requests {
		if filter.EmployeeID != "" && r.EmployeeID != filter.EmployeeID {
			continue
		}
		if len(statuses) > 0 && !statuses[r.Status] {
			continue
		}
		if len(ids) > 0 && !ids[r.ID] {
			continue
		}
		result = append(result, r)
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].StartDate.Equal(result[j].StartDate) {
			return result[i].StartDate.Before(result[j].StartDate)
		}
		return result[i].ID < result[j].ID
	})
	return result, nil
}

// =============================================================================
// BALANCES
// =============================================================================

func (m *Memory) GetBalance(_ context.Context, key leave.BalanceKey) (leave.LeaveBalance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.balances[key]
	if !ok {
		return leave.LeaveBalance{}, leave.ErrBalanceNotFound
	}
	return b.Clone(), nil
}

func (m *Memory) SaveBalance(_ context.Context, b leave.LeaveBalance, expectedVersion int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := b.Key()
	current, exists := m.balances[key]
	switch {
	case expectedVersion == 0 && exists:
		return leave.ErrConcurrentModification
	case expectedVersion != 0 && (!exists || current.Version != expectedVersion):
		return leave.ErrConcurrentModification
	}
	m.balances[key] = b.Clone()
	return nil
}

func (m *Memory) ListBalancesForYear(_ context.Context, year int) ([]leave.LeaveBalance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []leave.LeaveBalance
	for k, b := range m.balances {
		if k.Year == year {
			result = append(result, b.Clone())
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].EmployeeID < result[j].EmployeeID })
	return result, nil
}

// =============================================================================
// AUDIT
// =============================================================================

func (m *Memory) AppendAudit(_ context.Context, e leave.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.audit = append(m.audit, e)
	return nil
}

func (m *Memory) QueryAudit(_ context.Context, f leave.AuditFilter) ([]leave.AuditEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	actions := make(map[leave.AuditAction]bool, len(f.Actions))
	for _, a := range f.Actions {
		actions[a] = true
	}

	var result []leave.AuditEntry
	for _, e := range m.audit {
		switch {
		case f.SubjectID != "" && e.SubjectID != f.SubjectID,
			f.ActorID != "" && e.ActorID != f.ActorID,
			f.BatchID != "" && e.BatchID != f.BatchID,
			len(actions) > 0 && !actions[e.Action],
			f.From != nil && e.Timestamp.Before(*f.From),
			f.To != nil && e.Timestamp.After(*f.To):
			continue
		}
		result = append(result, e)
		if f.Limit > 0 && len(result) == f.Limit {
			break
		}
	}
	return result, nil
}

// =============================================================================
// EMPLOYEES
// =============================================================================

func (m *Memory) GetEmployee(_ context.Context, id leave.EmployeeID) (leave.Employee, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.employees[id]
	if !ok {
		return leave.Employee{}, leave.ErrEmployeeNotFound
	}
	return e, nil
}

func (m *Memory) SaveEmployee(_ context.Context, e leave.Employee) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.employees[e.ID] = e
	return nil
}

func (m *Memory) ListEmployees(_ context.Context) ([]leave.Employee, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]leave.Employee, 0, len(m.employees))
	for _, e := range m.employees {
		result = append(result, e)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}
