/*
policy.go - Versioned leave policy and the PolicyStore that serves it

PURPOSE:
  A LeavePolicy is the ruleset every other component reads: how entitlement
  grows with seniority, how weekend days are weighted, how far an employee
  may overdraw, and the limits ConflictGuard enforces. Policies are never
  edited in place. An update appends a new version and deactivates the
  previous one, so the history doubles as an audit record.

KEY CONCEPTS:
  - Rules: the numeric parameters of a policy version
  - DateException: a date whose weight is overridden (public holiday,
    company shutdown) and which may allow overlapping leave
  - PolicyStore: explicit handle on the active version, passed into every
    component constructor instead of a global "current policy"

VERSION PINNING:
  Requests record the PolicyVersionID active when they were created. Date
  edits and re-validation use that version, so tightening a rule never
  retroactively invalidates a pending request.

DEFAULTS:
  firstYearMonthlyCap 11, baseYearsEntitlement 15, maxAnnualEntitlement 25,
  saturdayWeight 0.5, sundayWeight 0, maxCarryOverDays 5,
  minAdvanceNoticeDays 3, maxConsecutiveDays 14,
  maxConcurrentPendingRequests 3, advanceUseFloorDays -3
*/
package leave

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// RULES
// =============================================================================

type Rules struct {
	FirstYearMonthlyCap          int  `json:"first_year_monthly_cap"`
	BaseYearsEntitlement         int  `json:"base_years_entitlement"`
	MaxAnnualEntitlement         int  `json:"max_annual_entitlement"`
	SaturdayWeight               Days `json:"saturday_weight"`
	SundayWeight                 Days `json:"sunday_weight"`
	MaxCarryOverDays             Days `json:"max_carry_over_days"`
	MinAdvanceNoticeDays         int  `json:"min_advance_notice_days"`
	MaxConsecutiveDays           int  `json:"max_consecutive_days"`
	MaxConcurrentPendingRequests int  `json:"max_concurrent_pending_requests"`
	AdvanceUseFloorDays          Days `json:"advance_use_floor_days"`
}

// DefaultRules returns the rules used when nothing else is configured.
func DefaultRules() Rules {
	return Rules{
		FirstYearMonthlyCap:          11,
		BaseYearsEntitlement:         15,
		MaxAnnualEntitlement:         25,
		SaturdayWeight:               D(0.5),
		SundayWeight:                 DInt(0),
		MaxCarryOverDays:             DInt(5),
		MinAdvanceNoticeDays:         3,
		MaxConsecutiveDays:           14,
		MaxConcurrentPendingRequests: 3,
		AdvanceUseFloorDays:          DInt(-3),
	}
}

// Validate rejects rule sets no component can operate on.
func (r Rules) Validate() error {
	switch {
	case r.FirstYearMonthlyCap < 0:
		return fmt.Errorf("%w: first_year_monthly_cap must be >= 0", ErrInvalidPolicy)
	case r.BaseYearsEntitlement < 0:
		return fmt.Errorf("%w: base_years_entitlement must be >= 0", ErrInvalidPolicy)
	case r.MaxAnnualEntitlement < r.BaseYearsEntitlement:
		return fmt.Errorf("%w: max_annual_entitlement %d below base %d",
			ErrInvalidPolicy, r.MaxAnnualEntitlement, r.BaseYearsEntitlement)
	case r.SaturdayWeight.IsNegative() || r.SundayWeight.IsNegative():
		return fmt.Errorf("%w: weekend weights must be >= 0", ErrInvalidPolicy)
	case r.SaturdayWeight.GreaterThan(DInt(1)) || r.SundayWeight.GreaterThan(DInt(1)):
		return fmt.Errorf("%w: weekend weights must be <= 1", ErrInvalidPolicy)
	case r.MaxCarryOverDays.IsNegative():
		return fmt.Errorf("%w: max_carry_over_days must be >= 0", ErrInvalidPolicy)
	case r.MinAdvanceNoticeDays < 0:
		return fmt.Errorf("%w: min_advance_notice_days must be >= 0", ErrInvalidPolicy)
	case r.MaxConsecutiveDays < 1:
		return fmt.Errorf("%w: max_consecutive_days must be >= 1", ErrInvalidPolicy)
	case r.MaxConcurrentPendingRequests < 1:
		return fmt.Errorf("%w: max_concurrent_pending_requests must be >= 1", ErrInvalidPolicy)
	case r.AdvanceUseFloorDays.IsPositive():
		return fmt.Errorf("%w: advance_use_floor_days must be <= 0", ErrInvalidPolicy)
	}
	return nil
}

// DateException overrides the weight of a single date.
type DateException struct {
	Date         Date   `json:"date"`
	Weight       Days   `json:"weight"`
	AllowOverlap bool   `json:"allow_overlap"`
	Name         string `json:"name,omitempty"`
}

// =============================================================================
// LEAVE POLICY - One immutable version
// =============================================================================

type LeavePolicy struct {
	VersionID     PolicyVersionID `json:"version_id"`
	EffectiveFrom time.Time       `json:"effective_from"`
	IsActive      bool            `json:"is_active"`
	Rules         Rules           `json:"rules"`
	Exceptions    []DateException `json:"exceptions,omitempty"`
	CreatedBy     EmployeeID      `json:"created_by"`
}

// Exception returns the exception registered for d, if any.
func (p LeavePolicy) Exception(d Date) (DateException, bool) {
	for _, ex := range p.Exceptions {
		if ex.Date.Equal(d) {
			return ex, true
		}
	}
	return DateException{}, false
}

// AllowsOverlap reports whether two employees' leave may share date d.
func (p LeavePolicy) AllowsOverlap(d Date) bool {
	ex, ok := p.Exception(d)
	return ok && ex.AllowOverlap
}

func validateExceptions(exceptions []DateException) error {
	seen := make(map[Date]bool, len(exceptions))
	for _, ex := range exceptions {
		if ex.Date.IsZero() {
			return fmt.Errorf("%w: exception %q has no date", ErrInvalidPolicy, ex.Name)
		}
		if seen[ex.Date] {
			return fmt.Errorf("%w: duplicate exception for %s", ErrInvalidPolicy, ex.Date)
		}
		if ex.Weight.IsNegative() || ex.Weight.GreaterThan(DInt(1)) {
			return fmt.Errorf("%w: exception %s weight must be within [0, 1]", ErrInvalidPolicy, ex.Date)
		}
		seen[ex.Date] = true
	}
	return nil
}

// =============================================================================
// POLICY STORE
// =============================================================================

// PolicyStore serves the active policy version and appends new ones.
// The active version is cached; Update is the only writer.
type PolicyStore struct {
	repo  PolicyRepository
	clock Clock

	mu     sync.RWMutex
	active *LeavePolicy
}

func NewPolicyStore(repo PolicyRepository, clock Clock) *PolicyStore {
	if clock == nil {
		clock = systemClock
	}
	return &PolicyStore{repo: repo, clock: clock}
}

// Active returns the current policy version or ErrPolicyNotFound.
func (ps *PolicyStore) Active(ctx context.Context) (LeavePolicy, error) {
	ps.mu.RLock()
	if ps.active != nil {
		p := *ps.active
		ps.mu.RUnlock()
		return p, nil
	}
	ps.mu.RUnlock()

	ps.mu.Lock()
	defer ps.mu.Unlock()
	if ps.active != nil {
		return *ps.active, nil
	}
	p, err := ps.repo.ActivePolicy(ctx)
	if err != nil {
		return LeavePolicy{}, err
	}
	ps.active = &p
	return p, nil
}

// Version returns a specific, possibly inactive, policy version.
func (ps *PolicyStore) Version(ctx context.Context, id PolicyVersionID) (LeavePolicy, error) {
	ps.mu.RLock()
	if ps.active != nil && ps.active.VersionID == id {
		p := *ps.active
		ps.mu.RUnlock()
		return p, nil
	}
	ps.mu.RUnlock()
	return ps.repo.PolicyVersion(ctx, id)
}

// History lists every version, oldest first.
func (ps *PolicyStore) History(ctx context.Context) ([]LeavePolicy, error) {
	return ps.repo.ListPolicies(ctx)
}

// Update appends a new active version that supersedes the current one.
func (ps *PolicyStore) Update(ctx context.Context, rules Rules, exceptions []DateException, actorID EmployeeID) (LeavePolicy, error) {
	if err := rules.Validate(); err != nil {
		return LeavePolicy{}, err
	}
	if err := validateExceptions(exceptions); err != nil {
		return LeavePolicy{}, err
	}

	ps.mu.Lock()
	defer ps.mu.Unlock()

	p := LeavePolicy{
		VersionID:     PolicyVersionID(uuid.NewString()),
		EffectiveFrom: ps.clock(),
		IsActive:      true,
		Rules:         rules,
		Exceptions:    append([]DateException(nil), exceptions...),
		CreatedBy:     actorID,
	}
	if err := ps.repo.AppendPolicy(ctx, p); err != nil {
		return LeavePolicy{}, err
	}
	ps.active = &p
	return p, nil
}
