package leave

// =============================================================================
// CONFLICT GUARD
// =============================================================================

// Candidate is a proposed leave range checked by ConflictGuard.
type Candidate struct {
	EmployeeID EmployeeID
	Type       LeaveType
	Start      Date
	End        Date

	// ExcludeID skips the request being edited when comparing with existing ones.
	ExcludeID RequestID
}

// ConflictGuard validates a candidate against the employee's other requests
// and the policy limits. Checks run in this order and the first failure wins:
//
//  1. overlap with a pending/approved request (unless a policy exception allows it)
//  2. pending request count
//  3. advance notice (skipped for notice-exempt leave types)
//  4. raw calendar span
type ConflictGuard struct {
	clock Clock
}

func NewConflictGuard(clock Clock) ConflictGuard {
	if clock == nil {
		clock = systemClock
	}
	return ConflictGuard{clock: clock}
}

func (g ConflictGuard) Validate(c Candidate, existing []LeaveRequest, policy LeavePolicy) error {
	rng, err := NewDateRange(c.Start, c.End)
	if err != nil {
		return err
	}
	if err := g.checkOverlap(c, rng, existing, policy); err != nil {
		return err
	}
	if err := g.checkPendingLimit(c, existing, policy.Rules); err != nil {
		return err
	}
	if err := g.checkNotice(c, policy.Rules); err != nil {
		return err
	}
	return g.checkConsecutive(c, rng, policy.Rules)
}

func (g ConflictGuard) checkOverlap(c Candidate, rng DateRange, existing []LeaveRequest, policy LeavePolicy) error {
	for _, r := range existing {
		if r.ID == c.ExcludeID || r.EmployeeID != c.EmployeeID || !r.Status.Occupying() {
			continue
		}
		shared, ok := rng.Intersection(r.Range())
		if !ok {
			continue
		}
		for _, d := range shared.Days() {
			if !policy.AllowsOverlap(d) {
				return &OverlapError{EmployeeID: c.EmployeeID, ConflictingRequestID: r.ID, Date: d}
			}
		}
	}
	return nil
}

func (g ConflictGuard) checkPendingLimit(c Candidate, existing []LeaveRequest, rules Rules) error {
	pending := 0
	for _, r := range existing {
		if r.ID != c.ExcludeID && r.EmployeeID == c.EmployeeID && r.Status == StatusPending {
			pending++
		}
	}
	if pending >= rules.MaxConcurrentPendingRequests {
		return &RuleViolationError{
			Kind:       ErrConcurrentPendingLimitExceeded,
			EmployeeID: c.EmployeeID,
			Rule:       "max_concurrent_pending_requests",
			Limit:      rules.MaxConcurrentPendingRequests,
			Actual:     pending + 1,
		}
	}
	return nil
}

func (g ConflictGuard) checkNotice(c Candidate, rules Rules) error {
	if c.Type.NoticeExempt() {
		return nil
	}
	notice := DateOf(g.clock()).DaysUntil(c.Start)
	if notice < rules.MinAdvanceNoticeDays {
		return &RuleViolationError{
			Kind:       ErrNoticePeriodViolation,
			EmployeeID: c.EmployeeID,
			Rule:       "min_advance_notice_days",
			Limit:      rules.MinAdvanceNoticeDays,
			Actual:     notice,
		}
	}
	return nil
}

func (g ConflictGuard) checkConsecutive(c Candidate, rng DateRange, rules Rules) error {
	if span := rng.CalendarDays(); span > rules.MaxConsecutiveDays {
		return &RuleViolationError{
			Kind:       ErrConsecutiveDaysExceeded,
			EmployeeID: c.EmployeeID,
			Rule:       "max_consecutive_days",
			Limit:      rules.MaxConsecutiveDays,
			Actual:     span,
		}
	}
	return nil
}
