package leave

import "time"

// =============================================================================
// BUSINESS DAY COUNTER
// =============================================================================

// BusinessDayCounter converts a calendar range into chargeable leave days.
// It is the only place weekday weighting is computed.
//
//	Mon-Fri    1
//	Saturday   rules.SaturdayWeight
//	Sunday     rules.SundayWeight
//	exception  exception.Weight (wins over the weekday default)
type BusinessDayCounter struct{}

// Count returns the weighted day count of [start, end].
func (BusinessDayCounter) Count(start, end Date, rules Rules, exceptions []DateException) (Days, error) {
	rng, err := NewDateRange(start, end)
	if err != nil {
		return Days{}, err
	}

	overrides := make(map[Date]Days, len(exceptions))
	for _, ex := range exceptions {
		if rng.Contains(ex.Date) {
			overrides[ex.Date] = ex.Weight
		}
	}

	total := DInt(0)
	for _, d := range rng.Days() {
		if w, ok := overrides[d]; ok {
			total = total.Add(w)
			continue
		}
		total = total.Add(weekdayWeight(d.Weekday(), rules))
	}
	return total, nil
}

// CountForPolicy is Count with the policy's own rules and exceptions.
func (c BusinessDayCounter) CountForPolicy(start, end Date, p LeavePolicy) (Days, error) {
	return c.Count(start, end, p.Rules, p.Exceptions)
}

func weekdayWeight(wd time.Weekday, rules Rules) Days {
	switch wd {
	case time.Saturday:
		return rules.SaturdayWeight
	case time.Sunday:
		return rules.SundayWeight
	default:
		return DInt(1)
	}
}
