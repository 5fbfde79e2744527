package leave

import (
	"math"
	"time"
)

// =============================================================================
// ENTITLEMENT CALCULATOR
// =============================================================================

// EntitlementCalculator computes annual entitlement from seniority.
//
// First year of service (yearsOfService == 0):
//
//	one day per completed month since hire, capped at FirstYearMonthlyCap
//
// Afterwards:
//
//	min(BaseYearsEntitlement + (yearsOfService - 1), MaxAnnualEntitlement)
//
// yearsOfService is floor((asOf - hire) / 365.25 days). The result never
// decreases as asOf moves forward.
type EntitlementCalculator struct{}

const daysPerYear = 365.25

// EntitlementFor returns the entitlement earned by asOf.
func (EntitlementCalculator) EntitlementFor(hireDate, asOf Date, rules Rules) Days {
	if asOf.Before(hireDate) {
		return DInt(0)
	}
	years := YearsOfService(hireDate, asOf)
	if years == 0 {
		months := CompletedMonths(hireDate, asOf)
		if months > rules.FirstYearMonthlyCap {
			months = rules.FirstYearMonthlyCap
		}
		return DInt(months)
	}
	days := rules.BaseYearsEntitlement + (years - 1)
	if days > rules.MaxAnnualEntitlement {
		days = rules.MaxAnnualEntitlement
	}
	return DInt(days)
}

// EntitlementForYear evaluates the entitlement of a balance year for an
// employee, as of min(today, Dec 31 of year) clamped to the employment span.
func (c EntitlementCalculator) EntitlementForYear(emp Employee, year int, today Date, rules Rules) Days {
	asOf := EndOfYear(year)
	if today.Before(asOf) {
		asOf = today
	}
	if emp.TerminationDate != nil && emp.TerminationDate.Before(asOf) {
		asOf = *emp.TerminationDate
	}
	return c.EntitlementFor(emp.HireDate, asOf, rules)
}

// YearsOfService returns whole years of service, using 365.25-day years.
func YearsOfService(hireDate, asOf Date) int {
	elapsed := hireDate.DaysUntil(asOf)
	if elapsed <= 0 {
		return 0
	}
	return int(math.Floor(float64(elapsed) / daysPerYear))
}

// CompletedMonths counts monthly anniversaries of hireDate that have passed
// before asOf. Hire dates on the 29th-31st anniversary on the last day of
// shorter months.
func CompletedMonths(hireDate, asOf Date) int {
	n := 0
	for {
		anniversary := monthlyAnniversary(hireDate, n+1)
		if !anniversary.Before(asOf) {
			return n
		}
		n++
	}
}

func monthlyAnniversary(hireDate Date, months int) Date {
	first := NewDate(hireDate.Year(), hireDate.Month(), 1).AddMonths(months)
	last := daysIn(first.Month(), first.Year())
	day := hireDate.Day()
	if day > last {
		day = last
	}
	return NewDate(first.Year(), first.Month(), day)
}

func daysIn(m time.Month, year int) int {
	return NewDate(year, m+1, 0).Day()
}
