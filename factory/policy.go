/*
Package factory provides JSON to Go leave policy conversion.

PURPOSE:
  Converts JSON policy documents into leave.Rules and date exceptions so HR
  can change policy without code changes. Every omitted field falls back to
  leave.DefaultRules(); the result is validated before it is returned.

JSON SCHEMA:
  {
    "entitlement": {
      "first_year_monthly_cap": 11,
      "base_years_entitlement": 15,
      "max_annual_entitlement": 25
    },
    "weekend_weights": {"saturday": 0.5, "sunday": 0},
    "max_carry_over_days": 5,
    "min_advance_notice_days": 3,
    "max_consecutive_days": 14,
    "max_concurrent_pending_requests": 3,
    "advance_use_floor_days": -3,
    "exceptions": [
      {"date": "2025-12-25", "weight": 0, "name": "christmas"},
      {"date": "2025-05-01", "weight": 0, "allow_overlap": true, "name": "company day"}
    ]
  }

USAGE:
  f := factory.NewPolicyFactory()
  rules, exceptions, err := f.ParsePolicy(jsonString)
  svc.UpdatePolicy(ctx, rules, exceptions, actorID)
*/
package factory

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/shopspring/decimal"
	"github.com/warp/leave-engine/leave"
)

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

// PolicyJSON is the JSON representation of a policy version's rules.
type PolicyJSON struct {
	Entitlement                  *EntitlementJSON    `json:"entitlement,omitempty"`
	WeekendWeights               *WeekendWeightsJSON `json:"weekend_weights,omitempty"`
	MaxCarryOverDays             *float64            `json:"max_carry_over_days,omitempty"`
	MinAdvanceNoticeDays         *int                `json:"min_advance_notice_days,omitempty"`
	MaxConsecutiveDays           *int                `json:"max_consecutive_days,omitempty"`
	MaxConcurrentPendingRequests *int                `json:"max_concurrent_pending_requests,omitempty"`
	AdvanceUseFloorDays          *float64            `json:"advance_use_floor_days,omitempty"`
	Exceptions                   []ExceptionJSON     `json:"exceptions,omitempty"`
}

// EntitlementJSON configures the tenure-based entitlement.
type EntitlementJSON struct {
	FirstYearMonthlyCap  *int `json:"first_year_monthly_cap,omitempty"`
	BaseYearsEntitlement *int `json:"base_years_entitlement,omitempty"`
	MaxAnnualEntitlement *int `json:"max_annual_entitlement,omitempty"`
}

type WeekendWeightsJSON struct {
	Saturday *float64 `json:"saturday,omitempty"`
	Sunday   *float64 `json:"sunday,omitempty"`
}

// ExceptionJSON overrides the weight of one date.
type ExceptionJSON struct {
	Date         string  `json:"date"`
	Weight       float64 `json:"weight"`
	AllowOverlap bool    `json:"allow_overlap,omitempty"`
	Name         string  `json:"name,omitempty"`
}

// =============================================================================
// POLICY FACTORY
// =============================================================================

// PolicyFactory converts JSON policies to leave rules.
type PolicyFactory struct{}

func NewPolicyFactory() *PolicyFactory {
	return &PolicyFactory{}
}

// ParsePolicy parses a JSON string into validated rules and exceptions.
func (f *PolicyFactory) ParsePolicy(jsonStr string) (leave.Rules, []leave.DateException, error) {
	var pj PolicyJSON
	if err := json.Unmarshal([]byte(jsonStr), &pj); err != nil {
		return leave.Rules{}, nil, fmt.Errorf("%w: failed to parse policy JSON: %v", leave.ErrInvalidPolicy, err)
	}
	return f.FromJSON(pj)
}

// ParseFile reads and parses a policy document from disk.
func (f *PolicyFactory) ParseFile(path string) (leave.Rules, []leave.DateException, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return leave.Rules{}, nil, fmt.Errorf("read policy file: %w", err)
	}
	return f.ParsePolicy(string(b))
}

// FromJSON applies pj over the default rules and validates the result.
func (f *PolicyFactory) FromJSON(pj PolicyJSON) (leave.Rules, []leave.DateException, error) {
	rules := leave.DefaultRules()

	if e := pj.Entitlement; e != nil {
		setInt(&rules.FirstYearMonthlyCap, e.FirstYearMonthlyCap)
		setInt(&rules.BaseYearsEntitlement, e.BaseYearsEntitlement)
		setInt(&rules.MaxAnnualEntitlement, e.MaxAnnualEntitlement)
	}
	if w := pj.WeekendWeights; w != nil {
		setDays(&rules.SaturdayWeight, w.Saturday)
		setDays(&rules.SundayWeight, w.Sunday)
	}
	setDays(&rules.MaxCarryOverDays, pj.MaxCarryOverDays)
	setInt(&rules.MinAdvanceNoticeDays, pj.MinAdvanceNoticeDays)
	setInt(&rules.MaxConsecutiveDays, pj.MaxConsecutiveDays)
	setInt(&rules.MaxConcurrentPendingRequests, pj.MaxConcurrentPendingRequests)
	setDays(&rules.AdvanceUseFloorDays, pj.AdvanceUseFloorDays)

	if err := rules.Validate(); err != nil {
		return leave.Rules{}, nil, err
	}

	exceptions := make([]leave.DateException, 0, len(pj.Exceptions))
	for _, ej := range pj.Exceptions {
		d, err := leave.ParseDate(ej.Date)
		if err != nil {
			return leave.Rules{}, nil, fmt.Errorf("%w: exception %q: %v", leave.ErrInvalidPolicy, ej.Name, err)
		}
		exceptions = append(exceptions, leave.DateException{
			Date:         d,
			Weight:       decimal.NewFromFloat(ej.Weight),
			AllowOverlap: ej.AllowOverlap,
			Name:         ej.Name,
		})
	}
	return rules, exceptions, nil
}

// ToJSON converts rules and exceptions to their JSON document.
func (f *PolicyFactory) ToJSON(rules leave.Rules, exceptions []leave.DateException) PolicyJSON {
	pj := PolicyJSON{
		Entitlement: &EntitlementJSON{
			FirstYearMonthlyCap:  intPtr(rules.FirstYearMonthlyCap),
			BaseYearsEntitlement: intPtr(rules.BaseYearsEntitlement),
			MaxAnnualEntitlement: intPtr(rules.MaxAnnualEntitlement),
		},
		WeekendWeights: &WeekendWeightsJSON{
			Saturday: floatPtr(rules.SaturdayWeight),
			Sunday:   floatPtr(rules.SundayWeight),
		},
		MaxCarryOverDays:             floatPtr(rules.MaxCarryOverDays),
		MinAdvanceNoticeDays:         intPtr(rules.MinAdvanceNoticeDays),
		MaxConsecutiveDays:           intPtr(rules.MaxConsecutiveDays),
		MaxConcurrentPendingRequests: intPtr(rules.MaxConcurrentPendingRequests),
		AdvanceUseFloorDays:          floatPtr(rules.AdvanceUseFloorDays),
	}
	for _, ex := range exceptions {
		w, _ := ex.Weight.Float64()
		pj.Exceptions = append(pj.Exceptions, ExceptionJSON{
			Date:         ex.Date.String(),
			Weight:       w,
			AllowOverlap: ex.AllowOverlap,
			Name:         ex.Name,
		})
	}
	return pj
}

// =============================================================================
// PARSING HELPERS
// =============================================================================

func setInt(dst *int, v *int) {
	if v != nil {
		*dst = *v
	}
}

func setDays(dst *leave.Days, v *float64) {
	if v != nil {
		*dst = decimal.NewFromFloat(*v)
	}
}

func intPtr(v int) *int { return &v }

func floatPtr(d leave.Days) *float64 {
	v, _ := d.Float64()
	return &v
}
