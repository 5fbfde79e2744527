package leave_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/leave-engine/leave"
)

func TestCount_WeekdaysAndSaturday(t *testing.T) {
	// GIVEN: Mon 2025-03-10 to Sat 2025-03-15 with Saturday weighted 0.5
	// WHEN: Counting
	// THEN: 5 weekdays + 0.5 = 5.5

	var c leave.BusinessDayCounter
	got, err := c.Count(d("2025-03-10"), d("2025-03-15"), leave.DefaultRules(), nil)
	require.NoError(t, err)
	assertDays(t, 5.5, got)
}

func TestCount_SundayUsesSundayWeight(t *testing.T) {
	var c leave.BusinessDayCounter
	rules := leave.DefaultRules()

	got, err := c.Count(d("2025-03-15"), d("2025-03-16"), rules, nil)
	require.NoError(t, err)
	assertDays(t, 0.5, got, "Sat 0.5 + Sun 0")

	rules.SundayWeight = leave.D(0.25)
	got, err = c.Count(d("2025-03-15"), d("2025-03-16"), rules, nil)
	require.NoError(t, err)
	assertDays(t, 0.75, got)
}

func TestCount_ExceptionOverridesWeekday(t *testing.T) {
	// GIVEN: Wednesday 2025-03-12 is a holiday with weight 0
	// WHEN: Counting Mon-Fri of that week
	// THEN: 4 days

	var c leave.BusinessDayCounter
	exceptions := []leave.DateException{{Date: d("2025-03-12"), Weight: leave.DInt(0), Name: "holiday"}}
	got, err := c.Count(d("2025-03-10"), d("2025-03-14"), leave.DefaultRules(), exceptions)
	require.NoError(t, err)
	assertDays(t, 4, got)
}

func TestCount_ExceptionOnWeekendWins(t *testing.T) {
	var c leave.BusinessDayCounter
	exceptions := []leave.DateException{{Date: d("2025-03-16"), Weight: leave.DInt(1), Name: "working sunday"}}
	got, err := c.Count(d("2025-03-16"), d("2025-03-16"), leave.DefaultRules(), exceptions)
	require.NoError(t, err)
	assertDays(t, 1, got)
}

func TestCount_SingleDay(t *testing.T) {
	var c leave.BusinessDayCounter
	got, err := c.Count(d("2025-03-11"), d("2025-03-11"), leave.DefaultRules(), nil)
	require.NoError(t, err)
	assertDays(t, 1, got)
}

func TestCount_EndBeforeStart_InvalidRange(t *testing.T) {
	var c leave.BusinessDayCounter
	_, err := c.Count(d("2025-03-15"), d("2025-03-10"), leave.DefaultRules(), nil)

	require.Error(t, err)
	assert.ErrorIs(t, err, leave.ErrInvalidRange)
	var rangeErr *leave.RangeError
	require.ErrorAs(t, err, &rangeErr)
	assert.Equal(t, d("2025-03-15"), rangeErr.Start)
}

func TestCount_Deterministic(t *testing.T) {
	// GIVEN: A range spanning several weeks and a couple of exceptions
	// WHEN: Counting repeatedly
	// THEN: Every call returns the same value

	var c leave.BusinessDayCounter
	exceptions := []leave.DateException{
		{Date: d("2025-04-18"), Weight: leave.DInt(0)},
		{Date: d("2025-04-21"), Weight: leave.D(0.5)},
	}
	first, err := c.Count(d("2025-04-01"), d("2025-05-15"), leave.DefaultRules(), exceptions)
	require.NoError(t, err)
	for i := 0; i < 20; i++ {
		again, err := c.Count(d("2025-04-01"), d("2025-05-15"), leave.DefaultRules(), exceptions)
		require.NoError(t, err)
		assert.True(t, first.Equal(again))
	}
}

func TestCount_CrossesYearBoundary(t *testing.T) {
	// Wed 2025-12-31 to Fri 2026-01-02
	var c leave.BusinessDayCounter
	got, err := c.Count(d("2025-12-31"), d("2026-01-02"), leave.DefaultRules(), nil)
	require.NoError(t, err)
	assertDays(t, 3, got)
}

func TestDaysUntil_FarFutureDoesNotOverflow(t *testing.T) {
	// GIVEN: A range ending on 9999-12-31, beyond time.Duration's ~292 years
	// WHEN: Measuring the span
	// THEN: The day difference is exact and positive

	from, to := d("2025-03-10"), d("9999-12-31")
	assert.Equal(t, 2912739, from.DaysUntil(to))
	assert.Equal(t, -2912739, to.DaysUntil(from))
}
