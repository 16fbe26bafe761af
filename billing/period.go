package billing

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"abonnement-backend/models"
)

// Day truncates t to midnight UTC of its calendar date.
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// AddDays advances t by n calendar days.
func AddDays(t time.Time, n int) time.Time {
	return Day(t).AddDate(0, 0, n)
}

// AddMonths advances t by n months, clamping the day to the end of the target
// month (Jan 31 + 1 month = Feb 28/29).
func AddMonths(t time.Time, n int) time.Time {
	y, m, d := Day(t).Date()
	total := int(m) - 1 + n
	y += floorDiv(total, 12)
	month := time.Month(total-floorDiv(total, 12)*12 + 1)
	if last := daysIn(y, month); d > last {
		d = last
	}
	return time.Date(y, month, d, 0, 0, 0, 0, time.UTC)
}

// AddPeriod advances start by count units. An empty unit means months; any
// unit that is not Days, Weeks or Months counts as years.
func AddPeriod(start time.Time, count int, unit models.PeriodInterval) time.Time {
	switch unit {
	case models.PeriodIntervalDays:
		return AddDays(start, count)
	case models.PeriodIntervalWeeks:
		return AddDays(start, 7*count)
	case models.PeriodIntervalMonths, "":
		return AddMonths(start, count)
	default:
		return AddMonths(start, 12*count)
	}
}

// ParsePeriod returns the number of units in a recurring period. An unset
// period is zero.
func ParsePeriod(p models.RecurringPeriod) (int, error) {
	s := strings.TrimSpace(string(p))
	if s == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidPeriod, s)
	}
	return n, nil
}

func ValidInterval(u models.PeriodInterval) bool {
	switch u {
	case models.PeriodIntervalDays, models.PeriodIntervalWeeks, models.PeriodIntervalMonths, models.PeriodIntervalYears:
		return true
	}
	return false
}

func daysIn(y int, m time.Month) int {
	return time.Date(y, m+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

func floorDiv(a, b int) int {
	q := a / b
	if a%b != 0 && (a < 0) != (b < 0) {
		q--
	}
	return q
}
