package tracker

import (
	"time"
)

// =============================================================================
// DAY - logical partition key (a calendar date string, not a timestamp)
// =============================================================================

// DayLayout is the string form of a Day.
const DayLayout = "2006-01-02"

// Day is a calendar day in YYYY-MM-DD form. Comparisons are string
// comparisons, which sort chronologically for this layout.
type Day string

// ParseDay validates s and returns it as a Day.
func ParseDay(s string) (Day, error) {
	t, err := time.Parse(DayLayout, s)
	if err != nil {
		return "", &ValidationError{Field: "date", Message: "must be YYYY-MM-DD"}
	}
	return Day(t.Format(DayLayout)), nil
}

// DayOf returns the logical day of t in t's location.
func DayOf(t time.Time) Day {
	return Day(t.Format(DayLayout))
}

// Valid reports whether d parses as a calendar day.
func (d Day) Valid() bool {
	_, err := time.Parse(DayLayout, string(d))
	return err == nil
}

// AddDays returns the day n days after d. Invalid days are returned as is.
func (d Day) AddDays(n int) Day {
	t, err := time.Parse(DayLayout, string(d))
	if err != nil {
		return d
	}
	return DayOf(t.AddDate(0, 0, n))
}

func (d Day) String() string { return string(d) }
