package platform

import (
	"fmt"
	"time"
)

// DateLayout is the wire format of a calendar day.
const DateLayout = "2006-01-02"

// MaxRangeDays caps ranges accepted from callers at three years.
const MaxRangeDays = 1096

// DateRange is an inclusive span of UTC calendar days.
type DateRange struct {
	Start time.Time
	End   time.Time
}

// NewDateRange parses two YYYY-MM-DD days.
func NewDateRange(start, end string) (DateRange, error) {
	s, err := time.Parse(DateLayout, start)
	if err != nil {
		return DateRange{}, fmt.Errorf("invalid start date %q: %w", start, err)
	}
	e, err := time.Parse(DateLayout, end)
	if err != nil {
		return DateRange{}, fmt.Errorf("invalid end date %q: %w", end, err)
	}
	if e.Before(s) {
		return DateRange{}, fmt.Errorf("end date %s is before start date %s", end, start)
	}
	r := DateRange{Start: s, End: e}
	if n := r.Days(); n > MaxRangeDays {
		return DateRange{}, fmt.Errorf("range of %d days exceeds the maximum of %d", n, MaxRangeDays)
	}
	return r, nil
}

// Day truncates t to its UTC calendar day.
func Day(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// TrailingDays is the n-day range ending on now's UTC day, inclusive.
func TrailingDays(now time.Time, n int) DateRange {
	if n < 1 {
		n = 1
	}
	end := Day(now)
	return DateRange{Start: end.AddDate(0, 0, -(n - 1)), End: end}
}

// Days is the number of calendar days in the range.
func (r DateRange) Days() int {
	return int((Day(r.End).Unix()-Day(r.Start).Unix())/86400) + 1
}

// Previous is the equal-length range ending the day before Start.
func (r DateRange) Previous() DateRange {
	end := Day(r.Start).AddDate(0, 0, -1)
	return DateRange{Start: end.AddDate(0, 0, -(r.Days() - 1)), End: end}
}

// Extend returns the smallest range covering r and o.
func (r DateRange) Extend(o DateRange) DateRange {
	out := r
	if o.Start.Before(out.Start) {
		out.Start = o.Start
	}
	if o.End.After(out.End) {
		out.End = o.End
	}
	return out
}

// Contains reports whether day (YYYY-MM-DD) falls in the range.
func (r DateRange) Contains(day string) bool {
	return day >= r.StartDate() && day <= r.EndDate()
}

// Dates lists every day in the range in order.
func (r DateRange) Dates() []string {
	n := r.Days()
	out := make([]string, 0, n)
	d := Day(r.Start)
	for i := 0; i < n; i++ {
		out = append(out, d.AddDate(0, 0, i).Format(DateLayout))
	}
	return out
}

func (r DateRange) StartDate() string { return Day(r.Start).Format(DateLayout) }
func (r DateRange) EndDate() string   { return Day(r.End).Format(DateLayout) }

func (r DateRange) String() string {
	return r.StartDate() + ".." + r.EndDate()
}
