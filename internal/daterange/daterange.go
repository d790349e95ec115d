package daterange

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// DateLayout is the accepted input layout. Single-digit months and days are tolerated.
const DateLayout = "2006-1-2"

var (
	// ErrInvalidDateFormat is returned when an input is not a valid calendar date.
	ErrInvalidDateFormat = errors.New("invalid date format")
	// ErrInvalidRangeOrder is returned when the start date falls after the end date.
	ErrInvalidRangeOrder = errors.New("start date is after end date")
	// ErrRangeTooLong is returned when a range spans more days than allowed.
	ErrRangeTooLong = errors.New("date range too long")
)

// MonthKey identifies one monthly observation page
type MonthKey struct {
	Year  string `json:"year"`
	Month string `json:"month"`
}

// String returns the key as YYYY-MM
func (m MonthKey) String() string {
	return m.Year + "-" + m.Month
}

// Less reports whether m comes before other chronologically
func (m MonthKey) Less(other MonthKey) bool {
	if m.Year != other.Year {
		return m.Year < other.Year
	}
	return m.Month < other.Month
}

// FirstDay returns the YYYY-MM-01 token used in monthly page URLs
func (m MonthKey) FirstDay() string {
	return m.String() + "-01"
}

// DayKey identifies a single calendar day
type DayKey struct {
	Year  string `json:"year"`
	Month string `json:"month"`
	Day   string `json:"day"`
}

// String returns the key as YYYY-MM-DD
func (d DayKey) String() string {
	return d.Year + "-" + d.Month + "-" + d.Day
}

// MonthKey returns the month the day belongs to
func (d DayKey) MonthKey() MonthKey {
	return MonthKey{Year: d.Year, Month: d.Month}
}

// Range is the expansion of an inclusive date range
type Range struct {
	Months []MonthKey `json:"months"`
	Days   []DayKey   `json:"days"`

	index map[DayKey]struct{}
}

// Contains reports whether day is one of the expanded days
func (r *Range) Contains(day DayKey) bool {
	if r.index == nil {
		r.index = make(map[DayKey]struct{}, len(r.Days))
		for _, d := range r.Days {
			r.index[d] = struct{}{}
		}
	}
	_, ok := r.index[day]
	return ok
}

// Start returns the first day of the range
func (r *Range) Start() DayKey {
	return r.Days[0]
}

// End returns the last day of the range
func (r *Range) End() DayKey {
	return r.Days[len(r.Days)-1]
}

// ParseDate parses a naive calendar date
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(DateLayout, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidDateFormat, s)
	}
	return t, nil
}

// Expand returns every month and every day between start and end, both inclusive.
func Expand(start, end string) (Range, error) {
	return ExpandMax(start, end, 0)
}

// ExpandMax is Expand with an upper bound on the number of days. The bound is
// checked before anything is allocated; maxDays <= 0 means no bound.
func ExpandMax(start, end string, maxDays int) (Range, error) {
	from, err := ParseDate(start)
	if err != nil {
		return Range{}, fmt.Errorf("start date: %w", err)
	}
	to, err := ParseDate(end)
	if err != nil {
		return Range{}, fmt.Errorf("end date: %w", err)
	}
	if n := DaysBetween(from, to); maxDays > 0 && n > maxDays {
		return Range{}, fmt.Errorf("%w: %d days, at most %d allowed", ErrRangeTooLong, n, maxDays)
	}
	return ExpandDates(from, to)
}

// DaysBetween returns the number of calendar days from from to to, both inclusive.
// It is zero or negative when from falls after to.
func DaysBetween(from, to time.Time) int {
	const secondsPerDay = 24 * 60 * 60
	return int((truncate(to).Unix()-truncate(from).Unix())/secondsPerDay) + 1
}

// ExpandDates is Expand for already parsed dates. Only the calendar date of each
// argument is considered.
func ExpandDates(from, to time.Time) (Range, error) {
	from = truncate(from)
	to = truncate(to)
	if from.After(to) {
		return Range{}, fmt.Errorf("%w: %s > %s", ErrInvalidRangeOrder,
			from.Format("2006-01-02"), to.Format("2006-01-02"))
	}

	var r Range
	seen := make(map[MonthKey]struct{})
	for d := from; !d.After(to); d = d.AddDate(0, 0, 1) {
		parts := strings.Split(d.Format("2006-01-02"), "-")
		day := DayKey{Year: parts[0], Month: parts[1], Day: parts[2]}
		r.Days = append(r.Days, day)

		month := day.MonthKey()
		if _, ok := seen[month]; !ok {
			seen[month] = struct{}{}
			r.Months = append(r.Months, month)
		}
	}

	sort.Slice(r.Months, func(i, j int) bool {
		return r.Months[i].Less(r.Months[j])
	})

	return r, nil
}

// truncate drops the clock and location, keeping the calendar date
func truncate(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
