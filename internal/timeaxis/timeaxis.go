// Package timeaxis converts between calendar period labels and the numeric
// day offsets used as the regression input of the growth curve fitter.
//
// Periods are represented by their last calendar day (quarter end or month
// end), so a quarterly range between two dates contains every quarter end
// falling inside it.
package timeaxis

import (
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

// Granularity is the spacing of a generated date sequence.
type Granularity string

const (
	Quarterly Granularity = "quarter"
	Monthly   Granularity = "month"
)

// ParseGranularity converts a config string into a Granularity.
func ParseGranularity(s string) (Granularity, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "q", "quarter", "quarterly":
		return Quarterly, nil
	case "m", "month", "monthly":
		return Monthly, nil
	default:
		return "", eris.Errorf("timeaxis: unknown granularity %q", s)
	}
}

// ErrEmptyHorizon is returned when a forecast horizon produces no dates.
var ErrEmptyHorizon = eris.New("timeaxis: empty forecast horizon")

var (
	yearQuarterRe = regexp.MustCompile(`^(\d{4})\s*-?\s*[Qq]([1-4])$`)
	quarterYearRe = regexp.MustCompile(`^[Qq]([1-4])\s*-?\s*(\d{4})$`)
	yearMonthRe   = regexp.MustCompile(`^(\d{4})-(\d{1,2})$`)
)

// ParsePeriod converts a period label into the date that represents it.
// Quarter labels ("2023Q1", "2023 Q1", "Q1 2023") map to the quarter end,
// month labels ("2023-01") to the month end, and ISO dates ("2023-02-14")
// are returned unchanged.
func ParsePeriod(label string) (time.Time, error) {
	s := strings.TrimSpace(label)

	if m := yearQuarterRe.FindStringSubmatch(s); m != nil {
		year, _ := strconv.Atoi(m[1])
		q, _ := strconv.Atoi(m[2])
		return quarterEnd(year, q), nil
	}
	if m := quarterYearRe.FindStringSubmatch(s); m != nil {
		q, _ := strconv.Atoi(m[1])
		year, _ := strconv.Atoi(m[2])
		return quarterEnd(year, q), nil
	}
	if m := yearMonthRe.FindStringSubmatch(s); m != nil {
		year, _ := strconv.Atoi(m[1])
		month, _ := strconv.Atoi(m[2])
		if month < 1 || month > 12 {
			return time.Time{}, eris.Errorf("timeaxis: invalid month in period %q", label)
		}
		return MonthEnd(time.Date(year, time.Month(month), 1, 0, 0, 0, 0, time.UTC)), nil
	}
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t, nil
	}

	return time.Time{}, eris.Errorf("timeaxis: unrecognised period label %q", label)
}

// Label renders t as a period label at granularity g ("2023Q1" or "2023-01").
func Label(t time.Time, g Granularity) string {
	if g == Monthly {
		return t.Format("2006-01")
	}
	return strconv.Itoa(t.Year()) + "Q" + strconv.Itoa(Quarter(t))
}

// Quarter returns the calendar quarter (1-4) of t.
func Quarter(t time.Time) int {
	return (int(t.Month())-1)/3 + 1
}

// QuarterEnd returns the last day of the quarter containing t.
func QuarterEnd(t time.Time) time.Time {
	return quarterEnd(t.Year(), Quarter(t))
}

// MonthEnd returns the last day of the month containing t.
func MonthEnd(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month()+1, 0, 0, 0, 0, 0, time.UTC)
}

func quarterEnd(year, q int) time.Time {
	return time.Date(year, time.Month(q*3+1), 0, 0, 0, 0, 0, time.UTC)
}

// PeriodEnd snaps t to the end of its period at granularity g.
func PeriodEnd(t time.Time, g Granularity) time.Time {
	if g == Monthly {
		return MonthEnd(t)
	}
	return QuarterEnd(t)
}

// Range returns every period end at granularity g that falls within
// [start, end]. It is empty when start is after end.
func Range(start, end time.Time, g Granularity) []time.Time {
	start, end = Day(start), Day(end)
	if start.After(end) {
		return nil
	}

	var dates []time.Time
	step := 3
	if g == Monthly {
		step = 1
	}

	cur := PeriodEnd(start, g)
	for !cur.After(end) {
		dates = append(dates, cur)
		// Step from the first of the month so month-end arithmetic never
		// overflows into the following month.
		first := time.Date(cur.Year(), cur.Month(), 1, 0, 0, 0, 0, time.UTC)
		cur = MonthEnd(first.AddDate(0, step, 0))
	}
	return dates
}

// DaysSince returns the whole number of days from ref to t. It is negative
// when t precedes ref.
func DaysSince(ref, t time.Time) int {
	return int(math.Round(Day(t).Sub(Day(ref)).Hours() / 24))
}

// Offsets returns the day offset of every date relative to ref.
func Offsets(ref time.Time, dates []time.Time) []int {
	out := make([]int, len(dates))
	for i, d := range dates {
		out[i] = DaysSince(ref, d)
	}
	return out
}

// MinDate returns the earliest date in dates and false when dates is empty.
func MinDate(dates []time.Time) (time.Time, bool) {
	if len(dates) == 0 {
		return time.Time{}, false
	}
	lo := dates[0]
	for _, d := range dates[1:] {
		if d.Before(lo) {
			lo = d
		}
	}
	return lo, true
}

// Day returns the UTC midnight of t's calendar date.
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
