package scheduling

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/clinic/booking/pkg/apperr"
)

const dateLayout = "2006-01-02"

var (
	errInvalidTimeFormat = apperr.Validation("invalid time format")
	errInvalidTimeValue  = apperr.Validation("invalid time value")
	errInvalidDate       = apperr.Validation("invalid date format")
)

// Clock is a time of day with minute precision, written "HH:MM".
type Clock struct {
	Hour   int
	Minute int
}

// ParseClock accepts exactly two digits, a colon, and two digits.
func ParseClock(s string) (Clock, error) {
	if len(s) != 5 || s[2] != ':' {
		return Clock{}, errInvalidTimeFormat
	}
	h, ok := twoDigits(s[0:2])
	if !ok {
		return Clock{}, errInvalidTimeFormat
	}
	m, ok := twoDigits(s[3:5])
	if !ok {
		return Clock{}, errInvalidTimeFormat
	}
	if h > 23 || m > 59 {
		return Clock{}, errInvalidTimeValue
	}
	return Clock{Hour: h, Minute: m}, nil
}

func twoDigits(s string) (int, bool) {
	if s[0] < '0' || s[0] > '9' || s[1] < '0' || s[1] > '9' {
		return 0, false
	}
	return int(s[0]-'0')*10 + int(s[1]-'0'), true
}

// ClockFromMinutes converts minutes since midnight, wrapping at 24h.
func ClockFromMinutes(m int) Clock {
	m = ((m % (24 * 60)) + 24*60) % (24 * 60)
	return Clock{Hour: m / 60, Minute: m % 60}
}

func (c Clock) Minutes() int { return c.Hour*60 + c.Minute }

func (c Clock) Before(o Clock) bool { return c.Minutes() < o.Minutes() }

func (c Clock) String() string { return fmt.Sprintf("%02d:%02d", c.Hour, c.Minute) }

func (c Clock) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.String())
}

func (c *Clock) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return errInvalidTimeFormat
	}
	parsed, err := ParseClock(s)
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// Date is a calendar day, written "YYYY-MM-DD".
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

func ParseDate(s string) (Date, error) {
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return Date{}, errInvalidDate
	}
	return DateOf(t), nil
}

// DateOf returns the calendar day of t in t's own location.
func DateOf(t time.Time) Date {
	y, m, d := t.Date()
	return Date{Year: y, Month: m, Day: d}
}

// Midnight returns the start of the day in UTC, as stored in DATE columns.
func (d Date) Midnight() time.Time {
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, time.UTC)
}

// At combines the day with a clock time in loc.
func (d Date) At(c Clock, loc *time.Location) time.Time {
	return time.Date(d.Year, d.Month, d.Day, c.Hour, c.Minute, 0, 0, loc)
}

func (d Date) AddDays(n int) Date {
	return DateOf(d.Midnight().AddDate(0, 0, n))
}

func (d Date) Before(o Date) bool { return d.Midnight().Before(o.Midnight()) }

func (d Date) After(o Date) bool { return o.Before(d) }

func (d Date) IsZero() bool { return d == Date{} }

func (d Date) String() string { return d.Midnight().Format(dateLayout) }

func (d Date) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Date) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return errInvalidDate
	}
	parsed, err := ParseDate(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}
