/*
time.go - Calendar dates and the due-date cursor

PURPOSE:
  Every obligation is keyed by calendar dates: a start date, a next due date,
  an optional deduction override. This file holds the Date type and the pure
  functions that move a schedule forward.

MONTH ROLLOVER POLICY:
  Adding months CLAMPS to the last valid day of the target month:
    Jan 31 + 1 month  = Feb 28 (Feb 29 in leap years)
    Jan 31 + 2 months = Mar 31
  Due dates are always computed from the schedule anchor, never by repeatedly
  adding one period, so a short month never shifts later installments.

  time.AddDate would normalize Jan 31 + 1 month to Mar 3. That would key the
  February installment on a March date and break due-date idempotency.

SEE ALSO:
  - types.go: Obligation types that carry these dates
  - obligation/generator.go: Consumer of EffectiveDueDate
*/
package generic

import (
	"fmt"
	"strings"
	"time"
)

// DateLayout is the wire and storage format for dates.
const DateLayout = "2006-01-02"

// =============================================================================
// DATE - Calendar day, always UTC midnight
// =============================================================================

type Date struct {
	Time time.Time
}

func NewDate(year int, month time.Month, day int) Date {
	return Date{Time: time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// DateOf truncates t to its calendar day in t's own location.
func DateOf(t time.Time) Date {
	return NewDate(t.Year(), t.Month(), t.Day())
}

func Today() Date {
	return DateOf(time.Now())
}

// ParseDate parses a YYYY-MM-DD string.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(DateLayout, strings.TrimSpace(s))
	if err != nil {
		return Date{}, fmt.Errorf("%w: %q", ErrInvalidDate, s)
	}
	return Date{Time: t}, nil
}

// MustParseDate is ParseDate for literals known to be valid.
func MustParseDate(s string) Date {
	d, err := ParseDate(s)
	if err != nil {
		panic(err)
	}
	return d
}

// Comparison
func (d Date) Before(other Date) bool        { return d.Time.Before(other.Time) }
func (d Date) After(other Date) bool         { return d.Time.After(other.Time) }
func (d Date) Equal(other Date) bool         { return d.Time.Equal(other.Time) }
func (d Date) BeforeOrEqual(other Date) bool { return !d.After(other) }
func (d Date) AfterOrEqual(other Date) bool  { return !d.Before(other) }

// Properties
func (d Date) Year() int          { return d.Time.Year() }
func (d Date) Month() time.Month  { return d.Time.Month() }
func (d Date) Day() int           { return d.Time.Day() }
func (d Date) IsZero() bool       { return d.Time.IsZero() }
func (d Date) String() string     { return d.Time.Format(DateLayout) }

func (d Date) MarshalJSON() ([]byte, error) {
	if d.IsZero() {
		return []byte("null"), nil
	}
	return []byte(`"` + d.String() + `"`), nil
}

func (d *Date) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		*d = Date{}
		return nil
	}
	parsed, err := ParseDate(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// AddDays shifts a date by n calendar days (n may be negative).
func AddDays(d Date, n int) Date {
	return Date{Time: d.Time.AddDate(0, 0, n)}
}

// AddMonths shifts a date by n months, clamping the day to the target month.
func AddMonths(d Date, n int) Date {
	first := time.Date(d.Year(), d.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, n, 0)
	day := d.Day()
	if last := daysIn(first.Year(), first.Month()); day > last {
		day = last
	}
	return NewDate(first.Year(), first.Month(), day)
}

// DateOffset returns the number of days from a to b.
func DateOffset(a, b Date) int {
	return int(b.Time.Sub(a.Time).Hours() / 24)
}

func daysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// =============================================================================
// FREQUENCY
// =============================================================================

type Frequency string

const (
	FrequencyMonthly    Frequency = "monthly"
	FrequencyQuarterly  Frequency = "quarterly"
	FrequencyHalfYearly Frequency = "half_yearly"
	FrequencyYearly     Frequency = "yearly"
)

var frequencyMonths = map[Frequency]int{
	FrequencyMonthly:    1,
	FrequencyQuarterly:  3,
	FrequencyHalfYearly: 6,
	FrequencyYearly:     12,
}

// Months returns the period length in months, or 0 for an unknown frequency.
func (f Frequency) Months() int { return frequencyMonths[f] }

func (f Frequency) Validate() error {
	if f.Months() == 0 {
		return fmt.Errorf("%w: %q", ErrInvalidFrequency, string(f))
	}
	return nil
}

// =============================================================================
// DATE CURSOR
// =============================================================================

// NextDueDate returns the date of installment number index (0-based) of a
// schedule starting at start.
func NextDueDate(start Date, freq Frequency, index int) (Date, error) {
	if start.IsZero() {
		return Date{}, fmt.Errorf("%w: missing schedule start", ErrInvalidDate)
	}
	if index < 0 {
		return Date{}, fmt.Errorf("%w: negative installment index %d", ErrInvalidDate, index)
	}
	if err := freq.Validate(); err != nil {
		return Date{}, err
	}
	return AddMonths(start, index*freq.Months()), nil
}

// EffectiveDueDate returns the next date on which o should produce a
// transaction: the deduction override when one is set, the regular schedule
// position otherwise.
func EffectiveDueDate(o Obligation) (Date, error) {
	t := o.ObligationTerms()
	if t.Override != nil {
		return t.Override.Date(t.Frequency)
	}
	return o.RegularDueDate()
}
