package schedule

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

var (
	ErrInvalid      = errors.New("invalid cron expression")
	ErrNoOccurrence = errors.New("cron expression has no occurrence within horizon")
)

// Horizon bounds the search for the next occurrence. Four years always
// contains a leap day, so "0 0 29 2 *" stays valid.
const Horizon = 4 * 366 * 24 * time.Hour

// Calculator evaluates standard 5-field cron expressions in one location.
// It is safe for concurrent use.
type Calculator struct {
	loc    *time.Location
	parser cron.Parser
	now    func() time.Time
}

func New(loc *time.Location) *Calculator {
	if loc == nil {
		loc = time.Local
	}
	return &Calculator{
		loc:    loc,
		parser: cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
		now:    time.Now,
	}
}

// LoadLocation resolves an IANA zone name; empty or unknown names fall back
// to the process local zone.
func LoadLocation(tz string) (*time.Location, error) {
	tz = strings.TrimSpace(tz)
	if tz == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return time.Local, err
	}
	return loc, nil
}

var defaultCalc = New(time.Local)

func IsValid(expr string) bool { return defaultCalc.IsValid(expr) }

func ComputeNextFireAt(expr string, after time.Time) (time.Time, error) {
	return defaultCalc.ComputeNextFireAt(expr, after)
}

func (c *Calculator) Location() *time.Location { return c.loc }

// Parse accepts exactly five whitespace-separated fields. Descriptors
// (@daily), a seconds field and TZ= prefixes are rejected.
func (c *Calculator) Parse(expr string) (cron.Schedule, error) {
	fields := strings.Fields(expr)
	if len(fields) != 5 {
		return nil, fmt.Errorf("%w: expected 5 fields, got %d", ErrInvalid, len(fields))
	}
	if strings.HasPrefix(fields[0], "TZ=") || strings.HasPrefix(fields[0], "CRON_TZ=") {
		return nil, fmt.Errorf("%w: timezone prefixes are not supported", ErrInvalid)
	}
	sched, err := c.parser.Parse(strings.Join(fields, " "))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return sched, nil
}

// IsValid reports whether expr parses and fires at least once within Horizon.
func (c *Calculator) IsValid(expr string) bool {
	return c.Validate(expr) == nil
}

func (c *Calculator) Validate(expr string) error {
	_, err := c.ComputeNextFireAt(expr, c.now())
	return err
}

// ComputeNextFireAt returns the earliest matching instant strictly after
// after, in UTC.
func (c *Calculator) ComputeNextFireAt(expr string, after time.Time) (time.Time, error) {
	sched, err := c.Parse(expr)
	if err != nil {
		return time.Time{}, err
	}
	next := sched.Next(after.In(c.loc))
	if next.IsZero() || next.Sub(after) > Horizon {
		return time.Time{}, fmt.Errorf("%w: %q", ErrNoOccurrence, expr)
	}
	if !next.After(after) {
		return time.Time{}, fmt.Errorf("%w: %q produced non-increasing time", ErrNoOccurrence, expr)
	}
	return next.UTC(), nil
}

// NextN returns up to n consecutive occurrences after after.
func (c *Calculator) NextN(expr string, after time.Time, n int) ([]time.Time, error) {
	out := make([]time.Time, 0, n)
	t := after
	for i := 0; i < n; i++ {
		next, err := c.ComputeNextFireAt(expr, t)
		if err != nil {
			if i == 0 {
				return nil, err
			}
			break
		}
		out = append(out, next)
		t = next
	}
	return out, nil
}
