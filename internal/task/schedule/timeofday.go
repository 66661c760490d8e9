package schedule

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ParseTimeOfDay parses a 24h "HH:mm" wall-clock time.
func ParseTimeOfDay(s string) (hour int, minute int, err error) {
	s = strings.TrimSpace(s)
	parts := strings.Split(s, ":")
	if len(parts) != 2 || len(parts[1]) != 2 {
		return 0, 0, fmt.Errorf("invalid time %q, expected HH:mm", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, 0, fmt.Errorf("invalid hour in %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, 0, fmt.Errorf("invalid minute in %q", s)
	}
	return h, m, nil
}

// NextTimeOfDay returns the next instant strictly after now whose wall clock
// in the calculator's location reads hour:minute. A time already passed
// today rolls to tomorrow.
func (c *Calculator) NextTimeOfDay(hour, minute int, now time.Time) time.Time {
	local := now.In(c.loc)
	t := time.Date(local.Year(), local.Month(), local.Day(), hour, minute, 0, 0, c.loc)
	if !t.After(local) {
		t = time.Date(local.Year(), local.Month(), local.Day()+1, hour, minute, 0, 0, c.loc)
	}
	return t.UTC()
}
