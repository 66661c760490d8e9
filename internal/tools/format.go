package tools

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"chime/internal/alarm"
	"chime/internal/task"
	"chime/internal/timer"
)

// formatDuration renders d as spoken English: "5 minutes",
// "1 hour 30 minutes", "1 minute 30 seconds".
func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	if d <= 0 {
		return "0 seconds"
	}
	h := int(d / time.Hour)
	m := int(d % time.Hour / time.Minute)
	s := int(d % time.Minute / time.Second)

	var parts []string
	add := func(n int, unit string) {
		if n == 0 {
			return
		}
		if n == 1 {
			parts = append(parts, "1 "+unit)
			return
		}
		parts = append(parts, fmt.Sprintf("%d %ss", n, unit))
	}
	add(h, "hour")
	add(m, "minute")
	if h == 0 {
		add(s, "second")
	}
	return strings.Join(parts, " ")
}

// formatWhen renders an instant relative to now in loc.
func formatWhen(at, now time.Time, loc *time.Location) string {
	at, now = at.In(loc), now.In(loc)
	clock := at.Format("15:04")
	switch calendarDays(now, at) {
	case 0:
		return "today at " + clock
	case 1:
		return "tomorrow at " + clock
	}
	return at.Format("Monday, January 2") + " at " + clock
}

// calendarDays counts midnights between a and b, ignoring DST shifts.
func calendarDays(a, b time.Time) int {
	da := time.Date(a.Year(), a.Month(), a.Day(), 0, 0, 0, 0, time.UTC)
	db := time.Date(b.Year(), b.Month(), b.Day(), 0, 0, 0, 0, time.UTC)
	return int(db.Sub(da).Hours() / 24)
}

// sentence turns an error from a service into something worth saying.
func sentence(err error) string {
	msg := err.Error()
	for _, sentinel := range []error{task.ErrInvalid, alarm.ErrInvalid, alarm.ErrDuplicate} {
		if errors.Is(err, sentinel) {
			msg = strings.TrimPrefix(msg, sentinel.Error()+": ")
		}
	}
	if msg == "" {
		return "Something went wrong."
	}
	return strings.ToUpper(msg[:1]) + msg[1:] + "."
}

func notFound(err error) bool {
	return errors.Is(err, timer.ErrNotFound) || errors.Is(err, alarm.ErrNotFound) || errors.Is(err, task.ErrNotFound)
}

func plural(n int, unit string) string {
	if n == 1 {
		return "1 " + unit
	}
	return fmt.Sprintf("%d %ss", n, unit)
}
