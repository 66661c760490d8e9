package schedule

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

var (
	dowNames   = []string{"Sunday", "Monday", "Tuesday", "Wednesday", "Thursday", "Friday", "Saturday"}
	monthNames = []string{"", "January", "February", "March", "April", "May", "June", "July",
		"August", "September", "October", "November", "December"}

	dowAlias = map[string]int{"sun": 0, "mon": 1, "tue": 2, "wed": 3, "thu": 4, "fri": 5, "sat": 6}
	monAlias = map[string]int{"jan": 1, "feb": 2, "mar": 3, "apr": 4, "may": 5, "jun": 6,
		"jul": 7, "aug": 8, "sep": 9, "oct": 10, "nov": 11, "dec": 12}
)

// Describe renders a short English summary such as "weekdays at 07:00".
// Expressions it cannot summarise come back as `cron "<expr>"`; invalid
// ones as `invalid schedule "<expr>"`.
func (c *Calculator) Describe(expr string) string {
	if _, err := c.Parse(expr); err != nil {
		return fmt.Sprintf("invalid schedule %q", strings.TrimSpace(expr))
	}
	f := strings.Fields(expr)
	minute, hour, dom, month, dow := f[0], f[1], f[2], f[3], f[4]

	when, ok := describeTime(minute, hour)
	if !ok {
		return fmt.Sprintf("cron %q", strings.Join(f, " "))
	}
	days, ok := describeDays(dom, month, dow)
	if !ok {
		return fmt.Sprintf("cron %q", strings.Join(f, " "))
	}
	if days == "every day" && strings.HasPrefix(when, "every ") {
		return when
	}
	return days + " " + when
}

func Describe(expr string) string { return defaultCalc.Describe(expr) }

func describeTime(minute, hour string) (string, bool) {
	m, mOK := single(minute, 0, 59, nil)
	h, hOK := single(hour, 0, 23, nil)
	switch {
	case mOK && hOK:
		return fmt.Sprintf("at %02d:%02d", h, m), true
	case mOK && hour == "*":
		return fmt.Sprintf("every hour at :%02d", m), true
	case minute == "*" && hour == "*":
		return "every minute", true
	case strings.HasPrefix(minute, "*/") && hour == "*":
		n, err := strconv.Atoi(minute[2:])
		if err != nil || n <= 0 {
			return "", false
		}
		return fmt.Sprintf("every %d minutes", n), true
	case mOK:
		hours, ok := expand(hour, 0, 23, nil)
		if !ok {
			return "", false
		}
		parts := make([]string, 0, len(hours))
		for _, hh := range hours {
			parts = append(parts, fmt.Sprintf("%02d:%02d", hh, m))
		}
		return "at " + joinList(parts), true
	}
	return "", false
}

func describeDays(dom, month, dow string) (string, bool) {
	anyDom := dom == "*" || dom == "?"
	anyDow := dow == "*" || dow == "?"

	if anyDom && month == "*" {
		if anyDow {
			return "every day", true
		}
		days, ok := expand(dow, 0, 7, dowAlias)
		if !ok {
			return "", false
		}
		return describeWeekdays(days), true
	}
	if !anyDow {
		return "", false
	}
	d, ok := single(dom, 1, 31, nil)
	if !ok {
		return "", false
	}
	if month == "*" {
		return fmt.Sprintf("on day %d of every month", d), true
	}
	mo, ok := single(month, 1, 12, monAlias)
	if !ok {
		return "", false
	}
	return fmt.Sprintf("every %s %d", monthNames[mo], d), true
}

func describeWeekdays(days []int) string {
	set := map[int]bool{}
	for _, d := range days {
		set[d%7] = true
	}
	norm := make([]int, 0, len(set))
	for d := range set {
		norm = append(norm, d)
	}
	sort.Ints(norm)

	key := fmt.Sprint(norm)
	switch key {
	case "[1 2 3 4 5]":
		return "weekdays"
	case "[0 6]":
		return "weekends"
	case "[0 1 2 3 4 5 6]":
		return "every day"
	}
	names := make([]string, 0, len(norm))
	for _, d := range norm {
		names = append(names, dowNames[d])
	}
	return "every " + joinList(names)
}

// single parses a field holding exactly one value.
func single(field string, lo, hi int, alias map[string]int) (int, bool) {
	v, ok := value(field, alias)
	if !ok || v < lo || v > hi {
		return 0, false
	}
	return v, true
}

func value(s string, alias map[string]int) (int, bool) {
	if v, ok := alias[strings.ToLower(s)]; ok {
		return v, true
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, false
	}
	return v, true
}

// expand resolves lists, ranges and steps into sorted values.
func expand(field string, lo, hi int, alias map[string]int) ([]int, bool) {
	seen := map[int]bool{}
	for _, part := range strings.Split(field, ",") {
		step := 1
		if i := strings.Index(part, "/"); i >= 0 {
			n, err := strconv.Atoi(part[i+1:])
			if err != nil || n <= 0 {
				return nil, false
			}
			step = n
			part = part[:i]
		}
		start, end := lo, hi
		switch {
		case part == "*":
		case strings.Contains(part, "-"):
			a, b, _ := strings.Cut(part, "-")
			var ok1, ok2 bool
			start, ok1 = value(a, alias)
			end, ok2 = value(b, alias)
			if !ok1 || !ok2 {
				return nil, false
			}
		default:
			v, ok := value(part, alias)
			if !ok {
				return nil, false
			}
			start = v
			if step == 1 {
				end = v
			}
		}
		if start < lo || end > hi || start > end {
			return nil, false
		}
		for v := start; v <= end; v += step {
			seen[v] = true
		}
	}
	out := make([]int, 0, len(seen))
	for v := range seen {
		out = append(out, v)
	}
	sort.Ints(out)
	return out, len(out) > 0
}

func joinList(items []string) string {
	switch len(items) {
	case 0:
		return ""
	case 1:
		return items[0]
	}
	return strings.Join(items[:len(items)-1], ", ") + " and " + items[len(items)-1]
}
