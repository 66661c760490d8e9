package tools

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"chime/internal/alarm"
	"chime/internal/task/schedule"
	"chime/pkg/logx"
)

// SetAlarm creates or updates the alarm called name. With a cron schedule
// it recurs; otherwise it rings once at the next occurrence of timeOfDay.
func (t *Tools) SetAlarm(ctx context.Context, name, timeOfDay, location, cronSchedule, soundName string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return "An alarm needs a name."
	}
	device, err := t.resolve(ctx, strings.TrimSpace(location))
	if err != nil {
		return fmt.Sprintf("I couldn't find a device for %q.", location)
	}

	req := alarm.CreateRequest{Name: name, TargetEntity: device}
	if cron := strings.TrimSpace(cronSchedule); cron != "" {
		if err := t.calc.Validate(cron); err != nil {
			return fmt.Sprintf("%q is not a valid schedule. Use five fields: minute hour day month weekday.", cron)
		}
		req.CronSchedule = cron
	} else {
		h, m, err := schedule.ParseTimeOfDay(timeOfDay)
		if err != nil {
			return fmt.Sprintf("%q is not a valid time. Use HH:mm, for example 07:30.", timeOfDay)
		}
		at := t.calc.NextTimeOfDay(h, m, t.now())
		req.FireAt = &at
	}
	if sn := strings.TrimSpace(soundName); sn != "" {
		snd, ok := t.alarms.FindSound(sn)
		if !ok {
			return fmt.Sprintf("I don't know a sound called %q.", sn)
		}
		req.SoundID = snd.ID
	}

	c, updated, err := t.alarms.Create(ctx, req)
	if err != nil {
		t.log.Warn("set alarm failed", logx.String("name", name), logx.Err(err))
		return "I couldn't set that alarm. " + sentence(err)
	}
	verb := "set"
	if updated {
		verb = "updated"
	}
	next := formatWhen(*c.NextFireAt, t.now(), t.calc.Location())
	if c.Recurring() {
		return fmt.Sprintf("Alarm %q %s: %s. Next ring %s.", c.Name, verb, t.calc.Describe(c.CronSchedule), next)
	}
	return fmt.Sprintf("Alarm %q %s for %s.", c.Name, verb, next)
}

func (t *Tools) DismissAlarm(ctx context.Context, idOrName string) string {
	c, ok := t.alarms.Find(idOrName)
	if !ok {
		return fmt.Sprintf("Alarm %q was not found.", strings.TrimSpace(idOrName))
	}
	c, err := t.alarms.Dismiss(ctx, c.ID)
	if err != nil {
		if errors.Is(err, alarm.ErrNotFound) {
			return fmt.Sprintf("Alarm %q was not found.", strings.TrimSpace(idOrName))
		}
		return "I couldn't dismiss that alarm. " + sentence(err)
	}
	if c.IsEnabled && c.NextFireAt != nil {
		return fmt.Sprintf("Dismissed %q. It will ring again %s.", c.Name, formatWhen(*c.NextFireAt, t.now(), t.calc.Location()))
	}
	return fmt.Sprintf("Dismissed %q.", c.Name)
}

// SnoozeAlarm rings the alarm again after minutes; zero or less uses the
// configured snooze length.
func (t *Tools) SnoozeAlarm(ctx context.Context, idOrName string, minutes int) string {
	c, ok := t.alarms.Find(idOrName)
	if !ok {
		return fmt.Sprintf("Alarm %q was not found.", strings.TrimSpace(idOrName))
	}
	if minutes <= 0 {
		minutes = t.alarms.Defaults().SnoozeMinutes
	}
	c, err := t.alarms.Snooze(ctx, c.ID, minutes)
	if err != nil {
		if notFound(err) {
			return fmt.Sprintf("Alarm %q was not found.", strings.TrimSpace(idOrName))
		}
		return "I couldn't snooze that alarm. " + sentence(err)
	}
	return fmt.Sprintf("Snoozed %q for %s.", c.Name, plural(minutes, "minute"))
}

func (t *Tools) ListAlarms(context.Context) string {
	clocks := t.alarms.List()
	if len(clocks) == 0 {
		return "There are no alarms."
	}
	now, loc := t.now(), t.calc.Location()
	lines := []string{fmt.Sprintf("%s:", plural(len(clocks), "alarm"))}
	for _, c := range clocks {
		line := "- " + c.Name
		if c.Recurring() {
			line += ", " + t.calc.Describe(c.CronSchedule)
		}
		switch {
		case !c.IsEnabled:
			line += ", off"
		case c.NextFireAt != nil:
			line += ", next " + formatWhen(*c.NextFireAt, now, loc)
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}
