package tools

import (
	"context"
	"fmt"
	"strings"
	"time"

	"chime/pkg/logx"
)

func (t *Tools) SetTimer(ctx context.Context, durationSeconds int, message, target string) string {
	if durationSeconds <= 0 {
		return "A timer needs a duration longer than zero seconds."
	}
	device, err := t.resolve(ctx, strings.TrimSpace(target))
	if err != nil {
		return fmt.Sprintf("I couldn't find a device for %q.", target)
	}
	tk, err := t.timers.SetTimer(ctx, durationSeconds, message, device)
	if err != nil {
		t.log.Warn("set timer failed", logx.Err(err))
		return "I couldn't set that timer. " + sentence(err)
	}
	d := formatDuration(time.Duration(durationSeconds) * time.Second)
	if msg := strings.TrimSpace(message); msg != "" {
		return fmt.Sprintf("Timer set for %s: %q. Timer id %s.", d, msg, tk.ID)
	}
	return fmt.Sprintf("Timer set for %s. Timer id %s.", d, tk.ID)
}

func (t *Tools) CancelTimer(ctx context.Context, id string) string {
	tk, err := t.timers.CancelTimer(ctx, id)
	if err != nil {
		if notFound(err) {
			return fmt.Sprintf("Timer %s was not found.", strings.TrimSpace(id))
		}
		return "I couldn't cancel that timer. " + sentence(err)
	}
	return fmt.Sprintf("Cancelled the %s timer.", tk.Label)
}

func (t *Tools) ListTimers(context.Context) string {
	entries := t.timers.ListTimers()
	if len(entries) == 0 {
		return "There are no active timers."
	}
	lines := []string{fmt.Sprintf("%s running:", plural(len(entries), "timer"))}
	for _, e := range entries {
		lines = append(lines, fmt.Sprintf("- %s (%s): %s left", e.Task.Label, e.Task.ID, formatDuration(e.Remaining)))
	}
	return strings.Join(lines, "\n")
}

func (t *Tools) ScheduleAction(ctx context.Context, prompt string, delaySeconds int, label, contextText string) string {
	tk, err := t.timers.ScheduleAction(ctx, prompt, delaySeconds, label, contextText, conversation(ctx))
	if err != nil {
		return "I couldn't schedule that. " + sentence(err)
	}
	return fmt.Sprintf("Scheduled %q in %s. Action id %s.", tk.Label,
		formatDuration(time.Duration(delaySeconds)*time.Second), tk.ID)
}

func (t *Tools) ScheduleActionAt(ctx context.Context, prompt, timeOfDay, label, contextText string) string {
	tk, err := t.timers.ScheduleActionAt(ctx, prompt, timeOfDay, label, contextText, conversation(ctx))
	if err != nil {
		return "I couldn't schedule that. " + sentence(err)
	}
	return fmt.Sprintf("Scheduled %q for %s. Action id %s.", tk.Label,
		formatWhen(tk.FireAt, t.now(), t.calc.Location()), tk.ID)
}

func (t *Tools) CancelScheduledAction(ctx context.Context, id string) string {
	tk, err := t.timers.CancelScheduledAction(ctx, id)
	if err != nil {
		if notFound(err) {
			return fmt.Sprintf("Scheduled action %s was not found.", strings.TrimSpace(id))
		}
		return "I couldn't cancel that action. " + sentence(err)
	}
	return fmt.Sprintf("Cancelled the scheduled action %q.", tk.Label)
}

func (t *Tools) ListScheduledActions(context.Context) string {
	entries := t.timers.ListScheduledActions()
	if len(entries) == 0 {
		return "There are no scheduled actions."
	}
	lines := []string{fmt.Sprintf("%s pending:", plural(len(entries), "scheduled action"))}
	for _, e := range entries {
		lines = append(lines, fmt.Sprintf("- %s (%s): %s", e.Task.Label, e.Task.ID,
			formatWhen(e.Task.FireAt, t.now(), t.calc.Location())))
	}
	return strings.Join(lines, "\n")
}
