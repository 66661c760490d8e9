package tools

import (
	"context"
	"fmt"
	"sort"

	"github.com/tidwall/gjson"

	"chime/pkg/logx"
)

type Param struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Required    bool   `json:"required"`
	Description string `json:"description,omitempty"`
}

// Definition describes one tool for the orchestrator's function calling.
type Definition struct {
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Params      []Param `json:"parameters"`
}

type entry struct {
	def  Definition
	call func(ctx context.Context, t *Tools, args gjson.Result) string
}

func str(name, desc string, required bool) Param {
	return Param{Name: name, Type: "string", Required: required, Description: desc}
}

func integer(name, desc string, required bool) Param {
	return Param{Name: name, Type: "integer", Required: required, Description: desc}
}

var registry = map[string]entry{
	"SetTimer": {
		def: Definition{Description: "Start a countdown timer that is announced on a device.", Params: []Param{
			integer("durationSeconds", "length of the timer in seconds", true),
			str("message", "what to announce when it ends", false),
			str("target", "room or device to announce on", true),
		}},
		call: func(ctx context.Context, t *Tools, a gjson.Result) string {
			return t.SetTimer(ctx, int(a.Get("durationSeconds").Int()), a.Get("message").String(), a.Get("target").String())
		},
	},
	"CancelTimer": {
		def: Definition{Description: "Cancel a running timer.", Params: []Param{str("id", "timer id", true)}},
		call: func(ctx context.Context, t *Tools, a gjson.Result) string {
			return t.CancelTimer(ctx, a.Get("id").String())
		},
	},
	"ListTimers": {
		def:  Definition{Description: "List running timers."},
		call: func(ctx context.Context, t *Tools, _ gjson.Result) string { return t.ListTimers(ctx) },
	},
	"SetAlarm": {
		def: Definition{Description: "Create or update an alarm clock.", Params: []Param{
			str("name", "alarm name", true),
			str("time", "time of day, HH:mm", true),
			str("location", "room or device to ring on", true),
			str("cronSchedule", "five-field cron expression for repeating alarms", false),
			str("soundName", "sound to play", false),
		}},
		call: func(ctx context.Context, t *Tools, a gjson.Result) string {
			return t.SetAlarm(ctx, a.Get("name").String(), a.Get("time").String(), a.Get("location").String(),
				a.Get("cronSchedule").String(), a.Get("soundName").String())
		},
	},
	"DismissAlarm": {
		def: Definition{Description: "Stop a ringing alarm or skip its next ring.", Params: []Param{str("idOrName", "alarm id or name", true)}},
		call: func(ctx context.Context, t *Tools, a gjson.Result) string {
			return t.DismissAlarm(ctx, a.Get("idOrName").String())
		},
	},
	"SnoozeAlarm": {
		def: Definition{Description: "Snooze an alarm.", Params: []Param{
			str("idOrName", "alarm id or name", true),
			integer("minutes", "snooze length, default 9", false),
		}},
		call: func(ctx context.Context, t *Tools, a gjson.Result) string {
			return t.SnoozeAlarm(ctx, a.Get("idOrName").String(), int(a.Get("minutes").Int()))
		},
	},
	"ListAlarms": {
		def:  Definition{Description: "List alarm clocks."},
		call: func(ctx context.Context, t *Tools, _ gjson.Result) string { return t.ListAlarms(ctx) },
	},
	"ScheduleAction": {
		def: Definition{Description: "Run a request later, after a delay.", Params: []Param{
			str("prompt", "the request to run", true),
			integer("delaySeconds", "delay in seconds", true),
			str("label", "short description", true),
			str("context", "extra context for the request", false),
		}},
		call: func(ctx context.Context, t *Tools, a gjson.Result) string {
			return t.ScheduleAction(ctx, a.Get("prompt").String(), int(a.Get("delaySeconds").Int()),
				a.Get("label").String(), a.Get("context").String())
		},
	},
	"ScheduleActionAt": {
		def: Definition{Description: "Run a request at a time of day.", Params: []Param{
			str("prompt", "the request to run", true),
			str("timeOfDay", "time of day, HH:mm", true),
			str("label", "short description", true),
			str("context", "extra context for the request", false),
		}},
		call: func(ctx context.Context, t *Tools, a gjson.Result) string {
			return t.ScheduleActionAt(ctx, a.Get("prompt").String(), a.Get("timeOfDay").String(),
				a.Get("label").String(), a.Get("context").String())
		},
	},
	"CancelScheduledAction": {
		def: Definition{Description: "Cancel a scheduled action.", Params: []Param{str("id", "action id", true)}},
		call: func(ctx context.Context, t *Tools, a gjson.Result) string {
			return t.CancelScheduledAction(ctx, a.Get("id").String())
		},
	},
	"ListScheduledActions": {
		def:  Definition{Description: "List scheduled actions."},
		call: func(ctx context.Context, t *Tools, _ gjson.Result) string { return t.ListScheduledActions(ctx) },
	},
}

// Definitions lists every tool ordered by name.
func Definitions() []Definition {
	out := make([]Definition, 0, len(registry))
	for name, e := range registry {
		d := e.def
		d.Name = name
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Invoke runs the named tool with a JSON object of arguments. Unknown
// tools and missing required arguments are answered in text.
func (t *Tools) Invoke(ctx context.Context, name, argsJSON string) string {
	e, ok := registry[name]
	if !ok {
		return fmt.Sprintf("There is no tool called %q.", name)
	}
	if argsJSON == "" {
		argsJSON = "{}"
	}
	if !gjson.Valid(argsJSON) {
		return "The tool arguments are not valid JSON."
	}
	args := gjson.Parse(argsJSON)
	for _, p := range e.def.Params {
		if p.Required && !args.Get(p.Name).Exists() {
			return fmt.Sprintf("%s needs %q.", name, p.Name)
		}
	}
	t.log.Debug("tool call", logx.String("tool", name))
	return e.call(ctx, t, args)
}
