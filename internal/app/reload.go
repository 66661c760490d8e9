package app

import (
	"context"
	"strings"
	"time"

	"chime/internal/config"
	"chime/internal/eventbus"
	"chime/pkg/logx"
)

// applyConfig pushes the live-reloadable sections of next into the running
// components. It reports false when next could not be mapped and nothing
// was applied.
func (a *App) applyConfig(ctx context.Context, last, next *config.Config) bool {
	st, err := mapSettings(next)
	if err != nil {
		a.log.Warn("invalid config; keeping previous", logx.Err(err))
		return false
	}

	sections, attrs, restart := config.SummarizeConfigChange(last, next)
	if len(sections) == 0 {
		a.log.Debug("config reload received, but no effective changes detected")
		return true
	}
	if len(restart) > 0 {
		a.log.Warn("restart required for changes to take effect", logx.String("sections", strings.Join(restart, ",")))
	}
	if last != nil && strings.TrimSpace(last.Scheduler.Timezone) != strings.TrimSpace(next.Scheduler.Timezone) {
		a.log.Warn("scheduler.timezone changed; restart required",
			logx.String("current", a.calc.Location().String()), logx.String("configured", next.Scheduler.Timezone))
	}

	a.logs.Apply(st.log)

	wasEnabled := a.sched.Enabled()
	a.sched.Apply(st.sched)
	if wasEnabled != st.sched.Enabled {
		stopCtx, cancel := context.WithTimeout(ctx, st.sched.ShutdownGrace+time.Second)
		if err := a.sched.Stop(stopCtx); err != nil {
			a.log.Warn("scheduler stop incomplete", logx.Err(err))
		}
		cancel()
		a.sched.Start(a.sup.Context())
		a.log.Info("scheduler toggled via config", logx.Bool("enabled", st.sched.Enabled))
	}

	a.recovery.Apply(st.recovery)
	a.alarms.Apply(st.alarms)
	a.hub.Apply(st.hub)

	a.bus.Publish(eventbus.Event{Type: eventbus.ConfigReloaded, Time: time.Now(), Data: sections})
	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config applied", fields...)
	return true
}
