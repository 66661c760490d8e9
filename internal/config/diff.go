package config

import (
	"reflect"
	"strings"

	"chime/pkg/logx"
)

// Sections that can only change with a restart.
var restartSections = map[string]bool{
	"storage": true, "orchestrator": true, "http": true, "mqtt": true, "metrics": true,
}

// SummarizeConfigChange returns the changed section names, safe fields for
// logging (never secrets) and the subset of sections that need a restart.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field, []string) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	var (
		changed []string
		attrs   []logx.Field
		restart []string
	)
	mark := func(section string, fields ...logx.Field) {
		changed = append(changed, section)
		attrs = append(attrs, fields...)
		if restartSections[section] {
			restart = append(restart, section)
		}
	}

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		mark("logging",
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}
	if oldCfg.Scheduler != newCfg.Scheduler {
		mark("scheduler",
			logx.Bool("scheduler.enabled", newCfg.Scheduler.Enabled),
			logx.String("scheduler.timezone", strings.TrimSpace(newCfg.Scheduler.Timezone)),
			logx.String("scheduler.device_call_timeout", newCfg.Scheduler.DeviceCallTimeout),
		)
	}
	if oldCfg.Recovery != newCfg.Recovery {
		mark("recovery", logx.String("recovery.grace_period", newCfg.Recovery.GracePeriod))
	}
	if !reflect.DeepEqual(oldCfg.Alarms, newCfg.Alarms) {
		mark("alarms",
			logx.String("alarms.playback_interval", newCfg.Alarms.PlaybackInterval),
			logx.String("alarms.auto_dismiss_after", newCfg.Alarms.AutoDismissAfter),
			logx.Int("alarms.snooze_minutes", newCfg.Alarms.SnoozeMinutes),
		)
	}
	if oldCfg.Storage != newCfg.Storage {
		mark("storage",
			logx.String("storage.driver", newCfg.Storage.Driver),
			logx.String("storage.path", newCfg.Storage.Path),
			logx.Bool("storage.dsn_set", newCfg.Storage.DSN != ""),
		)
	}
	if !reflect.DeepEqual(oldCfg.Hub, newCfg.Hub) {
		mark("hub",
			logx.String("hub.url", newCfg.Hub.URL),
			logx.Bool("hub.token_set", newCfg.Hub.Token != ""),
			logx.Int("hub.locations", len(newCfg.Hub.Locations)),
		)
	}
	if oldCfg.Orchestrator != newCfg.Orchestrator {
		mark("orchestrator", logx.String("orchestrator.url", newCfg.Orchestrator.URL))
	}
	if oldCfg.HTTP != newCfg.HTTP {
		mark("http",
			logx.Bool("http.enabled", newCfg.HTTP.Enabled),
			logx.String("http.addr", newCfg.HTTP.Addr),
			logx.Bool("http.token_set", newCfg.HTTP.Token != ""),
		)
	}
	if oldCfg.MQTT != newCfg.MQTT {
		mark("mqtt",
			logx.Bool("mqtt.enabled", newCfg.MQTT.Enabled),
			logx.String("mqtt.broker", newCfg.MQTT.Broker),
		)
	}
	if oldCfg.Metrics != newCfg.Metrics {
		mark("metrics", logx.Bool("metrics.enabled", newCfg.Metrics.Enabled))
	}
	return changed, attrs, restart
}
