package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"chime/pkg/logx"
)

// Validate checks everything that can be checked without side effects.
// All problems are reported together.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	add := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}
	dur := func(path, raw string) {
		_, err := ParseDurationField(path, raw)
		add(err)
	}

	if lvl := strings.TrimSpace(cfg.Logging.Level); lvl != "" && !logx.ValidLevel(lvl) {
		add(fmt.Errorf("logging.level: unknown level %q", lvl))
	}

	s := cfg.Scheduler
	if tz := strings.TrimSpace(s.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			add(fmt.Errorf("scheduler.timezone: %w", err))
		}
	}
	dur("scheduler.tick_interval", s.TickInterval)
	dur("scheduler.device_call_timeout", s.DeviceCallTimeout)
	dur("scheduler.replay_timeout", s.ReplayTimeout)
	dur("scheduler.shutdown_grace", s.ShutdownGrace)
	if s.HistorySize < 0 {
		add(errors.New("scheduler.history_size must be >= 0"))
	}

	dur("recovery.settle_delay", cfg.Recovery.SettleDelay)
	dur("recovery.grace_period", cfg.Recovery.GracePeriod)

	a := cfg.Alarms
	dur("alarms.playback_interval", a.PlaybackInterval)
	dur("alarms.auto_dismiss_after", a.AutoDismissAfter)
	dur("alarms.volume_ramp", a.VolumeRamp)
	for _, v := range []struct {
		path string
		val  *float64
	}{{"alarms.volume_start", a.VolumeStart}, {"alarms.volume_end", a.VolumeEnd}} {
		if v.val != nil && (*v.val < 0 || *v.val > 1) {
			add(fmt.Errorf("%s must be between 0 and 1", v.path))
		}
	}
	if a.VolumeStart != nil && a.VolumeEnd != nil && *a.VolumeStart > *a.VolumeEnd {
		add(errors.New("alarms.volume_start must not exceed alarms.volume_end"))
	}
	if a.SnoozeMinutes < 0 {
		add(errors.New("alarms.snooze_minutes must be >= 0"))
	}

	st := cfg.Storage
	dur("storage.busy_timeout", st.BusyTimeout)
	dur("storage.terminal_retention", st.TerminalRetention)
	switch strings.ToLower(strings.TrimSpace(st.Driver)) {
	case "", "none", "memory", "mem", "file":
	case "sqlite", "sqlite3":
		if strings.TrimSpace(st.Path) == "" {
			add(errors.New("storage.path is required when storage.driver=sqlite"))
		}
	case "postgres", "postgresql":
		if strings.TrimSpace(st.DSN) == "" {
			add(fmt.Errorf("storage.dsn (or %s) is required when storage.driver=postgres", EnvDatabaseURL))
		}
	case "redis":
		if strings.TrimSpace(st.Redis.Addr) == "" {
			add(errors.New("storage.redis.addr is required when storage.driver=redis"))
		}
	default:
		add(fmt.Errorf("storage.driver: unknown driver %q", st.Driver))
	}

	add(checkURL("hub.url", cfg.Hub.URL))
	dur("hub.timeout", cfg.Hub.Timeout)
	if cfg.Hub.RatePerSec < 0 {
		add(errors.New("hub.rate_per_sec must be >= 0"))
	}
	add(checkURL("orchestrator.url", cfg.Orchestrator.URL))
	dur("orchestrator.timeout", cfg.Orchestrator.Timeout)

	if cfg.MQTT.Enabled && strings.TrimSpace(cfg.MQTT.Broker) == "" {
		add(errors.New("mqtt.broker is required when mqtt.enabled=true"))
	}
	return errors.Join(errs...)
}

func checkURL(path, raw string) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%s: %q is not an http(s) url", path, raw)
	}
	return nil
}
