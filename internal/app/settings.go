package app

import (
	"strings"
	"time"

	"chime/internal/alarm"
	"chime/internal/config"
	"chime/internal/httpapi"
	"chime/internal/hub"
	"chime/internal/mqttbridge"
	"chime/internal/orchestrator"
	"chime/internal/recovery"
	"chime/internal/storage"
	"chime/internal/task/schedule"
	"chime/internal/task/scheduler"
	"chime/pkg/logx"
)

// settings is the typed form of one config snapshot.
type settings struct {
	log      logx.Config
	loc      *time.Location
	sched    scheduler.Config
	recovery recovery.Config
	alarms   alarm.Defaults
	storage  storage.Config
	hub      hub.Config
	orch     orchestrator.Config
	http     httpapi.Config
	mqtt     mqttbridge.Config
}

func mapSettings(cfg *config.Config) (settings, error) {
	var (
		st  settings
		err error
	)
	st.log = mapLogConfig(cfg)
	if st.loc, err = schedule.LoadLocation(cfg.Scheduler.Timezone); err != nil {
		return st, err
	}
	if st.sched, err = mapSchedulerConfig(cfg); err != nil {
		return st, err
	}
	if st.recovery, err = mapRecoveryConfig(cfg); err != nil {
		return st, err
	}
	if st.alarms, err = mapAlarmDefaults(cfg); err != nil {
		return st, err
	}
	if st.storage, err = mapStorageConfig(cfg); err != nil {
		return st, err
	}
	if st.hub, err = mapHubConfig(cfg); err != nil {
		return st, err
	}
	if st.orch, err = mapOrchestratorConfig(cfg); err != nil {
		return st, err
	}
	st.http = httpapi.Config{
		Addr:  strings.TrimSpace(cfg.HTTP.Addr),
		Token: cfg.HTTP.Token,
		Pprof: cfg.HTTP.Pprof,
	}
	st.mqtt = mqttbridge.Config{
		Broker:      strings.TrimSpace(cfg.MQTT.Broker),
		ClientID:    strings.TrimSpace(cfg.MQTT.ClientID),
		TopicPrefix: strings.TrimSpace(cfg.MQTT.TopicPrefix),
		Username:    cfg.MQTT.Username,
		Password:    cfg.MQTT.Password,
		QoS:         1,
	}
	return st, nil
}

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		JSON:    cfg.Logging.JSON,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func mapSchedulerConfig(cfg *config.Config) (scheduler.Config, error) {
	s := cfg.Scheduler
	tick, err := config.ParseDurationOrDefault("scheduler.tick_interval", s.TickInterval, time.Second)
	if err != nil {
		return scheduler.Config{}, err
	}
	device, err := config.ParseDurationOrDefault("scheduler.device_call_timeout", s.DeviceCallTimeout, 10*time.Second)
	if err != nil {
		return scheduler.Config{}, err
	}
	replay, err := config.ParseDurationOrDefault("scheduler.replay_timeout", s.ReplayTimeout, 30*time.Second)
	if err != nil {
		return scheduler.Config{}, err
	}
	grace, err := config.ParseDurationOrDefault("scheduler.shutdown_grace", s.ShutdownGrace, 5*time.Second)
	if err != nil {
		return scheduler.Config{}, err
	}
	playback, err := config.ParseDurationOrDefault("alarms.playback_interval", cfg.Alarms.PlaybackInterval, 30*time.Second)
	if err != nil {
		return scheduler.Config{}, err
	}
	return scheduler.Config{
		Enabled:                 s.Enabled,
		TickInterval:            tick,
		DeviceCallTimeout:       device,
		ReplayTimeout:           replay,
		ShutdownGrace:           grace,
		HistorySize:             s.HistorySize,
		DefaultPlaybackInterval: playback,
	}, nil
}

func mapRecoveryConfig(cfg *config.Config) (recovery.Config, error) {
	settle, err := config.ParseDurationOrDefault("recovery.settle_delay", cfg.Recovery.SettleDelay, 2*time.Second)
	if err != nil {
		return recovery.Config{}, err
	}
	grace, err := config.ParseDurationOrDefault("recovery.grace_period", cfg.Recovery.GracePeriod, 5*time.Minute)
	if err != nil {
		return recovery.Config{}, err
	}
	return recovery.Config{SettleDelay: settle, GracePeriod: grace}, nil
}

// mapAlarmDefaults leaves zero values in place; alarm.Service fills them.
func mapAlarmDefaults(cfg *config.Config) (alarm.Defaults, error) {
	a := cfg.Alarms
	playback, err := config.ParseDurationField("alarms.playback_interval", a.PlaybackInterval)
	if err != nil {
		return alarm.Defaults{}, err
	}
	autoDismiss, err := config.ParseDurationField("alarms.auto_dismiss_after", a.AutoDismissAfter)
	if err != nil {
		return alarm.Defaults{}, err
	}
	ramp, err := config.ParseDurationField("alarms.volume_ramp", a.VolumeRamp)
	if err != nil {
		return alarm.Defaults{}, err
	}
	d := alarm.Defaults{
		PlaybackInterval: playback,
		AutoDismissAfter: autoDismiss,
		VolumeRamp:       ramp,
		SnoozeMinutes:    a.SnoozeMinutes,
	}
	if a.VolumeStart != nil {
		d.VolumeStart = *a.VolumeStart
	}
	if a.VolumeEnd != nil {
		d.VolumeEnd = *a.VolumeEnd
	}
	return d, nil
}

// mapStorageConfig returns a zero Config (storage disabled) for an empty
// or "none" driver.
func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	if driver == "" || driver == "none" {
		return storage.Config{}, nil
	}
	busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
	if err != nil {
		return storage.Config{}, err
	}
	retention, err := config.ParseDurationField("storage.terminal_retention", sc.TerminalRetention)
	if err != nil {
		return storage.Config{}, err
	}
	return storage.Config{
		Driver:            driver,
		Path:              strings.TrimSpace(sc.Path),
		DSN:               strings.TrimSpace(sc.DSN),
		BusyTimeout:       busy,
		TerminalRetention: retention,
		Redis: storage.RedisConfig{
			Addr:     strings.TrimSpace(sc.Redis.Addr),
			Username: sc.Redis.Username,
			Password: sc.Redis.Password,
			DB:       sc.Redis.DB,
			Prefix:   sc.Redis.Prefix,
		},
	}, nil
}

func mapHubConfig(cfg *config.Config) (hub.Config, error) {
	h := cfg.Hub
	timeout, err := config.ParseDurationOrDefault("hub.timeout", h.Timeout, 10*time.Second)
	if err != nil {
		return hub.Config{}, err
	}
	return hub.Config{
		URL:        strings.TrimSpace(h.URL),
		Token:      h.Token,
		TTSEntity:  strings.TrimSpace(h.TTSEntity),
		Timeout:    timeout,
		RatePerSec: h.RatePerSec,
		Locations:  h.Locations,
	}, nil
}

func mapOrchestratorConfig(cfg *config.Config) (orchestrator.Config, error) {
	timeout, err := config.ParseDurationOrDefault("orchestrator.timeout", cfg.Orchestrator.Timeout, 30*time.Second)
	if err != nil {
		return orchestrator.Config{}, err
	}
	return orchestrator.Config{URL: strings.TrimSpace(cfg.Orchestrator.URL), Timeout: timeout}, nil
}
