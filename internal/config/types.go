package config

// Config is the whole chime configuration. Durations are Go duration
// strings ("500ms", "30s", "5m"). Unknown keys are rejected.
type Config struct {
	Logging      LoggingConfig      `json:"logging"`
	Scheduler    SchedulerConfig    `json:"scheduler"`
	Recovery     RecoveryConfig     `json:"recovery"`
	Alarms       AlarmsConfig       `json:"alarms"`
	Storage      StorageConfig      `json:"storage"`
	Hub          HubConfig          `json:"hub"`
	Orchestrator OrchestratorConfig `json:"orchestrator"`
	HTTP         HTTPConfig         `json:"http"`
	MQTT         MQTTConfig         `json:"mqtt"`
	Metrics      MetricsConfig      `json:"metrics"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	JSON    bool        `json:"json,omitempty"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// SchedulerConfig controls the task scheduler.
//
// Defaults: tick_interval 1s, device_call_timeout 10s, replay_timeout 30s,
// shutdown_grace 5s, history_size 200, timezone = local.
type SchedulerConfig struct {
	Enabled           bool   `json:"enabled"`
	Timezone          string `json:"timezone,omitempty"`
	TickInterval      string `json:"tick_interval,omitempty"`
	DeviceCallTimeout string `json:"device_call_timeout,omitempty"`
	ReplayTimeout     string `json:"replay_timeout,omitempty"`
	ShutdownGrace     string `json:"shutdown_grace,omitempty"`
	HistorySize       int    `json:"history_size,omitempty"`
}

// RecoveryConfig controls how persisted tasks are resumed at startup.
// Tasks later than grace_period (default 5m) are marked missed.
type RecoveryConfig struct {
	SettleDelay string `json:"settle_delay,omitempty"`
	GracePeriod string `json:"grace_period,omitempty"`
}

// AlarmsConfig holds the defaults applied to alarms that don't set them.
type AlarmsConfig struct {
	PlaybackInterval string   `json:"playback_interval,omitempty"`
	AutoDismissAfter string   `json:"auto_dismiss_after,omitempty"`
	VolumeStart      *float64 `json:"volume_start,omitempty"`
	VolumeEnd        *float64 `json:"volume_end,omitempty"`
	VolumeRamp       string   `json:"volume_ramp,omitempty"`
	SnoozeMinutes    int      `json:"snooze_minutes,omitempty"`
}

// StorageConfig selects the persistence driver.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./chime.db" }
type StorageConfig struct {
	Driver            string      `json:"driver"`
	Path              string      `json:"path,omitempty"`
	DSN               string      `json:"dsn,omitempty"` // postgres; may come from CHIME_DATABASE_URL
	BusyTimeout       string      `json:"busy_timeout,omitempty"`
	TerminalRetention string      `json:"terminal_retention,omitempty"`
	Redis             RedisConfig `json:"redis,omitempty"`
}

type RedisConfig struct {
	Addr     string `json:"addr,omitempty"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"` // do not log
	DB       int    `json:"db,omitempty"`
	Prefix   string `json:"prefix,omitempty"`
}

// HubConfig points at Home Assistant. Token may come from CHIME_HUB_TOKEN.
type HubConfig struct {
	URL        string            `json:"url"`
	Token      string            `json:"token,omitempty"` // do not log
	TTSEntity  string            `json:"tts_entity,omitempty"`
	Timeout    string            `json:"timeout,omitempty"`
	RatePerSec int               `json:"rate_per_sec,omitempty"`
	Locations  map[string]string `json:"locations,omitempty"`
}

type OrchestratorConfig struct {
	URL     string `json:"url"`
	Timeout string `json:"timeout,omitempty"`
}

type HTTPConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"`
	Token   string `json:"token,omitempty"` // do not log
	Pprof   bool   `json:"pprof,omitempty"`
}

type MQTTConfig struct {
	Enabled     bool   `json:"enabled"`
	Broker      string `json:"broker,omitempty"`
	ClientID    string `json:"client_id,omitempty"`
	TopicPrefix string `json:"topic_prefix,omitempty"`
	Username    string `json:"username,omitempty"`
	Password    string `json:"password,omitempty"` // do not log
}

type MetricsConfig struct {
	Enabled   bool   `json:"enabled"`
	Namespace string `json:"namespace,omitempty"`
}
