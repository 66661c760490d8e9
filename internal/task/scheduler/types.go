package scheduler

import (
	"context"
	"time"

	"chime/internal/task"
)

// Config controls the execution loop.
type Config struct {
	Enabled                 bool
	TickInterval            time.Duration // default 1s
	DeviceCallTimeout       time.Duration // default 10s
	ReplayTimeout           time.Duration // default 30s
	ShutdownGrace           time.Duration // default 5s
	HistorySize             int           // default 200
	DefaultPlaybackInterval time.Duration // default 30s
}

func (c Config) withDefaults() Config {
	if c.TickInterval <= 0 {
		c.TickInterval = time.Second
	}
	if c.DeviceCallTimeout <= 0 {
		c.DeviceCallTimeout = 10 * time.Second
	}
	if c.ReplayTimeout <= 0 {
		c.ReplayTimeout = 30 * time.Second
	}
	if c.ShutdownGrace <= 0 {
		c.ShutdownGrace = 5 * time.Second
	}
	if c.HistorySize <= 0 {
		c.HistorySize = 200
	}
	if c.DefaultPlaybackInterval <= 0 {
		c.DefaultPlaybackInterval = 30 * time.Second
	}
	return c
}

// Device is the home-automation hub as seen by handlers.
// Volume is a percentage in [0,100].
type Device interface {
	Announce(ctx context.Context, deviceID, message string) error
	PlaySound(ctx context.Context, deviceID, mediaURI string, volumePercent int) error
	SetVolume(ctx context.Context, deviceID string, volumePercent int) error
	StopPlayback(ctx context.Context, deviceID string) error
}

// Replayer re-enters the agent orchestrator with a stored prompt.
type Replayer interface {
	Replay(ctx context.Context, correlationID, prompt, contextText string) error
}

type AlarmOutcome string

const (
	AlarmAutoDismissed AlarmOutcome = "auto_dismissed"
	AlarmFailed        AlarmOutcome = "failed"
)

// AlarmObserver is told when a ringing alarm ends on its own. Cancellation
// by dismiss, snooze or shutdown is never reported.
type AlarmObserver interface {
	AlarmFinished(ctx context.Context, t task.ScheduledTask, outcome AlarmOutcome)
}

type HistoryItem struct {
	ID       string        `json:"id"`
	Kind     task.Kind     `json:"kind"`
	Label    string        `json:"label,omitempty"`
	Started  time.Time     `json:"started"`
	Duration time.Duration `json:"duration"`
	Status   task.Status   `json:"status"`
	Error    string        `json:"error,omitempty"`
}

type Snapshot struct {
	Enabled    bool                 `json:"enabled"`
	Started    bool                 `json:"started"`
	Pending    int                  `json:"pending"`
	Running    []task.ScheduledTask `json:"running"`
	NextFireAt *time.Time           `json:"next_fire_at,omitempty"`
	Fired      uint64               `json:"fired"`
	Failed     uint64               `json:"failed"`
	History    []HistoryItem        `json:"history"`
}

// result is what a handler reports. An empty status means the task was
// cancelled and whoever cancelled it owns the status write.
type result struct {
	status  task.Status
	err     error
	outcome AlarmOutcome
}

type handler func(ctx context.Context, t task.ScheduledTask) result

type running struct {
	task   task.ScheduledTask
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	res    result // valid once done is closed
}
