package eventbus

import "time"

// Task lifecycle event types.
const (
	TaskScheduled = "task.scheduled"
	TaskFired     = "task.fired"
	TaskCompleted = "task.completed"
	TaskFailed    = "task.failed"
	TaskCancelled = "task.cancelled"
	TaskMissed    = "task.missed"
	TaskResumed   = "task.resumed"

	AlarmRinging   = "alarm.ringing"
	AlarmDismissed = "alarm.dismissed"
	AlarmSnoozed   = "alarm.snoozed"

	ConfigReloaded = "config.reloaded"
)

// TaskEvent is the Data payload of every task.* and alarm.* event.
type TaskEvent struct {
	ID            string    `json:"id"`
	Kind          string    `json:"kind"`
	Label         string    `json:"label,omitempty"`
	CorrelationID string    `json:"correlation_id,omitempty"`
	FireAt        time.Time `json:"fire_at"`
	Status        string    `json:"status,omitempty"`
	AlarmClockID  string    `json:"alarm_clock_id,omitempty"`
	Error         string    `json:"error,omitempty"`
}
