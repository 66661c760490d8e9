package task

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/xid"
)

type Kind string

const (
	KindTimer          Kind = "timer"
	KindAlarm          Kind = "alarm"
	KindDeferredAction Kind = "deferred_action"
)

func (k Kind) Valid() bool {
	switch k {
	case KindTimer, KindAlarm, KindDeferredAction:
		return true
	}
	return false
}

// Status is the persisted lifecycle state of a task.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusMissed    Status = "missed"
	StatusCancelled Status = "cancelled"
	StatusDismissed Status = "dismissed"
	StatusSnoozed   Status = "snoozed"
)

// Terminal reports whether no further execution will happen for s.
func (s Status) Terminal() bool {
	return s != StatusPending && s != StatusRunning && s != ""
}

func ParseStatus(s string) (Status, error) {
	st := Status(strings.ToLower(strings.TrimSpace(s)))
	switch st {
	case StatusPending, StatusRunning, StatusCompleted, StatusFailed,
		StatusMissed, StatusCancelled, StatusDismissed, StatusSnoozed:
		return st, nil
	}
	return "", fmt.Errorf("unknown task status %q", s)
}

type TimerPayload struct {
	Message         string `json:"message"`
	AnnounceTarget  string `json:"announce_target"`
	DurationSeconds int    `json:"duration_seconds"`
}

// AlarmPayload carries everything the ringing loop needs.
// Volumes are in [0,1].
type AlarmPayload struct {
	AlarmClockID       string        `json:"alarm_clock_id"`
	TargetEntity       string        `json:"target_entity"`
	SoundURI           string        `json:"sound_uri,omitempty"`
	PlaybackInterval   time.Duration `json:"playback_interval"`
	AutoDismissAfter   time.Duration `json:"auto_dismiss_after"`
	VolumeStart        float64       `json:"volume_start"`
	VolumeEnd          float64       `json:"volume_end"`
	VolumeRampDuration time.Duration `json:"volume_ramp_duration"`
}

type DeferredActionPayload struct {
	Prompt  string `json:"prompt"`
	Context string `json:"context,omitempty"`
}

// ScheduledTask is a unit of work due at FireAt.
//
// Exactly one payload pointer is set, matching Kind. Tasks are values; the
// store and scheduler copy them freely.
type ScheduledTask struct {
	ID            string    `json:"id"`
	CorrelationID string    `json:"correlation_id,omitempty"`
	Label         string    `json:"label"`
	FireAt        time.Time `json:"fire_at"`
	Kind          Kind      `json:"kind"`
	CreatedAt     time.Time `json:"created_at"`

	Timer  *TimerPayload          `json:"timer,omitempty"`
	Alarm  *AlarmPayload          `json:"alarm,omitempty"`
	Action *DeferredActionPayload `json:"action,omitempty"`
}

func NewID() string { return xid.New().String() }

func NewTimer(label string, fireAt time.Time, p TimerPayload) ScheduledTask {
	return ScheduledTask{ID: NewID(), Label: label, FireAt: fireAt.UTC(), Kind: KindTimer, Timer: &p}
}

func NewAlarm(label string, fireAt time.Time, p AlarmPayload) ScheduledTask {
	return ScheduledTask{ID: NewID(), Label: label, FireAt: fireAt.UTC(), Kind: KindAlarm, Alarm: &p}
}

func NewDeferredAction(label string, fireAt time.Time, p DeferredActionPayload) ScheduledTask {
	return ScheduledTask{ID: NewID(), Label: label, FireAt: fireAt.UTC(), Kind: KindDeferredAction, Action: &p}
}

// Validate checks the kind/payload pairing and required fields.
func (t ScheduledTask) Validate() error {
	if strings.TrimSpace(t.ID) == "" {
		return fmt.Errorf("%w: empty id", ErrInvalid)
	}
	if t.FireAt.IsZero() {
		return fmt.Errorf("%w: task %s has no fire time", ErrInvalid, t.ID)
	}
	set := 0
	for _, p := range []bool{t.Timer != nil, t.Alarm != nil, t.Action != nil} {
		if p {
			set++
		}
	}
	if set != 1 {
		return fmt.Errorf("%w: task %s must carry exactly one payload", ErrInvalid, t.ID)
	}
	switch t.Kind {
	case KindTimer:
		if t.Timer == nil {
			return fmt.Errorf("%w: timer task %s without timer payload", ErrInvalid, t.ID)
		}
		if strings.TrimSpace(t.Timer.AnnounceTarget) == "" {
			return fmt.Errorf("%w: timer task %s has no announce target", ErrInvalid, t.ID)
		}
	case KindAlarm:
		if t.Alarm == nil {
			return fmt.Errorf("%w: alarm task %s without alarm payload", ErrInvalid, t.ID)
		}
		a := t.Alarm
		if a.AlarmClockID == "" || a.TargetEntity == "" {
			return fmt.Errorf("%w: alarm task %s needs alarm id and target", ErrInvalid, t.ID)
		}
		if !unit(a.VolumeStart) || !unit(a.VolumeEnd) {
			return fmt.Errorf("%w: alarm task %s volume out of range", ErrInvalid, t.ID)
		}
	case KindDeferredAction:
		if t.Action == nil {
			return fmt.Errorf("%w: deferred task %s without action payload", ErrInvalid, t.ID)
		}
		if strings.TrimSpace(t.Action.Prompt) == "" {
			return fmt.Errorf("%w: deferred task %s has empty prompt", ErrInvalid, t.ID)
		}
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalid, t.Kind)
	}
	return nil
}

func unit(v float64) bool { return v >= 0 && v <= 1 }

// Remaining is the time until FireAt; negative once due.
func (t ScheduledTask) Remaining(now time.Time) time.Duration {
	return t.FireAt.Sub(now)
}

func (t ScheduledTask) Due(now time.Time) bool { return !t.FireAt.After(now) }

// AlarmClockID returns the owning alarm id, or "" for non-alarm tasks.
func (t ScheduledTask) AlarmClockID() string {
	if t.Alarm == nil {
		return ""
	}
	return t.Alarm.AlarmClockID
}

// SortByFireAt orders tasks by due time, then id for stable output.
func SortByFireAt(ts []ScheduledTask) {
	sort.Slice(ts, func(i, j int) bool {
		if !ts[i].FireAt.Equal(ts[j].FireAt) {
			return ts[i].FireAt.Before(ts[j].FireAt)
		}
		return ts[i].ID < ts[j].ID
	})
}
