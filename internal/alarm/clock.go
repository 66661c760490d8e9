package alarm

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"chime/internal/storage"
	"chime/internal/task/schedule"
)

var (
	ErrNotFound  = errors.New("alarm not found")
	ErrInvalid   = errors.New("invalid alarm")
	ErrDuplicate = errors.New("duplicate name")
)

// Clock is a durable alarm definition. A Clock without CronSchedule is
// one-shot and is disabled once it has rung.
type Clock struct {
	ID                 string        `json:"id"`
	Name               string        `json:"name"`
	TargetEntity       string        `json:"target_entity"`
	AlarmSoundID       string        `json:"alarm_sound_id,omitempty"`
	CronSchedule       string        `json:"cron_schedule,omitempty"`
	NextFireAt         *time.Time    `json:"next_fire_at,omitempty"`
	PlaybackInterval   time.Duration `json:"playback_interval"`
	AutoDismissAfter   time.Duration `json:"auto_dismiss_after"`
	IsEnabled          bool          `json:"is_enabled"`
	VolumeStart        float64       `json:"volume_start"`
	VolumeEnd          float64       `json:"volume_end"`
	VolumeRampDuration time.Duration `json:"volume_ramp_duration"`
	LastDismissedAt    *time.Time    `json:"last_dismissed_at,omitempty"`
	CreatedAt          time.Time     `json:"created_at"`
	UpdatedAt          time.Time     `json:"updated_at"`
}

func (c Clock) Recurring() bool { return strings.TrimSpace(c.CronSchedule) != "" }

// AdvanceSchedule moves NextFireAt to the first occurrence after now.
// It recomputes from now, not from the previous NextFireAt, so an alarm
// that was down for days does not replay its backlog.
func (c *Clock) AdvanceSchedule(calc *schedule.Calculator, now time.Time) error {
	if !c.Recurring() {
		return fmt.Errorf("%w: %s is not recurring", ErrInvalid, c.Name)
	}
	next, err := calc.ComputeNextFireAt(c.CronSchedule, now)
	if err != nil {
		return err
	}
	c.NextFireAt = &next
	return nil
}

func (c *Clock) disable() {
	c.IsEnabled = false
	c.NextFireAt = nil
}

func (c Clock) document() storage.AlarmDocument {
	return storage.AlarmDocument{
		ID:                 c.ID,
		Name:               c.Name,
		TargetEntity:       c.TargetEntity,
		AlarmSoundID:       c.AlarmSoundID,
		CronSchedule:       c.CronSchedule,
		NextFireAt:         copyTime(c.NextFireAt),
		PlaybackInterval:   c.PlaybackInterval,
		AutoDismissAfter:   c.AutoDismissAfter,
		IsEnabled:          c.IsEnabled,
		VolumeStart:        c.VolumeStart,
		VolumeEnd:          c.VolumeEnd,
		VolumeRampDuration: c.VolumeRampDuration,
		LastDismissedAt:    copyTime(c.LastDismissedAt),
		CreatedAt:          c.CreatedAt,
		UpdatedAt:          c.UpdatedAt,
	}
}

func clockFromDocument(d storage.AlarmDocument) Clock {
	return Clock{
		ID:                 d.ID,
		Name:               d.Name,
		TargetEntity:       d.TargetEntity,
		AlarmSoundID:       d.AlarmSoundID,
		CronSchedule:       d.CronSchedule,
		NextFireAt:         copyTime(d.NextFireAt),
		PlaybackInterval:   d.PlaybackInterval,
		AutoDismissAfter:   d.AutoDismissAfter,
		IsEnabled:          d.IsEnabled,
		VolumeStart:        d.VolumeStart,
		VolumeEnd:          d.VolumeEnd,
		VolumeRampDuration: d.VolumeRampDuration,
		LastDismissedAt:    copyTime(d.LastDismissedAt),
		CreatedAt:          d.CreatedAt,
		UpdatedAt:          d.UpdatedAt,
	}
}

type Sound struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	MediaSourceURI string    `json:"media_source_uri"`
	Uploaded       bool      `json:"uploaded"`
	IsDefault      bool      `json:"is_default"`
	CreatedAt      time.Time `json:"created_at"`
}

func (s Sound) document() storage.SoundDocument {
	return storage.SoundDocument{
		ID:             s.ID,
		Name:           s.Name,
		MediaSourceURI: s.MediaSourceURI,
		Uploaded:       s.Uploaded,
		IsDefault:      s.IsDefault,
		CreatedAt:      s.CreatedAt,
	}
}

func soundFromDocument(d storage.SoundDocument) Sound {
	return Sound{
		ID:             d.ID,
		Name:           d.Name,
		MediaSourceURI: d.MediaSourceURI,
		Uploaded:       d.Uploaded,
		IsDefault:      d.IsDefault,
		CreatedAt:      d.CreatedAt,
	}
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func timePtr(t time.Time) *time.Time {
	t = t.UTC()
	return &t
}
