// Package alarm owns alarm clock definitions and their lifecycle:
// scheduled, ringing, snoozed, dismissed and disabled.
//
// Definitions are cached in memory and written through to storage. Every
// operation on one alarm runs under that alarm's lock, so a dismiss racing
// an auto-dismiss or a snooze always leaves exactly one outcome.
package alarm

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"chime/internal/storage"
	"chime/internal/task"
	"chime/internal/task/schedule"
	"chime/pkg/logx"
)

// Scheduler is the part of the task scheduler alarms drive.
type Scheduler interface {
	Schedule(ctx context.Context, t task.ScheduledTask) error
	CancelAlarm(ctx context.Context, alarmClockID string, status task.Status) []task.ScheduledTask
	ActiveAlarmTask(alarmClockID string) (task.ScheduledTask, bool)
	IsRinging(alarmClockID string) bool
}

// Defaults fill fields a request leaves empty.
type Defaults struct {
	PlaybackInterval time.Duration
	AutoDismissAfter time.Duration
	VolumeStart      float64
	VolumeEnd        float64
	VolumeRamp       time.Duration
	SnoozeMinutes    int
}

func (d Defaults) withDefaults() Defaults {
	if d.PlaybackInterval <= 0 {
		d.PlaybackInterval = 30 * time.Second
	}
	if d.AutoDismissAfter <= 0 {
		d.AutoDismissAfter = 10 * time.Minute
	}
	if d.VolumeEnd <= 0 {
		d.VolumeEnd = 1
	}
	if d.VolumeStart <= 0 || d.VolumeStart > d.VolumeEnd {
		d.VolumeStart = 0.2
	}
	if d.VolumeRamp <= 0 {
		d.VolumeRamp = time.Minute
	}
	if d.SnoozeMinutes <= 0 {
		d.SnoozeMinutes = 9
	}
	return d
}

type Deps struct {
	Store     storage.AlarmStore // optional
	Scheduler Scheduler
	Calc      *schedule.Calculator
	Log       logx.Logger
	Now       func() time.Time
}

type Service struct {
	mu       sync.RWMutex
	clocks   map[string]Clock
	sounds   map[string]Sound
	defaults Defaults

	locks keyedMutex

	store storage.AlarmStore
	sched Scheduler
	calc  *schedule.Calculator
	log   logx.Logger
	now   func() time.Time
}

func New(defaults Defaults, d Deps) *Service {
	if d.Log.IsZero() {
		d.Log = logx.Nop()
	}
	if d.Calc == nil {
		d.Calc = schedule.New(time.Local)
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	return &Service{
		clocks:   map[string]Clock{},
		sounds:   map[string]Sound{},
		defaults: defaults.withDefaults(),
		store:    d.Store,
		sched:    d.Scheduler,
		calc:     d.Calc,
		log:      d.Log,
		now:      d.Now,
	}
}

func (s *Service) Apply(d Defaults) {
	s.mu.Lock()
	s.defaults = d.withDefaults()
	s.mu.Unlock()
}

func (s *Service) Defaults() Defaults {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.defaults
}

// Load fills the cache from storage. Call once before serving.
func (s *Service) Load(ctx context.Context) error {
	if s.store == nil {
		return nil
	}
	alarms, err := s.store.ListAlarms(ctx)
	if err != nil {
		return err
	}
	sounds, err := s.store.ListSounds(ctx)
	if err != nil {
		return err
	}
	s.mu.Lock()
	for _, d := range alarms {
		s.clocks[d.ID] = clockFromDocument(d)
	}
	for _, d := range sounds {
		s.sounds[d.ID] = soundFromDocument(d)
	}
	s.mu.Unlock()
	s.log.Info("alarms loaded", logx.Int("alarms", len(alarms)), logx.Int("sounds", len(sounds)))
	return nil
}

func (s *Service) Get(id string) (Clock, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.clocks[id]
	return c, ok
}

// List returns every alarm ordered by name.
func (s *Service) List() []Clock {
	s.mu.RLock()
	out := make([]Clock, 0, len(s.clocks))
	for _, c := range s.clocks {
		out = append(out, c)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		a, b := strings.ToLower(out[i].Name), strings.ToLower(out[j].Name)
		if a != b {
			return a < b
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Find resolves an id or a case-insensitive name.
func (s *Service) Find(idOrName string) (Clock, bool) {
	key := strings.TrimSpace(idOrName)
	if c, ok := s.Get(key); ok {
		return c, true
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.clocks {
		if strings.EqualFold(c.Name, key) {
			return c, true
		}
	}
	return Clock{}, false
}

func (s *Service) saveClock(ctx context.Context, c Clock) Clock {
	c.UpdatedAt = s.now().UTC()
	s.mu.Lock()
	s.clocks[c.ID] = c
	s.mu.Unlock()
	if s.store != nil {
		if err := s.store.UpsertAlarm(ctx, c.document()); err != nil {
			s.log.Warn("persist alarm failed", logx.String("alarm", c.ID), logx.Err(err))
		}
	}
	return c
}

// schedule hands the alarm's next occurrence to the scheduler. It replaces
// any task the alarm already has.
func (s *Service) schedule(ctx context.Context, c Clock) error {
	if !c.IsEnabled || c.NextFireAt == nil {
		return nil
	}
	t := task.NewAlarm(c.Name, *c.NextFireAt, task.AlarmPayload{
		AlarmClockID:       c.ID,
		TargetEntity:       c.TargetEntity,
		SoundURI:           s.soundURI(c),
		PlaybackInterval:   c.PlaybackInterval,
		AutoDismissAfter:   c.AutoDismissAfter,
		VolumeStart:        c.VolumeStart,
		VolumeEnd:          c.VolumeEnd,
		VolumeRampDuration: c.VolumeRampDuration,
	})
	t.CorrelationID = "alarm:" + c.ID
	return s.sched.Schedule(ctx, t)
}

// soundURI picks the alarm's sound, then the default sound. Empty means
// the alarm is spoken instead of played.
func (s *Service) soundURI(c Clock) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if snd, ok := s.sounds[c.AlarmSoundID]; ok && c.AlarmSoundID != "" {
		return snd.MediaSourceURI
	}
	for _, snd := range s.sounds {
		if snd.IsDefault {
			return snd.MediaSourceURI
		}
	}
	return ""
}
