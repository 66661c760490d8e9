package alarm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"chime/internal/storage"
	"chime/internal/task"
	"chime/internal/task/scheduler"
	"chime/pkg/logx"
)

// CreateRequest describes a new alarm or an update of an existing one
// (matched by ID, else by name). Exactly one of CronSchedule and FireAt is
// required. Zero durations and nil volumes take the service defaults.
type CreateRequest struct {
	ID               string
	Name             string
	TargetEntity     string
	CronSchedule     string
	FireAt           *time.Time
	SoundID          string
	PlaybackInterval time.Duration
	AutoDismissAfter time.Duration
	VolumeStart      *float64
	VolumeEnd        *float64
	VolumeRamp       time.Duration
	Disabled         bool
}

// Create stores the alarm and schedules its next occurrence. It reports
// whether an existing alarm was updated rather than created.
func (s *Service) Create(ctx context.Context, req CreateRequest) (Clock, bool, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return Clock{}, false, fmt.Errorf("%w: name is required", ErrInvalid)
	}
	if strings.TrimSpace(req.TargetEntity) == "" {
		return Clock{}, false, fmt.Errorf("%w: target device is required", ErrInvalid)
	}
	cron := strings.Join(strings.Fields(req.CronSchedule), " ")
	if cron == "" && req.FireAt == nil {
		return Clock{}, false, fmt.Errorf("%w: a time or a cron schedule is required", ErrInvalid)
	}
	if req.SoundID != "" {
		if _, ok := s.sound(req.SoundID); !ok {
			return Clock{}, false, fmt.Errorf("%w: unknown sound %q", ErrInvalid, req.SoundID)
		}
	}

	defer s.locks.Lock("name:" + strings.ToLower(name))()

	existing, updated := s.Get(req.ID)
	if !updated {
		existing, updated = s.findByName(name)
	}
	id := existing.ID
	if !updated {
		id = uuid.NewString()
	}
	defer s.locks.Lock(id)()

	now := s.now()
	var next time.Time
	if cron != "" {
		n, err := s.calc.ComputeNextFireAt(cron, now)
		if err != nil {
			return Clock{}, false, fmt.Errorf("%w: %v", ErrInvalid, err)
		}
		next = n
	} else {
		if !req.FireAt.After(now) {
			return Clock{}, false, fmt.Errorf("%w: %s is in the past", ErrInvalid, req.FireAt.Format(time.RFC3339))
		}
		next = req.FireAt.UTC()
	}

	d := s.Defaults()
	c := Clock{
		ID:                 id,
		Name:               name,
		TargetEntity:       strings.TrimSpace(req.TargetEntity),
		AlarmSoundID:       req.SoundID,
		CronSchedule:       cron,
		NextFireAt:         timePtr(next),
		PlaybackInterval:   pick(req.PlaybackInterval, d.PlaybackInterval),
		AutoDismissAfter:   pick(req.AutoDismissAfter, d.AutoDismissAfter),
		IsEnabled:          !req.Disabled,
		VolumeStart:        pickVolume(req.VolumeStart, d.VolumeStart),
		VolumeEnd:          pickVolume(req.VolumeEnd, d.VolumeEnd),
		VolumeRampDuration: pick(req.VolumeRamp, d.VolumeRamp),
		CreatedAt:          now.UTC(),
	}
	if c.VolumeStart < 0 || c.VolumeStart > 1 || c.VolumeEnd < 0 || c.VolumeEnd > 1 {
		return Clock{}, false, fmt.Errorf("%w: volume must be between 0 and 1", ErrInvalid)
	}
	if updated {
		c.CreatedAt = existing.CreatedAt
		c.LastDismissedAt = existing.LastDismissedAt
		s.sched.CancelAlarm(ctx, id, task.StatusCancelled)
	}

	c = s.saveClock(ctx, c)
	if err := s.schedule(ctx, c); err != nil {
		return c, updated, err
	}
	s.log.Info("alarm saved", logx.String("alarm", c.ID), logx.String("name", c.Name),
		logx.Bool("updated", updated), logx.Time("next", *c.NextFireAt), logx.String("cron", c.CronSchedule))
	return c, updated, nil
}

func (s *Service) findByName(name string) (Clock, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.clocks {
		if strings.EqualFold(c.Name, name) {
			return c, true
		}
	}
	return Clock{}, false
}

// Dismiss stops the alarm if it is ringing. Recurring alarms move to their
// first occurrence after now, which for an alarm that is not ringing is the
// occurrence it was already waiting for. One-shot alarms are disabled. A
// disabled recurring alarm stays disabled.
func (s *Service) Dismiss(ctx context.Context, id string) (Clock, error) {
	defer s.locks.Lock(id)()
	c, ok := s.Get(id)
	if !ok {
		return Clock{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	s.sched.CancelAlarm(ctx, id, task.StatusDismissed)

	now := s.now()
	c.LastDismissedAt = timePtr(now)
	if err := s.advanceLocked(&c, now); err != nil {
		s.log.Warn("alarm schedule exhausted; disabling", logx.String("alarm", id), logx.Err(err))
	}
	c = s.saveClock(ctx, c)
	err := s.schedule(ctx, c)
	s.log.Info("alarm dismissed", logx.String("alarm", id), logx.Bool("enabled", c.IsEnabled))
	return c, err
}

// advanceLocked moves a recurring alarm forward from now or disables a
// one-shot alarm. IsEnabled is left alone otherwise.
func (s *Service) advanceLocked(c *Clock, now time.Time) error {
	if !c.Recurring() {
		c.disable()
		return nil
	}
	if err := c.AdvanceSchedule(s.calc, now); err != nil {
		c.disable()
		return err
	}
	return nil
}

// Snooze silences the alarm and rings it again after minutes (the
// configured default when minutes <= 0).
func (s *Service) Snooze(ctx context.Context, id string, minutes int) (Clock, error) {
	if minutes <= 0 {
		minutes = s.Defaults().SnoozeMinutes
	}
	d, err := task.Delay(minutes, time.Minute)
	if err != nil {
		return Clock{}, fmt.Errorf("%w: snooze must be between 1 and %d minutes", ErrInvalid, int(task.MaxDelay/time.Minute))
	}
	defer s.locks.Lock(id)()
	c, ok := s.Get(id)
	if !ok {
		return Clock{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	s.sched.CancelAlarm(ctx, id, task.StatusSnoozed)

	c.NextFireAt = timePtr(s.now().Add(d))
	c.IsEnabled = true
	c = s.saveClock(ctx, c)
	err = s.schedule(ctx, c)
	s.log.Info("alarm snoozed", logx.String("alarm", id), logx.Int("minutes", minutes))
	return c, err
}

// Enable re-arms the alarm. Recurring alarms recompute from now; a one-shot
// alarm whose time passed rolls to the next occurrence of its time of day.
func (s *Service) Enable(ctx context.Context, id string) (Clock, error) {
	defer s.locks.Lock(id)()
	c, ok := s.Get(id)
	if !ok {
		return Clock{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	now := s.now()
	switch {
	case c.Recurring():
		if err := c.AdvanceSchedule(s.calc, now); err != nil {
			return c, err
		}
	case c.NextFireAt == nil:
		return c, fmt.Errorf("%w: %s has no time to ring; set it again", ErrInvalid, c.Name)
	case !c.NextFireAt.After(now):
		local := c.NextFireAt.In(s.calc.Location())
		c.NextFireAt = timePtr(s.calc.NextTimeOfDay(local.Hour(), local.Minute(), now))
	}
	c.IsEnabled = true
	c = s.saveClock(ctx, c)
	return c, s.schedule(ctx, c)
}

// Disable cancels any pending or ringing task without advancing.
func (s *Service) Disable(ctx context.Context, id string) (Clock, error) {
	defer s.locks.Lock(id)()
	c, ok := s.Get(id)
	if !ok {
		return Clock{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	s.sched.CancelAlarm(ctx, id, task.StatusCancelled)
	c.IsEnabled = false
	return s.saveClock(ctx, c), nil
}

func (s *Service) Delete(ctx context.Context, id string) error {
	defer s.locks.Lock(id)()
	if _, ok := s.Get(id); !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	s.sched.CancelAlarm(ctx, id, task.StatusCancelled)
	s.mu.Lock()
	delete(s.clocks, id)
	s.mu.Unlock()
	if s.store != nil {
		if err := s.store.DeleteAlarm(ctx, id); err != nil && !errors.Is(err, storage.ErrNotFound) {
			s.log.Warn("delete alarm failed", logx.String("alarm", id), logx.Err(err))
		}
	}
	s.log.Info("alarm deleted", logx.String("alarm", id))
	return nil
}

// AlarmFinished advances an alarm whose ringing ended without a dismiss:
// auto-dismissed or failed. It does nothing when another operation has
// already moved the alarm on.
func (s *Service) AlarmFinished(ctx context.Context, t task.ScheduledTask, outcome scheduler.AlarmOutcome) {
	id := t.AlarmClockID()
	if id == "" {
		return
	}
	defer s.locks.Lock(id)()
	c, ok := s.Get(id)
	if !ok || !c.IsEnabled {
		return
	}
	if _, active := s.sched.ActiveAlarmTask(id); active {
		return
	}
	if c.NextFireAt == nil || !c.NextFireAt.Equal(t.FireAt) {
		return
	}

	now := s.now()
	if outcome == scheduler.AlarmAutoDismissed {
		c.LastDismissedAt = timePtr(now)
	}
	if err := s.advanceLocked(&c, now); err != nil {
		s.log.Warn("alarm schedule exhausted; disabling", logx.String("alarm", id), logx.Err(err))
	}
	c = s.saveClock(ctx, c)
	if err := s.schedule(ctx, c); err != nil {
		s.log.Warn("reschedule after ring failed", logx.String("alarm", id), logx.Err(err))
	}
	s.log.Info("alarm finished", logx.String("alarm", id), logx.String("outcome", string(outcome)), logx.Bool("enabled", c.IsEnabled))
}

// Reconcile re-arms enabled alarms that have no task, typically after
// recovery. Occurrences that passed while the process was down are
// skipped: recurring alarms advance, one-shot alarms are disabled.
func (s *Service) Reconcile(ctx context.Context, now time.Time) error {
	var errs []error
	for _, snap := range s.List() {
		if !snap.IsEnabled {
			continue
		}
		func() {
			defer s.locks.Lock(snap.ID)()
			c, ok := s.Get(snap.ID)
			if !ok || !c.IsEnabled {
				return
			}
			if _, active := s.sched.ActiveAlarmTask(c.ID); active {
				return
			}
			if c.NextFireAt == nil || !c.NextFireAt.After(now) {
				if err := s.advanceLocked(&c, now); err != nil {
					s.log.Warn("alarm schedule exhausted; disabling", logx.String("alarm", c.ID), logx.Err(err))
				}
				c = s.saveClock(ctx, c)
				s.log.Info("alarm reconciled", logx.String("alarm", c.ID), logx.Bool("enabled", c.IsEnabled))
			}
			if err := s.schedule(ctx, c); err != nil {
				errs = append(errs, fmt.Errorf("alarm %s: %w", c.ID, err))
			}
		}()
	}
	return errors.Join(errs...)
}

func pick(v, def time.Duration) time.Duration {
	if v > 0 {
		return v
	}
	return def
}

func pickVolume(v *float64, def float64) float64 {
	if v == nil {
		return def
	}
	return *v
}
