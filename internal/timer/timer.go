// Package timer creates and lists countdown timers and deferred agent
// actions on top of the task scheduler.
package timer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"chime/internal/task"
	"chime/internal/task/schedule"
	"chime/pkg/logx"
)

var ErrNotFound = errors.New("not found")

// Scheduler is the part of the task scheduler this package drives.
type Scheduler interface {
	Schedule(ctx context.Context, t task.ScheduledTask) error
	Cancel(ctx context.Context, id string, status task.Status) (task.ScheduledTask, bool)
	Lookup(id string) (task.ScheduledTask, bool)
	Pending(kind task.Kind) []task.ScheduledTask
}

type Service struct {
	sched Scheduler
	calc  *schedule.Calculator
	log   logx.Logger
	now   func() time.Time
}

func New(sched Scheduler, calc *schedule.Calculator, log logx.Logger, now func() time.Time) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	if calc == nil {
		calc = schedule.New(time.Local)
	}
	if now == nil {
		now = time.Now
	}
	return &Service{sched: sched, calc: calc, log: log, now: now}
}

// Entry is a pending timer or action with its time left.
type Entry struct {
	Task      task.ScheduledTask `json:"task"`
	Remaining time.Duration      `json:"remaining"`
}

// SetTimer announces message on target after seconds.
func (s *Service) SetTimer(ctx context.Context, seconds int, message, target string) (task.ScheduledTask, error) {
	d, err := task.Delay(seconds, time.Second)
	if err != nil {
		return task.ScheduledTask{}, err
	}
	target = strings.TrimSpace(target)
	if target == "" {
		return task.ScheduledTask{}, fmt.Errorf("%w: no device to announce on", task.ErrInvalid)
	}
	fire := s.now().Add(d)
	label := strings.TrimSpace(message)
	if label == "" {
		label = "Timer"
	}
	t := task.NewTimer(label, fire, task.TimerPayload{
		Message:         strings.TrimSpace(message),
		AnnounceTarget:  target,
		DurationSeconds: seconds,
	})
	t.CorrelationID = t.ID
	if err := s.sched.Schedule(ctx, t); err != nil {
		return task.ScheduledTask{}, err
	}
	s.log.Info("timer set", logx.Task(t.ID, string(t.Kind)), logx.Int("seconds", seconds), logx.String("target", target))
	return t, nil
}

func (s *Service) CancelTimer(ctx context.Context, id string) (task.ScheduledTask, error) {
	return s.cancel(ctx, id, task.KindTimer)
}

func (s *Service) ListTimers() []Entry { return s.list(task.KindTimer) }

// ScheduleAction replays prompt through the orchestrator after
// delaySeconds. correlationID ties the replay to the originating
// conversation; a fresh id is used when it is empty.
func (s *Service) ScheduleAction(ctx context.Context, prompt string, delaySeconds int, label, contextText, correlationID string) (task.ScheduledTask, error) {
	d, err := task.Delay(delaySeconds, time.Second)
	if err != nil {
		return task.ScheduledTask{}, err
	}
	return s.scheduleAction(ctx, prompt, s.now().Add(d), label, contextText, correlationID)
}

// ScheduleActionAt runs prompt at the next occurrence of the wall-clock
// time "HH:mm", today if it is still ahead, otherwise tomorrow.
func (s *Service) ScheduleActionAt(ctx context.Context, prompt, hhmm, label, contextText, correlationID string) (task.ScheduledTask, error) {
	h, m, err := schedule.ParseTimeOfDay(hhmm)
	if err != nil {
		return task.ScheduledTask{}, fmt.Errorf("%w: %v", task.ErrInvalid, err)
	}
	return s.scheduleAction(ctx, prompt, s.calc.NextTimeOfDay(h, m, s.now()), label, contextText, correlationID)
}

func (s *Service) scheduleAction(ctx context.Context, prompt string, fire time.Time, label, contextText, correlationID string) (task.ScheduledTask, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return task.ScheduledTask{}, fmt.Errorf("%w: prompt is required", task.ErrInvalid)
	}
	label = strings.TrimSpace(label)
	if label == "" {
		label = prompt
	}
	t := task.NewDeferredAction(label, fire, task.DeferredActionPayload{Prompt: prompt, Context: strings.TrimSpace(contextText)})
	t.CorrelationID = strings.TrimSpace(correlationID)
	if t.CorrelationID == "" {
		t.CorrelationID = t.ID
	}
	if err := s.sched.Schedule(ctx, t); err != nil {
		return task.ScheduledTask{}, err
	}
	s.log.Info("action scheduled", logx.Task(t.ID, string(t.Kind)), logx.Time("fire_at", fire))
	return t, nil
}

func (s *Service) CancelScheduledAction(ctx context.Context, id string) (task.ScheduledTask, error) {
	return s.cancel(ctx, id, task.KindDeferredAction)
}

func (s *Service) ListScheduledActions() []Entry { return s.list(task.KindDeferredAction) }

// cancel refuses ids of another kind so "cancel timer" never removes an alarm.
func (s *Service) cancel(ctx context.Context, id string, kind task.Kind) (task.ScheduledTask, error) {
	id = strings.TrimSpace(id)
	t, ok := s.sched.Lookup(id)
	if !ok || t.Kind != kind {
		return task.ScheduledTask{}, fmt.Errorf("%w: %s %s", ErrNotFound, kindNoun(kind), id)
	}
	t, ok = s.sched.Cancel(ctx, id, task.StatusCancelled)
	if !ok {
		return task.ScheduledTask{}, fmt.Errorf("%w: %s %s", ErrNotFound, kindNoun(kind), id)
	}
	return t, nil
}

func (s *Service) list(kind task.Kind) []Entry {
	now := s.now()
	ts := s.sched.Pending(kind)
	out := make([]Entry, 0, len(ts))
	for _, t := range ts {
		rem := t.Remaining(now)
		if rem < 0 {
			rem = 0
		}
		out = append(out, Entry{Task: t, Remaining: rem})
	}
	return out
}

func kindNoun(k task.Kind) string {
	if k == task.KindDeferredAction {
		return "scheduled action"
	}
	return string(k)
}
