package scheduler

import (
	"context"
	"fmt"
	"time"

	"chime/internal/eventbus"
	"chime/internal/task"
	"chime/pkg/logx"
)

// Schedule persists t (best-effort) and inserts it into the pending store.
// An existing task with the same id is replaced. For alarms, any other task
// of the same alarm clock is cancelled first so at most one stays active.
func (s *Service) Schedule(ctx context.Context, t task.ScheduledTask) error {
	if t.CreatedAt.IsZero() {
		t.CreatedAt = s.now().UTC()
	}
	t.FireAt = t.FireAt.UTC()
	if err := t.Validate(); err != nil {
		return err
	}
	if s.isRunning(t.ID) {
		return fmt.Errorf("%w: task %s is running", task.ErrInvalid, t.ID)
	}
	if id := t.AlarmClockID(); id != "" {
		for _, prev := range s.alarmTasks(id) {
			if prev.ID != t.ID {
				s.Cancel(ctx, prev.ID, task.StatusCancelled)
			}
		}
	}

	s.persistUpsert(ctx, t, task.StatusPending)
	s.store.Add(t)
	s.publish(eventbus.TaskScheduled, t, task.StatusPending, nil)
	s.log.Debug("task.scheduled", logx.Task(t.ID, string(t.Kind)), logx.String("label", t.Label), logx.Time("fire_at", t.FireAt))
	return nil
}

// Cancel stops task id whether it is pending or running and records
// status. It reports false when the id is unknown or the task finished on
// its own before the cancel reached it, which makes repeated cancels
// harmless.
func (s *Service) Cancel(ctx context.Context, id string, status task.Status) (task.ScheduledTask, bool) {
	if status == "" || !status.Terminal() {
		status = task.StatusCancelled
	}
	s.rmu.Lock()
	t, pending := s.store.TryRemove(id)
	rt := s.running[id]
	s.rmu.Unlock()
	if pending {
		s.finishCancel(ctx, t, status)
		return t, true
	}
	if rt == nil {
		return task.ScheduledTask{}, false
	}

	rt.cancel()
	grace := s.config().ShutdownGrace
	select {
	case <-rt.done:
		if rt.res.status != "" {
			s.log.Debug("task finished before cancel", logx.Task(id, string(rt.task.Kind)), logx.String("status", string(rt.res.status)))
			return task.ScheduledTask{}, false
		}
	case <-time.After(grace):
		s.log.Warn("cancelled task did not exit in time", logx.Task(id, string(rt.task.Kind)), logx.Duration("waited", grace))
	case <-ctx.Done():
	}
	s.finishCancel(ctx, rt.task, status)
	return rt.task, true
}

func (s *Service) finishCancel(ctx context.Context, t task.ScheduledTask, status task.Status) {
	s.persistStatus(ctx, t, status, nil)
	typ := eventbus.TaskCancelled
	switch status {
	case task.StatusDismissed:
		typ = eventbus.AlarmDismissed
	case task.StatusSnoozed:
		typ = eventbus.AlarmSnoozed
	}
	s.publish(typ, t, status, nil)
	s.log.Debug("task.cancelled", logx.Task(t.ID, string(t.Kind)), logx.String("status", string(status)))
}

// CancelAlarm cancels every pending or running task of the alarm clock.
func (s *Service) CancelAlarm(ctx context.Context, alarmClockID string, status task.Status) []task.ScheduledTask {
	var out []task.ScheduledTask
	for _, t := range s.alarmTasks(alarmClockID) {
		if got, ok := s.Cancel(ctx, t.ID, status); ok {
			out = append(out, got)
		}
	}
	return out
}

// ActiveAlarmTask returns the pending or running task of the alarm clock.
func (s *Service) ActiveAlarmTask(alarmClockID string) (task.ScheduledTask, bool) {
	ts := s.alarmTasks(alarmClockID)
	if len(ts) == 0 {
		return task.ScheduledTask{}, false
	}
	return ts[0], true
}

// IsRinging reports whether a task of the alarm clock is executing.
func (s *Service) IsRinging(alarmClockID string) bool {
	for _, t := range s.Running() {
		if t.AlarmClockID() == alarmClockID {
			return true
		}
	}
	return false
}

func (s *Service) alarmTasks(alarmClockID string) []task.ScheduledTask {
	if alarmClockID == "" {
		return nil
	}
	out := []task.ScheduledTask{}
	s.rmu.Lock()
	for _, rt := range s.running {
		if rt.task.AlarmClockID() == alarmClockID {
			out = append(out, rt.task)
		}
	}
	task.SortByFireAt(out)
	out = append(out, s.store.FindAlarm(alarmClockID)...)
	s.rmu.Unlock()
	return out
}

// Lookup finds a pending or running task by id.
func (s *Service) Lookup(id string) (task.ScheduledTask, bool) {
	s.rmu.Lock()
	defer s.rmu.Unlock()
	if t, ok := s.store.Get(id); ok {
		return t, true
	}
	if rt := s.running[id]; rt != nil {
		return rt.task, true
	}
	return task.ScheduledTask{}, false
}

// Pending lists tasks waiting to fire. An empty kind lists all of them.
func (s *Service) Pending(kind task.Kind) []task.ScheduledTask {
	if kind == "" {
		return s.store.GetAll()
	}
	return s.store.GetByKind(kind)
}

func (s *Service) Running() []task.ScheduledTask {
	s.rmu.Lock()
	out := make([]task.ScheduledTask, 0, len(s.running))
	for _, rt := range s.running {
		out = append(out, rt.task)
	}
	s.rmu.Unlock()
	task.SortByFireAt(out)
	return out
}

func (s *Service) isRunning(id string) bool {
	s.rmu.Lock()
	defer s.rmu.Unlock()
	_, ok := s.running[id]
	return ok
}

// Restore re-inserts a recovered task without persisting it again. It is a
// no-op when the id is already pending or running.
func (s *Service) Restore(t task.ScheduledTask) bool {
	if err := t.Validate(); err != nil {
		s.log.Warn("restore rejected", logx.Task(t.ID, string(t.Kind)), logx.Err(err))
		return false
	}
	s.rmu.Lock()
	_, busy := s.running[t.ID]
	added := !busy && s.store.AddIfAbsent(t)
	s.rmu.Unlock()
	if !added {
		return false
	}
	s.publish(eventbus.TaskResumed, t, task.StatusPending, nil)
	return true
}

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	snap := Snapshot{Enabled: s.cfg.Enabled, Started: s.sup != nil}
	s.mu.Unlock()

	snap.Pending = s.store.Len()
	snap.Running = s.Running()
	if next, ok := s.store.NextFireAt(); ok {
		snap.NextFireAt = &next
	}
	snap.Fired = s.fired.Load()
	snap.Failed = s.failed.Load()

	s.hmu.Lock()
	snap.History = append([]HistoryItem(nil), s.history...)
	s.hmu.Unlock()
	return snap
}
