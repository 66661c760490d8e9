package scheduler

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"chime/internal/eventbus"
	"chime/internal/runtime/supervisor"
	"chime/internal/task"
	"chime/pkg/logx"
)

const persistTimeout = 5 * time.Second

// dispatch starts the handler unit of a task tick already moved into the
// running registry.
func (s *Service) dispatch(sup *supervisor.Supervisor, rt *running) {
	t := rt.task
	s.fired.Add(1)
	late := s.now().Sub(t.FireAt)
	s.log.Debug("task.fired", logx.Task(t.ID, string(t.Kind)), logx.String("label", t.Label), logx.Duration("late", late))

	sup.Go("task."+string(t.Kind), func(context.Context) error {
		s.execOne(rt.ctx, rt)
		return nil
	})
}

func (s *Service) execOne(ctx context.Context, rt *running) {
	t := rt.task
	start := time.Now()
	defer rt.cancel()

	var res result
	func() {
		defer func() {
			if r := recover(); r != nil {
				res = result{status: task.StatusFailed, err: fmt.Errorf("panic: %v", r)}
				if t.Kind == task.KindAlarm {
					res.outcome = AlarmFailed
				}
				s.log.Error("task.panic", logx.Task(t.ID, string(t.Kind)), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
			}
		}()
		// cancelled between tick and start: the handler never runs
		if ctx.Err() != nil {
			return
		}
		pctx, pcancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
		s.persistStatus(pctx, t, task.StatusRunning, nil)
		pcancel()
		s.publish(eventbus.TaskFired, t, task.StatusRunning, nil)

		h := s.handlers[t.Kind]
		if h == nil {
			res = result{status: task.StatusFailed, err: fmt.Errorf("no handler for kind %q", t.Kind)}
			return
		}
		res = h(ctx, t)
	}()

	// A device call aborted by cancellation is not a failure.
	if res.status == task.StatusFailed && ctx.Err() != nil {
		res = result{}
	}

	dur := time.Since(start)
	switch res.status {
	case "":
		s.log.Debug("task.interrupted", logx.Task(t.ID, string(t.Kind)), logx.Duration("dur", dur))
	case task.StatusFailed:
		s.failed.Add(1)
		s.log.Warn("task.failed", logx.Task(t.ID, string(t.Kind)), logx.String("label", t.Label), logx.Err(res.err), logx.Duration("dur", dur))
	default:
		s.log.Info("task.completed", logx.Task(t.ID, string(t.Kind)), logx.String("label", t.Label), logx.Duration("dur", dur))
	}

	if res.status != "" {
		pctx, pcancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
		s.persistStatus(pctx, t, res.status, res.err)
		pcancel()
		typ := eventbus.TaskCompleted
		if res.status == task.StatusFailed {
			typ = eventbus.TaskFailed
		}
		s.publish(typ, t, res.status, res.err)
	}
	s.recordHistory(t, start, dur, res)

	rt.res = res
	s.rmu.Lock()
	delete(s.running, t.ID)
	s.rmu.Unlock()
	close(rt.done)

	// The registry entry is gone before the observer runs, so an observer
	// that reschedules the alarm never waits on this task.
	if res.outcome != "" {
		s.mu.Lock()
		obs := s.observer
		s.mu.Unlock()
		if obs != nil {
			octx, ocancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
			obs.AlarmFinished(octx, t, res.outcome)
			ocancel()
		}
	}
}

func (s *Service) recordHistory(t task.ScheduledTask, start time.Time, dur time.Duration, res result) {
	item := HistoryItem{ID: t.ID, Kind: t.Kind, Label: t.Label, Started: start, Duration: dur, Status: res.status}
	if item.Status == "" {
		item.Status = task.StatusCancelled
	}
	if res.err != nil {
		item.Error = res.err.Error()
	}
	size := s.config().HistorySize

	s.hmu.Lock()
	s.history = append(s.history, item)
	if len(s.history) > size {
		s.history = s.history[len(s.history)-size:]
	}
	s.hmu.Unlock()
}
