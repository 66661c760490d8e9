// Package recovery reloads persisted tasks after a restart.
//
// Tasks still inside the grace window resume; older ones are recorded as
// missed rather than fired late.
package recovery

import (
	"context"
	"sync"
	"time"

	"chime/internal/eventbus"
	"chime/internal/storage"
	"chime/internal/task"
	"chime/pkg/logx"
)

type Config struct {
	SettleDelay time.Duration // default 2s
	GracePeriod time.Duration // default 5m
}

func (c Config) withDefaults() Config {
	if c.SettleDelay <= 0 {
		c.SettleDelay = 2 * time.Second
	}
	if c.GracePeriod <= 0 {
		c.GracePeriod = 5 * time.Minute
	}
	return c
}

// Restorer is the scheduler side of recovery.
type Restorer interface {
	Restore(t task.ScheduledTask) bool
}

// Reconciler repairs derived state (alarm definitions) once tasks are back.
type Reconciler interface {
	Reconcile(ctx context.Context, now time.Time) error
}

type Report struct {
	Resumed int `json:"resumed"`
	Missed  int `json:"missed"`
	Invalid int `json:"invalid"`
	Skipped int `json:"skipped"`
}

type Service struct {
	mu  sync.Mutex
	cfg Config

	persist    storage.TaskStore
	restorer   Restorer
	reconciler Reconciler
	bus        eventbus.Bus
	log        logx.Logger
	now        func() time.Time
}

type Deps struct {
	Persist    storage.TaskStore
	Restorer   Restorer
	Reconciler Reconciler // optional
	Bus        eventbus.Bus
	Log        logx.Logger
	Now        func() time.Time
}

func New(cfg Config, d Deps) *Service {
	if d.Log.IsZero() {
		d.Log = logx.Nop()
	}
	if d.Bus == nil {
		d.Bus = eventbus.Nop()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	return &Service{
		cfg:        cfg.withDefaults(),
		persist:    d.Persist,
		restorer:   d.Restorer,
		reconciler: d.Reconciler,
		bus:        d.Bus,
		log:        d.Log,
		now:        d.Now,
	}
}

// Apply updates the grace window for the next recovery pass.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.cfg = cfg.withDefaults()
	s.mu.Unlock()
}

func (s *Service) config() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// Run waits SettleDelay so collaborators can come up, then recovers.
func (s *Service) Run(ctx context.Context) error {
	t := time.NewTimer(s.config().SettleDelay)
	select {
	case <-ctx.Done():
		t.Stop()
		return nil
	case <-t.C:
	}
	_, err := s.Recover(ctx)
	return err
}

// Recover loads every pending or running document and either restores it
// or marks it missed. A read failure aborts; per-task write failures are
// logged and skipped.
func (s *Service) Recover(ctx context.Context) (Report, error) {
	var rep Report
	now := s.now()
	grace := s.config().GracePeriod

	if s.persist != nil {
		docs, err := s.persist.GetPending(ctx)
		if err != nil {
			s.log.Error("recovery: load pending failed", logx.Err(err))
			return rep, err
		}
		for _, d := range docs {
			s.recoverOne(ctx, d, now, grace, &rep)
		}
	}

	if s.reconciler != nil {
		if err := s.reconciler.Reconcile(ctx, now); err != nil {
			s.log.Warn("recovery: reconcile failed", logx.Err(err))
		}
	}
	s.log.Info("recovery complete",
		logx.Int("resumed", rep.Resumed), logx.Int("missed", rep.Missed),
		logx.Int("invalid", rep.Invalid), logx.Int("skipped", rep.Skipped),
		logx.Duration("grace", grace))
	return rep, nil
}

func (s *Service) recoverOne(ctx context.Context, d storage.TaskDocument, now time.Time, grace time.Duration, rep *Report) {
	t, err := task.FromDocument(d)
	if err != nil {
		rep.Invalid++
		s.log.Warn("recovery: invalid document", logx.Task(d.ID, d.Kind), logx.Err(err))
		s.mark(ctx, d.ID, task.StatusFailed, err.Error())
		return
	}

	remaining := t.Remaining(now)
	if remaining <= -grace {
		rep.Missed++
		s.log.Warn("recovery: task missed", logx.Task(t.ID, string(t.Kind)), logx.String("label", t.Label), logx.Duration("late", -remaining))
		s.mark(ctx, t.ID, task.StatusMissed, "")
		s.bus.Publish(eventbus.Event{Type: eventbus.TaskMissed, Time: now, Data: eventbus.TaskEvent{
			ID: t.ID, Kind: string(t.Kind), Label: t.Label, CorrelationID: t.CorrelationID,
			FireAt: t.FireAt, Status: string(task.StatusMissed), AlarmClockID: t.AlarmClockID(),
		}})
		return
	}

	if !s.restorer.Restore(t) {
		rep.Skipped++
		return
	}
	rep.Resumed++
	s.log.Debug("recovery: task resumed", logx.Task(t.ID, string(t.Kind)), logx.Duration("remaining", remaining))
}

func (s *Service) mark(ctx context.Context, id string, status task.Status, msg string) {
	if err := s.persist.UpdateStatus(ctx, id, string(status), msg); err != nil {
		s.log.Warn("recovery: status write failed", logx.String("task", id), logx.String("status", string(status)), logx.Err(err))
	}
}
