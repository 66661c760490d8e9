package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"chime/internal/eventbus"
	"chime/internal/runtime/supervisor"
	"chime/internal/storage"
	"chime/internal/task"
	"chime/pkg/logx"
)

type Deps struct {
	Store    *task.Store
	Persist  storage.TaskStore // optional
	Device   Device
	Replayer Replayer
	Bus      eventbus.Bus
	Log      logx.Logger
	Now      func() time.Time
}

type Service struct {
	mu  sync.Mutex
	cfg Config

	log      logx.Logger
	bus      eventbus.Bus
	store    *task.Store
	persist  storage.TaskStore
	device   Device
	replayer Replayer
	observer AlarmObserver
	now      func() time.Time

	handlers map[task.Kind]handler

	sup        *supervisor.Supervisor
	loopCancel context.CancelFunc
	loopDone   chan struct{}

	// rmu guards running and is taken before the store lock whenever a
	// caller needs both views to agree.
	rmu     sync.Mutex
	running map[string]*running

	hmu     sync.Mutex
	history []HistoryItem

	fired  atomic.Uint64
	failed atomic.Uint64
}

func New(cfg Config, d Deps) *Service {
	if d.Log.IsZero() {
		d.Log = logx.Nop()
	}
	if d.Bus == nil {
		d.Bus = eventbus.Nop()
	}
	if d.Store == nil {
		d.Store = task.NewStore()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	s := &Service{
		cfg:      cfg.withDefaults(),
		log:      d.Log,
		bus:      d.Bus,
		store:    d.Store,
		persist:  d.Persist,
		device:   d.Device,
		replayer: d.Replayer,
		now:      d.Now,
		running:  map[string]*running{},
	}
	s.handlers = map[task.Kind]handler{
		task.KindTimer:          s.runTimer,
		task.KindAlarm:          s.ringAlarm,
		task.KindDeferredAction: s.runDeferred,
	}
	return s
}

// SetObserver registers the alarm lifecycle hook. Call before Start.
func (s *Service) SetObserver(o AlarmObserver) {
	s.mu.Lock()
	s.observer = o
	s.mu.Unlock()
}

// Apply swaps timeouts and history size. TickInterval takes effect on the
// next Start.
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

func (s *Service) Enabled() bool { return s.config().Enabled }

func (s *Service) Store() *task.Store { return s.store }

// Start launches the scan loop. Calling it twice is a no-op.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sup != nil {
		return
	}
	cfg := s.cfg
	s.sup = supervisor.New(ctx, supervisor.WithLogger(s.log))
	if !cfg.Enabled {
		s.log.Info("scheduler disabled; tasks are tracked but not executed")
		return
	}

	loopCtx, cancel := context.WithCancel(s.sup.Context())
	s.loopCancel = cancel
	s.loopDone = make(chan struct{})
	done := s.loopDone
	s.sup.Go("scheduler.loop", func(context.Context) error {
		defer close(done)
		return s.loop(loopCtx, cfg.TickInterval)
	})
	s.log.Info("service started", logx.Duration("tick", cfg.TickInterval), logx.Int("pending", s.store.Len()))
}

// Stop halts the loop, cancels running handlers and waits for them up to
// ShutdownGrace. Interrupted tasks keep their persisted running status so
// recovery can resume them.
func (s *Service) Stop(ctx context.Context) error {
	start := time.Now()
	s.mu.Lock()
	sup := s.sup
	cancel := s.loopCancel
	grace := s.cfg.ShutdownGrace
	s.sup, s.loopCancel, s.loopDone = nil, nil, nil
	s.mu.Unlock()
	if sup == nil {
		return nil
	}
	if cancel != nil {
		cancel()
	}

	waitCtx, done := context.WithTimeout(ctx, grace)
	defer done()
	err := sup.Stop(waitCtx)
	if err != nil {
		s.log.Warn("stop incomplete", logx.Err(err), logx.Int("running", len(s.Running())))
	} else {
		s.log.Info("service stopped", logx.Duration("took", time.Since(start)))
	}
	return err
}

func (s *Service) loop(ctx context.Context, every time.Duration) error {
	tk := time.NewTicker(every)
	defer tk.Stop()
	s.tick(s.now())
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-tk.C:
			s.tick(s.now())
		}
	}
}

// tick takes every task due at now and dispatches it. Execution never
// happens inline.
func (s *Service) tick(now time.Time) int {
	s.mu.Lock()
	sup := s.sup
	s.mu.Unlock()
	if sup == nil {
		return 0
	}
	// Taking and registering share rmu, so Cancel and alarmTasks always find
	// a due task in either the store or the running registry.
	s.rmu.Lock()
	due := s.store.TakeDue(now)
	batch := make([]*running, 0, len(due))
	for _, t := range due {
		ctx, cancel := context.WithCancel(sup.Context())
		rt := &running{task: t, ctx: ctx, cancel: cancel, done: make(chan struct{})}
		s.running[t.ID] = rt
		batch = append(batch, rt)
	}
	s.rmu.Unlock()

	for _, rt := range batch {
		s.dispatch(sup, rt)
	}
	return len(batch)
}

func (s *Service) publish(typ string, t task.ScheduledTask, status task.Status, err error) {
	ev := eventbus.TaskEvent{
		ID:            t.ID,
		Kind:          string(t.Kind),
		Label:         t.Label,
		CorrelationID: t.CorrelationID,
		FireAt:        t.FireAt,
		Status:        string(status),
		AlarmClockID:  t.AlarmClockID(),
	}
	if err != nil {
		ev.Error = err.Error()
	}
	s.bus.Publish(eventbus.Event{Type: typ, Time: s.now(), Data: ev})
}

func (s *Service) persistUpsert(ctx context.Context, t task.ScheduledTask, status task.Status) {
	if s.persist == nil {
		return
	}
	doc, err := task.ToDocument(t, status)
	if err == nil {
		err = s.persist.Upsert(ctx, doc)
	}
	if err != nil {
		s.log.Warn("persist task failed", logx.Task(t.ID, string(t.Kind)), logx.Err(err))
	}
}

func (s *Service) persistStatus(ctx context.Context, t task.ScheduledTask, status task.Status, cause error) {
	if s.persist == nil {
		return
	}
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	if err := s.persist.UpdateStatus(ctx, t.ID, string(status), msg); err != nil {
		s.log.Warn("persist status failed", logx.Task(t.ID, string(t.Kind)), logx.String("status", string(status)), logx.Err(err))
	}
}
