package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/prometheus/client_golang/prometheus"

	"chime/internal/alarm"
	"chime/internal/config"
	"chime/internal/eventbus"
	"chime/internal/httpapi"
	"chime/internal/hub"
	"chime/internal/metrics"
	"chime/internal/mqttbridge"
	"chime/internal/orchestrator"
	"chime/internal/recovery"
	"chime/internal/runtime/supervisor"
	"chime/internal/storage"
	"chime/internal/task/schedule"
	"chime/internal/task/scheduler"
	"chime/internal/timer"
	"chime/internal/tools"
	"chime/pkg/logx"
)

type App struct {
	cfgPath string

	cfgm *config.Manager
	sup  *supervisor.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	calc     *schedule.Calculator
	hub      *hub.Client
	orch     *orchestrator.Client
	sched    *scheduler.Service
	alarms   *alarm.Service
	timers   *timer.Service
	tools    *tools.Tools
	recovery *recovery.Service

	metrics *metrics.Metrics
	http    *httpapi.Server
	mqtt    *mqttbridge.Bridge

	httpGrace time.Duration
}

// New loads the config at cfgPath and builds every component. Nothing
// runs until Start.
func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	st, err := mapSettings(cfg)
	if err != nil {
		return nil, err
	}

	logs, root := logx.New(st.log)
	log := root.With(logx.String("comp", "app"))
	cfgm.SetLogger(root.With(logx.String("comp", "config")))

	bus := eventbus.New()

	store, err := storage.Open(st.storage, root.With(logx.String("comp", "storage")))
	if err != nil {
		_ = logs.Close()
		return nil, fmt.Errorf("open storage: %w", err)
	}
	var (
		taskStore  storage.TaskStore
		alarmStore storage.AlarmStore
	)
	if store != nil {
		taskStore, alarmStore = store, store
		log.Info("storage enabled", logx.String("driver", st.storage.Driver))
	} else {
		log.Warn("storage disabled; tasks and alarms are lost on restart")
	}

	calc := schedule.New(st.loc)
	hubc := hub.New(st.hub, nil, root.With(logx.String("comp", "hub")))
	orch := orchestrator.New(st.orch, nil, root.With(logx.String("comp", "orchestrator")))

	sched := scheduler.New(st.sched, scheduler.Deps{
		Persist:  taskStore,
		Device:   hubc,
		Replayer: orch,
		Bus:      bus,
		Log:      root.With(logx.String("comp", "scheduler")),
	})
	alarms := alarm.New(st.alarms, alarm.Deps{
		Store:     alarmStore,
		Scheduler: sched,
		Calc:      calc,
		Log:       root.With(logx.String("comp", "alarm")),
	})
	sched.SetObserver(alarms)
	timers := timer.New(sched, calc, root.With(logx.String("comp", "timer")), nil)
	tl := tools.New(tools.Deps{
		Timers:   timers,
		Alarms:   alarms,
		Resolver: hubc,
		Calc:     calc,
		Log:      root.With(logx.String("comp", "tools")),
	})
	rec := recovery.New(st.recovery, recovery.Deps{
		Persist:    taskStore,
		Restorer:   sched,
		Reconciler: alarms,
		Bus:        bus,
		Log:        root.With(logx.String("comp", "recovery")),
	})

	a := &App{
		cfgPath:   cfgPath,
		cfgm:      cfgm,
		log:       log,
		logs:      logs,
		bus:       bus,
		store:     store,
		calc:      calc,
		hub:       hubc,
		orch:      orch,
		sched:     sched,
		alarms:    alarms,
		timers:    timers,
		tools:     tl,
		recovery:  rec,
		httpGrace: st.sched.ShutdownGrace,
	}

	if cfg.Metrics.Enabled {
		a.metrics = metrics.New(cfg.Metrics.Namespace, prometheus.NewRegistry(), sched)
		a.metrics.WatchBus(bus)
		if !cfg.HTTP.Enabled {
			log.Warn("metrics enabled without http; /metrics is not served")
		}
	}
	if cfg.HTTP.Enabled {
		var mh http.Handler
		if a.metrics != nil {
			mh = a.metrics.Handler()
		}
		a.http = httpapi.New(st.http, httpapi.Deps{
			Tools:   tl,
			Alarms:  alarms,
			Tasks:   sched,
			Metrics: mh,
			Log:     root.With(logx.String("comp", "http")),
		})
	}
	if cfg.MQTT.Enabled {
		a.mqtt = mqttbridge.New(st.mqtt, alarms, root.With(logx.String("comp", "mqtt")))
	}
	return a, nil
}

// Done is closed when the app's run context ends, either through Stop or
// a fatal unit error.
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		_, err := mapSettings(cfg)
		return err
	})

	if err := a.alarms.Load(ctx); err != nil {
		return fmt.Errorf("load alarms: %w", err)
	}
	a.sched.Start(a.sup.Context())

	a.sup.Go0("recovery", func(c context.Context) {
		if err := a.recovery.Run(c); err != nil {
			a.log.Error("recovery failed; persisted tasks were not resumed", logx.Err(err))
		}
	})

	if a.metrics != nil {
		a.sup.Go("metrics", func(c context.Context) error { return a.metrics.Run(c, a.bus) })
	}
	if a.http != nil {
		a.sup.Go("http", func(c context.Context) error { return a.http.Serve(c, a.httpGrace) })
	}
	if a.mqtt != nil {
		a.sup.GoRestart("mqtt", func(c context.Context) error { return a.mqtt.Run(c, a.bus) },
			supervisor.WithRestartBackoff(time.Second, time.Minute))
	}

	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		last := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case next, ok := <-sub:
				if !ok {
					return
				}
				// keep only the newest queued config
			drain:
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							next = newer
						}
					default:
						break drain
					}
				}
				if a.applyConfig(c, last, next) {
					last = next
				}
			}
		}
	})
	a.sup.Go("config.watch", a.cfgm.Watch)

	sdNotify(a.log, daemon.SdNotifyReady)
	a.log.Info("app started", logx.String("config", a.cfgPath), logx.String("timezone", a.calc.Location().String()))
	return nil
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	sdNotify(a.log, daemon.SdNotifyStopping)

	a.sup.Cancel()

	a.step(ctx, "scheduler", a.httpGrace+time.Second, a.sched.Stop)
	a.step(ctx, "supervisor", 3*time.Second, a.sup.Wait)
	a.step(ctx, "storage", time.Second, func(context.Context) error {
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	})

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}
