// Package metrics exports scheduler activity to Prometheus. It learns
// everything from the event bus plus a snapshot probe for gauges.
package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"chime/internal/eventbus"
	"chime/internal/task/scheduler"
)

// Snapshotter is read on every scrape.
type Snapshotter interface {
	Snapshot() scheduler.Snapshot
}

type Metrics struct {
	namespace string
	reg       *prometheus.Registry
	gatherer  prometheus.Gatherer

	events   *prometheus.CounterVec
	lateness prometheus.Histogram
}

// New registers the collectors on reg (a fresh registry when nil).
func New(namespace string, reg *prometheus.Registry, snap Snapshotter) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	if namespace == "" {
		namespace = "chime"
	}
	m := &Metrics{
		namespace: namespace,
		reg:       reg,
		gatherer:  reg,
		events: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "task_events_total",
				Help:      "Task lifecycle events by type and task kind",
			},
			[]string{"event", "kind"},
		),
		lateness: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "task_fire_lateness_seconds",
				Help:      "Delay between a task's fire time and its execution start",
				Buckets:   []float64{.1, .5, 1, 2, 5, 30, 60, 300},
			},
		),
	}
	reg.MustRegister(m.events, m.lateness)

	if snap != nil {
		reg.MustRegister(
			prometheus.NewGaugeFunc(prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "tasks_pending",
				Help:      "Tasks waiting for their fire time",
			}, func() float64 { return float64(snap.Snapshot().Pending) }),
			prometheus.NewGaugeFunc(prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "tasks_running",
				Help:      "Tasks currently executing, including ringing alarms",
			}, func() float64 { return float64(len(snap.Snapshot().Running)) }),
		)
	}
	return m
}

// Observe records one bus event.
func (m *Metrics) Observe(e eventbus.Event) {
	te, ok := e.Data.(eventbus.TaskEvent)
	if !ok {
		return
	}
	m.events.WithLabelValues(e.Type, te.Kind).Inc()
	if e.Type == eventbus.TaskFired && !te.FireAt.IsZero() {
		late := e.Time.Sub(te.FireAt).Seconds()
		if late < 0 {
			late = 0
		}
		m.lateness.Observe(late)
	}
}

// WatchBus exports the bus's dropped deliveries when it counts them.
func (m *Metrics) WatchBus(bus eventbus.Bus) {
	dc, ok := bus.(eventbus.DropCounter)
	if !ok {
		return
	}
	m.reg.MustRegister(prometheus.NewCounterFunc(prometheus.CounterOpts{
		Namespace: m.namespace,
		Name:      "events_dropped_total",
		Help:      "Bus deliveries lost to full subscriber buffers",
	}, func() float64 { return float64(dc.Dropped()) }))
}

// Run consumes bus events until ctx is done.
func (m *Metrics) Run(ctx context.Context, bus eventbus.Bus) error {
	ch, unsub := bus.Subscribe(256)
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return nil
		case e, ok := <-ch:
			if !ok {
				return nil
			}
			m.Observe(e)
		}
	}
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
