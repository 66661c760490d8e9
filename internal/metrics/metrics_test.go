package metrics

import (
	"context"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chime/internal/eventbus"
	"chime/internal/task"
	"chime/internal/task/scheduler"
)

type snap struct{ s scheduler.Snapshot }

func (s snap) Snapshot() scheduler.Snapshot { return s.s }

func family(t *testing.T, reg *prometheus.Registry, name string) *dto.MetricFamily {
	t.Helper()
	mfs, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range mfs {
		if mf.GetName() == name {
			return mf
		}
	}
	t.Fatalf("metric %s not gathered", name)
	return nil
}

func counter(mf *dto.MetricFamily, labels map[string]string) float64 {
	for _, m := range mf.GetMetric() {
		match := true
		for _, lp := range m.GetLabel() {
			if labels[lp.GetName()] != lp.GetValue() {
				match = false
			}
		}
		if match {
			return m.GetCounter().GetValue()
		}
	}
	return 0
}

func TestObserveCountsEvents(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New("chime", reg, snap{scheduler.Snapshot{Pending: 3, Running: []task.ScheduledTask{{ID: "t1"}}}})

	fire := time.Date(2030, 1, 1, 7, 0, 0, 0, time.UTC)
	m.Observe(eventbus.Event{Type: eventbus.TaskScheduled, Data: eventbus.TaskEvent{Kind: "timer"}})
	m.Observe(eventbus.Event{Type: eventbus.TaskScheduled, Data: eventbus.TaskEvent{Kind: "timer"}})
	m.Observe(eventbus.Event{Type: eventbus.TaskFired, Time: fire.Add(2 * time.Second), Data: eventbus.TaskEvent{Kind: "alarm", FireAt: fire}})
	m.Observe(eventbus.Event{Type: eventbus.ConfigReloaded})

	events := family(t, reg, "chime_task_events_total")
	assert.Equal(t, 2.0, counter(events, map[string]string{"event": "task.scheduled", "kind": "timer"}))
	assert.Equal(t, 1.0, counter(events, map[string]string{"event": "task.fired", "kind": "alarm"}))

	h := family(t, reg, "chime_task_fire_lateness_seconds").GetMetric()[0].GetHistogram()
	assert.Equal(t, uint64(1), h.GetSampleCount())
	assert.InDelta(t, 2.0, h.GetSampleSum(), 1e-9)

	assert.Equal(t, 3.0, family(t, reg, "chime_tasks_pending").GetMetric()[0].GetGauge().GetValue())
	assert.Equal(t, 1.0, family(t, reg, "chime_tasks_running").GetMetric()[0].GetGauge().GetValue())
}

func TestRunConsumesBus(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New("", reg, nil)
	bus := eventbus.New()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx, bus) }()

	require.Eventually(t, func() bool {
		bus.Publish(eventbus.Event{Type: eventbus.TaskMissed, Data: eventbus.TaskEvent{Kind: "alarm"}})
		mfs, _ := reg.Gather()
		return len(mfs) > 0
	}, time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return")
	}
}

func TestHandlerServesText(t *testing.T) {
	m := New("chime", nil, nil)
	m.Observe(eventbus.Event{Type: eventbus.TaskCompleted, Data: eventbus.TaskEvent{Kind: "timer"}})

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	assert.Contains(t, string(body), `chime_task_events_total{event="task.completed",kind="timer"} 1`)
}

func TestWatchBusExportsDrops(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New("chime", reg, nil)
	bus := eventbus.New()
	m.WatchBus(bus)
	m.WatchBus(eventbus.Nop())

	_, unsub := bus.Subscribe(1)
	defer unsub()
	for i := 0; i < 4; i++ {
		bus.Publish(eventbus.Event{Type: eventbus.TaskScheduled})
	}
	mf := family(t, reg, "chime_events_dropped_total")
	assert.Equal(t, 3.0, mf.GetMetric()[0].GetCounter().GetValue())
}
