package tools

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chime/internal/alarm"
	"chime/internal/task"
	"chime/internal/task/schedule"
	"chime/internal/task/scheduler"
	"chime/internal/timer"
	"chime/pkg/logx"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type announcement struct{ device, message string }

type device struct {
	mu        sync.Mutex
	announced []announcement
}

func (d *device) Announce(_ context.Context, id, msg string) error {
	d.mu.Lock()
	d.announced = append(d.announced, announcement{id, msg})
	d.mu.Unlock()
	return nil
}
func (d *device) PlaySound(context.Context, string, string, int) error { return nil }
func (d *device) SetVolume(context.Context, string, int) error         { return nil }
func (d *device) StopPlayback(context.Context, string) error           { return nil }

func (d *device) calls() []announcement {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]announcement(nil), d.announced...)
}

type resolver map[string]string

func (r resolver) Resolve(_ context.Context, location string) (string, error) {
	if id, ok := r[location]; ok {
		return id, nil
	}
	return "", errors.New("unresolved")
}

// friday is 2030-01-11 08:00 UTC.
var friday = time.Date(2030, 1, 11, 8, 0, 0, 0, time.UTC)

type harness struct {
	tools *Tools
	sched *scheduler.Service
	alarm *alarm.Service
	dev   *device
	clock *clock
}

func newHarness(t *testing.T, start bool) *harness {
	t.Helper()
	h := &harness{dev: &device{}, clock: &clock{t: friday}}
	calc := schedule.New(time.UTC)
	h.sched = scheduler.New(scheduler.Config{
		Enabled:           true,
		TickInterval:      5 * time.Millisecond,
		DeviceCallTimeout: time.Second,
		ShutdownGrace:     time.Second,
	}, scheduler.Deps{Device: h.dev, Now: h.clock.Now})
	h.alarm = alarm.New(alarm.Defaults{}, alarm.Deps{Scheduler: h.sched, Calc: calc, Now: h.clock.Now})
	h.sched.SetObserver(h.alarm)
	h.tools = New(Deps{
		Timers:   timer.New(h.sched, calc, logx.Nop(), h.clock.Now),
		Alarms:   h.alarm,
		Resolver: resolver{"kitchen": "kitchen-device", "bedroom": "media_player.bedroom"},
		Calc:     calc,
		Now:      h.clock.Now,
	})
	if start {
		h.sched.Start(context.Background())
		t.Cleanup(func() { _ = h.sched.Stop(context.Background()) })
	}
	return h
}

func TestSetTimerAnnouncesOnceAfterDuration(t *testing.T) {
	h := newHarness(t, true)

	out := h.tools.SetTimer(context.Background(), 300, "tea is ready", "kitchen")
	assert.Contains(t, out, "5 minute")

	time.Sleep(30 * time.Millisecond)
	assert.Empty(t, h.dev.calls())

	h.clock.Advance(300 * time.Second)
	require.Eventually(t, func() bool { return len(h.dev.calls()) == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, []announcement{{"kitchen-device", "tea is ready"}}, h.dev.calls())
}

func TestTimerToolsText(t *testing.T) {
	h := newHarness(t, false)
	ctx := context.Background()

	assert.Equal(t, "There are no active timers.", h.tools.ListTimers(ctx))
	assert.Contains(t, h.tools.SetTimer(ctx, 0, "x", "kitchen"), "longer than zero")
	assert.Contains(t, h.tools.SetTimer(ctx, 60, "x", "attic"), `"attic"`)

	h.tools.SetTimer(ctx, 90, "pasta", "kitchen")
	list := h.tools.ListTimers(ctx)
	assert.Contains(t, list, "1 timer running")
	assert.Contains(t, list, "pasta")
	assert.Contains(t, list, "1 minute 30 seconds left")

	id := h.sched.Pending(task.KindTimer)[0].ID
	assert.Equal(t, "Cancelled the pasta timer.", h.tools.CancelTimer(ctx, id))
	assert.Equal(t, "Timer "+id+" was not found.", h.tools.CancelTimer(ctx, id))
	assert.Contains(t, h.tools.CancelTimer(ctx, "nope"), "not found")
}

func TestSetAlarmWeekdayCron(t *testing.T) {
	h := newHarness(t, false)
	ctx := context.Background()

	out := h.tools.SetAlarm(ctx, "Wake", "07:00", "bedroom", "0 7 * * 1-5", "")
	assert.Contains(t, out, `Alarm "Wake" set`)
	assert.Contains(t, out, "weekdays at 07:00")

	c, ok := h.alarm.Find("wake")
	require.True(t, ok)
	assert.Equal(t, "media_player.bedroom", c.TargetEntity)
	assert.Equal(t, time.Date(2030, 1, 14, 7, 0, 0, 0, time.UTC), *c.NextFireAt)

	out = h.tools.SetAlarm(ctx, "Wake", "06:30", "bedroom", "30 6 * * 1-5", "")
	assert.Contains(t, out, "updated")
	pending := h.sched.Pending(task.KindAlarm)
	require.Len(t, pending, 1)
	assert.Equal(t, c.ID, pending[0].AlarmClockID())
}

func TestSetAlarmOneShotAndValidation(t *testing.T) {
	h := newHarness(t, false)
	ctx := context.Background()

	assert.Equal(t, `Alarm "Nap" set for today at 13:30.`, h.tools.SetAlarm(ctx, "Nap", "13:30", "bedroom", "", ""))
	assert.Equal(t, `Alarm "Early" set for tomorrow at 07:00.`, h.tools.SetAlarm(ctx, "Early", "07:00", "bedroom", "", ""))

	assert.Contains(t, h.tools.SetAlarm(ctx, "Bad", "25:00", "bedroom", "", ""), "not a valid time")
	assert.Contains(t, h.tools.SetAlarm(ctx, "Bad", "", "bedroom", "0 7 * *", ""), "not a valid schedule")
	assert.Contains(t, h.tools.SetAlarm(ctx, "Bad", "07:00", "garage", "", ""), "couldn't find a device")
	assert.Contains(t, h.tools.SetAlarm(ctx, "Bad", "07:00", "bedroom", "", "birdsong"), "don't know a sound")
	assert.Equal(t, "An alarm needs a name.", h.tools.SetAlarm(ctx, " ", "07:00", "bedroom", "", ""))

	_, ok := h.alarm.Find("Bad")
	assert.False(t, ok)
}

func TestDismissAndSnooze(t *testing.T) {
	h := newHarness(t, false)
	ctx := context.Background()

	h.tools.SetAlarm(ctx, "Wake", "07:00", "bedroom", "0 7 * * 1-5", "")
	assert.Equal(t, `Dismissed "Wake". It will ring again Monday, January 14 at 07:00.`, h.tools.DismissAlarm(ctx, "wake"))

	assert.Equal(t, `Snoozed "Wake" for 9 minutes.`, h.tools.SnoozeAlarm(ctx, "Wake", 0))
	c, _ := h.alarm.Find("Wake")
	assert.Equal(t, friday.Add(9*time.Minute), *c.NextFireAt)

	assert.Equal(t, `Snoozed "Wake" for 1 minute.`, h.tools.SnoozeAlarm(ctx, c.ID, 1))

	h.tools.SetAlarm(ctx, "Nap", "13:30", "bedroom", "", "")
	assert.Equal(t, `Dismissed "Nap".`, h.tools.DismissAlarm(ctx, "Nap"))

	assert.Equal(t, `Alarm "ghost" was not found.`, h.tools.DismissAlarm(ctx, "ghost"))
	assert.Equal(t, `Alarm "ghost" was not found.`, h.tools.SnoozeAlarm(ctx, "ghost", 5))
}

func TestListAlarms(t *testing.T) {
	h := newHarness(t, false)
	ctx := context.Background()

	assert.Equal(t, "There are no alarms.", h.tools.ListAlarms(ctx))
	h.tools.SetAlarm(ctx, "Wake", "07:00", "bedroom", "0 7 * * 1-5", "")
	h.tools.SetAlarm(ctx, "Nap", "13:30", "bedroom", "", "")
	h.tools.DismissAlarm(ctx, "Nap")

	assert.Equal(t, "2 alarms:\n"+
		"- Nap, off\n"+
		"- Wake, weekdays at 07:00, next Monday, January 14 at 07:00", h.tools.ListAlarms(ctx))
}

func TestScheduledActions(t *testing.T) {
	h := newHarness(t, false)
	ctx := WithConversation(context.Background(), "conv-7")

	assert.Equal(t, "There are no scheduled actions.", h.tools.ListScheduledActions(ctx))
	out := h.tools.ScheduleAction(ctx, "turn off the lights", 600, "lights off", "")
	assert.Contains(t, out, `Scheduled "lights off" in 10 minutes.`)

	out = h.tools.ScheduleActionAt(ctx, "start the coffee", "06:45", "coffee", "kitchen")
	assert.Contains(t, out, `Scheduled "coffee" for tomorrow at 06:45.`)

	pending := h.sched.Pending(task.KindDeferredAction)
	require.Len(t, pending, 2)
	for _, p := range pending {
		assert.Equal(t, "conv-7", p.CorrelationID)
	}
	list := h.tools.ListScheduledActions(ctx)
	assert.Contains(t, list, "2 scheduled actions pending:")
	assert.Contains(t, list, "lights off")

	assert.Contains(t, h.tools.ScheduleActionAt(ctx, "x", "7am", "x", ""), "couldn't schedule")
	assert.Contains(t, h.tools.ScheduleAction(ctx, "", 10, "x", ""), "couldn't schedule")

	id := pending[0].ID
	assert.Contains(t, h.tools.CancelScheduledAction(ctx, id), "Cancelled the scheduled action")
	assert.Equal(t, "Scheduled action "+id+" was not found.", h.tools.CancelScheduledAction(ctx, id))
}

func TestCancelTimerRefusesOtherKinds(t *testing.T) {
	h := newHarness(t, false)
	ctx := context.Background()

	h.tools.ScheduleAction(ctx, "water the plants", 60, "plants", "")
	id := h.sched.Pending(task.KindDeferredAction)[0].ID
	assert.Contains(t, h.tools.CancelTimer(ctx, id), "not found")
	assert.Len(t, h.sched.Pending(task.KindDeferredAction), 1)
}

func TestInvoke(t *testing.T) {
	h := newHarness(t, false)
	ctx := context.Background()

	out := h.tools.Invoke(ctx, "SetTimer", `{"durationSeconds":300,"message":"tea is ready","target":"kitchen"}`)
	assert.Contains(t, out, "5 minute")
	assert.Contains(t, h.tools.Invoke(ctx, "ListTimers", ""), "1 timer running")

	out = h.tools.Invoke(ctx, "SetTimer", `{"durationSeconds":9300000000,"target":"kitchen"}`)
	assert.Contains(t, out, "longer than 366 days")
	assert.Len(t, h.sched.Pending(task.KindTimer), 1)

	assert.Equal(t, `There is no tool called "Explode".`, h.tools.Invoke(ctx, "Explode", "{}"))
	assert.Equal(t, "The tool arguments are not valid JSON.", h.tools.Invoke(ctx, "SetTimer", "{"))
	assert.Equal(t, `SetAlarm needs "location".`, h.tools.Invoke(ctx, "SetAlarm", `{"name":"Wake","time":"07:00"}`))

	out = h.tools.Invoke(ctx, "SnoozeAlarm", `{"idOrName":"ghost"}`)
	assert.Contains(t, out, "not found")
}

func TestDefinitions(t *testing.T) {
	defs := Definitions()
	names := make([]string, 0, len(defs))
	for _, d := range defs {
		names = append(names, d.Name)
		assert.NotEmpty(t, d.Description, d.Name)
	}
	assert.Equal(t, []string{
		"CancelScheduledAction", "CancelTimer", "DismissAlarm", "ListAlarms", "ListScheduledActions",
		"ListTimers", "ScheduleAction", "ScheduleActionAt", "SetAlarm", "SetTimer", "SnoozeAlarm",
	}, names)
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want string
	}{
		{300 * time.Second, "5 minutes"},
		{90 * time.Second, "1 minute 30 seconds"},
		{time.Second, "1 second"},
		{45 * time.Second, "45 seconds"},
		{time.Hour + 30*time.Minute, "1 hour 30 minutes"},
		{2*time.Hour + 5*time.Second, "2 hours"},
		{0, "0 seconds"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, formatDuration(tt.in), tt.in.String())
	}
}
