package mqttbridge

import (
	"context"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"chime/internal/alarm"
	"chime/internal/eventbus"
	"chime/pkg/logx"
)

type doneToken struct{ err error }

func (t doneToken) Wait() bool                     { return true }
func (t doneToken) WaitTimeout(time.Duration) bool { return true }
func (t doneToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
func (t doneToken) Error() error { return t.err }

type published struct {
	topic    string
	retained bool
	payload  []byte
}

// fakeClient implements the calls the bridge makes; the embedded interface
// panics on anything else.
type fakeClient struct {
	mqtt.Client
	mu   sync.Mutex
	pubs []published
}

func (f *fakeClient) Connect() mqtt.Token { return doneToken{} }
func (f *fakeClient) Disconnect(uint)     {}
func (f *fakeClient) Publish(topic string, _ byte, retained bool, payload interface{}) mqtt.Token {
	var b []byte
	switch p := payload.(type) {
	case []byte:
		b = p
	case string:
		b = []byte(p)
	}
	f.mu.Lock()
	f.pubs = append(f.pubs, published{topic, retained, b})
	f.mu.Unlock()
	return doneToken{}
}

func (f *fakeClient) published() []published {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]published(nil), f.pubs...)
}

type fakeAlarms struct {
	mu        sync.Mutex
	dismissed []string
	snoozed   map[string]int
}

func (f *fakeAlarms) Find(ref string) (alarm.Clock, bool) {
	if ref == "wake" || ref == "a1" {
		return alarm.Clock{ID: "a1", Name: "Wake"}, true
	}
	return alarm.Clock{}, false
}

func (f *fakeAlarms) Dismiss(_ context.Context, id string) (alarm.Clock, error) {
	f.mu.Lock()
	f.dismissed = append(f.dismissed, id)
	f.mu.Unlock()
	return alarm.Clock{ID: id}, nil
}

func (f *fakeAlarms) Snooze(_ context.Context, id string, minutes int) (alarm.Clock, error) {
	f.mu.Lock()
	if f.snoozed == nil {
		f.snoozed = map[string]int{}
	}
	f.snoozed[id] = minutes
	f.mu.Unlock()
	return alarm.Clock{ID: id}, nil
}

func TestForwardPublishesTaskEvents(t *testing.T) {
	fc := &fakeClient{}
	b := newWithClient(Config{TopicPrefix: "/home/chime/"}, fc, nil, logx.Nop())

	at := time.Date(2030, 1, 1, 7, 0, 0, 0, time.UTC)
	require.NoError(t, b.Forward(eventbus.Event{Type: eventbus.AlarmRinging, Time: at, Data: eventbus.TaskEvent{
		ID: "t1", Kind: "alarm", Label: "Wake", AlarmClockID: "a1", FireAt: at,
	}}))
	require.NoError(t, b.Forward(eventbus.Event{Type: eventbus.ConfigReloaded}))

	pubs := fc.published()
	require.Len(t, pubs, 1)
	assert.Equal(t, "home/chime/alarm.ringing", pubs[0].topic)
	assert.False(t, pubs[0].retained)
	body := gjson.ParseBytes(pubs[0].payload)
	assert.Equal(t, "t1", body.Get("id").String())
	assert.Equal(t, "a1", body.Get("alarm_clock_id").String())
	assert.Equal(t, "2030-01-01T07:00:00Z", body.Get("time").String())
}

func TestRunForwardsUntilCancelled(t *testing.T) {
	fc := &fakeClient{}
	b := newWithClient(Config{}, fc, nil, logx.Nop())
	bus := eventbus.New()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- b.Run(ctx, bus) }()

	require.Eventually(t, func() bool {
		bus.Publish(eventbus.Event{Type: eventbus.TaskFired, Data: eventbus.TaskEvent{ID: "t1"}})
		return len(fc.published()) > 0
	}, time.Second, 10*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	pubs := fc.published()
	assert.Equal(t, "chime/task.fired", pubs[0].topic)
	last := pubs[len(pubs)-1]
	assert.Equal(t, "chime/status", last.topic)
	assert.Equal(t, "offline", string(last.payload))
	assert.True(t, last.retained)
}

func TestHandleCommand(t *testing.T) {
	fa := &fakeAlarms{}
	b := newWithClient(Config{}, &fakeClient{}, fa, logx.Nop())
	ctx := context.Background()

	b.handleCommand(ctx, "chime/alarm/wake/dismiss", nil)
	b.handleCommand(ctx, "chime/alarm/a1/snooze", []byte(" 15 "))
	b.handleCommand(ctx, "chime/alarm/ghost/dismiss", nil)
	b.handleCommand(ctx, "chime/alarm/a1/explode", nil)
	b.handleCommand(ctx, "other/alarm/a1/dismiss", nil)

	assert.Equal(t, []string{"a1"}, fa.dismissed)
	assert.Equal(t, map[string]int{"a1": 15}, fa.snoozed)
}
