package hub

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"chime/pkg/logx"
)

type call struct {
	path string
	body gjson.Result
}

type fakeHub struct {
	mu     sync.Mutex
	calls  []call
	states string
	status int
}

func (f *fakeHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("Authorization") != "Bearer secret" {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	raw, _ := io.ReadAll(r.Body)
	f.mu.Lock()
	f.calls = append(f.calls, call{path: r.URL.Path, body: gjson.ParseBytes(raw)})
	status, states := f.status, f.states
	f.mu.Unlock()
	if status != 0 {
		w.WriteHeader(status)
		_, _ = w.Write([]byte("boom"))
		return
	}
	if r.URL.Path == "/api/states" {
		_, _ = w.Write([]byte(states))
		return
	}
	_, _ = w.Write([]byte("[]"))
}

func (f *fakeHub) recorded() []call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]call(nil), f.calls...)
}

func newClient(t *testing.T, f *fakeHub, cfg Config) *Client {
	t.Helper()
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)
	cfg.URL = srv.URL + "/"
	cfg.Token = "secret"
	return New(cfg, srv.Client(), logx.Nop())
}

func TestAnnounce(t *testing.T) {
	f := &fakeHub{}
	c := newClient(t, f, Config{TTSEntity: "tts.piper"})
	ctx := context.Background()

	require.NoError(t, c.Announce(ctx, "assist_satellite.kitchen", "tea is ready"))
	require.NoError(t, c.Announce(ctx, "media_player.bedroom", "wake up"))

	calls := f.recorded()
	require.Len(t, calls, 2)
	assert.Equal(t, "/api/services/assist_satellite/announce", calls[0].path)
	assert.Equal(t, "assist_satellite.kitchen", calls[0].body.Get("entity_id").String())
	assert.Equal(t, "tea is ready", calls[0].body.Get("message").String())

	assert.Equal(t, "/api/services/tts/speak", calls[1].path)
	assert.Equal(t, "tts.piper", calls[1].body.Get("entity_id").String())
	assert.Equal(t, "media_player.bedroom", calls[1].body.Get("media_player_entity_id").String())
}

func TestAnnounceWithoutTTSEntity(t *testing.T) {
	f := &fakeHub{}
	c := newClient(t, f, Config{})
	assert.Error(t, c.Announce(context.Background(), "media_player.bedroom", "hi"))
	assert.Empty(t, f.recorded())
}

func TestPlaySoundSetsVolumeFirst(t *testing.T) {
	f := &fakeHub{}
	c := newClient(t, f, Config{})
	ctx := context.Background()

	require.NoError(t, c.PlaySound(ctx, "media_player.bedroom", "media-source://media_source/local/alarm.mp3", 40))
	require.NoError(t, c.StopPlayback(ctx, "media_player.bedroom"))
	require.NoError(t, c.SetVolume(ctx, "media_player.bedroom", 150))

	calls := f.recorded()
	require.Len(t, calls, 4)
	assert.Equal(t, "/api/services/media_player/volume_set", calls[0].path)
	assert.InDelta(t, 0.4, calls[0].body.Get("volume_level").Float(), 1e-9)
	assert.Equal(t, "/api/services/media_player/play_media", calls[1].path)
	assert.Equal(t, "media-source://media_source/local/alarm.mp3", calls[1].body.Get("media_content_id").String())
	assert.Equal(t, "/api/services/media_player/media_stop", calls[2].path)
	assert.InDelta(t, 1.0, calls[3].body.Get("volume_level").Float(), 1e-9)
}

func TestServiceErrorStatus(t *testing.T) {
	f := &fakeHub{status: http.StatusInternalServerError}
	c := newClient(t, f, Config{})
	err := c.StopPlayback(context.Background(), "media_player.x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "media_player.media_stop")
	assert.Contains(t, err.Error(), "status 500")
}

func TestCallTimesOut(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()
	c := New(Config{URL: srv.URL, Timeout: 50 * time.Millisecond}, nil, logx.Nop())
	assert.Error(t, c.StopPlayback(context.Background(), "media_player.x"))
}

const states = `[
 {"entity_id":"light.kitchen","attributes":{"friendly_name":"Kitchen"}},
 {"entity_id":"assist_satellite.kitchen_voice","attributes":{"friendly_name":"Kitchen"}},
 {"entity_id":"media_player.kitchen_speaker","attributes":{"friendly_name":"Kitchen"}},
 {"entity_id":"media_player.living_room","attributes":{"friendly_name":"Den Speaker"}},
 {"entity_id":"media_player.office_echo","attributes":{"friendly_name":"Office Echo Dot"}}
]`

func TestResolve(t *testing.T) {
	f := &fakeHub{states: states}
	c := newClient(t, f, Config{Locations: map[string]string{"Bedroom": "media_player.bedroom_sonos"}})
	ctx := context.Background()

	tests := []struct {
		in, want string
	}{
		{"media_player.anything", "media_player.anything"},
		{"bedroom", "media_player.bedroom_sonos"},
		{"kitchen", "media_player.kitchen_speaker"},
		{"Living Room", "media_player.living_room"},
		{"office", "media_player.office_echo"},
	}
	for _, tt := range tests {
		got, err := c.Resolve(ctx, tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}

	_, err := c.Resolve(ctx, "garage")
	assert.ErrorIs(t, err, ErrUnresolved)
	_, err = c.Resolve(ctx, "  ")
	assert.ErrorIs(t, err, ErrUnresolved)
}

func TestResolveHubDown(t *testing.T) {
	f := &fakeHub{status: http.StatusBadGateway}
	c := newClient(t, f, Config{})
	_, err := c.Resolve(context.Background(), "kitchen")
	assert.ErrorIs(t, err, ErrUnresolved)
}
