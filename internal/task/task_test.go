package task

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chime/internal/storage"
)

var base = time.Date(2030, 3, 1, 12, 0, 0, 0, time.UTC)

func timerAt(d time.Duration) ScheduledTask {
	return NewTimer("t", base.Add(d), TimerPayload{Message: "hi", AnnounceTarget: "assist_satellite.kitchen", DurationSeconds: int(d / time.Second)})
}

func TestValidate(t *testing.T) {
	t.Parallel()
	good := timerAt(time.Minute)
	require.NoError(t, good.Validate())

	cases := []struct {
		name string
		mut  func(*ScheduledTask)
	}{
		{"no id", func(s *ScheduledTask) { s.ID = "" }},
		{"no fire time", func(s *ScheduledTask) { s.FireAt = time.Time{} }},
		{"two payloads", func(s *ScheduledTask) { s.Action = &DeferredActionPayload{Prompt: "x"} }},
		{"kind mismatch", func(s *ScheduledTask) { s.Kind = KindAlarm }},
		{"no target", func(s *ScheduledTask) { s.Timer = &TimerPayload{Message: "x"} }},
		{"unknown kind", func(s *ScheduledTask) { s.Kind = "reminder" }},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			tk := timerAt(time.Minute)
			tc.mut(&tk)
			assert.ErrorIs(t, tk.Validate(), ErrInvalid)
		})
	}

	al := NewAlarm("wake", base, AlarmPayload{AlarmClockID: "a", TargetEntity: "media_player.x", VolumeStart: 0.1, VolumeEnd: 1.2})
	assert.ErrorIs(t, al.Validate(), ErrInvalid, "volume above 1")
}

func TestStatusTerminal(t *testing.T) {
	t.Parallel()
	assert.False(t, StatusPending.Terminal())
	assert.False(t, StatusRunning.Terminal())
	for _, s := range []Status{StatusCompleted, StatusFailed, StatusMissed, StatusCancelled, StatusDismissed, StatusSnoozed} {
		assert.True(t, s.Terminal(), s)
	}
	// storage filters pending documents on its own constants.
	assert.Equal(t, storage.StatusPending, string(StatusPending))
	assert.Equal(t, storage.StatusRunning, string(StatusRunning))

	_, err := ParseStatus("bogus")
	assert.Error(t, err)
	st, err := ParseStatus(" Dismissed ")
	require.NoError(t, err)
	assert.Equal(t, StatusDismissed, st)
}

func TestStoreAddIsUpsert(t *testing.T) {
	t.Parallel()
	s := NewStore()
	tk := timerAt(time.Minute)
	s.Add(tk)
	tk.Label = "renamed"
	s.Add(tk)
	assert.Equal(t, 1, s.Len())
	got, ok := s.Get(tk.ID)
	require.True(t, ok)
	assert.Equal(t, "renamed", got.Label)
	assert.False(t, s.AddIfAbsent(tk))
}

func TestStoreTryRemoveExactlyOnce(t *testing.T) {
	t.Parallel()
	s := NewStore()
	tk := timerAt(time.Minute)
	s.Add(tk)

	var wg sync.WaitGroup
	wins := make(chan struct{}, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, ok := s.TryRemove(tk.ID); ok {
				wins <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(wins)
	assert.Len(t, wins, 1)
	assert.False(t, s.Has(tk.ID))
}

func TestStoreTakeDueAndOrdering(t *testing.T) {
	t.Parallel()
	s := NewStore()
	late := timerAt(3 * time.Minute)
	early := timerAt(time.Minute)
	future := timerAt(time.Hour)
	s.Add(late)
	s.Add(future)
	s.Add(early)

	all := s.GetAll()
	require.Len(t, all, 3)
	assert.Equal(t, early.ID, all[0].ID)
	assert.Equal(t, future.ID, all[2].ID)

	next, ok := s.NextFireAt()
	require.True(t, ok)
	assert.True(t, next.Equal(early.FireAt))

	due := s.TakeDue(base.Add(5 * time.Minute))
	require.Len(t, due, 2)
	assert.Equal(t, early.ID, due[0].ID)
	assert.Equal(t, late.ID, due[1].ID)
	assert.Equal(t, 1, s.Len())
	assert.Empty(t, s.TakeDue(base.Add(5*time.Minute)))
}

func TestStoreByKindAndAlarm(t *testing.T) {
	t.Parallel()
	s := NewStore()
	s.Add(timerAt(time.Minute))
	al := NewAlarm("wake", base.Add(time.Hour), AlarmPayload{AlarmClockID: "clock-1", TargetEntity: "media_player.bed", VolumeEnd: 1})
	s.Add(al)

	assert.Len(t, s.GetByKind(KindTimer), 1)
	assert.Len(t, s.GetByKind(KindAlarm), 1)
	assert.Empty(t, s.GetByKind(KindDeferredAction))
	found := s.FindAlarm("clock-1")
	require.Len(t, found, 1)
	assert.Equal(t, al.ID, found[0].ID)
}

func TestDocumentRoundTrip(t *testing.T) {
	t.Parallel()
	al := NewAlarm("wake", base, AlarmPayload{
		AlarmClockID: "clock-1", TargetEntity: "media_player.bed", SoundURI: "media-source://birds",
		PlaybackInterval: 30 * time.Second, AutoDismissAfter: 10 * time.Minute,
		VolumeStart: 0.1, VolumeEnd: 0.9, VolumeRampDuration: time.Minute,
	})
	al.CorrelationID = "conv-1"

	doc, err := ToDocument(al, StatusPending)
	require.NoError(t, err)
	assert.Equal(t, "alarm", doc.Kind)
	assert.Equal(t, "pending", doc.Status)

	back, err := FromDocument(doc)
	require.NoError(t, err)
	assert.Equal(t, al.ID, back.ID)
	assert.Equal(t, "conv-1", back.CorrelationID)
	require.NotNil(t, back.Alarm)
	assert.Equal(t, *al.Alarm, *back.Alarm)
	assert.Nil(t, back.Timer)
}

func TestFromDocumentRejectsCorrupt(t *testing.T) {
	t.Parallel()
	_, err := FromDocument(storage.TaskDocument{ID: "x", Kind: "timer", FireAt: base, Payload: []byte("{")})
	assert.ErrorIs(t, err, ErrInvalid)
	_, err = FromDocument(storage.TaskDocument{ID: "x", Kind: "weird", FireAt: base, Payload: []byte("{}")})
	assert.ErrorIs(t, err, ErrInvalid)
	_, err = FromDocument(storage.TaskDocument{ID: "x", Kind: "deferred_action", FireAt: base, Payload: []byte(`{"prompt":""}`)})
	assert.ErrorIs(t, err, ErrInvalid)
}
