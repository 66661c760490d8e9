package recovery

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chime/internal/eventbus"
	"chime/internal/storage"
	"chime/internal/task"
)

type restorer struct {
	mu    sync.Mutex
	store *task.Store
}

func (r *restorer) Restore(t task.ScheduledTask) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.store.AddIfAbsent(t)
}

type reconciler struct {
	calls int
	at    time.Time
	err   error
}

func (r *reconciler) Reconcile(_ context.Context, now time.Time) error {
	r.calls++
	r.at = now
	return r.err
}

type failingStore struct{ storage.TaskStore }

func (failingStore) GetPending(context.Context) ([]storage.TaskDocument, error) {
	return nil, errors.New("db down")
}

func persistTimer(t *testing.T, st storage.TaskStore, fireAt time.Time, status task.Status) task.ScheduledTask {
	t.Helper()
	tm := task.NewTimer("tea", fireAt, task.TimerPayload{Message: "tea is ready", AnnounceTarget: "media_player.kitchen"})
	doc, err := task.ToDocument(tm, status)
	require.NoError(t, err)
	require.NoError(t, st.Upsert(context.Background(), doc))
	return tm
}

func TestRecoverResumesWithinGraceAndMissesTheRest(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2030, 1, 1, 7, 0, 0, 0, time.UTC)
	st := storage.NewMemory()
	store := task.NewStore()
	rec := &reconciler{}
	bus := eventbus.New()
	events, unsub := bus.Subscribe(16)
	defer unsub()

	late30s := persistTimer(t, st, now.Add(-30*time.Second), task.StatusPending)
	late10m := persistTimer(t, st, now.Add(-10*time.Minute), task.StatusPending)
	future := persistTimer(t, st, now.Add(time.Hour), task.StatusRunning)
	done := persistTimer(t, st, now.Add(-time.Hour), task.StatusCompleted)

	svc := New(Config{GracePeriod: 5 * time.Minute}, Deps{
		Persist: st, Restorer: &restorer{store: store}, Reconciler: rec, Bus: bus,
		Now: func() time.Time { return now },
	})
	rep, err := svc.Recover(ctx)
	require.NoError(t, err)
	assert.Equal(t, Report{Resumed: 2, Missed: 1}, rep)

	assert.True(t, store.Has(late30s.ID))
	assert.True(t, store.Has(future.ID))
	assert.False(t, store.Has(late10m.ID))
	assert.False(t, store.Has(done.ID))

	d, err := st.GetTask(ctx, late10m.ID)
	require.NoError(t, err)
	assert.Equal(t, "missed", d.Status)

	require.Len(t, events, 1)
	ev := <-events
	assert.Equal(t, eventbus.TaskMissed, ev.Type)

	assert.Equal(t, 1, rec.calls)
	assert.Equal(t, now, rec.at)

	due := store.TakeDue(now)
	require.Len(t, due, 1)
	assert.Equal(t, late30s.ID, due[0].ID, "late task fires on the first tick")
}

func TestRecoverExactlyAtGraceIsMissed(t *testing.T) {
	now := time.Date(2030, 1, 1, 7, 0, 0, 0, time.UTC)
	st := storage.NewMemory()
	persistTimer(t, st, now.Add(-5*time.Minute), task.StatusPending)

	svc := New(Config{GracePeriod: 5 * time.Minute}, Deps{
		Persist: st, Restorer: &restorer{store: task.NewStore()}, Now: func() time.Time { return now },
	})
	rep, err := svc.Recover(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Missed)
}

func TestRecoverIsIdempotent(t *testing.T) {
	now := time.Date(2030, 1, 1, 7, 0, 0, 0, time.UTC)
	st := storage.NewMemory()
	persistTimer(t, st, now.Add(time.Minute), task.StatusPending)
	r := &restorer{store: task.NewStore()}

	svc := New(Config{}, Deps{Persist: st, Restorer: r, Now: func() time.Time { return now }})
	first, err := svc.Recover(context.Background())
	require.NoError(t, err)
	second, err := svc.Recover(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, first.Resumed)
	assert.Equal(t, Report{Skipped: 1}, second)
	assert.Equal(t, 1, r.store.Len())
}

func TestRecoverMarksCorruptDocumentsFailed(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2030, 1, 1, 7, 0, 0, 0, time.UTC)
	st := storage.NewMemory()
	require.NoError(t, st.Upsert(ctx, storage.TaskDocument{
		ID: "bad", Kind: "timer", FireAt: now, Status: "pending", Payload: []byte("{not json"),
	}))

	svc := New(Config{}, Deps{Persist: st, Restorer: &restorer{store: task.NewStore()}, Now: func() time.Time { return now }})
	rep, err := svc.Recover(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Invalid)

	d, err := st.GetTask(ctx, "bad")
	require.NoError(t, err)
	assert.Equal(t, "failed", d.Status)
	assert.NotEmpty(t, d.Error)
}

func TestRecoverLoadFailure(t *testing.T) {
	rec := &reconciler{}
	svc := New(Config{}, Deps{Persist: failingStore{}, Restorer: &restorer{store: task.NewStore()}, Reconciler: rec})
	_, err := svc.Recover(context.Background())
	assert.Error(t, err)
	assert.Zero(t, rec.calls)
}

func TestRunHonoursCancellation(t *testing.T) {
	svc := New(Config{SettleDelay: time.Hour}, Deps{Persist: storage.NewMemory(), Restorer: &restorer{store: task.NewStore()}})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.NoError(t, svc.Run(ctx))
}
