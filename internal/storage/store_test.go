package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chime/pkg/logx"
)

// runStoreSuite exercises the Store contract shared by every driver.
func runStoreSuite(t *testing.T, st Store) {
	t.Helper()
	ctx := context.Background()
	fire := time.Date(2030, 1, 2, 7, 0, 0, 0, time.UTC)

	t.Run("tasks", func(t *testing.T) {
		require.NoError(t, st.Upsert(ctx, TaskDocument{
			ID: "t1", Kind: "timer", Label: "tea", FireAt: fire, Status: StatusPending,
			Payload: []byte(`{"message":"tea"}`),
		}))
		require.NoError(t, st.Upsert(ctx, TaskDocument{
			ID: "t2", Kind: "alarm", FireAt: fire.Add(time.Hour), Status: StatusRunning,
		}))
		require.NoError(t, st.Upsert(ctx, TaskDocument{
			ID: "t3", Kind: "timer", FireAt: fire.Add(-time.Hour), Status: "completed",
		}))

		pending, err := st.GetPending(ctx)
		require.NoError(t, err)
		require.Len(t, pending, 2)
		assert.Equal(t, "t1", pending[0].ID)
		assert.True(t, pending[0].FireAt.Equal(fire))
		assert.JSONEq(t, `{"message":"tea"}`, string(pending[0].Payload))

		require.NoError(t, st.UpdateStatus(ctx, "t1", "failed", "speaker offline"))
		got, err := st.GetTask(ctx, "t1")
		require.NoError(t, err)
		assert.Equal(t, "failed", got.Status)
		assert.Equal(t, "speaker offline", got.Error)

		pending, err = st.GetPending(ctx)
		require.NoError(t, err)
		require.Len(t, pending, 1)
		assert.Equal(t, "t2", pending[0].ID)

		assert.ErrorIs(t, st.UpdateStatus(ctx, "missing", "failed", ""), ErrNotFound)
		_, err = st.GetTask(ctx, "missing")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("alarms", func(t *testing.T) {
		next := fire
		a := AlarmDocument{
			ID: "a1", Name: "Wake", TargetEntity: "media_player.bedroom",
			CronSchedule: "0 7 * * 1-5", NextFireAt: &next, IsEnabled: true,
			PlaybackInterval: 30 * time.Second, AutoDismissAfter: 10 * time.Minute,
			VolumeStart: 0.2, VolumeEnd: 0.8, VolumeRampDuration: time.Minute,
		}
		require.NoError(t, st.UpsertAlarm(ctx, a))
		got, err := st.GetAlarm(ctx, "a1")
		require.NoError(t, err)
		assert.Equal(t, "Wake", got.Name)
		require.NotNil(t, got.NextFireAt)
		assert.True(t, got.NextFireAt.Equal(next))
		assert.Nil(t, got.LastDismissedAt)
		assert.Equal(t, 30*time.Second, got.PlaybackInterval)
		assert.InDelta(t, 0.8, got.VolumeEnd, 1e-9)

		a.IsEnabled = false
		a.NextFireAt = nil
		require.NoError(t, st.UpsertAlarm(ctx, a))
		list, err := st.ListAlarms(ctx)
		require.NoError(t, err)
		require.Len(t, list, 1)
		assert.False(t, list[0].IsEnabled)
		assert.Nil(t, list[0].NextFireAt)

		require.NoError(t, st.DeleteAlarm(ctx, "a1"))
		assert.ErrorIs(t, st.DeleteAlarm(ctx, "a1"), ErrNotFound)
	})

	t.Run("sounds", func(t *testing.T) {
		require.NoError(t, st.UpsertSound(ctx, SoundDocument{ID: "s1", Name: "Birds", MediaSourceURI: "media-source://birds", IsDefault: true}))
		require.NoError(t, st.UpsertSound(ctx, SoundDocument{ID: "s2", Name: "Bells", MediaSourceURI: "media-source://bells"}))

		require.NoError(t, st.SetDefaultSound(ctx, "s2"))
		sounds, err := st.ListSounds(ctx)
		require.NoError(t, err)
		require.Len(t, sounds, 2)
		defaults := 0
		for _, s := range sounds {
			if s.IsDefault {
				defaults++
				assert.Equal(t, "s2", s.ID)
			}
		}
		assert.Equal(t, 1, defaults)

		assert.ErrorIs(t, st.SetDefaultSound(ctx, "nope"), ErrNotFound)
		require.NoError(t, st.DeleteSound(ctx, "s1"))
		_, err = st.GetSound(ctx, "s1")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestMemoryStore(t *testing.T) {
	t.Parallel()
	runStoreSuite(t, NewMemory())
}

func TestSQLiteStore(t *testing.T) {
	t.Parallel()
	st, err := Open(Config{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "chime.db")}, logx.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	runStoreSuite(t, st)
}

func TestFileStore(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "state.json")
	st, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	require.NoError(t, err)
	runStoreSuite(t, st)
	require.NoError(t, st.Close())
}

func TestFileStoreReplaysJournal(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state.json")

	st, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	require.NoError(t, err)
	require.NoError(t, st.Upsert(ctx, TaskDocument{ID: "a", Kind: "timer", Status: StatusPending, FireAt: time.Now()}))
	require.NoError(t, st.Upsert(ctx, TaskDocument{ID: "b", Kind: "timer", Status: StatusPending, FireAt: time.Now()}))
	require.NoError(t, st.UpdateStatus(ctx, "b", "cancelled", ""))
	require.NoError(t, st.UpsertSound(ctx, SoundDocument{ID: "s", Name: "Chime", MediaSourceURI: "x"}))
	require.NoError(t, st.SetDefaultSound(ctx, "s"))

	// Simulate a crash: drop the handle without compacting.
	fs := st.(*fileStore)
	require.NoError(t, fs.journal.Close())

	re, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = re.Close() })

	pending, err := re.GetPending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "a", pending[0].ID)

	snd, err := re.GetSound(ctx, "s")
	require.NoError(t, err)
	assert.True(t, snd.IsDefault)
}

func TestFileStoreSkipsCorruptLines(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	journal := filepath.Join(dir, "state.journal.jsonl")
	require.NoError(t, os.WriteFile(journal, []byte("{not json\n"+`{"op":"task","task":{"id":"ok","kind":"timer","status":"pending"}}`+"\n"), 0o600))

	st, err := Open(Config{Driver: "file", Path: filepath.Join(dir, "state.json")}, logx.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	pending, err := st.GetPending(context.Background())
	require.NoError(t, err)
	require.Len(t, pending, 1)
}

func TestFileStorePrunesTerminalOnCompact(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state.json")
	st, err := Open(Config{Driver: "file", Path: path, TerminalRetention: time.Hour}, logx.Nop())
	require.NoError(t, err)
	fs := st.(*fileStore)
	old := time.Now().Add(-2 * time.Hour)
	require.NoError(t, st.Upsert(ctx, TaskDocument{ID: "old", Status: "completed", CreatedAt: old, UpdatedAt: old}))
	require.NoError(t, st.Upsert(ctx, TaskDocument{ID: "live", Status: StatusPending}))
	require.NoError(t, st.Close())

	_, err = fs.GetTask(ctx, "old")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = fs.GetTask(ctx, "live")
	assert.NoError(t, err)
}

func TestOpenDisabledAndUnknown(t *testing.T) {
	t.Parallel()
	st, err := Open(Config{}, logx.Nop())
	assert.NoError(t, err)
	assert.Nil(t, st)

	_, err = Open(Config{Driver: "mongo"}, logx.Nop())
	assert.Error(t, err)
}

func TestPostgresStore(t *testing.T) {
	dsn := os.Getenv("CHIME_TEST_POSTGRES")
	if dsn == "" {
		t.Skip("CHIME_TEST_POSTGRES not set")
	}
	st, err := Open(Config{Driver: "postgres", DSN: dsn}, logx.Nop())
	require.NoError(t, err)
	t.Cleanup(func() {
		s := st.(*sqlStore)
		_, _ = s.db.Exec(`DELETE FROM tasks; DELETE FROM alarm_clocks; DELETE FROM alarm_sounds`)
		_ = st.Close()
	})
	runStoreSuite(t, st)
}

func TestRedisStore(t *testing.T) {
	addr := os.Getenv("CHIME_TEST_REDIS")
	if addr == "" {
		t.Skip("CHIME_TEST_REDIS not set")
	}
	prefix := "chime-test-" + time.Now().Format("150405.000000")
	st, err := Open(Config{Driver: "redis", Redis: RedisConfig{Addr: addr, Prefix: prefix}}, logx.Nop())
	require.NoError(t, err)
	t.Cleanup(func() {
		s := st.(*redisStore)
		ctx := context.Background()
		s.rdb.Del(ctx, s.key("tasks"), s.key("tasks", "pending"), s.key("alarms"), s.key("sounds"))
		_ = st.Close()
	})
	runStoreSuite(t, st)
}
