package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"chime/pkg/logx"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

func init() {
	// modernc registers itself as "sqlite", which sqlx does not know.
	sqlx.BindDriver("sqlite", sqlx.QUESTION)
}

// sqlStore serves both SQLite and PostgreSQL. Queries are written with '?'
// and rebound per driver; times are stored as unix milliseconds.
type sqlStore struct {
	db        *sqlx.DB
	log       logx.Logger
	dialect   string
	retention time.Duration
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
	}

	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()))
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	return newSQLStore(db, "sqlite", cfg, log)
}

func openPostgres(cfg Config, log logx.Logger) (Store, error) {
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("postgres dsn is required")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return newSQLStore(db, "postgres", cfg, log)
}

func newSQLStore(db *sqlx.DB, dialect string, cfg Config, log logx.Logger) (*sqlStore, error) {
	s := &sqlStore{db: db, log: log, dialect: dialect, retention: cfg.TerminalRetention}
	if err := s.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate %s: %w", dialect, err)
	}
	if s.retention > 0 {
		if n, err := s.pruneTerminal(context.Background(), time.Now().Add(-s.retention)); err != nil {
			log.Warn("prune terminal tasks failed", logx.Err(err))
		} else if n > 0 {
			log.Debug("pruned terminal tasks", logx.Int64("count", n))
		}
	}
	return s, nil
}

func (s *sqlStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations/" + s.dialect + ".sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqlStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// ---- tasks ----

type taskRow struct {
	ID            string `db:"id"`
	CorrelationID string `db:"correlation_id"`
	Label         string `db:"label"`
	Kind          string `db:"kind"`
	FireAt        int64  `db:"fire_at"`
	Status        string `db:"status"`
	Payload       []byte `db:"payload"`
	Error         string `db:"error"`
	CreatedAt     int64  `db:"created_at"`
	UpdatedAt     int64  `db:"updated_at"`
}

const taskColumns = `id, correlation_id, label, kind, fire_at, status, payload, error, created_at, updated_at`

func toTaskRow(d TaskDocument) taskRow {
	return taskRow{
		ID: d.ID, CorrelationID: d.CorrelationID, Label: d.Label, Kind: d.Kind,
		FireAt: d.FireAt.UnixMilli(), Status: d.Status, Payload: d.Payload, Error: d.Error,
		CreatedAt: d.CreatedAt.UnixMilli(), UpdatedAt: d.UpdatedAt.UnixMilli(),
	}
}

func (r taskRow) document() TaskDocument {
	return TaskDocument{
		ID: r.ID, CorrelationID: r.CorrelationID, Label: r.Label, Kind: r.Kind,
		FireAt: msTime(r.FireAt), Status: r.Status, Payload: r.Payload, Error: r.Error,
		CreatedAt: msTime(r.CreatedAt), UpdatedAt: msTime(r.UpdatedAt),
	}
}

func (s *sqlStore) Upsert(ctx context.Context, d TaskDocument) error {
	now := time.Now().UTC()
	if d.CreatedAt.IsZero() {
		d.CreatedAt = now
	}
	d.UpdatedAt = now
	_, err := s.db.NamedExecContext(ctx, `
	INSERT INTO tasks (`+taskColumns+`)
	VALUES (:id, :correlation_id, :label, :kind, :fire_at, :status, :payload, :error, :created_at, :updated_at)
	ON CONFLICT (id) DO UPDATE SET
	  correlation_id = excluded.correlation_id,
	  label = excluded.label,
	  kind = excluded.kind,
	  fire_at = excluded.fire_at,
	  status = excluded.status,
	  payload = excluded.payload,
	  error = excluded.error,
	  updated_at = excluded.updated_at`, toTaskRow(d))
	return err
}

func (s *sqlStore) UpdateStatus(ctx context.Context, id, status, errMsg string) error {
	res, err := s.db.ExecContext(ctx,
		s.db.Rebind(`UPDATE tasks SET status = ?, error = ?, updated_at = ? WHERE id = ?`),
		status, errMsg, time.Now().UnixMilli(), id)
	if err != nil {
		return err
	}
	return mustAffect(res)
}

func (s *sqlStore) GetTask(ctx context.Context, id string) (TaskDocument, error) {
	var r taskRow
	err := s.db.GetContext(ctx, &r, s.db.Rebind(`SELECT `+taskColumns+` FROM tasks WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return TaskDocument{}, ErrNotFound
	}
	if err != nil {
		return TaskDocument{}, err
	}
	return r.document(), nil
}

func (s *sqlStore) GetPending(ctx context.Context) ([]TaskDocument, error) {
	var rows []taskRow
	q := s.db.Rebind(`SELECT ` + taskColumns + ` FROM tasks WHERE status IN (?, ?) ORDER BY fire_at`)
	if err := s.db.SelectContext(ctx, &rows, q, StatusPending, StatusRunning); err != nil {
		return nil, err
	}
	out := make([]TaskDocument, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.document())
	}
	return out, nil
}

func (s *sqlStore) pruneTerminal(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		s.db.Rebind(`DELETE FROM tasks WHERE status NOT IN (?, ?) AND updated_at < ?`),
		StatusPending, StatusRunning, cutoff.UnixMilli())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ---- alarms ----

type alarmRow struct {
	ID               string        `db:"id"`
	Name             string        `db:"name"`
	TargetEntity     string        `db:"target_entity"`
	AlarmSoundID     string        `db:"alarm_sound_id"`
	CronSchedule     string        `db:"cron_schedule"`
	NextFireAt       sql.NullInt64 `db:"next_fire_at"`
	PlaybackInterval int64         `db:"playback_interval_ms"`
	AutoDismiss      int64         `db:"auto_dismiss_ms"`
	IsEnabled        int64         `db:"is_enabled"`
	VolumeStart      float64       `db:"volume_start"`
	VolumeEnd        float64       `db:"volume_end"`
	VolumeRamp       int64         `db:"volume_ramp_ms"`
	LastDismissedAt  sql.NullInt64 `db:"last_dismissed_at"`
	CreatedAt        int64         `db:"created_at"`
	UpdatedAt        int64         `db:"updated_at"`
}

const alarmColumns = `id, name, target_entity, alarm_sound_id, cron_schedule, next_fire_at,
	playback_interval_ms, auto_dismiss_ms, is_enabled, volume_start, volume_end, volume_ramp_ms,
	last_dismissed_at, created_at, updated_at`

func toAlarmRow(a AlarmDocument) alarmRow {
	return alarmRow{
		ID: a.ID, Name: a.Name, TargetEntity: a.TargetEntity, AlarmSoundID: a.AlarmSoundID,
		CronSchedule: a.CronSchedule, NextFireAt: nullMs(a.NextFireAt),
		PlaybackInterval: a.PlaybackInterval.Milliseconds(), AutoDismiss: a.AutoDismissAfter.Milliseconds(),
		IsEnabled: boolInt(a.IsEnabled), VolumeStart: a.VolumeStart, VolumeEnd: a.VolumeEnd,
		VolumeRamp: a.VolumeRampDuration.Milliseconds(), LastDismissedAt: nullMs(a.LastDismissedAt),
		CreatedAt: a.CreatedAt.UnixMilli(), UpdatedAt: a.UpdatedAt.UnixMilli(),
	}
}

func (r alarmRow) document() AlarmDocument {
	return AlarmDocument{
		ID: r.ID, Name: r.Name, TargetEntity: r.TargetEntity, AlarmSoundID: r.AlarmSoundID,
		CronSchedule: r.CronSchedule, NextFireAt: msPtr(r.NextFireAt),
		PlaybackInterval:   time.Duration(r.PlaybackInterval) * time.Millisecond,
		AutoDismissAfter:   time.Duration(r.AutoDismiss) * time.Millisecond,
		IsEnabled:          r.IsEnabled != 0,
		VolumeStart:        r.VolumeStart,
		VolumeEnd:          r.VolumeEnd,
		VolumeRampDuration: time.Duration(r.VolumeRamp) * time.Millisecond,
		LastDismissedAt:    msPtr(r.LastDismissedAt),
		CreatedAt:          msTime(r.CreatedAt),
		UpdatedAt:          msTime(r.UpdatedAt),
	}
}

func (s *sqlStore) UpsertAlarm(ctx context.Context, a AlarmDocument) error {
	now := time.Now().UTC()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	a.UpdatedAt = now
	_, err := s.db.NamedExecContext(ctx, `
	INSERT INTO alarm_clocks (`+alarmColumns+`)
	VALUES (:id, :name, :target_entity, :alarm_sound_id, :cron_schedule, :next_fire_at,
	        :playback_interval_ms, :auto_dismiss_ms, :is_enabled, :volume_start, :volume_end, :volume_ramp_ms,
	        :last_dismissed_at, :created_at, :updated_at)
	ON CONFLICT (id) DO UPDATE SET
	  name = excluded.name,
	  target_entity = excluded.target_entity,
	  alarm_sound_id = excluded.alarm_sound_id,
	  cron_schedule = excluded.cron_schedule,
	  next_fire_at = excluded.next_fire_at,
	  playback_interval_ms = excluded.playback_interval_ms,
	  auto_dismiss_ms = excluded.auto_dismiss_ms,
	  is_enabled = excluded.is_enabled,
	  volume_start = excluded.volume_start,
	  volume_end = excluded.volume_end,
	  volume_ramp_ms = excluded.volume_ramp_ms,
	  last_dismissed_at = excluded.last_dismissed_at,
	  updated_at = excluded.updated_at`, toAlarmRow(a))
	return err
}

func (s *sqlStore) GetAlarm(ctx context.Context, id string) (AlarmDocument, error) {
	var r alarmRow
	err := s.db.GetContext(ctx, &r, s.db.Rebind(`SELECT `+alarmColumns+` FROM alarm_clocks WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return AlarmDocument{}, ErrNotFound
	}
	if err != nil {
		return AlarmDocument{}, err
	}
	return r.document(), nil
}

func (s *sqlStore) ListAlarms(ctx context.Context) ([]AlarmDocument, error) {
	var rows []alarmRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT `+alarmColumns+` FROM alarm_clocks ORDER BY LOWER(name)`); err != nil {
		return nil, err
	}
	out := make([]AlarmDocument, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.document())
	}
	return out, nil
}

func (s *sqlStore) DeleteAlarm(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(`DELETE FROM alarm_clocks WHERE id = ?`), id)
	if err != nil {
		return err
	}
	return mustAffect(res)
}

// ---- sounds ----

type soundRow struct {
	ID             string `db:"id"`
	Name           string `db:"name"`
	MediaSourceURI string `db:"media_source_uri"`
	Uploaded       int64  `db:"uploaded"`
	IsDefault      int64  `db:"is_default"`
	CreatedAt      int64  `db:"created_at"`
}

const soundColumns = `id, name, media_source_uri, uploaded, is_default, created_at`

func (r soundRow) document() SoundDocument {
	return SoundDocument{
		ID: r.ID, Name: r.Name, MediaSourceURI: r.MediaSourceURI,
		Uploaded: r.Uploaded != 0, IsDefault: r.IsDefault != 0,
		CreatedAt: msTime(r.CreatedAt),
	}
}

func (s *sqlStore) UpsertSound(ctx context.Context, snd SoundDocument) error {
	if snd.CreatedAt.IsZero() {
		snd.CreatedAt = time.Now().UTC()
	}
	row := soundRow{
		ID: snd.ID, Name: snd.Name, MediaSourceURI: snd.MediaSourceURI,
		Uploaded: boolInt(snd.Uploaded), IsDefault: boolInt(snd.IsDefault),
		CreatedAt: snd.CreatedAt.UnixMilli(),
	}
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if snd.IsDefault {
		if _, err := tx.ExecContext(ctx, tx.Rebind(`UPDATE alarm_sounds SET is_default = 0 WHERE id <> ?`), snd.ID); err != nil {
			return err
		}
	}
	if _, err := tx.NamedExecContext(ctx, `
	INSERT INTO alarm_sounds (`+soundColumns+`)
	VALUES (:id, :name, :media_source_uri, :uploaded, :is_default, :created_at)
	ON CONFLICT (id) DO UPDATE SET
	  name = excluded.name,
	  media_source_uri = excluded.media_source_uri,
	  uploaded = excluded.uploaded,
	  is_default = excluded.is_default`, row); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *sqlStore) GetSound(ctx context.Context, id string) (SoundDocument, error) {
	var r soundRow
	err := s.db.GetContext(ctx, &r, s.db.Rebind(`SELECT `+soundColumns+` FROM alarm_sounds WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return SoundDocument{}, ErrNotFound
	}
	if err != nil {
		return SoundDocument{}, err
	}
	return r.document(), nil
}

func (s *sqlStore) ListSounds(ctx context.Context) ([]SoundDocument, error) {
	var rows []soundRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT `+soundColumns+` FROM alarm_sounds ORDER BY LOWER(name)`); err != nil {
		return nil, err
	}
	out := make([]SoundDocument, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.document())
	}
	return out, nil
}

func (s *sqlStore) DeleteSound(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(`DELETE FROM alarm_sounds WHERE id = ?`), id)
	if err != nil {
		return err
	}
	return mustAffect(res)
}

func (s *sqlStore) SetDefaultSound(ctx context.Context, id string) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, tx.Rebind(`UPDATE alarm_sounds SET is_default = 1 WHERE id = ?`), id)
	if err != nil {
		return err
	}
	if err := mustAffect(res); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, tx.Rebind(`UPDATE alarm_sounds SET is_default = 0 WHERE id <> ?`), id); err != nil {
		return err
	}
	return tx.Commit()
}

// ---- helpers ----

func mustAffect(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func msTime(ms int64) time.Time { return time.UnixMilli(ms).UTC() }

func msPtr(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := msTime(v.Int64)
	return &t
}

func nullMs(t *time.Time) sql.NullInt64 {
	if t == nil || t.IsZero() {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
}

func boolInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}
