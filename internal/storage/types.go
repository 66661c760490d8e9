package storage

import (
	"context"
	"errors"
	"time"
)

var (
	ErrDisabled = errors.New("storage disabled")
	ErrNotFound = errors.New("record not found")
)

// Config configures storage.
//
// Driver values:
//   - "memory": process-local maps (tests, ephemeral runs)
//   - "file": JSONL journal + snapshot, no external service
//   - "sqlite": SQLite database file (modernc, pure Go)
//   - "postgres": PostgreSQL via DSN
//   - "redis": Redis hashes
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string        // file, sqlite
	DSN         string        // postgres
	BusyTimeout time.Duration // sqlite only; 0 means default

	Redis RedisConfig

	// TerminalRetention prunes terminal task documents older than this.
	// 0 keeps them forever.
	TerminalRetention time.Duration
}

type RedisConfig struct {
	Addr     string
	Username string
	Password string
	DB       int
	Prefix   string
}

// Statuses that GetPending returns. Everything else is terminal.
const (
	StatusPending = "pending"
	StatusRunning = "running"
)

// TaskDocument is the persisted form of a scheduled task.
// Payload is the kind-specific JSON body.
type TaskDocument struct {
	ID            string    `json:"id"`
	CorrelationID string    `json:"correlation_id"`
	Label         string    `json:"label"`
	Kind          string    `json:"kind"`
	FireAt        time.Time `json:"fire_at"`
	Status        string    `json:"status"`
	Payload       []byte    `json:"payload"`
	Error         string    `json:"error,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

func (d TaskDocument) Pending() bool {
	return d.Status == StatusPending || d.Status == StatusRunning
}

// AlarmDocument is the persisted alarm clock definition.
type AlarmDocument struct {
	ID                 string        `json:"id"`
	Name               string        `json:"name"`
	TargetEntity       string        `json:"target_entity"`
	AlarmSoundID       string        `json:"alarm_sound_id,omitempty"`
	CronSchedule       string        `json:"cron_schedule,omitempty"`
	NextFireAt         *time.Time    `json:"next_fire_at,omitempty"`
	PlaybackInterval   time.Duration `json:"playback_interval"`
	AutoDismissAfter   time.Duration `json:"auto_dismiss_after"`
	IsEnabled          bool          `json:"is_enabled"`
	VolumeStart        float64       `json:"volume_start"`
	VolumeEnd          float64       `json:"volume_end"`
	VolumeRampDuration time.Duration `json:"volume_ramp_duration"`
	LastDismissedAt    *time.Time    `json:"last_dismissed_at,omitempty"`
	CreatedAt          time.Time     `json:"created_at"`
	UpdatedAt          time.Time     `json:"updated_at"`
}

type SoundDocument struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	MediaSourceURI string    `json:"media_source_uri"`
	Uploaded       bool      `json:"uploaded"`
	IsDefault      bool      `json:"is_default"`
	CreatedAt      time.Time `json:"created_at"`
}

// TaskStore persists task documents keyed by id.
type TaskStore interface {
	Upsert(ctx context.Context, d TaskDocument) error
	// UpdateStatus returns ErrNotFound for an unknown id.
	UpdateStatus(ctx context.Context, id, status, errMsg string) error
	GetTask(ctx context.Context, id string) (TaskDocument, error)
	// GetPending returns documents whose status is pending or running.
	GetPending(ctx context.Context) ([]TaskDocument, error)
}

// AlarmStore persists alarm clocks and alarm sounds.
type AlarmStore interface {
	UpsertAlarm(ctx context.Context, a AlarmDocument) error
	GetAlarm(ctx context.Context, id string) (AlarmDocument, error)
	ListAlarms(ctx context.Context) ([]AlarmDocument, error)
	DeleteAlarm(ctx context.Context, id string) error

	UpsertSound(ctx context.Context, s SoundDocument) error
	GetSound(ctx context.Context, id string) (SoundDocument, error)
	ListSounds(ctx context.Context) ([]SoundDocument, error)
	DeleteSound(ctx context.Context, id string) error
	// SetDefaultSound marks id as the only default sound.
	SetDefaultSound(ctx context.Context, id string) error
}

type Store interface {
	TaskStore
	AlarmStore
	Close() error
}
