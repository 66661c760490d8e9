package storage

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// memStore keeps documents in maps. It backs the "memory" driver and is the
// state the file driver journals.
type memStore struct {
	mu     sync.RWMutex
	tasks  map[string]TaskDocument
	alarms map[string]AlarmDocument
	sounds map[string]SoundDocument

	now func() time.Time
}

func NewMemory() Store { return newMemStore() }

func newMemStore() *memStore {
	return &memStore{
		tasks:  map[string]TaskDocument{},
		alarms: map[string]AlarmDocument{},
		sounds: map[string]SoundDocument{},
		now:    time.Now,
	}
}

func (m *memStore) Close() error { return nil }

func (m *memStore) Upsert(_ context.Context, d TaskDocument) error {
	m.mu.Lock()
	m.upsertLocked(d)
	m.mu.Unlock()
	return nil
}

func (m *memStore) upsertLocked(d TaskDocument) {
	now := m.now().UTC()
	if prev, ok := m.tasks[d.ID]; ok && d.CreatedAt.IsZero() {
		d.CreatedAt = prev.CreatedAt
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = now
	}
	if d.UpdatedAt.IsZero() {
		d.UpdatedAt = now
	}
	d.Payload = append([]byte(nil), d.Payload...)
	m.tasks[d.ID] = d
}

func (m *memStore) UpdateStatus(_ context.Context, id, status, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updateStatusLocked(id, status, errMsg, m.now().UTC())
}

func (m *memStore) updateStatusLocked(id, status, errMsg string, at time.Time) error {
	d, ok := m.tasks[id]
	if !ok {
		return ErrNotFound
	}
	d.Status = status
	d.Error = errMsg
	d.UpdatedAt = at
	m.tasks[id] = d
	return nil
}

func (m *memStore) GetTask(_ context.Context, id string) (TaskDocument, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.tasks[id]
	if !ok {
		return TaskDocument{}, ErrNotFound
	}
	d.Payload = append([]byte(nil), d.Payload...)
	return d, nil
}

func (m *memStore) GetPending(_ context.Context) ([]TaskDocument, error) {
	m.mu.RLock()
	out := make([]TaskDocument, 0, len(m.tasks))
	for _, d := range m.tasks {
		if d.Pending() {
			d.Payload = append([]byte(nil), d.Payload...)
			out = append(out, d)
		}
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].FireAt.Before(out[j].FireAt) })
	return out, nil
}

// pruneTerminalLocked drops terminal task documents last updated before cutoff.
func (m *memStore) pruneTerminalLocked(cutoff time.Time) int {
	n := 0
	for id, d := range m.tasks {
		if !d.Pending() && d.UpdatedAt.Before(cutoff) {
			delete(m.tasks, id)
			n++
		}
	}
	return n
}

func (m *memStore) UpsertAlarm(_ context.Context, a AlarmDocument) error {
	m.mu.Lock()
	m.upsertAlarmLocked(a)
	m.mu.Unlock()
	return nil
}

func (m *memStore) upsertAlarmLocked(a AlarmDocument) {
	now := m.now().UTC()
	if prev, ok := m.alarms[a.ID]; ok && a.CreatedAt.IsZero() {
		a.CreatedAt = prev.CreatedAt
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	a.UpdatedAt = now
	m.alarms[a.ID] = a
}

func (m *memStore) GetAlarm(_ context.Context, id string) (AlarmDocument, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.alarms[id]
	if !ok {
		return AlarmDocument{}, ErrNotFound
	}
	return a, nil
}

func (m *memStore) ListAlarms(_ context.Context) ([]AlarmDocument, error) {
	m.mu.RLock()
	out := make([]AlarmDocument, 0, len(m.alarms))
	for _, a := range m.alarms {
		out = append(out, a)
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return strings.ToLower(out[i].Name) < strings.ToLower(out[j].Name) })
	return out, nil
}

func (m *memStore) DeleteAlarm(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.alarms[id]; !ok {
		return ErrNotFound
	}
	delete(m.alarms, id)
	return nil
}

func (m *memStore) UpsertSound(_ context.Context, s SoundDocument) error {
	m.mu.Lock()
	m.upsertSoundLocked(s)
	m.mu.Unlock()
	return nil
}

func (m *memStore) upsertSoundLocked(s SoundDocument) {
	if prev, ok := m.sounds[s.ID]; ok && s.CreatedAt.IsZero() {
		s.CreatedAt = prev.CreatedAt
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = m.now().UTC()
	}
	if s.IsDefault {
		for id, o := range m.sounds {
			if id != s.ID && o.IsDefault {
				o.IsDefault = false
				m.sounds[id] = o
			}
		}
	}
	m.sounds[s.ID] = s
}

func (m *memStore) GetSound(_ context.Context, id string) (SoundDocument, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sounds[id]
	if !ok {
		return SoundDocument{}, ErrNotFound
	}
	return s, nil
}

func (m *memStore) ListSounds(_ context.Context) ([]SoundDocument, error) {
	m.mu.RLock()
	out := make([]SoundDocument, 0, len(m.sounds))
	for _, s := range m.sounds {
		out = append(out, s)
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return strings.ToLower(out[i].Name) < strings.ToLower(out[j].Name) })
	return out, nil
}

func (m *memStore) DeleteSound(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sounds[id]; !ok {
		return ErrNotFound
	}
	delete(m.sounds, id)
	return nil
}

func (m *memStore) SetDefaultSound(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.setDefaultLocked(id)
}

func (m *memStore) setDefaultLocked(id string) error {
	if _, ok := m.sounds[id]; !ok {
		return ErrNotFound
	}
	for sid, s := range m.sounds {
		s.IsDefault = sid == id
		m.sounds[sid] = s
	}
	return nil
}
