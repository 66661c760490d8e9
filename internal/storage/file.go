package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	"chime/pkg/logx"
)

// fileStore journals every mutation of a memStore.
//
// Files:
//   - <prefix>.snapshot.json (periodic snapshot)
//   - <prefix>.journal.jsonl (append-only journal since the snapshot)
//
// The journal is compacted into the snapshot every compactEvery writes.
type fileStore struct {
	*memStore
	log logx.Logger

	snapshotPath string
	journal      *os.File
	writes       int
	compactEvery int
	retention    time.Duration
}

type journalOp string

const (
	opTask         journalOp = "task"
	opStatus       journalOp = "status"
	opAlarm        journalOp = "alarm"
	opAlarmDelete  journalOp = "alarm_delete"
	opSound        journalOp = "sound"
	opSoundDelete  journalOp = "sound_delete"
	opSoundDefault journalOp = "sound_default"
)

type journalRecord struct {
	Op     journalOp      `json:"op"`
	At     time.Time      `json:"at"`
	ID     string         `json:"id,omitempty"`
	Status string         `json:"status,omitempty"`
	Error  string         `json:"error,omitempty"`
	Task   *TaskDocument  `json:"task,omitempty"`
	Alarm  *AlarmDocument `json:"alarm,omitempty"`
	Sound  *SoundDocument `json:"sound,omitempty"`
}

type fileSnapshot struct {
	Tasks  []TaskDocument  `json:"tasks"`
	Alarms []AlarmDocument `json:"alarms"`
	Sounds []SoundDocument `json:"sounds"`
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}

	dir := filepath.Dir(path)
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	prefix := filepath.Join(dir, base)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	snapPath := prefix + ".snapshot.json"
	journalPath := prefix + ".journal.jsonl"

	mem := newMemStore()
	if err := loadSnapshot(snapPath, mem); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn("storage snapshot unreadable", logx.String("path", snapPath), logx.Err(err))
	}
	skipped, err := replayJournal(journalPath, mem)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	if skipped > 0 {
		log.Warn("storage journal had unreadable lines", logx.Int("skipped", skipped))
	}

	jf, err := os.OpenFile(journalPath, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		return nil, err
	}
	return &fileStore{
		memStore:     mem,
		log:          log,
		snapshotPath: snapPath,
		journal:      jf,
		compactEvery: 1000,
		retention:    cfg.TerminalRetention,
	}, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return nil
	}
	err := s.compactLocked()
	if cerr := s.journal.Close(); err == nil {
		err = cerr
	}
	s.journal = nil
	return err
}

func (s *fileStore) Upsert(_ context.Context, d TaskDocument) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.upsertLocked(d)
	d = s.tasks[d.ID]
	return s.appendLocked(journalRecord{Op: opTask, Task: &d})
}

func (s *fileStore) UpdateStatus(_ context.Context, id, status, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	at := s.now().UTC()
	if err := s.updateStatusLocked(id, status, errMsg, at); err != nil {
		return err
	}
	return s.appendLocked(journalRecord{Op: opStatus, At: at, ID: id, Status: status, Error: errMsg})
}

func (s *fileStore) UpsertAlarm(_ context.Context, a AlarmDocument) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.upsertAlarmLocked(a)
	a = s.alarms[a.ID]
	return s.appendLocked(journalRecord{Op: opAlarm, Alarm: &a})
}

func (s *fileStore) DeleteAlarm(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.alarms[id]; !ok {
		return ErrNotFound
	}
	delete(s.alarms, id)
	return s.appendLocked(journalRecord{Op: opAlarmDelete, ID: id})
}

func (s *fileStore) UpsertSound(_ context.Context, snd SoundDocument) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.upsertSoundLocked(snd)
	snd = s.sounds[snd.ID]
	return s.appendLocked(journalRecord{Op: opSound, Sound: &snd})
}

func (s *fileStore) DeleteSound(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sounds[id]; !ok {
		return ErrNotFound
	}
	delete(s.sounds, id)
	return s.appendLocked(journalRecord{Op: opSoundDelete, ID: id})
}

func (s *fileStore) SetDefaultSound(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.setDefaultLocked(id); err != nil {
		return err
	}
	return s.appendLocked(journalRecord{Op: opSoundDefault, ID: id})
}

func (s *fileStore) appendLocked(r journalRecord) error {
	if s.journal == nil {
		return errors.New("storage journal closed")
	}
	if err := json.NewEncoder(s.journal).Encode(r); err != nil {
		return err
	}
	s.writes++
	if s.writes%s.compactEvery == 0 {
		if err := s.compactLocked(); err != nil {
			s.log.Debug("journal compact failed", logx.Err(err))
		}
	}
	return nil
}

func (s *fileStore) compactLocked() error {
	if s.retention > 0 {
		if n := s.pruneTerminalLocked(s.now().Add(-s.retention)); n > 0 {
			s.log.Debug("pruned terminal tasks", logx.Int("count", n))
		}
	}

	snap := fileSnapshot{}
	for _, d := range s.tasks {
		snap.Tasks = append(snap.Tasks, d)
	}
	for _, a := range s.alarms {
		snap.Alarms = append(snap.Alarms, a)
	}
	for _, snd := range s.sounds {
		snap.Sounds = append(snap.Sounds, snd)
	}

	tmp := s.snapshotPath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(f).Encode(snap); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.snapshotPath); err != nil {
		return err
	}
	if err := s.journal.Truncate(0); err != nil {
		return err
	}
	_, err = s.journal.Seek(0, 2)
	return err
}

func loadSnapshot(path string, m *memStore) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	var snap fileSnapshot
	if err := json.NewDecoder(f).Decode(&snap); err != nil {
		return err
	}
	for _, d := range snap.Tasks {
		m.tasks[d.ID] = d
	}
	for _, a := range snap.Alarms {
		m.alarms[a.ID] = a
	}
	for _, snd := range snap.Sounds {
		m.sounds[snd.ID] = snd
	}
	return nil
}

// replayJournal applies journal records in order and reports how many lines
// could not be decoded.
func replayJournal(path string, m *memStore) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	skipped := 0
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for sc.Scan() {
		var r journalRecord
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil {
			skipped++
			continue
		}
		switch r.Op {
		case opTask:
			if r.Task != nil {
				m.tasks[r.Task.ID] = *r.Task
			}
		case opStatus:
			_ = m.updateStatusLocked(r.ID, r.Status, r.Error, r.At)
		case opAlarm:
			if r.Alarm != nil {
				m.alarms[r.Alarm.ID] = *r.Alarm
			}
		case opAlarmDelete:
			delete(m.alarms, r.ID)
		case opSound:
			if r.Sound != nil {
				m.upsertSoundLocked(*r.Sound)
			}
		case opSoundDelete:
			delete(m.sounds, r.ID)
		case opSoundDefault:
			_ = m.setDefaultLocked(r.ID)
		default:
			skipped++
		}
	}
	return skipped, sc.Err()
}
