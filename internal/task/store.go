package task

import (
	"sync"
	"time"
)

// Store is the in-memory set of pending tasks keyed by id.
//
// Add is an upsert. TryRemove and TakeDue are atomic: a task removed by one
// caller is never observed by another, which is how the scheduler and a
// concurrent cancel agree on who owns a task.
type Store struct {
	mu    sync.Mutex
	tasks map[string]ScheduledTask
}

func NewStore() *Store {
	return &Store{tasks: map[string]ScheduledTask{}}
}

func (s *Store) Add(t ScheduledTask) {
	s.mu.Lock()
	s.tasks[t.ID] = t
	s.mu.Unlock()
}

// AddIfAbsent inserts t unless a task with the same id is present.
func (s *Store) AddIfAbsent(t ScheduledTask) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[t.ID]; ok {
		return false
	}
	s.tasks[t.ID] = t
	return true
}

func (s *Store) TryRemove(id string) (ScheduledTask, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if ok {
		delete(s.tasks, id)
	}
	return t, ok
}

func (s *Store) Get(id string) (ScheduledTask, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	return t, ok
}

func (s *Store) Has(id string) bool {
	_, ok := s.Get(id)
	return ok
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}

// GetByKind returns a snapshot of tasks of kind k, ordered by FireAt.
func (s *Store) GetByKind(k Kind) []ScheduledTask {
	return s.filter(func(t ScheduledTask) bool { return t.Kind == k })
}

func (s *Store) GetAll() []ScheduledTask {
	return s.filter(func(ScheduledTask) bool { return true })
}

// FindAlarm returns pending tasks owned by the given alarm clock.
func (s *Store) FindAlarm(alarmClockID string) []ScheduledTask {
	return s.filter(func(t ScheduledTask) bool { return t.AlarmClockID() == alarmClockID })
}

// TakeDue removes and returns every task with FireAt <= now.
func (s *Store) TakeDue(now time.Time) []ScheduledTask {
	s.mu.Lock()
	var out []ScheduledTask
	for id, t := range s.tasks {
		if t.Due(now) {
			out = append(out, t)
			delete(s.tasks, id)
		}
	}
	s.mu.Unlock()
	SortByFireAt(out)
	return out
}

// NextFireAt returns the earliest pending fire time.
func (s *Store) NextFireAt() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var next time.Time
	for _, t := range s.tasks {
		if next.IsZero() || t.FireAt.Before(next) {
			next = t.FireAt
		}
	}
	return next, !next.IsZero()
}

func (s *Store) filter(keep func(ScheduledTask) bool) []ScheduledTask {
	s.mu.Lock()
	out := make([]ScheduledTask, 0, len(s.tasks))
	for _, t := range s.tasks {
		if keep(t) {
			out = append(out, t)
		}
	}
	s.mu.Unlock()
	SortByFireAt(out)
	return out
}
