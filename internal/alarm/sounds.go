package alarm

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"

	"chime/pkg/logx"
)

// AddSound registers a playable media URI. Names are unique ignoring case.
func (s *Service) AddSound(ctx context.Context, name, mediaURI string, uploaded, makeDefault bool) (Sound, error) {
	name = strings.TrimSpace(name)
	mediaURI = strings.TrimSpace(mediaURI)
	if name == "" || mediaURI == "" {
		return Sound{}, fmt.Errorf("%w: sound needs a name and a media uri", ErrInvalid)
	}
	defer s.locks.Lock("sounds")()
	if _, dup := s.sound(name); dup {
		return Sound{}, fmt.Errorf("%w: sound %q", ErrDuplicate, name)
	}

	snd := Sound{
		ID:             uuid.NewString(),
		Name:           name,
		MediaSourceURI: mediaURI,
		Uploaded:       uploaded,
		IsDefault:      makeDefault,
		CreatedAt:      s.now().UTC(),
	}
	s.mu.Lock()
	if makeDefault {
		s.clearDefaultLocked()
	}
	s.sounds[snd.ID] = snd
	s.mu.Unlock()

	if s.store != nil {
		if err := s.store.UpsertSound(ctx, snd.document()); err != nil {
			s.log.Warn("persist sound failed", logx.String("sound", snd.ID), logx.Err(err))
		}
	}
	return snd, nil
}

func (s *Service) ListSounds() []Sound {
	s.mu.RLock()
	out := make([]Sound, 0, len(s.sounds))
	for _, snd := range s.sounds {
		out = append(out, snd)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return strings.ToLower(out[i].Name) < strings.ToLower(out[j].Name) })
	return out
}

// FindSound resolves an id or a case-insensitive name.
func (s *Service) FindSound(idOrName string) (Sound, bool) { return s.sound(idOrName) }

func (s *Service) sound(idOrName string) (Sound, bool) {
	key := strings.TrimSpace(idOrName)
	s.mu.RLock()
	defer s.mu.RUnlock()
	if snd, ok := s.sounds[key]; ok {
		return snd, true
	}
	for _, snd := range s.sounds {
		if strings.EqualFold(snd.Name, key) {
			return snd, true
		}
	}
	return Sound{}, false
}

// SetDefaultSound makes one sound the default and clears every other.
func (s *Service) SetDefaultSound(ctx context.Context, idOrName string) (Sound, error) {
	defer s.locks.Lock("sounds")()
	snd, ok := s.sound(idOrName)
	if !ok {
		return Sound{}, fmt.Errorf("%w: sound %s", ErrNotFound, idOrName)
	}
	s.mu.Lock()
	s.clearDefaultLocked()
	snd.IsDefault = true
	s.sounds[snd.ID] = snd
	s.mu.Unlock()

	if s.store != nil {
		if err := s.store.SetDefaultSound(ctx, snd.ID); err != nil {
			s.log.Warn("persist default sound failed", logx.String("sound", snd.ID), logx.Err(err))
		}
	}
	return snd, nil
}

func (s *Service) clearDefaultLocked() {
	for id, other := range s.sounds {
		if other.IsDefault {
			other.IsDefault = false
			s.sounds[id] = other
		}
	}
}

// SoundRemoval reports what DeleteSound changed.
type SoundRemoval struct {
	Sound Sound
	// ClearedAlarms lists alarms that referenced the sound and now fall
	// back to the default sound.
	ClearedAlarms []string
	// CleanupRequired is set for uploaded sounds whose media file must be
	// removed from the hub's media library.
	CleanupRequired bool
}

func (s *Service) DeleteSound(ctx context.Context, idOrName string) (SoundRemoval, error) {
	unlock := s.locks.Lock("sounds")
	snd, ok := s.sound(idOrName)
	if !ok {
		unlock()
		return SoundRemoval{}, fmt.Errorf("%w: sound %s", ErrNotFound, idOrName)
	}
	s.mu.Lock()
	delete(s.sounds, snd.ID)
	var refs []string
	for _, c := range s.clocks {
		if c.AlarmSoundID == snd.ID {
			refs = append(refs, c.ID)
		}
	}
	s.mu.Unlock()
	if s.store != nil {
		if err := s.store.DeleteSound(ctx, snd.ID); err != nil {
			s.log.Warn("delete sound failed", logx.String("sound", snd.ID), logx.Err(err))
		}
	}
	unlock()

	sort.Strings(refs)
	for _, id := range refs {
		s.clearSoundRef(ctx, id, snd.ID)
	}
	res := SoundRemoval{Sound: snd, ClearedAlarms: refs, CleanupRequired: snd.Uploaded}
	s.log.Info("sound deleted", logx.String("sound", snd.ID), logx.Int("alarms", len(refs)), logx.Bool("cleanup", res.CleanupRequired))
	return res, nil
}

// clearSoundRef drops the sound from one alarm and re-issues its pending
// task so the next ring uses the fallback sound. A ringing alarm keeps
// playing until it ends.
func (s *Service) clearSoundRef(ctx context.Context, alarmID, soundID string) {
	defer s.locks.Lock(alarmID)()
	c, ok := s.Get(alarmID)
	if !ok || c.AlarmSoundID != soundID {
		return
	}
	c.AlarmSoundID = ""
	c = s.saveClock(ctx, c)
	if _, pending := s.sched.ActiveAlarmTask(alarmID); pending && !s.sched.IsRinging(alarmID) {
		if err := s.schedule(ctx, c); err != nil {
			s.log.Warn("reschedule after sound removal failed", logx.String("alarm", alarmID), logx.Err(err))
		}
	}
}
