package task

import (
	"encoding/json"
	"fmt"

	"chime/internal/storage"
)

// ToDocument converts t into its persisted form with the given status.
func ToDocument(t ScheduledTask, status Status) (storage.TaskDocument, error) {
	var payload any
	switch t.Kind {
	case KindTimer:
		payload = t.Timer
	case KindAlarm:
		payload = t.Alarm
	case KindDeferredAction:
		payload = t.Action
	default:
		return storage.TaskDocument{}, fmt.Errorf("%w: unknown kind %q", ErrInvalid, t.Kind)
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return storage.TaskDocument{}, err
	}
	return storage.TaskDocument{
		ID:            t.ID,
		CorrelationID: t.CorrelationID,
		Label:         t.Label,
		Kind:          string(t.Kind),
		FireAt:        t.FireAt.UTC(),
		Status:        string(status),
		Payload:       b,
		CreatedAt:     t.CreatedAt,
	}, nil
}

// FromDocument rebuilds a task from a persisted document. The result is
// validated; a document with a mismatched or corrupt payload is an error.
func FromDocument(d storage.TaskDocument) (ScheduledTask, error) {
	t := ScheduledTask{
		ID:            d.ID,
		CorrelationID: d.CorrelationID,
		Label:         d.Label,
		FireAt:        d.FireAt.UTC(),
		Kind:          Kind(d.Kind),
		CreatedAt:     d.CreatedAt,
	}
	var target any
	switch t.Kind {
	case KindTimer:
		t.Timer = &TimerPayload{}
		target = t.Timer
	case KindAlarm:
		t.Alarm = &AlarmPayload{}
		target = t.Alarm
	case KindDeferredAction:
		t.Action = &DeferredActionPayload{}
		target = t.Action
	default:
		return ScheduledTask{}, fmt.Errorf("%w: unknown kind %q", ErrInvalid, d.Kind)
	}
	if len(d.Payload) == 0 {
		return ScheduledTask{}, fmt.Errorf("%w: task %s has no payload", ErrInvalid, d.ID)
	}
	if err := json.Unmarshal(d.Payload, target); err != nil {
		return ScheduledTask{}, fmt.Errorf("%w: task %s payload: %v", ErrInvalid, d.ID, err)
	}
	if err := t.Validate(); err != nil {
		return ScheduledTask{}, err
	}
	return t, nil
}
