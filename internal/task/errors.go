package task

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrInvalid  = errors.New("invalid task")
	ErrNotFound = errors.New("task not found")
)

// MaxDelay bounds relative delays (timers, deferred actions, snoozes).
const MaxDelay = 366 * 24 * time.Hour

// Delay converts n units into a duration, rejecting values that are not
// positive or would pass MaxDelay. n is checked before multiplying so
// large inputs cannot wrap into the past.
func Delay(n int, unit time.Duration) (time.Duration, error) {
	if n <= 0 {
		return 0, fmt.Errorf("%w: delay must be positive", ErrInvalid)
	}
	if unit <= 0 || int64(n) > int64(MaxDelay/unit) {
		return 0, fmt.Errorf("%w: delay is longer than %d days", ErrInvalid, int(MaxDelay/(24*time.Hour)))
	}
	return time.Duration(n) * unit, nil
}
