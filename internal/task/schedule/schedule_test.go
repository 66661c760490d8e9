package schedule

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsValid(t *testing.T) {
	t.Parallel()
	c := New(time.UTC)
	tests := []struct {
		expr string
		ok   bool
	}{
		{"0 7 * * 1-5", true},
		{"*/5 * * * *", true},
		{"0 0 29 2 *", true},
		{"30 6 * * sat,sun", true},
		{"0 0 30 2 *", false},
		{"0 0 31 4 *", false},
		{"@daily", false},
		{"0 0 7 * * *", false},
		{"0 7 * *", false},
		{"CRON_TZ=UTC 0 7 * * *", false},
		{"61 * * * *", false},
		{"", false},
		{"hello world foo bar baz", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.ok, c.IsValid(tt.expr), tt.expr)
	}
}

func TestComputeNextFireAtStrictlyAfter(t *testing.T) {
	t.Parallel()
	c := New(time.UTC)
	exprs := []string{"* * * * *", "0 7 * * 1-5", "*/5 * * * *", "0 0 1 1 *", "0 0 29 2 *", "15 10 * * 0"}
	starts := []time.Time{
		time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2030, 1, 1, 7, 0, 0, 0, time.UTC),
		time.Date(2030, 6, 15, 23, 59, 59, 999, time.UTC),
		time.Date(2031, 12, 31, 23, 59, 0, 0, time.UTC),
	}
	for _, e := range exprs {
		for _, at := range starts {
			next, err := c.ComputeNextFireAt(e, at)
			require.NoError(t, err, e)
			assert.True(t, next.After(at), "%s after %s gave %s", e, at, next)
		}
	}
}

func TestComputeNextFireAtOnBoundary(t *testing.T) {
	t.Parallel()
	c := New(time.UTC)
	at := time.Date(2030, 1, 7, 7, 0, 0, 0, time.UTC) // Monday 07:00
	next, err := c.ComputeNextFireAt("0 7 * * 1-5", at)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2030, 1, 8, 7, 0, 0, 0, time.UTC), next)
}

func TestComputeNextFireAtFridayToMonday(t *testing.T) {
	t.Parallel()
	c := New(time.UTC)
	friday := time.Date(2030, 1, 11, 7, 0, 30, 0, time.UTC)
	require.Equal(t, time.Friday, friday.Weekday())
	next, err := c.ComputeNextFireAt("0 7 * * 1-5", friday)
	require.NoError(t, err)
	assert.Equal(t, time.Monday, next.Weekday())
	assert.Equal(t, time.Date(2030, 1, 14, 7, 0, 0, 0, time.UTC), next)
}

func TestComputeNextFireAtUsesLocation(t *testing.T) {
	t.Parallel()
	loc := time.FixedZone("UTC+2", 2*3600)
	c := New(loc)
	at := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC) // 02:00 local
	next, err := c.ComputeNextFireAt("0 7 * * *", at)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2030, 1, 1, 5, 0, 0, 0, time.UTC), next)
	assert.Equal(t, time.UTC, next.Location())
}

func TestComputeNextFireAtNeverMatches(t *testing.T) {
	t.Parallel()
	c := New(time.UTC)
	_, err := c.ComputeNextFireAt("0 0 30 2 *", time.Now())
	assert.True(t, errors.Is(err, ErrNoOccurrence), "got %v", err)

	_, err = c.ComputeNextFireAt("bad", time.Now())
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestNextN(t *testing.T) {
	t.Parallel()
	c := New(time.UTC)
	at := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	ts, err := c.NextN("0 */6 * * *", at, 3)
	require.NoError(t, err)
	require.Len(t, ts, 3)
	assert.Equal(t, 6, ts[0].Hour())
	assert.Equal(t, 12, ts[1].Hour())
	assert.Equal(t, 18, ts[2].Hour())
}

func TestParseTimeOfDay(t *testing.T) {
	t.Parallel()
	h, m, err := ParseTimeOfDay("07:05")
	require.NoError(t, err)
	assert.Equal(t, 7, h)
	assert.Equal(t, 5, m)

	for _, bad := range []string{"24:00", "7", "07:60", "7:5", "ab:cd", ""} {
		_, _, err := ParseTimeOfDay(bad)
		assert.Error(t, err, bad)
	}
}

func TestNextTimeOfDayRollsOver(t *testing.T) {
	t.Parallel()
	c := New(time.UTC)
	now := time.Date(2030, 1, 1, 8, 0, 0, 0, time.UTC)

	assert.Equal(t, time.Date(2030, 1, 1, 9, 30, 0, 0, time.UTC), c.NextTimeOfDay(9, 30, now))
	assert.Equal(t, time.Date(2030, 1, 2, 7, 0, 0, 0, time.UTC), c.NextTimeOfDay(7, 0, now))
	assert.Equal(t, time.Date(2030, 1, 2, 8, 0, 0, 0, time.UTC), c.NextTimeOfDay(8, 0, now), "exactly now rolls forward")
}
