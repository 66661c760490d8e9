package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		cronCount, cronTimezone = 5, ""
	})
	err := rootCmd.Execute()
	return out.String(), err
}

func TestCronDescribe(t *testing.T) {
	out, err := execute(t, "cron", "describe", "0 7 * * 1-5")
	require.NoError(t, err)
	assert.Equal(t, "weekdays at 07:00\n", out)
}

func TestCronDescribeRejectsInvalid(t *testing.T) {
	_, err := execute(t, "cron", "describe", "61 * * * *")
	assert.Error(t, err)
}

func TestCronNextPrintsCount(t *testing.T) {
	out, err := execute(t, "cron", "next", "--tz", "UTC", "-n", "3", "0 7 * * *")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, "every day at 07:00", lines[0])
	for _, l := range lines[1:] {
		assert.Contains(t, l, "07:00 UTC")
	}
}

func TestCronNextRejectsBadTimezone(t *testing.T) {
	_, err := execute(t, "cron", "next", "--tz", "Nowhere/Land", "0 7 * * *")
	assert.Error(t, err)
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "chime dev")
}
