// Package scheduler runs due tasks.
//
// A ticker scans the in-memory store, atomically takes every due task and
// hands each to a kind-specific handler on the supervisor. Every running
// task has a cancel handle so dismiss, snooze and shutdown can stop it
// mid-flight. Status transitions are persisted best-effort: a storage
// failure is logged and never blocks execution.
package scheduler
