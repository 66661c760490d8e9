// Package storage persists scheduled task documents, alarm clocks and
// alarm sounds.
//
// All drivers implement the same Store interface; callers treat write
// failures as non-fatal and keep the in-memory state authoritative.
package storage
