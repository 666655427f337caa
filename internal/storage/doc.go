// Package storage persists the audit trail of reminder lifecycle events and
// the last seen raw schedule text per date.
//
// Reminders themselves are never stored; they live in memory only.
package storage
