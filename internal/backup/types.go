// Package backup schedules snapshots of the long-term memory store into
// timestamped directories, with tiered retention and rollback-safe restore.
package backup

import (
	"context"
	"time"
)

// Target is the store being backed up. Backup writes a self-contained
// snapshot directory; Restore swaps it back in without corrupting current
// data on failure.
type Target interface {
	Backup(ctx context.Context, dir string) (string, error)
	Restore(ctx context.Context, dir string) error
}

// Config holds backup service configuration.
type Config struct {
	// Dir is the directory where snapshot directories are created.
	Dir string

	// Interval is the duration between automated backups (default: 1 hour).
	Interval time.Duration

	// Retention defines how many snapshots to keep at each age tier.
	Retention RetentionPolicy
}

// RetentionPolicy defines how many snapshots to keep per tier. Snapshots
// are categorized by age:
// - Hourly: less than 24 hours old
// - Daily: between 1-7 days old
// - Weekly: between 7-30 days old
// - Monthly: between 30-365 days old
// Snapshots older than a year are always removed.
type RetentionPolicy struct {
	// Hourly is the number of hourly snapshots to keep (default: 24).
	Hourly int

	// Daily is the number of daily snapshots to keep (default: 7).
	Daily int

	// Weekly is the number of weekly snapshots to keep (default: 4).
	Weekly int

	// Monthly is the number of monthly snapshots to keep (default: 12).
	Monthly int
}

// Info describes one snapshot directory.
type Info struct {
	// Path is the snapshot directory.
	Path string

	// Timestamp is when the snapshot was taken, read from its manifest.
	Timestamp time.Time

	// Entries is the number of records in the snapshot.
	Entries int

	// Size is the snapshot's total size in bytes.
	Size int64
}

// Result describes one completed backup run.
type Result struct {
	// Path is the created snapshot directory.
	Path string

	// Duration is how long the backup took.
	Duration time.Duration

	// Entries is the number of records captured.
	Entries int

	// Size is the snapshot's total size in bytes.
	Size int64
}

// HealthStatus reports the service state for diagnostics.
type HealthStatus struct {
	// Status is "healthy" or "warning".
	Status string

	// Message provides additional context about the status.
	Message string

	// LastBackup is when the last successful backup completed.
	LastBackup time.Time

	// NextBackup is when the next backup is scheduled.
	NextBackup time.Time

	// TotalBackups is the number of snapshots currently stored.
	TotalBackups int

	// Dir is the snapshot storage directory.
	Dir string

	// DiskSpaceUsed is total bytes used by all snapshots.
	DiskSpaceUsed int64
}
