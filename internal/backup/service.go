package backup

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const snapshotPrefix = "memory-backup-"

// Service takes periodic snapshots of a Target into timestamped
// directories under the configured backup dir.
type Service struct {
	target    Target
	dir       string
	interval  time.Duration
	retention RetentionPolicy

	mu             sync.Mutex
	running        bool
	stopCh         chan struct{}
	lastBackupTime time.Time
	nextBackupTime time.Time
}

// NewService creates a backup service over the target store.
func NewService(target Target, config Config) (*Service, error) {
	if target == nil {
		return nil, fmt.Errorf("backup target is required")
	}
	if config.Dir == "" {
		return nil, fmt.Errorf("backup directory is required")
	}
	if config.Interval <= 0 {
		config.Interval = time.Hour
	}
	if config.Retention.Hourly == 0 {
		config.Retention.Hourly = 24
	}
	if config.Retention.Daily == 0 {
		config.Retention.Daily = 7
	}
	if config.Retention.Weekly == 0 {
		config.Retention.Weekly = 4
	}
	if config.Retention.Monthly == 0 {
		config.Retention.Monthly = 12
	}

	if err := os.MkdirAll(config.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create backup directory: %w", err)
	}

	return &Service{
		target:    target,
		dir:       config.Dir,
		interval:  config.Interval,
		retention: config.Retention,
		stopCh:    make(chan struct{}),
	}, nil
}

// Start runs the scheduled backup loop until the context is cancelled or
// Stop is called.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("backup service is already running")
	}
	s.running = true
	s.nextBackupTime = time.Now().Add(s.interval)
	s.mu.Unlock()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	log.Printf("[backup] service started: interval=%v dir=%s", s.interval, s.dir)

	for {
		select {
		case <-ctx.Done():
			log.Println("[backup] service stopping (context cancelled)")
			return ctx.Err()

		case <-s.stopCh:
			log.Println("[backup] service stopping (stop requested)")
			return nil

		case <-ticker.C:
			result, err := s.BackupNow(ctx)
			if err != nil {
				log.Printf("[backup] scheduled backup failed: %v", err)
			} else {
				log.Printf("[backup] scheduled backup completed: path=%s entries=%d size=%d duration=%v",
					result.Path, result.Entries, result.Size, result.Duration)
			}

			s.mu.Lock()
			s.nextBackupTime = time.Now().Add(s.interval)
			s.mu.Unlock()
		}
	}
}

// Stop halts the backup loop.
func (s *Service) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return fmt.Errorf("backup service is not running")
	}
	close(s.stopCh)
	s.running = false
	return nil
}

// BackupNow takes an immediate snapshot into a fresh timestamped directory
// and applies the retention policy.
func (s *Service) BackupNow(ctx context.Context) (*Result, error) {
	startTime := time.Now()

	// microsecond suffix keeps rapid consecutive snapshots distinct
	timestamp := startTime.Format("20060102-150405.000000")
	dir := filepath.Join(s.dir, snapshotPrefix+timestamp)

	path, err := s.target.Backup(ctx, dir)
	if err != nil {
		os.RemoveAll(dir)
		return nil, fmt.Errorf("snapshot: %w", err)
	}

	info, err := describeSnapshot(path)
	if err != nil {
		return nil, fmt.Errorf("describe snapshot: %w", err)
	}

	s.mu.Lock()
	s.lastBackupTime = time.Now()
	s.mu.Unlock()

	if err := applyRetention(s.dir, s.retention); err != nil {
		// a failed prune never fails the backup itself
		log.Printf("[backup] warning: retention pruning failed: %v", err)
	}

	return &Result{
		Path:     path,
		Duration: time.Since(startTime),
		Entries:  info.Entries,
		Size:     info.Size,
	}, nil
}

// ListBackups returns all snapshots, newest first.
func (s *Service) ListBackups() ([]Info, error) {
	return listSnapshots(s.dir)
}

// RestoreBackup restores the target from a snapshot directory. A
// pre-restore snapshot of the current state is taken first; if the restore
// fails the target rolls back to it. The scheduled loop must be stopped.
func (s *Service) RestoreBackup(ctx context.Context, snapshotDir string) error {
	s.mu.Lock()
	running := s.running
	s.mu.Unlock()
	if running {
		return fmt.Errorf("cannot restore while backup service is running")
	}

	if _, err := os.Stat(snapshotDir); err != nil {
		return fmt.Errorf("snapshot not found: %w", err)
	}

	preRestore := filepath.Join(s.dir, snapshotPrefix+"pre-restore")
	os.RemoveAll(preRestore)
	if _, err := s.target.Backup(ctx, preRestore); err != nil {
		return fmt.Errorf("pre-restore snapshot: %w", err)
	}

	if err := s.target.Restore(ctx, snapshotDir); err != nil {
		if rollbackErr := s.target.Restore(ctx, preRestore); rollbackErr != nil {
			return fmt.Errorf("restore failed and rollback failed: %v (restore error: %w)", rollbackErr, err)
		}
		return fmt.Errorf("restore failed, rolled back to previous state: %w", err)
	}

	os.RemoveAll(preRestore)
	log.Printf("[backup] store restored from snapshot: %s", snapshotDir)
	return nil
}

// HealthCheck reports the service state, flagging overdue backups.
func (s *Service) HealthCheck() (*HealthStatus, error) {
	s.mu.Lock()
	lastBackup := s.lastBackupTime
	nextBackup := s.nextBackupTime
	s.mu.Unlock()

	snapshots, err := s.ListBackups()
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}

	var diskUsage int64
	for _, snap := range snapshots {
		diskUsage += snap.Size
	}

	status := &HealthStatus{
		LastBackup:    lastBackup,
		NextBackup:    nextBackup,
		TotalBackups:  len(snapshots),
		Dir:           s.dir,
		DiskSpaceUsed: diskUsage,
		Status:        "healthy",
	}

	switch {
	case lastBackup.IsZero():
		status.Message = "No backups yet"
	case time.Since(lastBackup) > s.interval*2:
		status.Status = "warning"
		status.Message = fmt.Sprintf("Backup overdue by %v", time.Since(lastBackup)-s.interval)
	default:
		status.Message = fmt.Sprintf("Last backup: %v ago", time.Since(lastBackup).Round(time.Minute))
	}
	return status, nil
}
