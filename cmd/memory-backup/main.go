// Command memory-backup manages snapshots of the long-term memory store:
// a scheduled backup loop, one-shot backups, restore, listing, and health.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/TatyanaRTV/ai-agent-sub000/internal/backup"
	"github.com/TatyanaRTV/ai-agent-sub000/internal/config"
	"github.com/TatyanaRTV/ai-agent-sub000/internal/embedding/mock"
	"github.com/TatyanaRTV/ai-agent-sub000/internal/longterm"
	"github.com/TatyanaRTV/ai-agent-sub000/internal/storage"
	"github.com/TatyanaRTV/ai-agent-sub000/internal/storage/postgres"
	"github.com/TatyanaRTV/ai-agent-sub000/internal/storage/sqlite"
)

var (
	configPath = flag.String("config", "", "Path to YAML config file (optional, env vars apply on top)")
	backupDir  = flag.String("backup-dir", "", "Snapshot directory (overrides config)")
	interval   = flag.Duration("interval", 0, "Backup interval (overrides config)")
	oneshot    = flag.Bool("oneshot", false, "Take a single snapshot and exit")
	restore    = flag.String("restore", "", "Restore the store from a snapshot directory and exit")
	healthCmd  = flag.Bool("health", false, "Check backup service health and exit")
	listCmd    = flag.Bool("list", false, "List all snapshots and exit")
)

func main() {
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	store, err := openStore(cfg)
	if err != nil {
		log.Fatalf("Failed to open long-term store: %v", err)
	}
	defer store.Close()

	dir := cfg.Backup.Path
	if *backupDir != "" {
		dir = *backupDir
	}
	backupInterval := config.Duration(cfg.Backup.Interval)
	if *interval > 0 {
		backupInterval = *interval
	}

	service, err := backup.NewService(store, backup.Config{
		Dir:      dir,
		Interval: backupInterval,
		Retention: backup.RetentionPolicy{
			Hourly:  cfg.Backup.RetentionHourly,
			Daily:   cfg.Backup.RetentionDaily,
			Weekly:  cfg.Backup.RetentionWeekly,
			Monthly: cfg.Backup.RetentionMonthly,
		},
	})
	if err != nil {
		log.Fatalf("Failed to create backup service: %v", err)
	}

	ctx := context.Background()

	switch {
	case *restore != "":
		handleRestore(ctx, service, *restore)
	case *healthCmd:
		handleHealth(service)
	case *listCmd:
		handleList(service)
	case *oneshot:
		handleOneshot(ctx, service)
	default:
		runService(ctx, service)
	}
}

// openStore opens the configured backend read-write for snapshotting. The
// chromem engine is in-memory and has nothing durable to back up.
func openStore(cfg *config.Config) (*longterm.Store, error) {
	var (
		index storage.VectorIndex
		err   error
	)
	switch cfg.Storage.Engine {
	case "sqlite":
		index, err = sqlite.Open(filepath.Join(cfg.Storage.DataPath, "memory.db"))
	case "postgres":
		index, err = postgres.Open(cfg.Storage.PostgresDSN, cfg.Embedding.Dimensions)
	default:
		return nil, fmt.Errorf("storage engine %q has no durable store to back up", cfg.Storage.Engine)
	}
	if err != nil {
		return nil, err
	}

	// Backup and restore never embed; the hash embedder only supplies the
	// dimension count for manifest validation.
	return longterm.New(index, mock.NewWithDimensions(cfg.Embedding.Dimensions), longterm.Config{
		DataDir: cfg.Storage.DataPath,
	}), nil
}

func handleRestore(ctx context.Context, service *backup.Service, snapshotDir string) {
	log.Printf("Restoring store from snapshot: %s", snapshotDir)

	if err := service.RestoreBackup(ctx, snapshotDir); err != nil {
		log.Fatalf("Restore failed: %v", err)
	}

	log.Println("Store restored successfully")
}

func handleHealth(service *backup.Service) {
	health, err := service.HealthCheck()
	if err != nil {
		log.Fatalf("Health check failed: %v", err)
	}

	fmt.Printf("Status: %s\n", health.Status)
	if health.Message != "" {
		fmt.Printf("Message: %s\n", health.Message)
	}
	fmt.Printf("Total Snapshots: %d\n", health.TotalBackups)
	fmt.Printf("Disk Space Used: %.2f MB\n", float64(health.DiskSpaceUsed)/(1024*1024))
	fmt.Printf("Snapshot Directory: %s\n", health.Dir)

	if !health.LastBackup.IsZero() {
		fmt.Printf("Last Backup: %s (%s ago)\n",
			health.LastBackup.Format(time.RFC3339),
			time.Since(health.LastBackup).Round(time.Minute))
	} else {
		fmt.Println("Last Backup: Never")
	}

	if !health.NextBackup.IsZero() {
		fmt.Printf("Next Backup: %s (in %s)\n",
			health.NextBackup.Format(time.RFC3339),
			time.Until(health.NextBackup).Round(time.Minute))
	}

	if health.Status != "healthy" {
		os.Exit(1)
	}
}

func handleList(service *backup.Service) {
	snapshots, err := service.ListBackups()
	if err != nil {
		log.Fatalf("Failed to list snapshots: %v", err)
	}

	if len(snapshots) == 0 {
		fmt.Println("No snapshots found")
		return
	}

	fmt.Printf("Found %d snapshot(s):\n\n", len(snapshots))
	for i, s := range snapshots {
		fmt.Printf("%d. %s\n", i+1, s.Path)
		fmt.Printf("   Entries: %d\n", s.Entries)
		fmt.Printf("   Size: %.2f MB\n", float64(s.Size)/(1024*1024))
		fmt.Printf("   Created: %s (%s ago)\n",
			s.Timestamp.Format(time.RFC3339),
			time.Since(s.Timestamp).Round(time.Minute))
		fmt.Println()
	}
}

func handleOneshot(ctx context.Context, service *backup.Service) {
	log.Println("Taking one-time snapshot...")

	result, err := service.BackupNow(ctx)
	if err != nil {
		log.Fatalf("Backup failed: %v", err)
	}

	log.Printf("Snapshot completed successfully:")
	log.Printf("  Path: %s", result.Path)
	log.Printf("  Entries: %d", result.Entries)
	log.Printf("  Size: %.2f MB", float64(result.Size)/(1024*1024))
	log.Printf("  Duration: %v", result.Duration)
}

func runService(ctx context.Context, service *backup.Service) {
	go func() {
		if err := service.Start(ctx); err != nil && err != context.Canceled {
			log.Printf("Backup service error: %v", err)
		}
	}()

	log.Println("Memory backup service started")
	log.Println("Press Ctrl+C to stop")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Println("Shutting down backup service...")
	if err := service.Stop(); err != nil {
		log.Printf("Warning: %v", err)
	}

	log.Println("Backup service stopped")
}
