// Command memoryd runs the tiered memory daemon: short-term cache, context
// window, and long-term store with background consolidation, cleanup, and
// optional scheduled backups.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/TatyanaRTV/ai-agent-sub000/internal/backup"
	"github.com/TatyanaRTV/ai-agent-sub000/internal/config"
	"github.com/TatyanaRTV/ai-agent-sub000/internal/embedding"
	"github.com/TatyanaRTV/ai-agent-sub000/internal/embedding/mock"
	"github.com/TatyanaRTV/ai-agent-sub000/internal/engine"
	"github.com/TatyanaRTV/ai-agent-sub000/internal/longterm"
	"github.com/TatyanaRTV/ai-agent-sub000/internal/shortterm"
	"github.com/TatyanaRTV/ai-agent-sub000/internal/storage"
	"github.com/TatyanaRTV/ai-agent-sub000/internal/storage/chromem"
	"github.com/TatyanaRTV/ai-agent-sub000/internal/storage/postgres"
	"github.com/TatyanaRTV/ai-agent-sub000/internal/storage/sqlite"
	"github.com/TatyanaRTV/ai-agent-sub000/internal/window"
)

var configPath = flag.String("config", "", "Path to YAML config file (optional, env vars apply on top)")

func main() {
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	store, err := buildStore(cfg)
	if err != nil {
		log.Fatalf("Failed to open long-term store: %v", err)
	}

	cache := shortterm.New(shortterm.Config{
		Capacity: cfg.ShortTerm.Capacity,
		TTL:      config.Duration(cfg.ShortTerm.TTL),
	})
	win := window.New(window.Config{
		Capacity:        cfg.Window.Capacity,
		HistoryCapacity: cfg.Window.HistoryCapacity,
	})

	coordinator := engine.New(cache, win, store, engine.Config{
		ConsolidationInterval:    config.Duration(cfg.Consolidation.Interval),
		CleanupInterval:          config.Duration(cfg.Cleanup.Interval),
		RetentionAge:             config.Duration(cfg.Cleanup.RetentionAge),
		RetentionImportanceFloor: cfg.Cleanup.RetentionImportanceFloor,
		Policy: engine.PolicyConfig{
			ImportanceThreshold:  cfg.Consolidation.ImportanceThreshold,
			AccessCountThreshold: cfg.Consolidation.AccessCountThreshold,
			MaxAge:               config.Duration(cfg.Consolidation.MaxAge),
			AgedImportanceFloor:  cfg.Consolidation.AgedImportanceFloor,
		},
	})
	coordinator.Start()

	var backupSvc *backup.Service
	if cfg.Backup.Enabled {
		backupSvc, err = backup.NewService(store, backup.Config{
			Dir:      cfg.Backup.Path,
			Interval: config.Duration(cfg.Backup.Interval),
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
		go func() {
			if err := backupSvc.Start(context.Background()); err != nil && err != context.Canceled {
				log.Printf("Backup service error: %v", err)
			}
		}()
	}

	log.Printf("Memory daemon started (engine=%s data=%s)", cfg.Storage.Engine, cfg.Storage.DataPath)
	log.Println("Press Ctrl+C to stop")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Println("Shutting down memory daemon...")

	if backupSvc != nil {
		if err := backupSvc.Stop(); err != nil {
			log.Printf("Warning: %v", err)
		}
	}

	// final consolidation runs inside Close so important short-term data
	// survives the restart
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := coordinator.Close(shutdownCtx); err != nil {
		log.Printf("Warning: shutdown error: %v", err)
	}

	log.Println("Memory daemon stopped")
}

// buildStore opens the configured index backend and wraps it in the
// long-term store with a resilience-wrapped embedder.
func buildStore(cfg *config.Config) (*longterm.Store, error) {
	var (
		index storage.VectorIndex
		err   error
	)
	switch cfg.Storage.Engine {
	case "sqlite":
		if mkErr := os.MkdirAll(cfg.Storage.DataPath, 0o755); mkErr != nil {
			return nil, mkErr
		}
		index, err = sqlite.Open(filepath.Join(cfg.Storage.DataPath, "memory.db"))
	case "chromem":
		index = chromem.New()
	case "postgres":
		index, err = postgres.Open(cfg.Storage.PostgresDSN, cfg.Embedding.Dimensions)
	}
	if err != nil {
		return nil, err
	}

	// The embedding model is an external collaborator; until one is wired
	// in, the deterministic hash embedder stands in. It groups texts by
	// shared tokens, not by meaning.
	embedder := embedding.NewResilient(mock.NewWithDimensions(cfg.Embedding.Dimensions), embedding.ResilientConfig{
		MaxFailures:       uint32(cfg.Embedding.MaxFailures),
		OpenTimeout:       config.Duration(cfg.Embedding.OpenTimeout),
		RequestsPerSecond: cfg.Embedding.RequestsPerSecond,
		Burst:             cfg.Embedding.Burst,
		CallTimeout:       config.Duration(cfg.Embedding.CallTimeout),
	})

	return longterm.New(index, embedder, longterm.Config{
		MinSimilarity: cfg.LongTerm.MinSimilarity,
		OpTimeout:     config.Duration(cfg.LongTerm.OpTimeout),
		DataDir:       cfg.Storage.DataPath,
	}), nil
}
