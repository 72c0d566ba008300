package backup

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/TatyanaRTV/ai-agent-sub000/internal/longterm"
)

// listSnapshots returns the snapshot directories under dir with their
// manifest metadata, newest first. Directories without a readable manifest
// are skipped.
func listSnapshots(dir string) ([]Info, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read backup directory: %w", err)
	}

	var snapshots []Info
	for _, entry := range entries {
		if !entry.IsDir() || !strings.HasPrefix(entry.Name(), snapshotPrefix) {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		info, err := describeSnapshot(path)
		if err != nil {
			continue
		}
		snapshots = append(snapshots, info)
	}

	sort.Slice(snapshots, func(i, j int) bool {
		return snapshots[i].Timestamp.After(snapshots[j].Timestamp)
	})
	return snapshots, nil
}

// describeSnapshot reads a snapshot directory's manifest and measures its
// size on disk.
func describeSnapshot(path string) (Info, error) {
	m, err := longterm.ReadManifest(path)
	if err != nil {
		return Info{}, err
	}
	return Info{
		Path:      path,
		Timestamp: m.Timestamp,
		Entries:   m.TotalEntries,
		Size:      dirSize(path),
	}, nil
}

// applyRetention removes snapshots exceeding the per-tier keep counts.
// Snapshots are bucketed by age; anything older than a year goes
// unconditionally.
func applyRetention(dir string, policy RetentionPolicy) error {
	snapshots, err := listSnapshots(dir)
	if err != nil {
		return err
	}
	if len(snapshots) == 0 {
		return nil
	}

	now := time.Now()
	var toDelete []string

	var hourly, daily, weekly, monthly []Info
	for _, snap := range snapshots {
		age := now.Sub(snap.Timestamp)
		switch {
		case age < 24*time.Hour:
			hourly = append(hourly, snap)
		case age < 7*24*time.Hour:
			daily = append(daily, snap)
		case age < 30*24*time.Hour:
			weekly = append(weekly, snap)
		case age < 365*24*time.Hour:
			monthly = append(monthly, snap)
		default:
			toDelete = append(toDelete, snap.Path)
		}
	}

	for _, tier := range []struct {
		snaps []Info
		keep  int
	}{
		{hourly, policy.Hourly},
		{daily, policy.Daily},
		{weekly, policy.Weekly},
		{monthly, policy.Monthly},
	} {
		if len(tier.snaps) > tier.keep {
			for _, snap := range tier.snaps[tier.keep:] {
				toDelete = append(toDelete, snap.Path)
			}
		}
	}

	var lastErr error
	for _, path := range toDelete {
		if err := os.RemoveAll(path); err != nil {
			lastErr = err
		}
	}
	if lastErr != nil {
		return fmt.Errorf("delete some snapshots: %w", lastErr)
	}
	return nil
}

func dirSize(path string) int64 {
	var total int64
	_ = filepath.WalkDir(path, func(_ string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if info, err := d.Info(); err == nil {
			total += info.Size()
		}
		return nil
	})
	return total
}
