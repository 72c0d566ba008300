package backup

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/TatyanaRTV/ai-agent-sub000/internal/longterm"
)

// writeSnapshot creates a fake snapshot directory with a manifest and some
// payload bytes.
func writeSnapshot(t *testing.T, dir, name string, ts time.Time, entries int, payload int) string {
	t.Helper()
	path := filepath.Join(dir, snapshotPrefix+name)
	if err := os.MkdirAll(path, 0o755); err != nil {
		t.Fatalf("failed to create snapshot dir: %v", err)
	}

	m := longterm.Manifest{Timestamp: ts, TotalEntries: entries}
	data, err := json.Marshal(m)
	if err != nil {
		t.Fatalf("failed to encode manifest: %v", err)
	}
	if err := os.WriteFile(filepath.Join(path, "manifest.json"), data, 0o644); err != nil {
		t.Fatalf("failed to write manifest: %v", err)
	}
	if payload > 0 {
		if err := os.WriteFile(filepath.Join(path, "store.db"), make([]byte, payload), 0o644); err != nil {
			t.Fatalf("failed to write payload: %v", err)
		}
	}
	return path
}

func TestListSnapshotsEmpty(t *testing.T) {
	snapshots, err := listSnapshots(t.TempDir())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(snapshots) != 0 {
		t.Errorf("expected 0 snapshots, got %d", len(snapshots))
	}
}

func TestListSnapshotsNonexistentDirectory(t *testing.T) {
	if _, err := listSnapshots("/nonexistent/backup/dir"); err == nil {
		t.Fatal("expected error for non-existent directory")
	}
}

// Directories without the snapshot prefix or without a readable manifest
// must be skipped, not reported as snapshots.
func TestListSnapshotsSkipsForeignEntries(t *testing.T) {
	tmpDir := t.TempDir()
	now := time.Now()

	writeSnapshot(t, tmpDir, "valid", now, 3, 10)

	if err := os.Mkdir(filepath.Join(tmpDir, "unrelated-dir"), 0o755); err != nil {
		t.Fatalf("failed to create dir: %v", err)
	}
	if err := os.Mkdir(filepath.Join(tmpDir, snapshotPrefix+"no-manifest"), 0o755); err != nil {
		t.Fatalf("failed to create dir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(tmpDir, "stray.txt"), []byte("x"), 0o644); err != nil {
		t.Fatalf("failed to create file: %v", err)
	}

	snapshots, err := listSnapshots(tmpDir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(snapshots) != 1 {
		t.Fatalf("expected 1 snapshot, got %d", len(snapshots))
	}
	if snapshots[0].Entries != 3 {
		t.Errorf("expected 3 entries from manifest, got %d", snapshots[0].Entries)
	}
}

func TestListSnapshotsSortNewestFirst(t *testing.T) {
	tmpDir := t.TempDir()
	now := time.Now()

	writeSnapshot(t, tmpDir, "two-hours", now.Add(-2*time.Hour), 1, 1)
	writeSnapshot(t, tmpDir, "one-hour", now.Add(-time.Hour), 1, 1)
	newest := writeSnapshot(t, tmpDir, "now", now, 1, 1)
	writeSnapshot(t, tmpDir, "three-hours", now.Add(-3*time.Hour), 1, 1)

	snapshots, err := listSnapshots(tmpDir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(snapshots) != 4 {
		t.Fatalf("expected 4 snapshots, got %d", len(snapshots))
	}
	for i := 0; i < len(snapshots)-1; i++ {
		if snapshots[i].Timestamp.Before(snapshots[i+1].Timestamp) {
			t.Errorf("snapshots not sorted newest first at index %d", i)
		}
	}
	if snapshots[0].Path != newest {
		t.Errorf("expected %s first, got %s", filepath.Base(newest), filepath.Base(snapshots[0].Path))
	}
}

func TestDescribeSnapshotSize(t *testing.T) {
	tmpDir := t.TempDir()
	path := writeSnapshot(t, tmpDir, "sized", time.Now(), 7, 256)

	info, err := describeSnapshot(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if info.Entries != 7 {
		t.Errorf("expected 7 entries, got %d", info.Entries)
	}
	// payload plus the manifest itself
	if info.Size <= 256 {
		t.Errorf("expected size > 256 bytes, got %d", info.Size)
	}
}

func TestApplyRetentionEmptyDir(t *testing.T) {
	policy := RetentionPolicy{Hourly: 24, Daily: 7, Weekly: 4, Monthly: 12}
	if err := applyRetention(t.TempDir(), policy); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestApplyRetentionDeletesSnapshotsOlderThanOneYear(t *testing.T) {
	tmpDir := t.TempDir()
	now := time.Now()
	policy := RetentionPolicy{Hourly: 24, Daily: 7, Weekly: 4, Monthly: 12}

	old := writeSnapshot(t, tmpDir, "ancient", now.Add(-366*24*time.Hour), 1, 1)
	recent := writeSnapshot(t, tmpDir, "recent", now, 1, 1)

	if err := applyRetention(tmpDir, policy); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := os.Stat(old); err == nil {
		t.Errorf("expected year-old snapshot to be deleted")
	}
	if _, err := os.Stat(recent); err != nil {
		t.Errorf("expected recent snapshot to exist: %v", err)
	}
}

func TestApplyRetentionHourlyTier(t *testing.T) {
	tmpDir := t.TempDir()
	now := time.Now()
	policy := RetentionPolicy{Hourly: 2}

	for i := 0; i < 5; i++ {
		writeSnapshot(t, tmpDir, fmt.Sprintf("hourly-%d", i), now.Add(-time.Duration(i)*time.Hour), 1, 1)
	}

	if err := applyRetention(tmpDir, policy); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	remaining, err := listSnapshots(tmpDir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(remaining) != 2 {
		t.Errorf("expected 2 snapshots to remain, got %d", len(remaining))
	}
	// the two newest survive
	for _, snap := range remaining {
		if now.Sub(snap.Timestamp) > 90*time.Minute {
			t.Errorf("unexpectedly kept old snapshot %s", filepath.Base(snap.Path))
		}
	}
}

func TestApplyRetentionMixedTiers(t *testing.T) {
	tmpDir := t.TempDir()
	now := time.Now()
	policy := RetentionPolicy{Hourly: 2, Daily: 2, Weekly: 1, Monthly: 1}

	for i := 0; i < 3; i++ {
		writeSnapshot(t, tmpDir, fmt.Sprintf("h%d", i), now.Add(-time.Duration(i)*30*time.Minute), 1, 1)
	}
	for i := 0; i < 3; i++ {
		writeSnapshot(t, tmpDir, fmt.Sprintf("d%d", i), now.Add(-time.Duration(2+i)*24*time.Hour), 1, 1)
	}
	for i := 0; i < 2; i++ {
		writeSnapshot(t, tmpDir, fmt.Sprintf("w%d", i), now.Add(-time.Duration(8+i*7)*24*time.Hour), 1, 1)
	}
	for i := 0; i < 2; i++ {
		writeSnapshot(t, tmpDir, fmt.Sprintf("m%d", i), now.Add(-time.Duration(31+i*90)*24*time.Hour), 1, 1)
	}

	if err := applyRetention(tmpDir, policy); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	remaining, err := listSnapshots(tmpDir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// 2 hourly + 2 daily + 1 weekly + 1 monthly
	if len(remaining) != 6 {
		t.Errorf("expected 6 snapshots to remain, got %d", len(remaining))
	}
}

func TestApplyRetentionKeepsExactlyNeeded(t *testing.T) {
	tmpDir := t.TempDir()
	now := time.Now()
	policy := RetentionPolicy{Hourly: 3}

	for i := 0; i < 3; i++ {
		writeSnapshot(t, tmpDir, fmt.Sprintf("keep-%d", i), now.Add(-time.Duration(i)*time.Hour), 1, 1)
	}

	if err := applyRetention(tmpDir, policy); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	remaining, err := listSnapshots(tmpDir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(remaining) != 3 {
		t.Errorf("expected 3 snapshots to remain, got %d", len(remaining))
	}
}

func TestApplyRetentionNonexistentDirectory(t *testing.T) {
	policy := RetentionPolicy{Hourly: 24, Daily: 7, Weekly: 4, Monthly: 12}
	if err := applyRetention("/nonexistent/backup/dir", policy); err == nil {
		t.Fatal("expected error for non-existent directory")
	}
}
