package backup

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TatyanaRTV/ai-agent-sub000/internal/embedding/mock"
	"github.com/TatyanaRTV/ai-agent-sub000/internal/longterm"
	"github.com/TatyanaRTV/ai-agent-sub000/internal/storage/sqlite"
	"github.com/TatyanaRTV/ai-agent-sub000/pkg/types"
)

func newTestTarget(t *testing.T) *longterm.Store {
	t.Helper()
	index, err := sqlite.Open(filepath.Join(t.TempDir(), "store.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = index.Close() })
	return longterm.New(index, mock.New(), longterm.Config{})
}

func TestNewServiceValidation(t *testing.T) {
	target := newTestTarget(t)

	_, err := NewService(nil, Config{Dir: t.TempDir()})
	assert.Error(t, err)

	_, err = NewService(target, Config{})
	assert.Error(t, err)

	svc, err := NewService(target, Config{Dir: filepath.Join(t.TempDir(), "backups")})
	require.NoError(t, err)
	require.NotNil(t, svc)
}

func TestServiceBackupNow(t *testing.T) {
	target := newTestTarget(t)
	ctx := context.Background()

	_, err := target.Store(ctx, "a durable fact", types.CategoryKnowledge, nil, 0.7)
	require.NoError(t, err)

	svc, err := NewService(target, Config{Dir: filepath.Join(t.TempDir(), "backups")})
	require.NoError(t, err)

	result, err := svc.BackupNow(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Entries)
	assert.Greater(t, result.Size, int64(0))

	snapshots, err := svc.ListBackups()
	require.NoError(t, err)
	require.Len(t, snapshots, 1)
	assert.Equal(t, result.Path, snapshots[0].Path)
}

func TestServiceRestoreBackup(t *testing.T) {
	target := newTestTarget(t)
	ctx := context.Background()

	_, err := target.Store(ctx, "present before the snapshot", types.CategoryMemory, nil, 0.5)
	require.NoError(t, err)

	svc, err := NewService(target, Config{Dir: filepath.Join(t.TempDir(), "backups")})
	require.NoError(t, err)

	result, err := svc.BackupNow(ctx)
	require.NoError(t, err)

	_, err = target.Store(ctx, "added after the snapshot", types.CategoryMemory, nil, 0.5)
	require.NoError(t, err)

	require.NoError(t, svc.RestoreBackup(ctx, result.Path))

	stats, err := target.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.TotalEntries)
}

func TestServiceRestoreRejectsMissingSnapshot(t *testing.T) {
	target := newTestTarget(t)
	svc, err := NewService(target, Config{Dir: filepath.Join(t.TempDir(), "backups")})
	require.NoError(t, err)

	err = svc.RestoreBackup(context.Background(), "/nonexistent/snapshot")
	assert.Error(t, err)
}

func TestServiceStartStop(t *testing.T) {
	target := newTestTarget(t)
	ctx := context.Background()

	_, err := target.Store(ctx, "scheduled snapshot content", types.CategoryMemory, nil, 0.5)
	require.NoError(t, err)

	svc, err := NewService(target, Config{
		Dir:      filepath.Join(t.TempDir(), "backups"),
		Interval: 20 * time.Millisecond,
	})
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- svc.Start(ctx) }()

	require.Eventually(t, func() bool {
		snaps, err := svc.ListBackups()
		return err == nil && len(snaps) > 0
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, svc.Stop())
	assert.NoError(t, <-done)

	// double stop is an error, like double start
	assert.Error(t, svc.Stop())

	health, err := svc.HealthCheck()
	require.NoError(t, err)
	assert.False(t, health.LastBackup.IsZero())
	assert.GreaterOrEqual(t, health.TotalBackups, 1)
}
