package repository

import (
	"context"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/streamcore/streamcore/internal/models"
)

func setupDownloadTestDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	require.NoError(t, db.AutoMigrate(&models.Download{}, &models.HistoryEntry{}, &SettingsOverride{}))
	return db
}

func TestDownloadRepo_CreateAndGetByURL(t *testing.T) {
	db := setupDownloadTestDB(t)
	repo := NewDownloadRepository(db)
	ctx := context.Background()

	d := &models.Download{
		DownloadURL: "https://cdn/video.mp4",
		TabID:       1,
		Filename:    "video.mp4",
		Type:        models.DownloadTypeDirect,
		Status:      models.DownloadStatusDownloading,
	}
	require.NoError(t, repo.Create(ctx, d))
	assert.False(t, d.ID.IsZero())

	found, err := repo.GetByURL(ctx, "https://cdn/video.mp4")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, d.ID, found.ID)
}

func TestDownloadRepo_GetByURL_OnlyMatchesActiveStatuses(t *testing.T) {
	db := setupDownloadTestDB(t)
	repo := NewDownloadRepository(db)
	ctx := context.Background()

	d := &models.Download{
		DownloadURL: "https://cdn/done.mp4",
		Type:        models.DownloadTypeDirect,
		Status:      models.DownloadStatusCompleted,
	}
	require.NoError(t, repo.Create(ctx, d))

	found, err := repo.GetByURL(ctx, "https://cdn/done.mp4")
	require.NoError(t, err)
	assert.Nil(t, found, "a completed download must not dedup-match a new start command")
}

func TestDownloadRepo_GetAllActive_OrderedByStartedAt(t *testing.T) {
	db := setupDownloadTestDB(t)
	repo := NewDownloadRepository(db)
	ctx := context.Background()

	older := &models.Download{DownloadURL: "https://cdn/a.mp4", Type: models.DownloadTypeDirect, Status: models.DownloadStatusDownloading, StartedAt: time.Now().Add(-time.Hour)}
	newer := &models.Download{DownloadURL: "https://cdn/b.mp4", Type: models.DownloadTypeDirect, Status: models.DownloadStatusQueued, StartedAt: time.Now()}
	require.NoError(t, repo.Create(ctx, newer))
	require.NoError(t, repo.Create(ctx, older))

	active, err := repo.GetAllActive(ctx)
	require.NoError(t, err)
	require.Len(t, active, 2)
	assert.Equal(t, older.ID, active[0].ID)
	assert.Equal(t, newer.ID, active[1].ID)
}

func TestDownloadRepo_CountByStatus(t *testing.T) {
	db := setupDownloadTestDB(t)
	repo := NewDownloadRepository(db)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, repo.Create(ctx, &models.Download{
			DownloadURL: "https://cdn/many-" + string(rune('a'+i)) + ".mp4",
			Type:        models.DownloadTypeDirect,
			Status:      models.DownloadStatusDownloading,
		}))
	}
	require.NoError(t, repo.Create(ctx, &models.Download{
		DownloadURL: "https://cdn/queued.mp4",
		Type:        models.DownloadTypeDirect,
		Status:      models.DownloadStatusQueued,
	}))

	count, err := repo.CountByStatus(ctx, models.DownloadStatusDownloading)
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)
}

func TestDownloadRepo_DeleteOlderThan(t *testing.T) {
	db := setupDownloadTestDB(t)
	repo := NewDownloadRepository(db)
	ctx := context.Background()

	stale := &models.Download{
		DownloadURL: "https://cdn/stale.mp4",
		Type:        models.DownloadTypeDirect,
		Status:      models.DownloadStatusCompleted,
		StartedAt:   time.Now().Add(-time.Hour),
	}
	require.NoError(t, repo.Create(ctx, stale))

	n, err := repo.DeleteOlderThan(ctx, models.DownloadStatusCompleted, time.Now().Add(-time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	found, err := repo.GetByID(ctx, stale.ID)
	require.NoError(t, err)
	assert.Nil(t, found)
}

func TestHistoryRepo_CreateAndGetAll(t *testing.T) {
	db := setupDownloadTestDB(t)
	repo := NewHistoryRepository(db)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, repo.Create(ctx, &models.HistoryEntry{
			DownloadURL: "https://cdn/h.mp4",
			Status:      models.DownloadStatusCompleted,
			CompletedAt: time.Now().Add(time.Duration(i) * time.Minute),
		}))
	}

	entries, total, err := repo.GetAll(ctx, 0, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
	require.Len(t, entries, 3)
	// newest first
	assert.True(t, entries[0].CompletedAt.After(entries[1].CompletedAt))
}

func TestHistoryRepo_TrimToSize(t *testing.T) {
	db := setupDownloadTestDB(t)
	repo := NewHistoryRepository(db)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, repo.Create(ctx, &models.HistoryEntry{
			DownloadURL: "https://cdn/h.mp4",
			Status:      models.DownloadStatusCompleted,
			CompletedAt: time.Now().Add(time.Duration(i) * time.Minute),
		}))
	}

	deleted, err := repo.TrimToSize(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(3), deleted)

	remaining, total, err := repo.GetAll(ctx, 0, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	require.Len(t, remaining, 2)
	// the two most recently completed entries must survive the trim
	assert.True(t, remaining[0].CompletedAt.After(remaining[1].CompletedAt))
}

func TestHistoryRepo_DeleteOlderThan(t *testing.T) {
	db := setupDownloadTestDB(t)
	repo := NewHistoryRepository(db)
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, &models.HistoryEntry{
		DownloadURL: "https://cdn/old.mp4",
		Status:      models.DownloadStatusCompleted,
		CompletedAt: time.Now().Add(-48 * time.Hour),
	}))
	require.NoError(t, repo.Create(ctx, &models.HistoryEntry{
		DownloadURL: "https://cdn/new.mp4",
		Status:      models.DownloadStatusCompleted,
		CompletedAt: time.Now(),
	}))

	n, err := repo.DeleteOlderThan(ctx, time.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, total, err := repo.GetAll(ctx, 0, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
}

func TestSettingsRepo_SetCreatesThenUpdates(t *testing.T) {
	db := setupDownloadTestDB(t)
	repo := NewSettingsRepository(db)
	ctx := context.Background()

	require.NoError(t, repo.Set(ctx, "max_concurrent_downloads", "3"))
	values, err := repo.GetAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, "3", values["max_concurrent_downloads"])

	require.NoError(t, repo.Set(ctx, "max_concurrent_downloads", "5"))
	values, err = repo.GetAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, "5", values["max_concurrent_downloads"])
	assert.Len(t, values, 1, "updating an existing key must not create a duplicate row")
}
