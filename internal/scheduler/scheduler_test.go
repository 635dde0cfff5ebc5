package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/streamcore/streamcore/internal/config"
	"github.com/streamcore/streamcore/internal/models"
	"github.com/streamcore/streamcore/internal/observability"
	"github.com/streamcore/streamcore/internal/repository"
	"github.com/streamcore/streamcore/internal/settings"
)

func setupSchedulerTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.HistoryEntry{}, &repository.SettingsOverride{}))
	return db
}

func TestSweepHistory_RemovesAgedAndOversizedEntries(t *testing.T) {
	db := setupSchedulerTestDB(t)
	historyRepo := repository.NewHistoryRepository(db)
	ctx := context.Background()

	require.NoError(t, historyRepo.Create(ctx, &models.HistoryEntry{
		DownloadURL: "https://cdn/old.mp4",
		Status:      models.DownloadStatusCompleted,
		CompletedAt: time.Now().AddDate(0, 0, -40),
	}))
	for i := 0; i < 3; i++ {
		require.NoError(t, historyRepo.Create(ctx, &models.HistoryEntry{
			DownloadURL: "https://cdn/recent.mp4",
			Status:      models.DownloadStatusCompleted,
			CompletedAt: time.Now().Add(time.Duration(i) * time.Minute),
		}))
	}

	store := settings.New(config.Settings{
		HistoryAutoRemoveInterval: 30,
		MaxHistorySize:            2,
	}, repository.NewSettingsRepository(db), nil, observability.NewLogger(config.LoggingConfig{Level: "error", Format: "text"}))

	sched := New(historyRepo, store, observability.NewLogger(config.LoggingConfig{Level: "error", Format: "text"}))
	sched.sweepHistory()

	_, total, err := historyRepo.GetAll(ctx, 0, 10)
	require.NoError(t, err)
	require.Equal(t, int64(2), total, "the 40-day-old entry ages out first, then the remaining 3 recent entries trim down to the size cap of 2")
}
