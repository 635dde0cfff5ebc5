package handlers

import (
	"context"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/streamcore/streamcore/internal/config"
	"github.com/streamcore/streamcore/internal/observability"
	"github.com/streamcore/streamcore/internal/repository"
	"github.com/streamcore/streamcore/internal/settings"
)

func newTestSettingsHandler(t *testing.T) *SettingsHandler {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&repository.SettingsOverride{}))

	repo := repository.NewSettingsRepository(db)
	log := observability.NewLogger(config.LoggingConfig{Level: "error", Format: "text"})
	defaults := config.Settings{
		MaxConcurrentDownloads:    2,
		ShowDownloadNotifications: true,
		MinFileSizeFilter:         1024,
		AutoGeneratePreviews:      true,
		MaxHistorySize:            50,
		HistoryAutoRemoveInterval: 30,
	}
	return NewSettingsHandler(settings.New(defaults, repo, nil, log))
}

func TestSettingsHandler_Get_ReturnsCamelCaseResponse(t *testing.T) {
	handler := newTestSettingsHandler(t)

	out, err := handler.Get(context.Background(), &GetSettingsInput{})
	require.NoError(t, err)
	assert.Equal(t, 2, out.Body.MaxConcurrentDownloads)
}

func TestSettingsHandler_Update_AppliesPartialChange(t *testing.T) {
	handler := newTestSettingsHandler(t)

	out, err := handler.Update(context.Background(), &UpdateSettingsInput{
		Body: map[string]any{"maxConcurrentDownloads": 5},
	})
	require.NoError(t, err)
	assert.Equal(t, 5, out.Body.MaxConcurrentDownloads)
}

func TestSettingsHandler_Update_RejectsUnrecognizedField(t *testing.T) {
	handler := newTestSettingsHandler(t)

	_, err := handler.Update(context.Background(), &UpdateSettingsInput{
		Body: map[string]any{"notARealField": true},
	})
	assert.Error(t, err)
}
