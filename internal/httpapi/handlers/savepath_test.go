package handlers

import (
	"context"
	"os"
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

func newTestSavePathHandler(t *testing.T) *SavePathHandler {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&repository.SettingsOverride{}))

	repo := repository.NewSettingsRepository(db)
	log := observability.NewLogger(config.LoggingConfig{Level: "error", Format: "text"})
	defaults := config.Settings{
		MaxConcurrentDownloads:    1,
		MinFileSizeFilter:         0,
		MaxHistorySize:            50,
		HistoryAutoRemoveInterval: 30,
	}
	return NewSavePathHandler(settings.New(defaults, repo, nil, log))
}

func TestChooseSavePath_AcceptsExistingDirectory(t *testing.T) {
	handler := newTestSavePathHandler(t)

	out, err := handler.Choose(context.Background(), &ChooseSavePathInput{
		Body: struct {
			Path string `json:"path"`
		}{Path: t.TempDir()},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, out.Body.Path)
}

func TestChooseSavePath_RejectsMissingPath(t *testing.T) {
	handler := newTestSavePathHandler(t)

	_, err := handler.Choose(context.Background(), &ChooseSavePathInput{
		Body: struct {
			Path string `json:"path"`
		}{Path: "/path/does/not/exist/anywhere"},
	})
	assert.Error(t, err)
}

func TestChooseSavePath_RejectsFileNotDirectory(t *testing.T) {
	handler := newTestSavePathHandler(t)
	file := t.TempDir() + "/file.txt"
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))

	_, err := handler.Choose(context.Background(), &ChooseSavePathInput{
		Body: struct {
			Path string `json:"path"`
		}{Path: file},
	})
	assert.Error(t, err)
}
