package handlers

import (
	"context"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func TestGetHealth_ReportsOKWithReachableDB(t *testing.T) {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)

	handler := NewHealthHandler("1.2.3", nil, db)

	out, err := handler.GetHealth(context.Background(), &HealthInput{})
	require.NoError(t, err)
	assert.Equal(t, "ok", out.Body.Status)
	assert.Equal(t, "1.2.3", out.Body.Version)
	assert.True(t, out.Body.DBReachable)
	assert.GreaterOrEqual(t, out.Body.UptimeSec, int64(0))
}

func TestGetHealth_NilHelperSkipsHelperState(t *testing.T) {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)

	handler := NewHealthHandler("1.2.3", nil, db)

	out, err := handler.GetHealth(context.Background(), &HealthInput{})
	require.NoError(t, err)
	assert.Empty(t, out.Body.HelperState)
}
