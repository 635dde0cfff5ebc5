package storage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	gormlogger "gorm.io/gorm/logger"

	"github.com/streamcore/streamcore/internal/config"
	"github.com/streamcore/streamcore/internal/observability"
)

func TestOpen_SQLiteRunsMigrationsAndIsPingable(t *testing.T) {
	logger := observability.NewLogger(config.LoggingConfig{Level: "error", Format: "text"})
	cfg := config.DatabaseConfig{
		Driver:          "sqlite",
		DSN:             ":memory:",
		MaxOpenConns:    1,
		MaxIdleConns:    1,
		ConnMaxLifetime: time.Hour,
		ConnMaxIdleTime: 30 * time.Minute,
		LogLevel:        "warn",
	}

	db, err := Open(cfg, logger)
	require.NoError(t, err)
	require.NotNil(t, db)

	assert.True(t, db.Migrator().HasTable("downloads"))
	assert.True(t, db.Migrator().HasTable("history_entries"))
	assert.True(t, db.Migrator().HasTable("settings_overrides"))

	sqlDB, err := db.DB()
	require.NoError(t, err)
	assert.NoError(t, sqlDB.Ping())
}

func TestOpen_UnsupportedDriverReturnsError(t *testing.T) {
	logger := observability.NewLogger(config.LoggingConfig{Level: "error", Format: "text"})
	_, err := Open(config.DatabaseConfig{Driver: "oracle", DSN: "x"}, logger)
	assert.Error(t, err)
}

func TestGormLogLevel_MapsKnownStrings(t *testing.T) {
	assert.Equal(t, gormlogger.Silent, gormLogLevel("silent"))
	assert.Equal(t, gormlogger.Error, gormLogLevel("error"))
	assert.Equal(t, gormlogger.Warn, gormLogLevel("warn"))
	assert.Equal(t, gormlogger.Info, gormLogLevel("info"))
	assert.Equal(t, gormlogger.Warn, gormLogLevel("unknown"))
}
