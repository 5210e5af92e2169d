package database_test

import (
	"testing"

	"github.com/Baaaki/roomcast/internal/database"
	"github.com/Baaaki/roomcast/internal/models"
	"github.com/Baaaki/roomcast/internal/testutil"
	"github.com/Baaaki/roomcast/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"gorm.io/gorm"
)

func observeLogs(t *testing.T) *observer.ObservedLogs {
	core, logs := observer.New(zap.DebugLevel)
	previous := logger.Log
	logger.Log = zap.New(core)
	t.Cleanup(func() { logger.Log = previous })
	return logs
}

func TestGormConfigSkipsRecordNotFound(t *testing.T) {
	logs := observeLogs(t)
	testDB := testutil.SetupTestDatabase(t)
	defer testDB.Teardown(t)
	logs.TakeAll()

	var user models.User
	err := testDB.DB.Where("username = ?", "ghost").First(&user).Error
	require.ErrorIs(t, err, gorm.ErrRecordNotFound)
	assert.Zero(t, logs.Len(), "a missing row is not an error worth logging")

	err = testDB.DB.Exec("SELECT * FROM no_such_table").Error
	require.Error(t, err)
	assert.Equal(t, 1, logs.FilterMessageSnippet("no_such_table").Len())
}

func TestGormConfigUsesUTC(t *testing.T) {
	cfg := database.GormConfig()
	assert.Equal(t, "UTC", cfg.NowFunc().Location().String())
}
