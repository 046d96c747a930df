package db

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	gormlogger "gorm.io/gorm/logger"
)

func TestQueryLogConfig(t *testing.T) {
	cfg, err := queryLogConfig(Config{}, true)
	require.NoError(t, err)
	assert.Equal(t, gormlogger.Warn, cfg.Level)
	assert.Equal(t, 200*time.Millisecond, cfg.SlowThreshold)

	cfg, err = queryLogConfig(Config{}, false)
	require.NoError(t, err)
	assert.Equal(t, 500*time.Millisecond, cfg.SlowThreshold)

	cfg, err = queryLogConfig(Config{LogLevel: "info", SlowQueryMs: 50}, false)
	require.NoError(t, err)
	assert.Equal(t, gormlogger.Info, cfg.Level)
	assert.Equal(t, 50*time.Millisecond, cfg.SlowThreshold)

	_, err = queryLogConfig(Config{LogLevel: "loud"}, true)
	assert.Error(t, err)
}
