package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/hoursbank/attendance"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.App.Addr)
	assert.Equal(t, DriverSQLite, cfg.Storage.LedgerDriver)
	assert.Equal(t, LockLocal, cfg.Lock.Backend)
	assert.Equal(t, 30*time.Second, cfg.Lock.TTL)
	assert.Equal(t, attendance.TodayExcludeAlways, cfg.Hours.TodayRule)
	assert.Equal(t, attendance.PlacementMidpointStart, cfg.Hours.BreakPlacement)
	assert.Equal(t, time.UTC, cfg.Hours.Location)
	assert.True(t, cfg.Scheduler.Enabled)
	assert.Empty(t, cfg.App.AllowedOrigins)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("TODAY_RULE", "exclude_unless_justified")
	t.Setenv("BREAK_PLACEMENT", "centered")
	t.Setenv("TIMEZONE", "Europe/Rome")
	t.Setenv("AUTO_REPAIR_SNAPSHOTS", "true")
	t.Setenv("ALLOWED_ORIGINS", "https://hr.example.com, https://admin.example.com")
	t.Setenv("SCHEDULER_INTERVAL", "15m")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, attendance.TodayExcludeUnlessJustified, cfg.Hours.TodayRule)
	assert.Equal(t, attendance.PlacementCentered, cfg.Hours.BreakPlacement)
	assert.Equal(t, "Europe/Rome", cfg.Hours.Location.String())
	assert.True(t, cfg.Hours.AutoRepair)
	assert.Equal(t, []string{"https://hr.example.com", "https://admin.example.com"}, cfg.App.AllowedOrigins)
	assert.Equal(t, 15*time.Minute, cfg.Scheduler.Interval)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"today rule", "TODAY_RULE", "sometimes"},
		{"placement", "BREAK_PLACEMENT", "random"},
		{"timezone", "TIMEZONE", "Mars/Olympus"},
		{"bool", "AUTO_REPAIR_SNAPSHOTS", "maybe"},
		{"duration", "LOCK_TTL", "soon"},
		{"postgres without url", "LEDGER_DRIVER", "postgres"},
		{"redis without url", "LOCK_BACKEND", "redis"},
		{"unknown driver", "LEDGER_DRIVER", "mongo"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			_, err := Load()
			assert.Error(t, err)
		})
	}
}

func TestLogError_Fields(t *testing.T) {
	var buf bytes.Buffer
	logger, err := newLogger("info", &buf)
	require.NoError(t, err)

	LogError(logger, "attendance", "FinalizeDay", "finalize failed", map[string]string{"user": "alice"}, errors.New("boom"))

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "boom", line["msg"])
	assert.Equal(t, "attendance", line["module"])
	assert.Equal(t, "FinalizeDay", line["funcName"])
	assert.NotNil(t, line["data"])
}

func TestNewLogger_BadLevel(t *testing.T) {
	_, err := NewLogger("loud")
	assert.Error(t, err)
}
