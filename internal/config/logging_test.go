package config

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetupLoggerWithWritersFansOut(t *testing.T) {
	var stderr, file bytes.Buffer

	logger := SetupLoggerWithWriters(&stderr, &file, slog.LevelInfo)
	logger.Info("job started", "job_id", "job_abc123")

	assert.Contains(t, stderr.String(), "job started")
	assert.Contains(t, stderr.String(), "job_abc123")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(file.Bytes(), &entry))
	assert.Equal(t, "job started", entry["msg"])
	assert.Equal(t, "job_abc123", entry["job_id"])
}

func TestSetupLoggerWithWritersHonorsLevel(t *testing.T) {
	var stderr, file bytes.Buffer

	logger := SetupLoggerWithWriters(&stderr, &file, slog.LevelWarn)
	logger.Debug("noisy detail")
	logger.Info("routine progress")

	assert.Empty(t, stderr.String())
	assert.Empty(t, file.String())
}
