package logger_test

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bandwire/pkg/logger"
)

func TestNewLoggerFiltersLevel(t *testing.T) {
	var buf bytes.Buffer
	log, err := logger.New(&buf, "warn", "json")
	require.NoError(t, err)

	log.Info("hidden")
	log.Warn("shown", "port", 8080)

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "shown")
}

func TestNewLoggerRejectsUnknown(t *testing.T) {
	_, err := logger.New(&bytes.Buffer{}, "loud", "text")
	assert.Error(t, err)
	_, err = logger.New(&bytes.Buffer{}, "info", "xml")
	assert.Error(t, err)
}
