package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestJSONLoggerWritesKeyValues(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, "json", "info").Named("reconciliation")

	logger.Debug("hidden")
	logger.WithContext(context.Background()).Info("payment applied", "correlation_id", "ws_CO_1", "status", "completed")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	require.Equal(t, "payment applied", entry["msg"])
	require.Equal(t, "reconciliation", entry["component"])
	require.Equal(t, "ws_CO_1", entry["correlation_id"])
	require.Equal(t, "completed", entry["status"])
}

func TestFatalExits(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, "text", "error")
	code := -1
	logger.exit = func(c int) { code = c }

	logger.Fatal("cannot start")

	require.Equal(t, 1, code)
	require.Contains(t, buf.String(), "cannot start")
}

func TestEnsureNil(t *testing.T) {
	require.NotNil(t, Ensure(nil))
}
