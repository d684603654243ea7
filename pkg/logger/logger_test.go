package logger_test

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/shulesync/shulesync.go/pkg/logger"
)

func TestLoggerWritesKeyValuePairs(t *testing.T) {
	var buf bytes.Buffer
	log := logger.New(&buf)

	log.Info("entity merged", "id", "c1", "action", "edit")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	require.Equal(t, "entity merged", line["message"])
	require.Equal(t, "c1", line["id"])
	require.Equal(t, "edit", line["action"])
	require.Equal(t, "info", line["level"])
}

func TestLoggerToleratesDanglingKey(t *testing.T) {
	var buf bytes.Buffer
	log := logger.New(&buf)

	log.Warn("odd args", "id")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	require.Equal(t, "id", line["arg"])
}

func TestNopDiscards(t *testing.T) {
	log := logger.Nop()
	log.Error("nothing to see")
}
