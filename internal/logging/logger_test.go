package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func observe(t *testing.T, categories map[string]bool) *observer.ObservedLogs {
	t.Helper()
	core, logs := observer.New(zapcore.DebugLevel)
	SetRoot(zap.New(core), categories)
	t.Cleanup(func() { SetRoot(nil, nil) })
	return logs
}

func TestGetNamesLoggerByCategory(t *testing.T) {
	logs := observe(t, nil)

	Get(CategoryQueue).Info("queued %s", "abc")

	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Equal(t, "queue", entries[0].LoggerName)
	assert.Equal(t, "queued abc", entries[0].Message)
}

func TestDisabledCategoryIsSilent(t *testing.T) {
	logs := observe(t, map[string]bool{"badge": false, "store": true})

	Get(CategoryBadge).Error("should not appear")
	Get(CategoryStore).Warn("visible")
	Get(CategoryRemote).Info("unlisted categories log")

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, "visible", entries[0].Message)
	assert.Equal(t, "remote", entries[1].LoggerName)
}

func TestLoggersAreNoopBeforeInitialize(t *testing.T) {
	SetRoot(nil, nil)
	// Must not panic.
	Get(CategoryBoot).Info("nothing")
	Boot("still nothing")
}

func TestWithCarriesFields(t *testing.T) {
	logs := observe(t, nil)

	Get(CategoryAPI).With("report_id", "r-1").Info("handled")

	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Equal(t, "r-1", entries[0].ContextMap()["report_id"])
}

func TestTimerStopWithThreshold(t *testing.T) {
	logs := observe(t, nil)

	timer := StartTimer(CategoryStore, "slow op")
	time.Sleep(2 * time.Millisecond)
	elapsed := timer.StopWithThreshold(time.Nanosecond)

	assert.Greater(t, elapsed, time.Duration(0))
	require.Equal(t, 1, logs.FilterLevelExact(zapcore.WarnLevel).Len())
}

func TestInitializeWritesToFile(t *testing.T) {
	dir := t.TempDir()
	logFile := filepath.Join(dir, "logs", "harvest.log")
	t.Cleanup(func() { SetRoot(nil, nil) })

	require.NoError(t, Initialize(Config{Level: "debug", Format: "json", File: logFile}))
	Store("opened %s", "kv.db")
	Sync()

	data, err := os.ReadFile(logFile)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(data), "opened kv.db"))
}

func TestInitializeRejectsBadLevel(t *testing.T) {
	err := Initialize(Config{Level: "loud"})
	require.Error(t, err)
}
